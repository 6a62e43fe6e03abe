// Package cfgfile reads and writes the TOML configuration files that
// describe a chain and a wallet on disk, via
// github.com/pelletier/go-toml/v2: chain/wallet config is a handful
// of scalar fields a human is expected to read and edit, not query.
package cfgfile

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/pelletier/go-toml/v2"
)

// AfterPoint is the optional chain-sync starting point recorded in a
// chain's config.toml, used as the bootstrap fallback when the block
// store is empty.
type AfterPoint struct {
	Slot uint64 `toml:"slot"`
	Hash string `toml:"hash"`
}

// ChainConfig is the persisted shape of <root>/chains/<slug>/config.toml.
type ChainConfig struct {
	Version          int         `toml:"version"`
	Name             string      `toml:"name"`
	Magic            uint64      `toml:"magic"`
	AddressNetworkID byte        `toml:"address_network_id"`
	Upstream         Upstream    `toml:"upstream"`
	After            *AfterPoint `toml:"after,omitempty"`
	CreatedOn        string      `toml:"created_on"`
}

// Upstream carries the address of the node-to-node peer this chain
// syncs against.
type Upstream struct {
	Address string `toml:"address"`
}

// SubmitAPI carries the optional HTTP endpoint a wallet's staging
// transactions are submitted to.
type SubmitAPI struct {
	URL     string            `toml:"url"`
	Headers map[string]string `toml:"headers,omitempty"`
}

// WalletKeys holds the wallet's public key hash and encrypted private
// key, both hex-encoded for readability in a text config file.
type WalletKeys struct {
	PublicKeyHash    string `toml:"public_key_hash"`
	PrivateEncrypted string `toml:"private_encrypted"`
}

// WalletAddresses holds the bech32 addresses derived for each network.
type WalletAddresses struct {
	Mainnet string `toml:"mainnet"`
	Testnet string `toml:"testnet"`
}

// WalletConfig is the persisted shape of <root>/wallets/<slug>/config.toml.
type WalletConfig struct {
	Version   int             `toml:"version"`
	Name      string          `toml:"name"`
	Chain     string          `toml:"chain,omitempty"`
	Keys      WalletKeys      `toml:"keys"`
	Addresses WalletAddresses `toml:"addresses"`
	SubmitAPI *SubmitAPI      `toml:"submit_api,omitempty"`
}

const configFileName = "config.toml"

// ChainConfigPath returns the path to a chain's config.toml under root.
func ChainConfigPath(root, slug string) string {
	return filepath.Join(expandPath(root), "chains", slug, configFileName)
}

// WalletConfigPath returns the path to a wallet's config.toml under root.
func WalletConfigPath(root, slug string) string {
	return filepath.Join(expandPath(root), "wallets", slug, configFileName)
}

// LoadChainConfig reads and decodes a chain's config.toml.
func LoadChainConfig(path string) (*ChainConfig, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("cfgfile: read chain config: %w", err)
	}
	var cfg ChainConfig
	if err := toml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("cfgfile: decode chain config: %w", err)
	}
	return &cfg, nil
}

// SaveChainConfig encodes and writes a chain's config.toml, creating
// its parent directory if necessary.
func SaveChainConfig(path string, cfg *ChainConfig) error {
	if cfg.CreatedOn == "" {
		cfg.CreatedOn = time.Now().UTC().Format("2006-01-02")
	}
	return writeTOML(path, cfg)
}

// LoadWalletConfig reads and decodes a wallet's config.toml.
func LoadWalletConfig(path string) (*WalletConfig, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("cfgfile: read wallet config: %w", err)
	}
	var cfg WalletConfig
	if err := toml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("cfgfile: decode wallet config: %w", err)
	}
	return &cfg, nil
}

// SaveWalletConfig encodes and writes a wallet's config.toml, creating
// its parent directory if necessary.
func SaveWalletConfig(path string, cfg *WalletConfig) error {
	return writeTOML(path, cfg)
}

func writeTOML(path string, v any) error {
	if err := os.MkdirAll(filepath.Dir(path), 0700); err != nil {
		return fmt.Errorf("cfgfile: create directory: %w", err)
	}
	data, err := toml.Marshal(v)
	if err != nil {
		return fmt.Errorf("cfgfile: encode: %w", err)
	}
	if err := os.WriteFile(path, data, 0600); err != nil {
		return fmt.Errorf("cfgfile: write: %w", err)
	}
	return nil
}

// expandPath expands a leading "~" to the user's home directory.
func expandPath(path string) string {
	if len(path) > 0 && path[0] == '~' {
		home, _ := os.UserHomeDir()
		return filepath.Join(home, path[1:])
	}
	return path
}
