package main

import (
	"errors"
	"path/filepath"

	"github.com/klingon-exchange/cardaminal/internal/cfgfile"
	"github.com/klingon-exchange/cardaminal/internal/chainstore"
	"github.com/klingon-exchange/cardaminal/internal/genesis"
	"github.com/klingon-exchange/cardaminal/internal/walletdb"
)

func isErr(err, target error) bool {
	return errors.Is(err, target)
}

// chainDataDir is the directory chainstore opens its badger files in:
// a db/ subdirectory next to the chain's config.toml.
func chainDataDir(slug string) string {
	return filepath.Join(filepath.Dir(cfgfile.ChainConfigPath(rootDir, slug)), "db")
}

// walletDataDir is walletdb's data directory for a given wallet slug.
func walletDataDir(slug string) string {
	return filepath.Dir(cfgfile.WalletConfigPath(rootDir, slug))
}

func openChainStore(slug string) (*chainstore.Store, error) {
	return chainstore.Open(&chainstore.Config{DataDir: chainDataDir(slug), Logger: log})
}

func openWalletStore(slug string) (*walletdb.Store, error) {
	return walletdb.Open(&walletdb.Config{DataDir: walletDataDir(slug), Logger: log})
}

// networkParams resolves a chain's genesis parameters from a
// registered network's human-readable name ("mainnet", "preprod",
// "preview"). Only names are matched; a magic number is not accepted.
func networkParams(name string) (*genesis.Params, bool) {
	for _, magic := range genesis.List() {
		p, ok := genesis.Get(magic)
		if ok && p.Name == name {
			return p, true
		}
	}
	return nil, false
}
