package main

import (
	"encoding/hex"
	"fmt"
	"math"

	"github.com/spf13/cobra"

	"github.com/klingon-exchange/cardaminal/internal/cdmerr"
	"github.com/klingon-exchange/cardaminal/internal/cfgfile"
	"github.com/klingon-exchange/cardaminal/internal/genesis"
	"github.com/klingon-exchange/cardaminal/internal/indexer"
	"github.com/klingon-exchange/cardaminal/internal/walletdb"
	"github.com/klingon-exchange/cardaminal/internal/walletkeys"
	"github.com/klingon-exchange/cardaminal/pkg/helpers"
)

// walletCmd is the "wallet" verb group: key generation, the
// cfgfile.WalletConfig lifecycle, and the indexer's Update leaf.
func walletCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "wallet",
		Short: "Manage wallet keys, config, and balances",
	}
	cmd.AddCommand(
		walletCreateCmd(), walletInfoCmd(), walletUpdateCmd(),
		walletBalanceCmd(), walletUTXOsCmd(), walletHistoryCmd(),
	)
	return cmd
}

func walletCreateCmd() *cobra.Command {
	var chainSlug, password string
	var useMnemonic bool

	cmd := &cobra.Command{
		Use:   "create <slug>",
		Short: "Generate a new signing key and wallet config.toml",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			slug := args[0]
			if err := walletkeys.ValidatePassword(password); err != nil {
				return err
			}

			var kp *walletkeys.KeyPair
			var mnemonic string
			var err error
			if useMnemonic {
				mnemonic, kp, err = walletkeys.GenerateMnemonic()
			} else {
				kp, err = walletkeys.Generate()
			}
			if err != nil {
				return err
			}

			pkh, err := kp.PubKeyHash()
			if err != nil {
				return err
			}
			mainnetAddr, err := walletkeys.DeriveAddress(pkh, genesis.NetworkMainnet)
			if err != nil {
				return err
			}
			testnetAddr, err := walletkeys.DeriveAddress(pkh, genesis.NetworkTestnet)
			if err != nil {
				return err
			}

			seed := kp.Private.Seed()
			blob, err := walletkeys.EncryptSeed(seed, password)
			walletkeys.SecureClear(seed)
			if err != nil {
				return err
			}

			cfg := &cfgfile.WalletConfig{
				Version: 1,
				Name:    slug,
				Chain:   chainSlug,
				Keys: cfgfile.WalletKeys{
					PublicKeyHash:    hex.EncodeToString(pkh),
					PrivateEncrypted: walletkeys.BlobHex(blob),
				},
				Addresses: cfgfile.WalletAddresses{Mainnet: mainnetAddr, Testnet: testnetAddr},
			}
			if err := cfgfile.SaveWalletConfig(cfgfile.WalletConfigPath(rootDir, slug), cfg); err != nil {
				return err
			}

			store, err := openWalletStore(slug)
			if err != nil {
				return err
			}
			defer store.Close()

			fmt.Printf("wallet %q created\n  payment key hash: %s\n  mainnet address:  %s\n  testnet address:  %s\n",
				slug, cfg.Keys.PublicKeyHash, mainnetAddr, testnetAddr)
			if useMnemonic {
				fmt.Printf("  recovery phrase (record this, it is never stored): %s\n", mnemonic)
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&chainSlug, "chain", "", "chain slug this wallet indexes against")
	cmd.Flags().StringVar(&password, "password", "", "password protecting the encrypted seed")
	cmd.Flags().BoolVar(&useMnemonic, "mnemonic", false, "derive the seed from a fresh BIP39 mnemonic instead of pure randomness")
	cmd.MarkFlagRequired("password")
	return cmd
}

func walletInfoCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "info <slug>",
		Short: "Print a wallet's config and derived addresses",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := cfgfile.LoadWalletConfig(cfgfile.WalletConfigPath(rootDir, args[0]))
			if err != nil {
				return err
			}
			fmt.Printf("name:    %s\nchain:   %s\nkey hash: %s\nmainnet:  %s\ntestnet:  %s\n",
				cfg.Name, cfg.Chain, cfg.Keys.PublicKeyHash, cfg.Addresses.Mainnet, cfg.Addresses.Testnet)
			if cfg.SubmitAPI != nil {
				fmt.Printf("submit url: %s\n", cfg.SubmitAPI.URL)
			}
			return nil
		},
	}
}

func walletUpdateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "update <slug>",
		Short: "Run the wallet indexer against the configured chain's block store",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			slug := args[0]
			walletCfg, err := cfgfile.LoadWalletConfig(cfgfile.WalletConfigPath(rootDir, slug))
			if err != nil {
				return err
			}
			if walletCfg.Chain == "" {
				return fmt.Errorf("wallet %q has no configured chain", slug)
			}

			chainCfg, err := cfgfile.LoadChainConfig(cfgfile.ChainConfigPath(rootDir, walletCfg.Chain))
			if err != nil {
				return err
			}
			if err := checkAddressNetwork(walletCfg, chainCfg); err != nil {
				return err
			}

			chainStore, err := openChainStore(walletCfg.Chain)
			if err != nil {
				return err
			}
			defer chainStore.Close()

			walletStore, err := openWalletStore(slug)
			if err != nil {
				return err
			}
			defer walletStore.Close()

			pkh, err := hex.DecodeString(walletCfg.Keys.PublicKeyHash)
			if err != nil {
				return fmt.Errorf("wallet update: decode public_key_hash: %w", err)
			}
			controlled := indexer.NewControlledSet(pkh)

			ix := indexer.New(chainStore, walletStore, nil, log)
			if err := ix.Update(controlled); err != nil {
				return err
			}
			fmt.Println("update complete")
			return nil
		},
	}
}

// checkAddressNetwork cross-checks a chain config's address_network_id
// against the wallet's derived address for that network before any
// indexing happens, so a wallet paired with the wrong chain fails
// loudly instead of silently indexing against the wrong credential.
func checkAddressNetwork(walletCfg *cfgfile.WalletConfig, chainCfg *cfgfile.ChainConfig) error {
	network := genesis.NetworkID(chainCfg.AddressNetworkID)
	addr := walletCfg.Addresses.Testnet
	if network == genesis.NetworkMainnet {
		addr = walletCfg.Addresses.Mainnet
	}

	pkh, addrNetwork, err := walletkeys.DecodeAddress(addr)
	if err != nil {
		return fmt.Errorf("wallet %q has an undecodable %s address: %w", walletCfg.Name, network, err)
	}
	if addrNetwork != network {
		return fmt.Errorf("wallet %q address network %s does not match chain address_network_id %d: %w",
			walletCfg.Name, addrNetwork, chainCfg.AddressNetworkID, cdmerr.ErrInvalidArgument)
	}
	cfgPKH, err := hex.DecodeString(walletCfg.Keys.PublicKeyHash)
	if err != nil {
		return fmt.Errorf("wallet %q has a malformed public_key_hash: %w", walletCfg.Name, cdmerr.ErrInvalidArgument)
	}
	if !helpers.BytesEqual(pkh, cfgPKH) {
		return fmt.Errorf("wallet %q %s address does not pay to its configured key hash: %w",
			walletCfg.Name, network, cdmerr.ErrInvalidArgument)
	}
	return nil
}

func walletBalanceCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "balance <slug>",
		Short: "Print the wallet's lovelace and native-asset balance across its indexed UTxOs",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			store, err := openWalletStore(args[0])
			if err != nil {
				return err
			}
			defer store.Close()

			utxos, err := store.FetchAllUTXOs(walletdb.Asc)
			if err != nil {
				return err
			}

			var total uint64
			tokens := map[string]uint64{}
			for _, u := range utxos {
				total += u.Lovelace
				_, assets, err := indexer.DecodeOutputValue(u.CBOR)
				if err != nil {
					return fmt.Errorf("wallet balance: utxo %s: %w",
						helpers.FormatUTxORef(u.TxHash, u.TxOIndex), err)
				}
				for policy, names := range assets {
					for name, amount := range names {
						tokens[policy+":"+renderAssetName(name)] += amount
					}
				}
			}

			fmt.Printf("%s ADA (%d lovelace across %d UTxOs)\n", helpers.LovelaceToAda(total), total, len(utxos))
			for token, amount := range tokens {
				fmt.Printf("%s  %d\n", token, amount)
			}
			return nil
		},
	}
}

// renderAssetName shows an asset name as text when every byte is
// printable ASCII, falling back to hex otherwise.
func renderAssetName(nameHex string) string {
	raw, err := hex.DecodeString(nameHex)
	if err != nil {
		return nameHex
	}
	for _, b := range raw {
		if b < 0x20 || b > 0x7e {
			return nameHex
		}
	}
	return string(raw)
}

func walletUTXOsCmd() *cobra.Command {
	var descending bool

	cmd := &cobra.Command{
		Use:   "utxos <slug>",
		Short: "List the wallet's indexed UTxOs",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			store, err := openWalletStore(args[0])
			if err != nil {
				return err
			}
			defer store.Close()

			order := walletdb.Asc
			if descending {
				order = walletdb.Desc
			}
			utxos, err := store.FetchAllUTXOs(order)
			if err != nil {
				return err
			}
			for _, u := range utxos {
				fmt.Printf("%s  slot=%d  %d lovelace\n",
					helpers.FormatUTxORef(u.TxHash, u.TxOIndex), u.Slot, u.Lovelace)
			}
			return nil
		},
	}
	cmd.Flags().BoolVar(&descending, "desc", false, "newest first")
	return cmd
}

func walletHistoryCmd() *cobra.Command {
	var pageSize int

	cmd := &cobra.Command{
		Use:   "history <slug>",
		Short: "List the wallet's per-transaction balance deltas, newest first",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			store, err := openWalletStore(args[0])
			if err != nil {
				return err
			}
			defer store.Close()

			entries, err := store.PaginateTxHistory(walletdb.Desc, pageSize, math.MaxInt64)
			if err != nil {
				return err
			}
			for _, e := range entries {
				delta := indexer.DecodeDelta(e.BalanceDelta)
				fmt.Printf("%s  slot=%d  %+d lovelace\n", hex.EncodeToString(e.TxHash), e.Slot, delta)
			}
			return nil
		},
	}
	cmd.Flags().IntVar(&pageSize, "page-size", 20, "maximum rows to list")
	return cmd
}
