package main

import (
	"context"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"math"

	"github.com/spf13/cobra"

	"github.com/klingon-exchange/cardaminal/internal/cfgfile"
	"github.com/klingon-exchange/cardaminal/internal/genesis"
	"github.com/klingon-exchange/cardaminal/internal/txstage"
	"github.com/klingon-exchange/cardaminal/internal/walletdb"
	"github.com/klingon-exchange/cardaminal/internal/walletkeys"
)

// txCmd is the "tx" verb group: the staging-transaction lifecycle
// (new, edit, build, sign, remove-signature, submit) plus read-only
// list/inspect views.
func txCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "tx",
		Short: "Create and advance staging transactions",
	}
	cmd.AddCommand(
		txNewCmd(), txListCmd(), txInspectCmd(), txEditCmd(),
		txBuildCmd(), txSignCmd(), txRemoveSignatureCmd(), txSubmitCmd(),
	)
	return cmd
}

func txNewCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "new <wallet-slug>",
		Short: "Create a new empty staging transaction",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			store, err := openWalletStore(args[0])
			if err != nil {
				return err
			}
			defer store.Close()

			id, err := txstage.Create(store)
			if err != nil {
				return err
			}
			fmt.Println(id)
			return nil
		},
	}
}

func txListCmd() *cobra.Command {
	var pageSize int

	cmd := &cobra.Command{
		Use:   "list <wallet-slug>",
		Short: "List the most recent staging transactions",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			store, err := openWalletStore(args[0])
			if err != nil {
				return err
			}
			defer store.Close()

			rows, err := store.PaginateTransactions(walletdb.Desc, pageSize, math.MaxInt64)
			if err != nil {
				return err
			}
			for _, r := range rows {
				hash := ""
				if r.Hash != nil {
					hash = *r.Hash
				}
				fmt.Printf("%s  %-10s  created_at=%d  hash=%s\n", r.ID, r.Status, r.CreatedAt, hash)
			}
			return nil
		},
	}
	cmd.Flags().IntVar(&pageSize, "page-size", 20, "maximum rows to list")
	return cmd
}

func txInspectCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "inspect <wallet-slug> <tx-id>",
		Short: "Print a transaction's tx_json representation",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			store, err := openWalletStore(args[0])
			if err != nil {
				return err
			}
			defer store.Close()

			row, err := store.FetchByID(args[1])
			if err != nil {
				return err
			}
			pretty, err := json.MarshalIndent(json.RawMessage(row.TxJSON), "", "  ")
			if err != nil {
				return fmt.Errorf("tx inspect: format tx_json: %w", err)
			}
			fmt.Println(string(pretty))
			if row.TxCBOR != nil {
				fmt.Printf("tx_cbor: %s\n", hex.EncodeToString(row.TxCBOR))
			}
			return nil
		},
	}
}

// chainParamsForWallet loads the wallet's configured chain and
// resolves its genesis parameters, the input Build needs for the
// network-id fallback and (in a future version) fee/slot arithmetic.
func chainParamsForWallet(slug string) (*genesis.Params, error) {
	walletCfg, err := cfgfile.LoadWalletConfig(cfgfile.WalletConfigPath(rootDir, slug))
	if err != nil {
		return nil, err
	}
	if walletCfg.Chain == "" {
		return nil, fmt.Errorf("wallet %q has no configured chain", slug)
	}
	chainCfg, err := cfgfile.LoadChainConfig(cfgfile.ChainConfigPath(rootDir, walletCfg.Chain))
	if err != nil {
		return nil, err
	}
	params, ok := genesis.Get(chainCfg.Magic)
	if !ok {
		return nil, fmt.Errorf("tx build: no genesis params registered for magic %d", chainCfg.Magic)
	}
	return params, nil
}

func txBuildCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "build <wallet-slug> <tx-id>",
		Short: "Build a staging transaction into canonical CBOR",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			params, err := chainParamsForWallet(args[0])
			if err != nil {
				return err
			}
			store, err := openWalletStore(args[0])
			if err != nil {
				return err
			}
			defer store.Close()

			built, err := txstage.BuildTransaction(store, args[1], params)
			if err != nil {
				return err
			}
			fmt.Printf("tx_hash: %s\n", hex.EncodeToString(built.TxHash))
			return nil
		},
	}
}

func txSignCmd() *cobra.Command {
	var password string

	cmd := &cobra.Command{
		Use:   "sign <wallet-slug> <tx-id>",
		Short: "Attach the wallet's signature to a built transaction",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			walletCfg, err := cfgfile.LoadWalletConfig(cfgfile.WalletConfigPath(rootDir, args[0]))
			if err != nil {
				return err
			}
			blob, err := walletkeys.UnblobHex(walletCfg.Keys.PrivateEncrypted)
			if err != nil {
				return err
			}
			seed, err := walletkeys.DecryptSeed(blob, password)
			if err != nil {
				return err
			}
			kp, err := walletkeys.FromSeed(seed)
			walletkeys.SecureClear(seed)
			if err != nil {
				return err
			}

			store, err := openWalletStore(args[0])
			if err != nil {
				return err
			}
			defer store.Close()

			if err := txstage.Sign(store, args[1], kp); err != nil {
				return err
			}
			fmt.Println("signed")
			return nil
		},
	}
	cmd.Flags().StringVar(&password, "password", "", "password protecting the wallet's encrypted seed")
	cmd.MarkFlagRequired("password")
	return cmd
}

func txRemoveSignatureCmd() *cobra.Command {
	var pubkeyHex string

	cmd := &cobra.Command{
		Use:   "remove-signature <wallet-slug> <tx-id>",
		Short: "Drop a vkey witness from a signed transaction",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			pubkey, err := hex.DecodeString(pubkeyHex)
			if err != nil {
				return fmt.Errorf("tx remove-signature: decode --pubkey: %w", err)
			}
			store, err := openWalletStore(args[0])
			if err != nil {
				return err
			}
			defer store.Close()

			if err := txstage.RemoveSignature(store, args[1], pubkey); err != nil {
				return err
			}
			fmt.Println("signature removed")
			return nil
		},
	}
	cmd.Flags().StringVar(&pubkeyHex, "pubkey", "", "hex-encoded Ed25519 public key whose witness to remove")
	cmd.MarkFlagRequired("pubkey")
	return cmd
}

func txSubmitCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "submit <wallet-slug> <tx-id>",
		Short: "POST a built/signed transaction's CBOR to the configured submit API",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			walletCfg, err := cfgfile.LoadWalletConfig(cfgfile.WalletConfigPath(rootDir, args[0]))
			if err != nil {
				return err
			}
			if walletCfg.SubmitAPI == nil || walletCfg.SubmitAPI.URL == "" {
				return fmt.Errorf("wallet %q has no configured submit_api.url", args[0])
			}

			store, err := openWalletStore(args[0])
			if err != nil {
				return err
			}
			defer store.Close()

			err = txstage.Submit(context.Background(), nil, store, args[1], walletCfg.SubmitAPI.URL, walletCfg.SubmitAPI.Headers)
			if err != nil {
				return err
			}
			fmt.Println("submitted")
			return nil
		},
	}
}
