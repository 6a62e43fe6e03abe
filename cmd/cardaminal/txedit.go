package main

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/spf13/cobra"

	"github.com/klingon-exchange/cardaminal/internal/cdmerr"
	"github.com/klingon-exchange/cardaminal/internal/txstage"
	"github.com/klingon-exchange/cardaminal/pkg/helpers"
)

// txEditCmd groups the edit verbs that mutate a staging transaction,
// each a thin leaf over internal/txstage.Editor.
// Every leaf's first two positional args are <wallet-slug> <tx-id>;
// remaining args are the verb's own fields.
func txEditCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "edit",
		Short: "Apply one edit verb to a staging transaction",
	}
	cmd.AddCommand(
		editAddInputCmd(), editRemoveInputCmd(),
		editAddReferenceInputCmd(), editRemoveReferenceInputCmd(),
		editAddCollateralInputCmd(), editRemoveCollateralInputCmd(),
		editAddOutputCmd(), editRemoveOutputCmd(),
		editSetCollateralOutputCmd(), editClearCollateralOutputCmd(),
		editAddMintCmd(), editRemoveMintCmd(),
		editSetFeeCmd(), editClearFeeCmd(),
		editSetTTLCmd(), editClearTTLCmd(),
		editSetValidHereafterCmd(), editClearValidHereafterCmd(),
		editSetNetworkCmd(), editClearNetworkCmd(),
		editAddDisclosedSignerCmd(), editRemoveDisclosedSignerCmd(),
		editSetSignerAmountCmd(), editClearSignerAmountCmd(),
		editSetChangeAddressCmd(), editClearChangeAddressCmd(),
		editAddScriptCmd(), editRemoveScriptCmd(),
		editAddDatumCmd(), editRemoveDatumCmd(),
		editAddRedeemerSpendCmd(), editAddRedeemerMintCmd(),
		editRemoveRedeemerSpendCmd(), editRemoveRedeemerMintCmd(),
	)
	return cmd
}

// editor opens the wallet store for slug and binds an Editor to id.
// Callers defer the returned closer.
func editor(slug, id string) (*txstage.Editor, func(), error) {
	store, err := openWalletStore(slug)
	if err != nil {
		return nil, nil, err
	}
	return txstage.NewEditor(store, id), func() { store.Close() }, nil
}

func decodeHexArg(name, s string) ([]byte, error) {
	b, err := helpers.HexToBytes(s)
	if err != nil {
		return nil, fmt.Errorf("decode %s: %w: %v", name, cdmerr.ErrInvalidArgument, err)
	}
	return b, nil
}

func parseUTxORefArg(s string) ([]byte, uint32, error) {
	hash, index, err := helpers.ParseUTxORef(s)
	if err != nil {
		return nil, 0, fmt.Errorf("%w: %v", cdmerr.ErrInvalidArgument, err)
	}
	return hash, index, nil
}

func parseUint64(name, s string) (uint64, error) {
	n, err := strconv.ParseUint(s, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("parse %s: %w", name, err)
	}
	return n, nil
}

func parseInt64(name, s string) (int64, error) {
	n, err := strconv.ParseInt(s, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("parse %s: %w", name, err)
	}
	return n, nil
}

// inputVerb wires a (slug, id, hash#idx) verb against one of the
// Editor's symmetric add/remove-input methods.
func inputVerb(use, short string, fn func(e *txstage.Editor, txHash []byte, index uint32) error) *cobra.Command {
	return &cobra.Command{
		Use:   use + " <wallet-slug> <tx-id> <hash#idx>",
		Short: short,
		Args:  cobra.ExactArgs(3),
		RunE: func(cmd *cobra.Command, args []string) error {
			txHash, index, err := parseUTxORefArg(args[2])
			if err != nil {
				return err
			}
			e, closer, err := editor(args[0], args[1])
			if err != nil {
				return err
			}
			defer closer()
			if err := fn(e, txHash, index); err != nil {
				return err
			}
			fmt.Println("ok")
			return nil
		},
	}
}

func editAddInputCmd() *cobra.Command {
	return inputVerb("add-input", "Add a transaction input", (*txstage.Editor).AddInput)
}
func editRemoveInputCmd() *cobra.Command {
	return inputVerb("remove-input", "Remove a transaction input", (*txstage.Editor).RemoveInput)
}
func editAddReferenceInputCmd() *cobra.Command {
	return inputVerb("add-reference-input", "Add a reference input", (*txstage.Editor).AddReferenceInput)
}
func editRemoveReferenceInputCmd() *cobra.Command {
	return inputVerb("remove-reference-input", "Remove a reference input", (*txstage.Editor).RemoveReferenceInput)
}
func editAddCollateralInputCmd() *cobra.Command {
	return inputVerb("add-collateral-input", "Add a collateral input", (*txstage.Editor).AddCollateralInput)
}
func editRemoveCollateralInputCmd() *cobra.Command {
	return inputVerb("remove-collateral-input", "Remove a collateral input", (*txstage.Editor).RemoveCollateralInput)
}

// parseAssetFlags turns repeated "policy:asset:amount" strings into an
// AssetMap, for add-output's --asset flag.
func parseAssetFlags(flags []string) (txstage.AssetMap, error) {
	if len(flags) == 0 {
		return nil, nil
	}
	assets := txstage.AssetMap{}
	for _, f := range flags {
		parts := strings.SplitN(f, ":", 3)
		if len(parts) != 3 {
			return nil, fmt.Errorf("--asset must be policy:asset:amount, got %q", f)
		}
		amount, err := parseUint64("asset amount", parts[2])
		if err != nil {
			return nil, err
		}
		if assets[parts[0]] == nil {
			assets[parts[0]] = map[string]uint64{}
		}
		assets[parts[0]][parts[1]] = amount
	}
	return assets, nil
}

func editAddOutputCmd() *cobra.Command {
	var assetFlags []string
	var datumHash, datumInline, scriptHash string

	cmd := &cobra.Command{
		Use:   "add-output <wallet-slug> <tx-id> <address> <lovelace>",
		Short: "Add a transaction output",
		Args:  cobra.ExactArgs(4),
		RunE: func(cmd *cobra.Command, args []string) error {
			lovelace, err := parseUint64("lovelace", args[3])
			if err != nil {
				return err
			}
			assets, err := parseAssetFlags(assetFlags)
			if err != nil {
				return err
			}
			out := txstage.Output{Address: args[2], Lovelace: lovelace, Assets: assets}
			if datumHash != "" {
				b, err := decodeHexArg("--datum-hash", datumHash)
				if err != nil {
					return err
				}
				out.Datum = &txstage.Datum{Kind: txstage.DatumHash, Bytes: b}
			} else if datumInline != "" {
				b, err := decodeHexArg("--datum-inline", datumInline)
				if err != nil {
					return err
				}
				out.Datum = &txstage.Datum{Kind: txstage.DatumInline, Bytes: b}
			}
			if scriptHash != "" {
				b, err := decodeHexArg("--script-hash", scriptHash)
				if err != nil {
					return err
				}
				out.ScriptHash = b
			}

			e, closer, err := editor(args[0], args[1])
			if err != nil {
				return err
			}
			defer closer()
			if err := e.AddOutput(out); err != nil {
				return err
			}
			fmt.Println("ok")
			return nil
		},
	}
	cmd.Flags().StringArrayVar(&assetFlags, "asset", nil, "multi-asset entry, policy:asset:amount (repeatable)")
	cmd.Flags().StringVar(&datumHash, "datum-hash", "", "hex datum hash")
	cmd.Flags().StringVar(&datumInline, "datum-inline", "", "hex inline datum bytes")
	cmd.Flags().StringVar(&scriptHash, "script-hash", "", "hex reference-script hash")
	return cmd
}

func editRemoveOutputCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "remove-output <wallet-slug> <tx-id> <index>",
		Short: "Remove an output by positional index",
		Args:  cobra.ExactArgs(3),
		RunE: func(cmd *cobra.Command, args []string) error {
			index, err := strconv.Atoi(args[2])
			if err != nil {
				return fmt.Errorf("parse index: %w", err)
			}
			e, closer, err := editor(args[0], args[1])
			if err != nil {
				return err
			}
			defer closer()
			if err := e.RemoveOutput(index); err != nil {
				return err
			}
			fmt.Println("ok")
			return nil
		},
	}
}

func editSetCollateralOutputCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "set-collateral-output <wallet-slug> <tx-id> <address> <lovelace>",
		Short: "Set the collateral-return output",
		Args:  cobra.ExactArgs(4),
		RunE: func(cmd *cobra.Command, args []string) error {
			lovelace, err := parseUint64("lovelace", args[3])
			if err != nil {
				return err
			}
			e, closer, err := editor(args[0], args[1])
			if err != nil {
				return err
			}
			defer closer()
			if err := e.SetCollateralOutput(txstage.CollateralOutput{Address: args[2], Lovelace: lovelace}); err != nil {
				return err
			}
			fmt.Println("ok")
			return nil
		},
	}
}

func editClearCollateralOutputCmd() *cobra.Command {
	return simpleVerb("clear-collateral-output", "Unset the collateral-return output", (*txstage.Editor).ClearCollateralOutput)
}

func editAddMintCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "add-mint <wallet-slug> <tx-id> <policy> <asset> <amount>",
		Short: "Set a signed mint/burn amount for (policy, asset)",
		Args:  cobra.ExactArgs(5),
		RunE: func(cmd *cobra.Command, args []string) error {
			policy, err := decodeHexArg("policy", args[2])
			if err != nil {
				return err
			}
			asset, err := decodeHexArg("asset", args[3])
			if err != nil {
				return err
			}
			amount, err := parseInt64("amount", args[4])
			if err != nil {
				return err
			}
			e, closer, err := editor(args[0], args[1])
			if err != nil {
				return err
			}
			defer closer()
			if err := e.AddMint(policy, asset, amount); err != nil {
				return err
			}
			fmt.Println("ok")
			return nil
		},
	}
}

func editRemoveMintCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "remove-mint <wallet-slug> <tx-id> <policy> <asset>",
		Short: "Remove a staged mint/burn amount",
		Args:  cobra.ExactArgs(4),
		RunE: func(cmd *cobra.Command, args []string) error {
			policy, err := decodeHexArg("policy", args[2])
			if err != nil {
				return err
			}
			asset, err := decodeHexArg("asset", args[3])
			if err != nil {
				return err
			}
			e, closer, err := editor(args[0], args[1])
			if err != nil {
				return err
			}
			defer closer()
			if err := e.RemoveMint(policy, asset); err != nil {
				return err
			}
			fmt.Println("ok")
			return nil
		},
	}
}

// simpleVerb wires a (slug, id)-only verb with no further arguments.
func simpleVerb(use, short string, fn func(e *txstage.Editor) error) *cobra.Command {
	return &cobra.Command{
		Use:   use + " <wallet-slug> <tx-id>",
		Short: short,
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			e, closer, err := editor(args[0], args[1])
			if err != nil {
				return err
			}
			defer closer()
			if err := fn(e); err != nil {
				return err
			}
			fmt.Println("ok")
			return nil
		},
	}
}

// uint64Verb wires a (slug, id, value)-shaped verb over a uint64 field.
func uint64Verb(use, short, valueName string, fn func(e *txstage.Editor, v uint64) error) *cobra.Command {
	return &cobra.Command{
		Use:   fmt.Sprintf("%s <wallet-slug> <tx-id> <%s>", use, valueName),
		Short: short,
		Args:  cobra.ExactArgs(3),
		RunE: func(cmd *cobra.Command, args []string) error {
			v, err := parseUint64(valueName, args[2])
			if err != nil {
				return err
			}
			e, closer, err := editor(args[0], args[1])
			if err != nil {
				return err
			}
			defer closer()
			if err := fn(e, v); err != nil {
				return err
			}
			fmt.Println("ok")
			return nil
		},
	}
}

func editSetFeeCmd() *cobra.Command {
	return uint64Verb("set-fee", "Set the explicit transaction fee in lovelace", "lovelace", (*txstage.Editor).SetFee)
}
func editClearFeeCmd() *cobra.Command {
	return simpleVerb("clear-fee", "Unset the fee", (*txstage.Editor).ClearFee)
}
func editSetTTLCmd() *cobra.Command {
	return uint64Verb("set-ttl", "Set the validity interval's upper slot bound", "slot", (*txstage.Editor).SetTTL)
}
func editClearTTLCmd() *cobra.Command {
	return simpleVerb("clear-ttl", "Unset the upper slot bound", (*txstage.Editor).ClearTTL)
}
func editSetValidHereafterCmd() *cobra.Command {
	return uint64Verb("set-valid-hereafter", "Set the validity interval's lower slot bound", "slot", (*txstage.Editor).SetValidHereafter)
}
func editClearValidHereafterCmd() *cobra.Command {
	return simpleVerb("clear-valid-hereafter", "Unset the lower slot bound", (*txstage.Editor).ClearValidHereafter)
}

func editSetNetworkCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "set-network <wallet-slug> <tx-id> <network-id>",
		Short: "Set the transaction's declared network id (0 testnet, 1 mainnet)",
		Args:  cobra.ExactArgs(3),
		RunE: func(cmd *cobra.Command, args []string) error {
			n, err := strconv.ParseUint(args[2], 10, 8)
			if err != nil {
				return fmt.Errorf("parse network-id: %w", err)
			}
			e, closer, err := editor(args[0], args[1])
			if err != nil {
				return err
			}
			defer closer()
			if err := e.SetNetwork(uint8(n)); err != nil {
				return err
			}
			fmt.Println("ok")
			return nil
		},
	}
}
func editClearNetworkCmd() *cobra.Command {
	return simpleVerb("clear-network", "Unset the declared network id", (*txstage.Editor).ClearNetwork)
}

func editAddDisclosedSignerCmd() *cobra.Command {
	return keyHashVerb("add-disclosed-signer", "Add a required-signer key hash", (*txstage.Editor).AddDisclosedSigner)
}
func editRemoveDisclosedSignerCmd() *cobra.Command {
	return keyHashVerb("remove-disclosed-signer", "Remove a required-signer key hash", (*txstage.Editor).RemoveDisclosedSigner)
}

func keyHashVerb(use, short string, fn func(e *txstage.Editor, keyHash []byte) error) *cobra.Command {
	return &cobra.Command{
		Use:   use + " <wallet-slug> <tx-id> <key-hash>",
		Short: short,
		Args:  cobra.ExactArgs(3),
		RunE: func(cmd *cobra.Command, args []string) error {
			keyHash, err := decodeHexArg("key-hash", args[2])
			if err != nil {
				return err
			}
			e, closer, err := editor(args[0], args[1])
			if err != nil {
				return err
			}
			defer closer()
			if err := fn(e, keyHash); err != nil {
				return err
			}
			fmt.Println("ok")
			return nil
		},
	}
}

func editSetSignerAmountCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "set-signer-amount <wallet-slug> <tx-id> <count>",
		Short: "Set the expected-signers count override (stored; not read by build)",
		Args:  cobra.ExactArgs(3),
		RunE: func(cmd *cobra.Command, args []string) error {
			n, err := strconv.ParseUint(args[2], 10, 8)
			if err != nil {
				return fmt.Errorf("parse count: %w", err)
			}
			e, closer, err := editor(args[0], args[1])
			if err != nil {
				return err
			}
			defer closer()
			if err := e.SetSignerAmount(uint8(n)); err != nil {
				return err
			}
			fmt.Println("ok")
			return nil
		},
	}
}
func editClearSignerAmountCmd() *cobra.Command {
	return simpleVerb("clear-signer-amount", "Unset the signer-count override", (*txstage.Editor).ClearSignerAmount)
}

func editSetChangeAddressCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "set-change-address <wallet-slug> <tx-id> <address>",
		Short: "Set the change address",
		Args:  cobra.ExactArgs(3),
		RunE: func(cmd *cobra.Command, args []string) error {
			e, closer, err := editor(args[0], args[1])
			if err != nil {
				return err
			}
			defer closer()
			if err := e.SetChangeAddress(args[2]); err != nil {
				return err
			}
			fmt.Println("ok")
			return nil
		},
	}
}
func editClearChangeAddressCmd() *cobra.Command {
	return simpleVerb("clear-change-address", "Unset the change address", (*txstage.Editor).ClearChangeAddress)
}

func editAddScriptCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "add-script <wallet-slug> <tx-id> <hash> <kind> <bytes>",
		Short: "Stage a script (kind: native, plutus_v1, plutus_v2)",
		Args:  cobra.ExactArgs(5),
		RunE: func(cmd *cobra.Command, args []string) error {
			hash, err := decodeHexArg("hash", args[2])
			if err != nil {
				return err
			}
			scriptBytes, err := decodeHexArg("bytes", args[4])
			if err != nil {
				return err
			}
			e, closer, err := editor(args[0], args[1])
			if err != nil {
				return err
			}
			defer closer()
			if err := e.AddScript(hash, txstage.ScriptKind(args[3]), scriptBytes); err != nil {
				return err
			}
			fmt.Println("ok")
			return nil
		},
	}
}
func editRemoveScriptCmd() *cobra.Command {
	return keyHashVerb("remove-script", "Drop a staged script by hash", (*txstage.Editor).RemoveScript)
}

func editAddDatumCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "add-datum <wallet-slug> <tx-id> <hash> <bytes>",
		Short: "Stage a datum",
		Args:  cobra.ExactArgs(4),
		RunE: func(cmd *cobra.Command, args []string) error {
			hash, err := decodeHexArg("hash", args[2])
			if err != nil {
				return err
			}
			datumBytes, err := decodeHexArg("bytes", args[3])
			if err != nil {
				return err
			}
			e, closer, err := editor(args[0], args[1])
			if err != nil {
				return err
			}
			defer closer()
			if err := e.AddDatum(hash, datumBytes); err != nil {
				return err
			}
			fmt.Println("ok")
			return nil
		},
	}
}
func editRemoveDatumCmd() *cobra.Command {
	return keyHashVerb("remove-datum", "Drop a staged datum by hash", (*txstage.Editor).RemoveDatum)
}

func parseExUnits(mem, steps string) (*txstage.ExUnits, error) {
	if mem == "" && steps == "" {
		return nil, nil
	}
	m, err := parseUint64("--ex-mem", mem)
	if err != nil {
		return nil, err
	}
	s, err := parseUint64("--ex-steps", steps)
	if err != nil {
		return nil, err
	}
	return &txstage.ExUnits{Mem: m, Steps: s}, nil
}

func editAddRedeemerSpendCmd() *cobra.Command {
	var exMem, exSteps string
	cmd := &cobra.Command{
		Use:   "add-redeemer-spend <wallet-slug> <tx-id> <hash#idx> <data>",
		Short: "Stage a spend redeemer for the input hash#idx",
		Args:  cobra.ExactArgs(4),
		RunE: func(cmd *cobra.Command, args []string) error {
			txHash, index, err := parseUTxORefArg(args[2])
			if err != nil {
				return err
			}
			data, err := decodeHexArg("data", args[3])
			if err != nil {
				return err
			}
			exUnits, err := parseExUnits(exMem, exSteps)
			if err != nil {
				return err
			}
			e, closer, err := editor(args[0], args[1])
			if err != nil {
				return err
			}
			defer closer()
			if err := e.AddRedeemerSpend(txHash, index, data, exUnits); err != nil {
				return err
			}
			fmt.Println("ok")
			return nil
		},
	}
	cmd.Flags().StringVar(&exMem, "ex-mem", "", "execution-unit memory budget")
	cmd.Flags().StringVar(&exSteps, "ex-steps", "", "execution-unit step budget")
	return cmd
}

func editAddRedeemerMintCmd() *cobra.Command {
	var exMem, exSteps string
	cmd := &cobra.Command{
		Use:   "add-redeemer-mint <wallet-slug> <tx-id> <policy> <data>",
		Short: "Stage a mint redeemer for a policy",
		Args:  cobra.ExactArgs(4),
		RunE: func(cmd *cobra.Command, args []string) error {
			policy, err := decodeHexArg("policy", args[2])
			if err != nil {
				return err
			}
			data, err := decodeHexArg("data", args[3])
			if err != nil {
				return err
			}
			exUnits, err := parseExUnits(exMem, exSteps)
			if err != nil {
				return err
			}
			e, closer, err := editor(args[0], args[1])
			if err != nil {
				return err
			}
			defer closer()
			if err := e.AddRedeemerMint(policy, data, exUnits); err != nil {
				return err
			}
			fmt.Println("ok")
			return nil
		},
	}
	cmd.Flags().StringVar(&exMem, "ex-mem", "", "execution-unit memory budget")
	cmd.Flags().StringVar(&exSteps, "ex-steps", "", "execution-unit step budget")
	return cmd
}

func editRemoveRedeemerSpendCmd() *cobra.Command {
	return inputVerb("remove-redeemer-spend", "Drop the spend redeemer for the input hash#idx", (*txstage.Editor).RemoveRedeemerSpend)
}

func editRemoveRedeemerMintCmd() *cobra.Command {
	return keyHashVerb("remove-redeemer-mint", "Drop the mint redeemer for a policy", (*txstage.Editor).RemoveRedeemerMint)
}
