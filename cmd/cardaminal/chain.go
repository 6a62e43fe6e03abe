package main

import (
	"context"
	"encoding/hex"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/klingon-exchange/cardaminal/internal/cfgfile"
	"github.com/klingon-exchange/cardaminal/internal/chainstore"
	"github.com/klingon-exchange/cardaminal/internal/upstream"
)

// chainCmd is the "chain" verb group: init/sync/dump leaves, a
// thin wrapper over internal/chainstore and internal/upstream.
func chainCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "chain",
		Short: "Manage a chain's block store and upstream sync",
	}
	cmd.AddCommand(chainInitCmd(), chainSyncCmd(), chainDumpCmd())
	return cmd
}

func chainInitCmd() *cobra.Command {
	var network, address, afterHash string
	var afterSlot uint64

	cmd := &cobra.Command{
		Use:   "init <slug>",
		Short: "Register a new chain's config.toml and block store",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			slug := args[0]
			params, ok := networkParams(network)
			if !ok {
				return fmt.Errorf("chain init: unrecognized network %q (known: %v)", network, knownNetworkNames())
			}

			cfg := &cfgfile.ChainConfig{
				Version:          1,
				Name:             slug,
				Magic:            params.Magic,
				AddressNetworkID: byte(params.Network),
				Upstream:         cfgfile.Upstream{Address: address},
			}
			if afterHash != "" {
				hashBytes, err := hex.DecodeString(afterHash)
				if err != nil {
					return fmt.Errorf("chain init: decode --after-hash: %w", err)
				}
				cfg.After = &cfgfile.AfterPoint{Slot: afterSlot, Hash: hex.EncodeToString(hashBytes)}
			}

			if err := cfgfile.SaveChainConfig(cfgfile.ChainConfigPath(rootDir, slug), cfg); err != nil {
				return err
			}

			store, err := openChainStore(slug)
			if err != nil {
				return err
			}
			defer store.Close()

			fmt.Printf("chain %q initialized: network=%s magic=%d upstream=%s\n", slug, params.Name, params.Magic, address)
			return nil
		},
	}
	cmd.Flags().StringVar(&network, "network", "mainnet", "network name (mainnet, preprod, preview)")
	cmd.Flags().StringVar(&address, "address", "", "upstream node-to-node address (host:port)")
	cmd.Flags().Uint64Var(&afterSlot, "after-slot", 0, "bootstrap fallback intersection slot")
	cmd.Flags().StringVar(&afterHash, "after-hash", "", "bootstrap fallback intersection block hash (hex)")
	cmd.MarkFlagRequired("address")
	return cmd
}

func knownNetworkNames() []string {
	return []string{"mainnet", "preprod", "preview"}
}

func chainSyncCmd() *cobra.Command {
	var steps int
	var follow bool

	cmd := &cobra.Command{
		Use:   "sync <slug>",
		Short: "Run chain-sync/block-fetch steps against the configured upstream",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			slug := args[0]
			chainCfg, err := cfgfile.LoadChainConfig(cfgfile.ChainConfigPath(rootDir, slug))
			if err != nil {
				return err
			}

			store, err := openChainStore(slug)
			if err != nil {
				return err
			}
			defer store.Close()

			ctx := context.Background()
			peer, err := upstream.Dial(ctx, chainCfg.Upstream.Address, chainCfg.Magic)
			if err != nil {
				return err
			}
			defer peer.Close()

			opts := upstream.BootstrapOptions{}
			if chainCfg.After != nil {
				hashBytes, err := hex.DecodeString(chainCfg.After.Hash)
				if err != nil {
					return fmt.Errorf("chain sync: decode after.hash: %w", err)
				}
				opts.After = &chainstore.Point{Slot: chainCfg.After.Slot, Hash: hashBytes}
			}

			up, err := upstream.Bootstrap(ctx, peer, store, opts, log)
			if err != nil {
				return err
			}

			inspect := func(slot uint64, hash, body []byte) error {
				log.Info("stored block", "slot", slot, "hash", hex.EncodeToString(hash))
				return nil
			}

			for i := 0; follow || i < steps; i++ {
				if err := up.NextStep(ctx, inspect); err != nil {
					return err
				}
				if follow && up.IsAtTip() {
					log.Info("caught up to tip", "tip_slot", up.Tip().Point.Slot)
					break
				}
			}
			return nil
		},
	}
	cmd.Flags().IntVar(&steps, "steps", 1, "number of chain-sync/block-fetch steps to run")
	cmd.Flags().BoolVar(&follow, "follow", false, "run until caught up to the upstream tip, instead of a fixed step count")
	return cmd
}

func chainDumpCmd() *cobra.Command {
	var fromSlot, toSlot uint64

	cmd := &cobra.Command{
		Use:   "dump <slug>",
		Short: "Print the stored block range as (slot, hash) pairs",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			slug := args[0]
			store, err := openChainStore(slug)
			if err != nil {
				return err
			}
			defer store.Close()

			var from *chainstore.Point
			if fromSlot > 0 {
				from = &chainstore.Point{Slot: fromSlot}
			}
			to := chainstore.Point{Slot: toSlot}

			points, err := store.ReadChainRange(from, to)
			if err != nil {
				return err
			}
			for _, p := range points {
				fmt.Printf("%d %s\n", p.Slot, hex.EncodeToString(p.Hash))
			}
			return nil
		},
	}
	cmd.Flags().Uint64Var(&fromSlot, "from-slot", 0, "start slot (0 means the first stored block)")
	cmd.Flags().Uint64Var(&toSlot, "to-slot", 0, "end slot (0 means through the current tip)")
	return cmd
}
