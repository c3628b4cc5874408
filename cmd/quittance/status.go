package main

import (
	"context"
	"sort"
	"time"

	"github.com/spf13/cobra"
	"golang.org/x/text/language"
	"golang.org/x/text/message"

	"github.com/0xredeth/Quittance/pkg/store"
)

const statusTimeout = 10 * time.Second

func newStatusCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Show indexing progress from the database",
		RunE:  runStatus,
	}
}

func runStatus(cmd *cobra.Command, _ []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	storeCfg := store.DefaultConfig()
	storeCfg.DSN = cfg.Database

	st, err := store.New(storeCfg)
	if err != nil {
		return err
	}
	defer st.Close()

	ctx, cancel := context.WithTimeout(cmd.Context(), statusTimeout)
	defer cancel()

	instanceID, err := st.InstanceID(ctx)
	if err != nil {
		// A database that was never migrated has no meta table yet.
		instanceID = "unknown"
	}

	statuses, err := st.ListSyncStatuses(ctx)
	if err != nil {
		return err
	}
	sort.Slice(statuses, func(i, j int) bool {
		return statuses[i].Contract < statuses[j].Contract
	})

	callCount, err := st.GetApiCallCount(ctx)
	if err != nil {
		return err
	}
	_, eventCount, err := st.QueryEvents(ctx, store.EventQuery{Limit: 1})
	if err != nil {
		return err
	}

	p := message.NewPrinter(language.English)
	out := cmd.OutOrStdout()

	p.Fprintf(out, "instance:  %s\n", instanceID)
	p.Fprintf(out, "network:   %s (chain %d)\n", cfg.Network, cfg.ChainID)
	p.Fprintf(out, "database:  connected\n\n")

	if len(statuses) == 0 {
		p.Fprintf(out, "no checkpoints yet\n")
	}
	for _, s := range statuses {
		p.Fprintf(out, "%s\n", s.Contract)
		p.Fprintf(out, "  last block: %d\n", s.LastBlockNumber)
		if s.LastBlockHash != "" {
			p.Fprintf(out, "  block hash: %s\n", s.LastBlockHash)
		}
		if !s.UpdatedAt.IsZero() {
			p.Fprintf(out, "  updated:    %s\n", s.UpdatedAt.UTC().Format(time.RFC3339))
		}
	}

	p.Fprintf(out, "\napi calls:  %d\n", callCount)
	p.Fprintf(out, "raw events: %d\n", eventCount)
	return nil
}
