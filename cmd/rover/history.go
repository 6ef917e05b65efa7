package main

import (
	"encoding/json"
	"fmt"
	"text/tabwriter"
	"time"

	"github.com/cuemby/rover/pkg/storage"
	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"
)

var historyCmd = &cobra.Command{
	Use:   "history [NAMESPACE]",
	Short: "Show journaled StateBus mutations",
	Long: `Show the mutations journaled for a namespace, oldest first.

Without a namespace, list the journaled namespaces. The journal database is
locked while the controller runs, so stop it first.`,
	Args: cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		limit, _ := cmd.Flags().GetInt("limit")
		store, err := openStore(cmd)
		if err != nil {
			return err
		}
		defer store.Close()

		out := cmd.OutOrStdout()
		if len(args) == 0 {
			namespaces, err := store.ListNamespaces()
			if err != nil {
				return err
			}
			for _, ns := range namespaces {
				fmt.Fprintln(out, ns)
			}
			return nil
		}

		mutations, err := store.ListMutations(args[0], limit)
		if err != nil {
			return err
		}
		w := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
		fmt.Fprintln(w, "TIME\tKEY\tVALUE")
		for _, m := range mutations {
			value := "<cleared>"
			if !m.Cleared {
				data, _ := json.Marshal(m.NewValue)
				value = truncate(string(data), 80)
			}
			fmt.Fprintf(w, "%s\t%s\t%s\n", m.Timestamp.Format(time.RFC3339Nano), m.Key, value)
		}
		return w.Flush()
	},
}

var failuresCmd = &cobra.Command{
	Use:   "failures",
	Short: "Show journaled failure events",
	RunE: func(cmd *cobra.Command, args []string) error {
		limit, _ := cmd.Flags().GetInt("limit")
		store, err := openStore(cmd)
		if err != nil {
			return err
		}
		defer store.Close()

		events, err := store.ListFailureEvents(limit)
		if err != nil {
			return err
		}

		w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
		fmt.Fprintln(w, "TIME\tMODULE\tFAILURE\tSTRATEGY\tATTEMPT\tSUCCESS")
		for _, e := range events {
			fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%d\t%t\n",
				e.Timestamp.Format(time.RFC3339), e.ModuleName, e.FailureType,
				e.RecoveryStrategy, e.Attempt, e.RecoverySuccessful)
		}
		return w.Flush()
	},
}

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Print the effective configuration as YAML",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig(cmd)
		if err != nil {
			return err
		}
		enc := yaml.NewEncoder(cmd.OutOrStdout())
		enc.SetIndent(2)
		defer enc.Close()
		return enc.Encode(cfg)
	},
}

func init() {
	historyCmd.Flags().Int("limit", 50, "Maximum number of mutations to show")
	failuresCmd.Flags().Int("limit", 50, "Maximum number of failure events to show")
}

func openStore(cmd *cobra.Command) (*storage.BoltStore, error) {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return nil, err
	}
	store, err := storage.NewBoltStore(cfg.DataDir)
	if err != nil {
		return nil, fmt.Errorf("failed to open journal in %s: %w", cfg.DataDir, err)
	}
	return store, nil
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n-3] + "..."
}
