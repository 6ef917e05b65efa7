package main

import (
	"fmt"
	"sort"
	"text/tabwriter"
	"time"

	"github.com/cuemby/rover/pkg/client"
	"github.com/cuemby/rover/pkg/types"
	"github.com/spf13/cobra"
)

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show module health of a running controller",
	RunE: func(cmd *cobra.Command, args []string) error {
		c, err := newClient(cmd)
		if err != nil {
			return err
		}
		defer c.Close()

		report, err := c.Report()
		if err != nil {
			return err
		}
		views, err := c.Modules()
		if err != nil {
			return err
		}

		out := cmd.OutOrStdout()
		fmt.Fprintf(out, "Overall health: %.1f  failures: %d  recoveries: %d  uptime: %s\n",
			report.OverallHealthScore, report.TotalFailures, report.TotalRecoveries, report.Uptime.Round(time.Second))
		if report.EmergencyStop {
			fmt.Fprintln(out, "EMERGENCY STOP ACTIVE")
		}
		fmt.Fprintln(out)

		names := make([]string, 0, len(views))
		for name := range views {
			names = append(names, name)
		}
		sort.Strings(names)

		w := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
		fmt.Fprintln(w, "MODULE\tSTATUS\tSCORE\tSERVING\tENABLED\tRUNNING\tRATE\tERRORS\tFAILURES")
		for _, name := range names {
			v := views[name]
			status, score, failures := "-", "-", ""
			if v.Health != nil {
				status = string(v.Health.Status)
				score = fmt.Sprintf("%.1f", v.Health.HealthScore)
				failures = joinFailures(v.Health.Failures)
			}
			serving := "-"
			if st, err := c.Check(name); err == nil {
				serving = st.String()
			}
			enabled, running, rate, errCount := "-", "-", "-", "-"
			if v.Runtime != nil {
				enabled = fmt.Sprint(v.Runtime.Enabled)
				running = fmt.Sprint(v.Runtime.Running)
				rate = fmt.Sprintf("%.0fHz", v.Runtime.UpdateRate)
				errCount = fmt.Sprint(v.Runtime.ErrorCount)
			}
			fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\t%s\t%s\t%s\t%s\n",
				name, status, score, serving, enabled, running, rate, errCount, failures)
		}
		return w.Flush()
	},
}

var recoverCmd = &cobra.Command{
	Use:   "recover MODULE",
	Short: "Force a recovery strategy on a module",
	Long: `Force a recovery strategy on a module of a running controller.

Strategies: restart, reset, degrade, isolate, emergency_stop (or stop).`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		name, _ := cmd.Flags().GetString("strategy")
		strategy, err := types.ParseRecoveryStrategy(name)
		if err != nil {
			return err
		}

		c, err := newClient(cmd)
		if err != nil {
			return err
		}
		defer c.Close()

		event, err := c.Recover(args[0], strategy)
		if client.IsNotFound(err) {
			return fmt.Errorf("module %s is not supervised", args[0])
		}
		if err != nil {
			return err
		}

		result := "succeeded"
		if !event.RecoverySuccessful {
			result = "failed"
		}
		fmt.Fprintf(cmd.OutOrStdout(), "%s %s on %s\n", event.RecoveryStrategy, result, event.ModuleName)
		return nil
	},
}

var estopCmd = &cobra.Command{
	Use:   "estop",
	Short: "Trigger or clear the emergency stop",
	RunE: func(cmd *cobra.Command, args []string) error {
		clearStop, _ := cmd.Flags().GetBool("clear")
		reason, _ := cmd.Flags().GetString("reason")

		c, err := newClient(cmd)
		if err != nil {
			return err
		}
		defer c.Close()

		out := cmd.OutOrStdout()
		if clearStop {
			if _, err := c.ClearEmergencyStop(); err != nil {
				return err
			}
			fmt.Fprintln(out, "Emergency stop cleared")
			return nil
		}

		es, err := c.TriggerEmergencyStop(reason)
		if err != nil {
			return err
		}
		fmt.Fprintf(out, "Emergency stop active: %s\n", es.Reason)
		return nil
	},
}

func init() {
	for _, cmd := range []*cobra.Command{statusCmd, recoverCmd, estopCmd} {
		cmd.Flags().String("addr", "", "Operator API address (default from config)")
		cmd.Flags().String("grpc-addr", "", "gRPC health address (default from config)")
	}
	recoverCmd.Flags().StringP("strategy", "s", string(types.RecoveryRestart), "Recovery strategy")
	estopCmd.Flags().Bool("clear", false, "Clear the emergency stop instead of triggering it")
	estopCmd.Flags().String("reason", "", "Reason recorded with the emergency stop")
}

// newClient resolves controller addresses from flags or the config file
func newClient(cmd *cobra.Command) (*client.Client, error) {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return nil, err
	}
	addr, _ := cmd.Flags().GetString("addr")
	if addr == "" {
		addr = cfg.API.HTTPAddr
	}
	if addr == "" {
		return nil, fmt.Errorf("operator API is disabled in the configuration, pass --addr")
	}
	grpcAddr, _ := cmd.Flags().GetString("grpc-addr")
	if grpcAddr == "" {
		grpcAddr = cfg.API.GRPCAddr
	}
	return client.NewClient(addr, grpcAddr)
}

func joinFailures(failures []types.FailureType) string {
	s := ""
	for i, f := range failures {
		if i > 0 {
			s += ","
		}
		s += string(f)
	}
	return s
}
