package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/cuemby/rover/pkg/config"
	"github.com/cuemby/rover/pkg/controller"
	"github.com/cuemby/rover/pkg/log"
	"github.com/spf13/cobra"
)

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Run the controller",
	Long: `Run the controller until interrupted.

The configuration file, when given, is watched: changes to the log level and
to per-module enabled/update_rate take effect without a restart.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfgPath, _ := cmd.Flags().GetString("config")
		cfg, err := loadConfig(cmd)
		if err != nil {
			return err
		}
		initLogging(cmd, cfg)
		defer log.Close()

		c, err := controller.New(cfg, Version)
		if err != nil {
			return fmt.Errorf("failed to create controller: %w", err)
		}
		if err := c.Start(cmd.Context()); err != nil {
			_ = c.Stop(context.Background())
			return err
		}

		if cfgPath != "" {
			w, err := config.NewWatcher(cfgPath, func(next *config.Config) {
				applyOverrides(cmd, next)
				c.Apply(next)
			})
			if err != nil {
				log.Logger.Warn().Err(err).Msg("Config hot reload unavailable")
			} else {
				w.Start()
				defer w.Stop()
			}
		}

		sigCh := make(chan os.Signal, 1)
		signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
		<-sigCh
		log.Info("Shutting down")

		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()
		if err := c.Stop(ctx); err != nil {
			return fmt.Errorf("failed to shut down cleanly: %w", err)
		}
		return nil
	},
}

// loadConfig reads the config file and applies command-line overrides
func loadConfig(cmd *cobra.Command) (*config.Config, error) {
	path, _ := cmd.Flags().GetString("config")
	cfg, err := config.Load(path)
	if err != nil {
		return nil, err
	}
	applyOverrides(cmd, cfg)
	return cfg, cfg.Validate()
}

// applyOverrides lets command-line flags win over the file, both at
// startup and on every reload
func applyOverrides(cmd *cobra.Command, cfg *config.Config) {
	if dir, _ := cmd.Flags().GetString("data-dir"); dir != "" {
		cfg.DataDir = dir
	}
	if level, _ := cmd.Flags().GetString("log-level"); level != "" {
		cfg.Log.Level = level
	}
	if cmd.Flags().Changed("json-logs") {
		cfg.Log.JSON, _ = cmd.Flags().GetBool("json-logs")
	}
}

func initLogging(cmd *cobra.Command, cfg *config.Config) {
	lc := cfg.LogSettings()
	lc.Output = cmd.ErrOrStderr()
	log.Init(lc)
}
