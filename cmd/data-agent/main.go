// Command data-agent is the local agent binary: it runs the
// connection manager, scan scheduler, history harvester and safe
// manipulator against a data bus, or executes a single facade method
// and exits, per SPEC_FULL §6's CLI surface.
package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/imubit/data-agent/internal/agentconfig"
	"github.com/imubit/data-agent/internal/bootstrap"
	"github.com/imubit/data-agent/internal/cliargs"
	"github.com/imubit/data-agent/internal/dispatch"
)

var configPath string

func main() {
	root := &cobra.Command{Use: "data-agent", Short: "Local data-acquisition agent"}
	root.PersistentFlags().StringVar(&configPath, "config", "", "path to the agent's static YAML config")
	root.AddCommand(serveCmd(), execCmd())

	if err := root.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func serveCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the agent, sampling and publishing until interrupted",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := agentconfig.Load(configPath)
			if err != nil {
				return err
			}
			log := cfg.NewLogger()

			svc, err := bootstrap.Build(cfg, log)
			if err != nil {
				return err
			}
			defer svc.Close()

			log.Info("data-agent running")
			waitForSignal()
			log.Info("data-agent shutting down")
			return nil
		},
	}
}

func execCmd() *cobra.Command {
	return &cobra.Command{
		Use:                "exec [method] --k=v...",
		Short:              "Invoke a single facade method and print its JSON result",
		DisableFlagParsing: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			method, kv, err := cliargs.Parse(args)
			if err != nil {
				return err
			}

			cfg, err := agentconfig.Load(configPath)
			if err != nil {
				return err
			}
			log := cfg.NewLogger()

			svc, err := bootstrap.Build(cfg, log)
			if err != nil {
				return err
			}
			defer svc.Close()

			result, err := dispatch.Dispatch(context.Background(), svc.Facade, method, kv)
			if err != nil {
				return err
			}
			body, err := json.MarshalIndent(result, "", "  ")
			if err != nil {
				return err
			}
			fmt.Println(string(body))
			return nil
		},
	}
}

func waitForSignal() {
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
	<-sigCh
}
