// Command data-agent-broker is the broker variant: it runs the same
// subsystems as data-agent but additionally exposes the RPC surface
// over an AMQP request/reply queue (pkg/bus), and offers
// list_services for remote callers to discover the method surface.
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
	"github.com/imubit/data-agent/pkg/bus"
	"github.com/imubit/data-agent/pkg/daqerr"
)

var configPath string

func main() {
	root := &cobra.Command{Use: "data-agent-broker", Short: "Broker-facing data-acquisition agent"}
	root.PersistentFlags().StringVar(&configPath, "config", "", "path to the agent's static YAML config")
	root.AddCommand(serveCmd(), execCmd(), listServicesCmd())

	if err := root.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func serveCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the agent and an AMQP RPC server until interrupted",
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

			rpc, err := bus.DialRPCServer(cfg.BrokerURL, daqerr.Kind)
			if err != nil {
				return err
			}
			defer rpc.Close()

			ctx, cancel := context.WithCancel(context.Background())
			go waitForSignalThenCancel(cancel)

			log.Info("data-agent-broker serving RPC")
			err = rpc.Serve(ctx, func(ctx context.Context, method string, args map[string]any) (any, error) {
				return dispatch.Dispatch(ctx, svc.Facade, method, args)
			})
			if err != nil && ctx.Err() == nil {
				return err
			}
			log.Info("data-agent-broker shutting down")
			return nil
		},
	}
}

func execCmd() *cobra.Command {
	return &cobra.Command{
		Use:                "exec [method] --k=v...",
		Short:              "Invoke a single facade method in-process and print its JSON result",
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

func listServicesCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "list_services",
		Short: "List every RPC method name this broker dispatches",
		RunE: func(cmd *cobra.Command, args []string) error {
			for _, name := range dispatch.MethodNames {
				fmt.Println(name)
			}
			return nil
		},
	}
}

func waitForSignalThenCancel(cancel context.CancelFunc) {
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
	<-sigCh
	cancel()
}
