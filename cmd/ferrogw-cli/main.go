// Command fergw is FerroGateway's operator CLI: validate a config document,
// list registered plugins, print version info, or run the gateway server
// in the foreground (SPEC_FULL.md §2, "CLI").
package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	gateway "github.com/ferro-labs/inference-gateway"
	"github.com/ferro-labs/inference-gateway/internal/analytics"
	"github.com/ferro-labs/inference-gateway/internal/httpserver"
	"github.com/ferro-labs/inference-gateway/internal/logging"
	"github.com/ferro-labs/inference-gateway/internal/version"
	"github.com/ferro-labs/inference-gateway/plugin"
	"github.com/spf13/cobra"

	// Register built-in plugins so they appear in `fergw plugins`.
	_ "github.com/ferro-labs/inference-gateway/internal/plugins/cache"
	_ "github.com/ferro-labs/inference-gateway/internal/plugins/logger"
	_ "github.com/ferro-labs/inference-gateway/internal/plugins/maxtoken"
	_ "github.com/ferro-labs/inference-gateway/internal/plugins/wordfilter"
)

func main() {
	root := &cobra.Command{
		Use:   "fergw",
		Short: "FerroGateway operator CLI",
	}
	root.AddCommand(validateCmd(), pluginsCmd(), versionCmd(), serveCmd())

	if err := root.Execute(); err != nil {
		os.Exit(1)
	}
}

func validateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "validate <config-file>",
		Short: "Validate a gateway configuration document (JSON/YAML)",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			reg, err := gateway.LoadConfig(args[0])
			if err != nil {
				return fmt.Errorf("loading config: %w", err)
			}
			if err := gateway.ValidateConfig(reg); err != nil {
				return fmt.Errorf("validating config: %w", err)
			}

			fmt.Fprintln(cmd.OutOrStdout(), "config is valid")
			fmt.Fprintf(cmd.OutOrStdout(), "  bind_address: %s\n", reg.BindAddress)
			fmt.Fprintf(cmd.OutOrStdout(), "  functions:    %d\n", len(reg.Functions))
			fmt.Fprintf(cmd.OutOrStdout(), "  models:       %d\n", len(reg.Models))
			fmt.Fprintf(cmd.OutOrStdout(), "  providers:    %d\n", len(reg.Providers))
			fmt.Fprintf(cmd.OutOrStdout(), "  tools:        %d\n", len(reg.Tools))
			fmt.Fprintf(cmd.OutOrStdout(), "  metrics:      %d\n", len(reg.Metrics))
			return nil
		},
	}
}

func pluginsCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "plugins",
		Short: "List all registered plugin factories",
		RunE: func(cmd *cobra.Command, _ []string) error {
			names := plugin.RegisteredPlugins()
			if len(names) == 0 {
				fmt.Fprintln(cmd.OutOrStdout(), "no plugins registered")
				return nil
			}
			for _, name := range names {
				factory, _ := plugin.GetFactory(name)
				p := factory()
				fmt.Fprintf(cmd.OutOrStdout(), "%-20s type=%s\n", name, p.Type())
			}
			return nil
		},
	}
}

func versionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print version information",
		RunE: func(cmd *cobra.Command, _ []string) error {
			fmt.Fprintln(cmd.OutOrStdout(), version.String())
			return nil
		},
	}
}

// serveCmd runs the gateway server in the foreground, for operators who
// prefer `fergw serve` over the standalone ferrogw binary (both build from
// the same root gateway package).
func serveCmd() *cobra.Command {
	var (
		addr     string
		dsn      string
		driver   string
		interval time.Duration
	)
	cmd := &cobra.Command{
		Use:   "serve <config-file>",
		Short: "Run the gateway HTTP server in the foreground",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			logging.Setup("info", "json")
			log := logging.FromContext(context.Background())

			reg, err := gateway.LoadConfig(args[0])
			if err != nil {
				return fmt.Errorf("loading config: %w", err)
			}
			if err := gateway.ValidateConfig(reg); err != nil {
				return fmt.Errorf("validating config: %w", err)
			}

			var sink analytics.Sink
			switch driver {
			case "", "sqlite":
				sink, err = analytics.NewSQLiteSink(dsn)
			case "postgres", "postgresql":
				sink, err = analytics.NewPostgresSink(dsn)
			case "none":
				sink = nil
			default:
				return fmt.Errorf("unsupported --analytics-driver %q", driver)
			}
			if err != nil {
				return fmt.Errorf("building analytics sink: %w", err)
			}

			ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			gw, err := gateway.New(ctx, reg, gateway.Options{Sink: sink})
			if err != nil {
				return fmt.Errorf("building gateway: %w", err)
			}
			defer gw.Close(10 * time.Second)

			if interval > 0 {
				if err := gw.StartDiscovery(ctx, interval); err != nil {
					return fmt.Errorf("starting discovery: %w", err)
				}
			}

			bind := addr
			if bind == "" {
				bind = reg.BindAddress
			}
			if bind == "" {
				bind = ":8080"
			}

			var corsOrigins []string
			srv := &http.Server{Addr: bind, Handler: httpserver.NewRouter(gw, corsOrigins), ReadTimeout: 30 * time.Second, WriteTimeout: 120 * time.Second}
			go func() {
				<-ctx.Done()
				shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
				defer cancel()
				_ = srv.Shutdown(shutdownCtx)
			}()

			log.Info("fergw serve listening", "addr", bind)
			if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
				return err
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&addr, "addr", "", "listen address (overrides bind_address in config)")
	cmd.Flags().StringVar(&dsn, "analytics-dsn", "", "analytics sink DSN")
	cmd.Flags().StringVar(&driver, "analytics-driver", "sqlite", "analytics sink driver: sqlite, postgres, or none")
	cmd.Flags().DurationVar(&interval, "discovery-interval", 0, "model discovery refresh interval (0 disables)")
	return cmd
}
