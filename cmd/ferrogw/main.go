// Command ferrogw runs the FerroGateway HTTP server: it loads a declarative
// function/variant/model/provider configuration, builds the inference
// pipeline, and serves spec.md §6's HTTP surface.
package main

import (
	"context"
	"log"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	gateway "github.com/ferro-labs/inference-gateway"
	"github.com/ferro-labs/inference-gateway/internal/analytics"
	"github.com/ferro-labs/inference-gateway/internal/httpserver"
	"github.com/ferro-labs/inference-gateway/internal/logging"
	"github.com/ferro-labs/inference-gateway/internal/version"

	// Register built-in plugins so they can be loaded from config
	// (SPEC_FULL.md §6, "plugin pipeline ... before/after/on-error hook
	// points"). ratelimit is deliberately not imported here — see
	// DESIGN.md's Non-goals entry on rate limiting.
	_ "github.com/ferro-labs/inference-gateway/internal/plugins/cache"
	_ "github.com/ferro-labs/inference-gateway/internal/plugins/logger"
	_ "github.com/ferro-labs/inference-gateway/internal/plugins/maxtoken"
	_ "github.com/ferro-labs/inference-gateway/internal/plugins/wordfilter"
)

func main() {
	logging.Setup(orDefault(os.Getenv("LOG_LEVEL"), "info"), orDefault(os.Getenv("LOG_FORMAT"), "json"))
	log := logging.FromContext(context.Background())

	cfgPath := os.Getenv("GATEWAY_CONFIG")
	if cfgPath == "" {
		log.Error("GATEWAY_CONFIG is required (path to the declarative config document)")
		os.Exit(1)
	}

	reg, err := gateway.LoadConfig(cfgPath)
	if err != nil {
		log.Error("failed to load config", "error", err.Error())
		os.Exit(1)
	}
	if err := gateway.ValidateConfig(reg); err != nil {
		log.Error("invalid config", "error", err.Error())
		os.Exit(1)
	}
	log.Info("config loaded", "functions", len(reg.Functions), "models", len(reg.Models), "providers", len(reg.Providers))

	sink, err := buildSink()
	if err != nil {
		log.Error("failed to build analytics sink", "error", err.Error())
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	gw, err := gateway.New(ctx, reg, gateway.Options{Sink: sink})
	if err != nil {
		log.Error("failed to build gateway", "error", err.Error())
		os.Exit(1)
	}
	defer gw.Close(10 * time.Second)

	if interval := os.Getenv("DISCOVERY_INTERVAL"); interval != "" {
		d, perr := time.ParseDuration(interval)
		if perr != nil {
			log.Error("invalid DISCOVERY_INTERVAL", "error", perr.Error())
			os.Exit(1)
		}
		if err := gw.StartDiscovery(ctx, d); err != nil {
			log.Error("failed to start model discovery", "error", err.Error())
			os.Exit(1)
		}
	}

	var corsOrigins []string
	if origins := os.Getenv("CORS_ORIGINS"); origins != "" {
		corsOrigins = strings.Split(origins, ",")
	}

	addr := reg.BindAddress
	if addr == "" {
		addr = ":8080"
	}
	if p := os.Getenv("PORT"); p != "" {
		addr = ":" + p
	}

	srv := &http.Server{
		Addr:         addr,
		Handler:      httpserver.NewRouter(gw, corsOrigins),
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 120 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		<-ctx.Done()
		log.Info("shutting down gracefully")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			log.Error("shutdown error", "error", err.Error())
		}
	}()

	log.Info("FerroGateway listening", "version", version.Short(), "addr", addr, "functions", len(reg.Functions))
	if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		stop()
		log.Error("server error", "error", err.Error())
		os.Exit(1)
	}
	log.Info("server stopped")
}

// buildSink constructs the analytics.Sink from ANALYTICS_DRIVER/ANALYTICS_DSN.
// A gateway with no analytics configuration still serves inferences; records
// are simply never persisted (gateway.Options.Sink is nil-safe).
func buildSink() (analytics.Sink, error) {
	driver := strings.ToLower(strings.TrimSpace(os.Getenv("ANALYTICS_DRIVER")))
	dsn := os.Getenv("ANALYTICS_DSN")
	switch driver {
	case "", "sqlite":
		return analytics.NewSQLiteSink(dsn)
	case "postgres", "postgresql":
		return analytics.NewPostgresSink(dsn)
	case "none", "off":
		return nil, nil
	default:
		return nil, errUnsupportedDriver(driver)
	}
}

type errUnsupportedDriver string

func (e errUnsupportedDriver) Error() string {
	return "unsupported ANALYTICS_DRIVER " + string(e)
}

func orDefault(v, def string) string {
	if v == "" {
		return def
	}
	return v
}
