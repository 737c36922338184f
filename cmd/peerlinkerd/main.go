// Command peerlinkerd runs the pad registry and link-brokering server.
// Flag/service handling follows host-agent/cmd/agent/main.go's
// kardianos/service wiring.
package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"

	"github.com/kardianos/service"

	"github.com/mojyack/padfabric/internal/config"
	"github.com/mojyack/padfabric/internal/netsvc"
	"github.com/mojyack/padfabric/internal/peerlinker"
	"github.com/mojyack/padfabric/internal/ratelimit"
)

func main() {
	var (
		configPath = flag.String("config", "", "path to configuration file")
		install    = flag.Bool("install", false, "install the OS service")
		uninstall  = flag.Bool("uninstall", false, "uninstall the OS service")
		runFg      = flag.Bool("run", false, "run in the foreground instead of via the service manager")
	)
	flag.Parse()

	cfg, err := config.LoadServerConfig(*configPath, "peer-linker", ":8080")
	if err != nil {
		fmt.Fprintln(os.Stderr, "peerlinkerd: loading config:", err)
		os.Exit(1)
	}
	initLogger(cfg.LogLevel)

	runner := &netsvc.ServiceRunner{Run: func(ctx context.Context) error {
		return run(ctx, cfg)
	}}

	svc, err := netsvc.NewService("padfabric-peerlinkerd", "PadFabric Peer Linker", "Pad registry and link-brokering server", runner)
	if err != nil {
		slog.Error("creating service", "error", err)
		os.Exit(1)
	}

	switch {
	case *install:
		if err := svc.Install(); err != nil {
			slog.Error("installing service", "error", err)
			os.Exit(1)
		}
		return
	case *uninstall:
		if err := svc.Uninstall(); err != nil {
			slog.Error("uninstalling service", "error", err)
			os.Exit(1)
		}
		return
	case *runFg || service.Interactive():
		if err := run(context.Background(), cfg); err != nil {
			slog.Error("peerlinkerd exited with error", "error", err)
			os.Exit(1)
		}
		return
	default:
		if err := svc.Run(); err != nil {
			slog.Error("service run failed", "error", err)
			os.Exit(1)
		}
	}
}

func run(ctx context.Context, cfg *config.ServerConfig) error {
	limits, def := ratelimit.DefaultLimits()
	limiter := ratelimit.New(limits, def)

	server := peerlinker.NewServer(cfg.Verbose, limiter)
	daemon := netsvc.NewDaemon(cfg, server.HandlePad)
	return daemon.Run(ctx)
}

func initLogger(level string) {
	var lvl slog.Level
	if err := lvl.UnmarshalText([]byte(level)); err != nil {
		lvl = slog.LevelInfo
	}
	slog.SetDefault(slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: lvl})))
}
