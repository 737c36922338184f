// Command padclient is a reference client: it registers a pad, optionally
// links to a target pad with a shared secret, and once connected the linking
// side sends one greeting over the established path; every payload received
// over that path is logged with its size, not echoed. In
// -demo mode it reproduces original_source/example/peer-linker-test.cpp's
// two-pad harness: pad "agent a" links to pad "agent b", started a second
// after "agent b" so the target is already registered.
package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"sync"
	"time"

	"github.com/mojyack/padfabric/internal/config"
	"github.com/mojyack/padfabric/internal/ice"
)

func main() {
	var (
		configPath = flag.String("config", "", "path to configuration file")
		demo       = flag.Bool("demo", false, "run the built-in two-pad demo instead of reading config")
	)
	flag.Parse()

	slog.SetDefault(slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelInfo})))

	if *demo {
		runDemo()
		return
	}

	cfg, err := config.LoadClientConfig(*configPath)
	if err != nil {
		fmt.Fprintln(os.Stderr, "padclient: loading config:", err)
		os.Exit(1)
	}

	ctx, cancel := context.WithTimeout(context.Background(), time.Duration(cfg.RequestTimeoutSeconds)*time.Second*3)
	defer cancel()

	if err := runPad(ctx, cfg); err != nil {
		slog.Error("padclient exited with error", "error", err)
		os.Exit(1)
	}
}

func runPad(ctx context.Context, cfg *config.ClientConfig) error {
	session := ice.New(ice.Hooks{
		AuthPeer: func(peerName string, secret []byte) bool {
			ok := string(secret) == cfg.Secret
			slog.Info("padclient: auth request", "from", peerName, "accepted", ok)
			return ok
		},
		OnP2PPacketReceived: func(payload []byte) {
			slog.Info("padclient: received p2p payload", "bytes", len(payload))
		},
		OnUnlinked: func() {
			slog.Info("padclient: link torn down")
		},
	})
	defer session.Stop()

	err := session.Start(ctx, cfg.PeerLinkerURL, ice.StartParams{
		PadName:       cfg.PadName,
		TargetPadName: cfg.TargetPadName,
		Secret:        []byte(cfg.Secret),
		StunServers:   cfg.StunServers,
	})
	if err != nil {
		return err
	}

	slog.Info("padclient: session established", "pad", cfg.PadName, "target", cfg.TargetPadName)
	if cfg.TargetPadName != "" {
		if err := session.SendPacketP2P([]byte("hello from " + cfg.PadName)); err != nil {
			slog.Warn("padclient: sending greeting failed", "error", err)
		}
	}

	<-ctx.Done()
	return nil
}

func runDemo() {
	const url = "ws://localhost:8080/ws"
	const secret = "password"

	var wg sync.WaitGroup
	wg.Add(2)

	go func() {
		defer wg.Done()
		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()
		if err := runPad(ctx, &config.ClientConfig{
			PeerLinkerURL: url,
			PadName:       "agent b",
			Secret:        secret,
			StunServers:   []string{"stun.l.google.com:19302"},
		}); err != nil {
			slog.Error("padclient demo: agent b failed", "error", err)
		}
	}()

	time.Sleep(time.Second)

	go func() {
		defer wg.Done()
		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()
		if err := runPad(ctx, &config.ClientConfig{
			PeerLinkerURL: url,
			PadName:       "agent a",
			TargetPadName: "agent b",
			Secret:        secret,
			StunServers:   []string{"stun.l.google.com:19302"},
		}); err != nil {
			slog.Error("padclient demo: agent a failed", "error", err)
		}
	}()

	wg.Wait()
}
