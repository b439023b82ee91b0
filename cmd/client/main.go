package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"golang.org/x/sync/errgroup"

	"github.com/aesync/aesync/internal/core/engine"
	"github.com/aesync/aesync/internal/core/observability/log"
)

func main() {
	configPath := flag.String("config", "", "path to YAML config")
	dialAddr := flag.String("dial", "", "override host address")
	transport := flag.String("transport", "", "override transport kind")
	flag.Parse()

	cfg, err := engine.LoadConfig(*configPath)
	if err != nil {
		fmt.Fprintln(os.Stderr, "config:", err)
		os.Exit(1)
	}
	if *dialAddr != "" {
		cfg.DialAddr = *dialAddr
	}
	if *transport != "" {
		cfg.Transport = *transport
	}
	if err := cfg.Validate(); err != nil {
		fmt.Fprintln(os.Stderr, "config:", err)
		os.Exit(1)
	}

	lg := log.New(cfg.Level())

	if err := run(cfg, lg); err != nil && err != context.Canceled {
		lg.Fatal("client stopped", log.Error(err))
	}
	lg.Info("client stopped")
}

func run(cfg engine.Config, lg log.Log) error {
	ctx, cancel := signal.NotifyContext(context.Background(),
		os.Interrupt, syscall.SIGTERM)
	defer cancel()

	tr, err := engine.NewTransport(cfg, lg)
	if err != nil {
		return err
	}

	ec := engine.NewContext(cfg, tr, lg)
	peer := engine.NewPeer(ec)
	if err := peer.Dial(); err != nil {
		return fmt.Errorf("dial %s: %w", cfg.DialAddr, err)
	}
	lg.Info("peer connected",
		log.String("addr", cfg.DialAddr),
		log.String("transport", cfg.Transport))

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		defer tr.Close()
		synced := false
		for {
			select {
			case <-ctx.Done():
				return ctx.Err()
			default:
			}

			for owed := ec.Ticker.Wait(); owed > 0; owed-- {
				if err := peer.Update(); err != nil {
					lg.Warn("snapshot apply failed", log.Error(err))
				}
			}

			if peer.Synced() != synced {
				synced = peer.Synced()
				lg.Info("sync state changed",
					log.Bool("synced", synced),
					log.Uint64("server_tick", peer.ServerTick()),
					log.Int("entities", ec.Store.EntityCount()))
			}
		}
	})
	return g.Wait()
}
