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
	listenAddr := flag.String("listen", "", "override listen address")
	transport := flag.String("transport", "", "override transport kind")
	flag.Parse()

	cfg, err := engine.LoadConfig(*configPath)
	if err != nil {
		fmt.Fprintln(os.Stderr, "config:", err)
		os.Exit(1)
	}
	if *listenAddr != "" {
		cfg.ListenAddr = *listenAddr
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
		lg.Fatal("server stopped", log.Error(err))
	}
	lg.Info("server stopped")
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
	host := engine.NewHost(ec)
	if err := host.Listen(); err != nil {
		return fmt.Errorf("listen on %s: %w", cfg.ListenAddr, err)
	}
	lg.Info("host listening",
		log.String("addr", cfg.ListenAddr),
		log.String("transport", cfg.Transport),
		log.Int("tps", cfg.TPS),
		log.Int("ups", cfg.UPS))

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		defer tr.Close()
		for {
			select {
			case <-ctx.Done():
				return ctx.Err()
			default:
			}

			for owed := ec.Ticker.Wait(); owed > 0; owed-- {
				host.BeginTick()
				ec.StepPhysics()
				if err := host.EndTick(); err != nil {
					return err
				}
			}
		}
	})
	return g.Wait()
}
