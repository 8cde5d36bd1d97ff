package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/Sourabh10122002/talkie-server/auth"
	"github.com/Sourabh10122002/talkie-server/config"
	"github.com/Sourabh10122002/talkie-server/globals"
	"github.com/Sourabh10122002/talkie-server/metrics"
	"github.com/Sourabh10122002/talkie-server/persistence"
	"github.com/Sourabh10122002/talkie-server/ws"
	"github.com/hashicorp/go-hclog"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/spf13/pflag"
	"golang.org/x/sync/errgroup"
)

const shutdownTimeout = 15 * time.Second

var configPath = pflag.StringP("config", "c", "", "path to config file or directory")

func main() {
	flagSet := config.GetFlagSet()
	pflag.CommandLine.AddFlagSet(flagSet)
	pflag.CommandLine.SetNormalizeFunc(flagSet.GetNormalizeFunc())
	pflag.Parse()

	if err := run(); err != nil {
		globals.AppLogger.Error("gateway stopped", "error", err)
		os.Exit(1)
	}
}

func run() error {
	cfg, err := config.ReadConfiguration(*configPath, pflag.CommandLine)
	if err != nil {
		return err
	}
	globals.AppLogger.SetLevel(hclog.LevelFromString(cfg.LogLevel))

	store, err := persistence.NewStore(cfg)
	if err != nil {
		return err
	}
	defer store.Close()

	resolver, err := auth.NewResolver(cfg.AuthConfig, store)
	if err != nil {
		return err
	}

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	m, err := metrics.New(reg)
	if err != nil {
		return err
	}

	hub, err := ws.NewHub(cfg, store, resolver, m, globals.AppLogger.Named("hub"))
	if err != nil {
		return err
	}
	if err := hub.Start(); err != nil {
		return err
	}

	server := &http.Server{
		Addr:              cfg.ListenAddr,
		Handler:           hub.Router(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		globals.AppLogger.Info("listening", "addr", cfg.ListenAddr, "tls", cfg.TLSCert != "")
		var err error
		if cfg.TLSCert != "" && cfg.TLSKey != "" {
			err = server.ListenAndServeTLS(cfg.TLSCert, cfg.TLSKey)
		} else {
			err = server.ListenAndServe()
		}
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	})
	g.Go(func() error {
		<-ctx.Done()
		globals.AppLogger.Info("shutting down")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		// hijacked websocket connections are not tracked by the server, the hub closes them
		if err := hub.Stop(shutdownCtx); err != nil {
			globals.AppLogger.Warn("not all connections closed in time", "error", err)
		}
		return server.Shutdown(shutdownCtx)
	})
	return g.Wait()
}
