// Command bridged serves the registered libraries over the bridge protocol.
package main

import (
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"go.uber.org/zap"

	"net-bridge/capability"
	"net-bridge/config"
	_ "net-bridge/library/demo"
	"net-bridge/logging"
	"net-bridge/metrics"
	"net-bridge/middleware"
	"net-bridge/registry"
	"net-bridge/server"
)

const version = "0.3.0"

func main() {
	configPath := flag.String("config", "", "path to bridged.toml")
	addr := flag.String("addr", "", "listen address, overrides the config file")
	flag.Parse()

	if err := run(*configPath, *addr); err != nil {
		fmt.Fprintf(os.Stderr, "bridged: %v\n", err)
		os.Exit(1)
	}
}

func run(configPath, addr string) error {
	cfg, err := config.LoadServer(configPath)
	if err != nil {
		return err
	}
	if addr != "" {
		cfg.Addr = addr
	}

	logger := logging.Must(cfg.LogLevel)
	defer logger.Sync()

	rt, err := capability.NewRuntime(cfg.Libraries...)
	if err != nil {
		return err
	}

	m := metrics.New()
	opts := []server.Option{
		server.WithLogger(logger),
		server.WithMetrics(m),
		server.WithMiddleware(middleware.LoggingMiddleware(logger)),
	}

	if d := cfg.Discovery; len(d.Endpoints) > 0 {
		reg, err := registry.NewEtcdRegistry(registry.EtcdConfig{
			Endpoints:   d.Endpoints,
			DialTimeout: d.DialTimeout,
			Logger:      logger,
		})
		if err != nil {
			return err
		}
		defer reg.Close()
		opts = append(opts, server.WithDiscovery(server.Discovery{
			Registry: reg,
			Service:  d.Service,
			Instance: registry.Instance{
				Addr:      d.Advertise,
				Weight:    d.Weight,
				Version:   version,
				Libraries: rt.Libraries(),
			},
			TTL: d.TTL,
		}))
	}

	srv := server.New(rt, opts...)
	if err := srv.Listen(cfg.Addr); err != nil {
		if errors.Is(err, server.ErrAlreadyServing) {
			logger.Warn("another bridge owns the address, exiting", zap.String("addr", cfg.Addr))
			return nil
		}
		return err
	}

	if cfg.MetricsAddr != "" {
		mux := http.NewServeMux()
		mux.Handle("/metrics", m.Handler())
		ms := &http.Server{Addr: cfg.MetricsAddr, Handler: mux}
		go func() {
			if err := ms.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				logger.Error("metrics endpoint stopped", zap.Error(err))
			}
		}()
		defer ms.Close()
	}

	errc := make(chan error, 1)
	go func() { errc <- srv.Serve() }()

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)
	select {
	case err := <-errc:
		return err
	case s := <-sig:
		logger.Info("shutting down", zap.Stringer("signal", s))
	}

	if err := srv.Shutdown(cfg.ShutdownTimeout); err != nil {
		return err
	}
	return <-errc
}
