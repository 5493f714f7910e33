// Command catgated is the gateway daemon: it serves the OpenAI-compatible
// API over a pool of upstream accounts.
package main

import (
	"context"
	"errors"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/Anivie/gpt-cat/internal/config"
	"github.com/Anivie/gpt-cat/internal/core"
	"github.com/Anivie/gpt-cat/internal/httpserver"
	"github.com/Anivie/gpt-cat/internal/logging"
	"github.com/Anivie/gpt-cat/internal/version"
)

const shutdownGrace = 10 * time.Second

func main() {
	os.Exit(run())
}

func run() int {
	root := os.Getenv("CATGATE_ROOT")
	if root == "" {
		root = "."
	}
	rt, err := config.NewRuntime(root)
	if err != nil {
		log.Fatalf("load config failed: %v", err)
	}
	cfg := rt.Gateway()

	sink, err := logging.OpenSink(cfg.LogFile)
	if err != nil {
		log.Fatalf("init log file: %v", err)
	}
	defer sink.Close()
	log.SetOutput(sink)
	log.SetFlags(log.LstdFlags | log.Lmicroseconds)
	log.SetPrefix("[catgated] ")
	logger := logging.NewLeveled(log.Default(), logging.ParseLevel(cfg.LogLevel))
	logger.Infof("%s starting env=%s", version.FullInfo("catgated"), cfg.Environment)
	logger.Debugf("retries=%d concurrency=%d scan_limit=%d request_timeout=%v",
		cfg.Retries, cfg.Concurrency, cfg.ScanLimit, cfg.RequestTimeout)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	app, err := core.New(ctx, rt, sink.Logger("catgated/core"))
	if err != nil {
		log.Fatalf("init gateway: %v", err)
	}
	defer func() {
		if err := app.Close(); err != nil {
			logger.Errorf("close stores: %v", err)
		}
	}()
	if app.Pool.Len() == 0 {
		logger.Warnf("no enabled accounts; every request will fail until accounts are added")
	}

	handler := httpserver.FromApp(app, sink.Logger("catgated/http")).Router()
	servers := []*http.Server{newServer(cfg.HTTPAddress, handler)}
	useTLS := fileExists(cfg.TLSCertPath) && fileExists(cfg.TLSKeyPath)
	if useTLS {
		servers = append(servers, newServer(cfg.HTTPSAddress, handler))
	} else {
		logger.Debugf("no certificate at %s; https listener off", cfg.TLSCertPath)
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		app.Run(gctx)
		return nil
	})
	watcher := config.NewWatcher([]string{cfg.GatewayPath, cfg.ModelsPath}, 500*time.Millisecond, sink.Logger("catgated/config"))
	g.Go(func() error {
		return watcher.Watch(gctx, func() error { return app.Reload(gctx) })
	})
	for i, srv := range servers {
		srv := srv
		tls := i > 0
		g.Go(func() error {
			var err error
			if tls {
				logger.Infof("https listening on %s", srv.Addr)
				err = srv.ListenAndServeTLS(cfg.TLSCertPath, cfg.TLSKeyPath)
			} else {
				logger.Infof("http listening on %s", srv.Addr)
				err = srv.ListenAndServe()
			}
			if errors.Is(err, http.ErrServerClosed) {
				return nil
			}
			return err
		})
	}
	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownGrace)
		defer cancel()
		for _, srv := range servers {
			if err := srv.Shutdown(shutdownCtx); err != nil {
				logger.Warnf("graceful shutdown of %s failed: %v", srv.Addr, err)
			}
		}
		return nil
	})

	if err := g.Wait(); err != nil {
		logger.Errorf("gateway stopped: %v", err)
		return 1
	}
	logger.Infof("gateway stopped")
	return 0
}

// newServer leaves WriteTimeout unset: streamed answers may run for minutes.
func newServer(addr string, h http.Handler) *http.Server {
	return &http.Server{
		Addr:              addr,
		Handler:           h,
		ReadHeaderTimeout: 15 * time.Second,
		IdleTimeout:       60 * time.Second,
	}
}

func fileExists(path string) bool {
	if path == "" {
		return false
	}
	st, err := os.Stat(path)
	return err == nil && !st.IsDir()
}
