// Package serverutil runs the long-lived parts of the process (the HTTP
// listener, queue workers, periodic maintenance) under one cancellable
// group.
package serverutil

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"time"

	"golang.org/x/sync/errgroup"
)

// DefaultShutdownTimeout bounds graceful HTTP shutdown once the group is
// cancelled.
const DefaultShutdownTimeout = 10 * time.Second

// TLSConfig holds certificate and key paths. Both or neither must be set.
type TLSConfig struct {
	CertFile string
	KeyFile  string
}

func (c TLSConfig) enabled() bool {
	return c.CertFile != "" && c.KeyFile != ""
}

// Config controls how an HTTP server is served.
type Config struct {
	Server          *http.Server
	TLS             TLSConfig
	ShutdownTimeout time.Duration
	// Ready is closed once the listener is bound.
	Ready chan<- struct{}
}

// Task is a named unit of work that runs until ctx is cancelled. A task
// returning a non-nil error stops the whole group.
type Task struct {
	Name string
	Run  func(ctx context.Context) error
}

// RunGroup runs tasks concurrently and blocks until all of them return. The
// first failure cancels the others and is returned.
func RunGroup(ctx context.Context, logger *slog.Logger, tasks ...Task) error {
	if logger == nil {
		logger = slog.Default()
	}
	group, groupCtx := errgroup.WithContext(ctx)
	for _, task := range tasks {
		task := task
		if task.Run == nil {
			continue
		}
		group.Go(func() error {
			logger.Info("task started", "task", task.Name)
			err := task.Run(groupCtx)
			if err != nil {
				logger.Error("task failed", "task", task.Name, "error", err)
				return fmt.Errorf("%s: %w", task.Name, err)
			}
			logger.Info("task stopped", "task", task.Name)
			return nil
		})
	}
	return group.Wait()
}

// HTTPTask serves cfg.Server as a Task.
func HTTPTask(name string, cfg Config) Task {
	return Task{Name: name, Run: func(ctx context.Context) error { return Run(ctx, cfg) }}
}

// Every runs fn on each tick until ctx is cancelled. Errors from fn are
// logged and do not stop the loop.
func Every(name string, interval time.Duration, logger *slog.Logger, fn func(context.Context) error) Task {
	return Task{Name: name, Run: func(ctx context.Context) error {
		if interval <= 0 || fn == nil {
			<-ctx.Done()
			return nil
		}
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return nil
			case <-ticker.C:
				if err := fn(ctx); err != nil && ctx.Err() == nil && logger != nil {
					logger.Error("periodic task failed", "task", name, "error", err)
				}
			}
		}
	}}
}

// Run serves cfg.Server until ctx is cancelled, then shuts it down within
// ShutdownTimeout. A clean shutdown returns nil.
func Run(ctx context.Context, cfg Config) error {
	if cfg.Server == nil {
		return errors.New("server is required")
	}
	if (cfg.TLS.CertFile == "") != (cfg.TLS.KeyFile == "") {
		return errors.New("both TLS cert file and key file must be provided")
	}
	timeout := cfg.ShutdownTimeout
	if timeout <= 0 {
		timeout = DefaultShutdownTimeout
	}

	ln, err := listen(cfg)
	if err != nil {
		return err
	}
	if cfg.Ready != nil {
		close(cfg.Ready)
	}

	serveErr := make(chan error, 1)
	go func() {
		serveErr <- cfg.Server.Serve(ln)
	}()

	select {
	case err := <-serveErr:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()
	shutdownErr := cfg.Server.Shutdown(shutdownCtx)

	select {
	case err := <-serveErr:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return shutdownErr
	case <-shutdownCtx.Done():
		if shutdownErr != nil {
			return shutdownErr
		}
		return shutdownCtx.Err()
	}
}

func listen(cfg Config) (net.Listener, error) {
	ln, err := net.Listen("tcp", cfg.Server.Addr)
	if err != nil {
		return nil, err
	}
	if !cfg.TLS.enabled() {
		return ln, nil
	}
	cert, err := tls.LoadX509KeyPair(cfg.TLS.CertFile, cfg.TLS.KeyFile)
	if err != nil {
		ln.Close()
		return nil, err
	}
	tlsCfg := &tls.Config{MinVersion: tls.VersionTLS12}
	if cfg.Server.TLSConfig != nil {
		tlsCfg = cfg.Server.TLSConfig.Clone()
	}
	tlsCfg.Certificates = append([]tls.Certificate{cert}, tlsCfg.Certificates...)
	cfg.Server.TLSConfig = tlsCfg
	return tls.NewListener(ln, tlsCfg), nil
}
