// Package app wires configuration into a running sync agent: the store, the
// peer transport, the orchestrator, the gRPC peer server and the status API.
// It handles signals and shuts everything down in reverse order.
package app

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"sync"
	"syscall"

	"github.com/dmitrijs2005/focussync/internal/config"
	"github.com/dmitrijs2005/focussync/internal/filex"
	"github.com/dmitrijs2005/focussync/internal/logging"
	"github.com/dmitrijs2005/focussync/internal/peer"
	"github.com/dmitrijs2005/focussync/internal/statusapi"
	"github.com/dmitrijs2005/focussync/internal/store"
	"github.com/dmitrijs2005/focussync/internal/syncer"
	"github.com/dmitrijs2005/focussync/internal/transport/grpcpeer"
	"github.com/dmitrijs2005/focussync/internal/transport/s3relay"
)

// runner is a background server that stops when its context is done.
type runner interface {
	Run(ctx context.Context) error
}

type App struct {
	config    *config.Config
	logger    logging.Logger
	logOut    io.Writer
	store     store.Store
	transport peer.Transport
	orch      *syncer.Orchestrator
	runners   map[string]runner
}

// NewApp builds every component from c. A nil notifier logs notifications.
func NewApp(ctx context.Context, c *config.Config, notifier syncer.Notifier) (*App, error) {
	if err := c.Validate(); err != nil {
		return nil, err
	}

	if c.StoreDriver == store.DriverSQLite && filex.IsLocalFile(c.StoreDSN) {
		if _, err := filex.EnsureParentDir(c.StoreDSN); err != nil {
			return nil, err
		}
	}
	if c.LogFile != "" {
		if _, err := filex.EnsureParentDir(c.LogFile); err != nil {
			return nil, err
		}
	}

	logger, logOut := logging.New(logging.Options{
		Level:      c.LogLevel,
		JSON:       c.LogJSON,
		File:       c.LogFile,
		MaxSizeMB:  10,
		MaxBackups: 3,
	})

	st, err := store.Open(ctx, c.StoreDriver, c.StoreDSN)
	if err != nil {
		return nil, fmt.Errorf("store init error: %w", err)
	}

	app := &App{
		config:  c,
		logger:  logger,
		logOut:  logOut,
		store:   st,
		runners: make(map[string]runner),
	}

	var relay *s3relay.Relay
	switch c.Transport {
	case config.TransportS3:
		api, err := s3relay.NewAPI(ctx, s3relay.Config{
			Region:    c.S3.Region,
			Endpoint:  c.S3.Endpoint,
			AccessKey: c.S3.AccessKey,
			SecretKey: c.S3.SecretKey,
		})
		if err != nil {
			_ = st.Close()
			return nil, fmt.Errorf("s3 init error: %w", err)
		}
		relay = s3relay.New(api, c.S3.Bucket, c.S3.Prefix, logger)
		app.transport = relay
	default:
		app.transport = grpcpeer.NewClient(c.PeerAddrs, logger)
	}

	autoSync := c.AutoSync
	orch, err := syncer.New(syncer.Options{
		Store:            st,
		Transport:        app.transport,
		Logger:           logger,
		Notifier:         notifier,
		AdvertiseAddr:    c.AdvertiseAddr,
		KDF:              c.KDFParams(),
		AutoSync:         &autoSync,
		SyncInterval:     c.SyncInterval,
		CompletedDisplay: c.CompletedDisplay,
		SessionTimeout:   c.SessionTimeout,
	})
	if err != nil {
		_ = app.transport.Close()
		_ = st.Close()
		return nil, err
	}
	app.orch = orch

	if relay != nil {
		relay.Attach(orch)
	} else {
		app.runners["peer server"] = grpcpeer.NewServer(c.PeerListen, logger, orch)
	}
	if c.APIAddr != "" {
		app.runners["status api"] = statusapi.NewServer(c.APIAddr, logger, orch)
	}

	return app, nil
}

// Orchestrator exposes the running orchestrator to in-process front ends.
func (app *App) Orchestrator() *syncer.Orchestrator {
	return app.orch
}

func (app *App) initSignalHandler(cancelFunc context.CancelFunc) func() {
	sigs := make(chan os.Signal, 1)
	signal.Notify(sigs, syscall.SIGINT, syscall.SIGTERM, syscall.SIGQUIT)

	done := make(chan struct{})
	go func() {
		select {
		case <-sigs:
			cancelFunc()
		case <-done:
		}
	}()

	return func() {
		signal.Stop(sigs)
		close(done)
	}
}

// Run starts the orchestrator and background servers, then blocks until ctx
// is cancelled, a signal arrives, a server fails, or foreground (if given)
// returns.
func (app *App) Run(ctx context.Context, foreground func(ctx context.Context)) error {
	ctx, cancelFunc := context.WithCancel(ctx)
	defer cancelFunc()

	stopSignals := app.initSignalHandler(cancelFunc)
	defer stopSignals()

	app.logger.Info(ctx, "Starting app...")

	if err := app.orch.Start(ctx); err != nil {
		app.close(ctx)
		return err
	}

	var (
		wg      sync.WaitGroup
		errMu   sync.Mutex
		runErrs []error
	)

	for name, r := range app.runners {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := r.Run(ctx); err != nil {
				app.logger.Error(ctx, "server failed", "server", name, "error", err)
				errMu.Lock()
				runErrs = append(runErrs, fmt.Errorf("%s: %w", name, err))
				errMu.Unlock()
				cancelFunc()
			}
		}()
	}

	// foreground may block on input, so it is not waited for after a signal
	if foreground != nil {
		go func() {
			foreground(ctx)
			cancelFunc()
		}()
	}
	<-ctx.Done()

	wg.Wait()
	app.orch.Stop()
	app.logger.Info(ctx, "App stopped")
	app.close(ctx)

	return errors.Join(runErrs...)
}

func (app *App) close(ctx context.Context) {
	if err := app.transport.Close(); err != nil {
		app.logger.Warn(ctx, "transport close failed", "error", err)
	}
	if err := app.store.Close(); err != nil {
		app.logger.Warn(ctx, "store close failed", "error", err)
	}
	if c, ok := app.logOut.(io.Closer); ok && app.logOut != os.Stdout {
		_ = c.Close()
	}
}
