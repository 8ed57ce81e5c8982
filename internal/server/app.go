// Package server wires configuration, storage backends, the transfer service
// and both transports, and runs them until shutdown.
package server

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"sync"
	"syscall"

	"github.com/dmitrijs2005/gophdrop/internal/cryptox"
	"github.com/dmitrijs2005/gophdrop/internal/logging"
	"github.com/dmitrijs2005/gophdrop/internal/server/actionlog"
	"github.com/dmitrijs2005/gophdrop/internal/server/blob"
	"github.com/dmitrijs2005/gophdrop/internal/server/config"
	"github.com/dmitrijs2005/gophdrop/internal/server/httpapi"
	"github.com/dmitrijs2005/gophdrop/internal/server/merge"
	"github.com/dmitrijs2005/gophdrop/internal/server/metrics"
	"github.com/dmitrijs2005/gophdrop/internal/server/repositories/sessions"
	"github.com/dmitrijs2005/gophdrop/internal/server/retrieval"
	"github.com/dmitrijs2005/gophdrop/internal/server/services"
	"github.com/dmitrijs2005/gophdrop/internal/server/staging"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"

	gs "github.com/dmitrijs2005/gophdrop/internal/server/grpc"
)

type App struct {
	config   *config.Config
	logger   logging.Logger
	registry *prometheus.Registry
	metrics  *metrics.Metrics
	transfer *services.TransferService
	closers  []io.Closer
}

// openSessions and openBlobs are seams for tests.
var (
	openSessions = openSessionStore
	openBlobs    = openBlobStores
)

func NewApp(ctx context.Context, c *config.Config, logger logging.Logger) (*App, error) {
	app := &App{config: c, logger: logger, registry: prometheus.NewRegistry()}
	app.registry.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	app.metrics = metrics.New(app.registry)

	repo, err := openSessions(ctx, c)
	if err != nil {
		return nil, fmt.Errorf("session store init error: %w", err)
	}
	app.closers = append(app.closers, repo)

	chunks, artifacts, err := openBlobs(ctx, c, logger)
	if err != nil {
		app.Close()
		return nil, fmt.Errorf("blob store init error: %w", err)
	}

	sink := actionlog.Sink(actionlog.NewSlogSink(logger))
	if c.ActionLogPath != "" {
		fileSink, err := actionlog.OpenFile(c.ActionLogPath, logger)
		if err != nil {
			app.Close()
			return nil, err
		}
		app.closers = append(app.closers, fileSink)
		sink = actionlog.Multi{fileSink, sink}
	}

	hasher := cryptox.NewHasher(cryptox.DefaultParams)
	stager := staging.New(chunks)
	app.transfer = services.NewTransferService(services.Deps{
		Repo:   repo,
		Stager: stager,
		Engine: merge.NewEngine(repo, stager, artifacts, logger,
			merge.WithActionLog(sink), merge.WithMetrics(app.metrics)),
		Gate:    retrieval.NewGate(repo, artifacts, hasher, logger),
		Hasher:  hasher,
		Limits:  services.Limits{MaxChunkBytes: c.MaxChunkBytes, MaxTotalChunks: c.MaxTotalChunks},
		Sink:    sink,
		Metrics: app.metrics,
		Logger:  logger,
	})

	return app, nil
}

func openSessionStore(ctx context.Context, c *config.Config) (sessions.Repository, error) {
	switch c.SessionStore {
	case "postgres":
		db, err := sessions.OpenPostgres(ctx, c.DatabaseDSN)
		if err != nil {
			return nil, err
		}
		return sessions.NewPostgresRepository(db), nil
	case "badger":
		db, err := sessions.OpenBadger(c.BadgerDir)
		if err != nil {
			return nil, err
		}
		return sessions.NewBadgerRepository(db), nil
	case "memory":
		return sessions.NewInMemoryRepository(), nil
	default:
		return nil, fmt.Errorf("unknown session store %q", c.SessionStore)
	}
}

// openBlobStores returns the store for staged chunks and the store for final
// artifacts. With S3 both live in one bucket under different prefixes.
func openBlobStores(ctx context.Context, c *config.Config, l logging.Logger) (blob.Store, blob.Store, error) {
	switch c.BlobBackend {
	case "s3":
		s, err := blob.DialS3(ctx, blob.S3Options{
			Region:       c.S3Region,
			AccessKey:    c.S3RootUser,
			SecretKey:    c.S3RootPassword,
			Bucket:       c.S3Bucket,
			BaseEndpoint: c.S3BaseEndpoint,
		}, l)
		if err != nil {
			return nil, nil, err
		}
		return s, s, nil
	case "fs":
		chunks, err := blob.NewFSStore(c.StagingDir)
		if err != nil {
			return nil, nil, err
		}
		artifacts, err := blob.NewFSStore(c.FinalDir)
		if err != nil {
			return nil, nil, err
		}
		return chunks, artifacts, nil
	default:
		return nil, nil, fmt.Errorf("unknown blob backend %q", c.BlobBackend)
	}
}

func (app *App) initSignalHandler(cancelFunc context.CancelFunc) {
	// Channel to catch OS signals.
	sigs := make(chan os.Signal, 1)
	signal.Notify(sigs, syscall.SIGINT, syscall.SIGTERM, syscall.SIGQUIT)

	go func() {
		<-sigs
		cancelFunc()
	}()
}

func (app *App) startHTTPServer(ctx context.Context, cancelFunc context.CancelFunc) {
	h := httpapi.NewHandler(app.transfer, app.logger)
	router := httpapi.NewRouter(h, httpapi.RouterOptions{
		FrontendURL: app.config.FrontendURL,
		Metrics:     app.metrics,
		Gatherer:    app.registry,
	})
	s := httpapi.NewServer(app.config.EndpointAddrHTTP, router, app.config.ShutdownTimeout, app.logger)
	if err := s.Run(ctx); err != nil {
		app.logger.Error(ctx, err.Error())
		cancelFunc()
	}
}

func (app *App) startGRPCServer(ctx context.Context, cancelFunc context.CancelFunc) {
	s := gs.NewGRPCServer(app.config.EndpointAddrGRPC, app.logger, app.transfer, app.metrics)
	if err := s.Run(ctx); err != nil {
		app.logger.Error(ctx, err.Error())
		cancelFunc()
	}
}

// Run serves both transports until ctx is cancelled, a signal arrives or a
// server fails, then releases storage.
func (app *App) Run(ctx context.Context) error {

	ctx, cancelFunc := context.WithCancel(ctx)
	defer cancelFunc()

	app.logger.Info(ctx, "Starting app...")

	app.initSignalHandler(cancelFunc)

	var wg sync.WaitGroup

	wg.Add(1)
	go func() {
		defer wg.Done()
		app.startHTTPServer(ctx, cancelFunc)
	}()

	if app.config.EndpointAddrGRPC != "" {
		wg.Add(1)
		go func() {
			defer wg.Done()
			app.startGRPCServer(ctx, cancelFunc)
		}()
	}

	wg.Wait()

	app.logger.Info(context.WithoutCancel(ctx), "App stopped")
	return app.Close()
}

// Close releases the session store and the action log.
func (app *App) Close() error {
	var errs []error
	for i := len(app.closers) - 1; i >= 0; i-- {
		errs = append(errs, app.closers[i].Close())
	}
	app.closers = nil
	return errors.Join(errs...)
}
