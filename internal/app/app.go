package app

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"slackcourier/internal/config"
	"slackcourier/internal/httpapi"
	"slackcourier/internal/logging"
	"slackcourier/internal/metrics"
	"slackcourier/internal/objstore"
	"slackcourier/internal/pipeline"
	"slackcourier/internal/query"
	"slackcourier/internal/queue"
	"slackcourier/internal/registry"
	"slackcourier/internal/render"
	"slackcourier/internal/runs"
	"slackcourier/internal/slack"
	"slackcourier/internal/storage"
	"slackcourier/internal/worker"
)

// App wires the whole delivery service: config, logging, record store, queue,
// registry, worker pool and the HTTP front door.
type App struct {
	cfgPath string

	cfgm *config.Manager
	logs *logging.Service
	log  *slog.Logger

	store   storage.Store
	metrics *metrics.Metrics
	q       *queue.MemQueue
	reg     *registry.Registry
	pool    *worker.Service
	api     *httpapi.Server

	cancel context.CancelFunc
	wg     sync.WaitGroup
}

func New(cfgPath string) (*App, error) {
	cfgm := config.NewManager(cfgPath)
	cfg, err := cfgm.Load()
	if err != nil {
		return nil, err
	}

	logSvc, baseLog := logging.New(cfg.Logging)
	log := baseLog.With(slog.String("comp", "app"))

	storeCfg, err := mapStorageConfig(cfg)
	if err != nil {
		return nil, err
	}
	store, err := storage.Open(storeCfg, baseLog.With(slog.String("comp", "storage")))
	if err != nil {
		return nil, err
	}

	m := metrics.New()

	q := queue.NewMem(queue.Config{QueueSize: cfg.Worker.QueueSize},
		baseLog.With(slog.String("comp", "queue")))
	reg := registry.New(store, q, baseLog.With(slog.String("comp", "registry")))
	tracker := runs.New(store, baseLog.With(slog.String("comp", "runs")))

	queryCfg, err := mapQueryConfig(cfg)
	if err != nil {
		return nil, err
	}
	renderCfg, err := mapRendererConfig(cfg)
	if err != nil {
		return nil, err
	}
	objCfg, err := mapObjstoreConfig(cfg)
	if err != nil {
		return nil, err
	}
	proc := pipeline.NewProcessor(
		query.NewClient(queryCfg),
		render.NewClient(renderCfg),
		objstore.NewClient(objCfg),
		baseLog.With(slog.String("comp", "pipeline")))

	slackCfg, tokenTTL, err := mapSlackConfig(cfg)
	if err != nil {
		return nil, err
	}
	slackLog := baseLog.With(slog.String("comp", "slack"))
	client := slack.NewClient(slackCfg, slackLog)
	tokens := slack.NewTokenCache(store, tokenTTL)
	deliverer := slack.NewDeliverer(client, slackLog)

	workerCfg, err := mapWorkerConfig(cfg)
	if err != nil {
		return nil, err
	}
	pool := worker.New(workerCfg, q.Deliveries(), store, tracker, proc, tokens, deliverer, m,
		baseLog.With(slog.String("comp", "worker")))

	serverCfg, err := mapServerConfig(cfg)
	if err != nil {
		return nil, err
	}
	api := httpapi.New(serverCfg, reg, store, q, m.Handler(),
		baseLog.With(slog.String("comp", "http")))

	return &App{
		cfgPath: cfgPath,
		cfgm:    cfgm,
		logs:    logSvc,
		log:     log,
		store:   store,
		metrics: m,
		q:       q,
		reg:     reg,
		pool:    pool,
		api:     api,
	}, nil
}

func (a *App) Start(ctx context.Context) error {
	runCtx, cancel := context.WithCancel(ctx)
	a.cancel = cancel

	a.cfgm.SetLogger(a.log.With(slog.String("comp", "config")))
	a.cfgm.SetValidator(validateConfig)

	a.q.Start(runCtx)
	if err := a.reg.RecoverAll(runCtx); err != nil {
		a.log.Warn("schedule recovery failed", slog.Any("err", err))
	}
	a.pool.Start(runCtx)
	if err := a.api.Start(runCtx); err != nil {
		return err
	}

	a.wg.Add(1)
	go func() {
		defer a.wg.Done()
		if err := a.cfgm.Watch(runCtx); err != nil {
			a.log.Warn("config watcher exited", slog.Any("err", err))
		}
	}()

	// hot reload fan-out: only logging applies live; everything else needs a
	// restart and says so
	sub := a.cfgm.Subscribe(8)
	a.wg.Add(1)
	go func() {
		defer a.wg.Done()
		defer a.cfgm.Unsubscribe(sub)
		for {
			select {
			case <-runCtx.Done():
				return
			case newCfg, ok := <-sub:
				if !ok {
					return
				}
				a.logs.Apply(newCfg.Logging)
				a.log.Info("logging config applied")
			}
		}
	}()

	a.log.Info("service started")
	return nil
}

func (a *App) Stop(ctx context.Context) error {
	a.api.Stop(ctx)
	a.pool.Stop(ctx)
	a.q.Stop(ctx)
	if a.cancel != nil {
		a.cancel()
	}
	a.wg.Wait()
	if err := a.store.Close(); err != nil {
		a.log.Warn("store close failed", slog.Any("err", err))
	}
	a.log.Info("service stopped")
	a.logs.Close()
	return nil
}

// ---- config mapping ----

func mapStorageConfig(cfg *config.Config) (storage.Config, error) {
	if strings.TrimSpace(cfg.Storage.Path) == "" {
		return storage.Config{}, fmt.Errorf("storage.path is required")
	}
	busy, err := config.ParseDurationField("storage.busy_timeout", cfg.Storage.BusyTimeout)
	if err != nil {
		return storage.Config{}, err
	}
	return storage.Config{Path: cfg.Storage.Path, BusyTimeout: busy}, nil
}

func mapWorkerConfig(cfg *config.Config) (worker.Config, error) {
	if cfg.Worker.Workers < 0 {
		return worker.Config{}, fmt.Errorf("worker.workers must be >= 0")
	}
	timeout, err := config.ParseDurationOrDefault("worker.default_timeout", cfg.Worker.DefaultTimeout, 2*time.Minute)
	if err != nil {
		return worker.Config{}, err
	}
	return worker.Config{Workers: cfg.Worker.Workers, DefaultTimeout: timeout}, nil
}

func mapSlackConfig(cfg *config.Config) (slack.Config, time.Duration, error) {
	send, err := config.ParseDurationOrDefault("slack.send_timeout", cfg.Slack.SendTimeout, 15*time.Second)
	if err != nil {
		return slack.Config{}, 0, err
	}
	probe, err := config.ParseDurationOrDefault("slack.probe_timeout", cfg.Slack.ProbeTimeout, 5*time.Second)
	if err != nil {
		return slack.Config{}, 0, err
	}
	ttl, err := config.ParseDurationOrDefault("slack.token_ttl", cfg.Slack.TokenTTL, 5*time.Minute)
	if err != nil {
		return slack.Config{}, 0, err
	}
	return slack.Config{
		BaseURL:      cfg.Slack.BaseURL,
		SendTimeout:  send,
		ProbeTimeout: probe,
		RatePerSec:   cfg.Slack.RatePerSec,
	}, ttl, nil
}

func mapQueryConfig(cfg *config.Config) (query.Config, error) {
	poll, err := config.ParseDurationOrDefault("query.poll_interval", cfg.Query.PollInterval, 500*time.Millisecond)
	if err != nil {
		return query.Config{}, err
	}
	maxWait, err := config.ParseDurationOrDefault("query.max_wait", cfg.Query.MaxWait, 30*time.Second)
	if err != nil {
		return query.Config{}, err
	}
	return query.Config{BaseURL: cfg.Query.BaseURL, PollInterval: poll, MaxWait: maxWait}, nil
}

func mapRendererConfig(cfg *config.Config) (render.Config, error) {
	timeout, err := config.ParseDurationOrDefault("renderer.timeout", cfg.Renderer.Timeout, 60*time.Second)
	if err != nil {
		return render.Config{}, err
	}
	return render.Config{BaseURL: cfg.Renderer.BaseURL, Timeout: timeout}, nil
}

func mapObjstoreConfig(cfg *config.Config) (objstore.Config, error) {
	timeout, err := config.ParseDurationOrDefault("objstore.timeout", cfg.Objstore.Timeout, 30*time.Second)
	if err != nil {
		return objstore.Config{}, err
	}
	return objstore.Config{
		BaseURL:       cfg.Objstore.BaseURL,
		PublicBaseURL: cfg.Objstore.PublicBaseURL,
		Bucket:        cfg.Objstore.Bucket,
		Timeout:       timeout,
	}, nil
}

func mapServerConfig(cfg *config.Config) (httpapi.Config, error) {
	read, err := config.ParseDurationOrDefault("server.read_timeout", cfg.Server.ReadTimeout, 10*time.Second)
	if err != nil {
		return httpapi.Config{}, err
	}
	write, err := config.ParseDurationOrDefault("server.write_timeout", cfg.Server.WriteTimeout, 30*time.Second)
	if err != nil {
		return httpapi.Config{}, err
	}
	return httpapi.Config{
		Addr:         cfg.Server.Addr,
		AuthSecret:   cfg.Server.AuthSecret,
		ReadTimeout:  read,
		WriteTimeout: write,
	}, nil
}

// validateConfig rejects a bad hot-reload before it is committed; the previous
// snapshot stays live.
func validateConfig(cfg *config.Config) error {
	if cfg.Worker.QueueSize < 0 {
		return fmt.Errorf("worker.queue_size must be >= 0")
	}
	if _, err := mapStorageConfig(cfg); err != nil {
		return err
	}
	if _, err := mapWorkerConfig(cfg); err != nil {
		return err
	}
	if _, _, err := mapSlackConfig(cfg); err != nil {
		return err
	}
	if _, err := mapQueryConfig(cfg); err != nil {
		return err
	}
	if _, err := mapRendererConfig(cfg); err != nil {
		return err
	}
	if _, err := mapObjstoreConfig(cfg); err != nil {
		return err
	}
	if _, err := mapServerConfig(cfg); err != nil {
		return err
	}
	return nil
}
