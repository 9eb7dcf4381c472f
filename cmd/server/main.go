// Command server starts the media task broker HTTP server and its engines.
package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	httpserver "github.com/fairyhunter13/media-task-broker/internal/adapter/httpserver"
	"github.com/fairyhunter13/media-task-broker/internal/adapter/platform"
	"github.com/fairyhunter13/media-task-broker/internal/adapter/platform/mock"
	"github.com/fairyhunter13/media-task-broker/internal/adapter/platform/runninghub"
	"github.com/fairyhunter13/media-task-broker/internal/adapter/repo/postgres"
	"github.com/fairyhunter13/media-task-broker/internal/app"
	"github.com/fairyhunter13/media-task-broker/internal/config"
	"github.com/fairyhunter13/media-task-broker/internal/domain"
	"github.com/fairyhunter13/media-task-broker/internal/engine"
	"github.com/fairyhunter13/media-task-broker/internal/observability"
	"github.com/fairyhunter13/media-task-broker/internal/usecase"
)

func main() {
	if err := run(); err != nil {
		slog.Error("fatal", slog.Any("error", err))
		os.Exit(1)
	}
}

func run() error {
	cfg, err := config.Load()
	if err != nil {
		return err
	}

	logger := observability.SetupLogger(cfg)
	slog.SetDefault(logger)
	observability.InitMetrics()

	shutdownTracer, err := observability.SetupTracing(cfg)
	if err != nil {
		slog.Error("failed to setup tracing", slog.Any("error", err))
	}
	defer func() {
		if shutdownTracer != nil {
			_ = shutdownTracer(context.Background())
		}
	}()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	pool, err := postgres.NewPool(ctx, cfg.DBURL)
	if err != nil {
		return fmt.Errorf("db connect: %w", err)
	}
	defer pool.Close()
	if err := postgres.Migrate(pool); err != nil {
		return fmt.Errorf("db migrate: %w", err)
	}

	missionRepo := postgres.NewMissionRepo(pool)
	itemRepo := postgres.NewItemRepo(pool)
	templateRepo := postgres.NewTemplateRepo(pool)
	mediaRepo := postgres.NewMediaRepo(pool)

	manager := platform.NewManager(itemRepo)
	uploader, err := buildPlatforms(cfg, manager)
	if err != nil {
		return err
	}

	engines := map[domain.EngineTrack]*engine.Engine{
		domain.TrackAPI: engine.New(engine.Config{
			Track:         domain.TrackAPI,
			MaxConcurrent: cfg.MaxConcurrentAPI,
			MaxRetry:      cfg.MaxRetry,
			BaseDelay:     cfg.BaseRetryDelay,
			MaxDelay:      cfg.MaxRetryDelay,
			PollInterval:  cfg.PollInterval,
		}, missionRepo, itemRepo, manager, logger),
		domain.TrackApp: engine.New(engine.Config{
			Track:         domain.TrackApp,
			MaxConcurrent: cfg.MaxConcurrentApp,
			MaxRetry:      cfg.MaxRetry,
			BaseDelay:     cfg.BaseRetryDelay,
			MaxDelay:      cfg.MaxRetryDelay,
			PollInterval:  cfg.PollInterval,
		}, missionRepo, itemRepo, manager, logger),
	}
	for _, eng := range engines {
		eng.Start(ctx)
	}

	checker := engine.NewRetryChecker(missionRepo, itemRepo, engines, cfg.RetryCheckInterval, logger)
	go checker.Run(ctx)
	scheduler := engine.NewScheduler(missionRepo, engines, cfg.SchedulerCheckInterval, cfg.ScheduledGracePeriod, logger)
	go scheduler.Run(ctx)

	facadeEngines := make(map[domain.EngineTrack]usecase.TaskEngine, len(engines))
	for track, eng := range engines {
		facadeEngines[track] = eng
	}
	missionSvc := usecase.NewMissionService(missionRepo, itemRepo, facadeEngines)
	mediaSvc := usecase.NewMediaService(mediaRepo, uploader, cfg.UploadDir, cfg.MaxUploadMB<<20)
	templateSvc := usecase.NewTemplateService(templateRepo)

	srv := httpserver.NewServer(cfg, missionSvc, mediaSvc, templateSvc, app.BuildDBCheck(pool))
	handler := app.BuildRouter(cfg, srv)

	srvHTTP := &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.Port),
		Handler:           handler,
		ReadTimeout:       cfg.HTTPReadTimeout,
		WriteTimeout:      cfg.HTTPWriteTimeout,
		IdleTimeout:       cfg.HTTPIdleTimeout,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		slog.Info("http server starting", slog.Int("port", cfg.Port))
		errCh <- srvHTTP.ListenAndServe()
	}()

	select {
	case <-ctx.Done():
		slog.Info("shutdown signal received")
	case err := <-errCh:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			stop()
			return fmt.Errorf("server error: %w", err)
		}
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ServerShutdownTimeout)
	defer cancel()
	_ = srvHTTP.Shutdown(shutdownCtx)

	stop()
	for _, eng := range engines {
		eng.Wait()
	}
	slog.Info("shutdown complete")
	return nil
}

// buildPlatforms registers adapters from the YAML catalog, or three mock
// platforms in mock mode, and returns the media uploader to use.
func buildPlatforms(cfg config.Config, manager *platform.Manager) (domain.MediaUploader, error) {
	if cfg.UseMock {
		mocks := []struct {
			id    string
			delay time.Duration
			rate  float64
		}{
			{"mock_runninghub", 3 * time.Second, 0},
			{"mock_midjourney", 5 * time.Second, 0.1},
			{"mock_stable_diffusion", 2 * time.Second, 0},
		}
		for i, m := range mocks {
			a, err := mock.New(mock.Options{
				PlatformID:  m.id,
				Delay:       m.delay,
				FailureRate: m.rate,
				StatePath:   mockStatePath(cfg.MockStatePath, m.id),
			})
			if err != nil {
				return nil, fmt.Errorf("mock platform %s: %w", m.id, err)
			}
			manager.Register(a, i+1)
		}
		slog.Info("mock platforms registered", slog.Int("count", len(mocks)))
		return mock.Uploader{}, nil
	}

	cat, err := config.LoadPlatformCatalog(cfg.PlatformCatalog)
	if err != nil {
		return nil, err
	}
	var uploader domain.MediaUploader
	registered := 0
	for _, p := range cat.Platforms {
		if !p.Enabled {
			continue
		}
		a := runninghub.New(p.ID, p.BaseURL, p.APIKey)
		manager.Register(a, p.Priority)
		if uploader == nil {
			uploader = a
		}
		registered++
	}
	if registered == 0 {
		// No catalog entries: fall back to the RunningHub settings.
		a := runninghub.New("runninghub", cfg.RunningHubBaseURL, cfg.RunningHubAPIKey)
		manager.Register(a, 1)
		uploader = a
		registered = 1
	}
	slog.Info("platforms registered", slog.Int("count", registered))
	return uploader, nil
}

// mockStatePath gives each mock platform its own state file.
func mockStatePath(base, platformID string) string {
	if base == "" {
		return ""
	}
	ext := filepath.Ext(base)
	return strings.TrimSuffix(base, ext) + "_" + platformID + ext
}
