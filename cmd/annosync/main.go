package main

import (
	"context"
	"flag"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/rs/zerolog"

	"github.com/supervisely-ecosystem/annosync/internal/remote"
	"github.com/supervisely-ecosystem/annosync/internal/storage"
	"github.com/supervisely-ecosystem/annosync/internal/volsync"
)

func main() {
	serverAddress := flag.String("server", envOrDefault("ANNOSYNC_SERVER_ADDRESS", "http://127.0.0.1:8080"), "annotation server address")
	token := flag.String("token", strings.TrimSpace(os.Getenv("ANNOSYNC_API_TOKEN")), "API token")
	workdir := flag.String("workdir", strings.TrimSpace(os.Getenv("ANNOSYNC_WORK_DIR")), "working directory")
	stateDSN := flag.String("state-dsn", strings.TrimSpace(os.Getenv("ANNOSYNC_STATE_BACKEND_DSN")), "state backend DSN (file path, memory://, postgres://)")
	projectID := flag.Int64("project", intEnv("ANNOSYNC_PROJECT_ID", 0), "project id")
	volumeName := flag.String("volume", strings.TrimSpace(os.Getenv("ANNOSYNC_VOLUME")), "volume name")
	volumeID := flag.Int64("volume-id", intEnv("ANNOSYNC_VOLUME_ID", 0), "volume id")
	jobID := flag.Int64("job", intEnv("ANNOSYNC_JOB_ID", 0), "labeling job id for review progress")
	timeout := flag.Duration("timeout", durationEnv("ANNOSYNC_TIMEOUT", 60*time.Second), "per-sync timeout")
	watch := flag.Bool("watch", boolEnv("ANNOSYNC_WATCH", false), "keep running and sync on mask changes")
	debounce := flag.Duration("debounce", durationEnv("ANNOSYNC_WATCH_DEBOUNCE", 2*time.Second), "mask change debounce")
	flag.Parse()

	logger := zerolog.New(os.Stderr).With().Timestamp().Logger()

	if strings.TrimSpace(*token) == "" {
		logger.Fatal().Msg("token is required (--token or ANNOSYNC_API_TOKEN)")
	}
	if strings.TrimSpace(*workdir) == "" {
		logger.Fatal().Msg("workdir is required (--workdir or ANNOSYNC_WORK_DIR)")
	}
	if *projectID <= 0 {
		logger.Fatal().Msg("project is required (--project or ANNOSYNC_PROJECT_ID)")
	}
	if strings.TrimSpace(*volumeName) == "" {
		logger.Fatal().Msg("volume is required (--volume or ANNOSYNC_VOLUME)")
	}
	if *timeout <= 0 {
		*timeout = 60 * time.Second
	}

	rootCtx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	client := remote.NewHTTPClient(*serverAddress, *token, &http.Client{Timeout: *timeout})

	metaCtx, cancel := context.WithTimeout(rootCtx, *timeout)
	meta, err := client.ProjectMeta(metaCtx, *projectID)
	cancel()
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to load project meta")
	}

	backend, err := storage.BuildStateBackendFromDSN(*stateDSN, *workdir)
	if err != nil {
		logger.Fatal().Err(err).Str("dsn", *stateDSN).Msg("failed to build state backend")
	}

	session, err := volsync.NewSession(volsync.SessionOptions{
		Workdir: *workdir,
		Backend: backend,
		Store:   client,
		Meta:    meta,
		Logger:  &logger,
	})
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to initialize session")
	}
	if _, err := session.OpenVolume(*volumeName, *volumeID); err != nil {
		logger.Fatal().Err(err).Str("volume", *volumeName).Msg("failed to open volume")
	}

	run := func(ctx context.Context) error {
		syncCtx, cancel := context.WithTimeout(ctx, *timeout)
		defer cancel()
		if err := session.Sync(syncCtx); err != nil {
			return err
		}
		if *jobID > 0 {
			counts, err := session.ReviewCounts(syncCtx, *jobID)
			if err != nil {
				return err
			}
			logger.Info().
				Int("accepted", counts.Accepted).
				Int("rejected", counts.Rejected).
				Int("total", counts.Total).
				Msg("review progress")
		}
		return nil
	}

	if err := run(rootCtx); err != nil {
		if !*watch {
			logger.Fatal().Err(err).Msg("sync failed")
		}
		logger.Error().Err(err).Msg("initial sync failed")
	}
	if !*watch {
		logger.Info().Msg("sync completed")
		return
	}

	watcher, err := volsync.NewMaskWatcher(session.MaskDir(), *debounce, &logger)
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to watch mask directory")
	}
	defer func() { _ = watcher.Close() }()

	logger.Info().Str("dir", session.MaskDir()).Msg("watching for mask changes")
	if err := watcher.Run(rootCtx, run); err != nil && rootCtx.Err() == nil {
		logger.Fatal().Err(err).Msg("watcher stopped")
	}
	logger.Info().Msg("shutting down")
}

func envOrDefault(name, fallback string) string {
	value := strings.TrimSpace(os.Getenv(name))
	if value == "" {
		return fallback
	}
	return value
}

func intEnv(name string, fallback int64) int64 {
	raw := strings.TrimSpace(os.Getenv(name))
	if raw == "" {
		return fallback
	}
	value, err := strconv.ParseInt(raw, 10, 64)
	if err != nil {
		return fallback
	}
	return value
}

func durationEnv(name string, fallback time.Duration) time.Duration {
	raw := strings.TrimSpace(os.Getenv(name))
	if raw == "" {
		return fallback
	}
	value, err := time.ParseDuration(raw)
	if err != nil {
		return fallback
	}
	return value
}

func boolEnv(name string, fallback bool) bool {
	raw := strings.TrimSpace(os.Getenv(name))
	if raw == "" {
		return fallback
	}
	value, err := strconv.ParseBool(raw)
	if err != nil {
		return fallback
	}
	return value
}
