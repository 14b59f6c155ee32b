package main

import (
	"context"
	"fmt"
	"log"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/secfuse/secfuse/internal/adapters"
	"github.com/secfuse/secfuse/internal/adapters/asff"
	"github.com/secfuse/secfuse/internal/adapters/trivy"
	"github.com/secfuse/secfuse/internal/api"
	"github.com/secfuse/secfuse/internal/config"
	"github.com/secfuse/secfuse/internal/correlate"
	"github.com/secfuse/secfuse/internal/dedup"
	"github.com/secfuse/secfuse/internal/events"
	"github.com/secfuse/secfuse/internal/graph"
	"github.com/secfuse/secfuse/internal/identity"
	"github.com/secfuse/secfuse/internal/models"
	"github.com/secfuse/secfuse/internal/notifications"
	"github.com/secfuse/secfuse/internal/queue"
	"github.com/secfuse/secfuse/internal/scheduler"
	"github.com/secfuse/secfuse/internal/sources/securityhub"
	"github.com/secfuse/secfuse/internal/store"
)

func main() {
	configPath := os.Getenv("CONFIG_PATH")
	if configPath == "" {
		configPath = "config.yaml"
	}

	cfg, err := config.Load(configPath)
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}

	logger := slog.New(slog.NewJSONHandler(os.Stdout, nil))
	slog.SetDefault(logger)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sigCh
		logger.Info("shutting down")
		cancel()
	}()

	bus := events.NewBus(logger)

	policy := dedup.Policy{PreferRuntime: cfg.Dedup.RuntimeWins()}
	st, err := store.New(store.Config{
		DSN:          cfg.Database.DSN(),
		MaxOpenConns: cfg.Database.MaxOpenConns,
		MaxIdleConns: cfg.Database.MaxIdleConns,
	}, bus, policy)
	if err != nil {
		log.Fatalf("Failed to open store: %v", err)
	}
	defer st.Close()

	if err := st.Migrate(ctx); err != nil {
		log.Fatalf("Failed to run migrations: %v", err)
	}

	q, err := queue.New(queue.Config{
		Addr:     cfg.Redis.Addr(),
		Password: cfg.Redis.Password,
		DB:       cfg.Redis.DB,
	})
	if err != nil {
		log.Fatalf("Failed to connect to queue: %v", err)
	}
	defer q.Close()

	registry := adapters.NewRegistry(trivy.New(), asff.New())
	resolver := identity.NewResolver()

	notifier := notifications.NewService(notificationConfig(cfg), logger)

	engine := correlate.NewEngine(st, correlate.Rules{
		SameResource:   true,
		SamePrincipal:  true,
		TemporalWindow: cfg.Correlation.TemporalWindow,
	}, cfg.Correlation.RecentWindow, logger)

	server, err := api.NewServer(cfg, api.Deps{
		Store:    st,
		Queue:    q,
		Registry: registry,
		Notifier: notifier,
	}, api.WithLogger(logger), api.WithCorrelator(engine.Recompute))
	if err != nil {
		log.Fatalf("Failed to create server: %v", err)
	}

	var g *graph.Graph
	if cfg.Neo4j.Enabled {
		g, err = graph.New(graph.Config{
			URI:      cfg.Neo4j.URI,
			Username: cfg.Neo4j.User,
			Password: cfg.Neo4j.Password,
		})
		if err != nil {
			log.Fatalf("Failed to connect to graph: %v", err)
		}
		defer g.Close(ctx)
	}

	handlers := scheduler.DefaultHandlers{
		CorrelateFunc: engine.Recompute,
		ArchiveFunc: func(ctx context.Context, olderThan time.Duration) error {
			n, err := st.ArchiveResolved(ctx, olderThan)
			if err != nil {
				return err
			}
			logger.Info("archived resolved findings", "count", n)
			return nil
		},
		DigestFunc: func(ctx context.Context, _ map[string]string) error {
			stats, err := digestStats(ctx, st)
			if err != nil {
				return err
			}
			return notifier.NotifyDailyDigest(ctx, stats)
		},
		ReloadRulesFunc: server.RulesEngine().LoadRules,
	}
	if g != nil {
		handlers.SyncGraphFunc = func(ctx context.Context) error {
			return g.Sync(ctx, st, cfg.Correlation.RecentWindow)
		}
	}
	handlers.Register(server.Scheduler())

	defaults := []*scheduler.Job{
		{
			Name:        "correlate-recent",
			Description: "Recompute finding groups over the recent window",
			Schedule:    cfg.Correlation.Schedule,
			JobType:     scheduler.JobTypeCorrelateRecent,
			Enabled:     true,
		},
		{
			Name:        "archive-resolved",
			Description: "Archive resolved findings past retention",
			Schedule:    cfg.Archive.Schedule,
			JobType:     scheduler.JobTypeArchiveResolved,
			Config:      map[string]string{"retention_days": fmt.Sprintf("%d", cfg.Archive.RetentionDays)},
			Enabled:     true,
		},
		{
			Name:        "daily-digest",
			Description: "Send the daily findings digest",
			Schedule:    "0 8 * * *",
			JobType:     scheduler.JobTypeDailyDigest,
			Enabled:     cfg.Notifications.Slack.Enabled || cfg.Notifications.Email.Enabled,
		},
		{
			Name:        "reload-rules",
			Description: "Reload automation rules from the database",
			Schedule:    "*/5 * * * *",
			JobType:     scheduler.JobTypeReloadRules,
			Enabled:     true,
		},
	}
	if g != nil {
		defaults = append(defaults, &scheduler.Job{
			Name:        "sync-graph",
			Description: "Project recent findings and groups into the graph",
			Schedule:    "*/30 * * * *",
			JobType:     scheduler.JobTypeSyncGraph,
			Enabled:     true,
		})
	}
	if err := server.Scheduler().EnsureDefaults(ctx, defaults); err != nil {
		logger.Warn("failed to seed default jobs", "error", err)
	}

	bus.Subscribe(func(event models.Event) {
		ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
		defer cancel()
		switch event.Type {
		case models.EventFindingCreated:
			if event.After != nil {
				if err := notifier.NotifyFinding(ctx, event.After); err != nil {
					logger.Warn("finding notification failed", "error", err)
				}
			}
		case models.EventFindingReopened:
			if event.After != nil {
				if err := notifier.NotifyReopened(ctx, event.After); err != nil {
					logger.Warn("reopen notification failed", "error", err)
				}
			}
		}
	})

	workers := make([]*queue.Worker, 0, cfg.Ingest.Workers)
	for i := 0; i < cfg.Ingest.Workers; i++ {
		w := queue.NewWorker(queue.WorkerConfig{
			Queue:    q,
			Registry: registry,
			Resolver: resolver,
			Store:    st,
			Rules:    server.RulesEngine(),
			Logger:   logger,
		})
		if err := w.Start(ctx); err != nil {
			log.Fatalf("Failed to start worker: %v", err)
		}
		workers = append(workers, w)
	}
	defer func() {
		for _, w := range workers {
			w.Stop()
		}
	}()

	if cfg.SecurityHub.Enabled {
		poller, err := securityhub.New(ctx, securityhub.Config{
			Region:       cfg.SecurityHub.Region,
			PollInterval: cfg.SecurityHub.PollInterval,
			Lookback:     cfg.SecurityHub.Lookback,
		}, q, logger)
		if err != nil {
			log.Fatalf("Failed to start Security Hub poller: %v", err)
		}
		go poller.Run(ctx)
	}

	logger.Info("starting server", "host", cfg.Server.Host, "port", cfg.Server.Port)
	if err := server.Run(ctx); err != nil {
		log.Fatalf("Server failed: %v", err)
	}
}

func notificationConfig(cfg *config.Config) notifications.Config {
	minSev := models.ParseSeverity(cfg.Notifications.MinSeverity)
	return notifications.Config{
		Slack: notifications.SlackConfig{
			Enabled:     cfg.Notifications.Slack.Enabled,
			WebhookURL:  cfg.Notifications.Slack.WebhookURL,
			Channel:     cfg.Notifications.Slack.Channel,
			Username:    "secfuse",
			MinSeverity: minSev,
		},
		Email: notifications.EmailConfig{
			Enabled:     cfg.Notifications.Email.Enabled,
			SMTPHost:    cfg.Notifications.Email.SMTPHost,
			SMTPPort:    cfg.Notifications.Email.SMTPPort,
			Username:    cfg.Notifications.Email.Username,
			Password:    cfg.Notifications.Email.Password,
			From:        cfg.Notifications.Email.From,
			To:          cfg.Notifications.Email.To,
			MinSeverity: minSev,
		},
		Channels: cfg.Notifications.Channels,
	}
}

// digestStats summarizes the last 24 hours of lifecycle events plus the
// current open critical/high counts for the daily digest.
func digestStats(ctx context.Context, st *store.Store) (notifications.DigestStats, error) {
	since := time.Now().UTC().Add(-24 * time.Hour)

	counts, err := st.EventCounts(ctx, since)
	if err != nil {
		return notifications.DigestStats{}, err
	}

	byState, err := st.Stats(ctx)
	if err != nil {
		return notifications.DigestStats{}, err
	}

	groups, err := st.ListGroups(ctx)
	if err != nil {
		return notifications.DigestStats{}, err
	}

	stats := notifications.DigestStats{
		Period:           "24h",
		NewFindings:      counts[models.EventFindingCreated],
		ReopenedFindings: counts[models.EventFindingReopened],
		Groups:           len(groups),
	}
	for severity, states := range byState {
		for state, n := range states {
			if state == string(models.WorkflowResolved) {
				stats.ResolvedFindings += n
				continue
			}
			switch severity {
			case models.SeverityCritical.String():
				stats.CriticalFindings += n
			case models.SeverityHigh.String():
				stats.HighFindings += n
			}
		}
	}
	return stats, nil
}
