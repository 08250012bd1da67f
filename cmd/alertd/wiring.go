package main

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/rs/zerolog"

	metricsource "hostalerts"
	"hostalerts/internal/bus"
	"hostalerts/internal/channels"
	"hostalerts/internal/config"
	"hostalerts/internal/cooldown"
	"hostalerts/internal/dispatch"
	"hostalerts/internal/evaluator"
	"hostalerts/internal/logger"
	"hostalerts/internal/outbox"
	"hostalerts/internal/rules"
	"hostalerts/internal/storage"
	"hostalerts/internal/sweep"
)

type ruleSource interface {
	EnabledRules(ctx context.Context) ([]rules.AlertRule, error)
	GetRule(ctx context.Context, id string) (rules.AlertRule, error)
}

// app holds everything the daemon and the one-shot modes need.
type app struct {
	cfg *config.Config

	outbox    outbox.Store
	rules     ruleSource
	reader    metricsource.Reader
	sweep     *sweep.Coordinator
	dispatch  *dispatch.Dispatcher
	requeue   *dispatch.Requeuer
	watchRule func(ctx context.Context) error
	health    func(ctx context.Context) error

	closers []func()
}

func (a *app) Close() {
	for i := len(a.closers) - 1; i >= 0; i-- {
		a.closers[i]()
	}
}

func buildApp(ctx context.Context, cfg *config.Config) (*app, error) {
	a := &app{cfg: cfg}
	log := logger.WithComponent("alertd")

	var tenant channels.Channel
	switch cfg.Storage.Driver {
	case "postgres":
		store, err := storage.NewStore(ctx, cfg.Database.URL)
		if err != nil {
			return nil, fmt.Errorf("connect database: %w", err)
		}
		a.closers = append(a.closers, store.Close)
		repo := storage.NewRepository(store)
		a.outbox = storage.NewOutboxStore(store)
		a.rules = repo
		a.health = store.Ping
		tenant = channels.NewInApp(repo)
		if cfg.Rules.File != "" {
			if err := seedRules(ctx, repo, cfg.Rules.File); err != nil {
				a.Close()
				return nil, err
			}
			if cfg.Rules.Watch {
				a.watchRule = func(ctx context.Context) error {
					return rules.Watch(ctx, cfg.Rules.File, func(all []rules.AlertRule) {
						res, err := repo.SyncRules(ctx, all)
						if err != nil {
							log.Error().Err(err).Msg("sync reloaded rules failed")
							return
						}
						log.Info().Int("written", res.Written).Int("disabled", res.Disabled).Msg("reloaded rules synced")
					})
				}
			}
		}
	case "memory":
		registry, err := rules.NewFileRegistry(cfg.Rules.File)
		if err != nil {
			return nil, fmt.Errorf("load rules: %w", err)
		}
		a.outbox = outbox.NewMemoryStore()
		a.rules = registry
		tenant = channels.NewLogChannel("in_app")
		if cfg.Rules.Watch {
			a.watchRule = registry.Watch
		}
		log.Warn().Msg("memory storage: outbox is lost on restart")
	default:
		return nil, fmt.Errorf("unsupported storage driver %q", cfg.Storage.Driver)
	}

	ms := cfg.MetricsSource
	reader, err := metricsource.NewReader(metricsource.ConnectionConfig{
		Type:     ms.Type,
		Host:     ms.Host,
		Port:     ms.Port,
		User:     ms.User,
		Password: ms.Password,
		Database: ms.Database,
		SSLMode:  ms.SSLMode,
		Tables: metricsource.Tables{
			Entities:    ms.EntitiesTable,
			Competitors: ms.CompetitorsTable,
			Points:      ms.PointsTable,
		},
	})
	if err != nil {
		a.Close()
		return nil, fmt.Errorf("open metric source: %w", err)
	}
	a.reader = reader
	a.closers = append(a.closers, func() { _ = reader.Close() })
	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := reader.TestConnection(pingCtx); err != nil {
		log.Warn().Err(err).Str("type", ms.Type).Msg("metric source unreachable, rules will fail until it recovers")
	}

	broadcast, err := buildBroadcast(cfg.Broadcast, log)
	if err != nil {
		a.Close()
		return nil, err
	}
	if broadcast != nil {
		a.closers = append(a.closers, func() { _ = broadcast.Publisher.Close() })
	}

	guard := cooldown.NewGuard(a.outbox, cfg.Sweep.SuppressPending)
	a.sweep = sweep.NewCoordinator(a.rules, guard, evaluator.NewDefaultRegistry(reader), a.outbox, sweep.Options{
		RuleDelay:   cfg.Sweep.RuleDelay,
		EvalTimeout: cfg.Sweep.EvalTimeout,
	})

	var broadcastChannel channels.Channel
	if broadcast != nil {
		broadcastChannel = broadcast
	}
	a.dispatch = dispatch.NewDispatcher(a.outbox, tenant, broadcastChannel, dispatch.Options{
		BatchSize:   cfg.Dispatch.BatchSize,
		EntryDelay:  cfg.Dispatch.EntryDelay,
		SendTimeout: cfg.Dispatch.SendTimeout,
	})
	a.requeue = dispatch.NewRequeuer(a.outbox, dispatch.RequeueOptions{
		MaxAttempts: cfg.Dispatch.MaxAttempts,
		BaseDelay:   cfg.Dispatch.BaseBackoff,
		MaxDelay:    cfg.Dispatch.MaxBackoff,
		ClaimTTL:    cfg.Dispatch.ClaimTTL,
	})
	return a, nil
}

func seedRules(ctx context.Context, repo *storage.Repository, path string) error {
	loaded, err := rules.LoadFile(path)
	if err != nil {
		return fmt.Errorf("load rules: %w", err)
	}
	if _, err := repo.SyncRules(ctx, loaded); err != nil {
		return fmt.Errorf("sync rules: %w", err)
	}
	return nil
}

// buildBroadcast returns nil when no transport is configured.
func buildBroadcast(cfg config.BroadcastConfig, log zerolog.Logger) (*channels.Broadcast, error) {
	var pub channels.Publisher
	switch strings.ToLower(cfg.Transport) {
	case "", "none":
		log.Warn().
			Int("max_priority", int(dispatch.BroadcastMaxPriority)).
			Msg("broadcast transport is none: high and medium priority alerts reach tenants only")
		return nil, nil
	case "nats":
		p, err := bus.NewNATSPublisher(cfg.NATSURL, cfg.SubjectPrefix)
		if err != nil {
			return nil, fmt.Errorf("connect nats: %w", err)
		}
		pub = p
	case "kafka":
		p, err := bus.NewKafkaPublisher(bus.KafkaConfig{Brokers: cfg.KafkaBrokers, Topic: cfg.KafkaTopic})
		if err != nil {
			return nil, fmt.Errorf("kafka publisher: %w", err)
		}
		pub = p
	case "webhook":
		pub = channels.NewWebhookPublisher(cfg.WebhookURL, 0)
	default:
		return nil, fmt.Errorf("unsupported broadcast transport %q", cfg.Transport)
	}
	return channels.NewBroadcast(cfg.Operators, pub, channels.BreakerSettings{
		ConsecutiveFailures: cfg.BreakerFailures,
		Timeout:             cfg.BreakerTimeout,
	}), nil
}
