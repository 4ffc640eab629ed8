package app

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/dwizi/lurker/internal/audit"
	"github.com/dwizi/lurker/internal/config"
	"github.com/dwizi/lurker/internal/connectors"
	"github.com/dwizi/lurker/internal/connectors/bridge"
	"github.com/dwizi/lurker/internal/connectors/webhook"
	"github.com/dwizi/lurker/internal/dispatch"
	"github.com/dwizi/lurker/internal/fatigue"
	"github.com/dwizi/lurker/internal/focus"
	"github.com/dwizi/lurker/internal/grouplist"
	"github.com/dwizi/lurker/internal/heartbeat"
	"github.com/dwizi/lurker/internal/httpapi"
	"github.com/dwizi/lurker/internal/impression"
	"github.com/dwizi/lurker/internal/interaction"
	"github.com/dwizi/lurker/internal/interest"
	"github.com/dwizi/lurker/internal/mcp"
	"github.com/dwizi/lurker/internal/metrics"
	"github.com/dwizi/lurker/internal/mode"
	"github.com/dwizi/lurker/internal/scheduler"
	"github.com/dwizi/lurker/internal/state"
	"github.com/dwizi/lurker/internal/store"
	"github.com/dwizi/lurker/internal/watcher"
	"github.com/dwizi/lurker/internal/willingness"
)

const (
	auditQueueSize          = 1024
	heartbeatMonitorEvery   = 15 * time.Second
	webhookTimeout          = 10 * time.Second
	webhookRetries          = 3
	sweepJobName            = "sweep"
	auditPurgeJobName       = "audit-purge"
	impressionJobName       = "impression-health"
	impressionSchedule      = "@every 30s"
	impressionCheckTimeout  = 2 * time.Second
	impressionComponent     = "impressions"
	readyComponentDispatch  = "dispatch"
	readyComponentAuditSink = "audit"
)

func New(cfg config.Config, logger *slog.Logger, version string) (*Runtime, error) {
	if logger == nil {
		logger = slog.Default()
	}
	if err := os.MkdirAll(filepath.Dir(cfg.DBPath), 0o755); err != nil {
		return nil, fmt.Errorf("create db directory: %w", err)
	}

	sqlStore, err := store.New(cfg.DBPath)
	if err != nil {
		return nil, err
	}
	if err := sqlStore.AutoMigrate(context.Background()); err != nil {
		sqlStore.Close()
		return nil, err
	}

	runtime := &Runtime{
		cfg:       cfg,
		logger:    logger,
		store:     sqlStore,
		heartbeat: heartbeat.NewRegistry(),
		metrics:   metrics.New(),
	}
	if err := runtime.bootstrap(version); err != nil {
		runtime.Close()
		return nil, err
	}
	return runtime, nil
}

func (r *Runtime) bootstrap(version string) error {
	cfg := r.cfg
	logger := r.logger

	impressions, err := impression.New(impression.Config{
		Enabled:       cfg.EnableMemoryIntegration,
		Backend:       cfg.ImpressionBackend,
		URL:           cfg.ImpressionURL,
		RedisAddr:     cfg.RedisAddr,
		RedisPassword: cfg.RedisPassword,
		RedisDB:       cfg.RedisDB,
		Timeout:       cfg.ImpressionTimeout,
	}, logger)
	if err != nil {
		return err
	}
	if closer, ok := impressions.(io.Closer); ok {
		r.closers = append(r.closers, closer)
	}
	r.impressions = impressions

	groups, err := grouplist.New(cfg.GroupListMode, cfg.GroupListFile, logger)
	if err != nil {
		return err
	}
	r.groups = groups

	typing := dispatch.Typing{
		Enabled: cfg.SimulateTyping,
		Min:     cfg.TypingDelayMin,
		Max:     cfg.TypingDelayMax,
	}
	r.dispatcher = dispatch.New(dispatch.Config{
		Workers:       cfg.DispatchWorkers,
		RatePerSecond: cfg.ReplyRatePerSecond,
	}, logger)
	r.dispatcher.AddObserver(r.metrics)

	calculator := willingness.New(willingness.Config{
		BaseProbability:         cfg.BaseProbability,
		WillingnessThreshold:    cfg.WillingnessThreshold,
		MaxConsecutiveResponses: cfg.MaxConsecutiveResponses,
		MentionBonus:            cfg.MentionBonus,
		TopicBonus:              cfg.TopicBonus,
		ConsecutivePenalty:      cfg.ConsecutivePenalty,
		DecayRate:               cfg.DecayRate,
		RecoveryRate:            cfg.WillingnessRecoveryRate,
		Multiplier:              cfg.ResponseProbabilityMultiplier,
		FocusedBase:             cfg.FocusedBaseWillingness,
		HeatWeight:              cfg.HeatWeight,
		HeatSaturation:          cfg.HeatSaturation,
		ContinuityWeight:        cfg.ContinuityWeight,
		FrequencyWeight:         cfg.FrequencyWeight,
		FrequencySaturation:     cfg.FrequencySaturation,
		MemoryInfluenceWeight:   cfg.MemoryInfluenceWeight,
		EnableMemory:            cfg.EnableMemoryIntegration,
		FocusedFatigueThreshold: float64(cfg.FocusedFatigueThreshold),
	}, nil)

	modes := mode.New(mode.Config{
		FocusedChatThreshold:     cfg.FocusedChatThreshold,
		ReengageThreshold:        cfg.ReengageThreshold,
		Cooldown:                 cfg.ModeSwitchCooldown,
		FocusedSustainHeat:       cfg.FocusedSustainHeat,
		FocusedExitMessages:      cfg.FocusedExitMessages,
		FocusTimeout:             cfg.FocusTimeout,
		ObservationModeThreshold: cfg.ObservationModeThreshold,
		ObservationWindow:        cfg.ObservationWindow,
		HeatWindow:               cfg.HeatWindow,
	})

	fatigueSystem := fatigue.New(fatigue.Config{
		MaxRepliesInSession: cfg.MaxRepliesInSession,
		DecayPerSecond:      cfg.FatigueDecayRate,
		ResetInterval:       cfg.FatigueResetInterval,
		RecoveryTime:        cfg.FatigueRecoveryTime,
	})

	var tools focus.ToolSource
	var toolStatus httpapi.MCPStatusProvider
	if strings.TrimSpace(cfg.ToolServersFile) != "" {
		toolServers, err := mcp.NewManager(mcp.ManagerConfig{
			CatalogPath:     cfg.ToolServersFile,
			RefreshInterval: cfg.ToolRefreshInterval,
			Version:         version,
		}, logger)
		if err != nil {
			return err
		}
		r.toolServers = toolServers
		r.closers = append(r.closers, toolServers)
		tools = toolServers
		toolStatus = toolServers
	}

	focusManager := focus.New(focus.Config{
		AnalyzerTimeout:   cfg.AnalyzerTimeout,
		ImpressionTimeout: cfg.ImpressionTimeout,
		ToolCapabilities:  cfg.ToolCapabilities,
		Typing:            typing,
		FocusedBase:       cfg.FocusedBaseWillingness,
		HeatWindow:        cfg.HeatWindow,
		FatigueKey:        fatigue.KeyFunc(cfg.FatigueScope),
	}, focus.Dependencies{
		Calculator:  calculator,
		Impressions: impressions,
		Fatigue:     fatigueSystem,
		Sender:      r.dispatcher,
		Modes:       modes,
		Observer:    r.metrics,
		Tools:       tools,
	}, logger)

	groupStore := state.NewStore(state.Config{
		ClassicBaseline: cfg.BaseProbability,
		ContextWindow:   cfg.ContextWindow,
	})
	r.interaction = interaction.New(interaction.Config{
		BotID:                  cfg.BotID,
		InterestThreshold:      cfg.InterestThreshold,
		HeatWindow:             cfg.HeatWindow,
		FatigueScope:           cfg.FatigueScope,
		Typing:                 typing,
		GroupIdleEviction:      cfg.GroupIdleEviction,
		ConversantIdleEviction: cfg.ConversantIdleEviction,
	}, interaction.Dependencies{
		Store: groupStore,
		Interest: interest.New(interest.Config{
			KeywordWeight:  cfg.KeywordWeight,
			ContextWeight:  cfg.ContextWeight,
			SenderWeight:   cfg.SenderWeight,
			TimeWeight:     cfg.TimeWeight,
			TriggerTerms:   cfg.TriggerTerms,
			BotID:          cfg.BotID,
			BotNames:       cfg.BotNames,
			PriorityUsers:  cfg.PriorityUsers,
			HeatWindow:     cfg.HeatWindow,
			HeatSaturation: cfg.HeatSaturation,
			Location:       cfg.Location(),
		}),
		Modes:      modes,
		Calculator: calculator,
		Focus:      focusManager,
		Fatigue:    fatigueSystem,
		Sender:     r.dispatcher,
		Filter:     groups,
	}, logger)

	r.journal = audit.New(r.store, auditQueueSize, logger)
	r.interaction.AddObserver(r.metrics)
	r.interaction.AddObserver(r.journal)
	modes.OnTransition(r.metrics.ObserveTransition)
	modes.OnTransition(r.journal.ObserveTransition)
	modes.OnTransition(func(transition mode.Transition) {
		logger.Info("mode transition",
			"component", "mode",
			"group_id", transition.GroupID,
			"from", transition.From,
			"to", transition.To,
			"reason", transition.Reason,
		)
	})

	hub := bridge.NewHub(r.interaction, r.heartbeat, logger)
	r.dispatcher.Register(hub)
	r.connectors = append(r.connectors, hub)
	if strings.TrimSpace(cfg.ReplyWebhookURL) != "" {
		sender, err := webhook.New(webhook.Config{
			URL:        cfg.ReplyWebhookURL,
			Timeout:    webhookTimeout,
			MaxRetries: webhookRetries,
		}, logger)
		if err != nil {
			return err
		}
		r.dispatcher.Register(sender)
	}

	r.metrics.RegisterGauge("groups", "Groups with live interaction state.", func() float64 {
		return float64(groupStore.Len())
	})
	r.metrics.RegisterGauge("bridge_clients", "Connected bridge adapters.", func() float64 {
		return float64(hub.Clients())
	})
	r.metrics.RegisterGauge("audit_dropped", "Journal entries dropped on a full queue.", func() float64 {
		return float64(r.journal.Stats().Dropped)
	})

	if r.toolServers != nil {
		r.metrics.RegisterGauge("tool_servers_degraded", "Enabled tool servers whose last discovery failed.", func() float64 {
			return float64(r.toolServers.Summary().DegradedServers)
		})
	}

	if strings.TrimSpace(cfg.GroupListFile) != "" {
		watchService, err := watcher.New([]string{cfg.GroupListFile}, logger, groups.Reload)
		if err != nil {
			return err
		}
		r.watcher = watchService
	}

	schedulerService, err := scheduler.New(r.maintenanceJobs(), r.heartbeat, logger)
	if err != nil {
		return err
	}
	r.scheduler = schedulerService
	r.heartbeatMonitor = heartbeat.NewMonitor(r.heartbeat, heartbeat.MonitorConfig{
		Interval:   heartbeatMonitorEvery,
		StaleAfter: cfg.HeartbeatStale,
	}, logger)

	handler := httpapi.NewRouter(httpapi.Dependencies{
		Config:              cfg,
		Version:             version,
		Engine:              r.interaction,
		Journal:             r.store,
		Bridge:              hub,
		Metrics:             r.metrics.Handler(),
		MCPStatusProvider:   toolStatus,
		Logger:              logger.With("component", "api"),
		Heartbeat:           r.heartbeat,
		HeartbeatStaleAfter: cfg.HeartbeatStale,
		ReadyComponents:     []string{readyComponentDispatch, readyComponentAuditSink},
	})
	r.httpServer = &http.Server{
		Addr:              cfg.HTTPAddr,
		Handler:           handler,
		ReadHeaderTimeout: 10 * time.Second,
	}
	return nil
}

func (r *Runtime) maintenanceJobs() []scheduler.Job {
	jobs := []scheduler.Job{{
		Name:     sweepJobName,
		Schedule: r.cfg.MaintenanceSchedule,
		Run:      r.sweep,
	}}
	if r.cfg.AuditRetention > 0 {
		jobs = append(jobs, scheduler.Job{
			Name:     auditPurgeJobName,
			Schedule: r.cfg.AuditPurgeSchedule,
			Run:      r.purgeJournal,
		})
	}
	if _, disabled := r.impressions.(impression.Noop); r.impressions != nil && !disabled {
		jobs = append(jobs, scheduler.Job{
			Name:     impressionJobName,
			Schedule: impressionSchedule,
			Run:      r.checkImpressions,
		})
	}
	return jobs
}

// checkImpressions records backend reachability on the heartbeat. Lookups fall
// back to neutral either way, so a failure degrades the component without
// failing the job.
func (r *Runtime) checkImpressions(ctx context.Context) error {
	checkCtx, cancel := context.WithTimeout(ctx, impressionCheckTimeout)
	defer cancel()
	if err := impression.Health(checkCtx, r.impressions); err != nil {
		r.heartbeat.Degrade(impressionComponent, "impression backend unreachable", err)
		return nil
	}
	r.heartbeat.Beat(impressionComponent, "impression backend reachable")
	return nil
}

func (r *Runtime) sweep(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	r.interaction.Sweep(time.Now().UTC())
	return nil
}

func (r *Runtime) purgeJournal(ctx context.Context) error {
	cutoff := time.Now().UTC().Add(-r.cfg.AuditRetention)
	removed, err := r.store.PurgeBefore(ctx, cutoff)
	if err != nil {
		return fmt.Errorf("purge journal: %w", err)
	}
	if removed > 0 {
		r.logger.Info("journal purged", "component", "maintenance", "removed", removed, "cutoff", cutoff)
	}
	return nil
}

var _ connectors.Connector = (*bridge.Hub)(nil)
