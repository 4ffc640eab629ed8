package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

const envPrefix = "LURKER_"

type Config struct {
	Environment string
	HTTPAddr    string
	DataDir     string
	DBPath      string
	ConfigFile  string

	// Classic willingness.
	BaseProbability               float64
	WillingnessThreshold          float64
	MaxConsecutiveResponses       int
	MentionBonus                  float64
	TopicBonus                    float64
	ConsecutivePenalty            float64
	DecayRate                     float64
	WillingnessRecoveryRate       float64
	ResponseProbabilityMultiplier float64

	// Mode controller.
	FocusedChatThreshold     float64
	ReengageThreshold        float64
	ModeSwitchCooldown       time.Duration
	FocusedSustainHeat       float64
	FocusedExitMessages      int
	FocusTimeout             time.Duration
	ObservationModeThreshold float64
	ObservationWindow        time.Duration
	HeatWindow               time.Duration
	HeatSaturation           float64

	// Focused willingness.
	FocusedBaseWillingness  float64
	HeatWeight              float64
	ContinuityWeight        float64
	FrequencyWeight         float64
	FrequencySaturation     float64
	FocusedFatigueThreshold int

	// Interest gate.
	InterestThreshold float64
	KeywordWeight     float64
	ContextWeight     float64
	SenderWeight      float64
	TimeWeight        float64
	ContextWindow     int
	TriggerTerms      []string
	BotID             string
	BotNames          []string
	PriorityUsers     []string
	Timezone          string

	// Fatigue.
	MaxRepliesInSession  int
	FatigueDecayRate     float64
	FatigueResetInterval time.Duration
	FatigueRecoveryTime  time.Duration
	FatigueScope         string

	// Impression and focused analyzers.
	MemoryInfluenceWeight   float64
	EnableMemoryIntegration bool
	ImpressionBackend       string
	ImpressionURL           string
	ImpressionTimeout       time.Duration
	RedisAddr               string
	RedisPassword           string
	RedisDB                 int
	AnalyzerTimeout         time.Duration
	ToolCapabilities        []string
	ToolServersFile         string
	ToolRefreshInterval     time.Duration

	// Reply dispatch.
	SimulateTyping     bool
	TypingDelayMin     time.Duration
	TypingDelayMax     time.Duration
	ReplyWebhookURL    string
	ReplyRatePerSecond float64
	DispatchWorkers    int

	// Lifecycle and maintenance.
	GroupListMode          string
	GroupListFile          string
	GroupIdleEviction      time.Duration
	ConversantIdleEviction time.Duration
	MaintenanceSchedule    string
	AuditRetention         time.Duration
	AuditPurgeSchedule     string
	HeartbeatStale         time.Duration

	AdminAPIURL string
}

// ConfigurationError reports an option that failed to parse or validate.
type ConfigurationError struct {
	Field  string
	Reason string
}

func (e *ConfigurationError) Error() string {
	return fmt.Sprintf("config %s: %s", e.Field, e.Reason)
}

func Defaults() Config {
	dataDir := "/data"
	return Config{
		Environment: "development",
		HTTPAddr:    ":8080",
		DataDir:     dataDir,
		DBPath:      filepath.Join(dataDir, "lurker", "journal.sqlite"),

		BaseProbability:               0.3,
		WillingnessThreshold:          0.2,
		MaxConsecutiveResponses:       3,
		MentionBonus:                  0.4,
		TopicBonus:                    0.5,
		ConsecutivePenalty:            0.15,
		DecayRate:                     0.7,
		WillingnessRecoveryRate:       0.8,
		ResponseProbabilityMultiplier: 1.0,

		FocusedChatThreshold:     0.7,
		ReengageThreshold:        0.4,
		ModeSwitchCooldown:       30 * time.Second,
		FocusedSustainHeat:       1.0,
		FocusedExitMessages:      3,
		FocusTimeout:             5 * time.Minute,
		ObservationModeThreshold: 0.4,
		ObservationWindow:        5 * time.Minute,
		HeatWindow:               5 * time.Minute,
		HeatSaturation:           5.0,

		FocusedBaseWillingness:  0.4,
		HeatWeight:              0.3,
		ContinuityWeight:        0.5,
		FrequencyWeight:         0.2,
		FrequencySaturation:     2.0,
		FocusedFatigueThreshold: 5,

		InterestThreshold: 0.5,
		KeywordWeight:     0.4,
		ContextWeight:     0.3,
		SenderWeight:      0.2,
		TimeWeight:        0.1,
		ContextWindow:     10,
		Timezone:          "UTC",

		MaxRepliesInSession:  10,
		FatigueDecayRate:     1.0 / 60.0,
		FatigueResetInterval: 6 * time.Hour,
		FatigueRecoveryTime:  5 * time.Minute,
		FatigueScope:         "group",

		MemoryInfluenceWeight: 0.3,
		ImpressionBackend:     "none",
		ImpressionTimeout:     500 * time.Millisecond,
		AnalyzerTimeout:       800 * time.Millisecond,
		ToolRefreshInterval:   2 * time.Minute,

		SimulateTyping:     true,
		TypingDelayMin:     time.Second,
		TypingDelayMax:     3 * time.Second,
		ReplyRatePerSecond: 5,
		DispatchWorkers:    4,

		GroupListMode:          "off",
		GroupIdleEviction:      time.Hour,
		ConversantIdleEviction: 30 * time.Minute,
		MaintenanceSchedule:    "@every 1m",
		AuditRetention:         7 * 24 * time.Hour,
		AuditPurgeSchedule:     "@hourly",
		HeartbeatStale:         time.Minute,

		AdminAPIURL: "http://127.0.0.1:8080",
	}
}

// FromEnv reads defaults plus LURKER_* overrides without validation. Client
// commands use it to locate the admin API.
func FromEnv() Config {
	cfg := Defaults()
	newLoader(&cfg).applyEnv()
	return cfg
}

// Load builds the runtime configuration: optional .env, defaults, optional
// YAML file, environment overrides, then validation.
func Load() (Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		return Config{}, fmt.Errorf("load .env: %w", err)
	}
	cfg := Defaults()
	loader := newLoader(&cfg)

	configFile := strings.TrimSpace(os.Getenv(envPrefix + "CONFIG_FILE"))
	if configFile != "" {
		if err := applyFile(&cfg, configFile); err != nil {
			return Config{}, err
		}
		cfg.ConfigFile = configFile
	}
	loader.applyEnv()
	if len(loader.errs) > 0 {
		return Config{}, errors.Join(loader.errs...)
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

type loader struct {
	cfg  *Config
	errs []error
}

func newLoader(cfg *Config) *loader {
	return &loader{cfg: cfg}
}

func (l *loader) applyEnv() {
	cfg := l.cfg
	cfg.Environment = l.stringOrDefault("ENV", cfg.Environment)
	cfg.HTTPAddr = l.stringOrDefault("HTTP_ADDR", cfg.HTTPAddr)
	dataDir := l.stringOrDefault("DATA_DIR", cfg.DataDir)
	if dataDir != cfg.DataDir && cfg.DBPath == filepath.Join(cfg.DataDir, "lurker", "journal.sqlite") {
		cfg.DBPath = filepath.Join(dataDir, "lurker", "journal.sqlite")
	}
	cfg.DataDir = dataDir
	cfg.DBPath = l.stringOrDefault("DB_PATH", cfg.DBPath)

	cfg.BaseProbability = l.floatOrDefault("CLASSIC_BASE_WILLINGNESS", cfg.BaseProbability)
	cfg.BaseProbability = l.floatOrDefault("BASE_PROBABILITY", cfg.BaseProbability)
	cfg.WillingnessThreshold = l.floatOrDefault("WILLINGNESS_THRESHOLD", cfg.WillingnessThreshold)
	cfg.MaxConsecutiveResponses = l.intOrDefault("MAX_CONSECUTIVE_RESPONSES", cfg.MaxConsecutiveResponses)
	cfg.MentionBonus = l.floatOrDefault("MENTION_BONUS", cfg.MentionBonus)
	cfg.TopicBonus = l.floatOrDefault("TOPIC_BONUS", cfg.TopicBonus)
	cfg.ConsecutivePenalty = l.floatOrDefault("CONSECUTIVE_PENALTY", cfg.ConsecutivePenalty)
	cfg.DecayRate = l.floatOrDefault("DECAY_RATE", cfg.DecayRate)
	cfg.WillingnessRecoveryRate = l.floatOrDefault("WILLINGNESS_RECOVERY_RATE", cfg.WillingnessRecoveryRate)
	cfg.ResponseProbabilityMultiplier = l.floatOrDefault("RESPONSE_PROBABILITY_MULTIPLIER", cfg.ResponseProbabilityMultiplier)

	cfg.FocusedChatThreshold = l.floatOrDefault("FOCUSED_CHAT_THRESHOLD", cfg.FocusedChatThreshold)
	cfg.ReengageThreshold = l.floatOrDefault("REENGAGE_THRESHOLD", cfg.ReengageThreshold)
	cfg.ModeSwitchCooldown = l.durationOrDefault("MODE_SWITCH_COOLDOWN", cfg.ModeSwitchCooldown)
	cfg.FocusedSustainHeat = l.floatOrDefault("FOCUSED_SUSTAIN_HEAT", cfg.FocusedSustainHeat)
	cfg.FocusedExitMessages = l.intOrDefault("FOCUSED_EXIT_MESSAGES", cfg.FocusedExitMessages)
	cfg.FocusTimeout = l.durationOrDefault("FOCUS_TIMEOUT", cfg.FocusTimeout)
	cfg.ObservationModeThreshold = l.floatOrDefault("OBSERVATION_MODE_THRESHOLD", cfg.ObservationModeThreshold)
	cfg.ObservationWindow = l.durationOrDefault("OBSERVATION_WINDOW", cfg.ObservationWindow)
	cfg.HeatWindow = l.durationOrDefault("HEAT_WINDOW", cfg.HeatWindow)
	cfg.HeatSaturation = l.floatOrDefault("HEAT_SATURATION", cfg.HeatSaturation)

	cfg.FocusedBaseWillingness = l.floatOrDefault("FOCUSED_BASE_WILLINGNESS", cfg.FocusedBaseWillingness)
	cfg.HeatWeight = l.floatOrDefault("HEAT_WEIGHT", cfg.HeatWeight)
	cfg.ContinuityWeight = l.floatOrDefault("CONTINUITY_WEIGHT", cfg.ContinuityWeight)
	cfg.FrequencyWeight = l.floatOrDefault("FREQUENCY_WEIGHT", cfg.FrequencyWeight)
	cfg.FrequencySaturation = l.floatOrDefault("FREQUENCY_SATURATION", cfg.FrequencySaturation)
	cfg.FocusedFatigueThreshold = l.intOrDefault("FOCUSED_FATIGUE_THRESHOLD", cfg.FocusedFatigueThreshold)

	cfg.InterestThreshold = l.floatOrDefault("INTEREST_THRESHOLD", cfg.InterestThreshold)
	cfg.KeywordWeight = l.floatOrDefault("KEYWORD_WEIGHT", cfg.KeywordWeight)
	cfg.ContextWeight = l.floatOrDefault("CONTEXT_WEIGHT", cfg.ContextWeight)
	cfg.SenderWeight = l.floatOrDefault("SENDER_WEIGHT", cfg.SenderWeight)
	cfg.TimeWeight = l.floatOrDefault("TIME_WEIGHT", cfg.TimeWeight)
	cfg.ContextWindow = l.intOrDefault("CONTEXT_WINDOW", cfg.ContextWindow)
	cfg.TriggerTerms = l.listOrDefault("TRIGGER_TERMS", cfg.TriggerTerms)
	cfg.BotID = l.stringOrDefault("BOT_ID", cfg.BotID)
	cfg.BotNames = l.listOrDefault("BOT_NAMES", cfg.BotNames)
	cfg.PriorityUsers = l.listOrDefault("PRIORITY_USERS", cfg.PriorityUsers)
	cfg.Timezone = l.stringOrDefault("TIMEZONE", cfg.Timezone)

	cfg.MaxRepliesInSession = l.intOrDefault("MAX_REPLIES_IN_SESSION", cfg.MaxRepliesInSession)
	cfg.FatigueDecayRate = l.floatOrDefault("FATIGUE_DECAY_RATE", cfg.FatigueDecayRate)
	cfg.FatigueResetInterval = l.durationOrDefault("FATIGUE_RESET_INTERVAL", cfg.FatigueResetInterval)
	cfg.FatigueRecoveryTime = l.durationOrDefault("FATIGUE_RECOVERY_TIME", cfg.FatigueRecoveryTime)
	cfg.FatigueScope = strings.ToLower(l.stringOrDefault("FATIGUE_SCOPE", cfg.FatigueScope))

	cfg.MemoryInfluenceWeight = l.floatOrDefault("MEMORY_INFLUENCE_WEIGHT", cfg.MemoryInfluenceWeight)
	cfg.EnableMemoryIntegration = l.boolOrDefault("ENABLE_MEMORY_INTEGRATION", cfg.EnableMemoryIntegration)
	cfg.ImpressionBackend = strings.ToLower(l.stringOrDefault("IMPRESSION_BACKEND", cfg.ImpressionBackend))
	cfg.ImpressionURL = l.stringOrDefault("IMPRESSION_URL", cfg.ImpressionURL)
	cfg.ImpressionTimeout = l.durationOrDefault("IMPRESSION_TIMEOUT", cfg.ImpressionTimeout)
	cfg.RedisAddr = l.stringOrDefault("REDIS_ADDR", cfg.RedisAddr)
	cfg.RedisPassword = l.stringOrDefault("REDIS_PASSWORD", cfg.RedisPassword)
	cfg.RedisDB = l.intOrDefault("REDIS_DB", cfg.RedisDB)
	cfg.AnalyzerTimeout = l.durationOrDefault("ANALYZER_TIMEOUT", cfg.AnalyzerTimeout)
	cfg.ToolCapabilities = l.listOrDefault("TOOL_CAPABILITIES", cfg.ToolCapabilities)
	cfg.ToolServersFile = l.stringOrDefault("TOOL_SERVERS_FILE", cfg.ToolServersFile)
	cfg.ToolRefreshInterval = l.durationOrDefault("TOOL_REFRESH_INTERVAL", cfg.ToolRefreshInterval)

	cfg.SimulateTyping = l.boolOrDefault("SIMULATE_TYPING", cfg.SimulateTyping)
	cfg.TypingDelayMin = l.durationOrDefault("TYPING_DELAY_MIN", cfg.TypingDelayMin)
	cfg.TypingDelayMax = l.durationOrDefault("TYPING_DELAY_MAX", cfg.TypingDelayMax)
	cfg.ReplyWebhookURL = l.stringOrDefault("REPLY_WEBHOOK_URL", cfg.ReplyWebhookURL)
	cfg.ReplyRatePerSecond = l.floatOrDefault("REPLY_RATE_PER_SECOND", cfg.ReplyRatePerSecond)
	cfg.DispatchWorkers = l.intOrDefault("DISPATCH_WORKERS", cfg.DispatchWorkers)

	cfg.GroupListMode = strings.ToLower(l.stringOrDefault("GROUP_LIST_MODE", cfg.GroupListMode))
	cfg.GroupListFile = l.stringOrDefault("GROUP_LIST_FILE", cfg.GroupListFile)
	cfg.GroupIdleEviction = l.durationOrDefault("GROUP_IDLE_EVICTION", cfg.GroupIdleEviction)
	cfg.ConversantIdleEviction = l.durationOrDefault("CONVERSANT_IDLE_EVICTION", cfg.ConversantIdleEviction)
	cfg.MaintenanceSchedule = l.stringOrDefault("MAINTENANCE_SCHEDULE", cfg.MaintenanceSchedule)
	cfg.AuditRetention = l.durationOrDefault("AUDIT_RETENTION", cfg.AuditRetention)
	cfg.AuditPurgeSchedule = l.stringOrDefault("AUDIT_PURGE_SCHEDULE", cfg.AuditPurgeSchedule)
	cfg.HeartbeatStale = l.durationOrDefault("HEARTBEAT_STALE", cfg.HeartbeatStale)

	cfg.AdminAPIURL = l.stringOrDefault("ADMIN_API_URL", cfg.AdminAPIURL)
}

func (l *loader) fail(name, reason string) {
	l.errs = append(l.errs, &ConfigurationError{Field: name, Reason: reason})
}

func (l *loader) stringOrDefault(name, fallback string) string {
	value := strings.TrimSpace(os.Getenv(envPrefix + name))
	if value == "" {
		return fallback
	}
	return value
}

func (l *loader) intOrDefault(name string, fallback int) int {
	value := strings.TrimSpace(os.Getenv(envPrefix + name))
	if value == "" {
		return fallback
	}
	parsed, err := strconv.Atoi(value)
	if err != nil {
		l.fail(optionName(name), fmt.Sprintf("invalid integer %q", value))
		return fallback
	}
	return parsed
}

func (l *loader) floatOrDefault(name string, fallback float64) float64 {
	value := strings.TrimSpace(os.Getenv(envPrefix + name))
	if value == "" {
		return fallback
	}
	parsed, err := strconv.ParseFloat(value, 64)
	if err != nil {
		l.fail(optionName(name), fmt.Sprintf("invalid number %q", value))
		return fallback
	}
	return parsed
}

func (l *loader) boolOrDefault(name string, fallback bool) bool {
	value := strings.TrimSpace(strings.ToLower(os.Getenv(envPrefix + name)))
	switch value {
	case "":
		return fallback
	case "1", "true", "yes", "on":
		return true
	case "0", "false", "no", "off":
		return false
	default:
		l.fail(optionName(name), fmt.Sprintf("invalid boolean %q", value))
		return fallback
	}
}

func (l *loader) durationOrDefault(name string, fallback time.Duration) time.Duration {
	value := strings.TrimSpace(os.Getenv(envPrefix + name))
	if value == "" {
		return fallback
	}
	parsed, err := parseDuration(value)
	if err != nil {
		l.fail(optionName(name), err.Error())
		return fallback
	}
	return parsed
}

func (l *loader) listOrDefault(name string, fallback []string) []string {
	value := strings.TrimSpace(os.Getenv(envPrefix + name))
	if value == "" {
		return fallback
	}
	return parseCSVList(value)
}

// parseDuration accepts Go durations ("30s") and bare numbers as seconds.
func parseDuration(raw string) (time.Duration, error) {
	raw = strings.TrimSpace(raw)
	if seconds, err := strconv.ParseFloat(raw, 64); err == nil {
		return time.Duration(seconds * float64(time.Second)), nil
	}
	parsed, err := time.ParseDuration(raw)
	if err != nil {
		return 0, fmt.Errorf("invalid duration %q", raw)
	}
	return parsed, nil
}

func parseCSVList(raw string) []string {
	parts := strings.Split(raw, ",")
	items := make([]string, 0, len(parts))
	for _, part := range parts {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		items = append(items, part)
	}
	return items
}

func optionName(envName string) string {
	return strings.ToLower(envName)
}
