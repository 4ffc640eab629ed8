package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// fileConfig mirrors the option names of the YAML config file. Unset keys
// leave the current value untouched.
type fileConfig struct {
	BaseProbability               *float64 `yaml:"base_probability"`
	ClassicBaseWillingness        *float64 `yaml:"classic_base_willingness"`
	WillingnessThreshold          *float64 `yaml:"willingness_threshold"`
	MaxConsecutiveResponses       *int     `yaml:"max_consecutive_responses"`
	MentionBonus                  *float64 `yaml:"mention_bonus"`
	TopicBonus                    *float64 `yaml:"topic_bonus"`
	ConsecutivePenalty            *float64 `yaml:"consecutive_penalty"`
	DecayRate                     *float64 `yaml:"decay_rate"`
	WillingnessRecoveryRate       *float64 `yaml:"willingness_recovery_rate"`
	ResponseProbabilityMultiplier *float64 `yaml:"response_probability_multiplier"`

	FocusedChatThreshold     *float64 `yaml:"focused_chat_threshold"`
	ReengageThreshold        *float64 `yaml:"reengage_threshold"`
	ModeSwitchCooldown       *string  `yaml:"mode_switch_cooldown"`
	FocusedSustainHeat       *float64 `yaml:"focused_sustain_heat"`
	FocusedExitMessages      *int     `yaml:"focused_exit_messages"`
	FocusTimeout             *string  `yaml:"focus_timeout"`
	ObservationModeThreshold *float64 `yaml:"observation_mode_threshold"`
	ObservationWindow        *string  `yaml:"observation_window"`
	HeatWindow               *string  `yaml:"heat_window"`
	HeatSaturation           *float64 `yaml:"heat_saturation"`

	FocusedBaseWillingness  *float64 `yaml:"focused_base_willingness"`
	HeatWeight              *float64 `yaml:"heat_weight"`
	ContinuityWeight        *float64 `yaml:"continuity_weight"`
	FrequencyWeight         *float64 `yaml:"frequency_weight"`
	FrequencySaturation     *float64 `yaml:"frequency_saturation"`
	FocusedFatigueThreshold *int     `yaml:"focused_fatigue_threshold"`

	InterestThreshold *float64 `yaml:"interest_threshold"`
	KeywordWeight     *float64 `yaml:"keyword_weight"`
	ContextWeight     *float64 `yaml:"context_weight"`
	SenderWeight      *float64 `yaml:"sender_weight"`
	TimeWeight        *float64 `yaml:"time_weight"`
	ContextWindow     *int     `yaml:"context_window"`
	TriggerTerms      []string `yaml:"trigger_terms"`
	BotID             *string  `yaml:"bot_id"`
	BotNames          []string `yaml:"bot_names"`
	PriorityUsers     []string `yaml:"priority_users"`
	Timezone          *string  `yaml:"timezone"`

	MaxRepliesInSession  *int     `yaml:"max_replies_in_session"`
	FatigueDecayRate     *float64 `yaml:"fatigue_decay_rate"`
	FatigueResetInterval *string  `yaml:"fatigue_reset_interval"`
	FatigueRecoveryTime  *string  `yaml:"fatigue_recovery_time"`
	FatigueScope         *string  `yaml:"fatigue_scope"`

	MemoryInfluenceWeight   *float64 `yaml:"memory_influence_weight"`
	EnableMemoryIntegration *bool    `yaml:"enable_memory_integration"`
	ImpressionBackend       *string  `yaml:"impression_backend"`
	ImpressionURL           *string  `yaml:"impression_url"`
	ImpressionTimeout       *string  `yaml:"impression_timeout"`
	RedisAddr               *string  `yaml:"redis_addr"`
	RedisDB                 *int     `yaml:"redis_db"`
	AnalyzerTimeout         *string  `yaml:"analyzer_timeout"`
	ToolCapabilities        []string `yaml:"tool_capabilities"`
	ToolServersFile         *string  `yaml:"tool_servers_file"`
	ToolRefreshInterval     *string  `yaml:"tool_refresh_interval"`

	SimulateTyping     *bool    `yaml:"simulate_typing"`
	TypingDelayMin     *string  `yaml:"typing_delay_min"`
	TypingDelayMax     *string  `yaml:"typing_delay_max"`
	ReplyWebhookURL    *string  `yaml:"reply_webhook_url"`
	ReplyRatePerSecond *float64 `yaml:"reply_rate_per_second"`
	DispatchWorkers    *int     `yaml:"dispatch_workers"`

	GroupListMode          *string `yaml:"group_list_mode"`
	GroupListFile          *string `yaml:"group_list_file"`
	GroupIdleEviction      *string `yaml:"group_idle_eviction"`
	ConversantIdleEviction *string `yaml:"conversant_idle_eviction"`
	MaintenanceSchedule    *string `yaml:"maintenance_schedule"`
	AuditRetention         *string `yaml:"audit_retention"`
	AuditPurgeSchedule     *string `yaml:"audit_purge_schedule"`
}

func applyFile(cfg *Config, path string) error {
	raw, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read config file: %w", err)
	}
	var file fileConfig
	if err := yaml.Unmarshal(raw, &file); err != nil {
		return &ConfigurationError{Field: "config_file", Reason: fmt.Sprintf("parse %s: %v", path, err)}
	}

	overlay := fileOverlay{}
	setFloat(&cfg.BaseProbability, file.ClassicBaseWillingness)
	setFloat(&cfg.BaseProbability, file.BaseProbability)
	setFloat(&cfg.WillingnessThreshold, file.WillingnessThreshold)
	setInt(&cfg.MaxConsecutiveResponses, file.MaxConsecutiveResponses)
	setFloat(&cfg.MentionBonus, file.MentionBonus)
	setFloat(&cfg.TopicBonus, file.TopicBonus)
	setFloat(&cfg.ConsecutivePenalty, file.ConsecutivePenalty)
	setFloat(&cfg.DecayRate, file.DecayRate)
	setFloat(&cfg.WillingnessRecoveryRate, file.WillingnessRecoveryRate)
	setFloat(&cfg.ResponseProbabilityMultiplier, file.ResponseProbabilityMultiplier)

	setFloat(&cfg.FocusedChatThreshold, file.FocusedChatThreshold)
	setFloat(&cfg.ReengageThreshold, file.ReengageThreshold)
	overlay.duration(&cfg.ModeSwitchCooldown, "mode_switch_cooldown", file.ModeSwitchCooldown)
	setFloat(&cfg.FocusedSustainHeat, file.FocusedSustainHeat)
	setInt(&cfg.FocusedExitMessages, file.FocusedExitMessages)
	overlay.duration(&cfg.FocusTimeout, "focus_timeout", file.FocusTimeout)
	setFloat(&cfg.ObservationModeThreshold, file.ObservationModeThreshold)
	overlay.duration(&cfg.ObservationWindow, "observation_window", file.ObservationWindow)
	overlay.duration(&cfg.HeatWindow, "heat_window", file.HeatWindow)
	setFloat(&cfg.HeatSaturation, file.HeatSaturation)

	setFloat(&cfg.FocusedBaseWillingness, file.FocusedBaseWillingness)
	setFloat(&cfg.HeatWeight, file.HeatWeight)
	setFloat(&cfg.ContinuityWeight, file.ContinuityWeight)
	setFloat(&cfg.FrequencyWeight, file.FrequencyWeight)
	setFloat(&cfg.FrequencySaturation, file.FrequencySaturation)
	setInt(&cfg.FocusedFatigueThreshold, file.FocusedFatigueThreshold)

	setFloat(&cfg.InterestThreshold, file.InterestThreshold)
	setFloat(&cfg.KeywordWeight, file.KeywordWeight)
	setFloat(&cfg.ContextWeight, file.ContextWeight)
	setFloat(&cfg.SenderWeight, file.SenderWeight)
	setFloat(&cfg.TimeWeight, file.TimeWeight)
	setInt(&cfg.ContextWindow, file.ContextWindow)
	setList(&cfg.TriggerTerms, file.TriggerTerms)
	setString(&cfg.BotID, file.BotID)
	setList(&cfg.BotNames, file.BotNames)
	setList(&cfg.PriorityUsers, file.PriorityUsers)
	setString(&cfg.Timezone, file.Timezone)

	setInt(&cfg.MaxRepliesInSession, file.MaxRepliesInSession)
	setFloat(&cfg.FatigueDecayRate, file.FatigueDecayRate)
	overlay.duration(&cfg.FatigueResetInterval, "fatigue_reset_interval", file.FatigueResetInterval)
	overlay.duration(&cfg.FatigueRecoveryTime, "fatigue_recovery_time", file.FatigueRecoveryTime)
	setString(&cfg.FatigueScope, file.FatigueScope)

	setFloat(&cfg.MemoryInfluenceWeight, file.MemoryInfluenceWeight)
	setBool(&cfg.EnableMemoryIntegration, file.EnableMemoryIntegration)
	setString(&cfg.ImpressionBackend, file.ImpressionBackend)
	setString(&cfg.ImpressionURL, file.ImpressionURL)
	overlay.duration(&cfg.ImpressionTimeout, "impression_timeout", file.ImpressionTimeout)
	setString(&cfg.RedisAddr, file.RedisAddr)
	setInt(&cfg.RedisDB, file.RedisDB)
	overlay.duration(&cfg.AnalyzerTimeout, "analyzer_timeout", file.AnalyzerTimeout)
	setList(&cfg.ToolCapabilities, file.ToolCapabilities)
	setString(&cfg.ToolServersFile, file.ToolServersFile)
	overlay.duration(&cfg.ToolRefreshInterval, "tool_refresh_interval", file.ToolRefreshInterval)

	setBool(&cfg.SimulateTyping, file.SimulateTyping)
	overlay.duration(&cfg.TypingDelayMin, "typing_delay_min", file.TypingDelayMin)
	overlay.duration(&cfg.TypingDelayMax, "typing_delay_max", file.TypingDelayMax)
	setString(&cfg.ReplyWebhookURL, file.ReplyWebhookURL)
	setFloat(&cfg.ReplyRatePerSecond, file.ReplyRatePerSecond)
	setInt(&cfg.DispatchWorkers, file.DispatchWorkers)

	setString(&cfg.GroupListMode, file.GroupListMode)
	setString(&cfg.GroupListFile, file.GroupListFile)
	overlay.duration(&cfg.GroupIdleEviction, "group_idle_eviction", file.GroupIdleEviction)
	overlay.duration(&cfg.ConversantIdleEviction, "conversant_idle_eviction", file.ConversantIdleEviction)
	setString(&cfg.MaintenanceSchedule, file.MaintenanceSchedule)
	overlay.duration(&cfg.AuditRetention, "audit_retention", file.AuditRetention)
	setString(&cfg.AuditPurgeSchedule, file.AuditPurgeSchedule)

	if overlay.err != nil {
		return overlay.err
	}
	return nil
}

type fileOverlay struct {
	err error
}

func (o *fileOverlay) duration(target *time.Duration, name string, value *string) {
	if value == nil || o.err != nil {
		return
	}
	parsed, err := parseDuration(*value)
	if err != nil {
		o.err = &ConfigurationError{Field: name, Reason: err.Error()}
		return
	}
	*target = parsed
}

func setFloat(target *float64, value *float64) {
	if value != nil {
		*target = *value
	}
}

func setInt(target *int, value *int) {
	if value != nil {
		*target = *value
	}
}

func setBool(target *bool, value *bool) {
	if value != nil {
		*target = *value
	}
}

func setString(target *string, value *string) {
	if value != nil {
		*target = *value
	}
}

func setList(target *[]string, value []string) {
	if value != nil {
		*target = value
	}
}
