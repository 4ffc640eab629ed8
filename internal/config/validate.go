package config

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

// Validate checks ranges and cross-field constraints. The returned error
// joins one *ConfigurationError per offending option.
func (c Config) Validate() error {
	var errs []error
	fail := func(field, format string, args ...any) {
		errs = append(errs, &ConfigurationError{Field: field, Reason: fmt.Sprintf(format, args...)})
	}
	unit := func(field string, value float64) {
		if value < 0 || value > 1 {
			fail(field, "must be within [0,1], got %v", value)
		}
	}
	positiveDuration := func(field string, value time.Duration) {
		if value <= 0 {
			fail(field, "must be positive, got %s", value)
		}
	}
	positiveInt := func(field string, value int) {
		if value < 1 {
			fail(field, "must be at least 1, got %d", value)
		}
	}

	unit("base_probability", c.BaseProbability)
	unit("willingness_threshold", c.WillingnessThreshold)
	unit("mention_bonus", c.MentionBonus)
	unit("topic_bonus", c.TopicBonus)
	unit("consecutive_penalty", c.ConsecutivePenalty)
	unit("willingness_recovery_rate", c.WillingnessRecoveryRate)
	if c.DecayRate <= 0 || c.DecayRate >= 1 {
		fail("decay_rate", "must be within (0,1), got %v", c.DecayRate)
	}
	if c.ResponseProbabilityMultiplier < 0 {
		fail("response_probability_multiplier", "must not be negative, got %v", c.ResponseProbabilityMultiplier)
	}
	positiveInt("max_consecutive_responses", c.MaxConsecutiveResponses)

	unit("focused_chat_threshold", c.FocusedChatThreshold)
	unit("reengage_threshold", c.ReengageThreshold)
	if c.ReengageThreshold >= c.FocusedChatThreshold {
		fail("reengage_threshold", "must be lower than focused_chat_threshold (%v), got %v", c.FocusedChatThreshold, c.ReengageThreshold)
	}
	if c.ModeSwitchCooldown < 0 {
		fail("mode_switch_cooldown", "must not be negative, got %s", c.ModeSwitchCooldown)
	}
	if c.FocusedSustainHeat < 0 {
		fail("focused_sustain_heat", "must not be negative, got %v", c.FocusedSustainHeat)
	}
	positiveInt("focused_exit_messages", c.FocusedExitMessages)
	positiveDuration("focus_timeout", c.FocusTimeout)
	if c.ObservationModeThreshold < 0 {
		fail("observation_mode_threshold", "must not be negative, got %v", c.ObservationModeThreshold)
	}
	positiveDuration("observation_window", c.ObservationWindow)
	positiveDuration("heat_window", c.HeatWindow)
	if c.HeatSaturation <= 0 {
		fail("heat_saturation", "must be positive, got %v", c.HeatSaturation)
	}

	unit("focused_base_willingness", c.FocusedBaseWillingness)
	unit("heat_weight", c.HeatWeight)
	unit("continuity_weight", c.ContinuityWeight)
	unit("frequency_weight", c.FrequencyWeight)
	if c.FrequencySaturation <= 0 {
		fail("frequency_saturation", "must be positive, got %v", c.FrequencySaturation)
	}
	positiveInt("focused_fatigue_threshold", c.FocusedFatigueThreshold)

	unit("interest_threshold", c.InterestThreshold)
	unit("keyword_weight", c.KeywordWeight)
	unit("context_weight", c.ContextWeight)
	unit("sender_weight", c.SenderWeight)
	unit("time_weight", c.TimeWeight)
	if c.KeywordWeight+c.ContextWeight+c.SenderWeight+c.TimeWeight <= 0 {
		fail("keyword_weight", "interest weights must not all be zero")
	}
	positiveInt("context_window", c.ContextWindow)
	if _, err := time.LoadLocation(strings.TrimSpace(c.Timezone)); err != nil {
		fail("timezone", "unknown timezone %q", c.Timezone)
	}

	positiveInt("max_replies_in_session", c.MaxRepliesInSession)
	if c.FatigueDecayRate < 0 {
		fail("fatigue_decay_rate", "must not be negative, got %v", c.FatigueDecayRate)
	}
	positiveDuration("fatigue_reset_interval", c.FatigueResetInterval)
	positiveDuration("fatigue_recovery_time", c.FatigueRecoveryTime)
	switch c.FatigueScope {
	case "group", "user":
	default:
		fail("fatigue_scope", "must be group or user, got %q", c.FatigueScope)
	}

	unit("memory_influence_weight", c.MemoryInfluenceWeight)
	switch c.ImpressionBackend {
	case "none", "":
	case "http":
		if strings.TrimSpace(c.ImpressionURL) == "" {
			fail("impression_url", "is required for the http impression backend")
		}
	case "redis":
		if strings.TrimSpace(c.RedisAddr) == "" {
			fail("redis_addr", "is required for the redis impression backend")
		}
	default:
		fail("impression_backend", "must be none, http or redis, got %q", c.ImpressionBackend)
	}
	positiveDuration("impression_timeout", c.ImpressionTimeout)
	positiveDuration("analyzer_timeout", c.AnalyzerTimeout)
	if strings.TrimSpace(c.ToolServersFile) != "" {
		positiveDuration("tool_refresh_interval", c.ToolRefreshInterval)
	}

	if c.TypingDelayMin < 0 {
		fail("typing_delay_min", "must not be negative, got %s", c.TypingDelayMin)
	}
	if c.TypingDelayMax < c.TypingDelayMin {
		fail("typing_delay_max", "must not be lower than typing_delay_min (%s), got %s", c.TypingDelayMin, c.TypingDelayMax)
	}
	if c.ReplyRatePerSecond <= 0 {
		fail("reply_rate_per_second", "must be positive, got %v", c.ReplyRatePerSecond)
	}
	positiveInt("dispatch_workers", c.DispatchWorkers)

	switch c.GroupListMode {
	case "off", "":
	case "whitelist", "blacklist":
		if strings.TrimSpace(c.GroupListFile) == "" {
			fail("group_list_file", "is required when group_list_mode is %s", c.GroupListMode)
		}
	default:
		fail("group_list_mode", "must be off, whitelist or blacklist, got %q", c.GroupListMode)
	}
	positiveDuration("group_idle_eviction", c.GroupIdleEviction)
	positiveDuration("conversant_idle_eviction", c.ConversantIdleEviction)
	positiveDuration("audit_retention", c.AuditRetention)
	if strings.TrimSpace(c.MaintenanceSchedule) == "" {
		fail("maintenance_schedule", "is required")
	}
	if strings.TrimSpace(c.AuditPurgeSchedule) == "" {
		fail("audit_purge_schedule", "is required")
	}

	if len(errs) == 0 {
		return nil
	}
	return fmt.Errorf("config validation: %w", errors.Join(errs...))
}

// Location resolves the configured timezone, falling back to UTC.
func (c Config) Location() *time.Location {
	location, err := time.LoadLocation(strings.TrimSpace(c.Timezone))
	if err != nil {
		return time.UTC
	}
	return location
}
