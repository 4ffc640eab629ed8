package focus

import (
	"context"
	"fmt"
	"math"
	"sort"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/dwizi/lurker/internal/chat"
	"github.com/dwizi/lurker/internal/impression"
	"github.com/dwizi/lurker/internal/interest"
)

const (
	AnalyzerMemory     = "working_memory"
	AnalyzerImpression = "impression"
	AnalyzerTools      = "tools"
	AnalyzerStyle      = "expression_style"

	OutcomeOK      = "ok"
	OutcomeTimeout = "timeout"
	OutcomeFailed  = "failed"

	topicTermLimit        = 5
	defaultCharsPerSecond = 6.0
)

// Snapshot is the read-only view analyzers work on. It is copied out of the
// group state under the lane so analyzers may run on other goroutines.
type Snapshot struct {
	Message    chat.Message
	Context    []chat.Message
	Seed       []string
	GroupID    string
	UserID     string
	FocusTurns int
	Turns      int
	Frequency  float64
}

type WorkingMemory struct {
	TopicTerms []string `json:"topic_terms"`
	Continuity float64  `json:"continuity"`
}

type ToolNeeds struct {
	Needed      bool     `json:"needed"`
	Matched     []string `json:"matched,omitempty"`
	Unavailable []string `json:"unavailable,omitempty"`
}

type ExpressionStyle struct {
	AverageLength  float64 `json:"average_length"`
	CharsPerSecond float64 `json:"chars_per_second"`
	DelayScale     float64 `json:"delay_scale"`
}

type Analysis struct {
	Memory     WorkingMemory     `json:"memory"`
	Impression impression.Score  `json:"impression"`
	Tools      ToolNeeds         `json:"tools"`
	Style      ExpressionStyle   `json:"style"`
	Outcomes   map[string]string `json:"outcomes,omitempty"`
}

func neutralMemory() WorkingMemory {
	return WorkingMemory{Continuity: 0.5}
}

func neutralStyle() ExpressionStyle {
	return ExpressionStyle{CharsPerSecond: defaultCharsPerSecond, DelayScale: 1}
}

// runAnalyzer runs fn under timeout. A timeout, error or panic yields neutral;
// the analyzer goroutine is left to finish on its own.
func runAnalyzer[T any](ctx context.Context, timeout time.Duration, neutral T, fn func(context.Context) (T, error)) (T, string) {
	runCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	type result struct {
		value T
		err   error
	}
	done := make(chan result, 1)
	go func() {
		defer func() {
			if recovered := recover(); recovered != nil {
				done <- result{err: fmt.Errorf("analyzer panic: %v", recovered)}
			}
		}()
		value, err := fn(runCtx)
		done <- result{value: value, err: err}
	}()

	select {
	case <-runCtx.Done():
		return neutral, OutcomeTimeout
	case res := <-done:
		if res.err != nil {
			return neutral, OutcomeFailed
		}
		return res.value, OutcomeOK
	}
}

func analyzeWorkingMemory(snap Snapshot) WorkingMemory {
	counts := map[string]int{}
	contextTerms := map[string]struct{}{}
	for _, term := range snap.Seed {
		counts[term]++
	}
	for _, message := range snap.Context {
		for _, token := range interest.Tokens(message.Text) {
			counts[token]++
			contextTerms[token] = struct{}{}
		}
	}
	terms := make([]string, 0, len(counts))
	for term := range counts {
		terms = append(terms, term)
	}
	sort.Slice(terms, func(i, j int) bool {
		if counts[terms[i]] != counts[terms[j]] {
			return counts[terms[i]] > counts[terms[j]]
		}
		return terms[i] < terms[j]
	})
	if len(terms) > topicTermLimit {
		terms = terms[:topicTermLimit]
	}

	memory := WorkingMemory{TopicTerms: terms, Continuity: 0.5}
	tokens := interest.Tokens(snap.Message.Text)
	if len(tokens) == 0 || len(contextTerms) == 0 {
		return memory
	}
	shared := 0
	for _, token := range tokens {
		if _, ok := contextTerms[token]; ok {
			shared++
		}
	}
	memory.Continuity = float64(shared) / float64(len(tokens))
	return memory
}

// analyzeTools matches the message against known tool names. available is
// the discovered tool set; nil means no discovery runs and every capability
// counts as available.
func analyzeTools(snap Snapshot, capabilities []string, available map[string]struct{}) ToolNeeds {
	text := interest.Normalize(snap.Message.Text)
	needs := ToolNeeds{Needed: interest.Classify(text) == interest.TypeCommand}
	seen := map[string]struct{}{}
	for _, capability := range capabilities {
		name := interest.Normalize(capability)
		if name == "" {
			continue
		}
		if _, dup := seen[name]; dup {
			continue
		}
		seen[name] = struct{}{}
		if !strings.Contains(text, name) && !strings.Contains(text, strings.ReplaceAll(name, "_", " ")) {
			continue
		}
		if available != nil {
			if _, ok := available[name]; !ok {
				needs.Unavailable = append(needs.Unavailable, capability)
				continue
			}
		}
		needs.Matched = append(needs.Matched, capability)
	}
	if len(needs.Matched) > 0 || len(needs.Unavailable) > 0 {
		needs.Needed = true
	}
	return needs
}

func analyzeStyle(snap Snapshot) ExpressionStyle {
	if len(snap.Context) == 0 {
		return neutralStyle()
	}
	total := 0
	for _, message := range snap.Context {
		total += utf8.RuneCountInString(message.Text)
	}
	average := float64(total) / float64(len(snap.Context))
	style := ExpressionStyle{
		AverageLength:  average,
		CharsPerSecond: defaultCharsPerSecond,
		DelayScale:     math.Max(0.5, math.Min(1.5, average/60)),
	}
	// Short rapid-fire chatter reads as fast typing.
	if average < 20 {
		style.CharsPerSecond = 9
	}
	return style
}
