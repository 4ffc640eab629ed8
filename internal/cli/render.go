package cli

import (
	"fmt"
	"sort"
	"strings"
	"time"

	"charm.land/lipgloss/v2"

	"github.com/dwizi/lurker/internal/chat"
	"github.com/dwizi/lurker/internal/interaction"
	"github.com/dwizi/lurker/internal/store"
)

var (
	titleStyle  = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("111"))
	labelStyle  = lipgloss.NewStyle().Foreground(lipgloss.Color("246"))
	subtleStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("243"))
	okStyle     = lipgloss.NewStyle().Foreground(lipgloss.Color("78"))
	warnStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("214"))
	dangerStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("203"))
	headerStyle = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("252"))
)

var sectionStyle = lipgloss.NewStyle().
	Border(lipgloss.NormalBorder(), false, false, false, true).
	BorderForeground(lipgloss.Color("238")).
	PaddingLeft(1)

func modeStyle(mode chat.Mode) lipgloss.Style {
	switch mode {
	case chat.ModeFocused:
		return okStyle
	case chat.ModeObservation:
		return subtleStyle
	default:
		return warnStyle
	}
}

func kindStyle(kind chat.DecisionKind) lipgloss.Style {
	switch kind {
	case chat.DecisionRespond, chat.DecisionDefer:
		return okStyle
	default:
		return subtleStyle
	}
}

func healthStyle(overall string) lipgloss.Style {
	switch overall {
	case "healthy":
		return okStyle
	case "degraded", "unavailable":
		return dangerStyle
	default:
		return warnStyle
	}
}

func field(label, value string) string {
	return labelStyle.Render(label+":") + " " + value
}

func renderStatus(status interaction.Status, health string) string {
	lines := []string{
		titleStyle.Render("lurker") + "  " + healthStyle(health).Render(health),
		field("groups", fmt.Sprintf("%d", len(status.Groups))) + "  " +
			field("focus processed", fmt.Sprintf("%d", status.Focus.Processed)) + "  " +
			field("analyzer timeouts", fmt.Sprintf("%d", status.Focus.AnalyzerTimeouts)),
	}
	if len(status.Groups) == 0 {
		lines = append(lines, subtleStyle.Render("no active groups"))
		return strings.Join(lines, "\n")
	}

	lines = append(lines, "", headerStyle.Render(fmt.Sprintf("%-24s %-12s %-9s %-9s %-8s %s", "GROUP", "MODE", "WILLING", "HEAT", "REPLIES", "FATIGUE")))
	for _, group := range status.Groups {
		fatigue := "-"
		if group.Fatigue != nil {
			fatigue = fmt.Sprintf("%.2f", group.Fatigue.Counter)
			if group.Fatigue.Muted {
				fatigue = dangerStyle.Render(fatigue + " muted")
			}
		}
		lines = append(lines, fmt.Sprintf("%-24s %s %-9s %-9s %-8s %s",
			group.GroupID,
			modeStyle(group.Mode).Render(fmt.Sprintf("%-12s", group.Mode)),
			fmt.Sprintf("%.2f", group.LastWillingness),
			fmt.Sprintf("%.2f", group.Heat),
			fmt.Sprintf("%d/%d", group.Stats.Replies, group.Stats.MessagesSeen),
			fatigue,
		))
	}
	return strings.Join(lines, "\n")
}

func renderGroup(group interaction.GroupStatus) string {
	summary := []string{
		field("mode", modeStyle(group.Mode).Render(string(group.Mode))) + "  " + field("since", formatTime(group.ModeEnteredAt)),
		field("classic baseline", fmt.Sprintf("%.2f", group.ClassicBaseline)) + "  " +
			field("last willingness", fmt.Sprintf("%.2f", group.LastWillingness)) + "  " +
			field("streak", fmt.Sprintf("%d", group.ConsecutiveReplies)),
		field("heat", fmt.Sprintf("%.2f", group.Heat)) + "  " +
			field("focus turns", fmt.Sprintf("%d", group.FocusTurns)) + "  " +
			field("reply rate", fmt.Sprintf("%.0f%%", group.ReplyRate*100)),
		field("messages", fmt.Sprintf("%d", group.Stats.MessagesSeen)) + "  " +
			field("replies", fmt.Sprintf("%d", group.Stats.Replies)) + "  " +
			field("skips", fmt.Sprintf("%d", group.Stats.Skips)),
	}
	if group.Fatigue != nil {
		value := fmt.Sprintf("%.2f", group.Fatigue.Counter)
		if group.Fatigue.Muted {
			value = dangerStyle.Render(value + " muted until " + formatUnix(group.Fatigue.MutedUntil))
		}
		summary = append(summary, field("fatigue", value))
	}

	sections := []string{
		titleStyle.Render("group "+group.GroupID),
		sectionStyle.Render(strings.Join(summary, "\n")),
	}

	if len(group.Conversants) > 0 {
		rows := []string{headerStyle.Render(fmt.Sprintf("%-20s %-9s %-6s %-9s %s", "USER", "BASELINE", "TURNS", "FREQ", "LAST SEEN"))}
		for _, conversant := range group.Conversants {
			rows = append(rows, fmt.Sprintf("%-20s %-9.2f %-6d %-9.2f %s",
				conversant.UserID,
				conversant.Baseline,
				conversant.Turns,
				conversant.Frequency,
				formatTime(conversant.LastMessageAt),
			))
		}
		sections = append(sections, titleStyle.Render("conversants"), sectionStyle.Render(strings.Join(rows, "\n")))
	}

	if len(group.History) > 0 {
		rows := make([]string, 0, len(group.History))
		for _, change := range group.History {
			rows = append(rows, fmt.Sprintf("%s  %s -> %s  %s",
				formatTime(change.At),
				change.From,
				modeStyle(change.To).Render(string(change.To)),
				subtleStyle.Render(change.Reason),
			))
		}
		sections = append(sections, titleStyle.Render("mode history"), sectionStyle.Render(strings.Join(rows, "\n")))
	}
	return lipgloss.JoinVertical(lipgloss.Left, sections...)
}

func renderDecision(decision chat.Decision) string {
	lines := []string{
		kindStyle(decision.Kind).Render(string(decision.Kind)) + "  " + subtleStyle.Render(decision.Reason),
		field("mode", modeStyle(decision.Mode).Render(string(decision.Mode))) + "  " +
			field("interest", fmt.Sprintf("%.2f", decision.Interest)) + "  " +
			field("willingness", fmt.Sprintf("%.2f", decision.Willingness)),
	}
	if decision.Delay > 0 {
		lines = append(lines, field("delay", decision.Delay.String()))
	}
	if decision.TransitionTo != "" {
		lines = append(lines, field("transition", string(decision.TransitionTo)))
	}
	if len(decision.Components) > 0 {
		names := make([]string, 0, len(decision.Components))
		for name := range decision.Components {
			names = append(names, name)
		}
		sort.Strings(names)
		terms := make([]string, 0, len(names))
		for _, name := range names {
			terms = append(terms, fmt.Sprintf("%s=%.2f", name, decision.Components[name]))
		}
		lines = append(lines, field("terms", subtleStyle.Render(strings.Join(terms, " "))))
	}
	if !decision.FatigueAllowed && decision.Kind == chat.DecisionSkip {
		lines = append(lines, field("fatigue", dangerStyle.Render("muted")))
	}
	return strings.Join(lines, "\n")
}

func renderDecisions(records []store.DecisionRecord) string {
	if len(records) == 0 {
		return subtleStyle.Render("no decisions recorded")
	}
	lines := []string{headerStyle.Render(fmt.Sprintf("%-20s %-16s %-8s %-12s %-7s %s", "TIME", "GROUP", "KIND", "MODE", "WILL", "REASON"))}
	for _, record := range records {
		lines = append(lines, fmt.Sprintf("%-20s %-16s %s %-12s %-7.2f %s",
			formatTime(record.DecidedAt),
			record.GroupID,
			kindStyle(chat.DecisionKind(record.Kind)).Render(fmt.Sprintf("%-8s", record.Kind)),
			record.Mode,
			record.Willingness,
			record.Reason,
		))
	}
	return strings.Join(lines, "\n")
}

func formatTime(value time.Time) string {
	if value.IsZero() {
		return "-"
	}
	return value.UTC().Format("2006-01-02 15:04:05")
}

func formatUnix(value int64) string {
	if value <= 0 {
		return "-"
	}
	return formatTime(time.Unix(value, 0))
}
