package tui

import (
	"fmt"
	"strings"
	"time"

	"charm.land/lipgloss/v2"

	"github.com/dwizi/lurker/internal/chat"
	"github.com/dwizi/lurker/internal/interaction"
)

func (m model) renderView() string {
	if m.quitting {
		return "lurker top closed\n"
	}

	t := newTheme()
	layout := computeLayout(m.width, m.height)
	header := m.renderHeader(t, layout)
	groups := m.renderGroups(t, layout)
	inspector := m.renderInspector(t, layout)
	footer := m.renderFooter(t, layout)

	var body string
	if layout.Compact {
		body = lipgloss.JoinVertical(lipgloss.Left, groups, inspector)
	} else {
		body = lipgloss.JoinHorizontal(lipgloss.Top, groups, t.panelSubtle.Render("│"), inspector)
	}
	ui := lipgloss.JoinVertical(lipgloss.Left, header, body, footer)
	return t.appBG.Width(layout.Width).Height(layout.Height).Render(ui)
}

func (m model) renderHeader(t theme, layout uiLayout) string {
	chip := t.chipSuccess.Render("LIVE")
	switch {
	case m.errorText != "":
		chip = t.chipError.Render("ERROR")
	case m.paused:
		chip = t.chipWarn.Render("PAUSED")
	case m.loading:
		chip = t.chipWarn.Render(m.spinner.View() + " POLLING")
	}

	width := innerWidth(t.headerBox, layout.Width)
	focus := m.status.Focus
	right := fmt.Sprintf("groups %d | focus replies %d skips %d | every %s", len(m.status.Groups), focus.RepliesPlanned, focus.Skips, m.interval)
	line := fillLine(t.brand.Render("Lurker")+" "+t.headerSub.Render(fallbackText(m.endpoint, "admin api")), t.headerSub.Render(right)+" "+chip, width)
	return sizedStyle(t.headerBox, layout.Width, layout.HeaderHeight).Render(line)
}

func (m model) renderGroups(t theme, layout uiLayout) string {
	width, height := layout.MainWidth, layout.BodyHeight
	if layout.Compact {
		height = layout.CompactMainHeight
	}
	lines := []string{
		t.panelTitle.Render("Groups"),
		t.tableHeader.Render(fmt.Sprintf("  %-18s %-12s %6s %6s %8s  %s", "group", "mode", "will", "heat", "fatigue", "last active")),
	}
	if len(m.status.Groups) == 0 {
		lines = append(lines, t.panelSubtle.Render("  no groups yet"))
	}
	for _, group := range m.status.Groups {
		cursor := " "
		style := t.tableCell
		if group.GroupID == m.selected {
			cursor = ">"
			style = t.tableSelected
		}
		row := fmt.Sprintf("%s %-18s %-12s %6.2f %6.2f %8s  %s",
			cursor,
			trimToWidth(group.GroupID, 18),
			group.Mode,
			group.LastWillingness,
			group.Heat,
			fatigueLabel(group),
			sinceLabel(group.LastActiveAt, m.lastRefresh),
		)
		lines = append(lines, modeRowStyle(t, style, group.Mode).Render(trimToWidth(row, innerWidth(t.panelBox, width))))
	}
	return sizedStyle(t.panelBox, width, height).Render(strings.Join(lines, "\n"))
}

func (m model) renderInspector(t theme, layout uiLayout) string {
	width, height := layout.InspectorWidth, layout.BodyHeight
	if layout.Compact {
		height = layout.CompactInspectorHeight
	}
	contentWidth := innerWidth(t.panelBox, width)
	group, ok := m.selectedGroup()
	if !ok {
		return sizedStyle(t.panelBox, width, height).Render(t.panelTitle.Render("Group") + "\n" + t.panelSubtle.Render("select a group with j/k"))
	}

	lines := []string{
		fillLine(t.panelTitle.Render(trimToWidth(group.GroupID, contentWidth/2)), modeChip(t, group.Mode), contentWidth),
		fmt.Sprintf("willingness %.2f  baseline %.2f  reply rate %.2f", group.LastWillingness, group.ClassicBaseline, group.ReplyRate),
		fmt.Sprintf("focus turns %d  consecutive %d  heat %.2f", group.FocusTurns, group.ConsecutiveReplies, group.Heat),
		"fatigue " + fatigueLabel(group),
		"",
		t.panelSubtle.Render("Recent transitions"),
	}
	if len(m.transitions) == 0 {
		lines = append(lines, t.panelSubtle.Render("  none"))
	}
	for _, item := range m.transitions {
		lines = append(lines, trimToWidth(fmt.Sprintf("  %s %s -> %s  %s", item.At.UTC().Format("15:04:05"), item.From, item.To, item.Reason), contentWidth))
	}
	lines = append(lines, "", t.panelSubtle.Render("Recent decisions"))
	if len(m.decisions) == 0 {
		lines = append(lines, t.panelSubtle.Render("  none"))
	}
	for _, item := range m.decisions {
		row := trimToWidth(fmt.Sprintf("  %s %-7s %.2f  %s", item.DecidedAt.UTC().Format("15:04:05"), item.Kind, item.Willingness, item.Reason), contentWidth)
		if item.Kind == string(chat.DecisionRespond) || item.Kind == string(chat.DecisionDefer) {
			row = t.panelSuccess.Render(row)
		}
		lines = append(lines, row)
	}
	return sizedStyle(t.panelBox, width, height).Render(strings.Join(lines, "\n"))
}

func (m model) renderFooter(t theme, layout uiLayout) string {
	width := innerWidth(t.footerBox, layout.Width)
	status := t.footerOK.Render(trimToWidth("last refresh "+formatClock(m.lastRefresh), width))
	if m.errorText != "" {
		status = t.footerErr.Render(trimToWidth("error: "+m.errorText, width))
	}
	helpLine := t.footerInfo.Render(m.help.View(m.keys))
	return sizedStyle(t.footerBox, layout.Width, layout.FooterHeight).Render(helpLine + "\n" + status)
}

func modeChip(t theme, mode chat.Mode) string {
	switch mode {
	case chat.ModeFocused:
		return t.chipSuccess.Render(strings.ToUpper(string(mode)))
	case chat.ModeObservation:
		return t.chipInfo.Render(strings.ToUpper(string(mode)))
	default:
		return t.chipWarn.Render(strings.ToUpper(string(mode)))
	}
}

func modeRowStyle(t theme, base lipgloss.Style, mode chat.Mode) lipgloss.Style {
	if mode == chat.ModeFocused {
		return base.Foreground(t.panelSuccess.GetForeground())
	}
	return base
}

func fatigueLabel(group interaction.GroupStatus) string {
	if group.Fatigue == nil {
		return "-"
	}
	if group.Fatigue.Muted {
		return fmt.Sprintf("%.1f mute", group.Fatigue.Counter)
	}
	return fmt.Sprintf("%.1f", group.Fatigue.Counter)
}

func sinceLabel(at, now time.Time) string {
	if at.IsZero() {
		return "-"
	}
	if now.IsZero() {
		now = time.Now().UTC()
	}
	elapsed := now.Sub(at)
	if elapsed < 0 {
		elapsed = 0
	}
	return elapsed.Truncate(time.Second).String() + " ago"
}

func formatClock(at time.Time) string {
	if at.IsZero() {
		return "never"
	}
	return at.UTC().Format("15:04:05 MST")
}

func fallbackText(value, fallback string) string {
	if strings.TrimSpace(value) == "" {
		return fallback
	}
	return value
}

func fillLine(left, right string, width int) string {
	if width <= 0 {
		return strings.TrimSpace(left + " " + right)
	}
	lw := lipgloss.Width(left)
	rw := lipgloss.Width(right)
	if lw+rw+1 > width {
		return left + " " + right
	}
	return left + strings.Repeat(" ", width-lw-rw) + right
}

func trimToWidth(value string, width int) string {
	if width <= 0 {
		return ""
	}
	runes := []rune(strings.TrimRight(value, " \t\n"))
	if len(runes) <= width {
		return string(runes)
	}
	if width <= 3 {
		return string(runes[:width])
	}
	return string(runes[:width-3]) + "..."
}

func sizedStyle(style lipgloss.Style, width, height int) lipgloss.Style {
	contentWidth := maxInt(1, width-style.GetHorizontalFrameSize())
	contentHeight := maxInt(1, height-style.GetVerticalFrameSize())
	return style.Width(contentWidth).Height(contentHeight)
}

func innerWidth(style lipgloss.Style, width int) int {
	return maxInt(1, width-style.GetHorizontalFrameSize())
}
