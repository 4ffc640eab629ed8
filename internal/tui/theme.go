package tui

import "charm.land/lipgloss/v2"

// theme shares its palette with the plain status output of the CLI.
type theme struct {
	appBG lipgloss.Style
	brand lipgloss.Style

	headerBox lipgloss.Style
	headerSub lipgloss.Style

	panelBox     lipgloss.Style
	panelTitle   lipgloss.Style
	panelSubtle  lipgloss.Style
	panelAccent  lipgloss.Style
	panelWarn    lipgloss.Style
	panelError   lipgloss.Style
	panelSuccess lipgloss.Style

	footerBox  lipgloss.Style
	footerInfo lipgloss.Style
	footerErr  lipgloss.Style
	footerWarn lipgloss.Style
	footerOK   lipgloss.Style

	chipInfo    lipgloss.Style
	chipWarn    lipgloss.Style
	chipError   lipgloss.Style
	chipSuccess lipgloss.Style

	tableHeader   lipgloss.Style
	tableCell     lipgloss.Style
	tableSelected lipgloss.Style

	spinner lipgloss.Style
}

func newTheme() theme {
	border := lipgloss.Color("238")
	text := lipgloss.Color("252")
	muted := lipgloss.Color("246")
	accent := lipgloss.Color("111")
	success := lipgloss.Color("78")
	warn := lipgloss.Color("214")
	danger := lipgloss.Color("203")

	return theme{
		appBG: lipgloss.NewStyle().Foreground(text),
		brand: lipgloss.NewStyle().Bold(true).Foreground(accent),

		headerBox: lipgloss.NewStyle().
			Border(lipgloss.NormalBorder(), false, false, true, false).
			BorderForeground(border).
			Padding(0, 1),
		headerSub: lipgloss.NewStyle().Foreground(muted),

		panelBox:     lipgloss.NewStyle().Padding(0, 1),
		panelTitle:   lipgloss.NewStyle().Bold(true).Foreground(accent),
		panelSubtle:  lipgloss.NewStyle().Foreground(muted),
		panelAccent:  lipgloss.NewStyle().Foreground(lipgloss.Color("151")),
		panelWarn:    lipgloss.NewStyle().Foreground(warn),
		panelError:   lipgloss.NewStyle().Foreground(danger),
		panelSuccess: lipgloss.NewStyle().Foreground(success),

		footerBox: lipgloss.NewStyle().
			Border(lipgloss.NormalBorder(), true, false, false, false).
			BorderForeground(border).
			Padding(0, 1),
		footerInfo: lipgloss.NewStyle().Foreground(text),
		footerErr:  lipgloss.NewStyle().Bold(true).Foreground(danger),
		footerWarn: lipgloss.NewStyle().Bold(true).Foreground(warn),
		footerOK:   lipgloss.NewStyle().Bold(true).Foreground(success),

		chipInfo:    lipgloss.NewStyle().Bold(true).Foreground(accent),
		chipWarn:    lipgloss.NewStyle().Bold(true).Foreground(warn),
		chipError:   lipgloss.NewStyle().Bold(true).Foreground(danger),
		chipSuccess: lipgloss.NewStyle().Bold(true).Foreground(success),

		tableHeader:   lipgloss.NewStyle().Bold(true).Foreground(accent),
		tableCell:     lipgloss.NewStyle().Foreground(text),
		tableSelected: lipgloss.NewStyle().Bold(true).Foreground(accent),

		spinner: lipgloss.NewStyle().Bold(true).Foreground(warn),
	}
}
