package tui

const compactWidthBreakpoint = 110

type uiLayout struct {
	Width  int
	Height int

	Compact bool

	HeaderHeight int
	FooterHeight int
	BodyHeight   int

	MainWidth      int
	InspectorWidth int

	CompactMainHeight      int
	CompactInspectorHeight int
}

func computeLayout(width, height int) uiLayout {
	if width < 40 {
		width = 40
	}
	if height < 16 {
		height = 16
	}

	layout := uiLayout{
		Width:        width,
		Height:       height,
		HeaderHeight: 3,
		FooterHeight: 3,
	}
	layout.BodyHeight = maxInt(6, height-layout.HeaderHeight-layout.FooterHeight)

	layout.Compact = width < compactWidthBreakpoint
	if layout.Compact {
		layout.MainWidth = width
		layout.InspectorWidth = width
		layout.CompactInspectorHeight = maxInt(5, layout.BodyHeight*2/5)
		layout.CompactMainHeight = maxInt(4, layout.BodyHeight-layout.CompactInspectorHeight)
		return layout
	}

	layout.InspectorWidth = clampInt(width*40/100, 40, 64)
	layout.MainWidth = maxInt(40, width-layout.InspectorWidth-1)
	return layout
}

func maxInt(a, b int) int {
	if a > b {
		return a
	}
	return b
}

func clampInt(value, low, high int) int {
	if value < low {
		return low
	}
	if value > high {
		return high
	}
	return value
}
