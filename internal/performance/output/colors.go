package output

import (
	"os"

	"github.com/fatih/color"
)

// palette holds the colors used by the console. Every color is switched on
// or off as a group so output written to a pipe stays free of escapes.
type palette struct {
	header  *color.Color
	title   *color.Color
	label   *color.Color
	value   *color.Color
	good    *color.Color
	warn    *color.Color
	bad     *color.Color
	latency *color.Color
	phase   *color.Color
	dim     *color.Color
}

func newPalette(enabled bool) *palette {
	p := &palette{
		header:  color.New(color.FgCyan),
		title:   color.New(color.Bold),
		label:   color.New(color.Bold),
		value:   color.New(color.FgCyan),
		good:    color.New(color.FgGreen),
		warn:    color.New(color.FgYellow),
		bad:     color.New(color.FgRed, color.Bold),
		latency: color.New(color.FgBlue),
		phase:   color.New(color.FgMagenta),
		dim:     color.New(color.Faint),
	}
	for _, c := range []*color.Color{p.header, p.title, p.label, p.value, p.good, p.warn, p.bad, p.latency, p.phase, p.dim} {
		if enabled {
			c.EnableColor()
		} else {
			c.DisableColor()
		}
	}
	return p
}

// rate picks a color for an error fraction: green below 1%, yellow below 5%.
func (p *palette) rate(errorRate float64) *color.Color {
	switch {
	case errorRate > 0.05:
		return p.bad
	case errorRate > 0.01:
		return p.warn
	default:
		return p.good
	}
}

// supportsColors reports whether the environment allows colored output.
func supportsColors() bool {
	if os.Getenv("NO_COLOR") != "" {
		return false
	}
	if os.Getenv("FORCE_COLOR") != "" {
		return true
	}
	term := os.Getenv("TERM")
	return term != "" && term != "dumb"
}
