package watch

import (
	"strings"
	"time"
)

const pulseWidth = 5

// Pulse lights up when events arrive and fades a dot every two seconds of
// quiet.
type Pulse struct {
	lit       int
	lastEvent time.Time
}

func (p *Pulse) OnEvent(at time.Time) {
	p.lit = pulseWidth
	p.lastEvent = at
}

// Decay dims the pulse according to how long ago the last event was.
func (p *Pulse) Decay(now time.Time) {
	if p.lit == 0 {
		return
	}
	quiet := int(now.Sub(p.lastEvent) / (2 * time.Second))
	p.lit = max(0, pulseWidth-quiet)
}

func (p Pulse) Render(theme Theme) string {
	var b strings.Builder
	for i := range pulseWidth {
		if i < p.lit {
			b.WriteString(theme.PulseOn.Render("●"))
		} else {
			b.WriteString(theme.PulseOff.Render("○"))
		}
	}
	return b.String()
}

func (p Pulse) LastEvent() time.Time {
	return p.lastEvent
}
