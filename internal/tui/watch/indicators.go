package watch

import (
	"strings"
	"time"
)

// Ticker alternates frames once per tick. A frozen ticker means the UI
// loop itself has stalled.
type Ticker struct {
	frames []string
	index  int
}

func NewTicker() Ticker {
	return Ticker{frames: []string{"⟲", "⟳"}}
}

func (t *Ticker) Tick() {
	t.index = (t.index + 1) % len(t.frames)
}

func (t Ticker) Current() string {
	return t.frames[t.index]
}

// activityDots is how many dots light up on a fresh event.
const activityDots = 5

// Spinner shows event activity with a decaying dot pattern.
type Spinner struct {
	dots      int
	lastEvent time.Time
}

func NewSpinner() Spinner {
	return Spinner{}
}

func (s *Spinner) OnEvent(at time.Time) {
	s.dots = activityDots
	s.lastEvent = at
}

// Decay drops one dot for every two seconds of silence.
func (s *Spinner) Decay(now time.Time) {
	if s.dots == 0 {
		return
	}
	lit := activityDots - int(now.Sub(s.lastEvent)/(2*time.Second))
	if lit < 0 {
		lit = 0
	}
	if lit < s.dots {
		s.dots = lit
	}
}

func (s Spinner) Render(theme Theme) string {
	var b strings.Builder
	for i := range activityDots {
		if i < s.dots {
			b.WriteString(theme.TickerActive.Render("●"))
		} else {
			b.WriteString(theme.TickerInactive.Render("○"))
		}
	}
	return b.String()
}

func (s Spinner) LastEvent() time.Time {
	return s.lastEvent
}
