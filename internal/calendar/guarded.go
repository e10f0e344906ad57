package calendar

import "sync"

// Guarded serializes every operation on a Calendar that is shared between
// goroutines (HTTP handlers, the reminder dispatcher). The calendar is held
// for the whole of fn; keep fn short.
type Guarded struct {
	mu  sync.Mutex
	cal *Calendar
}

func NewGuarded(cal *Calendar) *Guarded {
	return &Guarded{cal: cal}
}

// Do runs fn with exclusive access to the calendar.
func (g *Guarded) Do(fn func(c *Calendar) error) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	return fn(g.cal)
}
