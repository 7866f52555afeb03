package tracker

import "time"

// SetClock replaces the clock the player measures render times with.
func SetClock(p *Player, now func() time.Time) { p.now = now }
