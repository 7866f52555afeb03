package tracker

import (
	"math"
	"sync/atomic"
)

type (
	// Latest holds the most recently stored value. Readers always see a
	// complete value and never wait for the writer; values stored in between
	// two loads are skipped.
	Latest[T any] struct {
		p atomic.Pointer[T]
	}

	// LatestFloat is a Latest for a single float64, stored as its bits.
	LatestFloat struct {
		bits atomic.Uint64
	}
)

func (l *Latest[T]) Store(v *T) { l.p.Store(v) }
func (l *Latest[T]) Load() *T   { return l.p.Load() }

func (l *LatestFloat) Store(v float64) { l.bits.Store(math.Float64bits(v)) }
func (l *LatestFloat) Load() float64   { return math.Float64frombits(l.bits.Load()) }
