package xentrack

// FrameSpan returns the musical time that elapses during the given number of
// frames at bpm beats per minute.
func FrameSpan(frames, sampleRate int, bpm Span) Span {
	return bpm.Mul(NewSpan(int64(frames), 60*int64(sampleRate)))
}

// Advance returns the position reached from pos after playing the given
// number of frames at bpm beats per minute. Advancing in several steps gives
// exactly the same result as advancing once by the total.
func Advance(pos Span, frames, sampleRate int, bpm Span) Span {
	return pos.Add(FrameSpan(frames, sampleRate, bpm))
}

// TryAdvance is Advance that also tells whether the result is exact. It is
// not when the arithmetic overflowed and the position was approximated.
func TryAdvance(pos Span, frames, sampleRate int, bpm Span) (Span, bool) {
	d, ok := bpm.TryMul(NewSpan(int64(frames), 60*int64(sampleRate)))
	next, exact := pos.TryAdd(d)
	return next, ok && exact
}

// FramesUntil returns the index of the first frame, counted from a clock at
// position from, whose position is at or after to. It is zero if to is not
// after from.
func FramesUntil(from, to Span, sampleRate int, bpm Span) int {
	if !from.Less(to) {
		return 0
	}
	return int(to.Sub(from).MulInt(60 * int64(sampleRate)).Div(bpm).Ceil())
}
