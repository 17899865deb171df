package aggregator

// WindowId is a monotonically increasing window identifier. Window w covers
// the absolute interval [w*W, (w+1)*W) milliseconds, where W is the
// configured window width; timestamps in [0, W) map to window 0 and negative
// timestamps to negative ids.
type WindowId int64

// WindowIndex maps between absolute time and window id. All time arithmetic
// in this package goes through it; window arithmetic is always integer
// millisecond math, never floating point.
type WindowIndex struct {
	windowMs int64
}

// NewWindowIndex builds a WindowIndex for a W-millisecond window width.
func NewWindowIndex(windowMs int64) WindowIndex {
	return WindowIndex{windowMs: windowMs}
}

// WindowOf returns the window id containing the given absolute timestamp.
func (w WindowIndex) WindowOf(tMs int64) WindowId {
	if tMs >= 0 {
		return WindowId(tMs / w.windowMs)
	}
	// Floor toward negative infinity for negative timestamps so WindowOf
	// stays the exact inverse of WindowStart.
	q := tMs / w.windowMs
	if tMs%w.windowMs != 0 {
		q--
	}
	return WindowId(q)
}

// WindowStart returns the absolute start time, in ms, of window w.
func (w WindowIndex) WindowStart(id WindowId) int64 {
	return int64(id) * w.windowMs
}

// WindowMs returns the configured window width.
func (w WindowIndex) WindowMs() int64 {
	return w.windowMs
}
