package ws

// orderingTracker remembers the newest event time per stream. It is only
// used by the read loop and is not safe for concurrent use.
type orderingTracker struct {
	last map[string]int64
}

func newOrderingTracker() *orderingTracker {
	return &orderingTracker{last: make(map[string]int64)}
}

// observe records ts for key. It reports a regression when ts is older than
// the newest time already seen; the newest time is kept in that case.
func (o *orderingTracker) observe(key string, ts int64) (previous int64, regressed bool) {
	previous, seen := o.last[key]
	if seen && ts < previous {
		return previous, true
	}
	o.last[key] = ts
	return previous, false
}
