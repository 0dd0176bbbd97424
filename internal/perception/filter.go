package perception

// ObjectFilter drops observations that should not enter the evaluation
// pipeline: classes outside the configured target set, and optionally objects
// moving slower than the stopped threshold.
type ObjectFilter struct {
	allowed          map[string]struct{}
	stoppedThreshold float64
}

// NewObjectFilter builds a filter for the given class allowlist. A stopped
// threshold of zero disables speed filtering.
func NewObjectFilter(classes []string, stoppedThreshold float64) *ObjectFilter {
	allowed := make(map[string]struct{}, len(classes))
	for _, c := range classes {
		allowed[c] = struct{}{}
	}
	return &ObjectFilter{
		allowed:          allowed,
		stoppedThreshold: stoppedThreshold,
	}
}

// Keep reports whether a single observation passes the filter.
func (f *ObjectFilter) Keep(obj TrackedObject) bool {
	if _, ok := f.allowed[obj.Class]; !ok {
		return false
	}
	if f.stoppedThreshold > 0 && obj.Twist.Speed() < f.stoppedThreshold {
		return false
	}
	return true
}

// Apply returns a copy of the batch containing only observations that pass
// the filter. The input batch is not modified.
func (f *ObjectFilter) Apply(batch Batch) Batch {
	out := Batch{Stamp: batch.Stamp}
	for _, obj := range batch.Objects {
		if f.Keep(obj) {
			out.Objects = append(out.Objects, obj)
		}
	}
	return out
}
