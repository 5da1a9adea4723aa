package types

// JSONMap is a free-form JSON object column. Certificates use it to
// accumulate side-channel facts (custodial mode, degraded content store,
// reconciliation source) without schema churn.
type JSONMap map[string]any

// Merge overlays the provided entries, returning the receiver for chaining.
// A nil receiver yields a fresh map so callers can merge into zero values.
func (m JSONMap) Merge(extra map[string]any) JSONMap {
	out := m
	if out == nil {
		out = JSONMap{}
	}
	for k, v := range extra {
		out[k] = v
	}
	return out
}
