package dispatch

// Merge reassembles per-page results (sorted ascending by page index) into
// a single document payload. The first page's payload is the base; its
// merge field, when list-valued, accumulates every later page's items in
// page order. A non-list merge field means a single-page response and the
// base passes through untouched.
func Merge(results []InvokeResult, key string) map[string]any {
	if len(results) == 0 {
		return nil
	}

	base := results[0].Raw
	baseList, ok := base[key].([]any)
	if !ok {
		return base
	}

	merged := make([]any, 0, len(baseList)*len(results))
	merged = append(merged, baseList...)
	for _, r := range results[1:] {
		switch v := r.Raw[key].(type) {
		case []any:
			merged = append(merged, v...)
		case nil:
			// Page contributed nothing under the merge key.
		default:
			merged = append(merged, v)
		}
	}

	out := make(map[string]any, len(base))
	for k, v := range base {
		out[k] = v
	}
	out[key] = merged
	return out
}

// Merge applies the configured merge key.
func (d *Dispatcher) Merge(results []InvokeResult) map[string]any {
	return Merge(results, d.cfg.MergeKey)
}
