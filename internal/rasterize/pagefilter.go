package rasterize

import (
	"fmt"
	"sort"
	"strconv"
	"strings"
)

// PageFilter selects a subset of expanded pages by 0-based index. nil
// selects every page; a single index is a one-element filter.
type PageFilter []int

// ParsePageFilter reads "", "2" or "0,2,5".
func ParsePageFilter(s string) (PageFilter, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return nil, nil
	}
	parts := strings.Split(s, ",")
	filter := make(PageFilter, 0, len(parts))
	for _, p := range parts {
		n, err := strconv.Atoi(strings.TrimSpace(p))
		if err != nil {
			return nil, fmt.Errorf("invalid page index %q: %w", p, err)
		}
		filter = append(filter, n)
	}
	return filter, nil
}

// Select validates the filter against the available page count and
// returns the selected indices in ascending order, each exactly once.
// An out-of-range index is a configuration error, caught before any page
// is dispatched.
func (f PageFilter) Select(total int) ([]int, error) {
	if f == nil {
		all := make([]int, total)
		for i := range all {
			all[i] = i
		}
		return all, nil
	}

	seen := make(map[int]bool, len(f))
	selected := make([]int, 0, len(f))
	for _, idx := range f {
		if idx < 0 || idx >= total {
			return nil, fmt.Errorf("page index %d out of range (document has %d pages)", idx, total)
		}
		if seen[idx] {
			continue
		}
		seen[idx] = true
		selected = append(selected, idx)
	}
	sort.Ints(selected)
	return selected, nil
}
