package model

import (
	"cmp"
	"sort"
	"strconv"
	"strings"
)

// Before reports whether a sorts before b in the canonical listing order:
// CreatedAt descending, then ID descending.
func Before(a, b Alert) bool {
	if !a.CreatedAt.Equal(b.CreatedAt) {
		return a.CreatedAt.After(b.CreatedAt)
	}
	return compareIDs(a.ID, b.ID) > 0
}

// SortAlerts sorts alerts in place in canonical order.
func SortAlerts(alerts []Alert) {
	sort.SliceStable(alerts, func(i, j int) bool {
		return Before(alerts[i], alerts[j])
	})
}

// compareIDs compares numerically when both IDs are integers so that
// "10" sorts after "9". Integer IDs rank below non-integer IDs, which
// compare lexically, keeping the order total for mixed sets.
func compareIDs(a, b string) int {
	ai, errA := strconv.ParseInt(a, 10, 64)
	bi, errB := strconv.ParseInt(b, 10, 64)
	switch {
	case errA == nil && errB == nil:
		if c := cmp.Compare(ai, bi); c != 0 {
			return c
		}
	case errA == nil:
		return -1
	case errB == nil:
		return 1
	}
	return strings.Compare(a, b)
}
