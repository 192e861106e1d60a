package report

import "strconv"

// Delta captures rows added and removed between two runs.
type Delta struct {
	Added   Tables `json:"added"`
	Removed Tables `json:"removed"`
}

// Empty reports whether the two runs produced identical rows.
func (d Delta) Empty() bool {
	return d.Added.Len() == 0 && d.Removed.Len() == 0
}

// Len is the total row count across relations.
func (t Tables) Len() int {
	return len(t.Cells) + len(t.Residuals) + len(t.Duals)
}

// ComputeDelta computes row-level additions and removals between two runs.
func ComputeDelta(prev, next Tables) Delta {
	return Delta{
		Added:   diffTables(prev, next),
		Removed: diffTables(next, prev),
	}
}

func diffTables(from, to Tables) Tables {
	out := emptyTables()
	out.Cells = diffRows(from.Cells, to.Cells, cellKey)
	out.Residuals = diffRows(from.Residuals, to.Residuals, func(r ResidualRow) string {
		return r.Cell + "|" + r.Kind + "|" + r.Side + "|" + r.Name
	})
	out.Duals = diffRows(from.Duals, to.Duals, func(r DualRow) string {
		return r.Cell + "|" + r.Kind + "|" + r.Physical + "|" + r.Electrical
	})
	return out
}

func cellKey(r CellRow) string {
	return r.Cell + "|" + intKey(r.UnresolvedGroups) + "|" + intKey(r.UnresolvedDevices) + "|" +
		intKey(r.UnresolvedSubckts) + "|" + intKey(r.UnresolvedNodes) + "|" +
		intKey(r.UnresolvedEDevices) + "|" + intKey(r.UnresolvedESubckts) + "|" +
		intKey(r.Merged) + "|" + intKey(r.Flattened) + "|" +
		boolKey(r.Associated) + "|" + boolKey(r.Inconsistent)
}

func diffRows[T any](from, to []T, key func(T) string) []T {
	fromSet := make(map[string]struct{}, len(from))
	for _, row := range from {
		fromSet[key(row)] = struct{}{}
	}
	diff := []T{}
	for _, row := range to {
		if _, ok := fromSet[key(row)]; !ok {
			diff = append(diff, row)
		}
	}
	return diff
}

func boolKey(v bool) string {
	if v {
		return "1"
	}
	return "0"
}

func intKey(v int) string {
	return strconv.Itoa(v)
}
