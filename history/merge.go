package history

import "sort"

// Row is one point of a two-channel correlation view. A nil side means that
// channel has no sample at Timestamp.
type Row struct {
	Timestamp int64    `json:"timestamp"`
	A         *float64 `json:"a"`
	B         *float64 `json:"b"`
}

// Merge joins two series on the union of their timestamps, ascending. When a
// series holds several samples with the same timestamp the last one wins.
func Merge(a, b []Sample) []Row {
	rows := make(map[int64]*Row, len(a)+len(b))
	row := func(ts int64) *Row {
		r, ok := rows[ts]
		if !ok {
			r = &Row{Timestamp: ts}
			rows[ts] = r
		}
		return r
	}

	for _, s := range a {
		v := s.Value
		row(s.Timestamp).A = &v
	}
	for _, s := range b {
		v := s.Value
		row(s.Timestamp).B = &v
	}

	out := make([]Row, 0, len(rows))
	for _, r := range rows {
		out = append(out, *r)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Timestamp < out[j].Timestamp })
	return out
}
