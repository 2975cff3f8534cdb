package engine

import "github.com/hamed0406/netprobe/internal/probe"

// Completed counts targets that produced at least one result.
func Completed(items []Item) int {
	return Count(items, func(it Item) bool { return len(it.Results) > 0 })
}

// Count counts items matching pred.
func Count(items []Item, pred func(Item) bool) int {
	n := 0
	for _, it := range items {
		if pred(it) {
			n++
		}
	}
	return n
}

// CountResults counts individual (spec, result) pairs matching pred.
func CountResults(items []Item, pred func(probe.Spec, probe.Result) bool) int {
	n := 0
	for _, it := range items {
		for s, r := range it.Results {
			if pred(s, r) {
				n++
			}
		}
	}
	return n
}

// AllOK is an item predicate: every requested probe succeeded.
func AllOK(it Item) bool {
	if len(it.Results) == 0 {
		return false
	}
	for _, r := range it.Results {
		if !r.OK {
			return false
		}
	}
	return true
}

type SpecStats struct {
	Passed       int     `json:"passed"`
	Failed       int     `json:"failed"`
	AvgElapsedMS float64 `json:"avg_elapsed_ms"`
}

type Summary struct {
	Targets   int                      `json:"targets"`
	Completed int                      `json:"completed"`
	Healthy   int                      `json:"healthy"`
	PerSpec   map[probe.Spec]SpecStats `json:"per_probe"`
}

// Summarize computes pass/fail counts and mean latency per spec.
func Summarize(items []Item) Summary {
	s := Summary{
		Targets:   len(items),
		Completed: Completed(items),
		Healthy:   Count(items, AllOK),
		PerSpec:   make(map[probe.Spec]SpecStats),
	}
	totals := make(map[probe.Spec]float64)
	for _, it := range items {
		for spec, r := range it.Results {
			st := s.PerSpec[spec]
			if r.OK {
				st.Passed++
			} else {
				st.Failed++
			}
			totals[spec] += r.ElapsedMS
			s.PerSpec[spec] = st
		}
	}
	for spec, st := range s.PerSpec {
		if n := st.Passed + st.Failed; n > 0 {
			st.AvgElapsedMS = totals[spec] / float64(n)
		}
		s.PerSpec[spec] = st
	}
	return s
}
