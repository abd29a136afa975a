package optimize

import "sort"

// ============================================================================
// GRID SEARCH GENERATOR
// ============================================================================

// Grid maps each parameter name to its ordered list of candidate values
type Grid map[string][]interface{}

// Combinations returns every parameter combination as the full Cartesian
// product in lexicographic key order: the first parameter varies slowest.
// An empty grid yields a single empty ParameterSet. The result is
// deterministic and duplicate-free for duplicate-free value lists.
func (g Grid) Combinations() ([]ParameterSet, error) {
	names := g.sortedNames()
	total := 1
	for _, name := range names {
		if len(g[name]) == 0 {
			return nil, &ConfigurationError{Param: name, Reason: "empty value list in grid"}
		}
		total *= len(g[name])
	}

	combos := make([]ParameterSet, 0, total)
	idx := make([]int, len(names))
	for {
		set := make(ParameterSet, len(names))
		for i, name := range names {
			set[name] = g[name][idx[i]]
		}
		combos = append(combos, set)

		// Advance the odometer; the last key ticks fastest.
		i := len(names) - 1
		for ; i >= 0; i-- {
			idx[i]++
			if idx[i] < len(g[names[i]]) {
				break
			}
			idx[i] = 0
		}
		if i < 0 {
			break
		}
	}
	return combos, nil
}

// EstimateRuntime projects the combination count and the total wall-clock
// hours for a grid search given the average seconds per evaluation. It is
// pure arithmetic and never runs anything.
func (g Grid) EstimateRuntime(avgEvalSeconds float64) (count int, hours float64) {
	count = 1
	for _, values := range g {
		count *= len(values)
	}
	hours = float64(count) * avgEvalSeconds / 3600.0
	return count, hours
}

func (g Grid) sortedNames() []string {
	names := make([]string, 0, len(g))
	for name := range g {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
