package graph

// Estimate is the expected duration of a run under its plan.
type Estimate struct {
	ParallelMinutes   int     `json:"parallel_minutes"`
	SequentialMinutes int     `json:"sequential_minutes"`
	SavedMinutes      int     `json:"saved_minutes"`
	Speedup           float64 `json:"speedup"`
}

func (g *DependencyGraph) minutesLocked(name string) int {
	if m := g.nodes[name].EstimatedMinutes; m > 0 {
		return m
	}
	return DefaultEstimatedMinutes
}

// Estimate sums the longest task of each batch for the parallel time and
// every task for the sequential time.
func (g *DependencyGraph) Estimate() (Estimate, error) {
	batches, err := g.Plan()
	if err != nil {
		return Estimate{}, err
	}

	g.mu.RLock()
	defer g.mu.RUnlock()

	var est Estimate
	for _, batch := range batches {
		longest := 0
		for _, name := range batch {
			m := g.minutesLocked(name)
			est.SequentialMinutes += m
			if m > longest {
				longest = m
			}
		}
		est.ParallelMinutes += longest
	}
	est.SavedMinutes = est.SequentialMinutes - est.ParallelMinutes
	if est.ParallelMinutes > 0 {
		est.Speedup = float64(est.SequentialMinutes) / float64(est.ParallelMinutes)
	}
	return est, nil
}

// CriticalPath returns the longest dependency chain by estimated minutes,
// first task first, together with its total length.
func (g *DependencyGraph) CriticalPath() ([]string, int, error) {
	order, err := g.TopologicalSort()
	if err != nil {
		return nil, 0, err
	}
	if len(order) == 0 {
		return nil, 0, nil
	}

	g.mu.RLock()
	defer g.mu.RUnlock()

	finish := make(map[string]int, len(order))
	prev := make(map[string]string, len(order))
	for _, name := range order {
		start := 0
		for _, dep := range g.edges[name] {
			if finish[dep] > start {
				start = finish[dep]
				prev[name] = dep
			}
		}
		finish[name] = start + g.minutesLocked(name)
	}

	end := order[0]
	for _, name := range order {
		if finish[name] > finish[end] {
			end = name
		}
	}

	var path []string
	for current := end; current != ""; current = prev[current] {
		path = append(path, current)
	}
	for i, j := 0, len(path)-1; i < j; i, j = i+1, j-1 {
		path[i], path[j] = path[j], path[i]
	}
	return path, finish[end], nil
}
