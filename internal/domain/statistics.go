package domain

// DuelStatistics summarizes a judgment log.
type DuelStatistics struct {
	Rounds       int                `json:"rounds"`
	Wins         map[string]int     `json:"wins"`
	AverageTotal map[string]float64 `json:"average_total"`
}

// ComputeStatistics derives per-agent wins and average totals. Both agents
// of every judgment appear in Wins even when they never won; ties count for
// neither. It returns nil when there are no judgments.
func ComputeStatistics(judgments []Judgment) *DuelStatistics {
	if len(judgments) == 0 {
		return nil
	}

	wins := make(map[string]int)
	sums := make(map[string]float64)
	counts := make(map[string]int)
	for _, j := range judgments {
		for _, side := range []struct {
			name  string
			total float64
		}{{j.NameA, j.TotalA}, {j.NameB, j.TotalB}} {
			if _, ok := wins[side.name]; !ok {
				wins[side.name] = 0
			}
			sums[side.name] += side.total
			counts[side.name]++
		}
		if !j.IsTie() {
			if _, ok := wins[j.Winner]; ok {
				wins[j.Winner]++
			}
		}
	}

	avg := make(map[string]float64, len(sums))
	for name, sum := range sums {
		avg[name] = RoundTotal(sum / float64(counts[name]))
	}

	return &DuelStatistics{Rounds: len(judgments), Wins: wins, AverageTotal: avg}
}
