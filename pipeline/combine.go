package pipeline

import "math"

// DefaultMaxCombinations caps the Cartesian product when no limit is configured
const DefaultMaxCombinations = 10000

// CandidateGroup is one algorithm per selected process, in process order
type CandidateGroup struct {
	Index      int      `json:"index"`
	Algorithms []string `json:"algorithms"`
}

// CountCombinations returns the size of the Cartesian product, saturating at math.MaxUint64
func CountCombinations(processes []string, candidates map[string][]string) uint64 {
	if len(processes) == 0 {
		return 0
	}
	total := uint64(1)
	for _, p := range processes {
		n := uint64(len(candidates[p]))
		if n == 0 {
			return 0
		}
		if total > math.MaxUint64/n {
			return math.MaxUint64
		}
		total *= n
	}
	return total
}

// Generate enumerates every one-algorithm-per-process combination. The last
// process varies fastest, so the order is stable for a given input order.
// The product size is checked against limit before anything is allocated;
// a limit <= 0 selects DefaultMaxCombinations.
func Generate(processes []string, candidates map[string][]string, limit int) ([]CandidateGroup, error) {
	if len(processes) == 0 {
		return nil, ErrNoProcesses
	}
	for _, p := range processes {
		if len(candidates[p]) == 0 {
			return nil, &NoCandidatesError{Process: p}
		}
	}
	if limit <= 0 {
		limit = DefaultMaxCombinations
	}

	count := CountCombinations(processes, candidates)
	if count > uint64(limit) {
		return nil, &CombinationLimitError{Count: count, Limit: limit}
	}

	groups := make([]CandidateGroup, 0, int(count))
	odometer := make([]int, len(processes))
	for {
		algs := make([]string, len(processes))
		for i, p := range processes {
			algs[i] = candidates[p][odometer[i]]
		}
		groups = append(groups, CandidateGroup{Index: len(groups), Algorithms: algs})

		// advance the odometer from the last position
		i := len(processes) - 1
		for ; i >= 0; i-- {
			odometer[i]++
			if odometer[i] < len(candidates[processes[i]]) {
				break
			}
			odometer[i] = 0
		}
		if i < 0 {
			return groups, nil
		}
	}
}
