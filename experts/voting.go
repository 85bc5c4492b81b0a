package experts

import (
	"math"
	"sort"
)

// tally holds one class's aggregated numbers across strategies.
type tally struct {
	classID        int
	count          int
	sumEffective   float64
	sumWeight      float64
	bordaScore     float64
	bestRaw        float64
	bestConfidence float64
	bestExpertID   string
	members        []*Result
}

func buildTallies(results []*Result) map[int]*tally {
	tallies := make(map[int]*tally)
	for _, r := range results {
		t, ok := tallies[r.classID]
		if !ok {
			t = &tally{classID: r.classID, bestExpertID: r.ExpertID}
			tallies[r.classID] = t
		}
		t.count++
		t.members = append(t.members, r)
		if r.Score > t.bestRaw || (r.Score == t.bestRaw && r.ExpertID < t.bestExpertID) {
			t.bestRaw = r.Score
			t.bestConfidence = r.Confidence
			t.bestExpertID = r.ExpertID
		} else if r.Score == t.bestRaw && r.Confidence > t.bestConfidence {
			t.bestConfidence = r.Confidence
			t.bestExpertID = r.ExpertID
		}
	}
	return tallies
}

// effectiveScore applies the soft-scoring duplicate penalty: clones within
// a class of size > 1 are demoted proportionally to class size and the
// total expert count N.
func effectiveScore(raw float64, classSize, n int, penalty float64) float64 {
	if n == 0 {
		return raw
	}
	factor := 1 - penalty*float64(classSize-1)/float64(n)
	if factor < 0 {
		factor = 0
	}
	return raw * factor
}

// breakTie picks the winner among tied class IDs by: highest single raw
// score, then highest confidence, then lowest expertId lexicographically,
// per spec.md §4.3 rule 5.
func breakTie(tallies map[int]*tally, candidates []int) int {
	sort.Slice(candidates, func(i, j int) bool {
		a, b := tallies[candidates[i]], tallies[candidates[j]]
		if a.bestRaw != b.bestRaw {
			return a.bestRaw > b.bestRaw
		}
		if a.bestConfidence != b.bestConfidence {
			return a.bestConfidence > b.bestConfidence
		}
		return a.bestExpertID < b.bestExpertID
	})
	return candidates[0]
}

// topByMetric returns the class IDs tied for the highest value of metric.
func topByMetric(tallies map[int]*tally, metric func(*tally) float64) []int {
	best := math.Inf(-1)
	var ids []int
	for id, t := range tallies {
		v := metric(t)
		if v > best {
			best = v
			ids = []int{id}
		} else if v == best {
			ids = append(ids, id)
		}
	}
	return ids
}

// vote applies strategy to the clustered, effective-scored results and
// returns the winning classID plus the per-expert Vote records.
func vote(results []*Result, n int, strategy VotingStrategy, penalty float64) (int, []Vote) {
	tallies := buildTallies(results)
	votes := make([]Vote, 0, len(results))

	for _, r := range results {
		t := tallies[r.classID]
		eff := effectiveScore(r.Score, t.count, n, penalty)
		t.sumEffective += eff
		weight := eff / 100
		t.sumWeight += weight
		votes = append(votes, Vote{ExpertID: r.ExpertID, ClassID: r.classID, EffectiveScore: eff, Weight: weight})
	}

	var winner int
	switch strategy {
	case VoteWeighted:
		candidates := topByMetric(tallies, func(t *tally) float64 { return t.sumWeight })
		winner = breakTie(tallies, candidates)
	case VoteRanked:
		winner = instantRunoff(tallies, results)
	case VoteBorda:
		applyBorda(tallies, results)
		candidates := topByMetric(tallies, func(t *tally) float64 { return t.bordaScore })
		winner = breakTie(tallies, candidates)
	default: // majority: each expert casts one vote for its class
		candidates := topByMetric(tallies, func(t *tally) float64 { return float64(t.count) })
		winner = breakTie(tallies, candidates)
	}

	// Normalize weights to sum to 1 across all votes, per the Σ
	// vote-weights = 1 universal invariant.
	var totalWeight float64
	for _, v := range votes {
		totalWeight += v.Weight
	}
	if totalWeight > 0 {
		for i := range votes {
			votes[i].Weight /= totalWeight
		}
	}

	return winner, votes
}

// instantRunoff eliminates the lowest-ranked class each round (by count of
// first-place rankings among remaining classes) until one class holds a
// strict majority, per spec.md §4.3's ranked strategy. Each expert votes
// only for its own class; no ranking over the other classes is built, so
// the votes of an eliminated class are not transferred and each round is a
// first-place count among the remaining classes.
func instantRunoff(tallies map[int]*tally, results []*Result) int {
	alive := make(map[int]bool, len(tallies))
	for id := range tallies {
		alive[id] = true
	}
	if len(alive) == 1 {
		for id := range alive {
			return id
		}
	}

	for {
		firstPlace := make(map[int]int)
		for _, r := range results {
			if alive[r.classID] {
				firstPlace[r.classID]++
			}
		}
		total := 0
		for id := range alive {
			total += firstPlace[id]
		}
		for id := range alive {
			if total > 0 && firstPlace[id]*2 > total {
				return id
			}
		}
		// Eliminate the class with the fewest first-place votes.
		lowest := math.Inf(1)
		var toEliminate []int
		for id := range alive {
			v := float64(firstPlace[id])
			if v < lowest {
				lowest = v
				toEliminate = []int{id}
			} else if v == lowest {
				toEliminate = append(toEliminate, id)
			}
		}
		if len(alive) <= len(toEliminate) {
			return breakTie(tallies, toEliminate)
		}
		for _, id := range toEliminate {
			delete(alive, id)
		}
	}
}

// applyBorda scores each class by Σ (numClasses - rank) where rank is
// determined by descending raw score across all results.
func applyBorda(tallies map[int]*tally, results []*Result) {
	numClasses := len(tallies)
	ranked := make([]*Result, len(results))
	copy(ranked, results)
	sort.Slice(ranked, func(i, j int) bool { return ranked[i].Score > ranked[j].Score })
	for i, r := range ranked {
		tallies[r.classID].bordaScore += float64(numClasses - i)
	}
}
