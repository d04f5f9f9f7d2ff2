package processor

import (
	"mule_analyzer/internal/domain"
	"sort"
	"time"
)

// PassThroughMatches counts credits followed by a matching debit: a debit
// strictly after the credit and at most window later, whose absolute
// amount is within tolerance of the credit's. With firstOnly the scan stops
// at the first matched credit, so the result is 0 or 1.
//
// txs must be ordered by timestamp; undated rows are ignored.
func PassThroughMatches(txs []*domain.Transaction, window time.Duration, tolerance float64, firstOnly bool) int {
	var credits, debits []*domain.Transaction
	for _, tx := range txs {
		if !tx.HasTimestamp() {
			continue
		}
		switch tx.Type {
		case domain.TypeCredit:
			credits = append(credits, tx)
		case domain.TypeDebit:
			debits = append(debits, tx)
		}
	}
	if len(credits) == 0 || len(debits) == 0 {
		return 0
	}

	matches := 0
	for _, c := range credits {
		c := c
		lo := c.AbsAmount() * (1 - tolerance)
		hi := c.AbsAmount() * (1 + tolerance)
		end := c.Timestamp.Add(window)

		// first debit strictly after the credit
		start := sort.Search(len(debits), func(i int) bool {
			return debits[i].Timestamp.After(c.Timestamp)
		})
		for _, d := range debits[start:] {
			if d.Timestamp.After(end) {
				break
			}
			if amount := d.AbsAmount(); amount >= lo && amount <= hi {
				matches++
				break
			}
		}
		if firstOnly && matches > 0 {
			return matches
		}
	}
	return matches
}

// passThroughSample returns the mule accounts checked by the pass-through
// detector: input order, deduplicated, first n.
func passThroughSample(mules []string, n int) []string {
	seen := make(map[string]struct{}, len(mules))
	var out []string
	for _, id := range mules {
		if _, ok := seen[id]; ok {
			continue
		}
		seen[id] = struct{}{}
		out = append(out, id)
		if len(out) == n {
			break
		}
	}
	return out
}

func passThroughRate(in *Input) (flagged, sampled int, rate float64) {
	sample := passThroughSample(in.Mules, in.Params.PassThroughSample)
	for _, id := range sample {
		if PassThroughMatches(in.ByAccount[id], in.Params.PassThroughWindow, in.Params.PassThroughTolerance, true) > 0 {
			flagged++
		}
	}
	if len(sample) == 0 {
		return 0, 0, 0
	}
	return flagged, len(sample), float64(flagged) / float64(len(sample))
}
