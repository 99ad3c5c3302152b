package pipeline

import (
	"sort"

	"github.com/Monadical-SAS/reflector/transcriptstore"
)

// MergeWords flattens per-track word lists (in track-index order) and
// stably sorts the result by Start ascending. Ties preserve track-index
// order because perTrack is concatenated that way and sort.SliceStable
// never reorders equal elements, so interleaved words from two speakers
// at the same timestamp stay grouped per speaker in insertion order.
func MergeWords(perTrack [][]transcriptstore.Word) []transcriptstore.Word {
	total := 0
	for _, t := range perTrack {
		total += len(t)
	}
	merged := make([]transcriptstore.Word, 0, total)
	for _, t := range perTrack {
		merged = append(merged, t...)
	}
	sort.SliceStable(merged, func(i, j int) bool { return merged[i].Start < merged[j].Start })
	return merged
}
