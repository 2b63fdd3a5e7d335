// Package conflict decides whether local and remote versions of a record
// diverged and reconciles them.
package conflict

import (
	"strings"
	"unicode/utf8"

	"github.com/glidenotes/notesync/internal/models"
)

const (
	// TitleDistanceThreshold is the title edit distance above which a note
	// edit is significant.
	TitleDistanceThreshold = 5
	// ContentDistanceRatio is the share of the longer transcript that must
	// change for a note edit to be significant.
	ContentDistanceRatio = 0.10

	sampleLimit = 1000
	sampleEdge  = 500
)

// HasConflict reports whether both sides changed since the last agreed
// server version. A record that was never synced has nothing to conflict
// with, and a remote version that is not newer carries no new information.
func HasConflict(local *models.SyncFields, incomingServerUpdatedAt int64) bool {
	if local == nil || !local.HasServerState() {
		return false
	}
	if incomingServerUpdatedAt <= local.ServerUpdatedAt {
		return false
	}
	return local.HasLocalChanges()
}

// HasSignificantDifference reports whether local work differs from the remote
// version enough to be kept as a separate copy. Folder differences never are,
// action differences always are.
func HasSignificantDifference(local, remote models.Entity) bool {
	switch l := local.(type) {
	case *models.Note:
		r, ok := remote.(*models.Note)
		if !ok {
			return true
		}
		return notesDiffer(l, r)
	case *models.Folder:
		return false
	case *models.Action:
		return true
	}
	return true
}

func notesDiffer(local, remote *models.Note) bool {
	if Distance(local.Title, remote.Title) > TitleDistanceThreshold {
		return true
	}
	a, b := normalize(local.Transcript), normalize(remote.Transcript)
	longer := min(max(utf8.RuneCountInString(a), utf8.RuneCountInString(b)), sampleLimit)
	if longer == 0 {
		return false
	}
	return float64(Distance(a, b)) > ContentDistanceRatio*float64(longer)
}

// normalize folds case and collapses whitespace runs. Only transcripts are
// normalized; titles compare as typed.
func normalize(s string) string {
	return strings.ToLower(strings.Join(strings.Fields(s), " "))
}

// Distance is the Levenshtein distance between a and b, counted in runes.
// Inputs longer than 1000 runes are compared on their first and last 500
// runes only.
func Distance(a, b string) int {
	ra, rb := sample([]rune(a)), sample([]rune(b))
	if len(ra) < len(rb) {
		ra, rb = rb, ra
	}
	if len(rb) == 0 {
		return len(ra)
	}

	prev := make([]int, len(rb)+1)
	cur := make([]int, len(rb)+1)
	for j := range prev {
		prev[j] = j
	}
	for i := 1; i <= len(ra); i++ {
		cur[0] = i
		for j := 1; j <= len(rb); j++ {
			cost := 1
			if ra[i-1] == rb[j-1] {
				cost = 0
			}
			cur[j] = min(prev[j]+1, cur[j-1]+1, prev[j-1]+cost)
		}
		prev, cur = cur, prev
	}
	return prev[len(rb)]
}

func sample(r []rune) []rune {
	if len(r) <= sampleLimit {
		return r
	}
	out := make([]rune, 0, 2*sampleEdge)
	out = append(out, r[:sampleEdge]...)
	return append(out, r[len(r)-sampleEdge:]...)
}
