package score

import (
	"maps"
	"sync"

	"github.com/felixgeelhaar/stagegrade/internal/domain"
)

// Progress is the normalised state of an attempt, both values in [0,100]
type Progress struct {
	PercentScored   float64 `json:"percent_scored"`
	PercentComplete float64 `json:"percent_complete"`
}

// Tracker keeps the latest points per completed stage of one attempt and
// normalises them by completed weight plus the suffix weight still ahead.
// A repeated stage replaces its earlier result.
type Tracker struct {
	mu      sync.Mutex
	suffix  SuffixWeights
	weights map[domain.StageID]float64
	next    map[domain.StageID]domain.StageID
	points  map[domain.StageID]int
}

// NewTracker creates a tracker for an attempt on e
func NewTracker(e *domain.Exercise, suffix SuffixWeights) *Tracker {
	t := &Tracker{
		suffix:  suffix,
		weights: make(map[domain.StageID]float64),
		next:    make(map[domain.StageID]domain.StageID),
		points:  make(map[domain.StageID]int),
	}
	for _, s := range e.Stages() {
		t.weights[s.ID] = s.Weight
		t.next[s.ID] = s.DefaultTransition.Target
	}
	return t
}

// Record stores the points of a completed stage
func (t *Tracker) Record(id domain.StageID, points int) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.points[id] = points
}

// Points returns the recorded points of a stage
func (t *Tracker) Points(id domain.StageID) (int, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	p, ok := t.points[id]
	return p, ok
}

// Recorded returns a copy of the recorded points per stage
func (t *Tracker) Recorded() map[domain.StageID]int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return maps.Clone(t.points)
}

// Progress computes the percentages with next as the stage the student is
// on (EndOfExercise once the attempt is over). The suffix of next only
// counts stages not yet completed.
func (t *Tracker) Progress(next domain.StageID) Progress {
	t.mu.Lock()
	defer t.mu.Unlock()

	var completed, scored float64
	for id, p := range t.points {
		w := t.weights[id]
		completed += w
		scored += w * float64(p) / 100
	}

	remaining := 0.0
	if next != domain.EndOfExercise {
		remaining = t.suffix.Of(next) - t.completedAhead(next)
		if remaining < 0 {
			remaining = 0
		}
	}

	total := completed + remaining
	if total == 0 {
		if next == domain.EndOfExercise {
			return Progress{PercentComplete: 100}
		}
		return Progress{}
	}
	return Progress{
		PercentScored:   100 * scored / total,
		PercentComplete: 100 * completed / total,
	}
}

// completedAhead sums the weights of completed stages on the default path
// from id, walked the way ComputeSuffix walks it. They are already part of
// the completed weight.
func (t *Tracker) completedAhead(id domain.StageID) float64 {
	var total float64
	seen := make(map[domain.StageID]bool)
	for id != domain.EndOfExercise && !seen[id] {
		w, ok := t.weights[id]
		if !ok {
			break
		}
		seen[id] = true
		if _, done := t.points[id]; done {
			total += w
		}
		id = t.next[id]
	}
	return total
}
