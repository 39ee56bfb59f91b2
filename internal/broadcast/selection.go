package broadcast

import (
	"math/rand"
	"time"

	"adcast/internal/model"
)

// selectGroups filters a session's active groups down to the deliverable set
// for this job: group-level deliverability, optional ad group selection,
// optional priority opt-in.
func selectGroups(groups []model.Group, now time.Time, selected []int64, priorityOnly bool) []model.Group {
	var allow map[int64]bool
	if len(selected) > 0 {
		allow = make(map[int64]bool, len(selected))
		for _, id := range selected {
			allow[id] = true
		}
	}
	out := make([]model.Group, 0, len(groups))
	for _, g := range groups {
		if !g.Deliverable(now) {
			continue
		}
		if allow != nil && !allow[g.ID] {
			continue
		}
		if priorityOnly && !g.IsPriority {
			continue
		}
		out = append(out, g)
	}
	return out
}

// shuffleGroups randomises order in place (Fisher-Yates). A fresh order per
// round keeps a flood-truncated round from always starving the same tail.
func shuffleGroups(groups []model.Group) {
	rand.Shuffle(len(groups), func(i, j int) {
		groups[i], groups[j] = groups[j], groups[i]
	})
}

// uniformDuration draws from [min, max].
func uniformDuration(min, max time.Duration) time.Duration {
	if max <= min {
		return min
	}
	return min + time.Duration(rand.Int63n(int64(max-min)+1))
}
