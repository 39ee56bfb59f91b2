package broadcast

import (
	"testing"
	"time"

	"adcast/internal/model"
)

func TestSelectGroups(t *testing.T) {
	t.Parallel()
	now := time.Now()
	past := now.Add(-time.Hour)
	future := now.Add(time.Hour)

	groups := []model.Group{
		{ID: 1, IsActive: true},
		{ID: 2, IsActive: false},
		{ID: 3, IsActive: true, IsSkipped: true},
		{ID: 4, IsActive: true, HasRestrictions: true, RestrictionUntil: &future},
		{ID: 5, IsActive: true, HasRestrictions: true, RestrictionUntil: &past},
		{ID: 6, IsActive: true, HasRestrictions: true},
		{ID: 7, IsActive: true, IsPriority: true},
	}

	got := selectGroups(groups, now, nil, false)
	wantIDs := map[int64]bool{1: true, 5: true, 7: true}
	if len(got) != len(wantIDs) {
		t.Fatalf("selected %d groups, want %d: %+v", len(got), len(wantIDs), got)
	}
	for _, g := range got {
		if !wantIDs[g.ID] {
			t.Fatalf("group %d should not be deliverable", g.ID)
		}
	}

	// Ad-level selection intersects.
	got = selectGroups(groups, now, []int64{1, 3, 4}, false)
	if len(got) != 1 || got[0].ID != 1 {
		t.Fatalf("selection intersect = %+v, want just group 1", got)
	}

	// Priority opt-in narrows further.
	got = selectGroups(groups, now, nil, true)
	if len(got) != 1 || got[0].ID != 7 {
		t.Fatalf("priority filter = %+v, want just group 7", got)
	}
}

// Invariants: drawn delays stay inside their configured bounds.
func TestUniformDurationBounds(t *testing.T) {
	t.Parallel()
	min, max := 5*time.Second, 20*time.Second
	for i := 0; i < 1000; i++ {
		d := uniformDuration(min, max)
		if d < min || d > max {
			t.Fatalf("draw %v outside [%v, %v]", d, min, max)
		}
	}
	if d := uniformDuration(max, min); d != max {
		t.Fatalf("inverted bounds: got %v, want %v", d, max)
	}
}

func TestShuffleGroupsKeepsSet(t *testing.T) {
	t.Parallel()
	groups := make([]model.Group, 50)
	for i := range groups {
		groups[i] = model.Group{ID: int64(i)}
	}
	shuffleGroups(groups)
	seen := map[int64]bool{}
	for _, g := range groups {
		seen[g.ID] = true
	}
	if len(seen) != 50 {
		t.Fatalf("shuffle lost elements: %d distinct ids", len(seen))
	}
}
