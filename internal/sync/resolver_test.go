package sync

import (
	"testing"
	"time"
)

func ts(offset time.Duration) *time.Time {
	t := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC).Add(offset)
	return &t
}

func TestResolve(t *testing.T) {
	cases := []struct {
		name     string
		local    *time.Time
		external *time.Time
		synced   *time.Time
		want     Action
	}{
		{"nothing changed", ts(0), ts(0), ts(time.Hour), ActionNone},
		{"only local changed", ts(2 * time.Hour), ts(0), ts(time.Hour), ActionPushLocal},
		{"only external changed", ts(0), ts(2 * time.Hour), ts(time.Hour), ActionPullExternal},
		{"both changed, local newer", ts(3 * time.Hour), ts(2 * time.Hour), ts(time.Hour), ActionPushLocal},
		{"both changed, external newer", ts(2 * time.Hour), ts(3 * time.Hour), ts(time.Hour), ActionPullExternal},
		{"both changed, exact tie goes external", ts(2 * time.Hour), ts(2 * time.Hour), ts(time.Hour), ActionPullExternal},
		{"never synced, both present, local newer", ts(2 * time.Hour), ts(time.Hour), nil, ActionPushLocal},
		{"never synced, both present, external newer", ts(time.Hour), ts(2 * time.Hour), nil, ActionPullExternal},
		{"never synced, only local present", ts(0), nil, nil, ActionPushLocal},
		{"nil external never pulls", ts(0), nil, ts(time.Hour), ActionNone},
		{"nil external with local change pushes", ts(2 * time.Hour), nil, ts(time.Hour), ActionPushLocal},
		{"no timestamps at all", nil, nil, nil, ActionNone},
		{"external exactly at watermark is unchanged", ts(2 * time.Hour), ts(time.Hour), ts(time.Hour), ActionPushLocal},
		{"local exactly at watermark is unchanged", ts(time.Hour), ts(2 * time.Hour), ts(time.Hour), ActionPullExternal},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			got := Resolve(tc.local, tc.external, tc.synced)
			if got.Action != tc.want {
				t.Errorf("Resolve() = %s, want %s (reason %q)", got.Action, tc.want, got.Reason)
			}
			if got.Reason == "" {
				t.Error("Resolve() returned empty reason")
			}
		})
	}
}

func TestResolveIsDeterministic(t *testing.T) {
	local, external, synced := ts(time.Hour), ts(2*time.Hour), ts(0)
	first := Resolve(local, external, synced)
	for i := 0; i < 3; i++ {
		if got := Resolve(local, external, synced); got != first {
			t.Fatalf("Resolve() not deterministic: %+v vs %+v", got, first)
		}
	}
}
