package persistence

import "testing"

func TestResumeSequence(t *testing.T) {
	cases := []struct {
		name        string
		snapshotSeq int64
		logSeq      int64
		want        int64
	}{
		{"cold start", -1, -1, 0},
		{"snapshot only", 10, -1, 11},
		{"log only", -1, 5, 6},
		{"snapshot and log aligned", 10, 10, 11},
		// Crash after writing events 11..14 but before the next
		// snapshot: restarting at 11 would silently collide with
		// rows the log already holds.
		{"log ahead of snapshot", 10, 14, 15},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if got := ResumeSequence(tc.snapshotSeq, tc.logSeq); got != tc.want {
				t.Errorf("ResumeSequence(%d, %d) = %d, want %d",
					tc.snapshotSeq, tc.logSeq, got, tc.want)
			}
		})
	}
}
