package models

import (
	"testing"
	"time"
)

func TestJobStateValid(t *testing.T) {
	valid := []JobState{JobStateCreated, JobStateQueued, JobStateStarted, JobStateCompleted, JobStateFailed}
	for _, s := range valid {
		if !s.Valid() {
			t.Errorf("state %q should be valid", s)
		}
	}
	if JobState("running").Valid() {
		t.Error("unknown state should not be valid")
	}
}

func TestJobStateTerminal(t *testing.T) {
	if !JobStateCompleted.Terminal() {
		t.Error("completed should be terminal")
	}
	if !JobStateFailed.Terminal() {
		t.Error("failed should be terminal")
	}
	for _, s := range []JobState{JobStateCreated, JobStateQueued, JobStateStarted} {
		if s.Terminal() {
			t.Errorf("state %q should not be terminal", s)
		}
	}
}

func TestJobStateTransitions(t *testing.T) {
	cases := []struct {
		from, to JobState
		allowed  bool
	}{
		{JobStateCreated, JobStateQueued, true},
		{JobStateCreated, JobStateStarted, true}, // queued skipped when token free
		{JobStateCreated, JobStateFailed, true},
		{JobStateQueued, JobStateStarted, true},
		{JobStateQueued, JobStateFailed, true},
		{JobStateStarted, JobStateCompleted, true},
		{JobStateStarted, JobStateFailed, true},
		{JobStateCompleted, JobStateFailed, false},
		{JobStateCompleted, JobStateStarted, false},
		{JobStateFailed, JobStateStarted, false},
		{JobStateFailed, JobStateCompleted, false},
		{JobStateStarted, JobStateQueued, false},
		{JobStateQueued, JobStateCompleted, false},
	}
	for _, tc := range cases {
		if got := tc.from.CanTransition(tc.to); got != tc.allowed {
			t.Errorf("CanTransition(%q -> %q) = %v, want %v", tc.from, tc.to, got, tc.allowed)
		}
	}
}

func TestJobError(t *testing.T) {
	err := &JobError{Kind: ErrKindTimeout, Message: "worker exceeded 5s budget"}
	want := "timeout: worker exceeded 5s budget"
	if err.Error() != want {
		t.Errorf("Error() = %q, want %q", err.Error(), want)
	}
}

func TestJobDuration(t *testing.T) {
	j := &Job{}
	if j.Duration() != 0 {
		t.Error("unstarted job should have zero duration")
	}

	start := time.Now()
	end := start.Add(150 * time.Millisecond)
	j.StartedAt = &start
	if j.Duration() != 0 {
		t.Error("unresolved job should have zero duration")
	}

	j.CompletedAt = &end
	if j.Duration() != 150*time.Millisecond {
		t.Errorf("Duration() = %v, want 150ms", j.Duration())
	}
}
