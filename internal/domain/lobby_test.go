package domain

import (
	"errors"
	"testing"
	"time"
)

func TestLobbyTransitionsForwardOnly(t *testing.T) {
	t0 := time.Date(2024, 11, 22, 10, 0, 0, 0, time.UTC)
	lobby := Lobby{ID: "l1", Status: StatusWaiting, DurationSeconds: 600}

	if err := lobby.Transition(StatusFinished, t0); !errors.Is(err, ErrInvalidTransition) {
		t.Fatalf("expected skip to be rejected, got %v", err)
	}
	if err := lobby.Transition(StatusPlaying, t0); err != nil {
		t.Fatalf("start: %v", err)
	}
	if lobby.StartedAt == nil || !lobby.StartedAt.Equal(t0) {
		t.Fatalf("expected startedAt %v, got %v", t0, lobby.StartedAt)
	}
	if !lobby.Consistent() {
		t.Fatalf("expected consistent lobby after start")
	}
	if err := lobby.Transition(StatusWaiting, t0); !errors.Is(err, ErrInvalidTransition) {
		t.Fatalf("expected regression to be rejected, got %v", err)
	}
	if err := lobby.Transition(StatusFinished, t0.Add(time.Minute)); err != nil {
		t.Fatalf("finish: %v", err)
	}
	if lobby.FinishedAt == nil {
		t.Fatalf("expected finishedAt to be set")
	}
	if err := lobby.Transition(StatusResult, t0.Add(2*time.Minute)); err != nil {
		t.Fatalf("result: %v", err)
	}
	if _, ok := lobby.Status.Next(); ok {
		t.Fatalf("expected result to be terminal")
	}
}

func TestRemainingSeconds(t *testing.T) {
	t0 := time.Date(2024, 11, 22, 10, 0, 0, 0, time.UTC)
	waiting := Lobby{Status: StatusWaiting, DurationSeconds: 600}
	if got := waiting.RemainingSeconds(t0); got != 600 {
		t.Fatalf("waiting lobby: expected 600, got %d", got)
	}

	playing := Lobby{Status: StatusPlaying, DurationSeconds: 600, StartedAt: &t0}
	if got := playing.RemainingSeconds(t0.Add(90*time.Second + 400*time.Millisecond)); got != 510 {
		t.Fatalf("expected 510, got %d", got)
	}
	if got := playing.RemainingSeconds(t0.Add(11 * time.Minute)); got != 0 {
		t.Fatalf("expected 0 after deadline, got %d", got)
	}
	if !playing.Expired(t0.Add(10 * time.Minute)) {
		t.Fatalf("expected lobby expired at deadline")
	}
	if playing.Expired(t0.Add(9 * time.Minute)) {
		t.Fatalf("expected lobby still running")
	}
}

func TestConsistentDetectsMissingStart(t *testing.T) {
	broken := Lobby{Status: StatusPlaying}
	if broken.Consistent() {
		t.Fatalf("expected playing lobby without startedAt to be inconsistent")
	}
	if (Lobby{Status: StatusWaiting}).Consistent() == false {
		t.Fatalf("expected waiting lobby without startedAt to be consistent")
	}
}

func TestScoreFor(t *testing.T) {
	lobby := Lobby{PointsCorrect: 5, PointsIncorrect: -2}
	if lobby.ScoreFor(true) != 5 || lobby.ScoreFor(false) != -2 {
		t.Fatalf("unexpected score deltas")
	}
}
