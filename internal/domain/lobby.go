package domain

import "time"

// LobbyStatus is the lifecycle state of a lobby.
type LobbyStatus string

const (
	StatusWaiting  LobbyStatus = "waiting"
	StatusPlaying  LobbyStatus = "playing"
	StatusFinished LobbyStatus = "finished"
	StatusResult   LobbyStatus = "result"
)

var statusOrder = map[LobbyStatus]int{
	StatusWaiting:  0,
	StatusPlaying:  1,
	StatusFinished: 2,
	StatusResult:   3,
}

// Valid reports whether s is a known status.
func (s LobbyStatus) Valid() bool {
	_, ok := statusOrder[s]
	return ok
}

// Next returns the status that follows s, or false if s is terminal.
func (s LobbyStatus) Next() (LobbyStatus, bool) {
	switch s {
	case StatusWaiting:
		return StatusPlaying, true
	case StatusPlaying:
		return StatusFinished, true
	case StatusFinished:
		return StatusResult, true
	}
	return "", false
}

// Started reports whether a lobby in status s has a start timestamp.
func (s LobbyStatus) Started() bool {
	return statusOrder[s] >= statusOrder[StatusPlaying]
}

// Transition moves the lobby one step forward to status to.
// Lifecycle moves never regress or skip a step.
func (l *Lobby) Transition(to LobbyStatus, now time.Time) error {
	next, ok := l.Status.Next()
	if !ok || next != to {
		return ErrInvalidTransition
	}
	switch to {
	case StatusPlaying:
		t := now
		l.StartedAt = &t
	case StatusFinished:
		t := now
		l.FinishedAt = &t
	}
	l.Status = to
	return nil
}

// Deadline is the instant the countdown reaches zero. ok is false before start.
func (l Lobby) Deadline() (time.Time, bool) {
	if l.StartedAt == nil {
		return time.Time{}, false
	}
	return l.StartedAt.Add(time.Duration(l.DurationSeconds) * time.Second), true
}

// RemainingSeconds is the whole seconds left on the countdown at now.
// It is the full duration before start and zero once the lobby is over.
func (l Lobby) RemainingSeconds(now time.Time) int {
	switch {
	case l.Status == StatusWaiting:
		return l.DurationSeconds
	case l.Status != StatusPlaying || l.StartedAt == nil:
		return 0
	}
	elapsed := int(now.Sub(*l.StartedAt) / time.Second)
	remaining := l.DurationSeconds - elapsed
	if remaining < 0 {
		return 0
	}
	if remaining > l.DurationSeconds {
		return l.DurationSeconds
	}
	return remaining
}

// Expired reports whether a playing lobby has run past its deadline.
func (l Lobby) Expired(now time.Time) bool {
	deadline, ok := l.Deadline()
	return ok && l.Status == StatusPlaying && !now.Before(deadline)
}

// Consistent checks the StartedAt invariant.
func (l Lobby) Consistent() bool {
	return l.Status.Valid() && (l.StartedAt != nil) == l.Status.Started()
}

// ScoreFor returns the score delta for an answer to this lobby.
func (l Lobby) ScoreFor(correct bool) int {
	if correct {
		return l.PointsCorrect
	}
	return l.PointsIncorrect
}
