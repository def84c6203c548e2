package app

import (
	"sync"
	"time"

	"time-attack-quiz/internal/domain"
)

// Timekeeper finishes lobbies when their countdown reaches zero.
type Timekeeper struct {
	expire func(lobbyID string)

	mu      sync.Mutex
	timers  map[string]*time.Timer
	stopped bool
}

func NewTimekeeper(expire func(lobbyID string)) *Timekeeper {
	return &Timekeeper{
		expire: expire,
		timers: make(map[string]*time.Timer),
	}
}

// Schedule arms the timer of a playing lobby, replacing any earlier one.
func (k *Timekeeper) Schedule(lobby domain.Lobby, now time.Time) {
	deadline, ok := lobby.Deadline()
	if !ok {
		return
	}
	delay := deadline.Sub(now)
	if delay < 0 {
		delay = 0
	}

	k.mu.Lock()
	defer k.mu.Unlock()
	if k.stopped {
		return
	}
	if t, ok := k.timers[lobby.ID]; ok {
		t.Stop()
	}
	id := lobby.ID
	var timer *time.Timer
	timer = time.AfterFunc(delay, func() {
		k.mu.Lock()
		if k.timers[id] != timer {
			k.mu.Unlock()
			return
		}
		delete(k.timers, id)
		k.mu.Unlock()
		k.expire(id)
	})
	k.timers[id] = timer
}

// Cancel disarms the timer of a lobby.
func (k *Timekeeper) Cancel(lobbyID string) {
	k.mu.Lock()
	defer k.mu.Unlock()
	if t, ok := k.timers[lobbyID]; ok {
		t.Stop()
		delete(k.timers, lobbyID)
	}
}

// Pending reports how many lobbies have an armed timer.
func (k *Timekeeper) Pending() int {
	k.mu.Lock()
	defer k.mu.Unlock()
	return len(k.timers)
}

// Stop disarms every timer; later Schedule calls are ignored.
func (k *Timekeeper) Stop() {
	k.mu.Lock()
	defer k.mu.Unlock()
	k.stopped = true
	for id, t := range k.timers {
		t.Stop()
		delete(k.timers, id)
	}
}
