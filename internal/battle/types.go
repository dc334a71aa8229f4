package battle

import (
	"encoding/json"
	"errors"
	"sync"
	"time"
)

// EndReason distinguishes the three ways an ONGOING battle can end. Exactly
// one of the racing callers wins the terminal CAS regardless of reason.
type EndReason string

const (
	EndNaturalTimeout EndReason = "NATURAL_TIMEOUT"
	EndBothSubmitted  EndReason = "BOTH_SUBMITTED"
	EndForced         EndReason = "FORCED"

	reasonReadinessTimeout = "READINESS_TIMEOUT"
	reasonCancelled        = "CANCELLED"
)

var (
	ErrNotFound     = errors.New("no live battle session")
	ErrForbidden    = errors.New("user is not a participant")
	ErrInvalidState = errors.New("operation not valid in current battle state")
	ErrSelfBattle   = errors.New("players must differ")
)

// session is the volatile per-battle state. It exists only while the battle
// is WAITING or ONGOING; the authoritative status lives in the store record.
type session struct {
	battleID string
	category string
	player1  string
	player2  string
	duration time.Duration
	config   json.RawMessage

	mu sync.Mutex
	// Readiness flags are monotonic: false->true only.
	ready1, ready2 bool
	// started flips once the WAITING->ONGOING CAS was won, so repeated ready
	// signals never re-evaluate the transition.
	started bool

	submissions map[string]string
	finals      map[string]bool
}

// setReady flips the caller's flag and reports whether this call changed it
// and whether both flags are now set.
func (s *session) setReady(username string) (changed, both bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	switch username {
	case s.player1:
		if !s.ready1 {
			s.ready1 = true
			changed = true
		}
	case s.player2:
		if !s.ready2 {
			s.ready2 = true
			changed = true
		}
	}
	return changed, s.ready1 && s.ready2
}

func (s *session) markStarted() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.started {
		return false
	}
	s.started = true
	return true
}

// clearStarted releases the start latch after a failed transition attempt so
// a retried ready signal can evaluate the start again.
func (s *session) clearStarted() {
	s.mu.Lock()
	s.started = false
	s.mu.Unlock()
}

func (s *session) saveSubmission(username, text string, final bool) (bothFinal bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.submissions[username] = text
	if final {
		s.finals[username] = true
	}
	return s.finals[s.player1] && s.finals[s.player2]
}

func (s *session) submissionSnapshot() map[string]string {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make(map[string]string, len(s.submissions))
	for k, v := range s.submissions {
		out[k] = v
	}
	return out
}

func (s *session) opponent(username string) (string, bool) {
	switch username {
	case s.player1:
		return s.player2, true
	case s.player2:
		return s.player1, true
	}
	return "", false
}
