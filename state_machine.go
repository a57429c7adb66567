package authclient

import (
	"fmt"
	"sync"
	"time"
)

// SessionState is the primary identity lifecycle state.
type SessionState string

const (
	StateUnauthenticated SessionState = "unauthenticated"
	StateAuthenticating  SessionState = "authenticating"
	StateAuthenticated   SessionState = "authenticated"
	StateRefreshing      SessionState = "refreshing"
)

// sessionTransitions is the allowed transition graph. Logout may happen from
// anywhere and a new login may start from anywhere, since it replaces the
// prior session atomically.
var sessionTransitions = map[SessionState]map[SessionState]struct{}{
	StateUnauthenticated: {
		StateAuthenticating: {},
		StateAuthenticated:  {},
	},
	StateAuthenticating: {
		StateAuthenticating:  {},
		StateAuthenticated:   {},
		StateUnauthenticated: {},
	},
	StateAuthenticated: {
		StateAuthenticating:  {},
		StateAuthenticated:   {},
		StateRefreshing:      {},
		StateUnauthenticated: {},
	},
	StateRefreshing: {
		StateAuthenticating:  {},
		StateAuthenticated:   {},
		StateUnauthenticated: {},
	},
}

// StateChange is delivered to listeners after every transition.
type StateChange struct {
	From    SessionState
	To      SessionState
	Session *Session
	Err     error
	At      time.Time
}

// StateListener receives state changes. Listeners run synchronously on the
// goroutine that caused the transition and must not block.
type StateListener func(StateChange)

type sessionStateMachine struct {
	mu        sync.Mutex
	state     SessionState
	listeners map[int]StateListener
	nextID    int
	now       func() time.Time
}

func newSessionStateMachine(now func() time.Time) *sessionStateMachine {
	if now == nil {
		now = time.Now
	}
	return &sessionStateMachine{
		state:     StateUnauthenticated,
		listeners: make(map[int]StateListener),
		now:       now,
	}
}

func (sm *sessionStateMachine) current() SessionState {
	sm.mu.Lock()
	defer sm.mu.Unlock()
	return sm.state
}

func (sm *sessionStateMachine) subscribe(l StateListener) func() {
	sm.mu.Lock()
	defer sm.mu.Unlock()
	id := sm.nextID
	sm.nextID++
	sm.listeners[id] = l
	return func() {
		sm.mu.Lock()
		defer sm.mu.Unlock()
		delete(sm.listeners, id)
	}
}

// transition moves to target. Unauthenticated to Unauthenticated is a no-op,
// except that a non-nil cause is still delivered so listeners see failures
// that happen before any login started.
func (sm *sessionStateMachine) transition(target SessionState, sess *Session, cause error) error {
	sm.mu.Lock()
	from := sm.state
	if from == StateUnauthenticated && target == StateUnauthenticated && cause == nil {
		sm.mu.Unlock()
		return nil
	}
	if _, ok := sessionTransitions[from][target]; !ok {
		sm.mu.Unlock()
		return fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, from, target)
	}
	sm.state = target
	listeners := make([]StateListener, 0, len(sm.listeners))
	for _, l := range sm.listeners {
		listeners = append(listeners, l)
	}
	sm.mu.Unlock()

	change := StateChange{From: from, To: target, Session: sess, Err: cause, At: sm.now()}
	for _, l := range listeners {
		l(change)
	}
	return nil
}
