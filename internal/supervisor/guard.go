package supervisor

import (
	"context"
	"errors"
	"fmt"
	"sync"
)

// ErrBusy is returned when an action of the same class is already running
// and the guard policy is reject.
var ErrBusy = errors.New("an action of this class is already running")

// Policy decides what happens to a second caller for a busy class.
type Policy string

const (
	// PolicyReject turns the second caller away with ErrBusy.
	PolicyReject Policy = "reject"
	// PolicyQueue makes the second caller wait for its turn.
	PolicyQueue Policy = "queue"
)

// Valid reports whether p is a known policy.
func (p Policy) Valid() bool {
	return p == PolicyReject || p == PolicyQueue
}

// Guard allows one in-flight run per action class.
type Guard struct {
	policy Policy
	mu     sync.Mutex
	slots  map[Class]chan struct{}
}

// NewGuard returns a guard with the given policy; unknown policies reject.
func NewGuard(policy Policy) *Guard {
	if !policy.Valid() {
		policy = PolicyReject
	}
	return &Guard{policy: policy, slots: make(map[Class]chan struct{})}
}

// Policy returns the effective policy.
func (g *Guard) Policy() Policy { return g.policy }

func (g *Guard) slot(class Class) chan struct{} {
	g.mu.Lock()
	defer g.mu.Unlock()
	ch, ok := g.slots[class]
	if !ok {
		ch = make(chan struct{}, 1)
		g.slots[class] = ch
	}
	return ch
}

// Acquire claims the class. The returned release func must be called once
// the run is over.
func (g *Guard) Acquire(ctx context.Context, class Class) (release func(), err error) {
	ch := g.slot(class)
	release = func() { <-ch }

	select {
	case ch <- struct{}{}:
		return release, nil
	default:
	}
	if g.policy == PolicyReject {
		return nil, fmt.Errorf("%w (class %s)", ErrBusy, class)
	}

	select {
	case ch <- struct{}{}:
		return release, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// Busy reports whether a run of class is in flight.
func (g *Guard) Busy(class Class) bool {
	return len(g.slot(class)) > 0
}
