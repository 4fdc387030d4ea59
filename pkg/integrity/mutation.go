package integrity

import (
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/marshallshelly/pebble-integrity/pkg/store"
)

// State is the lifecycle position of a mutation.
type State string

const (
	StatePending    State = "pending"
	StateValidating State = "validating"
	StateApplying   State = "applying"
	StateCommitted  State = "committed"
	StateRejected   State = "rejected"
)

var transitions = map[State][]State{
	StatePending:    {StateValidating, StateRejected},
	StateValidating: {StateApplying, StateRejected},
	StateApplying:   {StateCommitted, StateRejected},
}

// mutation tracks one logical write from request to commit or rejection.
type mutation struct {
	ID      string
	Op      string
	Kind    string
	Key     store.Key
	State   State
	Changes []store.Change

	started time.Time
	log     *zap.SugaredLogger
}

func newMutation(log *zap.SugaredLogger, op, kind string, key store.Key) *mutation {
	id := uuid.NewString()
	m := &mutation{
		ID:      id,
		Op:      op,
		Kind:    kind,
		Key:     key,
		State:   StatePending,
		started: time.Now(),
		log:     log.With("mutation", id, "op", op, "kind", kind),
	}
	m.log.Debugw("mutation pending", "key", key)
	return m
}

func (m *mutation) advance(to State) {
	allowed := false
	for _, s := range transitions[m.State] {
		if s == to {
			allowed = true
			break
		}
	}
	if !allowed {
		m.log.DPanicw("illegal mutation transition", "from", m.State, "to", to)
	}
	m.State = to
	m.log.Debugw("mutation "+string(to), "key", m.Key, "changes", len(m.Changes))
}

// finish records the outcome in logs and metrics and returns err unchanged.
func (m *mutation) finish(err error) error {
	if err != nil {
		m.advance(StateRejected)
		m.log.Infow("mutation rejected", "key", m.Key, "error", err)
	} else {
		m.advance(StateCommitted)
	}
	mutationsTotal.WithLabelValues(m.Op, m.Kind, outcome(err)).Inc()
	mutationDuration.WithLabelValues(m.Op).Observe(time.Since(m.started).Seconds())
	return err
}
