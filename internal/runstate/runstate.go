// Package runstate tracks backtest runs for the server: it hands out
// generation-stamped tickets, cancels superseded runs, keeps the latest
// committed result, and pushes committed runs to subscribers.
package runstate

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"tickwise/internal/domain"
	"tickwise/internal/engine"
)

// Run is a committed backtest run.
type Run struct {
	ID         string                 `json:"runId"`
	Generation uint64                 `json:"generation"`
	Params     engine.Params          `json:"params"`
	StartedAt  time.Time              `json:"startedAt"`
	FinishedAt time.Time              `json:"finishedAt"`
	Result     *domain.BacktestResult `json:"result"`
}

// Ticket identifies an in-flight run. Ctx is cancelled when a newer run
// begins or when Done is called.
type Ticket struct {
	ID         string
	Generation uint64
	Params     engine.Params
	StartedAt  time.Time
	Ctx        context.Context

	cancel context.CancelFunc
}

// Done releases the ticket's context.
func (t Ticket) Done() {
	if t.cancel != nil {
		t.cancel()
	}
}

// Store holds run state in memory with pub/sub.
type Store struct {
	mu         sync.RWMutex
	generation uint64
	cancel     context.CancelFunc // of the current generation
	latest     *Run
	now        func() time.Time
	log        zerolog.Logger

	subsMu    sync.Mutex
	nextSubID int
	subs      map[int]chan Run
}

// NewStore creates an empty Store.
func NewStore(log zerolog.Logger) *Store {
	return &Store{
		now:  time.Now,
		log:  log.With().Str("component", "runstate").Logger(),
		subs: make(map[int]chan Run),
	}
}

// Begin starts a new generation derived from parent and cancels the
// previous one.
func (s *Store) Begin(parent context.Context, params engine.Params) Ticket {
	ctx, cancel := context.WithCancel(parent)

	s.mu.Lock()
	if s.cancel != nil {
		s.cancel()
	}
	s.generation++
	s.cancel = cancel
	t := Ticket{
		ID:         uuid.NewString(),
		Generation: s.generation,
		Params:     params,
		StartedAt:  s.now(),
		Ctx:        ctx,
		cancel:     cancel,
	}
	s.mu.Unlock()

	s.log.Debug().Str("run_id", t.ID).Uint64("generation", t.Generation).Msg("run started")
	return t
}

// Commit stores result as the latest run if t is still the current
// generation, and broadcasts it. It reports whether the result was kept.
func (s *Store) Commit(t Ticket, result *domain.BacktestResult) bool {
	s.mu.Lock()
	if t.Generation != s.generation {
		s.mu.Unlock()
		s.log.Info().Str("run_id", t.ID).Uint64("generation", t.Generation).Msg("stale run discarded")
		return false
	}
	run := Run{
		ID:         t.ID,
		Generation: t.Generation,
		Params:     t.Params,
		StartedAt:  t.StartedAt,
		FinishedAt: s.now(),
		Result:     result,
	}
	s.latest = &run
	s.mu.Unlock()

	s.broadcast(run)
	return true
}

// Current reports whether t is the newest generation.
func (s *Store) Current(t Ticket) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return t.Generation == s.generation
}

// Latest returns the last committed run.
func (s *Store) Latest() (Run, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.latest == nil {
		return Run{}, false
	}
	return *s.latest, true
}

// Subscribe returns a channel that receives committed runs. bufSize
// controls the channel buffer; slow consumers will have runs dropped.
func (s *Store) Subscribe(bufSize int) (int, <-chan Run) {
	ch := make(chan Run, bufSize)
	s.subsMu.Lock()
	id := s.nextSubID
	s.nextSubID++
	s.subs[id] = ch
	s.subsMu.Unlock()
	return id, ch
}

// Unsubscribe removes a subscriber and closes its channel.
func (s *Store) Unsubscribe(id int) {
	s.subsMu.Lock()
	if ch, ok := s.subs[id]; ok {
		delete(s.subs, id)
		close(ch)
	}
	s.subsMu.Unlock()
}

// broadcast sends a run to all subscribers non-blocking (drop on full).
func (s *Store) broadcast(r Run) {
	s.subsMu.Lock()
	defer s.subsMu.Unlock()
	for id, ch := range s.subs {
		select {
		case ch <- r:
		default:
			s.log.Debug().Int("subscriber", id).Msg("slow subscriber, run dropped")
		}
	}
}
