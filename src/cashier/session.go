package cashier

import (
	"math/big"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/onemorebsmith/spl-airdrop/src/model"
	"github.com/pkg/errors"
)

type RunState string

const (
	RunStateIdle      RunState = "idle"
	RunStateRunning   RunState = "running"
	RunStateCompleted RunState = "completed"
	RunStateCancelled RunState = "cancelled"
	RunStateFatal     RunState = "fatal"
)

var ErrNotRunning = errors.New("airdrop is not running")

// CancelToken is a one-shot cancellation request shared between the operator and the engine.
type CancelToken struct {
	once sync.Once
	done chan struct{}
}

func NewCancelToken() *CancelToken {
	return &CancelToken{done: make(chan struct{})}
}

func (t *CancelToken) Cancel() {
	t.once.Do(func() { close(t.done) })
}

func (t *CancelToken) Done() <-chan struct{} {
	return t.done
}

func (t *CancelToken) Cancelled() bool {
	select {
	case <-t.done:
		return true
	default:
		return false
	}
}

// Session is the state of a single airdrop run. Readers may poll it from any goroutine;
// only the engine writes.
type Session struct {
	RunID     string
	Sender    string
	Asset     string
	StartedAt time.Time

	token *CancelToken

	mu         sync.RWMutex
	state      RunState
	processed  int
	total      int
	outcomes   []model.DispatchOutcome
	fee        model.FeeOutcome
	finishedAt time.Time
}

func NewSession(sender, asset string) *Session {
	return &Session{
		RunID:     uuid.NewString(),
		Sender:    sender,
		Asset:     asset,
		StartedAt: time.Now(),
		token:     NewCancelToken(),
		state:     RunStateIdle,
	}
}

func (s *Session) Token() *CancelToken {
	return s.token
}

// Cancel asks the engine to stop before its next batch or attempt.
func (s *Session) Cancel() error {
	s.mu.RLock()
	state := s.state
	s.mu.RUnlock()
	if state != RunStateRunning {
		return errors.Wrapf(ErrNotRunning, "session %s is %s", s.RunID, state)
	}
	s.token.Cancel()
	return nil
}

func (s *Session) State() RunState {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.state
}

// Progress is the share of batches resolved so far, 0-100.
func (s *Session) Progress() float64 {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.total == 0 {
		return 0
	}
	return float64(s.processed) / float64(s.total) * 100
}

func (s *Session) Outcomes() []model.DispatchOutcome {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]model.DispatchOutcome, len(s.outcomes))
	copy(out, s.outcomes)
	return out
}

func (s *Session) FeePaid() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.fee.Paid
}

func (s *Session) Fee() model.FeeOutcome {
	s.mu.RLock()
	defer s.mu.RUnlock()
	fee := s.fee
	if fee.Amount != nil {
		fee.Amount = new(big.Int).Set(fee.Amount)
	}
	return fee
}

func (s *Session) FinishedAt() time.Time {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.finishedAt
}

func (s *Session) start(totalBatches int) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state != RunStateIdle {
		return errors.Errorf("session %s already %s", s.RunID, s.state)
	}
	s.state = RunStateRunning
	s.total = totalBatches
	s.processed = 0
	return nil
}

func (s *Session) batchResolved(outcomes ...model.DispatchOutcome) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.outcomes = append(s.outcomes, outcomes...)
	s.processed++
}

func (s *Session) feeResolved(fee model.FeeOutcome) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.fee = fee
	s.processed++
}

func (s *Session) setFeeQuote(amount *big.Int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.fee.Amount = new(big.Int).Set(amount)
}

func (s *Session) finish(state RunState) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.state = state
	s.finishedAt = time.Now()
}
