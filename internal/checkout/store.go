package checkout

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/wufi/storefront-checkout/internal/clock"
	"github.com/wufi/storefront-checkout/internal/scheduler"
)

const advanceKey = "auto-advance"

// State is the observable checkout state.
type State struct {
	CurrentStep       StepID             `json:"currentStep"`
	FormData          FormData           `json:"formData"`
	CustomerType      CustomerType       `json:"customerType"`
	StepValidation    map[StepID]bool    `json:"stepValidation"`
	Online            bool               `json:"isOnline"`
	Loading           bool               `json:"isLoading"`
	Error             *CheckoutError     `json:"error"`
	PendingOperations []PendingOperation `json:"pendingOperations"`
	AutoAdvancement   AutoAdvancement    `json:"autoAdvancement"`
	OptimisticUpdates map[string]any     `json:"optimisticUpdates"`
}

// InitialState returns the state of a fresh checkout session.
func InitialState() State {
	validation := make(map[StepID]bool, len(Steps))
	for _, id := range Steps {
		validation[id] = false
	}
	return State{
		CurrentStep:       Steps[0],
		FormData:          FormData{},
		CustomerType:      CustomerPrivate,
		StepValidation:    validation,
		Online:            true,
		PendingOperations: []PendingOperation{},
		AutoAdvancement:   DefaultAutoAdvancement(),
		OptimisticUpdates: map[string]any{},
	}
}

func (st State) clone() State {
	out := st
	out.FormData = st.FormData.Clone()
	out.StepValidation = make(map[StepID]bool, len(st.StepValidation))
	for k, v := range st.StepValidation {
		out.StepValidation[k] = v
	}
	out.Error = st.Error.clone()
	out.PendingOperations = make([]PendingOperation, len(st.PendingOperations))
	for i, op := range st.PendingOperations {
		out.PendingOperations[i] = op.clone()
	}
	out.OptimisticUpdates = make(map[string]any, len(st.OptimisticUpdates))
	for k, v := range st.OptimisticUpdates {
		out.OptimisticUpdates[k] = v
	}
	return out
}

// Observer is notified of step transitions and pending-queue changes.
// Calls happen outside the store lock.
type Observer interface {
	StepChanged(from, to StepID, auto bool)
	PendingChanged(delta int)
}

type nopObserver struct{}

func (nopObserver) StepChanged(StepID, StepID, bool) {}
func (nopObserver) PendingChanged(int)               {}

// Option configures a Store.
type Option func(*Store)

// WithClock sets the clock used for timestamps, auto-advancement and retry
// backoff.
func WithClock(c clock.Clock) Option { return func(s *Store) { s.clock = c } }

// WithPersister sets where snapshots are written after persisted fields change.
func WithPersister(p Persister) Option { return func(s *Store) { s.persister = p } }

func WithLogger(l *zap.Logger) Option { return func(s *Store) { s.logger = l } }

func WithObserver(o Observer) Option { return func(s *Store) { s.observer = o } }

// WithIDGenerator overrides pending-operation id generation.
func WithIDGenerator(fn func() string) Option { return func(s *Store) { s.newID = fn } }

// WithBackoff overrides the retry backoff schedule.
func WithBackoff(fn func(retryCount int) time.Duration) Option {
	return func(s *Store) { s.backoff = fn }
}

// WithAutoAdvancement sets the auto-advancement defaults of the session. They
// are also what Reset restores.
func WithAutoAdvancement(a AutoAdvancement) Option {
	return func(s *Store) { s.initial.AutoAdvancement = a }
}

// Store is the single source of truth for one checkout session. It is safe
// for concurrent use; no method panics on bad input or returns network
// failures, which are recorded as data instead.
type Store struct {
	clock     clock.Clock
	sched     *scheduler.Scheduler
	persister Persister
	observer  Observer
	logger    *zap.Logger
	newID     func() string
	backoff   func(int) time.Duration
	initial   State

	persistMu sync.Mutex

	mu         sync.Mutex
	state      State
	advanceGen uint64
	retrying   map[string]bool
}

// NewStore returns a store in its initial state.
func NewStore(opts ...Option) *Store {
	s := &Store{
		clock:    clock.Real(),
		observer: nopObserver{},
		logger:   zap.NewNop(),
		newID:    uuid.NewString,
		backoff:  Backoff,
		initial:  InitialState(),
		retrying: make(map[string]bool),
	}
	for _, opt := range opts {
		opt(s)
	}
	s.sched = scheduler.New(s.clock)
	s.state = s.initial.clone()
	return s
}

// Close cancels pending timers. The store stays readable.
func (s *Store) Close() {
	s.sched.Close()
}

// unlockAndPersist releases s.mu and writes the snapshot taken while it was
// held. Snapshots reach the persister in commit order.
func (s *Store) unlockAndPersist() {
	if s.persister == nil {
		s.mu.Unlock()
		return
	}
	s.persistMu.Lock()
	snap := s.snapshotLocked()
	s.mu.Unlock()
	defer s.persistMu.Unlock()
	s.persister.Persist(snap)
}

// cancelAdvanceLocked invalidates any scheduled auto-advance.
func (s *Store) cancelAdvanceLocked() {
	s.advanceGen++
	s.sched.Cancel(advanceKey)
}

// SetCurrentStep cancels any pending auto-advance and moves to step without
// validation gating. Unknown steps are ignored.
func (s *Store) SetCurrentStep(step StepID) {
	if !step.Valid() {
		s.logger.Warn("ignoring unknown checkout step", zap.String("step", string(step)))
		return
	}
	s.mu.Lock()
	s.cancelAdvanceLocked()
	from := s.state.CurrentStep
	s.state.CurrentStep = step
	s.unlockAndPersist()

	if from != step {
		s.observer.StepChanged(from, step, false)
	}
}

// NextStep moves one step forward; no-op on the last step.
func (s *Store) NextStep() {
	s.move(StepID.Next)
}

// PrevStep moves one step back; no-op on the first step.
func (s *Store) PrevStep() {
	s.move(StepID.Prev)
}

func (s *Store) move(dir func(StepID) (StepID, bool)) {
	s.mu.Lock()
	from := s.state.CurrentStep
	to, ok := dir(from)
	if !ok {
		s.mu.Unlock()
		return
	}
	s.cancelAdvanceLocked()
	s.state.CurrentStep = to
	s.unlockAndPersist()

	s.observer.StepChanged(from, to, false)
}

// UpdateFormData shallow-merges partial into the accumulated form data.
func (s *Store) UpdateFormData(partial FormData) {
	if len(partial) == 0 {
		return
	}
	s.mu.Lock()
	s.state.FormData = s.state.FormData.Merge(partial)
	s.unlockAndPersist()
}

// ReplaceFormData swaps the whole form map, used after a merge patch.
func (s *Store) ReplaceFormData(data FormData) {
	s.mu.Lock()
	s.state.FormData = data.Clone()
	s.unlockAndPersist()
}

func (s *Store) SetCustomerType(ct CustomerType) {
	s.mu.Lock()
	s.state.CustomerType = ct
	s.unlockAndPersist()
}

// SetStepValid records step validity. A current step that becomes valid
// schedules an auto-advance when auto-advancement (on validation) is enabled
// and the store is not loading. A current step that becomes invalid cancels
// one.
func (s *Store) SetStepValid(step StepID, valid bool) {
	if !step.Valid() {
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	s.state.StepValidation[step] = valid
	if step != s.state.CurrentStep {
		return
	}
	if !valid {
		s.cancelAdvanceLocked()
		return
	}
	aa := s.state.AutoAdvancement
	if aa.Enabled && aa.OnValidation && !s.state.Loading {
		s.scheduleAdvanceLocked(step)
	}
}

// ScheduleAdvance schedules an auto-advance away from step, used once a
// step's submission succeeded. It reports whether a transition was scheduled.
func (s *Store) ScheduleAdvance(step StepID) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	if step != s.state.CurrentStep || !s.state.AutoAdvancement.Enabled {
		return false
	}
	if _, ok := s.state.AutoAdvancement.Target(step); !ok {
		return false
	}
	s.scheduleAdvanceLocked(step)
	return true
}

// AdvancePending reports whether an auto-advance is scheduled.
func (s *Store) AdvancePending() bool {
	return s.sched.Pending(advanceKey)
}

func (s *Store) scheduleAdvanceLocked(step StepID) {
	s.cancelAdvanceLocked()
	gen := s.advanceGen
	delay := s.state.AutoAdvancement.Delay()
	s.sched.Schedule(advanceKey, delay, func() { s.fireAdvance(step, gen) })
	s.logger.Debug("auto-advance scheduled",
		zap.String("step", string(step)),
		zap.Duration("delay", delay),
	)
}

// fireAdvance re-validates at fire time: the step must still be current and
// valid, auto-advancement still enabled, the store idle, and gen still the
// latest schedule.
func (s *Store) fireAdvance(step StepID, gen uint64) {
	s.mu.Lock()
	aa := s.state.AutoAdvancement
	stale := gen != s.advanceGen ||
		s.state.CurrentStep != step ||
		!s.state.StepValidation[step] ||
		!aa.Enabled ||
		s.state.Loading
	if stale {
		s.mu.Unlock()
		s.logger.Debug("auto-advance dropped", zap.String("step", string(step)))
		return
	}
	to, ok := aa.Target(step)
	if !ok {
		s.mu.Unlock()
		return
	}
	s.advanceGen++
	s.state.CurrentStep = to
	s.unlockAndPersist()

	s.logger.Info("auto-advanced", zap.String("from", string(step)), zap.String("to", string(to)))
	s.observer.StepChanged(step, to, true)
}

func (s *Store) SetLoading(loading bool) {
	s.mu.Lock()
	s.state.Loading = loading
	s.mu.Unlock()
}

// SetOnline records device connectivity. It reports whether the value changed.
func (s *Store) SetOnline(online bool) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	changed := s.state.Online != online
	s.state.Online = online
	return changed
}

// SetError replaces the active error. A nil error clears it.
func (s *Store) SetError(err *CheckoutError) {
	s.mu.Lock()
	s.state.Error = err.clone()
	s.mu.Unlock()
}

func (s *Store) ClearError() {
	s.SetError(nil)
}

// CreateError builds an error with the defaults of kind, stores it as the
// active error and returns it.
func (s *Store) CreateError(message string, kind Kind, opts ...ErrorOption) *CheckoutError {
	e := NewError(message, kind, opts...)
	s.SetError(e)
	return e
}

// AddPendingOperation enqueues op with a fresh id and timestamp and a zero
// retry count. It returns the id.
func (s *Store) AddPendingOperation(op PendingOperation) string {
	op = op.clone()
	op.ID = s.newID()
	op.CreatedAt = s.clock.Now()
	op.RetryCount = 0
	switch {
	case op.MaxRetries == 0:
		op.MaxRetries = DefaultMaxRetries
	case op.MaxRetries < 0:
		op.MaxRetries = 0
	}

	s.mu.Lock()
	s.state.PendingOperations = append(s.state.PendingOperations, op)
	s.mu.Unlock()

	s.logger.Info("pending operation queued",
		zap.String("id", op.ID),
		zap.String("type", string(op.Type)),
	)
	s.observer.PendingChanged(1)
	return op.ID
}

// RequeueOperation puts a due operation back after a failed re-submission,
// keeping its id and retry count.
func (s *Store) RequeueOperation(op PendingOperation) {
	s.mu.Lock()
	if s.indexLocked(op.ID) >= 0 {
		s.mu.Unlock()
		return
	}
	s.state.PendingOperations = append(s.state.PendingOperations, op.clone())
	s.mu.Unlock()

	s.observer.PendingChanged(1)
}

// RemovePendingOperation drops the operation with id. It reports whether it
// was queued.
func (s *Store) RemovePendingOperation(id string) bool {
	s.mu.Lock()
	removed := s.removeLocked(id)
	s.mu.Unlock()

	if removed {
		s.observer.PendingChanged(-1)
	}
	return removed
}

func (s *Store) indexLocked(id string) int {
	for i, op := range s.state.PendingOperations {
		if op.ID == id {
			return i
		}
	}
	return -1
}

func (s *Store) removeLocked(id string) bool {
	i := s.indexLocked(id)
	if i < 0 {
		return false
	}
	ops := s.state.PendingOperations
	s.state.PendingOperations = append(ops[:i:i], ops[i+1:]...)
	return true
}

// RetryOperation prepares the operation with id for re-submission. A missing
// operation yields nothing; an exhausted one is removed. Otherwise its retry
// count is incremented, the backoff for the previous count is waited out,
// and the operation is dequeued and returned with due=true. The caller owns
// the re-submission and requeues on failure.
//
// If ctx ends during the wait the operation stays queued and ctx.Err() is
// returned.
func (s *Store) RetryOperation(ctx context.Context, id string) (op PendingOperation, due bool, err error) {
	s.mu.Lock()
	i := s.indexLocked(id)
	if i < 0 || s.retrying[id] {
		s.mu.Unlock()
		return PendingOperation{}, false, nil
	}
	cur := s.state.PendingOperations[i]
	if cur.Exhausted() {
		s.removeLocked(id)
		s.mu.Unlock()
		s.logger.Warn("pending operation exhausted",
			zap.String("id", id),
			zap.String("type", string(cur.Type)),
			zap.Int("retries", cur.RetryCount),
		)
		s.observer.PendingChanged(-1)
		return cur.clone(), false, nil
	}
	wait := s.backoff(cur.RetryCount)
	s.state.PendingOperations[i].RetryCount++
	op = s.state.PendingOperations[i].clone()
	s.retrying[id] = true
	s.mu.Unlock()

	defer func() {
		s.mu.Lock()
		delete(s.retrying, id)
		s.mu.Unlock()
	}()

	if err := clock.SleepOrDone(ctx, s.clock, wait); err != nil {
		return op, false, err
	}
	if !s.RemovePendingOperation(id) {
		return op, false, nil
	}
	return op, true, nil
}

// RetryPendingOperations runs RetryOperation for every queued operation
// concurrently and discards those at their ceiling. Due operations are
// returned in creation order.
func (s *Store) RetryPendingOperations(ctx context.Context) ([]PendingOperation, error) {
	ops := s.PendingOperations()

	var (
		mu  sync.Mutex
		due []PendingOperation
	)
	g, gctx := errgroup.WithContext(ctx)
	for _, op := range ops {
		if op.Exhausted() {
			s.RemovePendingOperation(op.ID)
			continue
		}
		id := op.ID
		g.Go(func() error {
			got, ok, err := s.RetryOperation(gctx, id)
			if err != nil {
				return err
			}
			if ok {
				mu.Lock()
				due = append(due, got)
				mu.Unlock()
			}
			return nil
		})
	}
	err := g.Wait()

	sort.SliceStable(due, func(i, j int) bool {
		return due[i].CreatedAt.Before(due[j].CreatedAt)
	})
	return due, err
}

func (s *Store) AddOptimisticUpdate(key string, value any) {
	s.mu.Lock()
	s.state.OptimisticUpdates[key] = value
	s.mu.Unlock()
}

func (s *Store) RemoveOptimisticUpdate(key string) {
	s.mu.Lock()
	delete(s.state.OptimisticUpdates, key)
	s.mu.Unlock()
}

// SetAutoAdvancement replaces the settings. Disabling cancels a scheduled
// transition.
func (s *Store) SetAutoAdvancement(a AutoAdvancement) {
	s.mu.Lock()
	s.state.AutoAdvancement = a
	if !a.Enabled {
		s.cancelAdvanceLocked()
	}
	s.unlockAndPersist()
}

// ToggleAutoAdvancement flips the enabled flag and returns the new value.
func (s *Store) ToggleAutoAdvancement() bool {
	a := s.AutoAdvancement()
	a.Enabled = !a.Enabled
	s.SetAutoAdvancement(a)
	return a.Enabled
}

// CanProceedToStep reports whether every step before step is valid. The
// current step does not matter: going back is a navigation question.
func (s *Store) CanProceedToStep(step StepID) bool {
	target := step.Index()
	if target < 0 {
		return false
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, id := range Steps[:target] {
		if !s.state.StepValidation[id] {
			return false
		}
	}
	return true
}

// NextStepID returns the step after the current one.
func (s *Store) NextStepID() (StepID, bool) {
	return s.CurrentStep().Next()
}

// PrevStepID returns the step before the current one.
func (s *Store) PrevStepID() (StepID, bool) {
	return s.CurrentStep().Prev()
}

// Reset restores every checkout field to its initial value and cancels
// timers. Device connectivity is kept.
func (s *Store) Reset() {
	s.mu.Lock()
	s.cancelAdvanceLocked()
	dropped := len(s.state.PendingOperations)
	online := s.state.Online
	s.state = s.initial.clone()
	s.state.Online = online
	s.unlockAndPersist()

	if dropped > 0 {
		s.observer.PendingChanged(-dropped)
	}
	s.logger.Info("checkout reset")
}

// Hydrate restores the persisted subset from snap.
func (s *Store) Hydrate(snap Snapshot) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.cancelAdvanceLocked()
	if snap.FormData != nil {
		s.state.FormData = snap.FormData.Clone()
	}
	if snap.CustomerType != "" {
		s.state.CustomerType = snap.CustomerType
	}
	if snap.CurrentStep.Valid() {
		s.state.CurrentStep = snap.CurrentStep
	}
	s.state.AutoAdvancement = snap.AutoAdvancement
}

func (s *Store) snapshotLocked() Snapshot {
	return Snapshot{
		FormData:        s.state.FormData.Clone(),
		CustomerType:    s.state.CustomerType,
		CurrentStep:     s.state.CurrentStep,
		AutoAdvancement: s.state.AutoAdvancement,
	}
}

// Snapshot returns the persisted subset of the state.
func (s *Store) Snapshot() Snapshot {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.snapshotLocked()
}

// State returns a deep copy of the observable state.
func (s *Store) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state.clone()
}

func (s *Store) CurrentStep() StepID {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state.CurrentStep
}

func (s *Store) FormData() FormData {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state.FormData.Clone()
}

func (s *Store) Online() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state.Online
}

func (s *Store) Loading() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state.Loading
}

// Error returns a copy of the active error, or nil.
func (s *Store) Error() *CheckoutError {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state.Error.clone()
}

func (s *Store) HasError() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state.Error != nil
}

func (s *Store) StepValid(step StepID) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state.StepValidation[step]
}

func (s *Store) AutoAdvancement() AutoAdvancement {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state.AutoAdvancement
}

// PendingOperations returns a copy of the retry queue.
func (s *Store) PendingOperations() []PendingOperation {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]PendingOperation, len(s.state.PendingOperations))
	for i, op := range s.state.PendingOperations {
		out[i] = op.clone()
	}
	return out
}
