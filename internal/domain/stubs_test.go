package domain_test

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/skylift/skylift-server/internal/domain"
)

// The stubs below are in-memory ports shared by the workflow, fan-out,
// and promotion tests. They honor the same conditional-write semantics
// as the real repositories so concurrency assertions hold.

type memBuilds struct {
	mu     sync.Mutex
	builds map[domain.BuildKey]domain.Build
}

func newMemBuilds() *memBuilds {
	return &memBuilds{builds: make(map[domain.BuildKey]domain.Build)}
}

func (m *memBuilds) Create(_ context.Context, b domain.Build) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.builds[b.Key()]; ok {
		return fmt.Errorf("build %s: %w", b.Key(), domain.ErrAlreadyExists)
	}
	m.builds[b.Key()] = b
	return nil
}

func (m *memBuilds) Get(_ context.Context, key domain.BuildKey) (domain.Build, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	b, ok := m.builds[key]
	if !ok {
		return domain.Build{}, fmt.Errorf("build %s: %w", key, domain.ErrNotFound)
	}
	return b, nil
}

func (m *memBuilds) ListByEnvironment(_ context.Context, environment string) ([]domain.Build, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []domain.Build
	for _, b := range m.builds {
		if b.Environment == environment {
			out = append(out, b)
		}
	}
	return out, nil
}

type memTargets struct {
	mu      sync.Mutex
	targets map[domain.TargetKey]domain.Target
}

func newMemTargets() *memTargets {
	return &memTargets{targets: make(map[domain.TargetKey]domain.Target)}
}

func (m *memTargets) Put(_ context.Context, target domain.Target) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if target.Default {
		for k, t := range m.targets {
			if t.Environment == target.Environment && t.Default {
				t.Default = false
				m.targets[k] = t
			}
		}
	}
	m.targets[target.Key()] = target
	return nil
}

func (m *memTargets) Get(_ context.Context, key domain.TargetKey) (domain.Target, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	t, ok := m.targets[key]
	if !ok {
		return domain.Target{}, fmt.Errorf("target %s/%s: %w", key.Environment, key.Label, domain.ErrNotFound)
	}
	return t, nil
}

func (m *memTargets) GetDefault(_ context.Context, environment string) (domain.Target, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, t := range m.targets {
		if t.Environment == environment && t.Default {
			return t, nil
		}
	}
	return domain.Target{}, fmt.Errorf("no default target for %q: %w", environment, domain.ErrNotConfigured)
}

func (m *memTargets) List(_ context.Context, environment string) ([]domain.Target, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []domain.Target
	for _, t := range m.targets {
		if t.Environment == environment {
			out = append(out, t)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Label < out[j].Label })
	return out, nil
}

func (m *memTargets) Delete(_ context.Context, key domain.TargetKey) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.targets[key]; !ok {
		return domain.ErrNotFound
	}
	delete(m.targets, key)
	return nil
}

type memLocks struct {
	mu    sync.Mutex
	locks map[string]domain.Lock
}

func newMemLocks() *memLocks {
	return &memLocks{locks: make(map[string]domain.Lock)}
}

func (m *memLocks) Acquire(_ context.Context, key, holder string, ttl time.Duration) (domain.Lock, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	now := time.Now()
	if l, ok := m.locks[key]; ok && l.Status == domain.LockHeld && l.ExpiresAt.After(now) {
		return domain.Lock{}, fmt.Errorf("lock %s held by %s: %w", key, l.Holder, domain.ErrBusy)
	}
	lock := domain.Lock{
		Key:        key,
		Holder:     holder,
		Status:     domain.LockHeld,
		AcquiredAt: now,
		ExpiresAt:  now.Add(ttl),
	}
	m.locks[key] = lock
	return lock, nil
}

func (m *memLocks) Renew(_ context.Context, key, holder string, ttl time.Duration) (domain.Lock, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	now := time.Now()
	l, ok := m.locks[key]
	if !ok || l.Holder != holder || l.Status != domain.LockHeld || !l.ExpiresAt.After(now) {
		return domain.Lock{}, fmt.Errorf("lock %s: %w", key, domain.ErrLockLost)
	}
	l.ExpiresAt = now.Add(ttl)
	m.locks[key] = l
	return l, nil
}

func (m *memLocks) Release(_ context.Context, key, holder string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if l, ok := m.locks[key]; ok && l.Holder == holder && l.Status == domain.LockHeld {
		l.Status = domain.LockReleased
		m.locks[key] = l
	}
	return nil
}

func (m *memLocks) Get(_ context.Context, key string) (domain.Lock, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	l, ok := m.locks[key]
	if !ok {
		return domain.Lock{}, domain.ErrNotFound
	}
	return l, nil
}

// steal transfers the lock to another holder, simulating reclamation
// after the original holder's lease expired.
func (m *memLocks) steal(key, holder string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	l := m.locks[key]
	l.Holder = holder
	l.ExpiresAt = time.Now().Add(time.Hour)
	l.Status = domain.LockHeld
	m.locks[key] = l
}

type memAttempts struct {
	mu       sync.Mutex
	attempts map[string]domain.DeploymentAttempt
	ops      map[string][]domain.StackSetOperation
}

func newMemAttempts() *memAttempts {
	return &memAttempts{
		attempts: make(map[string]domain.DeploymentAttempt),
		ops:      make(map[string][]domain.StackSetOperation),
	}
}

func (m *memAttempts) Create(_ context.Context, a domain.DeploymentAttempt) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.attempts[a.RunID]; ok {
		return fmt.Errorf("attempt %s: %w", a.RunID, domain.ErrAlreadyExists)
	}
	m.attempts[a.RunID] = a
	return nil
}

func (m *memAttempts) Get(_ context.Context, runID string) (domain.DeploymentAttempt, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	a, ok := m.attempts[runID]
	if !ok {
		return domain.DeploymentAttempt{}, fmt.Errorf("attempt %s: %w", runID, domain.ErrNotFound)
	}
	return a, nil
}

func (m *memAttempts) AdvancePhase(_ context.Context, runID string, from, to domain.Phase) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if !from.CanAdvance(to) {
		return fmt.Errorf("%w: cannot advance %s to %s", domain.ErrInvalidArgument, from, to)
	}
	a, ok := m.attempts[runID]
	if !ok {
		return domain.ErrNotFound
	}
	if a.Phase != from {
		return fmt.Errorf("attempt %s at %s, expected %s: %w", runID, a.Phase, from, domain.ErrConflict)
	}
	a.Phase = to
	m.attempts[runID] = a
	return nil
}

func (m *memAttempts) Finalize(_ context.Context, runID string, from domain.Phase, outcome domain.Outcome, reason domain.FailureReason, detail string, completedAt time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	to := domain.PhaseCompleted
	if outcome != domain.OutcomeSucceeded {
		to = domain.PhaseFailed
	}
	if !from.CanAdvance(to) {
		return fmt.Errorf("%w: cannot finalize from %s to %s", domain.ErrInvalidArgument, from, to)
	}
	a, ok := m.attempts[runID]
	if !ok {
		return domain.ErrNotFound
	}
	if a.Phase != from {
		return fmt.Errorf("attempt %s at %s, expected %s: %w", runID, a.Phase, from, domain.ErrConflict)
	}
	a.Phase = to
	a.Outcome = outcome
	a.Reason = reason
	a.Detail = detail
	a.CompletedAt = completedAt
	m.attempts[runID] = a
	return nil
}

func (m *memAttempts) OldestActive(_ context.Context, key domain.TargetKey) (domain.DeploymentAttempt, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var oldest *domain.DeploymentAttempt
	for _, a := range m.attempts {
		if a.Target != key || a.Phase.Terminal() {
			continue
		}
		a := a
		if oldest == nil || a.StartedAt.Before(oldest.StartedAt) ||
			(a.StartedAt.Equal(oldest.StartedAt) && a.RunID < oldest.RunID) {
			oldest = &a
		}
	}
	if oldest == nil {
		return domain.DeploymentAttempt{}, domain.ErrNotFound
	}
	return *oldest, nil
}

func (m *memAttempts) PutOperation(_ context.Context, op domain.StackSetOperation) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for i, existing := range m.ops[op.RunID] {
		if existing.Account == op.Account && existing.Region == op.Region {
			m.ops[op.RunID][i] = op
			return nil
		}
	}
	m.ops[op.RunID] = append(m.ops[op.RunID], op)
	return nil
}

func (m *memAttempts) ListOperations(_ context.Context, runID string) ([]domain.StackSetOperation, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]domain.StackSetOperation, len(m.ops[runID]))
	copy(out, m.ops[runID])
	return out, nil
}

type memPromotions struct {
	mu      sync.Mutex
	entries map[string]string
}

func newMemPromotions() *memPromotions {
	return &memPromotions{entries: make(map[string]string)}
}

func (m *memPromotions) Create(_ context.Context, sourceRunID, environment string, _ time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.entries[sourceRunID]; ok {
		return fmt.Errorf("promotion for %s: %w", sourceRunID, domain.ErrAlreadyExists)
	}
	m.entries[sourceRunID] = environment
	return nil
}

// pairState scripts one (account, region) pair of the fake StackSet
// client: the create error (if any) and the status sequence returned by
// successive polls, with the last entry repeated.
type pairState struct {
	createErr error
	statuses  []domain.OperationStatus
	detail    string

	polls int
}

type fakeStackSets struct {
	mu    sync.Mutex
	pairs map[string]*pairState

	created []string
}

func newFakeStackSets() *fakeStackSets {
	return &fakeStackSets{pairs: make(map[string]*pairState)}
}

func pairKey(account, region string) string { return account + "/" + region }

func (f *fakeStackSets) script(account, region string, s *pairState) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.pairs[pairKey(account, region)] = s
}

func (f *fakeStackSets) CreateOrUpdate(_ context.Context, in domain.StackSetInput) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	key := pairKey(in.Account, in.Region)
	f.created = append(f.created, key)
	if s, ok := f.pairs[key]; ok && s.createErr != nil {
		return "", s.createErr
	}
	return "op-" + key, nil
}

func (f *fakeStackSets) OperationStatus(_ context.Context, ref domain.StackSetOpRef) (domain.OperationStatus, string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	s, ok := f.pairs[pairKey(ref.Account, ref.Region)]
	if !ok || len(s.statuses) == 0 {
		return domain.OperationSucceeded, "", nil
	}
	i := s.polls
	if i >= len(s.statuses) {
		i = len(s.statuses) - 1
	}
	s.polls++
	status := s.statuses[i]
	if status == domain.OperationFailed {
		return status, s.detail, nil
	}
	return status, "", nil
}

func (f *fakeStackSets) createdPairs() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]string, len(f.created))
	copy(out, f.created)
	return out
}

// recordingSubmitter records builds handed back to ingest by promotion.
type recordingSubmitter struct {
	mu     sync.Mutex
	builds []domain.Build
	err    error
}

func (r *recordingSubmitter) Submit(_ context.Context, b domain.Build) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.err != nil {
		return r.err
	}
	r.builds = append(r.builds, b)
	return nil
}

// syncRunnerImpl runs activities synchronously (no durability).
type syncRunnerImpl struct {
	ctx context.Context
}

func (s *syncRunnerImpl) ID() string               { return "test-sync" }
func (s *syncRunnerImpl) Context() context.Context { return s.ctx }
func (s *syncRunnerImpl) Run(activity domain.Activity[any, any], in any) (any, error) {
	return activity.Run(s.ctx, in)
}

// recordingRunner runs activities and records their names in order so
// tests can assert execution sequence.
type recordingRunner struct {
	ctx      context.Context
	names    []string
	delegate domain.DurableRunner
}

func (r *recordingRunner) ID() string               { return r.delegate.ID() }
func (r *recordingRunner) Context() context.Context { return r.ctx }

func (r *recordingRunner) Run(activity domain.Activity[any, any], in any) (any, error) {
	r.names = append(r.names, activity.Name())
	return r.delegate.Run(activity, in)
}
