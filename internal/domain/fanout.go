package domain

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/skylift/skylift-server/internal/ctxlog"
)

// FanOutRequest describes one fan-out: the full account × region matrix
// for a deployment attempt, the template to apply, and the merged
// parameter set.
type FanOutRequest struct {
	RunID       string
	Accounts    []string
	Regions     []string
	TemplateRef string
	Parameters  map[string]string

	// Lock, when set, is heartbeat-renewed for the duration of the
	// fan-out. Losing it aborts the remaining polling.
	Lock *LockHandle
}

// FanOutResult aggregates the per-pair operations of one fan-out.
type FanOutResult struct {
	Operations []StackSetOperation
}

// Succeeded reports whether every pair reached OperationSucceeded.
func (r FanOutResult) Succeeded() bool {
	if len(r.Operations) == 0 {
		return false
	}
	for _, op := range r.Operations {
		if op.Status != OperationSucceeded {
			return false
		}
	}
	return true
}

// FailureReason derives the attempt-level reason from the per-pair
// statuses: any timed-out pair dominates, otherwise any failed pair.
func (r FanOutResult) FailureReason() FailureReason {
	reason := ReasonNone
	for _, op := range r.Operations {
		switch op.Status {
		case OperationTimedOut:
			return ReasonOperationTimedOut
		case OperationFailed:
			reason = ReasonOperationFailed
		}
	}
	return reason
}

// Detail renders a short human-readable summary of the non-succeeded pairs.
func (r FanOutResult) Detail() string {
	detail := ""
	for _, op := range r.Operations {
		if op.Status == OperationSucceeded {
			continue
		}
		if detail != "" {
			detail += "; "
		}
		detail += fmt.Sprintf("%s/%s: %s", op.Account, op.Region, op.Status)
		if op.ErrorDetail != "" {
			detail += " (" + op.ErrorDetail + ")"
		}
	}
	return detail
}

// FanOutController issues one create-or-update operation per
// (account, region) pair and polls each to a terminal status. Pairs are
// independent: they run concurrently, and one pair failing or timing out
// never cancels the others.
type FanOutController struct {
	Client   StackSetClient
	Attempts AttemptRepository
	Locks    *LockManager

	// PollInterval is the initial poll delay, doubled per poll up to
	// MaxPollInterval.
	PollInterval    time.Duration
	MaxPollInterval time.Duration

	// Timeout bounds the whole fan-out. Pairs still in progress at the
	// deadline are recorded timed-out; the underlying operations are left
	// to finish on their own since they are not cleanly abortable.
	Timeout time.Duration

	// HeartbeatInterval is the lock renewal period while polling.
	HeartbeatInterval time.Duration

	// LockTTL is the lease extension applied on each heartbeat.
	LockTTL time.Duration

	Now func() time.Time
}

func (c *FanOutController) now() time.Time {
	if c.Now != nil {
		return c.Now()
	}
	return time.Now()
}

// Execute runs the fan-out for req. Re-invoking with the same run id
// resumes: pairs already recorded succeeded are not re-issued, pairs with
// a recorded handle resume polling it.
//
// The returned error is non-nil only for infrastructure failures (store
// unreachable, lock lost); per-pair deployment failures are reported
// through the result so partial outcomes stay queryable.
func (c *FanOutController) Execute(ctx context.Context, req FanOutRequest) (FanOutResult, error) {
	if len(req.Accounts) == 0 || len(req.Regions) == 0 {
		return FanOutResult{}, fmt.Errorf("%w: fan-out needs at least one account and one region", ErrInvalidArgument)
	}

	ctx, cancel := context.WithTimeout(ctx, c.Timeout)
	defer cancel()

	existing, err := c.Attempts.ListOperations(ctx, req.RunID)
	if err != nil {
		return FanOutResult{}, fmt.Errorf("list operations: %w", err)
	}
	recorded := make(map[[2]string]StackSetOperation, len(existing))
	for _, op := range existing {
		recorded[[2]string{op.Account, op.Region}] = op
	}

	var stopHeartbeat func() error
	if req.Lock != nil {
		stopHeartbeat = c.heartbeat(ctx, cancel, req.Lock)
		defer stopHeartbeat()
	}

	var (
		mu      sync.Mutex
		results []StackSetOperation
	)
	g := new(errgroup.Group)
	for _, account := range req.Accounts {
		for _, region := range req.Regions {
			op, ok := recorded[[2]string{account, region}]
			if !ok {
				op = StackSetOperation{
					RunID:   req.RunID,
					Account: account,
					Region:  region,
					Status:  OperationPending,
				}
			}
			g.Go(func() error {
				final, err := c.runPair(ctx, req, op)
				if err != nil {
					return err
				}
				mu.Lock()
				results = append(results, final)
				mu.Unlock()
				return nil
			})
		}
	}
	waitErr := g.Wait()
	if stopHeartbeat != nil {
		if lost := stopHeartbeat(); lost != nil {
			return FanOutResult{}, lost
		}
	}
	if waitErr != nil {
		return FanOutResult{}, waitErr
	}

	sort.Slice(results, func(i, j int) bool {
		if results[i].Account != results[j].Account {
			return results[i].Account < results[j].Account
		}
		return results[i].Region < results[j].Region
	})
	return FanOutResult{Operations: results}, nil
}

// runPair drives a single (account, region) pair to a terminal status.
// Store writes record every status change so a resumed fan-out can pick
// up where this one stopped.
func (c *FanOutController) runPair(ctx context.Context, req FanOutRequest, op StackSetOperation) (StackSetOperation, error) {
	log := ctxlog.FromContext(ctx).With("run_id", req.RunID, "account", op.Account, "region", op.Region)

	if op.Status.TerminalOp() {
		if op.Status == OperationTimedOut {
			// A pair abandoned at a previous deadline gets one more
			// polling window on resumption.
			op.Status = OperationInProgress
		} else {
			return op, nil
		}
	}

	if op.Handle == "" {
		handle, err := c.Client.CreateOrUpdate(ctx, StackSetInput{
			DeploymentID: req.RunID,
			Account:      op.Account,
			Region:       op.Region,
			TemplateRef:  req.TemplateRef,
			Parameters:   req.Parameters,
		})
		if err != nil {
			op.Status = OperationFailed
			op.ErrorDetail = err.Error()
			op.LastPolledAt = c.now()
			if perr := c.putOperation(op); perr != nil {
				return op, perr
			}
			log.WarnContext(ctx, "stackset operation rejected", "error", err)
			return op, nil
		}
		op.Handle = handle
		op.Status = OperationInProgress
		op.LastPolledAt = c.now()
		if err := c.putOperation(op); err != nil {
			return op, err
		}
		log.InfoContext(ctx, "stackset operation issued", "handle", handle)
	}

	return c.poll(ctx, req.RunID, op)
}

// poll re-checks the operation with bounded exponential backoff until it
// reaches a terminal status or the fan-out deadline expires.
func (c *FanOutController) poll(ctx context.Context, runID string, op StackSetOperation) (StackSetOperation, error) {
	log := ctxlog.FromContext(ctx).With("run_id", runID, "account", op.Account, "region", op.Region)
	delay := c.PollInterval

	ref := StackSetOpRef{
		DeploymentID: runID,
		Account:      op.Account,
		Region:       op.Region,
		Handle:       op.Handle,
	}

	for {
		status, detail, err := c.Client.OperationStatus(ctx, ref)
		op.LastPolledAt = c.now()
		if err != nil {
			if ctx.Err() != nil {
				return c.markTimedOut(op)
			}
			// Transient describe failure: keep the recorded status and
			// retry on the next tick.
			log.WarnContext(ctx, "poll failed", "error", err)
		} else {
			op.Status = status
			op.ErrorDetail = detail
			if err := c.putOperation(op); err != nil {
				return op, err
			}
			if status.TerminalOp() {
				log.InfoContext(ctx, "stackset operation finished", "status", status)
				return op, nil
			}
		}

		timer := time.NewTimer(delay)
		select {
		case <-ctx.Done():
			timer.Stop()
			return c.markTimedOut(op)
		case <-timer.C:
		}
		delay *= 2
		if delay > c.MaxPollInterval {
			delay = c.MaxPollInterval
		}
	}
}

func (c *FanOutController) markTimedOut(op StackSetOperation) (StackSetOperation, error) {
	op.Status = OperationTimedOut
	if err := c.putOperation(op); err != nil {
		return op, err
	}
	return op, nil
}

// putOperation persists outside the (possibly expired) fan-out context so
// terminal statuses survive the deadline that produced them.
func (c *FanOutController) putOperation(op StackSetOperation) error {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := c.Attempts.PutOperation(ctx, op); err != nil {
		return fmt.Errorf("record operation: %w", err)
	}
	return nil
}

// heartbeat renews the lock periodically until stopped. On ErrLockLost it
// cancels the fan-out: continuing to apply changes after losing mutual
// exclusion is never safe.
//
// The returned stop function joins the goroutine and reports whether the
// lease was lost. It must be called, and its result checked, before the
// caller uses the fan-out's results.
func (c *FanOutController) heartbeat(ctx context.Context, cancel context.CancelFunc, handle *LockHandle) func() error {
	ticker := time.NewTicker(c.HeartbeatInterval)
	quit := make(chan struct{})
	done := make(chan struct{})
	var lost error
	go func() {
		defer close(done)
		for {
			select {
			case <-quit:
				return
			case <-ctx.Done():
				return
			case <-ticker.C:
				if err := c.Locks.Renew(ctx, handle, c.LockTTL); err != nil {
					if errors.Is(err, ErrLockLost) {
						lost = err
						cancel()
						return
					}
					ctxlog.FromContext(ctx).WarnContext(ctx, "lock renewal failed", "key", handle.Key, "error", err)
				}
			}
		}
	}()
	var once sync.Once
	return func() error {
		once.Do(func() {
			close(quit)
			ticker.Stop()
			<-done
		})
		return lost
	}
}
