// Package schedule drains deferred-fulfillment tasks. Cost-side steps
// of a delayed operation commit immediately; the grant side is
// persisted as a task and performed here once due.
package schedule

import (
	"context"
	"errors"
	"fmt"
	"log"
	"strconv"
	"time"

	"github.com/kaironbot/economy/internal/economy/txn"
)

// Store lists due tasks. The mutations themselves go through the
// composer so grant and ledger entry stay in one commit.
type Store interface {
	DueTasks(ctx context.Context, now time.Time, limit int) ([]Task, error)
}

type FulfillmentResult struct {
	TaskID string
	State  string
	Cause  error
}

type Dispatcher struct {
	store    Store
	composer *txn.Composer
	logger   *log.Logger
	interval time.Duration
	batch    int
}

func NewDispatcher(store Store, composer *txn.Composer, interval time.Duration, batch int, logger *log.Logger) *Dispatcher {
	if interval <= 0 {
		interval = time.Minute
	}
	if batch <= 0 {
		batch = 100
	}
	return &Dispatcher{
		store:    store,
		composer: composer,
		logger:   logger,
		interval: interval,
		batch:    batch,
	}
}

// Run polls until ctx is done. Redundant invocations are harmless:
// fulfillment is idempotent per task.
func (d *Dispatcher) Run(ctx context.Context) {
	ticker := time.NewTicker(d.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case now := <-ticker.C:
			results, err := d.FulfillDue(ctx, now)
			if err != nil && d.logger != nil {
				d.logger.Printf("fulfill sweep: %v", err)
			}
			for _, r := range results {
				if r.State == StateFailed && d.logger != nil {
					d.logger.Printf("task %s FAILED: %v", r.TaskID, r.Cause)
				}
			}
		}
	}
}

// FulfillDue grants every due SCHEDULED task. Each task is processed
// in its own commit: claim check, grant, ADD ledger entry and the
// FULFILLED transition stand or fall together. A task another sweep
// already claimed is skipped; a failing grant moves the task to
// FAILED with the cause retained, for manual intervention, no retry.
func (d *Dispatcher) FulfillDue(ctx context.Context, now time.Time) ([]FulfillmentResult, error) {
	due, err := d.store.DueTasks(ctx, now, d.batch)
	if err != nil {
		return nil, fmt.Errorf("list due tasks: %w", err)
	}

	var out []FulfillmentResult
	for _, t := range due {
		res := d.fulfill(ctx, t, now)
		if res.TaskID != "" {
			out = append(out, res)
		}
	}
	return out, nil
}

func (d *Dispatcher) fulfill(ctx context.Context, t Task, now time.Time) FulfillmentResult {
	grant, ledger, err := grantSteps(t, now)
	if err != nil {
		d.markFailed(ctx, t, err)
		return FulfillmentResult{TaskID: t.ID, State: StateFailed, Cause: err}
	}

	steps := []txn.Step{
		txn.ClaimTask(t.ID),
		grant,
		ledger,
		txn.CompleteTask(t.ID, StateFulfilled, ""),
	}
	res := d.composer.Commit(ctx, t.GuildID, steps)
	if res.Committed {
		return FulfillmentResult{TaskID: t.ID, State: StateFulfilled}
	}
	if errors.Is(res.Cause, txn.ErrTaskNotClaimable) {
		// Another sweep got here first; re-delivery is a no-op.
		return FulfillmentResult{}
	}
	d.markFailed(ctx, t, res.Cause)
	return FulfillmentResult{TaskID: t.ID, State: StateFailed, Cause: res.Cause}
}

func (d *Dispatcher) markFailed(ctx context.Context, t Task, cause error) {
	msg := ""
	if cause != nil {
		msg = cause.Error()
	}
	res := d.composer.Commit(ctx, t.GuildID, []txn.Step{
		txn.ClaimTask(t.ID),
		txn.CompleteTask(t.ID, StateFailed, msg),
	})
	if !res.Committed && !errors.Is(res.Cause, txn.ErrTaskNotClaimable) && d.logger != nil {
		d.logger.Printf("mark task %s failed: %v", t.ID, res.Cause)
	}
}

func grantSteps(t Task, now time.Time) (grant, ledger txn.Step, err error) {
	switch t.Type {
	case TaskGrantItem:
		charID := t.Args["character_id"]
		item := t.Args["item"]
		qty, convErr := strconv.Atoi(t.Args["qty"])
		if charID == "" || item == "" || convErr != nil || qty <= 0 {
			return txn.Step{}, txn.Step{}, fmt.Errorf("malformed %s args %v", t.Type, t.Args)
		}
		op := t.Args["operation"]
		if op == "" {
			op = t.Type
		}
		target := txn.Char(charID)
		grant = txn.AddMaterial(target, item, qty)
		ledger = txn.AppendLedger(target, txn.LedgerEntry{
			At:        now,
			Operation: op,
			Direction: txn.DirectionAdd,
			Args:      map[string]string{item: strconv.Itoa(qty)},
		})
		return grant, ledger, nil
	default:
		return txn.Step{}, txn.Step{}, fmt.Errorf("unknown task type %q", t.Type)
	}
}
