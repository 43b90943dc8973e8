// Package dispatch issues one retrieval request per missing catalog entry.
package dispatch

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/sethvargo/go-retry"
	"golang.org/x/time/rate"

	"github.com/hyperengineering/studysync/internal/types"
)

// Retriever asks the archive to transfer one subject's study date to local
// storage. A nil error means the archive reported success; the returned
// output is kept as the task diagnostic either way.
type Retriever interface {
	Fetch(ctx context.Context, subjectID, studyDate string) (string, error)
}

// Policy bounds how hard the dispatcher tries per entry.
type Policy struct {
	// MaxAttempts is the number of Fetch calls per entry. Values below 1 mean 1.
	MaxAttempts int
	// Backoff is the base delay of the exponential backoff between attempts.
	Backoff time.Duration
	// MaxBackoff caps a single backoff delay. Zero means uncapped.
	MaxBackoff time.Duration
	// MinInterval spaces consecutive retrievals. Zero disables pacing.
	MinInterval time.Duration
}

// DefaultPolicy makes exactly one attempt per entry with no pacing.
func DefaultPolicy() Policy {
	return Policy{MaxAttempts: 1, Backoff: 5 * time.Second}
}

// Summary is the outcome of dispatching a missing set.
type Summary struct {
	Succeeded int
	Failed    int
	Tasks     []types.RetrievalTask
}

// Dispatcher processes entries strictly one at a time.
type Dispatcher struct {
	retriever Retriever
	policy    Policy
	limiter   *rate.Limiter
	logger    *slog.Logger
	now       func() time.Time
}

// New creates a Dispatcher.
func New(r Retriever, p Policy, logger *slog.Logger) *Dispatcher {
	if p.MaxAttempts < 1 {
		p.MaxAttempts = 1
	}
	if p.Backoff <= 0 {
		p.Backoff = time.Second
	}
	if logger == nil {
		logger = slog.Default()
	}

	d := &Dispatcher{
		retriever: r,
		policy:    p,
		logger:    logger,
		now:       time.Now,
	}
	if p.MinInterval > 0 {
		d.limiter = rate.NewLimiter(rate.Every(p.MinInterval), 1)
	}
	return d
}

// Dispatch retrieves every entry in order and returns the summary. A failed
// entry never stops the loop; only context cancellation does, in which case
// the remaining tasks are reported as failed.
func (d *Dispatcher) Dispatch(ctx context.Context, entries []types.CatalogEntry) Summary {
	summary := Summary{Tasks: make([]types.RetrievalTask, 0, len(entries))}

	for i, entry := range entries {
		task := types.RetrievalTask{
			Identity:        entry.Identity,
			OccurrenceCount: entry.OccurrenceCount,
			Status:          types.TaskPending,
		}

		if err := d.wait(ctx); err != nil {
			d.finish(&task, types.TaskFailed, err.Error())
		} else {
			d.run(ctx, &task)
		}

		switch task.Status {
		case types.TaskSucceeded:
			summary.Succeeded++
			d.logger.Info("retrieval succeeded",
				"component", "dispatch",
				"action", "retrieve",
				"subject_id", task.Identity.SubjectID,
				"study_date", task.Identity.StudyDate,
				"attempts", task.Attempts,
				"progress", fmt.Sprintf("%d/%d", i+1, len(entries)),
			)
		default:
			summary.Failed++
			d.logger.Error("retrieval failed",
				"component", "dispatch",
				"action", "retrieve",
				"subject_id", task.Identity.SubjectID,
				"study_date", task.Identity.StudyDate,
				"attempts", task.Attempts,
				"diagnostic", task.Diagnostic,
				"progress", fmt.Sprintf("%d/%d", i+1, len(entries)),
			)
		}
		summary.Tasks = append(summary.Tasks, task)
	}

	return summary
}

func (d *Dispatcher) wait(ctx context.Context) error {
	if d.limiter == nil {
		return ctx.Err()
	}
	return d.limiter.Wait(ctx)
}

// run performs the attempts for a single task and sets its terminal state.
func (d *Dispatcher) run(ctx context.Context, task *types.RetrievalTask) {
	var output string
	attempt := func(ctx context.Context) error {
		task.Attempts++
		out, err := d.retriever.Fetch(ctx, task.Identity.SubjectID, task.Identity.StudyDate)
		output = out
		if err != nil {
			return &RetrievalError{Identity: task.Identity, Attempt: task.Attempts, Output: out, Err: err}
		}
		return nil
	}

	var err error
	if d.policy.MaxAttempts == 1 {
		err = attempt(ctx)
	} else {
		err = retry.Do(ctx, d.backoff(), func(ctx context.Context) error {
			if err := attempt(ctx); err != nil {
				return retry.RetryableError(err)
			}
			return nil
		})
	}

	if err != nil {
		d.finish(task, types.TaskFailed, err.Error())
		return
	}
	d.finish(task, types.TaskSucceeded, output)
}

func (d *Dispatcher) backoff() retry.Backoff {
	b := retry.NewExponential(d.policy.Backoff)
	if d.policy.MaxBackoff > 0 {
		b = retry.WithCappedDuration(d.policy.MaxBackoff, b)
	}
	return retry.WithMaxRetries(uint64(d.policy.MaxAttempts-1), b)
}

func (d *Dispatcher) finish(task *types.RetrievalTask, status types.TaskStatus, diagnostic string) {
	now := d.now()
	task.Status = status
	task.Diagnostic = diagnostic
	task.FinishedAt = &now
}
