package actuator

import (
	"context"
	"fmt"
	"io"
	"sync"

	"github.com/loqalabs/loqa-dictate/internal/edit"
)

// Recorder applies plans to an in-memory buffer. It backs the log mode,
// the replay command and pipeline tests.
type Recorder struct {
	mu      sync.Mutex
	text    string
	plans   []edit.Plan
	attempt int
	failAt  map[int]bool
	halfAt  map[int]bool
	failAll bool
	echo    io.Writer

	// BeforeApply, when set, runs at the start of every Apply outside the lock.
	BeforeApply func(ctx context.Context, plan edit.Plan)
}

// NewRecorder writes the buffer to echo after every applied plan when echo is non-nil.
func NewRecorder(echo io.Writer) *Recorder {
	return &Recorder{echo: echo, failAt: make(map[int]bool), halfAt: make(map[int]bool)}
}

// FailAttempts makes the given 1-based Apply attempts fail.
func (r *Recorder) FailAttempts(attempts ...int) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, a := range attempts {
		r.failAt[a] = true
	}
}

// FailInsertAttempts makes the given 1-based Apply attempts perform their
// backspaces and then fail before typing.
func (r *Recorder) FailInsertAttempts(attempts ...int) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, a := range attempts {
		r.halfAt[a] = true
	}
}

// FailAll makes every Apply fail until reset with FailAll(false).
func (r *Recorder) FailAll(fail bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.failAll = fail
}

func (r *Recorder) Apply(ctx context.Context, plan edit.Plan) error {
	if r.BeforeApply != nil {
		r.BeforeApply(ctx, plan)
	}
	if err := ctx.Err(); err != nil {
		return fmt.Errorf("%w: %v", ErrApplyFailed, err)
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	r.attempt++
	if r.failAll || r.failAt[r.attempt] {
		return fmt.Errorf("%w: injected failure on attempt %d", ErrApplyFailed, r.attempt)
	}
	if r.halfAt[r.attempt] {
		deletes, _, err := suffixEdit(plan)
		if err != nil {
			return err
		}
		if deletes > edit.Len(r.text) {
			return fmt.Errorf("%w: plan deletes %d of %d clusters", ErrApplyFailed, deletes, edit.Len(r.text))
		}
		r.text = edit.TrimEnd(r.text, deletes)
		if r.echo != nil {
			fmt.Fprintf(r.echo, "%s\n", r.text)
		}
		return partial(deletes, fmt.Errorf("%w: injected type failure on attempt %d", ErrApplyFailed, r.attempt))
	}
	next, err := plan.Apply(r.text)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrApplyFailed, err)
	}
	r.text = next
	r.plans = append(r.plans, plan)
	if r.echo != nil {
		fmt.Fprintf(r.echo, "%s\n", next)
	}
	return nil
}

// Text is the buffer content.
func (r *Recorder) Text() string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.text
}

// Plans lists successfully applied plans.
func (r *Recorder) Plans() []edit.Plan {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]edit.Plan(nil), r.plans...)
}

// Attempts counts Apply calls that reached the buffer.
func (r *Recorder) Attempts() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.attempt
}

// Reset clears the buffer and history.
func (r *Recorder) Reset() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.text = ""
	r.plans = nil
	r.attempt = 0
	r.failAt = make(map[int]bool)
	r.halfAt = make(map[int]bool)
	r.failAll = false
}
