package captcha

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/sweepd/sweepd/internal/idgen"
)

// Resolver drives the challenge FSM for one page at a time.
type Resolver struct {
	solver       SolverClient
	enabled      bool
	hasAPIKey    bool
	pollInterval time.Duration
	maxAttempts  int
	newID        idgen.Generator
	logger       *slog.Logger
}

// ResolverOption configures a Resolver.
type ResolverOption func(*Resolver)

// WithPollInterval sets the wait between solver status checks. Default: 5s.
func WithPollInterval(d time.Duration) ResolverOption {
	return func(r *Resolver) { r.pollInterval = d }
}

// WithMaxAttempts caps the number of status checks. Default: 20.
func WithMaxAttempts(n int) ResolverOption {
	return func(r *Resolver) { r.maxAttempts = n }
}

// WithLogger sets a custom logger.
func WithLogger(l *slog.Logger) ResolverOption {
	return func(r *Resolver) { r.logger = l }
}

// WithIDGenerator sets the job ID strategy.
func WithIDGenerator(gen idgen.Generator) ResolverOption {
	return func(r *Resolver) { r.newID = gen }
}

// NewResolver creates a Resolver. enabled=false makes any detected
// challenge an immediate failure; hasAPIKey=false does the same but is
// reported as a configuration problem.
func NewResolver(solver SolverClient, enabled, hasAPIKey bool, opts ...ResolverOption) *Resolver {
	r := &Resolver{
		solver:       solver,
		enabled:      enabled,
		hasAPIKey:    hasAPIKey,
		pollInterval: 5 * time.Second,
		maxAttempts:  20,
		newID:        idgen.Prefixed("cap_", idgen.Default),
		logger:       slog.Default(),
	}
	for _, o := range opts {
		o(r)
	}
	return r
}

// Resolve inspects page for a challenge and, when one is present, runs
// the full solve-inject cycle.
//
// Returns (nil, nil) when the page carries no challenge. Returns the job
// with State==StateSolved and a nil error after successful injection.
// Any other outcome returns the job in a terminal failure state plus a
// non-nil error; Failed and TimedOut are not retried within the attempt.
func (r *Resolver) Resolve(ctx context.Context, page Page, pageURL string) (*Job, error) {
	job, err := detect(ctx, page, pageURL, r.newID)
	if err != nil {
		return nil, err
	}
	if job == nil {
		r.logger.Debug("captcha: no challenge detected", "url", pageURL)
		return nil, nil
	}
	return r.ResolveJob(ctx, page, job)
}

// ResolveJob runs the FSM for an already-detected job.
func (r *Resolver) ResolveJob(ctx context.Context, page Page, job *Job) (*Job, error) {
	job.StartedAt = time.Now()
	r.transition(job, StateDetecting)
	r.logger.Info("captcha: challenge detected",
		"job", job.ID, "kind", job.Kind, "site_key", job.SiteKey != "")

	// A challenge the engine cannot clear means the attempt must not
	// proceed to submission.
	if !r.enabled {
		r.transition(job, StateFailed)
		return job, ErrSolvingDisabled
	}
	if !r.hasAPIKey {
		r.transition(job, StateFailed)
		return job, ErrMissingAPIKey
	}

	r.transition(job, StateAwaitingSolverSubmission)
	providerID, err := r.solver.Submit(ctx, job)
	if err != nil {
		// Submission errors (bad key, malformed payload) are terminal,
		// no retry.
		r.transition(job, StateFailed)
		return job, fmt.Errorf("%w: submit: %v", ErrSolverRejected, err)
	}
	job.ProviderJobID = providerID

	r.transition(job, StatePolling)
	if err := r.poll(ctx, job); err != nil {
		return job, err
	}

	r.transition(job, StateSolved)
	if err := inject(ctx, page, job); err != nil {
		// Token obtained but the page refused it. Still terminal for
		// this attempt.
		r.transition(job, StateFailed)
		return job, fmt.Errorf("%w: inject: %v", ErrSolverRejected, err)
	}

	r.logger.Info("captcha: solved",
		"job", job.ID, "provider_job", job.ProviderJobID,
		"attempts", job.Attempts, "elapsed", time.Since(job.StartedAt))
	return job, nil
}

// poll waits pollInterval between status checks, up to maxAttempts
// checks. The wait is cancellable; cancellation is terminal.
func (r *Resolver) poll(ctx context.Context, job *Job) error {
	ticker := time.NewTicker(r.pollInterval)
	defer ticker.Stop()

	for job.Attempts < r.maxAttempts {
		select {
		case <-ctx.Done():
			r.transition(job, StateFailed)
			return fmt.Errorf("%w: %v", ErrSolverRejected, ctx.Err())
		case <-ticker.C:
		}

		job.Attempts++
		res, err := r.solver.Poll(ctx, job.ProviderJobID)
		if err != nil {
			r.transition(job, StateFailed)
			return fmt.Errorf("%w: poll: %v", ErrSolverRejected, err)
		}
		if res.Ready {
			job.Token = res.Token
			return nil
		}
		r.logger.Debug("captcha: not ready",
			"job", job.ID, "attempt", job.Attempts, "max", r.maxAttempts)
	}

	r.transition(job, StateTimedOut)
	return ErrTimedOut
}

func (r *Resolver) transition(job *Job, to State) {
	if job.State.Terminal() && job.State != StateNoChallenge {
		// Terminal states never transition again.
		return
	}
	r.logger.Debug("captcha: state", "job", job.ID, "from", job.State, "to", to)
	job.State = to
}
