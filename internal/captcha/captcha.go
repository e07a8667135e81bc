// Package captcha detects challenges on a loaded page and drives the
// solve-and-poll protocol against an external solving service.
//
// The resolver is an explicit finite-state machine so every transition
// is testable without a browser: the page surface it needs is a small
// interface, and the solving service sits behind SolverClient.
package captcha

import (
	"context"
	"errors"
	"time"
)

// Kind identifies the challenge type found on a page.
type Kind string

const (
	KindRecaptchaV2 Kind = "recaptcha_v2"
	KindHCaptcha    Kind = "hcaptcha"
	KindImage       Kind = "image"
)

// State is a resolver FSM state.
type State int

const (
	StateNoChallenge State = iota
	StateDetecting
	StateAwaitingSolverSubmission
	StatePolling
	StateSolved
	StateFailed
	StateTimedOut
)

func (s State) String() string {
	switch s {
	case StateNoChallenge:
		return "no_challenge"
	case StateDetecting:
		return "detecting"
	case StateAwaitingSolverSubmission:
		return "awaiting_solver_submission"
	case StatePolling:
		return "polling"
	case StateSolved:
		return "solved"
	case StateFailed:
		return "failed"
	case StateTimedOut:
		return "timed_out"
	default:
		return "unknown"
	}
}

// Terminal reports whether the FSM can leave this state.
func (s State) Terminal() bool {
	return s == StateNoChallenge || s == StateSolved || s == StateFailed || s == StateTimedOut
}

// Job is the lifecycle record of one challenge-solving request. It is
// created when a challenge is detected and discarded after injection or
// terminal failure; transitions are driven exclusively by the Resolver.
type Job struct {
	ID            string
	Kind          Kind
	SiteKey       string // token-based kinds
	ImagePayload  string // base64, image kind
	PageURL       string
	ProviderJobID string
	State         State
	Attempts      int
	Token         string
	StartedAt     time.Time
}

// Sentinel errors for terminal resolver outcomes. All of them surface to
// the orchestrator as a captcha_failed attempt.
var (
	// ErrSolvingDisabled: a challenge is present but solving is switched
	// off, so the page cannot be cleared.
	ErrSolvingDisabled = errors.New("captcha: challenge present but solving disabled")

	// ErrMissingAPIKey: solving is enabled but no credential is
	// configured. Fatal for the attempt only.
	ErrMissingAPIKey = errors.New("captcha: solver api key not configured")

	// ErrSolverRejected: the provider reported an error for the
	// submission or the job.
	ErrSolverRejected = errors.New("captcha: solver rejected job")

	// ErrTimedOut: the poll budget ran out before the provider solved
	// the challenge.
	ErrTimedOut = errors.New("captcha: solve timed out")
)

// Page is the minimal page surface the resolver needs. browser.Session
// implements it with Rod; tests use an in-memory fake.
type Page interface {
	// Exists reports whether any element matches the selector.
	Exists(ctx context.Context, selector string) (bool, error)
	// Attribute returns the named attribute of the first match, or ""
	// when absent.
	Attribute(ctx context.Context, selector, name string) (string, error)
	// SetValue assigns value to the first match and fires an input event.
	SetValue(ctx context.Context, selector, value string) error
	// TypeInto focuses the first match and types text into it.
	TypeInto(ctx context.Context, selector, text string) error
	// CaptureImage screenshots the first match (the challenge image).
	CaptureImage(ctx context.Context, selector string) ([]byte, error)
}

// PollResult is one solver status response.
type PollResult struct {
	Ready bool
	Token string
}

// SolverClient is the wire client for the external solving service.
type SolverClient interface {
	// Submit sends the challenge and returns the provider's job ID.
	Submit(ctx context.Context, job *Job) (string, error)
	// Poll asks for the job status. A nil error with Ready=false means
	// the provider is still working; a non-nil error is terminal.
	Poll(ctx context.Context, providerJobID string) (PollResult, error)
}
