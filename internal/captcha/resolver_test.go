package captcha

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"
)

// fakePage is an in-memory Page built from selector → attribute maps.
type fakePage struct {
	elements map[string]map[string]string // selector → attrs
	values   map[string]string            // selector → value written
	typed    map[string]string
	image    []byte
}

func newFakePage() *fakePage {
	return &fakePage{
		elements: make(map[string]map[string]string),
		values:   make(map[string]string),
		typed:    make(map[string]string),
	}
}

func (p *fakePage) Exists(_ context.Context, sel string) (bool, error) {
	_, ok := p.elements[sel]
	return ok, nil
}

func (p *fakePage) Attribute(_ context.Context, sel, name string) (string, error) {
	return p.elements[sel][name], nil
}

func (p *fakePage) SetValue(_ context.Context, sel, value string) error {
	p.values[sel] = value
	return nil
}

func (p *fakePage) TypeInto(_ context.Context, sel, text string) error {
	p.typed[sel] = text
	return nil
}

func (p *fakePage) CaptureImage(_ context.Context, _ string) ([]byte, error) {
	return p.image, nil
}

// fakeSolver scripts Submit and Poll behaviour.
type fakeSolver struct {
	submitID    string
	submitErr   error
	pollResults []PollResult // consumed in order; last one repeats
	pollErr     error
	pollErrAt   int // poll number (1-based) at which pollErr fires; 0 = never

	submits int
	polls   int
}

func (s *fakeSolver) Submit(context.Context, *Job) (string, error) {
	s.submits++
	if s.submitErr != nil {
		return "", s.submitErr
	}
	return s.submitID, nil
}

func (s *fakeSolver) Poll(context.Context, string) (PollResult, error) {
	s.polls++
	if s.pollErrAt > 0 && s.polls >= s.pollErrAt {
		return PollResult{}, s.pollErr
	}
	if len(s.pollResults) == 0 {
		return PollResult{}, nil
	}
	i := s.polls - 1
	if i >= len(s.pollResults) {
		i = len(s.pollResults) - 1
	}
	return s.pollResults[i], nil
}

func recaptchaPage(siteKey string) *fakePage {
	p := newFakePage()
	p.elements[recaptchaSelector] = map[string]string{"data-sitekey": siteKey}
	return p
}

func newTestResolver(s SolverClient, enabled bool, opts ...ResolverOption) *Resolver {
	base := []ResolverOption{WithPollInterval(time.Millisecond), WithMaxAttempts(20)}
	return NewResolver(s, enabled, true, append(base, opts...)...)
}

func TestResolve_NoChallenge(t *testing.T) {
	r := newTestResolver(&fakeSolver{}, true)
	job, err := r.Resolve(context.Background(), newFakePage(), "https://example.com")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if job != nil {
		t.Fatalf("expected nil job, got %+v", job)
	}
}

func TestResolve_SolvedAndInjected(t *testing.T) {
	solver := &fakeSolver{
		submitID: "prov-1",
		pollResults: []PollResult{
			{}, {}, {Ready: true, Token: "tok-xyz"},
		},
	}
	page := recaptchaPage("site-key-1")
	r := newTestResolver(solver, true)

	job, err := r.Resolve(context.Background(), page, "https://example.com/contest")
	if err != nil {
		t.Fatalf("resolve: %v", err)
	}
	if job.State != StateSolved {
		t.Errorf("state = %s, want solved", job.State)
	}
	if job.SiteKey != "site-key-1" || job.Kind != KindRecaptchaV2 {
		t.Errorf("detection wrong: %+v", job)
	}
	if job.Attempts != 3 {
		t.Errorf("attempts = %d, want 3", job.Attempts)
	}
	if got := page.values[recaptchaResponseSelector]; got != "tok-xyz" {
		t.Errorf("token not injected, got %q", got)
	}
}

func TestResolve_SubmitErrorFailsWithoutPolling(t *testing.T) {
	// Wire error text straight from the provider: the resolver must go
	// to Failed immediately, with zero status checks.
	solver := &fakeSolver{submitErr: errors.New("ERROR_WRONG_USER_KEY")}
	r := newTestResolver(solver, true)

	job, err := r.Resolve(context.Background(), recaptchaPage("k"), "https://example.com")
	if !errors.Is(err, ErrSolverRejected) {
		t.Fatalf("expected ErrSolverRejected, got %v", err)
	}
	if job.State != StateFailed {
		t.Errorf("state = %s, want failed", job.State)
	}
	if solver.polls != 0 {
		t.Errorf("polled %d times, want 0", solver.polls)
	}
	if !strings.Contains(err.Error(), "ERROR_WRONG_USER_KEY") {
		t.Errorf("provider error text lost: %v", err)
	}
}

func TestResolve_TimedOutAfterMaxAttempts(t *testing.T) {
	solver := &fakeSolver{submitID: "prov-1"} // never ready
	r := newTestResolver(solver, true, WithMaxAttempts(4))

	job, err := r.Resolve(context.Background(), recaptchaPage("k"), "https://example.com")
	if !errors.Is(err, ErrTimedOut) {
		t.Fatalf("expected ErrTimedOut, got %v", err)
	}
	if job.State != StateTimedOut {
		t.Errorf("state = %s, want timed_out", job.State)
	}
	if solver.polls != 4 {
		t.Errorf("polls = %d, want exactly maxAttempts", solver.polls)
	}
	if job.Attempts > 4 {
		t.Errorf("attempts %d exceeded cap", job.Attempts)
	}
}

func TestResolve_ProviderErrorDuringPolling(t *testing.T) {
	solver := &fakeSolver{
		submitID:  "prov-1",
		pollErr:   errors.New("ERROR_CAPTCHA_UNSOLVABLE"),
		pollErrAt: 2,
	}
	r := newTestResolver(solver, true)

	job, err := r.Resolve(context.Background(), recaptchaPage("k"), "https://example.com")
	if !errors.Is(err, ErrSolverRejected) {
		t.Fatalf("expected ErrSolverRejected, got %v", err)
	}
	if job.State != StateFailed {
		t.Errorf("state = %s, want failed", job.State)
	}
	if solver.polls != 2 {
		t.Errorf("polls = %d, want 2", solver.polls)
	}
}

func TestResolve_DisabledSolvingFailsImmediately(t *testing.T) {
	solver := &fakeSolver{submitID: "prov-1"}
	r := newTestResolver(solver, false)

	job, err := r.Resolve(context.Background(), recaptchaPage("k"), "https://example.com")
	if !errors.Is(err, ErrSolvingDisabled) {
		t.Fatalf("expected ErrSolvingDisabled, got %v", err)
	}
	if job.State != StateFailed {
		t.Errorf("state = %s, want failed", job.State)
	}
	if solver.submits != 0 {
		t.Error("must not contact the solver when disabled")
	}
}

func TestResolve_MissingAPIKey(t *testing.T) {
	r := NewResolver(&fakeSolver{}, true, false, WithPollInterval(time.Millisecond))
	job, err := r.Resolve(context.Background(), recaptchaPage("k"), "https://example.com")
	if !errors.Is(err, ErrMissingAPIKey) {
		t.Fatalf("expected ErrMissingAPIKey, got %v", err)
	}
	if job.State != StateFailed {
		t.Errorf("state = %s, want failed", job.State)
	}
}

func TestResolve_CancelledDuringPoll(t *testing.T) {
	solver := &fakeSolver{submitID: "prov-1"} // never ready
	r := newTestResolver(solver, true, WithPollInterval(50*time.Millisecond))

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		time.Sleep(10 * time.Millisecond)
		cancel()
	}()

	start := time.Now()
	job, err := r.Resolve(ctx, recaptchaPage("k"), "https://example.com")
	if err == nil {
		t.Fatal("expected error after cancellation")
	}
	if job.State != StateFailed {
		t.Errorf("state = %s, want failed", job.State)
	}
	if time.Since(start) > time.Second {
		t.Error("cancellation did not abort the poll promptly")
	}
}

func TestResolve_DetectionPriority(t *testing.T) {
	// Both token widgets present: reCAPTCHA wins.
	p := recaptchaPage("rk")
	p.elements[hcaptchaSelector] = map[string]string{"data-sitekey": "hk"}
	solver := &fakeSolver{submitID: "p", pollResults: []PollResult{{Ready: true, Token: "t"}}}
	r := newTestResolver(solver, true)

	job, err := r.Resolve(context.Background(), p, "https://example.com")
	if err != nil {
		t.Fatalf("resolve: %v", err)
	}
	if job.Kind != KindRecaptchaV2 || job.SiteKey != "rk" {
		t.Errorf("wrong widget won: %+v", job)
	}
}

func TestResolve_ImageChallenge(t *testing.T) {
	p := newFakePage()
	p.elements[`img[src*="captcha"]`] = map[string]string{}
	p.elements[`input[name*="captcha"]`] = map[string]string{}
	p.image = []byte{0x89, 0x50, 0x4e, 0x47}

	solver := &fakeSolver{submitID: "p", pollResults: []PollResult{{Ready: true, Token: "W4X9"}}}
	r := newTestResolver(solver, true)

	job, err := r.Resolve(context.Background(), p, "https://example.com")
	if err != nil {
		t.Fatalf("resolve: %v", err)
	}
	if job.Kind != KindImage {
		t.Fatalf("kind = %s", job.Kind)
	}
	if job.ImagePayload == "" {
		t.Error("image payload not captured")
	}
	if p.typed[`input[name*="captcha"]`] != "W4X9" {
		t.Errorf("recognised text not typed: %v", p.typed)
	}
}
