// Package submit drives a single entry attempt end-to-end: acquire a
// browser session, navigate, clear any challenge, fill the form, click
// submit and wait for the navigation to settle. One call, one attempt,
// one released session.
package submit

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"math/rand/v2"
	"time"

	"github.com/sweepd/sweepd/internal/captcha"
	"github.com/sweepd/sweepd/internal/idgen"
	"github.com/sweepd/sweepd/internal/opportunity"
)

// Outcome classifies how an attempt ended.
type Outcome string

const (
	OutcomeSuccess            Outcome = "success"
	OutcomeValidationRejected Outcome = "validation_rejected"
	OutcomeCaptchaFailed      Outcome = "captcha_failed"
	OutcomeSubmissionFailed   Outcome = "submission_failed"
	OutcomeNetworkError       Outcome = "network_error"
)

// Attempt is the record of one submission try. Terminal state is
// written exactly once, then the attempt is handed to the tracker.
type Attempt struct {
	ID            string        `json:"id"`
	OpportunityID string        `json:"opportunity_id"`
	Title         string        `json:"title"`
	URL           string        `json:"url"`
	Domain        string        `json:"domain"`
	StartedAt     time.Time     `json:"started_at"`
	Duration      time.Duration `json:"-"`
	Outcome       Outcome       `json:"outcome"`
	Detail        string        `json:"detail,omitempty"`
	CaptchaState  string        `json:"captcha_state,omitempty"`
	ProxyUsed     bool          `json:"proxy_used"`
	Warnings      []string      `json:"warnings,omitempty"`
}

// Success reports whether the attempt counts as a success for rate
// accounting.
func (a *Attempt) Success() bool { return a.Outcome == OutcomeSuccess }

// DurationMs is the attempt duration in whole milliseconds, as emitted
// to the outcome sink.
func (a *Attempt) DurationMs() int64 { return a.Duration.Milliseconds() }

// MarshalJSON adds the duration as duration_ms so the sink payload
// carries it in milliseconds rather than nanoseconds.
func (a Attempt) MarshalJSON() ([]byte, error) {
	type alias Attempt
	return json.Marshal(struct {
		alias
		DurationMs int64 `json:"duration_ms"`
	}{alias(a), a.DurationMs()})
}

// Session is the slice of browser behaviour the orchestrator needs.
// *browser.Session satisfies it; tests use fakes.
type Session interface {
	captcha.Page

	Navigate(ctx context.Context, url string) error
	Fill(ctx context.Context, selector, value string) error
	ClickSubmitAndSettle(ctx context.Context, keywords []string) (bool, error)
	Close() error
}

// SessionFactory acquires a Session, optionally behind proxyURL.
type SessionFactory interface {
	Acquire(ctx context.Context, proxyURL string) (Session, error)
}

// SessionFactoryFunc adapts a function to SessionFactory.
type SessionFactoryFunc func(ctx context.Context, proxyURL string) (Session, error)

func (f SessionFactoryFunc) Acquire(ctx context.Context, proxyURL string) (Session, error) {
	return f(ctx, proxyURL)
}

// Resolver clears a page challenge. A nil job means no challenge was
// present.
type Resolver interface {
	Resolve(ctx context.Context, page captcha.Page, pageURL string) (*captcha.Job, error)
}

// submitKeywords match submission intent in control labels, English and
// French since the feeds skew francophone.
var submitKeywords = []string{
	"submit", "register", "send", "participate", "enter",
	"participer", "valider", "envoyer", "inscrire", "jouer",
}

// Orchestrator runs attempts. Not safe for concurrent use; the engine
// runs attempts strictly sequentially.
type Orchestrator struct {
	sessions SessionFactory
	resolver Resolver
	proxies  []string
	pick     func(n int) int
	newID    idgen.Generator
	now      func() time.Time
	logger   *slog.Logger
	fields   []FieldStrategy
	keywords []string
}

// Option configures an Orchestrator.
type Option func(*Orchestrator)

// WithProxyPool sets the rotating proxy pool. One proxy is chosen
// uniformly at random per attempt; an empty pool means direct.
func WithProxyPool(proxies []string) Option {
	return func(o *Orchestrator) { o.proxies = proxies }
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(o *Orchestrator) { o.logger = l }
}

// WithClock overrides the time source.
func WithClock(now func() time.Time) Option {
	return func(o *Orchestrator) { o.now = now }
}

// WithFieldStrategies replaces the default form-field strategies.
func WithFieldStrategies(fields []FieldStrategy) Option {
	return func(o *Orchestrator) { o.fields = fields }
}

// WithSubmitKeywords replaces the default submit-control keywords.
func WithSubmitKeywords(kw []string) Option {
	return func(o *Orchestrator) { o.keywords = kw }
}

// WithIDGenerator overrides attempt ID generation.
func WithIDGenerator(g idgen.Generator) Option {
	return func(o *Orchestrator) { o.newID = g }
}

// WithPicker overrides the proxy picker. Used in tests.
func WithPicker(pick func(n int) int) Option {
	return func(o *Orchestrator) { o.pick = pick }
}

// NewOrchestrator creates an Orchestrator.
func NewOrchestrator(sessions SessionFactory, resolver Resolver, opts ...Option) *Orchestrator {
	o := &Orchestrator{
		sessions: sessions,
		resolver: resolver,
		pick:     rand.IntN,
		newID:    idgen.Prefixed("att_", idgen.Default),
		now:      time.Now,
		logger:   slog.Default(),
		fields:   DefaultFieldStrategies(),
		keywords: submitKeywords,
	}
	for _, opt := range opts {
		opt(o)
	}
	return o
}

// Submit runs one attempt against the opportunity and returns its
// record. Failures are captured in the outcome, never returned as an
// error; the browser session is released on every exit path.
func (o *Orchestrator) Submit(ctx context.Context, opp opportunity.Opportunity, profile opportunity.Profile) *Attempt {
	att := &Attempt{
		ID:            o.newID(),
		OpportunityID: opp.ID,
		Title:         opp.Title,
		URL:           opp.URL,
		Domain:        opp.Domain,
		StartedAt:     o.now(),
	}
	defer func() { att.Duration = o.now().Sub(att.StartedAt) }()

	proxyURL := ""
	if len(o.proxies) > 0 {
		proxyURL = o.proxies[o.pick(len(o.proxies))]
		att.ProxyUsed = true
	}

	log := o.logger.With("attempt", att.ID, "opportunity", opp.ID, "domain", opp.Domain)

	sess, err := o.sessions.Acquire(ctx, proxyURL)
	if err != nil {
		log.Error("submit: session acquire failed", "error", err)
		return att.finish(OutcomeNetworkError, err.Error())
	}
	defer func() {
		if err := sess.Close(); err != nil {
			log.Warn("submit: session close failed", "error", err)
		}
	}()

	if err := sess.Navigate(ctx, opp.URL); err != nil {
		log.Error("submit: navigation failed", "error", err)
		return att.finish(OutcomeNetworkError, err.Error())
	}

	job, err := o.resolver.Resolve(ctx, sess, opp.URL)
	if job != nil {
		att.CaptchaState = job.State.String()
	}
	if err != nil {
		log.Warn("submit: challenge unresolved", "error", err)
		return att.finish(OutcomeCaptchaFailed, err.Error())
	}

	o.fillFields(ctx, sess, profile, att, log)

	found, err := sess.ClickSubmitAndSettle(ctx, o.keywords)
	if err != nil {
		if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
			log.Warn("submit: cancelled mid-submit", "error", err)
			return att.finish(OutcomeNetworkError, err.Error())
		}
		log.Warn("submit: submit step failed", "error", err, "control_found", found)
		return att.finish(OutcomeSubmissionFailed, err.Error())
	}
	if !found {
		log.Warn("submit: no submit control found")
		return att.finish(OutcomeSubmissionFailed, "no submit control found")
	}

	log.Info("submit: attempt succeeded", "duration_ms", o.now().Sub(att.StartedAt).Milliseconds())
	return att.finish(OutcomeSuccess, "")
}

func (a *Attempt) finish(outcome Outcome, detail string) *Attempt {
	a.Outcome = outcome
	a.Detail = detail
	return a
}

// fillFields tries each field's selector strategies in order; the first
// fill that sticks wins. Exhausting every selector leaves the field
// blank and records a warning, the submission still proceeds.
func (o *Orchestrator) fillFields(ctx context.Context, sess Session, profile opportunity.Profile, att *Attempt, log *slog.Logger) {
	for _, strat := range o.fields {
		value := strat.Value(profile)
		if value == "" {
			continue
		}
		filled := false
		for _, sel := range strat.Selectors {
			if err := sess.Fill(ctx, sel, value); err == nil {
				filled = true
				break
			}
		}
		if !filled {
			warning := "field not fillable: " + strat.Field
			att.Warnings = append(att.Warnings, warning)
			log.Warn("submit: "+warning, "selectors", len(strat.Selectors))
		}
	}
}
