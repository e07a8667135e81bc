package captcha

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/sony/gobreaker/v2"
)

// notReadyMarker is the provider's literal "still working" response.
// The misspelling is part of the wire protocol.
const notReadyMarker = "CAPCHA_NOT_READY"

// providerResponse is the JSON envelope both endpoints share:
// status 1 carries a job ID or token in request, status 0 an error
// text (or the not-ready marker).
type providerResponse struct {
	Status  int    `json:"status"`
	Request string `json:"request"`
}

// HTTPSolver talks to a 2captcha-compatible solving service. All calls
// go through a circuit breaker so a dead provider fails fast instead of
// burning the attempt budget on timeouts.
type HTTPSolver struct {
	baseURL string
	apiKey  string
	client  *http.Client
	breaker *gobreaker.CircuitBreaker[[]byte]
	logger  *slog.Logger
}

// HTTPSolverOption configures an HTTPSolver.
type HTTPSolverOption func(*HTTPSolver)

// WithHTTPClient sets a custom HTTP client.
func WithHTTPClient(c *http.Client) HTTPSolverOption {
	return func(s *HTTPSolver) { s.client = c }
}

// WithSolverLogger sets a custom logger.
func WithSolverLogger(l *slog.Logger) HTTPSolverOption {
	return func(s *HTTPSolver) { s.logger = l }
}

// NewHTTPSolver creates a solver client for the given endpoint and key.
func NewHTTPSolver(baseURL, apiKey string, opts ...HTTPSolverOption) *HTTPSolver {
	s := &HTTPSolver{
		baseURL: strings.TrimRight(baseURL, "/"),
		apiKey:  apiKey,
		client:  &http.Client{Timeout: 30 * time.Second},
		logger:  slog.Default(),
	}
	for _, o := range opts {
		o(s)
	}
	s.breaker = gobreaker.NewCircuitBreaker[[]byte](gobreaker.Settings{
		Name:    "captcha-solver",
		Timeout: 60 * time.Second,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= 5
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			s.logger.Warn("captcha: solver breaker state change",
				"breaker", name, "from", from.String(), "to", to.String())
		},
	})
	return s
}

// Submit posts the challenge to the provider's in endpoint and returns
// the provider job ID.
func (s *HTTPSolver) Submit(ctx context.Context, job *Job) (string, error) {
	form := url.Values{}
	form.Set("key", s.apiKey)
	form.Set("json", "1")
	form.Set("pageurl", job.PageURL)

	switch job.Kind {
	case KindRecaptchaV2:
		form.Set("method", "userrecaptcha")
		form.Set("googlekey", job.SiteKey)
	case KindHCaptcha:
		form.Set("method", "hcaptcha")
		form.Set("sitekey", job.SiteKey)
	case KindImage:
		form.Set("method", "base64")
		form.Set("body", job.ImagePayload)
	default:
		return "", fmt.Errorf("captcha: unsupported kind %q", job.Kind)
	}

	res, err := s.call(ctx, http.MethodPost, s.baseURL+"/in.php", form)
	if err != nil {
		return "", err
	}
	if res.Status != 1 {
		return "", fmt.Errorf("captcha: provider rejected submission: %s", res.Request)
	}
	s.logger.Debug("captcha: submitted to solver", "provider_job", res.Request, "kind", job.Kind)
	return res.Request, nil
}

// Poll asks the provider for the job status.
func (s *HTTPSolver) Poll(ctx context.Context, providerJobID string) (PollResult, error) {
	q := url.Values{}
	q.Set("key", s.apiKey)
	q.Set("json", "1")
	q.Set("action", "get")
	q.Set("id", providerJobID)

	res, err := s.call(ctx, http.MethodGet, s.baseURL+"/res.php?"+q.Encode(), nil)
	if err != nil {
		return PollResult{}, err
	}
	if res.Status == 1 {
		return PollResult{Ready: true, Token: res.Request}, nil
	}
	if res.Request == notReadyMarker {
		return PollResult{}, nil
	}
	return PollResult{}, fmt.Errorf("captcha: provider error: %s", res.Request)
}

func (s *HTTPSolver) call(ctx context.Context, method, endpoint string, form url.Values) (*providerResponse, error) {
	body, err := s.breaker.Execute(func() ([]byte, error) {
		var reader io.Reader
		if form != nil {
			reader = strings.NewReader(form.Encode())
		}
		req, err := http.NewRequestWithContext(ctx, method, endpoint, reader)
		if err != nil {
			return nil, fmt.Errorf("captcha: new request: %w", err)
		}
		if form != nil {
			req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
		}

		resp, err := s.client.Do(req)
		if err != nil {
			return nil, fmt.Errorf("captcha: solver http: %w", err)
		}
		defer resp.Body.Close()

		if resp.StatusCode != http.StatusOK {
			return nil, fmt.Errorf("captcha: solver status %d", resp.StatusCode)
		}
		// Responses are tiny; 64KB is generous headroom.
		return io.ReadAll(io.LimitReader(resp.Body, 64<<10))
	})
	if err != nil {
		return nil, err
	}

	var res providerResponse
	if err := json.Unmarshal(body, &res); err != nil {
		return nil, fmt.Errorf("captcha: decode solver response: %w", err)
	}
	return &res, nil
}
