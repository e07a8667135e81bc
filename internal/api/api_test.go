package api

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/sweepd/sweepd/internal/config"
	"github.com/sweepd/sweepd/internal/opportunity"
	"github.com/sweepd/sweepd/internal/rategate"
	"github.com/sweepd/sweepd/internal/submit"
)

type fakeEngine struct {
	state   rategate.State
	queued  []string
	enqErr  error
}

func (f *fakeEngine) Status() rategate.State { return f.state }

func (f *fakeEngine) EnqueueManual(id string) error {
	if f.enqErr != nil {
		return f.enqErr
	}
	f.queued = append(f.queued, id)
	return nil
}

type fakeStorage struct {
	opps     []opportunity.Opportunity
	attempts []submit.Attempt
	err      error
}

func (f *fakeStorage) Candidates(context.Context) ([]opportunity.Opportunity, error) {
	return f.opps, f.err
}

func (f *fakeStorage) RecentAttempts(context.Context, int) ([]submit.Attempt, error) {
	return f.attempts, f.err
}

func testConfig(t *testing.T) *config.Config {
	t.Helper()
	cfg, err := config.Parse([]byte("captcha_solver:\n  api_key: secret-key\n"))
	if err != nil {
		t.Fatalf("config: %v", err)
	}
	return cfg
}

func newTestServer(t *testing.T, eng *fakeEngine, st *fakeStorage) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(NewServer(eng, st, testConfig(t), nil).Router())
	t.Cleanup(srv.Close)
	return srv
}

func getJSON(t *testing.T, url string, out any) int {
	t.Helper()
	resp, err := http.Get(url)
	if err != nil {
		t.Fatalf("get %s: %v", url, err)
	}
	defer resp.Body.Close()
	if out != nil {
		if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
			t.Fatalf("decode %s: %v", url, err)
		}
	}
	return resp.StatusCode
}

func TestHealth(t *testing.T) {
	srv := newTestServer(t, &fakeEngine{}, &fakeStorage{})

	var body map[string]any
	if code := getJSON(t, srv.URL+"/api/health", &body); code != http.StatusOK {
		t.Fatalf("status = %d", code)
	}
	if body["status"] != "ok" {
		t.Errorf("body = %v", body)
	}
}

func TestStatusCounters(t *testing.T) {
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	state := rategate.State{
		ParticipationsToday: 3,
		SuccessesToday:      2,
		FailuresToday:       1,
		DayBoundary:         time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC),
	}
	state.LastParticipationAt = &now
	srv := newTestServer(t, &fakeEngine{state: state}, &fakeStorage{})

	var body map[string]any
	getJSON(t, srv.URL+"/api/status", &body)
	if body["participations_today"].(float64) != 3 {
		t.Errorf("body = %v", body)
	}
	if body["day_boundary"] != "2026-03-01" {
		t.Errorf("day_boundary = %v", body["day_boundary"])
	}
}

func TestConfigRedacted(t *testing.T) {
	srv := newTestServer(t, &fakeEngine{}, &fakeStorage{})

	resp, err := http.Get(srv.URL + "/api/config")
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()
	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		t.Fatal(err)
	}
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d", resp.StatusCode)
	}
	if strings.Contains(string(raw), "secret-key") {
		t.Error("api key leaked through /api/config")
	}
}

func TestOpportunitiesEmptyIsArray(t *testing.T) {
	srv := newTestServer(t, &fakeEngine{}, &fakeStorage{})

	resp, err := http.Get(srv.URL + "/api/opportunities")
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()
	var body []opportunity.Opportunity
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		t.Fatalf("empty result must encode as [], got error %v", err)
	}
}

func TestHistory(t *testing.T) {
	st := &fakeStorage{attempts: []submit.Attempt{{ID: "att_1", Outcome: submit.OutcomeSuccess}}}
	srv := newTestServer(t, &fakeEngine{}, st)

	var body []submit.Attempt
	if code := getJSON(t, srv.URL+"/api/history", &body); code != http.StatusOK {
		t.Fatalf("status = %d", code)
	}
	if len(body) != 1 || body[0].ID != "att_1" {
		t.Errorf("body = %+v", body)
	}
}

func TestParticipate(t *testing.T) {
	eng := &fakeEngine{}
	srv := newTestServer(t, eng, &fakeStorage{})

	resp, err := http.Post(srv.URL+"/api/participate", "application/json", strings.NewReader(`{"id":"opp-1"}`))
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusAccepted {
		t.Fatalf("status = %d", resp.StatusCode)
	}
	if len(eng.queued) != 1 || eng.queued[0] != "opp-1" {
		t.Errorf("queued = %v", eng.queued)
	}
}

func TestParticipateBadRequest(t *testing.T) {
	srv := newTestServer(t, &fakeEngine{}, &fakeStorage{})

	resp, err := http.Post(srv.URL+"/api/participate", "application/json", strings.NewReader(`{}`))
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusBadRequest {
		t.Errorf("status = %d, want 400", resp.StatusCode)
	}
}

func TestParticipateConflict(t *testing.T) {
	eng := &fakeEngine{enqErr: errors.New("attempt already queued")}
	srv := newTestServer(t, eng, &fakeStorage{})

	resp, err := http.Post(srv.URL+"/api/participate", "application/json", strings.NewReader(`{"id":"opp-1"}`))
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusConflict {
		t.Errorf("status = %d, want 409", resp.StatusCode)
	}
}
