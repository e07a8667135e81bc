package validate

import (
	"strings"
	"testing"
	"time"

	"github.com/sweepd/sweepd/internal/opportunity"
)

var testProfile = opportunity.Profile{Name: "Ada Lovelace", Email: "ada@example.com"}

func fixedNow() time.Time {
	return time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
}

func goodOpp() *opportunity.Opportunity {
	return &opportunity.Opportunity{
		ID:        "opp-1",
		Title:     "Free sample",
		URL:       "https://offers.example.com/enter",
		Domain:    "offers.example.com",
		Value:     50,
		Priority:  5,
		ExpiresAt: fixedNow().Add(24 * time.Hour),
	}
}

func TestValidate_AllChecksPass(t *testing.T) {
	v := New([]string{"example.com"}, nil, 1000, testProfile, fixedNow)
	ok, reasons := v.Validate(goodOpp())
	if !ok {
		t.Fatalf("expected ok, got reasons %v", reasons)
	}
}

func TestValidate_DenyListPrecedence(t *testing.T) {
	// Same entry on both lists: the deny-list must win.
	v := New([]string{"scam-site.com"}, []string{"scam-site.com"}, 1000, testProfile, fixedNow)
	opp := goodOpp()
	opp.URL = "https://giveaway.scam-site.com/win"
	opp.Domain = "giveaway.scam-site.com"
	ok, reasons := v.Validate(opp)
	if ok {
		t.Fatal("expected rejection")
	}
	found := false
	for _, r := range reasons {
		if strings.Contains(r, "blacklisted") {
			found = true
		}
	}
	if !found {
		t.Errorf("expected blacklist reason, got %v", reasons)
	}
}

func TestValidate_SubdomainAllowMatch(t *testing.T) {
	v := New([]string{"example.com"}, nil, 1000, testProfile, fixedNow)
	opp := goodOpp()
	opp.Domain = "deep.sub.example.com"
	if ok, reasons := v.Validate(opp); !ok {
		t.Errorf("subdomain should match allow-list, got %v", reasons)
	}
	opp.Domain = "notexample.com"
	if ok, _ := v.Validate(opp); ok {
		t.Error("suffix without dot boundary must not match")
	}
}

func TestValidate_Expiry(t *testing.T) {
	v := New([]string{"example.com"}, nil, 1000, testProfile, fixedNow)
	opp := goodOpp()
	opp.ExpiresAt = fixedNow() // boundary: not strictly in the future
	if ok, _ := v.Validate(opp); ok {
		t.Error("expiry equal to now must be rejected")
	}
}

func TestValidate_ValueBounds(t *testing.T) {
	v := New([]string{"example.com"}, nil, 1000, testProfile, fixedNow)

	opp := goodOpp()
	opp.Value = 1000 // inclusive upper bound
	if ok, reasons := v.Validate(opp); !ok {
		t.Errorf("value at threshold should pass, got %v", reasons)
	}
	opp.Value = 1000.01
	if ok, _ := v.Validate(opp); ok {
		t.Error("value above threshold must be rejected")
	}
	opp.Value = -1
	if ok, _ := v.Validate(opp); ok {
		t.Error("negative value must be rejected")
	}
}

func TestValidate_ProfileIdentity(t *testing.T) {
	bad := []opportunity.Profile{
		{Name: "", Email: "ada@example.com"},
		{Name: "  ", Email: "ada@example.com"},
		{Name: "Ada", Email: ""},
		{Name: "Ada", Email: "not-an-email"},
		{Name: "Ada", Email: "a b@example.com"},
	}
	for _, p := range bad {
		v := New([]string{"example.com"}, nil, 1000, p, fixedNow)
		if ok, _ := v.Validate(goodOpp()); ok {
			t.Errorf("profile %+v should be rejected", p)
		}
	}
}

func TestValidate_Pure(t *testing.T) {
	v := New([]string{"example.com"}, nil, 1000, testProfile, fixedNow)
	opp := goodOpp()
	before := *opp
	v.Validate(opp)
	if *opp != before {
		t.Error("validator mutated the opportunity")
	}
}
