package opportunity

import (
	"testing"
	"time"
)

func TestDomainOf(t *testing.T) {
	cases := []struct {
		raw     string
		want    string
		wantErr bool
	}{
		{"https://www.sephora.fr/beauty-insider/", "www.sephora.fr", false},
		{"https://Giveaway.Example.COM:8443/enter?id=1", "giveaway.example.com", false},
		{"http://shopmium.com", "shopmium.com", false},
		{"not a url at all%%", "", true},
		{"/relative/path", "", true},
	}
	for _, c := range cases {
		got, err := DomainOf(c.raw)
		if c.wantErr {
			if err == nil {
				t.Errorf("DomainOf(%q): expected error, got %q", c.raw, got)
			}
			continue
		}
		if err != nil {
			t.Errorf("DomainOf(%q): %v", c.raw, err)
			continue
		}
		if got != c.want {
			t.Errorf("DomainOf(%q) = %q, want %q", c.raw, got, c.want)
		}
	}
}

func TestExpired(t *testing.T) {
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	o := Opportunity{ExpiresAt: now.Add(time.Minute)}
	if o.Expired(now) {
		t.Error("future deadline reported expired")
	}
	o.ExpiresAt = now
	if !o.Expired(now) {
		t.Error("deadline equal to now must count as expired")
	}
	o.ExpiresAt = now.Add(-time.Second)
	if !o.Expired(now) {
		t.Error("past deadline not reported expired")
	}
}
