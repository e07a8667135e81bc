package feed

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/microcosm-cc/bluemonday"
	"golang.org/x/net/html"

	"github.com/sweepd/sweepd/internal/config"
	"github.com/sweepd/sweepd/internal/opportunity"
)

// offerKeywords signal a live offer on a probed page, each mapped to
// the category it implies. Checked in order, first match wins.
var offerKeywords = []struct {
	keyword  string
	category string
}{
	{"jeu-concours", "contest"},
	{"concours", "contest"},
	{"remboursé", "cashback"},
	{"cashback", "cashback"},
	{"échantillon", "samples"},
	{"gratuit", "samples"},
	{"offert", "samples"},
}

// pricePattern matches amounts like "12,34 €", "5€" or "1 000,00 €";
// French pages write the decimal separator as a comma.
var pricePattern = regexp.MustCompile(`(\d{1,3}(?:[ \x{00a0}]?\d{3})*(?:[.,]\d{1,2})?)\s*€`)

// probeWindow is the assumed lifetime of an offer found by probing;
// plain pages rarely state a deadline.
const probeWindow = 7 * 24 * time.Hour

// ProbeSource fetches one configured page and decides whether it
// currently carries an offer. Returns nil when no offer keyword is
// present.
func (c *Client) ProbeSource(ctx context.Context, src config.FeedSource) (*opportunity.Opportunity, error) {
	body, err := c.get(ctx, src.URL)
	if err != nil {
		return nil, err
	}

	clean := bluemonday.UGCPolicy().SanitizeBytes(body)
	page, err := parsePage(string(clean))
	if err != nil {
		return nil, fmt.Errorf("feed: parse %s: %w", src.URL, err)
	}

	keyword, category := matchOffer(page.text)
	if keyword == "" {
		return nil, nil
	}
	if src.Category != "" {
		category = src.Category
	}

	domain, err := opportunity.DomainOf(src.URL)
	if err != nil {
		return nil, err
	}

	title := page.title
	if title == "" {
		title = src.Key
	}

	now := c.now()
	opp := &opportunity.Opportunity{
		ID:               probeID(src.URL),
		Title:            title,
		Description:      page.firstParagraph,
		URL:              src.URL,
		Domain:           domain,
		Category:         category,
		Value:            bestPrice(page.text),
		Priority:         src.Priority,
		ExpiresAt:        now.Add(probeWindow),
		AutoFillEligible: src.AutoFill,
		DetectedAt:       now,
	}
	c.logger.Info("feed: offer detected",
		"source", src.Key, "keyword", keyword, "category", category, "value", opp.Value)
	return opp, nil
}

// probeID derives a stable opportunity ID from the source URL so
// repeated probes update the same row.
func probeID(rawURL string) string {
	sum := sha256.Sum256([]byte(rawURL))
	return "probe_" + hex.EncodeToString(sum[:8])
}

type parsedPage struct {
	title          string
	firstParagraph string
	text           string
}

// parsePage extracts the first heading, the first paragraph, and the
// flattened text of a sanitized HTML document.
func parsePage(src string) (*parsedPage, error) {
	doc, err := html.Parse(strings.NewReader(src))
	if err != nil {
		return nil, err
	}

	p := &parsedPage{}
	var text strings.Builder
	var walk func(*html.Node)
	walk = func(n *html.Node) {
		if n.Type == html.ElementNode {
			switch n.Data {
			case "h1", "h2":
				if p.title == "" {
					p.title = strings.TrimSpace(nodeText(n))
				}
			case "p":
				if p.firstParagraph == "" {
					p.firstParagraph = strings.TrimSpace(nodeText(n))
				}
			}
		}
		if n.Type == html.TextNode {
			text.WriteString(n.Data)
			text.WriteString(" ")
		}
		for child := n.FirstChild; child != nil; child = child.NextSibling {
			walk(child)
		}
	}
	walk(doc)

	p.text = text.String()
	return p, nil
}

func nodeText(n *html.Node) string {
	var b strings.Builder
	var walk func(*html.Node)
	walk = func(n *html.Node) {
		if n.Type == html.TextNode {
			b.WriteString(n.Data)
		}
		for child := n.FirstChild; child != nil; child = child.NextSibling {
			walk(child)
		}
	}
	walk(n)
	return b.String()
}

// matchOffer returns the first offer keyword found in the page text and
// its implied category.
func matchOffer(text string) (keyword, category string) {
	lower := strings.ToLower(text)
	for _, entry := range offerKeywords {
		if strings.Contains(lower, entry.keyword) {
			return entry.keyword, entry.category
		}
	}
	return "", ""
}

// bestPrice returns the highest euro amount mentioned on the page, 0
// when none parses.
func bestPrice(text string) float64 {
	best := 0.0
	for _, m := range pricePattern.FindAllStringSubmatch(text, -1) {
		raw := strings.NewReplacer(" ", "", " ", "", ",", ".").Replace(m[1])
		v, err := strconv.ParseFloat(raw, 64)
		if err != nil {
			continue
		}
		if v > best {
			best = v
		}
	}
	return best
}
