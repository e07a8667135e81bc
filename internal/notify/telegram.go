package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	htmltomarkdown "github.com/JohannesKaufmann/html-to-markdown/v2"

	"github.com/sweepd/sweepd/internal/submit"
)

// TelegramConfig configures the Telegram bot sink.
type TelegramConfig struct {
	BotToken string `yaml:"botToken" json:"-"`
	ChatID   string `yaml:"chatId" json:"chat_id"`
	// BaseURL overrides the bot API endpoint. Used in tests.
	BaseURL string `yaml:"-" json:"-"`
}

// Telegram posts events as Markdown messages through the bot API.
type Telegram struct {
	cfg    TelegramConfig
	client *http.Client
}

// NewTelegram creates the Telegram sink.
func NewTelegram(cfg TelegramConfig) *Telegram {
	if cfg.BaseURL == "" {
		cfg.BaseURL = "https://api.telegram.org"
	}
	return &Telegram{
		cfg:    cfg,
		client: &http.Client{Timeout: 15 * time.Second},
	}
}

func (t *Telegram) Name() string { return "telegram" }

func (t *Telegram) Notify(ctx context.Context, ev Event) error {
	text := renderMarkdown(ev)
	if text == "" {
		return nil
	}

	payload, err := json.Marshal(map[string]any{
		"chat_id":                  t.cfg.ChatID,
		"text":                     text,
		"parse_mode":               "Markdown",
		"disable_web_page_preview": true,
	})
	if err != nil {
		return fmt.Errorf("notify: telegram marshal: %w", err)
	}

	url := t.cfg.BaseURL + "/bot" + t.cfg.BotToken + "/sendMessage"
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(payload))
	if err != nil {
		return fmt.Errorf("notify: telegram request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := t.client.Do(req)
	if err != nil {
		return fmt.Errorf("notify: telegram send: %w", err)
	}
	defer resp.Body.Close()
	body, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("notify: telegram status %d: %s", resp.StatusCode, strings.TrimSpace(string(body)))
	}
	return nil
}

// renderMarkdown builds the human-readable message for an event.
// Opportunity descriptions arrive as scraped HTML and are converted to
// Markdown before sending.
func renderMarkdown(ev Event) string {
	switch ev.Type {
	case EventAttempt:
		return renderAttempt(ev.Attempt)
	case EventOpportunity:
		o := ev.Opportunity
		if o == nil {
			return ""
		}
		var b strings.Builder
		fmt.Fprintf(&b, "*Nouvelle opportunité*\n%s\n", escapeMarkdown(o.Title))
		fmt.Fprintf(&b, "Valeur: %.2f | Priorité: %d\n", o.Value, o.Priority)
		fmt.Fprintf(&b, "Expire: %s\n", o.ExpiresAt.Format("2006-01-02 15:04"))
		if desc := descriptionMarkdown(o.Description); desc != "" {
			b.WriteString(desc)
			b.WriteString("\n")
		}
		b.WriteString(o.URL)
		return b.String()
	}
	return ""
}

func renderAttempt(att *submit.Attempt) string {
	if att == nil {
		return ""
	}
	var b strings.Builder
	if att.Outcome == submit.OutcomeSuccess {
		fmt.Fprintf(&b, "*Participation réussie*\n%s\n", escapeMarkdown(att.Title))
	} else {
		fmt.Fprintf(&b, "*Participation échouée* (%s)\n%s\n", att.Outcome, escapeMarkdown(att.Title))
		if att.Detail != "" {
			fmt.Fprintf(&b, "_%s_\n", escapeMarkdown(att.Detail))
		}
	}
	fmt.Fprintf(&b, "Durée: %dms\n%s", att.DurationMs(), att.URL)
	return b.String()
}

// descriptionMarkdown converts scraped HTML to Markdown, truncated to
// keep messages under Telegram's limit.
func descriptionMarkdown(html string) string {
	if strings.TrimSpace(html) == "" {
		return ""
	}
	md, err := htmltomarkdown.ConvertString(html)
	if err != nil {
		return ""
	}
	md = strings.TrimSpace(md)
	if len(md) > 500 {
		md = md[:500] + "…"
	}
	return md
}

var markdownEscaper = strings.NewReplacer("*", "\\*", "_", "\\_", "[", "\\[", "`", "\\`")

func escapeMarkdown(s string) string { return markdownEscaper.Replace(s) }
