// Package browser manages Chrome lifecycle for submission attempts.
//
// Unlike a long-lived observation daemon, the engine runs at most one
// submission at a time and rotates proxies per attempt, so each Session
// owns a dedicated Chrome: launch, connect via Rod, tear down. The
// scoped acquire/release makes "session released on every exit path"
// a single defer at the call site.
package browser

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/url"
	"time"

	"github.com/go-rod/rod"
	"github.com/go-rod/rod/lib/launcher"
	"github.com/go-rod/stealth"
)

// ErrNeverSettled is returned when a post-submit navigation does not
// reach network-almost-idle within the settle timeout.
var ErrNeverSettled = errors.New("browser: navigation never settled")

// Config configures the session manager.
type Config struct {
	// RemoteURL is the CDP WebSocket URL of an external Chrome.
	// Empty = launch a local Chrome per session.
	RemoteURL string

	// Headless controls the local launcher. Default true.
	Headless bool

	// NavTimeout bounds page navigation and load. Default 30s.
	NavTimeout time.Duration

	// SettleTimeout bounds the post-submit navigation wait. Default 20s.
	SettleTimeout time.Duration

	// ResourceBlocking lists resource types to block (images, fonts,
	// media, stylesheets). Submission forms rarely need any of them.
	ResourceBlocking []string

	Logger *slog.Logger
}

func (c *Config) defaults() {
	if c.NavTimeout <= 0 {
		c.NavTimeout = 30 * time.Second
	}
	if c.SettleTimeout <= 0 {
		c.SettleTimeout = 20 * time.Second
	}
	if c.Logger == nil {
		c.Logger = slog.Default()
	}
}

// Manager creates Sessions.
type Manager struct {
	cfg Config
}

// NewManager creates a session Manager.
func NewManager(cfg Config) *Manager {
	cfg.defaults()
	return &Manager{cfg: cfg}
}

// Acquire launches Chrome (optionally behind proxyURL), opens a stealth
// page and returns the Session. The caller must Close it on every exit
// path.
func (m *Manager) Acquire(ctx context.Context, proxyURL string) (*Session, error) {
	log := m.cfg.Logger

	var (
		wsURL string
		lnch  *launcher.Launcher
	)

	var proxyUser *url.Userinfo
	if m.cfg.RemoteURL != "" {
		wsURL = m.cfg.RemoteURL
		log.Debug("browser: connecting to remote", "url", wsURL)
	} else {
		l := launcher.New().Headless(m.cfg.Headless)

		// Anti-detection flags.
		l = l.Set("disable-blink-features", "AutomationControlled")

		if proxyURL != "" {
			u, err := url.Parse(proxyURL)
			if err != nil {
				return nil, fmt.Errorf("browser: proxy %q: %w", proxyURL, err)
			}
			proxyUser = u.User
			addr := u.Host
			if u.Scheme != "" {
				addr = u.Scheme + "://" + u.Host
			}
			l = l.Proxy(addr)
		}

		u, err := l.Launch()
		if err != nil {
			return nil, fmt.Errorf("browser: launch: %w", err)
		}
		wsURL = u
		lnch = l
		log.Debug("browser: launched local chrome", "proxy", proxyURL != "")
	}

	b := rod.New().ControlURL(wsURL)
	if err := b.Connect(); err != nil {
		if lnch != nil {
			lnch.Cleanup()
		}
		return nil, fmt.Errorf("browser: connect: %w", err)
	}

	// Proxy credentials are answered out of band by Chrome's auth
	// challenge; HandleAuth must be armed before the first navigation.
	if proxyUser != nil {
		pass, _ := proxyUser.Password()
		resolve := b.HandleAuth(proxyUser.Username(), pass)
		go func() { _ = resolve() }()
	}

	if err := b.IgnoreCertErrors(true); err != nil {
		log.Warn("browser: ignore cert errors failed", "error", err)
	}

	page, err := stealth.Page(b)
	if err != nil {
		b.Close()
		if lnch != nil {
			lnch.Cleanup()
		}
		return nil, fmt.Errorf("browser: create page: %w", err)
	}

	if len(m.cfg.ResourceBlocking) > 0 {
		if err := applyResourceBlocking(page, m.cfg.ResourceBlocking); err != nil {
			log.Warn("browser: resource blocking failed", "error", err)
		}
	}

	return &Session{
		page:          page,
		browser:       b,
		lnch:          lnch,
		navTimeout:    m.cfg.NavTimeout,
		settleTimeout: m.cfg.SettleTimeout,
		logger:        log,
	}, nil
}
