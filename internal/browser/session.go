package browser

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/go-rod/rod"
	"github.com/go-rod/rod/lib/launcher"
	"github.com/go-rod/rod/lib/proto"
)

// Session is one Chrome page dedicated to a single submission attempt.
// It exposes the page primitives the orchestrator and captcha resolver
// need; nothing outside this package touches Rod directly.
type Session struct {
	page          *rod.Page
	browser       *rod.Browser
	lnch          *launcher.Launcher
	navTimeout    time.Duration
	settleTimeout time.Duration
	logger        *slog.Logger
}

// Navigate loads pageURL and waits for the load event. A load-event
// timeout is logged but not fatal: heavy pages are often interactable
// before load fires.
func (s *Session) Navigate(ctx context.Context, pageURL string) error {
	navCtx, cancel := context.WithTimeout(ctx, s.navTimeout)
	defer cancel()

	if err := s.page.Context(navCtx).Navigate(pageURL); err != nil {
		return fmt.Errorf("browser: navigate %s: %w", pageURL, err)
	}
	if err := s.page.Context(navCtx).WaitLoad(); err != nil {
		s.logger.Warn("browser: wait load timeout", "url", pageURL, "error", err)
	}
	return nil
}

// CurrentURL reports the page's current location.
func (s *Session) CurrentURL(ctx context.Context) (string, error) {
	res, err := s.page.Context(ctx).Eval(`() => window.location.href`)
	if err != nil {
		return "", fmt.Errorf("browser: current url: %w", err)
	}
	return res.Value.Str(), nil
}

// Exists reports whether the selector matches at least one element.
func (s *Session) Exists(ctx context.Context, selector string) (bool, error) {
	has, _, err := s.page.Context(ctx).Has(selector)
	if err != nil {
		return false, fmt.Errorf("browser: query %q: %w", selector, err)
	}
	return has, nil
}

// Attribute returns the named attribute of the first element matching
// the selector, or "" when the element or attribute is absent.
func (s *Session) Attribute(ctx context.Context, selector, name string) (string, error) {
	has, el, err := s.page.Context(ctx).Has(selector)
	if err != nil {
		return "", fmt.Errorf("browser: query %q: %w", selector, err)
	}
	if !has {
		return "", nil
	}
	val, err := el.Attribute(name)
	if err != nil {
		return "", fmt.Errorf("browser: attribute %s of %q: %w", name, selector, err)
	}
	if val == nil {
		return "", nil
	}
	return *val, nil
}

// SetValue assigns an element's value through the DOM and fires the
// input and change events. Token response fields are usually hidden
// textareas, so keyboard input cannot reach them.
func (s *Session) SetValue(ctx context.Context, selector, value string) error {
	_, err := s.page.Context(ctx).Eval(`(sel, val) => {
		const el = document.querySelector(sel);
		if (!el) throw new Error('no element: ' + sel);
		el.value = val;
		el.dispatchEvent(new Event('input', {bubbles: true}));
		el.dispatchEvent(new Event('change', {bubbles: true}));
	}`, selector, value)
	if err != nil {
		return fmt.Errorf("browser: set value %q: %w", selector, err)
	}
	return nil
}

// TypeInto focuses the element and types text with simulated keystrokes.
func (s *Session) TypeInto(ctx context.Context, selector, text string) error {
	el, err := s.page.Context(ctx).Element(selector)
	if err != nil {
		return fmt.Errorf("browser: find %q: %w", selector, err)
	}
	// Select any prefilled text so typing replaces it.
	_ = el.SelectAllText()
	if err := el.Input(text); err != nil {
		return fmt.Errorf("browser: type into %q: %w", selector, err)
	}
	return nil
}

// CaptureImage screenshots the first element matching the selector.
func (s *Session) CaptureImage(ctx context.Context, selector string) ([]byte, error) {
	el, err := s.page.Context(ctx).Element(selector)
	if err != nil {
		return nil, fmt.Errorf("browser: find %q: %w", selector, err)
	}
	img, err := el.Screenshot(proto.PageCaptureScreenshotFormatPng, 0)
	if err != nil {
		return nil, fmt.Errorf("browser: screenshot %q: %w", selector, err)
	}
	return img, nil
}

// Fill types value into the first visible element matching the selector.
func (s *Session) Fill(ctx context.Context, selector, value string) error {
	has, el, err := s.page.Context(ctx).Has(selector)
	if err != nil {
		return fmt.Errorf("browser: query %q: %w", selector, err)
	}
	if !has {
		return fmt.Errorf("browser: no element %q", selector)
	}
	visible, err := el.Visible()
	if err != nil {
		return fmt.Errorf("browser: visibility %q: %w", selector, err)
	}
	if !visible {
		return fmt.Errorf("browser: element %q not visible", selector)
	}
	_ = el.SelectAllText()
	if err := el.Input(value); err != nil {
		return fmt.Errorf("browser: fill %q: %w", selector, err)
	}
	return nil
}

var clickableSelectors = []string{
	`button`,
	`input[type="submit"]`,
	`input[type="button"]`,
	`a`,
}

// ClickSubmitAndSettle finds the first visible clickable element whose
// label contains one of the keywords (case-insensitive), clicks it and
// waits for the resulting navigation to become network-almost-idle.
// Returns found=false when no control matched. A click that never
// settles returns ErrNeverSettled.
func (s *Session) ClickSubmitAndSettle(ctx context.Context, keywords []string) (bool, error) {
	el, err := s.findControl(ctx, keywords)
	if err != nil {
		return false, err
	}
	if el == nil {
		return false, nil
	}

	settleCtx, cancel := context.WithTimeout(ctx, s.settleTimeout)
	defer cancel()

	// Arm the navigation wait before clicking so a fast redirect is
	// not missed.
	wait := s.page.Context(settleCtx).WaitNavigation(proto.PageLifecycleEventNameNetworkAlmostIdle)

	_ = el.ScrollIntoView()
	if err := el.Click(proto.InputMouseButtonLeft, 1); err != nil {
		return true, fmt.Errorf("browser: click submit: %w", err)
	}

	wait()

	if errors.Is(settleCtx.Err(), context.DeadlineExceeded) && ctx.Err() == nil {
		return true, ErrNeverSettled
	}
	if ctx.Err() != nil {
		return true, ctx.Err()
	}
	return true, nil
}

func (s *Session) findControl(ctx context.Context, keywords []string) (*rod.Element, error) {
	lowered := make([]string, len(keywords))
	for i, k := range keywords {
		lowered[i] = strings.ToLower(k)
	}

	for _, sel := range clickableSelectors {
		els, err := s.page.Context(ctx).Elements(sel)
		if err != nil {
			return nil, fmt.Errorf("browser: query %q: %w", sel, err)
		}
		for _, el := range els {
			label, err := controlLabel(el)
			if err != nil {
				continue
			}
			if !matchesAny(label, lowered) {
				continue
			}
			visible, err := el.Visible()
			if err != nil || !visible {
				continue
			}
			return el, nil
		}
	}
	return nil, nil
}

// controlLabel reads the visible text of a control, falling back to the
// value attribute for input elements.
func controlLabel(el *rod.Element) (string, error) {
	text, err := el.Text()
	if err != nil {
		return "", err
	}
	if strings.TrimSpace(text) != "" {
		return text, nil
	}
	val, err := el.Attribute("value")
	if err != nil || val == nil {
		return text, err
	}
	return *val, nil
}

func matchesAny(label string, loweredKeywords []string) bool {
	l := strings.ToLower(label)
	for _, k := range loweredKeywords {
		if strings.Contains(l, k) {
			return true
		}
	}
	return false
}

// Close tears down the page, the browser connection and, for locally
// launched Chrome, the process and its temp profile.
func (s *Session) Close() error {
	var errs []error
	if s.page != nil {
		if err := s.page.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	if s.browser != nil {
		if err := s.browser.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	if s.lnch != nil {
		s.lnch.Cleanup()
	}
	return errors.Join(errs...)
}
