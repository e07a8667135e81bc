package captcha

import (
	"context"
	"encoding/base64"
	"fmt"
)

// Selectors for the known challenge widgets. Detection runs in this
// order; the first hit wins.
const (
	recaptchaSelector = `.g-recaptcha`
	hcaptchaSelector  = `.h-captcha`

	recaptchaResponseSelector = `textarea[name="g-recaptcha-response"]`
	hcaptchaResponseSelector  = `textarea[name="h-captcha-response"]`
)

// imageSelectors are tried in order when looking for a generic image
// challenge and its answer input.
var imageChallengeSelectors = []string{
	`img[src*="captcha"]`,
	`img[alt*="captcha"]`,
	`img[id*="captcha"]`,
}

var imageAnswerSelectors = []string{
	`input[name*="captcha"]`,
	`input[id*="captcha"]`,
	`input[placeholder*="captcha"]`,
}

// detect inspects the page for challenge markers in priority order and
// fills in the job's kind plus site key or image payload. A (nil, nil)
// return means no challenge is present.
func detect(ctx context.Context, page Page, pageURL string, newID func() string) (*Job, error) {
	if found, err := page.Exists(ctx, recaptchaSelector); err != nil {
		return nil, fmt.Errorf("captcha: probe recaptcha: %w", err)
	} else if found {
		key, err := page.Attribute(ctx, recaptchaSelector, "data-sitekey")
		if err != nil {
			return nil, fmt.Errorf("captcha: recaptcha sitekey: %w", err)
		}
		return &Job{ID: newID(), Kind: KindRecaptchaV2, SiteKey: key, PageURL: pageURL}, nil
	}

	if found, err := page.Exists(ctx, hcaptchaSelector); err != nil {
		return nil, fmt.Errorf("captcha: probe hcaptcha: %w", err)
	} else if found {
		key, err := page.Attribute(ctx, hcaptchaSelector, "data-sitekey")
		if err != nil {
			return nil, fmt.Errorf("captcha: hcaptcha sitekey: %w", err)
		}
		return &Job{ID: newID(), Kind: KindHCaptcha, SiteKey: key, PageURL: pageURL}, nil
	}

	for _, sel := range imageChallengeSelectors {
		found, err := page.Exists(ctx, sel)
		if err != nil {
			return nil, fmt.Errorf("captcha: probe image: %w", err)
		}
		if !found {
			continue
		}
		raw, err := page.CaptureImage(ctx, sel)
		if err != nil {
			return nil, fmt.Errorf("captcha: capture image: %w", err)
		}
		return &Job{
			ID:           newID(),
			Kind:         KindImage,
			ImagePayload: base64.StdEncoding.EncodeToString(raw),
			PageURL:      pageURL,
		}, nil
	}

	return nil, nil
}

// inject writes the solved token into the element the detected widget
// expects. Token widgets use a single hidden response field; the image
// kind types the recognised text into the best-guess answer input.
func inject(ctx context.Context, page Page, job *Job) error {
	switch job.Kind {
	case KindRecaptchaV2:
		return page.SetValue(ctx, recaptchaResponseSelector, job.Token)
	case KindHCaptcha:
		return page.SetValue(ctx, hcaptchaResponseSelector, job.Token)
	case KindImage:
		for _, sel := range imageAnswerSelectors {
			found, err := page.Exists(ctx, sel)
			if err != nil {
				return fmt.Errorf("captcha: probe answer input: %w", err)
			}
			if found {
				return page.TypeInto(ctx, sel, job.Token)
			}
		}
		return fmt.Errorf("captcha: no answer input found for image challenge")
	default:
		return fmt.Errorf("captcha: unknown kind %q", job.Kind)
	}
}
