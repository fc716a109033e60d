// Package mail builds account notification messages and hands them to a
// delivery backend.
package mail

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"time"

	"github.com/devlink/identity/internal/core/domain"
)

// Kind names a notification template.
type Kind string

const (
	KindVerifyEmail   Kind = "verify_email"
	KindPasswordReset Kind = "password_reset"
)

// Message is one rendered notification. Link embeds the raw one-time token
// and must not be logged as is.
type Message struct {
	Kind    Kind   `json:"kind"`
	UserID  string `json:"user_id"`
	To      string `json:"to"`
	Name    string `json:"name"`
	Subject string `json:"subject"`
	Body    string `json:"body"`
	Link    string `json:"link"`
}

// Sender delivers a rendered message.
type Sender interface {
	Send(ctx context.Context, msg Message) error
}

// Composer renders notification messages from the configured link bases.
type Composer struct {
	verifyURL *url.URL
	resetURL  *url.URL
	verifyTTL time.Duration
	resetTTL  time.Duration
}

// NewComposer validates both base URLs. The token is appended as the
// "token" query parameter. The TTLs are quoted in the message bodies.
func NewComposer(verifyURL, resetURL string, verifyTTL, resetTTL time.Duration) (*Composer, error) {
	v, err := parseBase(verifyURL)
	if err != nil {
		return nil, fmt.Errorf("verify url: %w", err)
	}
	r, err := parseBase(resetURL)
	if err != nil {
		return nil, fmt.Errorf("reset url: %w", err)
	}
	if verifyTTL <= 0 || resetTTL <= 0 {
		return nil, errors.New("token TTLs must be positive")
	}
	return &Composer{verifyURL: v, resetURL: r, verifyTTL: verifyTTL, resetTTL: resetTTL}, nil
}

// humanDuration renders d in the largest whole unit, e.g. "1 day", "30 minutes".
func humanDuration(d time.Duration) string {
	const day = 24 * time.Hour
	switch {
	case d >= day && d%day == 0:
		return plural(int(d/day), "day")
	case d >= time.Hour && d%time.Hour == 0:
		return plural(int(d/time.Hour), "hour")
	case d >= time.Minute && d%time.Minute == 0:
		return plural(int(d/time.Minute), "minute")
	}
	return d.String()
}

func plural(n int, unit string) string {
	if n == 1 {
		return "1 " + unit
	}
	return fmt.Sprintf("%d %ss", n, unit)
}

func parseBase(raw string) (*url.URL, error) {
	u, err := url.Parse(raw)
	if err != nil {
		return nil, err
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return nil, fmt.Errorf("%q must be an absolute http(s) URL", raw)
	}
	return u, nil
}

func withToken(base *url.URL, token string) string {
	u := *base
	q := u.Query()
	q.Set("token", token)
	u.RawQuery = q.Encode()
	return u.String()
}

func (c *Composer) Verification(user *domain.PublicUser, rawToken string) Message {
	link := withToken(c.verifyURL, rawToken)
	body := fmt.Sprintf("Hi %s,\n\nConfirm your email address by opening the link below. It expires in %s.\n\n%s\n",
		user.Name, humanDuration(c.verifyTTL), link)
	return Message{
		Kind:    KindVerifyEmail,
		UserID:  user.ID,
		To:      user.Email,
		Name:    user.Name,
		Subject: "Verify your email address",
		Body:    body,
		Link:    link,
	}
}

func (c *Composer) PasswordReset(user *domain.PublicUser, rawToken string) Message {
	link := withToken(c.resetURL, rawToken)
	body := fmt.Sprintf("Hi %s,\n\nSomeone asked to reset your password. If it was you, open the link below within %s.\n\n%s\n\nIf not, you can ignore this email.\n",
		user.Name, humanDuration(c.resetTTL), link)
	return Message{
		Kind:    KindPasswordReset,
		UserID:  user.ID,
		To:      user.Email,
		Name:    user.Name,
		Subject: "Reset your password",
		Body:    body,
		Link:    link,
	}
}

// Redact hides the token in a link.
func Redact(link string) string {
	u, err := url.Parse(link)
	if err != nil {
		return "[invalid link]"
	}
	q := u.Query()
	if q.Has("token") {
		q.Set("token", "REDACTED")
		u.RawQuery = q.Encode()
	}
	return u.String()
}
