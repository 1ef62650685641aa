package auth

import (
	"errors"
	"strings"

	"client/domain"

	"github.com/rs/zerolog"
)

const DefaultRedirect = "/login"

// Handler terminates the authenticated session. It receives the normalized
// error so the caller can navigate to RedirectTo.
type Handler func(*domain.AuthError)

var authHints = []string{"authentication", "token", "expired"}

type Classifier struct {
	handler Handler
	log     zerolog.Logger
}

func NewClassifier(handler Handler, log zerolog.Logger) *Classifier {
	return &Classifier{handler: handler, log: log}
}

// Classify decides whether err is an authentication failure. Codes and
// redirects reported by the server win; the message text is only a fallback.
func (c *Classifier) Classify(err error) (*domain.AuthError, bool) {
	if err == nil {
		return nil, false
	}

	var authErr *domain.AuthError
	if errors.As(err, &authErr) {
		normalized := *authErr
		if normalized.RedirectTo == "" {
			normalized.RedirectTo = DefaultRedirect
		}
		return &normalized, true
	}

	var serverErr *domain.ServerError
	if errors.As(err, &serverErr) {
		switch {
		case serverErr.Code == domain.AuthCodeTokenExpired || serverErr.Code == domain.AuthCodeAuthFailed:
			return normalize(serverErr.Code, serverErr.Message, serverErr.RedirectTo), true
		case serverErr.RedirectTo != "":
			return normalize(serverErr.Code, serverErr.Message, serverErr.RedirectTo), true
		}
	}

	text := strings.ToLower(err.Error())
	for _, hint := range authHints {
		if strings.Contains(text, hint) {
			return normalize(domain.AuthCodeAuthFailed, err.Error(), ""), true
		}
	}
	return nil, false
}

// Inspect classifies err and, on a match, fires the termination handler.
func (c *Classifier) Inspect(err error) bool {
	authErr, ok := c.Classify(err)
	if !ok {
		return false
	}
	c.log.Warn().
		Str("code", authErr.Code).
		Str("redirect", authErr.RedirectTo).
		Msg(authErr.Message)
	if c.handler != nil {
		c.handler(authErr)
	}
	return true
}

func normalize(code, message, redirect string) *domain.AuthError {
	if redirect == "" {
		redirect = DefaultRedirect
	}
	if code == "" {
		code = domain.AuthCodeAuthFailed
	}
	return &domain.AuthError{Code: code, Message: message, RedirectTo: redirect}
}
