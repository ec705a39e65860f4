package domain

import (
	"errors"
	"strconv"
	"strings"
)

// ErrorKind is the error taxonomy a remote-model call can fail with.
// These are kinds, not concrete types: Classify maps a raw error plus
// optional HTTP status into one of them.
type ErrorKind int

const (
	KindUnknown ErrorKind = iota
	KindRateLimited
	KindCredentialInvalid
	KindTransientRemote
	KindParseError
)

func (k ErrorKind) String() string {
	switch k {
	case KindRateLimited:
		return "rate_limited"
	case KindCredentialInvalid:
		return "credential_invalid"
	case KindTransientRemote:
		return "transient_remote"
	case KindParseError:
		return "parse_error"
	default:
		return "unknown"
	}
}

// ClassifiedError wraps an underlying error with its taxonomy kind.
type ClassifiedError struct {
	Kind ErrorKind
	Err  error
}

func (c *ClassifiedError) Error() string { return c.Kind.String() + ": " + c.Err.Error() }
func (c *ClassifiedError) Unwrap() error { return c.Err }

// Classify maps a raw remote-model error plus an HTTP status code (0 if not
// HTTP) into the error taxonomy from §7.
func Classify(err error, statusCode int, body string) *ClassifiedError {
	if err == nil {
		return nil
	}
	lower := strings.ToLower(body + " " + err.Error())
	switch {
	case statusCode == 429 || strings.Contains(lower, "rate limit") || strings.Contains(lower, "quota exceeded"):
		return &ClassifiedError{Kind: KindRateLimited, Err: err}
	case statusCode == 401 || statusCode == 403 || strings.Contains(lower, "invalid key") || strings.Contains(lower, "api key"):
		return &ClassifiedError{Kind: KindCredentialInvalid, Err: err}
	case statusCode >= 500 || statusCode == 0:
		return &ClassifiedError{Kind: KindTransientRemote, Err: err}
	default:
		return &ClassifiedError{Kind: KindTransientRemote, Err: err}
	}
}

// KindOf unwraps err looking for a *ClassifiedError, returning KindUnknown
// if none is found in the chain.
func KindOf(err error) ErrorKind {
	var ce *ClassifiedError
	if errors.As(err, &ce) {
		return ce.Kind
	}
	return KindUnknown
}

// StatusFromHTTPLine is a small helper some backends use when they only have
// a status line like "HTTP 429: too many requests" to classify.
func StatusFromHTTPLine(line string) int {
	const prefix = "HTTP "
	if !strings.HasPrefix(line, prefix) {
		return 0
	}
	rest := line[len(prefix):]
	end := strings.IndexAny(rest, ": ")
	if end < 0 {
		end = len(rest)
	}
	n, err := strconv.Atoi(rest[:end])
	if err != nil {
		return 0
	}
	return n
}

var (
	ErrConfigInvalid      = errors.New("config invalid")
	ErrTaskFailedTerminal = errors.New("task failed terminal")
	ErrQueueBusy          = errors.New("queue busy")
	ErrStaminaInsufficient = errors.New("stamina insufficient")
)
