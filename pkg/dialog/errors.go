package dialog

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/ZentaChain/cvcomm/pkg/protocol"
)

var (
	ErrTrustEstablishmentFailed = errors.New("trust establishment failed")
	ErrSubscriptionFailed       = errors.New("subscription failed")
	ErrServerError              = errors.New("server returned an error")
	ErrInvalidParameters        = errors.New("invalid parameters")
)

// Kind classifies a dialog failure
type Kind int

const (
	// Per-attempt failures; the exchange is retried
	KindTimeout Kind = iota + 1
	KindSocket
	KindMalformed
	KindCrypto

	// Terminal failures
	KindExhausted
	KindServer
	KindInvalidParams
	KindSigning // Signing the outgoing request failed
)

var kindNames = map[Kind]string{
	KindTimeout:       "timeout",
	KindSocket:        "socket",
	KindMalformed:     "malformed",
	KindCrypto:        "crypto",
	KindExhausted:     "exhausted",
	KindServer:        "server",
	KindInvalidParams: "invalid_params",
	KindSigning:       "signing",
}

func (k Kind) String() string {
	if name, ok := kindNames[k]; ok {
		return name
	}
	return fmt.Sprintf("kind(%d)", int(k))
}

// Retryable reports whether another attempt may succeed
func (k Kind) Retryable() bool {
	switch k {
	case KindTimeout, KindSocket, KindMalformed, KindCrypto:
		return true
	}
	return false
}

// Error is returned by TrustEstablishment and Subscription operations
type Error struct {
	Op       string
	Kind     Kind
	Attempts int
	Timeout  time.Duration
	Code     uint32 // Server error code (KindServer)
	Text     string // Server error category (KindServer)
	Err      error  // Sentinel: ErrTrustEstablishmentFailed, ErrSubscriptionFailed, ErrServerError, ErrInvalidParameters
	Cause    error  // Last underlying failure, if any
}

func (e *Error) Error() string {
	var b strings.Builder
	if e.Op != "" {
		b.WriteString(e.Op)
		b.WriteString(": ")
	}

	switch e.Kind {
	case KindExhausted:
		fmt.Fprintf(&b, "%v after %d attempts with %d ms timeout", e.Err, e.Attempts, e.Timeout.Milliseconds())
	case KindServer:
		fmt.Fprintf(&b, "%v: %s", e.Err, e.Text)
		if protocol.ResponseCode(e.Code).Known() {
			fmt.Fprintf(&b, " (code %d)", e.Code)
		}
	default:
		if e.Err != nil {
			b.WriteString(e.Err.Error())
		} else {
			b.WriteString(e.Kind.String())
		}
	}

	if e.Cause != nil {
		b.WriteString(": ")
		b.WriteString(e.Cause.Error())
	}
	return b.String()
}

func (e *Error) Unwrap() []error {
	errs := make([]error, 0, 2)
	if e.Err != nil {
		errs = append(errs, e.Err)
	}
	if e.Cause != nil {
		errs = append(errs, e.Cause)
	}
	return errs
}

// KindOf returns the Kind of err, or 0 when err is not a dialog error
func KindOf(err error) Kind {
	var de *Error
	if errors.As(err, &de) {
		return de.Kind
	}
	return 0
}

// serverError builds the terminal error for a response carrying an error code
func serverError(op, header string, code uint32) *Error {
	text := protocol.ResponseCode(code).Text()
	if text == "" {
		text = fmt.Sprintf("%s completed with error code %d", header, code)
	}
	return &Error{Op: op, Kind: KindServer, Code: code, Text: text, Err: ErrServerError}
}

// attemptError builds a per-attempt failure
func attemptError(kind Kind, format string, args ...any) *Error {
	return &Error{Kind: kind, Cause: fmt.Errorf(format, args...)}
}

func invalidParams(op string, format string, args ...any) *Error {
	return &Error{Op: op, Kind: KindInvalidParams, Err: ErrInvalidParameters, Cause: fmt.Errorf(format, args...)}
}
