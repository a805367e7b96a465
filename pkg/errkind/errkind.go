package errkind

import (
	"errors"
	"fmt"
)

// Kind classifies a validation failure. Kinds are stable strings so they can
// be matched by callers and rendered in tool output.
type Kind string

const (
	MalformedEncoding       Kind = "malformed-encoding"
	UnsupportedAlgorithm    Kind = "unsupported-algorithm"
	DigestMismatch          Kind = "digest-mismatch"
	SignatureInvalid        Kind = "signature-invalid"
	CertificateExpired      Kind = "certificate-expired"
	CertificateNotYetValid  Kind = "certificate-not-yet-valid"
	InvalidPrefixEncoding   Kind = "invalid-prefix-encoding"
	FileNotFound            Kind = "file-not-found"
	RelyingPartyUnavailable Kind = "relying-party-unavailable"
)

// Error is a classified error. Offset is the byte position in the input the
// failure was detected at, or -1 when it does not apply.
type Error struct {
	Kind   Kind
	Detail string
	Offset int
	Err    error
}

func (e *Error) Error() string {
	msg := string(e.Kind) + ": " + e.Detail
	if e.Offset >= 0 {
		msg += fmt.Sprintf(" at offset %d", e.Offset)
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *Error) Unwrap() error {
	return e.Err
}

// New returns an Error of the given kind.
func New(kind Kind, detail string) *Error {
	return &Error{Kind: kind, Detail: detail, Offset: -1}
}

// Newf is New with a formatted detail message.
func Newf(kind Kind, format string, args ...interface{}) *Error {
	return &Error{Kind: kind, Detail: fmt.Sprintf(format, args...), Offset: -1}
}

// Wrap returns an Error of the given kind wrapping err.
func Wrap(kind Kind, err error, detail string) *Error {
	return &Error{Kind: kind, Detail: detail, Offset: -1, Err: err}
}

// At returns an Error carrying the input byte offset the failure was found at.
func At(kind Kind, offset int, detail string) *Error {
	return &Error{Kind: kind, Detail: detail, Offset: offset}
}

// KindOf returns the kind of the first classified error in err's chain, or ""
// when the chain carries none.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return ""
}

// IsKind reports whether err's chain contains a classified error of kind k.
func IsKind(err error, k Kind) bool {
	return KindOf(err) == k
}
