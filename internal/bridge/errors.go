package bridge

import (
	"errors"
	"fmt"
)

// HTTPError reports a response status outside [200,300).
type HTTPError struct {
	Status int
}

func (e *HTTPError) Error() string {
	return fmt.Sprintf("unexpected status code: %d", e.Status)
}

// DecodeError reports an undecodable response body. Raw keeps the body for
// diagnostics.
type DecodeError struct {
	Raw   []byte
	cause error
}

func (e *DecodeError) Error() string {
	return fmt.Sprintf("failed to decode bridge response: %v (body: %q)", e.cause, string(e.Raw))
}

func (e *DecodeError) Unwrap() error {
	return e.cause
}

func newDecodeError(raw []byte, cause error) *DecodeError {
	return &DecodeError{Raw: raw, cause: cause}
}

// BridgeError is an application error the bridge embeds in a response body,
// including inside HTTP 200 envelopes.
type BridgeError struct {
	Type        int
	Description string
}

func (e *BridgeError) Error() string {
	if e.Type != 0 {
		return fmt.Sprintf("bridge error %d: %s", e.Type, e.Description)
	}
	return fmt.Sprintf("bridge error: %s", e.Description)
}

// LinkButtonError is the distinguished pairing failure (error type 101).
// It is retryable: re-submit the same registration after the user presses
// the physical link button.
type LinkButtonError struct {
	Description string
}

func (e *LinkButtonError) Error() string {
	return fmt.Sprintf("link button not pressed: %s", e.Description)
}

// IsLinkButtonNotPressed reports whether err is the retryable pairing
// condition.
func IsLinkButtonNotPressed(err error) bool {
	var lbe *LinkButtonError
	return errors.As(err, &lbe)
}
