// Package prompt asks a connected user for credentials.
package prompt

import (
	"context"
	"errors"
	"fmt"
)

// Question is what the user is shown.
type Question struct {
	Label    string `json:"label"`
	Hostname string `json:"hostname"`
}

// Channel delivers one question to one client and returns its single reply.
// A nil answer means the user declined.
type Channel interface {
	Ask(ctx context.Context, clientID string, q Question) (*string, error)
}

var ErrCanceled = errors.New("canceled by user")

const ReasonCanceled = "CANCELED"

// CanceledError is returned when the user declines a credential prompt.
type CanceledError struct {
	Reason   string
	Hostname string
}

func (e *CanceledError) Error() string {
	return fmt.Sprintf("%s: credential prompt for %s", e.Reason, e.Hostname)
}

func (e *CanceledError) Is(target error) bool { return target == ErrCanceled }

// AskPassword performs exactly one round trip on ch.
func AskPassword(ctx context.Context, ch Channel, clientID, label, hostname string) (string, error) {
	ans, err := ch.Ask(ctx, clientID, Question{Label: label, Hostname: hostname})
	if err != nil {
		return "", err
	}
	if ans == nil {
		return "", &CanceledError{Reason: ReasonCanceled, Hostname: hostname}
	}
	return *ans, nil
}
