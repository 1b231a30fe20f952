package referral

import (
	"context"
	"errors"
)

var (
	ErrMethodNotAllowed  = errors.New("method not allowed")
	ErrInvalidSubmission = errors.New("invalid submission")
	ErrMalformedBody     = errors.New("malformed request body")
	ErrDuplicateClient   = errors.New("client already registered previously")
)

// ValidationError reports the first rule a submission broke. It wraps
// ErrInvalidSubmission so callers can match the whole class with errors.Is.
type ValidationError struct {
	Field string
	Msg   string
}

func (e *ValidationError) Error() string {
	return e.Msg
}

func (e *ValidationError) Unwrap() error {
	return ErrInvalidSubmission
}

// Referrer is the party recommending a client. Email or phone identifies it.
type Referrer struct {
	ID     string `json:"id"`
	Name   string `json:"name"`
	Email  string `json:"email"`
	Phone  string `json:"phone"`
	Source string `json:"source"`
}

// Client is the referred prospect. It belongs to exactly one Referrer.
type Client struct {
	ID          string `json:"id"`
	Name        string `json:"name"`
	Email       string `json:"email"`
	Phone       string `json:"phone"`
	ServiceType string `json:"service_type"`
	Description string `json:"description"`
	ReferrerID  string `json:"referrer_id"`
}

// ReferralService persists a referral. Submit resolves the referrer by email
// or phone, creating it when absent, then inserts the client under it. It
// returns the referrer id. A client that already exists yields
// ErrDuplicateClient and nothing is written.
type ReferralService interface {
	Submit(ctx context.Context, referrer Referrer, client Client) (string, error)
}
