package signing

import (
	"errors"
	"fmt"

	"github.com/go-playground/validator/v10"
)

// AlgorithmHmacSHA256 selects the keyed signature layout. Any other algorithm name keeps
// the secret inside the signed input.
const (
	AlgorithmHmacSHA256 = "HmacSHA256"
	AlgorithmMD5        = "MD5"
)

var (
	ErrNoSigner = errors.New("signer is required")
)

// TimestampFunc returns the current time as a millisecond timestamp string.
type TimestampFunc func() (string, error)

// Signer produces a signature over input. key is nil for algorithms that carry the
// secret inside the input.
type Signer interface {
	Sign(input, key []byte) (string, error)
}

// SignerFunc adapts a plain function to the Signer interface.
type SignerFunc func(input, key []byte) (string, error)

// Sign calls f(input, key).
func (f SignerFunc) Sign(input, key []byte) (string, error) {
	return f(input, key)
}

// Context holds the device identity used to sign every outbound provisioning request.
// It is built once and never mutated afterwards.
type Context struct {
	SerialNumber string `validate:"required,max=16"`
	SecretKey    string `validate:"max=9"`
	Algorithm    string `validate:"required,max=15"`
	Timestamp    TimestampFunc
	Signer       Signer
}

// NewContext validates the identity and returns an immutable signing context.
// ts may be nil, in which case requests carry no timestamp header.
func NewContext(serial, secret, algorithm string, ts TimestampFunc, signer Signer) (*Context, error) {
	if signer == nil {
		return nil, ErrNoSigner
	}

	ctx := &Context{
		SerialNumber: serial,
		SecretKey:    secret,
		Algorithm:    algorithm,
		Timestamp:    ts,
		Signer:       signer,
	}

	if err := validator.New().Struct(ctx); err != nil {
		return nil, fmt.Errorf("invalid signing context: %w", err)
	}

	return ctx, nil
}
