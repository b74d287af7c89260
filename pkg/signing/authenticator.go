package signing

import (
	"fmt"
	"math/rand"
	"strings"
)

// Request header names carried by every signed provisioning request.
const (
	HeaderSerial    = "X-REQUEST-SN"
	HeaderNonce     = "X-REQUEST-NONCE"
	HeaderSignType  = "X-REQUEST-SIGN-TYPE"
	HeaderSignature = "X-REQUEST-SIGNATURE"
	HeaderTimestamp = "X-REQUEST-TIMESTAMP"
)

// GatewaySecret replaces the device secret when requests go through the device hub.
const GatewaySecret = "4rn7bKvQ"

const nonceLength = 16

// Headers is a signed header set ready to be attached to an HTTP request.
type Headers map[string]string

// Authenticator builds signed header sets from a signing Context.
type Authenticator struct {
	ctx   *Context
	nonce func() string
}

// Option configures an Authenticator.
type Option func(*Authenticator)

// WithNonceSource overrides the random nonce generator.
func WithNonceSource(nonce func() string) Option {
	return func(a *Authenticator) {
		a.nonce = nonce
	}
}

// NewAuthenticator returns an Authenticator bound to ctx.
func NewAuthenticator(ctx *Context, opts ...Option) *Authenticator {
	a := &Authenticator{
		ctx:   ctx,
		nonce: randomNonce,
	}
	for _, opt := range opts {
		opt(a)
	}
	return a
}

// BuildHeaders signs a fresh nonce (and timestamp, when a provider is configured) and
// returns the complete header set. No headers are returned on failure.
func (a *Authenticator) BuildHeaders(gateway bool) (Headers, error) {
	nonce := a.nonce()

	var ts string
	if a.ctx.Timestamp != nil {
		var err error
		ts, err = a.ctx.Timestamp()
		if err != nil {
			return nil, fmt.Errorf("failed to get timestamp: %w", err)
		}
	}

	secret := a.ctx.SecretKey
	if gateway {
		secret = GatewaySecret
	}

	input, key := SignatureInput(a.ctx.SerialNumber, nonce, secret, ts, a.ctx.Algorithm)
	signature, err := a.ctx.Signer.Sign(input, key)
	if err != nil {
		return nil, fmt.Errorf("failed to sign request: %w", err)
	}

	headers := Headers{
		HeaderSerial:    a.ctx.SerialNumber,
		HeaderNonce:     nonce,
		HeaderSignType:  a.ctx.Algorithm,
		HeaderSignature: signature,
	}
	if ts != "" {
		headers[HeaderTimestamp] = ts
	}

	return headers, nil
}

// SignatureInput lays out the bytes to sign. For HmacSHA256 the secret moves into the
// key (serial+secret); every other algorithm signs serial+nonce+secret+timestamp with no key.
func SignatureInput(serial, nonce, secret, ts, algorithm string) (input, key []byte) {
	if strings.EqualFold(algorithm, AlgorithmHmacSHA256) {
		return []byte(serial + nonce + ts), []byte(serial + secret)
	}
	return []byte(serial + nonce + secret + ts), nil
}

func randomNonce() string {
	var sb strings.Builder
	sb.Grow(nonceLength)
	for i := 0; i < nonceLength; i++ {
		sb.WriteByte(byte('0' + rand.Intn(10)))
	}
	return sb.String()
}
