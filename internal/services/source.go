package services

import (
	"context"
	"errors"
	"fmt"

	"github.com/benmeehan/mip-agent/pkg/provisioning"
)

// ErrNoSource is returned when the source profile names no back end.
var ErrNoSource = errors.New("source profile carries no host")

// source is the back end that serves LNS and DM profiles for this device.
type source struct {
	host    string
	gateway bool
}

func resolveSource(ctx context.Context, p Provisioner, rpsURL string) (source, error) {
	resp, err := p.GetSourceProfile(ctx, rpsURL, provisioning.Hooks{})
	if err != nil {
		return source{}, fmt.Errorf("failed to get source profile: %w", err)
	}
	if resp == nil || resp.Data == nil || resp.Data.Source.Host == "" {
		return source{}, ErrNoSource
	}
	return source{
		host:    resp.Data.Source.Host,
		gateway: provisioning.IsGatewaySource(resp.Data.Source.Type),
	}, nil
}
