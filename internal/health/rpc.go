// Package health exposes /healthz probes over the RPC endpoint pool.
package health

import (
	"context"
	"errors"
	"fmt"

	"github.com/devblac/chain-statement/internal/chain"
)

// Pinger pings every RPC endpoint. *chain.Pool satisfies it.
type Pinger interface {
	Ping(ctx context.Context) []chain.EndpointStatus
}

// RPCCheck passes while at least one endpoint answers, since the pool falls
// back across them.
func RPCCheck(p Pinger) Check {
	return Check{
		Name: "rpc",
		Ping: func(ctx context.Context) error {
			return PingEndpoints(ctx, p)
		},
	}
}

// PingEndpoints returns nil when any endpoint is reachable, otherwise every
// endpoint's error joined.
func PingEndpoints(ctx context.Context, p Pinger) error {
	statuses := p.Ping(ctx)
	if len(statuses) == 0 {
		return errors.New("no rpc endpoints configured")
	}
	var errs []error
	for _, s := range statuses {
		if s.Err == nil {
			return nil
		}
		errs = append(errs, fmt.Errorf("%s: %w", s.Endpoint, s.Err))
	}
	return errors.Join(errs...)
}
