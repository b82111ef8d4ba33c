// Package gateway implements AppGateway (spec §4.6): a trivial fan-in from
// many per-connection Command producers into the single channel App
// consumes. Grounded on the teacher's Hub.getOrCreateRoom registry, which
// played the same "many callers, one owner" role; here reduced to its
// essential shape since App itself now owns all state.
package gateway

import (
	"context"

	"github.com/tjweldon/marain/internal/command"
	"github.com/tjweldon/marain/internal/logging"
)

// Gateway merges Commands from any number of registered sources into Out.
type Gateway struct {
	Out chan command.Command
}

// New creates a Gateway with the given output buffer size. A generously
// sized buffer approximates spec §5's "unbounded" gateway-to-App edge
// without actually allocating without limit.
func New(bufSize int) *Gateway {
	return &Gateway{Out: make(chan command.Command, bufSize)}
}

// Forward relays every Command received on src to g.Out until src is
// closed or ctx is cancelled. Per spec §4.6, a closed src is a normal exit
// for that source's Forward call (the SessionWorker it belonged to has
// shut down); it is not fatal to the Gateway itself, which keeps serving
// other sources.
func (g *Gateway) Forward(ctx context.Context, src <-chan command.Command) {
	for {
		select {
		case <-ctx.Done():
			return
		case cmd, ok := <-src:
			if !ok {
				logging.Info(ctx, "gateway: source channel closed")
				return
			}
			select {
			case g.Out <- cmd:
			case <-ctx.Done():
				return
			}
		}
	}
}
