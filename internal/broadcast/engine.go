// Package broadcast fans a payload out to a set of connections concurrently.
//
// Delivery is best effort: a failed send is recorded in that recipient's
// Outcome and logged, and never prevents delivery to the other recipients.
package broadcast

import (
	"context"

	"github.com/rs/zerolog"
	"github.com/samber/lo"
	"golang.org/x/sync/errgroup"

	"github.com/Tyrowin/gochat-relay/internal/session"
)

// Outcome is the delivery result for one recipient.
type Outcome struct {
	ConnID string
	Addr   string
	Err    error
}

// OK reports whether the payload was handed to the connection.
func (o Outcome) OK() bool {
	return o.Err == nil
}

// Engine delivers payloads to connections.
type Engine struct {
	log zerolog.Logger
}

// NewEngine creates a broadcast engine that logs through log.
func NewEngine(log zerolog.Logger) *Engine {
	return &Engine{log: log}
}

// Broadcast sends payload to every recipient in parallel and returns one
// outcome per recipient, in recipient order. It always completes; failures
// are reported in the outcomes only.
func (e *Engine) Broadcast(ctx context.Context, payload string, recipients []session.Conn) []Outcome {
	if len(recipients) == 0 {
		return nil
	}

	outcomes := make([]Outcome, len(recipients))
	var g errgroup.Group

	for i, conn := range recipients {
		g.Go(func() error {
			outcomes[i] = Outcome{ConnID: conn.ID(), Addr: conn.RemoteAddr()}
			if err := ctx.Err(); err != nil {
				outcomes[i].Err = err
				return nil
			}
			outcomes[i].Err = conn.Send(payload)
			return nil
		})
	}
	_ = g.Wait()

	failed := Failed(outcomes)
	for _, o := range failed {
		e.log.Warn().Err(o.Err).Str("addr", o.Addr).Str("conn_id", o.ConnID).
			Msg("Broadcast send failed")
	}
	e.log.Debug().Int("recipients", len(recipients)).Int("failed", len(failed)).
		Str("payload", payload).Msg("Broadcast delivered")

	return outcomes
}

// Failed returns the outcomes whose send did not succeed.
func Failed(outcomes []Outcome) []Outcome {
	return lo.Filter(outcomes, func(o Outcome, _ int) bool {
		return !o.OK()
	})
}
