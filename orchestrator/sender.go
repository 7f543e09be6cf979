package orchestrator

import (
	"context"

	"github.com/leadfoundry/enrichworker/callback"
)

// deliverer matches callback.Client's Send.
type deliverer interface {
	Send(ctx context.Context, env *callback.Envelope) error
}

// Sender decorates a callback sender so that terminal envelopes carrying
// orchestration data also advance their chain. Delivery failures stop the
// chain from advancing; the halted chain surfaces through the failed-jobs
// listing.
type Sender struct {
	next deliverer
	orch *Orchestrator
}

// NewSender wraps next with chain advancement.
func NewSender(next deliverer, orch *Orchestrator) *Sender {
	return &Sender{next: next, orch: orch}
}

// Send implements the runner's callback sender.
func (s *Sender) Send(ctx context.Context, env *callback.Envelope) error {
	if err := s.next.Send(ctx, env); err != nil {
		return err
	}
	return s.orch.HandleCallback(ctx, env)
}
