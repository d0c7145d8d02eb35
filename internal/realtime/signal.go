package realtime

import (
	"github.com/rs/zerolog"

	"github.com/mhelail/real-time-communication-platform/internal/metrics"
)

// Relay is the stateless pass-through for WebRTC negotiation payloads. It
// resolves the destination and forwards the payload verbatim; if the
// destination is not registered the payload is silently dropped — signaling
// promises no delivery guarantee, and the caller times out or cancels on its
// own.
type Relay struct {
	registry *Registry
	logger   zerolog.Logger
}

// NewRelay creates a signaling relay over the given registry.
func NewRelay(registry *Registry, logger zerolog.Logger) *Relay {
	return &Relay{
		registry: registry,
		logger:   logger.With().Str("component", "signaling").Logger(),
	}
}

// Forward delivers an offer, answer or iceCandidate to its target. The
// outbound payload is the bare description or candidate, untouched.
func (r *Relay) Forward(event string, p SignalPayload) {
	conn, ok := r.registry.Resolve(p.To)
	if !ok {
		r.logger.Debug().Str("event", event).Str("to", p.To).Msg("signaling target not reachable, dropped")
		return
	}

	payload := p.Description
	if event == EventICECandidate {
		payload = p.Candidate
	}

	if err := conn.Send(event, payload); err != nil {
		r.logger.Warn().Err(err).Str("event", event).Str("to", p.To).Msg("signaling delivery failed")
		return
	}
	metrics.SignalsRelayed.WithLabelValues(event).Inc()
}
