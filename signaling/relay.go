package signaling

import (
	"github.com/Sourabh10122002/talkie-server/metrics"
	"github.com/Sourabh10122002/talkie-server/room"
	"github.com/Sourabh10122002/talkie-server/types"
	"github.com/hashicorp/go-hclog"
)

// Relay forwards call setup events to every connection of the target identity. It keeps no state, signaling is
// best effort.
type Relay struct {
	broadcaster room.Broadcaster
	logger      hclog.Logger
	metrics     *metrics.Metrics
}

func NewRelay(broadcaster room.Broadcaster, logger hclog.Logger, m *metrics.Metrics) *Relay {
	if logger == nil {
		logger = hclog.NewNullLogger()
	}
	return &Relay{broadcaster: broadcaster, logger: logger, metrics: m}
}

// Relay delivers payload tagged with kind to the target's connections and returns how many received it. A target
// without live connections is not an error.
func (r *Relay) Relay(from *types.Identity, kind, targetIdentityId string, payload interface{}) (int, error) {
	if _, ok := types.SignalKinds[kind]; !ok {
		return 0, types.NewValidationError("unknown signaling event %q", kind)
	}
	if targetIdentityId == "" {
		return 0, types.NewValidationError("targetIdentityId is required")
	}
	frame, err := types.EncodeFrame(kind, types.SignalDelivery{From: from.Public(), Payload: payload})
	if err != nil {
		return 0, types.NewValidationError("payload can not be encoded")
	}
	n := r.broadcaster.SendToIdentity(targetIdentityId, frame)
	r.metrics.Signal(kind)
	if n == 0 {
		r.logger.Trace("signal target offline", "kind", kind, "target", targetIdentityId)
	}
	return n, nil
}
