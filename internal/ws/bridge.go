package ws

import (
	"go.uber.org/zap"

	"energy_billing/internal/ingest"
)

// Bridge implements ingest.Observer and broadcasts events to the WebSocket hub.
type Bridge struct {
	hub *Hub
	log *zap.Logger
}

func NewBridge(hub *Hub, log *zap.Logger) *Bridge {
	if log == nil {
		log = zap.NewNop()
	}
	return &Bridge{hub: hub, log: log}
}

func (b *Bridge) Observe(ev ingest.Event) {
	switch ev.Stage {
	case ingest.StageDone, ingest.StageFailed:
		b.broadcast(TypeIngestResult, IngestResultFromEvent(ev))
	default:
		b.broadcast(TypeIngestStage, IngestStageFromEvent(ev))
	}
}

func (b *Bridge) broadcast(msgType string, payload any) {
	msg, err := NewEnvelope(msgType, payload)
	if err != nil {
		b.log.Error("marshaling message", zap.String("type", msgType), zap.Error(err))
		return
	}
	b.hub.Broadcast(msg)
}
