package ws

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"energy_billing/internal/billing"
)

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool { return true },
}

// Handler manages WebSocket connections and answers bill requests.
type Handler struct {
	hub    *Hub
	engine *billing.Engine
	log    *zap.Logger
}

func NewHandler(hub *Hub, engine *billing.Engine, log *zap.Logger) *Handler {
	if log == nil {
		log = zap.NewNop()
	}
	return &Handler{hub: hub, engine: engine, log: log}
}

func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.log.Warn("websocket upgrade failed", zap.Error(err))
		return
	}

	client := newClient(h.hub, conn, r.RemoteAddr)
	h.hub.Register(client)
	go client.writePump()

	h.reply(client, TypeVendors, VendorsPayload{Vendors: h.engine.Tariffs().Vendors()})

	h.readPump(r.Context(), client)
}

func (h *Handler) readPump(ctx context.Context, c *Client) {
	defer func() {
		h.hub.Unregister(c)
		c.conn.Close()
	}()

	c.conn.SetReadLimit(maxMessageSize)
	c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		_, msg, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				h.log.Warn("websocket read failed", zap.Error(err))
			}
			return
		}

		h.handleMessage(ctx, c, msg)
	}
}

func (h *Handler) handleMessage(ctx context.Context, c *Client, msg []byte) {
	var env Envelope
	if err := json.Unmarshal(msg, &env); err != nil {
		h.log.Debug("invalid message", zap.Error(err))
		return
	}

	switch env.Type {
	case TypeBillRequest:
		var p BillRequestPayload
		if err := json.Unmarshal(env.Payload, &p); err != nil {
			h.reply(c, TypeBillError, BillErrorPayload{Error: "invalid bill:request payload: " + err.Error()})
			return
		}
		h.bill(ctx, c, p)

	default:
		h.log.Debug("unknown message type", zap.String("type", env.Type))
	}
}

func (h *Handler) bill(ctx context.Context, c *Client, p BillRequestPayload) {
	start, end, err := p.Range()
	if err != nil {
		h.reply(c, TypeBillError, BillErrorPayload{RequestID: p.RequestID, Error: err.Error()})
		return
	}

	var opts []billing.QueryOption
	if p.NMI != "" {
		opts = append(opts, billing.ForMeter(p.NMI))
	}
	b, err := h.engine.CalculateDetailedBreakdown(ctx, start, end, p.Vendor, opts...)
	if err != nil {
		h.log.Info("bill request failed", zap.String("request_id", p.RequestID), zap.Error(err))
		h.reply(c, TypeBillError, BillErrorPayload{RequestID: p.RequestID, Error: err.Error()})
		return
	}
	h.reply(c, TypeBillBreakdown, BillFromBreakdown(p.RequestID, b))
}

func (h *Handler) reply(c *Client, msgType string, payload any) {
	msg, err := NewEnvelope(msgType, payload)
	if err != nil {
		h.log.Error("marshaling message", zap.String("type", msgType), zap.Error(err))
		return
	}
	h.hub.Send(c, msg)
}
