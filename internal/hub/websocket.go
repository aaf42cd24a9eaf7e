package hub

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/coder/websocket"
	"github.com/google/uuid"
	log "github.com/sirupsen/logrus"
)

type Message struct {
	Type    string          `json:"type"`
	Payload json.RawMessage `json:"payload,omitempty"`
}

type SubscribePayload struct {
	RouteIDs []string `json:"routeIds"`
}

// ServeWS upgrades the request and streams frames until the client leaves.
// Clients may send subscribe, unsubscribe and ping messages.
func (h *Hub) ServeWS(w http.ResponseWriter, r *http.Request) {
	conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{
		OriginPatterns: []string{"*"},
	})
	if err != nil {
		log.WithError(err).Warn("websocket accept failed")
		return
	}

	client := NewClient(uuid.New().String(), 64)
	h.Register(client)

	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()

	h.trySend(client, h.Snapshot(client))

	// a dropped client stops reading as well
	go func() {
		select {
		case <-client.Done():
			cancel()
		case <-ctx.Done():
		}
	}()
	go h.writeLoop(ctx, conn, client)

	h.readLoop(ctx, conn, client)
}

func (h *Hub) readLoop(ctx context.Context, conn *websocket.Conn, client *Client) {
	defer func() {
		h.Unregister(client)
		conn.Close(websocket.StatusNormalClosure, "")
	}()

	for {
		msgType, data, err := conn.Read(ctx)
		if err != nil {
			if websocket.CloseStatus(err) != websocket.StatusNormalClosure {
				log.WithFields(log.Fields{"client_id": client.ID, "error": err}).Debug("websocket read error")
			}
			return
		}
		if msgType != websocket.MessageText {
			continue
		}

		var msg Message
		if err := json.Unmarshal(data, &msg); err != nil {
			log.WithField("client_id", client.ID).Debug("invalid message format")
			continue
		}

		switch msg.Type {
		case "subscribe":
			var payload SubscribePayload
			if err := json.Unmarshal(msg.Payload, &payload); err != nil {
				continue
			}
			client.SetRoutes(payload.RouteIDs)
			h.trySend(client, h.Snapshot(client))

		case "unsubscribe":
			client.SetRoutes(nil)

		case "ping":
			h.trySend(client, []byte(`{"type":"pong"}`))
		}
	}
}

func (h *Hub) writeLoop(ctx context.Context, conn *websocket.Conn, client *Client) {
	ticker := time.NewTicker(30 * time.Second)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return

		case <-client.Done():
			return

		case msg := <-client.Send:
			writeCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
			err := conn.Write(writeCtx, websocket.MessageText, msg)
			cancel()
			if err != nil {
				return
			}

		case <-ticker.C:
			pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
			err := conn.Ping(pingCtx)
			cancel()
			if err != nil {
				return
			}
		}
	}
}

func (h *Hub) trySend(client *Client, data []byte) {
	if data == nil {
		return
	}
	select {
	case <-client.Done():
	case client.Send <- data:
	default:
	}
}
