package ws

import (
	"encoding/json"
	"net/http"
	"strconv"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"

	"github.com/console-host-control/engine/internal/buffer"
	"github.com/console-host-control/engine/internal/macro"
	"github.com/console-host-control/engine/internal/session"
)

const (
	// Time allowed to write a message to the peer.
	writeWait = 10 * time.Second

	// Time allowed to read the next pong message from the peer.
	pongWait = 60 * time.Second

	// Send pings to peer with this period. Must be less than pongWait.
	pingPeriod = (pongWait * 9) / 10

	// Maximum message size allowed from peer.
	maxMessageSize = 8192
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		return true
	},
}

// Handler serves websocket connections for live sessions.
type Handler struct {
	hubs     *HubManager
	registry *session.Registry
	log      zerolog.Logger
}

// NewHandler creates the websocket handler.
func NewHandler(hubs *HubManager, registry *session.Registry, log zerolog.Logger) *Handler {
	return &Handler{hubs: hubs, registry: registry, log: log}
}

// Attach wires a session's events into its hub. Called once right after
// the session is created; output emitted before any client connects is
// recovered from the chunk history on connect.
func (h *Handler) Attach(s *session.Session) {
	id := s.ID()
	s.Events().OnAnsiChunk(func(c buffer.Chunk) {
		if hub := h.hubs.Get(id); hub != nil {
			hub.BroadcastMessage(&Message{Type: MessageTypeAnsi, Seq: c.Seq, Data: string(c.Data)})
		}
	})
	s.Events().OnPayloadExited(func(code int) {
		if hub := h.hubs.Get(id); hub != nil {
			c := code
			hub.BroadcastMessage(&Message{Type: MessageTypePayloadExited, Code: &c})
		}
	})
	s.Events().OnHostExited(func(code int) {
		if hub := h.hubs.Get(id); hub != nil {
			c := code
			hub.BroadcastMessage(&Message{Type: MessageTypeHostExited, Code: &c})
		}
		h.hubs.Remove(id)
	})
}

// HandleConnection upgrades the request and streams the session. The
// "after" query parameter resumes chunk replay past a known sequence
// number.
func (h *Handler) HandleConnection(w http.ResponseWriter, r *http.Request, sessionID string) error {
	sess, err := h.registry.Get(sessionID)
	if err != nil {
		http.Error(w, "session not found", http.StatusNotFound)
		return nil
	}

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		return err
	}

	hub := h.hubs.GetOrCreate(sessionID)
	client := NewClient(hub, conn, sessionID)
	hub.Register(client)

	hub.SetOnMessage(func(c *Client, msg *Message) {
		h.handleMessage(c, msg, sess)
	})

	h.replayHistory(client, sess, afterSeq(r))

	go h.writePump(client)
	go h.readPump(client, hub)

	return nil
}

func afterSeq(r *http.Request) uint64 {
	raw := r.URL.Query().Get("after")
	if raw == "" {
		return 0
	}
	seq, err := strconv.ParseUint(raw, 10, 64)
	if err != nil {
		return 0
	}
	return seq
}

// replayHistory hot-restores retained output, then the exit state if the
// session already finished.
func (h *Handler) replayHistory(client *Client, sess *session.Session, after uint64) {
	for _, c := range sess.History().Since(after + 1) {
		data, err := json.Marshal(&Message{Type: MessageTypeAnsi, Seq: c.Seq, Data: string(c.Data)})
		if err != nil {
			continue
		}
		client.Send(data)
	}

	if code, ok := sess.PayloadExited().Code(); ok {
		c := code
		if data, err := json.Marshal(&Message{Type: MessageTypePayloadExited, Code: &c}); err == nil {
			client.Send(data)
		}
	}
	if code, ok := sess.HostExited().Code(); ok {
		c := code
		if data, err := json.Marshal(&Message{Type: MessageTypeHostExited, Code: &c}); err == nil {
			client.Send(data)
		}
	}
}

func (h *Handler) handleMessage(client *Client, msg *Message, sess *session.Session) {
	switch msg.Type {
	case MessageTypeInput:
		sess.WriteInputText(msg.Data)
	case MessageTypeSignal:
		switch macro.SignalKind(msg.Data) {
		case macro.SignalCtrlC:
			sess.SendControlC()
		case macro.SignalCtrlBreak:
			sess.SendControlBreak()
		default:
			h.sendError(client, "unknown signal "+msg.Data)
		}
	case MessageTypePing:
		if data, err := json.Marshal(&Message{Type: MessageTypePong}); err == nil {
			client.Send(data)
		}
	}
}

func (h *Handler) sendError(client *Client, text string) {
	if data, err := json.Marshal(&Message{Type: MessageTypeError, Error: text}); err == nil {
		client.Send(data)
	}
}

// readPump pumps frames from the connection into the hub.
func (h *Handler) readPump(client *Client, hub *Hub) {
	defer func() {
		hub.Unregister(client)
		client.Conn().Close()
	}()

	client.Conn().SetReadLimit(maxMessageSize)
	client.Conn().SetReadDeadline(time.Now().Add(pongWait))
	client.Conn().SetPongHandler(func(string) error {
		client.Conn().SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for {
		_, raw, err := client.Conn().ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				h.log.Debug().Err(err).Str("session", client.SessionID()).Msg("websocket read failed")
			}
			break
		}

		var msg Message
		if err := json.Unmarshal(raw, &msg); err != nil {
			h.log.Debug().Err(err).Msg("malformed websocket frame")
			continue
		}
		hub.HandleMessage(client, &msg)
	}
}

// writePump pumps queued frames out to the connection, one frame per
// message so the client can parse each independently.
func (h *Handler) writePump(client *Client) {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		client.Conn().Close()
	}()

	for {
		select {
		case message, ok := <-client.SendChan():
			client.Conn().SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				client.Conn().WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := client.Conn().WriteMessage(websocket.TextMessage, message); err != nil {
				return
			}
			n := len(client.SendChan())
			for i := 0; i < n; i++ {
				queued := <-client.SendChan()
				client.Conn().SetWriteDeadline(time.Now().Add(writeWait))
				if err := client.Conn().WriteMessage(websocket.TextMessage, queued); err != nil {
					return
				}
			}
		case <-ticker.C:
			client.Conn().SetWriteDeadline(time.Now().Add(writeWait))
			if err := client.Conn().WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
