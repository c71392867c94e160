package ws

import (
	"context"
	"errors"
	"net/http"
	"slices"

	"github.com/rs/zerolog/log"

	"github.com/coder/websocket"
	"github.com/go-chi/chi/v5"

	"github.com/gosuda/boardsync/internal/realtime"
)

const defaultReadLimit = 4096

// Config tunes the websocket endpoint.
type Config struct {
	// ReadLimit caps the size of one inbound frame in bytes.
	ReadLimit int64
	// AllowedOrigins are host patterns accepted in addition to same-origin
	// requests. "*" disables the origin check.
	AllowedOrigins []string
}

// Hub accepts websocket clients and attaches them to the connection registry.
type Hub struct {
	registry *realtime.Registry
	cfg      Config
}

// NewHub creates a websocket hub on top of registry.
func NewHub(registry *realtime.Registry, cfg Config) *Hub {
	if cfg.ReadLimit <= 0 {
		cfg.ReadLimit = defaultReadLimit
	}
	return &Hub{registry: registry, cfg: cfg}
}

// ServeBoards handles GET /ws/boards. Query parameters connection_id,
// board_id and display_name are optional; malformed values are rejected
// before the upgrade so no connection is ever registered for them.
func (h *Hub) ServeBoards(w http.ResponseWriter, r *http.Request) {
	opts, err := parseHandshake(r.URL.Query())
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{
		OriginPatterns:     h.cfg.AllowedOrigins,
		InsecureSkipVerify: slices.Contains(h.cfg.AllowedOrigins, "*"),
	})
	if err != nil {
		log.Error().Err(err).Msg("websocket accept")
		return
	}
	conn.SetReadLimit(h.cfg.ReadLimit)

	opts.Announce = true
	c, err := h.registry.Register(&transport{conn: conn}, opts)
	if err != nil {
		log.Error().Err(err).Msg("websocket register")
		_ = conn.Close(websocket.StatusInternalError, "register failed")
		return
	}

	log.Info().
		Str("connection_id", c.ID()).
		Str("display_name", c.DisplayName()).
		Int64("board_id", opts.BoardID).
		Msg("websocket connected")

	h.readLoop(r.Context(), conn, c)
}

// readLoop consumes inbound frames until the socket fails. Every frame
// counts as activity; pings are answered and everything else is ignored.
func (h *Hub) readLoop(ctx context.Context, conn *websocket.Conn, c *realtime.Connection) {
	for {
		_, data, err := conn.Read(ctx)
		if err != nil {
			reason := realtime.ReasonReadFailed
			if websocket.CloseStatus(err) != -1 {
				reason = realtime.ReasonClientClosed
			}
			if h.registry.EvictConnection(c, reason) {
				log.Info().Err(err).Str("connection_id", c.ID()).Str("reason", reason).Msg("websocket disconnected")
			}
			return
		}

		h.registry.TouchConnection(c)

		frame, ok := realtime.ParseControl(data)
		if !ok || frame.Type != realtime.FrameTypePing {
			continue
		}
		if err := h.registry.Send(c, realtime.PongFrame()); err != nil {
			log.Debug().Err(err).Str("connection_id", c.ID()).Msg("pong dropped")
		}
	}
}

// Subscribe handles PUT /ws/connections/{connectionID}/boards/{boardID}.
func (h *Hub) Subscribe(w http.ResponseWriter, r *http.Request) {
	h.mutateSubscription(w, r, h.registry.Subscribe)
}

// Unsubscribe handles DELETE /ws/connections/{connectionID}/boards/{boardID}.
func (h *Hub) Unsubscribe(w http.ResponseWriter, r *http.Request) {
	h.mutateSubscription(w, r, h.registry.Unsubscribe)
}

func (h *Hub) mutateSubscription(w http.ResponseWriter, r *http.Request, op func(string, int64) error) {
	connectionID := chi.URLParam(r, "connectionID")
	board, err := parseBoardID(chi.URLParam(r, "boardID"))
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	if err := op(connectionID, board); err != nil {
		switch {
		case errors.Is(err, realtime.ErrConnectionNotFound):
			http.Error(w, "connection not found", http.StatusNotFound)
		case errors.Is(err, realtime.ErrInvalidBoard):
			http.Error(w, err.Error(), http.StatusBadRequest)
		default:
			log.Error().Err(err).Str("connection_id", connectionID).Msg("websocket subscription")
			http.Error(w, "internal error", http.StatusInternalServerError)
		}
		return
	}

	w.WriteHeader(http.StatusNoContent)
}

// Disconnect handles DELETE /ws/connections/{connectionID}. The client is
// expected to reconnect and refresh.
func (h *Hub) Disconnect(w http.ResponseWriter, r *http.Request) {
	connectionID := chi.URLParam(r, "connectionID")
	if !h.registry.Evict(connectionID, realtime.ReasonRequested) {
		http.Error(w, "connection not found", http.StatusNotFound)
		return
	}
	log.Info().Str("connection_id", connectionID).Msg("connection disconnected on request")
	w.WriteHeader(http.StatusNoContent)
}

// Mount registers the websocket and subscription routes on r.
func (h *Hub) Mount(r chi.Router) {
	r.Get("/ws/boards", h.ServeBoards)
	r.Put("/ws/connections/{connectionID}/boards/{boardID}", h.Subscribe)
	r.Delete("/ws/connections/{connectionID}/boards/{boardID}", h.Unsubscribe)
	r.Delete("/ws/connections/{connectionID}", h.Disconnect)
}
