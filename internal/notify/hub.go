package notify

import (
	"encoding/json"
	"sync"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"

	"github.com/conexhealth/oncall-service/internal/catalog"
)

// Hub is the in-memory directory of live notification connections, keyed by
// account id. Delivery is at-most-once: if the account is offline or its
// buffer is full the event is dropped.
type Hub struct {
	mu      sync.RWMutex
	clients map[uuid.UUID]*client
	log     zerolog.Logger
}

func NewHub(log zerolog.Logger) *Hub {
	return &Hub{
		clients: make(map[uuid.UUID]*client),
		log:     log.With().Str("component", "notify").Logger(),
	}
}

// register adds a connection to the directory. A new connection from the
// same account replaces the old one, which gets closed. Closing happens
// under the write lock: senders hold the read lock, so a channel can never
// be closed mid-send.
func (h *Hub) register(c *client) {
	h.mu.Lock()
	if old, exists := h.clients[c.accountID]; exists {
		close(old.send)
	}
	h.clients[c.accountID] = c
	h.mu.Unlock()

	h.log.Info().
		Str("account_id", c.accountID.String()).
		Str("account_type", string(c.accountType)).
		Int("connected", h.Connected()).
		Msg("client registered")
}

// unregister removes the connection, but only if it is still the live entry
// for its account (a replacement connection must not be torn down).
func (h *Hub) unregister(c *client) {
	h.mu.Lock()
	current, ok := h.clients[c.accountID]
	if ok && current == c {
		delete(h.clients, c.accountID)
		close(c.send)
	}
	h.mu.Unlock()

	h.log.Info().
		Str("account_id", c.accountID.String()).
		Int("connected", h.Connected()).
		Msg("client disconnected")
}

func (h *Hub) Connected() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

// Notify delivers an event to one account if it is connected. Offline
// accounts and full buffers drop the event silently; the caller must never
// depend on delivery.
func (h *Hub) Notify(accountID uuid.UUID, event EventType, message string, data any) {
	payload, err := json.Marshal(newEvent(event, message, data))
	if err != nil {
		h.log.Error().Err(err).Str("event", string(event)).Msg("marshal notification")
		return
	}

	// The send must happen under the read lock: register/unregister close
	// the channel under the write lock, so holding RLock across the send
	// keeps it from racing a close.
	h.mu.RLock()
	c, ok := h.clients[accountID]
	delivered := false
	if ok {
		select {
		case c.send <- payload:
			delivered = true
		default:
		}
	}
	h.mu.RUnlock()

	switch {
	case !ok:
		h.log.Debug().
			Str("account_id", accountID.String()).
			Str("event", string(event)).
			Msg("recipient not connected, dropping")
	case !delivered:
		h.log.Warn().
			Str("account_id", accountID.String()).
			Str("event", string(event)).
			Msg("send buffer full, dropping")
	}
}

// BroadcastToRole delivers an event to every connected account of the given
// type.
func (h *Hub) BroadcastToRole(role catalog.AccountType, event EventType, message string, data any) {
	payload, err := json.Marshal(newEvent(event, message, data))
	if err != nil {
		h.log.Error().Err(err).Str("event", string(event)).Msg("marshal notification")
		return
	}

	h.mu.RLock()
	defer h.mu.RUnlock()

	for _, c := range h.clients {
		if c.accountType != role {
			continue
		}
		select {
		case c.send <- payload:
		default:
		}
	}
}

// serve wires a freshly upgraded connection into the hub and blocks until
// the connection closes.
func (h *Hub) serve(conn *websocket.Conn, account *catalog.Account) {
	c := &client{
		accountID:   account.ID,
		accountType: account.Type,
		conn:        conn,
		send:        make(chan []byte, sendBufferSize),
		log:         h.log,
	}

	h.register(c)

	go c.writePump()
	c.readPump(func() { h.unregister(c) })
}
