package notify

import (
	"context"
	"errors"
	"net/http"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/conexhealth/oncall-service/internal/catalog"
)

var ErrUnauthorizedConnection = errors.New("unauthorized notification connection")

// AccountResolver turns an authenticated account id into an account record.
// Connections whose account cannot be resolved are refused.
type AccountResolver interface {
	GetAccountByID(ctx context.Context, id uuid.UUID) (*catalog.Account, error)
}

type Handler struct {
	hub       *Hub
	resolver  AccountResolver
	jwtSecret []byte
	upgrader  websocket.Upgrader
}

func NewHandler(hub *Hub, resolver AccountResolver, jwtSecret string) *Handler {
	return &Handler{
		hub:       hub,
		resolver:  resolver,
		jwtSecret: []byte(jwtSecret),
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin:     func(r *http.Request) bool { return true },
		},
	}
}

// ServeHTTP authenticates the session token, resolves the account and hands
// the connection to the hub. Token comes from the accessToken cookie or,
// for clients that cannot set cookies on WebSocket requests, a token query
// parameter.
func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	account, err := h.authenticate(r)
	if err != nil {
		http.Error(w, "unauthorized", http.StatusUnauthorized)
		return
	}

	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		// Upgrade already wrote the error response
		return
	}

	h.hub.serve(conn, account)
}

func (h *Handler) authenticate(r *http.Request) (*catalog.Account, error) {
	raw := r.URL.Query().Get("token")
	if raw == "" {
		if c, err := r.Cookie("accessToken"); err == nil {
			raw = c.Value
		}
	}
	if raw == "" {
		return nil, ErrUnauthorizedConnection
	}

	claims := jwt.MapClaims{}
	_, err := jwt.ParseWithClaims(raw, claims, func(t *jwt.Token) (any, error) {
		return h.jwtSecret, nil
	}, jwt.WithValidMethods([]string{"HS256"}))
	if err != nil {
		return nil, ErrUnauthorizedConnection
	}

	accountStr, _ := claims["accountId"].(string)
	accountID, err := uuid.Parse(accountStr)
	if err != nil {
		return nil, ErrUnauthorizedConnection
	}

	account, err := h.resolver.GetAccountByID(r.Context(), accountID)
	if err != nil {
		return nil, ErrUnauthorizedConnection
	}

	return account, nil
}
