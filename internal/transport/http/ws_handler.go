package http

import (
	"context"
	"errors"
	"net/http"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"

	"wedding-bet-service/internal/app"
	"wedding-bet-service/internal/domain"
)

type WSHandler struct {
	bets     *app.BetService
	auth     *app.AuthService
	feed     *app.Feed
	log      zerolog.Logger
	upgrader websocket.Upgrader
}

func NewWSHandler(bets *app.BetService, auth *app.AuthService, feed *app.Feed, log zerolog.Logger) *WSHandler {
	return &WSHandler{
		bets: bets,
		auth: auth,
		feed: feed,
		log:  log.With().Str("component", "ws").Logger(),
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin:     func(r *http.Request) bool { return true },
		},
	}
}

type outboundMessage[T any] struct {
	Type    string `json:"type"`
	Payload T      `json:"payload"`
}

type snapshotPayload struct {
	Collection string `json:"collection"`
	Items      any    `json:"items"`
}

type errorPayload struct {
	Message string `json:"message"`
}

// ServeWS streams snapshots of a collection: one on connect and one after
// every change. The sessions collection is private to the caller and carries
// their own sign-in state.
func (h *WSHandler) ServeWS(w http.ResponseWriter, r *http.Request) {
	collection := r.URL.Query().Get("collection")
	var p *domain.Principal
	switch collection {
	case domain.CollectionBets, domain.CollectionWinners:
	case domain.CollectionSessions:
		if p = principalFrom(r.Context()); p == nil {
			http.Error(w, domain.ErrUnauthenticated.Error(), http.StatusUnauthorized)
			return
		}
	default:
		http.Error(w, "collection must be bets, homepageWinners or sessions", http.StatusBadRequest)
		return
	}

	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.log.Warn().Err(err).Msg("ws upgrade failed")
		return
	}
	defer conn.Close()

	updates, cancel := h.feed.Subscribe(collection)
	defer cancel()

	ctx := r.Context()
	first, err := h.snapshot(ctx, collection, p)
	if err != nil {
		h.log.Error().Err(err).Str("collection", collection).Msg("initial snapshot failed")
		_ = conn.WriteJSON(outboundMessage[errorPayload]{Type: "error", Payload: errorPayload{Message: "snapshot unavailable"}})
		return
	}

	send := make(chan outboundMessage[any], 16)
	closeSignals := make(chan struct{})
	writerDone := make(chan struct{})
	updatesDone := make(chan struct{})

	go func() {
		defer close(writerDone)
		for msg := range send {
			if err := conn.WriteJSON(msg); err != nil {
				h.log.Debug().Err(err).Msg("ws write failed")
				return
			}
		}
	}()

	go func() {
		defer close(updatesDone)
		for {
			select {
			case change, ok := <-updates:
				if !ok {
					return
				}
				if p != nil && change.DocumentID != p.UserID {
					continue
				}
				msg, err := h.snapshot(ctx, collection, p)
				if err != nil {
					h.log.Error().Err(err).Str("collection", collection).Msg("snapshot failed")
					continue
				}
				select {
				case send <- msg:
				case <-closeSignals:
					return
				}
			case <-closeSignals:
				return
			}
		}
	}()

	send <- first

	// Clients only listen; reading detects the close.
	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			break
		}
	}

	close(closeSignals)
	<-updatesDone
	close(send)
	<-writerDone
}

func (h *WSHandler) snapshot(ctx context.Context, collection string, p *domain.Principal) (outboundMessage[any], error) {
	var (
		items any
		err   error
	)
	switch collection {
	case domain.CollectionBets:
		items, err = h.bets.ListBets(ctx)
	case domain.CollectionSessions:
		items, err = h.sessionItems(ctx, p)
	default:
		items, err = h.bets.PublishedWinners(ctx)
	}
	if err != nil {
		return outboundMessage[any]{}, err
	}
	return outboundMessage[any]{
		Type:    "snapshot",
		Payload: snapshotPayload{Collection: collection, Items: items},
	}, nil
}

// sessionItems holds the caller's principal while the session is open and
// nothing once it is gone.
func (h *WSHandler) sessionItems(ctx context.Context, p *domain.Principal) ([]domain.Principal, error) {
	current, err := h.auth.Authenticate(ctx, p.Token)
	if errors.Is(err, domain.ErrUnauthenticated) {
		return []domain.Principal{}, nil
	}
	if err != nil {
		return nil, err
	}
	return []domain.Principal{current}, nil
}
