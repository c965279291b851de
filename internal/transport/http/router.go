package http

import (
	"net/http"

	"github.com/gorilla/mux"
)

// NewRouter mounts the health check, JSON API and websocket feed.
func NewRouter(api *API, ws *WSHandler) *mux.Router {
	r := mux.NewRouter()
	r.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte("ok"))
	}).Methods(http.MethodGet)
	r.HandleFunc("/ws", ws.ServeWS)
	api.Routes(r)
	return r
}
