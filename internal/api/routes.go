package api

import (
	"encoding/json"
	"log/slog"
	"net/http"

	"github.com/gorilla/mux"

	"github.com/WendelHime/lanshare/internal/shared/models"
	"github.com/WendelHime/lanshare/internal/transfer"
)

type PeerLister interface {
	Snapshot() []models.Peer
}

type TransferLister interface {
	Transfers() []transfer.TransferStatus
}

type routes struct {
	peers     PeerLister
	transfers TransferLister
	log       *slog.Logger
}

// RegisterRoutes builds the read-only status API.
func RegisterRoutes(peers PeerLister, transfers TransferLister, logger *slog.Logger) *mux.Router {
	rt := routes{peers: peers, transfers: transfers, log: logger}
	r := mux.NewRouter()
	r.HandleFunc("/peers", rt.Peers).Methods(http.MethodGet)
	r.HandleFunc("/transfers", rt.Transfers).Methods(http.MethodGet)
	return r
}

func (rt routes) Peers(w http.ResponseWriter, r *http.Request) {
	rt.writeJSON(w, rt.peers.Snapshot())
}

func (rt routes) Transfers(w http.ResponseWriter, r *http.Request) {
	rt.writeJSON(w, rt.transfers.Transfers())
}

func (rt routes) writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(v); err != nil {
		rt.log.Warn("failed to write response", slog.Any("error", err))
	}
}
