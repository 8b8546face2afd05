package api

import (
	"net/http"

	"github.com/gorilla/mux"
)

// RegisterRoutes вешает /api/v1 на r. mws применяются только к API (auth и т.п.).
func RegisterRoutes(r *mux.Router, h *Handler, mws ...mux.MiddlewareFunc) {
	sub := r.PathPrefix("/api/v1").Subrouter()
	sub.Use(mws...)

	sub.HandleFunc("/server/list_all", h.ListServers).Methods(http.MethodGet)
	sub.HandleFunc("/client/list_all", h.ListClients).Methods(http.MethodGet)
	sub.HandleFunc("/subnet/list_all", h.ListSubnets).Methods(http.MethodGet)
	sub.HandleFunc("/lease/list_all", h.ListLeases).Methods(http.MethodGet)

	sub.HandleFunc("/server/add/", h.AddServer).Methods(http.MethodPost)
	sub.HandleFunc("/server/delete/", h.DeleteServer).Methods(http.MethodPost)
	sub.HandleFunc("/server/exists/", h.ServerExists).Methods(http.MethodGet)
	sub.HandleFunc("/server/config/", h.ServerConfig).Methods(http.MethodGet)
	sub.HandleFunc("/server/wireguard_ip/", h.ServerTunnelAddress).Methods(http.MethodGet)
	sub.HandleFunc("/server/device_config/", h.DeviceConfig).Methods(http.MethodGet)
	sub.HandleFunc("/server/remove_peer/", h.RemovePeer).Methods(http.MethodPost)

	sub.HandleFunc("/client/add/", h.AddClient).Methods(http.MethodPost)
	sub.HandleFunc("/client/exists/", h.ClientExists).Methods(http.MethodGet)
	sub.HandleFunc("/client/config/", h.ClientConfig).Methods(http.MethodGet)
	sub.HandleFunc("/client/delete/", h.DeleteClient).Methods(http.MethodPost)
}
