package api

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"

	"wgpeers/internal/ipam"
	"wgpeers/internal/models"
	"wgpeers/internal/peering"
	"wgpeers/internal/projector"
	"wgpeers/internal/repo"
)

type Handler struct {
	store *repo.PeerStore
	mgr   *peering.Manager
	proj  *projector.Projector
}

func NewHandler(store *repo.PeerStore, mgr *peering.Manager, proj *projector.Projector) *Handler {
	return &Handler{store: store, mgr: mgr, proj: proj}
}

// lookup: параметры GET-запросов. Берутся из query; старые агенты шлют их JSON-телом.
type lookup struct {
	ServerName string `json:"server_name"`
	ClientName string `json:"client_name"`
	Format     string `json:"format"`
}

func readLookup(r *http.Request) (lookup, error) {
	q := r.URL.Query()
	l := lookup{ServerName: q.Get("server_name"), ClientName: q.Get("client_name"), Format: q.Get("format")}
	if l.ServerName != "" || l.ClientName != "" || r.Body == nil || r.ContentLength == 0 {
		return l, nil
	}
	if err := json.NewDecoder(r.Body).Decode(&l); err != nil && !errors.Is(err, io.EOF) {
		return l, err
	}
	return l, nil
}

func decode(w http.ResponseWriter, r *http.Request, v any) bool {
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		badRequest(w, r, "bad json: "+err.Error())
		return false
	}
	return true
}

// -------- списки --------

func (h *Handler) ListServers(w http.ResponseWriter, r *http.Request) {
	list, err := h.store.ListServers(r.Context())
	if err != nil {
		writeError(w, r, err)
		return
	}
	models.WriteJSON(w, http.StatusOK, serverList(list))
}

func (h *Handler) ListClients(w http.ResponseWriter, r *http.Request) {
	list, err := h.store.ListClients(r.Context())
	if err != nil {
		writeError(w, r, err)
		return
	}
	models.WriteJSON(w, http.StatusOK, clientList(list))
}

func (h *Handler) ListSubnets(w http.ResponseWriter, r *http.Request) {
	list, err := h.store.ListSubnets(r.Context())
	if err != nil {
		writeError(w, r, err)
		return
	}
	models.WriteJSON(w, http.StatusOK, subnetList(list))
}

func (h *Handler) ListLeases(w http.ResponseWriter, r *http.Request) {
	list, err := h.store.ListLeases(r.Context())
	if err != nil {
		writeError(w, r, err)
		return
	}
	models.WriteJSON(w, http.StatusOK, leaseList(list))
}

// -------- сервера --------

type AddServerRequest struct {
	ServerName      string `json:"server_name"`
	NetworkAddress  string `json:"network_address"`
	NetworkMask     int    `json:"network_mask"`
	PublicKey       string `json:"public_key"`
	EndpointAddress string `json:"endpoint_address"`
	EndpointPort    int    `json:"endpoint_port"`
	NReservedIPs    int    `json:"n_reserved_ips"`
	AllowedIPs      string `json:"allowed_ips"`
}

// POST /api/v1/server/add/
func (h *Handler) AddServer(w http.ResponseWriter, r *http.Request) {
	var req AddServerRequest
	if !decode(w, r, &req) {
		return
	}
	srv, sn, err := h.mgr.CreateServer(r.Context(), peering.ServerSpec{
		Name:            req.ServerName,
		PublicKey:       req.PublicKey,
		EndpointAddress: req.EndpointAddress,
		EndpointPort:    req.EndpointPort,
		Network:         req.NetworkAddress,
		Mask:            req.NetworkMask,
		Reserved:        req.NReservedIPs,
		AllowedIPs:      req.AllowedIPs,
	})
	if err != nil {
		writeError(w, r, err)
		return
	}
	models.WriteJSON(w, http.StatusCreated, map[string]string{
		"server_name":  srv.Name,
		"server_wg_ip": ipam.String(sn.TunnelAddress),
	})
}

// POST /api/v1/server/delete/: повторное удаление тоже 200.
func (h *Handler) DeleteServer(w http.ResponseWriter, r *http.Request) {
	var req struct {
		ServerName string `json:"server_name"`
	}
	if !decode(w, r, &req) {
		return
	}
	ok, err := h.mgr.DeleteServer(r.Context(), req.ServerName)
	if err != nil {
		writeError(w, r, err)
		return
	}
	models.WriteJSON(w, http.StatusOK, map[string]bool{"deleted": ok})
}

func (h *Handler) ServerExists(w http.ResponseWriter, r *http.Request) {
	l, err := readLookup(r)
	if err != nil || l.ServerName == "" {
		badRequest(w, r, "server_name required")
		return
	}
	ok, err := h.store.ServerExists(r.Context(), l.ServerName)
	if err != nil {
		writeError(w, r, err)
		return
	}
	if !ok {
		models.WriteJSON(w, http.StatusNotFound, map[string]bool{"exists": false})
		return
	}
	models.WriteJSON(w, http.StatusOK, map[string]bool{"exists": true})
}

func (h *Handler) ServerConfig(w http.ResponseWriter, r *http.Request) {
	l, err := readLookup(r)
	if err != nil || l.ServerName == "" {
		badRequest(w, r, "server_name required")
		return
	}
	view, err := h.proj.ServerConfig(r.Context(), l.ServerName)
	if err != nil {
		writeError(w, r, err)
		return
	}
	models.WriteJSON(w, http.StatusOK, view)
}

func (h *Handler) ServerTunnelAddress(w http.ResponseWriter, r *http.Request) {
	l, err := readLookup(r)
	if err != nil || l.ServerName == "" {
		badRequest(w, r, "server_name required")
		return
	}
	addr, err := h.proj.ServerTunnelAddress(r.Context(), l.ServerName)
	if err != nil {
		writeError(w, r, err)
		return
	}
	models.WriteJSON(w, http.StatusOK, map[string]string{"server_wg_ip": addr})
}

// DeviceConfig: то же, что config, но в форме wgtypes.Config для агента с wgctrl.
func (h *Handler) DeviceConfig(w http.ResponseWriter, r *http.Request) {
	l, err := readLookup(r)
	if err != nil || l.ServerName == "" {
		badRequest(w, r, "server_name required")
		return
	}
	dev, err := h.proj.DeviceConfig(r.Context(), l.ServerName)
	if err != nil {
		writeError(w, r, err)
		return
	}
	view := DeviceView{ReplacePeers: dev.Config.ReplacePeers, Peers: make([]DevicePeer, 0, len(dev.Config.Peers))}
	for i, p := range dev.Config.Peers {
		// ключ отдаём текстом, который прислал клиент, а не перекодированным
		dp := DevicePeer{PublicKey: dev.Peers[i].PublicKey}
		for _, n := range p.AllowedIPs {
			dp.AllowedIPs = append(dp.AllowedIPs, n.String())
		}
		view.Peers = append(view.Peers, dp)
	}
	models.WriteJSON(w, http.StatusOK, view)
}

// -------- клиенты --------

type AddClientRequest struct {
	ClientName string `json:"client_name"`
	ServerName string `json:"server_name"`
	PublicKey  string `json:"public_key"`
}

// POST /api/v1/client/add/
func (h *Handler) AddClient(w http.ResponseWriter, r *http.Request) {
	var req AddClientRequest
	if !decode(w, r, &req) {
		return
	}
	p, err := h.mgr.CreateClient(r.Context(), req.ClientName, req.ServerName, req.PublicKey)
	if err != nil {
		writeError(w, r, err)
		return
	}
	models.WriteJSON(w, http.StatusCreated, map[string]string{
		"client_name": p.Client.Name,
		"server_name": p.Client.ServerName,
		"lease":       ipam.String(p.Lease.Address),
	})
}

func (h *Handler) ClientExists(w http.ResponseWriter, r *http.Request) {
	l, err := readLookup(r)
	if err != nil || l.ServerName == "" || l.ClientName == "" {
		badRequest(w, r, "client_name and server_name required")
		return
	}
	ok, err := h.store.ClientExists(r.Context(), l.ClientName, l.ServerName)
	if err != nil {
		writeError(w, r, err)
		return
	}
	if !ok {
		models.WriteJSON(w, http.StatusNotFound, map[string]bool{"exists": false})
		return
	}
	models.WriteJSON(w, http.StatusOK, map[string]bool{"exists": true})
}

// GET /api/v1/client/config/: JSON, либо текст wg-quick при format=conf.
func (h *Handler) ClientConfig(w http.ResponseWriter, r *http.Request) {
	l, err := readLookup(r)
	if err != nil || l.ServerName == "" || l.ClientName == "" {
		badRequest(w, r, "client_name and server_name required")
		return
	}
	if l.Format == "conf" {
		out, err := h.proj.ClientConf(r.Context(), l.ClientName, l.ServerName)
		if err != nil {
			writeError(w, r, err)
			return
		}
		models.WriteText(w, http.StatusOK, out)
		return
	}
	view, err := h.proj.ClientConfig(r.Context(), l.ClientName, l.ServerName)
	if err != nil {
		writeError(w, r, err)
		return
	}
	models.WriteJSON(w, http.StatusOK, view)
}

// POST /api/v1/client/delete/: со всех серверов.
func (h *Handler) DeleteClient(w http.ResponseWriter, r *http.Request) {
	var req struct {
		ClientName string `json:"client_name"`
	}
	if !decode(w, r, &req) {
		return
	}
	n, err := h.mgr.DeleteClient(r.Context(), req.ClientName)
	if err != nil {
		writeError(w, r, err)
		return
	}
	models.WriteJSON(w, http.StatusOK, map[string]int64{"removed": n})
}

// POST /api/v1/server/remove_peer/
func (h *Handler) RemovePeer(w http.ResponseWriter, r *http.Request) {
	var req struct {
		ClientName string `json:"client_name"`
		ServerName string `json:"server_name"`
	}
	if !decode(w, r, &req) {
		return
	}
	ok, err := h.mgr.DeletePeering(r.Context(), req.ClientName, req.ServerName)
	if err != nil {
		writeError(w, r, err)
		return
	}
	models.WriteJSON(w, http.StatusOK, map[string]bool{"deleted": ok})
}
