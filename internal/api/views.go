package api

import (
	"strconv"

	"wgpeers/internal/ipam"
	"wgpeers/internal/models"
)

type ServerItem struct {
	PublicKey       string `json:"public_key"`
	EndpointAddress string `json:"endpoint_address"`
	EndpointPort    int    `json:"endpoint_port"`
}

// serverList: сервера по имени.
func serverList(in []models.Server) map[string]ServerItem {
	out := make(map[string]ServerItem, len(in))
	for _, s := range in {
		out[s.Name] = ServerItem{
			PublicKey:       s.PublicKey,
			EndpointAddress: s.EndpointAddress,
			EndpointPort:    s.EndpointPort,
		}
	}
	return out
}

type ClientItem struct {
	PublicKey string `json:"public_key"`
	Server    string `json:"server"`
}

// clientList группирует связки по имени клиента, внутри: по id.
func clientList(in []models.Client) map[string]map[string]ClientItem {
	out := make(map[string]map[string]ClientItem)
	for _, c := range in {
		byID, ok := out[c.Name]
		if !ok {
			byID = make(map[string]ClientItem)
			out[c.Name] = byID
		}
		byID[strconv.FormatUint(uint64(c.ID), 10)] = ClientItem{PublicKey: c.PublicKey, Server: c.ServerName}
	}
	return out
}

type SubnetItem struct {
	ID            uint   `json:"subnet_id"`
	ServerName    string `json:"server_name"`
	Network       string `json:"network_address"`
	Mask          int    `json:"network_mask"`
	Reserved      int    `json:"n_reserved_ips"`
	AllowedIPs    string `json:"allowed_ips"`
	TunnelAddress string `json:"server_wg_ip"`
}

func subnetList(in []models.Subnet) []SubnetItem {
	out := make([]SubnetItem, 0, len(in))
	for _, s := range in {
		out = append(out, SubnetItem{
			ID:            s.ID,
			ServerName:    s.ServerName,
			Network:       ipam.String(s.Network),
			Mask:          s.Mask,
			Reserved:      s.Reserved,
			AllowedIPs:    s.AllowedIPs,
			TunnelAddress: ipam.String(s.TunnelAddress),
		})
	}
	return out
}

type LeaseItem struct {
	ID       uint   `json:"lease_id"`
	SubnetID uint   `json:"subnet_id"`
	ClientID uint   `json:"client_id"`
	Address  string `json:"ip_address"`
}

func leaseList(in []models.Lease) []LeaseItem {
	out := make([]LeaseItem, 0, len(in))
	for _, l := range in {
		out = append(out, LeaseItem{ID: l.ID, SubnetID: l.SubnetID, ClientID: l.ClientID, Address: ipam.String(l.Address)})
	}
	return out
}

type DevicePeer struct {
	PublicKey  string   `json:"public_key"`
	AllowedIPs []string `json:"allowed_ips"`
}

type DeviceView struct {
	ReplacePeers bool         `json:"replace_peers"`
	Peers        []DevicePeer `json:"peers"`
}
