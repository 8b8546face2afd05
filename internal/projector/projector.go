// Package projector собирает несекретное представление состояния, нужное серверу
// или клиенту, чтобы настроить свой интерфейс.
package projector

import (
	"context"

	"golang.zx2c4.com/wireguard/wgctrl/wgtypes"

	"wgpeers/internal/apperr"
	"wgpeers/internal/ipam"
	"wgpeers/internal/repo"
	"wgpeers/internal/vpn/wireguard"
)

type PeerView struct {
	PublicKey string `json:"public_key"`
	IPAddress string `json:"ip_address"`
}

type ServerView struct {
	Peers []PeerView `json:"peers"`
}

type ClientServerView struct {
	PublicKey       string `json:"public_key"`
	EndpointAddress string `json:"endpoint_address"`
	EndpointPort    int    `json:"endpoint_port"`
}

type ClientSubnetView struct {
	AllowedIPs string `json:"allowed_ips"`
	Lease      string `json:"lease"`
}

type ClientView struct {
	Server ClientServerView `json:"server"`
	Subnet ClientSubnetView `json:"subnet"`
}

type Projector struct {
	store     *repo.PeerStore
	keepalive int
}

// New: keepalive попадает только в текст wg-quick; 0: не писать.
func New(store *repo.PeerStore, keepalive int) *Projector {
	return &Projector{store: store, keepalive: keepalive}
}

// ServerConfig: пиры сервера (ключ + адрес). Порядок: по id клиента.
func (p *Projector) ServerConfig(ctx context.Context, serverName string) (*ServerView, error) {
	view := &ServerView{Peers: []PeerView{}}
	err := p.store.Tx(ctx, func(tx *repo.PeerStore) error {
		if _, err := tx.GetServer(ctx, serverName); err != nil {
			return err
		}
		sn, err := tx.SubnetOf(ctx, serverName)
		if err != nil {
			return err
		}
		rows, err := tx.PeersOf(ctx, sn.ID)
		if err != nil {
			return err
		}
		for _, r := range rows {
			view.Peers = append(view.Peers, PeerView{PublicKey: r.PublicKey, IPAddress: ipam.String(r.Address)})
		}
		return nil
	})
	if err != nil {
		return nil, apperr.Wrap(apperr.KindStorage, "server config", err)
	}
	return view, nil
}

// ClientConfig: данные сервера и выданный адрес для одной связки.
func (p *Projector) ClientConfig(ctx context.Context, clientName, serverName string) (*ClientView, error) {
	var view ClientView
	err := p.store.Tx(ctx, func(tx *repo.PeerStore) error {
		c, err := tx.GetClient(ctx, clientName, serverName)
		if err != nil {
			return err
		}
		srv, err := tx.GetServer(ctx, serverName)
		if err != nil {
			return err
		}
		sn, err := tx.SubnetOf(ctx, serverName)
		if err != nil {
			return err
		}
		l, err := tx.LeaseOf(ctx, c.ID)
		if err != nil {
			return err
		}
		view = ClientView{
			Server: ClientServerView{
				PublicKey:       srv.PublicKey,
				EndpointAddress: srv.EndpointAddress,
				EndpointPort:    srv.EndpointPort,
			},
			Subnet: ClientSubnetView{
				AllowedIPs: sn.AllowedIPs,
				Lease:      ipam.String(l.Address),
			},
		}
		return nil
	})
	if err != nil {
		return nil, apperr.Wrap(apperr.KindStorage, "client config", err)
	}
	return &view, nil
}

// ServerTunnelAddress: собственный адрес сервера внутри его подсети.
func (p *Projector) ServerTunnelAddress(ctx context.Context, serverName string) (string, error) {
	sn, err := p.store.SubnetOf(ctx, serverName)
	if err != nil {
		return "", err
	}
	return ipam.String(sn.TunnelAddress), nil
}

// Device: конфиг для wgctrl и пиры с ключами в том виде, в каком их сохранили.
// wgtypes.Key.String() перекодирует неканонический base64, поэтому текст ключа берётся из Peers.
type Device struct {
	Config wgtypes.Config
	Peers  []wireguard.Peer
}

// DeviceConfig: ServerConfig в виде wgtypes.Config для агента сервера.
func (p *Projector) DeviceConfig(ctx context.Context, serverName string) (*Device, error) {
	view, err := p.ServerConfig(ctx, serverName)
	if err != nil {
		return nil, err
	}
	peers := make([]wireguard.Peer, 0, len(view.Peers))
	for _, pv := range view.Peers {
		peers = append(peers, wireguard.Peer{PublicKey: pv.PublicKey, Address: pv.IPAddress})
	}
	cfg, err := wireguard.DeviceConfig(peers)
	if err != nil {
		return nil, apperr.Wrap(apperr.KindStorage, "device config", err)
	}
	return &Device{Config: cfg, Peers: peers}, nil
}

// ClientConf: текст wg-quick для связки клиента с сервером.
func (p *Projector) ClientConf(ctx context.Context, clientName, serverName string) (string, error) {
	view, err := p.ClientConfig(ctx, clientName, serverName)
	if err != nil {
		return "", err
	}
	out, err := wireguard.ClientConf{
		Address:         view.Subnet.Lease,
		ServerPublicKey: view.Server.PublicKey,
		EndpointAddress: view.Server.EndpointAddress,
		EndpointPort:    view.Server.EndpointPort,
		AllowedIPs:      view.Subnet.AllowedIPs,
		Keepalive:       p.keepalive,
	}.Render()
	if err != nil {
		return "", apperr.Wrap(apperr.KindStorage, "client conf", err)
	}
	return out, nil
}
