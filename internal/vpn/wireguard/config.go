package wireguard

import (
	"fmt"
	"net"
	"strconv"
	"strings"

	"golang.zx2c4.com/wireguard/wgctrl/wgtypes"
)

// Peer: клиент сервера: ключ и выданный адрес.
type Peer struct {
	PublicKey string
	Address   string
}

// DeviceConfig собирает конфиг интерфейса сервера для wgctrl.Client.ConfigureDevice:
// полный список пиров, у каждого AllowedIPs = его адрес/32. Порядок пиров как у peers.
// Ключи сравниваются по байтам: у неканонического base64 ("BBB…B=") те же 32 байта,
// что у канонического ("BBB…BA="), но Key.String() вернёт вторую форму.
func DeviceConfig(peers []Peer) (wgtypes.Config, error) {
	cfg := wgtypes.Config{ReplacePeers: true, Peers: make([]wgtypes.PeerConfig, 0, len(peers))}
	for _, p := range peers {
		key, err := wgtypes.ParseKey(p.PublicKey)
		if err != nil {
			return wgtypes.Config{}, fmt.Errorf("peer %s: %w", p.Address, err)
		}
		ip := net.ParseIP(p.Address).To4()
		if ip == nil {
			return wgtypes.Config{}, fmt.Errorf("peer %s: not an IPv4 address", p.Address)
		}
		cfg.Peers = append(cfg.Peers, wgtypes.PeerConfig{
			PublicKey:         key,
			ReplaceAllowedIPs: true,
			AllowedIPs:        []net.IPNet{{IP: ip, Mask: net.CIDRMask(32, 32)}},
		})
	}
	return cfg, nil
}

// ClientConf: то, что клиенту нужно для wg-quick. Приватный ключ сервис не знает.
type ClientConf struct {
	Address         string
	ServerPublicKey string
	EndpointAddress string
	EndpointPort    int
	AllowedIPs      string
	Keepalive       int
}

// Render: текст /etc/wireguard/<server>.conf; PrivateKey клиент подставляет сам.
func (c ClientConf) Render() (string, error) {
	if _, err := wgtypes.ParseKey(c.ServerPublicKey); err != nil {
		return "", fmt.Errorf("server public key: %w", err)
	}
	var b strings.Builder
	fmt.Fprintf(&b, "[Interface]\n")
	fmt.Fprintf(&b, "Address = %s/32\n", c.Address)
	fmt.Fprintf(&b, "PrivateKey = <client private key>\n")
	fmt.Fprintf(&b, "\n[Peer]\n")
	fmt.Fprintf(&b, "PublicKey = %s\n", c.ServerPublicKey)
	fmt.Fprintf(&b, "Endpoint = %s\n", net.JoinHostPort(c.EndpointAddress, strconv.Itoa(c.EndpointPort)))
	if allowed := strings.TrimSpace(c.AllowedIPs); allowed != "" {
		fmt.Fprintf(&b, "AllowedIPs = %s\n", allowed)
	}
	if c.Keepalive > 0 {
		fmt.Fprintf(&b, "PersistentKeepalive = %d\n", c.Keepalive)
	}
	return b.String(), nil
}
