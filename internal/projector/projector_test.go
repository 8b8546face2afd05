package projector

import (
	"context"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"wgpeers/internal/apperr"
	"wgpeers/internal/db/dbtest"
	"wgpeers/internal/peering"
	"wgpeers/internal/repo"
)

func key(c string) string { return strings.Repeat(c, 43) + "=" }

func fixture(t *testing.T) (*Projector, *peering.Manager) {
	t.Helper()
	store := repo.NewPeerStore(dbtest.New(t))
	m := peering.NewManager(store, peering.Options{})
	_, _, err := m.CreateServer(context.Background(), peering.ServerSpec{
		Name:            "S",
		PublicKey:       key("A"),
		EndpointAddress: "1.2.3.4",
		EndpointPort:    51820,
		Network:         "10.0.0.0",
		Mask:            24,
		Reserved:        20,
		AllowedIPs:      "10.0.0.0/24",
	})
	require.NoError(t, err)
	return New(store, 25), m
}

func TestRoundTrip(t *testing.T) {
	p, m := fixture(t)
	ctx := context.Background()

	_, err := m.CreateClient(ctx, "C", "S", key("B"))
	require.NoError(t, err)

	sv, err := p.ServerConfig(ctx, "S")
	require.NoError(t, err)
	assert.Equal(t, []PeerView{{PublicKey: key("B"), IPAddress: "10.0.0.22"}}, sv.Peers)

	cv, err := p.ClientConfig(ctx, "C", "S")
	require.NoError(t, err)
	assert.Equal(t, ClientView{
		Server: ClientServerView{PublicKey: key("A"), EndpointAddress: "1.2.3.4", EndpointPort: 51820},
		Subnet: ClientSubnetView{AllowedIPs: "10.0.0.0/24", Lease: "10.0.0.22"},
	}, *cv)

	tun, err := p.ServerTunnelAddress(ctx, "S")
	require.NoError(t, err)
	assert.Equal(t, "10.0.0.21", tun)
}

func TestServerConfigEmpty(t *testing.T) {
	p, _ := fixture(t)

	sv, err := p.ServerConfig(context.Background(), "S")
	require.NoError(t, err)
	assert.NotNil(t, sv.Peers)
	assert.Empty(t, sv.Peers)
}

func TestServerConfigOrderedByClient(t *testing.T) {
	p, m := fixture(t)
	ctx := context.Background()
	for i, n := range []string{"z", "a", "m"} {
		_, err := m.CreateClient(ctx, n, "S", key(string(rune('B'+i))))
		require.NoError(t, err)
	}

	sv, err := p.ServerConfig(ctx, "S")
	require.NoError(t, err)
	require.Len(t, sv.Peers, 3)
	assert.Equal(t, "10.0.0.22", sv.Peers[0].IPAddress)
	assert.Equal(t, "10.0.0.23", sv.Peers[1].IPAddress)
	assert.Equal(t, "10.0.0.24", sv.Peers[2].IPAddress)
}

func TestNotFound(t *testing.T) {
	p, _ := fixture(t)
	ctx := context.Background()

	_, err := p.ServerConfig(ctx, "nope")
	assert.ErrorIs(t, err, apperr.ErrNotFound)

	_, err = p.ClientConfig(ctx, "ghost", "S")
	assert.ErrorIs(t, err, apperr.ErrNotFound)

	_, err = p.ServerTunnelAddress(ctx, "nope")
	assert.ErrorIs(t, err, apperr.ErrNotFound)

	_, err = p.DeviceConfig(ctx, "nope")
	assert.ErrorIs(t, err, apperr.ErrNotFound)
}

func TestDeviceConfig(t *testing.T) {
	p, m := fixture(t)
	ctx := context.Background()
	_, err := m.CreateClient(ctx, "C", "S", key("B"))
	require.NoError(t, err)

	dev, err := p.DeviceConfig(ctx, "S")
	require.NoError(t, err)
	assert.True(t, dev.Config.ReplacePeers)
	require.Len(t, dev.Config.Peers, 1)
	require.Len(t, dev.Config.Peers[0].AllowedIPs, 1)
	assert.Equal(t, "10.0.0.22/32", dev.Config.Peers[0].AllowedIPs[0].String())

	// текст ключа: ровно тот, что сохранён
	require.Len(t, dev.Peers, 1)
	assert.Equal(t, key("B"), dev.Peers[0].PublicKey)
}

func TestClientConf(t *testing.T) {
	p, m := fixture(t)
	ctx := context.Background()
	_, err := m.CreateClient(ctx, "C", "S", key("B"))
	require.NoError(t, err)

	out, err := p.ClientConf(ctx, "C", "S")
	require.NoError(t, err)
	assert.Contains(t, out, "Address = 10.0.0.22/32")
	assert.Contains(t, out, "PublicKey = "+key("A"))
	assert.Contains(t, out, "Endpoint = 1.2.3.4:51820")
	assert.Contains(t, out, "AllowedIPs = 10.0.0.0/24")
	assert.Contains(t, out, "PersistentKeepalive = 25")
}
