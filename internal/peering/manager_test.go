package peering

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"wgpeers/internal/apperr"
	"wgpeers/internal/db/dbtest"
	"wgpeers/internal/ipam"
	"wgpeers/internal/repo"
)

func key(c string) string { return strings.Repeat(c, 43) + "=" }

func setup(t *testing.T) (*Manager, *repo.PeerStore) {
	t.Helper()
	store := repo.NewPeerStore(dbtest.New(t))
	return NewManager(store, Options{}), store
}

func spec(name, k, network string, mask, reserved int) ServerSpec {
	return ServerSpec{
		Name:            name,
		PublicKey:       k,
		EndpointAddress: "1.2.3.4",
		EndpointPort:    51820,
		Network:         network,
		Mask:            mask,
		Reserved:        reserved,
		AllowedIPs:      network + "/24",
	}
}

func TestCreateServer(t *testing.T) {
	m, store := setup(t)
	ctx := context.Background()

	srv, sn, err := m.CreateServer(ctx, spec("S", key("A"), "10.0.0.0", 24, 20))
	require.NoError(t, err)
	assert.Equal(t, "S", srv.Name)
	assert.Equal(t, "10.0.0.21", ipam.String(sn.TunnelAddress))

	_, _, err = m.CreateServer(ctx, spec("S", key("C"), "10.0.9.0", 24, 5))
	assert.ErrorIs(t, err, apperr.ErrConflict)

	got, err := store.SubnetOf(ctx, "S")
	require.NoError(t, err)
	assert.Equal(t, sn.ID, got.ID)
	assert.Equal(t, sn.Network, got.Network)
	assert.Equal(t, 20, got.Reserved)
}

func TestCreateServerInvalidWritesNothing(t *testing.T) {
	m, store := setup(t)
	ctx := context.Background()

	for _, s := range []ServerSpec{
		spec("S", "short", "10.0.0.0", 24, 20),
		spec("S", key("A"), "10.0.0", 24, 20),
		spec("S", key("A"), "10.0.0.0", 33, 20),
		spec("S", key("A"), "10.0.0.0", 24, 254),
	} {
		_, _, err := m.CreateServer(ctx, s)
		assert.ErrorIs(t, err, apperr.ErrInvalidInput)
	}
	ok, err := store.ServerExists(ctx, "S")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestCreateServerSubnetConflictLeavesNoServer(t *testing.T) {
	m, store := setup(t)
	ctx := context.Background()

	_, _, err := m.CreateServer(ctx, spec("S1", key("A"), "10.0.0.0", 24, 20))
	require.NoError(t, err)

	// сервер создаётся, подсеть упирается в дубликат сети: сервер не должен остаться
	_, _, err = m.CreateServer(ctx, spec("S2", key("B"), "10.0.0.0", 24, 20))
	assert.ErrorIs(t, err, apperr.ErrConflict)

	ok, err := store.ServerExists(ctx, "S2")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestCreateClientAllocatesAfterTunnelAddress(t *testing.T) {
	m, _ := setup(t)
	ctx := context.Background()
	_, _, err := m.CreateServer(ctx, spec("S", key("A"), "10.0.0.0", 24, 20))
	require.NoError(t, err)

	p, err := m.CreateClient(ctx, "C", "S", key("B"))
	require.NoError(t, err)
	assert.Equal(t, "10.0.0.22", ipam.String(p.Lease.Address))

	p2, err := m.CreateClient(ctx, "D", "S", key("C"))
	require.NoError(t, err)
	assert.Equal(t, "10.0.0.23", ipam.String(p2.Lease.Address))
}

func TestCreateClientUnknownServer(t *testing.T) {
	m, store := setup(t)
	ctx := context.Background()

	_, err := m.CreateClient(ctx, "C", "nope", key("B"))
	assert.ErrorIs(t, err, apperr.ErrNotFound)

	clients, err := store.ListClients(ctx)
	require.NoError(t, err)
	assert.Empty(t, clients)
	leases, err := store.ListLeases(ctx)
	require.NoError(t, err)
	assert.Empty(t, leases)
}

func TestCreateClientInvalidKey(t *testing.T) {
	m, _ := setup(t)
	ctx := context.Background()
	_, _, err := m.CreateServer(ctx, spec("S", key("A"), "10.0.0.0", 24, 20))
	require.NoError(t, err)

	_, err = m.CreateClient(ctx, "C", "S", "xXnuVSwfiqiZkf/rcEV8KczlTF4BseS4zY6dnKjCXc=")
	assert.ErrorIs(t, err, apperr.ErrInvalidInput)
}

func TestCreateClientPoolExhausted(t *testing.T) {
	m, store := setup(t)
	ctx := context.Background()
	// /24 с 252 зарезервированными: туннель .253, клиенту остаётся только .254
	_, _, err := m.CreateServer(ctx, spec("S", key("A"), "10.0.0.0", 24, 252))
	require.NoError(t, err)

	p, err := m.CreateClient(ctx, "first", "S", key("B"))
	require.NoError(t, err)
	assert.Equal(t, "10.0.0.254", ipam.String(p.Lease.Address))

	_, err = m.CreateClient(ctx, "second", "S", key("C"))
	assert.ErrorIs(t, err, apperr.ErrPoolExhausted)

	ok, err := store.ClientExists(ctx, "second", "S")
	require.NoError(t, err)
	assert.False(t, ok, "no orphan client row")

	leases, err := store.ListLeases(ctx)
	require.NoError(t, err)
	assert.Len(t, leases, 1)
}

func TestCreateClientNoRoomAtAll(t *testing.T) {
	m, store := setup(t)
	ctx := context.Background()
	// туннель .254: последний хост, клиентам места нет
	_, _, err := m.CreateServer(ctx, spec("S", key("A"), "10.0.0.0", 24, 253))
	require.NoError(t, err)

	_, err = m.CreateClient(ctx, "C", "S", key("B"))
	assert.ErrorIs(t, err, apperr.ErrPoolExhausted)
	ok, err := store.ClientExists(ctx, "C", "S")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestCreateClientReplacesPeering(t *testing.T) {
	m, store := setup(t)
	ctx := context.Background()
	_, _, err := m.CreateServer(ctx, spec("S", key("A"), "10.0.0.0", 24, 20))
	require.NoError(t, err)

	first, err := m.CreateClient(ctx, "C", "S", key("B"))
	require.NoError(t, err)
	_, err = m.CreateClient(ctx, "D", "S", key("D"))
	require.NoError(t, err)

	// пересоздание освобождает .22 и выбирает наименьший свободный: снова .22
	again, err := m.CreateClient(ctx, "C", "S", key("E"))
	require.NoError(t, err)
	assert.NotEqual(t, first.Client.ID, again.Client.ID)
	assert.Equal(t, "10.0.0.22", ipam.String(again.Lease.Address))

	clients, err := store.ListClients(ctx)
	require.NoError(t, err)
	assert.Len(t, clients, 2)
}

func TestFreedLowestAddressIsReused(t *testing.T) {
	m, _ := setup(t)
	ctx := context.Background()
	_, _, err := m.CreateServer(ctx, spec("S", key("A"), "10.0.0.0", 24, 20))
	require.NoError(t, err)

	for i, name := range []string{"a", "b", "c"} {
		_, err := m.CreateClient(ctx, name, "S", key(string(rune('B'+i))))
		require.NoError(t, err)
	}
	ok, err := m.DeletePeering(ctx, "a", "S")
	require.NoError(t, err)
	assert.True(t, ok)

	p, err := m.CreateClient(ctx, "d", "S", key("Z"))
	require.NoError(t, err)
	assert.Equal(t, "10.0.0.22", ipam.String(p.Lease.Address))
}

func TestDeleteServerRemovesClients(t *testing.T) {
	m, store := setup(t)
	ctx := context.Background()
	_, _, err := m.CreateServer(ctx, spec("S", key("A"), "10.0.0.0", 24, 20))
	require.NoError(t, err)
	const n = 5
	for i := 0; i < n; i++ {
		_, err := m.CreateClient(ctx, string(rune('a'+i)), "S", key(string(rune('B'+i))))
		require.NoError(t, err)
	}

	ok, err := m.DeleteServer(ctx, "S")
	require.NoError(t, err)
	assert.True(t, ok)

	clients, err := store.ListClients(ctx)
	require.NoError(t, err)
	assert.Empty(t, clients)
	leases, err := store.ListLeases(ctx)
	require.NoError(t, err)
	assert.Empty(t, leases)

	ok, err = m.DeleteServer(ctx, "S")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestDeleteClientAcrossServers(t *testing.T) {
	m, store := setup(t)
	ctx := context.Background()
	_, _, err := m.CreateServer(ctx, spec("S1", key("A"), "10.0.0.0", 24, 20))
	require.NoError(t, err)
	_, _, err = m.CreateServer(ctx, spec("S2", key("B"), "10.0.1.0", 24, 20))
	require.NoError(t, err)

	_, err = m.CreateClient(ctx, "C", "S1", key("C"))
	require.NoError(t, err)
	_, err = m.CreateClient(ctx, "C", "S2", key("D"))
	require.NoError(t, err)

	n, err := m.DeleteClient(ctx, "C")
	require.NoError(t, err)
	assert.EqualValues(t, 2, n)

	for _, s := range []string{"S1", "S2"} {
		ok, err := store.ClientExists(ctx, "C", s)
		require.NoError(t, err)
		assert.False(t, ok)
	}
	n, err = m.DeleteClient(ctx, "C")
	require.NoError(t, err)
	assert.Zero(t, n)
}

func TestConcurrentCreateClientUniqueAddresses(t *testing.T) {
	m, store := setup(t)
	ctx := context.Background()
	_, _, err := m.CreateServer(ctx, spec("S", key("A"), "10.0.0.0", 24, 20))
	require.NoError(t, err)

	const n = 32
	var wg sync.WaitGroup
	errs := make(chan error, n)
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, err := m.CreateClient(ctx, fmt.Sprintf("c%02d", i), "S", fmt.Sprintf("%043d=", i))
			errs <- err
		}(i)
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		require.NoError(t, err)
	}

	leases, err := store.ListLeases(ctx)
	require.NoError(t, err)
	require.Len(t, leases, n)
	seen := ipam.NewSet()
	for _, l := range leases {
		assert.False(t, seen.Has(l.Address), "address %s handed out twice", ipam.String(l.Address))
		seen.Add(l.Address)
	}
	// занят ровно непрерывный блок .22 .. .22+n-1
	first, _ := ipam.Parse("10.0.0.22")
	for i := uint32(0); i < n; i++ {
		assert.True(t, seen.Has(first+i), ipam.String(first+i))
	}
}

func TestConcurrentCreateClientExhaustedPool(t *testing.T) {
	m, store := setup(t)
	ctx := context.Background()
	// /29 без резерва: сеть .0, туннель .1, клиентам .2 .. .6
	_, _, err := m.CreateServer(ctx, spec("S", key("A"), "10.0.0.0", 29, 0))
	require.NoError(t, err)

	const n = 10
	var wg sync.WaitGroup
	results := make(chan error, n)
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, err := m.CreateClient(ctx, fmt.Sprintf("c%02d", i), "S", fmt.Sprintf("%043d=", i))
			results <- err
		}(i)
	}
	wg.Wait()
	close(results)

	var ok, exhausted int
	for err := range results {
		switch {
		case err == nil:
			ok++
		case assert.ErrorIs(t, err, apperr.ErrPoolExhausted):
			exhausted++
		}
	}
	assert.Equal(t, 5, ok)
	assert.Equal(t, n-5, exhausted)

	clients, err := store.ListClients(ctx)
	require.NoError(t, err)
	assert.Len(t, clients, 5, "no client without a lease")
	leases, err := store.ListLeases(ctx)
	require.NoError(t, err)
	assert.Len(t, leases, 5)
}
