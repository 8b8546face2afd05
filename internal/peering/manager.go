// Package peering: операции над несколькими сущностями сразу: сервер с подсетью,
// клиент с арендой, каскадные удаления. Каждая операция: одна транзакция.
package peering

import (
	"context"
	"errors"
	"time"

	"github.com/sirupsen/logrus"

	"wgpeers/internal/apperr"
	"wgpeers/internal/ipam"
	"wgpeers/internal/logs"
	"wgpeers/internal/metrics"
	"wgpeers/internal/models"
	"wgpeers/internal/repo"
	"wgpeers/internal/validate"
)

type Options struct {
	// OpTimeout ограничивает одну операцию; 0: только таймаут вызывающего.
	OpTimeout time.Duration
}

type Manager struct {
	store *repo.PeerStore
	opts  Options
}

func NewManager(store *repo.PeerStore, opts Options) *Manager {
	return &Manager{store: store, opts: opts}
}

// ServerSpec: всё, что нужно для сервера и его подсети.
type ServerSpec struct {
	Name            string
	PublicKey       string
	EndpointAddress string
	EndpointPort    int
	Network         string
	Mask            int
	Reserved        int
	AllowedIPs      string
}

func (s ServerSpec) server() repo.ServerInput {
	return repo.ServerInput{
		Name:            s.Name,
		PublicKey:       s.PublicKey,
		EndpointAddress: s.EndpointAddress,
		EndpointPort:    s.EndpointPort,
	}
}

func (s ServerSpec) subnet() repo.SubnetInput {
	return repo.SubnetInput{
		ServerName: s.Name,
		Network:    s.Network,
		Mask:       s.Mask,
		Reserved:   s.Reserved,
		AllowedIPs: s.AllowedIPs,
	}
}

// Peering: созданная связка клиента с сервером.
type Peering struct {
	Client *models.Client
	Lease  *models.Lease
}

func (m *Manager) begin(ctx context.Context) (context.Context, context.CancelFunc) {
	if m.opts.OpTimeout > 0 {
		return context.WithTimeout(ctx, m.opts.OpTimeout)
	}
	return context.WithCancel(ctx)
}

// finish пишет лог и метрики исхода и возвращает err без изменений.
func finish(op string, start time.Time, f logrus.Fields, err error) error {
	metrics.OperationDuration.WithLabelValues(op).Observe(time.Since(start).Seconds())
	e := logs.Logger.WithFields(f).WithField("op", op)
	if err == nil {
		metrics.Operations.WithLabelValues(op, "ok").Inc()
		e.Info("peering op done")
		return nil
	}
	kind := apperr.KindOf(err)
	metrics.Operations.WithLabelValues(op, kind.String()).Inc()
	e = e.WithField("kind", kind.String()).WithError(err)
	if kind == apperr.KindStorage {
		e.Error("peering op failed")
	} else {
		e.Warn("peering op rejected")
	}
	return err
}

// CreateServer создаёт сервер и его подсеть. Если подсеть создать нельзя, сервер не остаётся.
func (m *Manager) CreateServer(ctx context.Context, spec ServerSpec) (*models.Server, *models.Subnet, error) {
	const op = "create_server"
	start := time.Now()
	f := logrus.Fields{"server": spec.Name}

	// сначала все проверки, до записи
	if err := spec.server().Validate(); err != nil {
		return nil, nil, finish(op, start, f, err)
	}
	if _, err := spec.subnet().Pool(); err != nil {
		return nil, nil, finish(op, start, f, err)
	}

	ctx, cancel := m.begin(ctx)
	defer cancel()

	var (
		srv *models.Server
		sn  *models.Subnet
	)
	err := m.store.Tx(ctx, func(tx *repo.PeerStore) error {
		var err error
		if srv, err = tx.CreateServer(ctx, spec.server()); err != nil {
			return err
		}
		// ошибка здесь откатывает и только что созданный сервер
		sn, err = tx.CreateSubnet(ctx, spec.subnet())
		return err
	})
	if err != nil {
		return nil, nil, finish(op, start, f, apperr.Wrap(apperr.KindStorage, op, err))
	}
	f["tunnel_address"] = ipam.String(sn.TunnelAddress)
	return srv, sn, finish(op, start, f, nil)
}

// CreateClient создаёт (или пересоздаёт) связку клиента с сервером и выдаёт ей адрес.
// Прежняя связка с той же парой имён удаляется, адрес выбирается заново.
func (m *Manager) CreateClient(ctx context.Context, name, serverName, key string) (*Peering, error) {
	const op = "create_client"
	start := time.Now()
	f := logrus.Fields{"client": name, "server": serverName}

	if !validate.Name(name) {
		return nil, finish(op, start, f, apperr.New(apperr.KindInvalidInput, op, "bad client name %q", name))
	}
	if !validate.Key(key) {
		return nil, finish(op, start, f, apperr.New(apperr.KindInvalidInput, op, "bad public key"))
	}

	ctx, cancel := m.begin(ctx)
	defer cancel()

	var p Peering
	err := m.store.Tx(ctx, func(tx *repo.PeerStore) error {
		ok, err := tx.ServerExists(ctx, serverName)
		if err != nil {
			return err
		}
		if !ok {
			return apperr.New(apperr.KindNotFound, op, "server %q not found", serverName)
		}
		if _, err := tx.DeletePeering(ctx, name, serverName); err != nil {
			return err
		}
		// блокировка подсети до конца транзакции: один адрес не уйдёт двум клиентам
		sn, err := tx.LockSubnet(ctx, serverName)
		if err != nil {
			return err
		}
		c, err := tx.CreateClientRow(ctx, name, serverName, key)
		if err != nil {
			return err
		}
		leased, err := tx.LeasedAddresses(ctx, sn.ID)
		if err != nil {
			return err
		}
		leased.Add(sn.TunnelAddress)
		pool, err := repo.PoolOf(sn)
		if err != nil {
			return apperr.Wrap(apperr.KindStorage, op, err)
		}
		addr, err := pool.Next(leased)
		if errors.Is(err, ipam.ErrExhausted) {
			metrics.PoolExhausted.Inc()
			// откат транзакции убирает и строку клиента
			return apperr.Wrap(apperr.KindPoolExhausted, op, err)
		}
		if err != nil {
			return apperr.Wrap(apperr.KindStorage, op, err)
		}
		l, err := tx.CreateLease(ctx, sn, c, addr)
		if err != nil {
			return err
		}
		p = Peering{Client: c, Lease: l}
		return nil
	})
	if err != nil {
		return nil, finish(op, start, f, apperr.Wrap(apperr.KindStorage, op, err))
	}
	metrics.LeasesAllocated.Inc()
	f["address"] = ipam.String(p.Lease.Address)
	return &p, finish(op, start, f, nil)
}

// DeleteClient удаляет клиента со всех серверов. Повторный вызов не ошибка.
func (m *Manager) DeleteClient(ctx context.Context, name string) (int64, error) {
	const op = "delete_client"
	start := time.Now()
	ctx, cancel := m.begin(ctx)
	defer cancel()
	n, err := m.store.DeleteClientByName(ctx, name)
	return n, finish(op, start, logrus.Fields{"client": name, "removed": n}, err)
}

// DeletePeering удаляет одну связку клиента с сервером.
func (m *Manager) DeletePeering(ctx context.Context, name, serverName string) (bool, error) {
	const op = "delete_peering"
	start := time.Now()
	ctx, cancel := m.begin(ctx)
	defer cancel()
	ok, err := m.store.DeletePeering(ctx, name, serverName)
	return ok, finish(op, start, logrus.Fields{"client": name, "server": serverName, "existed": ok}, err)
}

// DeleteServer удаляет сервер, подсеть, всех клиентов и аренды.
func (m *Manager) DeleteServer(ctx context.Context, name string) (bool, error) {
	const op = "delete_server"
	start := time.Now()
	ctx, cancel := m.begin(ctx)
	defer cancel()
	ok, err := m.store.DeleteServer(ctx, name)
	return ok, finish(op, start, logrus.Fields{"server": name, "existed": ok}, err)
}
