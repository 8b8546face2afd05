package repo

import (
	"context"
	"errors"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"wgpeers/internal/apperr"
	"wgpeers/internal/ipam"
	"wgpeers/internal/models"
	"wgpeers/internal/validate"
)

// PeerStore: записи servers/subnets/clients/leases. Все изменения транзакционны.
type PeerStore struct{ db *gorm.DB }

func NewPeerStore(db *gorm.DB) *PeerStore { return &PeerStore{db: db} }

// Tx выполняет fn в одной транзакции. Вызовы методов tx внутри fn к ней присоединяются;
// ошибка из fn откатывает всё.
func (s *PeerStore) Tx(ctx context.Context, fn func(tx *PeerStore) error) error {
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		return fn(&PeerStore{db: tx})
	})
}

func classify(op string, err error) error {
	switch {
	case err == nil:
		return nil
	case errors.Is(err, gorm.ErrRecordNotFound):
		return apperr.Wrap(apperr.KindNotFound, op, err)
	case errors.Is(err, gorm.ErrDuplicatedKey):
		return apperr.Wrap(apperr.KindConflict, op, err)
	case errors.Is(err, gorm.ErrForeignKeyViolated):
		return apperr.Wrap(apperr.KindNotFound, op, err)
	default:
		return apperr.Wrap(apperr.KindStorage, op, err)
	}
}

func (s *PeerStore) count(ctx context.Context, model any, query string, args ...any) (int64, error) {
	var n int64
	err := s.db.WithContext(ctx).Model(model).Where(query, args...).Count(&n).Error
	return n, err
}

// -------- servers --------

type ServerInput struct {
	Name            string
	PublicKey       string
	EndpointAddress string
	EndpointPort    int
}

func (in ServerInput) Validate() error {
	const op = "validate server"
	switch {
	case !validate.Name(in.Name):
		return apperr.New(apperr.KindInvalidInput, op, "bad server name %q", in.Name)
	case !validate.Key(in.PublicKey):
		return apperr.New(apperr.KindInvalidInput, op, "bad public key")
	case !validate.IP(in.EndpointAddress):
		return apperr.New(apperr.KindInvalidInput, op, "bad endpoint address %q", in.EndpointAddress)
	case !validate.Port(in.EndpointPort):
		return apperr.New(apperr.KindInvalidInput, op, "bad endpoint port %d", in.EndpointPort)
	}
	return nil
}

func (s *PeerStore) CreateServer(ctx context.Context, in ServerInput) (*models.Server, error) {
	const op = "create server"
	if err := in.Validate(); err != nil {
		return nil, err
	}
	srv := &models.Server{
		Name:            in.Name,
		PublicKey:       in.PublicKey,
		EndpointAddress: in.EndpointAddress,
		EndpointPort:    in.EndpointPort,
	}
	err := s.Tx(ctx, func(tx *PeerStore) error {
		n, err := tx.count(ctx, &models.Server{}, "name = ?", in.Name)
		if err != nil {
			return err
		}
		if n > 0 {
			return apperr.New(apperr.KindConflict, op, "server %q already exists", in.Name)
		}
		n, err = tx.count(ctx, &models.Server{}, "public_key = ?", in.PublicKey)
		if err != nil {
			return err
		}
		if n > 0 {
			return apperr.New(apperr.KindConflict, op, "public key already used by another server")
		}
		return tx.db.WithContext(ctx).Create(srv).Error
	})
	if err != nil {
		return nil, classify(op, err)
	}
	return srv, nil
}

// DeleteServer удаляет сервер вместе с подсетью, клиентами и их арендами.
// Отсутствующий сервер не ошибка, просто deleted=false.
func (s *PeerStore) DeleteServer(ctx context.Context, name string) (deleted bool, err error) {
	const op = "delete server"
	err = s.Tx(ctx, func(tx *PeerStore) error {
		n, err := tx.count(ctx, &models.Server{}, "name = ?", name)
		if err != nil || n == 0 {
			return err
		}
		db := tx.db.WithContext(ctx)

		// каскад явно, не полагаясь на FK
		var clientIDs, subnetIDs []uint
		if err := db.Model(&models.Client{}).Where("server_name = ?", name).Pluck("id", &clientIDs).Error; err != nil {
			return err
		}
		if err := db.Model(&models.Subnet{}).Where("server_name = ?", name).Pluck("id", &subnetIDs).Error; err != nil {
			return err
		}
		if len(clientIDs) > 0 {
			if err := db.Where("client_id IN ?", clientIDs).Delete(&models.Lease{}).Error; err != nil {
				return err
			}
		}
		if len(subnetIDs) > 0 {
			if err := db.Where("subnet_id IN ?", subnetIDs).Delete(&models.Lease{}).Error; err != nil {
				return err
			}
		}
		if err := db.Where("server_name = ?", name).Delete(&models.Client{}).Error; err != nil {
			return err
		}
		if err := db.Where("server_name = ?", name).Delete(&models.Subnet{}).Error; err != nil {
			return err
		}
		if err := db.Where("name = ?", name).Delete(&models.Server{}).Error; err != nil {
			return err
		}
		deleted = true
		return nil
	})
	if err != nil {
		return false, classify(op, err)
	}
	return deleted, nil
}

func (s *PeerStore) ServerExists(ctx context.Context, name string) (bool, error) {
	n, err := s.count(ctx, &models.Server{}, "name = ?", name)
	if err != nil {
		return false, classify("server exists", err)
	}
	return n > 0, nil
}

func (s *PeerStore) GetServer(ctx context.Context, name string) (*models.Server, error) {
	var srv models.Server
	if err := s.db.WithContext(ctx).Where("name = ?", name).First(&srv).Error; err != nil {
		return nil, classify("get server", err)
	}
	return &srv, nil
}

// -------- subnets --------

type SubnetInput struct {
	ServerName string
	Network    string
	Mask       int
	Reserved   int
	AllowedIPs string
}

// Pool проверяет поля подсети и строит пул адресов.
func (in SubnetInput) Pool() (ipam.Pool, error) {
	const op = "validate subnet"
	if !validate.IP(in.Network) {
		return ipam.Pool{}, apperr.New(apperr.KindInvalidInput, op, "bad network address %q", in.Network)
	}
	if !validate.Mask(in.Mask) {
		return ipam.Pool{}, apperr.New(apperr.KindInvalidInput, op, "bad network mask %d", in.Mask)
	}
	p, err := ipam.NewPool(in.Network, in.Mask, in.Reserved)
	if err != nil {
		return ipam.Pool{}, apperr.Wrap(apperr.KindInvalidInput, op, err)
	}
	if _, err := p.TunnelAddress(); err != nil {
		return ipam.Pool{}, apperr.Wrap(apperr.KindInvalidInput, op, err)
	}
	return p, nil
}

// CreateSubnet создаёт пул сервера и вычисляет собственный туннельный адрес сервера.
func (s *PeerStore) CreateSubnet(ctx context.Context, in SubnetInput) (*models.Subnet, error) {
	const op = "create subnet"
	p, err := in.Pool()
	if err != nil {
		return nil, err
	}
	tunnel, _ := p.TunnelAddress()
	sn := &models.Subnet{
		ServerName:    in.ServerName,
		Network:       p.Base(),
		Mask:          in.Mask,
		Reserved:      in.Reserved,
		AllowedIPs:    in.AllowedIPs,
		TunnelAddress: tunnel,
	}
	err = s.Tx(ctx, func(tx *PeerStore) error {
		n, err := tx.count(ctx, &models.Server{}, "name = ?", in.ServerName)
		if err != nil {
			return err
		}
		if n == 0 {
			return apperr.New(apperr.KindNotFound, op, "server %q not found", in.ServerName)
		}
		if n, err = tx.count(ctx, &models.Subnet{}, "server_name = ?", in.ServerName); err != nil {
			return err
		} else if n > 0 {
			return apperr.New(apperr.KindConflict, op, "server %q already has a subnet", in.ServerName)
		}
		if n, err = tx.count(ctx, &models.Subnet{}, "network = ?", sn.Network); err != nil {
			return err
		} else if n > 0 {
			return apperr.New(apperr.KindConflict, op, "network %s already exists", p)
		}
		return tx.db.WithContext(ctx).Create(sn).Error
	})
	if err != nil {
		return nil, classify(op, err)
	}
	return sn, nil
}

// SubnetOf: подсеть сервера.
func (s *PeerStore) SubnetOf(ctx context.Context, serverName string) (*models.Subnet, error) {
	var sn models.Subnet
	if err := s.db.WithContext(ctx).Where("server_name = ?", serverName).First(&sn).Error; err != nil {
		return nil, classify("subnet of", err)
	}
	return &sn, nil
}

// LockSubnet читает подсеть сервера с SELECT ... FOR UPDATE: выделение адресов
// в одной подсети идёт строго по очереди. Вызывать внутри Tx.
func (s *PeerStore) LockSubnet(ctx context.Context, serverName string) (*models.Subnet, error) {
	var sn models.Subnet
	err := s.db.WithContext(ctx).
		Clauses(clause.Locking{Strength: "UPDATE"}).
		Where("server_name = ?", serverName).
		First(&sn).Error
	if err != nil {
		return nil, classify("lock subnet", err)
	}
	return &sn, nil
}

// PoolOf восстанавливает пул адресов из записи подсети.
func PoolOf(sn *models.Subnet) (ipam.Pool, error) {
	return ipam.NewPool(ipam.String(sn.Network), sn.Mask, sn.Reserved)
}

// -------- clients --------

func (s *PeerStore) CreateClientRow(ctx context.Context, name, serverName, key string) (*models.Client, error) {
	const op = "create client"
	if !validate.Name(name) {
		return nil, apperr.New(apperr.KindInvalidInput, op, "bad client name %q", name)
	}
	if !validate.Key(key) {
		return nil, apperr.New(apperr.KindInvalidInput, op, "bad public key")
	}
	c := &models.Client{Name: name, ServerName: serverName, PublicKey: key}
	err := s.Tx(ctx, func(tx *PeerStore) error {
		n, err := tx.count(ctx, &models.Server{}, "name = ?", serverName)
		if err != nil {
			return err
		}
		if n == 0 {
			return apperr.New(apperr.KindNotFound, op, "server %q not found", serverName)
		}
		if n, err = tx.count(ctx, &models.Client{}, "public_key = ?", key); err != nil {
			return err
		} else if n > 0 {
			return apperr.New(apperr.KindConflict, op, "public key already used by another client")
		}
		if n, err = tx.count(ctx, &models.Client{}, "name = ? AND server_name = ?", name, serverName); err != nil {
			return err
		} else if n > 0 {
			return apperr.New(apperr.KindConflict, op, "client %q already peers with %q", name, serverName)
		}
		return tx.db.WithContext(ctx).Create(c).Error
	})
	if err != nil {
		return nil, classify(op, err)
	}
	return c, nil
}

// DeleteClientByName удаляет все связки клиента со всеми серверами и их аренды.
func (s *PeerStore) DeleteClientByName(ctx context.Context, name string) (removed int64, err error) {
	const op = "delete client"
	err = s.Tx(ctx, func(tx *PeerStore) error {
		db := tx.db.WithContext(ctx)
		var ids []uint
		if err := db.Model(&models.Client{}).Where("name = ?", name).Pluck("id", &ids).Error; err != nil {
			return err
		}
		if len(ids) == 0 {
			return nil
		}
		if err := db.Where("client_id IN ?", ids).Delete(&models.Lease{}).Error; err != nil {
			return err
		}
		res := db.Where("id IN ?", ids).Delete(&models.Client{})
		removed = res.RowsAffected
		return res.Error
	})
	if err != nil {
		return 0, classify(op, err)
	}
	return removed, nil
}

// DeletePeering удаляет одну связку (client_name, server_name) и её аренду.
func (s *PeerStore) DeletePeering(ctx context.Context, name, serverName string) (deleted bool, err error) {
	const op = "delete peering"
	err = s.Tx(ctx, func(tx *PeerStore) error {
		db := tx.db.WithContext(ctx)
		var ids []uint
		if err := db.Model(&models.Client{}).
			Where("name = ? AND server_name = ?", name, serverName).
			Pluck("id", &ids).Error; err != nil {
			return err
		}
		if len(ids) == 0 {
			return nil
		}
		if err := db.Where("client_id IN ?", ids).Delete(&models.Lease{}).Error; err != nil {
			return err
		}
		if err := db.Where("id IN ?", ids).Delete(&models.Client{}).Error; err != nil {
			return err
		}
		deleted = true
		return nil
	})
	if err != nil {
		return false, classify(op, err)
	}
	return deleted, nil
}

func (s *PeerStore) ClientExists(ctx context.Context, name, serverName string) (bool, error) {
	n, err := s.count(ctx, &models.Client{}, "name = ? AND server_name = ?", name, serverName)
	if err != nil {
		return false, classify("client exists", err)
	}
	return n > 0, nil
}

func (s *PeerStore) GetClient(ctx context.Context, name, serverName string) (*models.Client, error) {
	var c models.Client
	err := s.db.WithContext(ctx).Where("name = ? AND server_name = ?", name, serverName).First(&c).Error
	if err != nil {
		return nil, classify("get client", err)
	}
	return &c, nil
}

func (s *PeerStore) ClientIDOf(ctx context.Context, name, serverName string) (uint, error) {
	c, err := s.GetClient(ctx, name, serverName)
	if err != nil {
		return 0, err
	}
	return c.ID, nil
}

// -------- leases --------

// LeasedAddresses: занятые адреса подсети.
func (s *PeerStore) LeasedAddresses(ctx context.Context, subnetID uint) (ipam.Set, error) {
	var addrs []uint32
	err := s.db.WithContext(ctx).Model(&models.Lease{}).Where("subnet_id = ?", subnetID).Pluck("address", &addrs).Error
	if err != nil {
		return nil, classify("leased addresses", err)
	}
	return ipam.NewSet(addrs...), nil
}

// CreateLease закрепляет адрес за клиентом. Проверяет, что подсеть принадлежит серверу клиента
// и адрес лежит в допустимой части пула.
func (s *PeerStore) CreateLease(ctx context.Context, sn *models.Subnet, c *models.Client, addr uint32) (*models.Lease, error) {
	const op = "create lease"
	if sn.ServerName != c.ServerName {
		return nil, apperr.New(apperr.KindConflict, op, "client %q belongs to %q, subnet to %q", c.Name, c.ServerName, sn.ServerName)
	}
	p, err := PoolOf(sn)
	if err != nil {
		return nil, apperr.Wrap(apperr.KindStorage, op, err)
	}
	if !p.Contains(addr) || addr <= p.Base()+uint32(sn.Reserved) || addr == p.Broadcast() {
		return nil, apperr.New(apperr.KindInvalidInput, op, "%s is outside the allocatable range of %s", ipam.String(addr), p)
	}
	l := &models.Lease{SubnetID: sn.ID, ClientID: c.ID, Address: addr}
	if err := s.db.WithContext(ctx).Create(l).Error; err != nil {
		return nil, classify(op, err)
	}
	return l, nil
}

// LeaseOf: аренда клиента.
func (s *PeerStore) LeaseOf(ctx context.Context, clientID uint) (*models.Lease, error) {
	var l models.Lease
	if err := s.db.WithContext(ctx).Where("client_id = ?", clientID).First(&l).Error; err != nil {
		return nil, classify("lease of", err)
	}
	return &l, nil
}

// PeerRow: клиент подсети и его адрес.
type PeerRow struct {
	ClientID   uint
	ClientName string
	PublicKey  string
	Address    uint32
}

// PeersOf: все клиенты с арендой в подсети, по возрастанию id.
func (s *PeerStore) PeersOf(ctx context.Context, subnetID uint) ([]PeerRow, error) {
	var rows []PeerRow
	err := s.db.WithContext(ctx).
		Table("clients").
		Select("clients.id AS client_id, clients.name AS client_name, clients.public_key AS public_key, leases.address AS address").
		Joins("JOIN leases ON leases.client_id = clients.id").
		Where("leases.subnet_id = ?", subnetID).
		Order("clients.id asc").
		Scan(&rows).Error
	if err != nil {
		return nil, classify("peers of", err)
	}
	return rows, nil
}

// -------- списки --------

func (s *PeerStore) ListServers(ctx context.Context) ([]models.Server, error) {
	var out []models.Server
	if err := s.db.WithContext(ctx).Order("name asc").Find(&out).Error; err != nil {
		return nil, classify("list servers", err)
	}
	return out, nil
}

func (s *PeerStore) ListSubnets(ctx context.Context) ([]models.Subnet, error) {
	var out []models.Subnet
	if err := s.db.WithContext(ctx).Order("id asc").Find(&out).Error; err != nil {
		return nil, classify("list subnets", err)
	}
	return out, nil
}

func (s *PeerStore) ListClients(ctx context.Context) ([]models.Client, error) {
	var out []models.Client
	if err := s.db.WithContext(ctx).Order("id asc").Find(&out).Error; err != nil {
		return nil, classify("list clients", err)
	}
	return out, nil
}

func (s *PeerStore) ListLeases(ctx context.Context) ([]models.Lease, error) {
	var out []models.Lease
	if err := s.db.WithContext(ctx).Order("id asc").Find(&out).Error; err != nil {
		return nil, classify("list leases", err)
	}
	return out, nil
}
