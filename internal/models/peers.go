package models

import "time"

// Server: конечная точка VPN. Имя задаёт вызывающий, оно же первичный ключ.
type Server struct {
	Name            string    `gorm:"primaryKey;size:20" json:"server_name"`
	PublicKey       string    `gorm:"uniqueIndex;size:44;not null" json:"public_key"`
	EndpointAddress string    `gorm:"size:15;not null" json:"endpoint_address"`
	EndpointPort    int       `gorm:"not null" json:"endpoint_port"`
	CreatedAt       time.Time `json:"created_at"`

	Subnet  *Subnet  `gorm:"foreignKey:ServerName;references:Name;constraint:OnDelete:CASCADE" json:"-"`
	Clients []Client `gorm:"foreignKey:ServerName;references:Name;constraint:OnDelete:CASCADE" json:"-"`
}

// Subnet: пул адресов сервера (1:1). Адреса хранятся как uint32.
type Subnet struct {
	ID            uint   `gorm:"primaryKey" json:"subnet_id"`
	ServerName    string `gorm:"uniqueIndex;size:20;not null" json:"server_name"`
	Network       uint32 `gorm:"uniqueIndex;not null" json:"-"`
	Mask          int    `gorm:"not null" json:"network_mask"`
	Reserved      int    `gorm:"not null" json:"n_reserved_ips"`
	AllowedIPs    string `json:"allowed_ips"`
	TunnelAddress uint32 `gorm:"not null" json:"-"`

	Leases []Lease `gorm:"foreignKey:SubnetID;constraint:OnDelete:CASCADE" json:"-"`
}

// Client: одна связка (client_name, server_name). Одно имя может быть у нескольких серверов.
type Client struct {
	ID         uint      `gorm:"primaryKey" json:"client_id"`
	Name       string    `gorm:"size:20;not null;uniqueIndex:idx_client_peering,priority:1" json:"client_name"`
	ServerName string    `gorm:"size:20;not null;uniqueIndex:idx_client_peering,priority:2" json:"server_name"`
	PublicKey  string    `gorm:"uniqueIndex;size:44;not null" json:"public_key"`
	CreatedAt  time.Time `json:"created_at"`

	Lease *Lease `gorm:"foreignKey:ClientID;constraint:OnDelete:CASCADE" json:"-"`
}

// Lease: адрес клиента внутри подсети его сервера.
type Lease struct {
	ID       uint   `gorm:"primaryKey" json:"lease_id"`
	SubnetID uint   `gorm:"not null;uniqueIndex:idx_lease_address,priority:1" json:"subnet_id"`
	ClientID uint   `gorm:"not null;uniqueIndex" json:"client_id"`
	Address  uint32 `gorm:"not null;uniqueIndex:idx_lease_address,priority:2" json:"-"`
}

// All: модели в порядке миграции.
func All() []any {
	return []any{&Server{}, &Subnet{}, &Client{}, &Lease{}}
}
