// Package ipam выбирает следующий свободный адрес в пуле подсети.
//
// Адреса хранятся как uint32 (сетевой порядок байт), чтобы сортировать и
// считать диапазоны без повторного разбора строк.
package ipam

import (
	"encoding/binary"
	"errors"
	"fmt"
	"net"

	"github.com/apparentlymart/go-cidr/cidr"
)

// ErrExhausted: в пуле нет свободного адреса. Это не ошибка ввода-вывода.
var ErrExhausted = errors.New("no free address in pool")

// Set: множество занятых адресов.
type Set map[uint32]struct{}

func NewSet(addrs ...uint32) Set {
	s := make(Set, len(addrs))
	for _, a := range addrs {
		s[a] = struct{}{}
	}
	return s
}

func (s Set) Add(a uint32) { s[a] = struct{}{} }

func (s Set) Has(a uint32) bool {
	_, ok := s[a]
	return ok
}

// Pool: подсеть и число зарезервированных младших адресов.
type Pool struct {
	Network  *net.IPNet
	Reserved int
}

// NewPool собирает пул из адреса сети и маски. Адрес должен быть началом сети.
func NewPool(network string, mask, reserved int) (Pool, error) {
	ip := net.ParseIP(network).To4()
	if ip == nil {
		return Pool{}, fmt.Errorf("not an IPv4 network address: %q", network)
	}
	if mask < 1 || mask > 32 {
		return Pool{}, fmt.Errorf("bad network mask: %d", mask)
	}
	if reserved < 0 {
		return Pool{}, fmt.Errorf("negative reserved count: %d", reserved)
	}
	n := &net.IPNet{IP: ip.Mask(net.CIDRMask(mask, 32)), Mask: net.CIDRMask(mask, 32)}
	if !n.IP.Equal(ip) {
		return Pool{}, fmt.Errorf("%s is not the network address of %s", network, n)
	}
	return Pool{Network: n, Reserved: reserved}, nil
}

func (p Pool) String() string { return p.Network.String() }

// Base: адрес сети.
func (p Pool) Base() uint32 {
	first, _ := cidr.AddressRange(p.Network)
	return ToUint32(first)
}

// Broadcast: последний адрес сети.
func (p Pool) Broadcast() uint32 {
	_, last := cidr.AddressRange(p.Network)
	return ToUint32(last)
}

// hostRange: смещения первого и последнего host-адреса; ok=false, если хостов нет (/31, /32).
func (p Pool) hostRange() (lo, hi uint64, ok bool) {
	n := cidr.AddressCount(p.Network)
	if n < 4 {
		return 0, 0, false
	}
	return 1, n - 2, true
}

// TunnelAddress: собственный адрес сервера в туннеле: первый хост после зарезервированного блока.
func (p Pool) TunnelAddress() (uint32, error) {
	lo, hi, ok := p.hostRange()
	off := uint64(p.Reserved) + 1
	if !ok || off < lo || off > hi {
		return 0, fmt.Errorf("%d reserved addresses leave no tunnel address in %s", p.Reserved, p)
	}
	ip, err := cidr.Host(p.Network, int(off))
	if err != nil {
		return 0, err
	}
	return ToUint32(ip), nil
}

// Next возвращает наименьший host-адрес, который больше адреса со смещением Reserved,
// не является broadcast и не входит в leased.
func (p Pool) Next(leased Set) (uint32, error) {
	lo, hi, ok := p.hostRange()
	if !ok {
		return 0, ErrExhausted
	}
	start := uint64(p.Reserved) + 1
	if start < lo {
		start = lo
	}
	if start > hi {
		return 0, ErrExhausted
	}
	base := uint64(p.Base())
	if len(leased) == 0 {
		return uint32(base + start), nil
	}
	for off := start; off <= hi; off++ {
		a := uint32(base + off)
		if !leased.Has(a) {
			return a, nil
		}
	}
	return 0, ErrExhausted
}

// Contains: адрес лежит внутри сети.
func (p Pool) Contains(a uint32) bool { return p.Network.Contains(FromUint32(a)) }

func ToUint32(ip net.IP) uint32 {
	v4 := ip.To4()
	if v4 == nil {
		return 0
	}
	return binary.BigEndian.Uint32(v4)
}

func FromUint32(a uint32) net.IP {
	ip := make(net.IP, net.IPv4len)
	binary.BigEndian.PutUint32(ip, a)
	return ip
}

// Parse разбирает IPv4 в точечной записи.
func Parse(s string) (uint32, error) {
	ip := net.ParseIP(s).To4()
	if ip == nil {
		return 0, fmt.Errorf("not an IPv4 address: %q", s)
	}
	return ToUint32(ip), nil
}

// String: точечная запись адреса.
func String(a uint32) string { return FromUint32(a).String() }
