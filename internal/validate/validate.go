// Package validate: проверки формы входных данных. Ничего не паникует, только bool.
package validate

import (
	"net/netip"
	"regexp"
)

// 43 символа base64 + '=' и ничего после (строже, чем исходный префиксный шаблон).
var keyRe = regexp.MustCompile(`^[A-Za-z0-9+/]{43}=$`)

// IP: строка является IPv4 в точечной записи.
func IP(s string) bool {
	a, err := netip.ParseAddr(s)
	return err == nil && a.Is4()
}

// Mask: длина префикса 1..32.
func Mask(n int) bool { return n >= 1 && n <= 32 }

// Port: 2..65535; 0 и 1 отвергаются.
func Port(n int) bool { return n >= 2 && n <= 65535 }

// Key: публичный ключ WireGuard в base64 (44 символа, последний '=').
func Key(s string) bool { return keyRe.MatchString(s) }

// Name: имя сервера/клиента: непустое, не длиннее 20 символов.
func Name(s string) bool { return len(s) > 0 && len(s) <= 20 }
