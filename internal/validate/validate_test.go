package validate

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestIP(t *testing.T) {
	assert.True(t, IP("192.168.2.55"))
	assert.True(t, IP("0.0.0.0"))
	assert.False(t, IP("192.168.2"))
	assert.False(t, IP("256.1.1.1"))
	assert.False(t, IP("::1"))
	assert.False(t, IP(""))
}

func TestMask(t *testing.T) {
	assert.False(t, Mask(0))
	assert.False(t, Mask(33))
	assert.True(t, Mask(1))
	assert.True(t, Mask(24))
	assert.True(t, Mask(32))
}

func TestPort(t *testing.T) {
	assert.False(t, Port(0))
	assert.False(t, Port(1))
	assert.True(t, Port(2))
	assert.True(t, Port(51820))
	assert.True(t, Port(65535))
	assert.False(t, Port(512800))
}

func TestKey(t *testing.T) {
	tests := []struct {
		key  string
		want bool
	}{
		{"short", false},
		{strings.Repeat("A", 43) + "=", true},
		{"gjXnuVSwfiqiZkf/rcEV8KczlTF4BseS4zY6dnKjCXc=", true},
		{"xXnuVSwfiqiZkf/rcEV8KczlTF4BseS4zY6dnKjCXc=", false},
		{strings.Repeat("A", 44), false},
		{strings.Repeat("A", 43) + "=garbage", false},
		{strings.Repeat("-", 43) + "=", false},
		// формат проверяется, каноничность base64 нет: ключ хранится как есть
		{strings.Repeat("B", 43) + "=", true},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, Key(tt.key), tt.key)
	}
}

func TestName(t *testing.T) {
	assert.True(t, Name("wireguard01"))
	assert.False(t, Name(""))
	assert.False(t, Name(strings.Repeat("n", 21)))
}
