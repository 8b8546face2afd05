// Package dbtest: in-memory sqlite со схемой для тестов.
package dbtest

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"
	"gorm.io/gorm"

	"wgpeers/internal/db"
)

func New(t testing.TB) *gorm.DB {
	t.Helper()
	d, err := db.OpenSQLite("file::memory:", false)
	require.NoError(t, err)
	require.NoError(t, db.Migrate(context.Background(), d))
	t.Cleanup(func() {
		if sqlDB, err := d.DB(); err == nil {
			_ = sqlDB.Close()
		}
	})
	return d
}
