// Package storetest opens throwaway sqlite-backed stores for tests.
package storetest

import (
	"fmt"
	"testing"

	"github.com/drewmudry/instashorts-pipeline/store"
	"github.com/google/uuid"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

// New returns a migrated store on a private in-memory database.
func New(t testing.TB) *store.GormStore {
	t.Helper()
	dsn := fmt.Sprintf("file:%s?mode=memory&cache=shared", uuid.NewString())
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{Logger: logger.Default.LogMode(logger.Silent)})
	require.NoError(t, err)

	sqlDB, err := db.DB()
	require.NoError(t, err)
	sqlDB.SetMaxOpenConns(1)
	t.Cleanup(func() { sqlDB.Close() })

	s := store.New(db)
	require.NoError(t, s.Migrate())
	return s
}
