package testutil

import (
	"fmt"
	"testing"

	"walletpay/internal/config"
	"walletpay/internal/infrastructure/database"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

// NewDB 每个测试一个独立的内存 SQLite 库，表结构与生产一致
// 单连接：SQLite 写锁是库级的，多连接并发写会直接报 database is locked
func NewDB(t testing.TB) *gorm.DB {
	t.Helper()

	db, err := database.Open(&config.DatabaseConfig{
		Driver:       "sqlite",
		DSN:          fmt.Sprintf("file:%s?mode=memory&cache=shared", uuid.NewString()),
		MaxOpenConns: 1,
		MaxIdleConns: 1,
	})
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}

	t.Cleanup(func() {
		if sqlDB, err := db.DB(); err == nil {
			_ = sqlDB.Close()
		}
	})
	return db
}
