package storage

import (
	"fmt"

	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
)

// MemoryPath 以記憶體模式開啟 sqlite
const MemoryPath = ":memory:"

// NewSQLiteDB 建立 SQLite 連線, 用於本機開發與測試
func NewSQLiteDB(path, logLevel string) (*DB, error) {
	db, err := gorm.Open(sqlite.Open(path), gormConfig(logLevel))
	if err != nil {
		return nil, fmt.Errorf("failed to open sqlite database: %w", err)
	}

	sqlDB, err := db.DB()
	if err != nil {
		return nil, err
	}
	// sqlite 只允許單一寫入者; 記憶體資料庫每條連線各自獨立, 必須共用同一條
	sqlDB.SetMaxOpenConns(1)

	return &DB{DB: db}, nil
}
