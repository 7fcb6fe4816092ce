package database

import (
	"fmt"
	"log"
	"os"
	"time"

	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"cardDesigner/internal/config"
)

const (
	pingAttempts = 5
	pingBackoff  = 2 * time.Second
)

// InitDatabase 连接 PostgreSQL。容器编排下数据库可能晚于服务就绪，Ping 失败会按固定间隔重试。
func InitDatabase(cfg config.DatabaseConfig) (*gorm.DB, error) {
	db, err := gorm.Open(postgres.Open(cfg.DSN()), &gorm.Config{
		// 只记录慢查询与错误；设计读写是单行操作，逐条 SQL 日志没有价值。
		Logger: logger.New(log.New(os.Stdout, "\r\n", log.LstdFlags), logger.Config{
			SlowThreshold:             500 * time.Millisecond,
			LogLevel:                  logger.Warn,
			IgnoreRecordNotFoundError: true,
		}),
	})
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	sqlDB, err := db.DB()
	if err != nil {
		return nil, fmt.Errorf("unwrap db: %w", err)
	}
	sqlDB.SetMaxIdleConns(5)
	sqlDB.SetMaxOpenConns(25)
	sqlDB.SetConnMaxLifetime(30 * time.Minute)

	for attempt := 1; ; attempt++ {
		err = sqlDB.Ping()
		if err == nil {
			return db, nil
		}
		if attempt == pingAttempts {
			return nil, fmt.Errorf("ping database after %d attempts: %w", attempt, err)
		}
		time.Sleep(pingBackoff)
	}
}

// Migrate 创建或更新设计、访客与打印记录三张表。
func Migrate(db *gorm.DB) error {
	if err := db.AutoMigrate(&CardDesign{}, &Visitor{}, &BadgePrint{}); err != nil {
		return fmt.Errorf("auto migrate: %w", err)
	}
	return nil
}
