package models

import (
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/GrainArc/FenceMap/config"
	"gorm.io/driver/postgres"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
	"gorm.io/gorm/schema"
)

// OpenDB 按配置打开数据库，不做迁移
func OpenDB(cfg config.Config) (*gorm.DB, error) {
	var dialector gorm.Dialector
	switch strings.ToLower(cfg.Driver) {
	case "postgres", "postgresql", "pg":
		dialector = postgres.Open(cfg.DSN())
	case "sqlite", "":
		dialector = sqlite.Open(cfg.DSN())
	default:
		return nil, fmt.Errorf("unsupported database driver %q", cfg.Driver)
	}

	db, err := gorm.Open(dialector, &gorm.Config{
		Logger: logger.Default.LogMode(gormLogLevel(cfg.LogLevel)),
		NamingStrategy: schema.NamingStrategy{
			SingularTable: true,
		},
	})
	if err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}
	if _, ok := dialector.(*sqlite.Dialector); ok {
		// sqlite 单写者，:memory: 库只在单连接内可见
		sqlDB, err := db.DB()
		if err != nil {
			return nil, err
		}
		sqlDB.SetMaxOpenConns(1)
	}
	return db, nil
}

// InitDB 打开数据库、迁移表结构并确保默认分组存在
func InitDB(cfg config.Config, log *slog.Logger) (*gorm.DB, error) {
	db, err := OpenDB(cfg)
	if err != nil {
		return nil, err
	}
	if err := MigrateAllTables(db); err != nil {
		return nil, fmt.Errorf("failed to migrate tables: %w", err)
	}
	if _, err := EnsureDefaultNamespace(db); err != nil {
		return nil, err
	}
	log.Info("数据库初始化成功", "driver", cfg.Driver)
	return db, nil
}

// MigrateAllTables 批量迁移所有表
func MigrateAllTables(db *gorm.DB) error {
	models := []interface{}{
		&Namespace{},
		&ShapeRecord{},
		&GeoRecord{},
		&ShapeTile{},
	}

	return db.AutoMigrate(models...)
}

// EnsureDefaultNamespace 初始化默认分组
func EnsureDefaultNamespace(db *gorm.DB) (Namespace, error) {
	var ns Namespace
	result := db.Where("is_default = ?", true).First(&ns)
	if result.Error == nil {
		return ns, nil
	}
	if !errors.Is(result.Error, gorm.ErrRecordNotFound) {
		return ns, result.Error
	}

	ns = Namespace{Name: "Default", Slug: DefaultNamespaceSlug, IsDefault: true}
	if err := db.Create(&ns).Error; err != nil {
		return ns, fmt.Errorf("failed to create default namespace: %w", err)
	}
	return ns, nil
}

func gormLogLevel(level string) logger.LogLevel {
	switch strings.ToLower(level) {
	case "debug":
		return logger.Info
	case "warn":
		return logger.Warn
	case "error":
		return logger.Error
	}
	return logger.Silent
}
