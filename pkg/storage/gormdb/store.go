// Package gormdb 提供基于 GORM 的实例存储，支持 sqlite 和 mysql。
//
// 所有服务共用一张固定结构的 endpoints 表，(service, address, port) 上有唯一索引，
// 服务名只作为参数绑定的数据出现在语句中。
package gormdb

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"
	"gorm.io/driver/mysql"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/hewenyu/service-registry/pkg/config"
	"github.com/hewenyu/service-registry/pkg/model"
	"github.com/hewenyu/service-registry/pkg/storage"
)

// serviceRow 服务目录表
type serviceRow struct {
	Name      string    `gorm:"primaryKey;size:64"`
	CreatedAt time.Time `gorm:"not null"`
}

func (serviceRow) TableName() string { return "services" }

// endpointRow 实例表
type endpointRow struct {
	ID            uint      `gorm:"primaryKey"`
	Service       string    `gorm:"size:64;not null;uniqueIndex:idx_endpoint_key,priority:1;index:idx_endpoint_service"`
	Address       string    `gorm:"size:255;not null;uniqueIndex:idx_endpoint_key,priority:2"`
	Port          int       `gorm:"not null;uniqueIndex:idx_endpoint_key,priority:3"`
	LastHeartbeat time.Time `gorm:"not null"`
	Alive         bool      `gorm:"not null;index"`
	CreatedAt     time.Time
}

func (endpointRow) TableName() string { return "endpoints" }

func (r endpointRow) toModel() model.Endpoint {
	return model.Endpoint{
		Service:       r.Service,
		Address:       r.Address,
		Port:          r.Port,
		LastHeartbeat: r.LastHeartbeat,
		Alive:         r.Alive,
	}
}

// Store 实现基于 GORM 的 EndpointStore
type Store struct {
	db     *gorm.DB
	logger config.Logger
}

var _ storage.EndpointStore = (*Store)(nil)

// Open 根据存储配置打开数据库并完成建表
func Open(cfg config.StorageConfig, logger config.Logger) (*Store, error) {
	var dialector gorm.Dialector
	switch cfg.Driver {
	case "sqlite":
		dialector = sqlite.Open(sqliteDSN(cfg.Path))
	case "mysql":
		dialector = mysql.Open(cfg.DSN)
	default:
		return nil, fmt.Errorf("gormdb不支持的驱动: %s", cfg.Driver)
	}

	db, err := gorm.Open(dialector, &gorm.Config{
		Logger:         newGormLogger(logger),
		TranslateError: true,
	})
	if err != nil {
		return nil, storage.NewStoreUnavailableError("打开数据库失败", err)
	}

	if cfg.Driver == "sqlite" {
		// sqlite 只允许单写者，串行化连接避免 database is locked
		sqlDB, err := db.DB()
		if err != nil {
			return nil, storage.NewStoreUnavailableError("获取数据库连接失败", err)
		}
		sqlDB.SetMaxOpenConns(1)
		sqlDB.SetMaxIdleConns(1)
	}

	logger.Info("数据库已打开", zap.String("driver", cfg.Driver))
	return New(db, logger)
}

// New 使用已有的 *gorm.DB 创建存储并自动建表
func New(db *gorm.DB, logger config.Logger) (*Store, error) {
	if err := db.AutoMigrate(&serviceRow{}, &endpointRow{}); err != nil {
		return nil, storage.NewStoreUnavailableError("数据库建表失败", err)
	}
	return &Store{db: db, logger: logger}, nil
}

func sqliteDSN(path string) string {
	if path == ":memory:" || strings.Contains(path, "?") {
		return path
	}
	return path + "?_busy_timeout=5000"
}

// laterExpr 保证心跳时间单调不减
func laterExpr(now time.Time) clause.Expr {
	return gorm.Expr("CASE WHEN last_heartbeat < ? THEN ? ELSE last_heartbeat END", now, now)
}

func whereKey(db *gorm.DB, key model.Key) *gorm.DB {
	return db.Where("service = ? AND address = ? AND port = ?", key.Service, key.Address, key.Port)
}

// EnsureService 确保服务在目录中存在
func (s *Store) EnsureService(ctx context.Context, service string) error {
	row := serviceRow{Name: service, CreatedAt: time.Now().UTC()}
	err := s.db.WithContext(ctx).
		Clauses(clause.OnConflict{DoNothing: true}).
		Create(&row).Error
	if err != nil {
		return storage.NewStoreUnavailableError("写入服务目录失败", err)
	}
	return nil
}

// Insert 新增存活实例，死亡记录会被重新置为存活
func (s *Store) Insert(ctx context.Context, key model.Key, now time.Time) error {
	now = now.UTC()
	db := s.db.WithContext(ctx)

	res := whereKey(db.Model(&endpointRow{}), key).
		Where("alive = ?", false).
		Updates(map[string]any{"alive": true, "last_heartbeat": laterExpr(now)})
	if res.Error != nil {
		return storage.NewStoreUnavailableError("更新实例失败", res.Error)
	}
	if res.RowsAffected > 0 {
		return nil
	}

	row := endpointRow{
		Service:       key.Service,
		Address:       key.Address,
		Port:          key.Port,
		LastHeartbeat: now,
		Alive:         true,
		CreatedAt:     now,
	}
	if err := db.Create(&row).Error; err != nil {
		if isDuplicate(err) {
			return storage.NewAlreadyRegisteredError(key.Service)
		}
		return storage.NewStoreUnavailableError("写入实例失败", err)
	}
	return nil
}

// UpdateHeartbeat 刷新心跳时间
func (s *Store) UpdateHeartbeat(ctx context.Context, key model.Key, now time.Time) error {
	now = now.UTC()
	err := whereKey(s.db.WithContext(ctx).Model(&endpointRow{}), key).
		Update("last_heartbeat", laterExpr(now)).Error
	if err != nil {
		return storage.NewStoreUnavailableError("更新心跳失败", err)
	}
	return nil
}

// MarkDead 将实例标记为死亡
func (s *Store) MarkDead(ctx context.Context, key model.Key, now time.Time) error {
	now = now.UTC()
	err := whereKey(s.db.WithContext(ctx).Model(&endpointRow{}), key).
		Updates(map[string]any{"alive": false, "last_heartbeat": laterExpr(now)}).Error
	if err != nil {
		return storage.NewStoreUnavailableError("注销实例失败", err)
	}
	return nil
}

// QueryAlive 返回服务下所有存活实例
func (s *Store) QueryAlive(ctx context.Context, service string) ([]model.Endpoint, error) {
	return s.find(ctx, s.db.WithContext(ctx).Where("service = ? AND alive = ?", service, true))
}

// List 返回服务下的全部记录
func (s *Store) List(ctx context.Context, service string) ([]model.Endpoint, error) {
	return s.find(ctx, s.db.WithContext(ctx).Where("service = ?", service))
}

func (s *Store) find(ctx context.Context, query *gorm.DB) ([]model.Endpoint, error) {
	var rows []endpointRow
	if err := query.Order("id").Find(&rows).Error; err != nil {
		return nil, storage.NewStoreUnavailableError("查询实例失败", err)
	}

	endpoints := make([]model.Endpoint, 0, len(rows))
	for _, r := range rows {
		endpoints = append(endpoints, r.toModel())
	}
	return endpoints, nil
}

// ListServices 返回目录中所有服务名
func (s *Store) ListServices(ctx context.Context) ([]string, error) {
	var names []string
	err := s.db.WithContext(ctx).Model(&serviceRow{}).Order("name").Pluck("name", &names).Error
	if err != nil {
		return nil, storage.NewStoreUnavailableError("查询服务目录失败", err)
	}
	return names, nil
}

// MarkStale 将心跳过期的存活实例标记为死亡
func (s *Store) MarkStale(ctx context.Context, before, now time.Time) (int, error) {
	res := s.db.WithContext(ctx).Model(&endpointRow{}).
		Where("alive = ? AND last_heartbeat < ?", true, before.UTC()).
		Updates(map[string]any{"alive": false, "last_heartbeat": laterExpr(now.UTC())})
	if res.Error != nil {
		return 0, storage.NewStoreUnavailableError("清理过期实例失败", res.Error)
	}
	return int(res.RowsAffected), nil
}

// Ping 检查数据库连接
func (s *Store) Ping(ctx context.Context) error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return storage.NewStoreUnavailableError("获取数据库连接失败", err)
	}
	if err := sqlDB.PingContext(ctx); err != nil {
		return storage.NewStoreUnavailableError("数据库不可用", err)
	}
	return nil
}

// Close 关闭数据库连接
func (s *Store) Close() error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

// isDuplicate 判断是否违反唯一索引
func isDuplicate(err error) bool {
	if errors.Is(err, gorm.ErrDuplicatedKey) {
		return true
	}
	msg := err.Error()
	return strings.Contains(msg, "UNIQUE constraint failed") || strings.Contains(msg, "Duplicate entry")
}
