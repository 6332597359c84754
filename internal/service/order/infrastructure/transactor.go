// internal/service/order/infrastructure/transactor.go
package infrastructure

import (
	"context"

	"gorm.io/gorm"

	"mall/internal/pkg/database"
	"mall/internal/service/order/domain/port"
)

// GormTransactor 把数据库事务绑定进 ctx，
// 事务内所有走 database.FromContext 的仓储操作共享同一事务。
type GormTransactor struct {
	db *gorm.DB
}

func NewGormTransactor(db *gorm.DB) *GormTransactor {
	return &GormTransactor{db: db}
}

var _ port.Transactor = (*GormTransactor)(nil)

func (t *GormTransactor) Transaction(ctx context.Context, fn func(ctx context.Context) error) error {
	return database.Transaction(ctx, t.db, fn)
}
