// internal/service/inventory/infrastructure/gorm_store.go
package infrastructure

import (
	"context"

	"github.com/pkg/errors"
	"gorm.io/gorm"

	"mall/internal/pkg/database"
	"mall/internal/service/inventory/domain"
)

// ProductModel 对应数据库中的 products 表（库存相关列）。
type ProductModel struct {
	ID         int64   `gorm:"primaryKey"`
	Title      string  `gorm:"size:200"`
	Price      float64 `gorm:"type:decimal(10,2)"`
	Stock      int64   `gorm:"not null;default:0"`
	SalesCount int64   `gorm:"not null;default:0"`
	IsDeleted  bool    `gorm:"not null;default:false"`
}

// TableName 指定 GORM 应该使用的表名
func (ProductModel) TableName() string {
	return "products"
}

// GormStockStore 是 port.StockStore 的 GORM 实现。
// 所有写操作通过 database.FromContext 取事务句柄，
// 从而能加入上层（订单编排）开启的事务。
type GormStockStore struct {
	db *gorm.DB
}

func NewGormStockStore(db *gorm.DB) *GormStockStore {
	return &GormStockStore{db: db}
}

func (s *GormStockStore) GetStock(ctx context.Context, productID int64) (int64, error) {
	var model ProductModel
	err := database.FromContext(ctx, s.db).WithContext(ctx).
		Select("id", "stock").
		Where("id = ? AND is_deleted = ?", productID, false).
		First(&model).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return 0, domain.ErrProductNotFound
	}
	if err != nil {
		return 0, errors.Wrapf(err, "failed to read stock for product %d", productID)
	}
	return model.Stock, nil
}

// ConfirmStock 条件更新是权威库存的最终仲裁：
// WHERE stock >= quantity 在写入时原子地再次校验充足性，
// 挡住缓存层锁看不见的持久层竞争。
func (s *GormStockStore) ConfirmStock(ctx context.Context, productID int64, quantity int) (bool, error) {
	result := database.FromContext(ctx, s.db).WithContext(ctx).
		Model(&ProductModel{}).
		Where("id = ? AND stock >= ? AND is_deleted = ?", productID, quantity, false).
		Updates(map[string]interface{}{
			"stock":       gorm.Expr("stock - ?", quantity),
			"sales_count": gorm.Expr("sales_count + ?", quantity),
		})
	if result.Error != nil {
		return false, errors.Wrapf(result.Error, "failed to confirm stock for product %d", productID)
	}
	return result.RowsAffected > 0, nil
}

func (s *GormStockStore) ReleaseStock(ctx context.Context, productID int64, quantity int) error {
	result := database.FromContext(ctx, s.db).WithContext(ctx).
		Model(&ProductModel{}).
		Where("id = ?", productID).
		Updates(map[string]interface{}{
			"stock":       gorm.Expr("stock + ?", quantity),
			"sales_count": gorm.Expr("sales_count - ?", quantity),
		})
	if result.Error != nil {
		return errors.Wrapf(result.Error, "failed to release stock for product %d", productID)
	}
	if result.RowsAffected == 0 {
		return domain.ErrProductNotFound
	}
	return nil
}

func (s *GormStockStore) ListStocks(ctx context.Context, productIDs ...int64) (map[int64]int64, error) {
	query := database.FromContext(ctx, s.db).WithContext(ctx).
		Model(&ProductModel{}).
		Select("id", "stock").
		Where("is_deleted = ?", false)
	if len(productIDs) > 0 {
		query = query.Where("id IN ?", productIDs)
	}

	var models []ProductModel
	if err := query.Find(&models).Error; err != nil {
		return nil, errors.Wrap(err, "failed to list product stocks")
	}

	stocks := make(map[int64]int64, len(models))
	for _, m := range models {
		stocks[m.ID] = m.Stock
	}
	return stocks, nil
}
