// internal/service/order/infrastructure/product_reader.go
package infrastructure

import (
	"context"

	"github.com/pkg/errors"
	"gorm.io/gorm"

	"mall/internal/pkg/database"
	"mall/internal/service/order/domain"
)

// productRow 是下单时对商品主数据的只读投影。
type productRow struct {
	ID         int64   `gorm:"primaryKey"`
	Title      string  `gorm:"column:title"`
	Price      float64 `gorm:"column:price"`
	Attributes string  `gorm:"column:attributes"`
	IsDeleted  bool    `gorm:"column:is_deleted"`
}

func (productRow) TableName() string {
	return "products"
}

// GormProductReader 从商品表读取下单所需的快照字段。
type GormProductReader struct {
	db *gorm.DB
}

func NewGormProductReader(db *gorm.DB) *GormProductReader {
	return &GormProductReader{db: db}
}

var _ domain.ProductReader = (*GormProductReader)(nil)

func (r *GormProductReader) GetProducts(ctx context.Context, ids []int64) (map[int64]*domain.ProductInfo, error) {
	if len(ids) == 0 {
		return map[int64]*domain.ProductInfo{}, nil
	}

	db := database.FromContext(ctx, r.db)
	var rows []productRow
	if err := db.WithContext(ctx).Where("id IN ?", ids).Find(&rows).Error; err != nil {
		return nil, errors.Wrap(err, "query products")
	}

	result := make(map[int64]*domain.ProductInfo, len(rows))
	for _, row := range rows {
		result[row.ID] = &domain.ProductInfo{
			ID:         row.ID,
			Title:      row.Title,
			Price:      row.Price,
			Attributes: row.Attributes,
			IsDeleted:  row.IsDeleted,
		}
	}
	return result, nil
}
