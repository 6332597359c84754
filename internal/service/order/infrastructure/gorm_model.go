// internal/service/order/infrastructure/gorm_model.go
package infrastructure

import "time"

// OrderModel 对应 orders 表。
type OrderModel struct {
	ID          int64  `gorm:"primaryKey;autoIncrement"`
	OrderNumber string `gorm:"column:order_number;size:32;uniqueIndex;not null"`
	UserID      int64  `gorm:"column:user_id;index;not null"`

	Status        string `gorm:"column:status;size:20;index;not null"`
	PaymentStatus string `gorm:"column:payment_status;size:20;not null"`

	Subtotal       float64 `gorm:"column:subtotal;type:decimal(10,2);not null"`
	TaxAmount      float64 `gorm:"column:tax_amount;type:decimal(10,2);not null"`
	ShippingFee    float64 `gorm:"column:shipping_fee;type:decimal(10,2);not null"`
	DiscountAmount float64 `gorm:"column:discount_amount;type:decimal(10,2);not null"`
	TotalAmount    float64 `gorm:"column:total_amount;type:decimal(10,2);not null"`

	// JSON 文本，编解码在 mapper 中完成
	DeliveryAddress string `gorm:"column:delivery_address;type:json"`

	Items []OrderItemModel `gorm:"foreignKey:OrderID;constraint:OnDelete:CASCADE"`

	CreatedAt time.Time `gorm:"column:created_at;index"`
	UpdatedAt time.Time `gorm:"column:updated_at"`
}

func (OrderModel) TableName() string {
	return "orders"
}

// OrderItemModel 对应 order_items 表，随订单级联删除。
type OrderItemModel struct {
	ID      int64 `gorm:"primaryKey;autoIncrement"`
	OrderID int64 `gorm:"column:order_id;index;not null"`

	ProductID   int64   `gorm:"column:product_id;not null"`
	ProductName string  `gorm:"column:product_name;size:255;not null"`
	UnitPrice   float64 `gorm:"column:unit_price;type:decimal(10,2);not null"`
	Quantity    int     `gorm:"column:quantity;not null"`
	TotalPrice  float64 `gorm:"column:total_price;type:decimal(10,2);not null"`

	ProductAttributes string `gorm:"column:product_attributes;type:json"`
}

func (OrderItemModel) TableName() string {
	return "order_items"
}
