// internal/service/order/application/dto.go
package application

import (
	"time"

	"mall/internal/service/order/domain"
)

// CreateOrderRequest 创建订单的入参，用户身份由上游鉴权层注入。
type CreateOrderRequest struct {
	UserID          int64                  `json:"userId"`
	IsVIP           bool                   `json:"isVip"`
	Items           []OrderItemInput       `json:"items"`
	DeliveryAddress map[string]interface{} `json:"deliveryAddress"`
}

type OrderItemInput struct {
	ProductID int64 `json:"productId"`
	Quantity  int   `json:"quantity"`
}

// PaymentCallbackRequest 支付回调入参。Success=false 表示支付失败。
type PaymentCallbackRequest struct {
	OrderNumber string `json:"orderNumber"`
	Success     bool   `json:"success"`
	// TransactionID 第三方支付流水号，仅用于日志留痕
	TransactionID string `json:"transactionId"`
}

// UpdateStatusRequest 状态流转入参，paymentStatus 为空表示不变更。
type UpdateStatusRequest struct {
	OrderNumber   string `json:"orderNumber"`
	Status        string `json:"status"`
	PaymentStatus string `json:"paymentStatus"`
}

type OrderResponse struct {
	ID              int64                  `json:"id"`
	OrderNumber     string                 `json:"orderNumber"`
	UserID          int64                  `json:"userId"`
	Status          string                 `json:"status"`
	PaymentStatus   string                 `json:"paymentStatus"`
	Subtotal        float64                `json:"subtotal"`
	TaxAmount       float64                `json:"taxAmount"`
	ShippingFee     float64                `json:"shippingFee"`
	DiscountAmount  float64                `json:"discountAmount"`
	TotalAmount     float64                `json:"totalAmount"`
	DeliveryAddress map[string]interface{} `json:"deliveryAddress,omitempty"`
	Items           []OrderItemResponse    `json:"items"`
	CreatedAt       time.Time              `json:"createdAt"`
}

type OrderItemResponse struct {
	ProductID   int64   `json:"productId"`
	ProductName string  `json:"productName"`
	UnitPrice   float64 `json:"unitPrice"`
	Quantity    int     `json:"quantity"`
	TotalPrice  float64 `json:"totalPrice"`
}

type OrderListResponse struct {
	Total  int64            `json:"total"`
	Orders []*OrderResponse `json:"orders"`
}

func toOrderResponse(o *domain.Order) *OrderResponse {
	resp := &OrderResponse{
		ID:              o.ID,
		OrderNumber:     o.OrderNumber,
		UserID:          o.UserID,
		Status:          string(o.Status),
		PaymentStatus:   string(o.PaymentStatus),
		Subtotal:        o.Subtotal,
		TaxAmount:       o.TaxAmount,
		ShippingFee:     o.ShippingFee,
		DiscountAmount:  o.DiscountAmount,
		TotalAmount:     o.TotalAmount,
		DeliveryAddress: o.DeliveryAddress,
		CreatedAt:       o.CreatedAt,
	}
	for _, item := range o.Items {
		resp.Items = append(resp.Items, OrderItemResponse{
			ProductID:   item.ProductID,
			ProductName: item.ProductName,
			UnitPrice:   item.UnitPrice,
			Quantity:    item.Quantity,
			TotalPrice:  item.TotalPrice,
		})
	}
	return resp
}
