// internal/service/order/infrastructure/mapper.go
package infrastructure

import (
	"encoding/json"

	"github.com/pkg/errors"

	"mall/internal/service/order/domain"
)

func toModel(o *domain.Order) (*OrderModel, error) {
	address, err := marshalJSONMap(o.DeliveryAddress)
	if err != nil {
		return nil, errors.Wrap(err, "marshal delivery address")
	}

	m := &OrderModel{
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
		DeliveryAddress: address,
		CreatedAt:       o.CreatedAt,
		UpdatedAt:       o.UpdatedAt,
	}
	for _, item := range o.Items {
		attrs, err := marshalJSONMap(item.ProductAttributes)
		if err != nil {
			return nil, errors.Wrapf(err, "marshal attributes of product %d", item.ProductID)
		}
		m.Items = append(m.Items, OrderItemModel{
			ID:                item.ID,
			OrderID:           item.OrderID,
			ProductID:         item.ProductID,
			ProductName:       item.ProductName,
			UnitPrice:         item.UnitPrice,
			Quantity:          item.Quantity,
			TotalPrice:        item.TotalPrice,
			ProductAttributes: attrs,
		})
	}
	return m, nil
}

func toDomain(m *OrderModel) (*domain.Order, error) {
	address, err := unmarshalJSONMap(m.DeliveryAddress)
	if err != nil {
		return nil, errors.Wrapf(err, "unmarshal delivery address of order %s", m.OrderNumber)
	}

	o := &domain.Order{
		ID:              m.ID,
		OrderNumber:     m.OrderNumber,
		UserID:          m.UserID,
		Status:          domain.Status(m.Status),
		PaymentStatus:   domain.PaymentStatus(m.PaymentStatus),
		Subtotal:        m.Subtotal,
		TaxAmount:       m.TaxAmount,
		ShippingFee:     m.ShippingFee,
		DiscountAmount:  m.DiscountAmount,
		TotalAmount:     m.TotalAmount,
		DeliveryAddress: address,
		CreatedAt:       m.CreatedAt,
		UpdatedAt:       m.UpdatedAt,
	}
	for _, item := range m.Items {
		attrs, err := unmarshalJSONMap(item.ProductAttributes)
		if err != nil {
			return nil, errors.Wrapf(err, "unmarshal attributes of product %d", item.ProductID)
		}
		o.Items = append(o.Items, domain.OrderItem{
			ID:                item.ID,
			OrderID:           item.OrderID,
			ProductID:         item.ProductID,
			ProductName:       item.ProductName,
			UnitPrice:         item.UnitPrice,
			Quantity:          item.Quantity,
			TotalPrice:        item.TotalPrice,
			ProductAttributes: attrs,
		})
	}
	return o, nil
}

func marshalJSONMap(m map[string]interface{}) (string, error) {
	if len(m) == 0 {
		return "{}", nil
	}
	b, err := json.Marshal(m)
	if err != nil {
		return "", err
	}
	return string(b), nil
}

func unmarshalJSONMap(s string) (map[string]interface{}, error) {
	if s == "" {
		return nil, nil
	}
	var m map[string]interface{}
	if err := json.Unmarshal([]byte(s), &m); err != nil {
		return nil, err
	}
	return m, nil
}
