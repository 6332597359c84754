// internal/service/order/application/service.go
package application

import (
	"context"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"mall/internal/pkg/logger"
	invdomain "mall/internal/service/inventory/domain"
	"mall/internal/service/order/domain"
	"mall/internal/service/order/domain/port"
)

var (
	orderResults = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "mall_orders_created_total",
		Help: "Order creation attempts by result.",
	}, []string{"result"})

	compensations = promauto.NewCounter(prometheus.CounterOpts{
		Name: "mall_order_compensations_total",
		Help: "Order creation attempts that required stock compensation.",
	})
)

// OrderService 编排订单从预扣库存到落库确认的完整生命周期。
type OrderService struct {
	repo       domain.OrderRepository
	products   domain.ProductReader
	stock      port.StockReserver
	transactor port.Transactor
	notifier   port.NotificationProducer
	discounts  port.DiscountEngine
	tracer     trace.Tracer
}

func NewOrderService(
	repo domain.OrderRepository,
	products domain.ProductReader,
	stock port.StockReserver,
	transactor port.Transactor,
	notifier port.NotificationProducer,
	discounts port.DiscountEngine,
	tracer trace.Tracer,
) *OrderService {
	return &OrderService{
		repo:       repo,
		products:   products,
		stock:      stock,
		transactor: transactor,
		notifier:   notifier,
		discounts:  discounts,
		tracer:     tracer,
	}
}

// reservedItem 记录一次已成功预扣的商品，用于失败时按预扣顺序补偿。
type reservedItem struct {
	productID int64
	quantity  int
}

// CreateOrder 创建订单：
//  1. 逐项检查可售性，任一不足立即失败，此时尚无任何副作用；
//  2. 按请求顺序逐项预扣缓存库存，首个失败即按预扣顺序回滚已预扣项；
//  3. 在一个数据库事务内插入订单和订单项，再逐项做权威确认扣减；
//  4. 任一确认失败则整个事务回滚，已确认项补偿缓存、未确认项回滚预扣；
//  5. 提交事务，异步发布订单创建事件。
//
// 任何退出路径都保证：要么订单完整提交，要么库存完全归位。
func (s *OrderService) CreateOrder(ctx context.Context, req *CreateOrderRequest) (*OrderResponse, error) {
	ctx, span := s.tracer.Start(ctx, "order.CreateOrder")
	defer span.End()
	span.SetAttributes(
		attribute.Int64("user.id", req.UserID),
		attribute.Int("item.count", len(req.Items)),
	)

	if len(req.Items) == 0 {
		orderResults.WithLabelValues("invalid").Inc()
		return nil, domain.ErrEmptyOrder
	}
	seen := make(map[int64]bool, len(req.Items))
	for _, item := range req.Items {
		if item.Quantity < 1 {
			orderResults.WithLabelValues("invalid").Inc()
			return nil, domain.ErrInvalidQuantity
		}
		// 预扣记录按商品+订单号存放，同一商品出现两行会
		// 互相覆盖，回滚时只能归还最后一行的数量
		if seen[item.ProductID] {
			orderResults.WithLabelValues("invalid").Inc()
			return nil, domain.ErrDuplicateItem
		}
		seen[item.ProductID] = true
	}

	// 商品快照。缺失或已删除的商品直接拒单。
	ids := make([]int64, 0, len(req.Items))
	for _, item := range req.Items {
		ids = append(ids, item.ProductID)
	}
	products, err := s.products.GetProducts(ctx, ids)
	if err != nil {
		span.RecordError(err)
		orderResults.WithLabelValues("error").Inc()
		return nil, err
	}
	for _, item := range req.Items {
		p, ok := products[item.ProductID]
		if !ok || p.IsDeleted {
			orderResults.WithLabelValues("product_not_found").Inc()
			return nil, domain.ErrProductNotFound
		}
	}

	// 订单号在预扣之前生成，预扣记录以它为关联键
	orderNumber := domain.NewOrderNumber()
	span.SetAttributes(attribute.String("order.number", orderNumber))

	// 第一步：只读检查，无副作用
	for _, item := range req.Items {
		ok, err := s.stock.CheckAvailability(ctx, item.ProductID, item.Quantity)
		if err != nil {
			orderResults.WithLabelValues("error").Inc()
			return nil, err
		}
		if !ok {
			orderResults.WithLabelValues("insufficient").Inc()
			return nil, invdomain.ErrInsufficientStock
		}
	}

	// 第二步：顺序预扣，首个失败即回滚已预扣项
	reserved := make([]reservedItem, 0, len(req.Items))
	for _, item := range req.Items {
		if err := s.stock.Reserve(ctx, item.ProductID, item.Quantity, orderNumber); err != nil {
			span.RecordError(err)
			s.rollbackReserved(ctx, reserved, orderNumber)
			orderResults.WithLabelValues("reserve_failed").Inc()
			return nil, err
		}
		reserved = append(reserved, reservedItem{productID: item.ProductID, quantity: item.Quantity})
	}

	order, err := domain.NewOrder(orderNumber, req.UserID, req.DeliveryAddress)
	if err != nil {
		s.rollbackReserved(ctx, reserved, orderNumber)
		orderResults.WithLabelValues("invalid").Inc()
		return nil, err
	}
	for _, item := range req.Items {
		p := products[item.ProductID]
		attrs := map[string]interface{}{}
		if p.Attributes != "" {
			attrs["raw"] = p.Attributes
		}
		if err := order.AddItem(p.ID, p.Title, p.Price, item.Quantity, attrs); err != nil {
			s.rollbackReserved(ctx, reserved, orderNumber)
			orderResults.WithLabelValues("invalid").Inc()
			return nil, err
		}
	}

	discount := s.evaluateDiscount(ctx, req, order)
	if err := order.FinalizeAmounts(0, 0, discount); err != nil {
		s.rollbackReserved(ctx, reserved, orderNumber)
		orderResults.WithLabelValues("invalid").Inc()
		return nil, err
	}

	// 第三、四步：一个事务内落库并逐项权威确认。
	// confirmed 记录事务内已确认的商品：事务中止时数据库扣减
	// 自动撤销，但缓存扣减和预扣记录删除不会，需要单独补偿。
	confirmed := make([]reservedItem, 0, len(reserved))
	txErr := s.transactor.Transaction(ctx, func(txCtx context.Context) error {
		if err := s.repo.Create(txCtx, order); err != nil {
			return err
		}
		for _, item := range reserved {
			if err := s.stock.Confirm(txCtx, item.productID, item.quantity, orderNumber); err != nil {
				return err
			}
			confirmed = append(confirmed, item)
		}
		return nil
	})
	if txErr != nil {
		span.RecordError(txErr)
		span.SetStatus(codes.Error, "order transaction aborted")
		s.compensateAborted(ctx, reserved, confirmed, orderNumber)
		orderResults.WithLabelValues("confirm_failed").Inc()
		return nil, txErr
	}

	orderResults.WithLabelValues("created").Inc()
	logger.Ctx(ctx).Info().
		Str("order_number", order.OrderNumber).
		Int64("user_id", order.UserID).
		Float64("total_amount", order.TotalAmount).
		Int("item_count", len(order.Items)).
		Msg("order created")

	s.publishEvent(ctx, domain.EventOrderCreated, order)
	return toOrderResponse(order), nil
}

// rollbackReserved 按预扣顺序回滚，单项失败不阻断其余项。
func (s *OrderService) rollbackReserved(ctx context.Context, reserved []reservedItem, orderNumber string) {
	if len(reserved) == 0 {
		return
	}
	compensations.Inc()
	for _, item := range reserved {
		if _, err := s.stock.Rollback(ctx, item.productID, orderNumber); err != nil {
			logger.Ctx(ctx).Error().Err(err).
				Int64("product_id", item.productID).
				Str("order_number", orderNumber).
				Msg("failed to roll back reservation during compensation")
		}
	}
}

// compensateAborted 在事务中止后归还全部库存。
// 已确认项的预扣记录在 Confirm 时已删除，只能直接把缓存加回；
// 未确认项仍持有预扣记录，走幂等的记录回滚。
func (s *OrderService) compensateAborted(ctx context.Context, reserved, confirmed []reservedItem, orderNumber string) {
	compensations.Inc()

	confirmedSet := make(map[int64]bool, len(confirmed))
	for _, item := range confirmed {
		confirmedSet[item.productID] = true
		if err := s.stock.RestoreCachedStock(ctx, item.productID, item.quantity); err != nil {
			logger.Ctx(ctx).Error().Err(err).
				Int64("product_id", item.productID).
				Str("order_number", orderNumber).
				Msg("failed to restore cached stock for confirmed item after abort")
		}
	}
	for _, item := range reserved {
		if confirmedSet[item.productID] {
			continue
		}
		if _, err := s.stock.Rollback(ctx, item.productID, orderNumber); err != nil {
			logger.Ctx(ctx).Error().Err(err).
				Int64("product_id", item.productID).
				Str("order_number", orderNumber).
				Msg("failed to roll back reservation after abort")
		}
	}
}

// evaluateDiscount 计算折扣。规则引擎故障不阻断下单，按无折扣处理。
func (s *OrderService) evaluateDiscount(ctx context.Context, req *CreateOrderRequest, order *domain.Order) float64 {
	if s.discounts == nil {
		return 0
	}
	var subtotal float64
	var count int
	for _, item := range order.Items {
		subtotal += item.TotalPrice
		count += item.Quantity
	}
	discount, err := s.discounts.Evaluate(ctx, port.DiscountFact{
		UserID:    req.UserID,
		IsVIP:     req.IsVIP,
		Subtotal:  subtotal,
		ItemCount: count,
	})
	if err != nil {
		logger.Ctx(ctx).Warn().Err(err).Int64("user_id", req.UserID).Msg("discount evaluation failed, charging full price")
		return 0
	}
	if discount < 0 {
		return 0
	}
	return discount
}

// publishEvent 异步发布订单事件，失败只记日志。
func (s *OrderService) publishEvent(ctx context.Context, eventType string, order *domain.Order) {
	if s.notifier == nil {
		return
	}
	event := domain.NewOrderEvent(eventType, order)
	go func() {
		pubCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
		defer cancel()
		if err := s.notifier.PublishOrderEvent(pubCtx, event); err != nil {
			logger.Ctx(pubCtx).Warn().Err(err).
				Str("event_type", eventType).
				Str("order_number", order.OrderNumber).
				Msg("failed to publish order event")
		}
	}()
}

// GetOrderByNumber 按订单号查询订单详情。
func (s *OrderService) GetOrderByNumber(ctx context.Context, orderNumber string) (*OrderResponse, error) {
	ctx, span := s.tracer.Start(ctx, "order.GetOrderByNumber")
	defer span.End()
	span.SetAttributes(attribute.String("order.number", orderNumber))

	order, err := s.repo.FindByNumber(ctx, orderNumber)
	if err != nil {
		return nil, err
	}
	return toOrderResponse(order), nil
}

// ListUserOrders 分页返回某用户的订单，按创建时间倒序。
func (s *OrderService) ListUserOrders(ctx context.Context, userID int64, offset, limit int) (*OrderListResponse, error) {
	ctx, span := s.tracer.Start(ctx, "order.ListUserOrders")
	defer span.End()
	span.SetAttributes(attribute.Int64("user.id", userID))

	if limit <= 0 || limit > 100 {
		limit = 20
	}
	if offset < 0 {
		offset = 0
	}
	orders, total, err := s.repo.ListByUser(ctx, userID, offset, limit)
	if err != nil {
		return nil, err
	}
	resp := &OrderListResponse{Total: total}
	for _, o := range orders {
		resp.Orders = append(resp.Orders, toOrderResponse(o))
	}
	return resp, nil
}

// UpdateOrderStatus 应用一次通用状态流转，供支付等协作方调用。
func (s *OrderService) UpdateOrderStatus(ctx context.Context, req *UpdateStatusRequest) (*OrderResponse, error) {
	ctx, span := s.tracer.Start(ctx, "order.UpdateOrderStatus")
	defer span.End()
	span.SetAttributes(
		attribute.String("order.number", req.OrderNumber),
		attribute.String("order.status", req.Status),
	)

	order, err := s.repo.FindByNumber(ctx, req.OrderNumber)
	if err != nil {
		return nil, err
	}
	if err := order.ApplyStatus(domain.Status(req.Status), domain.PaymentStatus(req.PaymentStatus)); err != nil {
		return nil, err
	}
	if err := s.repo.Update(ctx, order); err != nil {
		return nil, err
	}

	logger.Ctx(ctx).Info().
		Str("order_number", order.OrderNumber).
		Str("status", string(order.Status)).
		Str("payment_status", string(order.PaymentStatus)).
		Msg("order status updated")
	return toOrderResponse(order), nil
}

// CancelOrder 取消订单。终态订单拒绝取消；
// 待支付且未支付成功的订单取消时归还库存。
func (s *OrderService) CancelOrder(ctx context.Context, orderNumber string, userID int64) (*OrderResponse, error) {
	ctx, span := s.tracer.Start(ctx, "order.CancelOrder")
	defer span.End()
	span.SetAttributes(attribute.String("order.number", orderNumber))

	order, err := s.repo.FindByNumber(ctx, orderNumber)
	if err != nil {
		return nil, err
	}
	if userID > 0 && order.UserID != userID {
		return nil, domain.ErrOrderNotFound
	}

	releaseStock := order.ReleasesStockOnCancel()
	if err := order.Cancel(); err != nil {
		return nil, err
	}
	// 取消落库和库存归还在同一个事务里：归还失败则取消一并
	// 回滚，订单保持待支付，后续重试或超时扫描会再次处理。
	txErr := s.transactor.Transaction(ctx, func(txCtx context.Context) error {
		if err := s.repo.Update(txCtx, order); err != nil {
			return err
		}
		if !releaseStock {
			return nil
		}
		for _, item := range order.Items {
			if err := s.stock.Release(txCtx, item.ProductID, item.Quantity, order.OrderNumber); err != nil {
				return err
			}
		}
		return nil
	})
	if txErr != nil {
		span.RecordError(txErr)
		return nil, txErr
	}

	logger.Ctx(ctx).Info().
		Str("order_number", order.OrderNumber).
		Bool("stock_released", releaseStock).
		Msg("order cancelled")
	s.publishEvent(ctx, domain.EventOrderCancelled, order)
	return toOrderResponse(order), nil
}

// HandlePaymentCallback 处理支付结果回调。
// 幂等：支付状态已是 success/refunded 时重复投递直接返回成功，不做任何变更。
func (s *OrderService) HandlePaymentCallback(ctx context.Context, req *PaymentCallbackRequest) (*OrderResponse, error) {
	ctx, span := s.tracer.Start(ctx, "order.HandlePaymentCallback")
	defer span.End()
	span.SetAttributes(
		attribute.String("order.number", req.OrderNumber),
		attribute.Bool("payment.success", req.Success),
	)

	order, err := s.repo.FindByNumber(ctx, req.OrderNumber)
	if err != nil {
		return nil, err
	}

	if order.PaymentStatus.IsFinal() {
		logger.Ctx(ctx).Info().
			Str("order_number", order.OrderNumber).
			Str("payment_status", string(order.PaymentStatus)).
			Str("transaction_id", req.TransactionID).
			Msg("duplicate payment callback, ignoring")
		return toOrderResponse(order), nil
	}

	if req.Success {
		order.MarkPaid()
	} else {
		order.MarkPaymentFailed()
	}
	if err := s.repo.Update(ctx, order); err != nil {
		return nil, err
	}

	logger.Ctx(ctx).Info().
		Str("order_number", order.OrderNumber).
		Str("payment_status", string(order.PaymentStatus)).
		Str("transaction_id", req.TransactionID).
		Msg("payment callback processed")

	if req.Success {
		s.publishEvent(ctx, domain.EventOrderPaid, order)
	} else {
		s.publishEvent(ctx, domain.EventPaymentFailed, order)
	}
	return toOrderResponse(order), nil
}
