// internal/service/order/application/reconciler.go
package application

import (
	"context"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"mall/internal/pkg/logger"
	"mall/internal/service/order/domain"
	"mall/internal/service/order/domain/port"
)

var reconciledOrders = promauto.NewCounterVec(prometheus.CounterOpts{
	Name: "mall_timeout_reconciled_orders_total",
	Help: "Orders cancelled by the timeout reconciler, by sweep kind.",
}, []string{"sweep"})

// 单次扫描的批量上限，防止积压的超时订单把一次扫描拖得过长
const sweepBatchSize = 200

// TimeoutReconciler 周期性取消超时未支付的订单并归还库存。
type TimeoutReconciler struct {
	repo       domain.OrderRepository
	stock      port.StockReserver
	transactor port.Transactor
	tracer     trace.Tracer

	orderTimeout   time.Duration
	paymentTimeout time.Duration
}

func NewTimeoutReconciler(repo domain.OrderRepository, stock port.StockReserver, transactor port.Transactor, tracer trace.Tracer, orderTimeout, paymentTimeout time.Duration) *TimeoutReconciler {
	return &TimeoutReconciler{
		repo:           repo,
		stock:          stock,
		transactor:     transactor,
		tracer:         tracer,
		orderTimeout:   orderTimeout,
		paymentTimeout: paymentTimeout,
	}
}

// ProcessOrderTimeouts 取消创建超过订单超时时长仍待支付的订单。
// 单个订单补偿失败只记录，留给下一轮扫描重试，不影响整轮。
func (r *TimeoutReconciler) ProcessOrderTimeouts(ctx context.Context) (int, error) {
	return r.sweep(ctx, "order", r.orderTimeout)
}

// ProcessPaymentTimeouts 兜底扫描：订单超时扫描漏掉或失败的订单，
// 在支付超时时长（更长）之后再次尝试取消。
func (r *TimeoutReconciler) ProcessPaymentTimeouts(ctx context.Context) (int, error) {
	return r.sweep(ctx, "payment", r.paymentTimeout)
}

func (r *TimeoutReconciler) sweep(ctx context.Context, kind string, timeout time.Duration) (int, error) {
	ctx, span := r.tracer.Start(ctx, "reconciler.sweep")
	defer span.End()
	span.SetAttributes(attribute.String("sweep.kind", kind))

	cutoff := time.Now().Add(-timeout)
	orders, err := r.repo.FindTimedOut(ctx, domain.StatusPending, cutoff, sweepBatchSize)
	if err != nil {
		span.RecordError(err)
		return 0, err
	}

	processed := 0
	for _, order := range orders {
		if err := r.cancelTimedOut(ctx, order); err != nil {
			logger.Ctx(ctx).Error().Err(err).
				Str("order_number", order.OrderNumber).
				Str("sweep", kind).
				Msg("failed to reconcile timed-out order, will retry next sweep")
			continue
		}
		processed++
		reconciledOrders.WithLabelValues(kind).Inc()
	}

	if processed > 0 || len(orders) > 0 {
		logger.Ctx(ctx).Info().
			Str("sweep", kind).
			Int("found", len(orders)).
			Int("processed", processed).
			Msg("timeout sweep finished")
	}
	return processed, nil
}

func (r *TimeoutReconciler) cancelTimedOut(ctx context.Context, order *domain.Order) error {
	// 支付成功的订单不在超时取消范围内，即便状态没来得及流转
	if order.PaymentStatus.IsFinal() {
		return nil
	}

	releaseStock := order.ReleasesStockOnCancel()
	if err := order.Cancel(); err != nil {
		return err
	}
	order.PaymentStatus = domain.PaymentFailed
	// 取消落库和库存归还同一个事务提交：任一项归还失败则取消
	// 回滚，订单保持待支付，留在下一轮扫描的结果集里重试。
	if err := r.transactor.Transaction(ctx, func(txCtx context.Context) error {
		if err := r.repo.Update(txCtx, order); err != nil {
			return err
		}
		if !releaseStock {
			return nil
		}
		for _, item := range order.Items {
			if err := r.stock.Release(txCtx, item.ProductID, item.Quantity, order.OrderNumber); err != nil {
				return err
			}
		}
		return nil
	}); err != nil {
		return err
	}

	logger.Ctx(ctx).Info().
		Str("order_number", order.OrderNumber).
		Msg("timed-out order cancelled")
	return nil
}
