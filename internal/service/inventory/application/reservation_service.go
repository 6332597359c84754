// internal/service/inventory/application/reservation_service.go
package application

import (
	"context"
	"fmt"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"mall/internal/pkg/logger"
	"mall/internal/service/inventory/domain"
	"mall/internal/service/inventory/domain/port"
)

var (
	reservationResults = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "mall_stock_reservations_total",
		Help: "Stock reservation attempts by result.",
	}, []string{"result"})

	expiredReservations = promauto.NewCounter(prometheus.CounterOpts{
		Name: "mall_stock_reservation_ttl_expiries_total",
		Help: "Rollbacks that found no reservation record (likely TTL expiry of an orphaned reservation).",
	})
)

// StockReservationService 编排两阶段库存预扣：
// 快路径在缓存中锁内 check-and-decrement，慢路径由数据库条件更新做最终仲裁。
type StockReservationService struct {
	cache  port.StockCache
	locker port.ProductLocker
	store  port.StockStore
	tracer trace.Tracer

	reservationTTL time.Duration
	lockTTL        time.Duration
}

func NewStockReservationService(cache port.StockCache, locker port.ProductLocker, store port.StockStore, tracer trace.Tracer, reservationTTL, lockTTL time.Duration) *StockReservationService {
	return &StockReservationService{
		cache:          cache,
		locker:         locker,
		store:          store,
		tracer:         tracer,
		reservationTTL: reservationTTL,
		lockTTL:        lockTTL,
	}
}

func lockKey(productID int64) string {
	return fmt.Sprintf("stock:%d", productID)
}

// CheckAvailability 检查库存是否充足：优先读缓存，缓存未命中时
// 读数据库并回填缓存。任何读取错误都按"不可售"处理——
// 宁可拒单，不卖无法核实的库存。
func (s *StockReservationService) CheckAvailability(ctx context.Context, productID int64, quantity int) (bool, error) {
	ctx, span := s.tracer.Start(ctx, "inventory.CheckAvailability")
	defer span.End()
	span.SetAttributes(
		attribute.Int64("product.id", productID),
		attribute.Int("quantity", quantity),
	)

	stock, ok, err := s.cache.GetStock(ctx, productID)
	if err != nil {
		span.RecordError(err)
		logger.Ctx(ctx).Error().Err(err).Int64("product_id", productID).Msg("stock cache read failed")
		return false, err
	}
	if ok {
		return stock >= int64(quantity), nil
	}

	// 缓存未命中，回源数据库并回填
	stock, err = s.store.GetStock(ctx, productID)
	if err != nil {
		span.RecordError(err)
		return false, err
	}
	if err := s.cache.SetStock(ctx, productID, stock); err != nil {
		// 回填失败不影响本次判断，下次请求会再次回源
		logger.Ctx(ctx).Warn().Err(err).Int64("product_id", productID).Msg("failed to backfill stock cache")
	}
	return stock >= int64(quantity), nil
}

// Reserve 在商品锁的保护下预扣缓存库存并写入预扣记录。
//
// 锁只覆盖 check-and-decrement，不覆盖后续的持久化确认，
// 以缩短持锁时间；锁获取是非阻塞的，冲突立即以
// ErrLockContention 返回，由订单层决定是否重试。
func (s *StockReservationService) Reserve(ctx context.Context, productID int64, quantity int, orderRef string) error {
	ctx, span := s.tracer.Start(ctx, "inventory.Reserve")
	defer span.End()
	span.SetAttributes(
		attribute.Int64("product.id", productID),
		attribute.Int("quantity", quantity),
		attribute.String("order.ref", orderRef),
	)

	res, err := domain.NewReservation(productID, orderRef, quantity, s.reservationTTL)
	if err != nil {
		return err
	}

	token, err := s.locker.Acquire(ctx, lockKey(productID), s.lockTTL)
	if err != nil {
		reservationResults.WithLabelValues("lock_contention").Inc()
		span.SetStatus(codes.Error, "lock not acquired")
		return err
	}
	defer func() {
		// 只有仍然持有锁（token 匹配）才能删除，
		// 防止误删 TTL 过期后其他进程获取的锁
		released, rerr := s.locker.Release(ctx, lockKey(productID), token)
		if rerr != nil {
			logger.Ctx(ctx).Error().Err(rerr).Int64("product_id", productID).Msg("failed to release stock lock")
		} else if !released {
			logger.Ctx(ctx).Warn().Int64("product_id", productID).Msg("stock lock was no longer held at release; lock TTL may be too short")
		}
	}()

	stock, ok, err := s.cache.GetStock(ctx, productID)
	if err != nil {
		reservationResults.WithLabelValues("error").Inc()
		span.RecordError(err)
		return err
	}
	if !ok {
		stock, err = s.store.GetStock(ctx, productID)
		if err != nil {
			reservationResults.WithLabelValues("error").Inc()
			span.RecordError(err)
			return err
		}
		if err := s.cache.SetStock(ctx, productID, stock); err != nil {
			reservationResults.WithLabelValues("error").Inc()
			return err
		}
	}

	if stock < int64(quantity) {
		reservationResults.WithLabelValues("insufficient").Inc()
		span.AddEvent("insufficient stock")
		return domain.ErrInsufficientStock
	}

	if err := s.cache.SetStock(ctx, productID, stock-int64(quantity)); err != nil {
		reservationResults.WithLabelValues("error").Inc()
		span.RecordError(err)
		return err
	}
	if err := s.cache.SaveReservation(ctx, res.ProductID, res.OrderRef, res.Quantity, res.TTL); err != nil {
		// 预扣记录写失败时把刚扣掉的数量加回去，保持无副作用失败
		span.RecordError(err)
		if aerr := s.cache.AddStock(ctx, productID, quantity); aerr != nil {
			logger.Ctx(ctx).Error().Err(aerr).Int64("product_id", productID).
				Msg("CRITICAL: failed to restore stock after reservation record write failure")
		}
		reservationResults.WithLabelValues("error").Inc()
		return err
	}

	reservationResults.WithLabelValues("reserved").Inc()
	logger.Ctx(ctx).Info().
		Int64("product_id", productID).
		Int("quantity", quantity).
		Str("order_ref", orderRef).
		Msg("stock reserved")
	return nil
}

// Confirm 在订单事务内对数据库做条件扣减，使预扣变为权威事实。
// 影响 0 行说明 reserve 与 confirm 之间权威库存已被耗尽
// （比如另一个实例带着过期缓存绕过了本实例的锁），
// 此时回滚缓存预扣并返回 ErrConfirmFailed。
func (s *StockReservationService) Confirm(ctx context.Context, productID int64, quantity int, orderRef string) error {
	ctx, span := s.tracer.Start(ctx, "inventory.Confirm")
	defer span.End()
	span.SetAttributes(
		attribute.Int64("product.id", productID),
		attribute.Int("quantity", quantity),
		attribute.String("order.ref", orderRef),
	)

	updated, err := s.store.ConfirmStock(ctx, productID, quantity)
	if err != nil {
		span.RecordError(err)
		return err
	}
	if !updated {
		span.SetStatus(codes.Error, "conditional stock update affected zero rows")
		if _, rerr := s.Rollback(ctx, productID, orderRef); rerr != nil {
			logger.Ctx(ctx).Error().Err(rerr).Int64("product_id", productID).Msg("rollback after failed confirm also failed")
		}
		return domain.ErrConfirmFailed
	}

	if err := s.cache.DeleteReservation(ctx, productID, orderRef); err != nil {
		// 记录会随 TTL 过期，不影响正确性，但要留痕
		logger.Ctx(ctx).Warn().Err(err).
			Int64("product_id", productID).
			Str("order_ref", orderRef).
			Msg("failed to delete reservation record after confirm")
	}

	logger.Ctx(ctx).Info().
		Int64("product_id", productID).
		Int("quantity", quantity).
		Str("order_ref", orderRef).
		Msg("stock reservation confirmed")
	return nil
}

// Rollback 撤销一次未确认的预扣：删除预扣记录并把记录中的数量
// 加回缓存。幂等——记录不存在（已回滚过、从未创建或 TTL 过期）
// 时不做任何事，库存不会被加回两次。
func (s *StockReservationService) Rollback(ctx context.Context, productID int64, orderRef string) (bool, error) {
	ctx, span := s.tracer.Start(ctx, "inventory.Rollback")
	defer span.End()
	span.SetAttributes(
		attribute.Int64("product.id", productID),
		attribute.String("order.ref", orderRef),
	)

	restored, err := s.cache.RollbackReservation(ctx, productID, orderRef)
	if err != nil {
		span.RecordError(err)
		return false, err
	}
	if !restored {
		// 调用方认为预扣还活着但记录已不在：大概率是 TTL 兜底清理了
		// 孤儿预扣，说明某次编排卡住或崩溃过，值得告警
		expiredReservations.Inc()
		logger.Ctx(ctx).Warn().
			Int64("product_id", productID).
			Str("order_ref", orderRef).
			Msg("rollback found no reservation record; possible TTL expiry of an orphaned reservation")
		return false, nil
	}

	logger.Ctx(ctx).Info().
		Int64("product_id", productID).
		Str("order_ref", orderRef).
		Msg("stock reservation rolled back")
	return true, nil
}

// Release 补偿释放一次已确认的扣减：数据库加回库存、冲减销量，
// 缓存影子值同步加回。用于取消未支付订单和超时对账。
func (s *StockReservationService) Release(ctx context.Context, productID int64, quantity int, orderRef string) error {
	ctx, span := s.tracer.Start(ctx, "inventory.Release")
	defer span.End()
	span.SetAttributes(
		attribute.Int64("product.id", productID),
		attribute.Int("quantity", quantity),
		attribute.String("order.ref", orderRef),
	)

	if err := s.store.ReleaseStock(ctx, productID, quantity); err != nil {
		span.RecordError(err)
		return err
	}
	if err := s.cache.AddStock(ctx, productID, quantity); err != nil {
		// 权威库存已经释放，缓存会在下次同步时收敛，只记日志
		logger.Ctx(ctx).Warn().Err(err).Int64("product_id", productID).Msg("failed to restore cached stock on release")
	}

	logger.Ctx(ctx).Info().
		Int64("product_id", productID).
		Int("quantity", quantity).
		Str("order_ref", orderRef).
		Msg("confirmed stock released")
	return nil
}

// RestoreCachedStock 只把数量加回缓存影子值，不触碰数据库。
// Confirm 在事务内执行但缓存操作不随事务回滚：事务中止时
// 数据库扣减被撤销而缓存仍是扣减后的值，用本方法收敛。
func (s *StockReservationService) RestoreCachedStock(ctx context.Context, productID int64, quantity int) error {
	if err := s.cache.AddStock(ctx, productID, quantity); err != nil {
		logger.Ctx(ctx).Error().Err(err).
			Int64("product_id", productID).
			Int("quantity", quantity).
			Msg("failed to restore cached stock after transaction abort")
		return err
	}
	return nil
}

// SyncStockToCache 把数据库权威库存同步进缓存影子值。
// productIDs 为空时同步全部未删除商品。
func (s *StockReservationService) SyncStockToCache(ctx context.Context, productIDs ...int64) (int, error) {
	ctx, span := s.tracer.Start(ctx, "inventory.SyncStockToCache")
	defer span.End()

	stocks, err := s.store.ListStocks(ctx, productIDs...)
	if err != nil {
		span.RecordError(err)
		return 0, err
	}
	if err := s.cache.SetStockBatch(ctx, stocks); err != nil {
		span.RecordError(err)
		return 0, err
	}

	logger.Ctx(ctx).Info().Int("product_count", len(stocks)).Msg("stock synced to cache")
	return len(stocks), nil
}
