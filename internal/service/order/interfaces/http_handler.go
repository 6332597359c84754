// internal/service/order/interfaces/http_handler.go
package interfaces

import (
	"context"
	"encoding/json"
	"net/http"
	"strconv"

	"github.com/pkg/errors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/propagation"

	"mall/internal/pkg/logger"
	invapp "mall/internal/service/inventory/application"
	invdomain "mall/internal/service/inventory/domain"
	"mall/internal/service/order/application"
	"mall/internal/service/order/domain"
)

const serviceName = "order-service"

// OrderHandler 封装订单服务的 HTTP 处理器。
type OrderHandler struct {
	service   *application.OrderService
	inventory *invapp.StockReservationService
}

func NewOrderHandler(service *application.OrderService, inventory *invapp.StockReservationService) *OrderHandler {
	return &OrderHandler{service: service, inventory: inventory}
}

// RegisterRoutes 在 ServeMux 上注册所有路由
func (h *OrderHandler) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) { w.WriteHeader(http.StatusOK) })
	mux.Handle("/metrics", promhttp.Handler())

	mux.HandleFunc("/orders", h.createOrderHandler)
	mux.HandleFunc("/orders/get", h.getOrderHandler)
	mux.HandleFunc("/orders/list", h.listOrdersHandler)
	mux.HandleFunc("/orders/cancel", h.cancelOrderHandler)
	mux.HandleFunc("/orders/status", h.updateStatusHandler)
	mux.HandleFunc("/payments/callback", h.paymentCallbackHandler)
	mux.HandleFunc("/admin/stock/sync", h.syncStockHandler)
}

func (h *OrderHandler) createOrderHandler(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	propagator := otel.GetTextMapPropagator()
	ctx := propagator.Extract(r.Context(), propagation.HeaderCarrier(r.Header))
	ctx, span := otel.Tracer(serviceName).Start(ctx, "http.CreateOrder")
	defer span.End()

	var req application.CreateOrderRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid request body", http.StatusBadRequest)
		return
	}
	span.SetAttributes(
		attribute.Int64("user.id", req.UserID),
		attribute.Int("item.count", len(req.Items)),
	)

	resp, err := h.service.CreateOrder(ctx, &req)
	if err != nil {
		writeError(ctx, w, err)
		return
	}
	writeJSON(w, http.StatusCreated, resp)
}

func (h *OrderHandler) getOrderHandler(w http.ResponseWriter, r *http.Request) {
	ctx := otel.GetTextMapPropagator().Extract(r.Context(), propagation.HeaderCarrier(r.Header))

	orderNumber := r.URL.Query().Get("order_number")
	if orderNumber == "" {
		http.Error(w, "order_number is required", http.StatusBadRequest)
		return
	}

	resp, err := h.service.GetOrderByNumber(ctx, orderNumber)
	if err != nil {
		writeError(ctx, w, err)
		return
	}
	writeJSON(w, http.StatusOK, resp)
}

func (h *OrderHandler) listOrdersHandler(w http.ResponseWriter, r *http.Request) {
	ctx := otel.GetTextMapPropagator().Extract(r.Context(), propagation.HeaderCarrier(r.Header))

	userID, err := strconv.ParseInt(r.URL.Query().Get("user_id"), 10, 64)
	if err != nil || userID <= 0 {
		http.Error(w, "user_id is required", http.StatusBadRequest)
		return
	}
	offset, _ := strconv.Atoi(r.URL.Query().Get("offset"))
	limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))

	resp, err := h.service.ListUserOrders(ctx, userID, offset, limit)
	if err != nil {
		writeError(ctx, w, err)
		return
	}
	writeJSON(w, http.StatusOK, resp)
}

func (h *OrderHandler) cancelOrderHandler(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	ctx := otel.GetTextMapPropagator().Extract(r.Context(), propagation.HeaderCarrier(r.Header))
	ctx, span := otel.Tracer(serviceName).Start(ctx, "http.CancelOrder")
	defer span.End()

	var req struct {
		OrderNumber string `json:"orderNumber"`
		UserID      int64  `json:"userId"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.OrderNumber == "" {
		http.Error(w, "orderNumber is required", http.StatusBadRequest)
		return
	}

	resp, err := h.service.CancelOrder(ctx, req.OrderNumber, req.UserID)
	if err != nil {
		writeError(ctx, w, err)
		return
	}
	writeJSON(w, http.StatusOK, resp)
}

func (h *OrderHandler) updateStatusHandler(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	ctx := otel.GetTextMapPropagator().Extract(r.Context(), propagation.HeaderCarrier(r.Header))

	var req application.UpdateStatusRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.OrderNumber == "" || req.Status == "" {
		http.Error(w, "orderNumber and status are required", http.StatusBadRequest)
		return
	}

	resp, err := h.service.UpdateOrderStatus(ctx, &req)
	if err != nil {
		writeError(ctx, w, err)
		return
	}
	writeJSON(w, http.StatusOK, resp)
}

func (h *OrderHandler) paymentCallbackHandler(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	ctx := otel.GetTextMapPropagator().Extract(r.Context(), propagation.HeaderCarrier(r.Header))
	ctx, span := otel.Tracer(serviceName).Start(ctx, "http.PaymentCallback")
	defer span.End()

	var req application.PaymentCallbackRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.OrderNumber == "" {
		http.Error(w, "orderNumber is required", http.StatusBadRequest)
		return
	}

	resp, err := h.service.HandlePaymentCallback(ctx, &req)
	if err != nil {
		writeError(ctx, w, err)
		return
	}
	writeJSON(w, http.StatusOK, resp)
}

// syncStockHandler 管理接口：把数据库库存同步进缓存。
func (h *OrderHandler) syncStockHandler(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	ctx := otel.GetTextMapPropagator().Extract(r.Context(), propagation.HeaderCarrier(r.Header))

	var req struct {
		ProductIDs []int64 `json:"productIds"`
	}
	if r.ContentLength > 0 {
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			http.Error(w, "invalid request body", http.StatusBadRequest)
			return
		}
	}

	count, err := h.inventory.SyncStockToCache(ctx, req.ProductIDs...)
	if err != nil {
		writeError(ctx, w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"synced": count})
}

func writeJSON(w http.ResponseWriter, status int, payload interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(payload)
}

// writeError 把领域错误映射到 HTTP 状态码。
// 库存不足和锁冲突都是可重试的业务拒绝，用 409 区别于客户端参数错误。
func writeError(ctx context.Context, w http.ResponseWriter, err error) {
	var status int
	switch {
	case errors.Is(err, invdomain.ErrInsufficientStock),
		errors.Is(err, invdomain.ErrLockContention),
		errors.Is(err, invdomain.ErrConfirmFailed):
		status = http.StatusConflict
	case errors.Is(err, domain.ErrOrderNotFound),
		errors.Is(err, invdomain.ErrProductNotFound),
		errors.Is(err, domain.ErrProductNotFound):
		status = http.StatusNotFound
	case errors.Is(err, domain.ErrEmptyOrder),
		errors.Is(err, domain.ErrInvalidQuantity),
		errors.Is(err, domain.ErrDuplicateItem),
		errors.Is(err, domain.ErrOrderNotCancellable):
		status = http.StatusBadRequest
	default:
		status = http.StatusInternalServerError
		logger.Ctx(ctx).Error().Err(err).Msg("request failed")
	}
	http.Error(w, err.Error(), status)
}
