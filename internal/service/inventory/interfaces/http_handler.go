// Package interfaces 暴露库存服务的 HTTP 绑定。
// 传输层只做参数解析、追踪上下文提取和错误翻译，业务全部在门面里。
package interfaces

import (
	"encoding/json"
	"net/http"
	"strconv"
	"strings"

	"github.com/pkg/errors"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/propagation"

	"stockhub/internal/pkg/logger"
	"stockhub/internal/service/inventory/application"
	"stockhub/internal/service/inventory/domain"
)

const serviceName = "inventory-service"

var stockOpsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
	Name: "stockhub_stock_operations_total",
	Help: "Total stock operations by op and result.",
}, []string{"op", "result"})

// InventoryHandler 封装了库存服务的 HTTP 处理器。
type InventoryHandler struct {
	service *application.FulfillmentService
}

// NewInventoryHandler 创建一个新的 HTTP 处理器实例。
func NewInventoryHandler(service *application.FulfillmentService) *InventoryHandler {
	return &InventoryHandler{service: service}
}

// RegisterRoutes 在 ServeMux 上注册所有路由。
func (h *InventoryHandler) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) { w.WriteHeader(http.StatusOK) })
	mux.Handle("/metrics", promhttp.Handler())

	mux.HandleFunc("/reserve_stock", h.traced("reserve", h.reserveHandler))
	mux.HandleFunc("/release_stock", h.traced("release", h.releaseHandler))
	mux.HandleFunc("/reduce_stock", h.traced("reduce", h.reduceHandler))
	mux.HandleFunc("/reservations/status", h.traced("status", h.statusHandler))
	mux.HandleFunc("/reservations/all", h.traced("all", h.allHandler))
	mux.HandleFunc("/reservations/cleanup", h.traced("cleanup", h.cleanupHandler))

	mux.HandleFunc("/get_available_stock", h.traced("get_available", h.getAvailableStockHandler))
	mux.HandleFunc("/get_available_stocks", h.traced("get_available_batch", h.getAvailableStocksHandler))
	mux.HandleFunc("/get_warehouse_stocks", h.traced("get_warehouse", h.getWarehouseStocksHandler))
	mux.HandleFunc("/set_stock", h.traced("set", h.setStockHandler))
	mux.HandleFunc("/update_stock", h.traced("update", h.updateStockHandler))
	mux.HandleFunc("/remove_stock", h.traced("remove", h.removeStockHandler))
	mux.HandleFunc("/reserve_ledger_stock", h.traced("ledger_reserve", h.reserveLedgerStockHandler))
	mux.HandleFunc("/release_ledger_stock", h.traced("ledger_release", h.releaseLedgerStockHandler))
}

// traced 是所有路由的公共外壳：提取追踪上下文、注入带 trace_id 的
// logger、开 span、统一错误翻译并记录操作计数。
func (h *InventoryHandler) traced(op string, fn func(w http.ResponseWriter, r *http.Request) error) http.HandlerFunc {
	tracer := otel.Tracer(serviceName)
	return func(w http.ResponseWriter, r *http.Request) {
		ctx := otel.GetTextMapPropagator().Extract(r.Context(), propagation.HeaderCarrier(r.Header))
		ctx, span := tracer.Start(ctx, "inventory-service."+op)
		defer span.End()
		ctx = logger.WithTraceContext(ctx)

		span.SetAttributes(attribute.String("stock.op", op))

		if err := fn(w, r.WithContext(ctx)); err != nil {
			span.RecordError(err)
			stockOpsTotal.WithLabelValues(op, "error").Inc()
			writeError(w, r, err)
			return
		}
		stockOpsTotal.WithLabelValues(op, "ok").Inc()
	}
}

// writeError 把领域错误翻译为 HTTP 状态码与 JSON 错误体。
func writeError(w http.ResponseWriter, r *http.Request, err error) {
	var conflict *domain.ConflictError
	switch {
	case errors.As(err, &conflict):
		writeJSON(w, http.StatusConflict, map[string]interface{}{
			"error":     conflict.Reason,
			"requested": conflict.Requested,
			"available": conflict.Available,
			"total":     conflict.Total,
			"reserved":  conflict.Reserved,
			"applied":   conflict.Applied,
		})
	case errors.Is(err, domain.ErrInvalidArgument):
		writeJSON(w, http.StatusBadRequest, map[string]interface{}{"error": err.Error()})
	case errors.Is(err, domain.ErrNotFound):
		writeJSON(w, http.StatusNotFound, map[string]interface{}{"error": err.Error()})
	default:
		logger.Ctx(r.Context()).Error().Err(err).Msg("Unhandled error in inventory handler")
		writeJSON(w, http.StatusInternalServerError, map[string]interface{}{"error": "internal error"})
	}
}

func writeJSON(w http.ResponseWriter, status int, body interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}

// selectionFromRequest 解析 orderId/quantity 二选一的请求参数。
func selectionFromRequest(r *http.Request) domain.SelectionKey {
	if orderID := r.URL.Query().Get("orderId"); orderID != "" {
		return domain.ByOrder(orderID)
	}
	if qs := r.URL.Query().Get("quantity"); qs != "" {
		quantity, _ := strconv.Atoi(qs)
		return domain.ByQuantity(quantity)
	}
	return domain.SelectionKey{}
}

// --- 软预留 ---

func (h *InventoryHandler) reserveHandler(w http.ResponseWriter, r *http.Request) error {
	q := r.URL.Query()
	quantity, _ := strconv.Atoi(q.Get("quantity"))
	ttlMinutes, _ := strconv.Atoi(q.Get("ttlMinutes"))

	result, err := h.service.ReserveHold(r.Context(), q.Get("productId"), q.Get("orderId"), quantity, ttlMinutes)
	if err != nil {
		return err
	}
	writeJSON(w, http.StatusOK, result)
	return nil
}

func (h *InventoryHandler) releaseHandler(w http.ResponseWriter, r *http.Request) error {
	result, err := h.service.ReleaseHold(r.Context(), r.URL.Query().Get("productId"), selectionFromRequest(r))
	if err != nil {
		return err
	}
	writeJSON(w, http.StatusOK, result)
	return nil
}

func (h *InventoryHandler) reduceHandler(w http.ResponseWriter, r *http.Request) error {
	q := r.URL.Query()
	result, err := h.service.CommitStock(r.Context(), q.Get("productId"), selectionFromRequest(r), q.Get("warehouseId"))
	if err != nil {
		return err
	}
	writeJSON(w, http.StatusOK, result)
	return nil
}

func (h *InventoryHandler) statusHandler(w http.ResponseWriter, r *http.Request) error {
	result, err := h.service.HoldStatus(r.Context(), r.URL.Query().Get("productId"))
	if err != nil {
		return err
	}
	writeJSON(w, http.StatusOK, result)
	return nil
}

func (h *InventoryHandler) allHandler(w http.ResponseWriter, r *http.Request) error {
	result, err := h.service.AllHolds(r.Context(), r.URL.Query().Get("productId"))
	if err != nil {
		return err
	}
	writeJSON(w, http.StatusOK, result)
	return nil
}

func (h *InventoryHandler) cleanupHandler(w http.ResponseWriter, r *http.Request) error {
	result, err := h.service.CleanupHolds(r.Context(), r.URL.Query().Get("productId"))
	if err != nil {
		return err
	}
	writeJSON(w, http.StatusOK, result)
	return nil
}

// --- 台账 ---

func (h *InventoryHandler) getAvailableStockHandler(w http.ResponseWriter, r *http.Request) error {
	available, err := h.service.GetAvailableStock(r.Context(), r.URL.Query().Get("productId"))
	if err != nil {
		return err
	}
	writeJSON(w, http.StatusOK, map[string]int{"available": available})
	return nil
}

func (h *InventoryHandler) getAvailableStocksHandler(w http.ResponseWriter, r *http.Request) error {
	ids := strings.Split(r.URL.Query().Get("productIds"), ",")
	result, err := h.service.GetAvailableStocks(r.Context(), ids)
	if err != nil {
		return err
	}
	writeJSON(w, http.StatusOK, result)
	return nil
}

func (h *InventoryHandler) getWarehouseStocksHandler(w http.ResponseWriter, r *http.Request) error {
	rows, err := h.service.GetWarehouseStocks(r.Context(), r.URL.Query().Get("productId"))
	if err != nil {
		return err
	}
	writeJSON(w, http.StatusOK, rows)
	return nil
}

func (h *InventoryHandler) setStockHandler(w http.ResponseWriter, r *http.Request) error {
	q := r.URL.Query()
	quantity, err := strconv.Atoi(q.Get("quantity"))
	if err != nil {
		return errors.WithMessage(domain.ErrInvalidArgument, "quantity must be an integer")
	}
	row, err := h.service.SetStock(r.Context(), q.Get("productId"), q.Get("warehouseId"), quantity)
	if err != nil {
		return err
	}
	writeJSON(w, http.StatusOK, row)
	return nil
}

func (h *InventoryHandler) updateStockHandler(w http.ResponseWriter, r *http.Request) error {
	q := r.URL.Query()
	quantity, err := strconv.Atoi(q.Get("quantity"))
	if err != nil {
		return errors.WithMessage(domain.ErrInvalidArgument, "quantity must be an integer")
	}
	row, err := h.service.UpdateStock(r.Context(), q.Get("productId"), q.Get("warehouseId"), quantity)
	if err != nil {
		return err
	}
	writeJSON(w, http.StatusOK, row)
	return nil
}

func (h *InventoryHandler) removeStockHandler(w http.ResponseWriter, r *http.Request) error {
	q := r.URL.Query()
	if err := h.service.RemoveStock(r.Context(), q.Get("productId"), q.Get("warehouseId")); err != nil {
		return err
	}
	writeJSON(w, http.StatusOK, map[string]bool{"removed": true})
	return nil
}

func (h *InventoryHandler) reserveLedgerStockHandler(w http.ResponseWriter, r *http.Request) error {
	q := r.URL.Query()
	quantity, _ := strconv.Atoi(q.Get("quantity"))
	applied, err := h.service.ReserveProductStock(r.Context(), q.Get("productId"), quantity, q.Get("warehouseId"))
	if err != nil {
		return err
	}
	writeJSON(w, http.StatusOK, map[string]int{"reserved": applied})
	return nil
}

func (h *InventoryHandler) releaseLedgerStockHandler(w http.ResponseWriter, r *http.Request) error {
	q := r.URL.Query()
	quantity, _ := strconv.Atoi(q.Get("quantity"))
	applied, err := h.service.ReleaseProductStock(r.Context(), q.Get("productId"), quantity, q.Get("warehouseId"))
	if err != nil {
		return err
	}
	writeJSON(w, http.StatusOK, map[string]int{"released": applied})
	return nil
}
