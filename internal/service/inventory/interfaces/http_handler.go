package interfaces

import (
	"encoding/json"
	"net/http"

	"github.com/google/uuid"
	"github.com/pkg/errors"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/propagation"

	"github.com/nayanjcode/OBAI-InventoryService/internal/pkg/logger"
	"github.com/nayanjcode/OBAI-InventoryService/internal/service/inventory/application"
	"github.com/nayanjcode/OBAI-InventoryService/internal/service/inventory/domain"
)

// ApiResponse 是错误时返回的统一结构
type ApiResponse struct {
	Message string `json:"message"`
	Success bool   `json:"success"`
	Status  int    `json:"status"`
}

// InventoryHandler 封装了 inventory 服务的 HTTP 处理器
type InventoryHandler struct {
	service *application.InventoryApplicationService
}

// NewInventoryHandler 创建一个新的 HTTP 处理器实例
func NewInventoryHandler(service *application.InventoryApplicationService) *InventoryHandler {
	return &InventoryHandler{service: service}
}

// RegisterRoutes 在 ServeMux 上注册所有路由
func (h *InventoryHandler) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("GET /inventory/{productId}", h.handleGetProduct)
	mux.HandleFunc("GET /inventory/{$}", h.handleListProducts)
	mux.HandleFunc("POST /inventory/{$}", h.handleSaveProduct)
	mux.HandleFunc("POST /inventory/validate", h.handleValidate)
}

func (h *InventoryHandler) handleGetProduct(w http.ResponseWriter, r *http.Request) {
	ctx := otel.GetTextMapPropagator().Extract(r.Context(), propagation.HeaderCarrier(r.Header))

	productID, err := uuid.Parse(r.PathValue("productId"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid product id")
		return
	}

	product, err := h.service.GetProduct(ctx, productID)
	if err != nil {
		if errors.Is(err, domain.ErrProductNotFound) {
			writeError(w, http.StatusNotFound, "The product you are trying to search does not exist in the inventory.")
			return
		}
		logger.Ctx(ctx).Error().Err(err).Msg("get product failed")
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, product)
}

func (h *InventoryHandler) handleListProducts(w http.ResponseWriter, r *http.Request) {
	ctx := otel.GetTextMapPropagator().Extract(r.Context(), propagation.HeaderCarrier(r.Header))

	products, err := h.service.ListProducts(ctx)
	if err != nil {
		logger.Ctx(ctx).Error().Err(err).Msg("list products failed")
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, products)
}

func (h *InventoryHandler) handleSaveProduct(w http.ResponseWriter, r *http.Request) {
	ctx := otel.GetTextMapPropagator().Extract(r.Context(), propagation.HeaderCarrier(r.Header))

	var req application.ProductDTO
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body")
		return
	}

	saved, err := h.service.SaveProduct(ctx, &req)
	if err != nil {
		if errors.Is(err, domain.ErrInvalidProduct) {
			writeError(w, http.StatusBadRequest, err.Error())
			return
		}
		logger.Ctx(ctx).Error().Err(err).Msg("save product failed")
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusCreated, saved)
}

// handleValidate 业务失败返回 200 false，只有回滚失败才返回 500
func (h *InventoryHandler) handleValidate(w http.ResponseWriter, r *http.Request) {
	ctx := otel.GetTextMapPropagator().Extract(r.Context(), propagation.HeaderCarrier(r.Header))

	var req application.ReserveRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body")
		return
	}

	ok, err := h.service.ValidateAndReserve(ctx, req.OrderID, req.Lines())
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, ok)
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, ApiResponse{Message: message, Success: false, Status: status})
}
