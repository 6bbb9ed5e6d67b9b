package api

import (
	"context"
	"net/http"
	"net/url"
	"time"

	"storefront-orders/internal/auth"
	"storefront-orders/internal/models"
	"storefront-orders/internal/momo"
	"storefront-orders/internal/service"
	"storefront-orders/internal/util"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
)

// IdempotencyHeader carries the client supplied checkout idempotency key
const IdempotencyHeader = "Idempotency-Key"

// ReadinessCheck reports whether a dependency can serve traffic
type ReadinessCheck struct {
	Name  string
	Check func(ctx context.Context) error
}

// Options holds optional handler settings
type Options struct {
	// FrontendReturnURL is where the payment return route redirects the browser
	FrontendReturnURL string
	Readiness         []ReadinessCheck
}

// Handler contains HTTP handlers
type Handler struct {
	orders   *service.OrderService
	payments *service.PaymentService
	verifier *auth.Verifier
	opts     Options
	logger   *zap.Logger
}

// NewHandler creates a new HTTP handler
func NewHandler(orders *service.OrderService, payments *service.PaymentService, verifier *auth.Verifier, opts Options) *Handler {
	return &Handler{
		orders:   orders,
		payments: payments,
		verifier: verifier,
		opts:     opts,
		logger:   util.ComponentLogger("api"),
	}
}

// SetupRoutes sets up HTTP routes
func (h *Handler) SetupRoutes(router *gin.Engine) {
	router.Use(gin.Recovery())
	router.Use(prometheusMiddleware())
	router.Use(requestLogger(h.logger))

	router.GET("/health", h.healthCheck)
	router.GET("/ready", h.readinessCheck)

	router.GET("/metrics", gin.WrapH(promhttp.Handler()))

	api := router.Group("/api")

	// called by the payment provider and the shopper's browser, not by API clients
	api.POST("/payments/momo/notify", h.momoNotify)
	api.GET("/payments/momo/return", h.momoReturn)

	authed := api.Group("", authenticate(h.verifier))
	{
		authed.POST("/orders", h.createOrder)
		authed.GET("/orders/:id", h.getOrder)
		authed.PUT("/orders/:id/cancel", h.cancelOrder)
		authed.GET("/users/:userId/orders", h.listUserOrders)
		authed.POST("/payments/momo/create-link", h.momoCreateLink)
		authed.GET("/payments/momo/status/:orderId", h.momoStatus)
		authed.GET("/stock/:itemId", h.getStock)
	}

	admin := authed.Group("", requireAdmin())
	{
		admin.GET("/orders", h.listOrders)
		admin.PUT("/orders/:id", h.updateOrderStatus)
		admin.DELETE("/orders/:id", h.deleteOrder)
		admin.GET("/admin/stats", h.stats)
		admin.PUT("/stock/:itemId", h.setStock)
	}
}

// healthCheck handles health check requests
func (h *Handler) healthCheck(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status": "healthy",
		"time":   time.Now().Unix(),
	})
}

// readinessCheck handles readiness check requests
func (h *Handler) readinessCheck(c *gin.Context) {
	ctx, cancel := context.WithTimeout(c.Request.Context(), 2*time.Second)
	defer cancel()

	failed := gin.H{}
	for _, rc := range h.opts.Readiness {
		if err := rc.Check(ctx); err != nil {
			h.logger.Warn("Readiness check failed", zap.String("dependency", rc.Name), zap.Error(err))
			failed[rc.Name] = "unavailable"
		}
	}
	if len(failed) > 0 {
		c.JSON(http.StatusServiceUnavailable, gin.H{
			"status":       "not_ready",
			"dependencies": failed,
			"time":         time.Now().Unix(),
		})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"status": "ready",
		"time":   time.Now().Unix(),
	})
}

// createOrder handles order creation
func (h *Handler) createOrder(c *gin.Context) {
	var req service.CreateOrderRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, "Invalid request body", err)
		return
	}

	res, err := h.orders.CreateOrder(c.Request.Context(), principal(c), &req, c.GetHeader(IdempotencyHeader))
	if err != nil {
		respondError(c, h.logger, "create_order", err)
		return
	}

	if res.Replayed {
		c.Header("Idempotent-Replayed", "true")
	}
	body := gin.H{
		"message": "Order created",
		"order":   res.Order,
	}
	if res.PayURL != "" {
		body["payUrl"] = res.PayURL
		body["paymentFallback"] = res.PaymentFallback
	}
	c.JSON(http.StatusCreated, body)
}

// getOrder handles get order by ID
func (h *Handler) getOrder(c *gin.Context) {
	order, err := h.orders.GetOrder(c.Request.Context(), principal(c), c.Param("id"))
	if err != nil {
		respondError(c, h.logger, "get_order", err)
		return
	}
	c.JSON(http.StatusOK, order)
}

func (h *Handler) cancelOrder(c *gin.Context) {
	order, err := h.orders.CancelOrder(c.Request.Context(), principal(c), c.Param("id"))
	if err != nil {
		respondError(c, h.logger, "cancel_order", err)
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"message": "Order cancelled",
		"order":   order,
	})
}

func (h *Handler) listUserOrders(c *gin.Context) {
	orders, err := h.orders.ListUserOrders(c.Request.Context(), principal(c), c.Param("userId"))
	if err != nil {
		respondError(c, h.logger, "list_user_orders", err)
		return
	}
	c.JSON(http.StatusOK, nonNil(orders))
}

func (h *Handler) listOrders(c *gin.Context) {
	orders, err := h.orders.ListOrders(c.Request.Context())
	if err != nil {
		respondError(c, h.logger, "list_orders", err)
		return
	}
	c.JSON(http.StatusOK, nonNil(orders))
}

type updateStatusRequest struct {
	Status string `json:"status" binding:"required"`
}

func (h *Handler) updateOrderStatus(c *gin.Context) {
	var req updateStatusRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, "status is required", err)
		return
	}

	order, err := h.orders.UpdateStatus(c.Request.Context(), principal(c), c.Param("id"), req.Status)
	if err != nil {
		respondError(c, h.logger, "update_order_status", err)
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"message": "Order status updated",
		"order":   order,
	})
}

func (h *Handler) deleteOrder(c *gin.Context) {
	id := c.Param("id")
	if err := h.orders.DeleteOrder(c.Request.Context(), id); err != nil {
		respondError(c, h.logger, "delete_order", err)
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"message": "Order deleted",
		"id":      id,
	})
}

func (h *Handler) stats(c *gin.Context) {
	stats, err := h.orders.Stats(c.Request.Context())
	if err != nil {
		respondError(c, h.logger, "stats", err)
		return
	}
	c.JSON(http.StatusOK, stats)
}

// momoCreateLink creates an order settled through the wallet and returns its pay URL
func (h *Handler) momoCreateLink(c *gin.Context) {
	var req service.CreateOrderRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, "Invalid request body", err)
		return
	}
	req.PaymentMethod = models.PaymentMethodMomo

	res, err := h.orders.CreateOrder(c.Request.Context(), principal(c), &req, c.GetHeader(IdempotencyHeader))
	if err != nil {
		respondError(c, h.logger, "create_payment_link", err)
		return
	}

	if res.Replayed {
		c.Header("Idempotent-Replayed", "true")
	}
	c.JSON(http.StatusOK, gin.H{
		"orderId":         res.Order.ID,
		"orderCode":       res.Order.OrderCode,
		"payUrl":          res.PayURL,
		"paymentFallback": res.PaymentFallback,
		"order":           res.Order,
	})
}

// momoNotify receives the provider's signed payment notification
func (h *Handler) momoNotify(c *gin.Context) {
	var cb momo.Callback
	if err := c.ShouldBindJSON(&cb); err != nil {
		badRequest(c, "Invalid callback payload", err)
		return
	}

	order, err := h.payments.HandleCallback(c.Request.Context(), &cb)
	if err != nil {
		respondError(c, h.logger, "payment_callback", err)
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"resultCode": 0,
		"message":    "Accepted",
		"orderCode":  order.OrderCode,
		"status":     order.Status,
	})
}

// momoReturn forwards the shopper's browser to the storefront after payment
func (h *Handler) momoReturn(c *gin.Context) {
	if h.opts.FrontendReturnURL == "" {
		c.JSON(http.StatusOK, gin.H{
			"message":    "Payment return received",
			"orderId":    c.Query("orderId"),
			"resultCode": c.Query("resultCode"),
		})
		return
	}

	target, err := url.Parse(h.opts.FrontendReturnURL)
	if err != nil {
		respondError(c, h.logger, "payment_return", err)
		return
	}
	q := target.Query()
	for k, vs := range c.Request.URL.Query() {
		for _, v := range vs {
			q.Add(k, v)
		}
	}
	target.RawQuery = q.Encode()
	c.Redirect(http.StatusFound, target.String())
}

// momoStatus polls the provider and applies the reported outcome
func (h *Handler) momoStatus(c *gin.Context) {
	order, status, err := h.payments.SyncStatus(c.Request.Context(), principal(c), c.Param("orderId"))
	if err != nil {
		respondError(c, h.logger, "payment_status", err)
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"order":            order,
		"providerResponse": status,
	})
}

func (h *Handler) getStock(c *gin.Context) {
	record, err := h.orders.Inventory().GetStock(c.Request.Context(), c.Param("itemId"))
	if err != nil {
		respondError(c, h.logger, "get_stock", err)
		return
	}
	c.JSON(http.StatusOK, record)
}

type setStockRequest struct {
	Name     string `json:"name"`
	Quantity *int   `json:"quantity" binding:"required,min=0"`
}

func (h *Handler) setStock(c *gin.Context) {
	var req setStockRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, "quantity must be a non-negative integer", err)
		return
	}

	record := models.StockRecord{ItemID: c.Param("itemId"), Name: req.Name, Quantity: *req.Quantity}
	if err := h.orders.Inventory().SetStock(c.Request.Context(), record); err != nil {
		respondError(c, h.logger, "set_stock", err)
		return
	}

	updated, err := h.orders.Inventory().GetStock(c.Request.Context(), record.ItemID)
	if err != nil {
		respondError(c, h.logger, "set_stock", err)
		return
	}
	c.JSON(http.StatusOK, updated)
}

func nonNil(orders []models.Order) []models.Order {
	if orders == nil {
		return []models.Order{}
	}
	return orders
}
