package api

import (
	"errors"
	"net/http"

	"storefront-orders/internal/models"
	"storefront-orders/internal/service"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

// Error kinds returned in the "error" field of failed responses
const (
	kindValidation          = "validation_error"
	kindInsufficientStock   = "insufficient_stock"
	kindNotFound            = "not_found"
	kindInvalidIdentifier   = "invalid_identifier"
	kindInvalidTransition   = "invalid_transition"
	kindSignatureMismatch   = "signature_mismatch"
	kindUnauthorized        = "unauthorized"
	kindForbidden           = "forbidden"
	kindConflict            = "checkout_in_progress"
	kindPaymentRejected     = "payment_rejected"
	kindUpstreamUnavailable = "payment_provider_unavailable"
	kindUpstreamTimeout     = "payment_provider_timeout"
	kindInternal            = "internal_error"
)

type errorResponse struct {
	status  int
	kind    string
	message string
	details gin.H
}

// classify maps a domain error onto an HTTP status and a machine readable kind
func classify(err error) errorResponse {
	var (
		verr         *models.ValidationError
		insufficient *models.InsufficientStockError
		notFound     *models.NotFoundError
		badID        *models.InvalidIdentifierError
		transition   *models.InvalidTransitionError
		mismatch     *models.SignatureMismatchError
		rejected     *models.ProviderRejectedError
		unavailable  *models.UpstreamUnavailableError
		timeout      *models.UpstreamTimeoutError
	)

	switch {
	case errors.As(err, &verr):
		details := gin.H{}
		for field, problem := range verr.Fields {
			details[field] = problem
		}
		return errorResponse{http.StatusBadRequest, kindValidation, "Invalid request", gin.H{"fields": details}}
	case errors.As(err, &insufficient):
		return errorResponse{http.StatusBadRequest, kindInsufficientStock, insufficient.Error(), gin.H{
			"itemId":    insufficient.ItemID,
			"name":      insufficient.Name,
			"requested": insufficient.Requested,
			"available": insufficient.Available,
		}}
	case errors.As(err, &notFound):
		return errorResponse{http.StatusNotFound, kindNotFound, notFound.Error(), nil}
	case errors.As(err, &badID):
		return errorResponse{http.StatusBadRequest, kindInvalidIdentifier, badID.Error(), nil}
	case errors.As(err, &transition):
		return errorResponse{http.StatusBadRequest, kindInvalidTransition, transition.Error(), gin.H{
			"from": transition.From,
			"to":   transition.To,
		}}
	case errors.As(err, &mismatch):
		return errorResponse{http.StatusBadRequest, kindSignatureMismatch, "Invalid signature", nil}
	case errors.Is(err, models.ErrForbidden):
		return errorResponse{http.StatusForbidden, kindForbidden, "You are not allowed to access this resource", nil}
	case errors.Is(err, models.ErrCheckoutInProgress):
		return errorResponse{http.StatusConflict, kindConflict, err.Error(), nil}
	case errors.As(err, &rejected):
		return errorResponse{http.StatusBadGateway, kindPaymentRejected, "The payment provider rejected the payment", gin.H{
			"resultCode":      rejected.ResultCode,
			"providerMessage": rejected.Message,
		}}
	case errors.As(err, &timeout):
		return errorResponse{http.StatusGatewayTimeout, kindUpstreamTimeout, "The payment provider did not respond in time, please try again later", nil}
	case errors.As(err, &unavailable):
		return errorResponse{http.StatusServiceUnavailable, kindUpstreamUnavailable, "The payment provider could not be reached, please try again later", nil}
	}
	return errorResponse{http.StatusInternalServerError, kindInternal, "Internal server error", nil}
}

// respondError writes the error response for err. Server errors are logged
// with full context and answered without internal detail.
func respondError(c *gin.Context, logger *zap.Logger, operation string, err error) {
	resp := classify(err)

	var linkErr *service.PaymentLinkError
	if errors.As(err, &linkErr) && linkErr.Order != nil {
		if resp.details == nil {
			resp.details = gin.H{}
		}
		resp.details["orderId"] = linkErr.Order.ID
		resp.details["orderCode"] = linkErr.Order.OrderCode
		resp.details["status"] = linkErr.Order.Status
	}

	if resp.status >= http.StatusInternalServerError {
		logger.Error("Request failed",
			zap.String("operation", operation),
			zap.String("path", c.FullPath()),
			zap.Int("status", resp.status),
			zap.Error(err))
	}

	body := gin.H{"error": resp.kind, "message": resp.message}
	if len(resp.details) > 0 {
		body["details"] = resp.details
	}
	c.AbortWithStatusJSON(resp.status, body)
}

func badRequest(c *gin.Context, message string, err error) {
	body := gin.H{"error": kindValidation, "message": message}
	if err != nil {
		body["details"] = gin.H{"reason": err.Error()}
	}
	c.AbortWithStatusJSON(http.StatusBadRequest, body)
}
