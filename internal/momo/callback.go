package momo

import (
	"encoding/json"
	"strconv"

	"storefront-orders/internal/models"

	"go.uber.org/zap"
)

// Callback is the IPN payload posted by the provider. Numeric fields accept
// both JSON numbers and numeric strings.
type Callback struct {
	PartnerCode  string      `json:"partnerCode"`
	OrderID      string      `json:"orderId"`
	RequestID    string      `json:"requestId"`
	Amount       json.Number `json:"amount"`
	OrderInfo    string      `json:"orderInfo"`
	OrderType    string      `json:"orderType"`
	TransID      json.Number `json:"transId"`
	ResultCode   json.Number `json:"resultCode"`
	Message      string      `json:"message"`
	PayType      string      `json:"payType"`
	ResponseTime json.Number `json:"responseTime"`
	ExtraData    string      `json:"extraData"`
	Signature    string      `json:"signature"`
}

// SignedFields returns the fields covered by the callback signature
func (cb *Callback) SignedFields(accessKey string) map[string]string {
	return map[string]string{
		"accessKey":    accessKey,
		"amount":       cb.Amount.String(),
		"extraData":    cb.ExtraData,
		"message":      cb.Message,
		"orderId":      cb.OrderID,
		"orderInfo":    cb.OrderInfo,
		"orderType":    cb.OrderType,
		"partnerCode":  cb.PartnerCode,
		"payType":      cb.PayType,
		"requestId":    cb.RequestID,
		"responseTime": cb.ResponseTime.String(),
		"resultCode":   cb.ResultCode.String(),
		"transId":      cb.TransID.String(),
	}
}

// VerifiedResult is a callback whose signature matched
type VerifiedResult struct {
	OrderCode  string
	TransID    string
	Amount     int64
	ResultCode int
	Message    string
	Outcome    Outcome
	Raw        map[string]any
}

// PaymentResult converts the verified callback into order payment metadata
func (r *VerifiedResult) PaymentResult() *models.PaymentResult {
	return &models.PaymentResult{
		TransID:         r.TransID,
		ProviderMessage: r.Message,
		ResultCode:      r.ResultCode,
		Raw:             r.Raw,
	}
}

// VerifyCallback recomputes the callback signature and compares it in
// constant time. Nothing in the payload is trusted until it matches.
func (c *Client) VerifyCallback(cb *Callback) (*VerifiedResult, error) {
	if c.cfg.SecretKey == "" {
		return nil, &models.SignatureMismatchError{Reason: "no shared secret configured"}
	}
	if cb.Signature == "" {
		return nil, &models.SignatureMismatchError{Reason: "missing signature"}
	}
	if !validSignature(c.cfg.SecretKey, cb.SignedFields(c.cfg.AccessKey), cb.Signature) {
		return nil, &models.SignatureMismatchError{Reason: "signature does not match payload"}
	}
	if cb.PartnerCode != c.cfg.PartnerCode {
		return nil, &models.SignatureMismatchError{Reason: "unexpected partner code"}
	}

	resultCode, err := strconv.Atoi(cb.ResultCode.String())
	if err != nil {
		return nil, models.NewValidationError("resultCode", "must be an integer")
	}
	amount, err := strconv.ParseInt(cb.Amount.String(), 10, 64)
	if err != nil {
		return nil, models.NewValidationError("amount", "must be an integer")
	}

	outcome, known := MapResultCode(resultCode)
	if !known {
		c.logger.Warn("Unrecognised payment result code",
			zap.String("order_code", cb.OrderID),
			zap.Int("result_code", resultCode),
			zap.String("operation", "callback"))
	}

	return &VerifiedResult{
		OrderCode:  cb.OrderID,
		TransID:    cb.TransID.String(),
		Amount:     amount,
		ResultCode: resultCode,
		Message:    cb.Message,
		Outcome:    outcome,
		Raw:        cb.raw(),
	}, nil
}

func (cb *Callback) raw() map[string]any {
	raw := map[string]any{
		"partnerCode":  cb.PartnerCode,
		"orderId":      cb.OrderID,
		"requestId":    cb.RequestID,
		"amount":       cb.Amount.String(),
		"orderInfo":    cb.OrderInfo,
		"orderType":    cb.OrderType,
		"transId":      cb.TransID.String(),
		"resultCode":   cb.ResultCode.String(),
		"message":      cb.Message,
		"payType":      cb.PayType,
		"responseTime": cb.ResponseTime.String(),
		"extraData":    cb.ExtraData,
	}
	return raw
}
