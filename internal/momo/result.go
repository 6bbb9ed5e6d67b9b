package momo

// Outcome is the internal reading of a provider result code
type Outcome string

const (
	OutcomePaid    Outcome = "paid"
	OutcomePending Outcome = "pending"
	OutcomeFailed  Outcome = "failed"
)

// ResultSuccess is the provider code for a settled payment
const ResultSuccess = 0

var pendingCodes = map[int]struct{}{
	1000: {}, // initiated, waiting for user confirmation
	7000: {}, // being processed
	7002: {}, // being processed by the payment instrument provider
	9000: {}, // authorized, not yet captured
}

var failedCodes = map[int]struct{}{
	1:    {},
	1001: {}, // insufficient funds
	1002: {}, // rejected by issuer
	1003: {}, // cancelled after authorization
	1004: {}, // over payment limit
	1005: {}, // url or QR expired
	1006: {}, // user declined
	1007: {}, // account inactive
	1017: {}, // cancelled by partner
	1026: {}, // restricted by promotion rules
	1080: {}, // refund failed
	1081: {}, // refund rejected
	2019: {}, // invalid orderGroupId
	4001: {}, // account restricted
	4100: {}, // user failed to log in
}

// MapResultCode maps a provider result code to an outcome. Codes outside the
// known tables map to pending and report known=false so the caller can log them.
func MapResultCode(code int) (outcome Outcome, known bool) {
	if code == ResultSuccess {
		return OutcomePaid, true
	}
	if _, ok := pendingCodes[code]; ok {
		return OutcomePending, true
	}
	if _, ok := failedCodes[code]; ok {
		return OutcomeFailed, true
	}
	return OutcomePending, false
}

// transientCreateCodes are create-link results that signal a provider side
// problem rather than a refusal of the request
var transientCreateCodes = map[int]struct{}{
	10: {}, // system maintenance
	41: {}, // orderId already known, settled by a status query
	99: {}, // unknown error
}
