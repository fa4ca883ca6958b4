package exchange

import (
	"context"
	"errors"
	"strings"

	"github.com/adshao/go-binance/v2/common"
)

// Binance futures error codes the engine reacts to by name.
const (
	codeUnknown          = -1000
	codeDisconnected     = -1001
	codeTooManyRequests  = -1003
	codeTimeout          = -1007
	codeInvalidTimestamp = -1021
	codeBadAPIKey        = -2014
	codeRejectedAPIKey   = -2015
	codeReduceOnlyReject = -2022
	codeMaxStopOrders    = -4045
)

func apiError(err error) (*common.APIError, bool) {
	var apiErr *common.APIError
	if errors.As(err, &apiErr) {
		return apiErr, true
	}
	return nil, false
}

// IsReduceOnlyRejection reports the venue refusing a reduce-only order,
// which means the position it was meant to shrink is gone or smaller than
// the order.
func IsReduceOnlyRejection(err error) bool {
	if apiErr, ok := apiError(err); ok {
		return apiErr.Code == codeReduceOnlyReject
	}
	return false
}

// IsMaxStopOrders reports the per-symbol stop order cap. The code is
// checked alongside the message because some gateways only carry the text.
func IsMaxStopOrders(err error) bool {
	apiErr, ok := apiError(err)
	if !ok {
		return false
	}
	return apiErr.Code == codeMaxStopOrders ||
		strings.Contains(apiErr.Message, "Reach max stop order limit")
}

// IsAuthError reports invalid or rejected API credentials. These are fatal
// at startup and never retried.
func IsAuthError(err error) bool {
	if apiErr, ok := apiError(err); ok {
		return apiErr.Code == codeBadAPIKey || apiErr.Code == codeRejectedAPIKey
	}
	return false
}

// IsRetryable classifies an error as transient. Transport failures retry;
// venue rejections do not, because resubmitting a rejected order repeats
// the rejection (or worse, doubles a fill after an ambiguous timeout).
func IsRetryable(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return false
	}
	if apiErr, ok := apiError(err); ok {
		switch apiErr.Code {
		case codeUnknown, codeDisconnected, codeTooManyRequests, codeTimeout, codeInvalidTimestamp:
			return true
		}
		return false
	}
	// Anything without a venue error body is transport-level.
	return true
}
