package gateway

import (
	"context"
	"errors"
	"net"
	"strings"

	"github.com/ethereum/go-ethereum/rpc"
)

// ErrorKind is the closed classification of provider errors. Callers branch
// on kinds; provider message matching lives here and nowhere else.
type ErrorKind int

const (
	KindOther ErrorKind = iota
	KindRateLimited
	KindTransient
	KindInsufficientGas
	KindNonceConflict
	KindUnavailable
)

func (k ErrorKind) String() string {
	switch k {
	case KindRateLimited:
		return "rate-limited"
	case KindTransient:
		return "transient"
	case KindInsufficientGas:
		return "insufficient-gas"
	case KindNonceConflict:
		return "nonce-conflict"
	case KindUnavailable:
		return "unavailable"
	default:
		return "other"
	}
}

// ErrGatewayUnavailable reports that every configured endpoint was tried and
// the retry budget is spent.
var ErrGatewayUnavailable = errors.New("gateway unavailable")

// Classify maps a provider error to an ErrorKind. It inspects JSON-RPC error
// codes and HTTP status first, then known provider message fragments.
func Classify(err error) ErrorKind {
	if err == nil {
		return KindOther
	}
	if errors.Is(err, ErrGatewayUnavailable) {
		return KindUnavailable
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return KindTransient
	}

	var httpErr rpc.HTTPError
	if errors.As(err, &httpErr) {
		switch {
		case httpErr.StatusCode == 429:
			return KindRateLimited
		case httpErr.StatusCode >= 500:
			return KindTransient
		}
	}
	var rpcErr rpc.Error
	if errors.As(err, &rpcErr) {
		// -32005 is the conventional "limit exceeded" code used by most
		// public Base endpoints.
		if rpcErr.ErrorCode() == -32005 {
			return KindRateLimited
		}
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return KindTransient
	}

	msg := strings.ToLower(err.Error())
	switch {
	case strings.Contains(msg, "insufficient funds for gas * price + value"),
		strings.Contains(msg, "insufficient funds for transfer"),
		strings.Contains(msg, "insufficient funds"):
		return KindInsufficientGas
	case strings.Contains(msg, "rate limit"),
		strings.Contains(msg, "too many requests"),
		strings.Contains(msg, "429"):
		return KindRateLimited
	case strings.Contains(msg, "nonce too low"),
		strings.Contains(msg, "replacement transaction underpriced"),
		strings.Contains(msg, "already known"):
		return KindNonceConflict
	case strings.Contains(msg, "connection refused"),
		strings.Contains(msg, "connection reset"),
		strings.Contains(msg, "i/o timeout"),
		strings.Contains(msg, "eof"),
		strings.Contains(msg, "no such host"),
		strings.Contains(msg, "bad gateway"),
		strings.Contains(msg, "service unavailable"):
		return KindTransient
	}
	return KindOther
}

// retryable reports whether an error is worth another endpoint/attempt.
func retryable(err error) bool {
	switch Classify(err) {
	case KindRateLimited, KindTransient:
		return true
	default:
		return false
	}
}
