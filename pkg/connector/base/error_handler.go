package base

import (
	"strings"
	"sync"

	"github.com/ajitpratap0/lokitail/pkg/errors"
	"go.uber.org/zap"
)

// ErrorHandler applies the connector's error policy: recoverable errors are
// logged and counted, fatal errors are logged and handed back to the caller.
type ErrorHandler struct {
	logger      *zap.Logger
	errorCounts map[errors.ErrorType]int64
	totalErrors int64
	fatalErrors int64
	errorMutex  sync.RWMutex
}

// NewErrorHandler creates a new error handler
func NewErrorHandler(logger *zap.Logger) *ErrorHandler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &ErrorHandler{
		logger:      logger,
		errorCounts: make(map[errors.ErrorType]int64),
	}
}

// Handle records err and returns it only when it must stop the connector.
// A nil err returns nil.
func (eh *ErrorHandler) Handle(err error, fields ...zap.Field) error {
	if err == nil {
		return nil
	}

	errType := errors.TypeOf(err)
	fatal := errors.IsFatal(err)

	eh.errorMutex.Lock()
	eh.totalErrors++
	eh.errorCounts[errType]++
	if fatal {
		eh.fatalErrors++
	}
	eh.errorMutex.Unlock()

	fields = append(fields, zap.Error(err), zap.String("error_type", string(errType)))
	if e := asError(err); e != nil {
		for k, v := range e.Details {
			fields = append(fields, zap.Any(k, v))
		}
	}

	if fatal {
		eh.logger.Error("fatal error", fields...)
		return err
	}
	eh.logger.Warn("recoverable error, continuing", fields...)
	return nil
}

// GetErrorStats returns error statistics
func (eh *ErrorHandler) GetErrorStats() map[string]interface{} {
	eh.errorMutex.RLock()
	defer eh.errorMutex.RUnlock()

	byType := make(map[string]int64, len(eh.errorCounts))
	for k, v := range eh.errorCounts {
		byType[string(k)] = v
	}
	return map[string]interface{}{
		"total_errors":   eh.totalErrors,
		"fatal_errors":   eh.fatalErrors,
		"errors_by_type": byType,
	}
}

// Count returns how many errors of the given type were handled
func (eh *ErrorHandler) Count(errType errors.ErrorType) int64 {
	eh.errorMutex.RLock()
	defer eh.errorMutex.RUnlock()
	return eh.errorCounts[errType]
}

func asError(err error) *errors.Error {
	var e *errors.Error
	if errors.As(err, &e) {
		return e
	}
	return nil
}

var (
	nonRetryablePatterns = []string{
		"invalid credentials",
		"authentication failed",
		"unauthorized",
		"forbidden",
		"access denied",
		"permission denied",
		"no such host",
		"invalid configuration",
		"unsupported",
	}

	retryablePatterns = []string{
		"timeout",
		"connection refused",
		"connection reset",
		"broken pipe",
		"temporary failure",
		"service unavailable",
		"too many requests",
		"i/o",
		"eof",
	}
)

// ShouldRetryConnect reports whether a failed sink connection attempt is
// worth retrying. Typed timeout and connection errors always are; otherwise
// the decision falls back to message patterns.
func ShouldRetryConnect(err error) bool {
	if err == nil {
		return false
	}
	if errors.IsType(err, errors.ErrorTypeTimeout) || errors.IsType(err, errors.ErrorTypeConnection) {
		return true
	}

	msg := strings.ToLower(err.Error())
	for _, p := range nonRetryablePatterns {
		if strings.Contains(msg, p) {
			return false
		}
	}
	for _, p := range retryablePatterns {
		if strings.Contains(msg, p) {
			return true
		}
	}
	return false
}
