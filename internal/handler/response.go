package handler

import (
	"context"
	"errors"
	"math/big"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"rental/internal/currency"
	"rental/internal/middleware"
	"rental/internal/redis"
	"rental/internal/repository"
	"rental/internal/service"
)

// ErrorResponse represents an error response.
type ErrorResponse struct {
	Error string `json:"error"`
}

// respondError sends an error response with the appropriate HTTP status code.
func respondError(c *gin.Context, err error) {
	code := mapErrorToHTTPStatus(err)
	if code >= http.StatusInternalServerError {
		_ = c.Error(err)
	}
	c.JSON(code, ErrorResponse{Error: err.Error()})
}

// respondJSON sends a JSON response with the given status code.
func respondJSON(c *gin.Context, code int, data any) {
	c.JSON(code, data)
}

// mapErrorToHTTPStatus maps service/repository errors to HTTP status codes.
func mapErrorToHTTPStatus(err error) int {
	switch {
	// Not found errors
	case errors.Is(err, repository.ErrNotFound):
		return http.StatusNotFound

	// Validation errors - Bad Request
	case errors.Is(err, service.ErrInvalidTripWindow),
		errors.Is(err, service.ErrInvalidReadings),
		errors.Is(err, service.ErrInvalidLocation),
		errors.Is(err, service.ErrInvalidClaimAmount),
		errors.Is(err, service.ErrInvalidCarPrice),
		errors.Is(err, service.ErrInvalidAddress),
		errors.Is(err, service.ErrInvalidEventKind),
		errors.Is(err, currency.ErrUnsupportedCurrency):
		return http.StatusBadRequest

	// Payment errors
	case errors.Is(err, service.ErrInsufficientPayment),
		errors.Is(err, service.ErrInsufficientPoints):
		return http.StatusPaymentRequired

	// Forbidden errors
	case errors.Is(err, service.ErrRoleClaimMismatch),
		errors.Is(err, service.ErrForbidden):
		return http.StatusForbidden

	// Conflict errors
	case errors.Is(err, service.ErrStateViolation),
		errors.Is(err, service.ErrInvalidClaimState),
		errors.Is(err, service.ErrCarUnavailable),
		errors.Is(err, service.ErrDiscountUnavailable),
		errors.Is(err, service.ErrReceiptNotReady):
		return http.StatusConflict

	// Service unavailable
	case errors.Is(err, redis.ErrLockTimeout),
		errors.Is(err, context.DeadlineExceeded):
		return http.StatusServiceUnavailable

	// Default to internal server error
	default:
		return http.StatusInternalServerError
	}
}

// parseID reads a positive integer path parameter, responding 400 when it is not one.
func parseID(c *gin.Context, name string) (int64, bool) {
	id, err := strconv.ParseInt(c.Param(name), 10, 64)
	if err != nil || id <= 0 {
		c.JSON(http.StatusBadRequest, ErrorResponse{Error: "invalid " + name})
		return 0, false
	}
	return id, true
}

// parseAmount reads a base-10 token amount.
func parseAmount(s string) (*big.Int, bool) {
	v, ok := new(big.Int).SetString(s, 10)
	if !ok || v.Sign() < 0 {
		return nil, false
	}
	return v, true
}

func amountString(v *big.Int) string {
	if v == nil {
		return "0"
	}
	return v.String()
}

func caller(c *gin.Context) string {
	return middleware.Caller(c)
}

func limitQuery(c *gin.Context) int {
	limit, _ := strconv.Atoi(c.DefaultQuery("limit", "50"))
	return limit
}
