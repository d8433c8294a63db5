package helpers

import (
	"errors"
	"fmt"
	"math"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"live-auction/internal/biddingerrors"
	model "live-auction/internal/models"
	"live-auction/utils"
)

const identityKey = "identity"

// HandleBindError sends a standardized JSON error for binding failures
func HandleBindError(c *gin.Context, handlerName string, err error) {
	wrappedErr := fmt.Errorf("invalid request payload: %w", err)
	utils.JSONError(c, http.StatusBadRequest, wrappedErr, "invalid request payload")
	utils.Warn(handlerName+": binding error", map[string]any{"error": err.Error()})
}

// MapErrorToHTTP maps domain/service errors to HTTP status code and message
func MapErrorToHTTP(err error) (int, string) {
	var tooLow *biddingerrors.BidTooLowError
	var limited *biddingerrors.RateLimitError
	switch {
	case errors.Is(err, biddingerrors.ErrAuctionNotFound):
		return http.StatusNotFound, "auction not found"
	case errors.Is(err, biddingerrors.ErrUserNotFound):
		return http.StatusNotFound, "user not found"
	case errors.Is(err, biddingerrors.ErrUnauthenticated),
		errors.Is(err, biddingerrors.ErrInvalidToken),
		errors.Is(err, biddingerrors.ErrUserInactive):
		return http.StatusUnauthorized, "authentication required"
	case errors.Is(err, biddingerrors.ErrInvalidBid):
		return http.StatusBadRequest, "invalid bid details"
	case errors.Is(err, biddingerrors.ErrSelfBid):
		return http.StatusForbidden, biddingerrors.ErrSelfBid.Error()
	case errors.As(err, &tooLow):
		return http.StatusConflict, tooLow.Error()
	case errors.Is(err, biddingerrors.ErrAuctionNotLive), errors.Is(err, biddingerrors.ErrAuctionClosed):
		return http.StatusConflict, biddingerrors.UserMessage(err)
	case errors.As(err, &limited):
		return http.StatusTooManyRequests, limited.Error()
	case errors.Is(err, biddingerrors.ErrContention):
		return http.StatusServiceUnavailable, biddingerrors.ErrContention.Error()
	default:
		return http.StatusInternalServerError, "internal server error"
	}
}

// SetRetryAfter adds a Retry-After header when err is a rate limit rejection
func SetRetryAfter(c *gin.Context, err error) {
	var limited *biddingerrors.RateLimitError
	if errors.As(err, &limited) {
		c.Header("Retry-After", strconv.Itoa(int(math.Ceil(limited.RetryAfterSeconds()))))
	}
}

// RejectionDetails returns the corrective data carried by a bid rejection, or nil
func RejectionDetails(err error) gin.H {
	var tooLow *biddingerrors.BidTooLowError
	if errors.As(err, &tooLow) {
		return gin.H{"minimum_bid": tooLow.Minimum}
	}
	var limited *biddingerrors.RateLimitError
	if errors.As(err, &limited) {
		return gin.H{"retry_after": limited.RetryAfterSeconds()}
	}
	if biddingerrors.IsTransient(err) {
		return gin.H{"transient": true}
	}
	return nil
}

// SetIdentity stores the verified caller on the request context
func SetIdentity(c *gin.Context, id model.Identity) {
	c.Set(identityKey, id)
}

// IdentityFromContext returns the verified caller, if any
func IdentityFromContext(c *gin.Context) (model.Identity, bool) {
	v, ok := c.Get(identityKey)
	if !ok {
		return model.Identity{}, false
	}
	id, ok := v.(model.Identity)
	return id, ok
}

// LogSuccess is a small helper to standardize logging of successful operations
func LogSuccess(handlerName, message string, ctx map[string]any) {
	utils.Info(handlerName+": "+message, ctx)
}
