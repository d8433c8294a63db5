package biddingerrors

import (
	"errors"
	"fmt"
	"time"

	"github.com/shopspring/decimal"
)

// Repository-level errors
var (
	ErrAuctionNotFound = errors.New("auction not found")
	ErrUserNotFound    = errors.New("user not found")
	ErrContention      = errors.New("auction is busy, please try again")
)

// Authentication errors
var (
	ErrUnauthenticated = errors.New("authentication required")
	ErrInvalidToken    = errors.New("invalid identity token")
	ErrUserInactive    = errors.New("user is inactive or banned")
)

// Business rejections. These are user-facing and never retried by the server.
var (
	ErrInvalidBid     = errors.New("invalid bid")
	ErrSelfBid        = errors.New("sellers cannot bid on their own auctions")
	ErrAuctionNotLive = errors.New("auction is not open for bidding")
	ErrAuctionClosed  = errors.New("auction has ended")
	ErrBidTooLow      = errors.New("bid amount too low")
	ErrRateLimited    = errors.New("rate limit exceeded")
)

// Fatal-to-request errors
var (
	ErrIntegrityViolation = errors.New("bid integrity violation")
	ErrProcessingFailed   = errors.New("failed to process bid")
)

// BidTooLowError carries the minimum acceptable amount so the bidder can retry.
type BidTooLowError struct {
	Minimum decimal.Decimal
}

func (e *BidTooLowError) Error() string {
	return fmt.Sprintf("minimum bid is %s", e.Minimum.String())
}

func (e *BidTooLowError) Unwrap() error { return ErrBidTooLow }

// RateLimitError carries the remaining wait before the next attempt is allowed.
type RateLimitError struct {
	RetryAfter time.Duration
}

func (e *RateLimitError) Error() string {
	return fmt.Sprintf("rate limit exceeded. Please wait %.1f seconds before bidding again", e.RetryAfterSeconds())
}

func (e *RateLimitError) Unwrap() error { return ErrRateLimited }

// RetryAfterSeconds rounds the wait up to one decimal place.
func (e *RateLimitError) RetryAfterSeconds() float64 {
	tenths := (e.RetryAfter + 100*time.Millisecond - 1) / (100 * time.Millisecond)
	return float64(tenths) / 10
}

// IsRejection reports whether err is an expected, user-correctable rejection.
func IsRejection(err error) bool {
	for _, target := range []error{ErrInvalidBid, ErrSelfBid, ErrAuctionNotLive, ErrAuctionClosed, ErrBidTooLow, ErrRateLimited, ErrAuctionNotFound} {
		if errors.Is(err, target) {
			return true
		}
	}
	return false
}

// IsTransient reports whether the caller may retry the same request immediately.
func IsTransient(err error) bool {
	return errors.Is(err, ErrContention)
}

// UserMessage returns the message shown to the bidder for err.
func UserMessage(err error) string {
	var tooLow *BidTooLowError
	var limited *RateLimitError
	switch {
	case errors.As(err, &tooLow):
		return tooLow.Error()
	case errors.As(err, &limited):
		return limited.Error()
	case errors.Is(err, ErrContention):
		return ErrContention.Error()
	case errors.Is(err, ErrUnauthenticated), errors.Is(err, ErrInvalidToken), errors.Is(err, ErrUserInactive):
		return ErrUnauthenticated.Error()
	case IsRejection(err):
		for _, target := range []error{ErrSelfBid, ErrAuctionNotLive, ErrAuctionClosed, ErrAuctionNotFound, ErrInvalidBid} {
			if errors.Is(err, target) {
				return target.Error()
			}
		}
	}
	return ErrProcessingFailed.Error()
}
