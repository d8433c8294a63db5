package bidding

import (
	"fmt"
	"time"

	"github.com/shopspring/decimal"

	"live-auction/internal/biddingerrors"
	model "live-auction/internal/models"
)

// ValidateBid decides whether bidderID may bid amount on a at time now.
// It performs no I/O and must be run against a freshly locked snapshot.
func ValidateBid(a model.Auction, bidderID string, amount decimal.Decimal, now time.Time) error {
	if bidderID == "" {
		return fmt.Errorf("validator: %w - missing bidder", biddingerrors.ErrInvalidBid)
	}
	if bidderID == a.SellerID {
		return fmt.Errorf("validator: %w", biddingerrors.ErrSelfBid)
	}
	if !amount.IsPositive() {
		return fmt.Errorf("validator: %w - non-positive amount %s", biddingerrors.ErrInvalidBid, amount)
	}
	if a.Status != model.StatusLive {
		return fmt.Errorf("validator: %w - status is %s", biddingerrors.ErrAuctionNotLive, a.Status)
	}
	if !now.Before(a.EndTime) {
		return fmt.Errorf("validator: %w - ended at %s", biddingerrors.ErrAuctionClosed, a.EndTime.Format(time.RFC3339))
	}
	// a zero increment still requires raising the price
	if minimum := a.MinimumNextBid(); amount.LessThan(minimum) || !amount.GreaterThan(a.CurrentPrice) {
		return &biddingerrors.BidTooLowError{Minimum: minimum}
	}
	return nil
}
