package bidding

import (
	"errors"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"

	"live-auction/internal/biddingerrors"
	model "live-auction/internal/models"
)

func liveAuction(now time.Time) model.Auction {
	return model.Auction{
		AuctionID:         "auction-1",
		VehicleID:         "vehicle-1",
		SellerID:          "seller",
		Status:            model.StatusLive,
		StartTime:         now.Add(-time.Hour),
		EndTime:           now.Add(time.Hour),
		OriginalEndTime:   now.Add(time.Hour),
		StartingPrice:     decimal.NewFromInt(80000),
		CurrentPrice:      decimal.NewFromInt(80000),
		MinIncrement:      decimal.NewFromInt(50),
		AutoExtendEnabled: true,
		AutoExtendMinutes: 5,
		MaxExtensions:     3,
	}
}

func TestValidateBid(t *testing.T) {
	t.Parallel()

	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

	tests := []struct {
		name          string
		mutate        func(a *model.Auction)
		bidderID      string
		amount        int64
		expectedError error
		minimum       string
	}{
		{name: "valid_minimum_bid", bidderID: "alice", amount: 80050},
		{name: "valid_above_minimum", bidderID: "alice", amount: 90000},
		{name: "one_below_minimum", bidderID: "alice", amount: 80049, expectedError: biddingerrors.ErrBidTooLow, minimum: "80050"},
		{name: "equal_to_current", bidderID: "alice", amount: 80000, expectedError: biddingerrors.ErrBidTooLow, minimum: "80050"},
		{
			name:          "zero_increment_equal_to_current",
			mutate:        func(a *model.Auction) { a.MinIncrement = decimal.Zero },
			bidderID:      "alice",
			amount:        80000,
			expectedError: biddingerrors.ErrBidTooLow,
			minimum:       "80000",
		},
		{
			name:     "zero_increment_above_current",
			mutate:   func(a *model.Auction) { a.MinIncrement = decimal.Zero },
			bidderID: "alice",
			amount:   80001,
		},
		{name: "seller_bids", bidderID: "seller", amount: 90000, expectedError: biddingerrors.ErrSelfBid},
		{
			name:          "seller_bids_on_ended_auction",
			mutate:        func(a *model.Auction) { a.Status = model.StatusEnded },
			bidderID:      "seller",
			amount:        90000,
			expectedError: biddingerrors.ErrSelfBid,
		},
		{name: "seller_bids_zero", bidderID: "seller", amount: 0, expectedError: biddingerrors.ErrSelfBid},
		{name: "missing_bidder", bidderID: "", amount: 90000, expectedError: biddingerrors.ErrInvalidBid},
		{name: "negative_amount", bidderID: "alice", amount: -1, expectedError: biddingerrors.ErrInvalidBid},
		{
			name:          "scheduled_auction",
			mutate:        func(a *model.Auction) { a.Status = model.StatusScheduled },
			bidderID:      "alice",
			amount:        90000,
			expectedError: biddingerrors.ErrAuctionNotLive,
		},
		{
			name:          "past_end_time_not_yet_swept",
			mutate:        func(a *model.Auction) { a.EndTime = now.Add(-time.Second) },
			bidderID:      "alice",
			amount:        90000,
			expectedError: biddingerrors.ErrAuctionClosed,
		},
		{
			name:          "exactly_at_end_time",
			mutate:        func(a *model.Auction) { a.EndTime = now },
			bidderID:      "alice",
			amount:        90000,
			expectedError: biddingerrors.ErrAuctionClosed,
		},
	}

	for _, tc := range tests {
		tc := tc
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()

			a := liveAuction(now)
			if tc.mutate != nil {
				tc.mutate(&a)
			}

			err := ValidateBid(a, tc.bidderID, decimal.NewFromInt(tc.amount), now)
			if tc.expectedError == nil {
				require.NoError(t, err)
				return
			}

			require.ErrorIs(t, err, tc.expectedError)
			if tc.minimum != "" {
				var tooLow *biddingerrors.BidTooLowError
				require.True(t, errors.As(err, &tooLow))
				require.Equal(t, tc.minimum, tooLow.Minimum.String())
				require.Equal(t, "minimum bid is "+tc.minimum, err.Error())
			}
		})
	}
}
