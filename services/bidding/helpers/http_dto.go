package helpers

import (
	"time"

	"github.com/shopspring/decimal"

	model "live-auction/internal/models"
)

// Request/Response DTOs
type PlaceBidRequest struct {
	Amount decimal.Decimal `json:"amount"`
}

type HistoryQuery struct {
	Limit int `form:"limit" binding:"omitempty,min=1,max=100"`
}

type AuctionResponse struct {
	AuctionID         string          `json:"auction_id"`
	VehicleID         string          `json:"vehicle_id"`
	SellerID          string          `json:"seller_id"`
	Status            string          `json:"status"`
	StartTime         string          `json:"start_time"`
	EndTime           string          `json:"end_time"`
	StartingPrice     decimal.Decimal `json:"starting_price"`
	CurrentPrice      decimal.Decimal `json:"current_price"`
	MinimumNextBid    decimal.Decimal `json:"minimum_next_bid"`
	MinIncrement      decimal.Decimal `json:"min_increment"`
	BidCount          int             `json:"bid_count"`
	AutoExtendEnabled bool            `json:"auto_extend_enabled"`
	ExtensionCount    int             `json:"extension_count"`
	MaxExtensions     int             `json:"max_extensions"`
	WinnerID          string          `json:"winner_id,omitempty"`
}

// NewAuctionResponse is the public snapshot of a; reserve price and the
// leading bidder stay private.
func NewAuctionResponse(a model.Auction) AuctionResponse {
	return AuctionResponse{
		AuctionID:         a.AuctionID,
		VehicleID:         a.VehicleID,
		SellerID:          a.SellerID,
		Status:            string(a.Status),
		StartTime:         a.StartTime.UTC().Format(time.RFC3339),
		EndTime:           a.EndTime.UTC().Format(time.RFC3339),
		StartingPrice:     a.StartingPrice,
		CurrentPrice:      a.CurrentPrice,
		MinimumNextBid:    a.MinimumNextBid(),
		MinIncrement:      a.MinIncrement,
		BidCount:          a.BidCount,
		AutoExtendEnabled: a.AutoExtendEnabled,
		ExtensionCount:    a.ExtensionCount,
		MaxExtensions:     a.MaxExtensions,
		WinnerID:          a.WinnerID,
	}
}
