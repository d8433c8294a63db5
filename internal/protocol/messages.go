// Package protocol holds the event names and payloads exchanged over the
// duplex auction channel.
package protocol

import (
	"encoding/json"
	"time"

	"github.com/shopspring/decimal"
)

// Client -> server commands
const (
	CmdJoinAuction  = "join_auction"
	CmdLeaveAuction = "leave_auction"
	CmdPlaceBid     = "place_bid"
)

// Server -> client events
const (
	EventAuctionJoined     = "auction_joined"
	EventBidHistory        = "bid_history"
	EventBidPlaced         = "bid_placed"
	EventAuctionUpdated    = "auction_updated"
	EventBidError          = "bid_error"
	EventUserOutbid        = "user_outbid"
	EventAuctionEndingSoon = "auction_ending_soon"
	EventAuctionEnded      = "auction_ended"
	EventAuthError         = "auth_error"
	EventNotification      = "notification"
	EventError             = "error"
)

// Inbound is the raw client frame
type Inbound struct {
	Event string          `json:"event"`
	Data  json.RawMessage `json:"data"`
}

type JoinAuction struct {
	AuctionID string `json:"auctionId"`
}

type LeaveAuction struct {
	AuctionID string `json:"auctionId"`
}

type PlaceBid struct {
	AuctionID string          `json:"auctionId"`
	Amount    decimal.Decimal `json:"amount"`
}

type AuctionJoined struct {
	AuctionID       string          `json:"auctionId"`
	CurrentBid      decimal.Decimal `json:"currentBid"`
	BidCount        int             `json:"bidCount"`
	EndTime         time.Time       `json:"endTime"`
	Status          string          `json:"status"`
	MinBidIncrement decimal.Decimal `json:"minBidIncrement"`
}

// HistoryEntry is one bid as shown to a particular viewer
type HistoryEntry struct {
	ID          string          `json:"id"`
	Amount      decimal.Decimal `json:"amount"`
	Timestamp   time.Time       `json:"timestamp"`
	DisplayName string          `json:"displayName"`
	IsYou       bool            `json:"isYou"`
}

type BidHistory struct {
	AuctionID string         `json:"auctionId"`
	Bids      []HistoryEntry `json:"bids"`
}

type BidView struct {
	ID        string          `json:"id"`
	AuctionID string          `json:"auctionId"`
	Amount    decimal.Decimal `json:"amount"`
	Timestamp time.Time       `json:"timestamp"`
	Source    string          `json:"source"`
}

type AuctionState struct {
	CurrentBid      decimal.Decimal `json:"currentBid"`
	BidCount        int             `json:"bidCount"`
	MinBidIncrement decimal.Decimal `json:"minBidIncrement"`
	EndTime         time.Time       `json:"endTime"`
}

type ExtensionInfo struct {
	NewEndTime        time.Time `json:"newEndTime"`
	ExtensionCount    int       `json:"extensionCount"`
	MaxExtensions     int       `json:"maxExtensions"`
	ExtendedByMinutes int       `json:"extendedByMinutes"`
}

// BidPlaced is the direct acknowledgment to the bidder
type BidPlaced struct {
	Bid            BidView        `json:"bid"`
	Auction        AuctionState   `json:"auction"`
	AutoExtended   bool           `json:"autoExtended"`
	AutoExtendInfo *ExtensionInfo `json:"autoExtendInfo,omitempty"`
}

type NewBid struct {
	ID          string          `json:"id"`
	Amount      decimal.Decimal `json:"amount"`
	Timestamp   time.Time       `json:"timestamp"`
	DisplayName string          `json:"displayName"`
}

// AuctionUpdated is broadcast to the room. BidCount doubles as a sequence
// number: clients drop updates older than what they already show.
type AuctionUpdated struct {
	AuctionID       string          `json:"auctionId"`
	CurrentBid      decimal.Decimal `json:"currentBid"`
	BidCount        int             `json:"bidCount"`
	MinBidIncrement decimal.Decimal `json:"minBidIncrement"`
	LeadingBidderID string          `json:"leadingBidderId"`
	NewBid          NewBid          `json:"newBid"`
	AutoExtended    bool            `json:"autoExtended"`
	NewEndTime      *time.Time      `json:"newEndTime,omitempty"`
}

type UserOutbid struct {
	AuctionID string          `json:"auctionId"`
	NewBid    decimal.Decimal `json:"newBid"`
	YourBid   decimal.Decimal `json:"yourBid"`
}

type BidError struct {
	Message    string   `json:"message"`
	RetryAfter *float64 `json:"retryAfter,omitempty"`
	MinimumBid *string  `json:"minimumBid,omitempty"`
	Transient  bool     `json:"transient,omitempty"`
}

type AuctionEndingSoon struct {
	AuctionID        string    `json:"auctionId"`
	EndTime          time.Time `json:"endTime"`
	MinutesRemaining int       `json:"minutesRemaining"`
}

type AuctionEnded struct {
	AuctionID string           `json:"auctionId"`
	WinnerID  *string          `json:"winnerId"`
	FinalBid  *decimal.Decimal `json:"finalBid"`
	EndedAt   time.Time        `json:"endedAt"`
}

type AuthError struct {
	Message string `json:"message"`
}

type ErrorMessage struct {
	Message string `json:"message"`
}

// Notification is a personal, human-readable notice
type Notification struct {
	Type      string `json:"type"`
	Title     string `json:"title"`
	Message   string `json:"message"`
	AuctionID string `json:"auctionId"`
}
