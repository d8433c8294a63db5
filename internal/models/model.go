package models

import (
	"time"

	"github.com/shopspring/decimal"
)

func init() {
	// amounts go over the wire as JSON numbers, not quoted strings
	decimal.MarshalJSONWithoutQuotes = true
}

// Role is the authorization role of a user
type Role string

const (
	RoleClient Role = "client"
	RoleAdmin  Role = "admin"
)

// User represents a marketplace participant
type User struct {
	UserID    string `json:"user_id"`
	FirstName string `json:"first_name"`
	LastName  string `json:"last_name"`
	Role      Role   `json:"role"`
	Active    bool   `json:"active"`
	Banned    bool   `json:"banned"`
}

// Identity is the verified caller identity attached to a connection or request
type Identity struct {
	UserID string `json:"user_id"`
	Role   Role   `json:"role"`
}

// AuctionStatus is the lifecycle state of an auction
type AuctionStatus string

const (
	StatusDraft     AuctionStatus = "draft"
	StatusScheduled AuctionStatus = "scheduled"
	StatusLive      AuctionStatus = "live"
	StatusEnded     AuctionStatus = "ended"
	StatusSettled   AuctionStatus = "settled"
	StatusCancelled AuctionStatus = "cancelled"
)

// transitions lists every allowed lifecycle move. Drafts go live only after
// being scheduled; cancelled and settled are terminal.
var transitions = map[AuctionStatus][]AuctionStatus{
	StatusDraft:     {StatusScheduled, StatusCancelled},
	StatusScheduled: {StatusLive, StatusCancelled},
	StatusLive:      {StatusEnded, StatusCancelled},
	StatusEnded:     {StatusSettled},
}

// CanTransition reports whether an auction in state s may move to next
func (s AuctionStatus) CanTransition(next AuctionStatus) bool {
	for _, allowed := range transitions[s] {
		if allowed == next {
			return true
		}
	}
	return false
}

// Auction is one timed sale event bound to a vehicle
type Auction struct {
	AuctionID         string          `json:"auction_id"`
	VehicleID         string          `json:"vehicle_id"`
	SellerID          string          `json:"seller_id"`
	Status            AuctionStatus   `json:"status"`
	StartTime         time.Time       `json:"start_time"`
	EndTime           time.Time       `json:"end_time"`
	OriginalEndTime   time.Time       `json:"original_end_time"`
	StartingPrice     decimal.Decimal `json:"starting_price"`
	ReservePrice      decimal.Decimal `json:"reserve_price"`
	CurrentPrice      decimal.Decimal `json:"current_price"`
	BidCount          int             `json:"bid_count"`
	MinIncrement      decimal.Decimal `json:"min_increment"`
	AutoExtendEnabled bool            `json:"auto_extend_enabled"`
	AutoExtendMinutes int             `json:"auto_extend_minutes"`
	MaxExtensions     int             `json:"max_extensions"`
	ExtensionCount    int             `json:"extension_count"`
	LeadingBidderID   string          `json:"leading_bidder_id,omitempty"`
	WinnerID          string          `json:"winner_id,omitempty"`
	EndedAt           *time.Time      `json:"ended_at,omitempty"`
	PaymentDeadline   *time.Time      `json:"payment_deadline,omitempty"`
}

// MinimumNextBid is the lowest amount the next bid may carry
func (a Auction) MinimumNextBid() decimal.Decimal {
	return a.CurrentPrice.Add(a.MinIncrement)
}

// BidSource tags how a bid was produced
type BidSource string

const (
	SourceManual     BidSource = "manual"
	SourceAutoProxy  BidSource = "auto_proxy"
	SourceAutoExtend BidSource = "auto_extend"
)

// BidStatus is the acceptance status of a stored bid
type BidStatus string

const BidAccepted BidStatus = "accepted"

// Bid represents one accepted bid. Bids are immutable once stored.
type Bid struct {
	BidID         string          `json:"bid_id"`
	AuctionID     string          `json:"auction_id"`
	BidderID      string          `json:"bidder_id"`
	Amount        decimal.Decimal `json:"amount"`
	Source        BidSource       `json:"source"`
	ClientAddress string          `json:"client_address,omitempty"`
	Status        BidStatus       `json:"status"`
	CreatedAt     time.Time       `json:"created_at"`
}

// BidWithBidder joins a bid with its bidder's names for history views
type BidWithBidder struct {
	Bid
	FirstName string
	LastName  string
}

// Vehicle status values touched by the auction core
const (
	VehicleAvailable = "available"
	VehicleSold      = "sold"
)
