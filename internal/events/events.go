// Package events defines the domain events emitted by the bidding engine and
// their delivery to external subscribers.
package events

import (
	"context"
	"time"

	"live-auction/utils"
)

//go:generate mockgen -destination=mock_publisher.go -package=events live-auction/internal/events Publisher

// Type names a domain event
type Type string

const (
	BidPlaced         Type = "bid.placed"
	UserOutbid        Type = "user.outbid"
	AuctionEndingSoon Type = "auction.ending_soon"
	AuctionEnded      Type = "auction.ended"
	WinnerDeclared    Type = "auction.winner_declared"
)

// Event is one domain event. UserID is set for events addressed to a single
// participant (outbid, winner declared) and drives user-scoped subscriptions.
type Event struct {
	ID         string         `json:"id"`
	Type       Type           `json:"event"`
	OccurredAt time.Time      `json:"occurredAt"`
	AuctionID  string         `json:"-"`
	UserID     string         `json:"-"`
	Data       map[string]any `json:"data"`
}

// New stamps a fresh event
func New(t Type, auctionID, userID string, data map[string]any) Event {
	if data == nil {
		data = map[string]any{}
	}
	data["auctionId"] = auctionID
	return Event{
		ID:         utils.GenerateID(),
		Type:       t,
		OccurredAt: time.Now().UTC(),
		AuctionID:  auctionID,
		UserID:     userID,
		Data:       data,
	}
}

// Publisher hands events to external collaborators. Implementations must not
// block the caller on network I/O.
type Publisher interface {
	Publish(ctx context.Context, event Event) error
}
