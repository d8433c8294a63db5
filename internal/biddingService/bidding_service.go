package bidding

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/shopspring/decimal"

	"live-auction/internal/anonymize"
	"live-auction/internal/biddingerrors"
	"live-auction/internal/events"
	model "live-auction/internal/models"
	"live-auction/internal/protocol"
	"live-auction/internal/ratelimit"
	"live-auction/internal/registry"
	"live-auction/internal/repository"
	"live-auction/utils"
)

const (
	DefaultJoinHistoryLimit = 10
	DefaultHistoryLimit     = 20
	MaxHistoryLimit         = 100
)

// Options tunes the bidding service
type Options struct {
	LockWaitTimeout  time.Duration
	JoinHistoryLimit int
	// Sequencer orders fan-out per auction in commit order. Share it with
	// the sweeper so closes are announced after earlier bids.
	Sequencer *registry.Sequencer
}

// PlaceBidCommand is one decoded bid request
type PlaceBidCommand struct {
	Identity      model.Identity
	AuctionID     string
	Amount        decimal.Decimal
	Source        model.BidSource
	ClientAddress string
}

// PlaceBidResult carries the bidder's acknowledgment and every message the
// transport must deliver, in order. Deliver them with
// Registry.DispatchInOrder so Ticket is released.
type PlaceBidResult struct {
	Ack       protocol.BidPlaced
	Envelopes []registry.Envelope
	Ticket    *registry.Ticket
}

// BiddingService coordinates rate limiting, the ledger, fan-out and domain events
type BiddingService struct {
	repo             repository.AuctionDB
	ledger           *Ledger
	limiter          *ratelimit.Limiter
	names            *anonymize.Formatter
	publisher        events.Publisher
	joinHistoryLimit int
}

// NewBiddingService creates a new BiddingService instance
func NewBiddingService(repo repository.AuctionDB, limiter *ratelimit.Limiter, names *anonymize.Formatter, publisher events.Publisher, opts Options) *BiddingService {
	if opts.JoinHistoryLimit <= 0 {
		opts.JoinHistoryLimit = DefaultJoinHistoryLimit
	}
	if opts.Sequencer == nil {
		opts.Sequencer = registry.NewSequencer(0)
	}
	ledger := NewLedger(repo, opts.LockWaitTimeout)
	ledger.seq = opts.Sequencer

	return &BiddingService{
		repo:             repo,
		ledger:           ledger,
		limiter:          limiter,
		names:            names,
		publisher:        publisher,
		joinHistoryLimit: opts.JoinHistoryLimit,
	}
}

// PlaceBid runs one bid through the rate limiter and the ledger. Nothing is
// delivered here: on success the caller dispatches the returned envelopes
// in commit order through the result's ticket.
func (s *BiddingService) PlaceBid(ctx context.Context, cmd PlaceBidCommand) (PlaceBidResult, error) {
	if cmd.Identity.UserID == "" {
		return PlaceBidResult{}, fmt.Errorf("service: %w", biddingerrors.ErrUnauthenticated)
	}
	if cmd.AuctionID == "" {
		return PlaceBidResult{}, fmt.Errorf("service: %w - missing auction id", biddingerrors.ErrInvalidBid)
	}

	if d := s.limiter.CheckAndRecord(cmd.Identity.UserID); !d.Allowed {
		return PlaceBidResult{}, &biddingerrors.RateLimitError{RetryAfter: d.RetryAfter}
	}

	res, err := s.ledger.CommitBid(ctx, CommitRequest{
		AuctionID:     cmd.AuctionID,
		BidderID:      cmd.Identity.UserID,
		Amount:        cmd.Amount,
		Source:        cmd.Source,
		ClientAddress: cmd.ClientAddress,
	})
	if err != nil {
		s.logRejected(cmd, err)
		return PlaceBidResult{}, err
	}

	bid, auction := res.Bid, res.Auction
	utils.Info("bid accepted", map[string]any{
		"component":     "bidding",
		"auction_id":    auction.AuctionID,
		"bid_id":        bid.BidID,
		"bidder_id":     bid.BidderID,
		"amount":        bid.Amount.String(),
		"bid_count":     auction.BidCount,
		"auto_extended": res.Extension.Extend,
	})

	ack := protocol.BidPlaced{
		Bid: protocol.BidView{
			ID:        bid.BidID,
			AuctionID: bid.AuctionID,
			Amount:    bid.Amount,
			Timestamp: bid.CreatedAt,
			Source:    string(bid.Source),
		},
		Auction: protocol.AuctionState{
			CurrentBid:      auction.CurrentPrice,
			BidCount:        auction.BidCount,
			MinBidIncrement: auction.MinIncrement,
			EndTime:         auction.EndTime,
		},
		AutoExtended: res.Extension.Extend,
	}
	if res.Extension.Extend {
		ack.AutoExtendInfo = &protocol.ExtensionInfo{
			NewEndTime:        auction.EndTime,
			ExtensionCount:    auction.ExtensionCount,
			MaxExtensions:     auction.MaxExtensions,
			ExtendedByMinutes: auction.AutoExtendMinutes,
		}
	}

	update := protocol.AuctionUpdated{
		AuctionID:       auction.AuctionID,
		CurrentBid:      auction.CurrentPrice,
		BidCount:        auction.BidCount,
		MinBidIncrement: auction.MinIncrement,
		LeadingBidderID: auction.LeadingBidderID,
		NewBid: protocol.NewBid{
			ID:          bid.BidID,
			Amount:      bid.Amount,
			Timestamp:   bid.CreatedAt,
			DisplayName: s.publicName(ctx, bid.BidderID),
		},
		AutoExtended: res.Extension.Extend,
	}
	if res.Extension.Extend {
		end := auction.EndTime
		update.NewEndTime = &end
	}

	envs := []registry.Envelope{
		{Scope: registry.ScopeSender, Message: registry.Message{Event: protocol.EventBidPlaced, Data: ack}},
		{Scope: registry.ScopeRoom, AuctionID: auction.AuctionID, Message: registry.Message{Event: protocol.EventAuctionUpdated, Data: update}},
	}

	previous := res.Previous.LeadingBidderID
	if previous != "" && previous != bid.BidderID {
		envs = append(envs, registry.Envelope{
			Scope:  registry.ScopeUser,
			UserID: previous,
			Message: registry.Message{Event: protocol.EventUserOutbid, Data: protocol.UserOutbid{
				AuctionID: auction.AuctionID,
				NewBid:    bid.Amount,
				YourBid:   res.Previous.CurrentPrice,
			}},
		})
		s.publish(ctx, events.New(events.UserOutbid, auction.AuctionID, previous, map[string]any{
			"userId":       previous,
			"newBidderId":  bid.BidderID,
			"newBid":       bid.Amount,
			"yourBid":      res.Previous.CurrentPrice,
			"currentPrice": auction.CurrentPrice,
		}))
	}

	data := map[string]any{
		"bidId":        bid.BidID,
		"bidderId":     bid.BidderID,
		"amount":       bid.Amount,
		"source":       string(bid.Source),
		"bidCount":     auction.BidCount,
		"autoExtended": res.Extension.Extend,
	}
	if res.Extension.Extend {
		data["newEndTime"] = auction.EndTime
	}
	s.publish(ctx, events.New(events.BidPlaced, auction.AuctionID, bid.BidderID, data))

	return PlaceBidResult{Ack: ack, Envelopes: envs, Ticket: res.Ticket}, nil
}

// JoinAuction returns the state sync sent to a connection joining a room:
// auction_joined followed by bid_history.
func (s *BiddingService) JoinAuction(ctx context.Context, viewer model.Identity, auctionID string) ([]registry.Envelope, error) {
	if auctionID == "" {
		return nil, fmt.Errorf("service: %w - missing auction id", biddingerrors.ErrInvalidBid)
	}

	a, err := s.repo.GetAuction(ctx, auctionID)
	if err != nil {
		return nil, fmt.Errorf("service: failed to get auction %s: %w", auctionID, err)
	}
	history, err := s.GetBidHistory(ctx, viewer, auctionID, s.joinHistoryLimit)
	if err != nil {
		return nil, err
	}

	joined := protocol.AuctionJoined{
		AuctionID:       a.AuctionID,
		CurrentBid:      a.CurrentPrice,
		BidCount:        a.BidCount,
		EndTime:         a.EndTime,
		Status:          string(a.Status),
		MinBidIncrement: a.MinIncrement,
	}
	return []registry.Envelope{
		{Scope: registry.ScopeSender, Message: registry.Message{Event: protocol.EventAuctionJoined, Data: joined}},
		{Scope: registry.ScopeSender, Message: registry.Message{Event: protocol.EventBidHistory, Data: protocol.BidHistory{AuctionID: auctionID, Bids: history}}},
	}, nil
}

// GetAuction returns the committed state of an auction
func (s *BiddingService) GetAuction(ctx context.Context, auctionID string) (model.Auction, error) {
	if auctionID == "" {
		return model.Auction{}, fmt.Errorf("service: %w - empty auction ID", biddingerrors.ErrInvalidBid)
	}

	a, err := s.repo.GetAuction(ctx, auctionID)
	if err != nil {
		return model.Auction{}, fmt.Errorf("service: failed to get auction %s: %w", auctionID, err)
	}
	return a, nil
}

// GetBidHistory returns up to limit recent bids, newest first, with display
// names resolved for viewer.
func (s *BiddingService) GetBidHistory(ctx context.Context, viewer model.Identity, auctionID string, limit int) ([]protocol.HistoryEntry, error) {
	if auctionID == "" {
		return nil, fmt.Errorf("service: %w - empty auction ID", biddingerrors.ErrInvalidBid)
	}
	if limit <= 0 {
		limit = DefaultHistoryLimit
	}
	limit = min(limit, MaxHistoryLimit)

	a, err := s.repo.GetAuction(ctx, auctionID)
	if err != nil {
		return nil, fmt.Errorf("service: failed to get auction %s: %w", auctionID, err)
	}
	bids, err := s.repo.GetRecentBids(ctx, auctionID, limit)
	if err != nil {
		return nil, fmt.Errorf("service: failed to get bids for auction %s: %w", auctionID, err)
	}

	v := anonymize.Viewer{UserID: viewer.UserID, Role: viewer.Role}
	out := make([]protocol.HistoryEntry, 0, len(bids))
	for _, b := range bids {
		out = append(out, protocol.HistoryEntry{
			ID:          b.BidID,
			Amount:      b.Amount,
			Timestamp:   b.CreatedAt,
			DisplayName: s.names.Format(anonymize.Bidder{ID: b.BidderID, FirstName: b.FirstName, LastName: b.LastName}, v, a.SellerID),
			IsYou:       viewer.UserID != "" && viewer.UserID == b.BidderID,
		})
	}
	return out, nil
}

// ErrorEnvelope builds the bid_error reply for a failed PlaceBid
func ErrorEnvelope(err error) registry.Envelope {
	payload := protocol.BidError{
		Message:   biddingerrors.UserMessage(err),
		Transient: biddingerrors.IsTransient(err),
	}

	var limited *biddingerrors.RateLimitError
	if errors.As(err, &limited) {
		secs := limited.RetryAfterSeconds()
		payload.RetryAfter = &secs
	}
	var tooLow *biddingerrors.BidTooLowError
	if errors.As(err, &tooLow) {
		m := tooLow.Minimum.String()
		payload.MinimumBid = &m
	}

	return registry.Envelope{Scope: registry.ScopeSender, Message: registry.Message{Event: protocol.EventBidError, Data: payload}}
}

func (s *BiddingService) publicName(ctx context.Context, userID string) string {
	u, err := s.repo.GetUser(ctx, userID)
	if err != nil {
		utils.Warn("bidding: could not resolve bidder name", map[string]any{
			"component": "bidding",
			"bidder_id": userID,
			"error":     err.Error(),
		})
		return anonymize.Obfuscate("", "")
	}
	return s.names.Public(anonymize.Bidder{ID: u.UserID, FirstName: u.FirstName, LastName: u.LastName})
}

func (s *BiddingService) publish(ctx context.Context, e events.Event) {
	if err := s.publisher.Publish(ctx, e); err != nil {
		utils.Warn("bidding: failed to publish domain event", map[string]any{
			"component":  "bidding",
			"event":      string(e.Type),
			"auction_id": e.AuctionID,
			"error":      err.Error(),
		})
	}
}

func (s *BiddingService) logRejected(cmd PlaceBidCommand, err error) {
	fields := map[string]any{
		"component":  "bidding",
		"auction_id": cmd.AuctionID,
		"bidder_id":  cmd.Identity.UserID,
		"amount":     cmd.Amount.String(),
		"error":      err.Error(),
	}
	switch {
	case biddingerrors.IsRejection(err):
		utils.Debug("bid rejected", fields)
	case biddingerrors.IsTransient(err):
		utils.Warn("bid hit lock contention", fields)
	default:
		utils.Error("bid failed", fields)
	}
}
