// Package sweeper drives auctions through time-based lifecycle transitions
// independently of bid traffic: scheduled auctions go live, live auctions
// nearing their close get one ending-soon notice, and expired auctions are
// closed with their winner declared.
package sweeper

import (
	"context"
	"errors"
	"fmt"
	"math"
	"sync"
	"time"

	"live-auction/internal/biddingerrors"
	"live-auction/internal/events"
	model "live-auction/internal/models"
	"live-auction/internal/protocol"
	"live-auction/internal/registry"
	"live-auction/internal/repository"
	"live-auction/utils"
)

const (
	DefaultInterval            = 30 * time.Second
	DefaultEndingSoonThreshold = 5 * time.Minute
	DefaultPaymentGrace        = 24 * time.Hour
	DefaultLockWait            = 5 * time.Second
)

// Options tunes the sweeper. Zero values fall back to the defaults.
type Options struct {
	Interval            time.Duration
	EndingSoonThreshold time.Duration
	PaymentGrace        time.Duration
	LockWait            time.Duration
	// Sequencer orders auction_ended after every bid fan-out committed
	// before the close. Share it with the bidding service.
	Sequencer *registry.Sequencer
}

// Report summarises one sweep
type Report struct {
	Started    int
	EndingSoon int
	Closed     int
	Failed     int
}

// Sweeper runs lifecycle transitions on a fixed cadence
type Sweeper struct {
	repo      repository.AuctionDB
	rooms     *registry.Registry
	publisher events.Publisher
	opts      Options
	now       func() time.Time

	mu       sync.Mutex
	notified map[string]time.Time // key: auctionID already sent ending-soon -> its end time
}

// New creates a sweeper
func New(repo repository.AuctionDB, rooms *registry.Registry, publisher events.Publisher, opts Options) *Sweeper {
	if opts.Interval <= 0 {
		opts.Interval = DefaultInterval
	}
	if opts.EndingSoonThreshold <= 0 {
		opts.EndingSoonThreshold = DefaultEndingSoonThreshold
	}
	if opts.PaymentGrace <= 0 {
		opts.PaymentGrace = DefaultPaymentGrace
	}
	if opts.LockWait <= 0 {
		opts.LockWait = DefaultLockWait
	}
	if opts.Sequencer == nil {
		opts.Sequencer = registry.NewSequencer(0)
	}
	return &Sweeper{
		repo:      repo,
		rooms:     rooms,
		publisher: publisher,
		opts:      opts,
		now:       func() time.Time { return time.Now().UTC() },
		notified:  make(map[string]time.Time),
	}
}

// Run sweeps immediately and then on every interval. Blocks until ctx is cancelled.
func (s *Sweeper) Run(ctx context.Context) error {
	s.RunOnce(ctx)

	ticker := time.NewTicker(s.opts.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			s.RunOnce(ctx)
		}
	}
}

// RunOnce performs a single sweep. Failures are isolated per auction.
func (s *Sweeper) RunOnce(ctx context.Context) Report {
	var rep Report
	now := s.now()

	s.pruneNotified(ctx, now)

	if ids, err := s.repo.ListScheduledDueBefore(ctx, now); err != nil {
		s.logError("sweeper: failed to list scheduled auctions", "", err)
	} else {
		for _, id := range ids {
			started, err := s.StartAuction(ctx, id)
			switch {
			case err != nil:
				rep.Failed++
				s.logError("sweeper: failed to start auction", id, err)
			case started:
				rep.Started++
			}
		}
	}

	// narrow window so an auction matches on exactly one tick
	from := now.Add(s.opts.EndingSoonThreshold - s.opts.Interval)
	to := now.Add(s.opts.EndingSoonThreshold)
	if ending, err := s.repo.ListLiveEndingBetween(ctx, from, to); err != nil {
		s.logError("sweeper: failed to list auctions ending soon", "", err)
	} else {
		for _, a := range ending {
			if s.notifyEndingSoon(ctx, a, now) {
				rep.EndingSoon++
			}
		}
	}

	if ids, err := s.repo.ListLiveDueBefore(ctx, now); err != nil {
		s.logError("sweeper: failed to list expired auctions", "", err)
	} else {
		for _, id := range ids {
			closed, err := s.CloseAuction(ctx, id)
			switch {
			case err != nil:
				rep.Failed++
				s.logError("sweeper: failed to close auction", id, err)
			case closed:
				rep.Closed++
			}
		}
	}

	if rep != (Report{}) {
		utils.Info("sweep complete", map[string]any{
			"component":   "sweeper",
			"started":     rep.Started,
			"ending_soon": rep.EndingSoon,
			"closed":      rep.Closed,
			"failed":      rep.Failed,
		})
	}
	return rep
}

// StartAuction moves a scheduled auction whose start time has passed to live
func (s *Sweeper) StartAuction(ctx context.Context, auctionID string) (bool, error) {
	ctx, cancel := context.WithTimeout(ctx, s.opts.LockWait)
	defer cancel()

	started := false
	err := s.repo.WithAuctionTx(ctx, func(tx repository.AuctionTx) error {
		a, err := tx.GetAuctionForUpdate(auctionID)
		if err != nil {
			return err
		}
		if !a.Status.CanTransition(model.StatusLive) || a.StartTime.After(s.now()) {
			return nil
		}
		a.Status = model.StatusLive
		started = true
		return tx.UpdateAuction(a)
	})
	if err != nil {
		return false, fmt.Errorf("sweeper: start auction %s: %w", auctionID, err)
	}
	if started {
		utils.Info("auction started", map[string]any{"component": "sweeper", "auction_id": auctionID})
	}
	return started, nil
}

// CloseAuction ends an expired live auction under its row lock. Closing an
// auction that is no longer live, or not yet expired, is a no-op.
func (s *Sweeper) CloseAuction(ctx context.Context, auctionID string) (bool, error) {
	ctx, cancel := context.WithTimeout(ctx, s.opts.LockWait)
	defer cancel()

	var (
		closed *model.Auction
		ticket *registry.Ticket
	)
	err := s.repo.WithAuctionTx(ctx, func(tx repository.AuctionTx) error {
		a, err := tx.GetAuctionForUpdate(auctionID)
		if err != nil {
			return err
		}
		now := s.now()
		if !a.Status.CanTransition(model.StatusEnded) || a.EndTime.After(now) {
			return nil
		}

		deadline := now.Add(s.opts.PaymentGrace)
		a.Status = model.StatusEnded
		a.WinnerID = a.LeadingBidderID
		a.EndedAt = &now
		a.PaymentDeadline = &deadline

		if a.WinnerID != "" && a.VehicleID != "" {
			if err := tx.MarkVehicleSold(a.VehicleID); err != nil {
				return err
			}
		}
		if err := tx.UpdateAuction(a); err != nil {
			return err
		}
		closed = &a
		// taken under the row lock so the close is announced after every earlier bid
		ticket = s.opts.Sequencer.Next(auctionID)
		return nil
	})
	if err != nil {
		ticket.Done()
		return false, fmt.Errorf("sweeper: close auction %s: %w", auctionID, err)
	}
	if closed == nil {
		return false, nil
	}

	s.mu.Lock()
	delete(s.notified, auctionID)
	s.mu.Unlock()

	ticket.Wait()
	s.announceClose(ctx, *closed)
	ticket.Done()
	return true, nil
}

// pruneNotified forgets ending-soon notices for auctions whose end time has
// passed and which are no longer live, e.g. cancelled or closed elsewhere.
// Auctions extended past the recorded end keep their entry.
func (s *Sweeper) pruneNotified(ctx context.Context, now time.Time) {
	s.mu.Lock()
	var due []string
	for id, end := range s.notified {
		if !end.After(now) {
			due = append(due, id)
		}
	}
	s.mu.Unlock()

	for _, id := range due {
		a, err := s.repo.GetAuction(ctx, id)
		if err != nil && !errors.Is(err, biddingerrors.ErrAuctionNotFound) {
			s.logError("sweeper: failed to check notified auction", id, err)
			continue
		}

		s.mu.Lock()
		if err != nil || a.Status != model.StatusLive {
			delete(s.notified, id)
		} else {
			s.notified[id] = a.EndTime
		}
		s.mu.Unlock()
	}
}

func (s *Sweeper) notifyEndingSoon(ctx context.Context, a model.Auction, now time.Time) bool {
	s.mu.Lock()
	if _, done := s.notified[a.AuctionID]; done {
		s.mu.Unlock()
		return false
	}
	s.notified[a.AuctionID] = a.EndTime
	s.mu.Unlock()

	minutes := int(math.Ceil(a.EndTime.Sub(now).Minutes()))
	s.rooms.Broadcast(a.AuctionID, registry.Message{
		Event: protocol.EventAuctionEndingSoon,
		Data: protocol.AuctionEndingSoon{
			AuctionID:        a.AuctionID,
			EndTime:          a.EndTime,
			MinutesRemaining: minutes,
		},
	}, "")

	s.notify(a.SellerID, protocol.Notification{
		Type:      "auction_ending_soon",
		Title:     "Your auction is ending soon",
		Message:   fmt.Sprintf("Your auction ends in %d minutes. Current bid: %s", minutes, a.CurrentPrice),
		AuctionID: a.AuctionID,
	})
	if a.LeadingBidderID != "" {
		s.notify(a.LeadingBidderID, protocol.Notification{
			Type:      "auction_ending_soon",
			Title:     "Auction ending soon",
			Message:   fmt.Sprintf("An auction you are leading ends in %d minutes", minutes),
			AuctionID: a.AuctionID,
		})
	}

	s.publish(ctx, events.New(events.AuctionEndingSoon, a.AuctionID, "", map[string]any{
		"endTime":          a.EndTime,
		"minutesRemaining": minutes,
		"currentPrice":     a.CurrentPrice,
		"sellerId":         a.SellerID,
		"leadingBidderId":  a.LeadingBidderID,
	}))
	return true
}

func (s *Sweeper) announceClose(ctx context.Context, a model.Auction) {
	ended := protocol.AuctionEnded{AuctionID: a.AuctionID, EndedAt: *a.EndedAt}
	if a.WinnerID != "" {
		winner, final := a.WinnerID, a.CurrentPrice
		ended.WinnerID = &winner
		ended.FinalBid = &final
	}
	s.rooms.Broadcast(a.AuctionID, registry.Message{Event: protocol.EventAuctionEnded, Data: ended}, "")

	reserveMet := a.WinnerID != "" && a.CurrentPrice.GreaterThanOrEqual(a.ReservePrice)
	if a.WinnerID != "" {
		s.notify(a.SellerID, protocol.Notification{
			Type:      "auction_ended",
			Title:     "Your auction has ended",
			Message:   fmt.Sprintf("Your auction ended with a final bid of %s", a.CurrentPrice),
			AuctionID: a.AuctionID,
		})
		s.notify(a.WinnerID, protocol.Notification{
			Type:      "auction_won",
			Title:     "You won the auction",
			Message:   fmt.Sprintf("You won with a bid of %s. Complete payment by %s", a.CurrentPrice, a.PaymentDeadline.Format(time.RFC1123)),
			AuctionID: a.AuctionID,
		})
	} else {
		s.notify(a.SellerID, protocol.Notification{
			Type:      "auction_ended",
			Title:     "Your auction has ended",
			Message:   "Your auction ended without any bids",
			AuctionID: a.AuctionID,
		})
	}

	utils.Info("auction ended", map[string]any{
		"component":   "sweeper",
		"auction_id":  a.AuctionID,
		"winner_id":   a.WinnerID,
		"final_bid":   a.CurrentPrice.String(),
		"bid_count":   a.BidCount,
		"reserve_met": reserveMet,
	})

	endedData := map[string]any{
		"sellerId":   a.SellerID,
		"bidCount":   a.BidCount,
		"endedAt":    *a.EndedAt,
		"reserveMet": reserveMet,
	}
	if a.WinnerID != "" {
		endedData["winnerId"] = a.WinnerID
		endedData["finalBid"] = a.CurrentPrice
	}
	s.publish(ctx, events.New(events.AuctionEnded, a.AuctionID, "", endedData))

	if a.WinnerID != "" {
		s.publish(ctx, events.New(events.WinnerDeclared, a.AuctionID, a.WinnerID, map[string]any{
			"winnerId":        a.WinnerID,
			"finalBid":        a.CurrentPrice,
			"paymentDeadline": *a.PaymentDeadline,
			"vehicleId":       a.VehicleID,
		}))
	}
}

func (s *Sweeper) notify(userID string, n protocol.Notification) {
	if userID == "" {
		return
	}
	s.rooms.SendToUser(userID, registry.Message{Event: protocol.EventNotification, Data: n})
}

func (s *Sweeper) publish(ctx context.Context, e events.Event) {
	if err := s.publisher.Publish(ctx, e); err != nil {
		s.logError("sweeper: failed to publish domain event", e.AuctionID, err)
	}
}

func (s *Sweeper) logError(msg, auctionID string, err error) {
	fields := map[string]any{"component": "sweeper", "error": err.Error()}
	if auctionID != "" {
		fields["auction_id"] = auctionID
	}
	utils.Error(msg, fields)
}
