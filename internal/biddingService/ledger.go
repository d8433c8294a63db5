package bidding

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/shopspring/decimal"

	"live-auction/internal/biddingerrors"
	model "live-auction/internal/models"
	"live-auction/internal/registry"
	"live-auction/internal/repository"
	"live-auction/utils"
)

// DefaultLockWait bounds how long a bid waits for the auction lock
const DefaultLockWait = 5 * time.Second

// CommitRequest is one bid to be written
type CommitRequest struct {
	AuctionID     string
	BidderID      string
	Amount        decimal.Decimal
	Source        model.BidSource
	ClientAddress string
}

// CommitResult describes a committed bid
type CommitResult struct {
	Bid       model.Bid
	Previous  model.Auction // locked snapshot the bid was validated against
	Auction   model.Auction // state written by the commit
	Extension ExtensionDecision
	// Ticket orders this bid's fan-out after every earlier commit on the
	// same auction. The caller must release it.
	Ticket *registry.Ticket
}

// Ledger owns the transactional accept path for bids
type Ledger struct {
	repo     repository.AuctionDB
	lockWait time.Duration
	seq      *registry.Sequencer
	validate func(a model.Auction, bidderID string, amount decimal.Decimal, now time.Time) error
	now      func() time.Time
}

// NewLedger creates a ledger. A non-positive lockWait uses DefaultLockWait.
func NewLedger(repo repository.AuctionDB, lockWait time.Duration) *Ledger {
	if lockWait <= 0 {
		lockWait = DefaultLockWait
	}
	return &Ledger{
		repo:     repo,
		lockWait: lockWait,
		validate: ValidateBid,
		now:      func() time.Time { return time.Now().UTC() },
	}
}

// CommitBid locks the auction, re-validates, inserts the bid and updates the
// auction (including any extension) in one transaction.
func (l *Ledger) CommitBid(ctx context.Context, req CommitRequest) (CommitResult, error) {
	ctx, cancel := context.WithTimeout(ctx, l.lockWait)
	defer cancel()

	if req.Source == "" {
		req.Source = model.SourceManual
	}

	var res CommitResult
	err := l.repo.WithAuctionTx(ctx, func(tx repository.AuctionTx) error {
		locked, err := tx.GetAuctionForUpdate(req.AuctionID)
		if err != nil {
			return err
		}

		now := l.now()
		if err := l.validate(locked, req.BidderID, req.Amount, now); err != nil {
			return err
		}
		// validation already refuses these; a hit here is a logic defect
		if !req.Amount.GreaterThan(locked.CurrentPrice) {
			utils.Error("ledger: bid does not raise the current price", map[string]any{
				"component":     "ledger",
				"auction_id":    req.AuctionID,
				"bidder_id":     req.BidderID,
				"amount":        req.Amount.String(),
				"current_price": locked.CurrentPrice.String(),
			})
			return fmt.Errorf("ledger: %w - amount %s not above current price %s", biddingerrors.ErrIntegrityViolation, req.Amount, locked.CurrentPrice)
		}

		bid := model.Bid{
			BidID:         utils.GenerateID(),
			AuctionID:     req.AuctionID,
			BidderID:      req.BidderID,
			Amount:        req.Amount,
			Source:        req.Source,
			ClientAddress: req.ClientAddress,
			Status:        model.BidAccepted,
			CreatedAt:     now,
		}
		if err := tx.InsertBid(bid); err != nil {
			return fmt.Errorf("ledger: %w - insert bid: %v", biddingerrors.ErrProcessingFailed, err)
		}

		updated := locked
		updated.CurrentPrice = req.Amount
		updated.BidCount++
		updated.LeadingBidderID = req.BidderID

		ext := ShouldExtend(locked, now)
		if ext.Extend {
			updated.EndTime = ext.NewEndTime
			updated.ExtensionCount = ext.NewExtensionCount
		}

		if err := tx.UpdateAuction(updated); err != nil {
			return fmt.Errorf("ledger: %w - update auction: %v", biddingerrors.ErrProcessingFailed, err)
		}

		res = CommitResult{Bid: bid, Previous: locked, Auction: updated, Extension: ext}
		if l.seq != nil {
			res.Ticket = l.seq.Next(req.AuctionID)
		}
		return nil
	})
	if err != nil {
		res.Ticket.Done()
		if errors.Is(err, context.DeadlineExceeded) && !errors.Is(err, biddingerrors.ErrContention) {
			return CommitResult{}, fmt.Errorf("ledger: %w - %v", biddingerrors.ErrContention, err)
		}
		return CommitResult{}, err
	}
	return res, nil
}
