package repository

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"live-auction/internal/biddingerrors"
	model "live-auction/internal/models"
)

//go:generate mockgen -destination=mock_repository.go -package=repository live-auction/internal/repository AuctionDB,AuctionTx

// AuctionTx is the write path available while an auction is held under an
// exclusive lock. Writes become visible only if the enclosing transaction
// commits.
type AuctionTx interface {
	GetAuctionForUpdate(auctionID string) (model.Auction, error)
	InsertBid(bid model.Bid) error
	UpdateAuction(auction model.Auction) error
	MarkVehicleSold(vehicleID string) error
}

// AuctionDB defines the auction storage interface for the bidding engine
type AuctionDB interface {
	// WithAuctionTx runs fn inside one transaction. Returning an error from fn
	// rolls back every staged write and releases all held locks.
	WithAuctionTx(ctx context.Context, fn func(tx AuctionTx) error) error
	GetAuction(ctx context.Context, auctionID string) (model.Auction, error)
	GetUser(ctx context.Context, userID string) (model.User, error)
	GetRecentBids(ctx context.Context, auctionID string, limit int) ([]model.BidWithBidder, error)
	ListLiveEndingBetween(ctx context.Context, from, to time.Time) ([]model.Auction, error)
	ListLiveDueBefore(ctx context.Context, t time.Time) ([]string, error)
	ListScheduledDueBefore(ctx context.Context, t time.Time) ([]string, error)
}

// MemoryRepo is a concurrency-safe in-memory implementation of AuctionDB.
// Row locks are emulated with a per-auction lock table.
type MemoryRepo struct {
	mu       sync.RWMutex
	auctions map[string]model.Auction // key: auctionID -> value: committed auction row
	bids     map[string][]model.Bid   // key: auctionID -> value: accepted bids in commit order
	users    map[string]model.User    // key: userID -> value: user
	vehicles map[string]string        // key: vehicleID -> value: vehicle status

	locks *lockTable
}

// NewMemoryRepo creates a new in-memory repository instance
func NewMemoryRepo() *MemoryRepo {
	return &MemoryRepo{
		auctions: make(map[string]model.Auction),
		bids:     make(map[string][]model.Bid),
		users:    make(map[string]model.User),
		vehicles: make(map[string]string),
		locks:    newLockTable(),
	}
}

// WithAuctionTx runs fn against a staged transaction and commits it atomically
func (r *MemoryRepo) WithAuctionTx(ctx context.Context, fn func(tx AuctionTx) error) error {
	tx := &memoryTx{
		ctx:      ctx,
		repo:     r,
		held:     make(map[string]func()),
		auctions: make(map[string]model.Auction),
	}
	defer tx.release()

	if err := fn(tx); err != nil {
		return err
	}
	return tx.commit()
}

// GetAuction returns the last committed state of an auction
func (r *MemoryRepo) GetAuction(_ context.Context, auctionID string) (model.Auction, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	a, ok := r.auctions[auctionID]
	if !ok {
		return model.Auction{}, fmt.Errorf("get auction %s: %w", auctionID, biddingerrors.ErrAuctionNotFound)
	}
	return a, nil
}

// GetUser returns a user by id
func (r *MemoryRepo) GetUser(_ context.Context, userID string) (model.User, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	u, ok := r.users[userID]
	if !ok {
		return model.User{}, fmt.Errorf("get user %s: %w", userID, biddingerrors.ErrUserNotFound)
	}
	return u, nil
}

// GetRecentBids returns up to limit accepted bids, newest first
func (r *MemoryRepo) GetRecentBids(_ context.Context, auctionID string, limit int) ([]model.BidWithBidder, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	if _, ok := r.auctions[auctionID]; !ok {
		return nil, fmt.Errorf("get bids for auction %s: %w", auctionID, biddingerrors.ErrAuctionNotFound)
	}

	bids := r.bids[auctionID]
	out := make([]model.BidWithBidder, 0, min(limit, len(bids)))
	for i := len(bids) - 1; i >= 0 && len(out) < limit; i-- {
		u := r.users[bids[i].BidderID]
		out = append(out, model.BidWithBidder{Bid: bids[i], FirstName: u.FirstName, LastName: u.LastName})
	}
	return out, nil
}

// ListLiveEndingBetween returns live auctions whose end time is in (from, to]
func (r *MemoryRepo) ListLiveEndingBetween(_ context.Context, from, to time.Time) ([]model.Auction, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var out []model.Auction
	for _, a := range r.auctions {
		if a.Status == model.StatusLive && a.EndTime.After(from) && !a.EndTime.After(to) {
			out = append(out, a)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].EndTime.Before(out[j].EndTime) })
	return out, nil
}

// ListLiveDueBefore returns ids of live auctions whose end time is at or before t
func (r *MemoryRepo) ListLiveDueBefore(_ context.Context, t time.Time) ([]string, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var ids []string
	for id, a := range r.auctions {
		if a.Status == model.StatusLive && !a.EndTime.After(t) {
			ids = append(ids, id)
		}
	}
	sort.Strings(ids)
	return ids, nil
}

// ListScheduledDueBefore returns ids of scheduled auctions whose start time is at or before t
func (r *MemoryRepo) ListScheduledDueBefore(_ context.Context, t time.Time) ([]string, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var ids []string
	for id, a := range r.auctions {
		if a.Status == model.StatusScheduled && !a.StartTime.After(t) {
			ids = append(ids, id)
		}
	}
	sort.Strings(ids)
	return ids, nil
}

// VehicleStatus returns the stored status of a vehicle
func (r *MemoryRepo) VehicleStatus(vehicleID string) string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.vehicles[vehicleID]
}

// AddAuction adds an auction to the repository. Intended for seeding and tests.
func (r *MemoryRepo) AddAuction(a model.Auction) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if a.CurrentPrice.LessThan(a.StartingPrice) {
		a.CurrentPrice = a.StartingPrice
	}
	if a.OriginalEndTime.IsZero() {
		a.OriginalEndTime = a.EndTime
	}
	r.auctions[a.AuctionID] = a
	if a.VehicleID != "" {
		if _, ok := r.vehicles[a.VehicleID]; !ok {
			r.vehicles[a.VehicleID] = model.VehicleAvailable
		}
	}
}

// AddUser adds a user to the repository. Intended for seeding and tests.
func (r *MemoryRepo) AddUser(u model.User) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.users[u.UserID] = u
}

// memoryTx stages writes until commit
type memoryTx struct {
	ctx      context.Context
	repo     *MemoryRepo
	held     map[string]func()
	auctions map[string]model.Auction
	bids     []model.Bid
	sold     []string
}

func (tx *memoryTx) GetAuctionForUpdate(auctionID string) (model.Auction, error) {
	if staged, ok := tx.auctions[auctionID]; ok {
		return staged, nil
	}

	if _, ok := tx.held[auctionID]; !ok {
		release, err := tx.repo.locks.Acquire(tx.ctx, auctionID)
		if err != nil {
			if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
				return model.Auction{}, fmt.Errorf("lock auction %s: %w", auctionID, biddingerrors.ErrContention)
			}
			return model.Auction{}, err
		}
		tx.held[auctionID] = release
	}

	a, err := tx.repo.GetAuction(tx.ctx, auctionID)
	if err != nil {
		return model.Auction{}, err
	}
	tx.auctions[auctionID] = a
	return a, nil
}

func (tx *memoryTx) InsertBid(bid model.Bid) error {
	if _, ok := tx.auctions[bid.AuctionID]; !ok {
		return fmt.Errorf("insert bid for auction %s: auction not locked by transaction", bid.AuctionID)
	}
	tx.bids = append(tx.bids, bid)
	return nil
}

func (tx *memoryTx) UpdateAuction(a model.Auction) error {
	if _, ok := tx.auctions[a.AuctionID]; !ok {
		return fmt.Errorf("update auction %s: auction not locked by transaction", a.AuctionID)
	}
	tx.auctions[a.AuctionID] = a
	return nil
}

func (tx *memoryTx) MarkVehicleSold(vehicleID string) error {
	tx.sold = append(tx.sold, vehicleID)
	return nil
}

func (tx *memoryTx) commit() error {
	r := tx.repo
	r.mu.Lock()
	defer r.mu.Unlock()

	for id, a := range tx.auctions {
		r.auctions[id] = a
	}
	for _, b := range tx.bids {
		r.bids[b.AuctionID] = append(r.bids[b.AuctionID], b)
	}
	for _, v := range tx.sold {
		r.vehicles[v] = model.VehicleSold
	}
	return nil
}

func (tx *memoryTx) release() {
	for id, release := range tx.held {
		release()
		delete(tx.held, id)
	}
}
