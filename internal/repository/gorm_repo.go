package repository

import (
	"context"
	"time"

	mysqldriver "github.com/go-sql-driver/mysql"
	"github.com/pkg/errors"
	"github.com/shopspring/decimal"
	"gorm.io/driver/mysql"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
	"gorm.io/gorm/logger"

	"live-auction/internal/biddingerrors"
	model "live-auction/internal/models"
)

// MySQL error numbers that mean "another transaction holds the row"
const (
	mysqlLockWaitTimeout = 1205
	mysqlDeadlock        = 1213
)

type auctionRow struct {
	ID                string          `gorm:"column:id;type:varchar(36);primaryKey"`
	VehicleID         string          `gorm:"column:vehicle_id;type:varchar(36);index"`
	SellerID          string          `gorm:"column:seller_id;type:varchar(36);index"`
	Status            string          `gorm:"column:status;type:varchar(16);index:idx_auctions_status_end"`
	StartTime         time.Time       `gorm:"column:start_time"`
	EndTime           time.Time       `gorm:"column:end_time;index:idx_auctions_status_end"`
	OriginalEndTime   time.Time       `gorm:"column:original_end_time"`
	StartingPrice     decimal.Decimal `gorm:"column:starting_price;type:decimal(14,2)"`
	ReservePrice      decimal.Decimal `gorm:"column:reserve_price;type:decimal(14,2)"`
	CurrentPrice      decimal.Decimal `gorm:"column:current_bid;type:decimal(14,2)"`
	BidCount          int             `gorm:"column:bid_count"`
	MinIncrement      decimal.Decimal `gorm:"column:min_bid_increment;type:decimal(14,2)"`
	AutoExtendEnabled bool            `gorm:"column:auto_extend_enabled"`
	AutoExtendMinutes int             `gorm:"column:auto_extend_minutes"`
	MaxExtensions     int             `gorm:"column:max_auto_extensions"`
	ExtensionCount    int             `gorm:"column:auto_ext_count"`
	LeadingBidderID   *string         `gorm:"column:leading_bidder_id;type:varchar(36)"`
	WinnerID          *string         `gorm:"column:winner_id;type:varchar(36)"`
	EndedAt           *time.Time      `gorm:"column:ended_at"`
	PaymentDeadline   *time.Time      `gorm:"column:payment_deadline"`
}

func (auctionRow) TableName() string { return "auctions" }

type bidRow struct {
	ID        string          `gorm:"column:id;type:varchar(36);primaryKey"`
	AuctionID string          `gorm:"column:auction_id;type:varchar(36);index:idx_bids_auction_created"`
	BidderID  string          `gorm:"column:bidder_id;type:varchar(36);index"`
	Amount    decimal.Decimal `gorm:"column:amount;type:decimal(14,2)"`
	Status    string          `gorm:"column:status;type:varchar(16)"`
	Source    string          `gorm:"column:bid_source;type:varchar(16)"`
	IPAddress string          `gorm:"column:ip_address;type:varchar(64)"`
	CreatedAt time.Time       `gorm:"column:created_at;index:idx_bids_auction_created"`
}

func (bidRow) TableName() string { return "bids" }

type userRow struct {
	ID        string `gorm:"column:id;type:varchar(36);primaryKey"`
	FirstName string `gorm:"column:first_name"`
	LastName  string `gorm:"column:last_name"`
	Role      string `gorm:"column:role;type:varchar(16)"`
	IsActive  bool   `gorm:"column:is_active"`
	IsBanned  bool   `gorm:"column:is_banned"`
}

func (userRow) TableName() string { return "users" }

type vehicleRow struct {
	ID     string `gorm:"column:id;type:varchar(36);primaryKey"`
	Status string `gorm:"column:status;type:varchar(16)"`
}

func (vehicleRow) TableName() string { return "vehicles" }

type bidHistoryRow struct {
	ID        string          `gorm:"column:id"`
	AuctionID string          `gorm:"column:auction_id"`
	BidderID  string          `gorm:"column:bidder_id"`
	Amount    decimal.Decimal `gorm:"column:amount"`
	Status    string          `gorm:"column:status"`
	Source    string          `gorm:"column:bid_source"`
	IPAddress string          `gorm:"column:ip_address"`
	CreatedAt time.Time       `gorm:"column:created_at"`
	FirstName string          `gorm:"column:first_name"`
	LastName  string          `gorm:"column:last_name"`
}

// GormRepo is the relational implementation of AuctionDB. Row locks are
// taken with SELECT ... FOR UPDATE.
type GormRepo struct {
	db *gorm.DB
}

// OpenMySQL opens a gorm connection to MySQL
func OpenMySQL(dsn string) (*gorm.DB, error) {
	db, err := gorm.Open(mysql.Open(dsn), &gorm.Config{
		Logger:  logger.Default.LogMode(logger.Silent),
		NowFunc: func() time.Time { return time.Now().UTC() },
	})
	if err != nil {
		return nil, errors.Wrap(err, "failed on open mysql")
	}
	return db, nil
}

// NewGormRepo wraps an open gorm connection
func NewGormRepo(db *gorm.DB) *GormRepo {
	return &GormRepo{db: db}
}

// AutoMigrate creates or updates the tables the auction core touches
func (r *GormRepo) AutoMigrate() error {
	if err := r.db.AutoMigrate(&auctionRow{}, &bidRow{}, &userRow{}, &vehicleRow{}); err != nil {
		return errors.Wrap(err, "failed on auto migrate")
	}
	return nil
}

// WithAuctionTx runs fn in a database transaction
func (r *GormRepo) WithAuctionTx(ctx context.Context, fn func(tx AuctionTx) error) error {
	err := r.db.WithContext(ctx).Transaction(func(db *gorm.DB) error {
		return fn(&gormTx{db: db})
	})
	return classifyDBError(err)
}

// GetAuction reads an auction without locking
func (r *GormRepo) GetAuction(ctx context.Context, auctionID string) (model.Auction, error) {
	var row auctionRow
	if err := r.db.WithContext(ctx).Where("id = ?", auctionID).Take(&row).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return model.Auction{}, errors.Wrapf(biddingerrors.ErrAuctionNotFound, "get auction %s", auctionID)
		}
		return model.Auction{}, errors.Wrap(err, "failed on query auction")
	}
	return row.toModel(), nil
}

// GetUser reads a user
func (r *GormRepo) GetUser(ctx context.Context, userID string) (model.User, error) {
	var row userRow
	if err := r.db.WithContext(ctx).Where("id = ?", userID).Take(&row).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return model.User{}, errors.Wrapf(biddingerrors.ErrUserNotFound, "get user %s", userID)
		}
		return model.User{}, errors.Wrap(err, "failed on query user")
	}
	return model.User{
		UserID:    row.ID,
		FirstName: row.FirstName,
		LastName:  row.LastName,
		Role:      model.Role(row.Role),
		Active:    row.IsActive,
		Banned:    row.IsBanned,
	}, nil
}

// GetRecentBids returns up to limit accepted bids joined with bidder names, newest first
func (r *GormRepo) GetRecentBids(ctx context.Context, auctionID string, limit int) ([]model.BidWithBidder, error) {
	var rows []bidHistoryRow
	err := r.db.WithContext(ctx).
		Table("bids AS b").
		Select("b.id, b.auction_id, b.bidder_id, b.amount, b.status, b.bid_source, b.ip_address, b.created_at, u.first_name, u.last_name").
		Joins("LEFT JOIN users u ON u.id = b.bidder_id").
		Where("b.auction_id = ? AND b.status = ?", auctionID, string(model.BidAccepted)).
		Order("b.created_at DESC").
		Limit(limit).
		Scan(&rows).Error
	if err != nil {
		return nil, errors.Wrap(err, "failed on query bid history")
	}

	out := make([]model.BidWithBidder, 0, len(rows))
	for _, row := range rows {
		bid := bidRow{
			ID:        row.ID,
			AuctionID: row.AuctionID,
			BidderID:  row.BidderID,
			Amount:    row.Amount,
			Status:    row.Status,
			Source:    row.Source,
			IPAddress: row.IPAddress,
			CreatedAt: row.CreatedAt,
		}
		out = append(out, model.BidWithBidder{Bid: bid.toModel(), FirstName: row.FirstName, LastName: row.LastName})
	}
	return out, nil
}

// ListLiveEndingBetween returns live auctions whose end time is in (from, to]
func (r *GormRepo) ListLiveEndingBetween(ctx context.Context, from, to time.Time) ([]model.Auction, error) {
	var rows []auctionRow
	err := r.db.WithContext(ctx).
		Where("status = ? AND end_time > ? AND end_time <= ?", string(model.StatusLive), from, to).
		Order("end_time ASC").
		Find(&rows).Error
	if err != nil {
		return nil, errors.Wrap(err, "failed on query ending auctions")
	}

	out := make([]model.Auction, 0, len(rows))
	for _, row := range rows {
		out = append(out, row.toModel())
	}
	return out, nil
}

// ListScheduledDueBefore returns ids of scheduled auctions whose start time is at or before t
func (r *GormRepo) ListScheduledDueBefore(ctx context.Context, t time.Time) ([]string, error) {
	var ids []string
	err := r.db.WithContext(ctx).
		Model(&auctionRow{}).
		Where("status = ? AND start_time <= ?", string(model.StatusScheduled), t).
		Order("start_time ASC").
		Pluck("id", &ids).Error
	if err != nil {
		return nil, errors.Wrap(err, "failed on query scheduled auctions")
	}
	return ids, nil
}

// ListLiveDueBefore returns ids of live auctions whose end time is at or before t
func (r *GormRepo) ListLiveDueBefore(ctx context.Context, t time.Time) ([]string, error) {
	var ids []string
	err := r.db.WithContext(ctx).
		Model(&auctionRow{}).
		Where("status = ? AND end_time <= ?", string(model.StatusLive), t).
		Order("end_time ASC").
		Pluck("id", &ids).Error
	if err != nil {
		return nil, errors.Wrap(err, "failed on query due auctions")
	}
	return ids, nil
}

type gormTx struct {
	db *gorm.DB
}

func (tx *gormTx) GetAuctionForUpdate(auctionID string) (model.Auction, error) {
	var row auctionRow
	err := tx.db.Clauses(clause.Locking{Strength: "UPDATE"}).Where("id = ?", auctionID).Take(&row).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return model.Auction{}, errors.Wrapf(biddingerrors.ErrAuctionNotFound, "lock auction %s", auctionID)
		}
		return model.Auction{}, classifyDBError(errors.Wrap(err, "failed on lock auction"))
	}
	return row.toModel(), nil
}

func (tx *gormTx) InsertBid(bid model.Bid) error {
	row := bidRow{
		ID:        bid.BidID,
		AuctionID: bid.AuctionID,
		BidderID:  bid.BidderID,
		Amount:    bid.Amount,
		Status:    string(bid.Status),
		Source:    string(bid.Source),
		IPAddress: bid.ClientAddress,
		CreatedAt: bid.CreatedAt,
	}
	if err := tx.db.Create(&row).Error; err != nil {
		return errors.Wrap(err, "failed on insert bid")
	}
	return nil
}

func (tx *gormTx) UpdateAuction(a model.Auction) error {
	updates := map[string]any{
		"status":            string(a.Status),
		"end_time":          a.EndTime,
		"current_bid":       a.CurrentPrice,
		"bid_count":         a.BidCount,
		"auto_ext_count":    a.ExtensionCount,
		"leading_bidder_id": nullableString(a.LeadingBidderID),
		"winner_id":         nullableString(a.WinnerID),
		"ended_at":          a.EndedAt,
		"payment_deadline":  a.PaymentDeadline,
	}
	res := tx.db.Model(&auctionRow{}).Where("id = ?", a.AuctionID).Updates(updates)
	if res.Error != nil {
		return errors.Wrap(res.Error, "failed on update auction")
	}
	if res.RowsAffected == 0 {
		return errors.Wrapf(biddingerrors.ErrAuctionNotFound, "update auction %s", a.AuctionID)
	}
	return nil
}

func (tx *gormTx) MarkVehicleSold(vehicleID string) error {
	err := tx.db.Model(&vehicleRow{}).Where("id = ?", vehicleID).Update("status", model.VehicleSold).Error
	if err != nil {
		return errors.Wrap(err, "failed on mark vehicle sold")
	}
	return nil
}

// classifyDBError maps lock-wait timeouts, deadlocks and expired contexts to
// ErrContention and leaves every other error untouched.
func classifyDBError(err error) error {
	if err == nil {
		return nil
	}
	var myErr *mysqldriver.MySQLError
	if errors.As(err, &myErr) && (myErr.Number == mysqlLockWaitTimeout || myErr.Number == mysqlDeadlock) {
		return errors.Wrapf(biddingerrors.ErrContention, "mysql %d", myErr.Number)
	}
	if errors.Is(err, context.DeadlineExceeded) && !errors.Is(err, biddingerrors.ErrContention) {
		return errors.Wrap(biddingerrors.ErrContention, err.Error())
	}
	return err
}

func (row auctionRow) toModel() model.Auction {
	return model.Auction{
		AuctionID:         row.ID,
		VehicleID:         row.VehicleID,
		SellerID:          row.SellerID,
		Status:            model.AuctionStatus(row.Status),
		StartTime:         row.StartTime,
		EndTime:           row.EndTime,
		OriginalEndTime:   row.OriginalEndTime,
		StartingPrice:     row.StartingPrice,
		ReservePrice:      row.ReservePrice,
		CurrentPrice:      decimal.Max(row.CurrentPrice, row.StartingPrice),
		BidCount:          row.BidCount,
		MinIncrement:      row.MinIncrement,
		AutoExtendEnabled: row.AutoExtendEnabled,
		AutoExtendMinutes: row.AutoExtendMinutes,
		MaxExtensions:     row.MaxExtensions,
		ExtensionCount:    row.ExtensionCount,
		LeadingBidderID:   derefString(row.LeadingBidderID),
		WinnerID:          derefString(row.WinnerID),
		EndedAt:           row.EndedAt,
		PaymentDeadline:   row.PaymentDeadline,
	}
}

func (row bidRow) toModel() model.Bid {
	return model.Bid{
		BidID:         row.ID,
		AuctionID:     row.AuctionID,
		BidderID:      row.BidderID,
		Amount:        row.Amount,
		Source:        model.BidSource(row.Source),
		ClientAddress: row.IPAddress,
		Status:        model.BidStatus(row.Status),
		CreatedAt:     row.CreatedAt,
	}
}

func nullableString(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}

func derefString(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}
