package repository

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	mysqldriver "github.com/go-sql-driver/mysql"
	"github.com/pkg/errors"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/mysql"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"live-auction/internal/biddingerrors"
	model "live-auction/internal/models"
)

// sqlRecorder collects every statement gorm builds
type sqlRecorder struct {
	mu    sync.Mutex
	stmts []string
}

func (r *sqlRecorder) LogMode(logger.LogLevel) logger.Interface      { return r }
func (r *sqlRecorder) Info(context.Context, string, ...interface{})  {}
func (r *sqlRecorder) Warn(context.Context, string, ...interface{})  {}
func (r *sqlRecorder) Error(context.Context, string, ...interface{}) {}

func (r *sqlRecorder) Trace(_ context.Context, _ time.Time, fc func() (string, int64), _ error) {
	sql, _ := fc()
	r.mu.Lock()
	r.stmts = append(r.stmts, sql)
	r.mu.Unlock()
}

func (r *sqlRecorder) last() string {
	r.mu.Lock()
	defer r.mu.Unlock()
	if len(r.stmts) == 0 {
		return ""
	}
	return r.stmts[len(r.stmts)-1]
}

// dryRunDB builds MySQL statements without connecting
func dryRunDB(t *testing.T) (*gorm.DB, *sqlRecorder) {
	t.Helper()

	rec := &sqlRecorder{}
	db, err := gorm.Open(mysql.New(mysql.Config{
		DSN:                       "auction:secret@tcp(127.0.0.1:3306)/auctions?parseTime=true",
		SkipInitializeWithVersion: true,
	}), &gorm.Config{
		DryRun:               true,
		DisableAutomaticPing: true,
		Logger:               rec,
	})
	require.NoError(t, err)
	return db, rec
}

func TestClassifyDBError(t *testing.T) {
	t.Parallel()

	other := errors.New("connection refused")
	tests := []struct {
		name           string
		err            error
		wantContention bool
		wantSame       bool
	}{
		{name: "nil", err: nil},
		{name: "lock_wait_timeout", err: &mysqldriver.MySQLError{Number: 1205, Message: "Lock wait timeout exceeded"}, wantContention: true},
		{name: "deadlock", err: &mysqldriver.MySQLError{Number: 1213, Message: "Deadlock found"}, wantContention: true},
		{name: "wrapped_deadlock", err: errors.Wrap(&mysqldriver.MySQLError{Number: 1213}, "failed on lock auction"), wantContention: true},
		{name: "context_deadline", err: fmt.Errorf("tx: %w", context.DeadlineExceeded), wantContention: true},
		{name: "duplicate_key_untouched", err: &mysqldriver.MySQLError{Number: 1062, Message: "Duplicate entry"}, wantSame: true},
		{name: "other_untouched", err: other, wantSame: true},
	}

	for _, tc := range tests {
		tc := tc
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()

			got := classifyDBError(tc.err)
			if tc.err == nil {
				require.NoError(t, got)
				return
			}
			require.Equal(t, tc.wantContention, errors.Is(got, biddingerrors.ErrContention))
			if tc.wantSame {
				require.Equal(t, tc.err, got)
			}
		})
	}
}

func TestAuctionRow_ToModel(t *testing.T) {
	t.Parallel()

	end := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	leader := "alice"

	tests := []struct {
		name       string
		row        auctionRow
		wantPrice  int64
		wantLeader string
	}{
		{
			name: "no_bids_floors_at_starting_price",
			row: auctionRow{
				ID: "a1", Status: string(model.StatusLive), EndTime: end,
				StartingPrice: decimal.NewFromInt(80000), CurrentPrice: decimal.Zero,
			},
			wantPrice: 80000,
		},
		{
			name: "leader_and_price_carried",
			row: auctionRow{
				ID: "a1", Status: string(model.StatusLive), EndTime: end,
				StartingPrice: decimal.NewFromInt(80000), CurrentPrice: decimal.NewFromInt(81500),
				LeadingBidderID: &leader, BidCount: 3,
			},
			wantPrice:  81500,
			wantLeader: "alice",
		},
	}

	for _, tc := range tests {
		tc := tc
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()

			a := tc.row.toModel()
			require.Equal(t, "a1", a.AuctionID)
			require.Equal(t, model.StatusLive, a.Status)
			require.Equal(t, end, a.EndTime)
			require.True(t, a.CurrentPrice.Equal(decimal.NewFromInt(tc.wantPrice)))
			require.Equal(t, tc.wantLeader, a.LeadingBidderID)
			require.Empty(t, a.WinnerID)
		})
	}
}

func TestBidRow_ToModel(t *testing.T) {
	t.Parallel()

	at := time.Date(2026, 3, 1, 11, 59, 0, 0, time.UTC)
	b := bidRow{
		ID: "b1", AuctionID: "a1", BidderID: "alice", Amount: decimal.NewFromInt(81050),
		Status: string(model.BidAccepted), Source: string(model.SourceManual), IPAddress: "10.0.0.1", CreatedAt: at,
	}.toModel()

	require.Equal(t, model.Bid{
		BidID: "b1", AuctionID: "a1", BidderID: "alice", Amount: decimal.NewFromInt(81050),
		Source: model.SourceManual, ClientAddress: "10.0.0.1", Status: model.BidAccepted, CreatedAt: at,
	}, b)
}

func TestNullableString(t *testing.T) {
	t.Parallel()

	require.Nil(t, nullableString(""))
	require.Equal(t, "alice", derefString(nullableString("alice")))
	require.Empty(t, derefString(nil))
}

func TestGormTx_GetAuctionForUpdateLocksRow(t *testing.T) {
	t.Parallel()

	db, rec := dryRunDB(t)
	tx := &gormTx{db: db}

	_, err := tx.GetAuctionForUpdate("a1")
	require.NoError(t, err)

	sql := rec.last()
	require.Contains(t, sql, "FROM `auctions`")
	require.Contains(t, sql, "'a1'")
	require.Contains(t, sql, "FOR UPDATE")
}

func TestGormTx_InsertBid(t *testing.T) {
	t.Parallel()

	db, rec := dryRunDB(t)
	tx := &gormTx{db: db}

	err := tx.InsertBid(model.Bid{
		BidID: "b1", AuctionID: "a1", BidderID: "alice", Amount: decimal.NewFromInt(81050),
		Source: model.SourceManual, Status: model.BidAccepted, CreatedAt: time.Now().UTC(),
	})
	require.NoError(t, err)

	sql := rec.last()
	require.Contains(t, sql, "INSERT INTO `bids`")
	require.Contains(t, sql, "'b1'")
	require.NotContains(t, sql, "FOR UPDATE")
}
