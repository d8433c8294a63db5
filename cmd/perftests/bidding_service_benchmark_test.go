package perftests

import (
	"context"
	"fmt"
	"math/rand"
	"sync/atomic"
	"testing"
	"time"

	model "live-auction/internal/models"
)

// Benchmark 1: PlaceBid - Isolated Auctions (Low Contention - Micro Benchmark)
func Benchmark_PlaceBid_Isolated(b *testing.B) {
	repo, svc := setupService(0)
	ctx := context.Background()

	for i := 0; i < b.N; i++ {
		repo.AddAuction(benchAuction(fmt.Sprintf("auction_%d", i)))
	}

	b.ReportAllocs()
	b.ResetTimer()

	for i := 0; i < b.N; i++ {
		userID := fmt.Sprintf("user_%d", i)
		auctionID := fmt.Sprintf("auction_%d", i)
		bidAmount := int64(101 + rand.Intn(100))
		if _, err := svc.PlaceBid(ctx, bidCommand(userID, auctionID, bidAmount)); err != nil {
			b.Fatalf("failed to place bid: %v", err)
		}
	}
}

// Benchmark 2: PlaceBid - Shared Auction (High Contention - Concurrency Benchmark)
func Benchmark_PlaceBid_ConcurrentSharedAuction(b *testing.B) {
	_, svc := setupService(1)
	ctx := context.Background()

	b.ReportAllocs()
	b.ResetTimer()

	var lastBid int64 = 100

	b.RunParallel(func(pb *testing.PB) {
		rnd := rand.New(rand.NewSource(time.Now().UnixNano()))
		for pb.Next() {
			userID := fmt.Sprintf("user_parallel_%d", rnd.Int())

			nextBid := atomic.AddInt64(&lastBid, int64(rnd.Intn(5)+1))
			_, _ = svc.PlaceBid(ctx, bidCommand(userID, "auction_0", nextBid))
		}
	})
}

// Benchmark 3: GetBidHistory - Single - Threaded (Low Contention)
func Benchmark_GetBidHistory_SingleThreaded(b *testing.B) {
	repo, svc := setupService(0)
	ctx := context.Background()

	for i := 0; i < b.N; i++ {
		auctionID := fmt.Sprintf("auction_%d", i)
		repo.AddAuction(benchAuction(auctionID))

		for j := 0; j < 10; j++ {
			userID := fmt.Sprintf("user_%d_%d", i, j)
			_, _ = svc.PlaceBid(ctx, bidCommand(userID, auctionID, int64(110+j*10)))
		}
	}

	b.ReportAllocs()
	b.ResetTimer()

	for i := 0; i < b.N; i++ {
		auctionID := fmt.Sprintf("auction_%d", i)
		if _, err := svc.GetBidHistory(ctx, model.Identity{}, auctionID, 10); err != nil {
			b.Fatalf("failed to get bid history: %v", err)
		}
	}
}

// Benchmark 4: GetAuction - Concurrent (High Contention)
func Benchmark_GetAuction_ConcurrentSharedAuction(b *testing.B) {
	_, svc := setupService(1)
	ctx := context.Background()

	for j := 0; j < 100; j++ {
		userID := fmt.Sprintf("user_%d", j)
		_, _ = svc.PlaceBid(ctx, bidCommand(userID, "auction_0", int64(101+j)))
	}

	b.ReportAllocs()
	b.ResetTimer()

	var counter int64

	b.RunParallel(func(pb *testing.PB) {
		for pb.Next() {
			if _, err := svc.GetAuction(ctx, "auction_0"); err != nil {
				b.Errorf("failed to get auction: %v", err)
				return
			}
			atomic.AddInt64(&counter, 1)
		}
	})
}

// Benchmark 5: Mixed Workload (Readers + Writers concurrently)
func Benchmark_MixedWorkload_SharedAuction(b *testing.B) {
	_, svc := setupService(1)
	ctx := context.Background()

	for j := 0; j < 50; j++ {
		userID := fmt.Sprintf("user_seed_%d", j)
		_, _ = svc.PlaceBid(ctx, bidCommand(userID, "auction_0", int64(102+j*2)))
	}

	b.ReportAllocs()
	b.ResetTimer()

	var lastBid int64 = 250
	var counter int64

	// Ratio: 70% readers, 30% writers
	b.RunParallel(func(pb *testing.PB) {
		rnd := rand.New(rand.NewSource(time.Now().UnixNano()))
		for pb.Next() {
			opType := rnd.Intn(10)
			switch {
			case opType < 3:
				// Writer: Place a new bid
				userID := fmt.Sprintf("user_writer_%d", rnd.Int())
				nextBid := atomic.AddInt64(&lastBid, int64(rnd.Intn(5)+1))
				_, _ = svc.PlaceBid(ctx, bidCommand(userID, "auction_0", nextBid))
			default:
				// Reader: anonymous bid history
				_, _ = svc.GetBidHistory(ctx, model.Identity{}, "auction_0", 20)
			}
			atomic.AddInt64(&counter, 1)
		}
	})
}
