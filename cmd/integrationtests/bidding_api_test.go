package integrationtests

import (
	"context"
	"fmt"
	"net/http"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"

	model "live-auction/internal/models"
	"live-auction/internal/protocol"
)

const fastWindow = time.Millisecond

// GetAuctionHandler Tests
func TestGetAuction(t *testing.T) {
	t.Parallel()

	env := SetupTestEnv(t, fastWindow, LiveAuction("a1", time.Now().Add(time.Hour)))

	tests := []struct {
		name       string
		auctionID  string
		wantStatus int
	}{
		{name: "Existing_Auction", auctionID: "a1", wantStatus: http.StatusOK},
		{name: "Unknown_Auction", auctionID: "nope", wantStatus: http.StatusNotFound},
	}

	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			resp, w := env.ExecuteRequestAndParse(t, http.MethodGet, "/auctions/"+tt.auctionID, "", nil)
			require.Equal(t, tt.wantStatus, w.Code)
			if tt.wantStatus == http.StatusOK {
				data := resp["data"].(map[string]any)
				require.Equal(t, "a1", data["auction_id"])
				require.Equal(t, 80000.0, data["current_price"])
				require.Equal(t, 80050.0, data["minimum_next_bid"])
			}
		})
	}
}

// PlaceBidHandler Tests
func TestPlaceBid(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name       string
		user       string
		rawToken   string
		body       any
		wantStatus int
	}{
		{name: "Valid_Bid", user: "alice", body: map[string]any{"amount": 80500}, wantStatus: http.StatusCreated},
		{name: "No_Token", body: map[string]any{"amount": 80500}, wantStatus: http.StatusUnauthorized},
		{name: "Bad_Token", rawToken: "not-a-jwt", body: map[string]any{"amount": 80500}, wantStatus: http.StatusUnauthorized},
		{name: "Banned_User", user: "banned", body: map[string]any{"amount": 80500}, wantStatus: http.StatusUnauthorized},
		{name: "Seller_Self_Bid", user: "seller", body: map[string]any{"amount": 80500}, wantStatus: http.StatusForbidden},
		{name: "Too_Low", user: "alice", body: map[string]any{"amount": 80010}, wantStatus: http.StatusConflict},
		{name: "Non_Positive", user: "alice", body: map[string]any{"amount": 0}, wantStatus: http.StatusBadRequest},
		{name: "Invalid_JSON", user: "alice", body: []byte("{amount: 'x'}"), wantStatus: http.StatusBadRequest},
	}

	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			env := SetupTestEnv(t, fastWindow, LiveAuction("a1", time.Now().Add(time.Hour)))
			token := tt.rawToken
			if tt.user != "" {
				token = env.token(t, tt.user)
			}

			resp, w := env.ExecuteRequestAndParse(t, http.MethodPost, "/auctions/a1/bids", token, tt.body)
			require.Equal(t, tt.wantStatus, w.Code, "response: %v", resp)

			a, err := env.repo.GetAuction(context.Background(), "a1")
			require.NoError(t, err)
			if tt.wantStatus == http.StatusCreated {
				data := resp["data"].(map[string]any)
				require.Equal(t, 80500.0, data["bid"].(map[string]any)["amount"])
				require.Equal(t, 1.0, data["auction"].(map[string]any)["bidCount"])
				require.Equal(t, "alice", a.LeadingBidderID)
			} else {
				require.Zero(t, a.BidCount)
			}
		})
	}
}

// Anonymised history differs per viewer
func TestBidHistoryViewers(t *testing.T) {
	t.Parallel()

	env := SetupTestEnv(t, fastWindow, LiveAuction("a1", time.Now().Add(time.Hour)))
	_, w := env.ExecuteRequestAndParse(t, http.MethodPost, "/auctions/a1/bids", env.token(t, "alice"), map[string]any{"amount": 80500})
	require.Equal(t, http.StatusCreated, w.Code)

	tests := []struct {
		name     string
		viewer   string
		wantName string
		wantYou  bool
	}{
		{name: "Anonymous", wantName: "A***e S***h"},
		{name: "Other_Bidder", viewer: "bob", wantName: "A***e S***h"},
		{name: "Own_Bid", viewer: "alice", wantName: "You", wantYou: true},
		{name: "Seller", viewer: "seller", wantName: "Alice Smith"},
		{name: "Admin", viewer: "admin", wantName: "Alice Smith"},
	}

	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			token := ""
			if tt.viewer != "" {
				token = env.token(t, tt.viewer)
			}
			resp, w := env.ExecuteRequestAndParse(t, http.MethodGet, "/auctions/a1/bids", token, nil)
			require.Equal(t, http.StatusOK, w.Code)

			bids := resp["data"].([]any)
			require.Len(t, bids, 1)
			entry := bids[0].(map[string]any)
			require.Equal(t, tt.wantName, entry["displayName"])
			require.Equal(t, tt.wantYou, entry["isYou"])
		})
	}
}

// Two bidders in one room over real sockets: ack, room update and outbid notice
func TestWebSocket_BidRoundTrip(t *testing.T) {
	t.Parallel()

	env := SetupTestEnv(t, fastWindow, LiveAuction("a1", time.Now().Add(time.Hour)))
	alice := env.Dial(t, "alice")
	bob := env.Dial(t, "bob")

	var joined protocol.AuctionJoined
	alice.Send(protocol.CmdJoinAuction, protocol.JoinAuction{AuctionID: "a1"})
	alice.Expect(protocol.EventAuctionJoined, &joined)
	alice.Expect(protocol.EventBidHistory, nil)
	require.True(t, joined.CurrentBid.Equal(decimal.NewFromInt(80000)))

	bob.Send(protocol.CmdJoinAuction, protocol.JoinAuction{AuctionID: "a1"})
	bob.Expect(protocol.EventAuctionJoined, nil)
	bob.Expect(protocol.EventBidHistory, nil)

	var ack protocol.BidPlaced
	alice.Send(protocol.CmdPlaceBid, map[string]any{"auctionId": "a1", "amount": 80500})
	alice.Expect(protocol.EventBidPlaced, &ack)
	require.Equal(t, 1, ack.Auction.BidCount)

	var update protocol.AuctionUpdated
	bob.Expect(protocol.EventAuctionUpdated, &update)
	require.True(t, update.CurrentBid.Equal(decimal.NewFromInt(80500)))
	require.Equal(t, "A***e S***h", update.NewBid.DisplayName)

	bob.Send(protocol.CmdPlaceBid, map[string]any{"auctionId": "a1", "amount": 81000})
	bob.Expect(protocol.EventBidPlaced, nil)

	alice.Expect(protocol.EventAuctionUpdated, &update)
	require.Equal(t, 2, update.BidCount)

	var outbid protocol.UserOutbid
	alice.Expect(protocol.EventUserOutbid, &outbid)
	require.True(t, outbid.NewBid.Equal(decimal.NewFromInt(81000)))
	require.True(t, outbid.YourBid.Equal(decimal.NewFromInt(80500)))

	var bidErr protocol.BidError
	alice.Send(protocol.CmdPlaceBid, map[string]any{"auctionId": "a1", "amount": 81010})
	alice.Expect(protocol.EventBidError, &bidErr)
	require.NotNil(t, bidErr.MinimumBid)
	require.Equal(t, "81050", *bidErr.MinimumBid)
}

// A REST bid reaches socket watchers of the room
func TestWebSocket_RestBidFansOut(t *testing.T) {
	t.Parallel()

	env := SetupTestEnv(t, fastWindow, LiveAuction("a1", time.Now().Add(time.Hour)))
	watcher := env.Dial(t, "bob")
	watcher.Send(protocol.CmdJoinAuction, protocol.JoinAuction{AuctionID: "a1"})
	watcher.Expect(protocol.EventAuctionJoined, nil)
	watcher.Expect(protocol.EventBidHistory, nil)

	_, w := env.ExecuteRequestAndParse(t, http.MethodPost, "/auctions/a1/bids", env.token(t, "alice"), map[string]any{"amount": 80500})
	require.Equal(t, http.StatusCreated, w.Code)

	var update protocol.AuctionUpdated
	watcher.Expect(protocol.EventAuctionUpdated, &update)
	require.Equal(t, 1, update.BidCount)
}

// the second bid inside the window is rejected with the remaining wait
func TestWebSocket_RateLimited(t *testing.T) {
	t.Parallel()

	env := SetupTestEnv(t, time.Minute, LiveAuction("a1", time.Now().Add(time.Hour)))
	alice := env.Dial(t, "alice")

	alice.Send(protocol.CmdPlaceBid, map[string]any{"auctionId": "a1", "amount": 80500})
	alice.Expect(protocol.EventBidPlaced, nil)

	var bidErr protocol.BidError
	alice.Send(protocol.CmdPlaceBid, map[string]any{"auctionId": "a1", "amount": 81000})
	alice.Expect(protocol.EventBidError, &bidErr)
	require.NotNil(t, bidErr.RetryAfter)
	require.Greater(t, *bidErr.RetryAfter, 0.0)

	a, err := env.repo.GetAuction(context.Background(), "a1")
	require.NoError(t, err)
	require.Equal(t, 1, a.BidCount)
}

// a late bid extends the auction and the room sees the new end time
func TestWebSocket_AutoExtension(t *testing.T) {
	t.Parallel()

	end := time.Now().Add(3 * time.Minute).Truncate(time.Second)
	env := SetupTestEnv(t, fastWindow, LiveAuction("a1", end))
	alice := env.Dial(t, "alice")

	var ack protocol.BidPlaced
	alice.Send(protocol.CmdPlaceBid, map[string]any{"auctionId": "a1", "amount": 80500})
	alice.Expect(protocol.EventBidPlaced, &ack)
	require.True(t, ack.AutoExtended)
	require.NotNil(t, ack.AutoExtendInfo)
	require.True(t, ack.AutoExtendInfo.NewEndTime.Equal(end.Add(5*time.Minute)))
	require.Equal(t, 1, ack.AutoExtendInfo.ExtensionCount)
}

// the sweeper closes an expired auction and the room learns the winner
func TestWebSocket_AuctionEnded(t *testing.T) {
	t.Parallel()

	a := LiveAuction("a1", time.Now().Add(-time.Second))
	a.CurrentPrice = decimal.NewFromInt(86000)
	a.BidCount = 3
	a.LeadingBidderID = "alice"
	env := SetupTestEnv(t, fastWindow, a)

	alice := env.Dial(t, "alice")
	alice.Send(protocol.CmdJoinAuction, protocol.JoinAuction{AuctionID: "a1"})
	alice.Expect(protocol.EventAuctionJoined, nil)
	alice.Expect(protocol.EventBidHistory, nil)

	require.Equal(t, 1, env.sweeper.RunOnce(context.Background()).Closed)

	var ended protocol.AuctionEnded
	alice.Expect(protocol.EventAuctionEnded, &ended)
	require.NotNil(t, ended.WinnerID)
	require.Equal(t, "alice", *ended.WinnerID)
	require.True(t, ended.FinalBid.Equal(decimal.NewFromInt(86000)))

	var note protocol.Notification
	alice.Expect(protocol.EventNotification, &note)
	require.Equal(t, "auction_won", note.Type)

	// bidding is closed from now on
	var bidErr protocol.BidError
	bob := env.Dial(t, "bob")
	bob.Send(protocol.CmdPlaceBid, map[string]any{"auctionId": "a1", "amount": 90000})
	bob.Expect(protocol.EventBidError, &bidErr)
	require.Equal(t, "auction is not open for bidding", bidErr.Message)

	stored, err := env.repo.GetAuction(context.Background(), "a1")
	require.NoError(t, err)
	require.Equal(t, model.StatusEnded, stored.Status)
	require.Equal(t, model.VehicleSold, env.repo.VehicleStatus("vehicle-a1"))
}

func TestWebSocket_AuthError(t *testing.T) {
	t.Parallel()

	env := SetupTestEnv(t, fastWindow)
	banned := env.Dial(t, "banned")

	var authErr protocol.AuthError
	banned.Expect(protocol.EventAuthError, &authErr)
	require.NotEmpty(t, authErr.Message)

	_, _, err := banned.conn.ReadMessage()
	require.Error(t, err)
	require.Zero(t, env.rooms.ConnectionCount())
}

// concurrent bids from many sockets never lose an update
func TestWebSocket_ConcurrentBidders(t *testing.T) {
	t.Parallel()

	users := []string{"alice", "bob", "admin"}
	env := SetupTestEnv(t, fastWindow, LiveAuction("a1", time.Now().Add(time.Hour)))

	clients := make([]*wsClient, len(users))
	for i, u := range users {
		clients[i] = env.Dial(t, u)
	}

	var wg sync.WaitGroup
	for i, c := range clients {
		wg.Add(1)
		go func(i int, c *wsClient) {
			defer wg.Done()
			c.Send(protocol.CmdPlaceBid, map[string]any{"auctionId": "a1", "amount": 90000 + i})
		}(i, c)
	}
	wg.Wait()

	accepted := 0
	for _, c := range clients {
	read:
		for {
			// outbid notices for an earlier leader may arrive before its own reply
			switch f := c.Read(); f.Event {
			case protocol.EventBidPlaced:
				accepted++
				break read
			case protocol.EventBidError:
				break read
			case protocol.EventUserOutbid:
			default:
				t.Fatalf("unexpected event %s", f.Event)
			}
		}
	}
	require.GreaterOrEqual(t, accepted, 1)

	a, err := env.repo.GetAuction(context.Background(), "a1")
	require.NoError(t, err)
	require.Equal(t, accepted, a.BidCount, fmt.Sprintf("leader %s at %s", a.LeadingBidderID, a.CurrentPrice))
}
