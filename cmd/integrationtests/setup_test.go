package integrationtests

import (
	"bytes"
	"encoding/json"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/golang/mock/gomock"
	"github.com/gorilla/websocket"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"

	"live-auction/internal/anonymize"
	"live-auction/internal/auth"
	bidding "live-auction/internal/biddingService"
	"live-auction/internal/events"
	model "live-auction/internal/models"
	"live-auction/internal/ratelimit"
	"live-auction/internal/registry"
	"live-auction/internal/repository"
	"live-auction/internal/server"
	"live-auction/internal/sweeper"
	"live-auction/services/bidding/socket"
)

const testSecret = "integration-secret"

// testEnv is the full application wired over the in-memory store
type testEnv struct {
	repo    *repository.MemoryRepo
	rooms   *registry.Registry
	sweeper *sweeper.Sweeper
	issuer  *auth.Issuer
	router  *gin.Engine
	server  *httptest.Server
}

// SetupTestEnv seeds users seller/alice/bob/admin and wires every component.
// Domain events go to a permissive mock publisher.
func SetupTestEnv(t *testing.T, rateWindow time.Duration, auctions ...model.Auction) *testEnv {
	t.Helper()
	gin.SetMode(gin.TestMode)

	ctrl := gomock.NewController(t)
	t.Cleanup(ctrl.Finish)
	publisher := events.NewMockPublisher(ctrl)
	publisher.EXPECT().Publish(gomock.Any(), gomock.Any()).Return(nil).AnyTimes()

	repo := repository.NewMemoryRepo()
	for _, u := range []model.User{
		{UserID: "seller", FirstName: "Sam", LastName: "Seller", Role: model.RoleClient, Active: true},
		{UserID: "alice", FirstName: "Alice", LastName: "Smith", Role: model.RoleClient, Active: true},
		{UserID: "bob", FirstName: "Bob", LastName: "Jones", Role: model.RoleClient, Active: true},
		{UserID: "admin", FirstName: "Ada", LastName: "Admin", Role: model.RoleAdmin, Active: true},
		{UserID: "banned", FirstName: "Ban", LastName: "Ned", Role: model.RoleClient, Active: true, Banned: true},
	} {
		repo.AddUser(u)
	}
	for _, a := range auctions {
		repo.AddAuction(a)
	}

	rooms := registry.New()
	fanOut := registry.NewSequencer(2 * time.Second)
	verifier := auth.NewJWTVerifier(testSecret, repo)
	service := bidding.NewBiddingService(repo, ratelimit.New(rateWindow, time.Minute), anonymize.NewFormatter(128), publisher, bidding.Options{
		LockWaitTimeout: 2 * time.Second,
		Sequencer:       fanOut,
	})

	router := server.SetupRouter(server.Deps{
		Service:        service,
		Rooms:          rooms,
		Verifier:       verifier,
		Socket:         socket.NewServer(service, rooms, verifier, []string{"*"}),
		AllowedOrigins: []string{"*"},
	})
	srv := httptest.NewServer(router)
	t.Cleanup(srv.Close)

	return &testEnv{
		repo:    repo,
		rooms:   rooms,
		sweeper: sweeper.New(repo, rooms, publisher, sweeper.Options{Sequencer: fanOut}),
		issuer:  auth.NewIssuer(testSecret, time.Hour),
		router:  router,
		server:  srv,
	}
}

// LiveAuction builds a live auction owned by "seller"
func LiveAuction(id string, end time.Time) model.Auction {
	return model.Auction{
		AuctionID:         id,
		VehicleID:         "vehicle-" + id,
		SellerID:          "seller",
		Status:            model.StatusLive,
		StartTime:         end.Add(-24 * time.Hour),
		EndTime:           end,
		StartingPrice:     decimal.NewFromInt(80000),
		ReservePrice:      decimal.NewFromInt(85000),
		MinIncrement:      decimal.NewFromInt(50),
		AutoExtendEnabled: true,
		AutoExtendMinutes: 5,
		MaxExtensions:     3,
	}
}

func (e *testEnv) token(t *testing.T, userID string) string {
	t.Helper()
	token, err := e.issuer.Issue(userID)
	require.NoError(t, err)
	return token
}

// ExecuteRequestAndParse executes an HTTP request on the router and parses the response
func (e *testEnv) ExecuteRequestAndParse(t *testing.T, method, url, token string, body any) (map[string]any, *httptest.ResponseRecorder) {
	t.Helper()

	var reqBody []byte
	switch v := body.(type) {
	case nil:
	case []byte:
		reqBody = v
	default:
		var err error
		reqBody, err = json.Marshal(v)
		require.NoError(t, err)
	}

	w := httptest.NewRecorder()
	req := httptest.NewRequest(method, url, bytes.NewReader(reqBody))
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	e.router.ServeHTTP(w, req)

	var resp map[string]any
	if len(w.Body.Bytes()) > 0 {
		require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	}
	return resp, w
}

// wsClient is a test-side socket connection
type wsClient struct {
	t    *testing.T
	conn *websocket.Conn
}

type wsFrame struct {
	Event string          `json:"event"`
	Data  json.RawMessage `json:"data"`
}

func (e *testEnv) Dial(t *testing.T, userID string) *wsClient {
	t.Helper()

	url := "ws" + strings.TrimPrefix(e.server.URL, "http") + "/ws?token=" + e.token(t, userID)
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })
	return &wsClient{t: t, conn: conn}
}

func (c *wsClient) Send(event string, data any) {
	c.t.Helper()
	require.NoError(c.t, c.conn.WriteJSON(map[string]any{"event": event, "data": data}))
}

func (c *wsClient) Read() wsFrame {
	c.t.Helper()
	require.NoError(c.t, c.conn.SetReadDeadline(time.Now().Add(3*time.Second)))
	var f wsFrame
	require.NoError(c.t, c.conn.ReadJSON(&f))
	return f
}

// Expect reads the next frame, requires its event name and decodes its data into out
func (c *wsClient) Expect(event string, out any) {
	c.t.Helper()
	f := c.Read()
	require.Equal(c.t, event, f.Event, "payload: %s", string(f.Data))
	if out != nil {
		require.NoError(c.t, json.Unmarshal(f.Data, out))
	}
}
