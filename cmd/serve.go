package cmd

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/shopspring/decimal"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"live-auction/internal/anonymize"
	"live-auction/internal/auth"
	bidding "live-auction/internal/biddingService"
	"live-auction/internal/config"
	"live-auction/internal/events"
	model "live-auction/internal/models"
	"live-auction/internal/ratelimit"
	"live-auction/internal/registry"
	"live-auction/internal/repository"
	"live-auction/internal/server"
	"live-auction/internal/sweeper"
	"live-auction/services/bidding/socket"
	"live-auction/utils"
)

// ServeCmd runs the HTTP and WebSocket server with its background workers
var ServeCmd = &cobra.Command{
	Use:   "serve",
	Short: "run the auction server",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		utils.ConfigureLogger(utils.LogOptions{
			Level:      cfg.Logging.Level,
			Format:     cfg.Logging.Format,
			File:       cfg.Logging.File,
			MaxSizeMB:  cfg.Logging.MaxSizeMB,
			MaxBackups: cfg.Logging.MaxBackups,
			MaxAgeDays: cfg.Logging.MaxAgeDays,
		})

		ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()
		return serve(ctx, cfg)
	},
}

func init() {
	rootCmd.AddCommand(ServeCmd)
}

func serve(ctx context.Context, cfg *config.Config) error {
	repo, err := openStore(cfg.Store)
	if err != nil {
		return err
	}

	subs := make([]events.Subscription, 0, len(cfg.Webhooks.Subscriptions))
	for _, s := range cfg.Webhooks.Subscriptions {
		subs = append(subs, events.Subscription{Event: events.Type(s.Event), URL: s.URL, Secret: s.Secret, UserID: s.UserID})
	}
	dispatcher := events.NewWebhookDispatcher(events.DispatcherOptions{
		Workers:     cfg.Webhooks.Workers,
		QueueSize:   cfg.Webhooks.QueueSize,
		MaxAttempts: cfg.Webhooks.MaxAttempts,
		Backoff:     cfg.Webhooks.Backoff,
		Timeout:     cfg.Webhooks.Timeout,
	}, subs)

	limiter := ratelimit.New(cfg.Bidding.RateLimitWindow, cfg.Bidding.RateLimitRetention)
	rooms := registry.New()
	fanOut := registry.NewSequencer(cfg.Bidding.LockWaitTimeout)
	verifier := auth.NewJWTVerifier(cfg.Auth.JWTSecret, repo)

	biddingSvc := bidding.NewBiddingService(repo, limiter, anonymize.NewFormatter(cfg.Bidding.DisplayNameCacheSize), dispatcher, bidding.Options{
		LockWaitTimeout:  cfg.Bidding.LockWaitTimeout,
		JoinHistoryLimit: cfg.Bidding.HistoryLimit,
		Sequencer:        fanOut,
	})
	lifecycle := sweeper.New(repo, rooms, dispatcher, sweeper.Options{
		Interval:            cfg.Sweeper.Interval,
		EndingSoonThreshold: cfg.Sweeper.EndingSoonThreshold,
		PaymentGrace:        cfg.Sweeper.PaymentGracePeriod,
		LockWait:            cfg.Bidding.LockWaitTimeout,
		Sequencer:           fanOut,
	})

	router := server.SetupRouter(server.Deps{
		Service:        biddingSvc,
		Rooms:          rooms,
		Verifier:       verifier,
		Socket:         socket.NewServer(biddingSvc, rooms, verifier, cfg.Server.AllowedOrigins),
		AllowedOrigins: cfg.Server.AllowedOrigins,
	})
	srv := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Server.Port),
		Handler:      router,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return dispatcher.Run(gctx) })
	g.Go(func() error { return lifecycle.Run(gctx) })
	g.Go(func() error {
		limiter.Run(gctx, cfg.Bidding.RateLimitPruneInterval)
		return nil
	})
	g.Go(func() error {
		utils.Info("starting auction server", map[string]any{"component": "cmd", "addr": srv.Addr, "store": cfg.Store.Driver})
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
		defer cancel()
		utils.Info("shutting down auction server", map[string]any{"component": "cmd"})
		return srv.Shutdown(shutdownCtx)
	})

	if err := g.Wait(); err != nil {
		utils.Error("auction server stopped with error", map[string]any{"component": "cmd", "error": err.Error()})
		return err
	}
	return nil
}

func openStore(cfg config.StoreConfig) (repository.AuctionDB, error) {
	switch cfg.Driver {
	case "mysql":
		db, err := repository.OpenMySQL(cfg.DSN)
		if err != nil {
			return nil, err
		}
		repo := repository.NewGormRepo(db)
		if cfg.AutoMigrate {
			if err := repo.AutoMigrate(); err != nil {
				return nil, err
			}
		}
		return repo, nil
	default:
		repo := repository.NewMemoryRepo()
		if cfg.SeedDemo {
			prepopulateAuctions(repo, time.Now().UTC())
		}
		return repo, nil
	}
}

// prepopulateAuctions adds demo users and auctions to the in-memory repo
func prepopulateAuctions(repo *repository.MemoryRepo, now time.Time) {
	users := []model.User{
		{UserID: "seller1", FirstName: "Sam", LastName: "Seller", Role: model.RoleClient, Active: true},
		{UserID: "user1", FirstName: "Alice", LastName: "Smith", Role: model.RoleClient, Active: true},
		{UserID: "user2", FirstName: "Bob", LastName: "Jones", Role: model.RoleClient, Active: true},
		{UserID: "admin1", FirstName: "Ada", LastName: "Admin", Role: model.RoleAdmin, Active: true},
	}
	for _, u := range users {
		repo.AddUser(u)
	}

	auctions := []model.Auction{
		{AuctionID: "auction1", VehicleID: "vehicle1", EndTime: now.Add(30 * time.Minute), StartingPrice: decimal.NewFromInt(80000), ReservePrice: decimal.NewFromInt(85000)},
		{AuctionID: "auction2", VehicleID: "vehicle2", EndTime: now.Add(6 * time.Minute), StartingPrice: decimal.NewFromInt(12000), ReservePrice: decimal.NewFromInt(15000)},
		{AuctionID: "auction3", VehicleID: "vehicle3", EndTime: now.Add(2 * time.Hour), StartingPrice: decimal.NewFromInt(45000)},
	}
	for _, a := range auctions {
		a.SellerID = "seller1"
		a.Status = model.StatusLive
		a.StartTime = now
		a.MinIncrement = decimal.NewFromInt(100)
		a.AutoExtendEnabled = true
		a.AutoExtendMinutes = 5
		a.MaxExtensions = 3
		repo.AddAuction(a)
	}
}
