package handler

import (
	"context"
	"fmt"
	"net/http"

	"github.com/gin-gonic/gin"

	bidding "live-auction/internal/biddingService"
	model "live-auction/internal/models"
	"live-auction/internal/protocol"
	"live-auction/internal/registry"
	"live-auction/services/bidding/helpers"
	"live-auction/utils"
)

//go:generate mockgen -destination=mock_bidding_handler.go -package=handler live-auction/services/bidding/handler BiddingServiceInterface

type BiddingServiceInterface interface {
	PlaceBid(ctx context.Context, cmd bidding.PlaceBidCommand) (bidding.PlaceBidResult, error)
	GetAuction(ctx context.Context, auctionID string) (model.Auction, error)
	GetBidHistory(ctx context.Context, viewer model.Identity, auctionID string, limit int) ([]protocol.HistoryEntry, error)
}

// Broadcaster fans bid results out to connected clients in commit order
type Broadcaster interface {
	DispatchInOrder(t *registry.Ticket, senderConnID string, envs []registry.Envelope)
}

type BiddingHandler struct {
	service BiddingServiceInterface
	rooms   Broadcaster
}

func NewBiddingHandler(service BiddingServiceInterface, rooms Broadcaster) *BiddingHandler {
	return &BiddingHandler{service: service, rooms: rooms}
}

// HealthHandler handles GET /health
func (h *BiddingHandler) HealthHandler(c *gin.Context) {
	utils.JSONResponse(c, http.StatusOK, gin.H{"healthy": true}, "ok")
}

// PlaceBidHandler handles POST /auctions/:auction_id/bids
func (h *BiddingHandler) PlaceBidHandler(c *gin.Context) {
	auctionID := c.Param("auction_id")

	var req helpers.PlaceBidRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		helpers.HandleBindError(c, "PlaceBidHandler", err)
		return
	}

	identity, _ := helpers.IdentityFromContext(c)
	res, err := h.service.PlaceBid(c.Request.Context(), bidding.PlaceBidCommand{
		Identity:      identity,
		AuctionID:     auctionID,
		Amount:        req.Amount,
		Source:        model.SourceManual,
		ClientAddress: c.ClientIP(),
	})
	if err != nil {
		status, message := helpers.MapErrorToHTTP(err)
		helpers.SetRetryAfter(c, err)
		utils.JSONErrorWithDetails(c, status, fmt.Errorf("%s: %w", message, err), message, helpers.RejectionDetails(err))
		utils.Warn("PlaceBidHandler: bid rejected", map[string]any{
			"handler":    "PlaceBidHandler",
			"auction_id": auctionID,
			"user_id":    identity.UserID,
			"status":     status,
			"error":      err.Error(),
		})
		return
	}

	// REST callers have no socket; room and outbid fan-out still happen
	h.rooms.DispatchInOrder(res.Ticket, "", res.Envelopes)

	utils.JSONResponse(c, http.StatusCreated, res.Ack, "bid placed successfully")
	helpers.LogSuccess("PlaceBidHandler", "bid placed successfully", map[string]any{
		"bid_id":     res.Ack.Bid.ID,
		"auction_id": auctionID,
		"user_id":    identity.UserID,
		"amount":     res.Ack.Bid.Amount.String(),
	})
}

// GetAuctionHandler handles GET /auctions/:auction_id
func (h *BiddingHandler) GetAuctionHandler(c *gin.Context) {
	auctionID := c.Param("auction_id")
	a, err := h.service.GetAuction(c.Request.Context(), auctionID)
	if err != nil {
		status, message := helpers.MapErrorToHTTP(err)
		utils.JSONError(c, status, fmt.Errorf("%s: %w", message, err), message)
		utils.Warn("GetAuctionHandler: error retrieving auction", map[string]any{"auction_id": auctionID, "error": err.Error()})
		return
	}

	utils.JSONResponse(c, http.StatusOK, helpers.NewAuctionResponse(a), "auction retrieved successfully")
}

// GetBidHistoryHandler handles GET /auctions/:auction_id/bids
func (h *BiddingHandler) GetBidHistoryHandler(c *gin.Context) {
	auctionID := c.Param("auction_id")

	var q helpers.HistoryQuery
	if err := c.ShouldBindQuery(&q); err != nil {
		helpers.HandleBindError(c, "GetBidHistoryHandler", err)
		return
	}
	if q.Limit == 0 {
		q.Limit = bidding.DefaultHistoryLimit
	}

	viewer, _ := helpers.IdentityFromContext(c)
	bids, err := h.service.GetBidHistory(c.Request.Context(), viewer, auctionID, q.Limit)
	if err != nil {
		status, message := helpers.MapErrorToHTTP(err)
		utils.JSONError(c, status, fmt.Errorf("%s: %w", message, err), message)
		utils.Warn("GetBidHistoryHandler: error retrieving bids", map[string]any{"auction_id": auctionID, "error": err.Error()})
		return
	}

	if bids == nil {
		bids = []protocol.HistoryEntry{}
	}

	utils.JSONResponse(c, http.StatusOK, bids, "bids retrieved successfully")
	helpers.LogSuccess("GetBidHistoryHandler", "bids retrieved successfully", map[string]any{
		"auction_id": auctionID,
		"count":      len(bids),
	})
}
