// Package socket is the WebSocket transport for the auction protocol. It
// decodes client frames into typed commands, runs them through the bidding
// service and dispatches the resulting events through the registry.
package socket

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/gorilla/websocket"

	"live-auction/internal/auth"
	bidding "live-auction/internal/biddingService"
	"live-auction/internal/biddingerrors"
	model "live-auction/internal/models"
	"live-auction/internal/protocol"
	"live-auction/internal/registry"
	"live-auction/utils"
)

// Service is the part of the bidding service the transport drives
type Service interface {
	PlaceBid(ctx context.Context, cmd bidding.PlaceBidCommand) (bidding.PlaceBidResult, error)
	JoinAuction(ctx context.Context, viewer model.Identity, auctionID string) ([]registry.Envelope, error)
}

// Server upgrades HTTP requests and serves the duplex auction protocol
type Server struct {
	service  Service
	rooms    *registry.Registry
	verifier auth.Verifier
	upgrader websocket.Upgrader
}

// NewServer creates a transport. An origin list containing "*" accepts any origin.
func NewServer(service Service, rooms *registry.Registry, verifier auth.Verifier, allowedOrigins []string) *Server {
	allowed := make(map[string]bool, len(allowedOrigins))
	for _, o := range allowedOrigins {
		allowed[o] = true
	}

	return &Server{
		service:  service,
		rooms:    rooms,
		verifier: verifier,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  4096,
			WriteBufferSize: 4096,
			CheckOrigin: func(r *http.Request) bool {
				origin := r.Header.Get("Origin")
				return origin == "" || allowed["*"] || allowed[origin]
			},
		},
	}
}

// Handle upgrades the request, verifies the caller and serves the
// connection until it closes. Unverified callers get auth_error and are
// disconnected.
func (s *Server) Handle(w http.ResponseWriter, r *http.Request, clientAddress string) {
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		utils.Warn("socket: upgrade failed", map[string]any{"component": "socket", "error": err.Error()})
		return
	}

	identity, err := s.verifier.Verify(r.Context(), auth.TokenFromRequest(r))
	if err != nil {
		utils.Warn("socket: rejected unauthenticated connection", map[string]any{
			"component":      "socket",
			"client_address": clientAddress,
			"error":          err.Error(),
		})
		rejectConnection(conn, biddingerrors.UserMessage(err))
		return
	}

	c := newClient(utils.GenerateID(), identity, clientAddress, conn)
	s.rooms.Register(c, identity)
	utils.Info("socket: client connected", map[string]any{
		"component":   "socket",
		"conn_id":     c.id,
		"user_id":     identity.UserID,
		"connections": s.rooms.ConnectionCount(),
	})

	go c.writePump()
	c.readPump(s.handleFrame)

	s.rooms.Unregister(c.id)
	utils.Info("socket: client disconnected", map[string]any{
		"component":   "socket",
		"conn_id":     c.id,
		"user_id":     identity.UserID,
		"connections": s.rooms.ConnectionCount(),
	})
}

func rejectConnection(conn *websocket.Conn, message string) {
	defer conn.Close()

	data, err := json.Marshal(registry.Message{Event: protocol.EventAuthError, Data: protocol.AuthError{Message: message}})
	if err != nil {
		return
	}
	deadline := time.Now().Add(writeWait)
	conn.SetWriteDeadline(deadline)
	if err := conn.WriteMessage(websocket.TextMessage, data); err != nil {
		return
	}
	conn.WriteControl(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.ClosePolicyViolation, message), deadline)
}

func (s *Server) handleFrame(c *client, data []byte) {
	var in protocol.Inbound
	if err := json.Unmarshal(data, &in); err != nil {
		s.replyError(c, "malformed message")
		return
	}

	switch in.Event {
	case protocol.CmdJoinAuction:
		var cmd protocol.JoinAuction
		if err := json.Unmarshal(in.Data, &cmd); err != nil || cmd.AuctionID == "" {
			s.replyError(c, "auctionId is required")
			return
		}
		s.join(c, cmd)

	case protocol.CmdLeaveAuction:
		var cmd protocol.LeaveAuction
		if err := json.Unmarshal(in.Data, &cmd); err != nil {
			return
		}
		s.rooms.Leave(c.id, cmd.AuctionID)

	case protocol.CmdPlaceBid:
		var cmd protocol.PlaceBid
		if err := json.Unmarshal(in.Data, &cmd); err != nil {
			s.rooms.Dispatch(c.id, []registry.Envelope{bidding.ErrorEnvelope(biddingerrors.ErrInvalidBid)})
			return
		}
		s.placeBid(c, cmd)

	default:
		s.replyError(c, "unknown event "+in.Event)
	}
}

func (s *Server) join(c *client, cmd protocol.JoinAuction) {
	previous := s.rooms.CurrentAuction(c.id)

	// join before reading state so no update falls between the snapshot and membership
	if err := s.rooms.Join(c.id, cmd.AuctionID); err != nil {
		s.replyError(c, "failed to join auction")
		return
	}

	envs, err := s.service.JoinAuction(c.ctx, c.identity, cmd.AuctionID)
	if err != nil {
		s.restoreRoom(c.id, previous, cmd.AuctionID)
		s.replyError(c, biddingerrors.UserMessage(err))
		return
	}
	s.rooms.Dispatch(c.id, envs)
}

func (s *Server) placeBid(c *client, cmd protocol.PlaceBid) {
	res, err := s.service.PlaceBid(c.ctx, bidding.PlaceBidCommand{
		Identity:      c.identity,
		AuctionID:     cmd.AuctionID,
		Amount:        cmd.Amount,
		Source:        model.SourceManual,
		ClientAddress: c.clientAddress,
	})
	if err != nil {
		s.rooms.Dispatch(c.id, []registry.Envelope{bidding.ErrorEnvelope(err)})
		return
	}
	s.rooms.DispatchInOrder(res.Ticket, c.id, res.Envelopes)
}

// restoreRoom undoes a failed join so the connection keeps the room it had
func (s *Server) restoreRoom(connID, previous, failed string) {
	if previous == failed {
		return
	}
	if previous == "" {
		s.rooms.Leave(connID, failed)
		return
	}
	if err := s.rooms.Join(connID, previous); err != nil {
		utils.Debug("socket: failed to restore room", map[string]any{"component": "socket", "conn_id": connID, "auction_id": previous, "error": err.Error()})
	}
}

func (s *Server) replyError(c *client, message string) {
	if err := c.Send(registry.Message{Event: protocol.EventError, Data: protocol.ErrorMessage{Message: message}}); err != nil {
		utils.Debug("socket: failed to send error reply", map[string]any{"component": "socket", "conn_id": c.id, "error": err.Error()})
	}
}
