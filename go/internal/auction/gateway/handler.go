package gateway

import (
	"context"
	"errors"
	"net/http"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/render"
	"github.com/google/uuid"
	"github.com/mcdev12/reverseauction/go/internal/auction/auctionerr"
	"github.com/mcdev12/reverseauction/go/internal/auction/broadcast"
	"github.com/mcdev12/reverseauction/go/internal/auction/record"
	"github.com/mcdev12/reverseauction/go/internal/models"
	"github.com/rs/zerolog/log"
)

// AuctionLister lists auction records for the public catalogue.
type AuctionLister interface {
	ListAuctions(ctx context.Context, f record.Filter) ([]*models.Auction, int, error)
}

// Handler serves the bidder-facing HTTP and WebSocket routes.
type Handler struct {
	connections *ConnectionManager
	coord       Coordinator
	auctions    AuctionLister
}

// NewHandler creates a new gateway handler
func NewHandler(cm *ConnectionManager, coord Coordinator, auctions AuctionLister) *Handler {
	return &Handler{
		connections: cm,
		coord:       coord,
		auctions:    auctions,
	}
}

// RegisterRoutes mounts the gateway routes on r.
func (h *Handler) RegisterRoutes(r chi.Router) {
	r.Get("/ws/auction", h.HandleAuctionConnection)
	r.Get("/ws/stats", h.HandleConnectionStats)
	r.Route("/api/auctions", func(r chi.Router) {
		r.Get("/", h.HandleListAuctions)
		r.Get("/{auctionID}/state", h.HandleAuctionState)
		r.Get("/{auctionID}/bids", h.HandleBidHistory)
	})
	log.Info().Msg("auction gateway routes registered")
}

type httpError struct {
	Error string          `json:"error"`
	Code  auctionerr.Code `json:"code,omitempty"`
}

func writeError(w http.ResponseWriter, r *http.Request, status int, code auctionerr.Code, msg string) {
	render.Status(r, status)
	render.JSON(w, r, httpError{Error: msg, Code: code})
}

func writeDomainError(w http.ResponseWriter, r *http.Request, err error) {
	code := auctionerr.CodeOf(err)
	status := http.StatusInternalServerError
	switch code {
	case auctionerr.CodeNotFound:
		status = http.StatusNotFound
	case auctionerr.CodeInvalidArgument:
		status = http.StatusBadRequest
	case auctionerr.CodeStateConflict:
		status = http.StatusConflict
	case auctionerr.CodePersistenceFailure:
		status = http.StatusServiceUnavailable
	}
	writeError(w, r, status, code, auctionerr.MessageOf(err))
}

// HandleAuctionConnection upgrades a request to a bidding session. An empty bidder_id
// opens an observer session.
func (h *Handler) HandleAuctionConnection(w http.ResponseWriter, r *http.Request) {
	raw := r.URL.Query().Get("auction_id")
	if raw == "" {
		writeError(w, r, http.StatusBadRequest, auctionerr.CodeInvalidArgument, "auction_id is required")
		return
	}
	auctionID, err := uuid.Parse(raw)
	if err != nil {
		writeError(w, r, http.StatusBadRequest, auctionerr.CodeInvalidArgument, "invalid auction_id format")
		return
	}
	bidderID := strings.TrimSpace(r.URL.Query().Get("bidder_id"))

	if err := h.connections.UpgradeConnection(w, r, bidderID, auctionID); err != nil {
		log.Error().
			Err(err).
			Str("auction_id", auctionID.String()).
			Str("bidder_id", bidderID).
			Msg("failed to open auction session")
		// The upgrader has already answered the request when the handshake itself failed.
		var domainErr *auctionerr.Error
		if errors.As(err, &domainErr) {
			writeDomainError(w, r, err)
		}
	}
}

// HandleConnectionStats returns statistics about active connections
func (h *Handler) HandleConnectionStats(w http.ResponseWriter, r *http.Request) {
	render.JSON(w, r, h.connections.GetConnectionStats())
}

type auctionListResponse struct {
	Auctions []AuctionView `json:"auctions"`
	Total    int           `json:"total"`
	Page     int           `json:"page"`
	PageSize int           `json:"page_size"`
}

// HandleListAuctions lists auctions. Supported query parameters: status (repeatable or
// comma separated), department, category, q, page, page_size.
func (h *Handler) HandleListAuctions(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	f := record.Filter{
		Department: q.Get("department"),
		Category:   q.Get("category"),
		Search:     q.Get("q"),
	}
	for _, v := range q["status"] {
		for _, s := range strings.Split(v, ",") {
			if s = strings.TrimSpace(s); s == "" {
				continue
			}
			status := models.AuctionStatus(strings.ToUpper(s))
			if !status.Valid() {
				writeError(w, r, http.StatusBadRequest, auctionerr.CodeInvalidArgument, "unknown status "+s)
				return
			}
			f.Statuses = append(f.Statuses, status)
		}
	}
	var err error
	if f.Page, err = intParam(q.Get("page")); err != nil {
		writeError(w, r, http.StatusBadRequest, auctionerr.CodeInvalidArgument, "incorrect page value")
		return
	}
	if f.PageSize, err = intParam(q.Get("page_size")); err != nil {
		writeError(w, r, http.StatusBadRequest, auctionerr.CodeInvalidArgument, "incorrect page_size value")
		return
	}

	auctions, total, err := h.auctions.ListAuctions(r.Context(), f)
	if err != nil {
		log.Error().Err(err).Msg("failed to list auctions")
		writeDomainError(w, r, err)
		return
	}

	page := f.Normalized()
	resp := auctionListResponse{
		Auctions: make([]AuctionView, len(auctions)),
		Total:    total,
		Page:     page.Page,
		PageSize: page.PageSize,
	}
	for i, a := range auctions {
		resp.Auctions[i] = newAuctionView(a)
	}
	render.JSON(w, r, resp)
}

// HandleAuctionState returns the same masked snapshot a session receives on connect.
func (h *Handler) HandleAuctionState(w http.ResponseWriter, r *http.Request) {
	msg, ok := h.maskedSnapshot(w, r)
	if !ok {
		return
	}
	render.JSON(w, r, msg)
}

type bidHistoryResponse struct {
	AuctionID string        `json:"auction_id"`
	History   []HistoryView `json:"history"`
	BidCount  int           `json:"bid_count"`
}

// HandleBidHistory returns the masked bid history of an auction.
func (h *Handler) HandleBidHistory(w http.ResponseWriter, r *http.Request) {
	msg, ok := h.maskedSnapshot(w, r)
	if !ok {
		return
	}
	data := msg.Data.(SnapshotData)
	render.JSON(w, r, bidHistoryResponse{
		AuctionID: msg.AuctionID,
		History:   data.History,
		BidCount:  data.BidCount,
	})
}

func (h *Handler) maskedSnapshot(w http.ResponseWriter, r *http.Request) (broadcast.Message, bool) {
	auctionID, err := uuid.Parse(chi.URLParam(r, "auctionID"))
	if err != nil {
		writeError(w, r, http.StatusBadRequest, auctionerr.CodeInvalidArgument, "invalid auction id format")
		return broadcast.Message{}, false
	}
	snap, err := h.coord.Snapshot(r.Context(), auctionID)
	if err != nil {
		writeDomainError(w, r, err)
		return broadcast.Message{}, false
	}
	viewer := broadcast.Viewer{BidderID: strings.TrimSpace(r.URL.Query().Get("bidder_id"))}
	return snapshotMessage(snap, viewer), true
}

func intParam(s string) (int, error) {
	if s == "" {
		return 0, nil
	}
	return strconv.Atoi(s)
}
