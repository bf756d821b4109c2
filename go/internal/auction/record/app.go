package record

import (
	"context"
	"fmt"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"
	"github.com/mcdev12/reverseauction/go/internal/auction/auctionerr"
	"github.com/mcdev12/reverseauction/go/internal/models"
	"github.com/rs/zerolog/log"
)

var validate = validator.New()

// App handles auction record business logic that happens before the coordinator takes over:
// drafting, editing and deleting drafts, and bidder qualification.
type App struct {
	store Store
	clock clockwork.Clock
}

// NewApp creates a new record App
func NewApp(store Store, clock clockwork.Clock) *App {
	return &App{store: store, clock: clock}
}

// CreateAuction validates the request and stores a new DRAFT auction with a fresh reference.
func (a *App) CreateAuction(ctx context.Context, req CreateAuctionRequest) (*models.Auction, error) {
	if err := validate.Struct(req); err != nil {
		return nil, auctionerr.Wrap(auctionerr.CodeInvalidArgument, err, "invalid create auction request")
	}

	now := a.clock.Now().UTC()
	auction := &models.Auction{
		ID:              uuid.New(),
		Title:           req.Title,
		Description:     req.Description,
		Item:            itemFromRequest(req.Item),
		Department:      req.Department,
		CostCenter:      req.CostCenter,
		TenderReference: req.TenderReference,
		CreatedBy:       req.CreatedBy,
		StartingPrice:   req.StartingPrice,
		ReservePrice:    req.ReservePrice,
		MinDecrement:    models.DefaultMinDecrement,
		Currency:        models.DefaultCurrency,
		Status:          models.AuctionStatusDraft,
		Extension:       models.DefaultExtensionPolicy(),
		Visibility:      models.DefaultVisibilityPolicy(),
		CreatedAt:       now,
		UpdatedAt:       now,
	}
	if req.MinDecrement != nil {
		auction.MinDecrement = *req.MinDecrement
	}
	if req.Currency != "" {
		auction.Currency = req.Currency
	}
	if req.AutoExtend != nil {
		auction.Extension.AutoExtend = *req.AutoExtend
	}
	if req.ExtensionWindowSeconds != nil {
		auction.Extension.WindowSeconds = *req.ExtensionWindowSeconds
	}
	if req.ExtensionDurationSeconds != nil {
		auction.Extension.DurationSeconds = *req.ExtensionDurationSeconds
	}
	if req.AnonymousBidding != nil {
		auction.Visibility.AnonymousBidding = *req.AnonymousBidding
	}
	if req.RankOnly != nil {
		auction.Visibility.RankOnly = *req.RankOnly
	}

	if err := validatePricing(auction); err != nil {
		return nil, err
	}

	seq, err := a.store.NextReferenceSeq(ctx, now.Year())
	if err != nil {
		return nil, fmt.Errorf("failed to allocate reference: %w", err)
	}
	auction.Reference = FormatReference(now.Year(), seq)

	if err := a.store.CreateAuction(ctx, auction); err != nil {
		return nil, fmt.Errorf("failed to create auction: %w", err)
	}

	log.Info().
		Str("auction_id", auction.ID.String()).
		Str("reference", auction.Reference).
		Str("starting_price", auction.StartingPrice.String()).
		Msg("auction drafted")
	return auction, nil
}

// GetAuction returns the stored record.
func (a *App) GetAuction(ctx context.Context, id uuid.UUID) (*models.Auction, error) {
	return a.store.GetAuction(ctx, id)
}

// UpdateAuction edits a draft. Auctions past DRAFT are owned by the coordinator and rejected here.
func (a *App) UpdateAuction(ctx context.Context, req UpdateAuctionRequest) (*models.Auction, error) {
	if err := validate.Struct(req); err != nil {
		return nil, auctionerr.Wrap(auctionerr.CodeInvalidArgument, err, "invalid update auction request")
	}

	current, err := a.store.GetAuction(ctx, req.ID)
	if err != nil {
		return nil, err
	}
	if current.Status != models.AuctionStatusDraft {
		return nil, auctionerr.New(auctionerr.CodeStateConflict,
			"can only update auctions with status %s, current status is %s", models.AuctionStatusDraft, current.Status)
	}

	if req.Title != nil {
		current.Title = *req.Title
	}
	if req.Description != nil {
		current.Description = *req.Description
	}
	if req.Item != nil {
		current.Item = itemFromRequest(*req.Item)
	}
	if req.Department != nil {
		current.Department = *req.Department
	}
	if req.StartingPrice != nil {
		current.StartingPrice = *req.StartingPrice
	}
	if req.ClearReserve {
		current.ReservePrice = nil
	} else if req.ReservePrice != nil {
		current.ReservePrice = req.ReservePrice
	}
	if req.MinDecrement != nil {
		current.MinDecrement = *req.MinDecrement
	}
	if req.Extension != nil {
		if req.Extension.WindowSeconds <= 0 || req.Extension.DurationSeconds <= 0 {
			return nil, auctionerr.New(auctionerr.CodeInvalidArgument, "extension window and duration must be positive")
		}
		current.Extension = *req.Extension
	}
	if req.Visibility != nil {
		current.Visibility = *req.Visibility
	}
	if err := validatePricing(current); err != nil {
		return nil, err
	}
	current.UpdatedAt = a.clock.Now().UTC()

	if err := a.store.UpdateDraft(ctx, current); err != nil {
		return nil, fmt.Errorf("failed to update auction: %w", err)
	}

	log.Info().Str("auction_id", current.ID.String()).Msg("draft auction updated")
	return current, nil
}

// DeleteAuction removes a draft. Auctions that have left DRAFT are never deleted.
func (a *App) DeleteAuction(ctx context.Context, id uuid.UUID) error {
	if err := a.store.DeleteDraft(ctx, id); err != nil {
		return fmt.Errorf("failed to delete auction: %w", err)
	}
	log.Info().Str("auction_id", id.String()).Msg("draft auction deleted")
	return nil
}

// ListAuctions returns one page of auctions matching the filter and the total match count.
func (a *App) ListAuctions(ctx context.Context, f Filter) ([]*models.Auction, int, error) {
	for _, s := range f.Statuses {
		if !s.Valid() {
			return nil, 0, auctionerr.New(auctionerr.CodeInvalidArgument, "unknown status %q", s)
		}
	}
	if f.StartFrom != nil && f.StartTo != nil && f.StartTo.Before(*f.StartFrom) {
		return nil, 0, auctionerr.New(auctionerr.CodeInvalidArgument, "start range is inverted")
	}
	return a.store.ListAuctions(ctx, f)
}

// QualifyBidder registers or re-qualifies a supplier for an auction.
func (a *App) QualifyBidder(ctx context.Context, req QualifyBidderRequest) (*models.Bidder, error) {
	if err := validate.Struct(req); err != nil {
		return nil, auctionerr.Wrap(auctionerr.CodeInvalidArgument, err, "invalid qualify bidder request")
	}

	auction, err := a.store.GetAuction(ctx, req.AuctionID)
	if err != nil {
		return nil, err
	}
	if auction.Status.IsTerminal() {
		return nil, auctionerr.New(auctionerr.CodeStateConflict, "auction %s is %s", auction.ID, auction.Status)
	}

	now := a.clock.Now().UTC()
	bidder := &models.Bidder{
		ID:           req.BidderID,
		AuctionID:    req.AuctionID,
		SupplierName: req.SupplierName,
		BBBEELevel:   req.BBBEELevel,
		Qualified:    req.Qualified,
		CreatedAt:    now,
	}
	if req.Qualified {
		bidder.QualifiedAt = &now
	}
	if err := a.store.UpsertBidder(ctx, bidder); err != nil {
		return nil, fmt.Errorf("failed to save bidder: %w", err)
	}

	log.Info().
		Str("auction_id", req.AuctionID.String()).
		Str("bidder_id", req.BidderID).
		Bool("qualified", req.Qualified).
		Msg("bidder qualification updated")
	return a.store.GetBidder(ctx, req.AuctionID, req.BidderID)
}

// ListBidders returns the suppliers registered for an auction.
func (a *App) ListBidders(ctx context.Context, auctionID uuid.UUID) ([]*models.Bidder, error) {
	return a.store.ListBidders(ctx, auctionID)
}

// FormatReference renders the human reference, e.g. RA-2025-0001.
func FormatReference(year, seq int) string {
	return fmt.Sprintf("RA-%d-%04d", year, seq)
}

func validatePricing(a *models.Auction) error {
	if !a.StartingPrice.IsPositive() {
		return auctionerr.New(auctionerr.CodeInvalidArgument, "starting price must be positive")
	}
	if !a.MinDecrement.IsPositive() {
		return auctionerr.New(auctionerr.CodeInvalidArgument, "minimum decrement must be positive")
	}
	if a.MinDecrement.GreaterThanOrEqual(a.StartingPrice) {
		return auctionerr.New(auctionerr.CodeInvalidArgument, "minimum decrement must be below the starting price")
	}
	if a.ReservePrice != nil {
		if a.ReservePrice.IsNegative() {
			return auctionerr.New(auctionerr.CodeInvalidArgument, "reserve price cannot be negative")
		}
		if a.ReservePrice.GreaterThan(a.StartingPrice) {
			return auctionerr.New(auctionerr.CodeInvalidArgument,
				"reserve price %s exceeds starting price %s", a.ReservePrice.String(), a.StartingPrice.String())
		}
	}
	return nil
}

func itemFromRequest(r ItemRequest) models.AuctionItem {
	return models.AuctionItem{
		Name:           r.Name,
		Description:    r.Description,
		Quantity:       r.Quantity,
		Unit:           r.Unit,
		Category:       r.Category,
		Specifications: append([]string(nil), r.Specifications...),
	}
}
