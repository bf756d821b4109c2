package record

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"
	"github.com/mcdev12/reverseauction/go/internal/auction/auctionerr"
	"github.com/mcdev12/reverseauction/go/internal/auction/outbox"
	"github.com/mcdev12/reverseauction/go/internal/models"
	"github.com/peterldowns/testy/assert"
	"github.com/peterldowns/testy/check"
	"github.com/shopspring/decimal"
)

var now = time.Date(2025, 3, 1, 9, 0, 0, 0, time.UTC)

func newApp() (*App, *MemoryStore) {
	store := NewMemoryStore()
	return NewApp(store, clockwork.NewFakeClockAt(now)), store
}

func validCreateRequest() CreateAuctionRequest {
	reserve := decimal.NewFromInt(1_800_000)
	decrement := decimal.NewFromInt(5_000)
	return CreateAuctionRequest{
		Title:         "Office furniture supply",
		Department:    "Public Works",
		CreatedBy:     "ops@example.gov",
		StartingPrice: decimal.NewFromInt(2_500_000),
		ReservePrice:  &reserve,
		MinDecrement:  &decrement,
		Item: ItemRequest{
			Name:     "Ergonomic chairs",
			Quantity: 500,
			Unit:     "units",
			Category: "Furniture",
		},
	}
}

func TestCreateAuctionAppliesDefaults(t *testing.T) {
	app, _ := newApp()
	ctx := context.Background()

	req := validCreateRequest()
	req.MinDecrement = nil
	a, err := app.CreateAuction(ctx, req)
	assert.NoError(t, err)

	check.Equal(t, models.AuctionStatusDraft, a.Status)
	check.Equal(t, "RA-2025-0001", a.Reference)
	check.Equal(t, "ZAR", a.Currency)
	check.True(t, a.MinDecrement.Equal(decimal.NewFromInt(100)))
	check.True(t, a.Extension.AutoExtend)
	check.Equal(t, 120, a.Extension.WindowSeconds)
	check.Equal(t, 300, a.Extension.DurationSeconds)
	check.True(t, a.Visibility.AnonymousBidding)
	check.True(t, a.Visibility.RankOnly)

	second, err := app.CreateAuction(ctx, validCreateRequest())
	assert.NoError(t, err)
	check.Equal(t, "RA-2025-0002", second.Reference)
}

func TestCreateAuctionRejectsInvalidInput(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(r *CreateAuctionRequest)
	}{
		{name: "missing title", mutate: func(r *CreateAuctionRequest) { r.Title = "" }},
		{name: "missing item unit", mutate: func(r *CreateAuctionRequest) { r.Item.Unit = "" }},
		{name: "zero quantity", mutate: func(r *CreateAuctionRequest) { r.Item.Quantity = 0 }},
		{name: "bad currency", mutate: func(r *CreateAuctionRequest) { r.Currency = "rand" }},
		{name: "zero starting price", mutate: func(r *CreateAuctionRequest) { r.StartingPrice = decimal.Zero }},
		{name: "zero decrement", mutate: func(r *CreateAuctionRequest) { d := decimal.Zero; r.MinDecrement = &d }},
		{name: "reserve above starting", mutate: func(r *CreateAuctionRequest) { d := decimal.NewFromInt(3_000_000); r.ReservePrice = &d }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			app, _ := newApp()
			req := validCreateRequest()
			tt.mutate(&req)

			_, err := app.CreateAuction(context.Background(), req)
			check.True(t, errors.Is(err, auctionerr.ErrInvalidArgument))
		})
	}
}

func TestUpdateAndDeleteOnlyWhileDraft(t *testing.T) {
	app, store := newApp()
	ctx := context.Background()

	a, err := app.CreateAuction(ctx, validCreateRequest())
	assert.NoError(t, err)

	title := "Office chairs, revised"
	updated, err := app.UpdateAuction(ctx, UpdateAuctionRequest{ID: a.ID, Title: &title, ClearReserve: true})
	assert.NoError(t, err)
	check.Equal(t, title, updated.Title)
	check.Nil(t, updated.ReservePrice)

	scheduled := updated.Clone()
	scheduled.Status = models.AuctionStatusScheduled
	assert.NoError(t, store.SaveTransition(ctx, updated, scheduled, nil))

	_, err = app.UpdateAuction(ctx, UpdateAuctionRequest{ID: a.ID, Title: &title})
	check.True(t, errors.Is(err, auctionerr.ErrStateConflict))

	err = app.DeleteAuction(ctx, a.ID)
	check.True(t, errors.Is(err, auctionerr.ErrStateConflict))

	draft, err := app.CreateAuction(ctx, validCreateRequest())
	assert.NoError(t, err)
	assert.NoError(t, app.DeleteAuction(ctx, draft.ID))
	_, err = app.GetAuction(ctx, draft.ID)
	check.True(t, errors.Is(err, auctionerr.ErrNotFound))
}

func TestSaveTransitionRejectsStaleWrite(t *testing.T) {
	store := NewMemoryStore()
	clock := clockwork.NewFakeClockAt(now)
	app := NewApp(store, clock)
	ctx := context.Background()

	read, err := app.CreateAuction(ctx, validCreateRequest())
	assert.NoError(t, err)

	clock.Advance(time.Second)
	title := "Office chairs, revised"
	_, err = app.UpdateAuction(ctx, UpdateAuctionRequest{ID: read.ID, Title: &title})
	assert.NoError(t, err)

	scheduled := read.Clone()
	scheduled.Status = models.AuctionStatusScheduled
	err = store.SaveTransition(ctx, read, scheduled, nil)
	check.True(t, errors.Is(err, ErrStaleWrite))
	check.True(t, errors.Is(err, auctionerr.ErrStateConflict))

	stored, err := app.GetAuction(ctx, read.ID)
	assert.NoError(t, err)
	check.Equal(t, title, stored.Title)
	check.Equal(t, models.AuctionStatusDraft, stored.Status)

	events := len(store.Events())
	err = store.SaveTransition(ctx, read, scheduled, []outbox.OutboxEvent{{ID: uuid.New(), AuctionID: read.ID}})
	check.True(t, errors.Is(err, ErrStaleWrite))
	check.Equal(t, events, len(store.Events()))

	missing := scheduled.Clone()
	missing.ID = uuid.New()
	err = store.SaveTransition(ctx, missing, missing, nil)
	check.True(t, errors.Is(err, auctionerr.ErrNotFound))
}

func TestListAuctionsFilters(t *testing.T) {
	app, store := newApp()
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		_, err := app.CreateAuction(ctx, validCreateRequest())
		assert.NoError(t, err)
	}
	other := validCreateRequest()
	other.Title = "Road resurfacing"
	other.Department = "Transport"
	other.Item.Category = "Construction"
	road, err := app.CreateAuction(ctx, other)
	assert.NoError(t, err)

	live := road.Clone()
	live.Status = models.AuctionStatusLive
	assert.NoError(t, store.SaveTransition(ctx, road, live, nil))

	list, total, err := app.ListAuctions(ctx, Filter{Department: "transport"})
	assert.NoError(t, err)
	check.Equal(t, 1, total)
	check.Equal(t, road.ID, list[0].ID)

	_, total, err = app.ListAuctions(ctx, Filter{Search: "FURNITURE"})
	assert.NoError(t, err)
	check.Equal(t, 3, total)

	_, total, err = app.ListAuctions(ctx, Filter{Statuses: []models.AuctionStatus{models.AuctionStatusLive}})
	assert.NoError(t, err)
	check.Equal(t, 1, total)

	page, total, err := app.ListAuctions(ctx, Filter{Page: 2, PageSize: 3})
	assert.NoError(t, err)
	check.Equal(t, 4, total)
	check.Equal(t, 1, len(page))

	_, _, err = app.ListAuctions(ctx, Filter{Statuses: []models.AuctionStatus{"PAUSED"}})
	check.True(t, errors.Is(err, auctionerr.ErrInvalidArgument))
}

func TestQualifyBidder(t *testing.T) {
	app, _ := newApp()
	ctx := context.Background()

	a, err := app.CreateAuction(ctx, validCreateRequest())
	assert.NoError(t, err)

	level := 2
	b, err := app.QualifyBidder(ctx, QualifyBidderRequest{
		AuctionID: a.ID, BidderID: "supplier-1", SupplierName: "Acme Office", BBBEELevel: &level, Qualified: true,
	})
	assert.NoError(t, err)
	check.True(t, b.Qualified)
	check.NotNil(t, b.QualifiedAt)

	b, err = app.QualifyBidder(ctx, QualifyBidderRequest{
		AuctionID: a.ID, BidderID: "supplier-1", SupplierName: "Acme Office", Qualified: false,
	})
	assert.NoError(t, err)
	check.False(t, b.Qualified)

	_, err = app.QualifyBidder(ctx, QualifyBidderRequest{AuctionID: uuid.New(), BidderID: "x", SupplierName: "y", Qualified: true})
	check.True(t, errors.Is(err, auctionerr.ErrNotFound))

	bidders, err := app.ListBidders(ctx, a.ID)
	assert.NoError(t, err)
	check.Equal(t, 1, len(bidders))
}

func TestMemoryStoreAppendBid(t *testing.T) {
	app, store := newApp()
	ctx := context.Background()

	a, err := app.CreateAuction(ctx, validCreateRequest())
	assert.NoError(t, err)

	ev, err := outbox.NewEvent(a.ID, "BidAccepted", map[string]int{"bid_id": 1}, now)
	assert.NoError(t, err)

	bid := models.Bid{Seq: 1, AuctionID: a.ID, BidderID: "supplier-1", Amount: decimal.NewFromInt(2_490_000), AcceptedAt: now}
	assert.NoError(t, store.AppendBid(ctx, bid, a, []outbox.OutboxEvent{ev}))

	err = store.AppendBid(ctx, bid, a, nil)
	check.True(t, errors.Is(err, auctionerr.ErrStateConflict))

	store.FailWrites(1)
	bid.Seq = 2
	check.True(t, errors.Is(store.AppendBid(ctx, bid, a, nil), ErrInjected))
	assert.NoError(t, store.AppendBid(ctx, bid, a, nil))

	bids, err := store.ListBids(ctx, a.ID)
	assert.NoError(t, err)
	check.Equal(t, 2, len(bids))
	check.Equal(t, 1, len(store.Events()))
}

func TestFormatReference(t *testing.T) {
	check.Equal(t, "RA-2025-0042", FormatReference(2025, 42))
	check.Equal(t, "RA-2026-12345", FormatReference(2026, 12345))
}
