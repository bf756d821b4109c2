package operator

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"connectrpc.com/connect"
	"github.com/jonboulle/clockwork"
	"github.com/mcdev12/reverseauction/go/internal/auction/broadcast"
	"github.com/mcdev12/reverseauction/go/internal/auction/coordinator"
	"github.com/mcdev12/reverseauction/go/internal/auction/record"
	"github.com/mcdev12/reverseauction/go/internal/models"
	"github.com/peterldowns/testy/assert"
	"github.com/peterldowns/testy/check"
	"github.com/shopspring/decimal"
	"google.golang.org/protobuf/types/known/emptypb"
	"google.golang.org/protobuf/types/known/timestamppb"
)

var t0 = time.Date(2025, 3, 1, 9, 0, 0, 0, time.UTC)

type fixture struct {
	clock *clockwork.FakeClock
	coord *coordinator.Manager
	srv   *httptest.Server
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	fc := clockwork.NewFakeClockAt(t0)
	store := record.NewMemoryStore()
	coord := coordinator.NewManager(store, broadcast.NewHub(16), fc, coordinator.Config{})
	svc := NewService(record.NewApp(store, fc), coord)

	mux := http.NewServeMux()
	mux.Handle(svc.Handler())
	srv := httptest.NewServer(mux)
	t.Cleanup(func() {
		srv.Close()
		coord.Close()
	})
	return &fixture{clock: fc, coord: coord, srv: srv}
}

func invoke[Req, Res any](t *testing.T, f *fixture, procedure string, req *Req) (*Res, error) {
	t.Helper()
	client := connect.NewClient[Req, Res](f.srv.Client(), f.srv.URL+procedure, connect.WithCodec(Codec{}))
	res, err := client.CallUnary(context.Background(), connect.NewRequest(req))
	if err != nil {
		return nil, err
	}
	return res.Msg, nil
}

func ts(t time.Time) *Timestamp {
	return NewTimestamp(timestamppb.New(t))
}

func (f *fixture) createDraft(t *testing.T) *models.Auction {
	t.Helper()
	reserve := decimal.NewFromInt(1_800_000)
	res, err := invoke[record.CreateAuctionRequest, AuctionResponse](t, f, CreateAuctionProcedure, &record.CreateAuctionRequest{
		Title:         "Water treatment chemicals",
		CreatedBy:     "buyer@example.org",
		Department:    "Water and Sanitation",
		StartingPrice: decimal.NewFromInt(2_500_000),
		ReservePrice:  &reserve,
		Item:          record.ItemRequest{Name: "Chlorine", Quantity: 40, Unit: "tonnes", Category: "chemicals"},
	})
	assert.NoError(t, err)
	return res.Auction
}

func TestAuctionLifecycleOverConnect(t *testing.T) {
	f := newFixture(t)
	a := f.createDraft(t)
	check.Equal(t, models.AuctionStatusDraft, a.Status)
	check.True(t, a.ReservePrice.Equal(decimal.NewFromInt(1_800_000)))

	title := "Water treatment chemicals 2025/26"
	updated, err := invoke[record.UpdateAuctionRequest, AuctionResponse](t, f, UpdateAuctionProcedure, &record.UpdateAuctionRequest{
		ID: a.ID, Title: &title,
	})
	assert.NoError(t, err)
	check.Equal(t, title, updated.Auction.Title)

	bidder, err := invoke[record.QualifyBidderRequest, BidderResponse](t, f, QualifyBidderProcedure, &record.QualifyBidderRequest{
		AuctionID: a.ID, BidderID: "s1", SupplierName: "Aqua Supplies", Qualified: true,
	})
	assert.NoError(t, err)
	check.True(t, bidder.Bidder.Qualified)

	scheduled, err := invoke[ScheduleAuctionRequest, AuctionResponse](t, f, ScheduleAuctionProcedure, &ScheduleAuctionRequest{
		AuctionID: a.ID.String(),
		StartTime: ts(t0.Add(time.Hour)),
		EndTime:   ts(t0.Add(2 * time.Hour)),
	})
	assert.NoError(t, err)
	check.Equal(t, models.AuctionStatusScheduled, scheduled.Auction.Status)
	check.True(t, scheduled.Auction.ScheduledEnd.Equal(t0.Add(2*time.Hour)))

	started, err := invoke[AuctionIDRequest, AuctionResponse](t, f, StartAuctionProcedure, &AuctionIDRequest{AuctionID: a.ID.String()})
	assert.NoError(t, err)
	check.Equal(t, models.AuctionStatusLive, started.Auction.Status)

	_, err = f.coord.PlaceBid(context.Background(), a.ID, "s1", decimal.NewFromInt(2_400_000))
	assert.NoError(t, err)

	ended, err := invoke[AuctionIDRequest, AuctionResponse](t, f, ForceEndAuctionProcedure, &AuctionIDRequest{AuctionID: a.ID.String()})
	assert.NoError(t, err)
	check.Equal(t, models.AuctionStatusEnded, ended.Auction.Status)

	_, err = invoke[AwardAuctionRequest, AuctionResponse](t, f, AwardAuctionProcedure, &AwardAuctionRequest{
		AuctionID: a.ID.String(), BidderID: "nobody",
	})
	check.Equal(t, connect.CodeInvalidArgument, connect.CodeOf(err))

	awarded, err := invoke[AwardAuctionRequest, AuctionResponse](t, f, AwardAuctionProcedure, &AwardAuctionRequest{
		AuctionID: a.ID.String(), BidderID: "s1",
	})
	assert.NoError(t, err)
	check.Equal(t, models.AuctionStatusAwarded, awarded.Auction.Status)
	check.Equal(t, "s1", awarded.Auction.AwardedBidderID)

	_, err = invoke[CancelAuctionRequest, AuctionResponse](t, f, CancelAuctionProcedure, &CancelAuctionRequest{
		AuctionID: a.ID.String(), Reason: "too late",
	})
	check.Equal(t, connect.CodeFailedPrecondition, connect.CodeOf(err))
}

func TestDraftOnlyOperations(t *testing.T) {
	f := newFixture(t)
	draft := f.createDraft(t)

	_, err := invoke[AuctionIDRequest, emptypb.Empty](t, f, DeleteAuctionProcedure, &AuctionIDRequest{AuctionID: draft.ID.String()})
	assert.NoError(t, err)
	_, err = invoke[AuctionIDRequest, AuctionResponse](t, f, GetAuctionProcedure, &AuctionIDRequest{AuctionID: draft.ID.String()})
	check.Equal(t, connect.CodeNotFound, connect.CodeOf(err))

	other := f.createDraft(t)
	_, err = invoke[CancelAuctionRequest, AuctionResponse](t, f, CancelAuctionProcedure, &CancelAuctionRequest{
		AuctionID: other.ID.String(), Reason: "  ",
	})
	check.Equal(t, connect.CodeInvalidArgument, connect.CodeOf(err))

	cancelled, err := invoke[CancelAuctionRequest, AuctionResponse](t, f, CancelAuctionProcedure, &CancelAuctionRequest{
		AuctionID: other.ID.String(), Reason: "budget withdrawn",
	})
	assert.NoError(t, err)
	check.Equal(t, models.AuctionStatusCancelled, cancelled.Auction.Status)

	_, err = invoke[AuctionIDRequest, emptypb.Empty](t, f, DeleteAuctionProcedure, &AuctionIDRequest{AuctionID: other.ID.String()})
	check.Equal(t, connect.CodeFailedPrecondition, connect.CodeOf(err))

	title := "renamed"
	_, err = invoke[record.UpdateAuctionRequest, AuctionResponse](t, f, UpdateAuctionProcedure, &record.UpdateAuctionRequest{
		ID: other.ID, Title: &title,
	})
	check.Equal(t, connect.CodeFailedPrecondition, connect.CodeOf(err))
}

func TestScheduleValidation(t *testing.T) {
	f := newFixture(t)
	a := f.createDraft(t)

	_, err := invoke[ScheduleAuctionRequest, AuctionResponse](t, f, ScheduleAuctionProcedure, &ScheduleAuctionRequest{
		AuctionID: a.ID.String(),
		StartTime: ts(t0.Add(time.Hour)),
	})
	check.Equal(t, connect.CodeInvalidArgument, connect.CodeOf(err))

	_, err = invoke[ScheduleAuctionRequest, AuctionResponse](t, f, ScheduleAuctionProcedure, &ScheduleAuctionRequest{
		AuctionID: a.ID.String(),
		StartTime: ts(t0.Add(2 * time.Hour)),
		EndTime:   ts(t0.Add(time.Hour)),
	})
	check.Equal(t, connect.CodeInvalidArgument, connect.CodeOf(err))

	_, err = invoke[AuctionIDRequest, AuctionResponse](t, f, StartAuctionProcedure, &AuctionIDRequest{AuctionID: a.ID.String()})
	check.Equal(t, connect.CodeFailedPrecondition, connect.CodeOf(err))

	_, err = invoke[AuctionIDRequest, AuctionResponse](t, f, StartAuctionProcedure, &AuctionIDRequest{AuctionID: "not-an-id"})
	check.Equal(t, connect.CodeInvalidArgument, connect.CodeOf(err))
}

func TestListAuctionsFilters(t *testing.T) {
	f := newFixture(t)
	first := f.createDraft(t)
	f.createDraft(t)

	_, err := invoke[ScheduleAuctionRequest, AuctionResponse](t, f, ScheduleAuctionProcedure, &ScheduleAuctionRequest{
		AuctionID: first.ID.String(),
		StartTime: ts(t0.Add(time.Hour)),
		EndTime:   ts(t0.Add(2 * time.Hour)),
	})
	assert.NoError(t, err)

	all, err := invoke[ListAuctionsRequest, ListAuctionsResponse](t, f, ListAuctionsProcedure, &ListAuctionsRequest{})
	assert.NoError(t, err)
	check.Equal(t, 2, all.Total)
	check.Equal(t, 1, all.Page)

	scheduled, err := invoke[ListAuctionsRequest, ListAuctionsResponse](t, f, ListAuctionsProcedure, &ListAuctionsRequest{
		Statuses: []models.AuctionStatus{models.AuctionStatusScheduled},
	})
	assert.NoError(t, err)
	assert.Equal(t, 1, scheduled.Total)
	check.Equal(t, first.ID, scheduled.Auctions[0].ID)

	_, err = invoke[ListAuctionsRequest, ListAuctionsResponse](t, f, ListAuctionsProcedure, &ListAuctionsRequest{
		StartFrom: ts(t0.Add(2 * time.Hour)),
		StartTo:   ts(t0),
	})
	check.Equal(t, connect.CodeInvalidArgument, connect.CodeOf(err))
}

func TestTimestampJSON(t *testing.T) {
	in := ts(time.Date(2025, 3, 1, 9, 30, 0, 0, time.UTC))
	data, err := in.MarshalJSON()
	assert.NoError(t, err)
	check.Equal(t, `"2025-03-01T09:30:00Z"`, string(data))

	var out Timestamp
	assert.NoError(t, out.UnmarshalJSON(data))
	check.True(t, out.AsTime().Equal(in.AsTime()))
}
