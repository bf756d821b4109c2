// Package operator exposes the procurement operator's control surface over Connect.
package operator

import (
	"context"
	"errors"
	"net/http"
	"time"

	"connectrpc.com/connect"
	"github.com/google/uuid"
	"github.com/mcdev12/reverseauction/go/internal/auction/auctionerr"
	"github.com/mcdev12/reverseauction/go/internal/auction/coordinator"
	"github.com/mcdev12/reverseauction/go/internal/auction/record"
	"github.com/mcdev12/reverseauction/go/internal/models"
	"github.com/rs/zerolog/log"
	"google.golang.org/protobuf/types/known/emptypb"
)

const ServiceName = "auction.v1.OperatorService"

// Procedure paths.
const (
	CreateAuctionProcedure   = "/" + ServiceName + "/CreateAuction"
	GetAuctionProcedure      = "/" + ServiceName + "/GetAuction"
	UpdateAuctionProcedure   = "/" + ServiceName + "/UpdateAuction"
	DeleteAuctionProcedure   = "/" + ServiceName + "/DeleteAuction"
	ListAuctionsProcedure    = "/" + ServiceName + "/ListAuctions"
	ScheduleAuctionProcedure = "/" + ServiceName + "/ScheduleAuction"
	StartAuctionProcedure    = "/" + ServiceName + "/StartAuction"
	ForceEndAuctionProcedure = "/" + ServiceName + "/ForceEndAuction"
	AwardAuctionProcedure    = "/" + ServiceName + "/AwardAuction"
	CancelAuctionProcedure   = "/" + ServiceName + "/CancelAuction"
	QualifyBidderProcedure   = "/" + ServiceName + "/QualifyBidder"
	ListBiddersProcedure     = "/" + ServiceName + "/ListBidders"
)

// RecordApp defines what the service layer needs from the auction record application.
type RecordApp interface {
	CreateAuction(ctx context.Context, req record.CreateAuctionRequest) (*models.Auction, error)
	GetAuction(ctx context.Context, id uuid.UUID) (*models.Auction, error)
	UpdateAuction(ctx context.Context, req record.UpdateAuctionRequest) (*models.Auction, error)
	DeleteAuction(ctx context.Context, id uuid.UUID) error
	ListAuctions(ctx context.Context, f record.Filter) ([]*models.Auction, int, error)
	QualifyBidder(ctx context.Context, req record.QualifyBidderRequest) (*models.Bidder, error)
	ListBidders(ctx context.Context, auctionID uuid.UUID) ([]*models.Bidder, error)
}

// Lifecycle is the coordinator's operator-facing side. Every transition after DRAFT goes
// through it.
type Lifecycle interface {
	Schedule(ctx context.Context, auctionID uuid.UUID, start, end time.Time) (*models.Auction, error)
	Start(ctx context.Context, auctionID uuid.UUID) (*models.Auction, error)
	ForceEnd(ctx context.Context, auctionID uuid.UUID) (*models.Auction, error)
	Award(ctx context.Context, auctionID uuid.UUID, bidderID string) (*models.Auction, error)
	Cancel(ctx context.Context, auctionID uuid.UUID, reason string) (*models.Auction, error)
}

// Service implements the operator RPCs.
type Service struct {
	app       RecordApp
	lifecycle Lifecycle
}

func NewService(app RecordApp, lifecycle Lifecycle) *Service {
	return &Service{app: app, lifecycle: lifecycle}
}

// Handler returns the path prefix and handler serving every operator procedure.
func (s *Service) Handler(opts ...connect.HandlerOption) (string, http.Handler) {
	opts = append([]connect.HandlerOption{
		connect.WithCodec(Codec{}),
		connect.WithInterceptors(loggingInterceptor()),
	}, opts...)

	mux := http.NewServeMux()
	mux.Handle(CreateAuctionProcedure, connect.NewUnaryHandler(CreateAuctionProcedure, s.CreateAuction, opts...))
	mux.Handle(GetAuctionProcedure, connect.NewUnaryHandler(GetAuctionProcedure, s.GetAuction, opts...))
	mux.Handle(UpdateAuctionProcedure, connect.NewUnaryHandler(UpdateAuctionProcedure, s.UpdateAuction, opts...))
	mux.Handle(DeleteAuctionProcedure, connect.NewUnaryHandler(DeleteAuctionProcedure, s.DeleteAuction, opts...))
	mux.Handle(ListAuctionsProcedure, connect.NewUnaryHandler(ListAuctionsProcedure, s.ListAuctions, opts...))
	mux.Handle(ScheduleAuctionProcedure, connect.NewUnaryHandler(ScheduleAuctionProcedure, s.ScheduleAuction, opts...))
	mux.Handle(StartAuctionProcedure, connect.NewUnaryHandler(StartAuctionProcedure, s.StartAuction, opts...))
	mux.Handle(ForceEndAuctionProcedure, connect.NewUnaryHandler(ForceEndAuctionProcedure, s.ForceEndAuction, opts...))
	mux.Handle(AwardAuctionProcedure, connect.NewUnaryHandler(AwardAuctionProcedure, s.AwardAuction, opts...))
	mux.Handle(CancelAuctionProcedure, connect.NewUnaryHandler(CancelAuctionProcedure, s.CancelAuction, opts...))
	mux.Handle(QualifyBidderProcedure, connect.NewUnaryHandler(QualifyBidderProcedure, s.QualifyBidder, opts...))
	mux.Handle(ListBiddersProcedure, connect.NewUnaryHandler(ListBiddersProcedure, s.ListBidders, opts...))
	return "/" + ServiceName + "/", mux
}

// CreateAuction creates a new draft auction
func (s *Service) CreateAuction(ctx context.Context, req *connect.Request[record.CreateAuctionRequest]) (*connect.Response[AuctionResponse], error) {
	auction, err := s.app.CreateAuction(ctx, *req.Msg)
	if err != nil {
		return nil, connectError(err)
	}
	return connect.NewResponse(&AuctionResponse{Auction: auction}), nil
}

// GetAuction retrieves an auction by ID
func (s *Service) GetAuction(ctx context.Context, req *connect.Request[AuctionIDRequest]) (*connect.Response[AuctionResponse], error) {
	id, err := parseAuctionID(req.Msg.AuctionID)
	if err != nil {
		return nil, err
	}
	auction, err := s.app.GetAuction(ctx, id)
	if err != nil {
		return nil, connectError(err)
	}
	return connect.NewResponse(&AuctionResponse{Auction: auction}), nil
}

// UpdateAuction edits a draft auction
func (s *Service) UpdateAuction(ctx context.Context, req *connect.Request[record.UpdateAuctionRequest]) (*connect.Response[AuctionResponse], error) {
	auction, err := s.app.UpdateAuction(ctx, *req.Msg)
	if err != nil {
		return nil, connectError(err)
	}
	return connect.NewResponse(&AuctionResponse{Auction: auction}), nil
}

// DeleteAuction deletes a draft auction
func (s *Service) DeleteAuction(ctx context.Context, req *connect.Request[AuctionIDRequest]) (*connect.Response[emptypb.Empty], error) {
	id, err := parseAuctionID(req.Msg.AuctionID)
	if err != nil {
		return nil, err
	}
	if err := s.app.DeleteAuction(ctx, id); err != nil {
		return nil, connectError(err)
	}
	return connect.NewResponse(&emptypb.Empty{}), nil
}

// ListAuctions returns one page of auctions matching the filter
func (s *Service) ListAuctions(ctx context.Context, req *connect.Request[ListAuctionsRequest]) (*connect.Response[ListAuctionsResponse], error) {
	f := record.Filter{
		Statuses:   req.Msg.Statuses,
		Department: req.Msg.Department,
		Category:   req.Msg.Category,
		Search:     req.Msg.Search,
		Page:       req.Msg.Page,
		PageSize:   req.Msg.PageSize,
	}
	var err error
	if f.StartFrom, err = optionalTime(req.Msg.StartFrom); err != nil {
		return nil, err
	}
	if f.StartTo, err = optionalTime(req.Msg.StartTo); err != nil {
		return nil, err
	}

	auctions, total, err := s.app.ListAuctions(ctx, f)
	if err != nil {
		return nil, connectError(err)
	}
	page := f.Normalized()
	return connect.NewResponse(&ListAuctionsResponse{
		Auctions: auctions,
		Total:    total,
		Page:     page.Page,
		PageSize: page.PageSize,
	}), nil
}

// ScheduleAuction moves a draft to SCHEDULED with the given bidding window
func (s *Service) ScheduleAuction(ctx context.Context, req *connect.Request[ScheduleAuctionRequest]) (*connect.Response[AuctionResponse], error) {
	id, err := parseAuctionID(req.Msg.AuctionID)
	if err != nil {
		return nil, err
	}
	start, err := requiredTime("start_time", req.Msg.StartTime)
	if err != nil {
		return nil, err
	}
	end, err := requiredTime("end_time", req.Msg.EndTime)
	if err != nil {
		return nil, err
	}

	auction, err := s.lifecycle.Schedule(ctx, id, start, end)
	if err != nil {
		return nil, connectError(err)
	}
	return connect.NewResponse(&AuctionResponse{Auction: auction}), nil
}

// StartAuction opens bidding immediately
func (s *Service) StartAuction(ctx context.Context, req *connect.Request[AuctionIDRequest]) (*connect.Response[AuctionResponse], error) {
	return s.transition(ctx, req.Msg.AuctionID, s.lifecycle.Start)
}

// ForceEndAuction closes bidding immediately
func (s *Service) ForceEndAuction(ctx context.Context, req *connect.Request[AuctionIDRequest]) (*connect.Response[AuctionResponse], error) {
	return s.transition(ctx, req.Msg.AuctionID, s.lifecycle.ForceEnd)
}

// AwardAuction awards an ended auction to a bidder
func (s *Service) AwardAuction(ctx context.Context, req *connect.Request[AwardAuctionRequest]) (*connect.Response[AuctionResponse], error) {
	bidderID := req.Msg.BidderID
	return s.transition(ctx, req.Msg.AuctionID, func(ctx context.Context, id uuid.UUID) (*models.Auction, error) {
		return s.lifecycle.Award(ctx, id, bidderID)
	})
}

// CancelAuction cancels a non-terminal auction
func (s *Service) CancelAuction(ctx context.Context, req *connect.Request[CancelAuctionRequest]) (*connect.Response[AuctionResponse], error) {
	reason := req.Msg.Reason
	return s.transition(ctx, req.Msg.AuctionID, func(ctx context.Context, id uuid.UUID) (*models.Auction, error) {
		return s.lifecycle.Cancel(ctx, id, reason)
	})
}

// QualifyBidder registers or re-qualifies a supplier
func (s *Service) QualifyBidder(ctx context.Context, req *connect.Request[record.QualifyBidderRequest]) (*connect.Response[BidderResponse], error) {
	bidder, err := s.app.QualifyBidder(ctx, *req.Msg)
	if err != nil {
		return nil, connectError(err)
	}
	return connect.NewResponse(&BidderResponse{Bidder: bidder}), nil
}

// ListBidders lists the suppliers registered for an auction
func (s *Service) ListBidders(ctx context.Context, req *connect.Request[AuctionIDRequest]) (*connect.Response[ListBiddersResponse], error) {
	id, err := parseAuctionID(req.Msg.AuctionID)
	if err != nil {
		return nil, err
	}
	bidders, err := s.app.ListBidders(ctx, id)
	if err != nil {
		return nil, connectError(err)
	}
	return connect.NewResponse(&ListBiddersResponse{Bidders: bidders}), nil
}

func (s *Service) transition(ctx context.Context, rawID string, fn func(context.Context, uuid.UUID) (*models.Auction, error)) (*connect.Response[AuctionResponse], error) {
	id, err := parseAuctionID(rawID)
	if err != nil {
		return nil, err
	}
	auction, err := fn(ctx, id)
	if err != nil {
		return nil, connectError(err)
	}
	return connect.NewResponse(&AuctionResponse{Auction: auction}), nil
}

func parseAuctionID(raw string) (uuid.UUID, error) {
	id, err := uuid.Parse(raw)
	if err != nil {
		return uuid.Nil, connect.NewError(connect.CodeInvalidArgument, errors.New("invalid auction_id"))
	}
	return id, nil
}

func requiredTime(field string, ts *Timestamp) (time.Time, error) {
	if ts == nil || ts.Timestamp == nil {
		return time.Time{}, connect.NewError(connect.CodeInvalidArgument, errors.New(field+" is required"))
	}
	if err := ts.CheckValid(); err != nil {
		return time.Time{}, connect.NewError(connect.CodeInvalidArgument, err)
	}
	return ts.AsTime(), nil
}

func optionalTime(ts *Timestamp) (*time.Time, error) {
	if ts == nil || ts.Timestamp == nil {
		return nil, nil
	}
	if err := ts.CheckValid(); err != nil {
		return nil, connect.NewError(connect.CodeInvalidArgument, err)
	}
	t := ts.AsTime()
	return &t, nil
}

// connectError maps domain errors onto Connect codes.
func connectError(err error) error {
	if errors.Is(err, coordinator.ErrClosed) {
		return connect.NewError(connect.CodeUnavailable, err)
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return connect.NewError(connect.CodeDeadlineExceeded, err)
	}
	switch auctionerr.CodeOf(err) {
	case auctionerr.CodeNotFound:
		return connect.NewError(connect.CodeNotFound, err)
	case auctionerr.CodeInvalidArgument, auctionerr.CodeInvalidAmount:
		return connect.NewError(connect.CodeInvalidArgument, err)
	case auctionerr.CodeStateConflict, auctionerr.CodeAuctionNotLive:
		return connect.NewError(connect.CodeFailedPrecondition, err)
	case auctionerr.CodePersistenceFailure:
		return connect.NewError(connect.CodeUnavailable, err)
	case auctionerr.CodeRequestExpired:
		return connect.NewError(connect.CodeCanceled, err)
	}
	return connect.NewError(connect.CodeInternal, err)
}

func loggingInterceptor() connect.UnaryInterceptorFunc {
	return func(next connect.UnaryFunc) connect.UnaryFunc {
		return func(ctx context.Context, req connect.AnyRequest) (connect.AnyResponse, error) {
			start := time.Now()
			res, err := next(ctx, req)
			event := log.Debug()
			if err != nil {
				event = log.Warn().Err(err).Str("code", connect.CodeOf(err).String())
			}
			event.
				Str("procedure", req.Spec().Procedure).
				Dur("duration", time.Since(start)).
				Msg("operator call")
			return res, err
		}
	}
}
