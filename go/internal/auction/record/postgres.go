package record

import (
	"context"
	_ "embed"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/mcdev12/reverseauction/go/internal/auction/auctionerr"
	"github.com/mcdev12/reverseauction/go/internal/auction/outbox"
	"github.com/mcdev12/reverseauction/go/internal/models"
	"github.com/mcdev12/reverseauction/go/internal/sqlutil"
)

//go:embed schema.sql
var schemaSQL string

const (
	pgUniqueViolation     = "23505"
	pgForeignKeyViolation = "23503"
)

const auctionColumns = `id, reference, title, description, item, department, cost_center, tender_reference, created_by,
	starting_price::text, reserve_price::text, min_decrement::text, currency, status,
	start_time, scheduled_end_time, extended_end_time,
	auto_extend, extension_window_seconds, extension_duration_seconds, anonymous_bidding, rank_only,
	cancel_reason, awarded_bidder_id, winning_bid_seq, created_at, updated_at`

// PostgresStore implements Store on a pgx connection pool.
type PostgresStore struct {
	pool *pgxpool.Pool
}

var _ Store = (*PostgresStore)(nil)

func NewPostgresStore(pool *pgxpool.Pool) *PostgresStore {
	return &PostgresStore{pool: pool}
}

// Migrate creates the tables, indexes and the outbox notify trigger if missing.
func (s *PostgresStore) Migrate(ctx context.Context) error {
	if _, err := s.pool.Exec(ctx, schemaSQL); err != nil {
		return fmt.Errorf("failed to apply schema: %w", err)
	}
	return nil
}

func (s *PostgresStore) CreateAuction(ctx context.Context, a *models.Auction) error {
	args, err := auctionArgs(a)
	if err != nil {
		return err
	}
	_, err = s.pool.Exec(ctx, `
		INSERT INTO auctions (id, reference, title, description, item, department, cost_center, tender_reference, created_by,
			starting_price, reserve_price, min_decrement, currency, status,
			start_time, scheduled_end_time, extended_end_time,
			auto_extend, extension_window_seconds, extension_duration_seconds, anonymous_bidding, rank_only,
			cancel_reason, awarded_bidder_id, winning_bid_seq, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5::jsonb, $6, $7, $8, $9,
			$10::numeric, $11::numeric, $12::numeric, $13, $14,
			$15, $16, $17,
			$18, $19, $20, $21, $22,
			$23, $24, $25, $26, $27)`, args...)
	if err != nil {
		if pgCode(err) == pgUniqueViolation {
			return auctionerr.Wrap(auctionerr.CodeStateConflict, err, "auction %s already exists", a.ID)
		}
		return fmt.Errorf("failed to insert auction: %w", err)
	}
	return nil
}

func (s *PostgresStore) GetAuction(ctx context.Context, id uuid.UUID) (*models.Auction, error) {
	row := s.pool.QueryRow(ctx, `SELECT `+auctionColumns+` FROM auctions WHERE id = $1`, id)
	a, err := scanAuction(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, auctionerr.New(auctionerr.CodeNotFound, "auction %s not found", id)
		}
		return nil, fmt.Errorf("failed to get auction: %w", err)
	}
	return a, nil
}

func (s *PostgresStore) UpdateDraft(ctx context.Context, a *models.Auction) error {
	tag, err := s.writeAuction(ctx, s.pool, a, "AND status = 'DRAFT'")
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return s.draftConflict(ctx, a.ID, "updated")
	}
	return nil
}

func (s *PostgresStore) DeleteDraft(ctx context.Context, id uuid.UUID) error {
	tag, err := s.pool.Exec(ctx, `DELETE FROM auctions WHERE id = $1 AND status = 'DRAFT'`, id)
	if err != nil {
		return fmt.Errorf("failed to delete auction: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return s.draftConflict(ctx, id, "deleted")
	}
	return nil
}

// draftConflict explains why a draft-only write touched no rows.
func (s *PostgresStore) draftConflict(ctx context.Context, id uuid.UUID, verb string) error {
	current, err := s.GetAuction(ctx, id)
	if err != nil {
		return err
	}
	return auctionerr.New(auctionerr.CodeStateConflict, "auction %s is %s, only drafts can be %s", id, current.Status, verb)
}

func (s *PostgresStore) ListAuctions(ctx context.Context, f Filter) ([]*models.Auction, int, error) {
	f = f.Normalized()

	var where []string
	var args []any
	arg := func(v any) string {
		args = append(args, v)
		return fmt.Sprintf("$%d", len(args))
	}

	if len(f.Statuses) > 0 {
		statuses := make([]string, len(f.Statuses))
		for i, st := range f.Statuses {
			statuses[i] = string(st)
		}
		where = append(where, "status = ANY("+arg(statuses)+")")
	}
	if f.Department != "" {
		where = append(where, "lower(department) = lower("+arg(f.Department)+")")
	}
	if f.Category != "" {
		where = append(where, "lower(item->>'category') = lower("+arg(f.Category)+")")
	}
	if f.Search != "" {
		p := arg("%" + f.Search + "%")
		where = append(where, "(title ILIKE "+p+" OR reference ILIKE "+p+" OR description ILIKE "+p+")")
	}
	if f.StartFrom != nil {
		where = append(where, "start_time >= "+arg(*f.StartFrom))
	}
	if f.StartTo != nil {
		where = append(where, "start_time <= "+arg(*f.StartTo))
	}

	clause := ""
	if len(where) > 0 {
		clause = " WHERE " + strings.Join(where, " AND ")
	}

	var total int
	if err := s.pool.QueryRow(ctx, `SELECT count(*) FROM auctions`+clause, args...).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("failed to count auctions: %w", err)
	}

	query := `SELECT ` + auctionColumns + ` FROM auctions` + clause +
		` ORDER BY created_at DESC, reference DESC LIMIT ` + arg(f.PageSize) + ` OFFSET ` + arg(f.offset())
	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, 0, fmt.Errorf("failed to list auctions: %w", err)
	}
	defer rows.Close()

	out := []*models.Auction{}
	for rows.Next() {
		a, err := scanAuction(rows)
		if err != nil {
			return nil, 0, fmt.Errorf("failed to scan auction: %w", err)
		}
		out = append(out, a)
	}
	return out, total, rows.Err()
}

func (s *PostgresStore) ListRecoverable(ctx context.Context) ([]*models.Auction, error) {
	rows, err := s.pool.Query(ctx, `SELECT `+auctionColumns+` FROM auctions WHERE status IN ('SCHEDULED', 'LIVE', 'ENDED')`)
	if err != nil {
		return nil, fmt.Errorf("failed to list recoverable auctions: %w", err)
	}
	defer rows.Close()

	var out []*models.Auction
	for rows.Next() {
		a, err := scanAuction(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan auction: %w", err)
		}
		out = append(out, a)
	}
	return out, rows.Err()
}

func (s *PostgresStore) NextReferenceSeq(ctx context.Context, year int) (int, error) {
	var seq int
	err := s.pool.QueryRow(ctx, `
		INSERT INTO auction_reference_seq (year, last_seq) VALUES ($1, 1)
		ON CONFLICT (year) DO UPDATE SET last_seq = auction_reference_seq.last_seq + 1
		RETURNING last_seq`, year).Scan(&seq)
	if err != nil {
		return 0, fmt.Errorf("failed to allocate reference: %w", err)
	}
	return seq, nil
}

func (s *PostgresStore) SaveTransition(ctx context.Context, prev, next *models.Auction, evs []outbox.OutboxEvent) error {
	return sqlutil.Run(ctx, s.pool, func(tx pgx.Tx) error {
		tag, err := s.writeAuction(ctx, tx, next, "AND status = $28 AND updated_at = $29",
			string(prev.Status), prev.UpdatedAt.Truncate(time.Microsecond))
		if err != nil {
			return err
		}
		if tag.RowsAffected() == 0 {
			var exists bool
			if err := tx.QueryRow(ctx, `SELECT EXISTS (SELECT 1 FROM auctions WHERE id = $1)`, next.ID).Scan(&exists); err != nil {
				return fmt.Errorf("failed to check auction: %w", err)
			}
			if !exists {
				return auctionerr.New(auctionerr.CodeNotFound, "auction %s not found", next.ID)
			}
			return auctionerr.Wrap(auctionerr.CodeStateConflict, ErrStaleWrite, "auction %s changed since it was read", next.ID)
		}
		return insertOutbox(ctx, tx, evs)
	})
}

func (s *PostgresStore) AppendBid(ctx context.Context, bid models.Bid, a *models.Auction, evs []outbox.OutboxEvent) error {
	return sqlutil.Run(ctx, s.pool, func(tx pgx.Tx) error {
		_, err := tx.Exec(ctx, `
			INSERT INTO auction_bids (auction_id, seq, bidder_id, pseudonym, amount, accepted_at)
			VALUES ($1, $2, $3, $4, $5::numeric, $6)`,
			bid.AuctionID, bid.Seq, bid.BidderID, bid.Pseudonym, bid.Amount.String(), bid.AcceptedAt)
		if err != nil {
			if pgCode(err) == pgUniqueViolation {
				return auctionerr.Wrap(auctionerr.CodeStateConflict, err, "bid %d already recorded", bid.Seq)
			}
			return fmt.Errorf("failed to insert bid: %w", err)
		}

		if _, err := s.writeAuction(ctx, tx, a, ""); err != nil {
			return err
		}
		if _, err := tx.Exec(ctx,
			`UPDATE auction_bidders SET last_bid_at = $3 WHERE auction_id = $1 AND bidder_id = $2`,
			bid.AuctionID, bid.BidderID, bid.AcceptedAt); err != nil {
			return fmt.Errorf("failed to touch bidder: %w", err)
		}
		return insertOutbox(ctx, tx, evs)
	})
}

func (s *PostgresStore) ListBids(ctx context.Context, auctionID uuid.UUID) ([]models.Bid, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT auction_id, seq, bidder_id, pseudonym, amount::text, accepted_at
		FROM auction_bids WHERE auction_id = $1 ORDER BY seq`, auctionID)
	if err != nil {
		return nil, fmt.Errorf("failed to list bids: %w", err)
	}
	defer rows.Close()

	var out []models.Bid
	for rows.Next() {
		var b models.Bid
		var amount string
		if err := rows.Scan(&b.AuctionID, &b.Seq, &b.BidderID, &b.Pseudonym, &amount, &b.AcceptedAt); err != nil {
			return nil, fmt.Errorf("failed to scan bid: %w", err)
		}
		if b.Amount, err = sqlutil.FromNumericText(amount); err != nil {
			return nil, err
		}
		out = append(out, b)
	}
	return out, rows.Err()
}

func (s *PostgresStore) UpsertBidder(ctx context.Context, b *models.Bidder) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO auction_bidders (auction_id, bidder_id, supplier_name, bbbee_level, qualified, qualified_at, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		ON CONFLICT (auction_id, bidder_id) DO UPDATE SET
			supplier_name = EXCLUDED.supplier_name,
			bbbee_level = EXCLUDED.bbbee_level,
			qualified = EXCLUDED.qualified,
			qualified_at = EXCLUDED.qualified_at`,
		b.AuctionID, b.ID, b.SupplierName, b.BBBEELevel, b.Qualified, b.QualifiedAt, b.CreatedAt)
	if err != nil {
		if pgCode(err) == pgForeignKeyViolation {
			return auctionerr.Wrap(auctionerr.CodeNotFound, err, "auction %s not found", b.AuctionID)
		}
		return fmt.Errorf("failed to upsert bidder: %w", err)
	}
	return nil
}

const bidderColumns = `auction_id, bidder_id, supplier_name, bbbee_level, qualified, qualified_at, last_bid_at, created_at`

func (s *PostgresStore) GetBidder(ctx context.Context, auctionID uuid.UUID, bidderID string) (*models.Bidder, error) {
	row := s.pool.QueryRow(ctx, `SELECT `+bidderColumns+` FROM auction_bidders WHERE auction_id = $1 AND bidder_id = $2`,
		auctionID, bidderID)
	b, err := scanBidder(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, auctionerr.New(auctionerr.CodeNotFound, "bidder %s not registered for auction %s", bidderID, auctionID)
		}
		return nil, fmt.Errorf("failed to get bidder: %w", err)
	}
	return b, nil
}

func (s *PostgresStore) ListBidders(ctx context.Context, auctionID uuid.UUID) ([]*models.Bidder, error) {
	rows, err := s.pool.Query(ctx, `SELECT `+bidderColumns+` FROM auction_bidders WHERE auction_id = $1 ORDER BY bidder_id`, auctionID)
	if err != nil {
		return nil, fmt.Errorf("failed to list bidders: %w", err)
	}
	defer rows.Close()

	out := []*models.Bidder{}
	for rows.Next() {
		b, err := scanBidder(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan bidder: %w", err)
		}
		out = append(out, b)
	}
	return out, rows.Err()
}

type execer interface {
	Exec(ctx context.Context, sql string, arguments ...any) (pgconn.CommandTag, error)
}

// writeAuction overwrites every mutable column of the auction row. guard extends the WHERE
// clause; its placeholders start at $28 and take guardArgs.
func (s *PostgresStore) writeAuction(ctx context.Context, db execer, a *models.Auction, guard string, guardArgs ...any) (pgconn.CommandTag, error) {
	args, err := auctionArgs(a)
	if err != nil {
		return pgconn.CommandTag{}, err
	}
	args = append(args, guardArgs...)
	tag, err := db.Exec(ctx, `
		UPDATE auctions SET
			reference = $2, title = $3, description = $4, item = $5::jsonb, department = $6, cost_center = $7,
			tender_reference = $8, created_by = $9,
			starting_price = $10::numeric, reserve_price = $11::numeric, min_decrement = $12::numeric,
			currency = $13, status = $14,
			start_time = $15, scheduled_end_time = $16, extended_end_time = $17,
			auto_extend = $18, extension_window_seconds = $19, extension_duration_seconds = $20,
			anonymous_bidding = $21, rank_only = $22,
			cancel_reason = $23, awarded_bidder_id = $24, winning_bid_seq = $25,
			created_at = $26, updated_at = $27
		WHERE id = $1 `+guard, args...)
	if err != nil {
		return pgconn.CommandTag{}, fmt.Errorf("failed to update auction: %w", err)
	}
	return tag, nil
}

func auctionArgs(a *models.Auction) ([]any, error) {
	item, err := json.Marshal(a.Item)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal item: %w", err)
	}
	return []any{
		a.ID, a.Reference, a.Title, a.Description, string(item), a.Department, a.CostCenter, a.TenderReference, a.CreatedBy,
		a.StartingPrice.String(), sqlutil.ToNumericText(a.ReservePrice), a.MinDecrement.String(), a.Currency, string(a.Status),
		a.StartTime, a.ScheduledEnd, a.ExtendedEnd,
		a.Extension.AutoExtend, a.Extension.WindowSeconds, a.Extension.DurationSeconds,
		a.Visibility.AnonymousBidding, a.Visibility.RankOnly,
		a.CancelReason, a.AwardedBidderID, a.WinningBidSeq, a.CreatedAt, a.UpdatedAt,
	}, nil
}

func scanAuction(row pgx.Row) (*models.Auction, error) {
	var (
		a                      models.Auction
		item                   []byte
		starting, minDecrement string
		reserve                *string
		status                 string
	)
	err := row.Scan(
		&a.ID, &a.Reference, &a.Title, &a.Description, &item, &a.Department, &a.CostCenter, &a.TenderReference, &a.CreatedBy,
		&starting, &reserve, &minDecrement, &a.Currency, &status,
		&a.StartTime, &a.ScheduledEnd, &a.ExtendedEnd,
		&a.Extension.AutoExtend, &a.Extension.WindowSeconds, &a.Extension.DurationSeconds,
		&a.Visibility.AnonymousBidding, &a.Visibility.RankOnly,
		&a.CancelReason, &a.AwardedBidderID, &a.WinningBidSeq, &a.CreatedAt, &a.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}

	a.Status = models.AuctionStatus(status)
	if err := json.Unmarshal(item, &a.Item); err != nil {
		return nil, fmt.Errorf("failed to unmarshal item: %w", err)
	}
	if a.StartingPrice, err = sqlutil.FromNumericText(starting); err != nil {
		return nil, err
	}
	if a.MinDecrement, err = sqlutil.FromNumericText(minDecrement); err != nil {
		return nil, err
	}
	if a.ReservePrice, err = sqlutil.FromNullNumericText(reserve); err != nil {
		return nil, err
	}
	return &a, nil
}

func scanBidder(row pgx.Row) (*models.Bidder, error) {
	var b models.Bidder
	if err := row.Scan(&b.AuctionID, &b.ID, &b.SupplierName, &b.BBBEELevel, &b.Qualified, &b.QualifiedAt, &b.LastBidAt, &b.CreatedAt); err != nil {
		return nil, err
	}
	return &b, nil
}

func insertOutbox(ctx context.Context, tx pgx.Tx, evs []outbox.OutboxEvent) error {
	for _, ev := range evs {
		var metadata *string
		if len(ev.Metadata) > 0 {
			m := string(ev.Metadata)
			metadata = &m
		}
		_, err := tx.Exec(ctx, `
			INSERT INTO auction_outbox (id, auction_id, event_type, payload, metadata, created_at)
			VALUES ($1, $2, $3, $4::jsonb, $5::jsonb, $6)`,
			ev.ID, ev.AuctionID, ev.EventType, string(ev.Payload), metadata, ev.CreatedAt)
		if err != nil {
			return fmt.Errorf("failed to insert %s outbox event: %w", ev.EventType, err)
		}
	}
	return nil
}

func pgCode(err error) string {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code
	}
	return ""
}
