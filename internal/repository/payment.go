package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/lib/pq"
	"github.com/shopspring/decimal"

	"github.com/settleworks/paygate/internal/domain"
)

const paymentColumns = `id, amount, currency, status, provider, external_reference,
	processor_fee, conversion_fee, network_fee, total_fees,
	settlement_asset, settlement_amount, settlement_tx_hash,
	customer_email, metadata, created_at, updated_at, completed_at`

type PaymentRepository struct {
	db *sql.DB
}

func NewPaymentRepository(db *sql.DB) *PaymentRepository {
	return &PaymentRepository{db: db}
}

func (r *PaymentRepository) Create(ctx context.Context, tx *sql.Tx, p *domain.Payment) error {
	_, err := tx.ExecContext(ctx,
		`INSERT INTO payments (
			id, amount, currency, status, provider, external_reference,
			processor_fee, conversion_fee, network_fee, total_fees,
			settlement_asset, settlement_amount, settlement_tx_hash,
			customer_email, metadata, created_at, updated_at, completed_at
		) VALUES (
			$1, $2, $3, $4, $5, $6, $7, $8, $9, $10,
			$11, $12, $13, $14, $15, $16, $17, $18
		)`,
		p.ID, p.Amount, p.Currency, p.Status, p.Provider, p.ExternalReference,
		p.Fees.ProcessorFee, p.Fees.ConversionFee, p.Fees.NetworkFee, p.Fees.TotalFees,
		p.SettlementAsset, p.SettlementAmount, p.SettlementTxHash,
		p.CustomerEmail, nullJSON(p.Metadata), p.CreatedAt, p.UpdatedAt, p.CompletedAt,
	)
	if err != nil {
		return fmt.Errorf("Create: %w", err)
	}
	return nil
}

func (r *PaymentRepository) GetByID(ctx context.Context, id uuid.UUID) (*domain.Payment, error) {
	row := r.db.QueryRowContext(ctx,
		`SELECT `+paymentColumns+` FROM payments WHERE id = $1`, id,
	)
	p, err := scanPayment(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("GetByID: %w", domain.ErrNotFound)
		}
		return nil, fmt.Errorf("GetByID: %w", err)
	}
	return p, nil
}

func (r *PaymentRepository) GetByExternalReference(ctx context.Context, ref string) (*domain.Payment, error) {
	row := r.db.QueryRowContext(ctx,
		`SELECT `+paymentColumns+` FROM payments WHERE external_reference = $1`, ref,
	)
	p, err := scanPayment(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("GetByExternalReference: %w", domain.ErrNotFound)
		}
		return nil, fmt.Errorf("GetByExternalReference: %w", err)
	}
	return p, nil
}

// AttachExternalReference binds a provider reference to a payment. The
// reference is set at most once; a replay with the same (payment, ref) pair
// is a no-op, while any other conflict is ErrDuplicateReference. Uniqueness
// across payments is enforced by the partial unique index on
// external_reference. Runs inside the caller's transaction so the bind can
// commit or roll back together with a status change.
func (r *PaymentRepository) AttachExternalReference(ctx context.Context, tx *sql.Tx, id uuid.UUID, ref string) error {
	res, err := tx.ExecContext(ctx,
		`UPDATE payments SET external_reference = $1, updated_at = now()
		WHERE id = $2 AND external_reference IS NULL`,
		ref, id,
	)
	if err != nil {
		if isUniqueViolation(err) {
			return fmt.Errorf("AttachExternalReference: %w", domain.ErrDuplicateReference)
		}
		return fmt.Errorf("AttachExternalReference: %w", err)
	}

	rows, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("AttachExternalReference: rows affected: %w", err)
	}
	if rows == 1 {
		return nil
	}

	existing, err := scanPaymentTx(ctx, tx, id)
	if err != nil {
		return fmt.Errorf("AttachExternalReference: %w", err)
	}
	if existing.ExternalReference != nil && *existing.ExternalReference == ref {
		// webhook/intent retry with the same reference
		return nil
	}
	return fmt.Errorf("AttachExternalReference: %w", domain.ErrDuplicateReference)
}

func scanPaymentTx(ctx context.Context, tx *sql.Tx, id uuid.UUID) (*domain.Payment, error) {
	row := tx.QueryRowContext(ctx,
		`SELECT `+paymentColumns+` FROM payments WHERE id = $1`, id,
	)
	p, err := scanPayment(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, domain.ErrNotFound
		}
		return nil, err
	}
	return p, nil
}

// UpdateStatus flips status only when the row still holds the expected
// current status, making concurrent transitions on the same payment
// mutually exclusive without any process-wide lock. Returns the number of
// rows updated; 0 means the payment was missing or had moved on.
func (r *PaymentRepository) UpdateStatus(ctx context.Context, tx *sql.Tx, id uuid.UUID, from, to domain.PaymentStatus, completedAt *time.Time) (int64, error) {
	res, err := tx.ExecContext(ctx,
		`UPDATE payments SET status = $1, completed_at = COALESCE($2, completed_at), updated_at = now()
		WHERE id = $3 AND status = $4`,
		to, completedAt, id, from,
	)
	if err != nil {
		return 0, fmt.Errorf("UpdateStatus: %w", err)
	}
	rows, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("UpdateStatus: rows affected: %w", err)
	}
	return rows, nil
}

func (r *PaymentRepository) UpdateProcessorFee(ctx context.Context, tx *sql.Tx, id uuid.UUID, fee decimal.Decimal) error {
	_, err := tx.ExecContext(ctx,
		`UPDATE payments SET processor_fee = $1,
			total_fees = $1 + conversion_fee + network_fee,
			updated_at = now()
		WHERE id = $2`,
		fee, id,
	)
	if err != nil {
		return fmt.Errorf("UpdateProcessorFee: %w", err)
	}
	return nil
}

func (r *PaymentRepository) SetSettlementResult(ctx context.Context, tx *sql.Tx, id uuid.UUID, conversionFee, networkFee, settlementAmount decimal.Decimal, asset, txHash string) error {
	_, err := tx.ExecContext(ctx,
		`UPDATE payments SET conversion_fee = $1, network_fee = $2,
			total_fees = processor_fee + $1 + $2,
			settlement_asset = $3, settlement_amount = $4, settlement_tx_hash = $5,
			updated_at = now()
		WHERE id = $6`,
		conversionFee, networkFee, asset, settlementAmount, txHash, id,
	)
	if err != nil {
		return fmt.Errorf("SetSettlementResult: %w", err)
	}
	return nil
}

// ClaimForConversion atomically flips a payment into settling so only one
// conversion can run per payment. First attempts claim from funds_captured;
// retryConversion re-claims from failed. Not reachable from the public
// transition API.
func (r *PaymentRepository) ClaimForConversion(ctx context.Context, id uuid.UUID) (bool, error) {
	res, err := r.db.ExecContext(ctx,
		`UPDATE payments SET status = $1, updated_at = now()
		WHERE id = $2 AND status IN ($3, $4)`,
		domain.PaymentStatusSettling, id,
		domain.PaymentStatusFundsCaptured, domain.PaymentStatusFailed,
	)
	if err != nil {
		return false, fmt.Errorf("ClaimForConversion: %w", err)
	}
	rows, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("ClaimForConversion: rows affected: %w", err)
	}
	return rows == 1, nil
}

// ReclaimStaleConversion takes over a settling payment whose last update is
// older than staleAfter, recovering attempts orphaned by a crash between
// the settling claim and completion. Bumping updated_at re-arms the
// staleness clock, so concurrent reclaimers cannot both win.
func (r *PaymentRepository) ReclaimStaleConversion(ctx context.Context, id uuid.UUID, staleAfter time.Duration) (bool, error) {
	res, err := r.db.ExecContext(ctx,
		`UPDATE payments SET updated_at = now()
		WHERE id = $1 AND status = $2 AND updated_at < now() - $3 * interval '1 second'`,
		id, domain.PaymentStatusSettling, int64(staleAfter.Seconds()),
	)
	if err != nil {
		return false, fmt.Errorf("ReclaimStaleConversion: %w", err)
	}
	rows, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("ReclaimStaleConversion: rows affected: %w", err)
	}
	return rows == 1, nil
}

func scanPayment(s scanner) (*domain.Payment, error) {
	var p domain.Payment
	var settlementAmount decimal.NullDecimal
	var metadata *[]byte

	err := s.Scan(
		&p.ID, &p.Amount, &p.Currency, &p.Status, &p.Provider, &p.ExternalReference,
		&p.Fees.ProcessorFee, &p.Fees.ConversionFee, &p.Fees.NetworkFee, &p.Fees.TotalFees,
		&p.SettlementAsset, &settlementAmount, &p.SettlementTxHash,
		&p.CustomerEmail, &metadata, &p.CreatedAt, &p.UpdatedAt, &p.CompletedAt,
	)
	if err != nil {
		return nil, err
	}

	if settlementAmount.Valid {
		p.SettlementAmount = &settlementAmount.Decimal
	}
	if metadata != nil {
		p.Metadata = *metadata
	}

	return &p, nil
}

func isUniqueViolation(err error) bool {
	var pqErr *pq.Error
	return errors.As(err, &pqErr) && pqErr.Code == "23505"
}
