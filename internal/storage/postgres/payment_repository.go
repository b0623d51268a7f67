package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/maina2/MM-backend/internal/domain"
)

type paymentRepository struct {
	db *sql.DB
}

// NewPaymentRepository создаёт PostgreSQL-реализацию PaymentRepository.
func NewPaymentRepository(store *Store) domain.PaymentRepository {
	return &paymentRepository{db: store.DB()}
}

func (r *paymentRepository) GetByOrderID(orderID string) (domain.Payment, error) {
	return r.getWhere(`order_id = $1`, orderID)
}

func (r *paymentRepository) GetByCorrelationID(correlationID string) (domain.Payment, error) {
	return r.getWhere(`checkout_request_id = $1`, correlationID)
}

func (r *paymentRepository) getWhere(where, arg string) (domain.Payment, error) {
	ctx, cancel := context.WithTimeout(context.Background(), opTimeout)
	defer cancel()

	var (
		payment           domain.Payment
		status            string
		checkoutRequestID sql.NullString
	)

	err := r.db.QueryRowContext(ctx, `
		SELECT id, order_id, amount, phone_number, status,
		       checkout_request_id, transaction_id, error_message, created_at, updated_at
		FROM payments
		WHERE `+where, arg).Scan(
		&payment.ID, &payment.OrderID, &payment.Amount, &payment.PhoneNumber, &status,
		&checkoutRequestID, &payment.TransactionID, &payment.ErrorMessage,
		&payment.CreatedAt, &payment.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return domain.Payment{}, domain.ErrPaymentNotFound
		}
		return domain.Payment{}, fmt.Errorf("select payment: %w", err)
	}

	payment.Status = domain.PaymentStatus(status)
	payment.CheckoutRequestID = checkoutRequestID.String

	return payment, nil
}

// AttachCorrelationID устанавливает correlation id шлюза. Значение неизменяемо:
// обновляются только строки, где id ещё не задан или совпадает с новым.
func (r *paymentRepository) AttachCorrelationID(paymentID, correlationID string) error {
	ctx, cancel := context.WithTimeout(context.Background(), opTimeout)
	defer cancel()

	res, err := r.db.ExecContext(ctx, `
		UPDATE payments
		SET checkout_request_id = $2,
		    updated_at = $3
		WHERE id = $1
		  AND (checkout_request_id IS NULL OR checkout_request_id = $2)
	`, paymentID, correlationID, time.Now().UTC())
	if err != nil {
		if isUniqueViolation(err) {
			return domain.ErrCorrelationIDTaken
		}
		return fmt.Errorf("attach correlation id: %w", err)
	}

	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("rows affected: %w", err)
	}
	if affected == 0 {
		exists, err := r.paymentExists(ctx, paymentID)
		if err != nil {
			return err
		}
		if !exists {
			return domain.ErrPaymentNotFound
		}
		return domain.ErrCorrelationIDTaken
	}

	return nil
}

// FinalizeFromPending — compare-and-set переход платежа из pending в конечный
// статус одним UPDATE. Конкурирующие доставки callback берут только одна.
func (r *paymentRepository) FinalizeFromPending(paymentID string, to domain.PaymentStatus, transactionID, errorMessage string) error {
	ctx, cancel := context.WithTimeout(context.Background(), opTimeout)
	defer cancel()

	res, err := r.db.ExecContext(ctx, `
		UPDATE payments
		SET status = $2,
		    transaction_id = $3,
		    error_message = $4,
		    updated_at = $5
		WHERE id = $1
		  AND status = $6
	`,
		paymentID, string(to), transactionID, errorMessage,
		time.Now().UTC(), string(domain.PaymentStatusPending),
	)
	if err != nil {
		return fmt.Errorf("finalize payment: %w", err)
	}

	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("rows affected: %w", err)
	}
	if affected == 0 {
		exists, err := r.paymentExists(ctx, paymentID)
		if err != nil {
			return err
		}
		if !exists {
			return domain.ErrPaymentNotFound
		}
		return domain.ErrPaymentAlreadyFinal
	}

	return nil
}

func (r *paymentRepository) paymentExists(ctx context.Context, paymentID string) (bool, error) {
	var id string
	err := r.db.QueryRowContext(ctx, `SELECT id FROM payments WHERE id = $1`, paymentID).Scan(&id)
	if err == nil {
		return true, nil
	}
	if errors.Is(err, sql.ErrNoRows) {
		return false, nil
	}
	return false, fmt.Errorf("check payment exists: %w", err)
}

var _ domain.PaymentRepository = (*paymentRepository)(nil)
