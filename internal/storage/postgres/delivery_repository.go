package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/maina2/MM-backend/internal/domain"
)

type deliveryRepository struct {
	db *sql.DB
}

// NewDeliveryRepository создаёт PostgreSQL-реализацию DeliveryRepository.
func NewDeliveryRepository(store *Store) domain.DeliveryRepository {
	return &deliveryRepository{db: store.DB()}
}

func (r *deliveryRepository) Create(delivery domain.Delivery) error {
	ctx, cancel := context.WithTimeout(context.Background(), opTimeout)
	defer cancel()

	_, err := r.db.ExecContext(ctx, `
		INSERT INTO deliveries (
			id, order_id, delivery_person_id, status, address,
			latitude, longitude, estimated_at, delivered_at, created_at, updated_at
		) VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11)
	`,
		delivery.ID, delivery.OrderID, delivery.DeliveryPersonID,
		string(delivery.Status), delivery.Address,
		delivery.Latitude, delivery.Longitude,
		nullIfZeroTime(delivery.EstimatedAt), nullIfZeroTime(delivery.DeliveredAt),
		delivery.CreatedAt, delivery.UpdatedAt,
	)
	if err != nil {
		if isUniqueViolation(err) {
			return domain.ErrDeliveryExists
		}
		return fmt.Errorf("insert delivery: %w", err)
	}

	return nil
}

func (r *deliveryRepository) GetByOrderID(orderID string) (domain.Delivery, error) {
	ctx, cancel := context.WithTimeout(context.Background(), opTimeout)
	defer cancel()

	var (
		delivery    domain.Delivery
		status      string
		estimatedAt sql.NullTime
		deliveredAt sql.NullTime
	)

	err := r.db.QueryRowContext(ctx, `
		SELECT id, order_id, delivery_person_id, status, address,
		       latitude, longitude, estimated_at, delivered_at, created_at, updated_at
		FROM deliveries
		WHERE order_id = $1
	`, orderID).Scan(
		&delivery.ID, &delivery.OrderID, &delivery.DeliveryPersonID, &status, &delivery.Address,
		&delivery.Latitude, &delivery.Longitude, &estimatedAt, &deliveredAt,
		&delivery.CreatedAt, &delivery.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return domain.Delivery{}, domain.ErrDeliveryNotFound
		}
		return domain.Delivery{}, fmt.Errorf("select delivery: %w", err)
	}

	delivery.Status = domain.DeliveryStatus(status)
	if estimatedAt.Valid {
		delivery.EstimatedAt = estimatedAt.Time
	}
	if deliveredAt.Valid {
		delivery.DeliveredAt = deliveredAt.Time
	}

	return delivery, nil
}

func (r *deliveryRepository) Save(delivery domain.Delivery) error {
	ctx, cancel := context.WithTimeout(context.Background(), opTimeout)
	defer cancel()

	res, err := r.db.ExecContext(ctx, `
		UPDATE deliveries
		SET delivery_person_id = $1,
		    status = $2,
		    address = $3,
		    latitude = $4,
		    longitude = $5,
		    estimated_at = $6,
		    delivered_at = $7,
		    updated_at = $8
		WHERE id = $9
	`,
		delivery.DeliveryPersonID, string(delivery.Status), delivery.Address,
		delivery.Latitude, delivery.Longitude,
		nullIfZeroTime(delivery.EstimatedAt), nullIfZeroTime(delivery.DeliveredAt),
		delivery.UpdatedAt, delivery.ID,
	)
	if err != nil {
		return fmt.Errorf("update delivery: %w", err)
	}

	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("rows affected: %w", err)
	}
	if affected == 0 {
		return domain.ErrDeliveryNotFound
	}

	return nil
}

func nullIfZeroTime(t time.Time) any {
	if t.IsZero() {
		return nil
	}
	return t
}

var _ domain.DeliveryRepository = (*deliveryRepository)(nil)
