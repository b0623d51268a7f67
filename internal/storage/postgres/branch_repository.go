package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/maina2/MM-backend/internal/domain"
)

type branchRepository struct {
	db *sql.DB
}

// NewBranchRepository создаёт PostgreSQL-реализацию BranchRepository.
func NewBranchRepository(store *Store) domain.BranchRepository {
	return &branchRepository{db: store.DB()}
}

func (r *branchRepository) Get(id string) (domain.Branch, error) {
	ctx, cancel := context.WithTimeout(context.Background(), opTimeout)
	defer cancel()

	var branch domain.Branch
	err := r.db.QueryRowContext(ctx, `
		SELECT id, name, address, active, created_at
		FROM branches
		WHERE id = $1
	`, id).Scan(&branch.ID, &branch.Name, &branch.Address, &branch.Active, &branch.CreatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return domain.Branch{}, domain.ErrBranchNotFound
		}
		return domain.Branch{}, fmt.Errorf("select branch: %w", err)
	}

	return branch, nil
}

var _ domain.BranchRepository = (*branchRepository)(nil)
