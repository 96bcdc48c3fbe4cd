package postgres

import (
	"context"

	"github.com/jmoiron/sqlx"

	"erpsync/internal/domain"
)

type TenantStore struct {
	db *sqlx.DB
}

func NewTenantStore(db *sqlx.DB) *TenantStore {
	return &TenantStore{db: db}
}

func (s *TenantStore) Get(ctx context.Context, userID int64) (*domain.Tenant, error) {
	var tenant domain.Tenant
	query := `
		SELECT user_id, database, username, password, active
		FROM tenants
		WHERE user_id = $1`
	if err := s.db.GetContext(ctx, &tenant, query, userID); err != nil {
		return nil, err
	}
	return &tenant, nil
}

func (s *TenantStore) ListActive(ctx context.Context) ([]domain.Tenant, error) {
	var tenants []domain.Tenant
	query := `
		SELECT user_id, database, username, password, active
		FROM tenants
		WHERE active
		ORDER BY user_id`
	err := s.db.SelectContext(ctx, &tenants, query)
	return tenants, err
}
