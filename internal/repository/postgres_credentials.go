package repository

import (
	"context"
	"database/sql"
	"fmt"

	"skylark-data/internal/domain"
)

// PostgresCredentialsRepository api credentials over postgres.
type PostgresCredentialsRepository struct {
	db *sql.DB
}

func NewPostgresCredentialsRepository(db *sql.DB) *PostgresCredentialsRepository {
	return &PostgresCredentialsRepository{db: db}
}

var _ CredentialsRepository = (*PostgresCredentialsRepository)(nil)

func (r *PostgresCredentialsRepository) GetByAccessKey(ctx context.Context, accessKeyID string) (*domain.APICredential, error) {
	query := `
		SELECT c.id, c.researcher_id, c.access_key_id, c.secret_key_hash, res.site_admin
		FROM api_credentials c
		JOIN researchers res ON res.id = c.researcher_id
		WHERE c.access_key_id = $1
		  AND c.is_active = TRUE`
	var cred domain.APICredential
	err := r.db.QueryRowContext(ctx, query, accessKeyID).Scan(
		&cred.ID,
		&cred.ResearcherID,
		&cred.AccessKeyID,
		&cred.SecretKeyHash,
		&cred.SiteAdmin,
	)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, fmt.Errorf("credential not found: %w", err)
		}
		return nil, fmt.Errorf("failed to get credential: %w", err)
	}
	return &cred, nil
}

func (r *PostgresCredentialsRepository) HasStudyAccess(ctx context.Context, researcherID, studyID int64) (bool, error) {
	query := `
		SELECT EXISTS (
			SELECT 1 FROM researchers WHERE id = $1 AND site_admin = TRUE
		) OR EXISTS (
			SELECT 1 FROM study_relations WHERE researcher_id = $1 AND study_id = $2
		)`
	var allowed bool
	if err := r.db.QueryRowContext(ctx, query, researcherID, studyID).Scan(&allowed); err != nil {
		return false, fmt.Errorf("failed to check study access: %w", err)
	}
	return allowed, nil
}
