package repository

import (
	"context"

	"skylark-data/internal/domain"
)

// CredentialsRepository researcher data-access credentials. Secret
// comparison happens in the caller; this layer only loads the hash.
type CredentialsRepository interface {
	// GetByAccessKey returns the credential for the access key id, or
	// sql.ErrNoRows wrapped when there is none.
	GetByAccessKey(ctx context.Context, accessKeyID string) (*domain.APICredential, error)

	// HasStudyAccess reports whether the researcher is authorized for
	// the study. Site admins are authorized for every study.
	HasStudyAccess(ctx context.Context, researcherID, studyID int64) (bool, error)
}
