package domain

// APICredential a researcher's data-access key pair (api_credentials
// table). Only a sha256 of the secret is stored; the plaintext is shown
// once at creation and never again.
type APICredential struct {
	ID            int64  `db:"id"`
	ResearcherID  int64  `db:"researcher_id"`
	AccessKeyID   string `db:"access_key_id"`
	SecretKeyHash []byte `db:"secret_key_hash"`
	SiteAdmin     bool   `db:"site_admin"`
}
