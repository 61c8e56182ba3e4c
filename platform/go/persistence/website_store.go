package persistence

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
)

// WebsitesTable is the tenant registry table on the control-plane database.
const WebsitesTable = "websites"

// ErrNotFound is returned when a control-plane record does not exist.
var ErrNotFound = errors.New("record not found")

// WebsiteRecord is the routing/provisioning row for one tenant site. Content
// rows live on the shard named by ShardName; this record only says where they
// are and how far provisioning has progressed.
type WebsiteRecord struct {
	ID                     int64
	Subdomain              string
	ShardName              string
	SiteType               string
	ProvisioningState      string
	ProvisioningError      *string
	SeedPackName           string
	OwnerEmail             string
	EmailVerificationToken *string
	CreatedAt              time.Time
	UpdatedAt              time.Time
}

// WebsiteStore provides access to the websites table.
type WebsiteStore struct{}

// NewWebsiteStore constructs a store.
func NewWebsiteStore() *WebsiteStore {
	return &WebsiteStore{}
}

const websiteColumns = `id, subdomain, shard_name, site_type, provisioning_state,
        provisioning_error, seed_pack_name, owner_email, email_verification_token,
        created_at, updated_at`

// Create inserts a new website row; the database assigns the numeric id.
func (s *WebsiteStore) Create(ctx context.Context, db Querier, rec WebsiteRecord) (WebsiteRecord, error) {
	query := fmt.Sprintf(`
        INSERT INTO %s (subdomain, shard_name, site_type, provisioning_state, seed_pack_name, owner_email)
        VALUES ($1, $2, $3, $4, $5, $6)
        RETURNING %s`, WebsitesTable, websiteColumns)
	return scanWebsiteRecord(db.QueryRow(ctx, query,
		rec.Subdomain, rec.ShardName, rec.SiteType, rec.ProvisioningState, rec.SeedPackName, rec.OwnerEmail))
}

// Get fetches a website by id.
func (s *WebsiteStore) Get(ctx context.Context, db Querier, id int64) (WebsiteRecord, error) {
	query := fmt.Sprintf(`SELECT %s FROM %s WHERE id = $1`, websiteColumns, WebsitesTable)
	return scanWebsiteRecord(db.QueryRow(ctx, query, id))
}

// GetBySubdomain fetches a website by its unique subdomain.
func (s *WebsiteStore) GetBySubdomain(ctx context.Context, db Querier, subdomain string) (WebsiteRecord, error) {
	query := fmt.Sprintf(`SELECT %s FROM %s WHERE subdomain = $1`, websiteColumns, WebsitesTable)
	return scanWebsiteRecord(db.QueryRow(ctx, query, subdomain))
}

// GetForUpdate fetches a website under an exclusive row lock. The lock lives
// for the duration of the supplied transaction; the shard migrator holds it
// across the whole data move so migrations of one tenant cannot interleave.
func (s *WebsiteStore) GetForUpdate(ctx context.Context, tx pgx.Tx, id int64) (WebsiteRecord, error) {
	query := fmt.Sprintf(`SELECT %s FROM %s WHERE id = $1 FOR UPDATE`, websiteColumns, WebsitesTable)
	return scanWebsiteRecord(tx.QueryRow(ctx, query, id))
}

// TransitionState moves provisioning_state from one value to another. The
// WHERE clause carries the expected current state so a stale caller can never
// overwrite progress made elsewhere; false means the row was not in `from`.
func (s *WebsiteStore) TransitionState(ctx context.Context, db Querier, id int64, from, to string) (bool, error) {
	query := fmt.Sprintf(`
        UPDATE %s SET provisioning_state = $1, provisioning_error = NULL, updated_at = now()
        WHERE id = $2 AND provisioning_state = $3`, WebsitesTable)
	tag, err := db.Exec(ctx, query, to, id, from)
	if err != nil {
		return false, err
	}
	return tag.RowsAffected() == 1, nil
}

// MarkFailed parks the website in the failed state and records the reason.
func (s *WebsiteStore) MarkFailed(ctx context.Context, db Querier, id int64, state, reason string) error {
	query := fmt.Sprintf(`
        UPDATE %s SET provisioning_state = $1, provisioning_error = $2, updated_at = now()
        WHERE id = $3`, WebsitesTable)
	_, err := db.Exec(ctx, query, state, reason, id)
	return err
}

// SetState force-sets provisioning_state; used only by explicit retry, which
// re-enters the machine at a checklist-derived state.
func (s *WebsiteStore) SetState(ctx context.Context, db Querier, id int64, state string) error {
	query := fmt.Sprintf(`
        UPDATE %s SET provisioning_state = $1, provisioning_error = NULL, updated_at = now()
        WHERE id = $2`, WebsitesTable)
	_, err := db.Exec(ctx, query, state, id)
	return err
}

// SetVerificationToken stores the emailed verification token.
func (s *WebsiteStore) SetVerificationToken(ctx context.Context, db Querier, id int64, token string) error {
	query := fmt.Sprintf(`
        UPDATE %s SET email_verification_token = $1, updated_at = now()
        WHERE id = $2`, WebsitesTable)
	_, err := db.Exec(ctx, query, token, id)
	return err
}

// GetByVerificationToken resolves the website holding an unconsumed token.
func (s *WebsiteStore) GetByVerificationToken(ctx context.Context, db Querier, token string) (WebsiteRecord, error) {
	query := fmt.Sprintf(`SELECT %s FROM %s WHERE email_verification_token = $1`, websiteColumns, WebsitesTable)
	return scanWebsiteRecord(db.QueryRow(ctx, query, token))
}

// UpdateShard rewrites the routing metadata for a website.
func (s *WebsiteStore) UpdateShard(ctx context.Context, db Querier, id int64, shard string) error {
	query := fmt.Sprintf(`UPDATE %s SET shard_name = $1, updated_at = now() WHERE id = $2`, WebsitesTable)
	tag, err := db.Exec(ctx, query, shard, id)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// ShardCounts returns the number of websites routed to each shard.
func (s *WebsiteStore) ShardCounts(ctx context.Context, db Querier) (map[string]int64, error) {
	query := fmt.Sprintf(`SELECT shard_name, COUNT(*) FROM %s GROUP BY shard_name`, WebsitesTable)
	rows, err := db.Query(ctx, query)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	counts := map[string]int64{}
	for rows.Next() {
		var shard string
		var count int64
		if err := rows.Scan(&shard, &count); err != nil {
			return nil, err
		}
		counts[shard] = count
	}
	return counts, rows.Err()
}

func scanWebsiteRecord(row pgx.Row) (WebsiteRecord, error) {
	var rec WebsiteRecord
	err := row.Scan(&rec.ID, &rec.Subdomain, &rec.ShardName, &rec.SiteType, &rec.ProvisioningState,
		&rec.ProvisioningError, &rec.SeedPackName, &rec.OwnerEmail, &rec.EmailVerificationToken,
		&rec.CreatedAt, &rec.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return WebsiteRecord{}, ErrNotFound
		}
		return WebsiteRecord{}, err
	}
	return rec, nil
}
