// Package directory resolves user identifiers to identities. The collaboration
// core only reads from it; writes exist for bootstrap seeding.
package directory

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	"inkwell/api/internal/store"
)

type PostgresDirectory struct {
	db *sql.DB
}

func NewPostgresDirectory(db *sql.DB) *PostgresDirectory {
	return &PostgresDirectory{db: db}
}

const identityColumns = `id, display_name, email, created_at`

func (d *PostgresDirectory) FindByID(ctx context.Context, userID string) (*store.Identity, error) {
	row := d.db.QueryRowContext(ctx, `
		SELECT `+identityColumns+` FROM users WHERE id=$1
	`, userID)
	return scanIdentity(row, "find identity by id")
}

func (d *PostgresDirectory) FindByEmail(ctx context.Context, email string) (*store.Identity, error) {
	row := d.db.QueryRowContext(ctx, `
		SELECT `+identityColumns+` FROM users WHERE LOWER(email)=LOWER($1)
	`, strings.TrimSpace(email))
	return scanIdentity(row, "find identity by email")
}

// FindByNamePrefix matches token case-insensitively against the first word of
// each display name, so "John" finds both "John Smith" and "John Doe". The
// looseness is deliberate; mention resolution processes every match.
func (d *PostgresDirectory) FindByNamePrefix(ctx context.Context, token string) ([]store.Identity, error) {
	token = strings.TrimSpace(token)
	if token == "" {
		return nil, nil
	}
	rows, err := d.db.QueryContext(ctx, `
		SELECT `+identityColumns+`
		FROM users
		WHERE LOWER(split_part(display_name, ' ', 1)) LIKE LOWER($1) || '%'
		ORDER BY display_name
	`, escapeLike(token))
	if err != nil {
		return nil, fmt.Errorf("find identities by name prefix: %w", err)
	}
	defer rows.Close()

	items := make([]store.Identity, 0)
	for rows.Next() {
		var id store.Identity
		if err := rows.Scan(&id.ID, &id.DisplayName, &id.Email, &id.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan identity: %w", err)
		}
		items = append(items, id)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate identities: %w", err)
	}
	return items, nil
}

// EnsureIdentity inserts an identity if the email is unknown and returns the
// stored row either way. Used by bootstrap seeding only.
func (d *PostgresDirectory) EnsureIdentity(ctx context.Context, displayName, email string) (store.Identity, error) {
	existing, err := d.FindByEmail(ctx, email)
	if err != nil {
		return store.Identity{}, err
	}
	if existing != nil {
		return *existing, nil
	}

	var id store.Identity
	err = d.db.QueryRowContext(ctx, `
		INSERT INTO users (display_name, email)
		VALUES ($1, LOWER($2))
		ON CONFLICT (email) DO UPDATE SET display_name=EXCLUDED.display_name
		RETURNING `+identityColumns+`
	`, displayName, strings.TrimSpace(email)).Scan(&id.ID, &id.DisplayName, &id.Email, &id.CreatedAt)
	if err != nil {
		return store.Identity{}, fmt.Errorf("ensure identity: %w", err)
	}
	return id, nil
}

func scanIdentity(row *sql.Row, op string) (*store.Identity, error) {
	var id store.Identity
	err := row.Scan(&id.ID, &id.DisplayName, &id.Email, &id.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	return &id, nil
}

func escapeLike(s string) string {
	replacer := strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`)
	return replacer.Replace(s)
}
