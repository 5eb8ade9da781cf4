package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
)

type PostgresStore struct {
	db *sql.DB
}

func NewPostgresStore(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

func (s *PostgresStore) DB() *sql.DB {
	return s.db
}

func (s *PostgresStore) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

const documentColumns = `id, title, content, author_id, visibility, tags, shared_with, edit_history, is_deleted, version, created_at, last_modified`

func (s *PostgresStore) GetDocument(ctx context.Context, documentID string) (Document, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT `+documentColumns+`
		FROM documents
		WHERE id=$1
	`, documentID)
	doc, err := scanDocument(row)
	if errors.Is(err, sql.ErrNoRows) {
		return Document{}, ErrNotFound
	}
	if err != nil {
		return Document{}, fmt.Errorf("get document: %w", err)
	}
	return doc, nil
}

func (s *PostgresStore) InsertDocument(ctx context.Context, doc Document) error {
	tags, shared, history, err := marshalDocumentJSON(doc)
	if err != nil {
		return err
	}
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO documents (id, title, content, author_id, visibility, tags, shared_with, edit_history, is_deleted, version, created_at, last_modified)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)
	`, doc.ID, doc.Title, doc.Content, doc.AuthorID, doc.Visibility, tags, shared, history, doc.IsDeleted, doc.Version, doc.CreatedAt, doc.LastModified)
	if err != nil {
		return fmt.Errorf("insert document: %w", err)
	}
	return nil
}

// UpdateDocument writes the mutable fields of doc conditionally on the stored
// version still being expectedVersion, bumping it by one. A lost race returns
// ErrVersionConflict; callers re-read and retry.
func (s *PostgresStore) UpdateDocument(ctx context.Context, doc Document, expectedVersion int64) (Document, error) {
	tags, shared, history, err := marshalDocumentJSON(doc)
	if err != nil {
		return Document{}, err
	}
	row := s.db.QueryRowContext(ctx, `
		UPDATE documents
		SET title=$2, content=$3, visibility=$4, tags=$5, shared_with=$6, edit_history=$7, is_deleted=$8, last_modified=$9, version=version+1
		WHERE id=$1 AND version=$10
		RETURNING `+documentColumns+`
	`, doc.ID, doc.Title, doc.Content, doc.Visibility, tags, shared, history, doc.IsDeleted, doc.LastModified, expectedVersion)

	updated, err := scanDocument(row)
	if errors.Is(err, sql.ErrNoRows) {
		// Distinguish a stale version from a missing row.
		var exists bool
		if checkErr := s.db.QueryRowContext(ctx, `SELECT EXISTS(SELECT 1 FROM documents WHERE id=$1)`, doc.ID).Scan(&exists); checkErr != nil {
			return Document{}, fmt.Errorf("check document exists: %w", checkErr)
		}
		if exists {
			return Document{}, ErrVersionConflict
		}
		return Document{}, ErrNotFound
	}
	if err != nil {
		return Document{}, fmt.Errorf("update document: %w", err)
	}
	return updated, nil
}

// ListVisibleDocuments returns non-deleted documents the requester may view:
// authored, shared with them, or public. An empty requesterID lists public
// documents only. Ordered by last_modified descending.
func (s *PostgresStore) ListVisibleDocuments(ctx context.Context, requesterID string, limit, offset int) ([]Document, error) {
	var (
		rows *sql.Rows
		err  error
	)
	if requesterID == "" {
		rows, err = s.db.QueryContext(ctx, `
			SELECT `+documentColumns+`
			FROM documents
			WHERE NOT is_deleted AND visibility='public'
			ORDER BY last_modified DESC
			LIMIT $1 OFFSET $2
		`, limit, offset)
	} else {
		member, marshalErr := json.Marshal([]map[string]string{{"userId": requesterID}})
		if marshalErr != nil {
			return nil, fmt.Errorf("marshal grant filter: %w", marshalErr)
		}
		rows, err = s.db.QueryContext(ctx, `
			SELECT `+documentColumns+`
			FROM documents
			WHERE NOT is_deleted
				AND (author_id=$1 OR visibility='public' OR shared_with @> $2::jsonb)
			ORDER BY last_modified DESC
			LIMIT $3 OFFSET $4
		`, requesterID, member, limit, offset)
	}
	if err != nil {
		return nil, fmt.Errorf("list documents: %w", err)
	}
	defer rows.Close()

	items := make([]Document, 0)
	for rows.Next() {
		doc, err := scanDocument(rows)
		if err != nil {
			return nil, fmt.Errorf("scan document: %w", err)
		}
		items = append(items, doc)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate documents: %w", err)
	}
	return items, nil
}

func (s *PostgresStore) DocumentCount(ctx context.Context) (int, error) {
	var count int
	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM documents`).Scan(&count); err != nil {
		return 0, fmt.Errorf("count documents: %w", err)
	}
	return count, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanDocument(row rowScanner) (Document, error) {
	var (
		doc     Document
		tags    []byte
		shared  []byte
		history []byte
	)
	err := row.Scan(&doc.ID, &doc.Title, &doc.Content, &doc.AuthorID, &doc.Visibility,
		&tags, &shared, &history, &doc.IsDeleted, &doc.Version, &doc.CreatedAt, &doc.LastModified)
	if err != nil {
		return Document{}, err
	}
	if err := json.Unmarshal(tags, &doc.Tags); err != nil {
		return Document{}, fmt.Errorf("decode tags: %w", err)
	}
	if err := json.Unmarshal(shared, &doc.SharedWith); err != nil {
		return Document{}, fmt.Errorf("decode shared_with: %w", err)
	}
	if err := json.Unmarshal(history, &doc.EditHistory); err != nil {
		return Document{}, fmt.Errorf("decode edit_history: %w", err)
	}
	return doc, nil
}

func marshalDocumentJSON(doc Document) (tags, shared, history []byte, err error) {
	if doc.Tags == nil {
		doc.Tags = []string{}
	}
	if doc.SharedWith == nil {
		doc.SharedWith = []Grant{}
	}
	if doc.EditHistory == nil {
		doc.EditHistory = []HistoryEntry{}
	}
	if tags, err = json.Marshal(doc.Tags); err != nil {
		return nil, nil, nil, fmt.Errorf("encode tags: %w", err)
	}
	if shared, err = json.Marshal(doc.SharedWith); err != nil {
		return nil, nil, nil, fmt.Errorf("encode shared_with: %w", err)
	}
	if history, err = json.Marshal(doc.EditHistory); err != nil {
		return nil, nil, nil, fmt.Errorf("encode edit_history: %w", err)
	}
	return tags, shared, history, nil
}
