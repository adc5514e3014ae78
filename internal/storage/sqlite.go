package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	_ "github.com/mattn/go-sqlite3"

	"github.com/hyperjump/kotae/internal/models"
)

// SQLiteStorage is the ChunkStore behind chunks.db.
type SQLiteStorage struct {
	db *sql.DB
}

// NewSQLiteStorage opens dbPath in WAL mode, creating the file, its parent
// directories and the chunk table as needed.
func NewSQLiteStorage(dbPath string) (*SQLiteStorage, error) {
	if dir := filepath.Dir(dbPath); dir != "." {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return nil, fmt.Errorf("failed to create database directory: %w", err)
		}
	}
	db, err := sql.Open("sqlite3", dbPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to enable WAL: %w", err)
	}

	if _, err := db.Exec(chunkSchema); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to create chunk schema: %w", err)
	}

	return &SQLiteStorage{db: db}, nil
}

// chunkSchema keys rows by index position so row order matches vectors.bin.
const chunkSchema = `
CREATE TABLE IF NOT EXISTS chunks (
	position       INTEGER PRIMARY KEY,
	id             TEXT NOT NULL UNIQUE,
	source         TEXT NOT NULL,
	sequence_index INTEGER NOT NULL,
	content        TEXT NOT NULL,
	metadata       TEXT
);
CREATE INDEX IF NOT EXISTS idx_chunks_source ON chunks(source, sequence_index);
`

// InsertChunks appends chunks in a single transaction.
func (s *SQLiteStorage) InsertChunks(ctx context.Context, chunks []models.Chunk) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin chunk insert: %w", err)
	}
	defer tx.Rollback()

	var next int64
	if err := tx.QueryRowContext(ctx, `SELECT COALESCE(MAX(position) + 1, 0) FROM chunks`).Scan(&next); err != nil {
		return fmt.Errorf("failed to read next position: %w", err)
	}

	stmt, err := tx.PrepareContext(ctx,
		`INSERT INTO chunks (position, id, source, sequence_index, content, metadata)
		 VALUES (?, ?, ?, ?, ?, ?)`,
	)
	if err != nil {
		return err
	}
	defer stmt.Close()

	for i, chunk := range chunks {
		metadataJSON, err := json.Marshal(chunk.Metadata)
		if err != nil {
			return fmt.Errorf("failed to marshal metadata: %w", err)
		}
		if _, err := stmt.ExecContext(ctx,
			next+int64(i), chunk.ID, chunk.Source(), chunk.SequenceIndex, chunk.Content, string(metadataJSON),
		); err != nil {
			return fmt.Errorf("failed to insert chunk %s: %w", chunk.ID, err)
		}
	}
	return tx.Commit()
}

// ListChunks returns all chunks ordered by position.
func (s *SQLiteStorage) ListChunks(ctx context.Context) ([]models.Chunk, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, sequence_index, content, metadata FROM chunks ORDER BY position`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var chunks []models.Chunk
	for rows.Next() {
		chunk, err := scanChunk(rows)
		if err != nil {
			return nil, err
		}
		chunks = append(chunks, *chunk)
	}
	return chunks, rows.Err()
}

func scanChunk(rows *sql.Rows) (*models.Chunk, error) {
	var (
		chunk models.Chunk
		meta  sql.NullString
	)
	if err := rows.Scan(&chunk.ID, &chunk.SequenceIndex, &chunk.Content, &meta); err != nil {
		return nil, fmt.Errorf("failed to scan chunk: %w", err)
	}
	if meta.String != "" {
		if err := json.Unmarshal([]byte(meta.String), &chunk.Metadata); err != nil {
			return nil, fmt.Errorf("chunk %s: bad metadata: %w", chunk.ID, err)
		}
	}
	return &chunk, nil
}

// CountChunks returns the total number of chunks.
func (s *SQLiteStorage) CountChunks(ctx context.Context) (int64, error) {
	var count int64
	err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM chunks`).Scan(&count)
	return count, err
}

// Close closes the database connection.
func (s *SQLiteStorage) Close() error {
	return s.db.Close()
}
