package store

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/andresmejia3/facedetectd/internal/types"
	"github.com/jackc/pgx/v5"
)

// ErrFaceNotFound is returned when a face id does not exist.
var ErrFaceNotFound = errors.New("face not found")

// Store manages the PostgreSQL connection and pgvector operations.
type Store struct {
	conn *pgx.Conn
}

// Photo is an indexed image and the number of faces found in it.
type Photo struct {
	ID        string
	Path      string
	FaceCount int
	IndexedAt time.Time
}

// Match is an indexed face close to a query vector.
type Match struct {
	FaceID   int64
	PhotoID  string
	Path     string
	Label    string
	Rect     types.Rect
	Distance float64
}

// New establishes a connection to the database and ensures the schema is initialized.
func New(ctx context.Context, connString string) (*Store, error) {
	conn, err := pgx.Connect(ctx, connString)
	if err != nil {
		return nil, err
	}

	// Initialize schema (Auto-Migration)
	if err := initSchema(ctx, conn); err != nil {
		conn.Close(ctx)
		return nil, fmt.Errorf("failed to initialize database schema: %w", err)
	}

	return &Store{conn: conn}, nil
}

// initSchema creates the tables and the vector extension if they don't exist.
func initSchema(ctx context.Context, conn *pgx.Conn) error {
	query := fmt.Sprintf(`
		CREATE EXTENSION IF NOT EXISTS vector;
		CREATE TABLE IF NOT EXISTS photos (
			id TEXT PRIMARY KEY,
			path TEXT NOT NULL,
			indexed_at TIMESTAMPTZ DEFAULT NOW()
		);
		CREATE TABLE IF NOT EXISTS faces (
			id BIGSERIAL PRIMARY KEY,
			photo_id TEXT NOT NULL REFERENCES photos(id) ON DELETE CASCADE,
			x DOUBLE PRECISION NOT NULL,
			y DOUBLE PRECISION NOT NULL,
			width DOUBLE PRECISION NOT NULL,
			height DOUBLE PRECISION NOT NULL,
			embedding VECTOR(%d),
			label TEXT
		);
		CREATE INDEX IF NOT EXISTS faces_photo_id_idx ON faces (photo_id);
		CREATE INDEX IF NOT EXISTS faces_embedding_idx ON faces USING hnsw (embedding vector_cosine_ops);
	`, types.EmbeddingDim)
	_, err := conn.Exec(ctx, query)
	return err
}

// Close terminates the database connection.
func (s *Store) Close(ctx context.Context) {
	s.conn.Close(ctx)
}

// SavePhoto records one indexed photo and its faces in a single transaction.
// Rows for the same path from an earlier run, including ones left by an
// edited file whose id changed, are replaced. Faces without a vector are
// stored with a NULL embedding and never match a search.
func (s *Store) SavePhoto(ctx context.Context, photoID, path string, faces []types.FaceRegion) error {
	return pgx.BeginFunc(ctx, s.conn, func(tx pgx.Tx) error {
		// Faces go with their photos (ON DELETE CASCADE)
		if _, err := tx.Exec(ctx, "DELETE FROM photos WHERE path = $1 AND id <> $2", path, photoID); err != nil {
			return fmt.Errorf("remove stale photos: %w", err)
		}
		if _, err := tx.Exec(ctx, "DELETE FROM faces WHERE photo_id = $1", photoID); err != nil {
			return fmt.Errorf("remove old faces: %w", err)
		}
		if _, err := tx.Exec(ctx, `
			INSERT INTO photos (id, path, indexed_at)
			VALUES ($1, $2, NOW())
			ON CONFLICT (id) DO UPDATE SET indexed_at = NOW(), path = EXCLUDED.path
		`, photoID, path); err != nil {
			return fmt.Errorf("register photo: %w", err)
		}
		return insertFaces(ctx, tx, photoID, faces)
	})
}

func insertFaces(ctx context.Context, tx pgx.Tx, photoID string, faces []types.FaceRegion) error {
	if len(faces) == 0 {
		return nil
	}

	batch := &pgx.Batch{}
	for _, f := range faces {
		var embedding *string
		if len(f.Vec) == types.EmbeddingDim {
			v := vecToString(f.Vec)
			embedding = &v
		}
		batch.Queue(`
			INSERT INTO faces (photo_id, x, y, width, height, embedding)
			VALUES ($1, $2, $3, $4, $5, $6::vector)
		`, photoID, f.X, f.Y, f.Width, f.Height, embedding)
	}
	if err := tx.SendBatch(ctx, batch).Close(); err != nil {
		return fmt.Errorf("insert faces: %w", err)
	}
	return nil
}

// FindSimilarFaces returns indexed faces whose cosine distance to vec is below
// threshold, nearest first.
func (s *Store) FindSimilarFaces(ctx context.Context, vec []float64, threshold float64, limit int) ([]Match, error) {
	// <=> is the cosine distance operator in pgvector
	rows, err := s.conn.Query(ctx, `
		SELECT f.id, f.photo_id, p.path, COALESCE(f.label, ''), f.x, f.y, f.width, f.height, f.embedding <=> $1::vector AS dist
		FROM faces f JOIN photos p ON p.id = f.photo_id
		WHERE f.embedding IS NOT NULL AND f.embedding <=> $1::vector < $2
		ORDER BY dist ASC
		LIMIT $3
	`, vecToString(vec), threshold, limit)
	if err != nil {
		return nil, err
	}

	return pgx.CollectRows(rows, func(row pgx.CollectableRow) (Match, error) {
		var m Match
		err := row.Scan(&m.FaceID, &m.PhotoID, &m.Path, &m.Label,
			&m.Rect.X, &m.Rect.Y, &m.Rect.Width, &m.Rect.Height, &m.Distance)
		return m, err
	})
}

// ListPhotos returns every indexed photo with its face count, newest first.
func (s *Store) ListPhotos(ctx context.Context) ([]Photo, error) {
	rows, err := s.conn.Query(ctx, `
		SELECT p.id, p.path, COUNT(f.id), p.indexed_at
		FROM photos p LEFT JOIN faces f ON f.photo_id = p.id
		GROUP BY p.id
		ORDER BY p.indexed_at DESC, p.path
	`)
	if err != nil {
		return nil, err
	}

	return pgx.CollectRows(rows, func(row pgx.CollectableRow) (Photo, error) {
		var p Photo
		err := row.Scan(&p.ID, &p.Path, &p.FaceCount, &p.IndexedAt)
		return p, err
	})
}

// LabelFace assigns a name to an indexed face.
func (s *Store) LabelFace(ctx context.Context, faceID int64, label string) error {
	tag, err := s.conn.Exec(ctx, "UPDATE faces SET label = $1 WHERE id = $2", label, faceID)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("%w: %d", ErrFaceNotFound, faceID)
	}
	return nil
}

// Reset drops all application tables to clear the database state.
func (s *Store) Reset(ctx context.Context) error {
	_, err := s.conn.Exec(ctx, `
		DROP TABLE IF EXISTS faces CASCADE;
		DROP TABLE IF EXISTS photos CASCADE;
	`)
	return err
}

// vecToString formats a float slice into a PostgreSQL vector string format "[1.0,2.0,...]"
func vecToString(vec []float64) string {
	var b strings.Builder
	b.WriteByte('[')
	for i, v := range vec {
		if i > 0 {
			b.WriteByte(',')
		}
		fmt.Fprintf(&b, "%g", v)
	}
	b.WriteByte(']')
	return b.String()
}
