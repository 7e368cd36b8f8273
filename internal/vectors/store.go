// Package vectors embeds the messages of a graph import delta and serves
// similarity search over them.
package vectors

import (
	"container/heap"
	"context"
	"database/sql"
	"embed"
	"encoding/binary"
	"encoding/json"
	"fmt"
	"io/fs"
	"math"
	"sort"
	"strings"
	"time"

	"github.com/kalambet/chatreader/internal/storage"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

// Record is one embedded message.
type Record struct {
	ID        string
	Text      string
	Timestamp int64
	Concepts  []string
	Model     string
	Embedding []float32
	CreatedAt time.Time
}

// ScoredRecord is a Record with its cosine similarity to a query.
type ScoredRecord struct {
	Record
	Score float32
}

// Store keeps message embeddings in SQLite and searches them by brute-force
// cosine similarity.
type Store struct {
	db *sql.DB
}

// Open opens (or creates) vectors.db in dataDir. Pass storage.Memory for an
// in-memory store.
func Open(dataDir string) (*Store, error) {
	migrations, err := fs.Sub(migrationsFS, "migrations")
	if err != nil {
		return nil, err
	}
	db, err := storage.Open(dataDir, "vectors.db", migrations)
	if err != nil {
		return nil, fmt.Errorf("opening vector store: %w", err)
	}
	return &Store{db: db}, nil
}

func (s *Store) Close() error { return s.db.Close() }

// Upsert inserts records, replacing any existing record with the same ID.
func (s *Store) Upsert(ctx context.Context, records []Record) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("beginning upsert transaction: %w", err)
	}

	stmt, err := tx.PrepareContext(ctx, `
		INSERT INTO message_vectors (id, text, timestamp, concepts, model, embedding, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			text = excluded.text,
			timestamp = excluded.timestamp,
			concepts = excluded.concepts,
			model = excluded.model,
			embedding = excluded.embedding`)
	if err != nil {
		tx.Rollback()
		return fmt.Errorf("preparing upsert statement: %w", err)
	}
	defer stmt.Close()

	for _, r := range records {
		concepts := r.Concepts
		if concepts == nil {
			concepts = []string{}
		}
		cj, err := json.Marshal(concepts)
		if err != nil {
			tx.Rollback()
			return fmt.Errorf("encoding concepts for %s: %w", r.ID, err)
		}
		createdAt := r.CreatedAt
		if createdAt.IsZero() {
			createdAt = time.Now().UTC()
		}
		if _, err := stmt.ExecContext(ctx, r.ID, r.Text, r.Timestamp, string(cj), r.Model,
			encodeFloat32s(r.Embedding), createdAt.Format(time.RFC3339)); err != nil {
			tx.Rollback()
			return fmt.Errorf("upserting record %s: %w", r.ID, err)
		}
	}

	return tx.Commit()
}

// Count returns the number of stored records.
func (s *Store) Count(ctx context.Context) (int, error) {
	var n int
	err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM message_vectors`).Scan(&n)
	return n, err
}

type idScore struct {
	ID    string
	Score float32
}

// Search returns the topK records most similar to vector, best first.
// Embeddings of a different dimension score zero.
func (s *Store) Search(ctx context.Context, vector []float32, topK int) ([]ScoredRecord, error) {
	queryNorm := norm(vector)
	if queryNorm == 0 || topK <= 0 {
		return nil, nil
	}

	rows, err := s.db.QueryContext(ctx, `SELECT id, embedding FROM message_vectors`)
	if err != nil {
		return nil, fmt.Errorf("querying vectors: %w", err)
	}

	h := &idScoreHeap{}
	var buf []float32
	for rows.Next() {
		var id string
		var blob []byte
		if err := rows.Scan(&id, &blob); err != nil {
			rows.Close()
			return nil, fmt.Errorf("scanning row: %w", err)
		}
		buf, err = decodeFloat32sInto(buf, blob)
		if err != nil {
			rows.Close()
			return nil, fmt.Errorf("decoding embedding for %s: %w", id, err)
		}
		score := cosine(vector, buf, queryNorm)
		if h.Len() < topK {
			heap.Push(h, idScore{ID: id, Score: score})
		} else if score > (*h)[0].Score {
			(*h)[0] = idScore{ID: id, Score: score}
			heap.Fix(h, 0)
		}
	}
	err = rows.Err()
	rows.Close()
	if err != nil {
		return nil, fmt.Errorf("iterating rows: %w", err)
	}
	if h.Len() == 0 {
		return nil, nil
	}

	ids := make([]string, 0, h.Len())
	scores := make(map[string]float32, h.Len())
	for _, item := range *h {
		ids = append(ids, item.ID)
		scores[item.ID] = item.Score
	}
	records, err := s.get(ctx, ids)
	if err != nil {
		return nil, err
	}

	results := make([]ScoredRecord, 0, len(records))
	for _, r := range records {
		results = append(results, ScoredRecord{Record: r, Score: scores[r.ID]})
	}
	sort.SliceStable(results, func(i, j int) bool { return results[i].Score > results[j].Score })
	return results, nil
}

func (s *Store) get(ctx context.Context, ids []string) ([]Record, error) {
	args := make([]any, len(ids))
	for i, id := range ids {
		args[i] = id
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, text, timestamp, concepts, model, embedding, created_at
		 FROM message_vectors WHERE id IN (?`+strings.Repeat(",?", len(ids)-1)+`)`, args...)
	if err != nil {
		return nil, fmt.Errorf("fetching records: %w", err)
	}
	defer rows.Close()

	var records []Record
	for rows.Next() {
		var r Record
		var concepts, createdAt string
		var blob []byte
		if err := rows.Scan(&r.ID, &r.Text, &r.Timestamp, &concepts, &r.Model, &blob, &createdAt); err != nil {
			return nil, fmt.Errorf("scanning record: %w", err)
		}
		if err := json.Unmarshal([]byte(concepts), &r.Concepts); err != nil {
			return nil, fmt.Errorf("decoding concepts for %s: %w", r.ID, err)
		}
		if r.Embedding, err = decodeFloat32sInto(nil, blob); err != nil {
			return nil, fmt.Errorf("decoding embedding for %s: %w", r.ID, err)
		}
		if r.CreatedAt, err = time.Parse(time.RFC3339, createdAt); err != nil {
			return nil, fmt.Errorf("parsing created_at for %s: %w", r.ID, err)
		}
		records = append(records, r)
	}
	return records, rows.Err()
}

func encodeFloat32s(v []float32) []byte {
	buf := make([]byte, len(v)*4)
	for i, f := range v {
		binary.LittleEndian.PutUint32(buf[i*4:], math.Float32bits(f))
	}
	return buf
}

// decodeFloat32sInto decodes little-endian floats, reusing buf when it is
// large enough.
func decodeFloat32sInto(buf []float32, b []byte) ([]float32, error) {
	if len(b)%4 != 0 {
		return nil, fmt.Errorf("byte slice length %d is not a multiple of 4", len(b))
	}
	n := len(b) / 4
	if cap(buf) < n {
		buf = make([]float32, n)
	} else {
		buf = buf[:n]
	}
	for i := range buf {
		buf[i] = math.Float32frombits(binary.LittleEndian.Uint32(b[i*4:]))
	}
	return buf, nil
}

func norm(v []float32) float32 {
	var sum float64
	for _, f := range v {
		sum += float64(f) * float64(f)
	}
	return float32(math.Sqrt(sum))
}

// cosine computes dot(a,b) / (aNorm * |b|).
func cosine(a, b []float32, aNorm float32) float32 {
	if len(a) != len(b) {
		return 0
	}
	var dot, bNormSq float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
		bNormSq += float64(b[i]) * float64(b[i])
	}
	if bNormSq == 0 {
		return 0
	}
	return float32(dot / (float64(aNorm) * math.Sqrt(bNormSq)))
}

// idScoreHeap is a min-heap by Score holding the current top-K.
type idScoreHeap []idScore

func (h idScoreHeap) Len() int           { return len(h) }
func (h idScoreHeap) Less(i, j int) bool { return h[i].Score < h[j].Score }
func (h idScoreHeap) Swap(i, j int)      { h[i], h[j] = h[j], h[i] }
func (h *idScoreHeap) Push(x any)        { *h = append(*h, x.(idScore)) }
func (h *idScoreHeap) Pop() any {
	old := *h
	n := len(old)
	item := old[n-1]
	*h = old[:n-1]
	return item
}
