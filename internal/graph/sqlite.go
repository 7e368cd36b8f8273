package graph

import (
	"bytes"
	"context"
	"database/sql"
	"embed"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"

	"github.com/kalambet/chatreader/internal/storage"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

// SQLiteStore is an embedded graph backend with the same merge semantics as
// Neo4jStore.
type SQLiteStore struct {
	db *sql.DB
}

// OpenSQLite opens (or creates) graph.db in dataDir. Pass ":memory:" for an
// in-memory graph.
func OpenSQLite(dataDir string) (*SQLiteStore, error) {
	migrations, err := fs.Sub(migrationsFS, "migrations")
	if err != nil {
		return nil, storeErr("open", err)
	}
	db, err := storage.Open(dataDir, "graph.db", migrations)
	if err != nil {
		return nil, storeErr("open", err)
	}
	return &SQLiteStore{db: db}, nil
}

func (s *SQLiteStore) Meta(ctx context.Context) (int64, error) {
	if _, err := s.db.ExecContext(ctx,
		`INSERT INTO meta (id, last_imported_ts) VALUES (1, 0) ON CONFLICT(id) DO NOTHING`); err != nil {
		return 0, storeErr("getOrCreateMeta", err)
	}
	var ts int64
	err := s.db.QueryRowContext(ctx, `SELECT last_imported_ts FROM meta WHERE id = 1`).Scan(&ts)
	return ts, storeErr("getOrCreateMeta", err)
}

func (s *SQLiteStore) Watermark(ctx context.Context) (int64, error) {
	var ts int64
	err := s.db.QueryRowContext(ctx, `SELECT last_imported_ts FROM meta WHERE id = 1`).Scan(&ts)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, nil
	}
	return ts, storeErr("watermark", err)
}

func (s *SQLiteStore) SetMeta(ctx context.Context, ts int64) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO meta (id, last_imported_ts) VALUES (1, ?)
		 ON CONFLICT(id) DO UPDATE SET last_imported_ts = excluded.last_imported_ts`, ts)
	return storeErr("setMeta", err)
}

// MergeNode inserts the node or patches new properties over existing ones.
func (s *SQLiteStore) MergeNode(ctx context.Context, n Node) error {
	if err := checkIdent(n.Label); err != nil {
		return storeErr("mergeNode", err)
	}
	props, err := encodeProps(n.Props)
	if err != nil {
		return storeErr("mergeNode", err)
	}
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO nodes (label, key, props) VALUES (?, ?, ?)
		 ON CONFLICT(label, key) DO UPDATE SET props = json_patch(nodes.props, excluded.props)`,
		n.Label, n.Key, props)
	return storeErr("mergeNode", err)
}

// MergeEdge inserts the edge when both endpoints exist and it is not
// already present. A missing endpoint is a no-op, like MATCH then MERGE.
func (s *SQLiteStore) MergeEdge(ctx context.Context, e Edge) error {
	for _, id := range []string{e.From.Label, e.To.Label, e.Type} {
		if err := checkIdent(id); err != nil {
			return storeErr("mergeEdge", err)
		}
	}
	props, err := encodeProps(e.Props)
	if err != nil {
		return storeErr("mergeEdge", err)
	}
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO edges (from_label, from_key, type, to_label, to_key, props)
		 SELECT ?, ?, ?, ?, ?, ?
		 WHERE EXISTS (SELECT 1 FROM nodes WHERE label = ? AND key = ?)
		   AND EXISTS (SELECT 1 FROM nodes WHERE label = ? AND key = ?)
		 ON CONFLICT DO NOTHING`,
		e.From.Label, e.From.Key, e.Type, e.To.Label, e.To.Key, props,
		e.From.Label, e.From.Key, e.To.Label, e.To.Key)
	return storeErr("mergeEdge", err)
}

func (s *SQLiteStore) Close(_ context.Context) error {
	return storeErr("close", s.db.Close())
}

// CountNodes returns the number of nodes with label.
func (s *SQLiteStore) CountNodes(ctx context.Context, label string) (int, error) {
	var n int
	err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM nodes WHERE label = ?`, label).Scan(&n)
	return n, storeErr("countNodes", err)
}

// CountEdges returns the number of edges of type.
func (s *SQLiteStore) CountEdges(ctx context.Context, typ string) (int, error) {
	var n int
	err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM edges WHERE type = ?`, typ).Scan(&n)
	return n, storeErr("countEdges", err)
}

// Node loads a node by label and key. Integral JSON numbers are returned as
// int64, others as float64.
func (s *SQLiteStore) Node(ctx context.Context, label, key string) (Node, error) {
	var raw string
	err := s.db.QueryRowContext(ctx, `SELECT props FROM nodes WHERE label = ? AND key = ?`, label, key).Scan(&raw)
	if errors.Is(err, sql.ErrNoRows) {
		return Node{}, ErrNotFound
	}
	if err != nil {
		return Node{}, storeErr("node", err)
	}
	props, err := decodeProps(raw)
	if err != nil {
		return Node{}, storeErr("node", err)
	}
	return Node{Label: label, Key: key, Props: props}, nil
}

func (s *SQLiteStore) Related(ctx context.Context, name string) ([]Related, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT to_key, json_extract(props, '$.type'), 1 FROM edges
		  WHERE type = ? AND from_label = ? AND from_key = ?
		 UNION ALL
		 SELECT from_key, json_extract(props, '$.type'), 0 FROM edges
		  WHERE type = ? AND to_label = ? AND to_key = ?`,
		EdgeRelates, LabelConcept, name, EdgeRelates, LabelConcept, name)
	if err != nil {
		return nil, storeErr("related", err)
	}
	defer rows.Close()

	var out []Related
	for rows.Next() {
		var r Related
		var rel sql.NullString
		if err := rows.Scan(&r.Concept, &rel, &r.Outgoing); err != nil {
			return nil, storeErr("related", err)
		}
		r.Relation = rel.String
		out = append(out, r)
	}
	return out, storeErr("related", rows.Err())
}

// encodeProps renders props as canonical JSON; encoding/json sorts map keys.
func encodeProps(props map[string]any) (string, error) {
	if len(props) == 0 {
		return "{}", nil
	}
	for k := range props {
		if err := checkIdent(k); err != nil {
			return "", err
		}
	}
	b, err := json.Marshal(props)
	if err != nil {
		return "", fmt.Errorf("encoding properties: %w", err)
	}
	return string(b), nil
}

func decodeProps(raw string) (map[string]any, error) {
	dec := json.NewDecoder(bytes.NewReader([]byte(raw)))
	dec.UseNumber()
	var props map[string]any
	if err := dec.Decode(&props); err != nil {
		return nil, fmt.Errorf("decoding properties: %w", err)
	}
	for k, v := range props {
		if n, ok := v.(json.Number); ok {
			if i, err := n.Int64(); err == nil {
				props[k] = i
			} else if f, err := n.Float64(); err == nil {
				props[k] = f
			}
		}
	}
	return props, nil
}
