// Package graph is the knowledge graph the importer writes into. Store is
// the four-operation merge protocol; Neo4jStore and SQLiteStore implement
// it with idempotent upsert semantics.
package graph

import (
	"context"
	"errors"
	"fmt"
	"regexp"
)

// Node labels, edge types and their key properties.
const (
	LabelChatMessage = "ChatMessage"
	LabelConcept     = "Concept"
	LabelMeta        = "Meta"

	EdgeMentions = "MENTIONS"
	EdgeRelates  = "RELATES"
)

var (
	// ErrInvalidLabel is returned for labels, edge types or property names
	// that cannot be used as identifiers.
	ErrInvalidLabel = errors.New("invalid graph identifier")
	// ErrUnknownBackend is returned by Open for an unrecognized backend.
	ErrUnknownBackend = errors.New("unknown graph backend")
	// ErrNotFound is returned when a requested node does not exist.
	ErrNotFound = errors.New("not found")
)

var identifier = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_]*$`)

func checkIdent(s string) error {
	if !identifier.MatchString(s) {
		return fmt.Errorf("%w: %q", ErrInvalidLabel, s)
	}
	return nil
}

// StoreError wraps any failure of a store operation.
type StoreError struct {
	Op  string
	Err error
}

func (e *StoreError) Error() string { return fmt.Sprintf("graph store %s: %v", e.Op, e.Err) }
func (e *StoreError) Unwrap() error { return e.Err }

func storeErr(op string, err error) error {
	if err == nil {
		return nil
	}
	return &StoreError{Op: op, Err: err}
}

// Node is a vertex identified by label and key.
type Node struct {
	Label string
	Key   string
	Props map[string]any
}

// NodeRef points at a node by label and key.
type NodeRef struct {
	Label string
	Key   string
}

// Edge is a directed relationship. Props take part in the edge's identity:
// two RELATES edges between the same concepts with different types are
// distinct, the same type merged twice is one edge.
type Edge struct {
	From  NodeRef
	To    NodeRef
	Type  string
	Props map[string]any
}

// Store is the protocol the importer needs from a graph database. Every
// method returns a *StoreError on failure.
type Store interface {
	// Meta returns the watermark, creating the singleton Meta record with
	// watermark 0 when it does not exist yet.
	Meta(ctx context.Context) (int64, error)
	// MergeNode creates the node if absent and sets its properties.
	MergeNode(ctx context.Context, n Node) error
	// MergeEdge creates the edge between two existing nodes if absent.
	MergeEdge(ctx context.Context, e Edge) error
	// SetMeta persists the watermark.
	SetMeta(ctx context.Context, ts int64) error
	// Close releases the connection.
	Close(ctx context.Context) error
}

// Related is one concept linked to another by a RELATES edge.
type Related struct {
	Concept  string `json:"concept"`
	Relation string `json:"relation"`
	Outgoing bool   `json:"outgoing"`
}

// Graph is a Store that can also answer read queries.
type Graph interface {
	Store
	// Watermark returns the stored watermark without creating it.
	Watermark(ctx context.Context) (int64, error)
	// Related lists concepts joined to name by RELATES edges in either direction.
	Related(ctx context.Context, name string) ([]Related, error)
}

// KeyProp is the property that holds a node's key for label.
func KeyProp(label string) string {
	switch label {
	case LabelChatMessage:
		return "uuid"
	case LabelConcept:
		return "name"
	case LabelMeta:
		return "id"
	default:
		return "key"
	}
}

// MessageNode is the ChatMessage node for a message.
func MessageNode(id, text string, ts int64) Node {
	return Node{
		Label: LabelChatMessage,
		Key:   id,
		Props: map[string]any{"text": text, "timestamp": ts},
	}
}

// ConceptNode is the Concept node for name.
func ConceptNode(name string) Node {
	return Node{Label: LabelConcept, Key: name}
}

// Mentions links a message to a concept it mentions.
func Mentions(messageID, concept string) Edge {
	return Edge{
		From: NodeRef{Label: LabelChatMessage, Key: messageID},
		To:   NodeRef{Label: LabelConcept, Key: concept},
		Type: EdgeMentions,
	}
}

// Relates links two concepts with a typed relation.
func Relates(subject, relation, object string) Edge {
	return Edge{
		From:  NodeRef{Label: LabelConcept, Key: subject},
		To:    NodeRef{Label: LabelConcept, Key: object},
		Type:  EdgeRelates,
		Props: map[string]any{"type": relation},
	}
}

// Backends accepted by Open.
const (
	BackendNeo4j  = "neo4j"
	BackendSQLite = "sqlite"
)

// Config selects and configures a backend.
type Config struct {
	Backend string

	// Neo4j
	URI      string
	User     string
	Password string
	Database string

	// SQLite
	DataDir string
}

// Open connects to the configured backend.
func Open(ctx context.Context, cfg Config) (Graph, error) {
	switch cfg.Backend {
	case BackendNeo4j:
		return OpenNeo4j(ctx, cfg)
	case BackendSQLite:
		return OpenSQLite(cfg.DataDir)
	default:
		return nil, fmt.Errorf("%w %q (want %s or %s)", ErrUnknownBackend, cfg.Backend, BackendNeo4j, BackendSQLite)
	}
}
