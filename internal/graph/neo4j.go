package graph

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"strings"

	"github.com/neo4j/neo4j-go-driver/v5/neo4j"
)

// Neo4jStore holds one driver and one write session for its lifetime.
type Neo4jStore struct {
	driver  neo4j.DriverWithContext
	session neo4j.SessionWithContext
}

// OpenNeo4j connects to cfg.URI with basic auth and verifies connectivity.
func OpenNeo4j(ctx context.Context, cfg Config) (*Neo4jStore, error) {
	driver, err := neo4j.NewDriverWithContext(cfg.URI, neo4j.BasicAuth(cfg.User, cfg.Password, ""))
	if err != nil {
		return nil, storeErr("connect", err)
	}
	if err := driver.VerifyConnectivity(ctx); err != nil {
		driver.Close(ctx)
		return nil, storeErr("connect", fmt.Errorf("%s: %w", cfg.URI, err))
	}
	session := driver.NewSession(ctx, neo4j.SessionConfig{
		AccessMode:   neo4j.AccessModeWrite,
		DatabaseName: cfg.Database,
	})
	return &Neo4jStore{driver: driver, session: session}, nil
}

const (
	cypherGetOrCreateMeta = `MERGE (m:Meta {id: 1}) ON CREATE SET m.lastImportedTs = 0 RETURN m.lastImportedTs AS ts`
	cypherSetMeta         = `MERGE (m:Meta {id: 1}) SET m.lastImportedTs = $ts`
	cypherWatermark       = `OPTIONAL MATCH (m:Meta {id: 1}) RETURN coalesce(m.lastImportedTs, 0) AS ts`
	cypherRelated         = `
		MATCH (a:Concept {name: $name})-[r:RELATES]->(b:Concept)
		RETURN b.name AS name, r.type AS type, true AS outgoing
		UNION ALL
		MATCH (b:Concept)-[r:RELATES]->(a:Concept {name: $name})
		RETURN b.name AS name, r.type AS type, false AS outgoing`
)

func (s *Neo4jStore) Meta(ctx context.Context) (int64, error) {
	ts, err := s.readTs(ctx, cypherGetOrCreateMeta)
	return ts, storeErr("getOrCreateMeta", err)
}

func (s *Neo4jStore) Watermark(ctx context.Context) (int64, error) {
	ts, err := s.readTs(ctx, cypherWatermark)
	return ts, storeErr("watermark", err)
}

func (s *Neo4jStore) readTs(ctx context.Context, cypher string) (int64, error) {
	result, err := s.session.Run(ctx, cypher, nil)
	if err != nil {
		return 0, err
	}
	record, err := result.Single(ctx)
	if err != nil {
		return 0, err
	}
	v, _ := record.Get("ts")
	switch ts := v.(type) {
	case int64:
		return ts, nil
	case float64:
		return int64(ts), nil
	case nil:
		return 0, nil
	default:
		return 0, fmt.Errorf("unexpected watermark type %T", v)
	}
}

func (s *Neo4jStore) MergeNode(ctx context.Context, n Node) error {
	cypher, params, err := mergeNodeCypher(n)
	if err != nil {
		return storeErr("mergeNode", err)
	}
	return storeErr("mergeNode", s.exec(ctx, cypher, params))
}

func (s *Neo4jStore) MergeEdge(ctx context.Context, e Edge) error {
	cypher, params, err := mergeEdgeCypher(e)
	if err != nil {
		return storeErr("mergeEdge", err)
	}
	return storeErr("mergeEdge", s.exec(ctx, cypher, params))
}

func (s *Neo4jStore) SetMeta(ctx context.Context, ts int64) error {
	return storeErr("setMeta", s.exec(ctx, cypherSetMeta, map[string]any{"ts": ts}))
}

func (s *Neo4jStore) Related(ctx context.Context, name string) ([]Related, error) {
	result, err := s.session.Run(ctx, cypherRelated, map[string]any{"name": name})
	if err != nil {
		return nil, storeErr("related", err)
	}
	var out []Related
	for result.Next(ctx) {
		rec := result.Record()
		r := Related{}
		if v, ok := rec.Get("name"); ok {
			r.Concept, _ = v.(string)
		}
		if v, ok := rec.Get("type"); ok {
			r.Relation, _ = v.(string)
		}
		if v, ok := rec.Get("outgoing"); ok {
			r.Outgoing, _ = v.(bool)
		}
		out = append(out, r)
	}
	return out, storeErr("related", result.Err())
}

// Close releases the session and then the driver.
func (s *Neo4jStore) Close(ctx context.Context) error {
	return storeErr("close", errors.Join(s.session.Close(ctx), s.driver.Close(ctx)))
}

// exec runs a write statement and consumes its result so server-side
// failures surface here.
func (s *Neo4jStore) exec(ctx context.Context, cypher string, params map[string]any) error {
	result, err := s.session.Run(ctx, cypher, params)
	if err != nil {
		return err
	}
	_, err = result.Consume(ctx)
	return err
}

// mergeNodeCypher builds MERGE (n:Label {keyProp: $key}) SET n += $props.
// Labels cannot be parameters, so they are validated before interpolation.
func mergeNodeCypher(n Node) (string, map[string]any, error) {
	if err := checkIdent(n.Label); err != nil {
		return "", nil, err
	}
	params := map[string]any{"key": n.Key}
	cypher := fmt.Sprintf("MERGE (n:%s {%s: $key})", n.Label, KeyProp(n.Label))
	if len(n.Props) > 0 {
		cypher += " SET n += $props"
		params["props"] = n.Props
	}
	return cypher, params, nil
}

// mergeEdgeCypher builds MATCH on both endpoints followed by MERGE of the
// edge with its identity properties inline.
func mergeEdgeCypher(e Edge) (string, map[string]any, error) {
	for _, id := range []string{e.From.Label, e.To.Label, e.Type} {
		if err := checkIdent(id); err != nil {
			return "", nil, err
		}
	}
	params := map[string]any{"from": e.From.Key, "to": e.To.Key}

	var props string
	if len(e.Props) > 0 {
		keys := make([]string, 0, len(e.Props))
		for k := range e.Props {
			if err := checkIdent(k); err != nil {
				return "", nil, err
			}
			keys = append(keys, k)
		}
		slices.Sort(keys)
		pairs := make([]string, len(keys))
		for i, k := range keys {
			p := fmt.Sprintf("p%d", i)
			pairs[i] = fmt.Sprintf("%s: $%s", k, p)
			params[p] = e.Props[k]
		}
		props = " {" + strings.Join(pairs, ", ") + "}"
	}

	cypher := fmt.Sprintf("MATCH (a:%s {%s: $from}), (b:%s {%s: $to}) MERGE (a)-[r:%s%s]->(b)",
		e.From.Label, KeyProp(e.From.Label),
		e.To.Label, KeyProp(e.To.Label),
		e.Type, props)
	return cypher, params, nil
}
