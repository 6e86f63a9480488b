package store

import (
	"fmt"
	"time"
)

// Edge types.
const (
	EdgeFixes      = "fixes"
	EdgeRelated    = "related"
	EdgeTemporal   = "temporal"
	EdgeCauses     = "causes"
	EdgeSupports   = "supports"
	EdgePartOf     = "part_of"
	EdgeSupersedes = "supersedes"
)

var validEdgeTypes = map[string]bool{
	EdgeFixes:      true,
	EdgeRelated:    true,
	EdgeTemporal:   true,
	EdgeCauses:     true,
	EdgeSupports:   true,
	EdgePartOf:     true,
	EdgeSupersedes: true,
}

// Edge is a directed, typed relationship between two records.
type Edge struct {
	SourceID   string
	TargetID   string
	Type       string
	Confidence float64
	CreatedAt  int64
}

// UpsertEdge inserts an edge if no edge with the same (source, target, type)
// exists. The unique index makes the check-then-insert atomic; a duplicate is
// reported as created=false, never as an error.
func (db *DB) UpsertEdge(sourceID, targetID, edgeType string, confidence float64) (bool, error) {
	if !validEdgeTypes[edgeType] {
		return false, fmt.Errorf("invalid edge type %q", edgeType)
	}
	if sourceID == targetID {
		return false, fmt.Errorf("self edge on %s", sourceID)
	}

	now := time.Now().UnixMilli()
	result, err := db.Exec(`
		INSERT OR IGNORE INTO record_edges (source_id, target_id, edge_type, confidence, created_at)
		VALUES (?, ?, ?, ?, ?)
	`, sourceID, targetID, edgeType, confidence, now)
	if err != nil {
		return false, fmt.Errorf("upsert edge %s-[%s]->%s: %w", sourceID, edgeType, targetID, err)
	}
	n, _ := result.RowsAffected()
	return n > 0, nil
}

// EdgeExists reports whether an edge with the exact (source, target, type) exists.
func (db *DB) EdgeExists(sourceID, targetID, edgeType string) (bool, error) {
	var count int
	err := db.QueryRow(`
		SELECT COUNT(*) FROM record_edges
		WHERE source_id = ? AND target_id = ? AND edge_type = ?
	`, sourceID, targetID, edgeType).Scan(&count)
	if err != nil {
		return false, fmt.Errorf("edge exists: %w", err)
	}
	return count > 0, nil
}

// AnyEdgeBetween reports whether any edge of any type connects the two records
// in either direction.
func (db *DB) AnyEdgeBetween(a, b string) (bool, error) {
	var count int
	err := db.QueryRow(`
		SELECT COUNT(*) FROM record_edges
		WHERE (source_id = ? AND target_id = ?) OR (source_id = ? AND target_id = ?)
	`, a, b, b, a).Scan(&count)
	if err != nil {
		return false, fmt.Errorf("any edge between: %w", err)
	}
	return count > 0, nil
}

// HasIncomingEdge reports whether the record has any incoming edge of the type.
func (db *DB) HasIncomingEdge(targetID, edgeType string) (bool, error) {
	var count int
	err := db.QueryRow(`
		SELECT COUNT(*) FROM record_edges WHERE target_id = ? AND edge_type = ?
	`, targetID, edgeType).Scan(&count)
	if err != nil {
		return false, fmt.Errorf("has incoming edge: %w", err)
	}
	return count > 0, nil
}

// EdgesForRecord returns all edges touching a record, in either direction.
func (db *DB) EdgesForRecord(id string) ([]Edge, error) {
	rows, err := db.Query(`
		SELECT source_id, target_id, edge_type, confidence, created_at
		FROM record_edges WHERE source_id = ? OR target_id = ?
		ORDER BY created_at
	`, id, id)
	if err != nil {
		return nil, fmt.Errorf("edges for record: %w", err)
	}
	defer rows.Close()

	var edges []Edge
	for rows.Next() {
		var e Edge
		if err := rows.Scan(&e.SourceID, &e.TargetID, &e.Type, &e.Confidence, &e.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan edge: %w", err)
		}
		edges = append(edges, e)
	}
	return edges, rows.Err()
}

// CountEdges returns the number of edges touching a record.
func (db *DB) CountEdges(id string) (int, error) {
	var count int
	err := db.QueryRow(`
		SELECT COUNT(*) FROM record_edges WHERE source_id = ? OR target_id = ?
	`, id, id).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("count edges: %w", err)
	}
	return count, nil
}

// CountEdgesByType returns edge counts grouped by type.
func (db *DB) CountEdgesByType() (map[string]int, error) {
	rows, err := db.Query(`SELECT edge_type, COUNT(*) FROM record_edges GROUP BY edge_type`)
	if err != nil {
		return nil, fmt.Errorf("count edges by type: %w", err)
	}
	defer rows.Close()

	counts := make(map[string]int)
	for rows.Next() {
		var t string
		var n int
		if err := rows.Scan(&t, &n); err != nil {
			return nil, fmt.Errorf("scan edge count: %w", err)
		}
		counts[t] = n
	}
	return counts, rows.Err()
}

// Neighbors returns record IDs reachable from the given record within maxHops,
// breadth-first over edges in either direction. The origin is excluded.
func (db *DB) Neighbors(id string, maxHops int) ([]string, error) {
	if maxHops <= 0 {
		maxHops = 1
	}

	visited := map[string]bool{id: true}
	frontier := []string{id}
	var out []string

	for hop := 0; hop < maxHops && len(frontier) > 0; hop++ {
		var next []string
		for _, cur := range frontier {
			edges, err := db.EdgesForRecord(cur)
			if err != nil {
				return nil, err
			}
			for _, e := range edges {
				other := e.TargetID
				if other == cur {
					other = e.SourceID
				}
				if visited[other] {
					continue
				}
				visited[other] = true
				next = append(next, other)
				out = append(out, other)
			}
		}
		frontier = next
	}
	return out, nil
}
