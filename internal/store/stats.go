package store

import (
	"fmt"
)

// Stats summarizes the current distribution of retention state.
type Stats struct {
	TotalRecords         int            `json:"total_records"`
	ByTier               map[string]int `json:"by_tier"`
	ByKind               map[string]int `json:"by_kind"`
	AvgStrength          float64        `json:"avg_strength"`
	AvgQuality           float64        `json:"avg_quality"`
	PinnedRecords        int            `json:"pinned_records"`
	TotalEdges           int            `json:"total_edges"`
	EdgesByType          map[string]int `json:"edges_by_type"`
	Sessions             int            `json:"sessions"`
	ConsolidatedSessions int            `json:"consolidated_sessions"`
}

// Stats returns the current collection-wide distribution of strength, quality,
// tier, and relationships. Read-only.
func (db *DB) Stats() (*Stats, error) {
	st := &Stats{
		ByTier:      make(map[string]int),
		ByKind:      make(map[string]int),
		EdgesByType: make(map[string]int),
	}

	err := db.QueryRow(`
		SELECT COUNT(*),
		       COALESCE(AVG(strength), 0),
		       COALESCE(AVG(quality_score), 0),
		       COALESCE(SUM(pinned), 0)
		FROM records
	`).Scan(&st.TotalRecords, &st.AvgStrength, &st.AvgQuality, &st.PinnedRecords)
	if err != nil {
		return nil, fmt.Errorf("record stats: %w", err)
	}

	rows, err := db.Query(`SELECT tier, COUNT(*) FROM records GROUP BY tier`)
	if err != nil {
		return nil, fmt.Errorf("tier stats: %w", err)
	}
	defer rows.Close()
	for rows.Next() {
		var tier string
		var n int
		if err := rows.Scan(&tier, &n); err != nil {
			return nil, fmt.Errorf("scan tier stat: %w", err)
		}
		st.ByTier[tier] = n
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	kindRows, err := db.Query(`SELECT kind, COUNT(*) FROM records GROUP BY kind`)
	if err != nil {
		return nil, fmt.Errorf("kind stats: %w", err)
	}
	defer kindRows.Close()
	for kindRows.Next() {
		var kind string
		var n int
		if err := kindRows.Scan(&kind, &n); err != nil {
			return nil, fmt.Errorf("scan kind stat: %w", err)
		}
		st.ByKind[kind] = n
	}
	if err := kindRows.Err(); err != nil {
		return nil, err
	}

	edgeCounts, err := db.CountEdgesByType()
	if err != nil {
		return nil, err
	}
	st.EdgesByType = edgeCounts
	for _, n := range edgeCounts {
		st.TotalEdges += n
	}

	st.Sessions, st.ConsolidatedSessions, err = db.CountSessions()
	if err != nil {
		return nil, err
	}

	return st, nil
}
