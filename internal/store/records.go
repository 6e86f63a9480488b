package store

import (
	"database/sql"
	"errors"
	"fmt"
	"time"
)

// Record kinds.
const (
	KindError    = "error"
	KindDecision = "decision"
	KindPattern  = "pattern"
	KindDoc      = "doc"
	KindLearning = "learning"
	KindContext  = "context"
)

// Lifecycle tiers.
const (
	TierEpisodic   = "episodic"
	TierStaging    = "staging"
	TierSemantic   = "semantic"
	TierProcedural = "procedural"
	TierArchived   = "archived"
	TierPurged     = "purged"
)

var validKinds = map[string]bool{
	KindError:    true,
	KindDecision: true,
	KindPattern:  true,
	KindDoc:      true,
	KindLearning: true,
	KindContext:  true,
}

var validTiers = map[string]bool{
	TierEpisodic:   true,
	TierStaging:    true,
	TierSemantic:   true,
	TierProcedural: true,
	TierArchived:   true,
	TierPurged:     true,
}

// ErrVersionConflict is returned when a version-checked update loses the race
// to a concurrent writer. Callers re-read and retry at record granularity.
var ErrVersionConflict = errors.New("record version conflict")

// Record is a knowledge record plus its derived retention state.
// Content and identity are immutable here; strength/decay fields are owned by
// the decay calculator, tier/quality fields by the quality engine.
type Record struct {
	ID      string
	Kind    string
	Content string
	Project string

	Importance      float64 // externally seeded; negative means unseeded
	Strength        float64
	DecayRate       float64
	LastDecayUpdate int64
	Pinned          bool

	Tier         string
	QualityScore float64
	RatingAvg    float64
	RatingCount  int

	AccessCount       int
	EditCount         int // doubles as the optimistic-concurrency version
	LastAccessedAt    *int64
	RelationshipCount int

	SessionID      string
	SessionSeq     int
	SessionContext string

	CreatedAt int64
}

const recordColumns = `id, kind, content, project, importance, strength, decay_rate, last_decay_update,
	pinned, tier, quality_score, rating_avg, rating_count, access_count, edit_count,
	last_accessed_at, relationship_count, session_id, session_seq, session_context, created_at`

// CreateRecord inserts a new record. Assigns an ID when empty, validates kind
// and tier at the store boundary, and seeds retention state.
func (db *DB) CreateRecord(rec *Record) error {
	if !validKinds[rec.Kind] {
		return fmt.Errorf("invalid kind %q", rec.Kind)
	}
	if rec.Tier == "" {
		rec.Tier = TierEpisodic
	}
	if !validTiers[rec.Tier] {
		return fmt.Errorf("invalid tier %q", rec.Tier)
	}
	if rec.ID == "" {
		rec.ID = db.NewID()
	}

	now := time.Now().UnixMilli()
	if rec.CreatedAt == 0 {
		rec.CreatedAt = now
	}
	if rec.LastDecayUpdate == 0 {
		rec.LastDecayUpdate = rec.CreatedAt
	}
	if rec.Strength == 0 {
		rec.Strength = 1.0
	}
	if rec.EditCount == 0 {
		rec.EditCount = 1
	}

	_, err := db.Exec(`
		INSERT INTO records (id, kind, content, project, importance, strength, decay_rate, last_decay_update,
			pinned, tier, quality_score, rating_avg, rating_count, access_count, edit_count,
			last_accessed_at, relationship_count, session_id, session_seq, session_context, created_at)
		VALUES (?, ?, ?, NULLIF(?, ''), ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, NULLIF(?, ''), ?, NULLIF(?, ''), ?)
	`, rec.ID, rec.Kind, rec.Content, rec.Project,
		rec.Importance, rec.Strength, rec.DecayRate, rec.LastDecayUpdate,
		boolToInt(rec.Pinned), rec.Tier, rec.QualityScore, rec.RatingAvg, rec.RatingCount,
		rec.AccessCount, rec.EditCount, rec.LastAccessedAt, rec.RelationshipCount,
		rec.SessionID, rec.SessionSeq, rec.SessionContext, rec.CreatedAt)
	if err != nil {
		return fmt.Errorf("create record: %w", err)
	}
	return nil
}

// GetRecord returns a record by ID, or nil if not found.
func (db *DB) GetRecord(id string) (*Record, error) {
	row := db.QueryRow(`SELECT `+recordColumns+` FROM records WHERE id = ?`, id)
	rec, err := scanRecord(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get record %s: %w", id, err)
	}
	return rec, nil
}

// ScanFilter narrows a paginated scan over records.
type ScanFilter struct {
	Tier          string
	Kind          string
	SessionID     string
	StrengthBelow float64 // > 0 enables the filter
	CreatedAfter  int64   // unix ms, > 0 enables the filter
	Live          bool    // exclude archived and purged tiers
}

// ScanRecords pages through records matching the filter, ordered by ID.
// Pass the last ID of the previous page as afterID; empty starts from the top.
func (db *DB) ScanRecords(f ScanFilter, afterID string, limit int) ([]Record, error) {
	if limit <= 0 {
		limit = 100
	}

	query := `SELECT ` + recordColumns + ` FROM records WHERE id > ?`
	args := []any{afterID}

	if f.Tier != "" {
		query += ` AND tier = ?`
		args = append(args, f.Tier)
	}
	if f.Kind != "" {
		query += ` AND kind = ?`
		args = append(args, f.Kind)
	}
	if f.SessionID != "" {
		query += ` AND session_id = ?`
		args = append(args, f.SessionID)
	}
	if f.StrengthBelow > 0 {
		query += ` AND strength < ?`
		args = append(args, f.StrengthBelow)
	}
	if f.CreatedAfter > 0 {
		query += ` AND created_at >= ?`
		args = append(args, f.CreatedAfter)
	}
	if f.Live {
		query += ` AND tier NOT IN ('archived', 'purged')`
	}

	query += ` ORDER BY id LIMIT ?`
	args = append(args, limit)

	rows, err := db.Query(query, args...)
	if err != nil {
		return nil, fmt.Errorf("scan records: %w", err)
	}
	defer rows.Close()
	return scanRecords(rows)
}

// SessionMembers returns all records in a session, ordered by sequence.
func (db *DB) SessionMembers(sessionID string) ([]Record, error) {
	rows, err := db.Query(`
		SELECT `+recordColumns+` FROM records
		WHERE session_id = ?
		ORDER BY session_seq, created_at
	`, sessionID)
	if err != nil {
		return nil, fmt.Errorf("session members: %w", err)
	}
	defer rows.Close()
	return scanRecords(rows)
}

// ApplyDecay persists decay-owned fields with a version check so a concurrent
// content edit never gets clobbered.
func (db *DB) ApplyDecay(id string, strength, decayRate float64, lastUpdate int64, version int) error {
	result, err := db.Exec(`
		UPDATE records SET strength = ?, decay_rate = ?, last_decay_update = ?
		WHERE id = ? AND edit_count = ?
	`, strength, decayRate, lastUpdate, id, version)
	if err != nil {
		return fmt.Errorf("apply decay %s: %w", id, err)
	}
	if n, _ := result.RowsAffected(); n == 0 {
		return ErrVersionConflict
	}
	return nil
}

// ApplyQuality persists quality-owned fields with a version check.
func (db *DB) ApplyQuality(id string, score float64, tier string, version int) error {
	if !validTiers[tier] {
		return fmt.Errorf("invalid tier %q", tier)
	}
	result, err := db.Exec(`
		UPDATE records SET quality_score = ?, tier = ?
		WHERE id = ? AND edit_count = ?
	`, score, tier, id, version)
	if err != nil {
		return fmt.Errorf("apply quality %s: %w", id, err)
	}
	if n, _ := result.RowsAffected(); n == 0 {
		return ErrVersionConflict
	}
	return nil
}

// SetTier moves a record to the given tier without touching quality fields.
// Used by the archival pass.
func (db *DB) SetTier(id, tier string) error {
	if !validTiers[tier] {
		return fmt.Errorf("invalid tier %q", tier)
	}
	_, err := db.Exec(`UPDATE records SET tier = ? WHERE id = ?`, tier, id)
	if err != nil {
		return fmt.Errorf("set tier %s: %w", id, err)
	}
	return nil
}

// ApplyRating persists an updated running rating average.
func (db *DB) ApplyRating(id string, avg float64, count int) error {
	_, err := db.Exec(`
		UPDATE records SET rating_avg = ?, rating_count = ?
		WHERE id = ?
	`, avg, count, id)
	if err != nil {
		return fmt.Errorf("apply rating %s: %w", id, err)
	}
	return nil
}

// TouchRecord updates last_accessed_at and increments access_count.
func (db *DB) TouchRecord(id string) error {
	now := time.Now().UnixMilli()
	_, err := db.Exec(`
		UPDATE records SET last_accessed_at = ?, access_count = access_count + 1
		WHERE id = ?
	`, now, id)
	if err != nil {
		return fmt.Errorf("touch record %s: %w", id, err)
	}
	return nil
}

// SetRelationshipCount refreshes the cached edge count for a record.
// The cache is best-effort: a failed refresh is repaired by the next pass.
func (db *DB) SetRelationshipCount(id string, count int) error {
	_, err := db.Exec(`UPDATE records SET relationship_count = ? WHERE id = ?`, count, id)
	if err != nil {
		return fmt.Errorf("set relationship count %s: %w", id, err)
	}
	return nil
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanRecord(row rowScanner) (*Record, error) {
	var r Record
	var pinned int
	var project, sessionID, sessionContext sql.NullString
	var sessionSeq, lastAccessed sql.NullInt64
	err := row.Scan(&r.ID, &r.Kind, &r.Content, &project,
		&r.Importance, &r.Strength, &r.DecayRate, &r.LastDecayUpdate,
		&pinned, &r.Tier, &r.QualityScore, &r.RatingAvg, &r.RatingCount,
		&r.AccessCount, &r.EditCount, &lastAccessed, &r.RelationshipCount,
		&sessionID, &sessionSeq, &sessionContext, &r.CreatedAt)
	if err != nil {
		return nil, err
	}
	r.Pinned = pinned != 0
	r.Project = project.String
	r.SessionID = sessionID.String
	r.SessionSeq = int(sessionSeq.Int64)
	r.SessionContext = sessionContext.String
	if lastAccessed.Valid {
		r.LastAccessedAt = &lastAccessed.Int64
	}
	return &r, nil
}

func scanRecords(rows *sql.Rows) ([]Record, error) {
	var records []Record
	for rows.Next() {
		rec, err := scanRecord(rows)
		if err != nil {
			return nil, fmt.Errorf("scan record: %w", err)
		}
		records = append(records, *rec)
	}
	return records, rows.Err()
}
