package store

import (
	"database/sql"
	"fmt"
	"time"
)

// Session is the consolidation registry row for one session id.
type Session struct {
	ID             int64
	SessionID      string
	Project        string
	SummaryRecord  string
	ConsolidatedAt *int64
}

// GetSession returns the registry row for a session id, or nil if the session
// has never been consolidated.
func (db *DB) GetSession(sessionID string) (*Session, error) {
	var s Session
	var project, summary sql.NullString
	var consolidatedAt sql.NullInt64
	err := db.QueryRow(`
		SELECT id, session_id, project, summary_record, consolidated_at
		FROM sessions WHERE session_id = ?
	`, sessionID).Scan(&s.ID, &s.SessionID, &project, &summary, &consolidatedAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get session: %w", err)
	}
	s.Project = project.String
	s.SummaryRecord = summary.String
	if consolidatedAt.Valid {
		s.ConsolidatedAt = &consolidatedAt.Int64
	}
	return &s, nil
}

// MarkConsolidated records the summary for a session. The unique constraint on
// session_id means a concurrent consolidation loses cleanly: the first writer
// wins and the second sees created=false.
func (db *DB) MarkConsolidated(sessionID, project, summaryRecord string) (bool, error) {
	now := time.Now().UnixMilli()
	result, err := db.Exec(`
		INSERT OR IGNORE INTO sessions (session_id, project, summary_record, consolidated_at)
		VALUES (?, NULLIF(?, ''), ?, ?)
	`, sessionID, project, summaryRecord, now)
	if err != nil {
		return false, fmt.Errorf("mark consolidated: %w", err)
	}
	n, _ := result.RowsAffected()
	return n > 0, nil
}

// SessionCandidate is a session observed in the records table that may be due
// for consolidation.
type SessionCandidate struct {
	SessionID    string
	MemberCount  int
	LastActivity int64 // unix ms of the newest member
}

// EligibleSessions returns sessions with at least minMembers records, idle
// since before the cutoff, and not yet consolidated.
func (db *DB) EligibleSessions(minMembers int, idleBefore int64) ([]SessionCandidate, error) {
	rows, err := db.Query(`
		SELECT r.session_id, COUNT(*), MAX(r.created_at)
		FROM records r
		WHERE r.session_id IS NOT NULL
		  AND r.session_id NOT IN (SELECT session_id FROM sessions WHERE consolidated_at IS NOT NULL)
		GROUP BY r.session_id
		HAVING COUNT(*) >= ? AND MAX(r.created_at) < ?
	`, minMembers, idleBefore)
	if err != nil {
		return nil, fmt.Errorf("eligible sessions: %w", err)
	}
	defer rows.Close()

	var candidates []SessionCandidate
	for rows.Next() {
		var c SessionCandidate
		if err := rows.Scan(&c.SessionID, &c.MemberCount, &c.LastActivity); err != nil {
			return nil, fmt.Errorf("scan session candidate: %w", err)
		}
		candidates = append(candidates, c)
	}
	return candidates, rows.Err()
}

// CountSessions returns total and consolidated session counts.
func (db *DB) CountSessions() (total, consolidated int, err error) {
	err = db.QueryRow(`
		SELECT COUNT(DISTINCT session_id) FROM records WHERE session_id IS NOT NULL
	`).Scan(&total)
	if err != nil {
		return 0, 0, fmt.Errorf("count sessions: %w", err)
	}
	err = db.QueryRow(`
		SELECT COUNT(*) FROM sessions WHERE consolidated_at IS NOT NULL
	`).Scan(&consolidated)
	if err != nil {
		return 0, 0, fmt.Errorf("count consolidated: %w", err)
	}
	return total, consolidated, nil
}
