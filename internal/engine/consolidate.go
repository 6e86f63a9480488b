package engine

import (
	"context"
	"errors"
	"fmt"
	"log"
	"strings"
	"time"

	"github.com/mnemora/retain/internal/store"
)

// ErrNotEligible reports that a session does not meet the consolidation
// criteria yet. Callers treat it as a skip, not a failure.
var ErrNotEligible = errors.New("session not eligible for consolidation")

// SessionConfig tunes session context extraction and consolidation.
type SessionConfig struct {
	MinMembers       int           // minimum records before a session can consolidate
	ConsolidateAfter time.Duration // idle time before a session is eligible
	ContextRecords   int           // trailing records included in extracted context
	ContextTruncate  int           // per-record character cap in context and synopses
}

// DefaultSessionConfig returns the standard consolidation tuning.
func DefaultSessionConfig() SessionConfig {
	return SessionConfig{
		MinMembers:       2,
		ConsolidateAfter: 24 * time.Hour,
		ContextRecords:   3,
		ContextTruncate:  500,
	}
}

// Validate rejects invalid tuning at the call boundary.
func (c SessionConfig) Validate() error {
	if c.MinMembers < 2 {
		return fmt.Errorf("min members must be >= 2, got %d", c.MinMembers)
	}
	if c.ConsolidateAfter <= 0 {
		return fmt.Errorf("consolidate-after must be positive, got %s", c.ConsolidateAfter)
	}
	if c.ContextRecords < 1 {
		return fmt.Errorf("context records must be >= 1, got %d", c.ContextRecords)
	}
	if c.ContextTruncate < 1 {
		return fmt.Errorf("context truncate must be >= 1, got %d", c.ContextTruncate)
	}
	return nil
}

// ExtractContext formats the tail of a session as an ordered summary string,
// for attachment to the next record stored in that session.
func (e *Engine) ExtractContext(sessionID string) (string, error) {
	members, err := e.DB.SessionMembers(sessionID)
	if err != nil {
		return "", err
	}
	if len(members) == 0 {
		return "", nil
	}

	tail := members
	if len(tail) > e.Session.ContextRecords {
		tail = tail[len(tail)-e.Session.ContextRecords:]
	}

	var b strings.Builder
	fmt.Fprintf(&b, "Recent session activity (%s):\n", sessionID)
	for i, m := range tail {
		fmt.Fprintf(&b, "%d. [%s] %s\n", i+1, m.Kind, truncate(m.Content, e.Session.ContextTruncate))
	}
	return b.String(), nil
}

// SessionLinks reports edges created while linking one session's members.
type SessionLinks struct {
	Temporal int `json:"temporal"`
	Fixes    int `json:"fixes"`
	Supports int `json:"supports"`
}

// InferSessionRelationships creates a Temporal edge between every consecutive
// pair of session members, and a causal edge wherever an error is followed
// later in the session by a learning, decision, or pattern record. Independent
// of the global inference window: session order is trusted over timestamps.
func (e *Engine) InferSessionRelationships(ctx context.Context, sessionID string) (*SessionLinks, error) {
	members, err := e.DB.SessionMembers(sessionID)
	if err != nil {
		return nil, err
	}

	links := &SessionLinks{}
	for i := 0; i+1 < len(members); i++ {
		created, err := e.DB.UpsertEdge(members[i].ID, members[i+1].ID, store.EdgeTemporal, 1.0)
		if err != nil {
			return links, err
		}
		if created {
			links.Temporal++
		}
	}

	for i := range members {
		if members[i].Kind != store.KindError {
			continue
		}
		for j := i + 1; j < len(members); j++ {
			switch members[j].Kind {
			case store.KindLearning, store.KindDecision:
				created, err := e.DB.UpsertEdge(members[j].ID, members[i].ID, store.EdgeFixes, 0.8)
				if err != nil {
					return links, err
				}
				if created {
					links.Fixes++
				}
			case store.KindPattern:
				created, err := e.DB.UpsertEdge(members[j].ID, members[i].ID, store.EdgeSupports, 0.8)
				if err != nil {
					return links, err
				}
				if created {
					links.Supports++
				}
			}
		}
	}
	return links, nil
}

// ConsolidateSession folds an eligible session into one Context summary record
// linked to every member via PartOf. Idempotent: a consolidated session
// returns its existing summary id with created=false. Serialized per session.
func (e *Engine) ConsolidateSession(ctx context.Context, sessionID string) (string, bool, error) {
	lock := e.sessionLock(sessionID)
	lock.Lock()
	defer lock.Unlock()

	existing, err := e.DB.GetSession(sessionID)
	if err != nil {
		return "", false, err
	}
	if existing != nil && existing.ConsolidatedAt != nil {
		return existing.SummaryRecord, false, nil
	}

	members, err := e.DB.SessionMembers(sessionID)
	if err != nil {
		return "", false, err
	}
	if len(members) < e.Session.MinMembers {
		return "", false, ErrNotEligible
	}

	newest := members[0].CreatedAt
	for _, m := range members {
		if m.CreatedAt > newest {
			newest = m.CreatedAt
		}
	}
	cutoff := time.Now().Add(-e.Session.ConsolidateAfter).UnixMilli()
	if newest >= cutoff {
		return "", false, ErrNotEligible
	}

	summary := &store.Record{
		Kind:       store.KindContext,
		Content:    e.sessionSynopsis(sessionID, members),
		Project:    members[0].Project,
		Importance: 0.7,
		Tier:       store.TierStaging,
	}
	if err := e.DB.CreateRecord(summary); err != nil {
		return "", false, fmt.Errorf("create session summary: %w", err)
	}

	for _, m := range members {
		if _, err := e.DB.UpsertEdge(m.ID, summary.ID, store.EdgePartOf, 1.0); err != nil {
			return "", false, err
		}
	}

	if _, err := e.InferSessionRelationships(ctx, sessionID); err != nil {
		return "", false, err
	}

	registered, err := e.DB.MarkConsolidated(sessionID, summary.Project, summary.ID)
	if err != nil {
		return "", false, err
	}
	if !registered {
		// A concurrent process won the registry insert; its summary stands.
		sess, err := e.DB.GetSession(sessionID)
		if err != nil {
			return "", false, err
		}
		return sess.SummaryRecord, false, nil
	}

	e.refreshRelationshipCounts(map[string]bool{summary.ID: true})
	return summary.ID, true, nil
}

// sessionSynopsis builds the structured summary content: counts by kind plus
// the ordered, truncated member contents.
func (e *Engine) sessionSynopsis(sessionID string, members []store.Record) string {
	byKind := make(map[string]int)
	for _, m := range members {
		byKind[m.Kind]++
	}

	var b strings.Builder
	fmt.Fprintf(&b, "Session %s: %d records", sessionID, len(members))
	for _, kind := range []string{store.KindError, store.KindDecision, store.KindPattern, store.KindDoc, store.KindLearning, store.KindContext} {
		if n := byKind[kind]; n > 0 {
			fmt.Fprintf(&b, ", %d %s", n, kind)
		}
	}
	b.WriteString("\n")

	for i, m := range members {
		fmt.Fprintf(&b, "%d. [%s] %s\n", i+1, m.Kind, truncate(m.Content, e.Session.ContextTruncate))
	}
	return b.String()
}

// ConsolidateResult reports the outcome of one consolidation sweep.
type ConsolidateResult struct {
	Sessions     int           `json:"sessions"`
	Consolidated int           `json:"consolidated"`
	Skipped      int           `json:"skipped"`
	Errored      int           `json:"errored"`
	Duration     time.Duration `json:"duration_ns"`
}

// SweepSessions consolidates every eligible session. One failing session is
// logged and counted, never fatal to the sweep.
func (e *Engine) SweepSessions(ctx context.Context) (*ConsolidateResult, error) {
	start := time.Now()
	result := &ConsolidateResult{}

	idleBefore := time.Now().Add(-e.Session.ConsolidateAfter).UnixMilli()
	candidates, err := e.DB.EligibleSessions(e.Session.MinMembers, idleBefore)
	if err != nil {
		return nil, err
	}
	result.Sessions = len(candidates)

	for _, c := range candidates {
		select {
		case <-ctx.Done():
			result.Duration = time.Since(start)
			return result, ctx.Err()
		default:
		}

		_, created, err := e.ConsolidateSession(ctx, c.SessionID)
		switch {
		case errors.Is(err, ErrNotEligible):
			result.Skipped++
		case err != nil:
			log.Printf("consolidate: session %s: %v", c.SessionID, err)
			result.Errored++
		case created:
			result.Consolidated++
		default:
			result.Skipped++
		}
	}

	result.Duration = time.Since(start)
	return result, nil
}

func truncate(s string, max int) string {
	if len(s) <= max {
		return s
	}
	return s[:max] + "…"
}
