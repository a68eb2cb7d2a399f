package db

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog/log"
)

// RetentionPolicy controls session cleanup. Zero values disable a rule.
type RetentionPolicy struct {
	KeepLast int
	KeepDays int
}

// PruneResult summarizes a prune operation.
type PruneResult struct {
	Considered int
	Kept       int
	Deleted    int
}

// PruneSessions deletes old session records together with their turns,
// transmissions and events. Open sessions are always kept, as are the
// KeepLast newest sessions and those created within KeepDays.
func (s *Store) PruneSessions(ctx context.Context, policy RetentionPolicy, dryRun bool) (PruneResult, error) {
	if policy.KeepLast <= 0 && policy.KeepDays <= 0 {
		return PruneResult{}, nil
	}
	cutoff := time.Time{}
	if policy.KeepDays > 0 {
		cutoff = time.Now().UTC().Add(-time.Duration(policy.KeepDays) * 24 * time.Hour)
	}
	rows, err := s.db.QueryContext(ctx, `SELECT session_id, created_at, status FROM sessions ORDER BY created_at DESC`)
	if err != nil {
		return PruneResult{}, fmt.Errorf("list sessions: %w", err)
	}
	defer func() { _ = rows.Close() }()

	type sessionRow struct {
		id        string
		createdAt time.Time
		status    string
		parseErr  error
	}
	var sessions []sessionRow
	for rows.Next() {
		var id, createdAt, status string
		if err := rows.Scan(&id, &createdAt, &status); err != nil {
			return PruneResult{}, fmt.Errorf("scan session: %w", err)
		}
		parsed, parseErr := time.Parse(time.RFC3339, createdAt)
		sessions = append(sessions, sessionRow{id: id, createdAt: parsed, status: status, parseErr: parseErr})
	}
	if err := rows.Err(); err != nil {
		return PruneResult{}, fmt.Errorf("iterate sessions: %w", err)
	}
	_ = rows.Close()

	res := PruneResult{Considered: len(sessions)}
	for idx, row := range sessions {
		keep := row.status == StatusOpen
		if !keep && policy.KeepLast > 0 && idx < policy.KeepLast {
			keep = true
		}
		if !keep && policy.KeepDays > 0 {
			keep = row.parseErr != nil || row.createdAt.After(cutoff)
		}
		if keep {
			res.Kept++
			continue
		}
		if !dryRun {
			if _, err := s.db.ExecContext(ctx, `DELETE FROM sessions WHERE session_id=?`, row.id); err != nil {
				return res, fmt.Errorf("delete session %s: %w", row.id, err)
			}
		}
		res.Deleted++
	}
	log.Debug().Int("considered", res.Considered).Int("deleted", res.Deleted).Bool("dry_run", dryRun).Msg("sessions pruned")
	return res, nil
}
