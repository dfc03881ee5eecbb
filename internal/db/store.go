// Copyright (c) 2026 ToeiRei
// Keywarden - fleet-wide SSH key audit and reconciliation
// This source code is licensed under the MIT license found in the LICENSE file.

package db

import (
	"context"
	"fmt"
	"os/user"
	"time"

	"github.com/toeirei/keywarden/internal/model"
	"github.com/uptrace/bun"
)

// RunRecord summarizes one audit or fix run.
type RunRecord struct {
	bun.BaseModel `bun:"table:runs"`

	ID                int64     `bun:"id,pk,autoincrement"`
	StartedAt         time.Time `bun:"started_at"`
	Mode              string    `bun:"mode"`
	Matched           int       `bun:"matched"`
	Missing           int       `bun:"missing"`
	Unauthorized      int       `bun:"unauthorized"`
	FetchErrors       int       `bun:"fetch_errors"`
	RemediationErrors int       `bun:"remediation_errors"`
}

// ResultRecord is one classified (host, account, material) triple of a run.
type ResultRecord struct {
	bun.BaseModel `bun:"table:run_results"`

	ID       int64  `bun:"id,pk,autoincrement"`
	RunID    int64  `bun:"run_id"`
	Hostname string `bun:"hostname"`
	Account  string `bun:"account"`
	KeyType  string `bun:"key_type"`
	Material string `bun:"material"`
	Comment  string `bun:"comment"`
	Status   string `bun:"status"`
}

// ActionEntry is one row of the action log.
type ActionEntry struct {
	bun.BaseModel `bun:"table:action_log"`

	ID        int64     `bun:"id,pk,autoincrement"`
	Timestamp time.Time `bun:"timestamp"`
	Username  string    `bun:"username"`
	Action    string    `bun:"action"`
	Details   string    `bun:"details"`
}

// Store persists run history. All methods are safe to call after Open.
type Store struct {
	bun *bun.DB
}

// Close releases the underlying database handle.
func (s *Store) Close() error {
	return s.bun.Close()
}

// SaveRun records a run and its per-target results in one transaction and
// returns the new run ID.
func (s *Store) SaveRun(ctx context.Context, run *RunRecord, results []model.ReconciliationResult) (int64, error) {
	if run.StartedAt.IsZero() {
		run.StartedAt = time.Now().UTC()
	}
	tx, err := s.bun.BeginTx(ctx, nil)
	if err != nil {
		return 0, err
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.NewInsert().Model(run).Exec(ctx); err != nil {
		return 0, fmt.Errorf("failed to insert run: %w", err)
	}
	for _, r := range results {
		rec := &ResultRecord{
			RunID:    run.ID,
			Hostname: r.Hostname,
			Account:  r.Account,
			KeyType:  r.KeyType,
			Material: r.Material,
			Comment:  r.Comment,
			Status:   string(r.Status),
		}
		if _, err := tx.NewInsert().Model(rec).Exec(ctx); err != nil {
			return 0, fmt.Errorf("failed to insert run result: %w", err)
		}
	}
	if err := tx.Commit(); err != nil {
		return 0, err
	}
	return run.ID, nil
}

// ListRuns returns the most recent runs, newest first.
func (s *Store) ListRuns(ctx context.Context, limit int) ([]RunRecord, error) {
	var runs []RunRecord
	q := s.bun.NewSelect().Model(&runs).Order("started_at DESC").Order("id DESC")
	if limit > 0 {
		q = q.Limit(limit)
	}
	if err := q.Scan(ctx); err != nil {
		return nil, err
	}
	return runs, nil
}

// ResultsForRun returns the stored results of one run.
func (s *Store) ResultsForRun(ctx context.Context, runID int64) ([]ResultRecord, error) {
	var results []ResultRecord
	err := s.bun.NewSelect().Model(&results).
		Where("run_id = ?", runID).
		Order("hostname").Order("account").Order("material").
		Scan(ctx)
	if err != nil {
		return nil, err
	}
	return results, nil
}

// LogAction appends an entry to the action log, attributed to the current
// OS user.
func (s *Store) LogAction(ctx context.Context, action, details string) error {
	username := "unknown"
	if u, err := user.Current(); err == nil && u.Username != "" {
		username = u.Username
	}
	entry := &ActionEntry{
		Timestamp: time.Now().UTC(),
		Username:  username,
		Action:    action,
		Details:   details,
	}
	_, err := s.bun.NewInsert().Model(entry).Exec(ctx)
	return err
}

// ActionLog returns the most recent action log entries, newest first.
func (s *Store) ActionLog(ctx context.Context, limit int) ([]ActionEntry, error) {
	var entries []ActionEntry
	q := s.bun.NewSelect().Model(&entries).Order("timestamp DESC").Order("id DESC")
	if limit > 0 {
		q = q.Limit(limit)
	}
	if err := q.Scan(ctx); err != nil {
		return nil, err
	}
	return entries, nil
}
