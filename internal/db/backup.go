// Copyright (c) 2026 ToeiRei
// Keywarden - fleet-wide SSH key audit and reconciliation
// This source code is licensed under the MIT license found in the LICENSE file.

package db

import (
	"context"
	"encoding/json"
	"fmt"
	"io"

	"github.com/klauspost/compress/zstd"
)

// BackupData is the portable dump of the run-history store.
type BackupData struct {
	Runs      []RunRecord    `json:"runs"`
	Results   []ResultRecord `json:"results"`
	ActionLog []ActionEntry  `json:"action_log"`
}

// Export collects the full store contents for backup.
func (s *Store) Export(ctx context.Context) (*BackupData, error) {
	var data BackupData
	if err := s.bun.NewSelect().Model(&data.Runs).Order("id").Scan(ctx); err != nil {
		return nil, fmt.Errorf("export runs: %w", err)
	}
	if err := s.bun.NewSelect().Model(&data.Results).Order("id").Scan(ctx); err != nil {
		return nil, fmt.Errorf("export results: %w", err)
	}
	if err := s.bun.NewSelect().Model(&data.ActionLog).Order("id").Scan(ctx); err != nil {
		return nil, fmt.Errorf("export action log: %w", err)
	}
	return &data, nil
}

// Import inserts backup data into the store, preserving IDs. Intended for
// restoring into a fresh database.
func (s *Store) Import(ctx context.Context, data *BackupData) error {
	tx, err := s.bun.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()

	for i := range data.Runs {
		if _, err := tx.NewInsert().Model(&data.Runs[i]).Exec(ctx); err != nil {
			return fmt.Errorf("import run %d: %w", data.Runs[i].ID, err)
		}
	}
	for i := range data.Results {
		if _, err := tx.NewInsert().Model(&data.Results[i]).Exec(ctx); err != nil {
			return fmt.Errorf("import result %d: %w", data.Results[i].ID, err)
		}
	}
	for i := range data.ActionLog {
		if _, err := tx.NewInsert().Model(&data.ActionLog[i]).Exec(ctx); err != nil {
			return fmt.Errorf("import action log entry %d: %w", data.ActionLog[i].ID, err)
		}
	}
	return tx.Commit()
}

// WriteBackup writes zstd-compressed JSON backup data to w.
func WriteBackup(data *BackupData, w io.Writer) error {
	zw, err := zstd.NewWriter(w)
	if err != nil {
		return fmt.Errorf("create zstd writer: %w", err)
	}
	enc := json.NewEncoder(zw)
	enc.SetIndent("", "  ")
	if err := enc.Encode(data); err != nil {
		_ = zw.Close()
		return fmt.Errorf("encode backup: %w", err)
	}
	return zw.Close()
}

// ReadBackup decodes a zstd-compressed JSON backup.
func ReadBackup(r io.Reader) (*BackupData, error) {
	zr, err := zstd.NewReader(r)
	if err != nil {
		return nil, fmt.Errorf("create zstd reader: %w", err)
	}
	defer zr.Close()
	var data BackupData
	if err := json.NewDecoder(zr).Decode(&data); err != nil {
		return nil, fmt.Errorf("decode backup: %w", err)
	}
	return &data, nil
}
