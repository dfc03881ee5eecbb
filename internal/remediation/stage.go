// Copyright (c) 2026 ToeiRei
// Keywarden - fleet-wide SSH key audit and reconciliation
// This source code is licensed under the MIT license found in the LICENSE file.

package remediation

import (
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"sync"
	"syscall"

	"github.com/toeirei/keywarden/internal/logging"
)

var (
	// Registry of live staging directories so an interrupt can clean up
	// whatever was written before the process dies.
	activeStages  = make(map[*Stage]bool)
	stagesMutex   sync.Mutex
	signalOnce    sync.Once
	signalExit    = os.Exit
	signalChannel = make(chan os.Signal, 1)
)

// Stage is a local scratch directory holding the rendered authorized_keys
// files for one remediation run. Files are written here before upload and
// removed afterwards; on interrupt the whole directory is removed best
// effort.
type Stage struct {
	Dir string
}

// NewStage creates a staging directory and registers it for cleanup.
func NewStage() (*Stage, error) {
	dir, err := os.MkdirTemp("", "keywarden-stage-")
	if err != nil {
		return nil, fmt.Errorf("failed to create staging directory: %w", err)
	}
	s := &Stage{Dir: dir}

	stagesMutex.Lock()
	activeStages[s] = true
	stagesMutex.Unlock()

	return s, nil
}

// Write renders one plan to disk as "{account}@{host}.authorized_keys" and
// returns the file path.
func (s *Stage) Write(plan Plan) (string, error) {
	name := fmt.Sprintf("%s.authorized_keys", plan.Target.String())
	path := filepath.Join(s.Dir, name)
	if err := os.WriteFile(path, []byte(plan.Content), 0600); err != nil {
		return "", fmt.Errorf("failed to stage %s: %w", plan.Target, err)
	}
	return path, nil
}

// Cleanup removes the staging directory and unregisters it.
func (s *Stage) Cleanup() {
	stagesMutex.Lock()
	delete(activeStages, s)
	stagesMutex.Unlock()

	if err := os.RemoveAll(s.Dir); err != nil {
		logging.Warnf("failed to remove staging directory %s: %v", s.Dir, err)
	}
}

// CleanupAllStages removes every registered staging directory. Called from
// the signal handler on interrupt.
func CleanupAllStages() {
	stagesMutex.Lock()
	stages := make([]*Stage, 0, len(activeStages))
	for s := range activeStages {
		stages = append(stages, s)
	}
	activeStages = make(map[*Stage]bool)
	stagesMutex.Unlock()

	for _, s := range stages {
		if err := os.RemoveAll(s.Dir); err != nil {
			logging.Warnf("failed to remove staging directory %s: %v", s.Dir, err)
		}
	}
}

// InstallSignalHandler wires SIGINT/SIGTERM to best-effort cleanup of
// staged files before exiting. Safe to call more than once. In-flight
// remote connections are abandoned; the transport offers no graceful
// teardown guarantee on interrupt.
func InstallSignalHandler(cancel func()) {
	signalOnce.Do(func() {
		signal.Notify(signalChannel, syscall.SIGINT, syscall.SIGTERM)
		go func() {
			<-signalChannel
			if cancel != nil {
				cancel()
			}
			CleanupAllStages()
			signalExit(1)
		}()
	})
}
