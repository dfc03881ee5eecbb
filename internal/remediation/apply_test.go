// Copyright (c) 2026 ToeiRei
// Keywarden - fleet-wide SSH key audit and reconciliation
// This source code is licensed under the MIT license found in the LICENSE file.

package remediation

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"sync"
	"testing"

	"github.com/toeirei/keywarden/internal/authkeys"
	"github.com/toeirei/keywarden/internal/model"
)

func testPlans() []Plan {
	entries := []authkeys.Entry{{Type: "ssh-ed25519", Material: "K1", Comment: "alice"}}
	return []Plan{
		{Target: model.Target{Hostname: "web1", Account: "root"}, Entries: entries, Content: authkeys.Serialize(entries)},
		{Target: model.Target{Hostname: "web1", Account: "deploy"}, Entries: nil, Content: ""},
		{Target: model.Target{Hostname: "db1", Account: "postgres"}, Entries: entries, Content: authkeys.Serialize(entries)},
	}
}

func TestApplyUploadsEveryPlan(t *testing.T) {
	var mu sync.Mutex
	uploaded := make(map[model.Target]string)
	errs := Apply(context.Background(), testPlans(), UploaderFunc(func(ctx context.Context, target model.Target, content string) error {
		mu.Lock()
		uploaded[target] = content
		mu.Unlock()
		return nil
	}), nil)

	if len(errs) != 0 {
		t.Fatalf("unexpected errors: %v", errs)
	}
	if len(uploaded) != 3 {
		t.Fatalf("uploaded %d targets, want 3", len(uploaded))
	}
	if got := uploaded[model.Target{Hostname: "web1", Account: "deploy"}]; got != "" {
		t.Fatalf("empty plan uploaded non-empty content: %q", got)
	}
}

func TestApplyCollectsFailuresWithoutAbortingSiblings(t *testing.T) {
	boom := errors.New("no .ssh directory")
	var mu sync.Mutex
	uploaded := make(map[model.Target]bool)
	errs := Apply(context.Background(), testPlans(), UploaderFunc(func(ctx context.Context, target model.Target, content string) error {
		if target.Hostname == "db1" {
			return boom
		}
		mu.Lock()
		uploaded[target] = true
		mu.Unlock()
		return nil
	}), nil)

	if len(errs) != 1 {
		t.Fatalf("expected 1 error, got %d: %v", len(errs), errs)
	}
	if errs[0].Target.Hostname != "db1" {
		t.Fatalf("error attributed to %v", errs[0].Target)
	}
	if !errors.Is(errs[0], boom) {
		t.Fatalf("cause not preserved: %v", errs[0])
	}
	if len(uploaded) != 2 {
		t.Fatalf("sibling uploads did not complete: %d of 2", len(uploaded))
	}
}

func TestApplyNoPlansIsNoop(t *testing.T) {
	errs := Apply(context.Background(), nil, UploaderFunc(func(ctx context.Context, target model.Target, content string) error {
		t.Error("uploader must not run without plans")
		return nil
	}), nil)
	if errs != nil {
		t.Fatalf("expected nil, got %v", errs)
	}
}

func TestApplyCancelledContextSkipsUploads(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	errs := Apply(ctx, testPlans(), UploaderFunc(func(ctx context.Context, target model.Target, content string) error {
		t.Error("uploader ran despite cancelled context")
		return nil
	}), nil)
	if len(errs) != len(testPlans()) {
		t.Fatalf("expected every plan to fail, got %d errors", len(errs))
	}
	for _, e := range errs {
		if !errors.Is(e, context.Canceled) {
			t.Fatalf("expected context.Canceled, got %v", e)
		}
	}
}

func TestStageWriteAndCleanup(t *testing.T) {
	stage, err := NewStage()
	if err != nil {
		t.Fatalf("NewStage: %v", err)
	}

	plan := Plan{
		Target:  model.Target{Hostname: "web1", Account: "root"},
		Content: "ssh-ed25519 K1 alice\n",
	}
	path, err := stage.Write(plan)
	if err != nil {
		t.Fatalf("Write: %v", err)
	}
	if filepath.Base(path) != "root@web1.authorized_keys" {
		t.Fatalf("unexpected staged file name: %s", path)
	}
	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read staged file: %v", err)
	}
	if string(data) != plan.Content {
		t.Fatalf("staged content mismatch: %q", data)
	}
	info, err := os.Stat(path)
	if err != nil {
		t.Fatalf("stat staged file: %v", err)
	}
	if info.Mode().Perm() != 0600 {
		t.Fatalf("staged file mode = %v, want 0600", info.Mode().Perm())
	}

	stage.Cleanup()
	if _, err := os.Stat(stage.Dir); !os.IsNotExist(err) {
		t.Fatalf("staging directory survived cleanup: %v", err)
	}
}

func TestCleanupAllStagesRemovesEverything(t *testing.T) {
	s1, err := NewStage()
	if err != nil {
		t.Fatalf("NewStage: %v", err)
	}
	s2, err := NewStage()
	if err != nil {
		t.Fatalf("NewStage: %v", err)
	}

	CleanupAllStages()
	for _, s := range []*Stage{s1, s2} {
		if _, err := os.Stat(s.Dir); !os.IsNotExist(err) {
			t.Fatalf("stage %s survived global cleanup", s.Dir)
		}
	}
}
