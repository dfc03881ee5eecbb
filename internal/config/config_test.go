// Copyright (c) 2026 ToeiRei
// Keywarden - fleet-wide SSH key audit and reconciliation
// This source code is licensed under the MIT license found in the LICENSE file.

package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/spf13/cobra"
)

func testCmd() *cobra.Command {
	cmd := &cobra.Command{Use: "test"}
	cmd.Flags().String("policy", "", "")
	cmd.Flags().String("identity-file", "", "")
	cmd.Flags().String("db-type", "sqlite", "")
	cmd.Flags().String("db-dsn", "./keywarden.db", "")
	cmd.Flags().String("lang", "en", "")
	cmd.Flags().Bool("debug", false, "")
	return cmd
}

func TestLoadDefaults(t *testing.T) {
	c, err := Load(testCmd(), "")
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if c.Database.Type != "sqlite" {
		t.Fatalf("database type default = %q", c.Database.Type)
	}
	if c.Language != "en" {
		t.Fatalf("language default = %q", c.Language)
	}
	if c.ConnectTimeoutSeconds != 10 {
		t.Fatalf("connect timeout default = %d", c.ConnectTimeoutSeconds)
	}
}

func TestLoadReadsConfigFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "keywarden.yaml")
	content := `
policy: /etc/keywarden/policy.yaml
identity_file: /root/.ssh/id_ed25519
connect_timeout: 30
database:
  type: postgres
  dsn: postgres://keywarden@db/keywarden
language: de
debug: true
`
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}

	c, err := Load(testCmd(), path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if c.PolicyFile != "/etc/keywarden/policy.yaml" {
		t.Fatalf("policy = %q", c.PolicyFile)
	}
	if c.IdentityFile != "/root/.ssh/id_ed25519" {
		t.Fatalf("identity file = %q", c.IdentityFile)
	}
	if c.ConnectTimeoutSeconds != 30 {
		t.Fatalf("connect timeout = %d", c.ConnectTimeoutSeconds)
	}
	if c.Database.Type != "postgres" || c.Database.DSN != "postgres://keywarden@db/keywarden" {
		t.Fatalf("database = %+v", c.Database)
	}
	if c.Language != "de" || !c.Debug {
		t.Fatalf("language/debug not read: %q %v", c.Language, c.Debug)
	}
}

func TestLoadFlagOverridesFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "keywarden.yaml")
	if err := os.WriteFile(path, []byte("language: de\n"), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}

	cmd := testCmd()
	if err := cmd.Flags().Set("lang", "en"); err != nil {
		t.Fatalf("set flag: %v", err)
	}
	c, err := Load(cmd, path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if c.Language != "en" {
		t.Fatalf("changed flag must beat the config file, got %q", c.Language)
	}
}

func TestLoadCredentialSeed(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "credentials.yaml")
	content := "root@web1: hunter2\npostgres@db1: s3cret\n"
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatalf("write credentials: %v", err)
	}

	seed, err := LoadCredentialSeed(path)
	if err != nil {
		t.Fatalf("LoadCredentialSeed: %v", err)
	}
	if seed["root@web1"] != "hunter2" || seed["postgres@db1"] != "s3cret" {
		t.Fatalf("unexpected seed: %v", seed)
	}
}

func TestLoadCredentialSeedEmptyPath(t *testing.T) {
	seed, err := LoadCredentialSeed("")
	if err != nil {
		t.Fatalf("LoadCredentialSeed: %v", err)
	}
	if seed != nil {
		t.Fatalf("expected nil seed, got %v", seed)
	}
}

func TestLoadCredentialSeedMissingFile(t *testing.T) {
	if _, err := LoadCredentialSeed("/nonexistent/credentials.yaml"); err == nil {
		t.Fatal("expected error for missing credentials file")
	}
}
