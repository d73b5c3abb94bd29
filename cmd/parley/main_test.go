package main

import (
	"os"
	"path/filepath"
	"testing"
)

func TestBuildRootCmd(t *testing.T) {
	root := buildRootCmd()
	if root.Use != "parley" {
		t.Fatalf("Use = %q", root.Use)
	}

	want := map[string]bool{"serve": false, "check": false}
	for _, cmd := range root.Commands() {
		if _, ok := want[cmd.Name()]; ok {
			want[cmd.Name()] = true
		}
	}
	for name, found := range want {
		if !found {
			t.Errorf("missing subcommand %q", name)
		}
	}
}

func TestCheckCommand(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "parley.yaml")
	cfgYAML := `
server:
  listen: "127.0.0.1:9090"
providers:
  default: openai
  openai:
    api_key: test-key
agents:
  - id: a
    name: Assistant
    provider: openai
`
	if err := os.WriteFile(path, []byte(cfgYAML), 0o644); err != nil {
		t.Fatal(err)
	}

	root := buildRootCmd()
	root.SetArgs([]string{"check", "--config", path})
	if err := root.Execute(); err != nil {
		t.Fatalf("check failed: %v", err)
	}

	root = buildRootCmd()
	root.SetArgs([]string{"check", "--config", filepath.Join(dir, "missing.yaml")})
	if err := root.Execute(); err == nil {
		t.Fatal("check with missing file succeeded")
	}
}
