package main

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stellarlinkco/myfriend/internal/config"
	"github.com/stellarlinkco/myfriend/internal/memory"
)

// isolate points HOME at a temp dir and clears credentials.
func isolate(t *testing.T) string {
	t.Helper()
	tmpDir := t.TempDir()
	t.Setenv("HOME", tmpDir)
	t.Setenv("USERPROFILE", tmpDir)
	t.Setenv("MYFRIEND_CONFIG", "")
	t.Setenv("MYFRIEND_API_KEY", "")
	t.Setenv("ANTHROPIC_API_KEY", "")
	t.Setenv("ANTHROPIC_AUTH_TOKEN", "")
	t.Setenv("OPENAI_API_KEY", "")
	t.Setenv("MYFRIEND_BRAVE_API_KEY", "")
	t.Setenv("BRAVE_SEARCH_API_KEY", "")
	t.Setenv("MYFRIEND_EXPERIMENT", "")
	configFlag = ""
	experimentFlag = ""
	t.Cleanup(func() {
		configFlag = ""
		experimentFlag = ""
	})
	return tmpDir
}

func execute(t *testing.T, args ...string) (string, error) {
	t.Helper()
	root := newRootCmd()
	var buf bytes.Buffer
	root.SetOut(&buf)
	root.SetErr(&buf)
	root.SetArgs(args)
	err := root.ExecuteContext(context.Background())
	return buf.String(), err
}

func seedFacts(t *testing.T, cfg *config.Config, userID string) {
	t.Helper()
	if err := os.MkdirAll(filepath.Dir(cfg.Memory.DBPath), 0755); err != nil {
		t.Fatalf("MkdirAll error: %v", err)
	}
	backend, err := memory.OpenFactStore(cfg.Memory)
	if err != nil {
		t.Fatalf("OpenFactStore error: %v", err)
	}
	reg := memory.NewRegistry(memory.OptionsFromConfig(cfg), backend, nil)
	store := reg.Get(context.Background(), userID)
	if _, err := store.UpsertFact(context.Background(), "hobby", "runs trail races", 4); err != nil {
		t.Fatalf("UpsertFact error: %v", err)
	}
	if err := reg.Close(); err != nil {
		t.Fatalf("Close error: %v", err)
	}
}

func TestRootCommands(t *testing.T) {
	root := newRootCmd()
	want := []string{"config", "forget", "gateway", "memories", "onboard", "status"}
	var got []string
	for _, c := range root.Commands() {
		got = append(got, c.Name())
	}
	for _, name := range want {
		if !strings.Contains(strings.Join(got, ","), name) {
			t.Errorf("missing command %q in %v", name, got)
		}
	}
	if root.PersistentFlags().Lookup("config") == nil {
		t.Error("missing --config flag")
	}
}

func TestRunOnboard(t *testing.T) {
	tmpDir := isolate(t)

	out, err := execute(t, "onboard")
	if err != nil {
		t.Fatalf("onboard error: %v", err)
	}
	if !strings.Contains(out, "Created config") {
		t.Errorf("unexpected output: %s", out)
	}

	cfgPath := filepath.Join(tmpDir, ".myfriend", "config.json")
	if _, err := os.Stat(cfgPath); err != nil {
		t.Errorf("config file was not created: %v", err)
	}
	for _, dir := range []string{"workspace", filepath.Join("workspace", "logs"), filepath.Join("workspace", "data")} {
		if _, err := os.Stat(filepath.Join(tmpDir, ".myfriend", dir)); err != nil {
			t.Errorf("%s was not created: %v", dir, err)
		}
	}

	out, err = execute(t, "onboard")
	if err != nil {
		t.Fatalf("second onboard error: %v", err)
	}
	if !strings.Contains(out, "Config already exists") {
		t.Errorf("unexpected output: %s", out)
	}
}

func TestRunOnboard_CustomPath(t *testing.T) {
	tmpDir := isolate(t)
	path := filepath.Join(tmpDir, "custom", "friend.json")

	if _, err := execute(t, "onboard", "--config", path); err != nil {
		t.Fatalf("onboard error: %v", err)
	}
	if _, err := os.Stat(path); err != nil {
		t.Errorf("custom config not written: %v", err)
	}
}

func TestRunStatus(t *testing.T) {
	isolate(t)
	t.Setenv("MYFRIEND_API_KEY", "sk-ant-1234567890")

	out, err := execute(t, "status")
	if err != nil {
		t.Fatalf("status error: %v", err)
	}
	for _, want := range []string{"Experiment: proactive", "API Key: sk-a...7890", "Search: disabled", "Memory: empty"} {
		if !strings.Contains(out, want) {
			t.Errorf("status output missing %q:\n%s", want, out)
		}
	}
}

func TestRunStatus_WithMemory(t *testing.T) {
	isolate(t)
	cfg, err := config.LoadConfig()
	if err != nil {
		t.Fatalf("LoadConfig error: %v", err)
	}
	seedFacts(t, cfg, "telegram:42")

	out, err := execute(t, "status")
	if err != nil {
		t.Fatalf("status error: %v", err)
	}
	if !strings.Contains(out, "Memory: 1 users") {
		t.Errorf("unexpected output:\n%s", out)
	}
}

func TestMemoriesAndForget(t *testing.T) {
	isolate(t)
	cfg, err := config.LoadConfig()
	if err != nil {
		t.Fatalf("LoadConfig error: %v", err)
	}
	seedFacts(t, cfg, "telegram:42")

	out, err := execute(t, "memories")
	if err != nil {
		t.Fatalf("memories error: %v", err)
	}
	if strings.TrimSpace(out) != "telegram:42" {
		t.Errorf("users = %q", out)
	}

	out, err = execute(t, "memories", "telegram:42")
	if err != nil {
		t.Fatalf("memories user error: %v", err)
	}
	if !strings.Contains(out, "hobby: runs trail races") {
		t.Errorf("facts = %q", out)
	}

	out, err = execute(t, "forget", "telegram:42")
	if err != nil {
		t.Fatalf("forget error: %v", err)
	}
	if !strings.Contains(out, "Memory cleared") {
		t.Errorf("forget = %q", out)
	}

	out, err = execute(t, "memories", "telegram:42")
	if err != nil {
		t.Fatalf("memories after forget error: %v", err)
	}
	if !strings.Contains(out, "don't remember anything") {
		t.Errorf("facts after forget = %q", out)
	}
}

func TestForget_RequiresUser(t *testing.T) {
	isolate(t)
	if _, err := execute(t, "forget"); err == nil {
		t.Error("expected an argument error")
	}
}

func TestRunConfig(t *testing.T) {
	isolate(t)
	out, err := execute(t, "config")
	if err != nil {
		t.Fatalf("config error: %v", err)
	}
	if !strings.Contains(out, "motivation threshold") || !strings.Contains(out, "max daily shares") {
		t.Errorf("unexpected output:\n%s", out)
	}
}

func TestRunGateway_NoAPIKey(t *testing.T) {
	isolate(t)
	_, err := execute(t, "gateway")
	if err == nil || !strings.Contains(err.Error(), "API key not set") {
		t.Errorf("err = %v, want missing API key", err)
	}
}

func TestRunGateway_BadExperiment(t *testing.T) {
	isolate(t)
	t.Setenv("MYFRIEND_API_KEY", "sk-test-key")
	if _, err := execute(t, "gateway", "--experiment", "sideways"); err == nil {
		t.Error("expected validation error")
	}
}

func TestMaskKey(t *testing.T) {
	tests := []struct{ in, want string }{
		{"", "not set"},
		{"short", "set"},
		{"sk-ant-1234567890", "sk-a...7890"},
	}
	for _, tt := range tests {
		if got := maskKey(tt.in); got != tt.want {
			t.Errorf("maskKey(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}

func TestProviderDisplay(t *testing.T) {
	if got := providerDisplay(""); got != "anthropic (default)" {
		t.Errorf("providerDisplay(\"\") = %q", got)
	}
	if got := providerDisplay("openai"); got != "openai" {
		t.Errorf("providerDisplay(openai) = %q", got)
	}
}
