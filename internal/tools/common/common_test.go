package common

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestLoadEnvFileKeepsExistingValues(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, ".env")
	content := "# comment\nBMC_TOOL_NEW=\"fresh\"\nBMC_TOOL_KEEP=file\nexport BMC_TOOL_EXPORTED=yes # inline\nBMC_TOOL_QUOTED='a # b'\n"
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatalf("write env: %v", err)
	}
	t.Setenv("BMC_TOOL_KEEP", "process")
	t.Setenv("BMC_TOOL_NEW", "")
	_ = os.Unsetenv("BMC_TOOL_NEW")
	t.Setenv("BMC_TOOL_EXPORTED", "")
	_ = os.Unsetenv("BMC_TOOL_EXPORTED")
	t.Setenv("BMC_TOOL_QUOTED", "")
	_ = os.Unsetenv("BMC_TOOL_QUOTED")

	if err := LoadEnvFile(path); err != nil {
		t.Fatalf("load env: %v", err)
	}
	if got := os.Getenv("BMC_TOOL_NEW"); got != "fresh" {
		t.Fatalf("expected fresh, got %q", got)
	}
	if got := os.Getenv("BMC_TOOL_KEEP"); got != "process" {
		t.Fatalf("expected process value preserved, got %q", got)
	}
	if got := os.Getenv("BMC_TOOL_EXPORTED"); got != "yes" {
		t.Fatalf("expected export prefix and inline comment stripped, got %q", got)
	}
	if got := os.Getenv("BMC_TOOL_QUOTED"); got != "a # b" {
		t.Fatalf("expected quoted value kept verbatim, got %q", got)
	}
}

func TestLoadEnvFileReportsMalformedLine(t *testing.T) {
	path := filepath.Join(t.TempDir(), ".env")
	if err := os.WriteFile(path, []byte("ACCOUNT_STORE=mongo\nnot-a-pair\n"), 0o600); err != nil {
		t.Fatalf("write env: %v", err)
	}
	err := LoadEnvFile(path)
	if err == nil || !strings.Contains(err.Error(), ":2:") {
		t.Fatalf("expected line 2 error, got %v", err)
	}
}

func TestNewCIResult(t *testing.T) {
	var buf bytes.Buffer
	if err := WriteCIResult(&buf, NewCIResult("migrate up", []string{"store=sqlite"}, errors.New("locked"))); err != nil {
		t.Fatalf("write: %v", err)
	}
	var got CIResult
	if err := json.Unmarshal(buf.Bytes(), &got); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if got.OK || got.Error != "locked" || got.Title != "migrate up" || len(got.Details) != 1 {
		t.Fatalf("unexpected result %+v", got)
	}
}

func TestLoadEnvFileMissingIsNotAnError(t *testing.T) {
	if err := LoadEnvFile(filepath.Join(t.TempDir(), "absent.env")); err != nil {
		t.Fatalf("expected nil for missing file, got %v", err)
	}
}

func TestObservePassesThroughResult(t *testing.T) {
	boom := errors.New("boom")
	fn := Observe("seed", "seed apply", func(context.Context) ([]string, error) {
		return []string{"partial"}, boom
	})
	details, err := fn(context.Background())
	if !errors.Is(err, boom) || len(details) != 1 || details[0] != "partial" {
		t.Fatalf("unexpected result: %v %v", details, err)
	}
}
