package grouplist

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"testing"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func writeList(t *testing.T, path, content string) {
	t.Helper()
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("write list: %v", err)
	}
}

func TestOffAllowsEverything(t *testing.T) {
	list, err := New("", "", testLogger())
	if err != nil {
		t.Fatalf("new list: %v", err)
	}
	if !list.Allowed("anything") {
		t.Fatal("expected off mode to allow every group")
	}
}

func TestWhitelistAndBlacklist(t *testing.T) {
	path := filepath.Join(t.TempDir(), "groups.yaml")
	writeList(t, path, "groups:\n  - g1\n  - \" g2 \"\n")

	whitelist, err := New(ModeWhitelist, path, testLogger())
	if err != nil {
		t.Fatalf("new whitelist: %v", err)
	}
	if !whitelist.Allowed("g1") || !whitelist.Allowed("g2") || whitelist.Allowed("g3") {
		t.Fatalf("unexpected whitelist decisions for %v", whitelist.Groups())
	}

	blacklist, err := New(ModeBlacklist, path, testLogger())
	if err != nil {
		t.Fatalf("new blacklist: %v", err)
	}
	if blacklist.Allowed("g1") || !blacklist.Allowed("g3") {
		t.Fatal("unexpected blacklist decisions")
	}
}

func TestMissingFileIsEmpty(t *testing.T) {
	list, err := New(ModeWhitelist, filepath.Join(t.TempDir(), "missing.yaml"), testLogger())
	if err != nil {
		t.Fatalf("new list: %v", err)
	}
	if list.Allowed("g1") {
		t.Fatal("expected empty whitelist to deny")
	}
}

func TestReloadSwapsListAndKeepsPreviousOnError(t *testing.T) {
	path := filepath.Join(t.TempDir(), "groups.yaml")
	writeList(t, path, "groups: [g1]\n")
	list, err := New(ModeWhitelist, path, testLogger())
	if err != nil {
		t.Fatalf("new list: %v", err)
	}

	writeList(t, path, "mode: blacklist\ngroups: [g2]\n")
	list.Reload(context.Background(), path)
	if list.Mode() != ModeBlacklist || list.Allowed("g2") || !list.Allowed("g1") {
		t.Fatalf("expected reloaded blacklist, got %s %v", list.Mode(), list.Groups())
	}

	writeList(t, path, "groups: [unterminated\n")
	list.Reload(context.Background(), path)
	if list.Allowed("g2") {
		t.Fatal("expected previous list to survive a bad reload")
	}
}

func TestInvalidMode(t *testing.T) {
	if _, err := New("greylist", "", testLogger()); !errors.Is(err, ErrInvalidMode) {
		t.Fatalf("expected ErrInvalidMode, got %v", err)
	}
}
