package profile

import (
	"io"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestRunSetupAcceptsAnswers(t *testing.T) {
	t.Setenv("HOME", t.TempDir())

	in := strings.NewReader("Ada\nhttps://trips.example\nCycling\nsqlite\nsecret-token\n")
	got, err := RunSetup(in, io.Discard, nil)
	if err != nil {
		t.Fatalf("RunSetup: %v", err)
	}
	p := got.Profile
	if p.Name != "Ada" || p.APIBaseURL != "https://trips.example" {
		t.Errorf("profile: %+v", p)
	}
	if p.DefaultActivity != "cycling" || p.StorageBackend != "sqlite" {
		t.Errorf("activity/backend: %+v", p)
	}
	if got.Token != "secret-token" {
		t.Errorf("token: %q", got.Token)
	}
	if !strings.HasSuffix(p.TokenPath, filepath.Join(".config", "tripsync", "token")) {
		t.Errorf("token path: %q", p.TokenPath)
	}
}

func TestRunSetupKeepsExistingOnBlank(t *testing.T) {
	t.Setenv("HOME", t.TempDir())

	existing := &Profile{
		Name:            "Ada",
		APIBaseURL:      "https://old.example",
		DefaultActivity: "hiking",
		TokenPath:       "/tmp/tok",
		StorageBackend:  "redis",
	}
	got, err := RunSetup(strings.NewReader("\n\n\n\n\n"), io.Discard, existing)
	if err != nil {
		t.Fatal(err)
	}
	if *got.Profile != *existing {
		t.Errorf("want %+v, got %+v", existing, got.Profile)
	}
	if got.Token != "" {
		t.Errorf("blank token should keep the current one, got %q", got.Token)
	}
}

func TestRunSetupFallsBackOnUnknownValues(t *testing.T) {
	t.Setenv("HOME", t.TempDir())

	got, err := RunSetup(strings.NewReader("\n\nskydiving\nmongo\n\n"), io.Discard, nil)
	if err != nil {
		t.Fatal(err)
	}
	if got.Profile.DefaultActivity != "running" || got.Profile.StorageBackend != "file" {
		t.Errorf("fallbacks: %+v", got.Profile)
	}
}

func TestSaveLoadAndToken(t *testing.T) {
	home := t.TempDir()
	t.Setenv("HOME", home)

	if Exists() {
		t.Fatal("no profile yet")
	}
	prof := &Profile{Name: "Ada", APIBaseURL: "https://trips.example"}
	if err := Save(prof); err != nil {
		t.Fatal(err)
	}
	loaded, err := Load()
	if err != nil {
		t.Fatal(err)
	}
	if *loaded != *prof {
		t.Errorf("want %+v, got %+v", prof, loaded)
	}

	tokenPath := filepath.Join(home, ".config", "tripsync", "token")
	if err := SaveToken(tokenPath, "  abc \n"); err != nil {
		t.Fatal(err)
	}
	info, err := os.Stat(tokenPath)
	if err != nil {
		t.Fatal(err)
	}
	if info.Mode().Perm() != 0o600 {
		t.Errorf("token mode: %v", info.Mode().Perm())
	}
	if cfg := loaded.Config(); cfg.APIBaseURL != prof.APIBaseURL || cfg.SyncDebounce != 0 {
		t.Errorf("config layer: %+v", cfg)
	}
}
