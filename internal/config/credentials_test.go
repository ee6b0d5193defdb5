package config

import (
	"errors"
	"os"
	"path/filepath"
	"runtime"
	"testing"
)

func TestSaveAndLoadCredentials(t *testing.T) {
	path := filepath.Join(t.TempDir(), "sub", "credentials")

	creds := &Credentials{
		APIBaseURL:   "https://api.example.com",
		Email:        "user@example.com",
		AuthToken:    "token-123",
		OrgID:        "org-1",
		ConnectionID: "conn-1",
	}

	if err := SaveCredentials(creds, path); err != nil {
		t.Fatalf("SaveCredentials failed: %v", err)
	}

	if runtime.GOOS != "windows" {
		info, err := os.Stat(path)
		if err != nil {
			t.Fatalf("stat failed: %v", err)
		}
		if perm := info.Mode().Perm(); perm != 0600 {
			t.Errorf("permissions = %04o, want 0600", perm)
		}
	}

	loaded, err := LoadCredentials(path)
	if err != nil {
		t.Fatalf("LoadCredentials failed: %v", err)
	}
	if *loaded != *creds {
		t.Errorf("loaded = %+v, want %+v", loaded, creds)
	}
}

func TestLoadCredentials_Missing(t *testing.T) {
	_, err := LoadCredentials(filepath.Join(t.TempDir(), "credentials"))
	if !errors.Is(err, ErrNoCredentials) {
		t.Errorf("LoadCredentials() error = %v, want ErrNoCredentials", err)
	}
}

func TestLoadCredentials_EmptyToken(t *testing.T) {
	path := filepath.Join(t.TempDir(), "credentials")
	if err := os.WriteFile(path, []byte("[stackai]\nemail = a@b.c\n"), 0600); err != nil {
		t.Fatal(err)
	}
	if _, err := LoadCredentials(path); !errors.Is(err, ErrNoCredentials) {
		t.Errorf("LoadCredentials() error = %v, want ErrNoCredentials", err)
	}
}

func TestSaveCredentials_RequiresToken(t *testing.T) {
	if err := SaveCredentials(&Credentials{Email: "a@b.c"}, filepath.Join(t.TempDir(), "c")); err == nil {
		t.Error("expected error for empty token")
	}
}

func TestClearCredentials(t *testing.T) {
	path := filepath.Join(t.TempDir(), "credentials")
	if err := SaveCredentials(&Credentials{AuthToken: "t"}, path); err != nil {
		t.Fatal(err)
	}

	if err := ClearCredentials(path); err != nil {
		t.Fatalf("ClearCredentials failed: %v", err)
	}
	if _, err := os.Stat(path); !os.IsNotExist(err) {
		t.Error("credentials file should be removed")
	}

	// Clearing twice is fine
	if err := ClearCredentials(path); err != nil {
		t.Errorf("second ClearCredentials failed: %v", err)
	}
}
