package store

import (
	"os"
	"path/filepath"
	"testing"
)

func TestCheckExists(t *testing.T) {
	tmpDir := t.TempDir()

	tests := []struct {
		name      string
		setup     func(string) error
		wantExist bool
		wantError bool
	}{
		{
			name: "journal exists",
			setup: func(dbPath string) error {
				f, err := os.Create(dbPath)
				if err != nil {
					return err
				}
				return f.Close()
			},
			wantExist: true,
			wantError: false,
		},
		{
			name: "journal does not exist",
			setup: func(dbPath string) error {
				return nil
			},
			wantExist: false,
			wantError: false,
		},
		{
			name: "journal path is directory",
			setup: func(dbPath string) error {
				return os.Mkdir(dbPath, 0755)
			},
			wantExist: false,
			wantError: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			testDir := filepath.Join(tmpDir, tt.name)
			if err := os.Mkdir(testDir, 0755); err != nil {
				t.Fatalf("failed to create test dir: %v", err)
			}
			dbPath := filepath.Join(testDir, DefaultDBFile)

			if err := tt.setup(dbPath); err != nil {
				t.Fatalf("setup failed: %v", err)
			}

			exists, err := CheckExists(dbPath)

			if tt.wantError && err == nil {
				t.Error("expected error but got none")
			}
			if !tt.wantError && err != nil {
				t.Errorf("unexpected error: %v", err)
			}
			if exists != tt.wantExist {
				t.Errorf("got exists=%v, want %v", exists, tt.wantExist)
			}
		})
	}
}

func TestStoreStateString(t *testing.T) {
	tests := map[StoreState]string{
		StateMissing:         "missing",
		StateUninitialized:   "uninitialized",
		StateVersionMismatch: "version mismatch",
		StateReady:           "ready",
		StoreState(42):       "unknown",
	}
	for s, want := range tests {
		if got := s.String(); got != want {
			t.Errorf("got %q, want %q", got, want)
		}
	}
}
