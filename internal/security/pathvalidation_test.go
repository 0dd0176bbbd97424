package security

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestValidatePathWithinDirectory(t *testing.T) {
	safe := t.TempDir()

	tests := []struct {
		name    string
		path    string
		wantErr bool
	}{
		{"direct child", filepath.Join(safe, "track.png"), false},
		{"nested child", filepath.Join(safe, "a", "b", "track.png"), false},
		{"dotdot escape", filepath.Join(safe, "..", "escape.png"), true},
		{"unrelated absolute", "/etc/passwd", true},
		{"sneaky traversal", filepath.Join(safe, "a", "..", "..", "x"), true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := ValidatePathWithinDirectory(tt.path, safe)
			if (err != nil) != tt.wantErr {
				t.Errorf("ValidatePathWithinDirectory(%q) error = %v, wantErr %v", tt.path, err, tt.wantErr)
			}
		})
	}
}

func TestValidatePathNonexistentTargetAllowed(t *testing.T) {
	safe := t.TempDir()

	// Saving a new file under an existing safe dir must pass even though the
	// file itself does not exist yet.
	path := filepath.Join(safe, "plots", "not-yet-created.png")
	if err := ValidatePathWithinDirectory(path, safe); err != nil {
		t.Errorf("unexpected error for nonexistent target: %v", err)
	}
}

func TestValidatePathSymlinkEscape(t *testing.T) {
	safe := t.TempDir()
	outside := t.TempDir()

	link := filepath.Join(safe, "link")
	if err := os.Symlink(outside, link); err != nil {
		t.Skipf("cannot create symlink: %v", err)
	}

	// A path through the symlink resolves outside the safe dir.
	if err := ValidatePathWithinDirectory(filepath.Join(link, "f.png"), safe); err == nil {
		t.Error("expected symlink escape to be rejected")
	}
}

func TestSanitizeFilename(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{"veh-42", "veh-42"},
		{"a7c0c6f2-0f3e-4f6a-9df0-0f6a3a1b9f21", "a7c0c6f2-0f3e-4f6a-9df0-0f6a3a1b9f21"},
		{"../../etc/passwd", "etc_passwd"},
		{"obj id / 7", "obj_id_7"},
		{"___", "unknown"},
		{"", "unknown"},
		{"weird\x00bytes\nhere", "weird_bytes_here"},
	}

	for _, tt := range tests {
		if got := SanitizeFilename(tt.in); got != tt.want {
			t.Errorf("SanitizeFilename(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}

func TestSanitizeFilenameCapsLength(t *testing.T) {
	long := strings.Repeat("a", 500)
	if got := SanitizeFilename(long); len(got) > 128 {
		t.Errorf("sanitized length %d exceeds cap", len(got))
	}
}
