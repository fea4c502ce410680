package security

import (
	"os"
	"path/filepath"
	"testing"
)

// exportTree builds captures/ with a symlink captures/escape -> private/.
func exportTree(t *testing.T) (root, captures, escape string) {
	t.Helper()
	root = t.TempDir()
	captures = filepath.Join(root, "captures")
	private := filepath.Join(root, "private")
	for _, d := range []string{captures, private} {
		if err := os.MkdirAll(d, 0755); err != nil {
			t.Fatalf("mkdir %s: %v", d, err)
		}
	}
	if err := os.WriteFile(filepath.Join(private, "calibration.json"), []byte("{}"), 0644); err != nil {
		t.Fatalf("write private file: %v", err)
	}
	escape = filepath.Join(captures, "escape")
	if err := os.Symlink(private, escape); err != nil {
		t.Fatalf("symlink: %v", err)
	}
	return root, captures, escape
}

func TestValidatePathWithinDirectory(t *testing.T) {
	root, captures, escape := exportTree(t)

	tests := []struct {
		name      string
		path      string
		dir       string
		wantError bool
	}{
		{"export file in dir", filepath.Join(captures, "depth_12.asc"), captures, false},
		{"not yet created subdir", filepath.Join(captures, "run1", "color_3.png"), captures, false},
		{"dot dot leaves dir", filepath.Join(captures, "..", "depth_12.asc"), captures, true},
		{"relative traversal", "../../../etc/passwd", captures, true},
		{"absolute outside", "/etc/passwd", root, true},
		{"through symlink", filepath.Join(escape, "calibration.json"), captures, true},
		{"symlink itself", escape, captures, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := ValidatePathWithinDirectory(tt.path, tt.dir)
			if (err != nil) != tt.wantError {
				t.Errorf("ValidatePathWithinDirectory(%q) error = %v, wantError %v", tt.path, err, tt.wantError)
			}
		})
	}
}

func TestValidatePathWithinAllowedDirs(t *testing.T) {
	a, b := t.TempDir(), t.TempDir()

	if err := ValidatePathWithinAllowedDirs(filepath.Join(b, "depth_1.tiff"), []string{a, b}); err != nil {
		t.Errorf("path in second dir rejected: %v", err)
	}
	if err := ValidatePathWithinAllowedDirs("/etc/passwd", []string{a, b}); err == nil {
		t.Error("expected /etc/passwd to be rejected")
	}
	if err := ValidatePathWithinAllowedDirs(filepath.Join(a, "depth_1.tiff"), nil); err == nil {
		t.Error("expected rejection with no allowed dirs")
	}
}

func TestValidateExportPath_ExtraDir(t *testing.T) {
	exportDir := t.TempDir()
	if err := ValidateExportPath(filepath.Join(exportDir, "frame.asc"), exportDir); err != nil {
		t.Errorf("path in extra dir rejected: %v", err)
	}
	if err := ValidateExportPath("/etc/passwd", exportDir); err == nil {
		t.Error("expected /etc/passwd to be rejected")
	}
}

func TestResolveExportPath(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "exports")

	tests := []struct {
		name    string
		input   string
		want    string
		wantErr bool
	}{
		{name: "plain name", input: "depth.asc", want: filepath.Join(dir, "depth.asc")},
		{name: "traversal keeps base only", input: "../../etc/depth.asc", want: filepath.Join(dir, "depth.asc")},
		{name: "absolute keeps base only", input: "/etc/passwd", want: filepath.Join(dir, "passwd")},
		{name: "empty", input: "", wantErr: true},
		{name: "dot dot", input: "..", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := ResolveExportPath(dir, tt.input)
			if (err != nil) != tt.wantErr {
				t.Fatalf("ResolveExportPath(%q) error = %v, wantErr %v", tt.input, err, tt.wantErr)
			}
			if tt.wantErr {
				return
			}
			wantAbs, _ := filepath.Abs(tt.want)
			if got != wantAbs {
				t.Errorf("ResolveExportPath(%q) = %q, want %q", tt.input, got, wantAbs)
			}
		})
	}

	if _, err := os.Stat(dir); err != nil {
		t.Errorf("export dir not created: %v", err)
	}
}

func TestSanitizeFilename(t *testing.T) {
	tests := map[string]string{
		"":                "unknown",
		"session 1/depth": "session_1_depth",
		"...":             "unknown",
		"abc-DEF_1.png":   "abc-DEF_1.png",
		"a  !!  b":        "a_b",
	}
	for in, want := range tests {
		if got := SanitizeFilename(in); got != want {
			t.Errorf("SanitizeFilename(%q) = %q, want %q", in, got, want)
		}
	}
}
