package paths

import (
	"testing"
)

func TestResolveCollisions_NoCollisions(t *testing.T) {
	files := []FileForDownload{
		{ObjectKey: "users/u1/1-a/file1.zip", Name: "file1.zip", LocalPath: "/dest/file1.zip", Size: 100},
		{ObjectKey: "users/u1/2-b/file2.zip", Name: "file2.zip", LocalPath: "/dest/file2.zip", Size: 200},
	}

	result, count := ResolveCollisions(files)

	if count != 0 {
		t.Errorf("expected 0 collisions, got %d", count)
	}
	if result[0].LocalPath != "/dest/file1.zip" || result[1].LocalPath != "/dest/file2.zip" {
		t.Errorf("paths changed: %+v", result)
	}
}

func TestResolveCollisions_TwoDuplicates(t *testing.T) {
	files := []FileForDownload{
		{ObjectKey: "users/u1/1700-abc/output.zip", Name: "output.zip", LocalPath: "/dest/output.zip"},
		{ObjectKey: "users/u1/1800-def/output.zip", Name: "output.zip", LocalPath: "/dest/output.zip"},
	}

	result, count := ResolveCollisions(files)

	if count != 2 {
		t.Errorf("expected 2 collisions, got %d", count)
	}
	if result[0].LocalPath != "/dest/output_1700-abc.zip" {
		t.Errorf("expected /dest/output_1700-abc.zip, got %s", result[0].LocalPath)
	}
	if result[1].LocalPath != "/dest/output_1800-def.zip" {
		t.Errorf("expected /dest/output_1800-def.zip, got %s", result[1].LocalPath)
	}
}

func TestResolveCollisions_FlatKeys(t *testing.T) {
	files := []FileForDownload{
		{ObjectKey: "model.sim", LocalPath: "/out/model.sim"},
		{ObjectKey: "model.sim", LocalPath: "/out/model.sim"},
	}

	result, count := ResolveCollisions(files)

	if count != 2 {
		t.Errorf("expected 2 collisions, got %d", count)
	}
	if result[0].LocalPath != "/out/model_1.sim" || result[1].LocalPath != "/out/model_2.sim" {
		t.Errorf("unexpected paths: %s, %s", result[0].LocalPath, result[1].LocalPath)
	}
}

func TestResolveCollisions_Empty(t *testing.T) {
	result, count := ResolveCollisions(nil)
	if count != 0 || len(result) != 0 {
		t.Errorf("expected empty result, got %v, %d", result, count)
	}
}

func TestKeyHelpers(t *testing.T) {
	tests := []struct {
		key           string
		name          string
		discriminator string
	}{
		{"users/u1/1700-abc/report.pdf", "report.pdf", "1700-abc"},
		{"report.pdf", "report.pdf", ""},
		{"/a/b.txt", "b.txt", "a"},
		{"", "", ""},
	}
	for _, tt := range tests {
		if got := NameFromKey(tt.key); got != tt.name {
			t.Errorf("NameFromKey(%q) = %q, want %q", tt.key, got, tt.name)
		}
		if got := KeyDiscriminator(tt.key); got != tt.discriminator {
			t.Errorf("KeyDiscriminator(%q) = %q, want %q", tt.key, got, tt.discriminator)
		}
	}
}
