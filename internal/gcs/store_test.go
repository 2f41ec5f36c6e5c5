package gcs

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"reflect"
	"testing"
)

func TestParseURI(t *testing.T) {
	tests := []struct {
		uri        string
		allowEmpty bool
		bucket     string
		object     string
		wantErr    bool
	}{
		{uri: "gs://bucket/path/to/file.pdf", bucket: "bucket", object: "path/to/file.pdf"},
		{uri: "gs://bucket/statements/", allowEmpty: true, bucket: "bucket", object: "statements/"},
		{uri: "gs://bucket", allowEmpty: true, bucket: "bucket"},
		{uri: "gs://bucket", wantErr: true},
		{uri: "gs:///file.pdf", wantErr: true},
		{uri: "/local/file.pdf", wantErr: true},
	}

	for _, tt := range tests {
		bucket, object, err := ParseURI(tt.uri, tt.allowEmpty)
		if tt.wantErr {
			if !errors.Is(err, ErrInvalidURI) {
				t.Errorf("ParseURI(%q) error = %v, want ErrInvalidURI", tt.uri, err)
			}
			continue
		}
		if err != nil {
			t.Errorf("ParseURI(%q) error = %v", tt.uri, err)
			continue
		}
		if bucket != tt.bucket || object != tt.object {
			t.Errorf("ParseURI(%q) = %q, %q, want %q, %q", tt.uri, bucket, object, tt.bucket, tt.object)
		}
	}
}

func TestFileName(t *testing.T) {
	tests := map[string]string{
		"gs://bucket/folder/file.pdf": "file.pdf",
		"gs://bucket/file.pdf":        "file.pdf",
		"gs://bucket":                 "bucket",
		"/spool/abc/nov.pdf":          "nov.pdf",
		"nov.pdf":                     "nov.pdf",
	}
	for in, want := range tests {
		if got := FileName(in); got != want {
			t.Errorf("FileName(%q) = %q, want %q", in, got, want)
		}
	}
}

func TestStore_LocalRoundTrip(t *testing.T) {
	ctx := context.Background()
	s := NewStore()
	defer s.Close()

	loc := filepath.Join(t.TempDir(), "nested", "master.xlsx")
	if err := s.Put(ctx, loc, []byte("v1"), ""); err != nil {
		t.Fatalf("Put() error = %v", err)
	}
	if err := s.Put(ctx, loc, []byte("v2"), ""); err != nil {
		t.Fatalf("Put() overwrite error = %v", err)
	}

	got, err := s.Fetch(ctx, loc)
	if err != nil {
		t.Fatalf("Fetch() error = %v", err)
	}
	if string(got) != "v2" {
		t.Errorf("Fetch() = %q, want v2", got)
	}

	entries, _ := os.ReadDir(filepath.Dir(loc))
	if len(entries) != 1 {
		t.Errorf("directory has %d entries, want only the target file", len(entries))
	}
}

func TestStore_FetchMissing(t *testing.T) {
	_, err := NewStore().Fetch(context.Background(), filepath.Join(t.TempDir(), "missing.xlsx"))
	if !errors.Is(err, ErrNotFound) {
		t.Errorf("Fetch() error = %v, want ErrNotFound", err)
	}
}

func TestStore_FetchInvalidURI(t *testing.T) {
	_, err := NewStore().Fetch(context.Background(), "gs://bucket-only")
	if !errors.Is(err, ErrInvalidURI) {
		t.Errorf("Fetch() error = %v, want ErrInvalidURI", err)
	}
}

func TestStore_ListLocal(t *testing.T) {
	dir := t.TempDir()
	for _, name := range []string{"b.pdf", "a.pdf"} {
		if err := os.WriteFile(filepath.Join(dir, name), []byte("x"), 0o600); err != nil {
			t.Fatal(err)
		}
	}
	if err := os.Mkdir(filepath.Join(dir, "sub"), 0o755); err != nil {
		t.Fatal(err)
	}

	got, err := NewStore().List(context.Background(), dir)
	if err != nil {
		t.Fatalf("List() error = %v", err)
	}
	want := []string{filepath.Join(dir, "a.pdf"), filepath.Join(dir, "b.pdf")}
	if !reflect.DeepEqual(got, want) {
		t.Errorf("List() = %v, want %v", got, want)
	}

	if _, err := NewStore().List(context.Background(), filepath.Join(dir, "nope")); !errors.Is(err, ErrNotFound) {
		t.Errorf("List(missing) error = %v, want ErrNotFound", err)
	}
}

func TestJoin(t *testing.T) {
	tests := []struct {
		base string
		elem []string
		want string
	}{
		{"gs://bucket/uploads/", []string{"s1", "nov.pdf"}, "gs://bucket/uploads/s1/nov.pdf"},
		{"gs://bucket", []string{"s1", "nov.pdf"}, "gs://bucket/s1/nov.pdf"},
		{"data/uploads", []string{"s1", "nov.pdf"}, filepath.Join("data", "uploads", "s1", "nov.pdf")},
	}
	for _, tt := range tests {
		if got := Join(tt.base, tt.elem...); got != tt.want {
			t.Errorf("Join(%q, %v) = %q, want %q", tt.base, tt.elem, got, tt.want)
		}
	}
}
