package content

import (
	"bytes"
	"errors"
	"strings"
	"testing"
	"time"
)

const page = "<!DOCTYPE html>\n<html><head><title>t</title></head><body><p>hi</p></body></html>"

func newTestGate() *Gate {
	g := NewGate([]string{"text/html"}, 1024)
	g.now = func() time.Time { return time.UnixMilli(1700000000000) }
	return g
}

func TestCheck_Rejections(t *testing.T) {
	tests := []struct {
		name string
		file File
		want Reason
	}{
		{"wrong declared type", File{Name: "a.pdf", DeclaredType: "application/pdf", Data: []byte(page)}, WrongType},
		{"too large", File{Name: "a.html", DeclaredType: "text/html", Data: bytes.Repeat([]byte("a"), 2048)}, TooLarge},
		{"empty", File{Name: "a.html", DeclaredType: "text/html", Data: nil}, MalformedContent},
		{"binary body", File{Name: "a.html", DeclaredType: "text/html", Data: []byte("%PDF-1.4 binary")}, MalformedContent},
		{"html fragment without root", File{Name: "a.html", DeclaredType: "text/html", Data: []byte("<p>no root element</p>")}, MalformedContent},
	}

	g := newTestGate()
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			out, err := g.Check(tt.file)
			if out != nil {
				t.Fatalf("expected no result on rejection")
			}
			var ve *ValidationError
			if !errors.As(err, &ve) {
				t.Fatalf("expected ValidationError, got %v", err)
			}
			if ve.Reason != tt.want {
				t.Fatalf("reason = %s, want %s", ve.Reason, tt.want)
			}
		})
	}
}

func TestCheck_Accepts(t *testing.T) {
	g := newTestGate()

	out, err := g.Check(File{Name: "../My Lesson.html", DeclaredType: "text/html; charset=utf-8", Data: []byte(page)})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if out.ContentType != "text/html" {
		t.Fatalf("content type = %q", out.ContentType)
	}
	if len(out.Hash) != 64 {
		t.Fatalf("expected sha256 hex, got %q", out.Hash)
	}
	wantPrefix := "modules/1700000000000-" + out.Hash[:16] + "-"
	if !strings.HasPrefix(out.Key, wantPrefix) {
		t.Fatalf("key = %q, want prefix %q", out.Key, wantPrefix)
	}
	if !strings.HasSuffix(out.Key, "My_Lesson.html") {
		t.Fatalf("name not sanitized: %q", out.Key)
	}
	if out.Size != int64(len(page)) {
		t.Fatalf("size = %d", out.Size)
	}
}

func TestCheck_HashIsStable(t *testing.T) {
	g := newTestGate()
	a, _ := g.Check(File{Name: "a.html", DeclaredType: "text/html", Data: []byte(page)})
	b, _ := g.Check(File{Name: "b.html", DeclaredType: "text/html", Data: []byte(page)})
	if a.Hash != b.Hash {
		t.Fatalf("same content must hash the same")
	}
}

func TestCheck_TooLargeMessageNamesLimit(t *testing.T) {
	_, err := newTestGate().Check(File{Name: "a.html", DeclaredType: "text/html", Data: bytes.Repeat([]byte("a"), 2048)})

	var ve *ValidationError
	if !errors.As(err, &ve) || !strings.HasSuffix(ve.Message, "of 1KB") {
		t.Fatalf("got %v", err)
	}
}

func TestFormatSize(t *testing.T) {
	tests := []struct {
		in   int64
		want string
	}{
		{512, "512 bytes"},
		{1024, "1KB"},
		{1536, "1.5KB"},
		{512 << 10, "512KB"},
		{10 << 20, "10MB"},
		{(5 << 20) + (512 << 10), "5.5MB"},
	}
	for _, tt := range tests {
		if got := formatSize(tt.in); got != tt.want {
			t.Errorf("formatSize(%d) = %q, want %q", tt.in, got, tt.want)
		}
	}
}
