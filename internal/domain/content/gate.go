// Package content is the pass/fail gate every uploaded module file goes
// through before anything is written to the blob store or the database.
package content

import (
	"bytes"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"path"
	"strings"
	"time"

	"github.com/gabriel-vasile/mimetype"
)

type Reason string

const (
	WrongType        Reason = "wrong_type"
	TooLarge         Reason = "too_large"
	MalformedContent Reason = "malformed_content"
)

type ValidationError struct {
	Reason  Reason
	Message string
}

func (e *ValidationError) Error() string {
	return e.Message
}

// File is an upload as received from the client.
type File struct {
	Name         string
	DeclaredType string
	Data         []byte
}

// Checked is a file that passed the gate, with its integrity hash and the
// key it will be stored under.
type Checked struct {
	Name        string
	ContentType string
	Size        int64
	Hash        string
	Key         string
	Data        []byte
}

type Gate struct {
	allowed []string
	maxSize int64
	prefix  string
	now     func() time.Time
}

func NewGate(allowed []string, maxSize int64) *Gate {
	return &Gate{
		allowed: allowed,
		maxSize: maxSize,
		prefix:  "modules",
		now:     time.Now,
	}
}

func (g *Gate) MaxSize() int64 {
	return g.maxSize
}

// Check validates declared type, size and content in that order.
func (g *Gate) Check(f File) (*Checked, error) {
	declared := baseType(f.DeclaredType)
	if !g.isAllowed(declared) {
		return nil, &ValidationError{
			Reason:  WrongType,
			Message: "Only " + strings.Join(g.allowed, ", ") + " files are allowed",
		}
	}

	size := int64(len(f.Data))
	if size > g.maxSize {
		return nil, &ValidationError{
			Reason:  TooLarge,
			Message: "File size exceeds maximum allowed size of " + formatSize(g.maxSize),
		}
	}
	if size == 0 {
		return nil, &ValidationError{Reason: MalformedContent, Message: "File is empty"}
	}

	if !matchesContent(declared, f.Data) {
		return nil, &ValidationError{
			Reason:  MalformedContent,
			Message: "File content does not match " + declared,
		}
	}

	sum := sha256.Sum256(f.Data)
	hash := hex.EncodeToString(sum[:])

	return &Checked{
		Name:        f.Name,
		ContentType: declared,
		Size:        size,
		Hash:        hash,
		Key:         fmt.Sprintf("%s/%d-%s-%s", g.prefix, g.now().UnixMilli(), hash[:16], sanitizeName(f.Name)),
		Data:        f.Data,
	}, nil
}

func (g *Gate) isAllowed(ct string) bool {
	for _, a := range g.allowed {
		if strings.EqualFold(a, ct) {
			return true
		}
	}
	return false
}

func matchesContent(declared string, data []byte) bool {
	detected := mimetype.Detect(data)
	ok := false
	for m := detected; m != nil; m = m.Parent() {
		if m.Is(declared) {
			ok = true
			break
		}
	}
	if !ok {
		return false
	}

	if declared == "text/html" {
		return bytes.Contains(bytes.ToLower(data), []byte("<html"))
	}
	return true
}

func baseType(ct string) string {
	base, _, _ := strings.Cut(ct, ";")
	return strings.ToLower(strings.TrimSpace(base))
}

func sanitizeName(name string) string {
	name = path.Base(strings.ReplaceAll(name, "\\", "/"))
	var b strings.Builder
	for _, r := range name {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '.', r == '-', r == '_':
			b.WriteRune(r)
		default:
			b.WriteRune('_')
		}
	}
	if b.Len() == 0 || name == "." || name == "/" {
		return "file"
	}
	return b.String()
}

// formatSize renders n in the largest unit it reaches.
func formatSize(n int64) string {
	const kib, mib = 1 << 10, 1 << 20
	switch {
	case n >= mib && n%mib == 0:
		return fmt.Sprintf("%dMB", n/mib)
	case n >= mib:
		return fmt.Sprintf("%.1fMB", float64(n)/mib)
	case n >= kib && n%kib == 0:
		return fmt.Sprintf("%dKB", n/kib)
	case n >= kib:
		return fmt.Sprintf("%.1fKB", float64(n)/kib)
	}
	return fmt.Sprintf("%d bytes", n)
}
