// Package hierarchy holds the read-only Subject > Chapter > Subchapter tree
// that modules hang off.
package hierarchy

import (
	"errors"
	"time"
)

var (
	ErrSubjectNotFound    = errors.New("subject not found")
	ErrChapterNotFound    = errors.New("chapter not found")
	ErrSubchapterNotFound = errors.New("subchapter not found")
)

type Subject struct {
	ID          string    `json:"id"`
	Name        string    `json:"name"`
	Description string    `json:"description,omitempty"`
	Icon        string    `json:"icon,omitempty"`
	CreatedAt   time.Time `json:"createdAt"`
	UpdatedAt   time.Time `json:"updatedAt"`
}

type Chapter struct {
	ID          string    `json:"id"`
	SubjectID   string    `json:"subjectId"`
	Name        string    `json:"name"`
	Description string    `json:"description,omitempty"`
	Order       int       `json:"order"`
	CreatedAt   time.Time `json:"createdAt"`
	UpdatedAt   time.Time `json:"updatedAt"`
}

// Subchapter is the leaf node modules belong to.
type Subchapter struct {
	ID          string    `json:"id"`
	ChapterID   string    `json:"chapterId"`
	Name        string    `json:"name"`
	Description string    `json:"description,omitempty"`
	Order       int       `json:"order"`
	CreatedAt   time.Time `json:"createdAt"`
	UpdatedAt   time.Time `json:"updatedAt"`
}
