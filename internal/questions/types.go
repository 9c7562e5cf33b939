// Package questions defines the exam domain types and the grouping pass
// that folds raw per-page detections into logical questions.
package questions

import (
	"github.com/examsnip/examsnip/internal/geom"
)

// ContinuationID is the sentinel detection id marking a fragment that
// belongs to the immediately preceding question, regardless of page.
const ContinuationID = "continuation"

// Detection is one candidate question region on a page, as produced by the
// vision model. Boxes accepts both the flat and nested wire shapes.
type Detection struct {
	ID    string     `json:"id"`
	Boxes geom.Boxes `json:"boxes"`
}

// IsContinuation reports whether this detection continues the previous
// question.
func (d Detection) IsContinuation() bool {
	return d.ID == ContinuationID
}

// Page is one scanned exam page. Identity is (FileName, PageNumber).
// Image holds the encoded page pixels (PNG) and may be nil on a skeleton
// loaded from the store until hydrated.
type Page struct {
	FileName   string      `json:"fileName"`
	PageNumber int         `json:"pageNumber"` // 1-based
	Width      int         `json:"width"`
	Height     int         `json:"height"`
	Image      []byte      `json:"-"`
	Detections []Detection `json:"detections"`
}

// Part ties one detection to the page it was found on and its position in
// that page's detection list.
type Part struct {
	Page        *Page
	Detection   Detection
	IndexInPage int
}

// LogicalQuestion is the assembled unit of one or more detection parts
// representing a single exam question. It is an ephemeral grouping
// artifact, consumed immediately by assembly and never persisted.
type LogicalQuestion struct {
	ID       string
	FileName string
	Parts    []Part
}

// QuestionImage is the finished product for one logical question. Final is
// the trimmed, width-aligned crop; Original is the untrimmed composite kept
// for audit. Both are PNG-encoded.
type QuestionImage struct {
	ID         string `json:"id"`
	FileName   string `json:"fileName"`
	PageNumber int    `json:"pageNumber"` // page of the first part
	Final      []byte `json:"-"`
	Original   []byte `json:"-"`
}
