package store

import (
	"time"

	"github.com/examsnip/examsnip/internal/questions"
)

// BlobState is the hydration status of one binary field. The explicit
// three-state marker distinguishes "no data exists" from "not yet fetched"
// so callers neither re-fetch what is known to be absent nor treat an
// unfetched image as missing.
type BlobState string

const (
	// BlobNotLoaded means a chunk was written for this field and has not
	// been fetched into memory.
	BlobNotLoaded BlobState = "notloaded"

	// BlobLoaded means Data holds the payload (in-memory only).
	BlobLoaded BlobState = "loaded"

	// BlobEmpty means no payload exists for this field.
	BlobEmpty BlobState = "empty"
)

// Blob is a lazily hydrated binary field. Data never enters the details
// record; it travels through the chunks bucket under Key.
type Blob struct {
	Key   string    `json:"key,omitempty"`
	State BlobState `json:"state"`
	Data  []byte    `json:"-"`
}

// ExamMeta is the always-small index record, fully loaded for listing.
type ExamMeta struct {
	ID        string    `json:"id"`
	Name      string    `json:"name"`
	Timestamp time.Time `json:"timestamp"`
	PageCount int       `json:"pageCount"`
}

// PageRecord is a skeleton page: full metadata, image deferred to chunks.
type PageRecord struct {
	FileName   string                `json:"fileName"`
	PageNumber int                   `json:"pageNumber"`
	Width      int                   `json:"width"`
	Height     int                   `json:"height"`
	Detections []questions.Detection `json:"detections"`
	Image      Blob                  `json:"image"`
}

// QuestionRecord is a skeleton question image.
type QuestionRecord struct {
	ID         string `json:"id"`
	FileName   string `json:"fileName"`
	PageNumber int    `json:"pageNumber"`
	Final      Blob   `json:"final"`
	Original   Blob   `json:"original"`
}

// ExamDetails is the per-exam skeleton record, loaded on demand.
type ExamDetails struct {
	ID        string           `json:"id"`
	RawPages  []PageRecord     `json:"rawPages"`
	Questions []QuestionRecord `json:"questions"`
}

// Exam joins the index and details records for one exam.
type Exam struct {
	Meta      ExamMeta
	RawPages  []PageRecord
	Questions []QuestionRecord
}
