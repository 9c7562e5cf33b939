// Package store persists exams as small structured records plus
// content-addressed binary chunks, so listing and skeleton loads never pull
// image payloads into memory.
//
// Three buckets back the store: index (one small record per exam), details
// (skeleton pages and questions per exam) and chunks (key -> binary image).
// Every save and delete touches all three inside a single bolt transaction,
// so a skeleton never references a chunk that was not also written.
package store

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"time"

	"github.com/google/uuid"
	bolt "go.etcd.io/bbolt"

	"github.com/examsnip/examsnip/internal/questions"
)

var (
	bucketIndex   = []byte("index")
	bucketDetails = []byte("details")
	bucketChunks  = []byte("chunks")
)

// ErrNotFound is returned by Load when no index entry exists for the exam.
var ErrNotFound = errors.New("exam not found")

// Store is the durable chunked exam store.
type Store struct {
	db     *bolt.DB
	logger *slog.Logger
}

// Open opens (creating if needed) the store database at path.
func Open(path string, logger *slog.Logger) (*Store, error) {
	if logger == nil {
		logger = slog.Default()
	}

	db, err := bolt.Open(path, 0o600, &bolt.Options{Timeout: 5 * time.Second})
	if err != nil {
		return nil, fmt.Errorf("failed to open store at %s: %w", path, err)
	}

	err = db.Update(func(tx *bolt.Tx) error {
		for _, name := range [][]byte{bucketIndex, bucketDetails, bucketChunks} {
			if _, err := tx.CreateBucketIfNotExists(name); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to create buckets: %w", err)
	}

	return &Store{db: db, logger: logger.With("component", "store")}, nil
}

// Close closes the underlying database.
func (s *Store) Close() error {
	return s.db.Close()
}

// Save persists pages and questions for an exam in one transaction. Pages
// are deduped by page number (last write wins) and sorted ascending. Binary
// payloads are stripped into the chunks bucket under their deterministic
// keys; the skeleton details record and the updated index record commit
// atomically with them. An empty examID generates a new one; the (possibly
// new) exam id is returned.
func (s *Store) Save(examID, name string, pages []questions.Page, qs []questions.QuestionImage) (string, error) {
	if examID == "" {
		examID = uuid.New().String()
	}

	// Dedupe by page identity (file, number), last write wins, then sort.
	type pageID struct {
		file string
		num  int
	}
	byID := make(map[pageID]questions.Page)
	for _, p := range pages {
		byID[pageID{p.FileName, p.PageNumber}] = p
	}
	deduped := make([]questions.Page, 0, len(byID))
	for _, p := range byID {
		deduped = append(deduped, p)
	}
	sort.Slice(deduped, func(i, j int) bool {
		if deduped[i].FileName != deduped[j].FileName {
			return deduped[i].FileName < deduped[j].FileName
		}
		return deduped[i].PageNumber < deduped[j].PageNumber
	})

	err := s.db.Update(func(tx *bolt.Tx) error {
		chunks := tx.Bucket(bucketChunks)

		// Drop any chunks from an earlier save of this exam so removed
		// pages or questions leave nothing orphaned behind.
		if err := deleteRange(chunks, examPrefix(examID)); err != nil {
			return err
		}

		details := ExamDetails{ID: examID}
		for _, p := range deduped {
			rec := PageRecord{
				FileName:   p.FileName,
				PageNumber: p.PageNumber,
				Width:      p.Width,
				Height:     p.Height,
				Detections: p.Detections,
				Image:      Blob{State: BlobEmpty},
			}
			if len(p.Image) > 0 {
				key := PageChunkKey(examID, p.FileName, p.PageNumber)
				if err := chunks.Put([]byte(key), p.Image); err != nil {
					return err
				}
				rec.Image = Blob{Key: key, State: BlobNotLoaded}
			}
			details.RawPages = append(details.RawPages, rec)
		}

		for _, q := range qs {
			rec := QuestionRecord{
				ID:         q.ID,
				FileName:   q.FileName,
				PageNumber: q.PageNumber,
				Final:      Blob{State: BlobEmpty},
				Original:   Blob{State: BlobEmpty},
			}
			if len(q.Final) > 0 {
				key := QuestionChunkKey(examID, q.FileName, q.ID)
				if err := chunks.Put([]byte(key), q.Final); err != nil {
					return err
				}
				rec.Final = Blob{Key: key, State: BlobNotLoaded}
			}
			if len(q.Original) > 0 {
				key := QuestionOriginalChunkKey(examID, q.FileName, q.ID)
				if err := chunks.Put([]byte(key), q.Original); err != nil {
					return err
				}
				rec.Original = Blob{Key: key, State: BlobNotLoaded}
			}
			details.Questions = append(details.Questions, rec)
		}

		detailsJSON, err := json.Marshal(details)
		if err != nil {
			return err
		}
		if err := tx.Bucket(bucketDetails).Put([]byte(examID), detailsJSON); err != nil {
			return err
		}

		// Keep an existing name when the caller did not provide one.
		if name == "" {
			if prev := tx.Bucket(bucketIndex).Get([]byte(examID)); prev != nil {
				var old ExamMeta
				if err := json.Unmarshal(prev, &old); err == nil {
					name = old.Name
				}
			}
		}

		meta := ExamMeta{
			ID:        examID,
			Name:      name,
			Timestamp: time.Now().UTC(),
			PageCount: len(deduped),
		}
		metaJSON, err := json.Marshal(meta)
		if err != nil {
			return err
		}
		return tx.Bucket(bucketIndex).Put([]byte(examID), metaJSON)
	})
	if err != nil {
		return "", fmt.Errorf("save transaction failed: %w", err)
	}

	s.logger.Debug("exam saved", "exam_id", examID, "pages", len(deduped), "questions", len(qs))
	return examID, nil
}

// Load joins the index and details records for one exam. A missing index
// entry is ErrNotFound; a missing details record with a live index entry
// (partial migration, corruption) degrades to empty collections rather
// than failing.
func (s *Store) Load(examID string) (*Exam, error) {
	var exam Exam
	err := s.db.View(func(tx *bolt.Tx) error {
		metaJSON := tx.Bucket(bucketIndex).Get([]byte(examID))
		if metaJSON == nil {
			return ErrNotFound
		}
		if err := json.Unmarshal(metaJSON, &exam.Meta); err != nil {
			return fmt.Errorf("corrupt index record for %s: %w", examID, err)
		}

		detailsJSON := tx.Bucket(bucketDetails).Get([]byte(examID))
		if detailsJSON == nil {
			s.logger.Warn("index entry without details, returning empty collections", "exam_id", examID)
			return nil
		}
		var details ExamDetails
		if err := json.Unmarshal(detailsJSON, &details); err != nil {
			return fmt.Errorf("corrupt details record for %s: %w", examID, err)
		}
		exam.RawPages = details.RawPages
		exam.Questions = details.Questions
		return nil
	})
	if err != nil {
		return nil, err
	}
	return &exam, nil
}

// List returns all index records, newest first.
func (s *Store) List() ([]ExamMeta, error) {
	var metas []ExamMeta
	err := s.db.View(func(tx *bolt.Tx) error {
		return tx.Bucket(bucketIndex).ForEach(func(_, v []byte) error {
			var meta ExamMeta
			if err := json.Unmarshal(v, &meta); err != nil {
				return err
			}
			metas = append(metas, meta)
			return nil
		})
	})
	if err != nil {
		return nil, fmt.Errorf("list failed: %w", err)
	}
	sort.Slice(metas, func(i, j int) bool {
		return metas[i].Timestamp.After(metas[j].Timestamp)
	})
	return metas, nil
}

// GetChunk looks up one binary payload. A missing key is reported via the
// boolean, not an error, so callers can tell "not yet generated" apart
// from a read failure.
func (s *Store) GetChunk(key string) ([]byte, bool, error) {
	var data []byte
	var found bool
	err := s.db.View(func(tx *bolt.Tx) error {
		v := tx.Bucket(bucketChunks).Get([]byte(key))
		if v == nil {
			return nil
		}
		found = true
		data = make([]byte, len(v))
		copy(data, v)
		return nil
	})
	if err != nil {
		return nil, false, fmt.Errorf("get chunk %s: %w", key, err)
	}
	return data, found, nil
}

// Hydrate fetches a blob's payload into memory. Loaded and Empty blobs are
// returned as-is; hydration never rewrites the stored skeleton, so calling
// it repeatedly is idempotent and side-effect-free. The boolean reports
// whether a payload was (or already is) present.
func (s *Store) Hydrate(b *Blob) (bool, error) {
	switch b.State {
	case BlobLoaded:
		return true, nil
	case BlobEmpty:
		return false, nil
	}

	data, found, err := s.GetChunk(b.Key)
	if err != nil {
		return false, err
	}
	if !found {
		// Chunk gone while the skeleton still references it; leave the
		// state alone so the caller can flag it.
		return false, nil
	}
	b.Data = data
	b.State = BlobLoaded
	return true, nil
}

// Delete removes an exam's index and details records and every chunk in
// its key range, in one transaction.
func (s *Store) Delete(examID string) error {
	return s.DeleteMany([]string{examID})
}

// DeleteMany removes several exams in a single transaction.
func (s *Store) DeleteMany(examIDs []string) error {
	err := s.db.Update(func(tx *bolt.Tx) error {
		for _, id := range examIDs {
			if err := tx.Bucket(bucketIndex).Delete([]byte(id)); err != nil {
				return err
			}
			if err := tx.Bucket(bucketDetails).Delete([]byte(id)); err != nil {
				return err
			}
			if err := deleteRange(tx.Bucket(bucketChunks), examPrefix(id)); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("delete transaction failed: %w", err)
	}
	s.logger.Debug("exams deleted", "count", len(examIDs))
	return nil
}

// deleteRange removes every key with the given prefix using an ordered
// cursor scan. This is the reason the key format puts the exam id first.
func deleteRange(b *bolt.Bucket, prefix []byte) error {
	c := b.Cursor()
	for k, _ := c.Seek(prefix); k != nil && hasPrefix(k, prefix); k, _ = c.Seek(prefix) {
		if err := b.Delete(k); err != nil {
			return err
		}
	}
	return nil
}

func hasPrefix(k, prefix []byte) bool {
	if len(k) < len(prefix) {
		return false
	}
	for i := range prefix {
		if k[i] != prefix[i] {
			return false
		}
	}
	return true
}

// Cleanup deduplicates an exam's raw pages by page number, preferring the
// variant with more detections when duplicates disagree. If anything was
// removed the details record is rewritten and the index page count and
// timestamp refreshed. Returns the number of removed pages.
func (s *Store) Cleanup(examID string) (int, error) {
	removed := 0
	err := s.db.Update(func(tx *bolt.Tx) error {
		detailsJSON := tx.Bucket(bucketDetails).Get([]byte(examID))
		if detailsJSON == nil {
			return ErrNotFound
		}
		var details ExamDetails
		if err := json.Unmarshal(detailsJSON, &details); err != nil {
			return fmt.Errorf("corrupt details record for %s: %w", examID, err)
		}

		type pageID struct {
			file string
			num  int
		}
		best := make(map[pageID]PageRecord)
		var order []pageID
		for _, p := range details.RawPages {
			id := pageID{p.FileName, p.PageNumber}
			prev, seen := best[id]
			if !seen {
				best[id] = p
				order = append(order, id)
				continue
			}
			removed++
			// Richer detection data wins.
			if len(p.Detections) > len(prev.Detections) {
				best[id] = p
			}
		}
		if removed == 0 {
			return nil
		}

		sort.Slice(order, func(i, j int) bool {
			if order[i].file != order[j].file {
				return order[i].file < order[j].file
			}
			return order[i].num < order[j].num
		})
		details.RawPages = details.RawPages[:0]
		for _, id := range order {
			details.RawPages = append(details.RawPages, best[id])
		}

		updated, err := json.Marshal(details)
		if err != nil {
			return err
		}
		if err := tx.Bucket(bucketDetails).Put([]byte(examID), updated); err != nil {
			return err
		}

		metaJSON := tx.Bucket(bucketIndex).Get([]byte(examID))
		if metaJSON == nil {
			return nil
		}
		var meta ExamMeta
		if err := json.Unmarshal(metaJSON, &meta); err != nil {
			return err
		}
		meta.PageCount = len(details.RawPages)
		meta.Timestamp = time.Now().UTC()
		updatedMeta, err := json.Marshal(meta)
		if err != nil {
			return err
		}
		return tx.Bucket(bucketIndex).Put([]byte(examID), updatedMeta)
	})
	if err != nil {
		return 0, fmt.Errorf("cleanup transaction failed: %w", err)
	}

	if removed > 0 {
		s.logger.Info("cleanup removed duplicate pages", "exam_id", examID, "removed", removed)
	}
	return removed, nil
}
