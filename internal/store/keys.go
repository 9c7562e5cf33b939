package store

import (
	"fmt"
	"strings"
)

// Chunk kinds. A question's original (untrimmed) variant shares the
// question kind and carries an "_orig" suffix on its local id.
const (
	KindPage     = "p"
	KindQuestion = "q"
)

// keySep separates chunk key segments. The exam id is always the first
// segment so every chunk of an exam falls in one lexicographic key range.
const keySep = "#"

// sanitizeSegment keeps file names from breaking the key format.
func sanitizeSegment(s string) string {
	return strings.ReplaceAll(s, keySep, "_")
}

// ChunkKey builds the deterministic composite key for one binary payload:
// "{examID}#{kind}#{fileName}#{localID}". Keys are stable across save/load
// cycles so repeated saves overwrite rather than duplicate.
func ChunkKey(examID, kind, fileName, localID string) string {
	return strings.Join([]string{
		sanitizeSegment(examID),
		kind,
		sanitizeSegment(fileName),
		sanitizeSegment(localID),
	}, keySep)
}

// PageChunkKey returns the chunk key for a page image.
func PageChunkKey(examID, fileName string, pageNumber int) string {
	return ChunkKey(examID, KindPage, fileName, fmt.Sprintf("%04d", pageNumber))
}

// QuestionChunkKey returns the chunk key for a question's final image.
func QuestionChunkKey(examID, fileName, questionID string) string {
	return ChunkKey(examID, KindQuestion, fileName, questionID)
}

// QuestionOriginalChunkKey returns the chunk key for a question's
// untrimmed original image.
func QuestionOriginalChunkKey(examID, fileName, questionID string) string {
	return ChunkKey(examID, KindQuestion, fileName, questionID+"_orig")
}

// examPrefix is the range-delete prefix covering every chunk of an exam.
func examPrefix(examID string) []byte {
	return []byte(sanitizeSegment(examID) + keySep)
}
