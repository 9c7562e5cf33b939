package questions

import (
	"fmt"
	"log/slog"
	"sort"
)

// GroupResult is the output of one grouping pass.
type GroupResult struct {
	Questions []LogicalQuestion

	// Orphans counts continuation fragments that appeared before any real
	// question in their file. Each was kept as a synthetic standalone
	// question rather than dropped; a non-zero count usually points at an
	// upstream detection problem.
	Orphans int
}

// Group walks ordered per-page detections and merges continuation fragments
// into the preceding question. Pages are partitioned by file and sorted by
// page number within each file; within a page, detections keep their
// model-assigned order. The continuation pointer resets at file boundaries.
//
// Group is pure and deterministic for a given input. Pathological ids are
// treated permissively: anything that is not the continuation sentinel
// starts a new question.
func Group(pages []*Page, logger *slog.Logger) GroupResult {
	if logger == nil {
		logger = slog.Default()
	}

	// Partition by file, preserving first-encounter order of files so the
	// output order is stable across runs.
	var fileOrder []string
	byFile := make(map[string][]*Page)
	for _, p := range pages {
		if _, ok := byFile[p.FileName]; !ok {
			fileOrder = append(fileOrder, p.FileName)
		}
		byFile[p.FileName] = append(byFile[p.FileName], p)
	}

	var res GroupResult
	for _, file := range fileOrder {
		filePages := byFile[file]
		sort.SliceStable(filePages, func(i, j int) bool {
			return filePages[i].PageNumber < filePages[j].PageNumber
		})

		// Index of the current question in res.Questions, -1 when no
		// question has started yet in this file.
		current := -1
		for _, page := range filePages {
			for idx, det := range page.Detections {
				part := Part{Page: page, Detection: det, IndexInPage: idx}

				if !det.IsContinuation() {
					res.Questions = append(res.Questions, LogicalQuestion{
						ID:       det.ID,
						FileName: file,
						Parts:    []Part{part},
					})
					current = len(res.Questions) - 1
					continue
				}

				if current >= 0 {
					res.Questions[current].Parts = append(res.Questions[current].Parts, part)
					continue
				}

				// Continuation with nothing to continue. Keep it as a
				// standalone question so the fragment is never silently
				// dropped.
				res.Orphans++
				logger.Warn("orphan continuation detection",
					"file", file,
					"page", page.PageNumber,
					"index", idx,
				)
				res.Questions = append(res.Questions, LogicalQuestion{
					ID:       fmt.Sprintf("cont_%d_%d", page.PageNumber, idx),
					FileName: file,
					Parts:    []Part{part},
				})
				// An orphan does not become the continuation target; the
				// next continuation in the same state is its own orphan.
			}
		}
	}

	return res
}
