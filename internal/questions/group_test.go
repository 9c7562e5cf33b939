package questions

import (
	"reflect"
	"testing"

	"github.com/examsnip/examsnip/internal/geom"
)

func det(id string, rects ...geom.Rect) Detection {
	return Detection{ID: id, Boxes: rects}
}

func page(file string, num int, dets ...Detection) *Page {
	return &Page{
		FileName:   file,
		PageNumber: num,
		Width:      1000,
		Height:     1000,
		Detections: dets,
	}
}

func questionIDs(qs []LogicalQuestion) []string {
	ids := make([]string, len(qs))
	for i, q := range qs {
		ids[i] = q.ID
	}
	return ids
}

func TestGroup_ContinuationAbsorption(t *testing.T) {
	pages := []*Page{
		page("exam.pdf", 1, det("5", geom.Rect{YMin: 0, XMin: 0, YMax: 500, XMax: 500})),
		page("exam.pdf", 2, det(ContinuationID, geom.Rect{YMin: 0, XMin: 0, YMax: 100, XMax: 500})),
	}

	res := Group(pages, nil)
	if len(res.Questions) != 1 {
		t.Fatalf("expected 1 question, got %d", len(res.Questions))
	}
	q := res.Questions[0]
	if q.ID != "5" {
		t.Errorf("expected id 5, got %s", q.ID)
	}
	if len(q.Parts) != 2 {
		t.Fatalf("expected 2 parts, got %d", len(q.Parts))
	}
	if q.Parts[0].Page.PageNumber != 1 || q.Parts[1].Page.PageNumber != 2 {
		t.Errorf("parts out of page order: %d, %d",
			q.Parts[0].Page.PageNumber, q.Parts[1].Page.PageNumber)
	}
}

func TestGroup_OrphanContinuation(t *testing.T) {
	pages := []*Page{
		page("exam.pdf", 3, det(ContinuationID, geom.Rect{YMin: 0, XMin: 0, YMax: 100, XMax: 500})),
	}

	res := Group(pages, nil)
	if len(res.Questions) != 1 {
		t.Fatalf("orphan must not be dropped, got %d questions", len(res.Questions))
	}
	if res.Orphans != 1 {
		t.Errorf("expected 1 orphan flagged, got %d", res.Orphans)
	}
	if res.Questions[0].ID != "cont_3_0" {
		t.Errorf("expected synthetic id cont_3_0, got %s", res.Questions[0].ID)
	}
}

func TestGroup_ResetsAtFileBoundary(t *testing.T) {
	pages := []*Page{
		page("a.pdf", 1, det("1", geom.Rect{YMin: 0, XMin: 0, YMax: 100, XMax: 500})),
		page("b.pdf", 1, det(ContinuationID, geom.Rect{YMin: 0, XMin: 0, YMax: 100, XMax: 500})),
	}

	res := Group(pages, nil)
	if len(res.Questions) != 2 {
		t.Fatalf("expected 2 questions, got %d", len(res.Questions))
	}
	// The continuation in b.pdf must not attach to a.pdf's question.
	if len(res.Questions[0].Parts) != 1 {
		t.Errorf("question in a.pdf absorbed a cross-file continuation")
	}
	if res.Orphans != 1 {
		t.Errorf("expected the b.pdf continuation flagged as orphan, got %d", res.Orphans)
	}
}

func TestGroup_PagesSortedWithinFile(t *testing.T) {
	// Pages arrive out of order; detections must still be walked in page
	// order so the continuation lands on the right question.
	pages := []*Page{
		page("exam.pdf", 2, det(ContinuationID, geom.Rect{YMin: 0, XMin: 0, YMax: 100, XMax: 500})),
		page("exam.pdf", 1, det("7", geom.Rect{YMin: 0, XMin: 0, YMax: 500, XMax: 500})),
	}

	res := Group(pages, nil)
	if len(res.Questions) != 1 {
		t.Fatalf("expected 1 question, got %d", len(res.Questions))
	}
	if len(res.Questions[0].Parts) != 2 {
		t.Errorf("continuation not absorbed after page sort: %d parts", len(res.Questions[0].Parts))
	}
}

func TestGroup_Deterministic(t *testing.T) {
	pages := []*Page{
		page("a.pdf", 1,
			det("1", geom.Rect{YMin: 0, XMin: 0, YMax: 200, XMax: 500}),
			det("2", geom.Rect{YMin: 210, XMin: 0, YMax: 400, XMax: 500}),
		),
		page("a.pdf", 2, det(ContinuationID, geom.Rect{YMin: 0, XMin: 0, YMax: 150, XMax: 500})),
		page("b.pdf", 1, det("1", geom.Rect{YMin: 0, XMin: 0, YMax: 300, XMax: 500})),
	}

	first := Group(pages, nil)
	second := Group(pages, nil)

	if !reflect.DeepEqual(questionIDs(first.Questions), questionIDs(second.Questions)) {
		t.Errorf("grouping not deterministic: %v vs %v",
			questionIDs(first.Questions), questionIDs(second.Questions))
	}
	for i := range first.Questions {
		if len(first.Questions[i].Parts) != len(second.Questions[i].Parts) {
			t.Errorf("question %d part count differs between runs", i)
		}
	}
}

func TestGroup_TwoPageScenario(t *testing.T) {
	// Page 1 has questions 1 and 2; page 2 opens with a continuation of 2.
	pages := []*Page{
		page("A", 1,
			det("1", geom.Rect{YMin: 0, XMin: 0, YMax: 200, XMax: 500}),
			det("2", geom.Rect{YMin: 210, XMin: 0, YMax: 400, XMax: 500}),
		),
		page("A", 2, det(ContinuationID, geom.Rect{YMin: 0, XMin: 0, YMax: 150, XMax: 500})),
	}

	res := Group(pages, nil)
	if got := questionIDs(res.Questions); !reflect.DeepEqual(got, []string{"1", "2"}) {
		t.Fatalf("expected questions [1 2], got %v", got)
	}
	if len(res.Questions[0].Parts) != 1 {
		t.Errorf("question 1 should have 1 part, got %d", len(res.Questions[0].Parts))
	}
	q2 := res.Questions[1]
	if len(q2.Parts) != 2 {
		t.Fatalf("question 2 should have 2 parts, got %d", len(q2.Parts))
	}
	if q2.Parts[0].Page.PageNumber != 1 || q2.Parts[0].IndexInPage != 1 {
		t.Errorf("question 2 first part should be page1/idx1")
	}
	if q2.Parts[1].Page.PageNumber != 2 || q2.Parts[1].IndexInPage != 0 {
		t.Errorf("question 2 second part should be page2/idx0")
	}
}
