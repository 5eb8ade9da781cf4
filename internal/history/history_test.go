package history

import (
	"testing"
	"time"

	"inkwell/api/internal/store"
)

func strPtr(s string) *string { return &s }

func baseDoc() store.Document {
	return store.Document{
		ID:         "doc-1",
		Title:      "Release Checklist",
		Content:    "step one",
		AuthorID:   "alice",
		Visibility: store.VisibilityPrivate,
		Tags:       []string{"ops", "release"},
		CreatedAt:  time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC),
	}
}

func TestDiffSameValuesIsEmpty(t *testing.T) {
	doc := baseDoc()
	tags := []string{"ops", "release"}
	proposed := Update{
		Title:      strPtr(doc.Title),
		Content:    strPtr(doc.Content),
		Visibility: &doc.Visibility,
		Tags:       &tags,
	}

	changes := Diff(doc, proposed)
	if !changes.IsEmpty() {
		t.Fatalf("proposing current values produced changes: %+v", changes)
	}
}

func TestDiffUnproposedFieldsIgnored(t *testing.T) {
	changes := Diff(baseDoc(), Update{})
	if !changes.IsEmpty() {
		t.Fatalf("empty update produced changes: %+v", changes)
	}
}

func TestDiffRecordsChangedFields(t *testing.T) {
	doc := baseDoc()
	public := store.VisibilityPublic
	tags := []string{"ops"}
	proposed := Update{
		Title:      strPtr("Release Checklist v2"),
		Content:    strPtr("step one\nstep two"),
		Visibility: &public,
		Tags:       &tags,
	}

	changes := Diff(doc, proposed)
	if changes.Title == nil || *changes.Title != "Release Checklist v2" {
		t.Errorf("title change = %v", changes.Title)
	}
	if !changes.Content {
		t.Error("content change not marked")
	}
	if changes.Visibility == nil || *changes.Visibility != store.VisibilityPublic {
		t.Errorf("visibility change = %v", changes.Visibility)
	}
	if len(changes.Tags) != 1 || changes.Tags[0] != "ops" {
		t.Errorf("tags change = %v", changes.Tags)
	}
}

func TestDiffTagsStructuralEquality(t *testing.T) {
	doc := baseDoc()

	same := []string{"ops", "release"}
	if changes := Diff(doc, Update{Tags: &same}); !changes.IsEmpty() {
		t.Fatalf("identical tag sequence produced changes: %+v", changes)
	}

	// Order matters: the tag sequence is ordered.
	reordered := []string{"release", "ops"}
	if changes := Diff(doc, Update{Tags: &reordered}); changes.IsEmpty() {
		t.Fatal("reordered tags should register as a change")
	}

	var cleared []string
	if changes := Diff(doc, Update{Tags: &cleared}); changes.Tags == nil {
		t.Fatal("clearing tags should register as a change")
	}
}

func TestDiffContentIsMarkerOnly(t *testing.T) {
	doc := baseDoc()
	longer := strPtr("entirely new content that must never appear in history")
	changes := Diff(doc, Update{Content: longer})
	if !changes.Content {
		t.Fatal("content change not marked")
	}
	// The change-set has no field that could carry the text itself; this
	// guards the shape against accidental widening.
	if changes.Title != nil || changes.Visibility != nil || changes.Tags != nil {
		t.Fatalf("content-only update touched other fields: %+v", changes)
	}
}

func TestFullPrependsSyntheticCreateNewestFirst(t *testing.T) {
	doc := baseDoc()
	t1 := doc.CreatedAt.Add(1 * time.Hour)
	t2 := doc.CreatedAt.Add(2 * time.Hour)
	doc.EditHistory = []store.HistoryEntry{
		Entry("bob", store.ChangeSet{Content: true}, t1),
		Entry("alice", store.ChangeSet{Title: strPtr("Renamed")}, t2),
	}

	entries := Full(doc)
	if len(entries) != 3 {
		t.Fatalf("entries = %d, want 3 (2 updates + synthetic create)", len(entries))
	}
	if entries[0].Timestamp != t2 || entries[1].Timestamp != t1 {
		t.Fatalf("entries not newest-first: %v, %v", entries[0].Timestamp, entries[1].Timestamp)
	}
	create := entries[2]
	if create.Action != store.HistoryActionCreate {
		t.Fatalf("oldest entry action = %s, want create", create.Action)
	}
	if create.ActorID != "alice" || create.Timestamp != doc.CreatedAt {
		t.Fatalf("synthetic create entry = %+v", create)
	}
}

func TestCreateEntryOmitsLaterEditedFields(t *testing.T) {
	doc := baseDoc()
	doc.Title = "Renamed Checklist"
	doc.EditHistory = []store.HistoryEntry{
		Entry("alice", store.ChangeSet{Title: strPtr("Renamed Checklist")}, doc.CreatedAt.Add(time.Hour)),
	}

	entries := Full(doc)
	create := entries[len(entries)-1]
	if create.Action != store.HistoryActionCreate {
		t.Fatalf("oldest entry action = %s", create.Action)
	}
	// The document was renamed after creation; the create entry must not
	// attribute the current title to creation.
	if create.Changes.Title != nil {
		t.Fatalf("create entry claims title %q after a rename", *create.Changes.Title)
	}
	// Fields no edit touched are still claimed.
	if !create.Changes.Content {
		t.Fatal("create entry lost the content marker")
	}
	if create.Changes.Visibility == nil || *create.Changes.Visibility != store.VisibilityPrivate {
		t.Fatalf("create entry visibility = %v", create.Changes.Visibility)
	}
}

func TestFullOnFreshDocument(t *testing.T) {
	entries := Full(baseDoc())
	if len(entries) != 1 {
		t.Fatalf("entries = %d, want only the synthetic create", len(entries))
	}
	if entries[0].Action != store.HistoryActionCreate {
		t.Fatalf("action = %s", entries[0].Action)
	}
}
