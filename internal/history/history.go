// Package history computes minimal change-sets between a stored document and
// a proposed update, and reconstructs the full edit history for presentation.
package history

import (
	"sort"
	"time"

	"inkwell/api/internal/store"
)

// Update is a partial document: nil fields were not proposed. Tags uses a
// pointer to distinguish "not proposed" from "clear the tags".
type Update struct {
	Title      *string
	Content    *string
	Visibility *store.Visibility
	Tags       *[]string
}

func (u Update) IsZero() bool {
	return u.Title == nil && u.Content == nil && u.Visibility == nil && u.Tags == nil
}

// Diff returns the fields of proposed that actually differ from existing.
// Content is recorded as a marker only so history entries stay small. An
// empty change-set means the update is a no-op and must leave the document,
// its history and its last-modified timestamp untouched.
func Diff(existing store.Document, proposed Update) store.ChangeSet {
	var changes store.ChangeSet

	if proposed.Title != nil && *proposed.Title != existing.Title {
		changes.Title = proposed.Title
	}
	if proposed.Content != nil && *proposed.Content != existing.Content {
		changes.Content = true
	}
	if proposed.Visibility != nil && *proposed.Visibility != existing.Visibility {
		changes.Visibility = proposed.Visibility
	}
	if proposed.Tags != nil && !equalTags(existing.Tags, *proposed.Tags) {
		tags := *proposed.Tags
		if tags == nil {
			tags = []string{}
		}
		changes.Tags = tags
	}
	return changes
}

// Entry builds the history record for a committed update.
func Entry(actorID string, changes store.ChangeSet, at time.Time) store.HistoryEntry {
	return store.HistoryEntry{
		ActorID:   actorID,
		Action:    store.HistoryActionUpdate,
		Changes:   changes,
		Timestamp: at,
	}
}

// Full returns the document's history newest-first, with the synthetic create
// entry reconstructed from CreatedAt. The create entry is never stored; it is
// derived at read time.
func Full(doc store.Document) []store.HistoryEntry {
	entries := make([]store.HistoryEntry, 0, len(doc.EditHistory)+1)
	entries = append(entries, createEntry(doc))
	entries = append(entries, doc.EditHistory...)

	sort.SliceStable(entries, func(i, j int) bool {
		return entries[i].Timestamp.After(entries[j].Timestamp)
	})
	return entries
}

// createEntry reconstructs the creation record. Recorded changes carry new
// values only, so the initial value of a field some later edit touched is
// unrecoverable; the entry claims only fields the history never changed.
func createEntry(doc store.Document) store.HistoryEntry {
	var titleChanged, contentChanged, visibilityChanged bool
	for _, entry := range doc.EditHistory {
		if entry.Changes.Title != nil {
			titleChanged = true
		}
		if entry.Changes.Content {
			contentChanged = true
		}
		if entry.Changes.Visibility != nil {
			visibilityChanged = true
		}
	}

	var changes store.ChangeSet
	if !titleChanged {
		title := doc.Title
		changes.Title = &title
	}
	if !contentChanged {
		changes.Content = doc.Content != ""
	}
	if !visibilityChanged {
		visibility := doc.Visibility
		changes.Visibility = &visibility
	}
	return store.HistoryEntry{
		ActorID:   doc.AuthorID,
		Action:    store.HistoryActionCreate,
		Changes:   changes,
		Timestamp: doc.CreatedAt,
	}
}

func equalTags(a, b []string) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}
