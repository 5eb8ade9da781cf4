package notify

import (
	"context"
	"errors"
	"sort"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"

	"inkwell/api/internal/store"
)

type fakeNotifStore struct {
	mu          sync.Mutex
	items       []store.Notification
	insertErrFn func(n store.Notification) error

	unreadCalls int
	latestCalls int
}

func (f *fakeNotifStore) InsertNotification(_ context.Context, n store.Notification) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.insertErrFn != nil {
		if err := f.insertErrFn(n); err != nil {
			return err
		}
	}
	for _, existing := range f.items {
		if existing.ID == n.ID {
			return nil
		}
	}
	f.items = append(f.items, n)
	return nil
}

func (f *fakeNotifStore) forRecipient(recipientID string) []store.Notification {
	var out []store.Notification
	for _, n := range f.items {
		if n.RecipientID == recipientID {
			out = append(out, n)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	return out
}

func (f *fakeNotifStore) ListNotifications(_ context.Context, recipientID string, since *time.Time, limit, offset int) ([]store.Notification, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	all := f.forRecipient(recipientID)
	if since != nil {
		var filtered []store.Notification
		for _, n := range all {
			if n.CreatedAt.After(*since) {
				filtered = append(filtered, n)
			}
		}
		all = filtered
	}
	if offset >= len(all) {
		return nil, nil
	}
	all = all[offset:]
	if len(all) > limit {
		all = all[:limit]
	}
	return all, nil
}

func (f *fakeNotifStore) UnreadNotificationCount(_ context.Context, recipientID string) (int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.unreadCalls++
	count := 0
	for _, n := range f.forRecipient(recipientID) {
		if !n.IsRead {
			count++
		}
	}
	return count, nil
}

func (f *fakeNotifStore) NotificationCountSince(_ context.Context, recipientID string, since time.Time) (int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	count := 0
	for _, n := range f.forRecipient(recipientID) {
		if n.CreatedAt.After(since) {
			count++
		}
	}
	return count, nil
}

func (f *fakeNotifStore) LatestNotificationTime(_ context.Context, recipientID string) (time.Time, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.latestCalls++
	var latest time.Time
	for _, n := range f.forRecipient(recipientID) {
		if n.CreatedAt.After(latest) {
			latest = n.CreatedAt
		}
	}
	return latest, nil
}

func (f *fakeNotifStore) MarkNotificationRead(_ context.Context, notificationID, recipientID string) (store.Notification, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for i := range f.items {
		if f.items[i].ID == notificationID && f.items[i].RecipientID == recipientID {
			f.items[i].IsRead = true
			return f.items[i], nil
		}
	}
	return store.Notification{}, store.ErrNotFound
}

func (f *fakeNotifStore) MarkAllNotificationsRead(_ context.Context, recipientID string) (int64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var count int64
	for i := range f.items {
		if f.items[i].RecipientID == recipientID && !f.items[i].IsRead {
			f.items[i].IsRead = true
			count++
		}
	}
	return count, nil
}

func newTestCache(t *testing.T) *Cache {
	t.Helper()
	s := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: s.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	return NewCacheWithClient(client)
}

func draftFor(recipientID string) Draft {
	return NewDraft(recipientID, "alice", store.NotificationShare, "doc-1", "Alice shared \"Doc\" with you")
}

func TestCreateAssignsTimestampAndKeepsDraftID(t *testing.T) {
	fs := &fakeNotifStore{}
	svc := New(fs, nil, nil)

	draft := draftFor("bob")
	n, err := svc.Create(context.Background(), draft)
	if err != nil {
		t.Fatalf("Create() error = %v", err)
	}
	if n.ID != draft.ID {
		t.Errorf("notification ID %s, want draft ID %s", n.ID, draft.ID)
	}
	if n.CreatedAt.IsZero() {
		t.Error("CreatedAt not set")
	}
	if n.IsRead {
		t.Error("new notification must be unread")
	}
}

func TestCreateIsIdempotentOnDraftID(t *testing.T) {
	fs := &fakeNotifStore{}
	svc := New(fs, nil, nil)

	draft := draftFor("bob")
	if _, err := svc.Create(context.Background(), draft); err != nil {
		t.Fatalf("first create: %v", err)
	}
	if _, err := svc.Create(context.Background(), draft); err != nil {
		t.Fatalf("second create: %v", err)
	}
	if got := len(fs.forRecipient("bob")); got != 1 {
		t.Fatalf("stored notifications = %d, want 1", got)
	}
}

func TestDispatchPartialFailure(t *testing.T) {
	fs := &fakeNotifStore{
		insertErrFn: func(n store.Notification) error {
			if n.RecipientID == "carol" {
				return errors.New("carol's insert failed")
			}
			return nil
		},
	}
	svc := New(fs, nil, nil)

	drafts := []Draft{draftFor("bob"), draftFor("carol"), draftFor("dave")}
	created, err := svc.Dispatch(context.Background(), drafts)
	if err == nil {
		t.Fatal("expected aggregated error for carol")
	}
	if len(created) != 2 {
		t.Fatalf("created = %d, want 2 despite one failure", len(created))
	}
	for _, n := range created {
		if n.RecipientID == "carol" {
			t.Error("carol should not be in the created set")
		}
	}
}

func TestDispatchEmpty(t *testing.T) {
	svc := New(&fakeNotifStore{}, nil, nil)
	created, err := svc.Dispatch(context.Background(), nil)
	if err != nil || created != nil {
		t.Fatalf("Dispatch(nil) = %v, %v", created, err)
	}
}

func TestListForRecipientPagingAndHasMore(t *testing.T) {
	fs := &fakeNotifStore{}
	svc := New(fs, nil, nil)

	base := time.Now().UTC().Add(-time.Hour)
	for i := 0; i < 5; i++ {
		fs.items = append(fs.items, store.Notification{
			ID:          string(rune('a' + i)),
			RecipientID: "bob",
			Type:        store.NotificationMention,
			CreatedAt:   base.Add(time.Duration(i) * time.Minute),
		})
	}

	feed, err := svc.ListForRecipient(context.Background(), "bob", nil, 1, 3)
	if err != nil {
		t.Fatalf("ListForRecipient() error = %v", err)
	}
	if len(feed.Items) != 3 {
		t.Fatalf("page 1 items = %d, want 3", len(feed.Items))
	}
	if !feed.HasMore {
		t.Error("full page should report hasMore")
	}
	if !feed.Items[0].CreatedAt.After(feed.Items[1].CreatedAt) {
		t.Error("feed not newest-first")
	}
	if feed.UnreadCount != 5 {
		t.Errorf("unread = %d, want 5", feed.UnreadCount)
	}

	feed2, err := svc.ListForRecipient(context.Background(), "bob", nil, 2, 3)
	if err != nil {
		t.Fatalf("page 2: %v", err)
	}
	if len(feed2.Items) != 2 {
		t.Fatalf("page 2 items = %d, want 2", len(feed2.Items))
	}
	if feed2.HasMore {
		t.Error("short page should not report hasMore")
	}
}

func TestMarkReadScopedToRecipient(t *testing.T) {
	fs := &fakeNotifStore{}
	svc := New(fs, nil, nil)

	n, err := svc.Create(context.Background(), draftFor("bob"))
	if err != nil {
		t.Fatalf("Create() error = %v", err)
	}

	// another user marking bob's notification is a not-found, never a hint
	// that the notification exists
	if _, err := svc.MarkRead(context.Background(), n.ID, "mallory"); !errors.Is(err, store.ErrNotFound) {
		t.Fatalf("foreign markRead error = %v, want ErrNotFound", err)
	}

	marked, err := svc.MarkRead(context.Background(), n.ID, "bob")
	if err != nil {
		t.Fatalf("MarkRead() error = %v", err)
	}
	if !marked.IsRead {
		t.Error("notification not marked read")
	}
}

func TestMarkAllReadCountsOnlyUnread(t *testing.T) {
	fs := &fakeNotifStore{}
	svc := New(fs, nil, nil)

	for i := 0; i < 3; i++ {
		if _, err := svc.Create(context.Background(), draftFor("bob")); err != nil {
			t.Fatalf("Create() error = %v", err)
		}
	}
	if _, err := svc.Create(context.Background(), draftFor("carol")); err != nil {
		t.Fatalf("Create() error = %v", err)
	}

	count, err := svc.MarkAllRead(context.Background(), "bob")
	if err != nil {
		t.Fatalf("MarkAllRead() error = %v", err)
	}
	if count != 3 {
		t.Fatalf("marked = %d, want 3", count)
	}

	again, err := svc.MarkAllRead(context.Background(), "bob")
	if err != nil {
		t.Fatalf("second MarkAllRead() error = %v", err)
	}
	if again != 0 {
		t.Fatalf("second pass marked = %d, want 0", again)
	}
}

func TestPollSinceNoNewNotifications(t *testing.T) {
	fs := &fakeNotifStore{}
	svc := New(fs, nil, nil)

	n, err := svc.Create(context.Background(), draftFor("bob"))
	if err != nil {
		t.Fatalf("Create() error = %v", err)
	}

	result, err := svc.PollSince(context.Background(), "bob", n.CreatedAt)
	if err != nil {
		t.Fatalf("PollSince() error = %v", err)
	}
	if result.HasNew || result.NewCount != 0 {
		t.Fatalf("poll after latest = %+v, want no new", result)
	}
	if !result.LatestTimestamp.Equal(n.CreatedAt) {
		t.Fatalf("latestTimestamp = %v, want %v", result.LatestTimestamp, n.CreatedAt)
	}
	if result.UnreadCount != 1 {
		t.Fatalf("unread = %d, want 1", result.UnreadCount)
	}
}

func TestPollSinceEmptyRecipientDefaults(t *testing.T) {
	svc := New(&fakeNotifStore{}, nil, nil)

	result, err := svc.PollSince(context.Background(), "nobody", time.Time{})
	if err != nil {
		t.Fatalf("PollSince() error = %v", err)
	}
	if result.HasNew || result.NewCount != 0 || result.UnreadCount != 0 {
		t.Fatalf("poll on empty recipient = %+v", result)
	}
	if !result.LatestTimestamp.IsZero() {
		t.Fatalf("latestTimestamp = %v, want zero time", result.LatestTimestamp)
	}
}

func TestPollSinceUsesCacheUntilInvalidated(t *testing.T) {
	fs := &fakeNotifStore{}
	svc := New(fs, newTestCache(t), nil)
	ctx := context.Background()

	n, err := svc.Create(ctx, draftFor("bob"))
	if err != nil {
		t.Fatalf("Create() error = %v", err)
	}

	if _, err := svc.PollSince(ctx, "bob", n.CreatedAt); err != nil {
		t.Fatalf("first poll: %v", err)
	}
	costlyBefore := fs.unreadCalls

	// Second poll should be served from the cache.
	result, err := svc.PollSince(ctx, "bob", n.CreatedAt)
	if err != nil {
		t.Fatalf("second poll: %v", err)
	}
	if fs.unreadCalls != costlyBefore {
		t.Fatalf("unread count recomputed on cached poll (%d -> %d)", costlyBefore, fs.unreadCalls)
	}
	if result.UnreadCount != 1 {
		t.Fatalf("cached unread = %d, want 1", result.UnreadCount)
	}

	// Marking read invalidates; the next poll recomputes.
	if _, err := svc.MarkRead(ctx, n.ID, "bob"); err != nil {
		t.Fatalf("MarkRead() error = %v", err)
	}
	result, err = svc.PollSince(ctx, "bob", n.CreatedAt)
	if err != nil {
		t.Fatalf("post-invalidation poll: %v", err)
	}
	if result.UnreadCount != 0 {
		t.Fatalf("unread after markRead = %d, want 0", result.UnreadCount)
	}
}
