// Package notify creates and serves collaboration notifications: fan-out for
// mention and share events, the recipient feed, and the cheap polling check.
package notify

import (
	"context"
	"sort"
	"time"

	"github.com/google/uuid"
	"github.com/hashicorp/go-multierror"
	"go.uber.org/zap"

	"inkwell/api/internal/store"
)

// Store is the persistence the fan-out needs; *store.PostgresStore satisfies it.
type Store interface {
	InsertNotification(ctx context.Context, n store.Notification) error
	ListNotifications(ctx context.Context, recipientID string, since *time.Time, limit, offset int) ([]store.Notification, error)
	UnreadNotificationCount(ctx context.Context, recipientID string) (int, error)
	NotificationCountSince(ctx context.Context, recipientID string, since time.Time) (int, error)
	LatestNotificationTime(ctx context.Context, recipientID string) (time.Time, error)
	MarkNotificationRead(ctx context.Context, notificationID, recipientID string) (store.Notification, error)
	MarkAllNotificationsRead(ctx context.Context, recipientID string) (int64, error)
}

// Draft is a notification waiting to be created. The ID is assigned when the
// draft is built, so re-dispatching the same draft cannot create a duplicate.
type Draft struct {
	ID          string
	RecipientID string
	SenderID    string
	Type        store.NotificationType
	DocumentID  string
	Message     string
}

func NewDraft(recipientID, senderID string, kind store.NotificationType, documentID, message string) Draft {
	return Draft{
		ID:          uuid.NewString(),
		RecipientID: recipientID,
		SenderID:    senderID,
		Type:        kind,
		DocumentID:  documentID,
		Message:     message,
	}
}

type Feed struct {
	Items           []store.Notification
	UnreadCount     int
	LatestTimestamp time.Time
	HasMore         bool
}

type PollResult struct {
	HasNew          bool
	NewCount        int
	UnreadCount     int
	LatestTimestamp time.Time
}

type Service struct {
	store Store
	cache *Cache
	log   *zap.Logger
}

// New builds the fan-out service. cache may be nil; polling then always hits
// the store.
func New(st Store, cache *Cache, log *zap.Logger) *Service {
	if log == nil {
		log = zap.NewNop()
	}
	return &Service{store: st, cache: cache, log: log}
}

func (s *Service) Create(ctx context.Context, draft Draft) (store.Notification, error) {
	n := store.Notification{
		ID:          draft.ID,
		RecipientID: draft.RecipientID,
		SenderID:    draft.SenderID,
		Type:        draft.Type,
		DocumentID:  draft.DocumentID,
		Message:     draft.Message,
		CreatedAt:   time.Now().UTC(),
	}
	if err := s.store.InsertNotification(ctx, n); err != nil {
		return store.Notification{}, err
	}
	s.invalidate(ctx, draft.RecipientID)
	return n, nil
}

// Dispatch creates every draft concurrently. One recipient failing never
// cancels the others: successes are returned alongside the aggregated error.
func (s *Service) Dispatch(ctx context.Context, drafts []Draft) ([]store.Notification, error) {
	if len(drafts) == 0 {
		return nil, nil
	}

	type outcome struct {
		notification store.Notification
		err          error
	}
	results := make(chan outcome, len(drafts))
	for _, draft := range drafts {
		go func(d Draft) {
			n, err := s.Create(ctx, d)
			results <- outcome{notification: n, err: err}
		}(draft)
	}

	var (
		created []store.Notification
		failed  *multierror.Error
	)
	for range drafts {
		out := <-results
		if out.err != nil {
			failed = multierror.Append(failed, out.err)
			continue
		}
		created = append(created, out.notification)
	}
	sort.Slice(created, func(i, j int) bool { return created[i].RecipientID < created[j].RecipientID })

	if err := failed.ErrorOrNil(); err != nil {
		s.log.Warn("notification fan-out partially failed",
			zap.Int("requested", len(drafts)),
			zap.Int("created", len(created)),
			zap.Error(err))
		return created, err
	}
	return created, nil
}

func (s *Service) ListForRecipient(ctx context.Context, recipientID string, since *time.Time, page, pageSize int) (Feed, error) {
	if page < 1 {
		page = 1
	}
	offset := (page - 1) * pageSize

	items, err := s.store.ListNotifications(ctx, recipientID, since, pageSize, offset)
	if err != nil {
		return Feed{}, err
	}
	unread, err := s.store.UnreadNotificationCount(ctx, recipientID)
	if err != nil {
		return Feed{}, err
	}
	latest, err := s.store.LatestNotificationTime(ctx, recipientID)
	if err != nil {
		return Feed{}, err
	}

	return Feed{
		Items:           items,
		UnreadCount:     unread,
		LatestTimestamp: latest,
		// Approximate: a full page means there is probably another one.
		HasMore: len(items) == pageSize,
	}, nil
}

// PollSince answers the frequent "anything new?" check with counts only; it
// never loads notification bodies. Cached unread count and latest timestamp
// are used when Redis is wired.
func (s *Service) PollSince(ctx context.Context, recipientID string, since time.Time) (PollResult, error) {
	newCount, err := s.store.NotificationCountSince(ctx, recipientID, since)
	if err != nil {
		return PollResult{}, err
	}

	var (
		unread int
		latest time.Time
	)
	if cached, ok := s.cachedCounts(ctx, recipientID); ok {
		unread, latest = cached.Unread, cached.Latest
	} else {
		if unread, err = s.store.UnreadNotificationCount(ctx, recipientID); err != nil {
			return PollResult{}, err
		}
		if latest, err = s.store.LatestNotificationTime(ctx, recipientID); err != nil {
			return PollResult{}, err
		}
		s.storeCounts(ctx, recipientID, unread, latest)
	}

	return PollResult{
		HasNew:          newCount > 0,
		NewCount:        newCount,
		UnreadCount:     unread,
		LatestTimestamp: latest,
	}, nil
}

func (s *Service) MarkRead(ctx context.Context, notificationID, recipientID string) (store.Notification, error) {
	n, err := s.store.MarkNotificationRead(ctx, notificationID, recipientID)
	if err != nil {
		return store.Notification{}, err
	}
	s.invalidate(ctx, recipientID)
	return n, nil
}

func (s *Service) MarkAllRead(ctx context.Context, recipientID string) (int64, error) {
	count, err := s.store.MarkAllNotificationsRead(ctx, recipientID)
	if err != nil {
		return 0, err
	}
	s.invalidate(ctx, recipientID)
	return count, nil
}

func (s *Service) cachedCounts(ctx context.Context, recipientID string) (CachedCounts, bool) {
	if s.cache == nil {
		return CachedCounts{}, false
	}
	counts, ok, err := s.cache.Get(ctx, recipientID)
	if err != nil {
		s.log.Warn("notification cache read failed", zap.String("recipient", recipientID), zap.Error(err))
		return CachedCounts{}, false
	}
	return counts, ok
}

func (s *Service) storeCounts(ctx context.Context, recipientID string, unread int, latest time.Time) {
	if s.cache == nil {
		return
	}
	if err := s.cache.Set(ctx, recipientID, CachedCounts{Unread: unread, Latest: latest}); err != nil {
		s.log.Warn("notification cache write failed", zap.String("recipient", recipientID), zap.Error(err))
	}
}

func (s *Service) invalidate(ctx context.Context, recipientID string) {
	if s.cache == nil {
		return
	}
	if err := s.cache.Invalidate(ctx, recipientID); err != nil {
		s.log.Warn("notification cache invalidation failed", zap.String("recipient", recipientID), zap.Error(err))
	}
}
