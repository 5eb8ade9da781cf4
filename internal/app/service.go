package app

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/hashicorp/go-multierror"
	"go.uber.org/zap"

	"inkwell/api/internal/access"
	"inkwell/api/internal/config"
	"inkwell/api/internal/history"
	"inkwell/api/internal/mention"
	"inkwell/api/internal/notify"
	"inkwell/api/internal/store"
	"inkwell/api/internal/util"
)

type documentStore interface {
	GetDocument(ctx context.Context, documentID string) (store.Document, error)
	InsertDocument(ctx context.Context, doc store.Document) error
	UpdateDocument(ctx context.Context, doc store.Document, expectedVersion int64) (store.Document, error)
	ListVisibleDocuments(ctx context.Context, requesterID string, limit, offset int) ([]store.Document, error)
	DocumentCount(ctx context.Context) (int, error)
	Ping(ctx context.Context) error
}

type identityDirectory interface {
	FindByID(ctx context.Context, userID string) (*store.Identity, error)
	FindByEmail(ctx context.Context, email string) (*store.Identity, error)
	FindByNamePrefix(ctx context.Context, token string) ([]store.Identity, error)
	EnsureIdentity(ctx context.Context, displayName, email string) (store.Identity, error)
}

// DocumentView is the plain structured shape handed to any caller or renderer.
type DocumentView struct {
	ID                  string              `json:"id"`
	Title               string              `json:"title"`
	Content             string              `json:"content"`
	AuthorID            string              `json:"authorId"`
	Visibility          store.Visibility    `json:"visibility"`
	Tags                []string            `json:"tags"`
	SharedWith          []store.Grant       `json:"sharedWith"`
	EffectivePermission store.Permission    `json:"effectivePermission"`
	Version             int64               `json:"version"`
	CreatedAt           time.Time           `json:"createdAt"`
	LastModified        time.Time           `json:"lastModified"`
}

// MutationResult reports what a mutation did. NotifyFailures lists recipients
// whose notification could not be created; per the partial-failure contract
// those never fail the mutation itself.
type MutationResult struct {
	Document       DocumentView         `json:"document"`
	Notified       []store.Notification `json:"notified,omitempty"`
	NotifyFailures []string             `json:"notifyFailures,omitempty"`
}

type DocumentPage struct {
	Items   []DocumentView `json:"items"`
	HasMore bool           `json:"hasMore"`
}

type Service struct {
	cfg       config.Config
	docs      documentStore
	directory identityDirectory
	mentions  *mention.Engine
	fanout    *notify.Service
	log       *zap.Logger
}

func New(cfg config.Config, docs documentStore, dir identityDirectory, fanout *notify.Service, log *zap.Logger) *Service {
	if log == nil {
		log = zap.NewNop()
	}
	return &Service{
		cfg:       cfg,
		docs:      docs,
		directory: dir,
		mentions:  mention.NewEngine(dir, log),
		fanout:    fanout,
		log:       log,
	}
}

func (s *Service) Ping(ctx context.Context) error {
	return s.docs.Ping(ctx)
}

// CreateDocument creates a document owned by the actor. Mentions in the
// content are resolved immediately: each resolved collaborator gets a view
// grant and a mention notification.
func (s *Service) CreateDocument(ctx context.Context, actorID string, input CreateDocumentInput) (MutationResult, error) {
	if actorID == "" {
		return MutationResult{}, errAuthRequired()
	}
	// Trim first so a whitespace-only title fails the required check.
	input.Title = strings.TrimSpace(input.Title)
	if err := validated(input); err != nil {
		return MutationResult{}, err
	}
	actor, err := s.actorIdentity(ctx, actorID)
	if err != nil {
		return MutationResult{}, err
	}

	now := time.Now().UTC()
	doc := store.Document{
		ID:           util.NewID("doc"),
		Title:        input.Title,
		Content:      input.Content,
		AuthorID:     actorID,
		Visibility:   visibilityOrDefault(input.Visibility),
		Tags:         normalizeTags(input.Tags),
		SharedWith:   []store.Grant{},
		EditHistory:  []store.HistoryEntry{},
		Version:      1,
		CreatedAt:    now,
		LastModified: now,
	}

	resolved, err := s.resolveMentions(ctx, doc, input.Content, actor)
	if err != nil {
		return MutationResult{}, err
	}
	doc.SharedWith = append(doc.SharedWith, resolved.Grants...)

	storeCtx, cancel := s.boundCtx(ctx, s.cfg.StoreTimeout)
	defer cancel()
	if err := s.docs.InsertDocument(storeCtx, doc); err != nil {
		return MutationResult{}, storeFailure(err)
	}

	return s.finishMutation(ctx, doc, actorID, resolved.Drafts), nil
}

func (s *Service) GetDocument(ctx context.Context, requesterID, documentID string) (DocumentView, error) {
	doc, err := s.getDocument(ctx, documentID)
	if err != nil {
		return DocumentView{}, err
	}

	decision := access.Resolve(doc, requesterID, store.PermissionView)
	if decision.NotFound {
		return DocumentView{}, errNotFound()
	}
	if !decision.Granted {
		return DocumentView{}, accessError(requesterID)
	}
	return viewOf(doc, effectiveFor(doc, requesterID)), nil
}

func (s *Service) ListDocuments(ctx context.Context, requesterID string, page int) (DocumentPage, error) {
	if page < 1 {
		page = 1
	}
	pageSize := s.pageSize()

	storeCtx, cancel := s.boundCtx(ctx, s.cfg.StoreTimeout)
	defer cancel()
	docs, err := s.docs.ListVisibleDocuments(storeCtx, requesterID, pageSize, (page-1)*pageSize)
	if err != nil {
		return DocumentPage{}, storeFailure(err)
	}

	items := make([]DocumentView, 0, len(docs))
	for _, doc := range docs {
		decision := access.Resolve(doc, requesterID, store.PermissionView)
		if !decision.Granted {
			continue
		}
		items = append(items, viewOf(doc, effectiveFor(doc, requesterID)))
	}
	return DocumentPage{Items: items, HasMore: len(docs) == pageSize}, nil
}

// UpdateDocument applies a partial update under optimistic concurrency: read,
// diff, mention-resolve and conditionally write, retrying from a fresh read
// when another writer got there first. A proposal that changes nothing is a
// no-op: no history entry, no write, LastModified untouched.
func (s *Service) UpdateDocument(ctx context.Context, actorID, documentID string, input UpdateDocumentInput) (MutationResult, error) {
	if actorID == "" {
		return MutationResult{}, errAuthRequired()
	}
	if input.Title != nil {
		trimmed := strings.TrimSpace(*input.Title)
		input.Title = &trimmed
	}
	if err := validated(input); err != nil {
		return MutationResult{}, err
	}
	actor, err := s.actorIdentity(ctx, actorID)
	if err != nil {
		return MutationResult{}, err
	}

	var (
		committed store.Document
		drafts    []notify.Draft
		wrote     bool
	)
	err = s.withConflictRetry(ctx, func() error {
		doc, err := s.getDocument(ctx, documentID)
		if err != nil {
			return backoff.Permanent(err)
		}
		decision := access.Resolve(doc, actorID, store.PermissionEdit)
		if decision.NotFound {
			return backoff.Permanent(errNotFound())
		}
		if !decision.Granted {
			return backoff.Permanent(accessError(actorID))
		}

		proposed := history.Update{
			Title:      input.Title,
			Visibility: (*store.Visibility)(input.Visibility),
			Content:    input.Content,
		}
		if input.Tags != nil {
			tags := normalizeTags(*input.Tags)
			proposed.Tags = &tags
		}
		changes := history.Diff(doc, proposed)

		var resolved mention.Result
		if input.Content != nil {
			resolved, err = s.resolveMentions(ctx, doc, *input.Content, actor)
			if err != nil {
				return backoff.Permanent(err)
			}
		}

		if changes.IsEmpty() && len(resolved.Grants) == 0 {
			committed, drafts, wrote = doc, nil, false
			return nil
		}

		now := time.Now().UTC()
		if !changes.IsEmpty() {
			applyChanges(&doc, changes)
			if changes.Content && input.Content != nil {
				doc.Content = *input.Content
			}
			doc.EditHistory = append(doc.EditHistory, history.Entry(actorID, changes, now))
			doc.LastModified = now
		}
		doc.SharedWith = append(doc.SharedWith, resolved.Grants...)

		updated, err := s.updateDocument(ctx, doc, doc.Version)
		if err != nil {
			return err
		}
		committed, drafts, wrote = updated, resolved.Drafts, true
		return nil
	})
	if err != nil {
		return MutationResult{}, err
	}
	if !wrote {
		return MutationResult{Document: viewOf(committed, store.PermissionEdit)}, nil
	}
	return s.finishMutation(ctx, committed, actorID, drafts), nil
}

// ShareDocument grants the user behind email access to the document and
// notifies them. Re-sharing an existing collaborator at the same level is an
// observable no-op: no duplicate grant, no duplicate notification.
func (s *Service) ShareDocument(ctx context.Context, actorID, documentID string, input ShareDocumentInput) (MutationResult, error) {
	if actorID == "" {
		return MutationResult{}, errAuthRequired()
	}
	if err := validated(input); err != nil {
		return MutationResult{}, err
	}
	actor, err := s.actorIdentity(ctx, actorID)
	if err != nil {
		return MutationResult{}, err
	}

	dirCtx, cancel := s.boundCtx(ctx, s.cfg.DirectoryTimeout)
	defer cancel()
	target, err := s.directory.FindByEmail(dirCtx, input.Email)
	if err != nil {
		return MutationResult{}, errDependency(err)
	}
	if target == nil {
		return MutationResult{}, errNotFound()
	}
	permission := permissionOrDefault(input.Permission)

	var (
		committed store.Document
		drafts    []notify.Draft
	)
	err = s.withConflictRetry(ctx, func() error {
		doc, err := s.getDocument(ctx, documentID)
		if err != nil {
			return backoff.Permanent(err)
		}
		decision := access.Resolve(doc, actorID, store.PermissionEdit)
		if decision.NotFound {
			return backoff.Permanent(errNotFound())
		}
		if !decision.Granted {
			return backoff.Permanent(accessError(actorID))
		}
		if target.ID == doc.AuthorID {
			return backoff.Permanent(errValidation(map[string]string{
				"email": "the author already has full access",
			}))
		}

		existing, shared := doc.GrantFor(target.ID)
		if shared && existing.Permission == permission {
			committed, drafts = doc, nil
			return nil
		}

		if shared {
			// Permission change on an existing collaborator, no re-notify.
			for i := range doc.SharedWith {
				if doc.SharedWith[i].UserID == target.ID {
					doc.SharedWith[i].Permission = permission
				}
			}
			drafts = nil
		} else {
			doc.SharedWith = append(doc.SharedWith, store.Grant{UserID: target.ID, Permission: permission})
			drafts = []notify.Draft{notify.NewDraft(
				target.ID,
				actorID,
				store.NotificationShare,
				doc.ID,
				fmt.Sprintf("%s shared %q with you", actor.DisplayName, doc.Title),
			)}
		}

		updated, err := s.updateDocument(ctx, doc, doc.Version)
		if err != nil {
			return err
		}
		committed = updated
		return nil
	})
	if err != nil {
		return MutationResult{}, err
	}
	return s.finishMutation(ctx, committed, actorID, drafts), nil
}

// UnshareDocument revokes the target's grant. Revoking a user who holds no
// grant is a no-op.
func (s *Service) UnshareDocument(ctx context.Context, actorID, documentID, targetUserID string) (MutationResult, error) {
	if actorID == "" {
		return MutationResult{}, errAuthRequired()
	}
	if strings.TrimSpace(targetUserID) == "" {
		return MutationResult{}, errValidation(map[string]string{"userId": "cannot be blank"})
	}

	var committed store.Document
	err := s.withConflictRetry(ctx, func() error {
		doc, err := s.getDocument(ctx, documentID)
		if err != nil {
			return backoff.Permanent(err)
		}
		decision := access.Resolve(doc, actorID, store.PermissionEdit)
		if decision.NotFound {
			return backoff.Permanent(errNotFound())
		}
		if !decision.Granted {
			return backoff.Permanent(accessError(actorID))
		}

		if _, shared := doc.GrantFor(targetUserID); !shared {
			committed = doc
			return nil
		}
		remaining := doc.SharedWith[:0:0]
		for _, grant := range doc.SharedWith {
			if grant.UserID != targetUserID {
				remaining = append(remaining, grant)
			}
		}
		doc.SharedWith = remaining

		updated, err := s.updateDocument(ctx, doc, doc.Version)
		if err != nil {
			return err
		}
		committed = updated
		return nil
	})
	if err != nil {
		return MutationResult{}, err
	}
	return MutationResult{Document: viewOf(committed, store.PermissionEdit)}, nil
}

// DeleteDocument soft-deletes; only the author may do it, and the document
// becomes invisible to every permission check afterwards.
func (s *Service) DeleteDocument(ctx context.Context, actorID, documentID string) error {
	if actorID == "" {
		return errAuthRequired()
	}
	return s.withConflictRetry(ctx, func() error {
		doc, err := s.getDocument(ctx, documentID)
		if err != nil {
			return backoff.Permanent(err)
		}
		decision := access.Resolve(doc, actorID, store.PermissionView)
		if decision.NotFound {
			return backoff.Permanent(errNotFound())
		}
		if doc.AuthorID != actorID {
			if !decision.Granted {
				return backoff.Permanent(errNotFound())
			}
			return backoff.Permanent(errAccessDenied())
		}

		doc.IsDeleted = true
		if _, err := s.updateDocument(ctx, doc, doc.Version); err != nil {
			return err
		}
		return nil
	})
}

// GetHistory returns the edit history newest-first, prepending the synthetic
// create entry. A deleted document's history stays readable by its author
// only; everyone else sees not-found.
func (s *Service) GetHistory(ctx context.Context, requesterID, documentID string) ([]store.HistoryEntry, error) {
	doc, err := s.getDocument(ctx, documentID)
	if err != nil {
		return nil, err
	}

	if doc.IsDeleted {
		if requesterID == "" || requesterID != doc.AuthorID {
			return nil, errNotFound()
		}
		return history.Full(doc), nil
	}

	decision := access.Resolve(doc, requesterID, store.PermissionView)
	if decision.NotFound {
		return nil, errNotFound()
	}
	if !decision.Granted {
		return nil, accessError(requesterID)
	}
	return history.Full(doc), nil
}

func (s *Service) ListNotifications(ctx context.Context, requesterID string, since *time.Time, page int) (notify.Feed, error) {
	if requesterID == "" {
		return notify.Feed{}, errAuthRequired()
	}
	storeCtx, cancel := s.boundCtx(ctx, s.cfg.StoreTimeout)
	defer cancel()
	feed, err := s.fanout.ListForRecipient(storeCtx, requesterID, since, page, s.pageSize())
	if err != nil {
		return notify.Feed{}, storeFailure(err)
	}
	return feed, nil
}

func (s *Service) PollNotifications(ctx context.Context, requesterID string, since time.Time) (notify.PollResult, error) {
	if requesterID == "" {
		return notify.PollResult{}, errAuthRequired()
	}
	storeCtx, cancel := s.boundCtx(ctx, s.cfg.StoreTimeout)
	defer cancel()
	result, err := s.fanout.PollSince(storeCtx, requesterID, since)
	if err != nil {
		return notify.PollResult{}, storeFailure(err)
	}
	return result, nil
}

func (s *Service) MarkNotificationRead(ctx context.Context, requesterID, notificationID string) (store.Notification, error) {
	if requesterID == "" {
		return store.Notification{}, errAuthRequired()
	}
	storeCtx, cancel := s.boundCtx(ctx, s.cfg.StoreTimeout)
	defer cancel()
	n, err := s.fanout.MarkRead(storeCtx, notificationID, requesterID)
	if err != nil {
		return store.Notification{}, storeFailure(err)
	}
	return n, nil
}

func (s *Service) MarkAllNotificationsRead(ctx context.Context, requesterID string) (int64, error) {
	if requesterID == "" {
		return 0, errAuthRequired()
	}
	storeCtx, cancel := s.boundCtx(ctx, s.cfg.StoreTimeout)
	defer cancel()
	count, err := s.fanout.MarkAllRead(storeCtx, requesterID)
	if err != nil {
		return 0, storeFailure(err)
	}
	return count, nil
}

// ---- internals ----

func (s *Service) getDocument(ctx context.Context, documentID string) (store.Document, error) {
	storeCtx, cancel := s.boundCtx(ctx, s.cfg.StoreTimeout)
	defer cancel()
	doc, err := s.docs.GetDocument(storeCtx, documentID)
	if err != nil {
		return store.Document{}, storeFailure(err)
	}
	return doc, nil
}

// updateDocument performs the conditional write. Version conflicts come back
// raw so the retry loop can catch them; everything else is terminal.
func (s *Service) updateDocument(ctx context.Context, doc store.Document, expectedVersion int64) (store.Document, error) {
	storeCtx, cancel := s.boundCtx(ctx, s.cfg.StoreTimeout)
	defer cancel()
	updated, err := s.docs.UpdateDocument(storeCtx, doc, expectedVersion)
	if errors.Is(err, store.ErrVersionConflict) {
		return store.Document{}, err
	}
	if err != nil {
		return store.Document{}, backoff.Permanent(storeFailure(err))
	}
	return updated, nil
}

func (s *Service) withConflictRetry(ctx context.Context, op func() error) error {
	policy := backoff.NewExponentialBackOff()
	policy.InitialInterval = 10 * time.Millisecond
	policy.MaxInterval = 200 * time.Millisecond

	retries := s.cfg.ConflictRetries
	if retries <= 0 {
		retries = 3
	}

	err := backoff.Retry(op, backoff.WithContext(backoff.WithMaxRetries(policy, uint64(retries)), ctx))
	if errors.Is(err, store.ErrVersionConflict) {
		return errVersionConflict()
	}
	return err
}

func (s *Service) resolveMentions(ctx context.Context, doc store.Document, content string, actor store.Identity) (mention.Result, error) {
	tokens := mention.Extract(content)
	if len(tokens) == 0 {
		return mention.Result{}, nil
	}
	dirCtx, cancel := s.boundCtx(ctx, s.cfg.DirectoryTimeout)
	defer cancel()
	result, err := s.mentions.ResolveAutoShare(dirCtx, doc, tokens, actor)
	if err != nil {
		return mention.Result{}, errDependency(err)
	}
	return result, nil
}

// finishMutation dispatches the drafts produced by a committed mutation.
// Fan-out failures are reported in the result, not as operation errors.
func (s *Service) finishMutation(ctx context.Context, doc store.Document, actorID string, drafts []notify.Draft) MutationResult {
	result := MutationResult{Document: viewOf(doc, effectiveFor(doc, actorID))}
	if len(drafts) == 0 {
		return result
	}

	storeCtx, cancel := s.boundCtx(ctx, s.cfg.StoreTimeout)
	defer cancel()
	created, err := s.fanout.Dispatch(storeCtx, drafts)
	result.Notified = created
	if err != nil {
		var merr *multierror.Error
		if errors.As(err, &merr) {
			for _, failure := range merr.Errors {
				result.NotifyFailures = append(result.NotifyFailures, failure.Error())
			}
		} else {
			result.NotifyFailures = append(result.NotifyFailures, err.Error())
		}
	}
	return result
}

func (s *Service) actorIdentity(ctx context.Context, actorID string) (store.Identity, error) {
	dirCtx, cancel := s.boundCtx(ctx, s.cfg.DirectoryTimeout)
	defer cancel()
	identity, err := s.directory.FindByID(dirCtx, actorID)
	if err != nil {
		return store.Identity{}, errDependency(err)
	}
	if identity == nil {
		return store.Identity{}, errAuthRequired()
	}
	return *identity, nil
}

func (s *Service) boundCtx(ctx context.Context, timeout time.Duration) (context.Context, context.CancelFunc) {
	if timeout <= 0 {
		return context.WithCancel(ctx)
	}
	return context.WithTimeout(ctx, timeout)
}

func (s *Service) pageSize() int {
	if s.cfg.PageSize > 0 {
		return s.cfg.PageSize
	}
	return 20
}

func applyChanges(doc *store.Document, changes store.ChangeSet) {
	if changes.Title != nil {
		doc.Title = *changes.Title
	}
	if changes.Visibility != nil {
		doc.Visibility = *changes.Visibility
	}
	if changes.Tags != nil {
		doc.Tags = changes.Tags
	}
}

func viewOf(doc store.Document, effective store.Permission) DocumentView {
	return DocumentView{
		ID:                  doc.ID,
		Title:               doc.Title,
		Content:             doc.Content,
		AuthorID:            doc.AuthorID,
		Visibility:          doc.Visibility,
		Tags:                doc.Tags,
		SharedWith:          doc.SharedWith,
		EffectivePermission: effective,
		Version:             doc.Version,
		CreatedAt:           doc.CreatedAt,
		LastModified:        doc.LastModified,
	}
}

// effectiveFor reports the strongest permission the requester holds; the
// public-visibility rule alone never grants more than view, so edit is
// checked first.
func effectiveFor(doc store.Document, requesterID string) store.Permission {
	if decision := access.Resolve(doc, requesterID, store.PermissionEdit); decision.Granted {
		return store.PermissionEdit
	}
	decision := access.Resolve(doc, requesterID, store.PermissionView)
	return decision.Effective
}

func visibilityOrDefault(v string) store.Visibility {
	if v == string(store.VisibilityPublic) {
		return store.VisibilityPublic
	}
	return store.VisibilityPrivate
}

func permissionOrDefault(p string) store.Permission {
	if p == string(store.PermissionEdit) {
		return store.PermissionEdit
	}
	return store.PermissionView
}

func normalizeTags(tags []string) []string {
	out := make([]string, 0, len(tags))
	seen := make(map[string]struct{}, len(tags))
	for _, tag := range tags {
		tag = strings.TrimSpace(tag)
		if tag == "" {
			continue
		}
		if _, ok := seen[tag]; ok {
			continue
		}
		seen[tag] = struct{}{}
		out = append(out, tag)
	}
	return out
}
