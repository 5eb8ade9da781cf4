package store

import "time"

type Permission string

const (
	PermissionView Permission = "view"
	PermissionEdit Permission = "edit"
)

type Visibility string

const (
	VisibilityPublic  Visibility = "public"
	VisibilityPrivate Visibility = "private"
)

type Identity struct {
	ID          string
	DisplayName string
	Email       string
	CreatedAt   time.Time
}

// Grant is one entry in a document's shared-access list. A document holds at
// most one grant per user, and never one for its author.
type Grant struct {
	UserID     string     `json:"userId"`
	Permission Permission `json:"permission"`
}

// ChangeSet records which document fields an update touched. Content changes
// are recorded as a marker only; history entries never carry document text.
type ChangeSet struct {
	Title      *string     `json:"title,omitempty"`
	Content    bool        `json:"content,omitempty"`
	Visibility *Visibility `json:"visibility,omitempty"`
	Tags       []string    `json:"tags,omitempty"`
}

func (c ChangeSet) IsEmpty() bool {
	return c.Title == nil && !c.Content && c.Visibility == nil && c.Tags == nil
}

type HistoryAction string

const (
	HistoryActionCreate HistoryAction = "create"
	HistoryActionUpdate HistoryAction = "update"
)

// HistoryEntry is immutable once appended; ordering is insertion order.
type HistoryEntry struct {
	ActorID   string        `json:"actorId"`
	Action    HistoryAction `json:"action"`
	Changes   ChangeSet     `json:"changes"`
	Timestamp time.Time     `json:"timestamp"`
}

// Document is the long-lived aggregate. Version is the optimistic-concurrency
// counter: it starts at 1 and every committed mutation bumps it by one.
type Document struct {
	ID           string
	Title        string
	Content      string
	AuthorID     string
	Visibility   Visibility
	Tags         []string
	SharedWith   []Grant
	EditHistory  []HistoryEntry
	IsDeleted    bool
	Version      int64
	CreatedAt    time.Time
	LastModified time.Time
}

// GrantFor returns the grant held by userID, if any.
func (d Document) GrantFor(userID string) (Grant, bool) {
	for _, g := range d.SharedWith {
		if g.UserID == userID {
			return g, true
		}
	}
	return Grant{}, false
}

type NotificationType string

const (
	NotificationMention NotificationType = "mention"
	NotificationShare   NotificationType = "share"
)

// Notification references a document by identifier only; a deleted document
// leaves stale notifications behind, which read their historical message text.
type Notification struct {
	ID          string
	RecipientID string
	SenderID    string
	Type        NotificationType
	DocumentID  string
	Message     string
	IsRead      bool
	CreatedAt   time.Time
}
