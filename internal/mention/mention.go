// Package mention extracts @-mentions from document content and turns them
// into view grants and notification drafts for the resolved collaborators.
package mention

import (
	"context"
	"fmt"
	"regexp"

	"go.uber.org/zap"

	"inkwell/api/internal/notify"
	"inkwell/api/internal/store"
)

var tokenPattern = regexp.MustCompile(`@(\w+)`)

// Extract returns the mention tokens in content: maximal word-character runs
// immediately following '@', de-duplicated preserving first-seen order.
func Extract(content string) []string {
	matches := tokenPattern.FindAllStringSubmatch(content, -1)
	if len(matches) == 0 {
		return nil
	}

	seen := make(map[string]struct{}, len(matches))
	tokens := make([]string, 0, len(matches))
	for _, match := range matches {
		token := match[1]
		if _, ok := seen[token]; ok {
			continue
		}
		seen[token] = struct{}{}
		tokens = append(tokens, token)
	}
	return tokens
}

// Directory is the identity lookup the engine needs.
type Directory interface {
	FindByNamePrefix(ctx context.Context, token string) ([]store.Identity, error)
}

type Engine struct {
	dir Directory
	log *zap.Logger
}

func NewEngine(dir Directory, log *zap.Logger) *Engine {
	if log == nil {
		log = zap.NewNop()
	}
	return &Engine{dir: dir, log: log}
}

// Result carries the auto-share outcome: grants to merge into the document's
// shared list and drafts for the notification fan-out.
type Result struct {
	Grants []store.Grant
	Drafts []notify.Draft
}

// ResolveAutoShare resolves each token against the directory and grants view
// access to every match not already covered. The prefix match is deliberately
// loose: a token may resolve to several identities and all of them are
// processed. The actor, the author and already-shared users are skipped, so
// repeated mentions of an existing collaborator change nothing.
func (e *Engine) ResolveAutoShare(ctx context.Context, doc store.Document, tokens []string, actor store.Identity) (Result, error) {
	var result Result
	if len(tokens) == 0 {
		return result, nil
	}

	covered := make(map[string]struct{}, len(doc.SharedWith)+2)
	covered[doc.AuthorID] = struct{}{}
	covered[actor.ID] = struct{}{}
	for _, grant := range doc.SharedWith {
		covered[grant.UserID] = struct{}{}
	}

	for _, token := range tokens {
		identities, err := e.dir.FindByNamePrefix(ctx, token)
		if err != nil {
			return Result{}, fmt.Errorf("resolve mention %q: %w", token, err)
		}
		if len(identities) == 0 {
			continue
		}
		if len(identities) > 1 {
			e.log.Debug("ambiguous mention token",
				zap.String("token", token),
				zap.Int("matches", len(identities)))
		}

		for _, identity := range identities {
			if _, ok := covered[identity.ID]; ok {
				continue
			}
			covered[identity.ID] = struct{}{}

			result.Grants = append(result.Grants, store.Grant{
				UserID:     identity.ID,
				Permission: store.PermissionView,
			})
			result.Drafts = append(result.Drafts, notify.NewDraft(
				identity.ID,
				actor.ID,
				store.NotificationMention,
				doc.ID,
				fmt.Sprintf("%s mentioned you in %q", actor.DisplayName, doc.Title),
			))
		}
	}
	return result, nil
}
