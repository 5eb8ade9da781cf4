package app

import (
	"context"

	"go.uber.org/zap"
)

// Bootstrap seeds demo identities and documents into an empty store so a
// fresh instance has something to show. It goes through the normal operations
// so grants, history and notifications come out the same way real traffic
// produces them.
func (s *Service) Bootstrap(ctx context.Context) error {
	count, err := s.docs.DocumentCount(ctx)
	if err != nil {
		return err
	}
	if count > 0 {
		return nil
	}

	seedUsers := []struct {
		Name  string
		Email string
	}{
		{Name: "Avery Chen", Email: "avery@inkwell.dev"},
		{Name: "John Smith", Email: "john.smith@inkwell.dev"},
		{Name: "John Doe", Email: "john.doe@inkwell.dev"},
		{Name: "Priya Patel", Email: "priya@inkwell.dev"},
	}
	ids := make(map[string]string, len(seedUsers))
	for _, seed := range seedUsers {
		identity, err := s.directory.EnsureIdentity(ctx, seed.Name, seed.Email)
		if err != nil {
			return err
		}
		ids[seed.Name] = identity.ID
	}

	avery := ids["Avery Chen"]

	created, err := s.CreateDocument(ctx, avery, CreateDocumentInput{
		Title:      "Team Charter",
		Content:    "Welcome aboard. @Priya will own onboarding; ping @John with infra questions.",
		Visibility: "public",
		Tags:       []string{"handbook", "team"},
	})
	if err != nil {
		return err
	}
	s.log.Info("seeded document",
		zap.String("id", created.Document.ID),
		zap.Int("autoShared", len(created.Document.SharedWith)))

	private, err := s.CreateDocument(ctx, avery, CreateDocumentInput{
		Title:   "Q3 Planning Notes",
		Content: "Draft goals for the quarter. Not ready to circulate yet.",
		Tags:    []string{"planning"},
	})
	if err != nil {
		return err
	}
	if _, err := s.ShareDocument(ctx, avery, private.Document.ID, ShareDocumentInput{
		Email:      "priya@inkwell.dev",
		Permission: "edit",
	}); err != nil {
		return err
	}
	return nil
}
