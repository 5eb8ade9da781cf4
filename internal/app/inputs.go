package app

import (
	validation "github.com/go-ozzo/ozzo-validation/v4"
	"github.com/go-ozzo/ozzo-validation/v4/is"
)

type CreateDocumentInput struct {
	Title      string   `json:"title"`
	Content    string   `json:"content"`
	Visibility string   `json:"visibility"`
	Tags       []string `json:"tags"`
}

func (in CreateDocumentInput) Validate() error {
	return validation.ValidateStruct(&in,
		validation.Field(&in.Title, validation.Required, validation.RuneLength(1, 200)),
		validation.Field(&in.Content, validation.RuneLength(0, 1<<20)),
		validation.Field(&in.Visibility, validation.In("", "public", "private")),
		validation.Field(&in.Tags, validation.Each(validation.Required, validation.RuneLength(1, 64))),
	)
}

// UpdateDocumentInput is a partial document; nil fields are not proposed.
type UpdateDocumentInput struct {
	Title      *string   `json:"title"`
	Content    *string   `json:"content"`
	Visibility *string   `json:"visibility"`
	Tags       *[]string `json:"tags"`
}

func (in UpdateDocumentInput) Validate() error {
	err := validation.ValidateStruct(&in,
		validation.Field(&in.Title, validation.NilOrNotEmpty, validation.RuneLength(1, 200)),
		validation.Field(&in.Content, validation.RuneLength(0, 1<<20)),
		// In skips empty values, so a proposed empty visibility must be
		// rejected explicitly or it would slip past the enum check.
		validation.Field(&in.Visibility,
			validation.Required.When(in.Visibility != nil),
			validation.In("public", "private")),
	)
	if err != nil {
		return err
	}
	// Each does not indirect a pointer to slice; validate the dereferenced
	// value with the same rules create enforces.
	if in.Tags != nil {
		if tagErr := validation.Validate(*in.Tags, validation.Each(validation.Required, validation.RuneLength(1, 64))); tagErr != nil {
			return validation.Errors{"tags": tagErr}
		}
	}
	return nil
}

type ShareDocumentInput struct {
	Email      string `json:"email"`
	Permission string `json:"permission"`
}

func (in ShareDocumentInput) Validate() error {
	return validation.ValidateStruct(&in,
		validation.Field(&in.Email, validation.Required, is.Email),
		validation.Field(&in.Permission, validation.In("", "view", "edit")),
	)
}

// validated returns field-level details as a VALIDATION_FAILED domain error.
func validated(in interface{ Validate() error }) error {
	if err := in.Validate(); err != nil {
		return errValidation(err)
	}
	return nil
}
