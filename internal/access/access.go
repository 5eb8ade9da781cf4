// Package access computes the effective permission a requester holds on a
// document from owner, visibility and shared-list state. Resolve is a pure
// function of its inputs so the rules stay independently testable.
package access

import "inkwell/api/internal/store"

type Decision struct {
	Granted   bool
	NotFound  bool
	Effective store.Permission
}

// Resolve evaluates the access rules in order, first match wins:
//
//  1. deleted documents resolve not-found for everyone, so their existence
//     never leaks (owner-only history reads are handled at the caller)
//  2. the author always holds edit
//  3. public documents grant view to anyone, including anonymous requesters
//  4. otherwise the shared list decides
//
// An empty requesterID is an anonymous caller and only ever passes rule 3.
func Resolve(doc store.Document, requesterID string, required store.Permission) Decision {
	if doc.IsDeleted {
		return Decision{NotFound: true}
	}
	if requesterID != "" && requesterID == doc.AuthorID {
		return Decision{Granted: true, Effective: store.PermissionEdit}
	}
	if doc.Visibility == store.VisibilityPublic && required == store.PermissionView {
		return Decision{Granted: true, Effective: store.PermissionView}
	}
	if requesterID == "" {
		return Decision{}
	}
	grant, ok := doc.GrantFor(requesterID)
	if !ok {
		return Decision{}
	}
	if required == store.PermissionEdit && grant.Permission != store.PermissionEdit {
		return Decision{Effective: grant.Permission}
	}
	return Decision{Granted: true, Effective: grant.Permission}
}
