// Package auth resolves bearer credentials to the subjects they may act on.
// Credential issuance lives outside the ledger; this package only checks
// that a presented key covers the requested subject.
package auth

import (
	"context"
)

// Operations checked by the API layer.
const (
	OpReport    = "ledger.report"
	OpRead      = "ledger.read"
	OpManage    = "ledger.manage"
	OpProvision = "subject.create"
)

// AnySubject in a grant covers every subject.
const AnySubject = "*"

// ActorInfo describes an authenticated caller.
type ActorInfo struct {
	ActorID string `json:"actor_id"`
	// SubjectID is the subject this actor is bound to, or AnySubject.
	SubjectID string `json:"subject_id"`
	KeyName   string `json:"key_name"`
}

// CanAccess reports whether the actor's grant covers subjectID.
func (a *ActorInfo) CanAccess(subjectID string) bool {
	return a.SubjectID == AnySubject || a.SubjectID == subjectID
}

// Authorizer validates an API key and checks it covers (operation, subjectID)
// in one call. Failures wrap model.ErrUnauthorized.
type Authorizer interface {
	Authorize(ctx context.Context, apiKey, operation, subjectID string) (*ActorInfo, error)
}
