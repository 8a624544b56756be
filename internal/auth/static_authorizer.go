package auth

import (
	"context"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/hex"
	"fmt"

	"github.com/tabwarden/tabwarden/internal/model"
)

// StaticAuthorizer maps fixed tokens to subjects. A token granted AnySubject
// acts for a guardian and may read, manage and provision any subject. A token
// bound to one subject is an agent credential: it may only report telemetry
// and check blocks for that subject.
type StaticAuthorizer struct {
	grants []grant
}

type grant struct {
	digest    [sha256.Size]byte
	subjectID string
	actorID   string
}

// NewStaticAuthorizer builds an authorizer from token → subject pairs.
func NewStaticAuthorizer(tokens map[string]string) *StaticAuthorizer {
	a := &StaticAuthorizer{}
	for token, subject := range tokens {
		d := sha256.Sum256([]byte(token))
		a.grants = append(a.grants, grant{
			digest:    d,
			subjectID: subject,
			actorID:   "key-" + hex.EncodeToString(d[:4]),
		})
	}
	return a
}

func (a *StaticAuthorizer) Authorize(ctx context.Context, apiKey, operation, subjectID string) (*ActorInfo, error) {
	d := sha256.Sum256([]byte(apiKey))
	var match *grant
	// Compare against every grant so timing does not reveal which matched.
	for i := range a.grants {
		if subtle.ConstantTimeCompare(d[:], a.grants[i].digest[:]) == 1 {
			match = &a.grants[i]
		}
	}
	if match == nil {
		return nil, fmt.Errorf("%w: unknown API key", model.ErrUnauthorized)
	}
	actor := &ActorInfo{ActorID: match.actorID, SubjectID: match.subjectID, KeyName: "static"}
	if operation == OpProvision {
		if actor.SubjectID != AnySubject {
			return nil, fmt.Errorf("%w: key may not provision subjects", model.ErrUnauthorized)
		}
		return actor, nil
	}
	if operation != OpReport && actor.SubjectID != AnySubject {
		return nil, fmt.Errorf("%w: agent key may not perform %s", model.ErrUnauthorized, operation)
	}
	if !actor.CanAccess(subjectID) {
		return nil, fmt.Errorf("%w: key does not cover subject %q", model.ErrUnauthorized, subjectID)
	}
	return actor, nil
}
