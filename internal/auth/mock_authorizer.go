package auth

import (
	"context"
	"fmt"

	"github.com/tabwarden/tabwarden/internal/model"
)

const (
	// LocalDevAPIKey is the hardcoded API key for local development only
	LocalDevAPIKey = "tw_local_dev_key"
)

// MockAuthorizer accepts only LocalDevAPIKey and grants it every subject.
type MockAuthorizer struct{}

func NewMockAuthorizer() *MockAuthorizer {
	return &MockAuthorizer{}
}

func (m *MockAuthorizer) Authorize(ctx context.Context, apiKey, operation, subjectID string) (*ActorInfo, error) {
	if apiKey != LocalDevAPIKey {
		return nil, fmt.Errorf("%w: invalid API key for local development", model.ErrUnauthorized)
	}
	return &ActorInfo{
		ActorID:   "tabwarden-dev",
		SubjectID: AnySubject,
		KeyName:   "Local Development Key",
	}, nil
}
