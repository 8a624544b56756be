package model

// Wire payloads exchanged between the agent and the ledger service. Each
// telemetry kind has its own fixed field set.

// UsageReport adds seconds of foreground time on a domain.
type UsageReport struct {
	Domain  string `json:"domain"`
	Seconds int64  `json:"seconds"`
}

// SearchReport records a search query observed on a search-engine domain.
type SearchReport struct {
	Domain string `json:"domain"`
	Query  string `json:"query"`
}

// IncognitoReport records a private window the agent closed.
type IncognitoReport struct {
	URL string `json:"url"`
}

// BlockCheck is the answer to an is-blocked query.
type BlockCheck struct {
	Blocked bool   `json:"blocked"`
	Domain  string `json:"domain"`
}

// CategoryUpdate resets the category label of a usage record.
type CategoryUpdate struct {
	Category string `json:"category"`
}

// CreateSubjectRequest provisions a subject.
type CreateSubjectRequest struct {
	SubjectID string `json:"subjectId"`
}
