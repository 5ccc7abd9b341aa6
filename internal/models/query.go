package models

import "fmt"

// MaxRelatedLimit caps the number of related documents a single query may return.
const MaxRelatedLimit = 100

// RelatedQuery is a request for documents related to ID.
type RelatedQuery struct {
	ID    string `json:"id"`
	Limit int    `json:"limit,omitempty"`
}

// Validate ensures the query has an id and normalizes the limit.
// A non-positive limit becomes defaultLimit; limits above MaxRelatedLimit are capped.
func (q *RelatedQuery) Validate(defaultLimit int) error {
	if q.ID == "" {
		return fmt.Errorf("id cannot be empty")
	}
	if q.Limit <= 0 {
		q.Limit = defaultLimit
	}
	if q.Limit > MaxRelatedLimit {
		q.Limit = MaxRelatedLimit
	}
	return nil
}
