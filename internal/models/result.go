package models

// RelatedResult is one related document. Score is the estimator's similarity;
// DisplayScore is Score after the cosmetic boost applied to sampled or relaxed corpora.
type RelatedResult struct {
	ID           string  `json:"id"`
	Title        string  `json:"title,omitempty"`
	Score        float64 `json:"score"`
	DisplayScore float64 `json:"display_score"`
	Rank         int     `json:"rank"`
}

// RelatedResponse is the response for a related-documents request.
type RelatedResponse struct {
	ID        string           `json:"id"`
	Results   []*RelatedResult `json:"results"`
	Total     int              `json:"total"`
	QueryTime int64            `json:"query_time_ms"`
	// Sampled reports that the index covers only the most recent documents of a large corpus.
	Sampled bool `json:"sampled,omitempty"`
	// Relaxed reports that large-corpus retrieval parameters are active.
	Relaxed bool `json:"relaxed,omitempty"`
}

// SimilarityResponse is the response for a pairwise similarity request.
type SimilarityResponse struct {
	A     string  `json:"a"`
	B     string  `json:"b"`
	Score float64 `json:"score"`
}
