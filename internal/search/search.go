// Package search provides article title search: Meilisearch when available,
// Postgres as the fallback. Semantic similarity search is a separate
// collaborator and not handled here.
package search

// Result is a single title hit.
type Result struct {
	ID        string `json:"id"`
	Title     string `json:"title"`
	Icon      string `json:"icon,omitempty"`
	CreatedAt int64  `json:"createdAt"`
}

// Query describes a title search scoped to one owner.
type Query struct {
	OwnerID string
	Text    string
	Limit   int
}

// Response is the envelope returned by the search endpoint.
type Response struct {
	Results []Result `json:"results"`
	Total   int      `json:"total"`
	Query   string   `json:"query"`
}

// ArticleRecord is the indexed shape of an article.
type ArticleRecord struct {
	ID        string `json:"id"`
	UserID    string `json:"userId"`
	Title     string `json:"title"`
	Icon      string `json:"icon"`
	CreatedAt int64  `json:"createdAt"`
}
