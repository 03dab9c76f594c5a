package search

import "log"

// Service is the facade that tries Meilisearch first and falls back to
// Postgres.
type Service struct {
	meili *Meili
	pg    *PgTitle
}

// NewService creates a search service. meili may be nil if Meilisearch is not
// configured.
func NewService(meili *Meili, pg *PgTitle) *Service {
	return &Service{meili: meili, pg: pg}
}

// Search tries Meilisearch if healthy, otherwise the Postgres fallback.
func (s *Service) Search(q Query) Response {
	if s.meili != nil && s.meili.Healthy() {
		results, total, err := s.meili.Search(q)
		if err == nil {
			return Response{Results: nonNil(results), Total: total, Query: q.Text}
		}
		log.Printf("search: meilisearch error, falling back to postgres: %v", err)
	}

	results, total, err := s.pg.Search(q)
	if err != nil {
		log.Printf("search: postgres error: %v", err)
		return Response{Results: []Result{}, Total: 0, Query: q.Text}
	}
	return Response{Results: nonNil(results), Total: total, Query: q.Text}
}

// IndexArticle indexes one article, fire-and-forget.
func (s *Service) IndexArticle(record ArticleRecord) {
	if s.meili == nil || !s.meili.Healthy() {
		return
	}
	go func() {
		if err := s.meili.IndexArticle(record); err != nil {
			log.Printf("search: index article %s: %v", record.ID, err)
		}
	}()
}

// IndexArticles bulk-indexes articles, fire-and-forget.
func (s *Service) IndexArticles(records []ArticleRecord) {
	if s.meili == nil || !s.meili.Healthy() || len(records) == 0 {
		return
	}
	go func() {
		if err := s.meili.IndexArticles(records); err != nil {
			log.Printf("search: index %d articles: %v", len(records), err)
		}
	}()
}

// DeleteArticle removes an article from the index, fire-and-forget.
func (s *Service) DeleteArticle(id string) {
	if s.meili == nil || !s.meili.Healthy() {
		return
	}
	go func() {
		if err := s.meili.DeleteArticle(id); err != nil {
			log.Printf("search: delete article %s: %v", id, err)
		}
	}()
}

func nonNil(results []Result) []Result {
	if results == nil {
		return []Result{}
	}
	return results
}
