package app

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log"
	"mime/multipart"
	"net/http"
	"strconv"
	"strings"
	"time"

	"inkwell/api/internal/notionimport"
	"inkwell/api/internal/store"
)

const maxImportBytes = 64 << 20

type HTTPServer struct {
	service    *Service
	corsOrigin string
}

func NewHTTPServer(service *Service, corsOrigin string) *HTTPServer {
	return &HTTPServer{service: service, corsOrigin: corsOrigin}
}

func (s *HTTPServer) Handler() http.Handler {
	return s.withMiddleware(http.HandlerFunc(s.handle))
}

func (s *HTTPServer) handle(w http.ResponseWriter, r *http.Request) {
	if r.Method == http.MethodOptions {
		w.WriteHeader(http.StatusNoContent)
		return
	}

	if (r.Method == http.MethodGet || r.Method == http.MethodHead) && r.URL.Path == "/api/health" {
		writeJSON(w, http.StatusOK, map[string]any{"ok": true})
		return
	}

	if (r.Method == http.MethodGet || r.Method == http.MethodHead) && r.URL.Path == "/api/ready" {
		ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
		defer cancel()

		if err := s.service.Ping(ctx); err != nil {
			writeJSON(w, http.StatusServiceUnavailable, map[string]any{"ok": false, "error": err.Error()})
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"ok": true})
		return
	}

	// The OAuth redirect arrives from the provider without a bearer token;
	// identity is recovered from the state token inside the flow.
	if r.Method == http.MethodGet && r.URL.Path == "/api/notion/callback" {
		query := r.URL.Query()
		redirect := s.service.HandleOAuthCallback(r.Context(), CallbackQuery{
			Code:             query.Get("code"),
			State:            query.Get("state"),
			Error:            query.Get("error"),
			ErrorDescription: query.Get("error_description"),
		})
		http.Redirect(w, r, redirect, http.StatusFound)
		return
	}

	// Everything below requires a session.
	session, err := s.sessionFromRequest(r)
	if err != nil {
		writeError(w, http.StatusUnauthorized, "UNAUTHORIZED", "Missing or invalid session token")
		return
	}

	switch {
	case r.Method == http.MethodPost && r.URL.Path == "/api/notion/connect":
		s.handleNotionConnect(w, r, session)
	case r.Method == http.MethodGet && r.URL.Path == "/api/notion/connection":
		s.handleNotionConnection(w, r, session)
	case r.Method == http.MethodGet && r.URL.Path == "/api/notion/databases":
		s.handleNotionDatabases(w, r, session)
	case r.Method == http.MethodPost && r.URL.Path == "/api/notion/select-database":
		s.handleNotionSelectDatabase(w, r, session)
	case r.Method == http.MethodPost && r.URL.Path == "/api/notion/disconnect":
		s.handleNotionDisconnect(w, r, session)
	case r.Method == http.MethodPost && r.URL.Path == "/api/import":
		s.handleImport(w, r, session)
	case r.Method == http.MethodGet && r.URL.Path == "/api/search":
		s.handleSearch(w, r, session)
	case r.URL.Path == "/api/settings/ai-prompt":
		s.handleAIPrompt(w, r, session)
	default:
		s.handleArticles(w, r, session)
	}
}

func (s *HTTPServer) handleNotionConnect(w http.ResponseWriter, r *http.Request, session Session) {
	start, err := s.service.BeginConnect(r.Context(), session.UserID)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, start)
}

func (s *HTTPServer) handleNotionConnection(w http.ResponseWriter, r *http.Request, session Session) {
	status, err := s.service.ConnectionStatus(r.Context(), session.UserID)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, status)
}

func (s *HTTPServer) handleNotionDatabases(w http.ResponseWriter, r *http.Request, session Session) {
	databases, err := s.service.ListDatabases(r.Context(), session.UserID)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"databases": databases})
}

func (s *HTTPServer) handleNotionSelectDatabase(w http.ResponseWriter, r *http.Request, session Session) {
	var body struct {
		DatabaseID   string `json:"databaseId"`
		DatabaseName string `json:"databaseName"`
	}
	if err := decodeBody(r, &body); err != nil {
		writeError(w, http.StatusBadRequest, "INVALID_BODY", err.Error())
		return
	}
	if err := s.service.SelectDatabase(r.Context(), session.UserID, body.DatabaseID, body.DatabaseName); err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"ok": true})
}

func (s *HTTPServer) handleNotionDisconnect(w http.ResponseWriter, r *http.Request, session Session) {
	if err := s.service.Disconnect(r.Context(), session.UserID); err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"ok": true})
}

func (s *HTTPServer) handleImport(w http.ResponseWriter, r *http.Request, session Session) {
	if err := r.ParseMultipartForm(maxImportBytes); err != nil {
		writeError(w, http.StatusBadRequest, "INVALID_UPLOAD", "Could not parse upload")
		return
	}
	defer r.MultipartForm.RemoveAll()

	var metadata *notionimport.File
	var files []notionimport.File
	for _, header := range r.MultipartForm.File["files"] {
		data, err := readUpload(header)
		if err != nil {
			writeError(w, http.StatusBadRequest, "INVALID_UPLOAD", fmt.Sprintf("Could not read %s", header.Filename))
			return
		}
		name := header.Filename
		lower := strings.ToLower(name)
		switch {
		case strings.HasSuffix(lower, ".csv"):
			// The export carries one metadata table; the first CSV wins.
			if metadata == nil {
				metadata = &notionimport.File{Name: name, Data: data}
			}
		case strings.HasSuffix(lower, ".html"), strings.HasSuffix(lower, ".htm"):
			files = append(files, notionimport.File{Name: name, Data: data})
		}
	}

	if len(files) == 0 {
		writeError(w, http.StatusUnprocessableEntity, "VALIDATION_ERROR", "No documents in upload")
		return
	}

	count, err := s.service.ImportArticles(r.Context(), session.UserID, metadata, files)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"imported": count})
}

func (s *HTTPServer) handleAIPrompt(w http.ResponseWriter, r *http.Request, session Session) {
	switch r.Method {
	case http.MethodGet:
		prompt, err := s.service.AIPrompt(r.Context(), session.UserID)
		if err != nil {
			writeServiceError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"prompt": prompt})
	case http.MethodPut:
		var body struct {
			Prompt string `json:"prompt"`
		}
		if err := decodeBody(r, &body); err != nil {
			writeError(w, http.StatusBadRequest, "INVALID_BODY", err.Error())
			return
		}
		if err := s.service.SetAIPrompt(r.Context(), session.UserID, body.Prompt); err != nil {
			writeServiceError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"ok": true})
	default:
		writeError(w, http.StatusNotFound, "NOT_FOUND", "Not found")
	}
}

func (s *HTTPServer) handleSearch(w http.ResponseWriter, r *http.Request, session Session) {
	query := r.URL.Query()
	limit, _ := strconv.Atoi(query.Get("limit"))
	response := s.service.SearchTitles(session.UserID, query.Get("q"), limit)
	writeJSON(w, http.StatusOK, response)
}

// handleArticles dispatches /api/articles and its sub-paths.
func (s *HTTPServer) handleArticles(w http.ResponseWriter, r *http.Request, session Session) {
	parts := splitPath(r.URL.Path)
	if len(parts) < 2 || parts[0] != "api" || parts[1] != "articles" {
		writeError(w, http.StatusNotFound, "NOT_FOUND", "Not found")
		return
	}

	switch {
	case len(parts) == 2 && r.Method == http.MethodPost:
		article, err := s.service.CreateArticle(r.Context(), session.UserID)
		if err != nil {
			writeServiceError(w, err)
			return
		}
		writeJSON(w, http.StatusCreated, articleJSON(article, false))

	case len(parts) == 2 && r.Method == http.MethodGet:
		query := r.URL.Query()
		limit, _ := strconv.Atoi(query.Get("limit"))
		articles, nextCursor, err := s.service.ListArticles(r.Context(), session.UserID, query.Get("cursor"), limit)
		if err != nil {
			writeServiceError(w, err)
			return
		}
		page := make([]map[string]any, 0, len(articles))
		for _, article := range articles {
			page = append(page, articleJSON(article, false))
		}
		writeJSON(w, http.StatusOK, map[string]any{
			"page":           page,
			"continueCursor": nextCursor,
			"isDone":         nextCursor == "",
		})

	case len(parts) == 3 && r.Method == http.MethodGet:
		article, err := s.service.GetArticle(r.Context(), parts[2], session.UserID)
		if err != nil {
			writeServiceError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, articleJSON(article, true))

	case len(parts) == 3 && r.Method == http.MethodPatch:
		s.handleArticlePatch(w, r, session, parts[2])

	case len(parts) == 3 && r.Method == http.MethodDelete:
		if err := s.service.DeleteArticle(r.Context(), parts[2], session.UserID); err != nil {
			writeServiceError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"ok": true})

	case len(parts) == 4 && parts[3] == "save-to-notion" && r.Method == http.MethodPost:
		// Soft outcome contract: HTTP 200 either way, success flag inside.
		writeJSON(w, http.StatusOK, s.service.SaveArticleToNotion(r.Context(), session.UserID, parts[2]))

	case len(parts) == 4 && parts[3] == "reflect" && r.Method == http.MethodPost:
		message, err := s.service.ArticleReflection(r.Context(), session.UserID, parts[2])
		if err != nil {
			writeServiceError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"reflection": message})

	default:
		writeError(w, http.StatusNotFound, "NOT_FOUND", "Not found")
	}
}

func (s *HTTPServer) handleArticlePatch(w http.ResponseWriter, r *http.Request, session Session, id string) {
	var body struct {
		Title   *string `json:"title"`
		Content *string `json:"content"`
		Icon    *string `json:"icon"`
	}
	if err := decodeBody(r, &body); err != nil {
		writeError(w, http.StatusBadRequest, "INVALID_BODY", err.Error())
		return
	}
	if body.Title == nil && body.Content == nil && body.Icon == nil {
		writeError(w, http.StatusUnprocessableEntity, "VALIDATION_ERROR", "Nothing to update")
		return
	}

	if body.Title != nil {
		if err := s.service.UpdateArticleTitle(r.Context(), id, session.UserID, *body.Title); err != nil {
			writeServiceError(w, err)
			return
		}
	}
	if body.Content != nil {
		if err := s.service.UpdateArticleContent(r.Context(), id, session.UserID, *body.Content); err != nil {
			writeServiceError(w, err)
			return
		}
	}
	if body.Icon != nil {
		if err := s.service.UpdateArticleIcon(r.Context(), id, session.UserID, *body.Icon); err != nil {
			writeServiceError(w, err)
			return
		}
	}
	writeJSON(w, http.StatusOK, map[string]any{"ok": true})
}

func (s *HTTPServer) sessionFromRequest(r *http.Request) (Session, error) {
	token := bearerToken(r)
	if token == "" {
		return Session{}, errors.New("missing bearer token")
	}
	return s.service.SessionFromToken(token)
}

func articleJSON(article store.Article, includeContent bool) map[string]any {
	payload := map[string]any{
		"id":        article.ID,
		"title":     article.Title,
		"icon":      article.Icon,
		"createdAt": article.CreatedAt,
	}
	if includeContent {
		payload["content"] = article.Content
		payload["originalHtml"] = article.OriginalHTML
	}
	return payload
}

func readUpload(header *multipart.FileHeader) ([]byte, error) {
	file, err := header.Open()
	if err != nil {
		return nil, err
	}
	defer file.Close()
	return io.ReadAll(io.LimitReader(file, maxImportBytes))
}

func (s *HTTPServer) withMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		requestID := r.Header.Get("X-Request-ID")
		if requestID == "" {
			requestID = randomRequestID()
		}

		started := time.Now()
		writer := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		setCORSHeaders(writer.Header(), s.corsOrigin)
		writer.Header().Set("X-Request-ID", requestID)

		next.ServeHTTP(writer, r)

		log.Printf(`{"request_id":"%s","method":"%s","path":"%s","status":%d,"duration_ms":%d}`,
			requestID,
			r.Method,
			r.URL.Path,
			writer.status,
			time.Since(started).Milliseconds(),
		)
	})
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(status int) {
	r.status = status
	r.ResponseWriter.WriteHeader(status)
}

func randomRequestID() string {
	buf := make([]byte, 8)
	_, _ = rand.Read(buf)
	return hex.EncodeToString(buf)
}

func setCORSHeaders(header http.Header, corsOrigin string) {
	header.Set("Access-Control-Allow-Origin", corsOrigin)
	header.Set("Access-Control-Allow-Headers", "Content-Type, Authorization, X-Request-ID")
	header.Set("Access-Control-Allow-Methods", "GET,POST,PATCH,DELETE,OPTIONS")
	header.Set("Cache-Control", "no-store")
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

func writeError(w http.ResponseWriter, status int, code, message string) {
	writeJSON(w, status, map[string]any{"code": code, "error": message})
}

func writeServiceError(w http.ResponseWriter, err error) {
	var domainErr *DomainError
	if errors.As(err, &domainErr) {
		writeError(w, domainErr.Status, domainErr.Code, domainErr.Message)
		return
	}
	log.Printf("internal error: %v", err)
	writeError(w, http.StatusInternalServerError, "INTERNAL_ERROR", "Internal error")
}

func decodeBody(r *http.Request, target any) error {
	if r.Body == nil {
		return nil
	}
	defer r.Body.Close()
	if err := json.NewDecoder(r.Body).Decode(target); err != nil {
		return fmt.Errorf("invalid JSON body")
	}
	return nil
}

func bearerToken(r *http.Request) string {
	header := strings.TrimSpace(r.Header.Get("Authorization"))
	if !strings.HasPrefix(header, "Bearer ") {
		return ""
	}
	return strings.TrimSpace(strings.TrimPrefix(header, "Bearer "))
}

func splitPath(path string) []string {
	trimmed := strings.Trim(path, "/")
	if trimmed == "" {
		return nil
	}
	return strings.Split(trimmed, "/")
}
