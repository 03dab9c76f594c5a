package app

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"net/http"
	"net/url"
	"strings"

	"inkwell/api/internal/archive"
	"inkwell/api/internal/auth"
	"inkwell/api/internal/config"
	"inkwell/api/internal/notion"
	"inkwell/api/internal/notionimport"
	"inkwell/api/internal/oauthstate"
	"inkwell/api/internal/reflection"
	"inkwell/api/internal/richtext"
	"inkwell/api/internal/search"
	"inkwell/api/internal/store"
	"inkwell/api/internal/util"
)

// Session is the verified identity behind a request.
type Session struct {
	UserID   string
	UserName string
}

type dataStore interface {
	Ping(context.Context) error

	InsertArticle(context.Context, store.Article) (store.Article, error)
	InsertArticles(context.Context, []store.Article) (int, error)
	GetArticle(ctx context.Context, id, ownerID string) (store.Article, error)
	ListArticles(ctx context.Context, ownerID, cursor string, limit int) ([]store.Article, string, error)
	UpdateArticleTitle(ctx context.Context, id, ownerID, title string) error
	UpdateArticleContent(ctx context.Context, id, ownerID, content string) error
	UpdateArticleIcon(ctx context.Context, id, ownerID, icon string) error
	DeleteArticle(ctx context.Context, id, ownerID string) error

	UpsertConnection(ctx context.Context, ownerID, accessToken, workspaceName, workspaceIcon, botID string) (string, error)
	GetConnection(ctx context.Context, ownerID string) (store.Connection, error)
	SelectDestination(ctx context.Context, ownerID, databaseID, databaseName string) error
	DeleteConnection(ctx context.Context, ownerID string) error

	GetAIPrompt(ctx context.Context, ownerID string) (string, error)
	SetAIPrompt(ctx context.Context, ownerID, prompt string) error
}

type notionClient interface {
	Configured() bool
	AuthorizeURL(redirectURI, state string) string
	ExchangeCode(ctx context.Context, code, redirectURI string) (notion.TokenResult, error)
	CreatePage(ctx context.Context, accessToken, databaseID, title string, blocks []notion.Block) (string, error)
	SearchDatabases(ctx context.Context, accessToken string) ([]notion.Database, error)
}

type reflectionClient interface {
	Configured() bool
	Reflect(ctx context.Context, prompt string) (string, error)
}

type Service struct {
	cfg        config.Config
	store      dataStore
	states     oauthstate.Store
	notion     notionClient
	search     *search.Service
	archive    *archive.Store // nil when object storage is not configured
	reflection reflectionClient
}

func New(cfg config.Config, dataStore dataStore, states oauthstate.Store, notionClient notionClient, searchService *search.Service, archiveStore *archive.Store, reflectionClient reflectionClient) *Service {
	return &Service{
		cfg:        cfg,
		store:      dataStore,
		states:     states,
		notion:     notionClient,
		search:     searchService,
		archive:    archiveStore,
		reflection: reflectionClient,
	}
}

func (s *Service) Ping(ctx context.Context) error {
	return s.store.Ping(ctx)
}

// SessionFromToken verifies a bearer token and returns the owner identity.
func (s *Service) SessionFromToken(token string) (Session, error) {
	claims, err := auth.ParseToken([]byte(s.cfg.SessionSecret), token)
	if err != nil {
		return Session{}, err
	}
	return Session{UserID: claims.Sub, UserName: claims.Name}, nil
}

// --- external-service connection flow ---

// ConnectStart holds what the browser needs to begin the OAuth flow.
type ConnectStart struct {
	URL   string `json:"url"`
	State string `json:"state"`
}

// BeginConnect issues a state token for the owner and builds the provider
// authorization URL.
func (s *Service) BeginConnect(ctx context.Context, ownerID string) (ConnectStart, error) {
	if !s.notion.Configured() {
		return ConnectStart{}, domainError(http.StatusServiceUnavailable, "SERVER_CONFIGURATION", "External service credentials not configured")
	}
	state, err := s.states.Issue(ctx, ownerID)
	if err != nil {
		return ConnectStart{}, fmt.Errorf("issue oauth state: %w", err)
	}
	return ConnectStart{
		URL:   s.notion.AuthorizeURL(s.cfg.NotionRedirectURI, state),
		State: state,
	}, nil
}

// CallbackQuery carries the redirect query parameters.
type CallbackQuery struct {
	Code             string
	State            string
	Error            string
	ErrorDescription string
}

// Callback error codes surfaced to the browser via the redirect URL.
const (
	callbackErrMissingCode    = "missing_code"
	callbackErrMissingState   = "missing_state"
	callbackErrInvalidState   = "invalid_state"
	callbackErrConfiguration  = "server_configuration"
	callbackErrExchangeFailed = "token_exchange_failed"
	callbackErrUnexpected     = "unexpected_error"
)

// HandleOAuthCallback drives the redirect through its fixed sequence of
// checks and returns the application URL the browser is sent to. Every
// outcome, success or failure, is a redirect; nothing here reaches the
// browser as an error response. The flow performs exactly one state
// consumption, at most one exchange, and at most one upsert — a failed step
// is terminal, never retried (the authorization code is single-use).
func (s *Service) HandleOAuthCallback(ctx context.Context, q CallbackQuery) (redirect string) {
	defer func() {
		if r := recover(); r != nil {
			log.Printf("notion: oauth callback panic: %v", r)
			redirect = s.errorRedirect(callbackErrUnexpected)
		}
	}()

	if q.Error != "" {
		description := q.ErrorDescription
		if description == "" {
			description = q.Error
		}
		return s.errorRedirect(description)
	}
	if q.Code == "" {
		return s.errorRedirect(callbackErrMissingCode)
	}
	if q.State == "" {
		return s.errorRedirect(callbackErrMissingState)
	}

	ownerID, err := s.states.Consume(ctx, q.State)
	if err != nil {
		log.Printf("notion: oauth state rejected: %v", err)
		return s.errorRedirect(callbackErrInvalidState)
	}

	if !s.notion.Configured() {
		log.Printf("notion: oauth credentials missing")
		return s.errorRedirect(callbackErrConfiguration)
	}

	result, err := s.notion.ExchangeCode(ctx, q.Code, s.cfg.NotionRedirectURI)
	if err != nil {
		if errors.Is(err, notion.ErrNotConfigured) {
			return s.errorRedirect(callbackErrConfiguration)
		}
		// The upstream response body stays in the logs; the browser only
		// sees the error code.
		log.Printf("notion: token exchange failed: %v", err)
		return s.errorRedirect(callbackErrExchangeFailed)
	}

	if _, err := s.store.UpsertConnection(ctx, ownerID, result.AccessToken,
		result.WorkspaceName, result.WorkspaceIcon, result.BotID); err != nil {
		log.Printf("notion: store connection: %v", err)
		return s.errorRedirect(callbackErrUnexpected)
	}

	return s.cfg.AppURL + "/?notion_connected=true"
}

func (s *Service) errorRedirect(code string) string {
	return s.cfg.AppURL + "/?notion_error=" + url.QueryEscape(code)
}

// ConnectionStatus is the redacted view of a connection returned to the UI.
type ConnectionStatus struct {
	Connected            bool   `json:"connected"`
	WorkspaceName        string `json:"workspaceName,omitempty"`
	WorkspaceIcon        string `json:"workspaceIcon,omitempty"`
	SelectedDatabaseID   string `json:"selectedDatabaseId,omitempty"`
	SelectedDatabaseName string `json:"selectedDatabaseName,omitempty"`
}

// ConnectionStatus reports the owner's connection without the access token.
func (s *Service) ConnectionStatus(ctx context.Context, ownerID string) (ConnectionStatus, error) {
	conn, err := s.store.GetConnection(ctx, ownerID)
	if errors.Is(err, store.ErrNoConnection) {
		return ConnectionStatus{Connected: false}, nil
	}
	if err != nil {
		return ConnectionStatus{}, err
	}
	return ConnectionStatus{
		Connected:            true,
		WorkspaceName:        conn.WorkspaceName,
		WorkspaceIcon:        conn.WorkspaceIcon,
		SelectedDatabaseID:   conn.SelectedDatabaseID,
		SelectedDatabaseName: conn.SelectedDatabaseName,
	}, nil
}

// ListDatabases fetches the destinations selectable in the owner's workspace.
func (s *Service) ListDatabases(ctx context.Context, ownerID string) ([]notion.Database, error) {
	conn, err := s.store.GetConnection(ctx, ownerID)
	if errors.Is(err, store.ErrNoConnection) {
		return nil, domainError(http.StatusNotFound, "NO_CONNECTION", "No workspace connection found")
	}
	if err != nil {
		return nil, err
	}

	databases, err := s.notion.SearchDatabases(ctx, conn.AccessToken)
	if err != nil {
		log.Printf("notion: list databases: %v", err)
		return nil, domainError(http.StatusBadGateway, "UPSTREAM_ERROR", "Failed to fetch workspace databases")
	}
	return databases, nil
}

// SelectDatabase records the owner's chosen destination.
func (s *Service) SelectDatabase(ctx context.Context, ownerID, databaseID, databaseName string) error {
	if strings.TrimSpace(databaseID) == "" {
		return domainError(http.StatusUnprocessableEntity, "VALIDATION_ERROR", "databaseId is required")
	}
	err := s.store.SelectDestination(ctx, ownerID, databaseID, databaseName)
	if errors.Is(err, store.ErrNoConnection) {
		return domainError(http.StatusNotFound, "NO_CONNECTION", "No workspace connection found")
	}
	return err
}

// Disconnect removes the owner's connection. Absent connection is fine.
func (s *Service) Disconnect(ctx context.Context, ownerID string) error {
	return s.store.DeleteConnection(ctx, ownerID)
}

// SaveResult is the soft outcome of a "save to workspace" action: upstream
// failures come back as success=false rather than an error, since the caller
// is an interactive save button.
type SaveResult struct {
	Success bool   `json:"success"`
	PageURL string `json:"pageUrl,omitempty"`
	Error   string `json:"error,omitempty"`
}

// SaveArticleToNotion converts the article body to blocks and creates a page
// under the owner's selected destination. Not retried: retrying page creation
// risks duplicate pages.
func (s *Service) SaveArticleToNotion(ctx context.Context, ownerID, articleID string) SaveResult {
	conn, err := s.store.GetConnection(ctx, ownerID)
	if errors.Is(err, store.ErrNoConnection) || (err == nil && conn.SelectedDatabaseID == "") {
		return SaveResult{Success: false, Error: "No workspace database selected"}
	}
	if err != nil {
		log.Printf("notion: load connection: %v", err)
		return SaveResult{Success: false, Error: "Failed to load workspace connection"}
	}

	article, err := s.store.GetArticle(ctx, articleID, ownerID)
	if errors.Is(err, store.ErrArticleNotFound) {
		return SaveResult{Success: false, Error: "Article not found"}
	}
	if err != nil {
		log.Printf("notion: load article %s: %v", articleID, err)
		return SaveResult{Success: false, Error: "Failed to load article"}
	}

	doc := richtext.EmptyDocument()
	if strings.TrimSpace(article.Content) != "" {
		parsed, err := richtext.ParseDocument([]byte(article.Content))
		if err != nil {
			log.Printf("notion: parse article %s content: %v", articleID, err)
			return SaveResult{Success: false, Error: "Article content is not a valid document"}
		}
		doc = parsed
	}

	pageURL, err := s.notion.CreatePage(ctx, conn.AccessToken, conn.SelectedDatabaseID,
		article.Title, notion.BlocksFromTree(doc))
	if err != nil {
		log.Printf("notion: create page for article %s: %v", articleID, err)
		return SaveResult{Success: false, Error: "Failed to create page in workspace"}
	}
	return SaveResult{Success: true, PageURL: pageURL}
}

// --- articles ---

// CreateArticle inserts a new untitled entry with an empty body.
func (s *Service) CreateArticle(ctx context.Context, ownerID string) (store.Article, error) {
	content, err := json.Marshal(richtext.EmptyDocument())
	if err != nil {
		return store.Article{}, fmt.Errorf("marshal empty document: %w", err)
	}
	article, err := s.store.InsertArticle(ctx, store.Article{
		OwnerID: ownerID,
		Title:   "Untitled",
		Content: string(content),
	})
	if err != nil {
		return store.Article{}, err
	}
	s.search.IndexArticle(articleRecord(article))
	return article, nil
}

func (s *Service) GetArticle(ctx context.Context, id, ownerID string) (store.Article, error) {
	article, err := s.store.GetArticle(ctx, id, ownerID)
	if errors.Is(err, store.ErrArticleNotFound) {
		return store.Article{}, domainError(http.StatusNotFound, "NOT_FOUND", "Article not found")
	}
	return article, err
}

func (s *Service) ListArticles(ctx context.Context, ownerID, cursor string, limit int) ([]store.Article, string, error) {
	return s.store.ListArticles(ctx, ownerID, cursor, limit)
}

func (s *Service) UpdateArticleTitle(ctx context.Context, id, ownerID, title string) error {
	title = strings.TrimSpace(title)
	if title == "" {
		title = "Untitled"
	}
	if err := s.mapArticleErr(s.store.UpdateArticleTitle(ctx, id, ownerID, title)); err != nil {
		return err
	}
	if article, err := s.store.GetArticle(ctx, id, ownerID); err == nil {
		s.search.IndexArticle(articleRecord(article))
	}
	return nil
}

func (s *Service) UpdateArticleContent(ctx context.Context, id, ownerID, content string) error {
	// Reject bodies that do not decode into a document so storage never
	// holds an unparseable entry.
	if _, err := richtext.ParseDocument([]byte(content)); err != nil {
		return domainError(http.StatusUnprocessableEntity, "VALIDATION_ERROR", "content is not a valid document")
	}
	return s.mapArticleErr(s.store.UpdateArticleContent(ctx, id, ownerID, content))
}

func (s *Service) UpdateArticleIcon(ctx context.Context, id, ownerID, icon string) error {
	return s.mapArticleErr(s.store.UpdateArticleIcon(ctx, id, ownerID, icon))
}

func (s *Service) DeleteArticle(ctx context.Context, id, ownerID string) error {
	if err := s.mapArticleErr(s.store.DeleteArticle(ctx, id, ownerID)); err != nil {
		return err
	}
	s.search.DeleteArticle(id)
	return nil
}

func (s *Service) mapArticleErr(err error) error {
	if errors.Is(err, store.ErrArticleNotFound) {
		return domainError(http.StatusNotFound, "NOT_FOUND", "Article not found")
	}
	return err
}

// --- import ---

// ImportArticles converts an uploaded export into entries for the owner and
// bulk-inserts them. The raw upload is archived when object storage is
// configured.
func (s *Service) ImportArticles(ctx context.Context, ownerID string, metadata *notionimport.File, files []notionimport.File) (int, error) {
	records := notionimport.ImportBatch(metadata, files)

	articles := make([]store.Article, 0, len(records))
	for _, record := range records {
		content, err := json.Marshal(record.Doc)
		if err != nil {
			return 0, fmt.Errorf("marshal imported document %q: %w", record.Title, err)
		}
		articles = append(articles, store.Article{
			ID:           util.NewID("art"),
			OwnerID:      ownerID,
			Title:        record.Title,
			Content:      string(content),
			Icon:         record.Icon,
			CreatedAt:    record.CreatedAt,
			OriginalHTML: record.OriginalHTML,
		})
	}

	count, err := s.store.InsertArticles(ctx, articles)
	if err != nil {
		return 0, err
	}

	searchRecords := make([]search.ArticleRecord, 0, len(articles))
	for _, article := range articles {
		searchRecords = append(searchRecords, articleRecord(article))
	}
	s.search.IndexArticles(searchRecords)

	if s.archive != nil {
		raw := make(map[string][]byte, len(files)+1)
		if metadata != nil {
			raw[metadata.Name] = metadata.Data
		}
		for _, file := range files {
			raw[file.Name] = file.Data
		}
		s.archive.SaveBatch(ctx, util.NewID("batch"), ownerID, raw)
	}

	return count, nil
}

// --- reflection ---

// ArticleReflection asks the model for a short reflection on the article's
// prose, using the owner's stored prompt template when one exists.
func (s *Service) ArticleReflection(ctx context.Context, ownerID, articleID string) (string, error) {
	if !s.reflection.Configured() {
		return "", domainError(http.StatusServiceUnavailable, "SERVER_CONFIGURATION", "Reflection is not configured")
	}

	article, err := s.GetArticle(ctx, articleID, ownerID)
	if err != nil {
		return "", err
	}

	source := ""
	if strings.TrimSpace(article.Content) != "" {
		if doc, err := richtext.ParseDocument([]byte(article.Content)); err == nil {
			source = doc.JoinedText("\n\n")
		}
	}
	if source == "" {
		source = article.Title
	}
	if source == "" {
		source = "Untitled note"
	}

	template, err := s.store.GetAIPrompt(ctx, ownerID)
	if err != nil {
		return "", err
	}
	if strings.TrimSpace(template) == "" {
		template = reflection.DefaultPrompt
	}

	message, err := s.reflection.Reflect(ctx, reflection.BuildPrompt(template, source))
	if err != nil {
		log.Printf("reflection: article %s: %v", articleID, err)
		return "", domainError(http.StatusBadGateway, "UPSTREAM_ERROR", "Failed to generate reflection")
	}
	return message, nil
}

// AIPrompt returns the owner's stored reflection prompt, empty when the
// default is in effect.
func (s *Service) AIPrompt(ctx context.Context, ownerID string) (string, error) {
	return s.store.GetAIPrompt(ctx, ownerID)
}

// SetAIPrompt stores the owner's reflection prompt. Blank clears it back to
// the default.
func (s *Service) SetAIPrompt(ctx context.Context, ownerID, prompt string) error {
	return s.store.SetAIPrompt(ctx, ownerID, strings.TrimSpace(prompt))
}

// SearchTitles runs a title search scoped to the owner.
func (s *Service) SearchTitles(ownerID, text string, limit int) search.Response {
	return s.search.Search(search.Query{OwnerID: ownerID, Text: text, Limit: limit})
}

func articleRecord(article store.Article) search.ArticleRecord {
	return search.ArticleRecord{
		ID:        article.ID,
		UserID:    article.OwnerID,
		Title:     article.Title,
		Icon:      article.Icon,
		CreatedAt: article.CreatedAt,
	}
}
