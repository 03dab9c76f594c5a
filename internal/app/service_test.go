package app

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"testing"

	"inkwell/api/internal/config"
	"inkwell/api/internal/notion"
	"inkwell/api/internal/notionimport"
	"inkwell/api/internal/oauthstate"
	"inkwell/api/internal/search"
	"inkwell/api/internal/store"
)

// --- fakes ---

type fakeStore struct {
	articles    map[string]store.Article
	connections map[string]store.Connection
	prompts     map[string]string
	nextID      int
	upserts     int
}

func newFakeStore() *fakeStore {
	return &fakeStore{
		articles:    map[string]store.Article{},
		connections: map[string]store.Connection{},
		prompts:     map[string]string{},
	}
}

func (f *fakeStore) Ping(context.Context) error { return nil }

func (f *fakeStore) InsertArticle(_ context.Context, article store.Article) (store.Article, error) {
	f.nextID++
	article.ID = fmt.Sprintf("art_%d", f.nextID)
	f.articles[article.ID] = article
	return article, nil
}

func (f *fakeStore) InsertArticles(ctx context.Context, articles []store.Article) (int, error) {
	for _, article := range articles {
		if article.ID == "" {
			f.nextID++
			article.ID = fmt.Sprintf("art_%d", f.nextID)
		}
		f.articles[article.ID] = article
	}
	return len(articles), nil
}

func (f *fakeStore) GetArticle(_ context.Context, id, ownerID string) (store.Article, error) {
	article, ok := f.articles[id]
	if !ok || article.OwnerID != ownerID {
		return store.Article{}, store.ErrArticleNotFound
	}
	return article, nil
}

func (f *fakeStore) ListArticles(_ context.Context, ownerID, cursor string, limit int) ([]store.Article, string, error) {
	var out []store.Article
	for _, article := range f.articles {
		if article.OwnerID == ownerID {
			out = append(out, article)
		}
	}
	return out, "", nil
}

func (f *fakeStore) updateArticle(id, ownerID string, mutate func(*store.Article)) error {
	article, ok := f.articles[id]
	if !ok || article.OwnerID != ownerID {
		return store.ErrArticleNotFound
	}
	mutate(&article)
	f.articles[id] = article
	return nil
}

func (f *fakeStore) UpdateArticleTitle(_ context.Context, id, ownerID, title string) error {
	return f.updateArticle(id, ownerID, func(a *store.Article) { a.Title = title })
}

func (f *fakeStore) UpdateArticleContent(_ context.Context, id, ownerID, content string) error {
	return f.updateArticle(id, ownerID, func(a *store.Article) { a.Content = content })
}

func (f *fakeStore) UpdateArticleIcon(_ context.Context, id, ownerID, icon string) error {
	return f.updateArticle(id, ownerID, func(a *store.Article) { a.Icon = icon })
}

func (f *fakeStore) DeleteArticle(_ context.Context, id, ownerID string) error {
	article, ok := f.articles[id]
	if !ok || article.OwnerID != ownerID {
		return store.ErrArticleNotFound
	}
	delete(f.articles, id)
	return nil
}

func (f *fakeStore) UpsertConnection(_ context.Context, ownerID, accessToken, workspaceName, workspaceIcon, botID string) (string, error) {
	f.upserts++
	conn, ok := f.connections[ownerID]
	if !ok {
		conn = store.Connection{ID: "conn_" + ownerID, OwnerID: ownerID}
	}
	conn.AccessToken = accessToken
	conn.WorkspaceName = workspaceName
	conn.WorkspaceIcon = workspaceIcon
	conn.BotID = botID
	f.connections[ownerID] = conn
	return conn.ID, nil
}

func (f *fakeStore) GetConnection(_ context.Context, ownerID string) (store.Connection, error) {
	conn, ok := f.connections[ownerID]
	if !ok {
		return store.Connection{}, store.ErrNoConnection
	}
	return conn, nil
}

func (f *fakeStore) SelectDestination(_ context.Context, ownerID, databaseID, databaseName string) error {
	conn, ok := f.connections[ownerID]
	if !ok {
		return store.ErrNoConnection
	}
	conn.SelectedDatabaseID = databaseID
	conn.SelectedDatabaseName = databaseName
	f.connections[ownerID] = conn
	return nil
}

func (f *fakeStore) DeleteConnection(_ context.Context, ownerID string) error {
	delete(f.connections, ownerID)
	return nil
}

func (f *fakeStore) GetAIPrompt(_ context.Context, ownerID string) (string, error) {
	return f.prompts[ownerID], nil
}

func (f *fakeStore) SetAIPrompt(_ context.Context, ownerID, prompt string) error {
	f.prompts[ownerID] = prompt
	return nil
}

type fakeStates struct {
	issued   map[string]string // state -> owner
	consumed []string
	nextID   int
}

func newFakeStates() *fakeStates {
	return &fakeStates{issued: map[string]string{}}
}

func (f *fakeStates) Issue(_ context.Context, ownerID string) (string, error) {
	f.nextID++
	state := fmt.Sprintf("state_%d", f.nextID)
	f.issued[state] = ownerID
	return state, nil
}

func (f *fakeStates) Consume(_ context.Context, token string) (string, error) {
	f.consumed = append(f.consumed, token)
	ownerID, ok := f.issued[token]
	if !ok {
		return "", oauthstate.ErrStateNotFound
	}
	delete(f.issued, token)
	return ownerID, nil
}

type fakeNotion struct {
	configured    bool
	exchangeErr   error
	exchangePanic bool
	exchangeCalls int
	result        notion.TokenResult
	pageURL       string
	createErr     error
	createCalls   int
	lastTitle     string
	lastBlocks    []notion.Block
	databases     []notion.Database
	searchErr     error
}

func (f *fakeNotion) Configured() bool { return f.configured }

func (f *fakeNotion) AuthorizeURL(redirectURI, state string) string {
	return "https://provider.example/authorize?state=" + state
}

func (f *fakeNotion) ExchangeCode(context.Context, string, string) (notion.TokenResult, error) {
	f.exchangeCalls++
	if f.exchangePanic {
		panic("exchange blew up")
	}
	if f.exchangeErr != nil {
		return notion.TokenResult{}, f.exchangeErr
	}
	return f.result, nil
}

func (f *fakeNotion) CreatePage(_ context.Context, _, _, title string, blocks []notion.Block) (string, error) {
	f.createCalls++
	f.lastTitle = title
	f.lastBlocks = blocks
	if f.createErr != nil {
		return "", f.createErr
	}
	return f.pageURL, nil
}

func (f *fakeNotion) SearchDatabases(context.Context, string) ([]notion.Database, error) {
	if f.searchErr != nil {
		return nil, f.searchErr
	}
	return f.databases, nil
}

type fakeReflector struct {
	configured bool
	message    string
	err        error
	lastPrompt string
}

func (f *fakeReflector) Configured() bool { return f.configured }

func (f *fakeReflector) Reflect(_ context.Context, prompt string) (string, error) {
	f.lastPrompt = prompt
	if f.err != nil {
		return "", f.err
	}
	return f.message, nil
}

func newTestService(t *testing.T) (*Service, *fakeStore, *fakeStates, *fakeNotion) {
	t.Helper()
	st := newFakeStore()
	states := newFakeStates()
	nc := &fakeNotion{
		configured: true,
		result:     notion.TokenResult{AccessToken: "tok", WorkspaceName: "Acme", BotID: "bot-1"},
	}
	cfg := config.Config{
		AppURL:            "http://app.example",
		NotionRedirectURI: "http://app.example/api/notion/callback",
		SessionSecret:     "test-secret",
	}
	svc := New(cfg, st, states, nc, search.NewService(nil, nil), nil,
		&fakeReflector{configured: true, message: "- keep going"})
	return svc, st, states, nc
}

func assertDomainError(t *testing.T, err error, status int, code string) {
	t.Helper()
	var domainErr *DomainError
	if !errors.As(err, &domainErr) {
		t.Fatalf("expected DomainError, got %v", err)
	}
	if domainErr.Status != status || domainErr.Code != code {
		t.Fatalf("got %d/%s, want %d/%s", domainErr.Status, domainErr.Code, status, code)
	}
}

// --- connection flow ---

func TestBeginConnectIssuesState(t *testing.T) {
	svc, _, states, _ := newTestService(t)

	start, err := svc.BeginConnect(context.Background(), "user-1")
	if err != nil {
		t.Fatalf("BeginConnect: %v", err)
	}
	if start.State == "" || !strings.Contains(start.URL, "state="+start.State) {
		t.Errorf("authorization URL should carry the issued state: %+v", start)
	}
	if states.issued[start.State] != "user-1" {
		t.Errorf("state not bound to owner: %v", states.issued)
	}
}

func TestBeginConnectUnconfigured(t *testing.T) {
	svc, _, _, nc := newTestService(t)
	nc.configured = false

	_, err := svc.BeginConnect(context.Background(), "user-1")
	assertDomainError(t, err, http.StatusServiceUnavailable, "SERVER_CONFIGURATION")
}

func TestCallbackSuccess(t *testing.T) {
	svc, st, states, _ := newTestService(t)
	state, _ := states.Issue(context.Background(), "user-1")

	redirect := svc.HandleOAuthCallback(context.Background(), CallbackQuery{Code: "code-1", State: state})

	if redirect != "http://app.example/?notion_connected=true" {
		t.Fatalf("redirect = %q", redirect)
	}
	conn, err := st.GetConnection(context.Background(), "user-1")
	if err != nil {
		t.Fatalf("connection not stored: %v", err)
	}
	if conn.AccessToken != "tok" || conn.WorkspaceName != "Acme" || conn.BotID != "bot-1" {
		t.Errorf("unexpected connection %+v", conn)
	}
	if len(states.consumed) != 1 {
		t.Errorf("state consumed %d times, want 1", len(states.consumed))
	}
}

func TestCallbackProviderError(t *testing.T) {
	svc, _, states, nc := newTestService(t)
	state, _ := states.Issue(context.Background(), "user-1")

	redirect := svc.HandleOAuthCallback(context.Background(), CallbackQuery{
		Code: "code-1", State: state, Error: "access_denied",
	})

	if redirect != "http://app.example/?notion_error=access_denied" {
		t.Errorf("redirect = %q", redirect)
	}
	if len(states.consumed) != 0 {
		t.Error("provider error must not consume the state")
	}
	if nc.exchangeCalls != 0 {
		t.Error("provider error must not trigger an exchange")
	}
}

func TestCallbackMissingCode(t *testing.T) {
	svc, _, states, _ := newTestService(t)
	state, _ := states.Issue(context.Background(), "user-1")

	redirect := svc.HandleOAuthCallback(context.Background(), CallbackQuery{State: state})

	if redirect != "http://app.example/?notion_error=missing_code" {
		t.Errorf("redirect = %q", redirect)
	}
	if len(states.consumed) != 0 {
		t.Error("missing code must leave the state usable")
	}
}

func TestCallbackMissingState(t *testing.T) {
	svc, _, _, _ := newTestService(t)

	redirect := svc.HandleOAuthCallback(context.Background(), CallbackQuery{Code: "code-1"})
	if redirect != "http://app.example/?notion_error=missing_state" {
		t.Errorf("redirect = %q", redirect)
	}
}

func TestCallbackInvalidState(t *testing.T) {
	svc, _, _, nc := newTestService(t)

	redirect := svc.HandleOAuthCallback(context.Background(), CallbackQuery{Code: "code-1", State: "forged"})

	if redirect != "http://app.example/?notion_error=invalid_state" {
		t.Errorf("redirect = %q", redirect)
	}
	if nc.exchangeCalls != 0 {
		t.Error("a rejected state must not reach the exchange")
	}
}

func TestCallbackStateIsSingleUse(t *testing.T) {
	svc, _, states, _ := newTestService(t)
	state, _ := states.Issue(context.Background(), "user-1")

	first := svc.HandleOAuthCallback(context.Background(), CallbackQuery{Code: "code-1", State: state})
	second := svc.HandleOAuthCallback(context.Background(), CallbackQuery{Code: "code-2", State: state})

	if !strings.Contains(first, "notion_connected=true") {
		t.Errorf("first redirect = %q", first)
	}
	if !strings.Contains(second, "notion_error=invalid_state") {
		t.Errorf("replayed state must be rejected, got %q", second)
	}
}

func TestCallbackUnconfiguredAfterConsume(t *testing.T) {
	svc, st, states, nc := newTestService(t)
	nc.configured = false
	state, _ := states.Issue(context.Background(), "user-1")

	redirect := svc.HandleOAuthCallback(context.Background(), CallbackQuery{Code: "code-1", State: state})

	if redirect != "http://app.example/?notion_error=server_configuration" {
		t.Errorf("redirect = %q", redirect)
	}
	if nc.exchangeCalls != 0 {
		t.Error("unconfigured client must not attempt an exchange")
	}
	if st.upserts != 0 {
		t.Error("no connection may be stored")
	}
}

func TestCallbackExchangeFailure(t *testing.T) {
	svc, st, states, nc := newTestService(t)
	nc.exchangeErr = errors.New("status 401: invalid_client secret leaked here")
	state, _ := states.Issue(context.Background(), "user-1")

	redirect := svc.HandleOAuthCallback(context.Background(), CallbackQuery{Code: "code-1", State: state})

	if redirect != "http://app.example/?notion_error=token_exchange_failed" {
		t.Errorf("redirect = %q", redirect)
	}
	if strings.Contains(redirect, "secret") {
		t.Error("upstream detail leaked into the redirect")
	}
	if st.upserts != 0 {
		t.Error("failed exchange must not store a connection")
	}
	if nc.exchangeCalls != 1 {
		t.Errorf("exchange called %d times, want 1", nc.exchangeCalls)
	}
}

func TestCallbackPanicRecovered(t *testing.T) {
	svc, st, states, nc := newTestService(t)
	nc.exchangePanic = true
	state, _ := states.Issue(context.Background(), "user-1")

	redirect := svc.HandleOAuthCallback(context.Background(), CallbackQuery{Code: "code-1", State: state})

	if redirect != "http://app.example/?notion_error=unexpected_error" {
		t.Errorf("redirect = %q", redirect)
	}
	if st.upserts != 0 {
		t.Error("panic path must not store a connection")
	}
}

func TestConnectionStatusRedacted(t *testing.T) {
	svc, st, _, _ := newTestService(t)
	st.connections["user-1"] = store.Connection{
		OwnerID:              "user-1",
		AccessToken:          "secret",
		WorkspaceName:        "Acme",
		SelectedDatabaseID:   "db-1",
		SelectedDatabaseName: "Journal",
	}

	status, err := svc.ConnectionStatus(context.Background(), "user-1")
	if err != nil {
		t.Fatalf("ConnectionStatus: %v", err)
	}
	if !status.Connected || status.WorkspaceName != "Acme" || status.SelectedDatabaseID != "db-1" {
		t.Errorf("unexpected status %+v", status)
	}

	none, err := svc.ConnectionStatus(context.Background(), "user-2")
	if err != nil || none.Connected {
		t.Errorf("absent connection should report connected=false, got %+v, %v", none, err)
	}
}

func TestSelectDatabase(t *testing.T) {
	svc, st, _, _ := newTestService(t)

	err := svc.SelectDatabase(context.Background(), "user-1", "  ", "Journal")
	assertDomainError(t, err, http.StatusUnprocessableEntity, "VALIDATION_ERROR")

	err = svc.SelectDatabase(context.Background(), "user-1", "db-1", "Journal")
	assertDomainError(t, err, http.StatusNotFound, "NO_CONNECTION")

	st.connections["user-1"] = store.Connection{OwnerID: "user-1", AccessToken: "tok"}
	if err := svc.SelectDatabase(context.Background(), "user-1", "db-1", "Journal"); err != nil {
		t.Fatalf("SelectDatabase: %v", err)
	}
	if st.connections["user-1"].SelectedDatabaseID != "db-1" {
		t.Errorf("destination not recorded: %+v", st.connections["user-1"])
	}
}

func TestListDatabasesErrors(t *testing.T) {
	svc, st, _, nc := newTestService(t)

	_, err := svc.ListDatabases(context.Background(), "user-1")
	assertDomainError(t, err, http.StatusNotFound, "NO_CONNECTION")

	st.connections["user-1"] = store.Connection{OwnerID: "user-1", AccessToken: "tok"}
	nc.searchErr = errors.New("upstream 500")
	_, err = svc.ListDatabases(context.Background(), "user-1")
	assertDomainError(t, err, http.StatusBadGateway, "UPSTREAM_ERROR")
}

// --- save to workspace ---

func TestSaveArticleSoftFailures(t *testing.T) {
	svc, st, _, nc := newTestService(t)

	result := svc.SaveArticleToNotion(context.Background(), "user-1", "art_1")
	if result.Success || result.Error != "No workspace database selected" {
		t.Errorf("no connection: %+v", result)
	}

	// Connected but no destination selected.
	st.connections["user-1"] = store.Connection{OwnerID: "user-1", AccessToken: "tok"}
	result = svc.SaveArticleToNotion(context.Background(), "user-1", "art_1")
	if result.Success || result.Error != "No workspace database selected" {
		t.Errorf("no destination: %+v", result)
	}

	st.connections["user-1"] = store.Connection{OwnerID: "user-1", AccessToken: "tok", SelectedDatabaseID: "db-1"}
	result = svc.SaveArticleToNotion(context.Background(), "user-1", "art_missing")
	if result.Success || result.Error != "Article not found" {
		t.Errorf("missing article: %+v", result)
	}
	if nc.createCalls != 0 {
		t.Error("no page may be created on the failure paths")
	}
}

func TestSaveArticleSuccess(t *testing.T) {
	svc, st, _, nc := newTestService(t)
	nc.pageURL = "https://workspace.example/page-1"
	st.connections["user-1"] = store.Connection{OwnerID: "user-1", AccessToken: "tok", SelectedDatabaseID: "db-1"}
	st.articles["art_1"] = store.Article{
		ID: "art_1", OwnerID: "user-1", Title: "My Entry",
		Content: `{"type":"doc","content":[{"type":"paragraph","content":[{"type":"text","text":"hello"}]}]}`,
	}

	result := svc.SaveArticleToNotion(context.Background(), "user-1", "art_1")
	if !result.Success || result.PageURL != "https://workspace.example/page-1" {
		t.Fatalf("unexpected result %+v", result)
	}
	if nc.lastTitle != "My Entry" {
		t.Errorf("title = %q", nc.lastTitle)
	}
	if len(nc.lastBlocks) != 1 {
		t.Errorf("blocks = %+v", nc.lastBlocks)
	}
}

func TestSaveArticleInvalidContent(t *testing.T) {
	svc, st, _, nc := newTestService(t)
	st.connections["user-1"] = store.Connection{OwnerID: "user-1", AccessToken: "tok", SelectedDatabaseID: "db-1"}
	st.articles["art_1"] = store.Article{ID: "art_1", OwnerID: "user-1", Title: "Broken", Content: "not json"}

	result := svc.SaveArticleToNotion(context.Background(), "user-1", "art_1")
	if result.Success || result.Error != "Article content is not a valid document" {
		t.Errorf("unexpected result %+v", result)
	}
	if nc.createCalls != 0 {
		t.Error("invalid content must not reach page creation")
	}
}

func TestSaveArticleUpstreamFailure(t *testing.T) {
	svc, st, _, nc := newTestService(t)
	nc.createErr = errors.New("upstream 502")
	st.connections["user-1"] = store.Connection{OwnerID: "user-1", AccessToken: "tok", SelectedDatabaseID: "db-1"}
	st.articles["art_1"] = store.Article{ID: "art_1", OwnerID: "user-1", Title: "Entry", Content: ""}

	result := svc.SaveArticleToNotion(context.Background(), "user-1", "art_1")
	if result.Success || result.Error != "Failed to create page in workspace" {
		t.Errorf("unexpected result %+v", result)
	}
	if nc.createCalls != 1 {
		t.Errorf("createCalls = %d, want exactly one attempt", nc.createCalls)
	}
}

// --- articles ---

func TestCreateArticleDefaults(t *testing.T) {
	svc, _, _, _ := newTestService(t)

	article, err := svc.CreateArticle(context.Background(), "user-1")
	if err != nil {
		t.Fatalf("CreateArticle: %v", err)
	}
	if article.Title != "Untitled" {
		t.Errorf("Title = %q", article.Title)
	}
	if !strings.Contains(article.Content, `"doc"`) {
		t.Errorf("Content should be an empty document, got %q", article.Content)
	}
}

func TestUpdateArticleTitleBlankBecomesUntitled(t *testing.T) {
	svc, st, _, _ := newTestService(t)
	article, _ := svc.CreateArticle(context.Background(), "user-1")
	_ = svc.UpdateArticleTitle(context.Background(), article.ID, "user-1", "My Title")

	if err := svc.UpdateArticleTitle(context.Background(), article.ID, "user-1", "   "); err != nil {
		t.Fatalf("UpdateArticleTitle: %v", err)
	}
	if st.articles[article.ID].Title != "Untitled" {
		t.Errorf("blank title should reset to Untitled, got %q", st.articles[article.ID].Title)
	}
}

func TestUpdateArticleContentValidation(t *testing.T) {
	svc, _, _, _ := newTestService(t)
	article, _ := svc.CreateArticle(context.Background(), "user-1")

	err := svc.UpdateArticleContent(context.Background(), article.ID, "user-1", `{"type":"paragraph"}`)
	assertDomainError(t, err, http.StatusUnprocessableEntity, "VALIDATION_ERROR")
}

func TestArticleOwnerScoping(t *testing.T) {
	svc, _, _, _ := newTestService(t)
	article, _ := svc.CreateArticle(context.Background(), "user-1")

	_, err := svc.GetArticle(context.Background(), article.ID, "user-2")
	assertDomainError(t, err, http.StatusNotFound, "NOT_FOUND")

	err = svc.DeleteArticle(context.Background(), article.ID, "user-2")
	assertDomainError(t, err, http.StatusNotFound, "NOT_FOUND")
}

// --- import ---

func TestImportArticles(t *testing.T) {
	svc, st, _, _ := newTestService(t)

	metadata := &notionimport.File{
		Name: "Journal abc.csv",
		Data: []byte("Name,Created\nDay One,2024-06-01 09:30\n"),
	}
	files := []notionimport.File{
		{Name: "Day One abc.html", Data: []byte(`<html><head><title>Day One</title></head><body><p>hi</p></body></html>`)},
		{Name: "Day Two abc.html", Data: []byte(`<html><head><title>Day Two</title></head><body><p>bye</p></body></html>`)},
	}

	count, err := svc.ImportArticles(context.Background(), "user-1", metadata, files)
	if err != nil {
		t.Fatalf("ImportArticles: %v", err)
	}
	if count != 2 {
		t.Fatalf("count = %d, want 2", count)
	}

	var titles []string
	for _, article := range st.articles {
		if article.OwnerID != "user-1" {
			t.Errorf("article stored for wrong owner: %+v", article)
		}
		if article.Content == "" || article.OriginalHTML == "" {
			t.Errorf("article missing content or original html: %+v", article)
		}
		titles = append(titles, article.Title)
	}
	if len(titles) != 2 {
		t.Errorf("stored %d articles", len(titles))
	}
}

// --- reflection ---

func TestArticleReflection(t *testing.T) {
	svc, st, _, _ := newTestService(t)
	reflector := &fakeReflector{configured: true, message: "- what changed your mind?"}
	svc.reflection = reflector
	st.articles["art_1"] = store.Article{
		ID: "art_1", OwnerID: "user-1", Title: "Entry",
		Content: `{"type":"doc","content":[{"type":"paragraph","content":[{"type":"text","text":"first thought"}]},{"type":"paragraph","content":[{"type":"text","text":"second thought"}]}]}`,
	}

	message, err := svc.ArticleReflection(context.Background(), "user-1", "art_1")
	if err != nil {
		t.Fatalf("ArticleReflection: %v", err)
	}
	if message != "- what changed your mind?" {
		t.Errorf("message = %q", message)
	}
	if !strings.Contains(reflector.lastPrompt, "first thought") || !strings.Contains(reflector.lastPrompt, "second thought") {
		t.Errorf("prompt missing article prose: %q", reflector.lastPrompt)
	}
	if !strings.Contains(reflector.lastPrompt, "bullet points") {
		t.Errorf("prompt should carry the default template: %q", reflector.lastPrompt)
	}
}

func TestArticleReflectionCustomPrompt(t *testing.T) {
	svc, st, _, _ := newTestService(t)
	reflector := &fakeReflector{configured: true, message: "ok"}
	svc.reflection = reflector
	st.prompts["user-1"] = "Answer only with a question."
	st.articles["art_1"] = store.Article{ID: "art_1", OwnerID: "user-1", Title: "Entry"}

	if _, err := svc.ArticleReflection(context.Background(), "user-1", "art_1"); err != nil {
		t.Fatalf("ArticleReflection: %v", err)
	}
	if !strings.Contains(reflector.lastPrompt, "Answer only with a question.") {
		t.Errorf("stored prompt not used: %q", reflector.lastPrompt)
	}
	if strings.Contains(reflector.lastPrompt, "bullet points") {
		t.Errorf("default template should be replaced: %q", reflector.lastPrompt)
	}
	// Empty content falls back to the title as the source.
	if !strings.Contains(reflector.lastPrompt, "Entry") {
		t.Errorf("title fallback missing: %q", reflector.lastPrompt)
	}
}

func TestArticleReflectionErrors(t *testing.T) {
	svc, st, _, _ := newTestService(t)

	svc.reflection = &fakeReflector{configured: false}
	_, err := svc.ArticleReflection(context.Background(), "user-1", "art_1")
	assertDomainError(t, err, http.StatusServiceUnavailable, "SERVER_CONFIGURATION")

	svc.reflection = &fakeReflector{configured: true}
	_, err = svc.ArticleReflection(context.Background(), "user-1", "art_missing")
	assertDomainError(t, err, http.StatusNotFound, "NOT_FOUND")

	st.articles["art_1"] = store.Article{ID: "art_1", OwnerID: "user-1", Title: "Entry"}
	svc.reflection = &fakeReflector{configured: true, err: errors.New("upstream 500")}
	_, err = svc.ArticleReflection(context.Background(), "user-1", "art_1")
	assertDomainError(t, err, http.StatusBadGateway, "UPSTREAM_ERROR")
}

func TestSetAIPromptTrims(t *testing.T) {
	svc, st, _, _ := newTestService(t)

	if err := svc.SetAIPrompt(context.Background(), "user-1", "  be blunt  "); err != nil {
		t.Fatalf("SetAIPrompt: %v", err)
	}
	if st.prompts["user-1"] != "be blunt" {
		t.Errorf("prompt = %q", st.prompts["user-1"])
	}
}

func TestSessionFromToken(t *testing.T) {
	svc, _, _, _ := newTestService(t)

	_, err := svc.SessionFromToken("garbage")
	if err == nil {
		t.Fatal("expected error for malformed token")
	}
}
