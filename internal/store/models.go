package store

import "time"

// Article is one writing entry. Content holds the editor's JSON document.
// CreatedAt is epoch milliseconds: now for entries authored in the app, the
// original creation time for imported ones. OriginalHTML is kept only for
// imports, for reference.
type Article struct {
	ID           string
	OwnerID      string
	Title        string
	Content      string
	Icon         string
	CreatedAt    int64
	OriginalHTML string
	UpdatedAt    time.Time
}

// Connection is a user's durable link to the external workspace service.
// At most one exists per owner. Optional workspace metadata is stored as the
// empty string when the provider did not supply it.
type Connection struct {
	ID                   string
	OwnerID              string
	AccessToken          string
	WorkspaceName        string
	WorkspaceIcon        string
	BotID                string
	SelectedDatabaseID   string
	SelectedDatabaseName string
	CreatedAt            time.Time
	UpdatedAt            time.Time
}
