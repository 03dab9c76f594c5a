package notion

// Block is one content unit in a page body. Exactly one of the typed payload
// fields is set, matching the Type discriminator on the wire.
type Block struct {
	Object           string       `json:"object"`
	Type             string       `json:"type"`
	Paragraph        *BlockText   `json:"paragraph,omitempty"`
	Heading1         *BlockText   `json:"heading_1,omitempty"`
	Heading2         *BlockText   `json:"heading_2,omitempty"`
	Heading3         *BlockText   `json:"heading_3,omitempty"`
	BulletedListItem *BlockText   `json:"bulleted_list_item,omitempty"`
	NumberedListItem *BlockText   `json:"numbered_list_item,omitempty"`
}

// BlockText carries a block's flat text run.
type BlockText struct {
	RichText []RichText `json:"rich_text"`
}

// RichText is a single text span.
type RichText struct {
	Type string      `json:"type"`
	Text TextContent `json:"text"`
}

// TextContent is the literal text of a span.
type TextContent struct {
	Content string `json:"content"`
}

// TokenResult is the normalized outcome of a successful code exchange.
// Optional workspace metadata the provider omits or nulls arrives here as the
// empty string, never as a pointer downstream code has to nil-check.
type TokenResult struct {
	AccessToken   string
	WorkspaceName string
	WorkspaceIcon string
	BotID         string
}

// Database is one selectable destination in a connected workspace.
type Database struct {
	ID    string `json:"id"`
	Title string `json:"title"`
	Icon  string `json:"icon,omitempty"`
}

func textBlock(blockType, content string) Block {
	payload := &BlockText{
		RichText: []RichText{{
			Type: "text",
			Text: TextContent{Content: content},
		}},
	}
	b := Block{Object: "block", Type: blockType}
	switch blockType {
	case "paragraph":
		b.Paragraph = payload
	case "heading_1":
		b.Heading1 = payload
	case "heading_2":
		b.Heading2 = payload
	case "heading_3":
		b.Heading3 = payload
	case "bulleted_list_item":
		b.BulletedListItem = payload
	case "numbered_list_item":
		b.NumberedListItem = payload
	}
	return b
}
