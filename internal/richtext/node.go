// Package richtext defines the application's canonical document tree and
// conversions into it. Entry bodies are stored as the editor's JSON document
// and decoded into a tagged Node tree for processing.
package richtext

import (
	"encoding/json"
	"fmt"
	"strings"
)

// Kind identifies the type of a node in the document tree.
type Kind string

const (
	KindDocument    Kind = "doc"
	KindParagraph   Kind = "paragraph"
	KindHeading     Kind = "heading"
	KindBulletList  Kind = "bulletList"
	KindOrderedList Kind = "orderedList"
	KindListItem    Kind = "listItem"
	KindText        Kind = "text"
	// KindOther covers editor node types the converter does not act on
	// (blockquotes, tables, horizontal rules). They round-trip through
	// storage untouched.
	KindOther Kind = "other"
)

// Node is one node in the document tree. Every node except a text leaf owns
// an ordered slice of children; a text leaf owns only Text.
type Node struct {
	Kind     Kind
	Level    int // headings only
	Text     string
	Children []Node
	// otherType preserves the editor's type name for KindOther nodes so
	// re-encoding does not drop them.
	otherType string
}

// Document builds a document node over the given children.
func Document(children ...Node) Node {
	return Node{Kind: KindDocument, Children: children}
}

// Paragraph builds a paragraph holding a single text leaf, or an empty
// paragraph when text is empty.
func Paragraph(text string) Node {
	if text == "" {
		return Node{Kind: KindParagraph}
	}
	return Node{Kind: KindParagraph, Children: []Node{{Kind: KindText, Text: text}}}
}

// Heading builds a heading of the given level over a single text leaf.
func Heading(level int, text string) Node {
	n := Node{Kind: KindHeading, Level: level}
	if text != "" {
		n.Children = []Node{{Kind: KindText, Text: text}}
	}
	return n
}

// EmptyDocument is the default body for a new entry: one empty paragraph.
func EmptyDocument() Node {
	return Document(Node{Kind: KindParagraph})
}

// PlainText concatenates every descendant text leaf in document order,
// depth-first, with no separators.
func (n Node) PlainText() string {
	var b strings.Builder
	n.appendText(&b)
	return b.String()
}

// JoinedText collects every descendant text leaf in document order and joins
// them with sep. Unlike PlainText it keeps block boundaries visible, which
// readers of the prose (not the wire format) want.
func (n Node) JoinedText(sep string) string {
	var leaves []string
	n.collectText(&leaves)
	return strings.TrimSpace(strings.Join(leaves, sep))
}

func (n Node) collectText(leaves *[]string) {
	if n.Kind == KindText {
		*leaves = append(*leaves, n.Text)
		return
	}
	for _, child := range n.Children {
		child.collectText(leaves)
	}
}

func (n Node) appendText(b *strings.Builder) {
	if n.Kind == KindText {
		b.WriteString(n.Text)
		return
	}
	for _, child := range n.Children {
		child.appendText(b)
	}
}

type jsonNode struct {
	Type    string          `json:"type"`
	Attrs   map[string]any  `json:"attrs,omitempty"`
	Content json.RawMessage `json:"content,omitempty"`
	Text    string          `json:"text,omitempty"`
}

// ParseDocument decodes an editor JSON document into a Node tree. The root
// must be a "doc" node.
func ParseDocument(data []byte) (Node, error) {
	var root jsonNode
	if err := json.Unmarshal(data, &root); err != nil {
		return Node{}, fmt.Errorf("parse document: %w", err)
	}
	node, err := fromJSONNode(root)
	if err != nil {
		return Node{}, err
	}
	if node.Kind != KindDocument {
		return Node{}, fmt.Errorf("parse document: root node is %q, want doc", root.Type)
	}
	return node, nil
}

func fromJSONNode(jn jsonNode) (Node, error) {
	node := Node{}
	switch jn.Type {
	case "doc":
		node.Kind = KindDocument
	case "paragraph":
		node.Kind = KindParagraph
	case "heading":
		node.Kind = KindHeading
		node.Level = 1
		if lvl, ok := jn.Attrs["level"].(float64); ok {
			node.Level = int(lvl)
		}
	case "bulletList":
		node.Kind = KindBulletList
	case "orderedList":
		node.Kind = KindOrderedList
	case "listItem":
		node.Kind = KindListItem
	case "text":
		node.Kind = KindText
		node.Text = jn.Text
		return node, nil
	default:
		node.Kind = KindOther
		node.otherType = jn.Type
		node.Text = jn.Text
	}

	if len(jn.Content) == 0 {
		return node, nil
	}
	var children []jsonNode
	if err := json.Unmarshal(jn.Content, &children); err != nil {
		return Node{}, fmt.Errorf("parse %s content: %w", jn.Type, err)
	}
	for _, child := range children {
		parsed, err := fromJSONNode(child)
		if err != nil {
			return Node{}, err
		}
		node.Children = append(node.Children, parsed)
	}
	return node, nil
}

// MarshalJSON encodes the node back into the editor's document shape.
func (n Node) MarshalJSON() ([]byte, error) {
	out := map[string]any{}
	switch n.Kind {
	case KindText:
		out["type"] = "text"
		out["text"] = n.Text
		return json.Marshal(out)
	case KindHeading:
		out["type"] = "heading"
		level := n.Level
		if level < 1 {
			level = 1
		}
		out["attrs"] = map[string]any{"level": level}
	case KindOther:
		typ := n.otherType
		if typ == "" {
			typ = "paragraph"
		}
		out["type"] = typ
		if n.Text != "" {
			out["text"] = n.Text
		}
	default:
		out["type"] = string(n.Kind)
	}
	if len(n.Children) > 0 {
		out["content"] = n.Children
	}
	return json.Marshal(out)
}

// UnmarshalJSON decodes a single editor node (any type, not just doc).
func (n *Node) UnmarshalJSON(data []byte) error {
	var jn jsonNode
	if err := json.Unmarshal(data, &jn); err != nil {
		return err
	}
	parsed, err := fromJSONNode(jn)
	if err != nil {
		return err
	}
	*n = parsed
	return nil
}
