// Package notionimport turns a workspace export — one metadata CSV plus many
// per-document HTML files — into a normalized batch of entries ready for bulk
// insert.
package notionimport

import (
	"bytes"
	"path"
	"strings"
	"time"

	"golang.org/x/net/html"

	"inkwell/api/internal/richtext"
)

// File is one uploaded file from the export.
type File struct {
	Name string
	Data []byte
}

// Record is one imported entry. Constructed in memory, handed once to the
// bulk insert path, then discarded.
type Record struct {
	Title        string
	Doc          richtext.Node
	CreatedAt    int64 // epoch millis; original creation time when matched
	Icon         string
	OriginalHTML string
}

// ImportBatch converts the export into one Record per HTML file, in input
// order. Each document's creation time comes from the metadata table joined
// on normalized title; unmatched documents fall back to now. A nil metadata
// file means every record uses now and no file is excluded as the index
// artifact.
func ImportBatch(metadata *File, files []File) []Record {
	createdTimes := map[string]int64{}
	indexBase := ""
	if metadata != nil {
		createdTimes = parseMetadataTable(metadata.Data)
		indexBase = baseName(metadata.Name)
	}

	now := time.Now().UnixMilli()
	records := make([]Record, 0, len(files))
	for _, file := range files {
		// The export writes an HTML rendering of its own index table; its
		// base name matches the CSV and it is not a document.
		if indexBase != "" && baseName(file.Name) == indexBase {
			continue
		}

		doc := parseDocument(file.Data)
		createdAt := now
		if when, ok := createdTimes[normalizeTitle(doc.title)]; ok {
			createdAt = when
		}

		records = append(records, Record{
			Title:        doc.title,
			Doc:          doc.body,
			CreatedAt:    createdAt,
			Icon:         doc.icon,
			OriginalHTML: string(file.Data),
		})
	}
	return records
}

type parsedDocument struct {
	title string
	icon  string
	body  richtext.Node
}

// parseDocument extracts title, icon, and converted body from one exported
// HTML file. Missing pieces get defaults: "Untitled" and one empty paragraph.
func parseDocument(data []byte) parsedDocument {
	parsed := parsedDocument{
		title: "Untitled",
		body:  richtext.EmptyDocument(),
	}

	root, err := html.Parse(bytes.NewReader(data))
	if err != nil {
		return parsed
	}

	if title := findElement(root, "title", ""); title != nil {
		if text := strings.TrimSpace(nodeText(title)); text != "" {
			parsed.title = text
		}
	}
	if icon := findElement(root, "span", "icon"); icon != nil {
		parsed.icon = strings.TrimSpace(nodeText(icon))
	}

	container := findElement(root, "div", "page-body")
	if container == nil {
		container = findElement(root, "body", "")
	}
	if container != nil {
		parsed.body = richtext.FromHTML(container)
	}
	return parsed
}

// findElement returns the first element with the given tag (and class, when
// non-empty) in depth-first order.
func findElement(n *html.Node, tag, class string) *html.Node {
	if n.Type == html.ElementNode && n.Data == tag {
		if class == "" || hasClass(n, class) {
			return n
		}
	}
	for child := n.FirstChild; child != nil; child = child.NextSibling {
		if found := findElement(child, tag, class); found != nil {
			return found
		}
	}
	return nil
}

func hasClass(n *html.Node, class string) bool {
	for _, attr := range n.Attr {
		if attr.Key != "class" {
			continue
		}
		for _, value := range strings.Fields(attr.Val) {
			if value == class {
				return true
			}
		}
	}
	return false
}

func nodeText(n *html.Node) string {
	var b strings.Builder
	var walk func(*html.Node)
	walk = func(n *html.Node) {
		if n.Type == html.TextNode {
			b.WriteString(n.Data)
		}
		for child := n.FirstChild; child != nil; child = child.NextSibling {
			walk(child)
		}
	}
	walk(n)
	return b.String()
}

func baseName(name string) string {
	base := path.Base(strings.ReplaceAll(name, "\\", "/"))
	return strings.TrimSuffix(base, path.Ext(base))
}
