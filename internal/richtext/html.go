package richtext

import (
	"strings"

	"golang.org/x/net/html"
)

// FromHTML converts the children of an HTML container element into a document
// tree. Block elements map onto their tree counterparts; inline markup is
// flattened into text leaves; loose text between blocks is wrapped in a
// paragraph. A container with no usable content yields one empty paragraph.
func FromHTML(container *html.Node) Node {
	doc := Document()
	var pending strings.Builder

	flushPending := func() {
		text := strings.TrimSpace(pending.String())
		pending.Reset()
		if text != "" {
			doc.Children = append(doc.Children, Paragraph(text))
		}
	}

	var walk func(n *html.Node)
	walk = func(n *html.Node) {
		for child := n.FirstChild; child != nil; child = child.NextSibling {
			switch child.Type {
			case html.TextNode:
				pending.WriteString(child.Data)
			case html.ElementNode:
				if block, ok := blockFromElement(child); ok {
					flushPending()
					doc.Children = append(doc.Children, block)
					continue
				}
				// Unrecognized element: descend so nested blocks and
				// inline text are not lost.
				walk(child)
			}
		}
	}
	walk(container)
	flushPending()

	if len(doc.Children) == 0 {
		doc.Children = append(doc.Children, Paragraph(""))
	}
	return doc
}

func blockFromElement(n *html.Node) (Node, bool) {
	switch n.Data {
	case "p":
		return Paragraph(inlineText(n)), true
	case "h1", "h2", "h3", "h4", "h5", "h6":
		level := int(n.Data[1] - '0')
		return Heading(level, inlineText(n)), true
	case "ul":
		return listFromElement(n, KindBulletList), true
	case "ol":
		return listFromElement(n, KindOrderedList), true
	}
	return Node{}, false
}

func listFromElement(n *html.Node, kind Kind) Node {
	list := Node{Kind: kind}
	for child := n.FirstChild; child != nil; child = child.NextSibling {
		if child.Type != html.ElementNode || child.Data != "li" {
			continue
		}
		item := Node{Kind: KindListItem}
		// The item's own text becomes a paragraph; a nested list stays a
		// child of the item so the tree keeps its depth.
		if text := itemText(child); text != "" {
			item.Children = append(item.Children, Paragraph(text))
		}
		for sub := child.FirstChild; sub != nil; sub = sub.NextSibling {
			if sub.Type != html.ElementNode {
				continue
			}
			if sub.Data == "ul" {
				item.Children = append(item.Children, listFromElement(sub, KindBulletList))
			} else if sub.Data == "ol" {
				item.Children = append(item.Children, listFromElement(sub, KindOrderedList))
			}
		}
		if len(item.Children) == 0 {
			item.Children = append(item.Children, Paragraph(""))
		}
		list.Children = append(list.Children, item)
	}
	return list
}

// inlineText flattens an element's inline content into plain text, dropping
// formatting markup.
func inlineText(n *html.Node) string {
	var b strings.Builder
	var walk func(*html.Node)
	walk = func(n *html.Node) {
		for child := n.FirstChild; child != nil; child = child.NextSibling {
			if child.Type == html.TextNode {
				b.WriteString(child.Data)
				continue
			}
			if child.Type == html.ElementNode {
				if child.Data == "br" {
					b.WriteString("\n")
					continue
				}
				walk(child)
			}
		}
	}
	walk(n)
	return strings.TrimSpace(b.String())
}

// itemText collects a list item's text excluding any nested lists, which are
// handled as structural children.
func itemText(n *html.Node) string {
	var b strings.Builder
	var walk func(*html.Node)
	walk = func(n *html.Node) {
		for child := n.FirstChild; child != nil; child = child.NextSibling {
			if child.Type == html.TextNode {
				b.WriteString(child.Data)
				continue
			}
			if child.Type == html.ElementNode {
				if child.Data == "ul" || child.Data == "ol" {
					continue
				}
				walk(child)
			}
		}
	}
	walk(n)
	return strings.TrimSpace(b.String())
}
