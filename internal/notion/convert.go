package notion

import (
	"strings"

	"inkwell/api/internal/richtext"
)

// BlocksFromTree maps a document tree onto the ordered block list the page
// creation endpoint accepts. Only the document's direct children are walked:
// paragraphs with content, headings (levels above 3 collapse to 3, the
// deepest rank the destination has), and lists whose items flatten to one
// level of plain text. The destination rejects an empty body, so a tree with
// no renderable content yields a single empty paragraph block.
func BlocksFromTree(doc richtext.Node) []Block {
	var blocks []Block

	for _, node := range doc.Children {
		switch node.Kind {
		case richtext.KindParagraph:
			text := node.PlainText()
			if strings.TrimSpace(text) == "" {
				continue
			}
			blocks = append(blocks, textBlock("paragraph", text))
		case richtext.KindHeading:
			level := node.Level
			if level < 1 {
				level = 1
			}
			if level > 3 {
				level = 3
			}
			blockType := [...]string{"heading_1", "heading_2", "heading_3"}[level-1]
			blocks = append(blocks, textBlock(blockType, node.PlainText()))
		case richtext.KindBulletList:
			blocks = append(blocks, listItemBlocks(node, "bulleted_list_item")...)
		case richtext.KindOrderedList:
			blocks = append(blocks, listItemBlocks(node, "numbered_list_item")...)
		case richtext.KindDocument, richtext.KindListItem, richtext.KindText, richtext.KindOther:
			// Not valid or not representable at the top level.
		}
	}

	if len(blocks) == 0 {
		blocks = append(blocks, textBlock("paragraph", ""))
	}
	return blocks
}

// listItemBlocks expands each list item into one block carrying the item's
// flattened text. Nested lists contribute their text to the item rather than
// deeper structure.
func listItemBlocks(list richtext.Node, blockType string) []Block {
	var blocks []Block
	for _, item := range list.Children {
		if item.Kind != richtext.KindListItem {
			continue
		}
		blocks = append(blocks, textBlock(blockType, item.PlainText()))
	}
	return blocks
}
