package extract

import (
	"bytes"
	"fmt"
	"strings"

	"golang.org/x/net/html"
)

// maxHTMLDepth caps walker recursion on pathological documents.
const maxHTMLDepth = 50

// skippedHTMLElements never contribute visible text.
var skippedHTMLElements = map[string]bool{
	"script":   true,
	"style":    true,
	"noscript": true,
	"iframe":   true,
	"svg":      true,
	"nav":      true,
	"footer":   true,
	"header":   true,
	"aside":    true,
}

// extractHTML keeps the visible text of a page: title and meta description
// land in metadata, h1-h6 become headings, everything else becomes
// paragraphs in document order.
func extractHTML(blob []byte) (*Result, error) {
	doc, err := html.Parse(bytes.NewReader(blob))
	if err != nil {
		return nil, fmt.Errorf("parse html: %w", err)
	}

	w := &htmlWalker{metadata: map[string]string{}}
	w.walk(doc, 0)
	w.flush()

	var parts []string
	if title := w.metadata["title"]; title != "" {
		parts = append(parts, title)
	}
	if body := blockText(w.blocks); body != "" {
		parts = append(parts, body)
	}

	return &Result{
		FullText:  strings.Join(parts, "\n"),
		Structure: w.blocks,
		Metadata:  w.metadata,
	}, nil
}

type htmlWalker struct {
	blocks   []Block
	metadata map[string]string
	para     strings.Builder
}

func (w *htmlWalker) walk(n *html.Node, depth int) {
	if depth > maxHTMLDepth {
		return
	}

	switch n.Type {
	case html.TextNode:
		if text := strings.TrimSpace(n.Data); text != "" {
			if w.para.Len() > 0 {
				w.para.WriteString(" ")
			}
			w.para.WriteString(text)
		}

	case html.ElementNode:
		if skippedHTMLElements[n.Data] {
			return
		}
		switch n.Data {
		case "title":
			if w.metadata["title"] == "" {
				w.metadata["title"] = nodeText(n)
			}
			return
		case "meta":
			if strings.EqualFold(nodeAttr(n, "name"), "description") {
				if content := strings.TrimSpace(nodeAttr(n, "content")); content != "" {
					w.metadata["description"] = content
				}
			}
			return
		case "h1", "h2", "h3", "h4", "h5", "h6":
			w.flush()
			if text := nodeText(n); text != "" {
				w.blocks = append(w.blocks, Block{Kind: BlockHeading, Text: text, Style: n.Data})
			}
			return
		case "li":
			w.flush()
			if text := nodeText(n); text != "" {
				w.blocks = append(w.blocks, Block{Kind: BlockListItem, Text: text})
			}
			return
		case "p", "div", "section", "article", "table", "tr", "ul", "ol", "blockquote", "br":
			w.flush()
		}
	}

	for c := n.FirstChild; c != nil; c = c.NextSibling {
		w.walk(c, depth+1)
	}

	if n.Type == html.ElementNode {
		switch n.Data {
		case "p", "div", "section", "article", "table", "tr", "ul", "ol", "blockquote":
			w.flush()
		}
	}
}

// flush turns accumulated inline text into one paragraph block.
func (w *htmlWalker) flush() {
	text := strings.TrimSpace(w.para.String())
	w.para.Reset()
	if text == "" {
		return
	}
	w.blocks = append(w.blocks, Block{Kind: BlockParagraph, Text: text})
}

// nodeText flattens a subtree's text nodes, skipping invisible elements.
func nodeText(n *html.Node) string {
	var sb strings.Builder
	var visit func(*html.Node, int)
	visit = func(node *html.Node, depth int) {
		if depth > maxHTMLDepth {
			return
		}
		if node.Type == html.ElementNode && skippedHTMLElements[node.Data] {
			return
		}
		if node.Type == html.TextNode {
			if text := strings.TrimSpace(node.Data); text != "" {
				if sb.Len() > 0 {
					sb.WriteString(" ")
				}
				sb.WriteString(text)
			}
		}
		for c := node.FirstChild; c != nil; c = c.NextSibling {
			visit(c, depth+1)
		}
	}
	visit(n, 0)
	return sb.String()
}

func nodeAttr(n *html.Node, key string) string {
	for _, attr := range n.Attr {
		if attr.Key == key {
			return attr.Val
		}
	}
	return ""
}
