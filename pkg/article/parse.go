package article

import (
	"bytes"
	"fmt"
	"io"
	"strings"

	"github.com/microcosm-cc/bluemonday"
	"golang.org/x/net/html"
	"golang.org/x/net/html/atom"
)

// dropped subtrees never count as readable content.
var dropped = map[atom.Atom]bool{
	atom.Script:   true,
	atom.Style:    true,
	atom.Noscript: true,
	atom.Nav:      true,
	atom.Header:   true,
	atom.Footer:   true,
	atom.Aside:    true,
	atom.Form:     true,
	atom.Iframe:   true,
	atom.Svg:      true,
}

var blocks = map[atom.Atom]bool{
	atom.P: true, atom.Div: true, atom.Br: true, atom.Li: true,
	atom.H1: true, atom.H2: true, atom.H3: true, atom.H4: true, atom.H5: true, atom.H6: true,
	atom.Pre: true, atom.Blockquote: true, atom.Tr: true, atom.Section: true, atom.Article: true,
}

// Parse extracts an Article from an HTML document. Metadata comes from
// Open Graph and standard meta tags; content from the first <article>,
// else <main>, else <body>.
func Parse(r io.Reader, policy *bluemonday.Policy) (*Article, error) {
	doc, err := html.Parse(r)
	if err != nil {
		return nil, fmt.Errorf("parse html: %w", err)
	}
	if policy == nil {
		policy = bluemonday.UGCPolicy()
	}

	meta := map[string]string{}
	var title string
	var articleNode, mainNode, bodyNode *html.Node

	var walk func(*html.Node)
	walk = func(n *html.Node) {
		if n.Type == html.ElementNode {
			switch n.DataAtom {
			case atom.Title:
				if title == "" {
					title = strings.TrimSpace(textOf(n))
				}
			case atom.Meta:
				key := strings.ToLower(attr(n, "property"))
				if key == "" {
					key = strings.ToLower(attr(n, "name"))
				}
				if key != "" {
					if _, ok := meta[key]; !ok {
						meta[key] = strings.TrimSpace(attr(n, "content"))
					}
				}
			case atom.Article:
				if articleNode == nil {
					articleNode = n
				}
			case atom.Main:
				if mainNode == nil {
					mainNode = n
				}
			case atom.Body:
				bodyNode = n
			}
		}
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			walk(c)
		}
	}
	walk(doc)

	content := firstNonNil(articleNode, mainNode, bodyNode)
	if content == nil {
		return nil, ErrNoContent
	}
	prune(content)

	var buf bytes.Buffer
	for c := content.FirstChild; c != nil; c = c.NextSibling {
		if err := html.Render(&buf, c); err != nil {
			return nil, fmt.Errorf("render content: %w", err)
		}
	}

	text := collapse(textOf(content))
	if text == "" {
		return nil, ErrNoContent
	}

	a := &Article{
		Title:       firstNonEmpty(meta["og:title"], meta["twitter:title"], title),
		Byline:      firstNonEmpty(meta["author"], meta["article:author"]),
		Excerpt:     firstNonEmpty(meta["description"], meta["og:description"]),
		SiteName:    meta["og:site_name"],
		ContentHTML: strings.TrimSpace(policy.Sanitize(buf.String())),
		TextContent: text,
	}
	return a, nil
}

// prune removes non-content subtrees below n.
func prune(n *html.Node) {
	for c := n.FirstChild; c != nil; {
		next := c.NextSibling
		if c.Type == html.CommentNode || (c.Type == html.ElementNode && dropped[c.DataAtom]) {
			n.RemoveChild(c)
		} else {
			prune(c)
		}
		c = next
	}
}

// textOf returns the text below n with a line break after block elements.
func textOf(n *html.Node) string {
	var b strings.Builder
	var walk func(*html.Node)
	walk = func(n *html.Node) {
		switch n.Type {
		case html.TextNode:
			b.WriteString(n.Data)
			return
		case html.ElementNode:
			if dropped[n.DataAtom] {
				return
			}
		}
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			walk(c)
		}
		if n.Type == html.ElementNode && blocks[n.DataAtom] {
			b.WriteString("\n")
		}
	}
	walk(n)
	return b.String()
}

// collapse squeezes runs of spaces inside lines and drops empty lines.
func collapse(s string) string {
	var lines []string
	for _, line := range strings.Split(s, "\n") {
		if line = strings.Join(strings.Fields(line), " "); line != "" {
			lines = append(lines, line)
		}
	}
	return strings.Join(lines, "\n\n")
}

func attr(n *html.Node, key string) string {
	for _, a := range n.Attr {
		if strings.EqualFold(a.Key, key) {
			return a.Val
		}
	}
	return ""
}

func firstNonNil(nodes ...*html.Node) *html.Node {
	for _, n := range nodes {
		if n != nil {
			return n
		}
	}
	return nil
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}
