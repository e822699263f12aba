package render

import (
	"fmt"
	"strings"
	"time"

	"github.com/gosimple/slug"
	"github.com/hneveryday/hn-client/pkg/item"
	"github.com/microcosm-cc/bluemonday"
	"github.com/russross/blackfriday/v2"
)

// KeyDiscussionComments is how many top-level comments an export quotes.
const KeyDiscussionComments = 5

// Export is everything that goes into a story export.
type Export struct {
	Story item.Item

	// Summary is the stored AI summary, if any.
	Summary string

	// ArticleText is the extracted article body, if any.
	ArticleText string

	// Comments is the loaded comment forest.
	Comments []item.TreeNode

	// Date stamps the front matter. Zero means now.
	Date time.Time
}

// Markdown renders an export document with front matter, link, summary,
// key discussion and article body.
func Markdown(e Export) string {
	date := e.Date
	if date.IsZero() {
		date = time.Now()
	}

	title := e.Story.Title
	if title == "" {
		title = "Untitled"
	}

	var b strings.Builder
	b.WriteString("---\n")
	b.WriteString("tags: #hackernews #link\n")
	fmt.Fprintf(&b, "date: %s\n", date.Format("2006-01-02"))
	fmt.Fprintf(&b, "source: %s\n", e.Story.DiscussionURL())
	b.WriteString("---\n")
	fmt.Fprintf(&b, "# %s\n", title)

	if e.Story.URL != "" {
		host := HostDomain(e.Story.URL)
		if host == "" {
			host = "Link"
		}
		fmt.Fprintf(&b, "\n**Original Link**: [%s](%s)\n", host, e.Story.URL)
	}

	if summary := strings.TrimSpace(e.Summary); summary != "" {
		fmt.Fprintf(&b, "\n## AI Summary\n%s\n", summary)
	}

	if len(e.Comments) > 0 {
		b.WriteString("\n## Key Discussion\n")
		for i, node := range e.Comments {
			if i == KeyDiscussionComments {
				break
			}
			author := node.Item.By
			if author == "" {
				author = "user"
			}
			text := strings.ReplaceAll(Text(node.Item.Text), "\n\n", " ")
			fmt.Fprintf(&b, "- **@%s**: %s\n", author, text)
		}
	}

	if article := strings.TrimSpace(e.ArticleText); article != "" {
		b.WriteString("\n## Article Content\n")
		b.WriteString("> *Extracted by the reader view*\n\n")
		b.WriteString(article)
		b.WriteString("\n")
	}

	return b.String()
}

// HTML renders the Markdown export to sanitized HTML. The front matter is
// dropped.
func HTML(e Export) string {
	md := Markdown(e)
	if rest, ok := strings.CutPrefix(md, "---\n"); ok {
		if i := strings.Index(rest, "---\n"); i >= 0 {
			md = rest[i+len("---\n"):]
		}
	}

	unsafe := blackfriday.Run([]byte(md),
		blackfriday.WithExtensions(blackfriday.CommonExtensions|blackfriday.HardLineBreak))
	return string(bluemonday.UGCPolicy().SanitizeBytes(unsafe))
}

// FileName returns a download name for the export, e.g. "my-yc-app-dropbox-8863.md".
func FileName(story item.Item, ext string) string {
	base := slug.Make(story.Title)
	if base == "" {
		return fmt.Sprintf("%d.%s", story.ID, ext)
	}
	return fmt.Sprintf("%s-%d.%s", base, story.ID, ext)
}
