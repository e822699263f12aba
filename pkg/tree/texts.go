package tree

import (
	"github.com/hneveryday/hn-client/pkg/item"
	"github.com/hneveryday/hn-client/pkg/render"
)

// TopLevelTexts returns the plain-text bodies of the first n depth-0
// nodes that have text, in tree order.
func TopLevelTexts(nodes []item.TreeNode, n int) []string {
	texts := make([]string, 0, min(n, len(nodes)))
	for _, node := range nodes {
		if len(texts) >= n {
			break
		}
		if node.Depth != 0 {
			continue
		}
		if text := render.Text(node.Item.Text); text != "" {
			texts = append(texts, text)
		}
	}
	return texts
}
