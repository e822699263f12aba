package render

import (
	"fmt"
	"strings"
	"time"

	"github.com/gorilla/feeds"
	"github.com/hneveryday/hn-client/pkg/item"
)

// RSS renders a listing page as an RSS 2.0 document. Items without an
// external URL link to their discussion page.
func RSS(category item.Category, items []item.Item, baseURL string) (string, error) {
	feed := &feeds.Feed{
		Title:       fmt.Sprintf("Hacker News: %s", category),
		Link:        &feeds.Link{Href: strings.TrimRight(baseURL, "/") + "/feeds/" + string(category)},
		Description: fmt.Sprintf("%s stories from Hacker News", category),
		Created:     time.Now(),
	}

	for _, it := range items {
		link := it.URL
		if link == "" {
			link = it.DiscussionURL()
		}

		description := fmt.Sprintf("%d points by %s | <a href=\"%s\">comments</a>",
			it.Score, it.By, it.DiscussionURL())
		if it.Text != "" {
			description = Text(it.Text) + "<br>" + description
		}

		feed.Items = append(feed.Items, &feeds.Item{
			Id:          it.DiscussionURL(),
			Title:       it.Title,
			Link:        &feeds.Link{Href: link},
			Author:      &feeds.Author{Name: it.By},
			Description: description,
			Created:     it.Time,
		})
	}

	return feed.ToRss()
}
