// Package item defines the Hacker News data model shared by the client,
// the batch fetcher, the comment tree loader and the feed controller.
package item

import (
	"encoding/json"
	"fmt"
	"strconv"
	"time"
)

// Kind is the item type reported by the API. The empty Kind means the
// item has not been classified.
type Kind string

const (
	KindStory   Kind = "story"
	KindComment Kind = "comment"
	KindJob     Kind = "job"
	KindPoll    Kind = "poll"
	KindPollOpt Kind = "pollopt"
)

// DiscussionBaseURL is the public web page for an item.
const DiscussionBaseURL = "https://news.ycombinator.com/item?id="

// Item is a single node of the content tree: a story, a comment, a job,
// a poll or a poll option.
//
// Kids is the only authoritative ordering of an item's descendants.
type Item struct {
	ID          int       `json:"id"`
	Type        Kind      `json:"type,omitempty"`
	By          string    `json:"by,omitempty"`
	Time        time.Time `json:"-"`
	Text        string    `json:"text,omitempty"`
	URL         string    `json:"url,omitempty"`
	Score       int       `json:"score,omitempty"`
	Title       string    `json:"title,omitempty"`
	Descendants int       `json:"descendants,omitempty"`
	Kids        []int     `json:"kids,omitempty"`
	Parent      int       `json:"parent,omitempty"`
	Poll        int       `json:"poll,omitempty"`
	Parts       []int     `json:"parts,omitempty"`
	Deleted     bool      `json:"deleted,omitempty"`
	Dead        bool      `json:"dead,omitempty"`
}

// wireItem carries the unix-seconds timestamp used on the wire.
type wireItem struct {
	itemAlias
	Time int64 `json:"time,omitempty"`
}

type itemAlias Item

// UnmarshalJSON decodes the API representation, converting the unix
// timestamp into a time.Time.
func (i *Item) UnmarshalJSON(data []byte) error {
	var w wireItem
	if err := json.Unmarshal(data, &w); err != nil {
		return err
	}
	*i = Item(w.itemAlias)
	if w.Time != 0 {
		i.Time = time.Unix(w.Time, 0).UTC()
	}
	return nil
}

// MarshalJSON encodes the item in the API representation.
func (i Item) MarshalJSON() ([]byte, error) {
	w := wireItem{itemAlias: itemAlias(i)}
	if !i.Time.IsZero() {
		w.Time = i.Time.Unix()
	}
	return json.Marshal(w)
}

// IsTombstone reports whether the item was deleted or killed. Tombstones
// never appear in comment trees and are never expanded.
func (i Item) IsTombstone() bool {
	return i.Deleted || i.Dead
}

// HasTitle reports whether the item can be shown in a listing.
func (i Item) HasTitle() bool {
	return i.Title != ""
}

// HasChildren reports whether the item lists any child IDs.
func (i Item) HasChildren() bool {
	return len(i.Kids) > 0
}

// DiscussionURL returns the item's page on news.ycombinator.com.
func (i Item) DiscussionURL() string {
	return DiscussionBaseURL + strconv.Itoa(i.ID)
}

// String implements fmt.Stringer for log output.
func (i Item) String() string {
	if i.Title != "" {
		return fmt.Sprintf("%s %d %q", i.Type, i.ID, i.Title)
	}
	return fmt.Sprintf("%s %d by %s", i.Type, i.ID, i.By)
}

// User is a public user profile.
type User struct {
	ID        string    `json:"id"`
	Created   time.Time `json:"-"`
	Karma     int       `json:"karma"`
	About     string    `json:"about,omitempty"`
	Submitted []int     `json:"submitted,omitempty"`
}

type userAlias User

type wireUser struct {
	userAlias
	Created int64 `json:"created"`
}

// UnmarshalJSON decodes the API representation of a user.
func (u *User) UnmarshalJSON(data []byte) error {
	var w wireUser
	if err := json.Unmarshal(data, &w); err != nil {
		return err
	}
	*u = User(w.userAlias)
	if w.Created != 0 {
		u.Created = time.Unix(w.Created, 0).UTC()
	}
	return nil
}

// MarshalJSON encodes the user in the API representation.
func (u User) MarshalJSON() ([]byte, error) {
	w := wireUser{userAlias: userAlias(u)}
	if !u.Created.IsZero() {
		w.Created = u.Created.Unix()
	}
	return json.Marshal(w)
}
