package hn

import (
	"net/url"
	"strings"
)

// FeedKind names one of the story lists the HN API publishes.
type FeedKind string

const (
	FeedTop  FeedKind = "top"
	FeedNew  FeedKind = "new"
	FeedBest FeedKind = "best"
	FeedAsk  FeedKind = "ask"
	FeedShow FeedKind = "show"
	FeedJob  FeedKind = "job"
)

// Valid reports whether k is one of the published feeds.
func (k FeedKind) Valid() bool {
	switch k {
	case FeedTop, FeedNew, FeedBest, FeedAsk, FeedShow, FeedJob:
		return true
	}
	return false
}

// Item mirrors /v0/item/<id>.json. Comments is filled by Client.Item.
type Item struct {
	ID          int64   `json:"id"`
	Type        string  `json:"type"`
	By          string  `json:"by"`
	Time        int64   `json:"time"`
	Text        string  `json:"text"`
	URL         string  `json:"url"`
	Title       string  `json:"title"`
	Score       int     `json:"score"`
	Descendants int     `json:"descendants"`
	Parent      int64   `json:"parent"`
	Kids        []int64 `json:"kids"`
	Dead        bool    `json:"dead"`
	Deleted     bool    `json:"deleted"`

	Comments []*Item `json:"-"`
}

// Domain returns the bare host of the item's link, without a www. prefix.
func (i *Item) Domain() string {
	if i == nil || i.URL == "" {
		return ""
	}
	parsed, err := url.Parse(i.URL)
	if err != nil {
		return ""
	}
	return strings.TrimPrefix(strings.ToLower(parsed.Hostname()), "www.")
}

// Visible reports whether the item should be rendered.
func (i *Item) Visible() bool {
	return i != nil && !i.Dead && !i.Deleted
}

// User mirrors /v0/user/<id>.json.
type User struct {
	ID        string  `json:"id"`
	Created   int64   `json:"created"`
	Karma     int     `json:"karma"`
	About     string  `json:"about"`
	Submitted []int64 `json:"submitted"`
}

// Page is one slice of a feed.
type Page struct {
	Kind    FeedKind
	Number  int
	Size    int
	Total   int
	Items   []*Item
	HasMore bool
}

// Offset is the zero-based rank of the first item on the page.
func (p Page) Offset() int {
	return (p.Number - 1) * p.Size
}
