package site

import (
	"github.com/l0p7/hnedge/internal/hn"
	"github.com/l0p7/hnedge/internal/runtime/cache"
)

// Validators are computed over the fields a reader can see change, never
// over rendered markup.

// feedValidators returns only an ETag. Rank and score changes never move an
// item's time, so a Last-Modified would answer 304 for a reordered feed.
func feedValidators(page hn.Page) string {
	parts := []any{string(page.Kind), page.Number, page.Size}
	for _, item := range page.Items {
		parts = append(parts, storyParts(item)...)
	}
	return cache.ETag(parts...)
}

// itemValidators dates the page by its newest comment. A score change alone
// leaves Last-Modified where it was, so If-Modified-Since can still 304 it.
func itemValidators(item *hn.Item) (etag, lastModified string) {
	parts := storyParts(item)
	parts = append(parts, item.Text)
	times := []int64{item.Time}
	walkComments(item.Comments, func(comment *hn.Item) {
		parts = append(parts, comment.ID, comment.By, comment.Text, comment.Visible(), len(comment.Kids))
		times = append(times, comment.Time)
	})
	lastModified, _ = cache.LastModified(times...)
	return cache.ETag(parts...), lastModified
}

func userValidators(user *hn.User) string {
	return cache.ETag(user.ID, user.Karma, user.About, len(user.Submitted), user.Created)
}

func storyParts(item *hn.Item) []any {
	return []any{item.ID, item.Title, item.Domain(), item.Descendants, item.URL, item.Score, item.Visible()}
}

func walkComments(comments []*hn.Item, visit func(*hn.Item)) {
	for _, comment := range comments {
		visit(comment)
		walkComments(comment.Comments, visit)
	}
}
