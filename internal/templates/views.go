package templates

import "github.com/l0p7/hnedge/internal/hn"

// Page names understood by Renderer.Render.
const (
	PageFeed     = "feed"
	PageItem     = "item"
	PageUser     = "user"
	PageError    = "error"
	PageOffline  = "offline"
	PageNotFound = "notfound"
)

var pageNames = []string{PageFeed, PageItem, PageUser, PageError, PageOffline, PageNotFound}

// Meta is shared by every page for the layout.
type Meta struct {
	Title string
	// Nav is the path of the active navigation entry.
	Nav string
}

type FeedView struct {
	Meta
	Page hn.Page
	// More is the link to the next page, empty on the last one.
	More string
}

type ItemView struct {
	Meta
	Item *hn.Item
}

type UserView struct {
	Meta
	User *hn.User
}

type MessageView struct {
	Meta
	Status  int
	Message string
}
