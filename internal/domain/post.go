package domain

import (
	"fmt"
	"time"
)

// Blog is the tenant that owns a set of posts. The discovery core only
// reads blogs, to gate eligibility and to build canonical URLs.
type Blog struct {
	ID int64

	Title string

	// Subdomain is the blog's slug under the platform's root domain.
	Subdomain string

	// Domain is an optional custom domain. When set it takes precedence
	// over the subdomain for canonical URLs.
	Domain string

	// Reviewed means a staff member has approved the blog for discovery.
	Reviewed bool

	// Blocked blogs never appear in discovery regardless of review state.
	Blocked bool
}

// URL returns the blog's canonical base URL: the custom domain when one is
// configured, otherwise the subdomain under the platform's root domain.
func (b Blog) URL(rootDomain string) string {
	if b.Domain != "" {
		return fmt.Sprintf("http://%s", b.Domain)
	}
	return fmt.Sprintf("http://%s.%s", b.Subdomain, rootDomain)
}

// Post is a single entry on a blog. Posts are owned and mutated by the
// dashboard; discovery reads them and derives vote counts and scores.
type Post struct {
	ID   int64
	Blog Blog

	Title   string
	Slug    string
	Content string

	PublishedAt time.Time

	// Publish is false for drafts.
	Publish bool

	// ShowInFeed is the author's opt-out from discovery and syndication.
	ShowInFeed bool

	// IsPage marks static pages (about, contact) rather than posts.
	IsPage bool

	// VoteCount is the number of upvotes, aggregated at query time.
	VoteCount int

	// Score is the trending score, computed per request and never stored.
	Score float64
}

// URL returns the canonical URL of the post.
func (p Post) URL(rootDomain string) string {
	return fmt.Sprintf("%s/%s/", p.Blog.URL(rootDomain), p.Slug)
}

// Discoverable reports whether the post may appear in discovery or
// syndication at the given instant.
func (p Post) Discoverable(now time.Time) bool {
	return p.Publish &&
		p.ShowInFeed &&
		!p.PublishedAt.After(now) &&
		p.Blog.Reviewed &&
		!p.Blog.Blocked
}

// Upvote records one reader vote on a post. Upvotes are created once and
// never updated or deleted by this core.
type Upvote struct {
	PostID    int64
	IPAddress string
	CreatedAt time.Time
}

// Hit records one page view for analytics. Unlike upvotes, hits are pruned
// after a retention window by the background cleanup job.
type Hit struct {
	PostID    int64
	IPAddress string
	CreatedAt time.Time
}
