// Package syndication renders ranked discovery pages as RSS or Atom
// documents. Post bodies are stored as untrusted author markdown, so they
// are rendered to HTML and sanitized before leaving the platform.
package syndication

import (
	"bytes"
	"fmt"

	"github.com/gorilla/feeds"
	"github.com/microcosm-cc/bluemonday"
	"github.com/yuin/goldmark"

	"github.com/burrowblog/burrowblog/internal/domain"
)

// Format selects the wire format of a rendered feed.
type Format int

const (
	// Atom is the default format.
	Atom Format = iota
	RSS
)

// FormatFromType maps the request's type parameter to a Format. Only the
// exact value "rss" selects RSS; anything else falls back to Atom.
func FormatFromType(t string) Format {
	if t == "rss" {
		return RSS
	}
	return Atom
}

// ContentType returns the MIME type for the format.
func (f Format) ContentType() string {
	if f == RSS {
		return "application/rss+xml"
	}
	return "application/atom+xml"
}

// Renderer builds syndication documents for a site.
type Renderer struct {
	siteName   string
	siteDomain string
	sanitizer  *bluemonday.Policy
}

// NewRenderer creates a Renderer for the given site identity.
func NewRenderer(siteName, siteDomain string) *Renderer {
	return &Renderer{
		siteName:   siteName,
		siteDomain: siteDomain,
		sanitizer:  bluemonday.UGCPolicy(),
	}
}

// Render serializes a ranked page of posts into the chosen format. Entry
// ids and links are the canonical post URLs; the author is the blog's
// public subdomain, never an email address; published and updated are equal
// because posts are not edit-tracked here.
func (r *Renderer) Render(posts []domain.Post, mode domain.Mode, format Format) ([]byte, error) {
	feed := &feeds.Feed{
		Id:     r.siteName,
		Author: &feeds.Author{Name: r.siteName},
	}

	if mode == domain.Newest {
		feed.Title = fmt.Sprintf("%s Most Recent Posts", r.siteName)
		feed.Description = fmt.Sprintf("Most recent posts on %s", r.siteName)
		feed.Link = &feeds.Link{Href: fmt.Sprintf("http://%s/discover?newest=true", r.siteDomain)}
	} else {
		feed.Title = fmt.Sprintf("%s Trending Posts", r.siteName)
		feed.Description = fmt.Sprintf("Trending posts on %s", r.siteName)
		feed.Link = &feeds.Link{Href: fmt.Sprintf("http://%s/discover", r.siteDomain)}
	}

	for _, post := range posts {
		body, err := r.renderBody(post.Content)
		if err != nil {
			return nil, fmt.Errorf("render post %d body: %w", post.ID, err)
		}

		url := post.URL(r.siteDomain)
		feed.Items = append(feed.Items, &feeds.Item{
			Id:      url,
			Title:   post.Title,
			Author:  &feeds.Author{Name: post.Blog.Subdomain},
			Link:    &feeds.Link{Href: url},
			Content: body,
			Created: post.PublishedAt,
			Updated: post.PublishedAt,
		})
	}

	var (
		out string
		err error
	)
	if format == RSS {
		out, err = feed.ToRss()
	} else {
		out, err = feed.ToAtom()
	}
	if err != nil {
		return nil, fmt.Errorf("serialize %s feed: %w", mode, err)
	}
	return []byte(out), nil
}

// renderBody converts author markdown to HTML and strips anything the UGC
// policy does not allow, scripts included.
func (r *Renderer) renderBody(markdown string) (string, error) {
	var buf bytes.Buffer
	if err := goldmark.Convert([]byte(markdown), &buf); err != nil {
		return "", err
	}
	return r.sanitizer.Sanitize(buf.String()), nil
}
