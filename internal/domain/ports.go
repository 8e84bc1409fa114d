package domain

import (
	"context"
	"time"
)

// PostRepository defines read access to posts and their owning blogs.
type PostRepository interface {
	// ListEligible retrieves every post that is discoverable at the given
	// instant, with vote counts aggregated, ordered by published date
	// descending. The same instant must gate the published-date filter so
	// one page is a single consistent snapshot.
	ListEligible(ctx context.Context, now time.Time) ([]Post, error)

	// PostExists reports whether a post with the given id exists at all,
	// eligible or not.
	PostExists(ctx context.Context, postID int64) (bool, error)
}

// UpvoteRepository defines persistence operations for the vote ledger.
type UpvoteRepository interface {
	// HasUpvote reports whether the origin IP has already voted on the post.
	HasUpvote(ctx context.Context, postID int64, ipAddress string) (bool, error)

	// CreateUpvote inserts a new vote.
	CreateUpvote(ctx context.Context, upvote *Upvote) error

	// UpvotedPostIDs returns the subset of postIDs the origin IP has voted
	// on, for annotating a rendered page.
	UpvotedPostIDs(ctx context.Context, ipAddress string, postIDs []int64) ([]int64, error)
}

// HitRepository defines persistence operations for page-view analytics.
type HitRepository interface {
	// CreateHit inserts a page-view record.
	CreateHit(ctx context.Context, hit *Hit) error

	// DeleteOldHits removes hits older than maxAge. Returns the number of
	// rows deleted.
	DeleteOldHits(ctx context.Context, maxAge time.Duration) (int64, error)
}
