package domain

import (
	"cmp"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"time"
)

// ErrPostNotFound is returned when a vote or hit references a post id that
// does not exist.
var ErrPostNotFound = errors.New("post not found")

// maxPageIndex bounds the attacker-controlled page parameter. It matches
// the seven-digit cap applied when parsing request integers.
const maxPageIndex = 9_999_999

// Mode selects how a discovery page is ordered. It is chosen once at
// request entry and threaded through the query and projection stages.
type Mode int

const (
	// Trending orders by time-decayed score, ties broken by published date.
	Trending Mode = iota

	// Newest orders strictly by published date descending.
	Newest
)

func (m Mode) String() string {
	if m == Newest {
		return "newest"
	}
	return "trending"
}

// DiscoverPage is the view model for one interactive discovery page.
//
// PreviousPage and NextPage are always Page-1 and Page+1; callers detect
// "no more results" from an empty Posts slice rather than from the cursors.
type DiscoverPage struct {
	Mode         Mode
	Page         int
	PreviousPage int
	NextPage     int

	// From is the absolute index of the first post on the page, used for
	// display numbering.
	From int

	Posts []Post

	// Upvoted holds the ids of returned posts the requesting IP has
	// already voted on.
	Upvoted map[int64]bool
}

// DiscoverService owns the discovery business logic: ranking eligible posts,
// paginating them consistently, recording votes and page views.
type DiscoverService struct {
	posts  PostRepository
	votes  UpvoteRepository
	hits   HitRepository
	logger *slog.Logger
}

// NewDiscoverService creates a DiscoverService backed by the given
// repositories.
func NewDiscoverService(posts PostRepository, votes UpvoteRepository, hits HitRepository, logger *slog.Logger) *DiscoverService {
	return &DiscoverService{
		posts:  posts,
		votes:  votes,
		hits:   hits,
		logger: logger,
	}
}

// GetPage returns one page of ranked posts annotated with the requesting
// IP's prior votes. Out-of-range page indices are clamped, never rejected:
// discovery degrades gracefully on bad pagination input.
func (s *DiscoverService) GetPage(ctx context.Context, mode Mode, page int, ipAddress string) (*DiscoverPage, error) {
	page = clampPage(page)
	now := time.Now().UTC()

	posts, err := s.rankedPosts(ctx, mode, now)
	if err != nil {
		return nil, err
	}
	window := pageWindow(posts, page)

	upvoted := make(map[int64]bool, len(window))
	if len(window) > 0 {
		ids := make([]int64, len(window))
		for i, p := range window {
			ids[i] = p.ID
		}
		voted, err := s.votes.UpvotedPostIDs(ctx, ipAddress, ids)
		if err != nil {
			return nil, fmt.Errorf("list upvoted posts: %w", err)
		}
		for _, id := range voted {
			upvoted[id] = true
		}
	}

	return &DiscoverPage{
		Mode:         mode,
		Page:         page,
		PreviousPage: page - 1,
		NextPage:     page + 1,
		From:         page * PostsPerPage,
		Posts:        window,
		Upvoted:      upvoted,
	}, nil
}

// FeedPosts returns the first page of ranked posts for syndication. Feeds
// have no viewer, so no vote annotation is performed.
func (s *DiscoverService) FeedPosts(ctx context.Context, mode Mode) ([]Post, error) {
	posts, err := s.rankedPosts(ctx, mode, time.Now().UTC())
	if err != nil {
		return nil, err
	}
	return pageWindow(posts, 0), nil
}

// RecordUpvote registers one vote per (post, ip) pair. A repeat vote is a
// silent no-op returning accepted=false, not an error.
//
// The existence check and the insert are not isolated from concurrent
// identical requests, so a race can admit a duplicate vote. That window is
// accepted: votes are advisory ranking signals, not financial records.
func (s *DiscoverService) RecordUpvote(ctx context.Context, postID int64, ipAddress string) (bool, error) {
	exists, err := s.posts.PostExists(ctx, postID)
	if err != nil {
		return false, fmt.Errorf("look up post %d: %w", postID, err)
	}
	if !exists {
		return false, ErrPostNotFound
	}

	voted, err := s.votes.HasUpvote(ctx, postID, ipAddress)
	if err != nil {
		return false, fmt.Errorf("check existing upvote: %w", err)
	}
	if voted {
		return false, nil
	}

	upvote := &Upvote{
		PostID:    postID,
		IPAddress: ipAddress,
		CreatedAt: time.Now().UTC(),
	}
	if err := s.votes.CreateUpvote(ctx, upvote); err != nil {
		return false, fmt.Errorf("create upvote: %w", err)
	}
	return true, nil
}

// RecordHit registers a page view for analytics.
func (s *DiscoverService) RecordHit(ctx context.Context, postID int64, ipAddress string) error {
	exists, err := s.posts.PostExists(ctx, postID)
	if err != nil {
		return fmt.Errorf("look up post %d: %w", postID, err)
	}
	if !exists {
		return ErrPostNotFound
	}

	hit := &Hit{
		PostID:    postID,
		IPAddress: ipAddress,
		CreatedAt: time.Now().UTC(),
	}
	if err := s.hits.CreateHit(ctx, hit); err != nil {
		return fmt.Errorf("create hit: %w", err)
	}
	return nil
}

// StartHitCleanupJob runs a background loop that prunes hits older than
// maxAge. It runs immediately on start and then repeats at the given
// interval. It blocks until ctx is cancelled.
func (s *DiscoverService) StartHitCleanupJob(ctx context.Context, interval, maxAge time.Duration) {
	s.runHitCleanup(ctx, maxAge)

	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.runHitCleanup(ctx, maxAge)
		}
	}
}

func (s *DiscoverService) runHitCleanup(ctx context.Context, maxAge time.Duration) {
	deleted, err := s.hits.DeleteOldHits(ctx, maxAge)
	if err != nil {
		s.logger.Error("hit cleanup failed", "error", err)
	} else if deleted > 0 {
		s.logger.Info("hit cleanup complete", "deleted", deleted)
	}
}

// rankedPosts fetches the eligible snapshot and orders it for the mode.
// Every score in the snapshot is computed against the same now instant so
// ordering cannot drift mid-page.
func (s *DiscoverService) rankedPosts(ctx context.Context, mode Mode, now time.Time) ([]Post, error) {
	posts, err := s.posts.ListEligible(ctx, now)
	if err != nil {
		return nil, fmt.Errorf("list eligible posts: %w", err)
	}

	switch mode {
	case Newest:
		slices.SortFunc(posts, func(a, b Post) int {
			return b.PublishedAt.Compare(a.PublishedAt)
		})
	default:
		for i := range posts {
			age := now.Sub(posts[i].PublishedAt).Seconds()
			posts[i].Score = Score(posts[i].VoteCount, age, Gravity)
		}
		slices.SortFunc(posts, func(a, b Post) int {
			if c := cmp.Compare(b.Score, a.Score); c != 0 {
				return c
			}
			return b.PublishedAt.Compare(a.PublishedAt)
		})
	}
	return posts, nil
}

func pageWindow(posts []Post, page int) []Post {
	from := page * PostsPerPage
	if from >= len(posts) {
		return nil
	}
	to := min(from+PostsPerPage, len(posts))
	return posts[from:to]
}

func clampPage(page int) int {
	if page < 0 {
		return 0
	}
	if page > maxPageIndex {
		return maxPageIndex
	}
	return page
}
