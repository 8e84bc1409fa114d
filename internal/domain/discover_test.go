package domain

import (
	"context"
	"fmt"
	"log/slog"
	"slices"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeRepo is an in-memory implementation of the repository ports. Its
// ListEligible applies the same eligibility predicate the SQL layer encodes,
// via Post.Discoverable.
type fakeRepo struct {
	posts   []Post
	upvotes []Upvote
	hits    []Hit
}

func (f *fakeRepo) ListEligible(_ context.Context, now time.Time) ([]Post, error) {
	var out []Post
	for _, p := range f.posts {
		if !p.Discoverable(now) {
			continue
		}
		p.VoteCount = 0
		for _, u := range f.upvotes {
			if u.PostID == p.ID {
				p.VoteCount++
			}
		}
		out = append(out, p)
	}
	slices.SortFunc(out, func(a, b Post) int {
		return b.PublishedAt.Compare(a.PublishedAt)
	})
	return out, nil
}

func (f *fakeRepo) PostExists(_ context.Context, postID int64) (bool, error) {
	for _, p := range f.posts {
		if p.ID == postID {
			return true, nil
		}
	}
	return false, nil
}

func (f *fakeRepo) HasUpvote(_ context.Context, postID int64, ip string) (bool, error) {
	for _, u := range f.upvotes {
		if u.PostID == postID && u.IPAddress == ip {
			return true, nil
		}
	}
	return false, nil
}

func (f *fakeRepo) CreateUpvote(_ context.Context, upvote *Upvote) error {
	f.upvotes = append(f.upvotes, *upvote)
	return nil
}

func (f *fakeRepo) UpvotedPostIDs(_ context.Context, ip string, postIDs []int64) ([]int64, error) {
	var ids []int64
	for _, id := range postIDs {
		for _, u := range f.upvotes {
			if u.PostID == id && u.IPAddress == ip {
				ids = append(ids, id)
				break
			}
		}
	}
	return ids, nil
}

func (f *fakeRepo) CreateHit(_ context.Context, hit *Hit) error {
	f.hits = append(f.hits, *hit)
	return nil
}

func (f *fakeRepo) DeleteOldHits(_ context.Context, maxAge time.Duration) (int64, error) {
	cutoff := time.Now().UTC().Add(-maxAge)
	var kept []Hit
	var deleted int64
	for _, h := range f.hits {
		if h.CreatedAt.Before(cutoff) {
			deleted++
		} else {
			kept = append(kept, h)
		}
	}
	f.hits = kept
	return deleted, nil
}

func newTestService(repo *fakeRepo) *DiscoverService {
	return NewDiscoverService(repo, repo, repo, slog.New(slog.DiscardHandler))
}

func reviewedBlog(id int64) Blog {
	return Blog{ID: id, Title: fmt.Sprintf("blog %d", id), Subdomain: fmt.Sprintf("blog%d", id), Reviewed: true}
}

func eligiblePost(id int64, published time.Time) Post {
	return Post{
		ID:          id,
		Blog:        reviewedBlog(id),
		Title:       fmt.Sprintf("post %d", id),
		Slug:        fmt.Sprintf("post-%d", id),
		PublishedAt: published,
		Publish:     true,
		ShowInFeed:  true,
	}
}

func TestGetPage_EligibilityFilter(t *testing.T) {
	now := time.Now().UTC()

	draft := eligiblePost(2, now.Add(-time.Hour))
	draft.Publish = false

	hidden := eligiblePost(3, now.Add(-time.Hour))
	hidden.ShowInFeed = false

	unreviewed := eligiblePost(4, now.Add(-time.Hour))
	unreviewed.Blog.Reviewed = false

	blocked := eligiblePost(5, now.Add(-time.Hour))
	blocked.Blog.Blocked = true

	scheduled := eligiblePost(6, now.Add(time.Hour))

	repo := &fakeRepo{posts: []Post{
		eligiblePost(1, now.Add(-time.Hour)),
		draft, hidden, unreviewed, blocked, scheduled,
	}}

	page, err := newTestService(repo).GetPage(context.Background(), Trending, 0, "1.2.3.4")
	require.NoError(t, err)
	require.Len(t, page.Posts, 1)
	assert.Equal(t, int64(1), page.Posts[0].ID)
}

func TestRecordUpvote_Dedup(t *testing.T) {
	now := time.Now().UTC()
	repo := &fakeRepo{posts: []Post{eligiblePost(1, now.Add(-time.Hour))}}
	svc := newTestService(repo)
	ctx := context.Background()

	accepted, err := svc.RecordUpvote(ctx, 1, "1.2.3.4")
	require.NoError(t, err)
	assert.True(t, accepted)

	accepted, err = svc.RecordUpvote(ctx, 1, "1.2.3.4")
	require.NoError(t, err)
	assert.False(t, accepted)

	// One vote recorded, not two.
	page, err := svc.GetPage(ctx, Trending, 0, "1.2.3.4")
	require.NoError(t, err)
	require.Len(t, page.Posts, 1)
	assert.Equal(t, 1, page.Posts[0].VoteCount)

	// A different origin is still allowed to vote.
	accepted, err = svc.RecordUpvote(ctx, 1, "5.6.7.8")
	require.NoError(t, err)
	assert.True(t, accepted)
}

func TestRecordUpvote_UnknownPost(t *testing.T) {
	repo := &fakeRepo{}
	_, err := newTestService(repo).RecordUpvote(context.Background(), 42, "1.2.3.4")
	assert.ErrorIs(t, err, ErrPostNotFound)
}

func TestGetPage_PaginationCompleteAndDisjoint(t *testing.T) {
	now := time.Now().UTC()
	repo := &fakeRepo{}
	const total = 45
	for i := int64(1); i <= total; i++ {
		repo.posts = append(repo.posts, eligiblePost(i, now.Add(-time.Duration(i)*time.Minute)))
	}
	svc := newTestService(repo)

	seen := make(map[int64]int)
	sizes := []int{20, 20, 5, 0}
	for page, wantSize := range sizes {
		view, err := svc.GetPage(context.Background(), Newest, page, "1.2.3.4")
		require.NoError(t, err)
		assert.Len(t, view.Posts, wantSize, "page %d", page)
		assert.Equal(t, page-1, view.PreviousPage)
		assert.Equal(t, page+1, view.NextPage)
		for _, p := range view.Posts {
			seen[p.ID]++
		}
	}

	assert.Len(t, seen, total)
	for id, count := range seen {
		assert.Equal(t, 1, count, "post %d appeared %d times", id, count)
	}
}

func TestGetPage_NewestOrdering(t *testing.T) {
	now := time.Now().UTC()
	repo := &fakeRepo{posts: []Post{
		eligiblePost(1, now.Add(-3*time.Hour)),
		eligiblePost(2, now.Add(-time.Hour)),
		eligiblePost(3, now.Add(-2*time.Hour)),
	}}

	page, err := newTestService(repo).GetPage(context.Background(), Newest, 0, "1.2.3.4")
	require.NoError(t, err)
	require.Len(t, page.Posts, 3)
	for i := 1; i < len(page.Posts); i++ {
		assert.False(t, page.Posts[i-1].PublishedAt.Before(page.Posts[i].PublishedAt))
	}
	assert.Equal(t, []int64{2, 3, 1}, postIDs(page.Posts))
}

func TestGetPage_TrendingOrdering(t *testing.T) {
	now := time.Now().UTC()
	// Post 1: 5 votes at 1h old. Post 2: no votes at 2h. Post 3: 2 votes
	// at 10 minutes.
	repo := &fakeRepo{posts: []Post{
		eligiblePost(1, now.Add(-time.Hour)),
		eligiblePost(2, now.Add(-2*time.Hour)),
		eligiblePost(3, now.Add(-10*time.Minute)),
	}}
	for i := 0; i < 5; i++ {
		repo.upvotes = append(repo.upvotes, Upvote{PostID: 1, IPAddress: fmt.Sprintf("10.0.0.%d", i)})
	}
	for i := 0; i < 2; i++ {
		repo.upvotes = append(repo.upvotes, Upvote{PostID: 3, IPAddress: fmt.Sprintf("10.0.1.%d", i)})
	}

	page, err := newTestService(repo).GetPage(context.Background(), Trending, 0, "1.2.3.4")
	require.NoError(t, err)
	require.Len(t, page.Posts, 3)

	// The young 2-vote post outranks the older 5-vote post under the decay
	// formula; the 0-vote post scores negative and sinks.
	assert.Equal(t, []int64{3, 1, 2}, postIDs(page.Posts))
	for i := 1; i < len(page.Posts); i++ {
		assert.GreaterOrEqual(t, page.Posts[i-1].Score, page.Posts[i].Score)
	}
}

func TestGetPage_TrendingTieBrokenByPublishedDate(t *testing.T) {
	now := time.Now().UTC()
	// Both posts have one vote, so both score exactly zero.
	repo := &fakeRepo{
		posts: []Post{
			eligiblePost(1, now.Add(-2*time.Hour)),
			eligiblePost(2, now.Add(-time.Hour)),
		},
		upvotes: []Upvote{
			{PostID: 1, IPAddress: "10.0.0.1"},
			{PostID: 2, IPAddress: "10.0.0.2"},
		},
	}

	page, err := newTestService(repo).GetPage(context.Background(), Trending, 0, "1.2.3.4")
	require.NoError(t, err)
	assert.Equal(t, []int64{2, 1}, postIDs(page.Posts))
}

func TestGetPage_ClampsPageIndex(t *testing.T) {
	now := time.Now().UTC()
	repo := &fakeRepo{posts: []Post{eligiblePost(1, now.Add(-time.Hour))}}
	svc := newTestService(repo)
	ctx := context.Background()

	page, err := svc.GetPage(ctx, Trending, -7, "1.2.3.4")
	require.NoError(t, err)
	assert.Equal(t, 0, page.Page)
	assert.Len(t, page.Posts, 1)

	page, err = svc.GetPage(ctx, Trending, 1<<40, "1.2.3.4")
	require.NoError(t, err)
	assert.Equal(t, maxPageIndex, page.Page)
	assert.Empty(t, page.Posts)
}

func TestGetPage_AnnotatesUpvotedPosts(t *testing.T) {
	now := time.Now().UTC()
	repo := &fakeRepo{
		posts: []Post{
			eligiblePost(1, now.Add(-time.Hour)),
			eligiblePost(2, now.Add(-2*time.Hour)),
		},
		upvotes: []Upvote{{PostID: 2, IPAddress: "1.2.3.4"}},
	}

	page, err := newTestService(repo).GetPage(context.Background(), Newest, 0, "1.2.3.4")
	require.NoError(t, err)
	assert.False(t, page.Upvoted[1])
	assert.True(t, page.Upvoted[2])

	// Another viewer sees no annotations.
	page, err = newTestService(repo).GetPage(context.Background(), Newest, 0, "9.9.9.9")
	require.NoError(t, err)
	assert.Empty(t, page.Upvoted)
}

func TestFeedPosts_FirstWindowOnly(t *testing.T) {
	now := time.Now().UTC()
	repo := &fakeRepo{}
	for i := int64(1); i <= 30; i++ {
		repo.posts = append(repo.posts, eligiblePost(i, now.Add(-time.Duration(i)*time.Minute)))
	}

	posts, err := newTestService(repo).FeedPosts(context.Background(), Newest)
	require.NoError(t, err)
	assert.Len(t, posts, PostsPerPage)
	assert.Equal(t, int64(1), posts[0].ID)
}

func TestRecordHit_AndCleanup(t *testing.T) {
	now := time.Now().UTC()
	repo := &fakeRepo{posts: []Post{eligiblePost(1, now.Add(-time.Hour))}}
	svc := newTestService(repo)
	ctx := context.Background()

	require.NoError(t, svc.RecordHit(ctx, 1, "1.2.3.4"))
	assert.ErrorIs(t, svc.RecordHit(ctx, 99, "1.2.3.4"), ErrPostNotFound)

	repo.hits = append(repo.hits, Hit{PostID: 1, IPAddress: "5.6.7.8", CreatedAt: now.Add(-100 * 24 * time.Hour)})
	deleted, err := repo.DeleteOldHits(ctx, 90*24*time.Hour)
	require.NoError(t, err)
	assert.Equal(t, int64(1), deleted)
	assert.Len(t, repo.hits, 1)
}

func postIDs(posts []Post) []int64 {
	ids := make([]int64, len(posts))
	for i, p := range posts {
		ids[i] = p.ID
	}
	return ids
}
