package postgres

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/burrowblog/burrowblog/internal/domain"
	"github.com/lib/pq"
)

// Repository implements domain.PostRepository, domain.UpvoteRepository and
// domain.HitRepository using PostgreSQL.
type Repository struct {
	db *sql.DB
}

// NewRepository connects to PostgreSQL at the given URL, verifies the
// connection, and returns a new Repository. The caller should call Close
// when the repository is no longer needed.
func NewRepository(databaseURL string) (*Repository, error) {
	db, err := sql.Open("postgres", databaseURL)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}

	return &Repository{db: db}, nil
}

// Close closes the underlying database connection.
func (r *Repository) Close() error {
	return r.db.Close()
}

// ListEligible retrieves every discoverable post with its blog and
// aggregated vote count, newest first. The now parameter gates the
// published-date filter so one request sees one snapshot.
func (r *Repository) ListEligible(ctx context.Context, now time.Time) ([]domain.Post, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT p.id, p.title, p.slug, p.content, p.published_at,
		       p.publish, p.show_in_feed, p.is_page,
		       b.id, b.title, b.subdomain, COALESCE(b.domain, ''),
		       b.reviewed, b.blocked,
		       COUNT(u.post_id)
		FROM posts p
		JOIN blogs b ON b.id = p.blog_id
		LEFT JOIN upvotes u ON u.post_id = p.id
		WHERE p.publish
		  AND p.show_in_feed
		  AND p.published_at <= $1
		  AND b.reviewed
		  AND NOT b.blocked
		GROUP BY p.id, b.id
		ORDER BY p.published_at DESC`,
		now,
	)
	if err != nil {
		return nil, fmt.Errorf("query eligible posts: %w", err)
	}
	defer rows.Close()

	var posts []domain.Post
	for rows.Next() {
		var p domain.Post
		err := rows.Scan(
			&p.ID,
			&p.Title,
			&p.Slug,
			&p.Content,
			&p.PublishedAt,
			&p.Publish,
			&p.ShowInFeed,
			&p.IsPage,
			&p.Blog.ID,
			&p.Blog.Title,
			&p.Blog.Subdomain,
			&p.Blog.Domain,
			&p.Blog.Reviewed,
			&p.Blog.Blocked,
			&p.VoteCount,
		)
		if err != nil {
			return nil, fmt.Errorf("scan post: %w", err)
		}
		posts = append(posts, p)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate posts: %w", err)
	}
	return posts, nil
}

// PostExists reports whether a post with the given id exists.
func (r *Repository) PostExists(ctx context.Context, postID int64) (bool, error) {
	var exists bool
	err := r.db.QueryRowContext(ctx,
		`SELECT EXISTS (SELECT 1 FROM posts WHERE id = $1)`, postID,
	).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("check post %d: %w", postID, err)
	}
	return exists, nil
}

// HasUpvote reports whether the IP has already voted on the post.
func (r *Repository) HasUpvote(ctx context.Context, postID int64, ipAddress string) (bool, error) {
	var exists bool
	err := r.db.QueryRowContext(ctx,
		`SELECT EXISTS (SELECT 1 FROM upvotes WHERE post_id = $1 AND ip_address = $2)`,
		postID, ipAddress,
	).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("check upvote: %w", err)
	}
	return exists, nil
}

// CreateUpvote inserts a new vote.
func (r *Repository) CreateUpvote(ctx context.Context, upvote *domain.Upvote) error {
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO upvotes (post_id, ip_address, created_at)
		VALUES ($1, $2, $3)`,
		upvote.PostID,
		upvote.IPAddress,
		upvote.CreatedAt,
	)
	return err
}

// UpvotedPostIDs returns the subset of postIDs the IP has voted on.
func (r *Repository) UpvotedPostIDs(ctx context.Context, ipAddress string, postIDs []int64) ([]int64, error) {
	if len(postIDs) == 0 {
		return nil, nil
	}

	rows, err := r.db.QueryContext(ctx, `
		SELECT DISTINCT post_id FROM upvotes
		WHERE ip_address = $1 AND post_id = ANY($2)`,
		ipAddress, pq.Array(postIDs),
	)
	if err != nil {
		return nil, fmt.Errorf("query upvoted posts: %w", err)
	}
	defer rows.Close()

	var ids []int64
	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("scan upvoted post id: %w", err)
		}
		ids = append(ids, id)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate upvoted post ids: %w", err)
	}
	return ids, nil
}

// CreateHit inserts a page-view record.
func (r *Repository) CreateHit(ctx context.Context, hit *domain.Hit) error {
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO hits (post_id, ip_address, created_at)
		VALUES ($1, $2, $3)`,
		hit.PostID,
		hit.IPAddress,
		hit.CreatedAt,
	)
	return err
}

// DeleteOldHits removes hits older than maxAge. Returns the number of rows
// deleted.
func (r *Repository) DeleteOldHits(ctx context.Context, maxAge time.Duration) (int64, error) {
	res, err := r.db.ExecContext(ctx,
		`DELETE FROM hits WHERE created_at < $1`,
		time.Now().UTC().Add(-maxAge),
	)
	if err != nil {
		return 0, fmt.Errorf("delete expired hits: %w", err)
	}
	deleted, _ := res.RowsAffected()
	return deleted, nil
}
