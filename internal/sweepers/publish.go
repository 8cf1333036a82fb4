package sweepers

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/multierr"
)

// PublishResult summarizes one drop run. Timestamp is the droppedAt written.
type PublishResult struct {
	PublishedPosts  int64     `json:"publishedPosts"`
	PublishedAlbums int64     `json:"publishedAlbums"`
	Timestamp       time.Time `json:"timestamp"`
}

// PublishDue drops every scheduled post and album that is due. Each entity type is
// one bulk update; a failure in one does not stop the other.
func (s *Service) PublishDue(ctx context.Context) (*PublishResult, error) {
	now := s.now()
	result := &PublishResult{Timestamp: now}

	var errs error
	postsDropped, err := s.posts.PublishDuePosts(ctx, now)
	if err != nil {
		errs = multierr.Append(errs, fmt.Errorf("publish posts: %w", err))
	}
	result.PublishedPosts = postsDropped

	albumsDropped, err := s.posts.PublishDueAlbums(ctx, now)
	if err != nil {
		errs = multierr.Append(errs, fmt.Errorf("publish albums: %w", err))
	}
	result.PublishedAlbums = albumsDropped

	s.metrics.AddPublished("post", postsDropped)
	s.metrics.AddPublished("album", albumsDropped)
	s.logg.Info(s.logg.WithFields(ctx, map[string]any{
		"posts":  postsDropped,
		"albums": albumsDropped,
	}), "publish sweep complete")
	return result, errs
}

// DropsHealth counts scheduled items that are not yet due and those already due.
type DropsHealth struct {
	PendingPosts  int64     `json:"pendingPosts"`
	DuePosts      int64     `json:"duePosts"`
	PendingAlbums int64     `json:"pendingAlbums"`
	DueAlbums     int64     `json:"dueAlbums"`
	CheckedAt     time.Time `json:"checkedAt"`
}

// DropsHealth is read-only.
func (s *Service) DropsHealth(ctx context.Context) (*DropsHealth, error) {
	now := s.now()
	postCounts, err := s.posts.CountScheduledPosts(ctx, now)
	if err != nil {
		return nil, fmt.Errorf("count scheduled posts: %w", err)
	}
	albumCounts, err := s.posts.CountScheduledAlbums(ctx, now)
	if err != nil {
		return nil, fmt.Errorf("count scheduled albums: %w", err)
	}
	return &DropsHealth{
		PendingPosts:  postCounts.Pending,
		DuePosts:      postCounts.Due,
		PendingAlbums: albumCounts.Pending,
		DueAlbums:     albumCounts.Due,
		CheckedAt:     now,
	}, nil
}
