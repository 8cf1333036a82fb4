package posts

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/angelmondragon/dropline-backend/internal/repo"
	"github.com/angelmondragon/dropline-backend/pkg/db/models"
	"github.com/angelmondragon/dropline-backend/pkg/enums"
)

// Media is the denormalized media metadata copied onto a post.
type Media struct {
	DurationSeconds float64
	Width           int
	Height          int
}

// Repository is the slice of post and album persistence the sweepers need.
type Repository struct {
	repo.Base
}

func NewRepository(db *gorm.DB) *Repository {
	return &Repository{Base: repo.NewBase(db)}
}

// FindIDByMediaURL returns the post whose media URL equals url exactly.
func (r *Repository) FindIDByMediaURL(ctx context.Context, url string) (uuid.UUID, bool, error) {
	var post models.Post
	err := r.DB(ctx).
		Select("id").
		Where("media_url = ?", url).
		Order("created_at ASC").
		Take(&post).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return uuid.Nil, false, nil
	}
	if err != nil {
		return uuid.Nil, false, err
	}
	return post.ID, true, nil
}

// FillMissingMedia copies media into the post's null fields only. It reports
// whether the post changed; a post with every field set is left untouched.
func (r *Repository) FillMissingMedia(ctx context.Context, tx *gorm.DB, postID uuid.UUID, media Media, now time.Time) (bool, error) {
	res := r.Conn(ctx, tx).
		Model(&models.Post{}).
		Where("id = ?", postID).
		Where("(media_duration_seconds IS NULL OR media_width IS NULL OR media_height IS NULL)").
		Updates(map[string]any{
			"media_duration_seconds": gorm.Expr("COALESCE(media_duration_seconds, ?)", media.DurationSeconds),
			"media_width":            gorm.Expr("COALESCE(media_width, ?)", media.Width),
			"media_height":           gorm.Expr("COALESCE(media_height, ?)", media.Height),
			"updated_at":             now,
		})
	return res.RowsAffected == 1, res.Error
}

// PublishDuePosts moves every scheduled post due at now to published in one statement.
func (r *Repository) PublishDuePosts(ctx context.Context, now time.Time) (int64, error) {
	return r.publishDue(ctx, &models.Post{}, now)
}

// PublishDueAlbums is PublishDuePosts for albums.
func (r *Repository) PublishDueAlbums(ctx context.Context, now time.Time) (int64, error) {
	return r.publishDue(ctx, &models.Album{}, now)
}

func (r *Repository) publishDue(ctx context.Context, model any, now time.Time) (int64, error) {
	res := r.DB(ctx).
		Model(model).
		Where("status = ? AND scheduled_for IS NOT NULL AND scheduled_for <= ?", enums.PostStatusScheduled, now).
		Updates(map[string]any{
			"status":     enums.PostStatusPublished,
			"dropped_at": now,
			"updated_at": now,
		})
	return res.RowsAffected, res.Error
}

// ScheduleCounts splits scheduled items into not yet due and due.
type ScheduleCounts struct {
	Pending int64
	Due     int64
}

func (r *Repository) CountScheduledPosts(ctx context.Context, now time.Time) (ScheduleCounts, error) {
	return r.countScheduled(ctx, &models.Post{}, now)
}

func (r *Repository) CountScheduledAlbums(ctx context.Context, now time.Time) (ScheduleCounts, error) {
	return r.countScheduled(ctx, &models.Album{}, now)
}

func (r *Repository) countScheduled(ctx context.Context, model any, now time.Time) (ScheduleCounts, error) {
	var counts ScheduleCounts
	err := r.DB(ctx).
		Model(model).
		Where("status = ? AND scheduled_for > ?", enums.PostStatusScheduled, now).
		Count(&counts.Pending).Error
	if err != nil {
		return ScheduleCounts{}, err
	}
	err = r.DB(ctx).
		Model(model).
		Where("status = ? AND scheduled_for <= ?", enums.PostStatusScheduled, now).
		Count(&counts.Due).Error
	if err != nil {
		return ScheduleCounts{}, err
	}
	return counts, nil
}
