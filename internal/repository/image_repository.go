package repository

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/illustra-ai/illustra/internal/models"
)

type ImageRepository struct {
	db *pgxpool.Pool
}

func NewImageRepository(db *pgxpool.Pool) *ImageRepository {
	return &ImageRepository{db: db}
}

func (r *ImageRepository) Insert(ctx context.Context, img *models.GeneratedImage) error {
	const query = `
INSERT INTO generated_images (id, user_id, prompt, style, color_mode, storage_path, image_url)
VALUES ($1, $2, $3, NULLIF($4, ''), NULLIF($5, ''), $6, $7)
RETURNING created_at`
	if err := r.db.QueryRow(ctx, query, img.ID, img.UserID, img.Prompt, img.Style, string(img.ColorMode), img.StoragePath, img.ImageURL).Scan(&img.CreatedAt); err != nil {
		return fmt.Errorf("insert generated image: %w", err)
	}
	return nil
}

func (r *ImageRepository) ListByUser(ctx context.Context, userID string) ([]models.GeneratedImage, error) {
	const query = `
SELECT id, user_id, prompt, COALESCE(style, ''), COALESCE(color_mode, ''), storage_path, image_url, created_at
FROM generated_images
WHERE user_id = $1
ORDER BY created_at DESC`
	rows, err := r.db.Query(ctx, query, userID)
	if err != nil {
		return nil, fmt.Errorf("list generated images: %w", err)
	}
	defer rows.Close()

	var images []models.GeneratedImage
	for rows.Next() {
		var img models.GeneratedImage
		var colorMode string
		if err := rows.Scan(&img.ID, &img.UserID, &img.Prompt, &img.Style, &colorMode, &img.StoragePath, &img.ImageURL, &img.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan generated image: %w", err)
		}
		img.ColorMode = models.ColorMode(colorMode)
		images = append(images, img)
	}
	return images, rows.Err()
}

// ListRecentURLs returns the newest image URLs across all users, for the
// public landing-page gallery.
func (r *ImageRepository) ListRecentURLs(ctx context.Context, limit int) ([]string, error) {
	const query = `
SELECT image_url FROM generated_images
ORDER BY created_at DESC
LIMIT $1`
	rows, err := r.db.Query(ctx, query, limit)
	if err != nil {
		return nil, fmt.Errorf("list recent image urls: %w", err)
	}
	defer rows.Close()

	var urls []string
	for rows.Next() {
		var url string
		if err := rows.Scan(&url); err != nil {
			return nil, fmt.Errorf("scan image url: %w", err)
		}
		urls = append(urls, url)
	}
	return urls, rows.Err()
}
