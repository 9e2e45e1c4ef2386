package content

import (
	"context"
	"errors"
	"fmt"

	"github.com/mkang-dev/ToonGate/app/models"
	"gorm.io/gorm"
)

// FreePreviewLimit is the number of leading episodes readable without any
// entitlement.
const FreePreviewLimit = 3

var ErrComicNotFound = errors.New("comic not found")

// Provider is the read-only surface the payment engine consumes from content
// management. No entitlement logic lives behind it.
type Provider interface {
	GetComic(ctx context.Context, comicID uint) (*models.Comic, error)
	// ListEpisodes returns the comic's episodes ordered by sequence. The
	// position in this slice is the index the access gate evaluates.
	ListEpisodes(ctx context.Context, comicID uint) ([]models.Episode, error)
}

type gormProvider struct {
	db *gorm.DB
}

// NewProvider creates a content provider backed by GORM.
func NewProvider(db *gorm.DB) Provider {
	return &gormProvider{db: db}
}

func (p *gormProvider) GetComic(ctx context.Context, comicID uint) (*models.Comic, error) {
	var comic models.Comic
	err := p.db.WithContext(ctx).First(&comic, comicID).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrComicNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load comic %d: %w", comicID, err)
	}
	return &comic, nil
}

func (p *gormProvider) ListEpisodes(ctx context.Context, comicID uint) ([]models.Episode, error) {
	var episodes []models.Episode
	err := p.db.WithContext(ctx).
		Where("comic_id = ?", comicID).
		Order("seq ASC").
		Find(&episodes).Error
	if err != nil {
		return nil, fmt.Errorf("failed to list episodes for comic %d: %w", comicID, err)
	}
	return episodes, nil
}
