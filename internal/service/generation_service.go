package service

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"log/slog"

	"github.com/google/uuid"

	"github.com/illustra-ai/illustra/internal/models"
	"github.com/illustra-ai/illustra/internal/replicate"
)

var ErrCreditsRequired = errors.New("insufficient credits, purchase a credit pack to continue")

const maxOutputCount = 4

// CreditStore is the slice of the user repository the generator needs:
// guarded decrement plus the refund path.
type CreditStore interface {
	ConsumeCredits(ctx context.Context, userID string, amount int) (bool, error)
	AddCredits(ctx context.Context, userID string, amount int) error
}

type ImageStore interface {
	Insert(ctx context.Context, img *models.GeneratedImage) error
	ListByUser(ctx context.Context, userID string) ([]models.GeneratedImage, error)
	ListRecentURLs(ctx context.Context, limit int) ([]string, error)
}

type ImageGenerator interface {
	Generate(ctx context.Context, opts replicate.GenerateOptions) (*replicate.Image, error)
}

type AssetUploader interface {
	Upload(ctx context.Context, name string, data []byte, contentType string) (string, error)
	PublicURL(storagePath string) string
}

type GenerationService struct {
	log       *slog.Logger
	users     CreditStore
	images    ImageStore
	generator ImageGenerator
	uploader  AssetUploader
}

type GenerationRequest struct {
	Prompt         string
	Style          string
	ColorMode      models.ColorMode
	OutputCount    int
	ReferenceImage string
	Template       string
}

type GenerationOutput struct {
	ID       string
	MimeType string
	Base64   string
}

func NewGenerationService(log *slog.Logger, users CreditStore, images ImageStore, generator ImageGenerator, uploader AssetUploader) *GenerationService {
	return &GenerationService{
		log:       log,
		users:     users,
		images:    images,
		generator: generator,
		uploader:  uploader,
	}
}

// Generate produces the requested number of illustrations for the user. Each
// output is an independent atomic unit: one credit is reserved with a guarded
// decrement before the model is called, and refunded if that output fails
// downstream. Outputs committed by earlier iterations are not rolled back
// when a later one fails; the request aborts with the first error.
func (s *GenerationService) Generate(ctx context.Context, user *models.User, req GenerationRequest) ([]GenerationOutput, error) {
	if req.Prompt == "" {
		return nil, fmt.Errorf("prompt cannot be empty")
	}
	if req.OutputCount <= 0 {
		req.OutputCount = 1
	}
	if req.OutputCount > maxOutputCount {
		return nil, fmt.Errorf("output count cannot exceed %d", maxOutputCount)
	}

	finalPrompt := buildPrompt(req.Prompt, req.Style, req.ColorMode, req.Template, req.ReferenceImage)

	outputs := make([]GenerationOutput, 0, req.OutputCount)
	for i := 0; i < req.OutputCount; i++ {
		out, err := s.generateOne(ctx, user, req, finalPrompt)
		if err != nil {
			return outputs, err
		}
		outputs = append(outputs, *out)
	}
	return outputs, nil
}

func (s *GenerationService) generateOne(ctx context.Context, user *models.User, req GenerationRequest, finalPrompt string) (*GenerationOutput, error) {
	// The guarded decrement doubles as the credit check: a user with no
	// credits left never reaches the model.
	ok, err := s.users.ConsumeCredits(ctx, user.ID, 1)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, ErrCreditsRequired
	}

	image, err := s.generator.Generate(ctx, replicate.GenerateOptions{
		Prompt:       finalPrompt,
		OutputFormat: "svg",
	})
	if err != nil {
		s.refundCredit(ctx, user.ID)
		return nil, err
	}

	imageID := uuid.NewString()
	storagePath, err := s.uploader.Upload(ctx, imageID+".svg", image.Bytes, "image/svg+xml")
	if err != nil {
		s.refundCredit(ctx, user.ID)
		return nil, err
	}

	record := &models.GeneratedImage{
		ID:          imageID,
		UserID:      user.ID,
		Prompt:      req.Prompt,
		Style:       req.Style,
		ColorMode:   req.ColorMode,
		StoragePath: storagePath,
		ImageURL:    s.uploader.PublicURL(storagePath),
	}
	if err := s.images.Insert(ctx, record); err != nil {
		// The asset is already in the bucket at this point; it stays
		// orphaned rather than being deleted on a metadata failure.
		s.refundCredit(ctx, user.ID)
		return nil, err
	}

	mime := image.Mime
	if mime == "" {
		mime = "image/svg+xml"
	}
	return &GenerationOutput{
		ID:       imageID,
		MimeType: mime,
		Base64:   base64.StdEncoding.EncodeToString(image.Bytes),
	}, nil
}

func (s *GenerationService) refundCredit(ctx context.Context, userID string) {
	if err := s.users.AddCredits(ctx, userID, 1); err != nil {
		s.log.Error("failed to refund credit", "user_id", userID, "err", err)
	}
}

// ListForUser returns the caller's images, newest first.
func (s *GenerationService) ListForUser(ctx context.Context, userID string) ([]models.GeneratedImage, error) {
	return s.images.ListByUser(ctx, userID)
}

// RecentURLs returns the newest generated image URLs across all users, for
// the public gallery.
func (s *GenerationService) RecentURLs(ctx context.Context, limit int) ([]string, error) {
	if limit <= 0 {
		limit = 31
	}
	return s.images.ListRecentURLs(ctx, limit)
}
