package service

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/illustra-ai/illustra/internal/models"
)

func TestBuildPrompt(t *testing.T) {
	t.Run("embeds the concept", func(t *testing.T) {
		got := buildPrompt("booking a trip", "", models.ColorModePastel, "", "")
		assert.Contains(t, got, `"booking a trip"`)
		assert.Contains(t, got, "SVG format")
		assert.Contains(t, got, "9:16")
	})

	t.Run("empty concept falls back", func(t *testing.T) {
		got := buildPrompt("   ", "", models.ColorModePastel, "", "")
		assert.Contains(t, got, "a general onboarding step")
	})

	t.Run("palette follows color mode", func(t *testing.T) {
		assert.Contains(t, buildPrompt("x", "", models.ColorModeBlackAndWhite, "", ""), "black and white")
		assert.Contains(t, buildPrompt("x", "", models.ColorModeColor, "", ""), "modern color palette")
		assert.Contains(t, buildPrompt("x", "", models.ColorModePastel, "", ""), "pastel color palette")
	})

	t.Run("style is lowercased", func(t *testing.T) {
		got := buildPrompt("x", "Hand-Drawn", models.ColorModePastel, "", "")
		assert.Contains(t, got, "hand-drawn illustration style")
	})

	t.Run("default style when omitted", func(t *testing.T) {
		got := buildPrompt("x", "", models.ColorModePastel, "", "")
		assert.Contains(t, got, "modern flat illustration style")
	})

	t.Run("optional template and reference lines", func(t *testing.T) {
		plain := buildPrompt("x", "", models.ColorModePastel, "", "")
		assert.False(t, strings.Contains(plain, "Incorporate visual traits"))
		assert.False(t, strings.Contains(plain, "reference image"))

		full := buildPrompt("x", "", models.ColorModePastel, "travel", "https://example.com/ref.png")
		assert.Contains(t, full, `"travel" theme`)
		assert.Contains(t, full, "https://example.com/ref.png")
	})
}
