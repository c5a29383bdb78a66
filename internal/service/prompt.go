package service

import (
	"fmt"
	"strings"

	"github.com/illustra-ai/illustra/internal/models"
)

// buildPrompt expands the user's concept into the full illustration prompt
// sent to the image model. The wording is tuned for SVG onboarding
// illustrations; changing it changes the whole product's look.
func buildPrompt(prompt, style string, colorMode models.ColorMode, template, referenceImage string) string {
	concept := strings.TrimSpace(prompt)
	if concept == "" {
		concept = "a general onboarding step"
	}
	styleName := strings.ToLower(strings.TrimSpace(style))
	if styleName == "" {
		styleName = "modern flat"
	}

	var palette string
	switch colorMode {
	case models.ColorModeBlackAndWhite:
		palette = "Use black and white with subtle lines and minimal shading."
	case models.ColorModeColor:
		palette = "Apply a soft, modern color palette with muted tones (no harsh gradients)."
	default:
		palette = "Use smooth, clean lines and a limited pastel color palette."
	}

	var b strings.Builder
	b.WriteString("Create a high-quality vector illustration in SVG format designed for a mobile app onboarding screen.\n\n")
	b.WriteString("Scene Description:\n")
	fmt.Fprintf(&b, "- The illustration should visually represent the concept: %q.\n", concept)
	b.WriteString("- Show 1-2 characters (diverse, friendly, modern) interacting with a mobile phone or app interface.\n")
	b.WriteString("- Include thematic elements related to the concept (e.g., travel icons, shopping items, location pins) while keeping the layout balanced and clean.\n\n")
	b.WriteString("Visual Style:\n")
	fmt.Fprintf(&b, "- Use a %s illustration style, popular in UI/UX onboarding flows.\n", styleName)
	fmt.Fprintf(&b, "- %s\n\n", palette)
	b.WriteString("Layout & Composition:\n")
	b.WriteString("- Keep the composition centered with generous whitespace for mobile onboarding.\n")
	b.WriteString("- The background should be clean, minimal, and should not distract from the primary action or character.\n")
	b.WriteString("- Ensure all elements are SVG-friendly and scalable.\n")

	if template = strings.TrimSpace(template); template != "" {
		fmt.Fprintf(&b, "\nIncorporate visual traits or iconography from the %q theme.\n", template)
	}
	if referenceImage = strings.TrimSpace(referenceImage); referenceImage != "" {
		fmt.Fprintf(&b, "\nUse this reference image for visual inspiration: %s\n", referenceImage)
	}

	b.WriteString("\nEnsure the illustration fits within a mobile phone screen layout: aspect ratio around 9:16. Center the main content vertically with padding.\n\n")
	b.WriteString("Final output:\nReturn a structured, clean SVG vector illustration that is visually engaging and suitable for a mobile app's onboarding screen.")

	return b.String()
}
