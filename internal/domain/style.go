package domain

import (
	"fmt"
	"sort"
)

// Style describes one interior design style offered to clients
type Style struct {
	ID     string `json:"id"`
	Name   string `json:"name"`
	Prompt string `json:"prompt"`
}

var styles = map[string]Style{
	"modern": {
		ID:     "modern",
		Name:   "Modern Minimalist",
		Prompt: "A modern minimalist interior with clean lines, neutral colors, and sleek furniture",
	},
	"bohemian": {
		ID:     "bohemian",
		Name:   "Bohemian",
		Prompt: "A bohemian interior with eclectic patterns, warm colors, plants, and textured fabrics",
	},
	"scandinavian": {
		ID:     "scandinavian",
		Name:   "Scandinavian",
		Prompt: "A Scandinavian interior with light wood, white walls, cozy textures, and functional design",
	},
	"industrial": {
		ID:     "industrial",
		Name:   "Industrial",
		Prompt: "An industrial interior with exposed brick, metal fixtures, dark colors, and urban elements",
	},
	"traditional": {
		ID:     "traditional",
		Name:   "Traditional",
		Prompt: "A traditional interior with classic furniture, rich colors, elegant patterns, and timeless design",
	},
	"contemporary": {
		ID:     "contemporary",
		Name:   "Contemporary",
		Prompt: "A contemporary interior with bold colors, artistic elements, mixed textures, and innovative design",
	},
}

// StylePrompt resolves a style id to its generation prompt
func StylePrompt(styleID string) (string, error) {
	style, ok := styles[styleID]
	if !ok {
		return "", fmt.Errorf("%w: %q", ErrUnknownStyle, styleID)
	}
	return style.Prompt, nil
}

// Styles returns every exposed style ordered by id
func Styles() []Style {
	result := make([]Style, 0, len(styles))
	for _, s := range styles {
		result = append(result, s)
	}
	sort.Slice(result, func(i, j int) bool { return result[i].ID < result[j].ID })
	return result
}
