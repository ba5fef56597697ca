package webhook

import (
	"encoding/json"
	"fmt"
	"strings"
)

// generationEvent is the prediction object the generation provider posts back
type generationEvent struct {
	ID     string          `json:"id"`
	Status string          `json:"status"`
	Output json.RawMessage `json:"output"`
	Error  json.RawMessage `json:"error"`
}

// resultRef extracts the output image. Output is either a single URL or a
// list of URLs, in which case the last one is the final image.
func (e *generationEvent) resultRef() (string, error) {
	raw := strings.TrimSpace(string(e.Output))
	if raw == "" || raw == "null" {
		return "", nil
	}

	var single string
	if err := json.Unmarshal(e.Output, &single); err == nil {
		return single, nil
	}

	var list []string
	if err := json.Unmarshal(e.Output, &list); err != nil {
		return "", fmt.Errorf("unsupported output shape: %w", err)
	}
	for i := len(list) - 1; i >= 0; i-- {
		if list[i] != "" {
			return list[i], nil
		}
	}
	return "", nil
}

func (e *generationEvent) failureReason() string {
	raw := strings.TrimSpace(string(e.Error))
	if raw == "" || raw == "null" {
		return "prediction " + e.Status
	}

	var msg string
	if err := json.Unmarshal(e.Error, &msg); err == nil {
		return msg
	}
	return raw
}

// paymentEvent is the gateway's webhook envelope
type paymentEvent struct {
	Event   string `json:"event"`
	Payload struct {
		Order struct {
			Entity struct {
				ID     string `json:"id"`
				Status string `json:"status"`
			} `json:"entity"`
		} `json:"order"`
		Payment struct {
			Entity struct {
				ID string `json:"id"`
			} `json:"entity"`
		} `json:"payment"`
	} `json:"payload"`
}
