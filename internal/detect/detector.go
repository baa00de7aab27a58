// Package detect talks to the external face detection service. The service
// takes a JPEG frame and returns bounding boxes with face embeddings.
package detect

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log"
	"net/http"
	"strings"
	"time"

	"github.com/presenceapp/presence/internal/recognition"
)

// Detector finds faces in a frame and computes their embeddings.
type Detector interface {
	Detect(ctx context.Context, frame []byte) ([]recognition.Detection, error)
}

// HTTPDetector calls a face detection service over HTTP.
type HTTPDetector struct {
	baseURL  string
	dim      int
	maxWidth int
	client   *http.Client
}

// NewHTTPDetector creates a detector client. dim is the expected embedding
// dimensionality; faces with a different dimension are dropped. maxWidth
// caps frame width before upload (0 disables downscaling).
func NewHTTPDetector(baseURL string, dim, maxWidth int) *HTTPDetector {
	return &HTTPDetector{
		baseURL:  strings.TrimSuffix(baseURL, "/"),
		dim:      dim,
		maxWidth: maxWidth,
		client: &http.Client{
			Timeout: 30 * time.Second,
		},
	}
}

type detectedFace struct {
	BBox      []float64 `json:"bbox"`
	Embedding []float32 `json:"embedding"`
}

type detectResponse struct {
	Faces []detectedFace `json:"faces"`
}

// Detect posts the JPEG frame to the detection service and returns the
// detections whose embeddings match the configured dimensionality.
func (d *HTTPDetector) Detect(ctx context.Context, frame []byte) ([]recognition.Detection, error) {
	if d.maxWidth > 0 {
		prepared, err := PrepareFrame(frame, d.maxWidth)
		if err != nil {
			return nil, fmt.Errorf("could not prepare frame: %w", err)
		}
		frame = prepared
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, d.baseURL+"/detect", bytes.NewReader(frame))
	if err != nil {
		return nil, fmt.Errorf("could not create request: %w", err)
	}
	req.Header.Set("Content-Type", "image/jpeg")

	resp, err := d.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("could not send request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
		return nil, fmt.Errorf("detection failed with status %d: %s", resp.StatusCode, strings.TrimSpace(string(body)))
	}

	var parsed detectResponse
	if err := json.NewDecoder(resp.Body).Decode(&parsed); err != nil {
		return nil, fmt.Errorf("could not unmarshal response: %w", err)
	}

	detections := make([]recognition.Detection, 0, len(parsed.Faces))
	for _, face := range parsed.Faces {
		if len(face.BBox) != 4 {
			log.Printf("Dropping detection with malformed bbox (%d coordinates)", len(face.BBox))
			continue
		}
		if len(face.Embedding) != d.dim {
			log.Printf("Dropping detection with embedding dimension %d, expected %d", len(face.Embedding), d.dim)
			continue
		}
		detections = append(detections, recognition.Detection{
			BBox:      face.BBox,
			Embedding: face.Embedding,
		})
	}

	return detections, nil
}
