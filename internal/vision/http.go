package vision

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"image"
	"io"
	"mime/multipart"
	"net/http"
	"net/textproto"
	"time"

	"plategate/internal/model"
)

// HTTPDetector calls a model-serving endpoint for plate-region detection.
// The inference runtime itself is a black box behind this client.
type HTTPDetector struct {
	url    string
	client *http.Client
}

func NewHTTPDetector(url string) *HTTPDetector {
	return &HTTPDetector{url: url, client: &http.Client{Timeout: 15 * time.Second}}
}

func (d *HTTPDetector) Detect(ctx context.Context, img image.Image) ([]model.Detection, error) {
	var out struct {
		Detections []model.Detection `json:"detections"`
	}
	if err := postImage(ctx, d.client, d.url+"/detect", img, &out); err != nil {
		return nil, err
	}
	return out.Detections, nil
}

func (d *HTTPDetector) Ping(ctx context.Context) error {
	return ping(ctx, d.client, d.url)
}

// HTTPRecognizer calls the character-recognition endpoint with a cropped
// plate-region image.
type HTTPRecognizer struct {
	url    string
	client *http.Client
}

func NewHTTPRecognizer(url string) *HTTPRecognizer {
	return &HTTPRecognizer{url: url, client: &http.Client{Timeout: 15 * time.Second}}
}

func (r *HTTPRecognizer) RecognizeCharacters(ctx context.Context, img image.Image) ([]model.CharacterDetection, error) {
	var out struct {
		Characters []model.CharacterDetection `json:"characters"`
	}
	if err := postImage(ctx, r.client, r.url+"/recognize", img, &out); err != nil {
		return nil, err
	}
	return out.Characters, nil
}

func (r *HTTPRecognizer) Ping(ctx context.Context) error {
	return ping(ctx, r.client, r.url)
}

func postImage(ctx context.Context, client *http.Client, url string, img image.Image, out any) error {
	data, err := EncodeJPEG(img)
	if err != nil {
		return fmt.Errorf("encode frame: %w", err)
	}

	var buf bytes.Buffer
	writer := multipart.NewWriter(&buf)
	h := make(textproto.MIMEHeader)
	h.Set("Content-Disposition", `form-data; name="file"; filename="frame.jpg"`)
	h.Set("Content-Type", "image/jpeg")
	part, err := writer.CreatePart(h)
	if err != nil {
		return fmt.Errorf("create form part: %w", err)
	}
	if _, err := part.Write(data); err != nil {
		return fmt.Errorf("write image data: %w", err)
	}
	if err := writer.Close(); err != nil {
		return fmt.Errorf("close writer: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, &buf)
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", writer.FormDataContentType())

	resp, err := client.Do(req)
	if err != nil {
		return fmt.Errorf("http request: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
		return fmt.Errorf("bad status %s: %s", resp.Status, body)
	}
	return json.NewDecoder(resp.Body).Decode(out)
}

func ping(ctx context.Context, client *http.Client, url string) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url+"/health", nil)
	if err != nil {
		return err
	}
	resp, err := client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("model endpoint returned %s", resp.Status)
	}
	return nil
}
