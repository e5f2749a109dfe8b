package capture

import (
	"fmt"
	"image"
	"image/jpeg"
	"mime"
	"mime/multipart"
	"net/http"
	"strings"
	"time"

	"plategate/internal/config"
	"plategate/internal/model"
)

// StreamDriver opens MJPEG-over-HTTP camera streams, the transport exposed by
// most IP lane cameras. Camera identity is the stable position in the
// configured list.
type StreamDriver struct {
	cameras []model.CameraDevice
	client  *http.Client
}

func NewStreamDriver(cams []config.CameraConfig) *StreamDriver {
	devices := make([]model.CameraDevice, 0, len(cams))
	for i, cam := range cams {
		name := cam.Name
		if name == "" {
			name = fmt.Sprintf("camera-%d", i)
		}
		devices = append(devices, model.CameraDevice{Index: i, Name: name, URI: cam.StreamURL})
	}
	return &StreamDriver{
		cameras: devices,
		// No overall timeout: the response body is a long-lived stream.
		client: &http.Client{Transport: &http.Transport{ResponseHeaderTimeout: 10 * time.Second}},
	}
}

func (d *StreamDriver) Devices() ([]model.CameraDevice, error) {
	out := make([]model.CameraDevice, len(d.cameras))
	copy(out, d.cameras)
	return out, nil
}

func (d *StreamDriver) Open(index int) (Device, error) {
	if index < 0 || index >= len(d.cameras) {
		return nil, ErrUnknownDevice
	}
	resp, err := d.client.Get(d.cameras[index].URI)
	if err != nil {
		return nil, err
	}
	if resp.StatusCode != http.StatusOK {
		resp.Body.Close()
		return nil, fmt.Errorf("stream returned status %s", resp.Status)
	}
	mediaType, params, err := mime.ParseMediaType(resp.Header.Get("Content-Type"))
	if err != nil {
		resp.Body.Close()
		return nil, fmt.Errorf("parse stream content type: %w", err)
	}
	if !strings.HasPrefix(mediaType, "multipart/") || params["boundary"] == "" {
		resp.Body.Close()
		return nil, fmt.Errorf("unsupported stream content type %q", mediaType)
	}
	return &mjpegDevice{
		resp:   resp,
		reader: multipart.NewReader(resp.Body, params["boundary"]),
	}, nil
}

type mjpegDevice struct {
	resp   *http.Response
	reader *multipart.Reader
}

func (m *mjpegDevice) ReadFrame() (image.Image, error) {
	part, err := m.reader.NextPart()
	if err != nil {
		return nil, fmt.Errorf("next stream part: %w", err)
	}
	defer part.Close()
	img, err := jpeg.Decode(part)
	if err != nil {
		return nil, fmt.Errorf("decode frame: %w", err)
	}
	return img, nil
}

func (m *mjpegDevice) Close() error {
	return m.resp.Body.Close()
}
