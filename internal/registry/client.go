package registry

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"

	"plategate/internal/config"
	"plategate/internal/model"
)

// Client looks up vehicles in the external registry.
type Client struct {
	baseURL string
	token   string
	http    *http.Client
}

func NewClient(cfg config.RegistryConfig) *Client {
	return &Client{
		baseURL: strings.TrimRight(cfg.BaseURL, "/"),
		token:   cfg.Token,
		http:    &http.Client{Timeout: cfg.Timeout},
	}
}

// VehicleByPlate returns nil when the plate is not registered.
func (c *Client) VehicleByPlate(ctx context.Context, plate string) (*model.Vehicle, error) {
	endpoint := c.baseURL + "/vehicles?plate=" + url.QueryEscape(plate)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, err
	}
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	if resp.StatusCode == http.StatusNotFound {
		return nil, nil
	}
	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
		return nil, fmt.Errorf("vehicle registry: status %s: %s", resp.Status, body)
	}
	var vehicle model.Vehicle
	if err := json.NewDecoder(resp.Body).Decode(&vehicle); err != nil {
		return nil, err
	}
	return &vehicle, nil
}
