package client

// admin_client.go = HTTP client for the admin API of a running node.

import (
	"bytes"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"
)

type AdminClient struct {
	baseURL    string
	httpClient *http.Client
}

type PeerResponse struct {
	Address     string    `json:"address"`
	ConnID      string    `json:"conn_id"`
	Inbound     bool      `json:"inbound"`
	ConnectedAt time.Time `json:"connected_at"`
	FramesSent  int64     `json:"frames_sent"`
}

type RecordResponse struct {
	Address   string    `json:"address"`
	ConnID    string    `json:"conn_id"`
	Direction string    `json:"direction"`
	Status    string    `json:"status"`
	LastSeen  time.Time `json:"last_seen"`
}

type errorResponse struct {
	Error string `json:"error"`
}

// constructor for AdminClient
func NewAdminClient(baseURL string) *AdminClient {
	return &AdminClient{
		baseURL: strings.TrimRight(baseURL, "/"),
		httpClient: &http.Client{
			Timeout: 10 * time.Second,
		},
	}
}

func (c *AdminClient) ListPeers() ([]PeerResponse, error) {
	var out []PeerResponse
	if err := c.do(http.MethodGet, "/peers", nil, http.StatusOK, &out); err != nil {
		return nil, err
	}
	return out, nil
}

func (c *AdminClient) ListDirectory() ([]RecordResponse, error) {
	var out []RecordResponse
	if err := c.do(http.MethodGet, "/directory", nil, http.StatusOK, &out); err != nil {
		return nil, err
	}
	return out, nil
}

func (c *AdminClient) Ping(addr string) error {
	return c.do(http.MethodPost, "/peers/"+url.PathEscape(addr)+"/ping", nil, http.StatusAccepted, nil)
}

func (c *AdminClient) Terminate(addr string) error {
	return c.do(http.MethodDelete, "/peers/"+url.PathEscape(addr), nil, http.StatusOK, nil)
}

func (c *AdminClient) Dial(addr string) error {
	body := map[string]string{"address": addr}
	return c.do(http.MethodPost, "/peers", body, http.StatusAccepted, nil)
}

func (c *AdminClient) do(method, path string, body any, want int, out any) error {
	var reader *bytes.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return err
		}
		reader = bytes.NewReader(data)
	} else {
		reader = bytes.NewReader(nil)
	}

	req, err := http.NewRequest(method, c.baseURL+path, reader)
	if err != nil {
		return err
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	response, err := c.httpClient.Do(req)
	if err != nil {
		return err
	}
	defer response.Body.Close() // Ensure the response body is closed

	if response.StatusCode != want {
		var e errorResponse
		if json.NewDecoder(response.Body).Decode(&e) == nil && e.Error != "" {
			return fmt.Errorf("%s %s failed: %s", method, path, e.Error)
		}
		return fmt.Errorf("%s %s failed with status: %s", method, path, response.Status)
	}
	if out == nil {
		return nil
	}
	return json.NewDecoder(response.Body).Decode(out)
}
