// Package proxmox is a thin client for the Proxmox VE REST API using
// username/password ticket authentication.
package proxmox

import (
	"context"
	"crypto/tls"
	"crypto/x509"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"strings"
	"time"
)

// ClientConfig holds the parameters for creating a new Client.
type ClientConfig struct {
	BaseURL       string
	TLSSkipVerify bool
	TLSCACertPath string
}

// Client is an HTTP client for one Proxmox endpoint. Authenticate with
// Login before issuing other calls.
type Client struct {
	baseURL    string
	ticket     string
	csrfToken  string
	httpClient *http.Client
}

// NewClient creates a new Proxmox API client.
func NewClient(cfg ClientConfig) (*Client, error) {
	if cfg.BaseURL == "" {
		return nil, fmt.Errorf("proxmox base URL is required")
	}

	tlsCfg := &tls.Config{}

	if cfg.TLSCACertPath != "" {
		caCert, err := os.ReadFile(cfg.TLSCACertPath)
		if err != nil {
			return nil, fmt.Errorf("reading CA cert: %w", err)
		}
		pool := x509.NewCertPool()
		if !pool.AppendCertsFromPEM(caCert) {
			return nil, fmt.Errorf("failed to parse CA cert from %s", cfg.TLSCACertPath)
		}
		tlsCfg.RootCAs = pool
	} else if cfg.TLSSkipVerify {
		tlsCfg.InsecureSkipVerify = true
	}

	return &Client{
		baseURL: strings.TrimRight(cfg.BaseURL, "/"),
		httpClient: &http.Client{
			Timeout: 30 * time.Second,
			Transport: &http.Transport{
				TLSClientConfig: tlsCfg,
			},
		},
	}, nil
}

// ticketResponse holds the fields of POST /access/ticket we care about.
type ticketResponse struct {
	Ticket    string `json:"ticket"`
	CSRFToken string `json:"CSRFPreventionToken"`
}

// Login exchanges a username and password for an auth ticket. The ticket is
// sent as the PVEAuthCookie on every subsequent request, with the CSRF
// prevention token added on write methods.
func (c *Client) Login(ctx context.Context, username, password string) error {
	params := url.Values{}
	params.Set("username", username)
	params.Set("password", password)

	var tr ticketResponse
	if err := c.doRequest(ctx, "POST", "/access/ticket", params, &tr); err != nil {
		return fmt.Errorf("acquiring ticket: %w", err)
	}
	if tr.Ticket == "" {
		return fmt.Errorf("acquiring ticket: empty ticket in response")
	}

	c.ticket = tr.Ticket
	c.csrfToken = tr.CSRFToken
	return nil
}

// NodeStatus holds one entry from GET /nodes.
type NodeStatus struct {
	Node   string `json:"node"`
	Status string `json:"status"`
}

// ListNodes returns all nodes known to this endpoint.
func (c *Client) ListNodes(ctx context.Context) ([]NodeStatus, error) {
	var nodes []NodeStatus
	if err := c.doRequest(ctx, "GET", "/nodes", nil, &nodes); err != nil {
		return nil, fmt.Errorf("listing nodes: %w", err)
	}
	return nodes, nil
}

// NodeStorageStatus holds per-node storage status from GET /nodes/{node}/storage.
type NodeStorageStatus struct {
	ID      string `json:"storage"`
	Type    string `json:"type"`
	Content string `json:"content"`
	Active  int    `json:"active"`
	Enabled int    `json:"enabled"`
	Total   int64  `json:"total"` // bytes
	Used    int64  `json:"used"`  // bytes
	Avail   int64  `json:"avail"` // bytes
}

// ListNodeStorages returns all storages on a node with capacity data.
func (c *Client) ListNodeStorages(ctx context.Context, node string) ([]NodeStorageStatus, error) {
	var storages []NodeStorageStatus
	if err := c.doRequest(ctx, "GET", "/nodes/"+node+"/storage", nil, &storages); err != nil {
		return nil, fmt.Errorf("listing storages on %s: %w", node, err)
	}
	return storages, nil
}

// StorageContent holds one volume from GET /nodes/{node}/storage/{id}/content.
type StorageContent struct {
	VolID   string `json:"volid"`
	Content string `json:"content"`
	Size    int64  `json:"size"`
}

// ListStorageContent returns the volumes held by one storage.
func (c *Client) ListStorageContent(ctx context.Context, node, storage string) ([]StorageContent, error) {
	path := fmt.Sprintf("/nodes/%s/storage/%s/content", node, storage)
	var content []StorageContent
	if err := c.doRequest(ctx, "GET", path, nil, &content); err != nil {
		return nil, fmt.Errorf("listing content of %s on %s: %w", storage, node, err)
	}
	return content, nil
}

// apiResponse wraps the standard Proxmox {"data": ...} envelope.
type apiResponse struct {
	Data   json.RawMessage   `json:"data"`
	Errors map[string]string `json:"errors,omitempty"`
}

// doRequest performs an HTTP request against the Proxmox API.
// For GET requests, params are added as query string.
// For POST/PUT/DELETE, params are form-encoded in the body.
func (c *Client) doRequest(ctx context.Context, method, path string, params url.Values, result interface{}) error {
	reqURL := c.baseURL + "/api2/json" + path

	var body io.Reader
	if method == http.MethodGet {
		if len(params) > 0 {
			reqURL += "?" + params.Encode()
		}
	} else {
		if params != nil {
			body = strings.NewReader(params.Encode())
		}
	}

	req, err := http.NewRequestWithContext(ctx, method, reqURL, body)
	if err != nil {
		return fmt.Errorf("creating request: %w", err)
	}

	if c.ticket != "" {
		req.AddCookie(&http.Cookie{Name: "PVEAuthCookie", Value: c.ticket})
		if method != http.MethodGet {
			req.Header.Set("CSRFPreventionToken", c.csrfToken)
		}
	}
	if method != http.MethodGet && body != nil {
		req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("executing request: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("reading response: %w", err)
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		apiErr := &APIError{StatusCode: resp.StatusCode}
		var envelope apiResponse
		if json.Unmarshal(respBody, &envelope) == nil {
			apiErr.Errors = envelope.Errors
			// Try to extract a message from data
			if len(envelope.Data) > 0 {
				var msg string
				if json.Unmarshal(envelope.Data, &msg) == nil {
					apiErr.Message = msg
				}
			}
		}
		if apiErr.Message == "" {
			apiErr.Message = strings.TrimSpace(resp.Status + " " + string(respBody))
		}
		return apiErr
	}

	if result != nil {
		var envelope apiResponse
		if err := json.Unmarshal(respBody, &envelope); err != nil {
			return fmt.Errorf("decoding response: %w", err)
		}
		if err := json.Unmarshal(envelope.Data, result); err != nil {
			return fmt.Errorf("decoding data: %w", err)
		}
	}

	return nil
}
