package identity

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/user/mirrorchat/internal/types"
)

// Client talks to the authentication endpoints of the store service.
type Client struct {
	baseURL    string
	httpClient *http.Client
}

func NewClient(baseURL string) *Client {
	return &Client{
		baseURL:    strings.TrimRight(baseURL, "/"),
		httpClient: &http.Client{Timeout: 30 * time.Second},
	}
}

type loginRequest struct {
	Identifier string `json:"identifier"`
	Password   string `json:"password"`
}

type registerRequest struct {
	Username string `json:"username"`
	Email    string `json:"email"`
	Password string `json:"password"`
}

// authResponse is the success body of both endpoints.
type authResponse struct {
	JWT  string `json:"jwt"`
	User *struct {
		Username string `json:"username"`
	} `json:"user"`
}

// errorResponse accepts both {"error":{"message":..}} and {"message":..}.
type errorResponse struct {
	Error *struct {
		Message string `json:"message"`
	} `json:"error"`
	Message string `json:"message"`
}

// Login exchanges a username-or-email and password for an identity.
func (c *Client) Login(ctx context.Context, identifier, password string) (Identity, error) {
	id, err := c.post(ctx, "/api/auth/local", loginRequest{Identifier: identifier, Password: password})
	if err != nil {
		return Identity{}, err
	}
	if id.Username == "" {
		id.Username = identifier
	}
	return id, nil
}

// Register creates an account and returns its identity.
func (c *Client) Register(ctx context.Context, username, email, password string) (Identity, error) {
	id, err := c.post(ctx, "/api/auth/local/register", registerRequest{Username: username, Email: email, Password: password})
	if err != nil {
		return Identity{}, err
	}
	if id.Username == "" {
		id.Username = username
	}
	return id, nil
}

func (c *Client) post(ctx context.Context, path string, payload any) (Identity, error) {
	body, err := json.Marshal(payload)
	if err != nil {
		return Identity{}, fmt.Errorf("marshaling request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, bytes.NewReader(body))
	if err != nil {
		return Identity{}, fmt.Errorf("creating request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return Identity{}, fmt.Errorf("%w: %w", types.ErrTransport, err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return Identity{}, fmt.Errorf("%w: reading response: %w", types.ErrTransport, err)
	}

	if resp.StatusCode >= 400 && resp.StatusCode < 500 {
		return Identity{}, fmt.Errorf("%w: %s", types.ErrAuth, errorMessage(respBody, resp.StatusCode))
	}
	if resp.StatusCode != http.StatusOK {
		return Identity{}, fmt.Errorf("%w: %s", types.ErrTransport, errorMessage(respBody, resp.StatusCode))
	}

	var auth authResponse
	if err := json.Unmarshal(respBody, &auth); err != nil {
		return Identity{}, fmt.Errorf("%w: parsing response: %w", types.ErrTransport, err)
	}
	if auth.JWT == "" {
		return Identity{}, fmt.Errorf("%w: response carries no jwt", types.ErrTransport)
	}

	id := Identity{Token: auth.JWT}
	if auth.User != nil {
		id.Username = auth.User.Username
	}
	return id, nil
}

func errorMessage(body []byte, status int) string {
	var e errorResponse
	if err := json.Unmarshal(body, &e); err == nil {
		if e.Error != nil && e.Error.Message != "" {
			return e.Error.Message
		}
		if e.Message != "" {
			return e.Message
		}
	}
	return fmt.Sprintf("status %d", status)
}
