package signaling

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"strings"

	"github.com/dkeye/Mesh/internal/core"
	"github.com/goccy/go-json"
)

// ListSessions fetches the relay's session directory.
func ListSessions(ctx context.Context, base, token string) ([]core.RoomInfo, error) {
	u, err := url.Parse(base)
	if err != nil {
		return nil, fmt.Errorf("invalid server url: %w", err)
	}
	switch u.Scheme {
	case "ws":
		u.Scheme = "http"
	case "wss":
		u.Scheme = "https"
	}
	u.Path = strings.TrimRight(u.Path, "/") + "/api/sessions"

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u.String(), nil)
	if err != nil {
		return nil, err
	}
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("list sessions: %w", err)
	}
	defer resp.Body.Close()

	switch resp.StatusCode {
	case http.StatusOK:
	case http.StatusUnauthorized, http.StatusForbidden:
		return nil, fmt.Errorf("%w: %s", ErrUnauthorized, resp.Status)
	default:
		return nil, fmt.Errorf("list sessions: %s", resp.Status)
	}

	var body struct {
		Sessions []core.RoomInfo `json:"sessions"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return nil, fmt.Errorf("decode sessions: %w", err)
	}
	return body.Sessions, nil
}
