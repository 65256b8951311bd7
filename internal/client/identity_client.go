package client

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/arelec/be-report-validation/internal/workflow"
)

// IdentityHTTPClient implements service.IdentityClient against the platform
// identity service. Users and roles are owned there; this core only asks one
// question — whether a principal is an administrator.
type IdentityHTTPClient struct {
	baseURL string
	http    *http.Client
}

// NewIdentityHTTPClient returns a client for the identity service at baseURL.
func NewIdentityHTTPClient(baseURL string) *IdentityHTTPClient {
	return &IdentityHTTPClient{
		baseURL: baseURL,
		http:    &http.Client{Timeout: 5 * time.Second},
	}
}

// IsAdministrator asks the identity service whether the user holds the
// administrator role. Unknown users answer false, not an error.
func (c *IdentityHTTPClient) IsAdministrator(ctx context.Context, userID workflow.UserID) (bool, error) {
	url := fmt.Sprintf("%s/api/v1/users/%d/roles", c.baseURL, userID)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return false, err
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return false, fmt.Errorf("identity service request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNotFound {
		return false, nil
	}
	if resp.StatusCode != http.StatusOK {
		return false, fmt.Errorf("identity service returned status %d", resp.StatusCode)
	}

	var body struct {
		Roles []string `json:"roles"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return false, fmt.Errorf("decode identity response: %w", err)
	}

	for _, role := range body.Roles {
		if role == "admin" || role == "super_admin" {
			return true, nil
		}
	}
	return false, nil
}

// StaticIdentityClient answers the administrator check from a fixed id set.
// Used in development and tests when no identity service is deployed.
type StaticIdentityClient struct {
	admins map[workflow.UserID]struct{}
}

// NewStaticIdentityClient builds a client over a fixed administrator list.
func NewStaticIdentityClient(adminIDs ...workflow.UserID) *StaticIdentityClient {
	admins := make(map[workflow.UserID]struct{}, len(adminIDs))
	for _, id := range adminIDs {
		admins[id] = struct{}{}
	}
	return &StaticIdentityClient{admins: admins}
}

// IsAdministrator reports membership in the configured admin set.
func (c *StaticIdentityClient) IsAdministrator(_ context.Context, userID workflow.UserID) (bool, error) {
	_, ok := c.admins[userID]
	return ok, nil
}
