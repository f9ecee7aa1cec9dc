package identity

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/go-resty/resty/v2"
)

const (
	// DefaultToolkitURL is the Identity Toolkit API backing Firebase Auth.
	DefaultToolkitURL = "https://identitytoolkit.googleapis.com/v1"

	userNotFound = "USER_NOT_FOUND"
)

// AccountStore removes an identity from the auth provider that issued it.
type AccountStore interface {
	DeleteAccount(ctx context.Context, uid string) error
}

type toolkitError struct {
	Error struct {
		Code    int    `json:"code"`
		Message string `json:"message"`
	} `json:"error"`
}

// Toolkit deletes Firebase Auth users through the Identity Toolkit REST API.
// The HTTP client must already carry Google service account credentials.
type Toolkit struct {
	client    *resty.Client
	baseURL   string
	projectID string
}

func NewToolkit(httpClient *http.Client, projectID, baseURL string) (*Toolkit, error) {
	if httpClient == nil {
		return nil, errors.New("identity: toolkit http client must not be nil")
	}
	projectID = strings.TrimSpace(projectID)
	if projectID == "" {
		return nil, errors.New("identity: toolkit project id must not be empty")
	}
	baseURL = strings.TrimRight(strings.TrimSpace(baseURL), "/")
	if baseURL == "" {
		baseURL = DefaultToolkitURL
	}
	return &Toolkit{
		client:    resty.NewWithClient(httpClient).SetTimeout(10 * time.Second),
		baseURL:   baseURL,
		projectID: projectID,
	}, nil
}

// DeleteAccount deletes the user. A user that no longer exists counts as
// deleted.
func (t *Toolkit) DeleteAccount(ctx context.Context, uid string) error {
	endpoint := fmt.Sprintf("%s/projects/%s/accounts:delete", t.baseURL, url.PathEscape(t.projectID))

	var apiErr toolkitError
	res, err := t.client.R().
		SetContext(ctx).
		SetBody(map[string]string{"localId": uid}).
		SetError(&apiErr).
		Post(endpoint)
	if err != nil {
		return fmt.Errorf("identity: toolkit delete %s: %w", uid, err)
	}
	if res.IsSuccess() {
		return nil
	}
	if strings.HasPrefix(apiErr.Error.Message, userNotFound) {
		return nil
	}
	return fmt.Errorf("identity: toolkit delete %s: status %d: %s", uid, res.StatusCode(), apiErr.Error.Message)
}
