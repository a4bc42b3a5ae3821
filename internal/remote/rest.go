package remote

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/cenkalti/backoff/v5"
)

// RESTClient talks to the provider's JSON gateway. Every call carries the
// caller's context and the configured per-request timeout, so a hung remote
// cannot stall a login or a queue drain.
type RESTClient struct {
	base   string
	apiKey string
	client *http.Client
}

func NewRESTClient(baseURL, apiKey string, timeout time.Duration) *RESTClient {
	return &RESTClient{
		base:   baseURL,
		apiKey: apiKey,
		client: &http.Client{Timeout: timeout},
	}
}

func (c *RESTClient) do(ctx context.Context, method, path string, body any, out any) error {
	var reader io.Reader
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("encode request: %w", err)
		}
		reader = bytes.NewReader(b)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.base+path, reader)
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	if c.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.apiKey)
	}

	resp, err := c.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNotFound {
		return ErrNotFound
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		b, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return fmt.Errorf("remote %s %s: %s: %s", method, path, resp.Status, string(b))
	}

	if out == nil {
		return nil
	}
	return json.NewDecoder(resp.Body).Decode(out)
}

// getWithRetry retries idempotent reads with exponential backoff. Not-found
// is permanent; transport errors get up to three tries.
func getWithRetry[T any](ctx context.Context, c *RESTClient, path string) (T, error) {
	op := func() (T, error) {
		var out T
		err := c.do(ctx, http.MethodGet, path, nil, &out)
		if errors.Is(err, ErrNotFound) {
			return out, backoff.Permanent(err)
		}
		return out, err
	}
	return backoff.Retry(ctx, op,
		backoff.WithBackOff(backoff.NewExponentialBackOff()),
		backoff.WithMaxTries(3))
}

// --- IdentityProvider ---

func (c *RESTClient) LookupByEmail(ctx context.Context, email string) (*User, error) {
	u, err := getWithRetry[User](ctx, c, "/v1/users:lookup?email="+url.QueryEscape(email))
	if err != nil {
		return nil, err
	}
	return &u, nil
}

type signInResponse struct {
	User  User   `json:"user"`
	Token string `json:"token"`
}

func (c *RESTClient) SignIn(ctx context.Context, email, password string) (*User, string, error) {
	var out signInResponse
	err := c.do(ctx, http.MethodPost, "/v1/users:signIn", map[string]string{
		"email":    email,
		"password": password,
	}, &out)
	if err != nil {
		return nil, "", err
	}
	return &out.User, out.Token, nil
}

func (c *RESTClient) Create(ctx context.Context, email, password string) (*User, error) {
	var out User
	err := c.do(ctx, http.MethodPost, "/v1/users", map[string]string{
		"email":    email,
		"password": password,
	}, &out)
	if err != nil {
		return nil, err
	}
	return &out, nil
}

func (c *RESTClient) Update(ctx context.Context, uid string, upd UserUpdate) (*User, error) {
	var out User
	err := c.do(ctx, http.MethodPatch, "/v1/users/"+url.PathEscape(uid), upd, &out)
	if err != nil {
		return nil, err
	}
	return &out, nil
}

func (c *RESTClient) Delete(ctx context.Context, uid string) error {
	return c.do(ctx, http.MethodDelete, "/v1/users/"+url.PathEscape(uid), nil, nil)
}

func (c *RESTClient) GetClaims(ctx context.Context, uid string) (Claims, error) {
	return getWithRetry[Claims](ctx, c, "/v1/users/"+url.PathEscape(uid)+"/claims")
}

func (c *RESTClient) SetClaims(ctx context.Context, uid string, claims Claims) error {
	return c.do(ctx, http.MethodPut, "/v1/users/"+url.PathEscape(uid)+"/claims", claims, nil)
}

func (c *RESTClient) RevokeTokens(ctx context.Context, uid string) error {
	return c.do(ctx, http.MethodPost, "/v1/users/"+url.PathEscape(uid)+":revokeTokens", nil, nil)
}

func (c *RESTClient) SendPasswordReset(ctx context.Context, email string) error {
	return c.do(ctx, http.MethodPost, "/v1/users:sendPasswordReset", map[string]string{
		"email": email,
	}, nil)
}

type listUsersResponse struct {
	Users         []User `json:"users"`
	NextPageToken string `json:"next_page_token"`
}

func (c *RESTClient) List(ctx context.Context, pageSize int, pageToken string) ([]User, string, error) {
	path := "/v1/users?page_size=" + strconv.Itoa(pageSize)
	if pageToken != "" {
		path += "&page_token=" + url.QueryEscape(pageToken)
	}
	out, err := getWithRetry[listUsersResponse](ctx, c, path)
	if err != nil {
		return nil, "", err
	}
	return out.Users, out.NextPageToken, nil
}

// --- DocumentStore ---

type idResponse struct {
	ID string `json:"id"`
}

func (c *RESTClient) AddSignalement(ctx context.Context, doc SignalementDoc) (string, error) {
	var out idResponse
	if err := c.do(ctx, http.MethodPost, "/v1/signalements", doc, &out); err != nil {
		return "", err
	}
	return out.ID, nil
}

func (c *RESTClient) SetSignalement(ctx context.Context, id string, fields map[string]any, merge bool) error {
	path := "/v1/signalements/" + url.PathEscape(id) + "?merge=" + strconv.FormatBool(merge)
	return c.do(ctx, http.MethodPatch, path, fields, nil)
}

func (c *RESTClient) DeleteSignalement(ctx context.Context, id string) error {
	return c.do(ctx, http.MethodDelete, "/v1/signalements/"+url.PathEscape(id), nil, nil)
}

func (c *RESTClient) ListSignalements(ctx context.Context, limit int) ([]SignalementDoc, error) {
	return getWithRetry[[]SignalementDoc](ctx, c, "/v1/signalements?limit="+strconv.Itoa(limit))
}

func (c *RESTClient) AddPhoto(ctx context.Context, doc PhotoDoc) (string, error) {
	var out idResponse
	if err := c.do(ctx, http.MethodPost, "/v1/photos", doc, &out); err != nil {
		return "", err
	}
	return out.ID, nil
}

func (c *RESTClient) FindPhoto(ctx context.Context, signalementID, filename string) (*PhotoDoc, error) {
	path := "/v1/photos:find?signalement_id=" + url.QueryEscape(signalementID) +
		"&filename=" + url.QueryEscape(filename)
	p, err := getWithRetry[PhotoDoc](ctx, c, path)
	if err != nil {
		return nil, err
	}
	return &p, nil
}

func (c *RESTClient) ListPhotos(ctx context.Context, limit int) ([]PhotoDoc, error) {
	return getWithRetry[[]PhotoDoc](ctx, c, "/v1/photos?limit="+strconv.Itoa(limit))
}

func (c *RESTClient) GetAttempt(ctx context.Context, email string) (Claims, error) {
	return getWithRetry[Claims](ctx, c, "/v1/attempts/"+url.PathEscape(email))
}

func (c *RESTClient) SetAttempt(ctx context.Context, email string, claims Claims) error {
	return c.do(ctx, http.MethodPut, "/v1/attempts/"+url.PathEscape(email), claims, nil)
}

func (c *RESTClient) ClearAttempt(ctx context.Context, email string) error {
	return c.do(ctx, http.MethodDelete, "/v1/attempts/"+url.PathEscape(email), nil, nil)
}
