package vault

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/xela07ax/clearing-house/internal/domain"
	"github.com/xela07ax/clearing-house/internal/infra/auth"
)

// Client — удаленный доступ к vault (vault.mode: remote). Каждый вызов несет
// свежий короткоживущий сервисный токен и жесткий таймаут: зависший vault
// не должен держать запрос логирования бесконечно.
type Client struct {
	baseURL string
	issuer  *auth.ServiceTokenIssuer
	http    *http.Client
}

func NewClient(baseURL string, issuer *auth.ServiceTokenIssuer, timeout time.Duration) *Client {
	if timeout <= 0 {
		timeout = 3 * time.Second
	}
	return &Client{
		baseURL: baseURL,
		issuer:  issuer,
		http:    &http.Client{Timeout: timeout},
	}
}

func (c *Client) GenerateFieldKeys(ctx context.Context, docTypeID string) (domain.KeyMap, []byte, error) {
	var resp keysResponse
	err := c.post(ctx, "/internal/keys/generate", generateRequest{DocType: docTypeID}, &resp)
	if err != nil {
		return nil, nil, err
	}
	return resp.Keys, resp.Wrapped, nil
}

func (c *Client) UnwrapFieldKeys(ctx context.Context, docTypeID string, wrapped []byte) (domain.KeyMap, error) {
	var resp keysResponse
	err := c.post(ctx, "/internal/keys/decrypt", decryptRequest{DocType: docTypeID, Wrapped: wrapped}, &resp)
	if err != nil {
		return nil, err
	}
	return resp.Keys, nil
}

func (c *Client) UnwrapMany(ctx context.Context, docTypeID string, items []WrappedItem) (map[string]domain.KeyMap, error) {
	var resp batchResponse
	err := c.post(ctx, "/internal/keys/decrypt-batch", batchRequest{DocType: docTypeID, Items: items}, &resp)
	if err != nil {
		return nil, err
	}
	return resp.Keys, nil
}

func (c *Client) post(ctx context.Context, path string, body, out interface{}) error {
	const op = "vault.client"

	payload, err := json.Marshal(body)
	if err != nil {
		return domain.Wrap(domain.KindInternal, op, "request marshal failed", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, bytes.NewReader(payload))
	if err != nil {
		return domain.Wrap(domain.KindInternal, op, "request build failed", err)
	}
	req.Header.Set("Content-Type", "application/json")

	token, err := c.issuer.Issue("clearing-house")
	if err != nil {
		return domain.Wrap(domain.KindInternal, op, "service token issue failed", err)
	}
	req.Header.Set("X-Service-Token", token)

	resp, err := c.http.Do(req)
	if err != nil {
		return domain.Wrap(domain.KindInternal, op, "vault unreachable", err)
	}
	defer resp.Body.Close()

	switch resp.StatusCode {
	case http.StatusOK:
	case http.StatusNotFound:
		return domain.E(domain.KindNotFound, op, readErrBody(resp.Body))
	case http.StatusBadRequest:
		return domain.E(domain.KindValidation, op, readErrBody(resp.Body))
	default:
		return domain.E(domain.KindInternal, op, fmt.Sprintf("vault returned %d", resp.StatusCode))
	}

	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return domain.Wrap(domain.KindInternal, op, "response decode failed", err)
	}
	return nil
}

func readErrBody(r io.Reader) string {
	b, _ := io.ReadAll(io.LimitReader(r, 256))
	if len(b) == 0 {
		return "vault error"
	}
	return string(bytes.TrimSpace(b))
}
