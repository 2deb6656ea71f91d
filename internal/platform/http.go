package platform

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	appErr "github.com/skiffhost/engine/pkg/errors"
	"github.com/skiffhost/engine/pkg/logger"
	"go.uber.org/zap"
)

// httpClient talks to the platform's REST API. The dispatch namespace is
// injected, never a constant, so tests and staging can point elsewhere.
type httpClient struct {
	baseURL   string
	token     string
	namespace string
	client    *http.Client
}

// NewHTTPClient returns a Client backed by the platform REST API.
func NewHTTPClient(baseURL, token, namespace string) Client {
	return &httpClient{
		baseURL:   baseURL,
		token:     token,
		namespace: namespace,
		client:    &http.Client{Timeout: 5 * time.Minute},
	}
}

type apiEnvelope struct {
	Success bool            `json:"success"`
	Result  json.RawMessage `json:"result"`
	Errors  []apiError      `json:"errors"`
}

type apiError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

func (c *httpClient) StartUploadSession(ctx context.Context, scriptName string, manifest map[string]FileMetadata) (*UploadSession, error) {
	path := fmt.Sprintf("/namespaces/%s/scripts/%s/assets-upload-session",
		url.PathEscape(c.namespace), url.PathEscape(scriptName))
	body := map[string]any{"manifest": manifest}

	var session UploadSession
	if err := c.do(ctx, http.MethodPost, path, c.token, body, &session); err != nil {
		return nil, appErr.Wrap(err, appErr.CodeUnavailable, "start asset upload session failed")
	}
	if session.Token == "" {
		return nil, appErr.New(appErr.CodeInternal, "platform returned an upload session without a token")
	}
	return &session, nil
}

func (c *httpClient) UploadAssets(ctx context.Context, sessionToken string, payload map[string]string) (*UploadResult, error) {
	var result UploadResult
	// Bucket payloads authenticate with the session token, not the API token.
	if err := c.do(ctx, http.MethodPost, "/assets/upload?base64=true", sessionToken, payload, &result); err != nil {
		return nil, appErr.Wrap(err, appErr.CodeUnavailable, "asset bucket upload failed")
	}
	return &result, nil
}

func (c *httpClient) PublishScript(ctx context.Context, req *PublishRequest) (*PublishResult, error) {
	path := fmt.Sprintf("/namespaces/%s/scripts/%s",
		url.PathEscape(c.namespace), url.PathEscape(req.ScriptName))
	body := map[string]any{
		"runtime":  req.Runtime,
		"bindings": req.Bindings,
		"code":     base64.StdEncoding.EncodeToString(req.Code),
	}
	if req.AssetCompletionToken != "" {
		body["assets"] = map[string]string{
			"jwt":     req.AssetCompletionToken,
			"binding": req.AssetBinding,
		}
	}

	var result PublishResult
	if err := c.do(ctx, http.MethodPut, path, c.token, body, &result); err != nil {
		return nil, appErr.Wrap(err, appErr.CodeUnavailable, "publish script failed")
	}
	logger.L().Info("script published",
		zap.String("script", req.ScriptName),
		zap.String("namespace", c.namespace),
		zap.String("version_id", result.VersionID))
	return &result, nil
}

func (c *httpClient) ApplySchema(ctx context.Context, databaseID, schemaSQL string) error {
	path := fmt.Sprintf("/d1/%s/query", url.PathEscape(databaseID))
	body := map[string]string{"sql": schemaSQL}
	if err := c.do(ctx, http.MethodPost, path, c.token, body, nil); err != nil {
		return appErr.Wrap(err, appErr.CodeUnavailable, "apply database schema failed")
	}
	return nil
}

func (c *httpClient) PutSecret(ctx context.Context, scriptName, name, value string) error {
	path := fmt.Sprintf("/namespaces/%s/scripts/%s/secrets",
		url.PathEscape(c.namespace), url.PathEscape(scriptName))
	body := map[string]string{"name": name, "text": value, "type": "secret_text"}
	if err := c.do(ctx, http.MethodPut, path, c.token, body, nil); err != nil {
		return appErr.Wrap(err, appErr.CodeUnavailable, "put secret failed")
	}
	return nil
}

func (c *httpClient) do(ctx context.Context, method, path, token string, reqBody, respBody any) error {
	payload, err := json.Marshal(reqBody)
	if err != nil {
		return fmt.Errorf("encode request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, bytes.NewReader(payload))
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}

	resp, err := c.client.Do(req)
	if err != nil {
		return fmt.Errorf("%s %s: %w", method, path, err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("read response: %w", err)
	}

	var env apiEnvelope
	if err := json.Unmarshal(raw, &env); err != nil {
		return fmt.Errorf("%s %s: status %d: decode response: %w", method, path, resp.StatusCode, err)
	}
	if resp.StatusCode >= 400 || !env.Success {
		msg := http.StatusText(resp.StatusCode)
		if len(env.Errors) > 0 {
			msg = env.Errors[0].Message
		}
		return fmt.Errorf("%s %s: platform error (%d): %s", method, path, resp.StatusCode, msg)
	}
	if respBody != nil && len(env.Result) > 0 {
		if err := json.Unmarshal(env.Result, respBody); err != nil {
			return fmt.Errorf("decode result: %w", err)
		}
	}
	return nil
}
