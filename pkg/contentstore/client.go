package contentstore

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/url"
	"strings"
	"sync/atomic"
	"time"

	"github.com/veridia-labs/certledger-backend/pkg/config"
	pkgerrors "github.com/veridia-labs/certledger-backend/pkg/errors"
	"github.com/veridia-labs/certledger-backend/pkg/logger"
	"github.com/veridia-labs/certledger-backend/pkg/types"
)

// fallbackIDLength matches the length of a v0 content identifier so fallback
// IDs stay storable in the same column and detectable on read.
const fallbackIDLength = 46

// PutResult reports where a document landed. Degraded means the store was
// unreachable and ContentID is a locally derived digest, not a retrievable
// address; callers surface that to the client instead of hiding it.
type PutResult struct {
	ContentID string
	Degraded  bool
}

// Client stores canonical certificate documents in a content-addressed store
// over its HTTP API, with a gateway fallback for reads. Construction performs
// no I/O; call Init to probe connectivity.
type Client struct {
	httpClient *http.Client
	apiURL     string
	gatewayURL string
	authHeader string
	logg       *logger.Logger
	ready      atomic.Bool
	apiHealthy atomic.Bool
}

func NewClient(cfg config.ContentStoreConfig, logg *logger.Logger) (*Client, error) {
	if logg == nil {
		return nil, errors.New("content store logger is required")
	}
	apiURL := strings.TrimRight(strings.TrimSpace(cfg.APIURL), "/")
	if apiURL == "" {
		return nil, errors.New("content store API URL is required")
	}
	gatewayURL := strings.TrimSpace(cfg.GatewayURL)
	if gatewayURL == "" {
		return nil, errors.New("content store gateway URL is required")
	}
	if !strings.HasSuffix(gatewayURL, "/") {
		gatewayURL += "/"
	}

	timeout := cfg.RequestTimeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}

	client := &Client{
		httpClient: &http.Client{Timeout: timeout},
		apiURL:     apiURL,
		gatewayURL: gatewayURL,
		logg:       logg,
	}
	if cfg.ProjectID != "" && cfg.ProjectSecret != "" {
		client.authHeader = basicAuth(cfg.ProjectID, cfg.ProjectSecret)
	}
	return client, nil
}

// Init probes the API and gateway and marks the client ready. An unreachable
// store is not fatal: writes degrade to local digests and reconciliation
// re-uploads later, so Init only fails on misconfiguration.
func (c *Client) Init(ctx context.Context) error {
	apiOK := c.Ping(ctx) == nil
	gatewayOK := c.pingGateway(ctx) == nil

	c.apiHealthy.Store(apiOK)
	c.ready.Store(true)

	logCtx := c.logg.WithFields(ctx, map[string]any{
		"api_available":     apiOK,
		"gateway_available": gatewayOK,
	})
	if apiOK || gatewayOK {
		c.logg.Info(logCtx, "content store initialized")
	} else {
		c.logg.Warn(logCtx, "content store unreachable; operating in degraded mode")
	}
	return nil
}

func (c *Client) Ready() bool {
	return c != nil && c.ready.Load()
}

// Ping checks the store's API endpoint.
func (c *Client) Ping(ctx context.Context) error {
	req, err := c.apiRequest(ctx, "/api/v0/version", nil, nil)
	if err != nil {
		return err
	}
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "content store version check")
	}
	defer drain(resp.Body)
	if resp.StatusCode != http.StatusOK {
		return pkgerrors.New(pkgerrors.CodeDependency,
			fmt.Sprintf("content store version check returned status %d", resp.StatusCode))
	}
	return nil
}

// Put stores the document's canonical encoding and returns its content ID.
// When the store is unreachable the write degrades to a deterministic local
// digest in the same shape; the caller decides how loudly to surface that.
func (c *Client) Put(ctx context.Context, document types.JSONMap) (*PutResult, error) {
	encoded, err := canonicalEncode(document)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "encode certificate document")
	}

	contentID, uploadErr := c.upload(ctx, encoded)
	if uploadErr == nil {
		c.apiHealthy.Store(true)
		c.logg.Info(c.logg.WithField(ctx, "content_id", contentID), "certificate document stored")
		return &PutResult{ContentID: contentID}, nil
	}
	if ctx.Err() != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, uploadErr, "content store upload")
	}

	c.apiHealthy.Store(false)
	fallbackID := FallbackContentID(encoded)
	c.logg.Warn(c.logg.WithFields(ctx, map[string]any{
		"content_id": fallbackID,
		"error":      uploadErr.Error(),
	}), "content store upload failed; using local digest")
	return &PutResult{ContentID: fallbackID, Degraded: true}, nil
}

// Get retrieves a document by content ID, trying the API first and the public
// gateway second. Fallback IDs have no retrievable content; those return a
// placeholder document identifying itself as locally generated.
func (c *Client) Get(ctx context.Context, contentID string) (types.JSONMap, error) {
	if contentID == "" {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "content ID is required")
	}

	document, apiErr := c.fetchViaAPI(ctx, contentID)
	if apiErr == nil {
		return document, nil
	}
	document, gatewayErr := c.fetchViaGateway(ctx, contentID)
	if gatewayErr == nil {
		return document, nil
	}

	if IsFallbackContentID(contentID) {
		return placeholderDocument(contentID), nil
	}
	return nil, pkgerrors.Wrap(pkgerrors.CodeDependency,
		errors.Join(apiErr, gatewayErr), fmt.Sprintf("fetch document %s", contentID))
}

// Exists reports whether the gateway can serve the content ID. Best effort:
// network trouble reads as absent.
func (c *Client) Exists(ctx context.Context, contentID string) bool {
	req, err := http.NewRequestWithContext(ctx, http.MethodHead, c.PublicURL(contentID), nil)
	if err != nil {
		return false
	}
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return false
	}
	defer drain(resp.Body)
	return resp.StatusCode == http.StatusOK
}

// PublicURL returns the gateway address for a content ID.
func (c *Client) PublicURL(contentID string) string {
	return c.gatewayURL + contentID
}

// FallbackContentID derives the deterministic local identifier for a document
// encoding, shaped like a store ID so it fits the same storage and lookups.
func FallbackContentID(encoded []byte) string {
	digest := sha256.Sum256(encoded)
	return "Qm" + hex.EncodeToString(digest[:])[:fallbackIDLength-2]
}

// IsFallbackContentID detects locally derived identifiers: the digest suffix
// is pure hex, which a real base58 identifier of this shape never is.
func IsFallbackContentID(contentID string) bool {
	if len(contentID) != fallbackIDLength || !strings.HasPrefix(contentID, "Qm") {
		return false
	}
	_, err := hex.DecodeString(contentID[2:])
	return err == nil
}

// canonicalEncode produces the byte encoding that both the upload and the
// fallback digest are computed over. Indentation is part of the format; the
// same document must always produce the same bytes.
func canonicalEncode(document types.JSONMap) ([]byte, error) {
	return json.MarshalIndent(document, "", "  ")
}

func placeholderDocument(contentID string) types.JSONMap {
	return types.JSONMap{
		"name":        "Locally recorded certificate document",
		"description": "The content store was unavailable at issuance; this identifier is a local digest and the full document is pending re-upload.",
		"content_id":  contentID,
		"degraded":    true,
	}
}

func (c *Client) upload(ctx context.Context, encoded []byte) (string, error) {
	var body bytes.Buffer
	form := multipart.NewWriter(&body)
	part, err := form.CreateFormFile("file", "certificate.json")
	if err != nil {
		return "", err
	}
	if _, err := part.Write(encoded); err != nil {
		return "", err
	}
	if err := form.Close(); err != nil {
		return "", err
	}

	query := url.Values{"pin": {"true"}, "cid-version": {"1"}}
	req, err := c.apiRequest(ctx, "/api/v0/add", query, &body)
	if err != nil {
		return "", err
	}
	req.Header.Set("Content-Type", form.FormDataContentType())

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return "", err
	}
	defer drain(resp.Body)
	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("add returned status %d", resp.StatusCode)
	}

	var result struct {
		Hash string `json:"Hash"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return "", fmt.Errorf("decode add response: %w", err)
	}
	if result.Hash == "" {
		return "", errors.New("add response missing hash")
	}
	return result.Hash, nil
}

func (c *Client) fetchViaAPI(ctx context.Context, contentID string) (types.JSONMap, error) {
	req, err := c.apiRequest(ctx, "/api/v0/cat", url.Values{"arg": {contentID}}, nil)
	if err != nil {
		return nil, err
	}
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, err
	}
	defer drain(resp.Body)
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("cat returned status %d", resp.StatusCode)
	}
	return decodeDocument(resp.Body)
}

func (c *Client) fetchViaGateway(ctx context.Context, contentID string) (types.JSONMap, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.PublicURL(contentID), nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Accept", "application/json")
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, err
	}
	defer drain(resp.Body)
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("gateway returned status %d", resp.StatusCode)
	}
	return decodeDocument(resp.Body)
}

func (c *Client) pingGateway(ctx context.Context) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodHead, c.gatewayURL, nil)
	if err != nil {
		return err
	}
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return err
	}
	defer drain(resp.Body)
	if resp.StatusCode >= http.StatusInternalServerError {
		return fmt.Errorf("gateway returned status %d", resp.StatusCode)
	}
	return nil
}

func (c *Client) apiRequest(ctx context.Context, path string, query url.Values, body io.Reader) (*http.Request, error) {
	endpoint := c.apiURL + path
	if len(query) > 0 {
		endpoint += "?" + query.Encode()
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, body)
	if err != nil {
		return nil, err
	}
	if c.authHeader != "" {
		req.Header.Set("Authorization", c.authHeader)
	}
	return req, nil
}

func decodeDocument(r io.Reader) (types.JSONMap, error) {
	var document types.JSONMap
	if err := json.NewDecoder(io.LimitReader(r, 1<<20)).Decode(&document); err != nil {
		return nil, fmt.Errorf("decode document: %w", err)
	}
	return document, nil
}

func basicAuth(id, secret string) string {
	return "Basic " + base64.StdEncoding.EncodeToString([]byte(id+":"+secret))
}

func drain(body io.ReadCloser) {
	_, _ = io.Copy(io.Discard, io.LimitReader(body, 1<<16))
	_ = body.Close()
}
