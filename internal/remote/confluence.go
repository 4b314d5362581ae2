package remote

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/url"
	"sync"
	"time"
	"unicode/utf8"

	"github.com/tidwall/gjson"
)

const (
	// httpClientTimeout is the timeout for the default HTTP client used
	// when no custom client is provided.
	httpClientTimeout = 30 * time.Second

	// maxAPIResponseBytes caps JSON response body reads so a misbehaving
	// server cannot consume unbounded memory. Page bodies fit comfortably;
	// attachment downloads use a separate, larger cap.
	maxAPIResponseBytes = 8 * 1024 * 1024

	// maxAttachmentBytes caps a single attachment download.
	maxAttachmentBytes = 256 * 1024 * 1024

	// childPageLimit is the page size used when enumerating children.
	childPageLimit = 50

	// maxRedirects matches the default net/http limit.
	maxRedirects = 10
)

// Client talks to the Confluence REST API and implements API.
type Client struct {
	httpClient *http.Client
	baseURL    string
	username   string
	token      string

	mu         sync.Mutex
	spaceByID  map[string]string // node id -> space key, for creates
}

var _ API = (*Client)(nil)

// sameHostRedirectPolicy follows redirects only when the target host
// matches the original request host, so basic auth credentials never
// leak to third-party domains.
func sameHostRedirectPolicy(req *http.Request, via []*http.Request) error {
	if len(via) >= maxRedirects {
		return fmt.Errorf("stopped after %d redirects", maxRedirects)
	}

	if len(via) > 0 {
		origHost := via[0].URL.Host
		if req.URL.Host != origHost {
			return fmt.Errorf("redirect to different host blocked: %s -> %s", origHost, req.URL.Host)
		}
	}

	return nil
}

// NewClient creates a Confluence API client. If httpClient is nil, a
// client with a 30-second timeout and same-host redirect policy is used.
func NewClient(baseURL, username, token string, httpClient *http.Client) *Client {
	if httpClient == nil {
		httpClient = &http.Client{
			Timeout:       httpClientTimeout,
			CheckRedirect: sameHostRedirectPolicy,
		}
	}

	return &Client{
		httpClient: httpClient,
		baseURL:    baseURL,
		username:   username,
		token:      token,
		spaceByID:  make(map[string]string),
	}
}

// sanitizeResponseBody truncates and sanitizes a response body for
// inclusion in error messages. Limits to 256 bytes and replaces
// non-printable characters to prevent log injection.
func sanitizeResponseBody(body []byte) string {
	const maxLen = 256
	if len(body) > maxLen {
		body = body[:maxLen]
	}

	var clean []byte

	for len(body) > 0 {
		r, size := utf8.DecodeRune(body)
		if r == utf8.RuneError && size <= 1 {
			clean = append(clean, '?')
			body = body[1:]

			continue
		}

		if r < 0x20 && r != '\n' && r != '\r' && r != '\t' {
			clean = append(clean, '?')
		} else {
			clean = append(clean, body[:size]...)
		}

		body = body[size:]
	}

	return string(clean)
}

// do sends a request with basic auth and returns the response body.
// Status 404 maps to ErrNotFound and 409 to ErrVersionConflict so
// callers can match outcomes instead of parsing messages.
func (c *Client) do(ctx context.Context, method, endpoint string, contentType string, body io.Reader, limit int64) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+endpoint, body)
	if err != nil {
		return nil, fmt.Errorf("creating request: %w", err)
	}

	req.SetBasicAuth(c.username, c.token)

	if contentType != "" {
		req.Header.Set("Content-Type", contentType)
	}

	if method == http.MethodPost || method == http.MethodPut {
		// Confluence rejects mutating requests without this header.
		req.Header.Set("X-Atlassian-Token", "nocheck")
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("sending %s %s: %w", method, endpoint, err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(io.LimitReader(resp.Body, limit))
	if err != nil {
		return nil, fmt.Errorf("reading response from %s: %w", endpoint, err)
	}

	switch {
	case resp.StatusCode == http.StatusNotFound:
		return nil, fmt.Errorf("%s %s: %w", method, endpoint, ErrNotFound)
	case resp.StatusCode == http.StatusConflict:
		return nil, fmt.Errorf("%s %s: %w", method, endpoint, ErrVersionConflict)
	case resp.StatusCode < 200 || resp.StatusCode > 299:
		msg := gjson.GetBytes(respBody, "message").String()
		if msg == "" {
			msg = sanitizeResponseBody(respBody)
		}

		return nil, fmt.Errorf("API %s %s returned status %d: %s", method, endpoint, resp.StatusCode, msg)
	}

	return respBody, nil
}

func (c *Client) getJSON(ctx context.Context, endpoint string) ([]byte, error) {
	return c.do(ctx, http.MethodGet, endpoint, "", nil, maxAPIResponseBytes)
}

// FetchNode returns a node with body, version, ancestors and space
// expanded in a single round trip.
func (c *Client) FetchNode(ctx context.Context, id string) (*Node, error) {
	endpoint := "/rest/api/content/" + url.PathEscape(id) +
		"?expand=" + url.QueryEscape("body.storage,version,ancestors,space")

	body, err := c.getJSON(ctx, endpoint)
	if err != nil {
		return nil, fmt.Errorf("fetching node %s: %w", id, err)
	}

	node := &Node{
		ID:       gjson.GetBytes(body, "id").String(),
		Title:    gjson.GetBytes(body, "title").String(),
		Version:  int(gjson.GetBytes(body, "version.number").Int()),
		Content:  gjson.GetBytes(body, "body.storage.value").String(),
		SpaceKey: gjson.GetBytes(body, "space.key").String(),
	}

	// The direct parent is the last ancestor.
	ancestors := gjson.GetBytes(body, "ancestors").Array()
	if len(ancestors) > 0 {
		node.ParentID = ancestors[len(ancestors)-1].Get("id").String()
	}

	if node.ID == "" {
		return nil, fmt.Errorf("fetching node %s: response missing id", id)
	}

	c.rememberSpace(node.ID, node.SpaceKey)

	return node, nil
}

// ListChildren enumerates direct child pages, following pagination
// until the server returns a short page.
func (c *Client) ListChildren(ctx context.Context, id string) ([]ChildRef, error) {
	var refs []ChildRef

	for start := 0; ; start += childPageLimit {
		endpoint := fmt.Sprintf("/rest/api/content/%s/child/page?limit=%d&start=%d",
			url.PathEscape(id), childPageLimit, start)

		body, err := c.getJSON(ctx, endpoint)
		if err != nil {
			return nil, fmt.Errorf("listing children of %s: %w", id, err)
		}

		results := gjson.GetBytes(body, "results").Array()
		for _, r := range results {
			refs = append(refs, ChildRef{
				ID:    r.Get("id").String(),
				Title: r.Get("title").String(),
			})
		}

		if len(results) < childPageLimit {
			return refs, nil
		}
	}
}

// ListSpaceRootPages enumerates the top-level pages of a space.
func (c *Client) ListSpaceRootPages(ctx context.Context, spaceKey string) ([]ChildRef, error) {
	var refs []ChildRef

	for start := 0; ; start += childPageLimit {
		endpoint := fmt.Sprintf("/rest/api/space/%s/content/page?depth=root&limit=%d&start=%d",
			url.PathEscape(spaceKey), childPageLimit, start)

		body, err := c.getJSON(ctx, endpoint)
		if err != nil {
			return nil, fmt.Errorf("listing root pages of space %s: %w", spaceKey, err)
		}

		results := gjson.GetBytes(body, "results").Array()
		for _, r := range results {
			refs = append(refs, ChildRef{
				ID:    r.Get("id").String(),
				Title: r.Get("title").String(),
			})
		}

		if len(results) < childPageLimit {
			return refs, nil
		}
	}
}

// CreateNode creates a page under parentID. The space key is resolved
// from the parent (cached per client; one extra fetch at most).
func (c *Client) CreateNode(ctx context.Context, parentID, title, content string) (*NodeRef, error) {
	spaceKey, err := c.spaceKeyFor(ctx, parentID)
	if err != nil {
		return nil, fmt.Errorf("resolving space for parent %s: %w", parentID, err)
	}

	payload := map[string]any{
		"type":  "page",
		"title": title,
		"space": map[string]string{"key": spaceKey},
		"body": map[string]any{
			"storage": map[string]string{
				"value":          content,
				"representation": "storage",
			},
		},
	}
	if parentID != "" {
		payload["ancestors"] = []map[string]string{{"id": parentID}}
	}

	data, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("marshalling create payload: %w", err)
	}

	body, err := c.do(ctx, http.MethodPost, "/rest/api/content", "application/json", bytes.NewReader(data), maxAPIResponseBytes)
	if err != nil {
		return nil, fmt.Errorf("creating node %q: %w", title, err)
	}

	ref := &NodeRef{
		ID:      gjson.GetBytes(body, "id").String(),
		Version: int(gjson.GetBytes(body, "version.number").Int()),
	}
	if ref.ID == "" {
		return nil, fmt.Errorf("creating node %q: response missing id", title)
	}

	c.rememberSpace(ref.ID, spaceKey)

	return ref, nil
}

// UpdateNode rewrites title and content. Confluence expects the new
// version number, which must be exactly one past the current one, so a
// stale expectedVersion surfaces as a 409 and maps to ErrVersionConflict.
func (c *Client) UpdateNode(ctx context.Context, id, title, content string, expectedVersion int) (int, error) {
	payload := map[string]any{
		"id":      id,
		"type":    "page",
		"title":   title,
		"version": map[string]any{"number": expectedVersion + 1, "minorEdit": true},
		"body": map[string]any{
			"storage": map[string]string{
				"value":          content,
				"representation": "storage",
			},
		},
	}

	data, err := json.Marshal(payload)
	if err != nil {
		return 0, fmt.Errorf("marshalling update payload: %w", err)
	}

	body, err := c.do(ctx, http.MethodPut, "/rest/api/content/"+url.PathEscape(id), "application/json", bytes.NewReader(data), maxAPIResponseBytes)
	if err != nil {
		return 0, fmt.Errorf("updating node %s: %w", id, err)
	}

	return int(gjson.GetBytes(body, "version.number").Int()), nil
}

// ListAttachments enumerates a node's attachments, following pagination.
func (c *Client) ListAttachments(ctx context.Context, id string) ([]Attachment, error) {
	var atts []Attachment

	for start := 0; ; start += childPageLimit {
		endpoint := fmt.Sprintf("/rest/api/content/%s/child/attachment?limit=%d&start=%d",
			url.PathEscape(id), childPageLimit, start)

		body, err := c.getJSON(ctx, endpoint)
		if err != nil {
			return nil, fmt.Errorf("listing attachments of %s: %w", id, err)
		}

		results := gjson.GetBytes(body, "results").Array()
		for _, r := range results {
			atts = append(atts, Attachment{
				ID:   r.Get("id").String(),
				Name: r.Get("title").String(),
			})
		}

		if len(results) < childPageLimit {
			return atts, nil
		}
	}
}

// DownloadAttachment fetches an attachment's bytes. The download link
// is read from the attachment's own content record.
func (c *Client) DownloadAttachment(ctx context.Context, nodeID, attachmentID string) ([]byte, error) {
	endpoint := "/rest/api/content/" + url.PathEscape(attachmentID)

	body, err := c.getJSON(ctx, endpoint)
	if err != nil {
		return nil, fmt.Errorf("fetching attachment record %s: %w", attachmentID, err)
	}

	link := gjson.GetBytes(body, "_links.download").String()
	if link == "" {
		return nil, fmt.Errorf("attachment %s has no download link", attachmentID)
	}

	data, err := c.do(ctx, http.MethodGet, link, "", nil, maxAttachmentBytes)
	if err != nil {
		return nil, fmt.Errorf("downloading attachment %s: %w", attachmentID, err)
	}

	return data, nil
}

// UploadAttachment uploads a file to a node. The server versions
// attachments by name, so re-uploading an existing name creates a new
// attachment version rather than a duplicate.
func (c *Client) UploadAttachment(ctx context.Context, nodeID, filename string, data []byte) error {
	var buf bytes.Buffer

	w := multipart.NewWriter(&buf)

	part, err := w.CreateFormFile("file", filename)
	if err != nil {
		return fmt.Errorf("creating multipart form: %w", err)
	}

	if _, err := part.Write(data); err != nil {
		return fmt.Errorf("writing multipart data: %w", err)
	}

	if err := w.Close(); err != nil {
		return fmt.Errorf("finalizing multipart form: %w", err)
	}

	endpoint := "/rest/api/content/" + url.PathEscape(nodeID) + "/child/attachment?allowDuplicated=true"

	if _, err := c.do(ctx, http.MethodPost, endpoint, w.FormDataContentType(), &buf, maxAPIResponseBytes); err != nil {
		return fmt.Errorf("uploading attachment %q to %s: %w", filename, nodeID, err)
	}

	return nil
}

// spaceKeyFor returns the space key for a node id, fetching the node
// once if it has not been seen by this client.
func (c *Client) spaceKeyFor(ctx context.Context, id string) (string, error) {
	if id == "" {
		return "", fmt.Errorf("cannot resolve space without a parent id")
	}

	c.mu.Lock()
	key, ok := c.spaceByID[id]
	c.mu.Unlock()

	if ok {
		return key, nil
	}

	endpoint := "/rest/api/content/" + url.PathEscape(id) + "?expand=space"

	body, err := c.getJSON(ctx, endpoint)
	if err != nil {
		return "", err
	}

	key = gjson.GetBytes(body, "space.key").String()
	if key == "" {
		return "", fmt.Errorf("node %s has no space key", id)
	}

	c.rememberSpace(id, key)

	return key, nil
}

func (c *Client) rememberSpace(id, key string) {
	if id == "" || key == "" {
		return
	}

	c.mu.Lock()
	c.spaceByID[id] = key
	c.mu.Unlock()
}
