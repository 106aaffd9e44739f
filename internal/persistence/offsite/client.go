// Package offsite copies ledger records and finished audit segments to an
// S3-compatible bucket (R2, MinIO, S3).
package offsite

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"path"
	"strings"
	"time"
)

// Client talks to one bucket with path-style addressing.
type Client struct {
	base   *url.URL
	bucket string
	sig    signer
	http   *http.Client
	now    func() time.Time
}

// New validates the connection values. An endpoint without a scheme gets
// https.
func New(endpoint, bucket, accessKeyID, secretAccessKey string) (*Client, error) {
	vals := []string{endpoint, bucket, accessKeyID, secretAccessKey}
	for i := range vals {
		vals[i] = strings.TrimSpace(vals[i])
		if vals[i] == "" {
			return nil, errors.New("offsite: endpoint, bucket, access key id and secret are all required")
		}
	}
	endpoint, bucket = vals[0], vals[1]
	if !strings.Contains(endpoint, "://") {
		endpoint = "https://" + endpoint
	}
	base, err := url.Parse(strings.TrimRight(endpoint, "/"))
	if err != nil {
		return nil, fmt.Errorf("offsite: endpoint: %w", err)
	}
	if base.Host == "" || (base.Scheme != "http" && base.Scheme != "https") {
		return nil, fmt.Errorf("offsite: endpoint %q is not an http(s) url", endpoint)
	}
	return &Client{
		base:   base,
		bucket: bucket,
		sig:    newSigner(vals[2], vals[3]),
		http:   &http.Client{Timeout: 2 * time.Minute},
		now:    time.Now,
	}, nil
}

// PutFile uploads localPath as key, replacing any previous object.
func (c *Client) PutFile(ctx context.Context, key, localPath string) error {
	f, err := os.Open(localPath)
	if err != nil {
		return err
	}
	defer f.Close()
	st, err := f.Stat()
	if err != nil {
		return err
	}
	if !st.Mode().IsRegular() {
		return fmt.Errorf("offsite: %s is not a regular file", localPath)
	}

	// The payload hash needs a full pass before the body is streamed.
	h := sha256.New()
	if _, err := io.Copy(h, f); err != nil {
		return err
	}
	if _, err := f.Seek(0, io.SeekStart); err != nil {
		return err
	}
	req, err := c.request(ctx, http.MethodPut, key, f)
	if err != nil {
		return err
	}
	req.ContentLength = st.Size()
	req.Header.Set("Content-Type", "application/octet-stream")
	return c.send(req, hex.EncodeToString(h.Sum(nil)), key)
}

// Delete removes key. A missing object is not an error.
func (c *Client) Delete(ctx context.Context, key string) error {
	req, err := c.request(ctx, http.MethodDelete, key, nil)
	if err != nil {
		return err
	}
	return c.send(req, emptyPayloadHash, key)
}

func (c *Client) request(ctx context.Context, method, key string, body io.Reader) (*http.Request, error) {
	key = cleanKey(key)
	if key == "" {
		return nil, errors.New("offsite: empty object key")
	}
	u := *c.base
	u.Path = path.Join(c.base.Path, "/", c.bucket, key)
	u.RawPath = ""
	return http.NewRequestWithContext(ctx, method, u.String(), body)
}

func (c *Client) send(req *http.Request, payloadHash, key string) error {
	c.sig.sign(req, payloadHash, c.now())
	resp, err := c.http.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode/100 == 2:
		return nil
	case req.Method == http.MethodDelete && resp.StatusCode == http.StatusNotFound:
		return nil
	}
	msg, _ := io.ReadAll(io.LimitReader(resp.Body, 8<<10))
	return fmt.Errorf("offsite: %s %s: status %d: %s", req.Method, key, resp.StatusCode, strings.TrimSpace(string(msg)))
}

// cleanKey turns key into a relative slash path rooted at the bucket. A
// blank key comes back empty.
func cleanKey(key string) string {
	key = strings.TrimSpace(strings.ReplaceAll(key, "\\", "/"))
	return path.Clean("/" + key)[1:]
}
