package debug

import (
	"context"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/flant/news-operator/pkg/app"
	utils "github.com/flant/news-operator/pkg/utils/file"
)

const DefaultClientTimeout = 30 * time.Second

// Client talks to the debug server over its unix socket.
// Urls use any host, e.g. http://unix/queue/main.text.
type Client struct {
	SocketPath string
	Timeout    time.Duration
}

func NewClient() *Client {
	return &Client{Timeout: DefaultClientTimeout}
}

func (c *Client) WithSocketPath(path string) {
	c.SocketPath = path
}

// DefaultClient uses the socket path from --debug-unix-socket.
func DefaultClient() *Client {
	cl := NewClient()
	cl.WithSocketPath(app.DebugUnixSocket)
	return cl
}

// ResponseError is returned for non-2xx responses.
type ResponseError struct {
	StatusCode int
	Body       string
}

func (e *ResponseError) Error() string {
	return fmt.Sprintf("debug endpoint returned %d: %s", e.StatusCode, strings.TrimSpace(e.Body))
}

func (c *Client) Get(target string) ([]byte, error) {
	req, err := http.NewRequest(http.MethodGet, target, nil)
	if err != nil {
		return nil, err
	}
	return c.do(req)
}

// Post sends data as a url-encoded form.
func (c *Client) Post(target string, data url.Values) ([]byte, error) {
	req, err := http.NewRequest(http.MethodPost, target, strings.NewReader(data.Encode()))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	return c.do(req)
}

func (c *Client) do(req *http.Request) ([]byte, error) {
	exists, err := utils.FileExists(c.SocketPath)
	if err != nil {
		return nil, fmt.Errorf("check debug socket '%s': %w", c.SocketPath, err)
	}
	if !exists {
		return nil, fmt.Errorf("debug socket '%s' is not exists, is news-operator started?", c.SocketPath)
	}

	socketPath := c.SocketPath
	httpc := &http.Client{
		Timeout: c.Timeout,
		Transport: &http.Transport{
			DialContext: func(ctx context.Context, _, _ string) (net.Conn, error) {
				return (&net.Dialer{}).DialContext(ctx, "unix", socketPath)
			},
		},
	}

	resp, err := httpc.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read debug response: %w", err)
	}
	if resp.StatusCode < http.StatusOK || resp.StatusCode >= http.StatusMultipleChoices {
		return nil, &ResponseError{StatusCode: resp.StatusCode, Body: string(body)}
	}
	return body, nil
}
