package calendar

import (
	"context"
	"fmt"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/emersion/go-ical"
	"github.com/emersion/go-webdav/caldav"
)

// Client writes reminder events into one CalDAV calendar collection.
type Client struct {
	baseURL      string
	username     string
	password     string
	calendarPath string

	mu     sync.Mutex
	client *caldav.Client
}

func NewClient(baseURL, username, password, calendarPath string) *Client {
	return &Client{
		baseURL:      baseURL,
		username:     username,
		password:     password,
		calendarPath: calendarPath,
	}
}

// connect lazily builds the caldav client; it is reused for every request.
func (c *Client) connect() (*caldav.Client, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.client != nil {
		return c.client, nil
	}

	httpClient := &http.Client{
		Transport: &basicAuthTransport{
			username: c.username,
			password: c.password,
		},
		Timeout: 30 * time.Second,
	}

	client, err := caldav.NewClient(httpClient, c.baseURL)
	if err != nil {
		return nil, fmt.Errorf("connect to CalDAV: %w", err)
	}

	c.client = client
	return client, nil
}

// basicAuthTransport signs every request of the mirror with the account
// credentials. An empty username sends requests unsigned.
type basicAuthTransport struct {
	username string
	password string
}

func (t *basicAuthTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	if t.username == "" {
		return http.DefaultTransport.RoundTrip(req)
	}
	signed := req.Clone(req.Context())
	signed.SetBasicAuth(t.username, t.password)
	return http.DefaultTransport.RoundTrip(signed)
}

func (c *Client) objectPath(uid string) string {
	path := c.calendarPath
	if !strings.HasSuffix(path, "/") {
		path += "/"
	}
	return path + uid + ".ics"
}

// PutEvent creates or replaces the calendar object holding uid.
func (c *Client) PutEvent(ctx context.Context, uid string, cal *ical.Calendar) error {
	client, err := c.connect()
	if err != nil {
		return err
	}
	if _, err := client.PutCalendarObject(ctx, c.objectPath(uid), cal); err != nil {
		return fmt.Errorf("put event %s: %w", uid, err)
	}
	return nil
}

// DeleteEvent removes the calendar object holding uid.
func (c *Client) DeleteEvent(ctx context.Context, uid string) error {
	client, err := c.connect()
	if err != nil {
		return err
	}
	if err := client.RemoveAll(ctx, c.objectPath(uid)); err != nil {
		return fmt.Errorf("delete event %s: %w", uid, err)
	}
	return nil
}
