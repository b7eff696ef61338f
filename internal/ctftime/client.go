package ctftime

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"ctfhooks/internal/models"
)

// DefaultEndpoint is the CTFtime events API.
const DefaultEndpoint = "https://ctftime.org/api/v1/events/"

// maxBodySize bounds how much of a response is read.
const maxBodySize = 8 << 20

// Client provides a client for the CTFtime events API.
type Client struct {
	httpClient *http.Client
	logger     *slog.Logger
	endpoint   string
	now        func() time.Time
}

// NewClient creates a new CTFtime client. An empty endpoint means DefaultEndpoint.
func NewClient(httpClient *http.Client, logger *slog.Logger, endpoint string) *Client {
	if endpoint == "" {
		endpoint = DefaultEndpoint
	}
	return &Client{
		httpClient: httpClient,
		logger:     logger,
		endpoint:   endpoint,
		now:        time.Now,
	}
}

// GetUpcomingEvents fetches at most maxCount events starting within the next days days.
func (c *Client) GetUpcomingEvents(ctx context.Context, maxCount, days int) ([]models.Event, error) {
	reqURL, err := c.eventsURL(maxCount, days)
	if err != nil {
		return nil, err
	}
	c.logger.Debug("Fetching upcoming events", "url", reqURL, "limit", maxCount, "days", days)

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, reqURL, nil)
	if err != nil {
		return nil, models.NetworkError("build events request", err)
	}
	// An explicitly empty User-Agent keeps net/http from sending its default one.
	req.Header.Set("User-Agent", "")
	req.Header.Set("Accept", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, models.NetworkError("fetch events", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode/100 != 2 {
		return nil, models.NetworkError("fetch events", fmt.Errorf("unexpected status %s", resp.Status))
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxBodySize))
	if err != nil {
		return nil, models.NetworkError("read events response", err)
	}

	events, err := ParseEvents(body)
	if err != nil {
		return nil, err
	}

	c.logger.Info("Successfully fetched events from CTFtime", "count", len(events), "days", days)
	return events, nil
}

// ParseEvents decodes a JSON array of records and resolves each into an Event.
func ParseEvents(body []byte) ([]models.Event, error) {
	trimmed := bytes.TrimSpace(body)
	if len(trimmed) == 0 || trimmed[0] != '[' {
		return nil, models.FormatError("decode events", errors.New("response is not a JSON array"))
	}

	var records []Record
	if err := json.Unmarshal(trimmed, &records); err != nil {
		return nil, models.FormatError("decode events", err)
	}

	events := make([]models.Event, 0, len(records))
	for i, r := range records {
		e, err := r.Event()
		if err != nil {
			return nil, fmt.Errorf("event %d: %w", i, err)
		}
		events = append(events, e)
	}
	return events, nil
}

// eventsURL builds the query for the window [now, now+days].
func (c *Client) eventsURL(maxCount, days int) (string, error) {
	u, err := url.Parse(c.endpoint)
	if err != nil {
		return "", models.FormatError("parse events endpoint", err)
	}
	start := c.now()
	finish := start.Add(time.Duration(days) * 24 * time.Hour)

	q := u.Query()
	q.Set("limit", strconv.Itoa(maxCount))
	q.Set("start", strconv.FormatInt(start.Unix(), 10))
	q.Set("finish", strconv.FormatInt(finish.Unix(), 10))
	u.RawQuery = q.Encode()
	return u.String(), nil
}
