// Package calendar mirrors announced CTFs into a CalDAV calendar.
package calendar

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"path"
	"strings"
	"time"

	"github.com/emersion/go-webdav"
	"github.com/emersion/go-webdav/caldav"

	"ctfhooks/internal/ics"
	"ctfhooks/internal/models"
)

// DefaultEndpoint is iCloud's CalDAV server.
const DefaultEndpoint = "https://caldav.icloud.com/"

// CalDAVClient publishes events to one calendar on a CalDAV server.
type CalDAVClient struct {
	caldavClient *caldav.Client
	logger       *slog.Logger
	calendarPath string
	now          func() time.Time
}

// NewCalDAVClient connects to endpoint and looks up the calendar called calendarName.
func NewCalDAVClient(ctx context.Context, logger *slog.Logger, httpClient *http.Client, endpoint, username, password, calendarName string) (*CalDAVClient, error) {
	if endpoint == "" {
		endpoint = DefaultEndpoint
	}
	authClient := webdav.HTTPClientWithBasicAuth(httpClient, username, password)

	caldavClient, err := caldav.NewClient(authClient, endpoint)
	if err != nil {
		return nil, fmt.Errorf("failed to create caldav client: %w", err)
	}

	c := &CalDAVClient{
		caldavClient: caldavClient,
		logger:       logger,
		now:          time.Now,
	}

	logger.Info("Finding CalDAV calendar", "calendarName", calendarName)
	calendarPath, err := c.findCalendar(ctx, calendarName)
	if err != nil {
		return nil, models.NetworkError(fmt.Sprintf("find calendar %q", calendarName), err)
	}
	c.calendarPath = calendarPath
	logger.Info("Successfully found CalDAV calendar", "path", calendarPath)

	return c, nil
}

func (c *CalDAVClient) Name() string { return "caldav" }

// Publish creates or replaces one calendar object per event. Objects are
// named after the event UID, so publishing the same CTF twice overwrites it.
func (c *CalDAVClient) Publish(ctx context.Context, events []models.Event) error {
	var errs []error
	stamp := c.now()
	for _, e := range events {
		cal := ics.Calendar([]models.Event{e}, stamp)
		objectPath := ObjectPath(c.calendarPath, e)
		if _, err := c.caldavClient.PutCalendarObject(ctx, objectPath, cal); err != nil {
			c.logger.Error("Failed to publish event to calendar", "title", e.Name, "error", err)
			errs = append(errs, models.NetworkError("put calendar object "+objectPath, err))
			continue
		}
		c.logger.Debug("Published event to calendar", "title", e.Name, "path", objectPath)
	}
	return errors.Join(errs...)
}

// ObjectPath is where e lives inside the calendar collection.
func ObjectPath(calendarPath string, e models.Event) string {
	return path.Join("/", calendarPath, ics.UID(e)+".ics")
}

// findCalendar discovers the user's calendars and returns the path of the one with the matching name.
func (c *CalDAVClient) findCalendar(ctx context.Context, name string) (string, error) {
	principalPath, err := c.caldavClient.FindCurrentUserPrincipal(ctx)
	if err != nil {
		return "", fmt.Errorf("failed to find principal path: %w", err)
	}

	homeSetPath, err := c.caldavClient.FindCalendarHomeSet(ctx, principalPath)
	if err != nil {
		return "", fmt.Errorf("failed to find calendar home set: %w", err)
	}

	calendars, err := c.caldavClient.FindCalendars(ctx, homeSetPath)
	if err != nil {
		return "", fmt.Errorf("failed to find calendars: %w", err)
	}

	for _, cal := range calendars {
		if strings.EqualFold(cal.Name, name) {
			return cal.Path, nil
		}
	}

	return "", fmt.Errorf("no calendar found with name '%s'", name)
}
