// Package caldav implements the calendar gateway against a CalDAV server
// (iCloud by default). Events are stored as one .ics object per event; the
// iCalendar UID doubles as the external event identifier, so ids minted here
// never carry the local prefix. Like the Google backend, a failed
// initialization is cached and reported as unavailable until Reset.
package caldav

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"path"
	"sync"
	"time"

	"github.com/emersion/go-ical"
	"github.com/emersion/go-webdav/caldav"
	"github.com/google/uuid"

	"agendasync/internal/gateway"
)

const defaultEndpoint = "https://caldav.icloud.com/"

// customTransport handles adding Basic Auth and custom headers to requests.
type customTransport struct {
	Username  string
	Password  string
	Transport http.RoundTripper
}

// RoundTrip adds required headers and authentication to each request.
func (t *customTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	req.SetBasicAuth(t.Username, t.Password)
	req.Header.Set("User-Agent", "agendasync/1.0")
	return t.Transport.RoundTrip(req)
}

// Client is a gateway.Gateway backed by a CalDAV collection.
type Client struct {
	logger       *slog.Logger
	endpoint     string
	username     string
	password     string
	calendarName string

	mu           sync.Mutex
	client       *caldav.Client
	calendarPath string
	initErr      error
}

// NewClient builds a lazily-initialized CalDAV gateway. Discovery of the
// named calendar happens on first use.
func NewClient(logger *slog.Logger, endpoint, username, password, calendarName string) *Client {
	if endpoint == "" {
		endpoint = defaultEndpoint
	}
	return &Client{
		logger:       logger,
		endpoint:     endpoint,
		username:     username,
		password:     password,
		calendarName: calendarName,
	}
}

// ensureClient initializes the CalDAV client and discovers the calendar
// collection on first use. Returns ok=false while unavailable.
func (c *Client) ensureClient(ctx context.Context) (*caldav.Client, string, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.client != nil {
		return c.client, c.calendarPath, true
	}
	if c.initErr != nil {
		return nil, "", false
	}
	if c.username == "" || c.password == "" {
		c.initErr = fmt.Errorf("caldav credentials not configured")
		c.logger.Warn("CalDAV is not configured, operating local-only.")
		return nil, "", false
	}

	httpClient := &http.Client{Transport: &customTransport{
		Username:  c.username,
		Password:  c.password,
		Transport: http.DefaultTransport,
	}}

	client, err := caldav.NewClient(httpClient, c.endpoint)
	if err != nil {
		c.initErr = fmt.Errorf("failed to create caldav client: %w", err)
		c.logger.Warn("CalDAV client init failed, operating local-only.", "error", c.initErr)
		return nil, "", false
	}

	calendarPath, err := findCalendar(ctx, client, c.calendarName)
	if err != nil {
		c.initErr = err
		c.logger.Warn("CalDAV calendar discovery failed, operating local-only.", "error", err)
		return nil, "", false
	}

	c.client = client
	c.calendarPath = calendarPath
	c.logger.Info("Found CalDAV calendar.", "path", calendarPath)
	return c.client, c.calendarPath, true
}

// Reset clears the cached client and initialization error so the next
// operation retries discovery from scratch.
func (c *Client) Reset() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.client = nil
	c.calendarPath = ""
	c.initErr = nil
	c.logger.Info("CalDAV connection state reset.")
}

// CreateEvent writes a new .ics object with a freshly minted UID.
func (c *Client) CreateEvent(ctx context.Context, payload gateway.EventPayload) gateway.Outcome {
	client, calendarPath, ok := c.ensureClient(ctx)
	if !ok {
		return gateway.Unavailable()
	}

	uid := GenerateUID()
	cal, err := buildCalendar(uid, payload)
	if err != nil {
		return gateway.Errored(err)
	}

	if _, err := client.PutCalendarObject(ctx, objectPath(calendarPath, uid), cal); err != nil {
		return gateway.Errored(fmt.Errorf("failed to create event on CalDAV server: %w", err))
	}
	c.logger.Info("Created event on CalDAV server.", "uid", uid, "summary", payload.Summary)
	return gateway.Outcome{
		State:    gateway.StateOK,
		EventID:  uid,
		Summary:  payload.Summary,
		StartISO: payload.StartISO,
		EndISO:   payload.EndISO,
	}
}

// UpdateEvent fetches the object, merges the given fields into its VEVENT
// and writes it back.
func (c *Client) UpdateEvent(ctx context.Context, eventID string, updates map[string]any) gateway.Outcome {
	client, calendarPath, ok := c.ensureClient(ctx)
	if !ok {
		return gateway.Unavailable()
	}

	objPath := objectPath(calendarPath, eventID)
	obj, err := client.GetCalendarObject(ctx, objPath)
	if err != nil {
		return gateway.Errored(fmt.Errorf("failed to fetch event %s from CalDAV server: %w", eventID, err))
	}

	vevent := findEvent(obj.Data)
	if vevent == nil {
		return gateway.Errored(fmt.Errorf("calendar object %s has no VEVENT", eventID))
	}
	if err := mergeUpdates(vevent, updates); err != nil {
		return gateway.Errored(err)
	}
	vevent.Props.SetDateTime(ical.PropDateTimeStamp, time.Now().UTC())

	if _, err := client.PutCalendarObject(ctx, objPath, obj.Data); err != nil {
		return gateway.Errored(fmt.Errorf("failed to update event %s on CalDAV server: %w", eventID, err))
	}
	c.logger.Info("Updated event on CalDAV server.", "uid", eventID)
	return outcomeFrom(eventID, vevent)
}

// DeleteEvent removes the .ics object.
func (c *Client) DeleteEvent(ctx context.Context, eventID string) gateway.Outcome {
	client, calendarPath, ok := c.ensureClient(ctx)
	if !ok {
		return gateway.Unavailable()
	}

	if err := client.RemoveAll(ctx, objectPath(calendarPath, eventID)); err != nil {
		return gateway.Errored(fmt.Errorf("failed to delete event %s from CalDAV server: %w", eventID, err))
	}
	c.logger.Info("Deleted event from CalDAV server.", "uid", eventID)
	return gateway.Outcome{State: gateway.StateOK, EventID: eventID}
}

// GetEvent fetches a single event by UID.
func (c *Client) GetEvent(ctx context.Context, eventID string) gateway.Outcome {
	client, calendarPath, ok := c.ensureClient(ctx)
	if !ok {
		return gateway.Unavailable()
	}

	obj, err := client.GetCalendarObject(ctx, objectPath(calendarPath, eventID))
	if err != nil {
		return gateway.Errored(fmt.Errorf("failed to fetch event %s from CalDAV server: %w", eventID, err))
	}
	vevent := findEvent(obj.Data)
	if vevent == nil {
		return gateway.Errored(fmt.Errorf("calendar object %s has no VEVENT", eventID))
	}
	return outcomeFrom(eventID, vevent)
}

// findCalendar discovers the user's calendars and returns the path of the
// one with the matching name, or the first calendar when no name is given.
func findCalendar(ctx context.Context, client *caldav.Client, name string) (string, error) {
	principalPath, err := client.FindCurrentUserPrincipal(ctx)
	if err != nil {
		return "", fmt.Errorf("failed to find principal path: %w", err)
	}

	homeSetPath, err := client.FindCalendarHomeSet(ctx, principalPath)
	if err != nil {
		return "", fmt.Errorf("failed to find calendar home set: %w", err)
	}

	calendars, err := client.FindCalendars(ctx, homeSetPath)
	if err != nil {
		return "", fmt.Errorf("failed to find calendars: %w", err)
	}

	for _, cal := range calendars {
		if name == "" || cal.Name == name {
			return cal.Path, nil
		}
	}

	return "", fmt.Errorf("no calendar found with name '%s'", name)
}

func objectPath(calendarPath, uid string) string {
	return path.Join(calendarPath, uid+".ics")
}

// buildCalendar wraps a new VEVENT in a VCALENDAR ready to PUT.
func buildCalendar(uid string, payload gateway.EventPayload) (*ical.Calendar, error) {
	start, err := time.Parse(time.RFC3339, payload.StartISO)
	if err != nil {
		return nil, fmt.Errorf("invalid start time %q: %w", payload.StartISO, err)
	}
	end, err := time.Parse(time.RFC3339, payload.EndISO)
	if err != nil {
		return nil, fmt.Errorf("invalid end time %q: %w", payload.EndISO, err)
	}

	vevent := ical.NewComponent(ical.CompEvent)
	vevent.Props.SetText(ical.PropUID, uid)
	vevent.Props.SetText(ical.PropSummary, payload.Summary)
	vevent.Props.SetDateTime(ical.PropDateTimeStamp, time.Now().UTC())
	vevent.Props.SetDateTime(ical.PropDateTimeStart, start)
	vevent.Props.SetDateTime(ical.PropDateTimeEnd, end)
	if payload.Description != "" {
		vevent.Props.SetText(ical.PropDescription, payload.Description)
	}
	for _, attendee := range payload.Attendees {
		p := ical.NewProp(ical.PropAttendee)
		p.SetText(fmt.Sprintf("mailto:%s", attendee))
		vevent.Props.Add(p)
	}

	cal := ical.NewCalendar()
	cal.Props.SetText(ical.PropVersion, "2.0")
	cal.Props.SetText(ical.PropProductID, "-//agendasync//EN")
	cal.Children = append(cal.Children, vevent)
	return cal, nil
}

// mergeUpdates applies the engine's partial-update keys onto a VEVENT.
func mergeUpdates(vevent *ical.Component, updates map[string]any) error {
	if v, ok := updates["summary"].(string); ok {
		vevent.Props.SetText(ical.PropSummary, v)
	}
	if v, ok := updates["description"].(string); ok {
		vevent.Props.SetText(ical.PropDescription, v)
	}
	if v, ok := updates["start_iso"].(string); ok {
		start, err := time.Parse(time.RFC3339, v)
		if err != nil {
			return fmt.Errorf("invalid start time %q: %w", v, err)
		}
		vevent.Props.SetDateTime(ical.PropDateTimeStart, start)
	}
	if v, ok := updates["end_iso"].(string); ok {
		end, err := time.Parse(time.RFC3339, v)
		if err != nil {
			return fmt.Errorf("invalid end time %q: %w", v, err)
		}
		vevent.Props.SetDateTime(ical.PropDateTimeEnd, end)
	}
	return nil
}

// findEvent returns the first VEVENT component of a calendar object.
func findEvent(cal *ical.Calendar) *ical.Component {
	if cal == nil {
		return nil
	}
	for _, child := range cal.Children {
		if child.Name == ical.CompEvent {
			return child
		}
	}
	return nil
}

// outcomeFrom converts a VEVENT to a success outcome.
func outcomeFrom(uid string, vevent *ical.Component) gateway.Outcome {
	o := gateway.Outcome{State: gateway.StateOK, EventID: uid}
	if summary, err := vevent.Props.Text(ical.PropSummary); err == nil {
		o.Summary = summary
	}
	if start, err := vevent.Props.DateTime(ical.PropDateTimeStart, time.UTC); err == nil && !start.IsZero() {
		o.StartISO = start.Format(time.RFC3339)
	}
	if end, err := vevent.Props.DateTime(ical.PropDateTimeEnd, time.UTC); err == nil && !end.IsZero() {
		o.EndISO = end.Format(time.RFC3339)
	}
	return o
}

// GenerateUID creates a new unique identifier for an event.
func GenerateUID() string {
	return uuid.New().String()
}
