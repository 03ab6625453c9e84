// Package google implements the calendar gateway against the Google
// Calendar API. The service handle is initialized lazily on first use; a
// failed initialization is cached and reported as unavailable until Reset is
// called, so one misconfiguration does not turn every operation into a retry
// storm.
package google

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"google.golang.org/api/calendar/v3"
	"google.golang.org/api/option"

	"agendasync/internal/gateway"
)

// Client is a gateway.Gateway backed by the Google Calendar API.
type Client struct {
	logger       *slog.Logger
	clientID     string
	clientSecret string
	tokenFile    string
	calendarID   string

	mu      sync.Mutex
	service *calendar.Service
	initErr error
}

// NewClient builds a lazily-initialized Google Calendar gateway. No network
// or credential access happens until the first operation. calendarID is
// usually "primary".
func NewClient(logger *slog.Logger, clientID, clientSecret, tokenFile, calendarID string) *Client {
	if tokenFile == "" {
		tokenFile = defaultTokenFile
	}
	if calendarID == "" {
		calendarID = "primary"
	}
	return &Client{
		logger:       logger,
		clientID:     clientID,
		clientSecret: clientSecret,
		tokenFile:    tokenFile,
		calendarID:   calendarID,
	}
}

// ensureService returns the calendar service, initializing it on first use.
// Returns nil while the cached initialization error is set.
func (c *Client) ensureService() *calendar.Service {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.service != nil {
		return c.service
	}
	if c.initErr != nil {
		return nil
	}

	config, err := getOAuthConfig(c.clientID, c.clientSecret)
	if err != nil {
		c.initErr = err
		c.logger.Warn("Google Calendar is not configured, operating local-only.", "error", err)
		return nil
	}

	token, err := tokenFromFile(c.tokenFile)
	if err != nil {
		c.initErr = fmt.Errorf("could not load token from %s: %w. Run the 'auth' command first", c.tokenFile, err)
		c.logger.Warn("Google Calendar token missing, operating local-only.", "error", c.initErr)
		return nil
	}

	// The service outlives any single call, so it is built on the background
	// context; per-operation deadlines are attached to each request instead.
	httpClient := config.Client(context.Background(), token)
	service, err := calendar.NewService(context.Background(), option.WithHTTPClient(httpClient))
	if err != nil {
		c.initErr = fmt.Errorf("failed to create calendar service: %w", err)
		c.logger.Warn("Google Calendar service init failed, operating local-only.", "error", c.initErr)
		return nil
	}

	c.service = service
	return c.service
}

// Reset clears the cached service and initialization error so the next
// operation retries connectivity from scratch.
func (c *Client) Reset() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.service = nil
	c.initErr = nil
	c.logger.Info("Google Calendar connection state reset.")
}

// CreateEvent inserts a new event into the calendar.
func (c *Client) CreateEvent(ctx context.Context, payload gateway.EventPayload) gateway.Outcome {
	service := c.ensureService()
	if service == nil {
		return gateway.Unavailable()
	}

	created, err := service.Events.Insert(c.calendarID, eventBody(payload)).Context(ctx).Do()
	if err != nil {
		return gateway.Errored(fmt.Errorf("failed to create event in Google Calendar: %w", err))
	}
	c.logger.Info("Created event in Google Calendar.", "event_id", created.Id, "summary", created.Summary)
	return outcomeFrom(created)
}

// UpdateEvent applies a partial update using fetch-merge-write: the current
// remote event is read, the given fields are merged in, and the result is
// written back.
func (c *Client) UpdateEvent(ctx context.Context, eventID string, updates map[string]any) gateway.Outcome {
	service := c.ensureService()
	if service == nil {
		return gateway.Unavailable()
	}

	event, err := service.Events.Get(c.calendarID, eventID).Context(ctx).Do()
	if err != nil {
		return gateway.Errored(fmt.Errorf("failed to fetch event %s from Google Calendar: %w", eventID, err))
	}

	mergeUpdates(event, updates)

	updated, err := service.Events.Update(c.calendarID, eventID, event).Context(ctx).Do()
	if err != nil {
		return gateway.Errored(fmt.Errorf("failed to update event %s in Google Calendar: %w", eventID, err))
	}
	c.logger.Info("Updated event in Google Calendar.", "event_id", eventID)
	return outcomeFrom(updated)
}

// DeleteEvent removes an event from the calendar.
func (c *Client) DeleteEvent(ctx context.Context, eventID string) gateway.Outcome {
	service := c.ensureService()
	if service == nil {
		return gateway.Unavailable()
	}

	if err := service.Events.Delete(c.calendarID, eventID).Context(ctx).Do(); err != nil {
		return gateway.Errored(fmt.Errorf("failed to delete event %s from Google Calendar: %w", eventID, err))
	}
	c.logger.Info("Deleted event from Google Calendar.", "event_id", eventID)
	return gateway.Outcome{State: gateway.StateOK, EventID: eventID}
}

// GetEvent fetches a single event by id.
func (c *Client) GetEvent(ctx context.Context, eventID string) gateway.Outcome {
	service := c.ensureService()
	if service == nil {
		return gateway.Unavailable()
	}

	event, err := service.Events.Get(c.calendarID, eventID).Context(ctx).Do()
	if err != nil {
		return gateway.Errored(fmt.Errorf("failed to fetch event %s from Google Calendar: %w", eventID, err))
	}
	return outcomeFrom(event)
}

// eventBody converts the neutral payload to the Google event shape.
func eventBody(payload gateway.EventPayload) *calendar.Event {
	event := &calendar.Event{
		Summary:     payload.Summary,
		Description: payload.Description,
		Start:       &calendar.EventDateTime{DateTime: payload.StartISO, TimeZone: payload.TimeZone},
		End:         &calendar.EventDateTime{DateTime: payload.EndISO, TimeZone: payload.TimeZone},
	}
	for _, email := range payload.Attendees {
		event.Attendees = append(event.Attendees, &calendar.EventAttendee{Email: email})
	}
	return event
}

// mergeUpdates applies the engine's partial-update keys onto a fetched
// Google event. Unknown keys are ignored; the engine owns the key set.
func mergeUpdates(event *calendar.Event, updates map[string]any) {
	if v, ok := updates["summary"].(string); ok {
		event.Summary = v
	}
	if v, ok := updates["description"].(string); ok {
		event.Description = v
	}
	if v, ok := updates["start_iso"].(string); ok {
		if event.Start == nil {
			event.Start = &calendar.EventDateTime{}
		}
		event.Start.DateTime = v
	}
	if v, ok := updates["end_iso"].(string); ok {
		if event.End == nil {
			event.End = &calendar.EventDateTime{}
		}
		event.End.DateTime = v
	}
}

// outcomeFrom converts a Google event to a success outcome.
func outcomeFrom(event *calendar.Event) gateway.Outcome {
	o := gateway.Outcome{State: gateway.StateOK, EventID: event.Id, Summary: event.Summary}
	if event.Start != nil {
		o.StartISO = event.Start.DateTime
	}
	if event.End != nil {
		o.EndISO = event.End.DateTime
	}
	return o
}
