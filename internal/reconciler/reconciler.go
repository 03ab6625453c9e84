// Package reconciler is the event reconciliation engine. It keeps the Local
// Record Store and the external calendar consistent: every event the user
// creates is durably recorded locally even when the calendar is unreachable,
// and local-only events can later be promoted into the calendar without
// duplication. The engine owns the event-identifier namespace: external ids
// come from the gateway, local ids carry the "local_" prefix and are never
// sent to the external service.
package reconciler

import (
	"context"
	"encoding/hex"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"agendasync/internal/clients"
	"agendasync/internal/gateway"
	"agendasync/internal/models"
	"agendasync/internal/store"
)

// Sync statuses surfaced to callers. These are part of the tool contract;
// the orchestration layer renders each into a specific human message.
const (
	StatusSynced              = "synced"
	StatusLocalOnly           = "supabase_only"
	StatusCalendarUnavailable = "calendar_unavailable"
	StatusCalendarError       = "calendar_error"
	StatusCalendarTimeout     = "calendar_timeout"
	StatusLocalEventSkipped   = "local_event_skipped"
	StatusDeleted             = "deleted"
)

// Per-event backfill outcomes.
const (
	BackfillAlreadySynced = "already_synced"
	BackfillSynced        = "synced_successfully"
	BackfillFailed        = "sync_failed"
)

// External calls are time-bounded so an unreachable calendar degrades the
// operation instead of hanging the interactive flow.
const (
	writeTimeout  = 10 * time.Second
	deleteTimeout = 5 * time.Second
)

// DefaultTimezone is used when the caller configures none.
const DefaultTimezone = "America/Mexico_City"

// updatableColumns is the set of event fields a partial update may touch.
// event_id is deliberately absent: the join key is rewritten only by
// BackfillSync.
var updatableColumns = map[string]bool{
	"summary":      true,
	"description":  true,
	"start_iso":    true,
	"end_iso":      true,
	"company_name": true,
	"person_name":  true,
	"client_id":    true,
}

// Engine orchestrates creation, update, deletion and backfill of events
// across the local store and the external calendar gateway.
type Engine struct {
	logger     *slog.Logger
	store      *store.Store
	resolver   *clients.Resolver
	gw         gateway.Gateway
	tz         *time.Location
	calendarID string
}

// NewEngine wires the engine. calendarID labels rows mirrored in the
// external service ("primary" for Google); local-only rows are always
// labeled "local".
func NewEngine(logger *slog.Logger, s *store.Store, r *clients.Resolver, gw gateway.Gateway, tz *time.Location, calendarID string) *Engine {
	if tz == nil {
		tz, _ = time.LoadLocation(DefaultTimezone)
		if tz == nil {
			tz = time.UTC
		}
	}
	if calendarID == "" {
		calendarID = "primary"
	}
	return &Engine{logger: logger, store: s, resolver: r, gw: gw, tz: tz, calendarID: calendarID}
}

// EventData is the input to Create.
type EventData struct {
	Summary     string
	Description string
	StartISO    string
	EndISO      string
	CompanyName string
	PersonName  string
	Attendees   []string
}

// CreateResult reports where the new event ended up. Status is "synced" when
// the event is mirrored externally, "supabase_only" when it exists only in
// the local store; Detail carries the external failure message, if any.
type CreateResult struct {
	Status  string        `json:"status"`
	EventID string        `json:"event_id"`
	Detail  string        `json:"detail,omitempty"`
	Event   *models.Event `json:"event"`
}

// Create attempts external creation under a bounded timeout, falls back to a
// locally minted id when the calendar is unreachable, resolves the client,
// and upserts the record. The event is never lost, only degraded.
func (e *Engine) Create(ctx context.Context, data EventData) (*CreateResult, error) {
	startISO, err := e.normalizeISO(data.StartISO)
	if err != nil {
		return nil, err
	}
	endISO, err := e.normalizeISO(data.EndISO)
	if err != nil {
		return nil, err
	}

	result := &CreateResult{Status: StatusLocalOnly}

	wctx, cancel := context.WithTimeout(ctx, writeTimeout)
	outcome := e.gw.CreateEvent(wctx, gateway.EventPayload{
		Summary:     data.Summary,
		Description: data.Description,
		StartISO:    startISO,
		EndISO:      endISO,
		Attendees:   data.Attendees,
		TimeZone:    e.tz.String(),
	})
	cancel()

	switch {
	case outcome.OK():
		result.Status = StatusSynced
		result.EventID = outcome.EventID
	case outcome.State == gateway.StateError:
		e.logger.Warn("External calendar creation failed, keeping event local-only.", "error", outcome.Err)
		result.Detail = outcome.Err.Error()
	default:
		e.logger.Debug("External calendar unavailable, keeping event local-only.")
	}

	if result.EventID == "" {
		result.EventID = newLocalID()
	}

	clientID, err := e.resolver.ResolveOrCreate(ctx, data.CompanyName, data.PersonName, true)
	if err != nil {
		return nil, err
	}

	event := &models.Event{
		EventID:     result.EventID,
		Summary:     data.Summary,
		Description: data.Description,
		StartISO:    startISO,
		EndISO:      endISO,
		CompanyName: data.CompanyName,
		PersonName:  data.PersonName,
		ClientID:    clientID,
		Source:      result.Status,
		CalendarID:  e.calendarLabel(result.EventID),
		Timezone:    e.tz.String(),
		Status:      "confirmed",
	}
	if err := e.store.UpsertEvent(ctx, event); err != nil {
		return nil, err
	}

	result.Event = event
	e.logger.Info("Event created.", "event_id", result.EventID, "status", result.Status)
	return result, nil
}

// UpdateResult reports the outcome of a partial update. Status describes the
// external leg; the local write either succeeded or the whole call errored.
type UpdateResult struct {
	Status  string        `json:"status"`
	EventID string        `json:"event_id"`
	Detail  string        `json:"detail,omitempty"`
	Event   *models.Event `json:"event,omitempty"`
}

// Update applies a partial update to the event addressed by eventID, always
// by the textual id. When company/person change without an explicit
// client_id the client is re-resolved. Events mirrored externally get a
// fetch-merge-write update on the calendar first; its failure degrades the
// status but never blocks the local write.
func (e *Engine) Update(ctx context.Context, eventID string, updates map[string]any) (*UpdateResult, error) {
	if eventID == "" {
		return nil, fmt.Errorf("event_id is required")
	}

	fields := map[string]any{}
	for k, v := range updates {
		if updatableColumns[k] {
			fields[k] = v
		}
	}
	for _, key := range []string{"start_iso", "end_iso"} {
		if v, ok := fields[key].(string); ok {
			iso, err := e.normalizeISO(v)
			if err != nil {
				return nil, err
			}
			fields[key] = iso
		}
	}

	company, _ := fields["company_name"].(string)
	if company != "" {
		if _, explicit := fields["client_id"]; !explicit {
			person, _ := fields["person_name"].(string)
			clientID, err := e.resolver.ResolveOrCreate(ctx, company, person, true)
			if err != nil {
				return nil, err
			}
			if clientID != nil {
				fields["client_id"] = *clientID
			}
		}
	}

	result := &UpdateResult{Status: StatusLocalOnly, EventID: eventID}

	if !models.IsLocalID(eventID) {
		wctx, cancel := context.WithTimeout(ctx, writeTimeout)
		outcome := e.gw.UpdateEvent(wctx, eventID, fields)
		cancel()

		switch {
		case outcome.OK():
			result.Status = StatusSynced
		case outcome.State == gateway.StateUnavailable:
			result.Status = StatusCalendarUnavailable
		case outcome.Timeout():
			result.Status = StatusCalendarTimeout
			result.Detail = outcome.Err.Error()
		default:
			result.Status = StatusCalendarError
			result.Detail = outcome.Err.Error()
		}
		if !outcome.OK() {
			e.logger.Warn("External calendar update failed, applying local update only.",
				"event_id", eventID, "status", result.Status)
		}
	}

	rows, err := e.store.UpdateEventFields(ctx, eventID, fields)
	if err != nil {
		return nil, err
	}
	if rows == 0 {
		return nil, fmt.Errorf("event %s: %w", eventID, store.ErrNotFound)
	}

	if event, err := e.store.GetEvent(ctx, eventID); err == nil {
		result.Event = event
	}
	e.logger.Info("Event updated.", "event_id", eventID, "status", result.Status)
	return result, nil
}

// DeleteResult reports the outcome of a delete. Removed counts local rows
// deleted; Status describes the external leg.
type DeleteResult struct {
	Status  string `json:"status"`
	EventID string `json:"event_id"`
	Removed int64  `json:"removed"`
	Detail  string `json:"detail,omitempty"`
}

// Delete removes the local record unconditionally. Locally minted ids are
// never sent to the external service; for mirrored events the external
// delete runs under a short timeout and its failure is reported, not fatal.
func (e *Engine) Delete(ctx context.Context, eventID string) (*DeleteResult, error) {
	if eventID == "" {
		return nil, fmt.Errorf("event_id is required")
	}

	result := &DeleteResult{EventID: eventID}

	if models.IsLocalID(eventID) {
		result.Status = StatusLocalEventSkipped
	} else {
		dctx, cancel := context.WithTimeout(ctx, deleteTimeout)
		outcome := e.gw.DeleteEvent(dctx, eventID)
		cancel()

		switch {
		case outcome.OK():
			result.Status = StatusDeleted
		case outcome.State == gateway.StateUnavailable:
			result.Status = StatusCalendarUnavailable
		case outcome.Timeout():
			result.Status = StatusCalendarTimeout
			result.Detail = outcome.Err.Error()
		default:
			result.Status = StatusCalendarError
			result.Detail = outcome.Err.Error()
		}
	}

	removed, err := e.store.DeleteEvent(ctx, eventID)
	if err != nil {
		return nil, err
	}
	result.Removed = removed

	e.logger.Info("Event deleted.", "event_id", eventID, "status", result.Status, "removed", removed)
	return result, nil
}

// BackfillItem is the per-event outcome of a backfill pass.
type BackfillItem struct {
	Event      string `json:"event"`
	Status     string `json:"status"`
	EventID    string `json:"event_id,omitempty"`
	OldEventID string `json:"old_event_id,omitempty"`
	NewEventID string `json:"new_event_id,omitempty"`
	Error      string `json:"error,omitempty"`
}

// BackfillResult aggregates a backfill pass.
type BackfillResult struct {
	Status      string         `json:"status"`
	TotalEvents int            `json:"total_events"`
	SyncedCount int            `json:"synced_count"`
	Error       string         `json:"error,omitempty"`
	Results     []BackfillItem `json:"results"`
}

// BackfillSync promotes every local-only event into the external calendar:
// each gets created remotely under a bounded timeout and, on success, its
// row is rewritten to the external id and "synced" status. Already-mirrored
// events are skipped, which makes repeated runs idempotent. When the
// calendar is unavailable the pass aborts without touching any row.
func (e *Engine) BackfillSync(ctx context.Context) (*BackfillResult, error) {
	events, err := e.store.ListEvents(ctx, store.EventFilter{})
	if err != nil {
		return nil, err
	}

	result := &BackfillResult{Status: "ok", TotalEvents: len(events)}
	for _, ev := range events {
		if !ev.IsLocal() {
			result.Results = append(result.Results, BackfillItem{
				Event:   ev.Summary,
				Status:  BackfillAlreadySynced,
				EventID: ev.EventID,
			})
			continue
		}

		wctx, cancel := context.WithTimeout(ctx, writeTimeout)
		outcome := e.gw.CreateEvent(wctx, gateway.EventPayload{
			Summary:     ev.Summary,
			Description: ev.Description,
			StartISO:    ev.StartISO,
			EndISO:      ev.EndISO,
			TimeZone:    e.tz.String(),
		})
		cancel()

		if outcome.State == gateway.StateUnavailable {
			result.Status = "failed"
			result.Error = "external calendar is unavailable for sync"
			e.logger.Warn("Backfill aborted, external calendar unavailable.")
			return result, nil
		}

		if !outcome.OK() {
			result.Results = append(result.Results, BackfillItem{
				Event:   ev.Summary,
				Status:  BackfillFailed,
				EventID: ev.EventID,
				Error:   outcome.Err.Error(),
			})
			e.logger.Warn("Backfill of event failed.", "event_id", ev.EventID, "error", outcome.Err)
			continue
		}

		_, err := e.store.UpdateEventFields(ctx, ev.EventID, map[string]any{
			"event_id":    outcome.EventID,
			"source":      StatusSynced,
			"calendar_id": e.calendarID,
		})
		if err != nil {
			return nil, err
		}

		result.Results = append(result.Results, BackfillItem{
			Event:      ev.Summary,
			Status:     BackfillSynced,
			OldEventID: ev.EventID,
			NewEventID: outcome.EventID,
		})
		result.SyncedCount++
		e.logger.Info("Promoted local event to external calendar.",
			"old_event_id", ev.EventID, "new_event_id", outcome.EventID)
	}

	e.logger.Info("Backfill finished.", "total", result.TotalEvents, "synced", result.SyncedCount)
	return result, nil
}

// ResetConnection clears the gateway's cached unavailable state so the next
// operation retries external connectivity from scratch. No event is mutated.
func (e *Engine) ResetConnection() {
	e.gw.Reset()
}

// calendarLabel returns the calendar_id column value for an event id.
func (e *Engine) calendarLabel(eventID string) string {
	if models.IsLocalID(eventID) {
		return "local"
	}
	return e.calendarID
}

// normalizeISO validates an ISO-8601 timestamp and renders it in the
// engine's primary timezone.
func (e *Engine) normalizeISO(iso string) (string, error) {
	t, err := time.Parse(time.RFC3339, iso)
	if err != nil {
		return "", fmt.Errorf("invalid ISO-8601 timestamp %q: %w", iso, err)
	}
	return t.In(e.tz).Format(time.RFC3339), nil
}

// newLocalID mints a local event identifier: the prefix plus 12 random hex
// characters.
func newLocalID() string {
	id := uuid.New()
	return models.LocalIDPrefix + hex.EncodeToString(id[:])[:12]
}
