package tools

import (
	"context"
	"encoding/json"

	"agendasync/internal/models"
	"agendasync/internal/reconciler"
	"agendasync/internal/store"
)

type createEventArgs struct {
	Summary     string   `json:"summary" validate:"required"`
	Description string   `json:"description"`
	StartISO    string   `json:"start_iso" validate:"required,datetime=2006-01-02T15:04:05Z07:00"`
	EndISO      string   `json:"end_iso" validate:"required,datetime=2006-01-02T15:04:05Z07:00"`
	CompanyName string   `json:"company_name"`
	PersonName  string   `json:"person_name"`
	Attendees   []string `json:"attendees" validate:"omitempty,dive,email"`
}

type updateEventArgs struct {
	EventID string         `json:"event_id" validate:"required"`
	Updates map[string]any `json:"updates" validate:"required"`
}

type deleteEventArgs struct {
	EventID string `json:"event_id" validate:"required"`
}

type listEventsArgs struct {
	EventID     string `json:"event_id"`
	Summary     string `json:"summary"`
	CompanyName string `json:"company_name"`
	PersonName  string `json:"person_name"`
	ClientID    *int64 `json:"client_id"`
	TimeMin     string `json:"time_min" validate:"omitempty,datetime=2006-01-02T15:04:05Z07:00"`
	TimeMax     string `json:"time_max" validate:"omitempty,datetime=2006-01-02T15:04:05Z07:00"`
}

type listEventsResult struct {
	Status string         `json:"status"`
	Detail []models.Event `json:"detail"`
}

type statusResult struct {
	Status string `json:"status"`
	Detail string `json:"detail,omitempty"`
}

// RegisterCalendarTools wires the reconciliation engine's operations and the
// local event listing into the registry.
func RegisterCalendarTools(r *Registry, engine *reconciler.Engine, s *store.Store) {
	r.Register("create_event",
		"Create a calendar event, mirror it to the external calendar and record it locally.",
		func(ctx context.Context, raw json.RawMessage) (any, error) {
			args, err := decode[createEventArgs](r, raw)
			if err != nil {
				return nil, err
			}
			return engine.Create(ctx, reconciler.EventData{
				Summary:     args.Summary,
				Description: args.Description,
				StartISO:    args.StartISO,
				EndISO:      args.EndISO,
				CompanyName: args.CompanyName,
				PersonName:  args.PersonName,
				Attendees:   args.Attendees,
			})
		})

	r.Register("update_event",
		"Update fields of an event addressed by its textual event_id, in both stores.",
		func(ctx context.Context, raw json.RawMessage) (any, error) {
			args, err := decode[updateEventArgs](r, raw)
			if err != nil {
				return nil, err
			}
			return engine.Update(ctx, args.EventID, args.Updates)
		})

	r.Register("delete_event",
		"Delete an event by its textual event_id from the local store and, when mirrored, the external calendar.",
		func(ctx context.Context, raw json.RawMessage) (any, error) {
			args, err := decode[deleteEventArgs](r, raw)
			if err != nil {
				return nil, err
			}
			return engine.Delete(ctx, args.EventID)
		})

	r.Register("list_events",
		"List locally stored events with flexible filters (partial name matching, time range).",
		func(ctx context.Context, raw json.RawMessage) (any, error) {
			args, err := decode[listEventsArgs](r, raw)
			if err != nil {
				return nil, err
			}
			events, err := s.ListEvents(ctx, store.EventFilter{
				EventID:     args.EventID,
				Summary:     args.Summary,
				CompanyName: args.CompanyName,
				PersonName:  args.PersonName,
				ClientID:    args.ClientID,
				TimeMin:     args.TimeMin,
				TimeMax:     args.TimeMax,
			})
			if err != nil {
				return nil, err
			}
			return listEventsResult{Status: "ok", Detail: events}, nil
		})

	r.Register("sync_local_events",
		"Promote local-only events into the external calendar and rewrite their ids.",
		func(ctx context.Context, _ json.RawMessage) (any, error) {
			return engine.BackfillSync(ctx)
		})

	r.Register("reset_connection",
		"Clear the cached external-calendar failure state so the next operation retries connectivity.",
		func(ctx context.Context, _ json.RawMessage) (any, error) {
			engine.ResetConnection()
			return statusResult{Status: "ok", Detail: "external calendar connection state reset"}, nil
		})
}
