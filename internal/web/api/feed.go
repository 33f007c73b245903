package api

import (
	"time"

	"go.uber.org/zap"

	"github.com/conduit-lang/strata/internal/orm/hooks"
	"github.com/conduit-lang/strata/internal/orm/record"
	"github.com/conduit-lang/strata/internal/web/websocket"
)

// publishChanges registers store hooks that publish every create, update
// and delete to the feed hub
func (a *API) publishChanges() {
	h := a.store.Hooks()
	h.On(hooks.AfterCreate, "", a.publisher(websocket.EventCreated))
	h.On(hooks.AfterUpdate, "", a.publisher(websocket.EventUpdated))
	h.On(hooks.AfterDelete, "", a.publisher(websocket.EventDeleted))
}

// publisher builds a hook publishing events of eventType. Records are sent
// in foreign mode unless the API is configured with a narrower one.
// Serialization failures are logged and never fail the write.
func (a *API) publisher(eventType string) hooks.HookFunc {
	return func(ctx *hooks.Context, rec *record.Record) error {
		event := &websocket.Event{
			Type:  eventType,
			Model: rec.Model(),
			ID:    rec.ID(),
			Actor: ctx.Actor(),
			Time:  time.Now().UTC(),
		}
		if changes := ctx.Changes(); changes != nil {
			event.Fields = changes.ChangedFields()
		}

		mode := record.ModeForeign
		if a.mode == record.ModeCondensed || a.mode == record.ModeHiddenForeign {
			mode = a.mode
		}
		doc, err := record.Export(rec, mode)
		if err != nil {
			a.logger.Warn("failed to serialize feed event",
				zap.String("type", eventType),
				zap.String("model", rec.Model()),
				zap.Int64("id", rec.ID()),
				zap.Error(err))
		} else {
			event.Record = doc
		}

		a.hub.Publish(event)
		feedEvents.WithLabelValues(eventType).Inc()
		return nil
	}
}
