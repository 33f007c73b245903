package api

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/conduit-lang/strata/internal/orm/record"
	"github.com/conduit-lang/strata/internal/orm/schema"
	"github.com/conduit-lang/strata/internal/orm/store"
	"github.com/conduit-lang/strata/internal/web/response"
)

// LockView describes a held field lock
type LockView struct {
	Field   string     `json:"field"`
	Actor   string     `json:"actor"`
	Created *time.Time `json:"created,omitempty"`
}

// owner loads the identity of the record named by the route
func (a *API) owner(r *http.Request) (*record.Record, error) {
	id, err := recordID(r)
	if err != nil {
		return nil, err
	}
	return a.store.Get(r.Context(), chi.URLParam(r, "model"), id, schema.FieldObjectID)
}

func (a *API) listLocks(w http.ResponseWriter, r *http.Request) {
	rec, err := a.owner(r)
	if err != nil {
		response.RenderStoreError(w, err)
		return
	}
	held, err := a.store.Locks().ListLocks(r.Context(), rec)
	if err != nil {
		response.RenderStoreError(w, err)
		return
	}
	views := make([]LockView, 0, len(held))
	for _, l := range held {
		v := LockView{Field: l.Field, Actor: l.Actor}
		if !l.Created.IsZero() {
			created := l.Created
			v.Created = &created
		}
		views = append(views, v)
	}
	response.JSON(w, http.StatusOK, views)
}

// lockField acquires the lock for the request actor. A lock held by
// another actor is reported as 423 Locked.
func (a *API) lockField(w http.ResponseWriter, r *http.Request) {
	rec, err := a.owner(r)
	if err != nil {
		response.RenderStoreError(w, err)
		return
	}
	field, actor := chi.URLParam(r, "field"), store.ActorFrom(r.Context())
	locks := a.store.Locks()

	ok, err := locks.Lock(r.Context(), actor, rec, field)
	if err != nil {
		response.RenderStoreError(w, err)
		return
	}
	if !ok {
		holder, err := locks.LockedBy(r.Context(), rec, field)
		if err != nil {
			response.RenderStoreError(w, err)
			return
		}
		response.RenderStoreError(w, &store.FieldLockedError{Model: rec.Model(), ID: rec.ID(), Field: field, Actor: holder})
		return
	}
	response.JSON(w, http.StatusOK, LockView{Field: field, Actor: actor})
}

func (a *API) unlockField(w http.ResponseWriter, r *http.Request) {
	rec, err := a.owner(r)
	if err != nil {
		response.RenderStoreError(w, err)
		return
	}
	field := chi.URLParam(r, "field")
	ok, err := a.store.Locks().Unlock(r.Context(), store.ActorFrom(r.Context()), rec, field)
	if err != nil {
		response.RenderStoreError(w, err)
		return
	}
	if !ok {
		response.RenderConflict(w, "field is not locked by the requesting actor")
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
