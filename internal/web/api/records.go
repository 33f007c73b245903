package api

import (
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/conduit-lang/strata/internal/orm/record"
	"github.com/conduit-lang/strata/internal/orm/schema"
	"github.com/conduit-lang/strata/internal/orm/store"
	webquery "github.com/conduit-lang/strata/internal/web/query"
	"github.com/conduit-lang/strata/internal/web/response"
)

// maxBodyBytes bounds request documents
const maxBodyBytes = 4 << 20

// recordID parses the {id} route parameter
func recordID(r *http.Request) (int64, error) {
	raw := chi.URLParam(r, "id")
	id, err := strconv.ParseInt(raw, 10, 64)
	if err != nil || id <= 0 {
		return 0, response.NewHTTPError(http.StatusBadRequest, fmt.Sprintf("invalid record id: %q", raw))
	}
	return id, nil
}

// modeFor returns the serialization mode named by ?mode, or the API default
func (a *API) modeFor(r *http.Request) (record.Mode, error) {
	raw := r.URL.Query().Get("mode")
	if raw == "" {
		return a.mode, nil
	}
	m, err := record.ParseMode(raw)
	if err != nil {
		return 0, response.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	return m, nil
}

// decodeFields reads a JSON object of field values. Numbers stay
// json.Number so long fields keep their precision.
func decodeFields(r *http.Request) (map[string]interface{}, error) {
	dec := json.NewDecoder(io.LimitReader(r.Body, maxBodyBytes))
	dec.UseNumber()
	var fields map[string]interface{}
	if err := dec.Decode(&fields); err != nil {
		return nil, response.NewHTTPError(http.StatusBadRequest, fmt.Sprintf("invalid JSON body: %v", err))
	}
	if fields == nil {
		return nil, response.NewHTTPError(http.StatusBadRequest, "body must be a JSON object")
	}
	return fields, nil
}

func (a *API) render(w http.ResponseWriter, r *http.Request, status int, rec *record.Record) {
	mode, err := a.modeFor(r)
	if err != nil {
		response.RenderStoreError(w, err)
		return
	}
	doc, err := record.Export(rec, mode)
	if err != nil {
		response.RenderStoreError(w, err)
		return
	}
	if r.Method == http.MethodGet && status == http.StatusOK {
		response.RawCached(w, r, doc)
		return
	}
	response.Raw(w, status, doc)
}

func (a *API) searchRecords(w http.ResponseWriter, r *http.Request) {
	mode, err := a.modeFor(r)
	if err != nil {
		response.RenderStoreError(w, err)
		return
	}
	q, err := webquery.Parse(r, chi.URLParam(r, "model"))
	if err != nil {
		response.RenderBadRequest(w, err.Error())
		return
	}
	recs, err := a.store.Search(r.Context(), q)
	if err != nil {
		response.RenderStoreError(w, err)
		return
	}
	docs := make([][]byte, 0, len(recs))
	for _, rec := range recs {
		doc, err := record.Export(rec, mode)
		if err != nil {
			response.RenderStoreError(w, err)
			return
		}
		docs = append(docs, doc)
	}
	response.RawList(w, http.StatusOK, docs)
}

func (a *API) createRecord(w http.ResponseWriter, r *http.Request) {
	model := chi.URLParam(r, "model")
	fields, err := decodeFields(r)
	if err != nil {
		response.RenderStoreError(w, err)
		return
	}
	rec, err := a.store.New(model)
	if err != nil {
		response.RenderStoreError(w, err)
		return
	}
	for name, value := range fields {
		if name == "$model" {
			continue
		}
		if name == schema.FieldID || name == schema.FieldObjectID {
			response.RenderStoreError(w, &record.FieldError{Model: model, Field: name, Err: record.ErrIdentityField})
			return
		}
		if err := rec.Set(name, value); err != nil {
			response.RenderStoreError(w, err)
			return
		}
	}

	stored, err := a.store.Create(r.Context(), rec)
	if err != nil {
		response.RenderStoreError(w, err)
		return
	}
	w.Header().Set("Location", fmt.Sprintf("%s/records/%s/%d", a.prefix, model, stored.ID()))
	a.render(w, r, http.StatusCreated, stored)
}

func (a *API) showRecord(w http.ResponseWriter, r *http.Request) {
	id, err := recordID(r)
	if err != nil {
		response.RenderStoreError(w, err)
		return
	}
	rec, err := a.store.Get(r.Context(), chi.URLParam(r, "model"), id, webquery.ParseFields(r)...)
	if err != nil {
		response.RenderStoreError(w, err)
		return
	}
	a.render(w, r, http.StatusOK, rec)
}

func (a *API) patchRecord(w http.ResponseWriter, r *http.Request) {
	id, err := recordID(r)
	if err != nil {
		response.RenderStoreError(w, err)
		return
	}
	changes, err := decodeFields(r)
	if err != nil {
		response.RenderStoreError(w, err)
		return
	}
	actor := store.ActorFrom(r.Context())
	rec, err := a.store.Patch(r.Context(), actor, chi.URLParam(r, "model"), id, changes)
	if err != nil {
		response.RenderStoreError(w, err)
		return
	}
	a.render(w, r, http.StatusOK, rec)
}

func (a *API) deleteRecord(w http.ResponseWriter, r *http.Request) {
	id, err := recordID(r)
	if err != nil {
		response.RenderStoreError(w, err)
		return
	}
	model := chi.URLParam(r, "model")
	ok, err := a.store.Delete(r.Context(), model, id)
	if err != nil {
		response.RenderStoreError(w, err)
		return
	}
	if !ok {
		response.RenderStoreError(w, &store.NotFoundError{Model: model, ID: id})
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// deleteRecords deletes every record matching the request filters. At least
// one filter is required.
func (a *API) deleteRecords(w http.ResponseWriter, r *http.Request) {
	q, err := webquery.Parse(r, chi.URLParam(r, "model"))
	if err != nil {
		response.RenderBadRequest(w, err.Error())
		return
	}
	if len(q.Predicates) == 0 {
		response.RenderBadRequest(w, "bulk delete requires at least one filter")
		return
	}
	n, err := a.store.DeleteWhere(r.Context(), q)
	if err != nil {
		response.RenderStoreError(w, err)
		return
	}
	response.JSON(w, http.StatusOK, map[string]int{"deleted": n})
}

// importRecord stores an exported document. The document is read in the
// request mode.
func (a *API) importRecord(w http.ResponseWriter, r *http.Request) {
	mode, err := a.modeFor(r)
	if err != nil {
		response.RenderStoreError(w, err)
		return
	}
	data, err := io.ReadAll(io.LimitReader(r.Body, maxBodyBytes))
	if err != nil {
		response.RenderBadRequest(w, err.Error())
		return
	}
	rec, err := a.store.Import(r.Context(), data, mode)
	if err != nil {
		response.RenderStoreError(w, err)
		return
	}
	a.render(w, r, http.StatusOK, rec)
}
