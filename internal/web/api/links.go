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

// LinkRequest names the target of a membership change. Enabled defaults
// to true; a null metadata keeps the stored value.
type LinkRequest struct {
	Model    string      `json:"model"`
	ID       int64       `json:"id"`
	Enabled  *bool       `json:"enabled,omitempty"`
	Metadata interface{} `json:"metadata,omitempty"`
}

func (a *API) link(w http.ResponseWriter, r *http.Request) {
	owner, err := a.owner(r)
	if err != nil {
		response.RenderStoreError(w, err)
		return
	}
	var req LinkRequest
	if err := json.NewDecoder(io.LimitReader(r.Body, maxBodyBytes)).Decode(&req); err != nil {
		response.RenderBadRequest(w, fmt.Sprintf("invalid JSON body: %v", err))
		return
	}
	if req.Model == "" || req.ID <= 0 {
		response.RenderBadRequest(w, "link target requires model and id")
		return
	}
	target, err := a.store.Get(r.Context(), req.Model, req.ID, schema.FieldObjectID)
	if err != nil {
		response.RenderStoreError(w, err)
		return
	}

	enabled := req.Enabled == nil || *req.Enabled
	actor := store.ActorFrom(r.Context())
	changed, err := a.store.Links().Link(r.Context(), actor, owner, chi.URLParam(r, "relation"), target, req.Metadata, enabled)
	if err != nil {
		response.RenderStoreError(w, err)
		return
	}
	response.JSON(w, http.StatusOK, map[string]bool{"changed": changed, "enabled": enabled})
}

func (a *API) isLinked(w http.ResponseWriter, r *http.Request) {
	owner, err := a.owner(r)
	if err != nil {
		response.RenderStoreError(w, err)
		return
	}
	targetID, err := strconv.ParseInt(chi.URLParam(r, "targetID"), 10, 64)
	if err != nil || targetID <= 0 {
		response.RenderBadRequest(w, "invalid target id")
		return
	}
	target, err := a.store.Get(r.Context(), chi.URLParam(r, "target"), targetID, schema.FieldObjectID)
	if err != nil {
		response.RenderStoreError(w, err)
		return
	}
	linked, err := a.store.Links().IsLinked(r.Context(), target, owner, chi.URLParam(r, "relation"))
	if err != nil {
		response.RenderStoreError(w, err)
		return
	}
	response.JSON(w, http.StatusOK, map[string]bool{"linked": linked})
}

// listMembers lists the enabled members of a relation. ?target names the
// member schema; offset and limit page the result.
func (a *API) listMembers(w http.ResponseWriter, r *http.Request) {
	owner, err := a.owner(r)
	if err != nil {
		response.RenderStoreError(w, err)
		return
	}
	target := r.URL.Query().Get("target")
	if target == "" {
		response.RenderBadRequest(w, "target schema is required")
		return
	}
	offset, limit, err := webquery.ParsePage(r)
	if err != nil {
		response.RenderBadRequest(w, err.Error())
		return
	}
	mode, err := a.modeFor(r)
	if err != nil {
		response.RenderStoreError(w, err)
		return
	}

	members, err := a.store.Links().ListMembers(r.Context(), owner, chi.URLParam(r, "relation"), target, offset, limit)
	if err != nil {
		response.RenderStoreError(w, err)
		return
	}
	docs := make([][]byte, 0, len(members))
	for _, m := range members {
		doc, err := record.Export(m, mode)
		if err != nil {
			response.RenderStoreError(w, err)
			return
		}
		docs = append(docs, doc)
	}
	response.RawList(w, http.StatusOK, docs)
}
