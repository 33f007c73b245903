package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/conduit-lang/strata/internal/orm/schema"
	"github.com/conduit-lang/strata/internal/web/response"
)

// FieldView describes one resolved field
type FieldView struct {
	Name       string      `json:"name"`
	Type       string      `json:"type"`
	Target     string      `json:"target,omitempty"`
	Nullable   bool        `json:"nullable,omitempty"`
	Default    interface{} `json:"default,omitempty"`
	Identity   bool        `json:"identity,omitempty"`
	Foreign    bool        `json:"foreign,omitempty"`
	Encrypt    bool        `json:"encrypt,omitempty"`
	Internal   bool        `json:"internal,omitempty"`
	MaxLength  int         `json:"maxLength,omitempty"`
	Enum       []string    `json:"enum,omitempty"`
	DeclaredBy string      `json:"declaredBy,omitempty"`
}

// SchemaView describes one resolved schema
type SchemaView struct {
	Name      string      `json:"name"`
	Abstract  bool        `json:"abstract,omitempty"`
	Group     string      `json:"group,omitempty"`
	Version   string      `json:"version,omitempty"`
	Ancestors []string    `json:"ancestors,omitempty"`
	Common    []string    `json:"common,omitempty"`
	Fields    []FieldView `json:"fields"`
}

func viewSchema(rs *schema.ResolvedSchema) SchemaView {
	v := SchemaView{
		Name:      rs.Name,
		Abstract:  rs.Abstract,
		Group:     rs.Group,
		Version:   rs.Version,
		Ancestors: rs.Ancestors,
		Common:    rs.Common,
	}
	for _, f := range rs.Fields() {
		v.Fields = append(v.Fields, FieldView{
			Name:       f.Name,
			Type:       f.TypeName(),
			Target:     f.Target,
			Nullable:   f.Nullable,
			Default:    f.Default,
			Identity:   f.Identity,
			Foreign:    f.Foreign,
			Encrypt:    f.Encrypt,
			Internal:   f.Internal,
			MaxLength:  f.MaxLength,
			Enum:       f.EnumValues,
			DeclaredBy: f.DeclaredBy,
		})
	}
	return v
}

// listSchemas returns every registered schema sorted by name
func (a *API) listSchemas(w http.ResponseWriter, r *http.Request) {
	reg := a.store.Registry()
	views := make([]SchemaView, 0, reg.Count())
	for _, name := range reg.List() {
		rs, err := reg.Resolve(name)
		if err != nil {
			response.RenderStoreError(w, err)
			return
		}
		views = append(views, viewSchema(rs))
	}
	response.JSON(w, http.StatusOK, views)
}

func (a *API) showSchema(w http.ResponseWriter, r *http.Request) {
	rs, err := a.store.Registry().Resolve(chi.URLParam(r, "model"))
	if err != nil {
		response.RenderStoreError(w, err)
		return
	}
	response.JSON(w, http.StatusOK, viewSchema(rs))
}
