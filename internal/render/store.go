package render

import (
	"context"
	"encoding/json"
	"time"

	"github.com/google/uuid"
	gocache "github.com/patrickmn/go-cache"

	"github.com/mailroom-io/mailroom/internal/model"
)

// TemplateStore is the slice of the campaign repository the renderer
// needs.
type TemplateStore interface {
	GetTemplate(ctx context.Context, id uuid.UUID) (*model.Template, error)
}

// StoreRenderer renders stored templates with {name} substitution.
// Templates change rarely relative to dispatch volume, so fetched rows
// are cached briefly.
type StoreRenderer struct {
	store TemplateStore
	cache *gocache.Cache
}

func NewStoreRenderer(store TemplateStore) *StoreRenderer {
	return &StoreRenderer{
		store: store,
		cache: gocache.New(time.Minute, 5*time.Minute),
	}
}

func (r *StoreRenderer) Render(ctx context.Context, templateID uuid.UUID, vars json.RawMessage) (*Rendered, error) {
	tpl, err := r.template(ctx, templateID)
	if err != nil {
		return nil, &Error{TemplateID: templateID, Reason: err.Error()}
	}

	values := map[string]interface{}{}
	if len(vars) > 0 {
		if err := json.Unmarshal(vars, &values); err != nil {
			return nil, &Error{TemplateID: templateID, Reason: "vars are not valid JSON"}
		}
	}

	subject, err := substitute(tpl.Subject, values)
	if err != nil {
		return nil, &Error{TemplateID: templateID, Reason: err.Error()}
	}
	html, err := substitute(tpl.HTML, values)
	if err != nil {
		return nil, &Error{TemplateID: templateID, Reason: err.Error()}
	}
	text, err := substitute(tpl.Text, values)
	if err != nil {
		return nil, &Error{TemplateID: templateID, Reason: err.Error()}
	}

	return &Rendered{Subject: subject, HTML: html, Text: text}, nil
}

func (r *StoreRenderer) template(ctx context.Context, id uuid.UUID) (*model.Template, error) {
	if cached, ok := r.cache.Get(id.String()); ok {
		return cached.(*model.Template), nil
	}
	tpl, err := r.store.GetTemplate(ctx, id)
	if err != nil {
		return nil, err
	}
	r.cache.SetDefault(id.String(), tpl)
	return tpl, nil
}
