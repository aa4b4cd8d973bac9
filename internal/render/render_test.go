package render

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mailroom-io/mailroom/internal/model"
	"github.com/mailroom-io/mailroom/internal/repository/memory"
)

func TestSubstitutionRendererFillsPlaceholders(t *testing.T) {
	r := NewSubstitutionRenderer()
	id := uuid.New()
	r.Register(id, Template{
		Subject: "Hi {first_name}",
		HTML:    "<p>Your {plan} plan renews soon, {first_name}.</p>",
	})

	out, err := r.Render(context.Background(), id, json.RawMessage(`{"first_name":"Ada","plan":"pro"}`))
	require.NoError(t, err)
	assert.Equal(t, "Hi Ada", out.Subject)
	assert.Equal(t, "<p>Your pro plan renews soon, Ada.</p>", out.HTML)
}

func TestSubstitutionRendererNoPlaceholders(t *testing.T) {
	r := NewSubstitutionRenderer()
	id := uuid.New()
	r.Register(id, Template{Subject: "Maintenance window", HTML: "<p>Heads up.</p>"})

	out, err := r.Render(context.Background(), id, nil)
	require.NoError(t, err)
	assert.Equal(t, "Maintenance window", out.Subject)
}

func TestSubstitutionRendererMissingVariable(t *testing.T) {
	r := NewSubstitutionRenderer()
	id := uuid.New()
	r.Register(id, Template{Subject: "Hi {first_name}", HTML: "x"})

	_, err := r.Render(context.Background(), id, json.RawMessage(`{"plan":"pro"}`))
	require.Error(t, err)
	var rerr *Error
	require.ErrorAs(t, err, &rerr)
	assert.Equal(t, id, rerr.TemplateID)
	assert.Contains(t, rerr.Reason, "first_name")
}

func TestSubstitutionRendererUnknownTemplate(t *testing.T) {
	r := NewSubstitutionRenderer()

	_, err := r.Render(context.Background(), uuid.New(), nil)
	var rerr *Error
	require.ErrorAs(t, err, &rerr)
	assert.Contains(t, rerr.Reason, "not found")
}

func TestSubstitutionRendererBadVars(t *testing.T) {
	r := NewSubstitutionRenderer()
	id := uuid.New()
	r.Register(id, Template{Subject: "s", HTML: "h"})

	_, err := r.Render(context.Background(), id, json.RawMessage(`{not json`))
	var rerr *Error
	require.ErrorAs(t, err, &rerr)
	assert.Contains(t, rerr.Reason, "JSON")
}

func TestSubstitutionRendererUnclosedPlaceholder(t *testing.T) {
	r := NewSubstitutionRenderer()
	id := uuid.New()
	r.Register(id, Template{Subject: "Hi {first_name", HTML: "x"})

	_, err := r.Render(context.Background(), id, json.RawMessage(`{"first_name":"Ada"}`))
	var rerr *Error
	require.ErrorAs(t, err, &rerr)
	assert.Contains(t, rerr.Reason, "unclosed")
}

func TestStoreRendererRendersStoredTemplate(t *testing.T) {
	store := memory.NewStore()
	tpl := &model.Template{
		ID:      uuid.New(),
		Subject: "Welcome, {name}",
		HTML:    "<h1>Hello {name}</h1>",
		Text:    "Hello {name}",
	}
	store.PutTemplate(tpl)

	r := NewStoreRenderer(memory.NewCampaignRepo(store))
	out, err := r.Render(context.Background(), tpl.ID, json.RawMessage(`{"name":"Ada"}`))
	require.NoError(t, err)
	assert.Equal(t, "Welcome, Ada", out.Subject)
	assert.Equal(t, "<h1>Hello Ada</h1>", out.HTML)
	assert.Equal(t, "Hello Ada", out.Text)
}

func TestStoreRendererUnknownTemplate(t *testing.T) {
	r := NewStoreRenderer(memory.NewCampaignRepo(memory.NewStore()))

	_, err := r.Render(context.Background(), uuid.New(), nil)
	var rerr *Error
	require.ErrorAs(t, err, &rerr)
}
