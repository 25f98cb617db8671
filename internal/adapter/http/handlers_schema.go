package http

import (
	"net/http"
	"sync"

	"github.com/invopop/jsonschema"

	"github.com/Strob0t/turnforge/internal/domain/event"
)

// schemaDocument describes the wire shapes of the turn API.
type schemaDocument struct {
	TurnRequest *jsonschema.Schema            `json:"turnRequest"`
	StoredEvent *jsonschema.Schema            `json:"storedEvent"`
	Events      map[string]*jsonschema.Schema `json:"events"`
}

var eventSchemas = sync.OnceValue(func() schemaDocument {
	reflector := jsonschema.Reflector{DoNotReference: true}

	variants := []event.AgentEvent{
		&event.SessionStart{},
		&event.UserMessageConfirmed{},
		&event.ThinkingComplete{},
		&event.ToolUse{},
		&event.ToolResult{},
		&event.MessageChunk{},
		&event.Message{},
		&event.Complete{},
		&event.Error{},
	}

	doc := schemaDocument{
		TurnRequest: reflector.Reflect(&turnRequest{}),
		StoredEvent: reflector.Reflect(&event.StoredEvent{}),
		Events:      make(map[string]*jsonschema.Schema, len(variants)),
	}
	for _, v := range variants {
		s := reflector.Reflect(v)
		// The discriminator is added by event.Marshal, not by a struct field.
		s.Properties.Set("type", &jsonschema.Schema{Type: "string", Const: string(v.Type())})
		s.Required = append([]string{"type"}, s.Required...)
		doc.Events[string(v.Type())] = s
	}
	return doc
})

// EventSchemas handles GET /api/v1/schema/events
func (h *Handlers) EventSchemas(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, eventSchemas())
}
