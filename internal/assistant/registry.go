// Package assistant exposes the studio's capabilities as a tool registry the
// chat assistant can invoke. Ownership is non-negotiable here: every
// invocation acts as the authenticated session's user, and any user or owner
// identifier supplied in tool arguments is discarded.
package assistant

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"

	"go.uber.org/zap"

	"github.com/creatorlab/socialstudio/backend/internal/calendar"
	"github.com/creatorlab/socialstudio/backend/internal/pipeline"
)

var (
	errMissingRunner   = errors.New("assistant: pipeline runner is required")
	errMissingCalendar = errors.New("assistant: calendar store is required")

	// ErrUnknownTool is returned when no registered tool matches the name.
	ErrUnknownTool = errors.New("assistant: unknown tool")
)

// Handler executes one tool invocation for the given owner.
type Handler func(ctx context.Context, owner string, args map[string]any) (map[string]any, error)

// Tool is one capability the assistant may invoke. InputSchema is a JSON
// Schema fragment describing the accepted arguments.
type Tool struct {
	Name        string
	Description string
	InputSchema map[string]any
	Handler     Handler `json:"-"`
}

// RegistryConfig describes the dependencies of the tool registry.
type RegistryConfig struct {
	Runner   *pipeline.Runner
	Features map[string]pipeline.Feature
	Calendar *calendar.Store
	Logger   *zap.Logger
}

// Registry holds the assistant's tools.
type Registry struct {
	tools  map[string]Tool
	order  []string
	logger *zap.Logger
}

// NewRegistry builds the registry: one generation tool per feature that takes
// text-only input, plus the calendar tools. Features requiring file uploads
// are not registered; the assistant has no way to attach binary media to a
// tool call.
func NewRegistry(cfg RegistryConfig) (*Registry, error) {
	if cfg.Runner == nil {
		return nil, errMissingRunner
	}
	if cfg.Calendar == nil {
		return nil, errMissingCalendar
	}
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}

	features := cfg.Features
	if features == nil {
		features = pipeline.Features()
	}

	registry := &Registry{tools: map[string]Tool{}, logger: logger}
	for _, name := range orderedFeatureNames(features) {
		feature := features[name]
		if requiresFile(feature) {
			continue
		}
		registry.register(generationTool(cfg.Runner, feature))
	}
	for _, tool := range calendarTools(cfg.Calendar) {
		registry.register(tool)
	}
	return registry, nil
}

func (r *Registry) register(tool Tool) {
	r.tools[tool.Name] = tool
	r.order = append(r.order, tool.Name)
}

// Tools lists the registered tools in registration order.
func (r *Registry) Tools() []Tool {
	tools := make([]Tool, 0, len(r.order))
	for _, name := range r.order {
		tools = append(tools, r.tools[name])
	}
	return tools
}

// Invoke runs the named tool as sessionOwner. Any "userId" or "owner" key in
// args is dropped before the tool sees them.
func (r *Registry) Invoke(ctx context.Context, sessionOwner, name string, args map[string]any) (map[string]any, error) {
	tool, ok := r.tools[name]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownTool, name)
	}
	if args == nil {
		args = map[string]any{}
	}
	delete(args, "userId")
	delete(args, "user_id")
	delete(args, "owner")

	r.logger.Debug("assistant tool invoked",
		zap.String("tool", name),
		zap.String("owner", sessionOwner))
	return tool.Handler(ctx, sessionOwner, args)
}

func requiresFile(feature pipeline.Feature) bool {
	for _, field := range feature.Required {
		if strings.HasPrefix(field, "file:") {
			return true
		}
	}
	return false
}

func orderedFeatureNames(features map[string]pipeline.Feature) []string {
	// Stable presentation order; map iteration order would reshuffle the
	// tool list between processes.
	preferred := []string{
		pipeline.FeatureThumbnail,
		pipeline.FeatureLogo,
		pipeline.FeatureMetadata,
		pipeline.FeatureScript,
		pipeline.FeatureReelScript,
		pipeline.FeatureBrandName,
	}
	names := make([]string, 0, len(features))
	for _, name := range preferred {
		if _, ok := features[name]; ok {
			names = append(names, name)
		}
	}
	for name := range features {
		if !contains(names, name) {
			names = append(names, name)
		}
	}
	return names
}

func contains(list []string, value string) bool {
	for _, item := range list {
		if item == value {
			return true
		}
	}
	return false
}

func generationTool(runner *pipeline.Runner, feature pipeline.Feature) Tool {
	toolName := "generate_" + strings.ReplaceAll(feature.Name, "-", "_")
	return Tool{
		Name:        toolName,
		Description: feature.Description,
		InputSchema: featureSchema(feature),
		Handler: func(ctx context.Context, owner string, args map[string]any) (map[string]any, error) {
			input := pipeline.Input{Fields: stringFields(args)}
			result, err := runner.Run(ctx, feature, input, owner)
			if err != nil {
				return nil, err
			}
			return resultPayload(result), nil
		},
	}
}

// featureSchema derives the tool's argument schema from the feature's
// required fields and defaults. All fields are strings; defaulted fields are
// optional.
func featureSchema(feature pipeline.Feature) map[string]any {
	properties := map[string]any{}
	required := make([]string, 0, len(feature.Required))
	for _, field := range feature.Required {
		if strings.HasPrefix(field, "file:") {
			continue
		}
		properties[field] = map[string]any{"type": "string"}
		required = append(required, field)
	}
	for field, fallback := range feature.Defaults {
		properties[field] = map[string]any{
			"type":    "string",
			"default": fallback,
		}
	}
	schema := map[string]any{
		"type":       "object",
		"properties": properties,
	}
	if len(required) > 0 {
		schema["required"] = required
	}
	return schema
}

func resultPayload(result pipeline.Result) map[string]any {
	payload := map[string]any{"feature": result.Feature}
	switch result.Normalized.Kind {
	case pipeline.ShapeFreeText:
		payload["text"] = result.Normalized.Text
	case pipeline.ShapeJSONObject:
		payload["result"] = result.Normalized.Object
	case pipeline.ShapeStringArray:
		payload["items"] = result.Normalized.List
	case pipeline.ShapeBinaryImage:
		// Image bytes are never inlined into a chat payload; the saved
		// record's URL (or the explicit-save requirement) is reported instead.
		if result.Record != nil {
			payload["image_url"] = result.Record.URL
		} else {
			payload["note"] = "image generated; save it from the studio to obtain a URL"
		}
	}
	if result.Record != nil {
		payload["record_id"] = result.Record.ID
		if result.Record.URL != "" {
			payload["url"] = result.Record.URL
		}
	}
	if result.SaveErr != nil {
		payload["save_error"] = result.SaveErr.Error()
	}
	return payload
}

func calendarTools(store *calendar.Store) []Tool {
	return []Tool{
		{
			Name:        "list_calendar_events",
			Description: "List the user's planned content calendar events.",
			InputSchema: map[string]any{"type": "object", "properties": map[string]any{}},
			Handler: func(ctx context.Context, owner string, _ map[string]any) (map[string]any, error) {
				events, err := store.List(ctx, owner)
				if err != nil {
					return nil, err
				}
				return map[string]any{"events": eventPayloads(events)}, nil
			},
		},
		{
			Name:        "add_calendar_event",
			Description: "Add a planned content item to the user's calendar.",
			InputSchema: map[string]any{
				"type": "object",
				"properties": map[string]any{
					"title": map[string]any{"type": "string"},
					"note":  map[string]any{"type": "string"},
					"date":  map[string]any{"type": "string", "description": "Calendar date (YYYY-MM-DD) or RFC 3339 timestamp."},
				},
				"required": []string{"title", "date"},
			},
			Handler: func(ctx context.Context, owner string, args map[string]any) (map[string]any, error) {
				event, err := store.Add(ctx, owner,
					stringArg(args, "title"),
					stringArg(args, "note"),
					stringArg(args, "date"))
				if err != nil {
					return nil, err
				}
				return map[string]any{"event": eventPayload(event)}, nil
			},
		},
		{
			Name:        "update_calendar_event",
			Description: "Update one of the user's calendar events.",
			InputSchema: map[string]any{
				"type": "object",
				"properties": map[string]any{
					"id":    map[string]any{"type": "string"},
					"title": map[string]any{"type": "string"},
					"note":  map[string]any{"type": "string"},
					"date":  map[string]any{"type": "string"},
				},
				"required": []string{"id"},
			},
			Handler: func(ctx context.Context, owner string, args map[string]any) (map[string]any, error) {
				patch := calendar.Patch{}
				if value, ok := optionalStringArg(args, "title"); ok {
					patch.Title = &value
				}
				if value, ok := optionalStringArg(args, "note"); ok {
					patch.Note = &value
				}
				if value, ok := optionalStringArg(args, "date"); ok {
					patch.Date = &value
				}
				event, err := store.Update(ctx, owner, stringArg(args, "id"), patch)
				if err != nil {
					return nil, err
				}
				return map[string]any{"event": eventPayload(event)}, nil
			},
		},
		{
			Name:        "delete_calendar_event",
			Description: "Delete one of the user's calendar events.",
			InputSchema: map[string]any{
				"type": "object",
				"properties": map[string]any{
					"id": map[string]any{"type": "string"},
				},
				"required": []string{"id"},
			},
			Handler: func(ctx context.Context, owner string, args map[string]any) (map[string]any, error) {
				if err := store.Remove(ctx, owner, stringArg(args, "id")); err != nil {
					return nil, err
				}
				return map[string]any{"deleted": true}, nil
			},
		},
	}
}

func eventPayloads(events []calendar.Event) []map[string]any {
	payloads := make([]map[string]any, 0, len(events))
	for _, event := range events {
		payloads = append(payloads, eventPayload(event))
	}
	return payloads
}

func eventPayload(event calendar.Event) map[string]any {
	return map[string]any{
		"id":    event.ID,
		"title": event.Title,
		"note":  event.Note,
		"date":  event.Date,
	}
}

func stringFields(args map[string]any) map[string]string {
	fields := make(map[string]string, len(args))
	for name, value := range args {
		switch typed := value.(type) {
		case string:
			fields[name] = typed
		case float64:
			fields[name] = strconv.FormatFloat(typed, 'f', -1, 64)
		case bool:
			fields[name] = fmt.Sprintf("%t", typed)
		}
	}
	return fields
}

func stringArg(args map[string]any, name string) string {
	value, _ := args[name].(string)
	return strings.TrimSpace(value)
}

func optionalStringArg(args map[string]any, name string) (string, bool) {
	raw, present := args[name]
	if !present {
		return "", false
	}
	value, ok := raw.(string)
	if !ok {
		return "", false
	}
	return value, true
}
