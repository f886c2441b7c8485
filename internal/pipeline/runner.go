package pipeline

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"go.uber.org/zap"
)

var (
	errMissingGateway = errors.New("pipeline: gateway is required")
	errMissingOwner   = errors.New("pipeline: owner id is required")
	noOpLogger        = zap.NewNop()
)

// Op selects which Gateway capability a feature invokes.
type Op string

const (
	OpChat        Op = "chat"
	OpImageCreate Op = "image.generate"
	OpImageEdit   Op = "image.edit"
	OpTranscribe  Op = "transcribe"
)

// Step reports pipeline progress to an optional observer. The lifecycle is
// the same for every feature: Validating, Calling, Normalizing, Persisting
// (when configured), then Done.
type Step string

const (
	StepValidating  Step = "validating"
	StepCalling     Step = "calling"
	StepNormalizing Step = "normalizing"
	StepPersisting  Step = "persisting"
	StepDone        Step = "done"
)

// File is a binary input supplied to a feature (an uploaded video, photo, or
// the base image of an edit).
type File struct {
	Name  string
	Bytes []byte
	Mime  string
}

// Input carries a feature invocation's field values and file attachments.
type Input struct {
	Fields map[string]string
	Files  map[string]File
}

// Field returns a trimmed field value, falling back to the provided default.
func (in Input) Field(name, fallback string) string {
	if in.Fields == nil {
		return fallback
	}
	value := strings.TrimSpace(in.Fields[name])
	if value == "" {
		return fallback
	}
	return value
}

// FileNamed returns the attachment registered under name, if present.
func (in Input) FileNamed(name string) (File, bool) {
	if in.Files == nil {
		return File{}, false
	}
	file, ok := in.Files[name]
	if !ok || len(file.Bytes) == 0 {
		return File{}, false
	}
	return file, true
}

// Prompt is the provider payload a feature builds from its input. Text
// operations populate System/User (plus Images and ForceJSON); image
// operations populate ImagePrompt/Size/BaseImage; transcription populates
// Media/FileName.
type Prompt struct {
	System      string
	User        string
	Images      []ImageInput
	ForceJSON   bool
	Temperature float64
	MaxTokens   int

	ImagePrompt string
	Size        string
	BaseImage   []byte

	Media    []byte
	FileName string
}

// RecordRef identifies a persisted artifact row and, when a blob is
// involved, its deterministic public URL.
type RecordRef struct {
	Table string
	ID    string
	URL   string
}

// SaveRequest is the two-phase persistence input: optional blob bytes plus
// the linking row's extra fields. A nil Bytes saves a row only.
type SaveRequest struct {
	Bytes  []byte
	Mime   string
	Table  string
	Fields map[string]any
	Owner  string
}

// ArtifactSaver persists generated artifacts. Implementations put the blob
// first, then create the linking row, and report a *PartialFailure when the
// row fails after the blob succeeded.
type ArtifactSaver interface {
	SaveArtifact(ctx context.Context, req SaveRequest) (RecordRef, error)
}

// PersistConfig configures a feature's persistence target. AutoSave persists
// immediately after normalization; otherwise Run returns an unsaved handle
// for a later explicit Save.
type PersistConfig struct {
	Table     string
	Mime      string
	AutoSave  bool
	MapFields func(n Normalized) map[string]any
}

// Feature is one generation capability: a prompt template, a provider
// operation, an expected response shape, and an optional persistence target.
// Features hold no state; all eight studio screens share the Runner and
// differ only in this configuration.
type Feature struct {
	Name        string
	Description string
	Required    []string
	Defaults    map[string]string
	BuildPrompt func(in Input) (Prompt, error)
	Op          Op
	Shape       Shape
	Persist     *PersistConfig
}

// PendingArtifact is the "generate now, save later" handle produced when a
// feature persists only on explicit user action.
type PendingArtifact struct {
	Feature string
	Table   string
	Mime    string
	Bytes   []byte
	Fields  map[string]any
}

// Result is the uniform success envelope of a pipeline run. SaveErr carries
// an auto-save failure without unwinding the already-produced content.
type Result struct {
	Feature    string
	Normalized Normalized
	Record     *RecordRef
	SaveErr    error
	Unsaved    *PendingArtifact
}

// RunnerConfig describes the dependencies of a Runner.
type RunnerConfig struct {
	Gateway  Gateway
	Store    ArtifactSaver
	Logger   *zap.Logger
	Observer func(feature string, step Step)
}

// Runner executes the shared generation lifecycle:
// validate -> call provider -> normalize -> optionally persist.
type Runner struct {
	gateway  Gateway
	store    ArtifactSaver
	logger   *zap.Logger
	observer func(feature string, step Step)
}

// NewRunner constructs a Runner. Store may be nil when no configured feature
// persists anything.
func NewRunner(cfg RunnerConfig) (*Runner, error) {
	if cfg.Gateway == nil {
		return nil, errMissingGateway
	}
	logger := cfg.Logger
	if logger == nil {
		logger = noOpLogger
	}
	return &Runner{
		gateway:  cfg.Gateway,
		store:    cfg.Store,
		logger:   logger,
		observer: cfg.Observer,
	}, nil
}

func (r *Runner) step(feature string, step Step) {
	if r.observer != nil {
		r.observer(feature, step)
	}
}

// Run executes one feature invocation for the given owner. Each call is
// independent: identical inputs produce independent provider calls, and
// nothing is cached between runs.
func (r *Runner) Run(ctx context.Context, feature Feature, in Input, owner string) (Result, error) {
	if strings.TrimSpace(owner) == "" {
		return Result{}, errMissingOwner
	}

	r.step(feature.Name, StepValidating)
	if err := validateRequired(feature, in); err != nil {
		return Result{}, err
	}

	prompt, err := feature.BuildPrompt(in)
	if err != nil {
		return Result{}, err
	}

	r.step(feature.Name, StepCalling)
	raw, err := r.invoke(ctx, feature.Op, prompt)
	if err != nil {
		r.logger.Warn("provider call failed",
			zap.String("feature", feature.Name),
			zap.String("op", string(feature.Op)),
			zap.Error(err))
		return Result{}, err
	}

	r.step(feature.Name, StepNormalizing)
	normalized, err := Parse(raw, feature.Shape)
	if err != nil {
		r.logger.Warn("provider output failed shape validation",
			zap.String("feature", feature.Name),
			zap.Error(err))
		return Result{}, err
	}

	result := Result{Feature: feature.Name, Normalized: normalized}

	if feature.Persist == nil {
		r.step(feature.Name, StepDone)
		return result, nil
	}

	pending := buildPending(feature, normalized)
	if !feature.Persist.AutoSave {
		result.Unsaved = pending
		r.step(feature.Name, StepDone)
		return result, nil
	}

	r.step(feature.Name, StepPersisting)
	record, saveErr := r.Save(ctx, pending, owner)
	if saveErr != nil {
		// The generated content survives an auto-save failure; the caller
		// receives both the normalized result and the persistence error.
		result.SaveErr = saveErr
		r.logger.Error("auto-save failed",
			zap.String("feature", feature.Name),
			zap.String("table", feature.Persist.Table),
			zap.Error(saveErr))
	} else {
		result.Record = &record
	}

	r.step(feature.Name, StepDone)
	return result, nil
}

// Save persists a previously generated artifact on explicit user action.
func (r *Runner) Save(ctx context.Context, pending *PendingArtifact, owner string) (RecordRef, error) {
	if pending == nil {
		return RecordRef{}, NewValidationError("artifact", "nothing to save")
	}
	if strings.TrimSpace(owner) == "" {
		return RecordRef{}, errMissingOwner
	}
	if r.store == nil {
		return RecordRef{}, &StorageError{Op: "save", Err: errors.New("no artifact store configured")}
	}
	return r.store.SaveArtifact(ctx, SaveRequest{
		Bytes:  pending.Bytes,
		Mime:   pending.Mime,
		Table:  pending.Table,
		Fields: pending.Fields,
		Owner:  owner,
	})
}

func (r *Runner) invoke(ctx context.Context, op Op, prompt Prompt) (any, error) {
	switch op {
	case OpChat:
		return r.gateway.Complete(ctx, CompletionRequest{
			System:      prompt.System,
			User:        prompt.User,
			Images:      prompt.Images,
			ForceJSON:   prompt.ForceJSON,
			Temperature: prompt.Temperature,
			MaxTokens:   prompt.MaxTokens,
		})
	case OpImageCreate:
		return r.gateway.GenerateImage(ctx, ImageRequest{
			Prompt: prompt.ImagePrompt,
			Size:   prompt.Size,
			Mode:   ImageModeCreate,
		})
	case OpImageEdit:
		return r.gateway.GenerateImage(ctx, ImageRequest{
			Prompt:    prompt.ImagePrompt,
			Size:      prompt.Size,
			Mode:      ImageModeEdit,
			BaseImage: prompt.BaseImage,
		})
	case OpTranscribe:
		return r.gateway.Transcribe(ctx, TranscribeRequest{
			FileName: prompt.FileName,
			Media:    prompt.Media,
		})
	default:
		return nil, fmt.Errorf("pipeline: unknown operation %q", op)
	}
}

func validateRequired(feature Feature, in Input) error {
	for _, field := range feature.Required {
		if strings.HasPrefix(field, "file:") {
			name := strings.TrimPrefix(field, "file:")
			if _, ok := in.FileNamed(name); !ok {
				return NewValidationError(name, "file is required")
			}
			continue
		}
		if in.Field(field, "") == "" {
			return NewValidationError(field, "must not be blank")
		}
	}
	return nil
}

func buildPending(feature Feature, normalized Normalized) *PendingArtifact {
	fields := map[string]any{}
	if feature.Persist.MapFields != nil {
		fields = feature.Persist.MapFields(normalized)
	}
	mime := feature.Persist.Mime
	if mime == "" {
		mime = normalized.Mime
	}
	return &PendingArtifact{
		Feature: feature.Name,
		Table:   feature.Persist.Table,
		Mime:    mime,
		Bytes:   normalized.Bytes,
		Fields:  fields,
	}
}
