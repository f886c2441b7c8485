package pipeline

import "context"

// ImageInput attaches one image to a chat completion, either as an https URL
// or a data URL.
type ImageInput struct {
	URL string
}

// CompletionRequest describes one chat completion call. ForceJSON does not
// change the transport; it declares the caller's intent to parse the answer
// as JSON and asks the provider for a JSON-shaped response.
type CompletionRequest struct {
	System      string
	User        string
	Images      []ImageInput
	ForceJSON   bool
	Temperature float64
	MaxTokens   int
}

// ImageMode selects between generating a fresh image and editing an existing one.
type ImageMode string

const (
	ImageModeCreate ImageMode = "create"
	ImageModeEdit   ImageMode = "edit"
)

// ImageRequest describes one image generation or edit call. BaseImage is
// required in edit mode and ignored otherwise.
type ImageRequest struct {
	Prompt    string
	Size      string
	Mode      ImageMode
	BaseImage []byte
}

// ImageResult is the decoded payload of a generation or edit call.
type ImageResult struct {
	Bytes    []byte
	MimeType string
}

// TranscribeRequest describes one audio/video transcription call. The
// transcript comes back in subtitle (SRT) format.
type TranscribeRequest struct {
	FileName string
	Media    []byte
}

// Gateway is the uniform interface to the three generative capabilities the
// pipeline uses. Implementations reject blank required inputs with
// *ValidationError before any network call, make exactly one attempt per
// call, and report failures as *ProviderError. Retry policy, if any, belongs
// to the caller.
type Gateway interface {
	Complete(ctx context.Context, req CompletionRequest) (string, error)
	GenerateImage(ctx context.Context, req ImageRequest) (ImageResult, error)
	Transcribe(ctx context.Context, req TranscribeRequest) (string, error)
}
