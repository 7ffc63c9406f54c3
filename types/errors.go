package types

import (
	"errors"
	"fmt"
)

var (
	ErrToolNotFound          = errors.New("video encoding tool not found")
	ErrSynthesisFailed       = errors.New("voice synthesis failed")
	ErrSourcing              = errors.New("visual sourcing failed")
	ErrImageGeneration       = errors.New("image generation failed")
	ErrNoImagesGenerated     = errors.New("no images generated")
	ErrClipProcessing        = errors.New("clip processing failed")
	ErrAssemblyFailed        = errors.New("video assembly failed")
	ErrDurationProbe         = errors.New("duration probe failed")
	ErrGenerativeUnsupported = errors.New("generative visuals are not supported, use stock-footage or template-image mode")
)

// FailureStage tags the part of the pipeline a fatal error came from
type FailureStage string

const (
	FailSynthesis   FailureStage = "synthesis"
	FailSourcing    FailureStage = "sourcing"
	FailAssembly    FailureStage = "assembly"
	FailToolMissing FailureStage = "tool-missing"
	FailRequest     FailureStage = "request" // rejected before any stage ran
)

// PipelineError is the structured failure returned by a pipeline run
type PipelineError struct {
	Stage FailureStage
	Err   error
}

func (e *PipelineError) Error() string {
	return fmt.Sprintf("%s: %v", e.Stage, e.Err)
}

func (e *PipelineError) Unwrap() error { return e.Err }

// UserMessage is the text shown to whoever is watching the progress bar
func (e *PipelineError) UserMessage() string {
	switch e.Stage {
	case FailRequest:
		return fmt.Sprintf("invalid request: %v", e.Err)
	case FailToolMissing:
		return "ffmpeg is not installed: install it or set tools.ffmpeg_bundled in the config"
	case FailSynthesis:
		return fmt.Sprintf("voice generation failed: %v", e.Err)
	case FailSourcing:
		return fmt.Sprintf("visual sourcing failed: %v", e.Err)
	default:
		return fmt.Sprintf("video assembly failed: %v", e.Err)
	}
}

// ImageGenerationError reports the scene whose template image could not be produced
type ImageGenerationError struct {
	SceneNumber int
	Err         error
}

func (e *ImageGenerationError) Error() string {
	return fmt.Sprintf("failed to generate image for scene %d: %v", e.SceneNumber, e.Err)
}

func (e *ImageGenerationError) Unwrap() error { return e.Err }

func (e *ImageGenerationError) Is(target error) bool { return target == ErrImageGeneration }

// ClipProcessingError reports the scene whose segment could not be encoded
type ClipProcessingError struct {
	SceneNumber int
	Err         error
}

func (e *ClipProcessingError) Error() string {
	return fmt.Sprintf("failed to process video clip for scene %d: %v", e.SceneNumber, e.Err)
}

func (e *ClipProcessingError) Unwrap() error { return e.Err }

func (e *ClipProcessingError) Is(target error) bool { return target == ErrClipProcessing }
