package types

import (
	"fmt"
	"sort"
)

// VoiceProfile selects the post-processing filter applied to narration
type VoiceProfile string

const (
	VoiceMale   VoiceProfile = "male"
	VoiceFemale VoiceProfile = "female"
)

// VisualMode selects how scene visuals are sourced
type VisualMode string

const (
	ModeStockFootage  VisualMode = "stock-footage"
	ModeTemplateImage VisualMode = "template-image"
	ModeGenerative    VisualMode = "generative"
)

// Scene is one timed unit of narration plus visual direction
type Scene struct {
	SceneNumber       int     `json:"sceneNumber"`
	Narration         string  `json:"narration"`
	VisualDescription string  `json:"visualDescription"`
	Duration          float64 `json:"duration"` // seconds
}

// AudioTrack is the synthesized narration for one run
type AudioTrack struct {
	Path         string  `json:"path"`
	DurationHint float64 `json:"duration_hint"`
}

// AssetKind tags the VisualAsset variant
type AssetKind int

const (
	AssetStockClip AssetKind = iota + 1
	AssetTemplateImage
)

func (k AssetKind) String() string {
	switch k {
	case AssetStockClip:
		return "stock-clip"
	case AssetTemplateImage:
		return "template-image"
	default:
		return "unknown"
	}
}

// VisualAsset is either a downloaded stock clip or a normalized template image.
// SourceDuration is only meaningful for stock clips.
type VisualAsset struct {
	Kind           AssetKind `json:"kind"`
	Path           string    `json:"path"`
	SceneNumber    int       `json:"scene_number"`
	SourceDuration float64   `json:"source_duration,omitempty"`
}

// NewStockClip builds a stock clip asset
func NewStockClip(path string, sceneNumber int, sourceDuration float64) VisualAsset {
	return VisualAsset{Kind: AssetStockClip, Path: path, SceneNumber: sceneNumber, SourceDuration: sourceDuration}
}

// NewTemplateImage builds a template image asset
func NewTemplateImage(path string, sceneNumber int) VisualAsset {
	return VisualAsset{Kind: AssetTemplateImage, Path: path, SceneNumber: sceneNumber}
}

// AssetSet maps scene numbers to their visual asset. A scene without an entry has no asset.
type AssetSet map[int]VisualAsset

// NewAssetSet indexes assets by scene number. Later entries win on duplicates.
func NewAssetSet(assets ...[]VisualAsset) AssetSet {
	set := make(AssetSet)
	for _, group := range assets {
		for _, a := range group {
			set[a.SceneNumber] = a
		}
	}
	return set
}

// Count returns how many assets of the given kind are in the set
func (s AssetSet) Count(kind AssetKind) int {
	n := 0
	for _, a := range s {
		if a.Kind == kind {
			n++
		}
	}
	return n
}

// Missing returns the scenes that have no asset, in scene order
func (s AssetSet) Missing(scenes []Scene) []Scene {
	var out []Scene
	for _, sc := range scenes {
		if _, ok := s[sc.SceneNumber]; !ok {
			out = append(out, sc)
		}
	}
	return out
}

// MediaResult is the finished video handed back to the caller
type MediaResult struct {
	Path                    string  `json:"path"`
	MeasuredDurationSeconds float64 `json:"measured_duration_seconds"`
	SizeBytes               int64   `json:"size_bytes"`
}

// SortScenes returns a copy of scenes ordered by scene number
func SortScenes(scenes []Scene) []Scene {
	out := make([]Scene, len(scenes))
	copy(out, scenes)
	sort.SliceStable(out, func(i, j int) bool { return out[i].SceneNumber < out[j].SceneNumber })
	return out
}

// ValidateScenes checks scene numbers are positive and unique and durations are not negative
func ValidateScenes(scenes []Scene) error {
	seen := make(map[int]bool, len(scenes))
	for _, sc := range scenes {
		if sc.SceneNumber <= 0 {
			return fmt.Errorf("scene number %d: must be positive", sc.SceneNumber)
		}
		if seen[sc.SceneNumber] {
			return fmt.Errorf("scene number %d: duplicated", sc.SceneNumber)
		}
		if sc.Duration < 0 {
			return fmt.Errorf("scene %d: negative duration %.2f", sc.SceneNumber, sc.Duration)
		}
		seen[sc.SceneNumber] = true
	}
	return nil
}

// ProgressStage names a step of a pipeline run as seen by the caller
type ProgressStage string

const (
	StagePreparing ProgressStage = "preparing"
	StageVoice     ProgressStage = "voice"
	StageVisuals   ProgressStage = "visuals"
	StageAssembly  ProgressStage = "assembly"
	StageFinalize  ProgressStage = "finalize"
	StageDone      ProgressStage = "done"
	StageError     ProgressStage = "error"
)

// Progress is one update emitted while a run advances
type Progress struct {
	Stage   ProgressStage `json:"stage"`
	Percent int           `json:"progress"`
	Message string        `json:"message"`
}
