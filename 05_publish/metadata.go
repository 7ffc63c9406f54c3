package publish

import (
	"fmt"
	"html"
	"strings"
	"unicode/utf8"

	"github.com/microcosm-cc/bluemonday"

	"news-video-pipeline/config"
	"news-video-pipeline/types"
)

// YouTube rejects tag lists longer than this, counting separators
const maxTagChars = 500

var plain = bluemonday.StrictPolicy()

// VideoMetadata is what gets attached to an upload
type VideoMetadata struct {
	Title       string   `json:"title"`
	Description string   `json:"description"`
	Tags        []string `json:"tags"`
	CategoryID  string   `json:"category_id"`
	Visibility  string   `json:"visibility"`
}

// MetadataInput describes the rendered video
type MetadataInput struct {
	Title    string
	Topic    string
	SubTopic string
	Scenes   []types.Scene
}

// BuildMetadata derives upload metadata from the script, without any network calls
func BuildMetadata(cfg config.YouTubeConfig, in MetadataInput) *VideoMetadata {
	title := clean(in.Title)
	if title == "" {
		title = clean(in.SubTopic)
	}
	if title == "" {
		title = "News update"
	}

	return &VideoMetadata{
		Title:       truncate(title, cfg.TitleMaxChars),
		Description: describe(in),
		Tags:        buildTags(cfg.Tags, in.Topic, in.SubTopic),
		CategoryID:  cfg.CategoryID,
		Visibility:  cfg.Visibility,
	}
}

func describe(in MetadataInput) string {
	var b strings.Builder
	scenes := types.SortScenes(in.Scenes)
	if len(scenes) > 0 {
		b.WriteString(clean(scenes[0].Narration))
		b.WriteString("\n\n")
	}

	var at float64
	for _, s := range scenes {
		line := clean(s.VisualDescription)
		if line == "" {
			line = truncate(clean(s.Narration), 80)
		}
		fmt.Fprintf(&b, "%s %s\n", timestamp(at), line)
		at += s.Duration
	}

	if topic := clean(in.Topic); topic != "" {
		b.WriteString("\n#" + strings.ReplaceAll(strings.ToLower(topic), " ", ""))
	}
	return strings.TrimSpace(b.String())
}

func buildTags(base []string, extra ...string) []string {
	seen := map[string]bool{}
	var tags []string
	total := 0
	for _, t := range append(append([]string{}, base...), extra...) {
		t = strings.ToLower(clean(t))
		if t == "" || seen[t] {
			continue
		}
		if total+utf8.RuneCountInString(t)+1 > maxTagChars {
			break
		}
		seen[t] = true
		total += utf8.RuneCountInString(t) + 1
		tags = append(tags, t)
	}
	return tags
}

func clean(s string) string {
	return strings.Join(strings.Fields(html.UnescapeString(plain.Sanitize(s))), " ")
}

// truncate cuts to n runes, ending with an ellipsis when it cuts
func truncate(s string, n int) string {
	if n <= 0 || utf8.RuneCountInString(s) <= n {
		return s
	}
	r := []rune(s)
	return strings.TrimSpace(string(r[:n-1])) + "…"
}

func timestamp(sec float64) string {
	total := int(sec)
	return fmt.Sprintf("%02d:%02d", total/60, total%60)
}
