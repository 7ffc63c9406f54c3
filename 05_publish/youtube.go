package publish

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"time"

	"github.com/rs/zerolog/log"
	"golang.org/x/oauth2"
	"golang.org/x/oauth2/google"
	"google.golang.org/api/option"
	"google.golang.org/api/youtube/v3"
	pb "gopkg.in/cheggaaa/pb.v1"

	"news-video-pipeline/config"
)

// ErrMissingCredentials means the YouTube OAuth env vars are not set
var ErrMissingCredentials = errors.New("YOUTUBE_CLIENT_ID, YOUTUBE_CLIENT_SECRET, or YOUTUBE_REFRESH_TOKEN not set")

// Uploader handles YouTube video upload via Data API v3
type Uploader struct {
	cfg          config.YouTubeConfig
	showProgress bool
}

// NewUploader creates an Uploader; showProgress draws a terminal progress bar
func NewUploader(cfg config.YouTubeConfig, showProgress bool) *Uploader {
	return &Uploader{cfg: cfg, showProgress: showProgress}
}

// UploadResult identifies the published video
type UploadResult struct {
	VideoID  string `json:"video_id"`
	VideoURL string `json:"video_url"`
}

// Upload sends the video with its metadata
func (u *Uploader) Upload(ctx context.Context, videoFile string, meta *VideoMetadata) (*UploadResult, error) {
	log.Info().Msg("[upload] Authenticating with YouTube API...")

	client, err := oauthClient(ctx)
	if err != nil {
		return nil, fmt.Errorf("youtube auth: %w", err)
	}
	svc, err := youtube.NewService(ctx, option.WithHTTPClient(client))
	if err != nil {
		return nil, fmt.Errorf("youtube service: %w", err)
	}

	video := &youtube.Video{
		Snippet: &youtube.VideoSnippet{
			Title:                meta.Title,
			Description:          meta.Description,
			Tags:                 meta.Tags,
			CategoryId:           meta.CategoryID,
			DefaultLanguage:      u.cfg.DefaultLanguage,
			DefaultAudioLanguage: u.cfg.DefaultLanguage,
		},
		Status: &youtube.VideoStatus{
			PrivacyStatus:           meta.Visibility,
			SelfDeclaredMadeForKids: u.cfg.MadeForKids,
			NotifySubscribers:       u.cfg.NotifySubscribers,
		},
	}

	f, err := os.Open(videoFile)
	if err != nil {
		return nil, fmt.Errorf("open video file: %w", err)
	}
	defer f.Close()

	r, done := progressReader(f, u.showProgress)
	defer done()

	log.Info().Str("title", meta.Title).Msg("[upload] Uploading")
	uploaded, err := svc.Videos.Insert([]string{"snippet", "status"}, video).Media(r).Context(ctx).Do()
	if err != nil {
		return nil, fmt.Errorf("youtube upload: %w", err)
	}

	res := &UploadResult{VideoID: uploaded.Id, VideoURL: "https://www.youtube.com/watch?v=" + uploaded.Id}
	log.Info().Str("id", res.VideoID).Str("url", res.VideoURL).Msg("[upload] ✅ Uploaded successfully")
	return res, nil
}

// oauthClient builds an HTTP client from the refresh token in the environment
func oauthClient(ctx context.Context) (*http.Client, error) {
	clientID := os.Getenv("YOUTUBE_CLIENT_ID")
	clientSecret := os.Getenv("YOUTUBE_CLIENT_SECRET")
	refreshToken := os.Getenv("YOUTUBE_REFRESH_TOKEN")
	if clientID == "" || clientSecret == "" || refreshToken == "" {
		return nil, ErrMissingCredentials
	}

	conf := &oauth2.Config{
		ClientID:     clientID,
		ClientSecret: clientSecret,
		Endpoint:     google.Endpoint,
		Scopes:       []string{youtube.YoutubeUploadScope, youtube.YoutubeScope},
	}
	token := &oauth2.Token{
		RefreshToken: refreshToken,
		Expiry:       time.Now().Add(-time.Hour), // force refresh
	}
	return oauth2.NewClient(ctx, conf.TokenSource(ctx, token)), nil
}

// progressReader wraps f in a byte progress bar when show is set
func progressReader(f *os.File, show bool) (io.Reader, func()) {
	if !show {
		return f, func() {}
	}
	fi, err := f.Stat()
	if err != nil {
		log.Warn().Err(err).Msg("[upload] could not create progress bar")
		return f, func() {}
	}
	bar := pb.New64(fi.Size()).SetUnits(pb.U_BYTES)
	bar.ShowSpeed = true
	bar.ShowTimeLeft = true
	bar.Start()
	return bar.NewProxyReader(f), bar.Finish
}

// LogUpload saves the upload result next to the video
func LogUpload(outputDir, videoFile string, res *UploadResult, meta *VideoMetadata) (string, error) {
	entry := map[string]interface{}{
		"video_id":    res.VideoID,
		"video_url":   res.VideoURL,
		"title":       meta.Title,
		"uploaded_at": time.Now().UTC().Format(time.RFC3339),
		"video_file":  videoFile,
	}
	data, err := json.MarshalIndent(entry, "", "  ")
	if err != nil {
		return "", err
	}
	path := filepath.Join(outputDir, fmt.Sprintf("upload_%s.json", time.Now().Format("20060102_150405")))
	if err := os.WriteFile(path, data, 0644); err != nil {
		return "", err
	}
	log.Info().Str("path", path).Msg("[upload] Upload log saved")
	return path, nil
}
