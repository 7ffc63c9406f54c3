package publish

import (
	"context"
	"fmt"
	"io"
	"os"
	"path"
	"path/filepath"

	"cloud.google.com/go/storage"
	"github.com/rs/zerolog/log"

	"news-video-pipeline/config"
)

// Archiver copies finished videos to a Cloud Storage bucket.
// Credentials come from GOOGLE_APPLICATION_CREDENTIALS.
type Archiver struct {
	bucket       string
	prefix       string
	showProgress bool
}

// NewArchiver creates an Archiver for the configured bucket
func NewArchiver(cfg config.GCSConfig, showProgress bool) *Archiver {
	return &Archiver{bucket: cfg.Bucket, prefix: cfg.Prefix, showProgress: showProgress}
}

// ObjectName is where a local file lands in the bucket
func (a *Archiver) ObjectName(localPath string) string {
	return path.Join(a.prefix, filepath.Base(localPath))
}

// Archive uploads the video and returns its gs:// URL
func (a *Archiver) Archive(ctx context.Context, localPath string) (string, error) {
	if a.bucket == "" {
		return "", fmt.Errorf("publish.gcs.bucket is not set")
	}
	c, err := storage.NewClient(ctx)
	if err != nil {
		return "", fmt.Errorf("could not create storage client: %v", err)
	}
	defer c.Close()

	f, err := os.Open(localPath)
	if err != nil {
		return "", fmt.Errorf("could not open %s: %v", localPath, err)
	}
	defer f.Close()

	name := a.ObjectName(localPath)
	w := c.Bucket(a.bucket).Object(name).NewWriter(ctx)
	w.ContentType = "video/mp4"

	log.Info().Str("bucket", a.bucket).Str("object", name).Msg("[archive] Uploading video to Google Cloud Storage")
	r, done := progressReader(f, a.showProgress)
	defer done()

	if _, err := io.Copy(w, r); err != nil {
		w.Close()
		return "", fmt.Errorf("could not write to storage: %v", err)
	}
	if err := w.Close(); err != nil {
		return "", fmt.Errorf("could not close storage writer: %v", err)
	}

	url := fmt.Sprintf("gs://%s/%s", a.bucket, name)
	log.Info().Str("url", url).Msg("[archive] ✅ Archived")
	return url, nil
}
