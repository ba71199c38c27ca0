package shelltune

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/rs/zerolog"
)

// CacheEnvVar overrides the resolved cache root when set. It is read as
// input configuration by the CLI, never written.
const CacheEnvVar = "SHELLTUNE_CACHE"

// localCacheDir is the fallback cache root when no external volume is
// mounted.
const localCacheDir = "model"

// Artifact file names inside the cache root and download URL layout.
const (
	modelFileName     = "gpt2_124M.bin"
	tokenizerFileName = "gpt2_tokenizer.bin"
	hubURLFormat      = "https://huggingface.co/%s/resolve/main/%s"
)

// ModelSource names the base model and where its artifacts may be cached.
type ModelSource struct {
	// ID is the canonical hub identifier, e.g. "joshcarp/llm.go".
	ID string `yaml:"id"`
	// Mount is the name of an external volume under /Volumes that holds a
	// workspace cache. Empty means no external storage.
	Mount string `yaml:"mount"`
}

// DefaultModelSource returns the pretrained GPT-2 export the fine-tune
// starts from.
func DefaultModelSource() ModelSource {
	return ModelSource{ID: "joshcarp/llm.go"}
}

// Resolver decides where model artifacts live: a workspace directory on a
// mounted external volume, the env override, or a local fallback directory.
// Missing artifacts are fetched from the hub into the chosen cache root.
type Resolver struct {
	Source ModelSource
	// VolumesDir is the mount parent, /Volumes unless overridden in tests.
	VolumesDir string
	// CacheOverride, when non-empty, wins over mount detection. Populated
	// from CacheEnvVar by the CLI.
	CacheOverride string
	// Client is used for hub downloads; http.DefaultClient when nil.
	Client *http.Client
	Log    zerolog.Logger
}

// ResolvedModel is the pair of local artifact paths a run loads from.
type ResolvedModel struct {
	ModelPath     string
	TokenizerPath string
}

// cacheRootFor computes the workspace cache directory for a mounted volume:
// the model identifier keeps the tree flat by replacing slashes.
func cacheRootFor(volumesDir, mount, modelID string) string {
	return filepath.Join(volumesDir, mount, "VSWorkspace", strings.ReplaceAll(modelID, "/", "_"))
}

// CacheRoot picks the cache directory: the explicit override if set, the
// external workspace when the volume is mounted, otherwise the local
// fallback directory.
func (r *Resolver) CacheRoot() string {
	if r.CacheOverride != "" {
		return r.CacheOverride
	}
	volumes := r.VolumesDir
	if volumes == "" {
		volumes = "/Volumes"
	}
	if r.Source.Mount != "" {
		if _, err := os.Stat(filepath.Join(volumes, r.Source.Mount)); err == nil {
			return cacheRootFor(volumes, r.Source.Mount, r.Source.ID)
		}
	}
	return localCacheDir
}

// Resolve returns local paths for the model checkpoint and tokenizer,
// downloading whichever is missing from the cache root. Fetch failures are
// not retried and propagate to the caller.
func (r *Resolver) Resolve(ctx context.Context) (ResolvedModel, error) {
	root := r.CacheRoot()
	if err := os.MkdirAll(root, 0o755); err != nil {
		return ResolvedModel{}, fmt.Errorf("creating cache root: %w", err)
	}
	resolved := ResolvedModel{
		ModelPath:     filepath.Join(root, modelFileName),
		TokenizerPath: filepath.Join(root, tokenizerFileName),
	}
	for _, name := range []string{modelFileName, tokenizerFileName} {
		path := filepath.Join(root, name)
		if _, err := os.Stat(path); err == nil {
			r.Log.Debug().Str("path", path).Msg("artifact cached")
			continue
		}
		url := fmt.Sprintf(hubURLFormat, r.Source.ID, name)
		if err := r.download(ctx, path, url); err != nil {
			return ResolvedModel{}, fmt.Errorf("fetching %s: %w", name, err)
		}
	}
	return resolved, nil
}

// download streams a hub file to disk, logging progress every few seconds.
func (r *Resolver) download(ctx context.Context, outputPath, url string) error {
	r.Log.Info().Str("url", url).Msg("downloading artifact")
	client := r.Client
	if client == nil {
		client = http.DefaultClient
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return err
	}
	resp, err := client.Do(req)
	if err != nil {
		return fmt.Errorf("failed to get file: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("unexpected status code: %d", resp.StatusCode)
	}

	out, err := os.Create(outputPath)
	if err != nil {
		return fmt.Errorf("failed to create file %s: %w", outputPath, err)
	}
	defer out.Close()

	var totalRead int64
	lastLog := time.Now()
	buf := make([]byte, 64*1024)
	for {
		n, err := resp.Body.Read(buf)
		if n > 0 {
			totalRead += int64(n)
			if time.Since(lastLog) > 3*time.Second {
				r.Log.Info().
					Int64("bytes", totalRead).
					Float64("percent", float64(totalRead)/float64(resp.ContentLength)*100).
					Msg("downloading")
				lastLog = time.Now()
			}
			if _, writeErr := out.Write(buf[:n]); writeErr != nil {
				return fmt.Errorf("failed to write to file %s: %w", outputPath, writeErr)
			}
		}
		if err == io.EOF {
			break
		}
		if err != nil {
			return fmt.Errorf("failed to read data: %w", err)
		}
	}
	r.Log.Info().Str("path", outputPath).Int64("bytes", totalRead).Msg("download complete")
	return nil
}
