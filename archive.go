package shelltune

import (
	"archive/tar"
	"compress/gzip"
	"fmt"
	"io"
	"os"
	"path/filepath"
)

// Artifact file names inside a saved run directory.
const (
	ArtifactModelFile     = "model.bin"
	ArtifactAdapterFile   = "adapter.bin"
	ArtifactTokenizerFile = "tokenizer.bin"
)

// SaveArtifacts persists the results of a run into dir: the merged model in
// base checkpoint format, the adapter weights alone, and the tokenizer. The
// adapters are folded into the base weights before writing.
func SaveArtifacts(dir string, m *Model) error {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("creating artifact dir: %w", err)
	}
	if err := m.SaveAdapter(filepath.Join(dir, ArtifactAdapterFile)); err != nil {
		return err
	}
	m.MergeAdapters()
	if err := m.Save(filepath.Join(dir, ArtifactModelFile)); err != nil {
		return err
	}
	return m.Tokenizer.Save(filepath.Join(dir, ArtifactTokenizerFile))
}

// ArchiveDir compresses the contents of srcDir into a single tar.gz at
// dstPath, with paths stored relative to srcDir.
func ArchiveDir(srcDir, dstPath string) error {
	out, err := os.Create(dstPath)
	if err != nil {
		return fmt.Errorf("creating archive: %w", err)
	}
	defer out.Close()
	gz := gzip.NewWriter(out)
	defer gz.Close()
	tw := tar.NewWriter(gz)
	defer tw.Close()

	return filepath.Walk(srcDir, func(path string, info os.FileInfo, err error) error {
		if err != nil {
			return err
		}
		rel, err := filepath.Rel(srcDir, path)
		if err != nil {
			return err
		}
		if rel == "." {
			return nil
		}
		header, err := tar.FileInfoHeader(info, "")
		if err != nil {
			return err
		}
		header.Name = filepath.ToSlash(rel)
		if err := tw.WriteHeader(header); err != nil {
			return err
		}
		if info.IsDir() {
			return nil
		}
		f, err := os.Open(path)
		if err != nil {
			return err
		}
		defer f.Close()
		_, err = io.Copy(tw, f)
		return err
	})
}
