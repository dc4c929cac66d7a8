package ingest

import (
	"context"
	"os"
	"path/filepath"
	"strings"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
	"gopkg.in/yaml.v3"
)

// Manifest describes the bid files of one procurement event.
type Manifest struct {
	EventID     string          `yaml:"event_id"`
	Submissions []ManifestEntry `yaml:"submissions"`

	baseDir string
}

// ManifestEntry is one vendor file. Relative paths resolve against the
// manifest's directory.
type ManifestEntry struct {
	SubmissionID string `yaml:"submission_id"`
	VendorName   string `yaml:"vendor_name"`
	File         string `yaml:"file"`
	Sheet        string `yaml:"sheet,omitempty"`
}

// LoadManifest reads and validates a YAML manifest.
func LoadManifest(path string) (*Manifest, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, eris.Wrap(err, "manifest: read file")
	}
	var m Manifest
	if err := yaml.Unmarshal(data, &m); err != nil {
		return nil, eris.Wrap(err, "manifest: parse yaml")
	}
	m.baseDir = filepath.Dir(path)

	if m.EventID == "" {
		return nil, eris.New("manifest: event_id is required")
	}
	if len(m.Submissions) == 0 {
		return nil, eris.New("manifest: no submissions listed")
	}
	for i, s := range m.Submissions {
		if s.File == "" {
			return nil, eris.Errorf("manifest: submission %d has no file", i+1)
		}
	}
	return &m, nil
}

// Read loads every listed file, at most parallelism at a time, and merges the
// results in manifest order.
func (m *Manifest) Read(ctx context.Context, parallelism int) (*Batch, error) {
	if parallelism <= 0 {
		parallelism = 4
	}
	results := make([]*Batch, len(m.Submissions))

	g, gCtx := errgroup.WithContext(ctx)
	g.SetLimit(parallelism)
	for i, entry := range m.Submissions {
		g.Go(func() error {
			path := entry.File
			if !filepath.IsAbs(path) {
				path = filepath.Join(m.baseDir, path)
			}
			b, err := ReadFile(gCtx, path, Options{
				SubmissionID: entry.SubmissionID,
				VendorName:   entry.VendorName,
				Sheet:        entry.Sheet,
			})
			if err != nil {
				return eris.Wrapf(err, "manifest: %s", entry.File)
			}
			zap.L().Debug("ingest: file read",
				zap.String("file", entry.File),
				zap.Int("items", len(b.Items)),
				zap.Int("rejected", len(b.Rejections)),
			)
			results[i] = b
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	out := &Batch{}
	for _, b := range results {
		out.merge(b)
	}
	out.sortRejections()
	return out, nil
}

// ReadFile dispatches on the file extension.
func ReadFile(ctx context.Context, path string, opts Options) (*Batch, error) {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".xlsx":
		return ReadXLSX(ctx, path, opts)
	case ".csv", ".json":
	default:
		return nil, eris.Errorf("ingest: unsupported file type %q", filepath.Ext(path))
	}

	f, err := os.Open(path)
	if err != nil {
		return nil, eris.Wrap(err, "ingest: open file")
	}
	defer f.Close() //nolint:errcheck

	if strings.EqualFold(filepath.Ext(path), ".json") {
		return ReadJSON(f, opts)
	}
	return ReadCSV(ctx, f, opts)
}
