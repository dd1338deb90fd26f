package platform

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"

	"strikekeeper/internal/dashboard"

	"github.com/google/uuid"
)

// DefaultSurface is the directory name the dashboard is written into.
const DefaultSurface = "strike-dashboard"

// FilePublisher writes dashboard artifacts as text files. A surface is a
// directory under root and an artifact is one file in it.
type FilePublisher struct {
	root    string
	surface string
}

var _ dashboard.Publisher = (*FilePublisher)(nil)

// NewFilePublisher creates a FilePublisher rooted at root. An empty surface
// means DefaultSurface.
func NewFilePublisher(root, surface string) *FilePublisher {
	if surface == "" {
		surface = DefaultSurface
	}
	return &FilePublisher{root: root, surface: surface}
}

func (p *FilePublisher) EnsureSurface(ctx context.Context) (string, error) {
	if err := os.MkdirAll(filepath.Join(p.root, p.surface), 0755); err != nil {
		return "", fmt.Errorf("create surface: %w", err)
	}
	return p.surface, nil
}

func (p *FilePublisher) Publish(ctx context.Context, surfaceID, content string) (string, error) {
	artifactID := uuid.NewString()
	if err := p.write(surfaceID, artifactID, content); err != nil {
		return "", err
	}
	return artifactID, nil
}

func (p *FilePublisher) Update(ctx context.Context, surfaceID, artifactID, content string) error {
	if _, err := os.Stat(p.path(surfaceID, artifactID)); err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return dashboard.ErrArtifactNotFound
		}
		return err
	}
	return p.write(surfaceID, artifactID, content)
}

// Path returns the file an artifact is written to.
func (p *FilePublisher) Path(surfaceID, artifactID string) string {
	return p.path(surfaceID, artifactID)
}

func (p *FilePublisher) path(surfaceID, artifactID string) string {
	return filepath.Join(p.root, filepath.Base(surfaceID), filepath.Base(artifactID)+".txt")
}

// write replaces the artifact atomically so readers never see a partial file.
func (p *FilePublisher) write(surfaceID, artifactID, content string) error {
	dir := filepath.Join(p.root, filepath.Base(surfaceID))
	tmp, err := os.CreateTemp(dir, ".artifact-*")
	if err != nil {
		return fmt.Errorf("write artifact: %w", err)
	}
	defer os.Remove(tmp.Name())

	if _, err := tmp.WriteString(content); err != nil {
		tmp.Close()
		return fmt.Errorf("write artifact: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("write artifact: %w", err)
	}
	if err := os.Rename(tmp.Name(), p.path(surfaceID, artifactID)); err != nil {
		return fmt.Errorf("write artifact: %w", err)
	}
	return nil
}
