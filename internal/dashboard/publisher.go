package dashboard

import (
	"context"
	"errors"
)

// ErrArtifactNotFound is returned by Publisher.Update when the artifact no
// longer exists on the surface.
var ErrArtifactNotFound = errors.New("dashboard artifact not found")

// Publisher delivers the dashboard to wherever moderators read it.
type Publisher interface {
	// EnsureSurface finds or creates the surface the dashboard lives on.
	EnsureSurface(ctx context.Context) (surfaceID string, err error)
	// Publish creates a new artifact on the surface.
	Publish(ctx context.Context, surfaceID, content string) (artifactID string, err error)
	// Update replaces an existing artifact's content.
	Update(ctx context.Context, surfaceID, artifactID, content string) error
}
