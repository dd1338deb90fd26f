package dashboard

import (
	"context"
	"errors"
	"fmt"

	"strikekeeper/internal/strikes"

	"github.com/rs/zerolog/log"
)

// Refresher re-renders the summary and keeps exactly one live artifact,
// tracked by the store's summary anchor.
type Refresher struct {
	store      strikes.Store
	summarizer *strikes.Summarizer
	publisher  Publisher
	clock      strikes.Clock
}

// NewRefresher creates a Refresher.
func NewRefresher(store strikes.Store, summarizer *strikes.Summarizer, publisher Publisher, clock strikes.Clock) *Refresher {
	if clock == nil {
		clock = strikes.SystemClock{}
	}
	return &Refresher{store: store, summarizer: summarizer, publisher: publisher, clock: clock}
}

// Refresh renders the current summary and writes it to the anchored
// artifact, recreating the artifact if there is none or it has gone stale.
// When the summary cannot be built an error notice is published instead and
// the build error is returned.
func (r *Refresher) Refresh(ctx context.Context) error {
	content, buildErr := r.render(ctx)

	anchor, err := r.store.GetSummaryAnchor(ctx)
	if err != nil {
		return errors.Join(buildErr, fmt.Errorf("read summary anchor: %w", err))
	}

	if anchor == nil {
		log.Info().Msg("dashboard: no summary anchor, creating artifact")
		_, err := r.Ensure(ctx, content)
		return errors.Join(buildErr, err)
	}

	err = r.publisher.Update(ctx, anchor.SurfaceID, anchor.ArtifactID, content)
	if errors.Is(err, ErrArtifactNotFound) {
		log.Info().
			Str("surface_id", anchor.SurfaceID).
			Str("artifact_id", anchor.ArtifactID).
			Msg("dashboard: artifact missing, recreating")
		_, err = r.Ensure(ctx, content)
		return errors.Join(buildErr, err)
	}
	if err != nil {
		return errors.Join(buildErr, fmt.Errorf("update dashboard: %w", err))
	}

	log.Debug().Msg("dashboard: updated")
	return buildErr
}

// Ensure publishes content as a new artifact and stores it as the summary
// anchor, replacing any previous anchor.
func (r *Refresher) Ensure(ctx context.Context, content string) (strikes.SummaryAnchor, error) {
	surfaceID, err := r.publisher.EnsureSurface(ctx)
	if err != nil {
		return strikes.SummaryAnchor{}, fmt.Errorf("ensure dashboard surface: %w", err)
	}

	artifactID, err := r.publisher.Publish(ctx, surfaceID, content)
	if err != nil {
		return strikes.SummaryAnchor{}, fmt.Errorf("publish dashboard: %w", err)
	}

	anchor := strikes.SummaryAnchor{SurfaceID: surfaceID, ArtifactID: artifactID}
	if err := r.store.SaveSummaryAnchor(ctx, anchor); err != nil {
		return anchor, err
	}

	log.Info().
		Str("surface_id", surfaceID).
		Str("artifact_id", artifactID).
		Msg("dashboard: new artifact created")
	return anchor, nil
}

func (r *Refresher) render(ctx context.Context) (string, error) {
	now := r.clock.Now()
	summary, err := r.summarizer.Build(ctx)
	if err != nil {
		return RenderUnavailable(now), fmt.Errorf("build summary: %w", err)
	}
	content, err := Render(summary, now)
	if err != nil {
		return RenderUnavailable(now), err
	}
	return content, nil
}
