// Package prequeue holds guest submissions until a moderator approves or declines them.
package prequeue

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/spotiqueue/server/internal/audit"
	"github.com/spotiqueue/server/internal/catalog"
	"github.com/spotiqueue/server/internal/cooldown"
	"github.com/spotiqueue/server/internal/errs"
	"github.com/spotiqueue/server/internal/identity"
	"github.com/spotiqueue/server/internal/lock"
	"github.com/spotiqueue/server/internal/settings"
	"github.com/spotiqueue/server/internal/store"
	"github.com/spotiqueue/server/pkg/events"
	"github.com/spotiqueue/server/pkg/metrics"
	"github.com/spotiqueue/server/pkg/models"
)

const defaultApprover = "admin"

// Invalidator drops a cached queue snapshot.
type Invalidator interface {
	Invalidate()
}

type Workflow struct {
	store     store.PrequeueStore
	catalog   catalog.Catalog
	ledger    *identity.Ledger
	cooldown  *cooldown.Engine
	recorder  *audit.Recorder
	locker    lock.Locker
	settings  settings.Source
	publisher events.Publisher
	queue     Invalidator
	log       *zap.Logger
	now       func() time.Time
}

type Deps struct {
	Store     store.PrequeueStore
	Catalog   catalog.Catalog
	Ledger    *identity.Ledger
	Cooldown  *cooldown.Engine
	Recorder  *audit.Recorder
	Locker    lock.Locker
	Settings  settings.Source
	Publisher events.Publisher
	Queue     Invalidator
	Log       *zap.Logger
}

func NewWorkflow(d Deps) *Workflow {
	if d.Publisher == nil {
		d.Publisher = events.Nop{}
	}
	return &Workflow{
		store:     d.Store,
		catalog:   d.Catalog,
		ledger:    d.Ledger,
		cooldown:  d.Cooldown,
		recorder:  d.Recorder,
		locker:    d.Locker,
		settings:  d.Settings,
		publisher: d.Publisher,
		queue:     d.Queue,
		log:       d.Log,
		now:       time.Now,
	}
}

// Submit inserts a pending entry for track on behalf of who. It rejects a track
// that is already pending or already live. The live-queue check is best effort.
func (w *Workflow) Submit(ctx context.Context, who *models.Identity, track *catalog.Track) (*models.PrequeueEntry, error) {
	unlock, err := w.locker.Lock(ctx, "prequeue:track:"+track.ID)
	if err != nil {
		return nil, fmt.Errorf("failed to lock prequeue track: %w", err)
	}
	defer unlock()

	if live, err := w.catalog.ReadLiveQueue(ctx); err != nil {
		w.log.Warn("prequeue duplicate check skipped", zap.String("track", track.ID), zap.Error(err))
	} else if live.Contains(track.ID) {
		return nil, errs.Conflict("This song is already in the queue.")
	}

	if _, err := w.store.PendingForTrack(ctx, track.ID); err == nil {
		return nil, errs.Conflict("This song is already pending approval.")
	} else if !errors.Is(err, errs.ErrNotFound) {
		return nil, fmt.Errorf("failed to check pending entries: %w", err)
	}

	entry := &models.PrequeueEntry{
		ID:         uuid.NewString(),
		IdentityID: who.ID,
		TrackID:    track.ID,
		TrackName:  track.Name,
		ArtistName: track.ArtistLine(),
		Status:     models.PrequeuePending,
		CreatedAt:  w.now().UTC(),
	}
	if track.AlbumArt != "" {
		art := track.AlbumArt
		entry.AlbumArt = &art
	}
	if err := w.store.InsertPrequeue(ctx, entry); err != nil {
		return nil, fmt.Errorf("failed to insert prequeue entry: %w", err)
	}

	w.publish(ctx, events.EventTypePrequeueSubmitted, entry)
	return entry, nil
}

func (w *Workflow) load(ctx context.Context, id string) (*models.PrequeueEntry, error) {
	entry, err := w.store.GetPrequeue(ctx, id)
	if errors.Is(err, errs.ErrNotFound) {
		return nil, errs.NotFound("Prequeue entry not found")
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load prequeue entry: %w", err)
	}
	return entry, nil
}

// Approve forwards a pending entry and credits the success to the original submitter.
// A second call on the same entry is rejected with a conflict.
func (w *Workflow) Approve(ctx context.Context, id, approvedBy string) (*models.PrequeueEntry, error) {
	if approvedBy == "" {
		approvedBy = defaultApprover
	}
	unlock, err := w.locker.Lock(ctx, "prequeue:"+id)
	if err != nil {
		return nil, fmt.Errorf("failed to lock prequeue entry: %w", err)
	}
	defer unlock()

	entry, err := w.load(ctx, id)
	if err != nil {
		return nil, err
	}
	next, err := entry.Status.Approve()
	if err != nil {
		return nil, errs.Conflict("Track already processed")
	}

	submitter, err := w.ledger.Get(ctx, entry.IdentityID)
	if err != nil {
		return nil, err
	}
	values, err := w.settings.Values(ctx)
	if err != nil {
		return nil, err
	}

	err = w.cooldown.WithGroup(ctx, submitter, cooldown.PolicyFrom(values), func(g *cooldown.Group) error {
		rec := audit.Entry{
			Entry:      audit.EntryApproval,
			IdentityID: entry.IdentityID,
			TrackID:    entry.TrackID,
			TrackName:  entry.TrackName,
			ArtistName: entry.ArtistName,
			PrequeueID: entry.ID,
		}

		track, err := w.catalog.GetTrack(ctx, entry.TrackID)
		if err == nil {
			err = w.catalog.Enqueue(ctx, track.URI)
		}
		if err != nil {
			metrics.UpstreamErrors.WithLabelValues("enqueue").Inc()
			rec.Outcome, rec.Detail = models.OutcomeError, err.Error()
			w.recorder.Record(ctx, rec)
			return errs.Upstream("Failed to queue track", err)
		}

		// Forwarded: finish the transition and accounting even if the caller has gone away.
		ctx := context.WithoutCancel(ctx)
		if err := w.store.TransitionPrequeue(ctx, entry.ID, models.PrequeuePending, next, approvedBy); err != nil {
			if errors.Is(err, errs.ErrConflict) {
				w.log.Error("prequeue entry changed during approval after forwarding", zap.String("entry", entry.ID))
				return errs.Conflict("Track already processed")
			}
			return fmt.Errorf("failed to approve prequeue entry: %w", err)
		}

		rec.Outcome = models.OutcomeSuccess
		if err := w.recorder.Record(ctx, rec); err != nil {
			g.CloseWindow(ctx)
		}
		if _, err := g.PostForward(ctx); err != nil {
			w.log.Error("failed to settle cooldown after approval", zap.String("entry", entry.ID), zap.Error(err))
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	entry.Status = next
	entry.ApprovedBy = &approvedBy
	metrics.PrequeueTransitions.WithLabelValues(string(next)).Inc()
	if w.queue != nil {
		w.queue.Invalidate()
	}
	w.publish(ctx, events.EventTypePrequeueApproved, entry)
	w.log.Info("prequeue entry approved", zap.String("entry", entry.ID), zap.String("by", approvedBy))
	return entry, nil
}

// Decline closes a pending entry without forwarding it.
func (w *Workflow) Decline(ctx context.Context, id, declinedBy string) (*models.PrequeueEntry, error) {
	if declinedBy == "" {
		declinedBy = defaultApprover
	}
	unlock, err := w.locker.Lock(ctx, "prequeue:"+id)
	if err != nil {
		return nil, fmt.Errorf("failed to lock prequeue entry: %w", err)
	}
	defer unlock()

	entry, err := w.load(ctx, id)
	if err != nil {
		return nil, err
	}
	next, err := entry.Status.Decline()
	if err != nil {
		return nil, errs.Conflict("Track already processed")
	}
	if err := w.store.TransitionPrequeue(ctx, entry.ID, models.PrequeuePending, next, declinedBy); err != nil {
		if errors.Is(err, errs.ErrConflict) {
			return nil, errs.Conflict("Track already processed")
		}
		return nil, fmt.Errorf("failed to decline prequeue entry: %w", err)
	}

	entry.Status = next
	entry.ApprovedBy = &declinedBy
	metrics.PrequeueTransitions.WithLabelValues(string(next)).Inc()
	w.publish(ctx, events.EventTypePrequeueDeclined, entry)
	w.log.Info("prequeue entry declined", zap.String("entry", entry.ID), zap.String("by", declinedBy))
	return entry, nil
}

func (w *Workflow) Pending(ctx context.Context) ([]models.PrequeueEntry, error) {
	return w.store.ListPrequeue(ctx, models.PrequeuePending)
}

func (w *Workflow) List(ctx context.Context, status models.PrequeueStatus) ([]models.PrequeueEntry, error) {
	switch status {
	case "", models.PrequeuePending, models.PrequeueApproved, models.PrequeueDeclined:
	default:
		return nil, errs.Validation(fmt.Sprintf("unknown status %q", status))
	}
	return w.store.ListPrequeue(ctx, status)
}

func (w *Workflow) publish(ctx context.Context, t events.EventType, entry *models.PrequeueEntry) {
	payload := events.PrequeuePayload{
		EntryID:   entry.ID,
		TrackID:   entry.TrackID,
		TrackName: entry.TrackName,
		Artist:    entry.ArtistName,
	}
	if entry.ApprovedBy != nil {
		payload.ApprovedBy = *entry.ApprovedBy
	}
	ev, err := events.NewEvent(t, entry.IdentityID, payload)
	if err != nil {
		return
	}
	if err := w.publisher.Publish(ctx, ev); err != nil {
		w.log.Warn("failed to publish prequeue event", zap.Error(err))
	}
}
