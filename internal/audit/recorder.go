// Package audit writes the submission log that cooldown accounting and votability read back.
package audit

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/spotiqueue/server/internal/catalog"
	"github.com/spotiqueue/server/internal/store"
	"github.com/spotiqueue/server/pkg/events"
	"github.com/spotiqueue/server/pkg/metrics"
	"github.com/spotiqueue/server/pkg/models"
)

const (
	EntryDirect   = "direct"
	EntryPrequeue = "prequeue"
	EntryApproval = "approval"
)

type Entry struct {
	Entry      string
	IdentityID string
	TrackID    string
	Track      *catalog.Track
	// TrackName and ArtistName are used when Track is nil.
	TrackName  string
	ArtistName string
	Outcome    models.Outcome
	Detail     string
	PrequeueID string
}

type Recorder struct {
	store     store.AttemptStore
	publisher events.Publisher
	log       *zap.Logger
	now       func() time.Time
}

func NewRecorder(s store.AttemptStore, publisher events.Publisher, log *zap.Logger) *Recorder {
	if publisher == nil {
		publisher = events.Nop{}
	}
	return &Recorder{store: s, publisher: publisher, log: log, now: time.Now}
}

// Record appends one audit row and returns the write error. Event publication is best effort.
func (r *Recorder) Record(ctx context.Context, e Entry) error {
	row := &models.SubmissionAttempt{
		IdentityID: e.IdentityID,
		TrackName:  e.TrackName,
		ArtistName: e.ArtistName,
		Outcome:    e.Outcome,
		Timestamp:  r.now().UTC(),
	}
	if e.Track != nil {
		row.TrackName = e.Track.Name
		row.ArtistName = e.Track.ArtistLine()
		if e.TrackID == "" {
			e.TrackID = e.Track.ID
		}
	}
	if e.TrackID != "" {
		row.TrackID = &e.TrackID
	}
	if e.Detail != "" {
		row.ErrorDetail = &e.Detail
	}

	metrics.Admissions.WithLabelValues(e.Entry, string(e.Outcome)).Inc()

	err := r.store.InsertAttempt(ctx, row)
	if err != nil {
		r.log.Error("failed to write submission attempt",
			zap.String("identity", e.IdentityID),
			zap.String("outcome", string(e.Outcome)),
			zap.Error(err))
	}

	ev, evErr := events.NewEvent(events.EventTypeSubmission, e.IdentityID, events.SubmissionPayload{
		TrackID:    e.TrackID,
		TrackName:  row.TrackName,
		Artist:     row.ArtistName,
		Outcome:    string(e.Outcome),
		PrequeueID: e.PrequeueID,
	})
	if evErr == nil {
		if pubErr := r.publisher.Publish(ctx, ev); pubErr != nil {
			r.log.Warn("failed to publish submission event", zap.Error(pubErr))
		}
	}
	return err
}
