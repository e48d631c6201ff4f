// Package admission decides, for every guest song request, whether it may enter the queue.
//
// Both entry points run the same gates in the same order: feature switch,
// username, external login, device block, track reference, ban list, track
// metadata, content rules, cooldown. Direct submissions then forward to the
// catalog; prequeue submissions hand off to the prequeue workflow. Everything
// from the ban check onward runs under the cooldown group lock, so two
// requests from one group can never both pass the pre-check.
package admission

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/spotiqueue/server/internal/audit"
	"github.com/spotiqueue/server/internal/catalog"
	"github.com/spotiqueue/server/internal/cooldown"
	"github.com/spotiqueue/server/internal/errs"
	"github.com/spotiqueue/server/internal/identity"
	"github.com/spotiqueue/server/internal/moderation"
	"github.com/spotiqueue/server/internal/prequeue"
	"github.com/spotiqueue/server/internal/settings"
	"github.com/spotiqueue/server/pkg/metrics"
	"github.com/spotiqueue/server/pkg/models"
)

const searchLimit = 10

// Request is the input shared by both submission entry points.
type Request struct {
	Token    string `json:"fingerprint_id"`
	TrackID  string `json:"trackId"`
	TrackURL string `json:"trackUrl"`
}

type Result struct {
	Success    bool           `json:"success"`
	Message    string         `json:"message"`
	Track      *catalog.Track `json:"track,omitempty"`
	PrequeueID string         `json:"prequeue_id,omitempty"`
}

// Status is the answer to a validate call: may this device submit right now.
type Status struct {
	Valid             bool                 `json:"valid"`
	Identity          *models.Identity     `json:"fingerprint"`
	CooldownRemaining int                  `json:"cooldown_remaining"`
	SongsLeft         int                  `json:"songs_left"`
	Auth              identity.Requirement `json:"auth"`
}

// Invalidator drops a cached queue snapshot.
type Invalidator interface {
	Invalidate()
}

type LastSubmitToucher interface {
	TouchLastSubmit(ctx context.Context, id string, at time.Time) error
}

type Deps struct {
	Store    LastSubmitToucher
	Catalog  catalog.Catalog
	Ledger   *identity.Ledger
	Bans     *moderation.Bans
	Cooldown *cooldown.Engine
	Prequeue *prequeue.Workflow
	Recorder *audit.Recorder
	Settings settings.Source
	Queue    Invalidator
	Log      *zap.Logger
}

type Coordinator struct {
	store    LastSubmitToucher
	catalog  catalog.Catalog
	ledger   *identity.Ledger
	bans     *moderation.Bans
	cooldown *cooldown.Engine
	prequeue *prequeue.Workflow
	recorder *audit.Recorder
	settings settings.Source
	queue    Invalidator
	log      *zap.Logger
	now      func() time.Time
}

func NewCoordinator(d Deps) *Coordinator {
	return &Coordinator{
		store:    d.Store,
		catalog:  d.Catalog,
		ledger:   d.Ledger,
		bans:     d.Bans,
		cooldown: d.Cooldown,
		prequeue: d.Prequeue,
		recorder: d.Recorder,
		settings: d.Settings,
		queue:    d.Queue,
		log:      d.Log,
		now:      time.Now,
	}
}

// submission carries one request through the gates.
type submission struct {
	entry   string
	who     *models.Identity
	values  settings.Values
	trackID string
}

func (s *submission) row(outcome models.Outcome, detail string) audit.Entry {
	return audit.Entry{
		Entry:      s.entry,
		IdentityID: s.who.ID,
		TrackID:    s.trackID,
		Outcome:    outcome,
		Detail:     detail,
	}
}

// SubmitDirect forwards a track straight to the live queue.
func (c *Coordinator) SubmitDirect(ctx context.Context, req Request) (*Result, error) {
	s, err := c.admit(ctx, req, audit.EntryDirect, func(v settings.Values) error {
		if !v.QueueingEnabled {
			return errs.Disabled("Queueing is currently disabled.")
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	var result *Result
	err = c.withTrack(ctx, s, func(g *cooldown.Group, track *catalog.Track) error {
		if err := c.catalog.Enqueue(ctx, track.URI); err != nil {
			metrics.UpstreamErrors.WithLabelValues("enqueue").Inc()
			c.record(ctx, withTrack(s.row(models.OutcomeError, err.Error()), track))
			return errs.Upstream("Failed to queue track", err)
		}

		// The track is live: the bookkeeping below must finish even if the caller has gone away.
		ctx := context.WithoutCancel(ctx)
		if err := c.recorder.Record(ctx, withTrack(s.row(models.OutcomeSuccess, ""), track)); err != nil {
			g.CloseWindow(ctx)
		}
		if err := c.store.TouchLastSubmit(ctx, s.who.ID, c.now().UTC()); err != nil {
			c.log.Warn("failed to touch last submit", zap.String("identity", s.who.ID), zap.Error(err))
		}
		if _, err := g.PostForward(ctx); err != nil {
			c.log.Error("failed to settle cooldown after forward", zap.String("identity", s.who.ID), zap.Error(err))
		}

		result = &Result{
			Success: true,
			Message: fmt.Sprintf("Queued: %s - %s", track.Name, track.ArtistLine()),
			Track:   track,
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	if c.queue != nil {
		c.queue.Invalidate()
	}
	c.log.Info("track queued", zap.String("identity", s.who.ID), zap.String("track", s.trackID))
	return result, nil
}

// SubmitPrequeue holds a track for moderator approval instead of forwarding it.
func (c *Coordinator) SubmitPrequeue(ctx context.Context, req Request) (*Result, error) {
	s, err := c.admit(ctx, req, audit.EntryPrequeue, func(v settings.Values) error {
		if !v.PrequeueEnabled {
			return errs.Disabled("Prequeue is currently disabled.")
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	var result *Result
	err = c.withTrack(ctx, s, func(_ *cooldown.Group, track *catalog.Track) error {
		entry, err := c.prequeue.Submit(ctx, s.who, track)
		if err != nil {
			outcome := models.OutcomeError
			if errs.Is(err, errs.KindConflict) {
				outcome = models.OutcomeBlocked
			}
			c.record(ctx, withTrack(s.row(outcome, err.Error()), track))
			return err
		}

		row := withTrack(s.row(models.OutcomePrequeued, ""), track)
		row.PrequeueID = entry.ID
		c.record(ctx, row)

		result = &Result{
			Success:    true,
			Message:    "Track submitted for approval",
			Track:      track,
			PrequeueID: entry.ID,
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return result, nil
}

// admit runs the gates that need no lock: identity, feature switch, username,
// external login, block status and track reference.
func (c *Coordinator) admit(ctx context.Context, req Request, entry string, enabled func(settings.Values) error) (*submission, error) {
	who, err := c.ledger.Resolve(ctx, strings.TrimSpace(req.Token))
	if err != nil {
		return nil, err
	}
	values, err := c.settings.Values(ctx)
	if err != nil {
		return nil, err
	}
	s := &submission{entry: entry, who: who, values: values}

	if err := enabled(values); err != nil {
		c.record(ctx, s.row(models.OutcomeBlocked, err.Error()))
		return nil, err
	}
	if values.RequireUsername && (who.DisplayName == nil || *who.DisplayName == "") {
		return nil, errs.Validation("Username is required")
	}
	if err := identity.CheckAuth(who, values.RequireGithubAuth, values.RequireGoogleAuth).Err(); err != nil {
		c.record(ctx, s.row(models.OutcomeBlocked, err.Error()))
		return nil, err
	}
	if who.Blocked() {
		err := errs.Blocked("This device is blocked from queueing songs.")
		c.record(ctx, s.row(models.OutcomeBlocked, err.Error()))
		return nil, err
	}

	s.trackID, err = trackRef(req)
	if err != nil {
		return nil, err
	}
	return s, nil
}

func trackRef(req Request) (string, error) {
	if ref := strings.TrimSpace(req.TrackURL); ref != "" {
		id, ok := catalog.ParseTrackRef(ref)
		if !ok {
			return "", errs.Validation("Invalid Spotify URL. Use format: https://open.spotify.com/track/TRACK_ID or spotify:track:TRACK_ID")
		}
		return id, nil
	}
	id := strings.TrimSpace(req.TrackID)
	if id == "" {
		return "", errs.Validation("Track ID or URL required")
	}
	if parsed, ok := catalog.ParseTrackRef(id); ok {
		return parsed, nil
	}
	if !catalog.ValidID(id) {
		return "", errs.Validation("Invalid track ID")
	}
	return id, nil
}

// withTrack takes the cooldown group lock and runs the ban, metadata, content
// and cooldown gates before handing the resolved track to fn. Every rejection
// writes its audit row before returning.
func (c *Coordinator) withTrack(ctx context.Context, s *submission, fn func(g *cooldown.Group, track *catalog.Track) error) error {
	rules := moderation.Rules{BanExplicit: s.values.BanExplicit, MaxSongDuration: s.values.MaxSongDuration}

	return c.cooldown.WithGroup(ctx, s.who, cooldown.PolicyFrom(s.values), func(g *cooldown.Group) error {
		banned, err := c.bans.IsBanned(ctx, s.trackID)
		if err != nil {
			c.record(ctx, s.row(models.OutcomeError, err.Error()))
			return errs.Internal("Failed to check ban list", err)
		}
		if banned {
			d := moderation.Evaluate(&catalog.Track{ID: s.trackID}, true, rules)
			c.record(ctx, s.row(d.Outcome(), string(d.Reason)))
			return d.Err()
		}

		track, err := c.catalog.GetTrack(ctx, s.trackID)
		if err != nil {
			metrics.UpstreamErrors.WithLabelValues("get_track").Inc()
			c.record(ctx, s.row(models.OutcomeError, err.Error()))
			return errs.Upstream("Failed to fetch track", err)
		}

		if d := moderation.Evaluate(track, false, rules); !d.Allowed {
			c.record(ctx, withTrack(s.row(d.Outcome(), string(d.Reason)), track))
			return d.Err()
		}

		if err := g.PreCheck(ctx); err != nil {
			outcome := models.OutcomeRateLimited
			if !errs.Is(err, errs.KindRateLimited) {
				outcome = models.OutcomeError
			}
			c.record(ctx, withTrack(s.row(outcome, err.Error()), track))
			return err
		}

		return fn(g, track)
	})
}

func withTrack(e audit.Entry, track *catalog.Track) audit.Entry {
	e.Track = track
	return e
}

// record writes the audit row. A write failure is logged by the recorder and
// never changes the caller's outcome.
func (c *Coordinator) record(ctx context.Context, e audit.Entry) {
	_ = c.recorder.Record(ctx, e)
}

// Validate reports whether the device may submit now without submitting anything.
func (c *Coordinator) Validate(ctx context.Context, token string) (*Status, error) {
	who, err := c.ledger.Lookup(ctx, strings.TrimSpace(token))
	if err != nil {
		return nil, err
	}
	values, err := c.settings.Values(ctx)
	if err != nil {
		return nil, err
	}
	if values.RequireUsername && (who.DisplayName == nil || *who.DisplayName == "") {
		return nil, errs.Validation("Username is required")
	}
	if who.Blocked() {
		return nil, errs.Blocked("Device is blocked from queueing songs.")
	}

	policy := cooldown.PolicyFrom(values)
	remaining, err := c.cooldown.Remaining(ctx, who, policy)
	if err != nil {
		return nil, err
	}
	if remaining > 0 {
		return nil, errs.RateLimited("Please wait before queueing another song!", remaining)
	}
	left, err := c.cooldown.SongsLeft(ctx, who, policy)
	if err != nil {
		return nil, err
	}
	return &Status{
		Valid:     true,
		Identity:  who,
		SongsLeft: left,
		Auth:      identity.CheckAuth(who, values.RequireGithubAuth, values.RequireGoogleAuth),
	}, nil
}

// Registration is the result of Register.
type Registration struct {
	Token            string           `json:"fingerprint_id"`
	Username         *string          `json:"username"`
	RequiresUsername bool             `json:"requires_username"`
	Identity         *models.Identity `json:"-"`
}

// Register creates or returns the identity for token, minting a token when none is given.
// The username is only recorded when the identity has none yet.
func (c *Coordinator) Register(ctx context.Context, token, username string) (*Registration, error) {
	token = strings.TrimSpace(token)
	if token == "" {
		token = identity.NewToken()
	}
	values, err := c.settings.Values(ctx)
	if err != nil {
		return nil, err
	}
	username = c.ledger.SanitizeName(username)

	who, err := c.ledger.Resolve(ctx, token)
	if err != nil {
		return nil, err
	}
	if err := c.ledger.SetDisplayNameIfUnset(ctx, who, username); err != nil {
		return nil, err
	}

	reg := &Registration{Token: who.ID, Username: who.DisplayName, Identity: who}
	reg.RequiresUsername = values.RequireUsername && (who.DisplayName == nil || *who.DisplayName == "")
	return reg, nil
}

// Search looks tracks up in the catalog, hiding explicit ones when they are banned.
func (c *Coordinator) Search(ctx context.Context, query string) ([]catalog.Track, error) {
	values, err := c.settings.Values(ctx)
	if err != nil {
		return nil, err
	}
	if !values.QueueingEnabled {
		return nil, errs.Disabled("Queueing is currently disabled.")
	}
	query = strings.TrimSpace(query)
	if query == "" {
		return nil, errs.Validation("Search query required")
	}

	tracks, err := c.catalog.SearchTracks(ctx, query, searchLimit)
	if err != nil {
		metrics.UpstreamErrors.WithLabelValues("search").Inc()
		return nil, errs.Upstream("Failed to search tracks", err)
	}
	rules := moderation.Rules{BanExplicit: values.BanExplicit}
	return moderation.FilterExplicit(tracks, rules), nil
}

// IsRejection reports whether err is a classified admission outcome rather than a fault.
func IsRejection(err error) bool {
	var e *errs.Error
	return errors.As(err, &e) && e.Kind != errs.KindInternal
}
