package store

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/spotiqueue/server/internal/errs"
	"github.com/spotiqueue/server/pkg/models"
)

type voteKey struct {
	trackID    string
	identityID string
}

// Memory is a single-process Store used for STORE_DRIVER=memory and tests.
type Memory struct {
	mu         sync.Mutex
	identities map[string]*models.Identity
	attempts   []models.SubmissionAttempt
	bans       map[string]models.BannedTrack
	prequeue   map[string]*models.PrequeueEntry
	votes      map[voteKey]models.Vote
	settings   map[string]string
	nextID     uint64
}

var _ Store = (*Memory)(nil)

func NewMemory() *Memory {
	m := &Memory{settings: make(map[string]string)}
	m.reset()
	return m
}

func (m *Memory) reset() {
	m.identities = make(map[string]*models.Identity)
	m.attempts = nil
	m.bans = make(map[string]models.BannedTrack)
	m.prequeue = make(map[string]*models.PrequeueEntry)
	m.votes = make(map[voteKey]models.Vote)
}

func copyIdentity(i *models.Identity) *models.Identity {
	c := *i
	return &c
}

func (m *Memory) GetIdentity(_ context.Context, id string) (*models.Identity, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	i, ok := m.identities[id]
	if !ok {
		return nil, errs.ErrNotFound
	}
	return copyIdentity(i), nil
}

func (m *Memory) CreateIdentity(_ context.Context, identity *models.Identity) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.identities[identity.ID]; ok {
		return errs.ErrAlreadyExists
	}
	m.identities[identity.ID] = copyIdentity(identity)
	return nil
}

func (m *Memory) mutate(id string, fn func(*models.Identity)) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	i, ok := m.identities[id]
	if !ok {
		return errs.ErrNotFound
	}
	fn(i)
	return nil
}

func (m *Memory) SetIdentityLink(_ context.Context, id, provider, accountID string) error {
	return m.mutate(id, func(i *models.Identity) {
		i.LinkedProvider = &provider
		i.LinkedAccountID = &accountID
	})
}

func (m *Memory) SetDisplayName(_ context.Context, id, name string) error {
	return m.mutate(id, func(i *models.Identity) { i.DisplayName = &name })
}

func (m *Memory) SetIdentityStatus(_ context.Context, id string, status models.IdentityStatus) error {
	return m.mutate(id, func(i *models.Identity) { i.Status = status })
}

func (m *Memory) SetCooldown(_ context.Context, ids []string, expiresAt *time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	for _, id := range ids {
		if i, ok := m.identities[id]; ok {
			if expiresAt == nil {
				i.CooldownExpiresAt = nil
			} else {
				t := *expiresAt
				i.CooldownExpiresAt = &t
			}
		}
	}
	return nil
}

func (m *Memory) ResetCooldowns(_ context.Context, ids []string, at time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	reset := func(i *models.Identity) {
		t := at
		i.CooldownExpiresAt = nil
		i.CooldownResetAt = &t
	}
	if ids == nil {
		for _, i := range m.identities {
			reset(i)
		}
		return nil
	}
	for _, id := range ids {
		if i, ok := m.identities[id]; ok {
			reset(i)
		}
	}
	return nil
}

func (m *Memory) TouchLastSubmit(_ context.Context, id string, at time.Time) error {
	return m.mutate(id, func(i *models.Identity) { i.LastSubmitAt = &at })
}

func (m *Memory) IdentitiesByAccount(_ context.Context, accountID string) ([]models.Identity, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	var out []models.Identity
	for _, i := range m.identities {
		if i.LinkedAccountID != nil && *i.LinkedAccountID == accountID {
			out = append(out, *i)
		}
	}
	sort.Slice(out, func(a, b int) bool { return out[a].ID < out[b].ID })
	return out, nil
}

func (m *Memory) ListIdentities(_ context.Context, filter models.IdentityFilter) ([]models.Identity, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	var out []models.Identity
	for _, i := range m.identities {
		if filter.Status != "" && i.Status != filter.Status {
			continue
		}
		out = append(out, *i)
	}
	sort.Slice(out, func(a, b int) bool { return out[a].FirstSeenAt.After(out[b].FirstSeenAt) })
	if filter.Limit > 0 && len(out) > filter.Limit {
		out = out[:filter.Limit]
	}
	return out, nil
}

func (m *Memory) InsertAttempt(_ context.Context, attempt *models.SubmissionAttempt) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.nextID++
	attempt.ID = m.nextID
	m.attempts = append(m.attempts, *attempt)
	return nil
}

func (m *Memory) CountSuccesses(_ context.Context, identityIDs []string, since time.Time) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	ids := make(map[string]struct{}, len(identityIDs))
	for _, id := range identityIDs {
		ids[id] = struct{}{}
	}
	var n int64
	for _, a := range m.attempts {
		if _, ok := ids[a.IdentityID]; ok && a.Outcome == models.OutcomeSuccess && a.Timestamp.After(since) {
			n++
		}
	}
	return n, nil
}

func (m *Memory) ListAttempts(_ context.Context, identityID string, limit int) ([]models.SubmissionAttempt, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	var out []models.SubmissionAttempt
	for i := len(m.attempts) - 1; i >= 0; i-- {
		if m.attempts[i].IdentityID != identityID {
			continue
		}
		out = append(out, m.attempts[i])
		if limit > 0 && len(out) == limit {
			break
		}
	}
	return out, nil
}

func (m *Memory) CountAttempts(_ context.Context, identityID string) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	var n int64
	for _, a := range m.attempts {
		if a.IdentityID == identityID {
			n++
		}
	}
	return n, nil
}

func (m *Memory) GuestQueued(_ context.Context, trackIDs []string) (map[string]bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	want := make(map[string]struct{}, len(trackIDs))
	for _, id := range trackIDs {
		want[id] = struct{}{}
	}
	out := make(map[string]bool)
	for _, a := range m.attempts {
		if a.Outcome != models.OutcomeSuccess || a.TrackID == nil {
			continue
		}
		if _, ok := want[*a.TrackID]; ok {
			out[*a.TrackID] = true
		}
	}
	return out, nil
}

func (m *Memory) IsBanned(_ context.Context, trackID string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	_, ok := m.bans[trackID]
	return ok, nil
}

func (m *Memory) BanTrack(_ context.Context, ban *models.BannedTrack) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.bans[ban.TrackID]; ok {
		return errs.ErrAlreadyExists
	}
	m.bans[ban.TrackID] = *ban
	return nil
}

func (m *Memory) UnbanTrack(_ context.Context, trackID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.bans[trackID]; !ok {
		return errs.ErrNotFound
	}
	delete(m.bans, trackID)
	return nil
}

func (m *Memory) ListBanned(_ context.Context) ([]models.BannedTrack, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	out := make([]models.BannedTrack, 0, len(m.bans))
	for _, b := range m.bans {
		out = append(out, b)
	}
	sort.Slice(out, func(a, b int) bool { return out[a].CreatedAt.After(out[b].CreatedAt) })
	return out, nil
}

func (m *Memory) InsertPrequeue(_ context.Context, entry *models.PrequeueEntry) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.prequeue[entry.ID]; ok {
		return errs.ErrAlreadyExists
	}
	c := *entry
	m.prequeue[entry.ID] = &c
	return nil
}

func (m *Memory) GetPrequeue(_ context.Context, id string) (*models.PrequeueEntry, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	e, ok := m.prequeue[id]
	if !ok {
		return nil, errs.ErrNotFound
	}
	c := *e
	return &c, nil
}

func (m *Memory) PendingForTrack(_ context.Context, trackID string) (*models.PrequeueEntry, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	for _, e := range m.prequeue {
		if e.TrackID == trackID && e.Status == models.PrequeuePending {
			c := *e
			return &c, nil
		}
	}
	return nil, errs.ErrNotFound
}

func (m *Memory) TransitionPrequeue(_ context.Context, id string, from, to models.PrequeueStatus, by string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	e, ok := m.prequeue[id]
	if !ok {
		return errs.ErrNotFound
	}
	if e.Status != from {
		return errs.ErrConflict
	}
	e.Status = to
	e.ApprovedBy = &by
	return nil
}

func (m *Memory) ListPrequeue(_ context.Context, status models.PrequeueStatus) ([]models.PrequeueEntry, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	var out []models.PrequeueEntry
	for _, e := range m.prequeue {
		if status == "" || e.Status == status {
			out = append(out, *e)
		}
	}
	sort.Slice(out, func(a, b int) bool { return out[a].CreatedAt.After(out[b].CreatedAt) })
	return out, nil
}

func (m *Memory) GetVote(_ context.Context, trackID, identityID string) (*models.Vote, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	v, ok := m.votes[voteKey{trackID, identityID}]
	if !ok {
		return nil, errs.ErrNotFound
	}
	return &v, nil
}

func (m *Memory) PutVote(_ context.Context, vote *models.Vote) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.votes[voteKey{vote.TrackID, vote.IdentityID}] = *vote
	return nil
}

func (m *Memory) DeleteVote(_ context.Context, trackID, identityID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	k := voteKey{trackID, identityID}
	if _, ok := m.votes[k]; !ok {
		return errs.ErrNotFound
	}
	delete(m.votes, k)
	return nil
}

func (m *Memory) NetVotes(_ context.Context, trackIDs []string) (map[string]int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	var want map[string]struct{}
	if trackIDs != nil {
		want = make(map[string]struct{}, len(trackIDs))
		for _, id := range trackIDs {
			want[id] = struct{}{}
		}
	}
	out := make(map[string]int)
	for k, v := range m.votes {
		if want != nil {
			if _, ok := want[k.trackID]; !ok {
				continue
			}
		}
		out[k.trackID] += v.Direction
	}
	return out, nil
}

func (m *Memory) UserVotes(_ context.Context, identityID string) (map[string]int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	out := make(map[string]int)
	for k, v := range m.votes {
		if k.identityID == identityID {
			out[k.trackID] = v.Direction
		}
	}
	return out, nil
}

func (m *Memory) GetSetting(_ context.Context, key string) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	v, ok := m.settings[key]
	if !ok {
		return "", errs.ErrNotFound
	}
	return v, nil
}

func (m *Memory) PutSetting(_ context.Context, key, value string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.settings[key] = value
	return nil
}

func (m *Memory) AllSettings(_ context.Context) (map[string]string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	out := make(map[string]string, len(m.settings))
	for k, v := range m.settings {
		out[k] = v
	}
	return out, nil
}

func (m *Memory) Stats(_ context.Context, now time.Time) (*models.Stats, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	var s models.Stats
	for _, i := range m.identities {
		s.Devices.Total++
		switch i.Status {
		case models.IdentityActive:
			s.Devices.Active++
		case models.IdentityBlocked:
			s.Devices.Blocked++
		}
		if i.CooldownExpiresAt != nil && i.CooldownExpiresAt.After(now) {
			s.Devices.CoolingDown++
		}
	}
	for _, a := range m.attempts {
		s.QueueAttempts.Total++
		if a.Outcome == models.OutcomeSuccess {
			s.QueueAttempts.Successful++
		}
	}
	return &s, nil
}

func (m *Memory) ResetAllData(_ context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.reset()
	return nil
}
