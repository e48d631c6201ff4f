package database

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"
	"gorm.io/driver/mysql"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
	"gorm.io/gorm/logger"

	"github.com/spotiqueue/server/internal/errs"
	"github.com/spotiqueue/server/internal/store"
	"github.com/spotiqueue/server/pkg/models"
)

type MySQLDB struct {
	*gorm.DB
}

var _ store.Store = (*MySQLDB)(nil)

func NewMySQLDB(host, port, user, password, dbname string, log *zap.Logger) (*MySQLDB, error) {
	dsn := fmt.Sprintf("%s:%s@tcp(%s:%s)/%s?charset=utf8mb4&parseTime=True&loc=UTC",
		user, password, host, port, dbname)

	gormConfig := &gorm.Config{
		Logger:         logger.Default.LogMode(logger.Warn),
		TranslateError: true,
		NowFunc:        func() time.Time { return time.Now().UTC() },
	}

	db, err := gorm.Open(mysql.Open(dsn), gormConfig)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	// Set connection pool settings
	sqlDB, err := db.DB()
	if err != nil {
		return nil, fmt.Errorf("failed to get database instance: %w", err)
	}

	sqlDB.SetMaxIdleConns(10)
	sqlDB.SetMaxOpenConns(100)
	sqlDB.SetConnMaxLifetime(time.Hour)

	log.Info("running database migrations", zap.String("database", dbname))
	if err := autoMigrate(db); err != nil {
		return nil, fmt.Errorf("failed to migrate database: %w", err)
	}

	return &MySQLDB{DB: db}, nil
}

func autoMigrate(db *gorm.DB) error {
	return db.AutoMigrate(
		&models.Identity{},
		&models.SubmissionAttempt{},
		&models.BannedTrack{},
		&models.PrequeueEntry{},
		&models.Vote{},
		&models.Setting{},
	)
}

func (db *MySQLDB) Close() error {
	sqlDB, err := db.DB.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

func translate(err error) error {
	switch {
	case err == nil:
		return nil
	case errors.Is(err, gorm.ErrRecordNotFound):
		return errs.ErrNotFound
	case errors.Is(err, gorm.ErrDuplicatedKey):
		return errs.ErrAlreadyExists
	}
	return err
}

// Identity operations
func (db *MySQLDB) GetIdentity(ctx context.Context, id string) (*models.Identity, error) {
	var identity models.Identity
	if err := db.WithContext(ctx).First(&identity, "id = ?", id).Error; err != nil {
		return nil, translate(err)
	}
	return &identity, nil
}

func (db *MySQLDB) CreateIdentity(ctx context.Context, identity *models.Identity) error {
	return translate(db.WithContext(ctx).Create(identity).Error)
}

func (db *MySQLDB) SetIdentityLink(ctx context.Context, id, provider, accountID string) error {
	return db.WithContext(ctx).Model(&models.Identity{}).Where("id = ?", id).
		Updates(map[string]any{"linked_provider": provider, "linked_account_id": accountID}).Error
}

func (db *MySQLDB) SetDisplayName(ctx context.Context, id, name string) error {
	return db.WithContext(ctx).Model(&models.Identity{}).Where("id = ?", id).
		Update("display_name", name).Error
}

func (db *MySQLDB) SetIdentityStatus(ctx context.Context, id string, status models.IdentityStatus) error {
	return db.WithContext(ctx).Model(&models.Identity{}).Where("id = ?", id).
		Update("status", status).Error
}

func (db *MySQLDB) SetCooldown(ctx context.Context, ids []string, expiresAt *time.Time) error {
	if len(ids) == 0 {
		return nil
	}
	return db.WithContext(ctx).Model(&models.Identity{}).Where("id IN ?", ids).
		Update("cooldown_expires_at", expiresAt).Error
}

func (db *MySQLDB) ResetCooldowns(ctx context.Context, ids []string, at time.Time) error {
	q := db.WithContext(ctx).Model(&models.Identity{})
	if ids != nil {
		if len(ids) == 0 {
			return nil
		}
		q = q.Where("id IN ?", ids)
	} else {
		q = q.Where("1 = 1")
	}
	return q.Updates(map[string]any{"cooldown_expires_at": nil, "cooldown_reset_at": at}).Error
}

func (db *MySQLDB) TouchLastSubmit(ctx context.Context, id string, at time.Time) error {
	return db.WithContext(ctx).Model(&models.Identity{}).Where("id = ?", id).
		Update("last_submit_at", at).Error
}

func (db *MySQLDB) IdentitiesByAccount(ctx context.Context, accountID string) ([]models.Identity, error) {
	var identities []models.Identity
	if err := db.WithContext(ctx).Where("linked_account_id = ?", accountID).
		Order("id ASC").Find(&identities).Error; err != nil {
		return nil, err
	}
	return identities, nil
}

func (db *MySQLDB) ListIdentities(ctx context.Context, filter models.IdentityFilter) ([]models.Identity, error) {
	q := db.WithContext(ctx).Model(&models.Identity{})
	if filter.Status != "" {
		q = q.Where("status = ?", filter.Status)
	}
	if filter.Limit > 0 {
		q = q.Limit(filter.Limit)
	}
	var identities []models.Identity
	if err := q.Order("first_seen_at DESC").Find(&identities).Error; err != nil {
		return nil, err
	}
	return identities, nil
}

// Submission attempt operations
func (db *MySQLDB) InsertAttempt(ctx context.Context, attempt *models.SubmissionAttempt) error {
	return db.WithContext(ctx).Create(attempt).Error
}

func (db *MySQLDB) CountSuccesses(ctx context.Context, identityIDs []string, since time.Time) (int64, error) {
	if len(identityIDs) == 0 {
		return 0, nil
	}
	var n int64
	err := db.WithContext(ctx).Model(&models.SubmissionAttempt{}).
		Where("identity_id IN ? AND outcome = ? AND timestamp > ?", identityIDs, models.OutcomeSuccess, since).
		Count(&n).Error
	return n, err
}

func (db *MySQLDB) ListAttempts(ctx context.Context, identityID string, limit int) ([]models.SubmissionAttempt, error) {
	q := db.WithContext(ctx).Where("identity_id = ?", identityID).Order("timestamp DESC, id DESC")
	if limit > 0 {
		q = q.Limit(limit)
	}
	var attempts []models.SubmissionAttempt
	if err := q.Find(&attempts).Error; err != nil {
		return nil, err
	}
	return attempts, nil
}

func (db *MySQLDB) CountAttempts(ctx context.Context, identityID string) (int64, error) {
	var n int64
	err := db.WithContext(ctx).Model(&models.SubmissionAttempt{}).
		Where("identity_id = ?", identityID).Count(&n).Error
	return n, err
}

func (db *MySQLDB) GuestQueued(ctx context.Context, trackIDs []string) (map[string]bool, error) {
	out := make(map[string]bool)
	if len(trackIDs) == 0 {
		return out, nil
	}
	var ids []string
	if err := db.WithContext(ctx).Model(&models.SubmissionAttempt{}).
		Distinct("track_id").
		Where("outcome = ? AND track_id IN ?", models.OutcomeSuccess, trackIDs).
		Pluck("track_id", &ids).Error; err != nil {
		return nil, err
	}
	for _, id := range ids {
		out[id] = true
	}
	return out, nil
}

// Banned track operations
func (db *MySQLDB) IsBanned(ctx context.Context, trackID string) (bool, error) {
	var n int64
	err := db.WithContext(ctx).Model(&models.BannedTrack{}).Where("track_id = ?", trackID).Count(&n).Error
	return n > 0, err
}

func (db *MySQLDB) BanTrack(ctx context.Context, ban *models.BannedTrack) error {
	return translate(db.WithContext(ctx).Create(ban).Error)
}

func (db *MySQLDB) UnbanTrack(ctx context.Context, trackID string) error {
	res := db.WithContext(ctx).Delete(&models.BannedTrack{}, "track_id = ?", trackID)
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return errs.ErrNotFound
	}
	return nil
}

func (db *MySQLDB) ListBanned(ctx context.Context) ([]models.BannedTrack, error) {
	var bans []models.BannedTrack
	if err := db.WithContext(ctx).Order("created_at DESC").Find(&bans).Error; err != nil {
		return nil, err
	}
	return bans, nil
}

// Prequeue operations
func (db *MySQLDB) InsertPrequeue(ctx context.Context, entry *models.PrequeueEntry) error {
	return translate(db.WithContext(ctx).Create(entry).Error)
}

func (db *MySQLDB) GetPrequeue(ctx context.Context, id string) (*models.PrequeueEntry, error) {
	var entry models.PrequeueEntry
	if err := db.WithContext(ctx).First(&entry, "id = ?", id).Error; err != nil {
		return nil, translate(err)
	}
	return &entry, nil
}

func (db *MySQLDB) PendingForTrack(ctx context.Context, trackID string) (*models.PrequeueEntry, error) {
	var entry models.PrequeueEntry
	if err := db.WithContext(ctx).
		Where("track_id = ? AND status = ?", trackID, models.PrequeuePending).
		First(&entry).Error; err != nil {
		return nil, translate(err)
	}
	return &entry, nil
}

// TransitionPrequeue is a conditional update, so two racing approvals cannot both win.
func (db *MySQLDB) TransitionPrequeue(ctx context.Context, id string, from, to models.PrequeueStatus, by string) error {
	res := db.WithContext(ctx).Model(&models.PrequeueEntry{}).
		Where("id = ? AND status = ?", id, from).
		Updates(map[string]any{"status": to, "approved_by": by})
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 1 {
		return nil
	}
	if _, err := db.GetPrequeue(ctx, id); err != nil {
		return err
	}
	return errs.ErrConflict
}

func (db *MySQLDB) ListPrequeue(ctx context.Context, status models.PrequeueStatus) ([]models.PrequeueEntry, error) {
	q := db.WithContext(ctx)
	if status != "" {
		q = q.Where("status = ?", status)
	}
	var entries []models.PrequeueEntry
	if err := q.Order("created_at DESC").Find(&entries).Error; err != nil {
		return nil, err
	}
	return entries, nil
}

// Vote operations
func (db *MySQLDB) GetVote(ctx context.Context, trackID, identityID string) (*models.Vote, error) {
	var vote models.Vote
	if err := db.WithContext(ctx).
		Where("track_id = ? AND identity_id = ?", trackID, identityID).
		First(&vote).Error; err != nil {
		return nil, translate(err)
	}
	return &vote, nil
}

func (db *MySQLDB) PutVote(ctx context.Context, vote *models.Vote) error {
	return db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "track_id"}, {Name: "identity_id"}},
		DoUpdates: clause.AssignmentColumns([]string{"direction", "created_at"}),
	}).Create(vote).Error
}

func (db *MySQLDB) DeleteVote(ctx context.Context, trackID, identityID string) error {
	res := db.WithContext(ctx).Delete(&models.Vote{}, "track_id = ? AND identity_id = ?", trackID, identityID)
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return errs.ErrNotFound
	}
	return nil
}

func (db *MySQLDB) NetVotes(ctx context.Context, trackIDs []string) (map[string]int, error) {
	var rows []struct {
		TrackID string
		Total   int
	}
	q := db.WithContext(ctx).Model(&models.Vote{}).
		Select("track_id, COALESCE(SUM(direction), 0) AS total").
		Group("track_id")
	if trackIDs != nil {
		if len(trackIDs) == 0 {
			return map[string]int{}, nil
		}
		q = q.Where("track_id IN ?", trackIDs)
	}
	if err := q.Scan(&rows).Error; err != nil {
		return nil, err
	}
	out := make(map[string]int, len(rows))
	for _, r := range rows {
		out[r.TrackID] = r.Total
	}
	return out, nil
}

func (db *MySQLDB) UserVotes(ctx context.Context, identityID string) (map[string]int, error) {
	var votes []models.Vote
	if err := db.WithContext(ctx).Where("identity_id = ?", identityID).Find(&votes).Error; err != nil {
		return nil, err
	}
	out := make(map[string]int, len(votes))
	for _, v := range votes {
		out[v.TrackID] = v.Direction
	}
	return out, nil
}

// Setting operations
func (db *MySQLDB) GetSetting(ctx context.Context, key string) (string, error) {
	var s models.Setting
	if err := db.WithContext(ctx).First(&s, "`key` = ?", key).Error; err != nil {
		return "", translate(err)
	}
	return s.Value, nil
}

func (db *MySQLDB) PutSetting(ctx context.Context, key, value string) error {
	return db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "key"}},
		DoUpdates: clause.AssignmentColumns([]string{"value", "updated_at"}),
	}).Create(&models.Setting{Key: key, Value: value}).Error
}

func (db *MySQLDB) AllSettings(ctx context.Context) (map[string]string, error) {
	var settings []models.Setting
	if err := db.WithContext(ctx).Find(&settings).Error; err != nil {
		return nil, err
	}
	out := make(map[string]string, len(settings))
	for _, s := range settings {
		out[s.Key] = s.Value
	}
	return out, nil
}

// Admin operations
func (db *MySQLDB) Stats(ctx context.Context, now time.Time) (*models.Stats, error) {
	var s models.Stats
	q := db.WithContext(ctx)
	counts := []struct {
		dst   *int64
		model any
		where []any
	}{
		{&s.Devices.Total, &models.Identity{}, nil},
		{&s.Devices.Active, &models.Identity{}, []any{"status = ?", models.IdentityActive}},
		{&s.Devices.Blocked, &models.Identity{}, []any{"status = ?", models.IdentityBlocked}},
		{&s.Devices.CoolingDown, &models.Identity{}, []any{"cooldown_expires_at > ?", now}},
		{&s.QueueAttempts.Total, &models.SubmissionAttempt{}, nil},
		{&s.QueueAttempts.Successful, &models.SubmissionAttempt{}, []any{"outcome = ?", models.OutcomeSuccess}},
	}
	for _, c := range counts {
		tx := q.Model(c.model)
		if c.where != nil {
			tx = tx.Where(c.where[0], c.where[1:]...)
		}
		if err := tx.Count(c.dst).Error; err != nil {
			return nil, fmt.Errorf("failed to count stats: %w", err)
		}
	}
	return &s, nil
}

func (db *MySQLDB) ResetAllData(ctx context.Context) error {
	return db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		all := tx.Session(&gorm.Session{AllowGlobalUpdate: true})
		for _, m := range []any{
			&models.SubmissionAttempt{},
			&models.Vote{},
			&models.PrequeueEntry{},
			&models.Identity{},
			&models.BannedTrack{},
		} {
			if err := all.Delete(m).Error; err != nil {
				return err
			}
		}
		return nil
	})
}
