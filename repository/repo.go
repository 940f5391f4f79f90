package repository

import (
	"context"
	"database/sql"
	"github.com/google/uuid"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
	"testimonial-recorder/constant"
	"testimonial-recorder/entities"
)

type RecordingRepository interface {
	Transaction(ctx context.Context, callback func(ctx context.Context) error, opts ...*sql.TxOptions) error
	GetDB(ctx context.Context) *gorm.DB
	FindDoctorById(ctx context.Context, id uuid.UUID) (*entities.Doctor, error)
	MarkDoctorVideoProcessing(ctx context.Context, id uuid.UUID, orientation constant.Orientation, frameColor constant.FrameColor) error
	CreateRecordingChunk(ctx context.Context, chunk *entities.RecordingChunk) error
	CountRecordingChunksBySessionId(ctx context.Context, sessionId uuid.UUID) (int64, error)
	DeleteRecordingChunksBySessionId(ctx context.Context, sessionId uuid.UUID) (int64, error)
	CreateJob(ctx context.Context, job *entities.Job) error
}

type txKey struct{}

type repo struct {
	db *gorm.DB
}

func NewRepo(db *sql.DB, debug bool) (RecordingRepository, error) {
	level := logger.Warn
	if debug {
		level = logger.Info
	}
	gormDB, err := gorm.Open(postgres.New(postgres.Config{
		Conn: db}),
		&gorm.Config{
			Logger: logger.Default.LogMode(level),
		},
	)
	if err != nil {
		return nil, err
	}
	return &repo{
		db: gormDB,
	}, nil
}

// GetDB returns the transaction carried by ctx, or the pool.
func (r *repo) GetDB(ctx context.Context) *gorm.DB {
	if tx, ok := ctx.Value(txKey{}).(*gorm.DB); ok {
		return tx
	}
	return r.db.WithContext(ctx)
}

func (r *repo) Transaction(ctx context.Context, callback func(ctx context.Context) error, opts ...*sql.TxOptions) error {
	return r.GetDB(ctx).Transaction(func(tx *gorm.DB) error {
		return callback(context.WithValue(ctx, txKey{}, tx))
	}, opts...)
}

func (r *repo) FindDoctorById(ctx context.Context, id uuid.UUID) (*entities.Doctor, error) {
	doctor := &entities.Doctor{}
	err := r.GetDB(ctx).First(doctor, "id = ?", id).Error
	if err != nil {
		return nil, err
	}

	return doctor, nil
}

func (r *repo) MarkDoctorVideoProcessing(ctx context.Context, id uuid.UUID, orientation constant.Orientation, frameColor constant.FrameColor) error {
	updates := map[string]interface{}{
		"is_video_processing": true,
		"is_video_completed":  false,
		"orientation":         string(orientation),
		"frame_color":         string(frameColor),
	}
	result := r.GetDB(ctx).Model(&entities.Doctor{}).Where("id = ?", id).Updates(updates)
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return gorm.ErrRecordNotFound
	}
	return nil
}

func (r *repo) CreateRecordingChunk(ctx context.Context, chunk *entities.RecordingChunk) error {
	return r.GetDB(ctx).Create(chunk).Error
}

func (r *repo) CountRecordingChunksBySessionId(ctx context.Context, sessionId uuid.UUID) (int64, error) {
	var count int64
	err := r.GetDB(ctx).Model(&entities.RecordingChunk{}).Where("session_id = ?", sessionId).Count(&count).Error
	if err != nil {
		return 0, err
	}
	return count, nil
}

func (r *repo) DeleteRecordingChunksBySessionId(ctx context.Context, sessionId uuid.UUID) (int64, error) {
	result := r.GetDB(ctx).Where("session_id = ?", sessionId).Delete(&entities.RecordingChunk{})
	if result.Error != nil {
		return 0, result.Error
	}
	return result.RowsAffected, nil
}

func (r *repo) CreateJob(ctx context.Context, job *entities.Job) error {
	return r.GetDB(ctx).Create(job).Error
}
