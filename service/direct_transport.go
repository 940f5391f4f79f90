package service

import (
	"context"
	"errors"
	"fmt"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"gorm.io/gorm"
	"path"
	"testimonial-recorder/constant"
	"testimonial-recorder/dto"
	"testimonial-recorder/entities"
	"testimonial-recorder/repository"
	"time"
)

// ChunkStore keeps chunk objects where the merge worker downloads them from.
type ChunkStore interface {
	PutChunk(ctx context.Context, objectName string, data []byte, contentType string) error
	RemovePrefix(ctx context.Context, prefix string) (int, error)
}

type MergePublisher interface {
	PublishRecordingMerge(ctx context.Context, message dto.RecordingMergeMessage) error
}

// DirectTransport writes chunks straight into the merge worker's object
// store, chunk journal and job queue instead of going through the REST API.
type DirectTransport struct {
	repo      repository.RecordingRepository
	store     ChunkStore
	publisher MergePublisher
}

func NewDirectTransport(repo repository.RecordingRepository, store ChunkStore, publisher MergePublisher) *DirectTransport {
	return &DirectTransport{
		repo:      repo,
		store:     store,
		publisher: publisher,
	}
}

// ChunkPrefix is the object prefix holding every chunk of a session.
func ChunkPrefix(sessionID string) string {
	return path.Join(constant.ChunkObjectRoot, sessionID, "chunks") + "/"
}

func ChunkObjectName(sessionID, filename string) string {
	return ChunkPrefix(sessionID) + filename
}

func (t *DirectTransport) FetchSession(ctx context.Context, sessionID string) (*dto.SessionMetadata, error) {
	doctor, err := t.findDoctor(ctx, sessionID)
	if err != nil {
		return nil, err
	}

	return &dto.SessionMetadata{
		UUID:              doctor.ID.String(),
		Name:              doctor.Name,
		Degree:            doctor.Degree,
		Topic:             doctor.Topic,
		IsVideoProcessing: doctor.IsVideoProcessing,
		IsVideoCompleted:  doctor.IsVideoCompleted,
	}, nil
}

func (t *DirectTransport) CleanupPrevious(ctx context.Context, sessionID string) error {
	doctor, err := t.findDoctor(ctx, sessionID)
	if err != nil {
		return err
	}
	if doctor.IsVideoProcessing {
		return errors.Join(ErrNonRetryable, ErrVideoProcessing)
	}

	removed, err := t.store.RemovePrefix(ctx, ChunkPrefix(sessionID))
	if err != nil {
		return fmt.Errorf("remove chunk objects: %w", err)
	}
	rows, err := t.repo.DeleteRecordingChunksBySessionId(ctx, doctor.ID)
	if err != nil {
		return fmt.Errorf("delete chunk rows: %w", err)
	}

	zerolog.Ctx(ctx).Info().Int("objects", removed).Int64("rows", rows).Msg("removed previous chunks")
	return nil
}

func (t *DirectTransport) UploadChunk(ctx context.Context, sessionID string, chunk dto.MediaChunk) error {
	id, err := parseSessionID(sessionID)
	if err != nil {
		return err
	}

	objectName := ChunkObjectName(sessionID, chunk.Filename)
	if err := t.store.PutChunk(ctx, objectName, chunk.Data, constant.MimeTypeWebM); err != nil {
		return fmt.Errorf("put chunk object: %w", err)
	}

	size := int64(len(chunk.Data))
	seconds := int(chunk.Duration.Round(time.Second).Seconds())
	return t.repo.CreateRecordingChunk(ctx, &entities.RecordingChunk{
		SessionId:       id,
		ChunkIndex:      chunk.Sequence,
		ObjectName:      objectName,
		FileSize:        &size,
		DurationSeconds: &seconds,
		IsFinal:         chunk.IsFinal,
		Status:          constant.ChunkStatusUploaded,
	})
}

// Finalize marks the doctor as processing, records a merge job and publishes
// it in one transaction, so a failed publish leaves nothing half done.
func (t *DirectTransport) Finalize(ctx context.Context, sessionID string, req dto.FinalizeRequest) error {
	doctor, err := t.findDoctor(ctx, sessionID)
	if err != nil {
		return err
	}

	count, err := t.repo.CountRecordingChunksBySessionId(ctx, doctor.ID)
	if err != nil {
		return err
	}
	if count == 0 {
		return fmt.Errorf("%w: no chunks received", ErrRejected)
	}

	options, err := dto.PresentationOptions{Orientation: req.Orientation, FrameColor: req.FrameColor}.Normalize()
	if err != nil {
		return errors.Join(ErrRejected, err)
	}

	job := &entities.Job{
		ID:         uuid.New(),
		EntityId:   doctor.ID,
		EntityType: "doctor",
		Status:     constant.JobStatusPending,
		JobType:    constant.JobTypeRecordingMerge,
	}

	return t.repo.Transaction(ctx, func(ctx context.Context) error {
		if err := t.repo.MarkDoctorVideoProcessing(ctx, doctor.ID, options.Orientation, options.FrameColor); err != nil {
			return err
		}
		if err := t.repo.CreateJob(ctx, job); err != nil {
			return err
		}

		zerolog.Ctx(ctx).Info().Str("job_id", job.ID.String()).Int64("chunks", count).Msg("publishing recording merge request")
		return t.publisher.PublishRecordingMerge(ctx, dto.RecordingMergeMessage{
			JobId:       job.ID,
			SessionId:   doctor.ID,
			Orientation: options.Orientation,
			FrameColor:  options.FrameColor,
			TotalChunks: int(count),
		})
	})
}

func (t *DirectTransport) findDoctor(ctx context.Context, sessionID string) (*entities.Doctor, error) {
	id, err := parseSessionID(sessionID)
	if err != nil {
		return nil, err
	}
	doctor, err := t.repo.FindDoctorById(ctx, id)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, errors.Join(ErrNonRetryable, ErrSessionUnavailable)
		}
		return nil, err
	}
	return doctor, nil
}

func parseSessionID(sessionID string) (uuid.UUID, error) {
	id, err := uuid.Parse(sessionID)
	if err != nil {
		return uuid.Nil, errors.Join(ErrNonRetryable, ErrInvalidSession, err)
	}
	return id, nil
}
