package notify

import (
	"context"
	"encoding/json"
	"time"

	"github.com/rs/zerolog"

	"lms-server/internal/infrastructure/metrics"
	"lms-server/internal/utils/platformerrors"
)

// Repository persists subscriptions. Create reports whether a new row was
// inserted; a duplicate (user, lesson) pair returns false without error.
type Repository interface {
	Create(ctx context.Context, userID, lessonID string) (bool, error)
	ListByLesson(ctx context.Context, lessonID string) ([]Subscription, error)
	LessonsWithSubscribers(ctx context.Context) ([]string, error)
	Delete(ctx context.Context, id uint) error
}

// Queue delivers serialized notifications to the downstream sender.
type Queue interface {
	EnqueueNotification(ctx context.Context, payload []byte) error
}

// Service manages availability subscriptions and fans notifications out when
// a video becomes ready. It satisfies the lesson service's ready hook.
type Service struct {
	repo  Repository
	queue Queue
	log   zerolog.Logger
}

func NewService(repo Repository, queue Queue, log zerolog.Logger) *Service {
	return &Service{
		repo:  repo,
		queue: queue,
		log:   log.With().Str("component", "notify-service").Logger(),
	}
}

// Subscribe registers interest in a lesson's video availability. A repeat
// subscription for the same (user, lesson) pair is rejected.
func (s *Service) Subscribe(ctx context.Context, userID, lessonID string) error {
	created, err := s.repo.Create(ctx, userID, lessonID)
	if err != nil {
		return err
	}
	if !created {
		return platformerrors.NewError(ctx, platformerrors.LayerDomain, platformerrors.ErrorTypeValidation,
			"already subscribed to this lesson", nil, "")
	}
	return nil
}

// VideoReady delivers one notification per subscriber and removes fulfilled
// subscriptions. A failed enqueue keeps the subscription so the periodic
// sweep retries it; delivery is at-least-once.
func (s *Service) VideoReady(ctx context.Context, lessonID, videoID string) {
	subs, err := s.repo.ListByLesson(ctx, lessonID)
	if err != nil {
		s.log.Error().Err(err).Str("lesson_id", lessonID).Msg("cannot list subscribers for fan-out")
		return
	}

	for _, sub := range subs {
		payload, err := json.Marshal(Notification{
			UserID:   sub.UserID,
			LessonID: lessonID,
			VideoID:  videoID,
			Event:    EventVideoReady,
			SentAt:   time.Now().UTC(),
		})
		if err != nil {
			s.log.Error().Err(err).Msg("cannot serialize notification")
			continue
		}

		if err := s.queue.EnqueueNotification(ctx, payload); err != nil {
			s.log.Warn().Err(err).
				Str("lesson_id", lessonID).
				Str("user_id", sub.UserID).
				Msg("notification enqueue failed, keeping subscription for retry")
			metrics.RecordNotification("failed")
			continue
		}
		metrics.RecordNotification("sent")

		if err := s.repo.Delete(ctx, sub.ID); err != nil {
			// Worst case the sweep re-notifies; acceptable for at-least-once.
			s.log.Warn().Err(err).Uint("subscription_id", sub.ID).Msg("cannot delete fulfilled subscription")
		}
	}
}

// LessonsWithSubscribers lists lessons that still have pending subscribers.
// Used by the periodic sweep to catch fan-outs lost to crashes.
func (s *Service) LessonsWithSubscribers(ctx context.Context) ([]string, error) {
	return s.repo.LessonsWithSubscribers(ctx)
}
