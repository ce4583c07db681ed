package entitlement

import (
	"context"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"mayroga/internal/types"
)

// GrantPublisher receives an event for every grant that changed a balance.
type GrantPublisher interface {
	PublishGrant(ctx context.Context, event types.GrantEvent) error
}

// notifyingStore decorates a Store so applied grants are published.
type notifyingStore struct {
	Store
	publisher GrantPublisher
	logger    *slog.Logger
	now       func() time.Time
}

// WithPublisher wraps store so every applied grant is handed to publisher.
// Publish failures are logged and never fail the grant. A nil publisher
// returns store unchanged.
func WithPublisher(store Store, publisher GrantPublisher, logger *slog.Logger) Store {
	if publisher == nil {
		return store
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &notifyingStore{Store: store, publisher: publisher, logger: logger, now: time.Now}
}

func (s *notifyingStore) GrantCredits(ctx context.Context, nickname, serviceID string, amount int, token string) (bool, error) {
	applied, err := s.Store.GrantCredits(ctx, nickname, serviceID, amount, token)
	if err != nil || !applied {
		return applied, err
	}

	n, _ := NormalizeNickname(nickname)
	event := types.GrantEvent{
		ID:         uuid.NewString(),
		Nickname:   n,
		ServiceID:  serviceID,
		Amount:     amount,
		Source:     SourceOf(token),
		Token:      token,
		OccurredAt: s.now().UTC(),
	}
	if pubErr := s.publisher.PublishGrant(ctx, event); pubErr != nil {
		s.logger.WarnContext(ctx, "failed to publish grant event",
			"nickname", n,
			"service_id", serviceID,
			"source", string(event.Source),
			"error", pubErr,
		)
	}
	return true, nil
}
