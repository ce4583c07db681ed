package db

import (
	"context"
	"time"

	"mayroga/internal/types"
)

// ChatHistoryRepo appends routed exchanges to chat_history. The table is an
// audit log with no read path.
type ChatHistoryRepo struct {
	db  DBTX
	now func() time.Time
}

// NewChatHistoryRepo creates a new ChatHistoryRepo.
func NewChatHistoryRepo(db DBTX) *ChatHistoryRepo {
	return &ChatHistoryRepo{db: db, now: time.Now}
}

// RecordExchange inserts one exchange. A zero CreatedAt is stamped with the
// current time.
func (r *ChatHistoryRepo) RecordExchange(ctx context.Context, ex types.ChatExchange) error {
	if ex.CreatedAt.IsZero() {
		ex.CreatedAt = r.now().UTC()
	}
	_, err := r.db.Exec(ctx,
		`INSERT INTO chat_history (nickname, service_id, language, provider, user_message, reply, failed, created_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`,
		ex.Nickname, ex.ServiceID, ex.Language, ex.Provider, ex.Message, ex.Reply, ex.Failed, ex.CreatedAt,
	)
	if err != nil {
		return types.NewAppError(types.ErrCodeInternalDB, "failed to record chat exchange", err)
	}
	return nil
}
