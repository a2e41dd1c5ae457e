package repository_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/Rrens/live-assist/internal/domain"
	"github.com/Rrens/live-assist/internal/repository"
	"github.com/Rrens/live-assist/internal/repository/memory"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type failingTurns struct{ calls int }

func (f *failingTurns) Append(context.Context, *domain.ConversationTurn) error {
	f.calls++
	return errors.New("archive down")
}

func (f *failingTurns) ListBySession(context.Context, string, int) ([]domain.ConversationTurn, error) {
	return nil, errors.New("archive down")
}

func TestFanOutTurns(t *testing.T) {
	ctx := context.Background()
	primary := memory.NewTurnRepository()
	archive := memory.NewTurnRepository()
	broken := &failingTurns{}
	fan := repository.NewFanOutTurns(primary, broken, archive)

	turn := &domain.ConversationTurn{ID: uuid.New(), SessionID: "abc", Transcription: "q", Response: "a", Timestamp: time.Now()}
	require.NoError(t, fan.Append(ctx, turn), "archive failures are not surfaced")
	assert.Equal(t, 1, broken.calls)

	for _, repo := range []domain.TurnRepository{primary, archive, fan} {
		turns, err := repo.ListBySession(ctx, "abc", 10)
		require.NoError(t, err)
		assert.Len(t, turns, 1)
	}
}

func TestFanOutTurns_PrimaryFailure(t *testing.T) {
	archive := memory.NewTurnRepository()
	fan := repository.NewFanOutTurns(&failingTurns{}, archive)

	err := fan.Append(context.Background(), &domain.ConversationTurn{ID: uuid.New(), SessionID: "abc"})
	require.Error(t, err)

	turns, err := archive.ListBySession(context.Background(), "abc", 10)
	require.NoError(t, err)
	assert.Empty(t, turns, "archives are skipped when the primary fails")
}
