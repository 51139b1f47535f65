package memory

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"sales-intel-be/internal/pkg/logger"
	"sales-intel-be/pkg/agentic"
	"sales-intel-be/pkg/agentic/connection"
	"sales-intel-be/pkg/agentic/session"
)

type nopChannel struct{}

func (nopChannel) Open(context.Context, agentic.SearchRequest, uint64, connection.Handler) {}
func (nopChannel) Close()                                                                  {}

func newController() *session.Controller {
	return session.NewController(context.Background(), nopChannel{}, nil, logger.NewNop(), session.Config{}, session.Hooks{})
}

func searching(t *testing.T, c *session.Controller) {
	t.Helper()
	_, ok := c.Search("fintech in jakarta", agentic.DefaultSearchOptions())
	require.True(t, ok)
	require.True(t, c.IsSearching())
}

func TestSessionRepository_GetOrCreate(t *testing.T) {
	repo := NewSessionRepository(time.Minute, nil)

	first, created := repo.GetOrCreate("u1", newController)
	assert.True(t, created)
	again, created := repo.GetOrCreate("u1", newController)
	assert.False(t, created)
	assert.Same(t, first, again)

	got, ok := repo.Get("u1")
	require.True(t, ok)
	assert.Same(t, first, got)
	assert.Equal(t, 1, repo.Count())

	_, ok = repo.Get("u2")
	assert.False(t, ok)
}

func TestSessionRepository_ExpiredEntryEvictedOnAccess(t *testing.T) {
	tests := []struct {
		name   string
		access func(r *SessionRepository) (*session.Controller, bool)
	}{
		{
			name: "get or create",
			access: func(r *SessionRepository) (*session.Controller, bool) {
				c, created := r.GetOrCreate("u1", newController)
				return c, !created
			},
		},
		{
			name: "get",
			access: func(r *SessionRepository) (*session.Controller, bool) {
				return r.Get("u1")
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var evicted []string
			repo := newSessionRepository(20*time.Millisecond, 0, func(userID string) {
				evicted = append(evicted, userID)
			})

			old, _ := repo.GetOrCreate("u1", newController)
			searching(t, old)
			time.Sleep(50 * time.Millisecond)

			got, reused := tt.access(repo)
			assert.False(t, reused)
			assert.NotSame(t, old, got)
			assert.Equal(t, []string{"u1"}, evicted)
			assert.Equal(t, agentic.PhaseIdle, old.Phase(), "evicted controller is reset")
		})
	}
}

func TestSessionRepository_DeleteAndFlush(t *testing.T) {
	evicted := map[string]int{}
	repo := NewSessionRepository(time.Minute, func(userID string) { evicted[userID]++ })

	a, _ := repo.GetOrCreate("a", newController)
	b, _ := repo.GetOrCreate("b", newController)
	searching(t, a)
	searching(t, b)

	repo.Delete("a")
	assert.False(t, a.IsSearching())
	assert.Equal(t, 1, evicted["a"])

	repo.Flush()
	assert.False(t, b.IsSearching())
	assert.Equal(t, 1, evicted["b"])
	assert.Zero(t, repo.Count())
}
