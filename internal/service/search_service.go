package service

import (
	"context"
	"encoding/json"
	"time"

	"github.com/ThreeDotsLabs/watermill"
	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/google/uuid"

	"sales-intel-be/internal/dto"
	"sales-intel-be/internal/metrics"
	"sales-intel-be/internal/pkg/logger"
	"sales-intel-be/internal/repository/memory"
	"sales-intel-be/pkg/agentic"
	"sales-intel-be/pkg/agentic/fallback"
	"sales-intel-be/pkg/agentic/session"
	"sales-intel-be/pkg/events"
)

const searchModule = "SearchService"

type ISearchService interface {
	Start(ctx context.Context, userID uuid.UUID, req *dto.StartSearchRequest) (*dto.StartSearchResponse, error)
	Snapshot(ctx context.Context, userID uuid.UUID) agentic.SessionState
	Selection(ctx context.Context, userID uuid.UUID) agentic.Selection
	Cancel(ctx context.Context, userID uuid.UUID) agentic.SessionState
	Reset(ctx context.Context, userID uuid.UUID) agentic.SessionState
	Close()
}

// PartnerFallback is the fallback coordinator seen by the service: it
// resolves suggestions for controllers and builds the selection list.
type PartnerFallback interface {
	session.FallbackResolver
	Select(ctx context.Context, s agentic.SessionState, plainLimit int) agentic.Selection
}

// SnapshotPusher delivers snapshots to a user's open dashboards.
type SnapshotPusher interface {
	PushSnapshot(userID uuid.UUID, s agentic.SessionState)
}

type SearchServiceConfig struct {
	Defaults    agentic.SearchOptions
	IdleTimeout time.Duration
	SessionTTL  time.Duration
	PlainLimit  int
	EventsTopic string
}

type searchService struct {
	ctx        context.Context
	newChannel func() session.Channel
	fallback   PartnerFallback
	pusher     SnapshotPusher
	publisher  message.Publisher
	metrics    *metrics.Metrics
	logger     logger.ILogger
	cfg        SearchServiceConfig

	sessions *memory.SessionRepository
}

// NewSearchService owns one controller per user. newChannel builds the
// streaming channel of a fresh controller. publisher may be nil, in which
// case outcomes are not published.
func NewSearchService(
	ctx context.Context,
	newChannel func() session.Channel,
	fb PartnerFallback,
	pusher SnapshotPusher,
	publisher message.Publisher,
	m *metrics.Metrics,
	log logger.ILogger,
	cfg SearchServiceConfig,
) ISearchService {
	if cfg.EventsTopic == "" {
		cfg.EventsTopic = "search.completed"
	}
	s := &searchService{
		ctx:        ctx,
		newChannel: newChannel,
		fallback:   fb,
		pusher:     pusher,
		publisher:  publisher,
		metrics:    m,
		logger:     log,
		cfg:        cfg,
	}
	s.sessions = memory.NewSessionRepository(cfg.SessionTTL, func(userID string) {
		m.SessionsRemoved()
		log.Debug(searchModule, "Session evicted", map[string]interface{}{"user_id": userID})
	})
	return s
}

func (s *searchService) Start(ctx context.Context, userID uuid.UUID, req *dto.StartSearchRequest) (*dto.StartSearchResponse, error) {
	c := s.controller(userID)
	gen, started := c.Search(req.Query, req.Options(s.cfg.Defaults))
	if !started {
		return &dto.StartSearchResponse{Generation: c.Generation(), Started: false, Phase: c.Phase()}, nil
	}
	s.metrics.Started()
	s.logger.Info(searchModule, "Search started", map[string]interface{}{
		"user_id":    userID.String(),
		"generation": gen,
	})
	return &dto.StartSearchResponse{Generation: gen, Started: true, Phase: c.Phase()}, nil
}

func (s *searchService) Snapshot(ctx context.Context, userID uuid.UUID) agentic.SessionState {
	c, ok := s.sessions.Get(userID.String())
	if !ok {
		return agentic.IdleState()
	}
	return c.Snapshot()
}

func (s *searchService) Selection(ctx context.Context, userID uuid.UUID) agentic.Selection {
	return s.fallback.Select(ctx, s.Snapshot(ctx, userID), s.cfg.PlainLimit)
}

func (s *searchService) Cancel(ctx context.Context, userID uuid.UUID) agentic.SessionState {
	c, ok := s.sessions.Get(userID.String())
	if !ok {
		return agentic.IdleState()
	}
	c.Cancel()
	return c.Snapshot()
}

func (s *searchService) Reset(ctx context.Context, userID uuid.UUID) agentic.SessionState {
	c, ok := s.sessions.Get(userID.String())
	if !ok {
		return agentic.IdleState()
	}
	c.Reset()
	return c.Snapshot()
}

// Close resets every controller.
func (s *searchService) Close() {
	s.sessions.Flush()
}

func (s *searchService) controller(userID uuid.UUID) *session.Controller {
	c, created := s.sessions.GetOrCreate(userID.String(), func() *session.Controller {
		return s.newController(userID)
	})
	if created {
		s.metrics.SessionsAdded()
	}
	return c
}

func (s *searchService) newController(userID uuid.UUID) *session.Controller {
	hooks := session.Hooks{
		OnSnapshot: func(st agentic.SessionState) {
			if s.pusher != nil {
				s.pusher.PushSnapshot(userID, st)
			}
		},
		OnPhaseChange: func(from, to agentic.Phase) {
			s.metrics.PhaseChanged(to)
		},
		OnComplete: func(st agentic.SessionState) {
			s.metrics.Completed(time.Duration(st.SearchTimeMs) * time.Millisecond)
			if st.FallbackPending {
				// published by OnFallback, merged or dropped
				return
			}
			s.publishOutcome(userID, st)
		},
		OnError: func(st agentic.SessionState, err *agentic.SessionError) {
			s.metrics.Failed(err.Kind)
			s.logger.Warn(searchModule, "Search failed", map[string]interface{}{
				"user_id":    userID.String(),
				"generation": st.Generation,
				"kind":       err.Kind,
				"error":      err.Error(),
			})
			s.publishOutcome(userID, st)
		},
		OnFallback: func(st agentic.SessionState, out fallback.Outcome) {
			if !out.Dropped {
				s.metrics.Fallback(out.Source)
			}
			s.publishOutcome(userID, st)
		},
	}
	return session.NewController(s.ctx, s.newChannel(), s.fallback, s.logger, session.Config{IdleTimeout: s.cfg.IdleTimeout}, hooks)
}

func (s *searchService) publishOutcome(userID uuid.UUID, st agentic.SessionState) {
	if s.publisher == nil {
		return
	}
	payload, err := json.Marshal(events.NewSearchOutcome(userID.String(), st, time.Now()))
	if err != nil {
		s.logger.Error(searchModule, "Failed to encode search outcome", map[string]interface{}{"error": err.Error()})
		return
	}
	msg := message.NewMessage(watermill.NewUUID(), payload)
	if err := s.publisher.Publish(s.cfg.EventsTopic, msg); err != nil {
		s.logger.Error(searchModule, "Failed to publish search outcome", map[string]interface{}{"error": err.Error()})
	}
}
