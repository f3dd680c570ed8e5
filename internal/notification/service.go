package notification

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/notifyd/notifyd/internal/cache"
	"github.com/notifyd/notifyd/internal/telemetry"
)

// Trigger requests an out-of-band claim pass from the dispatcher.
type Trigger interface {
	Kick()
}

const (
	statsCacheKey = "notifyd:stats"
	statsCacheTTL = 5 * time.Second
)

// Service is the ingress surface: it validates requests, writes the
// notification and its outbox rows atomically, and nudges the
// dispatcher. It never sends anything itself.
type Service struct {
	store     Store
	directory Directory
	cache     *cache.Service
	trigger   Trigger
	cfg       Config
	logger    *telemetry.Logger
}

// NewService creates the ingress service. cache and trigger may be nil.
func NewService(store Store, directory Directory, cacheSvc *cache.Service, trigger Trigger, cfg Config, logger *telemetry.Logger) *Service {
	if logger == nil {
		logger = telemetry.GetGlobalLogger()
	}
	return &Service{
		store:     store,
		directory: directory,
		cache:     cacheSvc,
		trigger:   trigger,
		cfg:       cfg,
		logger:    logger,
	}
}

// Create validates the request and persists the notification together
// with one PENDING outbox row per requested method. When no methods are
// given, delivery starts at the head of the fallback chain.
func (s *Service) Create(ctx context.Context, req CreateRequest) (*Notification, []*OutboxMessage, error) {
	methods, err := s.resolveMethods(req.Methods)
	if err != nil {
		return nil, nil, err
	}
	if err := validateCreate(req); err != nil {
		return nil, nil, err
	}

	notifType := req.Type
	if notifType == "" {
		notifType = TypeInfo
	}

	now := time.Now()
	n := &Notification{
		ID:        uuid.New(),
		UserID:    req.UserID,
		Title:     req.Title,
		Message:   req.Message,
		Type:      notifType,
		CreatedAt: now,
		UpdatedAt: now,
	}

	// Missing contact data is not an ingress error: the payload slot
	// stays null and the delivery fails through retry/fallback.
	contact, _ := s.directory.Lookup(ctx, req.UserID)

	msgs := make([]*OutboxMessage, 0, len(methods))
	for _, m := range methods {
		payload := BuildPayload(m, req.Title, req.Message, contact)
		msgs = append(msgs, NewOutboxMessage(n.ID, m, payload, s.cfg.MaxRetries))
	}

	if err := s.store.CreateNotification(ctx, n, msgs); err != nil {
		return nil, nil, err
	}

	s.logger.WithContext(ctx).WithFields(map[string]interface{}{
		"notification_id": n.ID,
		"user_id":         n.UserID,
		"methods":         methods,
	}).Info("notification created")

	s.invalidateStats(ctx)
	if s.trigger != nil {
		s.trigger.Kick()
	}
	return n, msgs, nil
}

// Get returns a notification with its outbox rows.
func (s *Service) Get(ctx context.Context, id uuid.UUID) (*Notification, []*OutboxMessage, error) {
	n, err := s.store.GetNotification(ctx, id)
	if err != nil {
		return nil, nil, err
	}
	msgs, err := s.store.ListOutbox(ctx, id)
	if err != nil {
		return nil, nil, err
	}
	return n, msgs, nil
}

// RetryDelivery reopens a notification's FAILED outbox rows and nudges
// the dispatcher. Returns the number of rows reopened.
func (s *Service) RetryDelivery(ctx context.Context, id uuid.UUID) (int64, error) {
	if _, err := s.store.GetNotification(ctx, id); err != nil {
		return 0, err
	}
	reopened, err := s.store.ResetFailed(ctx, id)
	if err != nil {
		return 0, err
	}
	if reopened > 0 {
		s.logger.WithContext(ctx).WithFields(map[string]interface{}{
			"notification_id": id,
			"reopened":        reopened,
		}).Info("failed deliveries reopened")
		s.invalidateStats(ctx)
		if s.trigger != nil {
			s.trigger.Kick()
		}
	}
	return reopened, nil
}

// TriggerProcessing requests an immediate claim pass.
func (s *Service) TriggerProcessing() {
	if s.trigger != nil {
		s.trigger.Kick()
	}
}

// Stats returns system counters, served from the cache when fresh.
func (s *Service) Stats(ctx context.Context) (*Stats, error) {
	if s.cache != nil {
		var cached Stats
		err := s.cache.GetJSON(ctx, statsCacheKey, &cached)
		if err == nil {
			return &cached, nil
		}
		if !errors.Is(err, cache.ErrCacheMiss) {
			s.logger.WithContext(ctx).WithError(err).Warn("stats cache read failed")
		}
	}

	stats, err := s.store.Stats(ctx)
	if err != nil {
		return nil, err
	}

	if s.cache != nil {
		if err := s.cache.SetJSON(ctx, statsCacheKey, stats, statsCacheTTL); err != nil {
			s.logger.WithContext(ctx).WithError(err).Warn("stats cache write failed")
		}
	}
	return stats, nil
}

func (s *Service) invalidateStats(ctx context.Context) {
	if s.cache == nil {
		return
	}
	if err := s.cache.Delete(ctx, statsCacheKey); err != nil {
		s.logger.WithContext(ctx).WithError(err).Warn("stats cache invalidation failed")
	}
}

// resolveMethods validates and deduplicates the requested methods,
// defaulting to the head of the fallback chain.
func (s *Service) resolveMethods(requested []Method) ([]Method, error) {
	if len(requested) == 0 {
		return []Method{s.cfg.FallbackChain.Head()}, nil
	}
	seen := make(map[Method]bool, len(requested))
	methods := make([]Method, 0, len(requested))
	for _, m := range requested {
		parsed, err := ParseMethod(string(m))
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrInvalidInput, err)
		}
		if seen[parsed] {
			continue
		}
		seen[parsed] = true
		methods = append(methods, parsed)
	}
	return methods, nil
}

func validateCreate(req CreateRequest) error {
	if req.UserID <= 0 {
		return fmt.Errorf("%w: user_id must be positive", ErrInvalidInput)
	}
	if req.Title == "" {
		return fmt.Errorf("%w: title is required", ErrInvalidInput)
	}
	if len(req.Title) > MaxTitleLength {
		return fmt.Errorf("%w: title exceeds %d characters", ErrInvalidInput, MaxTitleLength)
	}
	if req.Message == "" {
		return fmt.Errorf("%w: message is required", ErrInvalidInput)
	}
	switch req.Type {
	case "", TypeInfo, TypeWarning, TypeError, TypeSuccess:
	default:
		return fmt.Errorf("%w: unknown notification type %q", ErrInvalidInput, req.Type)
	}
	return nil
}
