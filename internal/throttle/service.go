package throttle

import (
	"context"
	"hash/fnv"
	"strconv"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/tuncerburak97/bugatlas/internal/config"
	"github.com/tuncerburak97/bugatlas/internal/model"
)

const keyPrefix = "bugatlas:throttle:"

// Service decides whether an error record may be uploaded
type Service struct {
	maxReports int
	window     time.Duration
	store      Store
}

// NewService creates a throttle backed by store
func NewService(cfg config.ThrottleConfig, store Store) *Service {
	window := cfg.Window
	if window <= 0 {
		window = time.Minute
	}
	return &Service{
		maxReports: cfg.MaxReports,
		window:     window,
		store:      store,
	}
}

// NewStore builds the store named by cfg.Storage.Type.
func NewStore(cfg config.ThrottleConfig) (Store, error) {
	if cfg.Storage.Type == "redis" {
		r := cfg.Storage.Redis
		timeout := r.Timeout
		if timeout <= 0 {
			timeout = 2 * time.Second
		}
		return NewRedisStore(r.Host, r.Port, r.Password, r.DB, timeout)
	}
	return NewMemoryStore(), nil
}

// Allow reports whether rec is still within its budget. Store failures allow the record.
func (s *Service) Allow(ctx context.Context, rec model.ErrorRecord) bool {
	if s.maxReports <= 0 {
		return true
	}
	key := Key(rec)
	count, err := s.store.Increment(ctx, key, s.window)
	if err != nil {
		log.Warn().Err(err).Str("key", key).Msg("Throttle store unavailable, allowing record")
		return true
	}
	return count <= s.maxReports
}

func (s *Service) Close() error {
	return s.store.Close()
}

// Key identifies identical records by type and message.
func Key(rec model.ErrorRecord) string {
	h := fnv.New64a()
	_, _ = h.Write([]byte(rec.ErrorMessage))
	return keyPrefix + rec.ErrorType + ":" + strconv.FormatUint(h.Sum64(), 16)
}
