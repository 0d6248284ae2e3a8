package coordination

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/fgeck/mackup/internal/models"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

// ErrWaitTimeout is returned when the previous device does not finish in time.
var ErrWaitTimeout = errors.New("timed out waiting for previous device")

// Service defines the interface for coordination operations.
type Service interface {
	BeginRun() string
	Publish(ctx context.Context, device string, status models.Status) error
	Latest(ctx context.Context, device string) (*models.StatusSignal, error)
	WaitForPrevious(ctx context.Context, req WaitRequest) error
}

// WaitRequest describes which device to wait for and how.
type WaitRequest struct {
	Previous    string
	FollowOrder bool
	Interval    time.Duration
	Timeout     time.Duration // 0 means no deadline
}

// Impl implements the coordination Service interface.
type Impl struct {
	channel   Channel
	logger    zerolog.Logger
	topic     string
	namespace bool
	runID     string
	now       func() time.Time
}

// New creates a coordination service on top of channel.
func New(logger zerolog.Logger, channel Channel, cfg models.CoordinationConfig) *Impl {
	return &Impl{
		channel:   channel,
		logger:    logger,
		topic:     cfg.Topic,
		namespace: cfg.NamespaceByDevice,
		now:       time.Now,
	}
}

// topicFor returns the topic a device publishes on.
func (s *Impl) topicFor(device string) string {
	if s.namespace && device != "" {
		return s.topic + "-" + device
	}
	return s.topic
}

// BeginRun starts a new run and returns its ID; later signals carry it.
func (s *Impl) BeginRun() string {
	s.runID = uuid.NewString()
	return s.runID
}

// Publish announces status for device. Failures are logged and returned,
// callers are expected not to abort on them.
func (s *Impl) Publish(ctx context.Context, device string, status models.Status) error {
	signal := models.StatusSignal{
		Device: device,
		Status: status,
		RunID:  s.runID,
		Time:   s.now().UTC(),
	}
	topic := s.topicFor(device)

	if err := s.channel.Publish(ctx, topic, signal); err != nil {
		s.logger.Warn().
			Err(err).
			Str("topic", topic).
			Str("status", string(status)).
			Msg("failed to publish status")
		return err
	}

	s.logger.Info().
		Str("topic", topic).
		Str("device", device).
		Str("status", string(status)).
		Msg("status published")
	return nil
}

// Latest returns the newest signal on device's topic.
func (s *Impl) Latest(ctx context.Context, device string) (*models.StatusSignal, error) {
	return s.channel.Latest(ctx, s.topicFor(device))
}

// WaitForPrevious polls the channel until req.Previous has finished. With
// FollowOrder unset it proceeds as soon as the channel is idle.
//
//nolint:gocognit // each signal state has its own branch
func (s *Impl) WaitForPrevious(ctx context.Context, req WaitRequest) error {
	topic := s.topicFor(req.Previous)
	start := s.now()

	s.logger.Info().
		Str("previous", req.Previous).
		Bool("follow_order", req.FollowOrder).
		Dur("interval", req.Interval).
		Dur("timeout", req.Timeout).
		Msg("waiting for previous device")

	var deadline <-chan time.Time
	if req.Timeout > 0 {
		timer := time.NewTimer(req.Timeout)
		defer timer.Stop()
		deadline = timer.C
	}

	for {
		signal, err := s.channel.Latest(ctx, topic)
		switch {
		case errors.Is(err, ErrNoSignal):
			if !req.FollowOrder {
				s.logger.Warn().Msg("no status published yet, backing up out of order")
				return nil
			}
			s.logger.Debug().Msg("no status published yet")
		case err != nil:
			s.logger.Debug().Err(err).Msg("failed to read status, retrying")
		case signal.Status == models.StatusBusy:
			s.logger.Debug().Str("device", signal.Device).Msg("share busy")
		case signal.Device == req.Previous:
			s.logger.Info().
				Str("status", string(signal.Status)).
				Dur("waited", s.now().Sub(start)).
				Msg("previous device finished, continuing")
			return nil
		case req.FollowOrder:
			s.logger.Info().
				Str("last_device", signal.Device).
				Msg("share not busy but previous device was not last to go")
		default:
			s.logger.Warn().
				Str("last_device", signal.Device).
				Msg("share not busy, backing up out of order")
			return nil
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-deadline:
			return fmt.Errorf("%w %q after %s", ErrWaitTimeout, req.Previous, req.Timeout)
		case <-time.After(req.Interval):
		}
	}
}
