// Package wol wakes the share host and waits until it serves the share.
package wol

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/fgeck/mackup/internal/models"
	"github.com/mdlayher/wol"
	"github.com/rs/zerolog"
)

// Service defines the interface for Wake-on-LAN operations.
type Service interface {
	Wake(ctx context.Context, cfg models.WOLConfig) (*models.WOLResult, error)
}

// Client sends magic packets.
type Client interface {
	Wake(broadcastIP string, mac net.HardwareAddr) error
}

// Dialer opens TCP connections. *net.Dialer satisfies it.
type Dialer interface {
	DialContext(ctx context.Context, network, address string) (net.Conn, error)
}

// HTTPClient allows mocking HTTP requests.
type HTTPClient interface {
	Do(req *http.Request) (*http.Response, error)
}

// MagicPacketClient sends magic packets with mdlayher/wol on UDP port 9.
type MagicPacketClient struct{}

// Wake sends a magic packet for mac to broadcastIP.
func (c *MagicPacketClient) Wake(broadcastIP string, mac net.HardwareAddr) error {
	ip := net.ParseIP(broadcastIP)
	if ip == nil {
		return fmt.Errorf("invalid broadcast IP: %s", broadcastIP)
	}

	client, err := wol.NewClient()
	if err != nil {
		return fmt.Errorf("failed to create WOL client: %w", err)
	}
	defer func() { _ = client.Close() }()

	if err := client.Wake(net.JoinHostPort(ip.String(), "9"), mac); err != nil {
		return fmt.Errorf("failed to send WOL packet: %w", err)
	}
	return nil
}

// Impl implements the WOL Service interface.
type Impl struct {
	wolClient  Client
	dialer     Dialer
	httpClient HTTPClient
	logger     zerolog.Logger
}

// New creates a new WOL service.
func New(logger zerolog.Logger) *Impl {
	return &Impl{
		wolClient:  &MagicPacketClient{},
		dialer:     &net.Dialer{Timeout: 5 * time.Second},
		httpClient: &http.Client{Timeout: 5 * time.Second},
		logger:     logger,
	}
}

// NewWithClients creates a new WOL service with custom clients (for testing).
func NewWithClients(logger zerolog.Logger, wolClient Client, dialer Dialer, httpClient HTTPClient) *Impl {
	return &Impl{
		wolClient:  wolClient,
		dialer:     dialer,
		httpClient: httpClient,
		logger:     logger,
	}
}

// readyCheck returns nil once the share host answers.
type readyCheck func(ctx context.Context) error

// readinessFor picks the check for cfg. PollURL wins over ReadyAddr; with
// neither set there is nothing to wait for.
func (s *Impl) readinessFor(cfg models.WOLConfig) (string, readyCheck) {
	switch {
	case cfg.PollURL != "":
		return cfg.PollURL, func(ctx context.Context) error {
			req, err := http.NewRequestWithContext(ctx, http.MethodGet, cfg.PollURL, nil)
			if err != nil {
				return err
			}
			resp, err := s.httpClient.Do(req)
			if err != nil {
				return err
			}
			return resp.Body.Close()
		}
	case cfg.ReadyAddr != "":
		return cfg.ReadyAddr, func(ctx context.Context) error {
			conn, err := s.dialer.DialContext(ctx, "tcp", cfg.ReadyAddr)
			if err != nil {
				return err
			}
			return conn.Close()
		}
	}
	return "", nil
}

// Wake sends a magic packet to the share host, waits until its share port
// (or the poll URL) answers and then lets it settle.
func (s *Impl) Wake(ctx context.Context, cfg models.WOLConfig) (*models.WOLResult, error) {
	result := &models.WOLResult{}
	start := time.Now()
	defer func() { result.WaitDuration = time.Since(start) }()

	mac, err := net.ParseMAC(cfg.MACAddress)
	if err != nil {
		result.Error = fmt.Errorf("invalid MAC address %q: %w", cfg.MACAddress, err)
		return result, nil
	}

	target, ready := s.readinessFor(cfg)
	s.logger.Info().
		Str("mac", cfg.MACAddress).
		Str("broadcast", cfg.BroadcastIP).
		Str("target", target).
		Msg("waking share host")

	if err := s.wolClient.Wake(cfg.BroadcastIP, mac); err != nil {
		result.Error = err
		return result, nil //nolint:nilerr // error is stored in result struct by design
	}
	result.PacketSent = true

	if ready == nil {
		s.logger.Debug().Msg("no readiness check configured, not waiting")
		result.HostReady = true
		return result, nil
	}
	result.Target = target

	result.Attempts, err = s.awaitHost(ctx, cfg, target, ready)
	if err != nil {
		result.Error = err
		return result, nil //nolint:nilerr // error is stored in result struct by design
	}

	if cfg.StabilizeWait > 0 {
		s.logger.Debug().Dur("wait", cfg.StabilizeWait).Msg("letting share host settle")
		select {
		case <-ctx.Done():
			result.Error = ctx.Err()
			return result, nil
		case <-time.After(cfg.StabilizeWait):
		}
	}

	result.HostReady = true
	s.logger.Info().
		Str("target", target).
		Int("attempts", result.Attempts).
		Dur("duration", time.Since(start)).
		Msg("share host is up")
	return result, nil
}

// awaitHost runs ready every PollInterval until it succeeds, cfg.Timeout
// passes or ctx is done. A zero timeout waits until ctx is done.
func (s *Impl) awaitHost(ctx context.Context, cfg models.WOLConfig, target string, ready readyCheck) (int, error) {
	var deadline time.Time
	if cfg.Timeout > 0 {
		deadline = time.Now().Add(cfg.Timeout)
	}

	attempts := 0
	for {
		attempts++
		err := ready(ctx)
		if err == nil {
			return attempts, nil
		}
		if ctx.Err() != nil {
			return attempts, ctx.Err()
		}
		s.logger.Debug().Err(err).Str("target", target).Int("attempt", attempts).Msg("share host not up yet")

		if !deadline.IsZero() && time.Now().After(deadline) {
			return attempts, fmt.Errorf("share host %s not reachable after %s: %w", target, cfg.Timeout, err)
		}

		select {
		case <-ctx.Done():
			return attempts, ctx.Err()
		case <-time.After(cfg.PollInterval):
		}
	}
}
