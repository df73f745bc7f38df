// Package heartbeat implements the per-server liveness query. Steam-platform
// servers are probed over UDP with an A2S_INFO request; everything else is
// asked over HTTP for the heartbeat script's status payload.
package heartbeat

import (
	"context"
	"errors"
	"fmt"
	"net"
	"strconv"
	"time"

	"github.com/dssb/beacon/internal/config"
	"github.com/dssb/beacon/internal/fetch"
	"github.com/dssb/beacon/internal/models"
	"github.com/rs/zerolog/log"
)

// Poller issues one liveness query per call. It holds no per-server state:
// retry cadence belongs to the scheduler, snapshot retention to the
// directory.
type Poller struct {
	client     *fetch.Client
	timeout    time.Duration
	bufferSize uint16
}

// NewPoller creates a poller sharing the given fetch client.
func NewPoller(client *fetch.Client, cfg config.Heartbeat) *Poller {
	return &Poller{
		client:     client,
		timeout:    cfg.Timeout,
		bufferSize: cfg.BufferSize,
	}
}

// Poll queries one server and returns its fresh LiveStatus. One attempt,
// fixed timeout; any failure maps to StateError with a classified reason.
// Latency is the round-trip time of this call.
func (p *Poller) Poll(ctx context.Context, rec models.ServerRecord) models.LiveStatus {
	now := time.Now()

	if err := ctx.Err(); err != nil {
		return errorStatus(now, "cancelled")
	}

	start := time.Now()

	var payload models.HeartbeatPayload
	var err error

	if rec.Platform == models.PlatformSteam {
		payload, err = querySteam(rec.Host, rec.Port, p.timeout, p.bufferSize)
	} else {
		payload, err = p.queryHTTP(ctx, rec)
	}

	latency := time.Since(start)

	if err != nil {
		log.Debug().
			Err(err).
			Str("id", rec.ID).
			Str("host", rec.Host).
			Int("port", rec.Port).
			Msg("Heartbeat failed")

		return errorStatus(now, reason(err))
	}

	status := models.LiveStatus{
		State:         models.StateOnline,
		Players:       payload.Players,
		MaxPlayers:    payload.MaxPlayers,
		LatencyMs:     latency.Milliseconds(),
		LastSeenAt:    now,
		LastAttemptAt: now,
		CheckedAt:     now,
	}

	// A well-formed payload may still declare the server down, e.g. while
	// it drains players before a restart.
	if payload.Status == "offline" {
		status.State = models.StateOffline
		status.Players = 0
	}

	return status
}

// queryHTTP asks the server's heartbeat endpoint and decodes the response
// leniently.
func (p *Poller) queryHTTP(ctx context.Context, rec models.ServerRecord) (models.HeartbeatPayload, error) {
	url := fmt.Sprintf("http://%s/status", net.JoinHostPort(rec.Host, strconv.Itoa(rec.Port)))

	body, err := p.client.Fetch(ctx, url, p.timeout)
	if err != nil {
		return models.HeartbeatPayload{}, err
	}

	return DecodePayload(body)
}

func errorStatus(now time.Time, reason string) models.LiveStatus {
	return models.LiveStatus{
		State:         models.StateError,
		Reason:        reason,
		LastAttemptAt: now,
		CheckedAt:     now,
	}
}

// reason maps a poll failure to a short display string.
func reason(err error) string {
	if errors.Is(err, ErrMalformedPayload) {
		return "malformed payload"
	}
	if kind := fetch.KindOf(err); kind != fetch.KindOther {
		return kind.String()
	}

	return err.Error()
}
