package heartbeat

import (
	"bytes"
	"errors"
	"strconv"
	"strings"

	"github.com/dssb/beacon/internal/models"
	"github.com/goccy/go-json"
)

// ErrMalformedPayload marks a reachable heartbeat endpoint whose response no
// decoder could interpret.
var ErrMalformedPayload = errors.New("malformed heartbeat payload")

// decoder attempts to interpret one heartbeat response body. The wire format
// is owned by the community heartbeat script and versioned outside this
// program, so decoding is best-effort: decoders are tried in order and the
// first success wins.
type decoder func(body []byte) (models.HeartbeatPayload, error)

var decoders = []decoder{decodeJSON, decodeBareCount}

// DecodePayload runs the decoder chain over a heartbeat response body.
func DecodePayload(body []byte) (models.HeartbeatPayload, error) {
	for _, dec := range decoders {
		if payload, err := dec(body); err == nil {
			return payload, nil
		}
	}

	return models.HeartbeatPayload{}, ErrMalformedPayload
}

// decodeJSON handles the current heartbeat script output: a JSON object
// carrying at least a player count.
func decodeJSON(body []byte) (models.HeartbeatPayload, error) {
	trimmed := bytes.TrimSpace(body)
	if len(trimmed) == 0 || trimmed[0] != '{' {
		return models.HeartbeatPayload{}, ErrMalformedPayload
	}

	var payload models.HeartbeatPayload
	if err := json.Unmarshal(trimmed, &payload); err != nil {
		return models.HeartbeatPayload{}, err
	}

	if payload.Players < 0 {
		return models.HeartbeatPayload{}, ErrMalformedPayload
	}

	return payload, nil
}

// decodeBareCount handles legacy heartbeat scripts that answer with a plain
// integer player count.
func decodeBareCount(body []byte) (models.HeartbeatPayload, error) {
	players, err := strconv.Atoi(strings.TrimSpace(string(body)))
	if err != nil || players < 0 {
		return models.HeartbeatPayload{}, ErrMalformedPayload
	}

	return models.HeartbeatPayload{Players: players}, nil
}
