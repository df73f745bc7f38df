package heartbeat

import (
	"time"

	"github.com/dssb/beacon/internal/models"
	"github.com/woozymasta/a2s/pkg/a2s"
)

// querySteam connects to a Steam-platform game server via UDP and requests
// A2S_INFO. It returns player counts or an error if the server is unreachable.
func querySteam(host string, port int, timeout time.Duration, bufferSize uint16) (models.HeartbeatPayload, error) {
	client, err := a2s.New(host, port)
	if err != nil {
		return models.HeartbeatPayload{}, err
	}
	defer func() { _ = client.Close() }()

	client.BufferSize = bufferSize
	client.Timeout = timeout

	info, err := client.GetInfo()
	if err != nil {
		return models.HeartbeatPayload{}, err
	}

	return models.HeartbeatPayload{
		Players:    int(info.Players),
		MaxPlayers: int(info.MaxPlayers),
		Version:    info.Version,
	}, nil
}
