package server

import (
	"context"

	"github.com/rs/zerolog"

	"github.com/opusrelay/qvox/registry"
)

// runWriter is the writer task spawned when a connection starts
// relaying. It is the sole consumer of client's outbound queue and
// writes each frame to the data stream in FIFO order. It exits when
// the queue is closed or a write fails, never on ctx alone, since a
// cancellation still owes any in-flight write a chance to finish.
func runWriter(ctx context.Context, client *registry.Client, logger zerolog.Logger) {
	for frame := range client.Outbound {
		if _, err := client.Writer.Write(frame); err != nil {
			logger.Debug().Err(err).Msg("writer task stopped: write failed")
			return
		}
	}
}
