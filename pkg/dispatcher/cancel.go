package dispatcher

import (
	"context"
	"time"

	"github.com/prismdb/prism/pkg/events"
	"github.com/prismdb/prism/pkg/metrics"
	"github.com/prismdb/prism/pkg/types"
)

const cancelTimeout = 10 * time.Second

// cancelQuery tells every server in the set to abort the request. Cancel is
// strictly best-effort: failures are logged and swallowed, and the signals
// are not awaited.
func (d *Dispatcher) cancelQuery(requestID int64, servers map[types.ServerInstance]struct{}) {
	for server := range servers {
		client, err := d.queryClients.Get(server.Host, server.Port)
		if err != nil {
			d.logger.Warn().Err(err).
				Int64("request_id", requestID).
				Str("server", server.Key()).
				Msg("failed to get client for cancel")
			metrics.CancelFailures.Inc()
			continue
		}
		server := server
		go func() {
			ctx, cancel := context.WithTimeout(context.Background(), cancelTimeout)
			defer cancel()
			if err := client.Cancel(ctx, requestID); err != nil {
				d.logger.Warn().Err(err).
					Int64("request_id", requestID).
					Str("server", server.Key()).
					Msg("failed to cancel request on server")
				metrics.CancelFailures.Inc()
				return
			}
			metrics.CancelsSent.Inc()
		}()
	}
	d.publish(events.NewCancelled(requestID, len(servers)))
}
