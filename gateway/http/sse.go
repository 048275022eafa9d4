package http

import (
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/c360/obdstream/telemetry"
)

// handleReadingsStream sends the throttled readings as server-sent events:
// one "readings" event on connect and one per commit. A slow client only
// ever sees the newest commit.
func (g *Gateway) handleReadingsStream(w http.ResponseWriter, r *http.Request) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		g.writeError(w, http.StatusInternalServerError, "streaming not supported")
		return
	}

	updates := make(chan []telemetry.Reading, 1)
	unsubscribe := g.source.SubscribeReadings(func(readings []telemetry.Reading) {
		select {
		case updates <- readings:
		default:
			// replace the undelivered commit
			select {
			case <-updates:
			default:
			}
			select {
			case updates <- readings:
			default:
			}
		}
	})
	defer unsubscribe()

	g.streams.Add(1)
	defer g.streams.Add(-1)

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)

	var seq uint64
	send := func(readings []telemetry.Reading) bool {
		data, err := json.Marshal(readings)
		if err != nil {
			g.logger.Error("Encoding readings failed", "error", err)
			return false
		}
		seq++
		if _, err := fmt.Fprintf(w, "id: %d\nevent: readings\ndata: %s\n\n", seq, data); err != nil {
			return false
		}
		flusher.Flush()
		return true
	}

	if !send(g.source.ThrottledReadings()) {
		return
	}

	keepAlive := time.NewTicker(g.config.KeepAlive)
	defer keepAlive.Stop()

	for {
		select {
		case <-r.Context().Done():
			return
		case <-g.shutdown:
			return
		case readings := <-updates:
			if !send(readings) {
				return
			}
		case <-keepAlive.C:
			if _, err := fmt.Fprint(w, ": keep-alive\n\n"); err != nil {
				return
			}
			flusher.Flush()
		}
	}
}
