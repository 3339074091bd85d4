package gateway

import (
	"bytes"
	"io"
	"net"
	"net/http"

	"github.com/rs/zerolog/log"

	"github.com/arosboro/ollama-proxy/internal/config"
)

// relayStream forwards a streamed backend response to the client record by
// record. A producer goroutine reads the backend body and a bounded channel
// carries complete newline-delimited records to the writer, so a slow client
// applies backpressure instead of unbounded buffering. Returns the number of
// records relayed.
func (g *Gateway) relayStream(w http.ResponseWriter, backend io.Reader) int {
	records := make(chan []byte, config.RelayChannelCapacity)
	done := make(chan struct{})
	defer close(done)

	go g.readRecords(backend, records, done)

	flusher, _ := w.(http.Flusher)
	relayed := 0
	for record := range records {
		if _, err := w.Write(record); err != nil {
			log.Debug().Err(err).Msg("client went away mid-stream")
			g.metrics.RecordRelayDisconnect()
			return relayed
		}
		if flusher != nil {
			flusher.Flush()
		}
		relayed++
	}
	return relayed
}

// maxConsecutiveTimeoutReads bounds how many timeout reads in a row the
// producer tolerates before declaring the stream dead. The outbound client's
// wall-clock timeout is terminal: once it fires, every further read fails
// with the same timeout error immediately.
const maxConsecutiveTimeoutReads = 3

// readRecords reads the backend body and emits complete records on the
// channel. A record is a byte run up to and including a newline; a trailing
// fragment without one is flushed when the backend closes the stream.
// Closes the channel when the backend is exhausted, the stream dies or the
// consumer is gone.
func (g *Gateway) readRecords(backend io.Reader, records chan<- []byte, done <-chan struct{}) {
	defer close(records)

	var pending []byte
	timeouts := 0
	buf := make([]byte, config.DefaultBufferSize)
	for {
		n, err := backend.Read(buf)
		if n > 0 {
			timeouts = 0
			pending = append(pending, buf[:n]...)
			for {
				idx := bytes.IndexByte(pending, '\n')
				if idx < 0 {
					break
				}
				record := make([]byte, idx+1)
				copy(record, pending[:idx+1])
				pending = pending[idx+1:]
				select {
				case records <- record:
				case <-done:
					return
				}
			}
		}
		if err != nil {
			if err == io.EOF {
				break
			}
			if netErr, ok := err.(net.Error); ok && netErr.Timeout() {
				timeouts++
				if timeouts >= maxConsecutiveTimeoutReads {
					log.Warn().
						Int("consecutive_timeouts", timeouts).
						Msg("backend stream timed out, aborting relay")
					return
				}
				log.Debug().Msg("read timeout on backend stream, retrying")
				continue
			}
			log.Error().Err(err).Msg("backend stream read failed, aborting relay")
			return
		}
	}

	if len(pending) > 0 {
		select {
		case records <- pending:
		case <-done:
		}
	}
}
