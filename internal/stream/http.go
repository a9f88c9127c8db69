package stream

import (
	"encoding/binary"
	"net/http"

	"github.com/rs/zerolog"

	"github.com/stridebeat/stridebeat/internal/audio"
)

// HTTPHandler serves the rendered click track as a chunked WAV stream so
// the metronome can be monitored without local audio hardware. No encoding
// is involved: the payload is the raw PCM frames behind a WAV header.
type HTTPHandler struct {
	broadcaster *Broadcaster
	sampleRate  int
	log         zerolog.Logger
}

// NewHTTPHandler creates a WAV stream handler over the broadcaster.
func NewHTTPHandler(b *Broadcaster, sampleRate int, log zerolog.Logger) *HTTPHandler {
	return &HTTPHandler{broadcaster: b, sampleRate: sampleRate, log: log}
}

func (h *HTTPHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, "streaming not supported", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "audio/wav")
	w.Header().Set("Cache-Control", "no-cache, no-store")
	w.Header().Set("Connection", "close")
	w.Header().Set("Access-Control-Allow-Origin", "*")

	if _, err := w.Write(wavHeader(h.sampleRate)); err != nil {
		return
	}
	flusher.Flush()

	listener := h.broadcaster.Subscribe()
	defer h.broadcaster.Unsubscribe(listener)

	h.log.Info().Int("listeners", h.broadcaster.ListenerCount()).Msg("stream listener connected")
	defer h.log.Info().Msg("stream listener disconnected")

	for {
		select {
		case <-r.Context().Done():
			return
		case <-listener.done:
			return
		case frame, ok := <-listener.C:
			if !ok {
				return
			}
			if _, err := w.Write(audio.SamplesToBytes(frame)); err != nil {
				return
			}
			flusher.Flush()
		}
	}
}

// wavHeader builds a 44-byte PCM WAV header for an endless mono stream.
// The RIFF and data sizes are pinned to the maximum, which players treat
// as "read until the connection closes".
func wavHeader(sampleRate int) []byte {
	h := make([]byte, 44)
	copy(h[0:4], "RIFF")
	binary.LittleEndian.PutUint32(h[4:8], 0xFFFFFFFF)
	copy(h[8:12], "WAVE")
	copy(h[12:16], "fmt ")
	binary.LittleEndian.PutUint32(h[16:20], 16)
	binary.LittleEndian.PutUint16(h[20:22], 1) // PCM
	binary.LittleEndian.PutUint16(h[22:24], audio.Channels)
	binary.LittleEndian.PutUint32(h[24:28], uint32(sampleRate))
	byteRate := sampleRate * audio.Channels * audio.BitDepth / 8
	binary.LittleEndian.PutUint32(h[28:32], uint32(byteRate))
	binary.LittleEndian.PutUint16(h[32:34], uint16(audio.Channels*audio.BitDepth/8))
	binary.LittleEndian.PutUint16(h[34:36], audio.BitDepth)
	copy(h[36:40], "data")
	binary.LittleEndian.PutUint32(h[40:44], 0xFFFFFFFF)
	return h
}
