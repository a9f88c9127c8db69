package main

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"

	"github.com/stridebeat/stridebeat/internal/audio"
	"github.com/stridebeat/stridebeat/internal/cadence"
	"github.com/stridebeat/stridebeat/internal/config"
	"github.com/stridebeat/stridebeat/internal/haptic"
	"github.com/stridebeat/stridebeat/internal/metronome"
	"github.com/stridebeat/stridebeat/internal/output"
	"github.com/stridebeat/stridebeat/internal/stream"
)

func main() {
	cfg := config.Load()
	if path := os.Getenv("STRIDEBEAT_CONFIG"); path != "" {
		if err := cfg.ApplyFile(path); err != nil {
			fmt.Fprintln(os.Stderr, err)
			os.Exit(1)
		}
	}

	log := newLogger(cfg.LogLevel)

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	cueMode, err := metronome.ParseCueMode(cfg.CueMode)
	if err != nil {
		log.Fatal().Err(err).Msg("invalid cue mode")
	}
	sound, err := audio.ParseSoundSet(cfg.Sound)
	if err != nil {
		log.Fatal().Err(err).Msg("invalid sound set")
	}

	// Audio output: the system device, or a paced PCM stream feeding the
	// HTTP monitor when no audio hardware is wanted.
	var (
		out         metronome.Output
		broadcaster *stream.Broadcaster
	)
	switch cfg.Output {
	case "stream":
		streamOut := output.NewStream(cfg.SampleRate)
		broadcaster = stream.NewBroadcaster()
		go broadcaster.Run(ctx, streamOut.Frames())
		out = streamOut
	case "device":
		dev, err := output.OpenDevice(cfg.SampleRate, log)
		if err != nil {
			log.Fatal().Err(err).Msg("audio device unavailable")
		}
		defer dev.Close()
		out = dev
	default:
		log.Fatal().Str("output", cfg.Output).Msg("unknown output backend")
	}

	// Haptic pulses have no hardware here; they surface in the debug log.
	pulser := haptic.NewChannel(8)
	go func() {
		for {
			select {
			case <-ctx.Done():
				return
			case <-pulser.C:
				log.Debug().Msg("haptic pulse")
			}
		}
	}()

	engine := metronome.New(out, pulser, log)

	bio := cadence.Biometric{HeightMeters: cfg.HeightMeters, WeightKg: cfg.WeightKg}
	bpm := cfg.BPM
	if bpm <= 0 {
		bpm = cadence.Suggest(bio, cfg.SpeedMps, cfg.CadenceDelta)
		log.Info().
			Float64("speed_mps", cfg.SpeedMps).
			Float64("height_m", cfg.HeightMeters).
			Float64("cadence", bpm).
			Msg("cadence suggested")
	}

	if err := engine.Start(metronome.Params{
		BPM:     bpm,
		CueMode: cueMode,
		Sound:   sound,
		Haptics: cfg.Haptics,
	}); err != nil {
		log.Fatal().Err(err).Msg("starting metronome")
	}
	defer engine.Stop()

	mux := http.NewServeMux()

	mux.HandleFunc("/api/status", func(w http.ResponseWriter, r *http.Request) {
		st := engine.Status()
		resp := map[string]any{
			"state":         st.State.String(),
			"playing":       st.Playing,
			"bpm":           st.BPM,
			"effective_bpm": st.EffectiveBPM,
			"cue_mode":      st.CueMode.String(),
			"sound":         st.Sound.String(),
			"haptics":       st.Haptics,
		}
		if broadcaster != nil {
			resp["stream_listeners"] = broadcaster.ListenerCount()
		}
		writeJSON(w, resp)
	})

	mux.HandleFunc("/api/start", func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			http.Error(w, "POST required", http.StatusMethodNotAllowed)
			return
		}
		st := engine.Status()
		req := struct {
			BPM     *float64 `json:"bpm"`
			CueMode *string  `json:"cue_mode"`
			Sound   *string  `json:"sound"`
			Haptics *bool    `json:"haptics"`
		}{}
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil && r.ContentLength > 0 {
			http.Error(w, "invalid request", http.StatusBadRequest)
			return
		}
		p := metronome.Params{
			BPM:     st.BPM,
			CueMode: st.CueMode,
			Sound:   st.Sound,
			Haptics: st.Haptics,
		}
		if req.BPM != nil {
			p.BPM = *req.BPM
		}
		if req.CueMode != nil {
			m, err := metronome.ParseCueMode(*req.CueMode)
			if err != nil {
				http.Error(w, err.Error(), http.StatusBadRequest)
				return
			}
			p.CueMode = m
		}
		if req.Sound != nil {
			s, err := audio.ParseSoundSet(*req.Sound)
			if err != nil {
				http.Error(w, err.Error(), http.StatusBadRequest)
				return
			}
			p.Sound = s
		}
		if req.Haptics != nil {
			p.Haptics = *req.Haptics
		}
		if err := engine.Start(p); err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		writeJSON(w, map[string]any{"ok": true, "bpm": p.BPM})
	})

	mux.HandleFunc("/api/stop", postAction(func() error { engine.Stop(); return nil }))
	mux.HandleFunc("/api/pause", postAction(func() error { engine.Pause(); return nil }))
	mux.HandleFunc("/api/resume", postAction(engine.Resume))

	mux.HandleFunc("/api/bpm", func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			http.Error(w, "POST required", http.StatusMethodNotAllowed)
			return
		}
		var req struct {
			BPM float64 `json:"bpm"`
		}
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			http.Error(w, "invalid request", http.StatusBadRequest)
			return
		}
		if err := engine.SetBPM(req.BPM); err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		writeJSON(w, map[string]any{"ok": true, "bpm": req.BPM})
	})

	mux.HandleFunc("/api/cue", func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			http.Error(w, "POST required", http.StatusMethodNotAllowed)
			return
		}
		var req struct {
			Mode string `json:"mode"`
		}
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			http.Error(w, "invalid request", http.StatusBadRequest)
			return
		}
		m, err := metronome.ParseCueMode(req.Mode)
		if err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		if err := engine.SetCueMode(m); err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		writeJSON(w, map[string]any{"ok": true, "cue_mode": m.String()})
	})

	mux.HandleFunc("/api/sound", func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			http.Error(w, "POST required", http.StatusMethodNotAllowed)
			return
		}
		var req struct {
			Sound string `json:"sound"`
		}
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			http.Error(w, "invalid request", http.StatusBadRequest)
			return
		}
		s, err := audio.ParseSoundSet(req.Sound)
		if err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		engine.SetSoundSet(s)
		writeJSON(w, map[string]any{"ok": true, "sound": s.String()})
	})

	mux.HandleFunc("/api/haptics", func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			http.Error(w, "POST required", http.StatusMethodNotAllowed)
			return
		}
		var req struct {
			Enabled bool `json:"enabled"`
		}
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			http.Error(w, "invalid request", http.StatusBadRequest)
			return
		}
		engine.SetEnableHaptics(req.Enabled)
		writeJSON(w, map[string]any{"ok": true, "haptics": req.Enabled})
	})

	mux.HandleFunc("/api/cadence", func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			http.Error(w, "POST required", http.StatusMethodNotAllowed)
			return
		}
		var req struct {
			HeightM  float64 `json:"height_m"`
			WeightKg float64 `json:"weight_kg"`
			SpeedMps float64 `json:"speed_mps"`
			Delta    float64 `json:"delta"`
			Apply    bool    `json:"apply"`
		}
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			http.Error(w, "invalid request", http.StatusBadRequest)
			return
		}
		b := cadence.Biometric{HeightMeters: req.HeightM, WeightKg: req.WeightKg}
		suggested := cadence.Suggest(b, req.SpeedMps, req.Delta)
		if req.Apply {
			if err := engine.SetBPM(suggested); err != nil {
				http.Error(w, err.Error(), http.StatusBadRequest)
				return
			}
		}
		writeJSON(w, map[string]any{
			"cadence":  suggested,
			"stride_m": cadence.StrideLength(req.SpeedMps, suggested),
			"applied":  req.Apply,
		})
	})

	if broadcaster != nil {
		mux.Handle("/stream", stream.NewHTTPHandler(broadcaster, cfg.SampleRate, log))
	}

	addr := fmt.Sprintf(":%d", cfg.Port)
	server := &http.Server{Addr: addr, Handler: mux}

	go func() {
		<-ctx.Done()
		log.Info().Msg("shutting down")
		server.Close()
	}()

	log.Info().Str("addr", addr).Float64("bpm", bpm).Msg("stridebeat live")
	if err := server.ListenAndServe(); err != http.ErrServerClosed {
		log.Fatal().Err(err).Msg("http server")
	}
}

func newLogger(level string) zerolog.Logger {
	lvl, err := zerolog.ParseLevel(level)
	if err != nil {
		lvl = zerolog.InfoLevel
	}
	cw := zerolog.ConsoleWriter{Out: os.Stdout, TimeFormat: time.RFC3339}
	return zerolog.New(cw).Level(lvl).With().Timestamp().Logger()
}

func writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("Access-Control-Allow-Origin", "*")
	json.NewEncoder(w).Encode(v)
}

// postAction wraps a no-body lifecycle operation as a POST handler.
func postAction(fn func() error) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			http.Error(w, "POST required", http.StatusMethodNotAllowed)
			return
		}
		if err := fn(); err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		writeJSON(w, map[string]any{"ok": true})
	}
}
