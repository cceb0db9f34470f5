package main

import (
	"encoding/json"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/signalsfoundry/globe-engine/internal/logging"
	"github.com/signalsfoundry/globe-engine/internal/render"
)

const maxCommandBody = 4096

type healthResponse struct {
	Status  string `json:"status"`
	Seq     uint64 `json:"seq"`
	Clients int    `json:"clients"`
}

func newRouter(handler render.CommandHandler, frames *render.FrameStore, hub *render.Hub, metrics http.Handler, log logging.Logger) http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.Recoverer)

	r.Handle("/metrics", metrics)
	r.Handle("/ws", hub)

	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		resp := healthResponse{Status: "ok", Clients: hub.Clients()}
		if latest := frames.Latest(); latest != nil {
			resp.Seq = latest.Frame.Seq
		}
		writeJSON(w, http.StatusOK, resp)
	})

	r.Route("/api/v1", func(r chi.Router) {
		r.Get("/frame", func(w http.ResponseWriter, _ *http.Request) {
			latest := frames.Latest()
			if latest == nil {
				http.Error(w, "no frame published yet", http.StatusServiceUnavailable)
				return
			}
			w.Header().Set("Content-Type", "application/json")
			_, _ = w.Write(latest.Payload)
		})

		r.Post("/commands", func(w http.ResponseWriter, req *http.Request) {
			var cmd render.Command
			if err := json.NewDecoder(http.MaxBytesReader(w, req.Body, maxCommandBody)).Decode(&cmd); err != nil {
				writeJSON(w, http.StatusBadRequest, render.Reply{Type: render.ReplyReject, Reason: "malformed command"})
				return
			}
			if err := handler.Submit(req.Context(), cmd); err != nil {
				log.Debug(req.Context(), "command rejected", logging.String("command", cmd.Type), logging.Err(err))
				writeJSON(w, http.StatusUnprocessableEntity, render.Reply{Type: render.ReplyReject, Seq: cmd.Seq, Command: cmd.Type, Reason: err.Error()})
				return
			}
			writeJSON(w, http.StatusOK, render.Reply{Type: render.ReplyAck, Seq: cmd.Seq, Command: cmd.Type})
		})
	})
	return r
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
