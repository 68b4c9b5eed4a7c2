package server

import (
	"context"
	"net/http"
	"time"

	"go.uber.org/zap"

	"github.com/lawsker/lawsker/internal/output"
	"github.com/lawsker/lawsker/internal/sequencer"
)

// Handler assembles the full HTTP surface:
//
//	/healthz        liveness
//	/api/demo/      demo REST API (CORS, commands rate limited)
//	/ws/demo        demo event stream, commands share the same limit
//	/               static site
//
// Security headers and gzip apply to everything.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/healthz", s.serveHealth)

	if s.seq != nil {
		api := NewAPIHandler(s.seq, s.counter, s.logger)
		mux.Handle("/api/demo/", CORSMiddleware(s.config.API.GetCORSOrigins())(s.commands.middleware(api)))
		mux.HandleFunc("/ws/demo", s.serveWebSocket)
	}

	mux.Handle("/", s)

	return SecurityHeadersMiddleware()(WithCompression(mux))
}

// notifyTimeout bounds delivery of one completion notice to all outputs.
const notifyTimeout = 15 * time.Second

// NotifyCompletions forwards counted demo runs to the configured outputs
// until ctx is cancelled. It returns immediately when there is nothing to
// notify.
func (s *Server) NotifyCompletions(ctx context.Context) error {
	if s.seq == nil || s.outputs == nil || s.outputs.Len() == 0 {
		return nil
	}

	events, cancel := s.seq.Subscribe()
	defer cancel()
	return s.notifyLoop(ctx, events)
}

func (s *Server) notifyLoop(ctx context.Context, events <-chan sequencer.Event) error {
	for {
		select {
		case <-ctx.Done():
			return nil
		case ev, ok := <-events:
			if !ok {
				return nil
			}
			if ev.Kind != sequencer.EventRunCounted {
				continue
			}
			notice := output.CompletionNotice(ev.RunID, ev.State.CompletedRuns, ev.State.StartedAt, ev.At)
			sendCtx, done := context.WithTimeout(ctx, notifyTimeout)
			if err := s.outputs.SendAll(sendCtx, notice); err != nil {
				s.logger.Warn("completion notice failed", zap.String("run", ev.RunID), zap.Error(err))
			}
			done()
		}
	}
}
