// Package webhook is the HTTP boundary: the VK Callback API endpoint plus a
// plain status page and Prometheus metrics.
package webhook

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"strconv"
	"sync/atomic"
	"time"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/m3rciful/artbot/core/bot/dispatch"
	coreconfig "github.com/m3rciful/artbot/core/config"
	"github.com/m3rciful/artbot/core/logger"
	"github.com/m3rciful/artbot/core/vk"
)

// Dispatcher consumes parsed inbound events.
type Dispatcher interface {
	Dispatch(ctx context.Context, ev dispatch.Event) (dispatch.Outcome, error)
}

type metrics struct {
	received  prometheus.Counter
	buffered  prometheus.Counter
	replied   prometheus.Counter
	faults    prometheus.Counter
	confirmed prometheus.Counter
}

func newMetrics(reg prometheus.Registerer) *metrics {
	factory := promauto.With(reg)
	return &metrics{
		received: factory.NewCounter(prometheus.CounterOpts{
			Name: "artbot_events_received_total",
			Help: "Inbound message_new events accepted from the callback endpoint.",
		}),
		buffered: factory.NewCounter(prometheus.CounterOpts{
			Name: "artbot_events_buffered_total",
			Help: "Events parked in the pending input buffer without a reply.",
		}),
		replied: factory.NewCounter(prometheus.CounterOpts{
			Name: "artbot_replies_sent_total",
			Help: "Events answered with an outgoing reply.",
		}),
		faults: factory.NewCounter(prometheus.CounterOpts{
			Name: "artbot_handler_faults_total",
			Help: "Events dropped because a handler or delivery failed.",
		}),
		confirmed: factory.NewCounter(prometheus.CounterOpts{
			Name: "artbot_confirmations_total",
			Help: "Callback confirmation challenges answered.",
		}),
	}
}

// Server owns the HTTP listener.
type Server struct {
	cfg        coreconfig.WebhookConfig
	confirm    string
	dispatcher Dispatcher
	metrics    *metrics
	started    time.Time
	httpSrv    *http.Server

	gotCount  atomic.Uint64
	sentCount atomic.Uint64
}

// NewServer wires routes and metrics. reg may be nil to use the default
// Prometheus registry.
func NewServer(cfg coreconfig.WebhookConfig, confirmation string, d Dispatcher, reg prometheus.Registerer) *Server {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	s := &Server{
		cfg:        cfg,
		confirm:    confirmation,
		dispatcher: d,
		metrics:    newMetrics(reg),
		started:    time.Now(),
	}

	var metricsHandler http.Handler = promhttp.Handler()
	if g, ok := reg.(prometheus.Gatherer); ok {
		metricsHandler = promhttp.HandlerFor(g, promhttp.HandlerOpts{})
	}

	r := mux.NewRouter()
	r.HandleFunc("/vk_callback/", s.handleCallback).Methods(http.MethodPost)
	r.HandleFunc("/", s.handleStatus).Methods(http.MethodGet)
	r.Handle("/metrics", metricsHandler).Methods(http.MethodGet)

	s.httpSrv = &http.Server{
		Addr:              net.JoinHostPort(cfg.Listen, strconv.Itoa(cfg.Port)),
		Handler:           r,
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       15 * time.Second,
		WriteTimeout:      15 * time.Second,
	}
	return s
}

// Run serves until ctx is cancelled, then shuts down gracefully.
func (s *Server) Run(ctx context.Context) error {
	errCh := make(chan error, 1)
	go func() {
		logger.Info(ctx, "hook", "server.start", slog.String("addr", s.httpSrv.Addr))
		if err := s.httpSrv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
			return
		}
		errCh <- nil
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := s.httpSrv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("webhook: shutdown: %w", err)
	}
	logger.Info(context.Background(), "hook", "server.stop")
	return <-errCh
}

// callbackEvent is the VK Callback API envelope.
type callbackEvent struct {
	Type    string `json:"type"`
	GroupID int64  `json:"group_id"`
	Object  struct {
		Message struct {
			ID          int64           `json:"id"`
			PeerID      int64           `json:"peer_id"`
			FromID      int64           `json:"from_id"`
			Text        string          `json:"text"`
			Payload     string          `json:"payload"`
			Attachments []vk.Attachment `json:"attachments"`
			IsCropped   bool            `json:"is_cropped"`
		} `json:"message"`
	} `json:"object"`
}

func (s *Server) handleCallback(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(io.LimitReader(r.Body, 1<<20))
	if err != nil {
		http.Error(w, "bad request", http.StatusBadRequest)
		return
	}

	var ev callbackEvent
	if err := json.Unmarshal(body, &ev); err != nil {
		logger.Warn(r.Context(), "hook", "callback.bad_json", slog.String("error", err.Error()))
		// VK retries events it could not deliver; answer ok so a poison
		// event does not wedge the queue.
		fmt.Fprint(w, "ok")
		return
	}

	switch ev.Type {
	case "confirmation":
		s.metrics.confirmed.Inc()
		logger.Info(r.Context(), "hook", "callback.confirmation", slog.Int64("group_id", ev.GroupID))
		fmt.Fprint(w, s.confirm)
		return

	case "message_new":
		s.metrics.received.Inc()
		s.gotCount.Add(1)
		msg := ev.Object.Message
		event := dispatch.Event{
			PeerID:      msg.PeerID,
			MessageID:   msg.ID,
			Text:        msg.Text,
			Attachments: msg.Attachments,
			Payload:     msg.Payload,
			Cropped:     msg.IsCropped,
		}
		// The callback must answer fast; dispatch runs detached.
		go s.dispatchAsync(event)

	default:
		logger.Debug(r.Context(), "hook", "callback.ignored", slog.String("type", ev.Type))
	}

	fmt.Fprint(w, "ok")
}

func (s *Server) dispatchAsync(ev dispatch.Event) {
	outcome, err := s.dispatcher.Dispatch(context.Background(), ev)
	switch outcome {
	case dispatch.OutcomeBuffered:
		s.metrics.buffered.Inc()
	case dispatch.OutcomeReplied:
		s.metrics.replied.Inc()
		s.sentCount.Add(1)
	case dispatch.OutcomeFault:
		s.metrics.faults.Inc()
	}
	_ = err // already logged by the dispatcher
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	up := time.Since(s.started)
	days := int(up.Hours()) / 24
	rest := up - time.Duration(days)*24*time.Hour

	fmt.Fprintf(w, "server uptime: %d days and %s\n", days, rest.Round(time.Second))
	fmt.Fprintf(w, "messages get: %d\n", s.gotCount.Load())
	fmt.Fprintf(w, "messages send: %d\n", s.sentCount.Load())
}
