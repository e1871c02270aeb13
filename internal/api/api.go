package api

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/ContractorHub/EventPulse/internal/classify"
	"github.com/ContractorHub/EventPulse/internal/dispatch"
	"github.com/ContractorHub/EventPulse/internal/genai"
	"github.com/ContractorHub/EventPulse/internal/messaging"
	"github.com/ContractorHub/EventPulse/internal/models"
	"github.com/ContractorHub/EventPulse/internal/outbound"
	"github.com/ContractorHub/EventPulse/internal/pcr"
	"github.com/ContractorHub/EventPulse/internal/store"
)

// DefaultAddr is the default API listen address.
const DefaultAddr = ":8080"

// processTimeout bounds one inbound message end to end, including AI calls.
const processTimeout = 30 * time.Second

// Opts holds configuration options for the API server.
type Opts struct {
	Addr            string
	DeliveryWorkers int
}

// Option configures the API server.
type Option func(*Opts)

// WithAddr sets the listen address.
func WithAddr(addr string) Option {
	return func(o *Opts) { o.Addr = addr }
}

// WithDeliveryWorkers sets the outbound delivery worker pool size.
func WithDeliveryWorkers(n int) Option {
	return func(o *Opts) { o.DeliveryWorkers = n }
}

// Server owns the HTTP surface and the inbound response listener.
type Server struct {
	addr       string
	store      store.Store
	msgService messaging.Service
	processor  *dispatch.Processor
	scores     *pcr.Service
	scheduler  *outbound.Scheduler
	campaigns  *outbound.CampaignScheduler // nil disables the /campaigns endpoint
	httpServer *http.Server
}

// NewServer wires the HTTP surface over already-constructed modules.
func NewServer(st store.Store, msgService messaging.Service, processor *dispatch.Processor, scores *pcr.Service, scheduler *outbound.Scheduler, campaigns *outbound.CampaignScheduler, opts ...Option) *Server {
	cfg := Opts{Addr: DefaultAddr}
	for _, opt := range opts {
		opt(&cfg)
	}
	return &Server{
		addr:       cfg.Addr,
		store:      st,
		msgService: msgService,
		processor:  processor,
		scores:     scores,
		scheduler:  scheduler,
		campaigns:  campaigns,
	}
}

// routes builds the HTTP mux.
func (s *Server) routes() *http.ServeMux {
	mux := http.NewServeMux()
	mux.HandleFunc("/webhook/sms", s.inboundWebhookHandler)
	// Gateway-native webhook endpoints emit on the Responses channel, which
	// listenResponses feeds back through the same pipeline.
	switch gw := s.msgService.(type) {
	case *messaging.TwilioService:
		mux.HandleFunc("/webhook/twilio", gw.WebhookHandler)
	case *messaging.WebhookService:
		mux.HandleFunc("/webhook/gateway", gw.InboundHandler)
	}
	mux.HandleFunc("/attendees", s.attendeesHandler)
	mux.HandleFunc("/schedule", s.scheduleHandler)
	mux.HandleFunc("/schedule/cancel", s.cancelHandler)
	mux.HandleFunc("/campaigns", s.campaignsHandler)
	mux.HandleFunc("/pcr/request", s.pcrRequestHandler)
	mux.HandleFunc("/pcr/summary", s.pcrSummaryHandler)
	mux.HandleFunc("/pcr/breakdown", s.pcrBreakdownHandler)
	mux.HandleFunc("/routing-logs", s.routingLogsHandler)
	mux.HandleFunc("/health", s.healthHandler)
	return mux
}

// Start begins serving HTTP and consuming gateway responses. It returns
// once the listener is set up; ListenAndServe runs in the background.
func (s *Server) Start(ctx context.Context) error {
	s.httpServer = &http.Server{
		Addr:         s.addr,
		Handler:      s.routes(),
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 30 * time.Second,
	}
	go s.listenResponses(ctx)
	go func() {
		slog.Info("Server listening", "addr", s.addr)
		if err := s.httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			slog.Error("Server HTTP listener failed", "error", err)
		}
	}()
	return nil
}

// Shutdown drains the HTTP server.
func (s *Server) Shutdown(ctx context.Context) error {
	if s.httpServer == nil {
		return nil
	}
	return s.httpServer.Shutdown(ctx)
}

// listenResponses consumes inbound messages from the messaging gateway
// channel and feeds them through the pipeline.
func (s *Server) listenResponses(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case in, ok := <-s.msgService.Responses():
			if !ok {
				return
			}
			s.handleInbound(ctx, in.From, in.Body)
		}
	}
}

// handleInbound resolves the sender and runs the pipeline. Unknown senders
// are logged and dropped; replying to arbitrary numbers is not safe.
func (s *Server) handleInbound(ctx context.Context, from, body string) {
	phone, err := messaging.CanonicalizePhone(from)
	if err != nil {
		slog.Warn("Server dropping inbound with invalid sender", "error", err, "from", from)
		return
	}
	attendee, err := s.store.GetAttendeeByPhone(ctx, phone)
	if err != nil {
		slog.Warn("Server dropping inbound from unknown sender", "error", err, "phone", phone)
		return
	}

	pctx, cancel := context.WithTimeout(ctx, processTimeout)
	defer cancel()
	msg := &models.InboundMessage{
		AttendeeID: attendee.ID,
		Phone:      phone,
		Body:       body,
		ReceivedAt: time.Now().Unix(),
	}
	if _, _, err := s.processor.Process(pctx, msg); err != nil {
		slog.Error("Server inbound processing failed", "error", err, "attendee_id", attendee.ID)
	}
}

// Run composes every module from options, starts the server and the
// delivery worker, and blocks until SIGINT/SIGTERM.
func Run(storeOpts []store.Option, genaiOpts []genai.Option, msgOpts []messaging.Option, apiOpts []Option) error {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	cfg := Opts{Addr: DefaultAddr, DeliveryWorkers: outbound.DefaultWorkerCount}
	for _, opt := range apiOpts {
		opt(&cfg)
	}

	st, err := store.New(storeOpts...)
	if err != nil {
		return fmt.Errorf("failed to open store: %w", err)
	}
	defer st.Close()

	aiClient, err := genai.NewClient(genaiOpts...)
	if err != nil {
		slog.Warn("GenAI unavailable, running with rules and keywords only", "error", err)
		aiClient = nil
	}

	msgService, err := messaging.NewService(msgOpts...)
	if err != nil {
		return fmt.Errorf("failed to create messaging service: %w", err)
	}
	if err := msgService.Start(ctx); err != nil {
		return fmt.Errorf("failed to start messaging service: %w", err)
	}
	defer msgService.Stop()

	scheduler := outbound.NewScheduler(st)
	registry := dispatch.NewRegistry()

	var (
		scores     *pcr.Service
		classifier *classify.Classifier
		renderer   *outbound.Renderer
	)
	if aiClient != nil {
		scores = pcr.NewService(st, aiClient, scheduler)
		classifier = classify.NewClassifier(aiClient)
		renderer = outbound.NewRenderer(aiClient)
		dispatch.NewHandlers(scheduler, scores, aiClient).RegisterAll(registry)
	} else {
		scores = pcr.NewService(st, nil, scheduler)
		classifier = classify.NewClassifier(nil)
		renderer = outbound.NewRenderer(nil)
		dispatch.NewHandlers(scheduler, scores, nil).RegisterAll(registry)
	}
	processor := dispatch.NewProcessor(classify.NewResolver(st), classifier, registry, st, scheduler)

	worker := outbound.NewWorker(st, msgService, renderer, outbound.WithWorkers(cfg.DeliveryWorkers))
	worker.Start(ctx)
	defer worker.Stop()

	campaigns := outbound.NewCampaignScheduler(scheduler)
	defer campaigns.Stop()

	srv := NewServer(st, msgService, processor, scores, scheduler, campaigns, WithAddr(cfg.Addr))
	if err := srv.Start(ctx); err != nil {
		return fmt.Errorf("failed to start API server: %w", err)
	}

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, os.Interrupt, syscall.SIGTERM)
	<-sig
	slog.Info("Shutdown signal received, draining")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		slog.Error("HTTP shutdown failed", "error", err)
	}
	cancel()
	return nil
}
