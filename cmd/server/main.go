package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog/log"

	"github.com/rfalcfilho/disparazap/internal/api"
	"github.com/rfalcfilho/disparazap/internal/config"
	"github.com/rfalcfilho/disparazap/internal/database"
	"github.com/rfalcfilho/disparazap/internal/dispatch"
	"github.com/rfalcfilho/disparazap/internal/logging"
	"github.com/rfalcfilho/disparazap/internal/store"
	"github.com/rfalcfilho/disparazap/internal/whatsapp"
	"github.com/rfalcfilho/disparazap/internal/ws"
)

func main() {
	cfg := config.LoadConfig()
	logging.Setup(cfg.LogLevel, cfg.LogFormat, os.Stderr)
	gin.SetMode(cfg.GinMode)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	hub := ws.NewHub()
	go hub.Run(ctx)

	whatsappClient := whatsapp.NewClient(cfg)
	whatsappClient.OnStatusChange(func(s whatsapp.Status) { hub.NotifySession(s) })

	controller := dispatch.NewController(whatsappClient)
	controller.Subscribe(hub.NotifyDispatch)

	handlers := api.Handlers{
		Session:  api.NewSessionHandler(whatsappClient),
		Dispatch: api.NewDispatchHandler(ctx, controller, cfg),
		WS:       hub.ServeWs,
	}

	var recorder *store.Recorder
	db, err := database.Open(cfg)
	switch {
	case errors.Is(err, database.ErrDisabled):
		log.Warn().Msg("database disabled, run history will not be kept")
	case err != nil:
		log.Fatal().Err(err).Msg("failed to open database")
	default:
		st := store.New(db)
		recorder = store.NewRecorder(st)
		go recorder.Run(context.WithoutCancel(ctx))
		controller.Subscribe(recorder.Observe)
		whatsappClient.SetMessageLogger(st)
		handlers.History = api.NewHistoryHandler(st)
	}

	r := gin.Default()
	r.Use(api.CORS())
	api.RegisterRoutes(r, handlers)

	if cfg.WhatsAppToken != "" && cfg.PhoneNumberID != "" {
		if _, err := whatsappClient.Connect(ctx); err != nil {
			log.Warn().Err(err).Msg("initial whatsapp connect failed, use POST /api/connect to retry")
		}
	}

	srv := &http.Server{
		Addr:    ":" + cfg.Port,
		Handler: r,
	}
	go func() {
		log.Info().Str("port", cfg.Port).Msg("server starting")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatal().Err(err).Msg("failed to run server")
		}
	}()

	<-ctx.Done()
	log.Info().Msg("shutting down")

	// Fences off a send that is still in flight.
	controller.Cancel()
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := controller.Wait(shutdownCtx); err != nil {
		log.Warn().Err(err).Msg("dispatch run did not stop in time")
	}
	if recorder != nil {
		if err := recorder.Flush(shutdownCtx); err != nil {
			log.Warn().Err(err).Msg("run history not fully written")
		}
	}
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("server shutdown failed")
	}
}
