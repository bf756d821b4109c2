package main

import (
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/rs/cors"
	"github.com/rs/zerolog/log"
	"golang.org/x/net/http2"
	"golang.org/x/net/http2/h2c"
)

func setupServer(services *Services) *http.Server {
	router := chi.NewRouter()

	// Browsers call the operator surface with Connect headers and open sockets cross-origin.
	c := cors.New(cors.Options{
		AllowedOrigins: strings.Split(getEnv("CORS_ALLOWED_ORIGINS", "*"), ","),
		AllowedMethods: []string{http.MethodGet, http.MethodPost, http.MethodOptions},
		AllowedHeaders: []string{"Content-Type", "Connect-Protocol-Version", "Connect-Timeout-Ms", "Authorization"},
		ExposedHeaders: []string{"Grpc-Status", "Grpc-Message"},
		MaxAge:         int((2 * time.Hour).Seconds()),
	})

	// Register services
	operatorPath, operatorHandler := services.Operator.Handler()
	router.Mount(operatorPath, operatorHandler)
	services.Gateway.RegisterRoutes(router)

	// Add health check endpoint
	setupHealthCheck(router, services)

	// Wrap with CORS
	handler := c.Handler(router)

	// Setup HTTP/2 server
	return &http.Server{
		Addr:    fmt.Sprintf(":%s", getEnv("PORT", "8080")),
		Handler: h2c.NewHandler(handler, &http2.Server{}),
	}
}

func setupHealthCheck(router chi.Router, services *Services) {
	router.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		body := fmt.Sprintf("OK actors=%d", services.Coordinator.ActorCount())
		if _, err := w.Write([]byte(body)); err != nil {
			log.Error().Err(err).Msg("failed to write health check response")
		}
	})
}
