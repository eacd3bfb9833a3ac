/**
 * @description
 * This is the main entry point for the projection consumer. It subscribes to
 * the ledger's transaction event stream on RabbitMQ, decodes each event, and
 * feeds it to the projection layer. It runs independently of the API server
 * and can be scaled or restarted without affecting producers.
 *
 * @dependencies
 * - github.com/joho/godotenv: To load .env files for local development.
 * - internal/app, internal/config: The projection handler and configuration.
 * - pkg/rabbitmq: The RabbitMQ consumer.
 */

package main

import (
	"log"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/joho/godotenv"
	"github.com/transfa/ledger-service/internal/app"
	"github.com/transfa/ledger-service/internal/config"
	"github.com/transfa/ledger-service/pkg/rabbitmq"
)

func main() {
	// Load .env file for local development. In production, env vars are set directly.
	if err := godotenv.Load(); err != nil {
		log.Println("level=info component=bootstrap msg=\"no .env file found; using environment variables\"")
	}

	cfg, err := config.LoadConfig(".")
	if err != nil {
		log.Fatalf("level=fatal component=bootstrap msg=\"config load failed\" err=%v", err)
	}
	if strings.TrimSpace(cfg.RabbitMQURL) == "" {
		log.Fatalf("level=fatal component=bootstrap msg=\"rabbitmq url must be configured\" env=RABBITMQ_URL")
	}

	consumer, err := rabbitmq.NewConsumer(cfg.RabbitMQURL)
	if err != nil {
		log.Fatalf("level=fatal component=bootstrap msg=\"rabbitmq consumer init failed\" err=%v", err)
	}
	defer consumer.Close()

	projection := app.NewProjectionConsumer()

	bindings := []string{
		app.RoutingKeyDeposit,
		app.RoutingKeyWithdrawRequest,
		app.RoutingKeyWithdraw,
	}
	if err := consumer.Consume(cfg.LedgerExchange, cfg.LedgerEventQueue, bindings, projection.HandleMessage); err != nil {
		log.Fatalf("level=fatal component=bootstrap msg=\"consumer start failed\" err=%v", err)
	}
	log.Printf("level=info component=bootstrap msg=\"projection consumer ready\" exchange=%s queue=%s", cfg.LedgerExchange, cfg.LedgerEventQueue)

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)
	<-stop
	log.Println("level=info component=bootstrap msg=\"shutdown complete\"")
}
