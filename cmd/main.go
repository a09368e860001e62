package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"sync"
	"syscall"
	"time"

	"relief-service/internal/advisor"
	"relief-service/internal/api"
	"relief-service/internal/auth"
	"relief-service/internal/bus"
	"relief-service/internal/clock"
	"relief-service/internal/config"
	"relief-service/internal/db"
	"relief-service/internal/escalation"
	"relief-service/internal/fanout"
	"relief-service/internal/kafka"
	"relief-service/internal/logging"
	"relief-service/internal/memstore"
	"relief-service/internal/metrics"
	"relief-service/internal/models"
	"relief-service/internal/providers"
	"relief-service/internal/reputation"
	"relief-service/internal/sweep"
	"relief-service/internal/tasks"
	"relief-service/internal/tickets"
	"relief-service/internal/worker"
	"relief-service/internal/ws"
)

// store is everything the service persists.
type store interface {
	escalation.Store
	tickets.Store
	tasks.Store
	reputation.Store
	fanout.SubscriptionStore
	api.VolunteerStore
}

func main() {
	issue := flag.String("issue-token", "", "print a token for user:role and exit")
	flag.Parse()

	// Load config
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}

	logger, err := logging.New(cfg.Logging.Dir, cfg.Logging.Level)
	if err != nil {
		log.Fatalf("Failed to init logger: %v", err)
	}
	defer logger.Close()

	clk := clock.Real{}
	tokens := auth.NewTokens(cfg.Auth.Secret, cfg.Auth.TokenTTL, clk)
	if *issue != "" {
		if err := printToken(tokens, *issue); err != nil {
			log.Fatalf("Failed to issue token: %v", err)
		}
		return
	}

	metrics.Register()

	// Connect to the store
	var st store
	if cfg.Store.Driver == "memory" {
		logger.Warnf("Using in-memory store; state is lost on restart")
		st = memstore.New()
	} else {
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		dbConn, err := db.New(ctx, cfg.DB.DSN)
		if err != nil {
			cancel()
			logger.Errorf("Failed to connect to database: %v", err)
			log.Fatalf("Database connection failed: %v", err)
		}
		err = dbConn.Migrate(ctx)
		cancel()
		if err != nil {
			log.Fatalf("Database migration failed: %v", err)
		}
		defer dbConn.Close()
		st = dbConn
	}

	var wg sync.WaitGroup
	exec := worker.NewSerial(logger, cfg.Worker.QueueSize)
	exec.Start(&wg)

	router := fanout.NewRouter(fanout.NewMembership(), st, clk, logger)
	var publisher fanout.Publisher = bus.NewLocal(router, logger)
	if cfg.NATS.URL != "" {
		nb, err := bus.NewNATS(cfg.NATS.URL, cfg.NATS.Subject, router, logger)
		if err != nil {
			log.Fatalf("NATS connection failed: %v", err)
		}
		defer nb.Close()
		publisher = nb
	}

	var adv advisor.Advisor = advisor.Table{}
	if cfg.OpenAI.APIKey != "" {
		adv = advisor.NewOpenAI(cfg.OpenAI.APIKey, cfg.OpenAI.Model, advisor.Table{}, logger)
	}

	ledger := reputation.NewLedger(st, publisher, clk, logger, cfg.Engagement.BanThreshold)
	engine := escalation.NewEngine(st, adv, publisher, exec, clk, logger, cfg.Engagement)
	if relays := buildRelays(cfg, logger); len(relays) > 0 {
		engine.SetRelay(relays)
	}
	ticketMgr := tickets.NewManager(st, ledger, exec, clk, logger, cfg.Engagement)
	taskMgr := tasks.NewManager(st, ledger, publisher, exec, clk, logger, cfg.Engagement)

	sweeper := sweep.New(ticketMgr, taskMgr, exec, logger, cfg.Engagement.SweepInterval)
	if err := sweeper.Start(); err != nil {
		log.Fatalf("Failed to start sweeper: %v", err)
	}

	// Initialize Kafka consumer
	var consumer *kafka.Consumer
	if cfg.Kafka.Broker != "" {
		consumer = kafka.NewConsumer(kafka.Config{
			Broker:  cfg.Kafka.Broker,
			Topic:   cfg.Kafka.Topic,
			GroupID: cfg.Kafka.GroupID,
		}, engine, logger)
		consumer.Start(&wg)
	}

	// Start API server
	handler := api.NewRouter(api.Services{
		Engine:     engine,
		Tickets:    ticketMgr,
		Tasks:      taskMgr,
		Sweeper:    sweeper,
		Router:     router,
		Volunteers: st,
		Tokens:     tokens,
		Realtime:   ws.NewHandler(router, tokens, logger),
		Clock:      clk,
	}, logger, cfg)
	srv := &http.Server{Addr: cfg.API.Port, Handler: handler}
	go func() {
		logger.Infof("Starting API server on %s", cfg.API.Port)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Errorf("API server failed: %v", err)
		}
	}()

	// Handle graceful shutdown
	sig := make(chan os.Signal, 1)
	signal.Notify(sig, os.Interrupt, syscall.SIGTERM)
	<-sig
	logger.Infof("Shutting down...")

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(ctx); err != nil {
		logger.Errorf("API shutdown failed: %v", err)
	}
	if consumer != nil {
		consumer.Close()
	}
	sweeper.Stop()
	engine.Stop()
	engine.Wait()
	exec.Stop()
	wg.Wait()
	logger.Infof("Service stopped")
}

func printToken(tokens *auth.Tokens, arg string) error {
	user, role, ok := strings.Cut(arg, ":")
	ident := models.Identity{UserID: user, Role: models.Role(role)}
	if !ok || user == "" || !ident.Role.Valid() {
		return fmt.Errorf("expected user:role, got %q", arg)
	}
	token, err := tokens.Issue(ident)
	if err != nil {
		return err
	}
	fmt.Println(token)
	return nil
}

// buildRelays returns the configured escalation channels.
func buildRelays(cfg config.Config, logger *logging.Logger) providers.Fanout {
	var relays providers.Fanout
	if cfg.Telegram.BotToken != "" {
		tg, err := providers.NewTelegram(providers.TelegramConfig{
			BotToken:      cfg.Telegram.BotToken,
			ChatID:        cfg.Telegram.ChatID,
			RatePerSecond: cfg.Telegram.RatePerSecond,
			RetryAttempts: cfg.Telegram.RetryAttempts,
			RetryDelay:    cfg.Telegram.RetryDelay,
		}, logger)
		if err != nil {
			logger.Errorf("Telegram relay disabled: %v", err)
		} else {
			relays = append(relays, tg)
		}
	}
	if cfg.SMS.AccountSID != "" {
		sms, err := providers.NewSMS(providers.SMSConfig{
			AccountSID:    cfg.SMS.AccountSID,
			AuthToken:     cfg.SMS.AuthToken,
			FromNumber:    cfg.SMS.FromNumber,
			ToNumbers:     cfg.SMS.ToNumbers,
			RetryAttempts: cfg.Telegram.RetryAttempts,
			RetryDelay:    cfg.Telegram.RetryDelay,
		}, logger)
		if err != nil {
			logger.Errorf("SMS relay disabled: %v", err)
		} else {
			relays = append(relays, sms)
		}
	}
	if cfg.SMTP.Host != "" {
		mail, err := providers.NewEmail(providers.EmailConfig{
			Host:          cfg.SMTP.Host,
			Port:          cfg.SMTP.Port,
			Username:      cfg.SMTP.Username,
			Password:      cfg.SMTP.Password,
			From:          cfg.SMTP.From,
			To:            cfg.SMTP.To,
			RetryAttempts: cfg.Telegram.RetryAttempts,
			RetryDelay:    cfg.Telegram.RetryDelay,
		}, logger)
		if err != nil {
			logger.Errorf("Email relay disabled: %v", err)
		} else {
			relays = append(relays, mail)
		}
	}
	return relays
}
