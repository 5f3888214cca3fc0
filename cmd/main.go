package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"log"
	"net"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/gorilla/handlers"
	"github.com/jadenk/mailux/pkg/auth"
	"github.com/jadenk/mailux/pkg/config"
	"github.com/jadenk/mailux/pkg/email"
	"github.com/jadenk/mailux/pkg/handler"
	"github.com/jadenk/mailux/pkg/storage"
	"github.com/sirupsen/logrus"
)

func main() {
	// Parse command line flags
	var (
		check     = flag.Bool("check", false, "Verify SMTP and IMAP connectivity for -user")
		listBox   = flag.String("list", "", "List a mailbox for -user, e.g. -list INBOX")
		sendTest  = flag.Bool("send-test", false, "Send a test mail from -user")
		user      = flag.String("user", "", "Local user for terminal mode (password from MAILUX_PASSWORD)")
		debugMode = flag.Bool("debug", false, "Enable debug logging")
	)
	flag.Parse()

	// Load configuration
	cfg, err := config.LoadConfig()
	if err != nil {
		log.Fatal(err)
	}
	if *debugMode {
		cfg.LogLevel = "debug"
	}

	logger, err := cfg.NewLogger(os.Stderr)
	if err != nil {
		log.Fatal(err)
	}

	settings, err := storage.NewSettingsStore(cfg.SettingsFile, email.UserSettings{
		Signature:       cfg.DefaultSignature,
		CanReceiveMails: true,
	})
	if err != nil {
		logger.WithError(err).Fatal("Failed to load settings")
	}
	service := email.NewService(cfg, settings, storage.NewReplyLedger(cfg.VacationWindow), logger.WithField("component", "mail"))

	// Terminal mode operations
	if *check || *listBox != "" || *sendTest {
		if err := runTerminalMode(cfg, service, *user, *check, *listBox, *sendTest); err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			os.Exit(1)
		}
		return
	}

	// HTTP server mode (default)
	if err := runServer(cfg, service, settings, logger); err != nil {
		logger.WithError(err).Fatal("Server failed")
	}
}

// runTerminalMode executes one operation as user and prints the result
func runTerminalMode(cfg *config.Config, service *email.Service, user string, check bool, listBox string, sendTest bool) error {
	if user == "" {
		return errors.New("-user is required in terminal mode")
	}
	creds := email.Credentials{Username: user, Password: os.Getenv("MAILUX_PASSWORD")}

	ctx, cancel := context.WithTimeout(context.Background(), cfg.CommandTimeout)
	defer cancel()

	if check {
		if err := service.Verify(ctx, creds); err != nil {
			return err
		}
		fmt.Printf("SMTP %s:%d and IMAP %s:%d accept %s\n", cfg.SMTPServer, cfg.SMTPPort, cfg.IMAPServer, cfg.IMAPPort, user)
		return nil
	}

	if listBox != "" {
		msgs, err := service.List(ctx, creds, listBox)
		if err != nil {
			return err
		}
		data, err := json.MarshalIndent(msgs, "", "  ")
		if err != nil {
			return fmt.Errorf("failed to format response: %w", err)
		}
		fmt.Println(string(data))
		return nil
	}

	if sendTest {
		to := os.Getenv("TEST_EMAIL_ADDRESS")
		if to == "" {
			to = cfg.DefaultAddress(user) // Send to self
		}
		result, err := service.Send(ctx, email.OutboundMessage{
			To:      to,
			Subject: fmt.Sprintf("Test Email - %s", time.Now().Format("2006-01-02 15:04:05")),
			Text:    "This is a test email sent from the Mailux terminal mode.",
		}, creds)
		if err != nil {
			return err
		}
		fmt.Printf("Sent %s to %v\n", result.MessageID, result.Accepted)
	}
	return nil
}

// runServer serves the HTTP API until SIGINT or SIGTERM
func runServer(cfg *config.Config, service *email.Service, settings *storage.SettingsStore, logger *logrus.Logger) error {
	carrier := auth.NewCarrier(
		auth.NewMailAuthenticator(service.Sessions()),
		cfg.AuthService,
		auth.NewSessionStore(cfg.SessionTTL),
		auth.NewTokenIssuer([]byte(cfg.SessionSecret), cfg.AuthService, cfg.SessionTTL),
		logger.WithField("component", "auth"),
	)
	h := handler.NewHandler(service, carrier, settings, cfg.CORSOrigins, logger.WithField("component", "http"))

	accessLog := logger.WriterLevel(logrus.InfoLevel)
	defer accessLog.Close()

	// An inbox listing may spend one command timeout on IMAP, one on the
	// vacation pass and one on archiving the last reply.
	writeTimeout := 4 * cfg.CommandTimeout

	srv := &http.Server{
		Addr:              net.JoinHostPort("", strconv.Itoa(cfg.Port)),
		Handler:           handlers.CombinedLoggingHandler(accessLog, h.Router()),
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       30 * time.Second,
		WriteTimeout:      writeTimeout,
	}

	errc := make(chan error, 1)
	go func() {
		logger.WithField("addr", srv.Addr).Info("Mailux API listening")
		errc <- srv.ListenAndServe()
	}()

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)

	select {
	case err := <-errc:
		return err
	case s := <-sig:
		logger.WithField("signal", s.String()).Info("Shutting down")
	}

	ctx, cancel := context.WithTimeout(context.Background(), cfg.CommandTimeout)
	defer cancel()
	if err := srv.Shutdown(ctx); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}
