package main

import (
	"context"
	"errors"
	"evgateway/auth"
	"evgateway/gateway"
	"evgateway/internal"
	"evgateway/internal/config"
	"evgateway/metrics"
	"evgateway/server"
	"evgateway/session"
	"evgateway/telegram"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
)

const shutdownTimeout = 10 * time.Second

var configFile string

var rootCmd = &cobra.Command{
	Use:   "evgateway",
	Short: "WebSocket gateway between mobile clients and OCPP charge points",
	Long: `Terminates client WebSocket sessions, authenticates them with JWT login
tokens and forwards start/stop charging commands to charge points over OCPP 1.6.`,
	SilenceUsage: true,
}

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the gateway",
	RunE: func(cmd *cobra.Command, args []string) error {
		conf, err := config.Load(configFile)
		if err != nil {
			return fmt.Errorf("configuration: %w", err)
		}
		return serve(conf)
	},
}

var tokenUser string

var tokenCmd = &cobra.Command{
	Use:   "token",
	Short: "Print a signed token for a user, for testing clients",
	RunE: func(cmd *cobra.Command, args []string) error {
		conf, err := config.Load(configFile)
		if err != nil {
			return fmt.Errorf("configuration: %w", err)
		}
		verifier := auth.NewVerifier(conf.Auth.JwtSecret, conf.Auth.Issuer, conf.SessionTimeout())
		token, err := verifier.IssueSessionToken(tokenUser, "")
		if err != nil {
			return err
		}
		fmt.Fprintln(cmd.OutOrStdout(), token.Token)
		fmt.Fprintf(cmd.ErrOrStderr(), "expires at %s\n", token.ExpiresAt.Format(time.RFC3339))
		return nil
	},
}

var envCmd = &cobra.Command{
	Use:   "env",
	Short: "List the recognized environment variables",
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Fprintln(cmd.OutOrStdout(), config.Usage())
	},
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&configFile, "config", "c", "config.yml", "path to the yaml configuration file")
	tokenCmd.Flags().StringVarP(&tokenUser, "user", "u", "", "user id to put in the token")
	_ = tokenCmd.MarkFlagRequired("user")
	rootCmd.AddCommand(serveCmd, tokenCmd, envCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		log.Println(err)
		os.Exit(1)
	}
}

func serve(conf *config.Config) error {
	logger := internal.NewLogger(time.UTC)
	logger.SetDebugMode(conf.IsDebug)

	var handlers internal.EventHandlers

	mongo, err := internal.NewMongoClient(conf)
	if err != nil {
		log.Println("mongodb setup failed", err)
	}
	if mongo != nil {
		defer func() {
			_ = mongo.Close()
		}()
		logger.SetDatabase(mongo)
		handlers = append(handlers, internal.NewEventRecorder(mongo, logger))
	}

	verifier := auth.NewVerifier(conf.Auth.JwtSecret, conf.Auth.Issuer, conf.SessionTimeout())
	manager := session.NewManager(session.Options{
		MaxConnections:     conf.MaxConnections,
		AuthTimeout:        conf.AuthTimeout(),
		HeartbeatInterval:  conf.Heartbeat(),
		AuthAttemptsPerMin: conf.Auth.AttemptsPerMin,
		GatewayUrl:         conf.Gateway.Url,
		Gateway: gateway.Options{
			ConnectTimeout:    conf.ConnectTimeout(),
			CallTimeout:       conf.CallTimeout(),
			ReconnectDelay:    conf.ReconnectDelay(),
			HeartbeatInterval: conf.Heartbeat(),
		},
	}, verifier, logger)

	if conf.Telegram.Enabled {
		bot, err := telegram.NewBot(conf.Telegram.ApiKey)
		if err != nil {
			log.Println("telegram bot setup failed", err)
		} else {
			if mongo != nil {
				bot.SetDatabase(mongo)
			}
			bot.SetStatsProvider(manager)
			bot.Start()
			handlers = append(handlers, bot)
		}
	}
	if len(handlers) > 0 {
		manager.SetEventHandler(handlers)
	}
	manager.Start()

	go func() {
		if err := metrics.Listen(conf); err != nil {
			logger.Error("metrics server", err)
		}
	}()

	srv := server.NewServer(conf, manager, logger)
	serverErr := make(chan error, 1)
	go func() {
		serverErr <- srv.Start()
	}()
	logger.FeatureEvent("Gateway", "", fmt.Sprintf("started on %s:%s, gateway %s", conf.Listen.BindIP, conf.Listen.Port, conf.Gateway.Url))

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	select {
	case <-ctx.Done():
		logger.Warn("shutdown requested")
	case err = <-serverErr:
		if err != nil && !errors.Is(err, context.Canceled) {
			logger.Error("server stopped", err)
		}
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err = srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("server shutdown", err)
	}
	manager.Shutdown()
	// let the async logger drain
	time.Sleep(100 * time.Millisecond)
	return nil
}
