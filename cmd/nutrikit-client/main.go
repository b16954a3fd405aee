package main

import (
	"bufio"
	"context"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/nutrikit/client/internal/config"
	"github.com/nutrikit/client/internal/credstore"
	"github.com/nutrikit/client/internal/health"
	"github.com/nutrikit/client/internal/identity"
	"github.com/nutrikit/client/internal/logging"
	"github.com/nutrikit/client/internal/session"
	"github.com/nutrikit/client/internal/subscription"
	"github.com/nutrikit/client/internal/websocket"
	"github.com/nutrikit/client/internal/workerpool"
	"github.com/nutrikit/client/pkg/api"
)

var (
	version   = "0.1.0"
	cfgFile   string
	serverURL string
	password  string
	noSave    bool
)

var rootCmd = &cobra.Command{
	Use:   "nutrikit-client",
	Short: "Nutrikit client",
	Long:  `Nutrikit client - session bootstrap and notification relay for the Nutrikit nutrition tracker`,
}

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Start the client session",
	Run: func(cmd *cobra.Command, args []string) {
		runClient()
	},
}

var loginCmd = &cobra.Command{
	Use:   "login [email]",
	Short: "Sign in and persist the session",
	Args:  cobra.ExactArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		login(args[0])
	},
}

var logoutCmd = &cobra.Command{
	Use:   "logout",
	Short: "Sign out and clear persisted credentials",
	Run: func(cmd *cobra.Command, args []string) {
		logout()
	},
}

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Check session status",
	Run: func(cmd *cobra.Command, args []string) {
		checkStatus()
	},
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print the version number",
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Printf("Nutrikit client v%s\n", version)
	},
}

func init() {
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default is the per-OS config dir)")
	rootCmd.PersistentFlags().StringVar(&serverURL, "server", "", "Nutrikit server URL")

	loginCmd.Flags().StringVar(&password, "password", "", "password (prompted when omitted)")
	loginCmd.Flags().BoolVar(&noSave, "no-save", false, "do not persist credentials for silent sign-in")

	rootCmd.AddCommand(runCmd)
	rootCmd.AddCommand(loginCmd)
	rootCmd.AddCommand(logoutCmd)
	rootCmd.AddCommand(statusCmd)
	rootCmd.AddCommand(versionCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

// loadConfig loads the config file, applies flag overrides, and mints the
// install-scoped client ID on first run.
func loadConfig() *config.Config {
	cfg, err := config.Load(cfgFile)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load config: %v\n", err)
		os.Exit(1)
	}

	if serverURL != "" {
		cfg.ServerURL = serverURL
	}

	if cfg.ClientID == "" {
		cfg.ClientID = uuid.NewString()
		if err := config.SaveTo(cfg, cfgFile); err != nil {
			fmt.Fprintf(os.Stderr, "Failed to persist client ID: %v\n", err)
		}
	}

	return cfg
}

func runClient() {
	cfg := loadConfig()
	logging.Init(cfg.LogFormat, cfg.LogLevel, os.Stderr)
	log := logging.L("main")

	for _, err := range cfg.Validate() {
		log.Warn("config adjusted", "error", err)
	}

	apiClient := api.NewClient(cfg.ServerURL, cfg.ClientID)
	creds := credstore.New(config.Dir())
	provider := identity.NewTokenProvider(apiClient, creds, cfg.ClientID)
	feed := websocket.NewFeed(cfg.ServerURL, apiClient)
	monitor := health.NewMonitor()
	pool := workerpool.New(cfg.MarkReadWorkers, cfg.MarkReadQueueSize)

	ctrl := session.New(cfg, session.Deps{
		Provider:      provider,
		Profiles:      apiClient,
		Subscriptions: subscription.NewAPIService(apiClient),
		Notifications: feed,
		Credentials:   creds,
		Health:        monitor,
		MarkReadPool:  pool,
	})

	log.Info("starting client", "version", version, "server", cfg.ServerURL, "clientId", cfg.ClientID)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	ctrl.Start(ctx)

	go func() {
		for snap := range ctrl.Updates() {
			log.Info("session state",
				"phase", string(snap.Phase),
				"mode", string(snap.Mode),
				"generation", snap.Generation)
			if snap.PendingNotification != nil {
				fmt.Printf("Notification: %s\n", snap.PendingNotification.Message)
				ctrl.DismissNotification()
			}
			if snap.LastError != nil {
				log.Error("session error", "category", string(snap.LastError.Category), "error", snap.LastError.Err)
			}
		}
	}()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	<-sigChan

	log.Info("shutting down")
	ctrl.Stop()

	pool.StopAccepting()
	drainCtx, drainCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer drainCancel()
	pool.Drain(drainCtx)
}

func login(email string) {
	cfg := loadConfig()
	logging.Init(cfg.LogFormat, cfg.LogLevel, os.Stderr)

	if cfg.ServerURL == "" {
		fmt.Fprintln(os.Stderr, "Server URL required. Use --server flag or set in config.")
		os.Exit(1)
	}

	secret := password
	if secret == "" {
		fmt.Print("Password: ")
		line, err := bufio.NewReader(os.Stdin).ReadString('\n')
		if err != nil {
			fmt.Fprintf(os.Stderr, "Failed to read password: %v\n", err)
			os.Exit(1)
		}
		secret = strings.TrimRight(line, "\r\n")
	}

	apiClient := api.NewClient(cfg.ServerURL, cfg.ClientID)
	creds := credstore.New(config.Dir())
	provider := identity.NewTokenProvider(apiClient, creds, cfg.ClientID)

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := provider.SignIn(ctx, email, secret); err != nil {
		fmt.Fprintf(os.Stderr, "Sign-in failed: %v\n", err)
		os.Exit(1)
	}

	if !noSave {
		if err := creds.Set(credstore.KeySavedEmail, email); err != nil {
			fmt.Fprintf(os.Stderr, "Warning: failed to save email: %v\n", err)
		}
		if err := creds.Set(credstore.KeySavedSecret, secret); err != nil {
			fmt.Fprintf(os.Stderr, "Warning: failed to save password: %v\n", err)
		}
	}

	fmt.Println("Signed in.")
	fmt.Println("Run 'nutrikit-client run' to start the session.")
}

func logout() {
	cfg := loadConfig()
	logging.Init(cfg.LogFormat, cfg.LogLevel, os.Stderr)

	apiClient := api.NewClient(cfg.ServerURL, cfg.ClientID)
	creds := credstore.New(config.Dir())

	if token, ok, _ := creds.Get(credstore.KeySessionToken); ok {
		apiClient.SetToken(token)
	}

	provider := identity.NewTokenProvider(apiClient, creds, cfg.ClientID)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := provider.SignOut(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "Sign-out failed: %v\n", err)
	}

	// Saved credentials go too, or the next bootstrap would silently
	// sign straight back in.
	if err := creds.Clear(); err != nil {
		fmt.Fprintf(os.Stderr, "Warning: failed to clear credentials: %v\n", err)
	}

	fmt.Println("Signed out.")
}

// checkStatus runs the bootstrap once to a steady state and prints the
// resolved snapshot plus component health.
func checkStatus() {
	cfg, err := config.Load(cfgFile)
	if err != nil || cfg.ServerURL == "" {
		fmt.Println("Status: Not configured")
		return
	}
	if serverURL != "" {
		cfg.ServerURL = serverURL
	}
	logging.Init(cfg.LogFormat, "error", os.Stderr)

	apiClient := api.NewClient(cfg.ServerURL, cfg.ClientID)
	creds := credstore.New(config.Dir())
	provider := identity.NewTokenProvider(apiClient, creds, cfg.ClientID)
	monitor := health.NewMonitor()

	ctrl := session.New(cfg, session.Deps{
		Provider:      provider,
		Profiles:      apiClient,
		Subscriptions: subscription.NewAPIService(apiClient),
		Notifications: websocket.NewFeed(cfg.ServerURL, apiClient),
		Credentials:   creds,
		Health:        monitor,
	})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	ctrl.Start(ctx)
	defer ctrl.Stop()

	deadline := time.After(time.Duration(cfg.BootstrapTimeoutSeconds+5) * time.Second)
	for {
		select {
		case snap := <-ctrl.Updates():
			if !snap.Phase.Steady() {
				continue
			}
			fmt.Printf("Phase: %s\n", snap.Phase)
			if snap.Mode != "" {
				fmt.Printf("Mode: %s\n", snap.Mode)
			}
			if snap.Identity != nil {
				fmt.Printf("User: %s (%s)\n", snap.Identity.Email, snap.Identity.UserID)
				fmt.Printf("Role: %s\n", snap.Role)
			}
			if snap.LastError != nil {
				fmt.Printf("Error: %v\n", snap.LastError)
			}
			fmt.Printf("Server: %s\n", cfg.ServerURL)
			for _, check := range monitor.All() {
				fmt.Printf("  %s: %s\n", check.Name, check.Status)
			}
			return
		case <-deadline:
			fmt.Println("Status: bootstrap did not settle")
			return
		}
	}
}
