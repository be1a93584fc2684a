package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/BTreeMap/ShopPipe/internal/api"
	"github.com/BTreeMap/ShopPipe/internal/catalog"
	"github.com/BTreeMap/ShopPipe/internal/flow"
	"github.com/BTreeMap/ShopPipe/internal/genai"
	"github.com/BTreeMap/ShopPipe/internal/lockfile"
	"github.com/BTreeMap/ShopPipe/internal/messaging"
	"github.com/BTreeMap/ShopPipe/internal/models"
	"github.com/BTreeMap/ShopPipe/internal/notify"
	"github.com/BTreeMap/ShopPipe/internal/scheduler"
	"github.com/BTreeMap/ShopPipe/internal/session"
	"github.com/BTreeMap/ShopPipe/internal/store"
	"github.com/BTreeMap/ShopPipe/internal/twiliowhatsapp"
	"github.com/BTreeMap/ShopPipe/internal/util"
	"github.com/BTreeMap/ShopPipe/internal/vision"
	"github.com/BTreeMap/ShopPipe/internal/whatsapp"
	"github.com/joho/godotenv"
)

// Default configuration constants
const (
	// DefaultStateDir is the default directory for ShopPipe state data
	DefaultStateDir = "/var/lib/shoppipe"
	// DefaultWhatsAppDBFileName is the whatsmeow device store inside the state directory
	DefaultWhatsAppDBFileName = "whatsmeow.db"
	// DefaultSessionDirName holds one JSON document per customer
	DefaultSessionDirName = "conversations"
	// DefaultOwnerPhone receives completed orders
	DefaultOwnerPhone = "5566999168471"
)

// Notification channels.
const (
	NotifyChannelWhatsApp = "whatsapp"
	NotifyChannelTwilio   = "twilio"
)

func main() {
	config := loadEnvironmentConfig()
	initializeLogger(config.LogLevel)

	flags, err := parseCommandLineFlags(flag.CommandLine, os.Args[1:], config)
	if err != nil {
		slog.Error("Invalid command line", "error", err)
		os.Exit(2)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	slog.Info("Bootstrapping ShopPipe", "state_dir", flags.StateDir, "api_addr", flags.APIAddr, "workers", flags.Workers)
	if err := run(ctx, flags); err != nil {
		var lockErr *lockfile.LockError
		if errors.As(err, &lockErr) {
			fmt.Fprintln(os.Stderr, lockErr.Error())
		}
		slog.Error("ShopPipe failed to run", "error", err)
		os.Exit(1)
	}
	slog.Info("ShopPipe exited successfully")
}

// Config holds environment configuration
type Config struct {
	LogLevel           string
	StateDir           string
	WhatsAppDSN        string
	SessionDSN         string
	OpenAIKey          string
	OpenAIModel        string
	StoreName          string
	AgentName          string
	OwnerPhone         string
	NotifyChannel      string
	TwilioAccountSID   string
	TwilioAuthToken    string
	TwilioFrom         string
	CatalogPath        string
	HistoryCap         int
	ContextBudget      int
	SweepInterval      time.Duration
	HumanIdleTimeout   time.Duration
	MessageIdleTimeout time.Duration
	BrowseImageDelay   time.Duration
	BrowseItemDelay    time.Duration
	HandoffDelay       time.Duration
	APIAddr            string
	Workers            int
}

// Flags holds the effective settings after command line overrides.
type Flags struct {
	Config
	QROutput    string
	NumericCode bool
}

// initializeLogger sets up structured logging at the given level (debug by default)
func initializeLogger(level string) {
	logger := slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: parseLogLevel(level)}))
	slog.SetDefault(logger)
}

func parseLogLevel(level string) slog.Level {
	switch strings.ToLower(strings.TrimSpace(level)) {
	case "info":
		return slog.LevelInfo
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelDebug
	}
}

// loadEnvironmentConfig loads configuration from environment variables and .env file
func loadEnvironmentConfig() Config {
	if err := godotenv.Load(); err != nil {
		slog.Debug("failed to load .env file", "error", err)
	} else {
		slog.Debug("successfully loaded .env file")
	}

	config := Config{
		LogLevel:           os.Getenv("LOG_LEVEL"),
		StateDir:           os.Getenv("SHOPPIPE_STATE_DIR"),
		WhatsAppDSN:        os.Getenv("WHATSAPP_DB_DSN"),
		SessionDSN:         os.Getenv("SESSION_STORE_DSN"),
		OpenAIKey:          os.Getenv("OPENAI_API_KEY"),
		OpenAIModel:        os.Getenv("OPENAI_MODEL"),
		StoreName:          os.Getenv("STORE_NAME"),
		AgentName:          os.Getenv("AGENT_NAME"),
		OwnerPhone:         os.Getenv("OWNER_PHONE"),
		NotifyChannel:      strings.ToLower(strings.TrimSpace(os.Getenv("NOTIFY_CHANNEL"))),
		TwilioAccountSID:   os.Getenv("TWILIO_ACCOUNT_SID"),
		TwilioAuthToken:    os.Getenv("TWILIO_AUTH_TOKEN"),
		TwilioFrom:         os.Getenv("TWILIO_FROM_NUMBER"),
		CatalogPath:        os.Getenv("CATALOG_PATH"),
		HistoryCap:         util.ParseIntEnv("HISTORY_CAP", models.DefaultHistoryCap),
		ContextBudget:      util.ParseIntEnv("CONTEXT_TOKEN_BUDGET", models.DefaultContextTokenBudget),
		SweepInterval:      util.ParseDurationEnv("SWEEP_INTERVAL", session.DefaultSweepInterval),
		HumanIdleTimeout:   util.ParseDurationEnv("HUMAN_IDLE_TIMEOUT", session.DefaultHumanIdleAfter),
		MessageIdleTimeout: util.ParseDurationEnv("MESSAGE_IDLE_TIMEOUT", flow.DefaultMessageIdleTimeout),
		BrowseImageDelay:   util.ParseDurationEnv("BROWSE_IMAGE_DELAY", flow.DefaultBrowseImageDelay),
		BrowseItemDelay:    util.ParseDurationEnv("BROWSE_ITEM_DELAY", flow.DefaultBrowseItemDelay),
		HandoffDelay:       util.ParseDurationEnv("ORDER_HANDOFF_DELAY", flow.DefaultHandoffDelay),
		APIAddr:            os.Getenv("API_ADDR"),
		Workers:            util.ParseIntEnv("WORKERS", messaging.DefaultWorkers),
	}

	if config.StateDir == "" {
		config.StateDir = DefaultStateDir
		slog.Debug("No SHOPPIPE_STATE_DIR set, using default", "default_state_dir", config.StateDir)
	}
	// DATABASE_URL is the legacy name of the device store DSN.
	if config.WhatsAppDSN == "" {
		config.WhatsAppDSN = os.Getenv("DATABASE_URL")
	}
	if config.OwnerPhone == "" {
		config.OwnerPhone = DefaultOwnerPhone
	}
	if config.NotifyChannel == "" {
		config.NotifyChannel = NotifyChannelWhatsApp
	}

	slog.Debug("environment variables loaded",
		"SHOPPIPE_STATE_DIR", config.StateDir,
		"WHATSAPP_DB_DSN_SET", config.WhatsAppDSN != "",
		"SESSION_STORE_DSN_SET", config.SessionDSN != "",
		"OPENAI_API_KEY_SET", config.OpenAIKey != "",
		"NOTIFY_CHANNEL", config.NotifyChannel,
		"CATALOG_PATH", config.CatalogPath,
		"API_ADDR", config.APIAddr)

	return config
}

// parseCommandLineFlags applies command line overrides to config. DSNs left empty
// are derived from the final state directory.
func parseCommandLineFlags(fs *flag.FlagSet, args []string, config Config) (Flags, error) {
	flags := Flags{Config: config}
	fs.StringVar(&flags.QROutput, "qr-output", "", "path to write login QR code")
	fs.BoolVar(&flags.NumericCode, "numeric-code", false, "use numeric login code instead of QR code")
	fs.StringVar(&flags.StateDir, "state-dir", config.StateDir, "state directory for ShopPipe data (overrides $SHOPPIPE_STATE_DIR)")
	fs.StringVar(&flags.WhatsAppDSN, "whatsapp-db-dsn", config.WhatsAppDSN, "database DSN for the WhatsApp device store (overrides $WHATSAPP_DB_DSN)")
	fs.StringVar(&flags.SessionDSN, "session-dsn", config.SessionDSN, "session store DSN: dir:<path>, a SQLite file or a Postgres URL (overrides $SESSION_STORE_DSN)")
	fs.StringVar(&flags.OpenAIKey, "openai-api-key", config.OpenAIKey, "OpenAI API key (overrides $OPENAI_API_KEY)")
	fs.StringVar(&flags.CatalogPath, "catalog", config.CatalogPath, "catalog YAML file (overrides $CATALOG_PATH)")
	fs.StringVar(&flags.OwnerPhone, "owner-phone", config.OwnerPhone, "phone number notified of new orders (overrides $OWNER_PHONE)")
	fs.StringVar(&flags.NotifyChannel, "notify-channel", config.NotifyChannel, "order notification channel: whatsapp or twilio (overrides $NOTIFY_CHANNEL)")
	fs.StringVar(&flags.APIAddr, "api-addr", config.APIAddr, "admin API address, empty to disable (overrides $API_ADDR)")
	fs.IntVar(&flags.Workers, "workers", config.Workers, "concurrent message handlers (overrides $WORKERS)")
	if err := fs.Parse(args); err != nil {
		return Flags{}, err
	}

	if flags.WhatsAppDSN == "" {
		flags.WhatsAppDSN = "file:" + filepath.Join(flags.StateDir, DefaultWhatsAppDBFileName) + "?_foreign_keys=on"
	}
	if flags.SessionDSN == "" {
		flags.SessionDSN = store.DirPrefix + filepath.Join(flags.StateDir, DefaultSessionDirName)
	}
	switch flags.NotifyChannel {
	case NotifyChannelWhatsApp, NotifyChannelTwilio:
	default:
		return Flags{}, fmt.Errorf("unknown notify channel %q", flags.NotifyChannel)
	}
	if flags.Workers <= 0 {
		flags.Workers = messaging.DefaultWorkers
	}

	slog.Debug("flags parsed",
		"qrOutput", flags.QROutput,
		"numeric", flags.NumericCode,
		"stateDir", flags.StateDir,
		"sessionDSN", redactDSN(flags.SessionDSN),
		"notifyChannel", flags.NotifyChannel,
		"apiAddr", flags.APIAddr,
		"workers", flags.Workers)
	return flags, nil
}

// redactDSN hides connection strings that may carry credentials.
func redactDSN(dsn string) string {
	if store.DetectBackend(dsn) == store.BackendPostgres {
		return "postgres://***"
	}
	return dsn
}

// run wires the modules and blocks until ctx is cancelled.
func run(ctx context.Context, flags Flags) error {
	lock, err := lockfile.AcquireLock(flags.StateDir)
	if err != nil {
		return err
	}
	defer lock.Release()

	repo, err := store.Open(buildStoreOptions(flags)...)
	if err != nil {
		return fmt.Errorf("failed to open session store: %w", err)
	}
	defer repo.Close()
	st := session.NewStore(repo, buildSessionOptions(flags)...)

	cat, err := catalog.Load(flags.CatalogPath, "")
	if err != nil {
		return err
	}

	waClient, err := whatsapp.NewClient(ctx, buildWhatsAppOptions(flags)...)
	if err != nil {
		return fmt.Errorf("failed to start WhatsApp client: %w", err)
	}
	defer waClient.Disconnect()

	svc := messaging.NewWhatsAppService(waClient)
	if err := svc.Start(ctx); err != nil {
		return fmt.Errorf("failed to start messaging service: %w", err)
	}
	defer svc.Stop()

	routerOpts, err := buildRouterOptions(flags, cat, svc)
	if err != nil {
		return err
	}
	router := flow.NewRouter(st, svc, cat, routerOpts...)

	sched := scheduler.NewScheduler()
	defer sched.Stop()
	sweeper := session.NewSweeper(st, flags.HumanIdleTimeout, flags.SweepInterval)
	if err := sweeper.Start(ctx, sched); err != nil {
		return fmt.Errorf("failed to schedule inactivity sweep: %w", err)
	}

	apiErr := make(chan error, 1)
	if flags.APIAddr != "" {
		srv := api.NewServer(st, sweeper, buildAPIOptions(flags)...)
		go func() { apiErr <- srv.Run(ctx) }()
	}

	done := make(chan struct{})
	go func() {
		messaging.NewDispatcher(router, flags.Workers).Run(ctx, svc.Messages())
		close(done)
	}()
	slog.Info("ShopPipe ready", "store", cat.Store, "products", len(cat.Products))

	select {
	case <-ctx.Done():
		slog.Info("Shutdown requested")
	case err := <-apiErr:
		if err != nil {
			return fmt.Errorf("admin API stopped: %w", err)
		}
	}
	<-done
	return nil
}

// buildStoreOptions constructs session store configuration options
func buildStoreOptions(flags Flags) []store.Option {
	return []store.Option{store.WithDSN(flags.SessionDSN)}
}

// buildSessionOptions constructs session cache configuration options
func buildSessionOptions(flags Flags) []session.Option {
	var opts []session.Option
	if flags.HistoryCap > 0 {
		opts = append(opts, session.WithHistoryCap(flags.HistoryCap))
	}
	return opts
}

// buildWhatsAppOptions constructs WhatsApp configuration options
func buildWhatsAppOptions(flags Flags) []whatsapp.Option {
	var waOpts []whatsapp.Option
	if flags.QROutput != "" {
		waOpts = append(waOpts, whatsapp.WithQRCodeOutput(flags.QROutput))
	}
	if flags.NumericCode {
		waOpts = append(waOpts, whatsapp.WithNumericCode())
	}
	if flags.WhatsAppDSN != "" {
		waOpts = append(waOpts, whatsapp.WithDBDSN(flags.WhatsAppDSN))
	}
	return waOpts
}

// buildGenAIOptions constructs GenAI configuration options
func buildGenAIOptions(flags Flags) []genai.Option {
	var genaiOpts []genai.Option
	if flags.OpenAIKey != "" {
		genaiOpts = append(genaiOpts, genai.WithAPIKey(flags.OpenAIKey))
	}
	if flags.OpenAIModel != "" {
		genaiOpts = append(genaiOpts, genai.WithModel(flags.OpenAIModel))
	}
	return genaiOpts
}

// buildAPIOptions constructs admin API configuration options
func buildAPIOptions(flags Flags) []api.Option {
	opts := []api.Option{api.WithAddr(flags.APIAddr)}
	if flags.ContextBudget > 0 {
		opts = append(opts, api.WithContextBudget(flags.ContextBudget))
	}
	return opts
}

// buildNotifier returns the owner notifier for the configured channel. The
// WhatsApp channel reuses the bot's own connection.
func buildNotifier(flags Flags, wa notify.Sender) (notify.Notifier, error) {
	sender := wa
	if flags.NotifyChannel == NotifyChannelTwilio {
		tw, err := twiliowhatsapp.NewClient(
			twiliowhatsapp.WithAccountSID(flags.TwilioAccountSID),
			twiliowhatsapp.WithAuthToken(flags.TwilioAuthToken),
			twiliowhatsapp.WithFromWhats(flags.TwilioFrom),
		)
		if err != nil {
			return nil, fmt.Errorf("failed to configure Twilio notifications: %w", err)
		}
		sender = tw
	}
	return notify.NewOwnerNotifier(sender, notify.WithOwnerPhone(flags.OwnerPhone))
}

// buildIdentifier returns the photo identifier, or nil when no OpenAI key is set.
func buildIdentifier(flags Flags, cat *catalog.Catalog) (*vision.Identifier, error) {
	if flags.OpenAIKey == "" {
		slog.Warn("No OpenAI API key set, photo identification disabled")
		return nil, nil
	}
	client, err := genai.NewClient(buildGenAIOptions(flags)...)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize GenAI client: %w", err)
	}
	return vision.NewIdentifier(client, cat), nil
}

// buildRouterOptions constructs message router configuration options
func buildRouterOptions(flags Flags, cat *catalog.Catalog, wa notify.Sender) ([]flow.Option, error) {
	opts := []flow.Option{
		flow.WithMessageIdleTimeout(flags.MessageIdleTimeout),
		flow.WithBrowseDelays(flags.BrowseImageDelay, flags.BrowseItemDelay),
		flow.WithHandoffDelay(flags.HandoffDelay),
		flow.WithDedup(store.NewMemoryDedup(store.DefaultDedupCapacity)),
	}
	if flags.StoreName != "" {
		opts = append(opts, flow.WithStoreName(flags.StoreName))
	}
	if flags.AgentName != "" {
		opts = append(opts, flow.WithAgentName(flags.AgentName))
	}

	identifier, err := buildIdentifier(flags, cat)
	if err != nil {
		return nil, err
	}
	if identifier != nil {
		opts = append(opts, flow.WithIdentifier(identifier))
	}

	notifier, err := buildNotifier(flags, wa)
	if err != nil {
		slog.Warn("Order notifications disabled", "error", err)
	} else {
		opts = append(opts, flow.WithNotifier(notifier))
	}
	return opts, nil
}
