package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"strings"
	"time"

	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/kms"
	"github.com/aws/aws-sdk-go-v2/service/ssm"
	"github.com/lmittmann/tint"

	"github.com/Mister-97/mappa-pro/internal/auth"
	"github.com/Mister-97/mappa-pro/internal/config"
	"github.com/Mister-97/mappa-pro/internal/content"
	"github.com/Mister-97/mappa-pro/internal/crypto"
	"github.com/Mister-97/mappa-pro/internal/earnings"
	"github.com/Mister-97/mappa-pro/internal/handler"
	"github.com/Mister-97/mappa-pro/internal/lease"
	"github.com/Mister-97/mappa-pro/internal/notify"
	"github.com/Mister-97/mappa-pro/internal/outbox"
	"github.com/Mister-97/mappa-pro/internal/reconcile"
	"github.com/Mister-97/mappa-pro/internal/remote"
	"github.com/Mister-97/mappa-pro/internal/retry"
	"github.com/Mister-97/mappa-pro/internal/secret"
	"github.com/Mister-97/mappa-pro/internal/store"
	"github.com/Mister-97/mappa-pro/internal/webhook"
)

const devJWTSecret = "default-dev-secret"

// App holds the dependencies shared by the Lambda functions and the local
// server.
type App struct {
	Config     *config.Config
	Logger     *slog.Logger
	DB         *store.DB
	Tokens     *auth.Manager
	Remote     *remote.Client
	Reconciler *reconcile.Reconciler
	Poller     *reconcile.Poller

	retry   retry.Options
	closers []func() error

	accountHandler   *handler.AccountHandler
	syncHandler      *handler.SyncHandler
	webhookHandler   *handler.WebhookHandler
	earningsHandler  *handler.EarningsHandler
	inboxHandler     *handler.InboxHandler
	outboxHandler    *handler.OutboxHandler
	apiGatewaySecret string
	jwtSecret        string
}

type secrets struct {
	clientSecret     string
	webhookSecret    string
	jwtSecret        string
	apiGatewaySecret string
}

// NewApp initializes the application dependencies. In dev mode AWS is not
// touched: credentials and leases live in memory and secrets come from the
// environment.
func NewApp(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*App, error) {
	var (
		encryptor crypto.Encryptor
		resolver  secret.Resolver
		creds     auth.CredentialStore
		locker    lease.Locker
	)

	if cfg.DevMode {
		if cfg.EncryptionKey != "" {
			aes, err := crypto.NewAESEncryptor(cfg.EncryptionKey)
			if err != nil {
				return nil, err
			}
			encryptor = aes
			logger.Info("using AES token encryption (DEV_MODE=true)")
		} else {
			encryptor = crypto.NewMockEncryptor()
			logger.Warn("using mock token encryption (DEV_MODE=true)")
		}
		resolver = secret.NewEnvResolver()
		creds = auth.NewMemoryStore()
		locker = lease.NewMemoryLocker(cfg.LeaseTTL)
	} else {
		awsCfg, err := awsconfig.LoadDefaultConfig(ctx)
		if err != nil {
			return nil, fmt.Errorf("unable to load SDK config: %w", err)
		}
		dynamoClient := dynamodb.NewFromConfig(awsCfg)
		encryptor = crypto.NewKMSService(kms.NewFromConfig(awsCfg), cfg.KMSKeyID)
		resolver = secret.NewSSMResolver(ssm.NewFromConfig(awsCfg))
		creds = auth.NewDynamoStore(dynamoClient, cfg.CredentialsTable)
		locker = lease.NewDynamoLocker(dynamoClient, cfg.LeasesTable, cfg.LeaseTTL)
	}

	var sec secrets
	if err := secret.ResolveAll(ctx, resolver, map[string]*string{
		cfg.ClientSecretParam:     &sec.clientSecret,
		cfg.WebhookSecretParam:    &sec.webhookSecret,
		cfg.JWTSecretParam:        &sec.jwtSecret,
		cfg.APIGatewaySecretParam: &sec.apiGatewaySecret,
	}); err != nil {
		logger.Warn("failed to resolve some secrets", "error", err)
	}
	if sec.jwtSecret == "" {
		if !cfg.DevMode {
			return nil, errors.New("jwt secret is not configured")
		}
		sec.jwtSecret = devJWTSecret
	}

	db, err := store.New(cfg.DatabaseDriver, cfg.DatabaseURL)
	if err != nil {
		return nil, err
	}
	if err := db.Migrate(ctx); err != nil {
		db.Close()
		return nil, err
	}

	httpClient := &http.Client{Timeout: cfg.HTTPTimeout}
	oauthCfg := auth.NewOAuthConfig(cfg.PlatformClientID, sec.clientSecret, cfg.PlatformAuthURL, cfg.PlatformTokenURL, cfg.PlatformRedirect)
	tokens := auth.NewManager(creds, encryptor, auth.NewOAuthRefresher(oauthCfg, httpClient), logger)
	client := remote.NewClient(cfg.PlatformAPIURL, cfg.PlatformAPIVersion, httpClient, tokens)

	a := &App{
		Config:           cfg,
		Logger:           logger,
		DB:               db,
		Tokens:           tokens,
		Remote:           client,
		retry:            retry.Options{MaxRetries: cfg.RetryMax, BaseDelay: cfg.RetryBaseDelay},
		closers:          []func() error{db.Close},
		apiGatewaySecret: sec.apiGatewaySecret,
		jwtSecret:        sec.jwtSecret,
	}

	var notifier notify.Notifier = notify.Nop{}
	if cfg.AMQPEnabled() {
		amqpClient, err := notify.NewClient(cfg.AMQPURL, cfg.AMQPExchange, logger)
		if err != nil {
			a.Close()
			return nil, err
		}
		a.closers = append(a.closers, amqpClient.Close)
		notifier = notify.NewAMQPNotifier(amqpClient, cfg.AMQPExchange)
	}

	a.Reconciler = reconcile.NewReconciler(db, client, notifier, logger, cfg.MessagePageSize, a.retry)
	a.Poller = reconcile.NewPoller(creds, locker, db, client, a.Reconciler, notifier, logger, reconcile.PollerOptions{
		Interval:  cfg.PollInterval,
		GroupSize: cfg.PollGroupSize,
		PageSize:  cfg.ConversationPageSize,
		Retry:     a.retry,
	})

	earningsSvc := earnings.NewService(client, logger, earnings.Options{
		MaxSpan:     cfg.RangeMaxSpan(),
		Concurrency: cfg.RangeConcurrency,
		MaxPages:    cfg.RangeMaxPages,
		Retry:       a.retry,
	})

	a.accountHandler = handler.NewAccountHandler(tokens, oauthCfg, auth.NewStateSigner(sec.jwtSecret), sec.jwtSecret, cfg.FrontendURL, logger)
	a.syncHandler = handler.NewSyncHandler(a.Poller, sec.jwtSecret, logger)
	a.webhookHandler = handler.NewWebhookHandler(webhook.NewProcessor(a.Reconciler, logger), sec.webhookSecret, cfg.WebhookTolerance, cfg.WebhookAsync, logger)
	a.earningsHandler = handler.NewEarningsHandler(earningsSvc, sec.jwtSecret, logger)
	a.inboxHandler = handler.NewInboxHandler(db, a.Reconciler, sec.jwtSecret)

	return a, nil
}

// EnableOutbox starts per-account send queues that drain until ctx is done.
// Only long-running processes should call it.
func (a *App) EnableOutbox(ctx context.Context) *outbox.Registry {
	send := outbox.NewSender(content.NewRenderer(), a.Remote, a.Reconciler, a.retry, a.Logger)
	reg := outbox.NewRegistry(ctx, send, a.Logger)
	a.outboxHandler = handler.NewOutboxHandler(reg, a.jwtSecret)
	return reg
}

// Close releases the database and broker connections.
func (a *App) Close() error {
	var errs []error
	for i := len(a.closers) - 1; i >= 0; i-- {
		errs = append(errs, a.closers[i]())
	}
	return errors.Join(errs...)
}

// NewLogger builds the process logger: JSON for machines, tint for
// consoles.
func NewLogger(level, format string) *slog.Logger {
	var h slog.Handler
	logLevel := parseLevel(level)

	if format == "json" {
		h = slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
			Level: logLevel,
		})
	} else {
		h = tint.NewHandler(os.Stdout, &tint.Options{
			Level:      logLevel,
			TimeFormat: time.DateTime,
		})
	}
	return slog.New(h)
}

func parseLevel(level string) slog.Level {
	switch strings.ToLower(level) {
	case "debug":
		return slog.LevelDebug
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
