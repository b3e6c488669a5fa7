package bootstrap

import (
	"context"
	"strings"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	_ "github.com/jackc/pgx/v5/stdlib" // pgx driver for database/sql
	"github.com/jmoiron/sqlx"
	"github.com/redis/go-redis/v9"
	"go.mongodb.org/mongo-driver/mongo"

	"github.com/frappe/mail/adapter/out/broker"
	"github.com/frappe/mail/adapter/out/mongodb"
	"github.com/frappe/mail/adapter/out/persistence"
	"github.com/frappe/mail/adapter/out/spamc"
	worker "github.com/frappe/mail/adapter/in/worker"
	"github.com/frappe/mail/config"
	"github.com/frappe/mail/core/port/in"
	"github.com/frappe/mail/core/port/out"
	"github.com/frappe/mail/core/service/mail"
	"github.com/frappe/mail/core/service/spam"
	"github.com/frappe/mail/core/service/sync"
	"github.com/frappe/mail/infra/database"
	"github.com/frappe/mail/pkg/crypto"
	"github.com/frappe/mail/pkg/logger"
	"github.com/frappe/mail/pkg/metrics"
)

const (
	outgoingMailQueueName       = "OUTGOING_MAIL_QUEUE"
	outgoingMailStatusQueueName = "OUTGOING_MAIL_STATUS_QUEUE"
	incomingMailQueueName       = "INCOMING_MAIL_QUEUE"
	newsletterQueueName         = "NEWSLETTER_QUEUE"

	outgoingMailQueueMaxPriority = uint8(3)
)

// Dependencies holds every infra handle and wired service the API and
// worker entry points share, grounded on worker_deps.go's single
// composition-root shape.
type Dependencies struct {
	Config *config.Config

	DB      *pgxpool.Pool
	SQLDB   *sqlx.DB
	Redis   *redis.Client
	MongoDB *mongo.Client
	Broker  out.BrokerClient

	Domains    *persistence.DomainAdapter
	DKIMKeys   *persistence.DKIMAdapter
	Mailboxes  *persistence.MailboxAdapter
	Aliases    *persistence.AliasAdapter
	Outgoing   *persistence.OutgoingMailAdapter
	Incoming   *persistence.IncomingMailAdapter
	SyncHist   *persistence.SyncHistoryAdapter
	Blocklist  *persistence.BlocklistAdapter
	SpamLogs   *persistence.SpamLogAdapter
	Contacts   *persistence.MailContactAdapter
	Attachments *mongodb.AttachmentAdapter

	Spamc *spamc.Client

	Signer      *mail.Signer
	Parser      *mail.Parser
	Composer    in.Composer
	Intake      in.IntakeWorker
	Reconciler  in.Reconciler
	Transfer    in.TransferWorker
	Newsletter  *mail.NewsletterDrainer
	Retention   *mail.Retention
	SpamGate    in.SpamGate
	BlocklistGate in.BlocklistGate
	SyncCursor  in.SyncCursorService

	WorkerHandler *worker.Handler
}

// NewDependencies wires every adapter and service. An unreachable Redis
// is logged and skipped, matching worker_deps.go's degrade-rather-than-crash
// behaviour; MongoDB is skipped only when no MONGODB URL is configured, and
// a configured one that fails to connect fails boot. It also fails on
// Postgres and on the broker's queue declarations.
func NewDependencies(cfg *config.Config) (*Dependencies, func(), error) {
	deps := &Dependencies{Config: cfg}
	var cleanups []func()
	cleanup := func() {
		for i := len(cleanups) - 1; i >= 0; i-- {
			cleanups[i]()
		}
	}

	db, err := database.NewPostgres(cfg.DatabaseURL)
	if err != nil {
		return nil, nil, err
	}
	deps.DB = db
	cleanups = append(cleanups, func() { db.Close() })

	sqlxURL := cfg.DatabaseURL
	if strings.Contains(sqlxURL, "?") {
		sqlxURL += "&default_query_exec_mode=simple_protocol"
	} else {
		sqlxURL += "?default_query_exec_mode=simple_protocol"
	}
	sqlDB, err := sqlx.Connect("pgx", sqlxURL)
	if err != nil {
		cleanup()
		return nil, nil, err
	}
	sqlDB.SetMaxOpenConns(25)
	sqlDB.SetMaxIdleConns(10)
	sqlDB.SetConnMaxLifetime(30 * time.Minute)
	sqlDB.SetConnMaxIdleTime(5 * time.Minute)
	deps.SQLDB = sqlDB
	cleanups = append(cleanups, func() { sqlDB.Close() })
	metrics.RegisterPool("postgres", sqlDB.DB)

	if redisClient, err := database.NewRedis(cfg.RedisURL); err != nil {
		logger.Warn("redis connection failed: %v", err)
	} else {
		deps.Redis = redisClient
		cleanups = append(cleanups, func() { redisClient.Close() })
	}

	if cfg.MongoDBURL != "" {
		mongoClient, err := mongodb.NewClient(cfg.MongoDBURL, cfg.MongoDBName)
		if err != nil {
			cleanup()
			return nil, nil, err
		}
		deps.MongoDB = mongoClient
		cleanups = append(cleanups, func() { mongoClient.Disconnect(context.Background()) })
		deps.Attachments = mongodb.NewAttachmentAdapter(mongoClient.Database(cfg.MongoDBName))
		if err := deps.Attachments.EnsureIndexes(context.Background()); err != nil {
			logger.Warn("attachment index setup failed: %v", err)
		}
	}

	if cfg.EncryptionKey != "" {
		if err := crypto.Init(); err != nil {
			logger.Warn("encryption init failed: %v", err)
		}
	}

	brokerClient := broker.New(broker.Config{
		Host:        cfg.RMQHost,
		Port:        cfg.RMQPort,
		VirtualHost: cfg.RMQVirtualHost,
		Username:    cfg.RMQUsername,
		Password:    cfg.RMQPassword,
		PoolSize:    cfg.RMQPoolSize,
		ConnTimeout: cfg.RMQConnectTimeout,
	})
	deps.Broker = brokerClient
	cleanups = append(cleanups, func() { brokerClient.Close() })

	declCtx, declCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer declCancel()
	for _, q := range []struct {
		name        string
		maxPriority uint8
	}{
		{outgoingMailQueueName, outgoingMailQueueMaxPriority},
		{outgoingMailStatusQueueName, 0},
		{incomingMailQueueName, 0},
		{newsletterQueueName, 0},
	} {
		if err := brokerClient.DeclareQueue(declCtx, q.name, q.maxPriority, true); err != nil {
			cleanup()
			return nil, nil, err
		}
	}

	deps.Domains = persistence.NewDomainAdapter(sqlDB)
	deps.DKIMKeys = persistence.NewDKIMAdapter(sqlDB)
	deps.Mailboxes = persistence.NewMailboxAdapter(sqlDB)
	deps.Aliases = persistence.NewAliasAdapter(sqlDB)
	deps.Outgoing = persistence.NewOutgoingMailAdapter(sqlDB)
	deps.Incoming = persistence.NewIncomingMailAdapter(sqlDB)
	deps.SyncHist = persistence.NewSyncHistoryAdapter(sqlDB)
	deps.Blocklist = persistence.NewBlocklistAdapter(sqlDB)
	deps.SpamLogs = persistence.NewSpamLogAdapter(sqlDB)
	deps.Contacts = persistence.NewMailContactAdapter(sqlDB)

	deps.Spamc = spamc.New(cfg.SpamdHost, cfg.SpamdPort)

	deps.Signer = mail.NewSigner(deps.DKIMKeys)
	deps.Parser = mail.NewParser()

	var attachmentStore out.AttachmentStore
	if deps.Attachments != nil {
		attachmentStore = deps.Attachments
	}

	composer := mail.NewComposer(
		deps.Mailboxes, deps.Domains, deps.Outgoing, deps.Incoming, deps.Contacts,
		attachmentStore, deps.Signer,
		mail.Limits{
			MaxRecipients:           cfg.MaxRecipients,
			MaxHeaders:              cfg.MaxHeaders,
			MaxMessageSize:          cfg.MaxMessageSize,
			MaxAttachments:          cfg.OutgoingMaxAttachments,
			MaxAttachmentSize:       cfg.OutgoingMaxAttachmentSize,
			MaxTotalAttachmentsSize: cfg.OutgoingTotalAttachmentSize,
		},
	)
	deps.Composer = composer

	deps.SpamGate = spam.NewGate(deps.Spamc, deps.SpamLogs)
	deps.BlocklistGate = spam.NewBlocklist(deps.Blocklist)

	deps.Intake = mail.NewIntake(
		deps.Parser, deps.Signer, deps.Mailboxes, deps.Aliases, deps.Domains,
		deps.Incoming, attachmentStore, brokerClient, deps.SpamGate, deps.BlocklistGate,
	)
	deps.Reconciler = mail.NewReconciler(deps.Outgoing, brokerClient)
	deps.Transfer = mail.NewTransfer(deps.Outgoing, deps.Domains, brokerClient)
	deps.Newsletter = mail.NewNewsletterDrainer(composer, brokerClient)
	deps.Retention = mail.NewRetention(deps.Outgoing, deps.Incoming, deps.SpamLogs,
		cfg.NewsletterRetentionDays, cfg.RejectedMailRetentionDays)

	deps.SyncCursor = sync.NewCursor(deps.SyncHist, deps.Incoming, deps.Mailboxes, deps.Redis)

	deps.WorkerHandler = worker.NewHandler(deps.Transfer, deps.Intake, deps.Reconciler, deps.Newsletter)

	return deps, cleanup, nil
}
