package app

import (
	"context"
	"fmt"
	"log/slog"
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/google/uuid"
	"github.com/holiman/uint256"

	s3blob "github.com/levyprotocol/levyd/internal/blob/s3"
	"github.com/levyprotocol/levyd/internal/cache/redis"
	"github.com/levyprotocol/levyd/internal/config"
	"github.com/levyprotocol/levyd/internal/crypto"
	"github.com/levyprotocol/levyd/internal/domain"
	"github.com/levyprotocol/levyd/internal/gateway/uniswap"
	"github.com/levyprotocol/levyd/internal/ledger"
	"github.com/levyprotocol/levyd/internal/levy"
	"github.com/levyprotocol/levyd/internal/liquidity"
	"github.com/levyprotocol/levyd/internal/notify"
	"github.com/levyprotocol/levyd/internal/store/postgres"
	"github.com/levyprotocol/levyd/internal/token"
)

// Dependencies bundles everything the application modes need to operate. It
// is constructed by Wire and torn down by the returned cleanup function.
type Dependencies struct {
	// Core
	Ledger  *ledger.Ledger
	Service *token.Service
	Engine  *levy.Engine

	// Stores
	TransferStore domain.TransferStore
	EventStore    domain.LevyEventStore

	// Caches
	BalanceCache domain.BalanceCache
	RateLimiter  domain.RateLimiter
	LockManager  domain.LockManager
	SignalBus    domain.SignalBus

	// Exchange gateway (nil outside full mode)
	Gateway *uniswap.Router

	// Blob storage
	BlobWriter  domain.BlobWriter
	BlobReader  domain.BlobReader
	BlobDeleter domain.BlobDeleter
	Archiver    domain.Archiver

	// Notifications
	Notifier *notify.Notifier
}

// needsPostgres returns true for modes that require a database connection.
func needsPostgres(mode string) bool {
	switch mode {
	case "full", "server":
		return true
	default:
		return false
	}
}

// needsGateway returns true for modes that sign real exchange transactions.
func needsGateway(mode string) bool {
	return mode == "full"
}

// Wire constructs all concrete dependency implementations from the given
// configuration and returns them together with a cleanup function that should
// be called on shutdown to release resources.
func Wire(ctx context.Context, cfg *config.Config) (*Dependencies, func(), error) {
	logger := slog.Default()

	var closers []func()
	cleanup := func() {
		for i := len(closers) - 1; i >= 0; i-- {
			closers[i]()
		}
	}

	deps := &Dependencies{}

	// --- PostgreSQL (only for modes that need persistence) ---
	if needsPostgres(cfg.Mode) {
		pgClient, err := postgres.New(ctx, postgres.ClientConfig{
			DSN:      cfg.Postgres.DSN,
			Host:     cfg.Postgres.Host,
			Port:     cfg.Postgres.Port,
			Database: cfg.Postgres.Database,
			User:     cfg.Postgres.User,
			Password: cfg.Postgres.Password,
			SSLMode:  cfg.Postgres.SSLMode,
			MaxConns: cfg.Postgres.PoolMaxConns,
			MinConns: cfg.Postgres.PoolMinConns,
		})
		if err != nil {
			cleanup()
			return nil, nil, fmt.Errorf("wire: postgres: %w", err)
		}
		closers = append(closers, pgClient.Close)

		if cfg.Postgres.RunMigrations {
			if err := pgClient.RunMigrations(ctx); err != nil {
				cleanup()
				return nil, nil, fmt.Errorf("wire: postgres migrations: %w", err)
			}
		}

		pool := pgClient.Pool()
		deps.TransferStore = postgres.NewTransferStore(pool)
		deps.EventStore = postgres.NewLevyEventStore(pool)
	}

	// --- Redis ---
	redisClient, err := redis.New(ctx, redis.ClientConfig{
		Addr:       cfg.Redis.Addr,
		Password:   cfg.Redis.Password,
		DB:         cfg.Redis.DB,
		PoolSize:   cfg.Redis.PoolSize,
		MaxRetries: cfg.Redis.MaxRetries,
		TLSEnabled: cfg.Redis.TLSEnabled,
	})
	if err != nil {
		cleanup()
		return nil, nil, fmt.Errorf("wire: redis: %w", err)
	}
	closers = append(closers, func() { _ = redisClient.Close() })

	deps.BalanceCache = redis.NewBalanceCache(redisClient, 5*time.Minute)
	deps.RateLimiter = redis.NewRateLimiter(redisClient)
	deps.LockManager = redis.NewLockManager(redisClient)
	deps.SignalBus = redis.NewSignalBus(redisClient)

	// --- Exchange gateway (full mode only) ---
	if needsGateway(cfg.Mode) {
		key, err := crypto.LoadECDSA(crypto.KeyConfig{
			RawPrivateKey:    cfg.Operator.PrivateKey,
			EncryptedKeyPath: cfg.Operator.EncryptedKeyPath,
			KeyPassword:      cfg.Operator.KeyPassword,
		})
		if err != nil {
			cleanup()
			return nil, nil, fmt.Errorf("wire: operator key: %w", err)
		}

		gw, err := uniswap.Dial(ctx, cfg.Chain.RPCURL, key, uniswap.Config{
			Router:      common.HexToAddress(cfg.Chain.Router),
			Token:       common.HexToAddress(cfg.Token.Address),
			PairedAsset: common.HexToAddress(cfg.Chain.PairedAsset),
			ChainID:     big.NewInt(cfg.Chain.ChainID),
			GasLimit:    cfg.Chain.GasLimit,
		}, logger)
		if err != nil {
			cleanup()
			return nil, nil, fmt.Errorf("wire: gateway: %w", err)
		}
		closers = append(closers, gw.Close)

		if err := gw.EnsurePair(ctx); err != nil {
			cleanup()
			return nil, nil, fmt.Errorf("wire: ensure pair: %w", err)
		}
		deps.Gateway = gw
	}

	// --- S3 blob storage (only when archiving is enabled) ---
	if cfg.Archive.Enabled {
		s3Client, err := s3blob.New(ctx, s3blob.ClientConfig{
			Endpoint:       cfg.S3.Endpoint,
			Region:         cfg.S3.Region,
			Bucket:         cfg.S3.Bucket,
			AccessKey:      cfg.S3.AccessKey,
			SecretKey:      cfg.S3.SecretKey,
			UseSSL:         cfg.S3.UseSSL,
			ForcePathStyle: cfg.S3.ForcePathStyle,
		})
		if err != nil {
			cleanup()
			return nil, nil, fmt.Errorf("wire: s3: %w", err)
		}
		closers = append(closers, func() { _ = s3Client.Close() })

		deps.BlobWriter = s3blob.NewWriter(s3Client)
		reader := s3blob.NewReader(s3Client)
		deps.BlobReader = reader
		deps.BlobDeleter = reader // same type implements BlobDeleter

		// Archiving needs the time-ranged store queries.
		if ts, ok := deps.TransferStore.(*postgres.TransferStore); ok {
			if es, ok := deps.EventStore.(*postgres.LevyEventStore); ok {
				deps.Archiver = s3blob.NewArchiver(deps.BlobWriter, ts, es)
			}
		}
	}

	// --- Notifications ---
	var senders []notify.Sender
	var signer *crypto.WebhookSigner
	if cfg.Notify.WebhookSecret != "" {
		signer = crypto.NewWebhookSigner(cfg.Notify.WebhookSecret)
	}
	for _, url := range cfg.Notify.WebhookURLs {
		sender := notify.NewWebhookSender(url)
		if signer != nil {
			sender.WithSigner(signer)
		}
		senders = append(senders, sender)
	}
	if cfg.Notify.DiscordWebhook != "" {
		senders = append(senders, notify.NewDiscordSender(cfg.Notify.DiscordWebhook))
	}
	if cfg.Notify.TelegramToken != "" && cfg.Notify.TelegramChatID != "" {
		senders = append(senders, notify.NewTelegramSender(cfg.Notify.TelegramToken, cfg.Notify.TelegramChatID))
	}
	deps.Notifier = notify.NewNotifier(senders, cfg.Notify.Events, logger)

	// --- Core: ledger, service, converter, engine ---
	if err := wireCore(ctx, cfg, deps, logger); err != nil {
		cleanup()
		return nil, nil, fmt.Errorf("wire: core: %w", err)
	}

	return deps, cleanup, nil
}

// wireCore builds the ledger, token service, liquidity converter, and levy
// engine, and binds them together. Construction is two-phase: the service is
// the engine's emitter, and the converter re-enters the engine's Intercept
// for its custody-to-router moves.
func wireCore(ctx context.Context, cfg *config.Config, deps *Dependencies, logger *slog.Logger) error {
	admin := common.HexToAddress(cfg.Token.Admin)
	custody := common.HexToAddress(cfg.Token.Custody)
	tokenAddr := common.HexToAddress(cfg.Token.Address)
	router := common.HexToAddress(cfg.Chain.Router)

	genesis := time.Now().UTC()
	if cfg.Token.Genesis != "" {
		t, err := time.Parse(time.RFC3339, cfg.Token.Genesis)
		if err != nil {
			return fmt.Errorf("parse genesis: %w", err)
		}
		genesis = t
	}

	supply := levy.GenesisSupply(uint8(cfg.Token.Decimals))
	l := ledger.New(uint8(cfg.Token.Decimals))
	if err := l.Mint(admin, supply); err != nil {
		return fmt.Errorf("mint genesis supply: %w", err)
	}

	// The genesis mint is recorded once. Its ID is derived from the token
	// address so restarts hit the store's conflict clause instead of
	// duplicating the row.
	if deps.TransferStore != nil {
		rec := domain.TransferRecord{
			ID:    uuid.NewSHA1(uuid.NameSpaceOID, []byte("genesis:"+tokenAddr.Hex())),
			At:    genesis,
			Kind:  domain.TransferKindGenesis,
			From:  common.Address{},
			To:    admin,
			Gross: supply,
			Net:   supply,
			Tax:   uint256.NewInt(0),
		}
		if err := deps.TransferStore.Insert(ctx, rec); err != nil {
			return fmt.Errorf("record genesis transfer: %w", err)
		}
	}

	svc := token.New(token.Config{
		Name:      cfg.Token.Name,
		Symbol:    cfg.Token.Symbol,
		Ledger:    l,
		Transfers: deps.TransferStore,
		Events:    deps.EventStore,
		Bus:       deps.SignalBus,
		Cache:     deps.BalanceCache,
		Logger:    logger,
	})

	// Without a gateway client the conversion path cannot run: in server and
	// monitor modes the converter stays gateway-less, and any taxed transfer
	// inside the window fails at the conversion step and reverts. Exempt and
	// post-window transfers are unaffected.
	var gw liquidity.Gateway
	if deps.Gateway != nil {
		gw = deps.Gateway
	}
	conv := liquidity.NewConverter(gw, tokenAddr, custody, admin, router, svc)

	engine := levy.NewEngine(l, conv, svc, levy.Params{
		Token:   tokenAddr,
		Admin:   admin,
		Custody: custody,
		Gateway: router,
		Genesis: genesis,
	})
	if deps.Gateway != nil {
		engine.WithForeignMover(deps.Gateway)
	}

	conv.BindTransfer(engine.Intercept)
	svc.Bind(engine)

	deps.Ledger = l
	deps.Service = svc
	deps.Engine = engine
	return nil
}
