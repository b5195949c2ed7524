// Package config reads the environment and wires the indexer stack from it.
package config

import (
	"context"
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/joho/godotenv"

	"github.com/b-open-io/cellindex/indexer"
	"github.com/b-open-io/cellindex/internal/utils"
	"github.com/b-open-io/cellindex/pending"
	"github.com/b-open-io/cellindex/pubsub"
	"github.com/b-open-io/cellindex/rpc"
	"github.com/b-open-io/cellindex/store"
	"github.com/b-open-io/cellindex/subscriber"
	"github.com/b-open-io/cellindex/ulogger"
)

const (
	DefaultRPCURL    = "http://127.0.0.1:8114"
	pendingKeyPrefix = "pending:"
)

type Config struct {
	// RPCURL is the node JSON-RPC endpoint.
	RPCURL string
	// IndexerURL defaults to RPCURL, for nodes running the built-in indexer.
	IndexerURL string
	// PendingStore is a store connection string, see store.CreateStore.
	PendingStore string
	// PubSubURL is redis:// or channels://.
	PubSubURL         string
	PollInterval      time.Duration
	ReconcileInterval time.Duration
	LogLevel          string
	// OutputsValidator is passed with send_transaction: "passthrough" or
	// empty for the node default.
	OutputsValidator string
}

// Load reads the given env files, or .env when none are given, and then
// the process environment. A missing default .env is not an error.
func Load(envFiles ...string) (*Config, error) {
	if len(envFiles) == 0 {
		godotenv.Load(".env")
	} else if err := godotenv.Load(envFiles...); err != nil {
		return nil, fmt.Errorf("failed to load env files: %w", err)
	}

	cfg := &Config{
		RPCURL:            os.Getenv("CKB_RPC_URL"),
		IndexerURL:        os.Getenv("CKB_INDEXER_URL"),
		PendingStore:      os.Getenv("PENDING_STORE"),
		PubSubURL:         os.Getenv("PUBSUB_URL"),
		LogLevel:          os.Getenv("LOG_LEVEL"),
		OutputsValidator:  os.Getenv("OUTPUTS_VALIDATOR"),
		PollInterval:      subscriber.DefaultInterval,
		ReconcileInterval: pending.DefaultInterval,
	}
	if cfg.RPCURL == "" {
		cfg.RPCURL = DefaultRPCURL
	}
	if cfg.IndexerURL == "" {
		cfg.IndexerURL = cfg.RPCURL
	}
	if cfg.LogLevel == "" {
		cfg.LogLevel = "INFO"
	}

	var err error
	if cfg.PollInterval, err = durationEnv("POLL_INTERVAL", cfg.PollInterval); err != nil {
		return nil, err
	}
	if cfg.ReconcileInterval, err = durationEnv("RECONCILE_INTERVAL", cfg.ReconcileInterval); err != nil {
		return nil, err
	}
	return cfg, nil
}

func durationEnv(name string, def time.Duration) (time.Duration, error) {
	v := os.Getenv(name)
	if v == "" {
		return def, nil
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return 0, fmt.Errorf("invalid %s %q: %w", name, v, err)
	}
	return d, nil
}

// Stack is every long-lived component, wired together.
type Stack struct {
	Logger     ulogger.Logger
	Node       *rpc.Client
	Indexer    *indexer.Indexer
	Store      store.Store
	PubSub     pubsub.PubSub
	Subscriber *subscriber.Subscriber
	Pending    *pending.Manager
}

// CreateStack builds the stack described by cfg. The caller starts the
// subscriber and pending manager loops it needs and closes the stack.
//
// Example configurations:
//
//  1. In-process only:
//     PENDING_STORE="" PUBSUB_URL="" (memory store, channels)
//
//  2. Durable pending set, events shared between processes:
//     PENDING_STORE="redis://localhost:6379" PUBSUB_URL="redis://localhost:6379"
//
//  3. Local file:
//     PENDING_STORE="./pending.db"
func CreateStack(ctx context.Context, cfg *Config) (*Stack, error) {
	logger := ulogger.New("cellindex", ulogger.WithLevel(cfg.LogLevel))

	node := rpc.NewClient(cfg.RPCURL, rpc.WithOutputsValidator(cfg.OutputsValidator))
	indexerClient := node
	if cfg.IndexerURL != "" && cfg.IndexerURL != cfg.RPCURL {
		indexerClient = rpc.NewClient(cfg.IndexerURL)
	}
	logger.Infof("node %s, indexer %s",
		utils.SanitizeConnectionString(cfg.RPCURL), utils.SanitizeConnectionString(indexerClient.URL()))

	st, err := store.CreateStore(cfg.PendingStore)
	if err != nil {
		return nil, fmt.Errorf("failed to create pending store %s: %w", utils.SanitizeConnectionString(cfg.PendingStore), err)
	}

	ps, err := pubsub.CreatePubSub(ctx, cfg.PubSubURL, logger.New("pubsub"))
	if err != nil {
		st.Close()
		return nil, err
	}
	logger.Infof("pending store %q, pubsub %q",
		utils.SanitizeConnectionString(cfg.PendingStore), utils.SanitizeConnectionString(cfg.PubSubURL))

	idx := indexer.New(indexerClient, node, indexer.WithLogger(logger.New("indexer")))
	return &Stack{
		Logger:  logger,
		Node:    node,
		Indexer: idx,
		Store:   st,
		PubSub:  ps,
		Subscriber: subscriber.New(idx, node, ps,
			subscriber.WithLogger(logger.New("subscriber")),
			subscriber.WithInterval(cfg.PollInterval),
			subscriber.WithProgressStore(st),
		),
		Pending: pending.NewManager(node, idx,
			pending.WithStore(st),
			pending.WithKeyPrefix(pendingKeyPrefix),
			pending.WithInterval(cfg.ReconcileInterval),
			pending.WithLogger(logger.New("pending")),
		),
	}, nil
}

// Close stops the loops and releases the store and pubsub connections.
func (s *Stack) Close() error {
	s.Subscriber.Stop()
	s.Pending.Stop()
	return errors.Join(s.PubSub.Close(), s.Store.Close())
}
