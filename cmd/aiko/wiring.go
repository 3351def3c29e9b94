package main

import (
	"context"
	"errors"
	"fmt"
	"os"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/aikogroup/aiko-gpt-sub001/graph/model"
	"github.com/aikogroup/aiko-gpt-sub001/graph/model/anthropic"
	"github.com/aikogroup/aiko-gpt-sub001/graph/model/google"
	"github.com/aikogroup/aiko-gpt-sub001/graph/model/openai"
	"github.com/aikogroup/aiko-gpt-sub001/graph/store"
	"github.com/aikogroup/aiko-gpt-sub001/internal/config"
)

func newLogger(cfg config.LogConfig) (*zap.Logger, error) {
	level, err := zap.ParseAtomicLevel(cfg.Level)
	if err != nil {
		return nil, fmt.Errorf("log level: %w", err)
	}

	zc := zap.NewProductionConfig()
	if cfg.Format == "console" {
		zc = zap.NewDevelopmentConfig()
		zc.EncoderConfig.EncodeLevel = zapcore.CapitalColorLevelEncoder
	}
	zc.Level = level
	zc.OutputPaths = []string{"stderr"}
	zc.ErrorOutputPaths = []string{"stderr"}
	return zc.Build()
}

// openStore returns the checkpoint store, the optional distributed lock and
// a function releasing both.
func openStore(ctx context.Context, cfg config.StoreConfig) (store.Store, store.Locker, func() error, error) {
	noop := func() error { return nil }

	var client *redis.Client
	if cfg.Driver == config.DriverRedis || cfg.Lock {
		client = redis.NewClient(&redis.Options{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
		if err := client.Ping(ctx).Err(); err != nil {
			_ = client.Close()
			return nil, nil, noop, fmt.Errorf("connect to redis at %s: %w", cfg.Redis.Addr, err)
		}
	}
	closeClient := noop
	if client != nil {
		closeClient = client.Close
	}

	var locker store.Locker
	if cfg.Lock {
		locker = store.NewRedisLocker(client, cfg.Redis.Prefix)
	}

	switch cfg.Driver {
	case config.DriverMemory:
		return store.NewMemStore(), locker, closeClient, nil
	case config.DriverSQLite:
		st, err := store.NewSQLiteStore(cfg.Path)
		if err != nil {
			_ = closeClient()
			return nil, nil, noop, err
		}
		return st, locker, joinClosers(st.Close, closeClient), nil
	case config.DriverMySQL:
		st, err := store.NewMySQLStore(cfg.DSN)
		if err != nil {
			_ = closeClient()
			return nil, nil, noop, err
		}
		return st, locker, joinClosers(st.Close, closeClient), nil
	case config.DriverRedis:
		opts := []store.RedisOption{store.WithRedisPrefix(cfg.Redis.Prefix)}
		if cfg.Redis.TTL > 0 {
			opts = append(opts, store.WithRedisTTL(cfg.Redis.TTL))
		}
		return store.NewRedisStoreFromClient(client, opts...), locker, closeClient, nil
	default:
		_ = closeClient()
		return nil, nil, noop, fmt.Errorf("unknown store driver %q", cfg.Driver)
	}
}

func joinClosers(fns ...func() error) func() error {
	return func() error {
		errs := make([]error, 0, len(fns))
		for _, fn := range fns {
			errs = append(errs, fn())
		}
		return errors.Join(errs...)
	}
}

// newChatModel builds the configured provider's adapter.
func newChatModel(ctx context.Context, cfg config.LLMConfig) (model.ChatModel, func() error, error) {
	noop := func() error { return nil }
	key := cfg.APIKey

	switch cfg.Provider {
	case config.ProviderOpenAI:
		if key == "" {
			key = os.Getenv("OPENAI_API_KEY")
		}
		return openai.NewChatModel(key, cfg.Model), noop, nil
	case config.ProviderAnthropic:
		if key == "" {
			key = os.Getenv("ANTHROPIC_API_KEY")
		}
		return anthropic.NewChatModel(key, cfg.Model), noop, nil
	case config.ProviderGoogle:
		if key == "" {
			key = os.Getenv("GOOGLE_API_KEY")
		}
		m, err := google.NewChatModel(ctx, key, cfg.Model)
		if err != nil {
			return nil, noop, err
		}
		return m, m.Close, nil
	case config.ProviderMock:
		return offlineModel{}, noop, nil
	default:
		return nil, noop, fmt.Errorf("unknown llm provider %q", cfg.Provider)
	}
}

// offlineModel answers every prompt with fixed content so a pipeline can be
// walked end to end without an API key.
type offlineModel struct{}

const offlineJSON = `{
  "items": [
    {"title": "Automate supplier invoice capture", "description": "Extract invoice fields with OCR and post them to the ERP."},
    {"title": "Forecast weekly demand", "description": "Predict volumes per site from order history."},
    {"title": "Triage customer claims", "description": "Classify incoming claims and route them to the right team."}
  ],
  "level": 2,
  "summary": "Data is available in the ERP but no model runs in production."
}`

func (offlineModel) Chat(ctx context.Context, messages []model.Message, opts model.Options) (model.ChatOut, error) {
	if err := ctx.Err(); err != nil {
		return model.ChatOut{}, err
	}
	if opts.JSON {
		return model.ChatOut{Text: offlineJSON, Model: "offline"}, nil
	}
	return model.ChatOut{
		Text:  "# Executive summary\n\nThis summary was produced offline from the validated recommendations.",
		Model: "offline",
	}, nil
}
