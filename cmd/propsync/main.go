// Command propsync is the Lambda function that keeps denormalized copies of
// property, client and city data in sync. It is subscribed to the DynamoDB
// streams of the cities, clients and properties tables.
package main

import (
	"context"
	"log/slog"
	"os"

	"github.com/aws/aws-lambda-go/lambda"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/go-redis/redis/v8"

	"github.com/jacentio/propsync/denorm"
	"github.com/jacentio/propsync/internal/config"
	"github.com/jacentio/propsync/internal/dedup"
	"github.com/jacentio/propsync/store"
	"github.com/jacentio/propsync/stream"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		slog.Error("failed to load config", "error", err)
		os.Exit(1)
	}
	logger := cfg.NewLogger(os.Stderr)

	ctx := context.Background()
	awsCfg, err := awsconfig.LoadDefaultConfig(ctx)
	if err != nil {
		logger.Error("failed to load AWS config", "error", err)
		os.Exit(1)
	}

	st := store.New(dynamodb.NewFromConfig(awsCfg), cfg.Store())
	engine := denorm.NewEngine(st, cfg.Engine(), logger)

	var ledger dedup.Ledger = dedup.Nop{}
	if cfg.Redis.Addr != "" {
		client := redis.NewClient(&redis.Options{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
		ledger = dedup.NewRedisLedger(client, "propsync:event:", cfg.Redis.DedupTTL)
		logger.Info("redelivery ledger enabled", "addr", cfg.Redis.Addr)
	}

	h := stream.NewHandler(engine, st.Config(), ledger, logger)
	lambda.Start(h.HandleEvent)
}
