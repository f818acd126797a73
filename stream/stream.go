// Package stream adapts DynamoDB Streams events to the denormalization engine.
package stream

import (
	"context"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"time"

	"github.com/aws/aws-lambda-go/events"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"

	"github.com/jacentio/propsync/denorm"
	"github.com/jacentio/propsync/internal/dedup"
	"github.com/jacentio/propsync/store"
)

// Mutator handles one mutation.
type Mutator interface {
	Handle(ctx context.Context, m denorm.Mutation) (denorm.Result, error)
}

// Handler processes DynamoDB stream events for the canonical tables.
type Handler struct {
	engine Mutator
	config store.Config
	ledger dedup.Ledger
	logger *slog.Logger
}

// NewHandler creates a new stream handler. The table names in cfg identify which
// collection a record belongs to; a nil ledger disables redelivery tracking.
func NewHandler(engine Mutator, cfg store.Config, ledger dedup.Ledger, logger *slog.Logger) *Handler {
	if len(cfg.Tables) == 0 {
		cfg.Tables = store.DefaultConfig().Tables
	}
	if ledger == nil {
		ledger = dedup.Nop{}
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Handler{
		engine: engine,
		config: cfg,
		ledger: ledger,
		logger: logger,
	}
}

// HandleEvent processes a batch of stream records in order. This function is
// designed to be used as an AWS Lambda handler with ReportBatchItemFailures
// enabled: on the first failing record it stops and reports that record and
// every later one, so Lambda retries the shard from there.
func (h *Handler) HandleEvent(ctx context.Context, event events.DynamoDBEvent) (events.DynamoDBEventResponse, error) {
	var resp events.DynamoDBEventResponse
	for i, record := range event.Records {
		if err := h.processRecord(ctx, record); err != nil {
			h.logger.Error("failed to process record",
				"eventID", record.EventID,
				"sequenceNumber", record.Change.SequenceNumber,
				"remaining", len(event.Records)-i,
				"error", err,
			)
			for _, r := range event.Records[i:] {
				resp.BatchItemFailures = append(resp.BatchItemFailures, events.DynamoDBBatchItemFailure{
					ItemIdentifier: r.Change.SequenceNumber,
				})
			}
			return resp, nil // Will retry, eventually DLQ
		}
	}
	return resp, nil
}

// processRecord processes a single DynamoDB stream record.
func (h *Handler) processRecord(ctx context.Context, record events.DynamoDBEventRecord) error {
	m, ok, err := h.Mutation(record)
	if err != nil {
		// Retrying cannot fix a malformed record; don't block the shard on it.
		h.logger.Error("dropping malformed record",
			"eventID", record.EventID,
			"eventName", record.EventName,
			"error", err,
		)
		return nil
	}
	if !ok {
		return nil
	}

	if record.EventID != "" {
		seen, err := h.ledger.Seen(ctx, record.EventID)
		if err != nil {
			h.logger.Warn("failed to check event ledger", "eventID", record.EventID, "error", err)
		} else if seen {
			h.logger.Info("skipping redelivered event", "eventID", record.EventID)
			return nil
		}
	}

	res, err := h.engine.Handle(ctx, m)
	if err != nil && denorm.IsPermanent(err) {
		h.logger.Error("dropping record that cannot be applied",
			"eventID", record.EventID,
			"collection", m.Collection,
			"id", m.ID,
			"handler", res.Handler,
			"writes", res.Planned,
			"error", err,
		)
		return nil
	}
	if err != nil {
		return err
	}

	if record.EventID != "" && res.Outcome != denorm.OutcomeIgnored {
		if err := h.ledger.Mark(ctx, record.EventID); err != nil {
			h.logger.Warn("failed to mark event applied", "eventID", record.EventID, "error", err)
		}
	}
	return nil
}

// Mutation converts a stream record into a mutation. ok is false for records no
// handler cares about: unknown tables, changes to soft-deleted records and the
// removal of records whose soft delete was already handled. A record is
// soft-deleted once its "ttl" is at or before the current time; a MODIFY that
// crosses that line becomes a deletion carrying the last image. A future "ttl"
// is only a scheduled expiry and the record stays live.
func (h *Handler) Mutation(record events.DynamoDBEventRecord) (m denorm.Mutation, ok bool, err error) {
	table := tableFromARN(record.EventSourceArn)
	collection, known := h.config.CollectionFor(table)
	if !known {
		return m, false, nil
	}

	id := getStringAttr(record.Change.Keys, "id")
	if id == "" {
		return m, false, fmt.Errorf("record in table %q has no id key", table)
	}

	m = denorm.Mutation{
		Collection: collection,
		ID:         id,
		EventID:    record.EventID,
	}

	oldImage, newImage := record.Change.OldImage, record.Change.NewImage
	now := time.Now()
	oldDeleted := isExpired(oldImage, now)

	switch events.DynamoDBOperationType(record.EventName) {
	case events.DynamoDBOperationTypeInsert:
		if newImage == nil {
			return m, false, errMissingImage("new", record)
		}
		m.Kind = denorm.Created
		m.After = ConvertImage(newImage)

	case events.DynamoDBOperationTypeModify:
		if oldImage == nil || newImage == nil {
			return m, false, errMissingImage("old and new", record)
		}
		if oldDeleted {
			return m, false, nil
		}
		if isExpired(newImage, now) {
			m.Kind = denorm.Deleted
			m.Before = ConvertImage(newImage)
			return m, true, nil
		}
		m.Kind = denorm.Updated
		m.Before = ConvertImage(oldImage)
		m.After = ConvertImage(newImage)

	case events.DynamoDBOperationTypeRemove:
		if oldImage == nil {
			return m, false, errMissingImage("old", record)
		}
		if oldDeleted {
			return m, false, nil
		}
		m.Kind = denorm.Deleted
		m.Before = ConvertImage(oldImage)

	default:
		return m, false, nil
	}
	return m, true, nil
}

func errMissingImage(which string, record events.DynamoDBEventRecord) error {
	return fmt.Errorf("%s event %s lacks %s image (stream view type must be NEW_AND_OLD_IMAGES)",
		record.EventName, record.EventID, which)
}

// tableFromARN extracts the table name from a stream ARN such as
// arn:aws:dynamodb:eu-west-1:123456789012:table/properties/stream/2024-01-01T00:00:00.000
func tableFromARN(arn string) string {
	_, rest, found := strings.Cut(arn, ":table/")
	if !found {
		return ""
	}
	table, _, _ := strings.Cut(rest, "/")
	return table
}

// isExpired reports whether image carries a "ttl" at or before now, matching
// store.IsDeleted.
func isExpired(image map[string]events.DynamoDBAttributeValue, now time.Time) bool {
	ttl := getNumberAttr(image, "ttl")
	return ttl != 0 && ttl <= now.Unix()
}

// getStringAttr extracts a string attribute from a DynamoDB stream image.
func getStringAttr(image map[string]events.DynamoDBAttributeValue, key string) string {
	if v, ok := image[key]; ok && v.DataType() == events.DataTypeString {
		return v.String()
	}
	return ""
}

// getNumberAttr extracts a number attribute from a DynamoDB stream image.
func getNumberAttr(image map[string]events.DynamoDBAttributeValue, key string) int64 {
	if v, ok := image[key]; ok {
		if v.DataType() == events.DataTypeNumber {
			n, _ := strconv.ParseInt(v.Number(), 10, 64)
			return n
		}
	}
	return 0
}

// ConvertImage converts a DynamoDB stream image to SDK attribute values.
// Returns nil for a nil image.
func ConvertImage(image map[string]events.DynamoDBAttributeValue) map[string]types.AttributeValue {
	if image == nil {
		return nil
	}
	result := make(map[string]types.AttributeValue, len(image))
	for k, v := range image {
		if av := convertValue(v); av != nil {
			result[k] = av
		}
	}
	return result
}

func convertValue(v events.DynamoDBAttributeValue) types.AttributeValue {
	switch v.DataType() {
	case events.DataTypeString:
		return &types.AttributeValueMemberS{Value: v.String()}
	case events.DataTypeNumber:
		return &types.AttributeValueMemberN{Value: v.Number()}
	case events.DataTypeBinary:
		return &types.AttributeValueMemberB{Value: v.Binary()}
	case events.DataTypeBoolean:
		return &types.AttributeValueMemberBOOL{Value: v.Boolean()}
	case events.DataTypeNull:
		return &types.AttributeValueMemberNULL{Value: true}
	case events.DataTypeStringSet:
		return &types.AttributeValueMemberSS{Value: v.StringSet()}
	case events.DataTypeNumberSet:
		return &types.AttributeValueMemberNS{Value: v.NumberSet()}
	case events.DataTypeBinarySet:
		return &types.AttributeValueMemberBS{Value: v.BinarySet()}
	case events.DataTypeList:
		list := make([]types.AttributeValue, 0, len(v.List()))
		for _, item := range v.List() {
			if av := convertValue(item); av != nil {
				list = append(list, av)
			}
		}
		return &types.AttributeValueMemberL{Value: list}
	case events.DataTypeMap:
		return &types.AttributeValueMemberM{Value: ConvertImage(v.Map())}
	}
	return nil
}
