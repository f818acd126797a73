package store

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/feature/dynamodb/attributevalue"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
	"github.com/aws/smithy-go"
)

// maxTransactAttempts bounds the in-process retries of one atomic write.
const maxTransactAttempts = 3

// DynamoDBAPI is the subset of the DynamoDB client used by Store.
type DynamoDBAPI interface {
	GetItem(ctx context.Context, params *dynamodb.GetItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.GetItemOutput, error)
	PutItem(ctx context.Context, params *dynamodb.PutItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.PutItemOutput, error)
	UpdateItem(ctx context.Context, params *dynamodb.UpdateItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.UpdateItemOutput, error)
	DeleteItem(ctx context.Context, params *dynamodb.DeleteItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.DeleteItemOutput, error)
	Query(ctx context.Context, params *dynamodb.QueryInput, optFns ...func(*dynamodb.Options)) (*dynamodb.QueryOutput, error)
	Scan(ctx context.Context, params *dynamodb.ScanInput, optFns ...func(*dynamodb.Options)) (*dynamodb.ScanOutput, error)
	TransactWriteItems(ctx context.Context, params *dynamodb.TransactWriteItemsInput, optFns ...func(*dynamodb.Options)) (*dynamodb.TransactWriteItemsOutput, error)
}

// Store implements Client on DynamoDB. Each collection is a table keyed by "id";
// nested paths address attributes inside an item.
type Store struct {
	client DynamoDBAPI
	config Config
}

var _ Client = (*Store)(nil)

// New creates a new Store instance.
func New(client DynamoDBAPI, config Config) *Store {
	config.validate()
	return &Store{
		client: client,
		config: config,
	}
}

// Config returns the validated configuration.
func (s *Store) Config() Config {
	return s.config
}

func (s *Store) table(collection string) (string, error) {
	table, ok := s.config.TableFor(collection)
	if !ok {
		return "", fmt.Errorf("%w: %q", ErrUnknownCollection, collection)
	}
	return table, nil
}

func itemKey(id string) map[string]types.AttributeValue {
	return map[string]types.AttributeValue{
		"id": &types.AttributeValueMemberS{Value: id},
	}
}

// Get reads the value at path, returning ErrNotFound if the record is deleted or missing.
func (s *Store) Get(ctx context.Context, path Path, out any) error {
	if err := path.Validate(); err != nil {
		return err
	}
	table, err := s.table(path.Collection)
	if err != nil {
		return err
	}

	result, err := s.client.GetItem(ctx, &dynamodb.GetItemInput{
		TableName:      aws.String(table),
		Key:            itemKey(path.ID),
		ConsistentRead: aws.Bool(true),
	})
	if err != nil {
		return err
	}
	if result.Item == nil || IsDeleted(result.Item) {
		return ErrNotFound
	}

	av, ok := Lookup(result.Item, path.Attr)
	if !ok {
		return ErrNotFound
	}
	if _, isNull := av.(*types.AttributeValueMemberNULL); isNull {
		return ErrNotFound
	}
	return attributevalue.Unmarshal(av, out)
}

// Set replaces the value at path. Nested writes create missing parent maps.
func (s *Store) Set(ctx context.Context, path Path, value any) error {
	return s.writeOne(ctx, SetWrite(path, value))
}

// Remove deletes the value at path.
func (s *Store) Remove(ctx context.Context, path Path) error {
	return s.writeOne(ctx, DeleteWrite(path))
}

func (s *Store) writeOne(ctx context.Context, w Write) error {
	groups, err := s.group([]Write{w})
	if err != nil {
		return err
	}
	g := groups[0]

	switch {
	case g.put != nil:
		_, err = s.client.PutItem(ctx, &dynamodb.PutItemInput{
			TableName: aws.String(g.table),
			Item:      g.put,
		})
		return err
	case g.del:
		_, err = s.client.DeleteItem(ctx, &dynamodb.DeleteItemInput{
			TableName: aws.String(g.table),
			Key:       itemKey(g.id),
		})
		return err
	default:
		return s.updateItem(ctx, g)
	}
}

// updateItem applies the nested writes of one record with a single UpdateItem.
func (s *Store) updateItem(ctx context.Context, g *itemWrites) error {
	for attempt := 0; ; attempt++ {
		u := g.update()
		_, err := s.client.UpdateItem(ctx, &dynamodb.UpdateItemInput{
			TableName:                 aws.String(g.table),
			Key:                       itemKey(g.id),
			UpdateExpression:          aws.String(u.expr),
			ConditionExpression:       u.cond,
			ExpressionAttributeNames:  u.names,
			ExpressionAttributeValues: u.values,
		})
		if err == nil {
			return nil
		}

		// Owner record or its map is already gone: nothing left to delete.
		var condErr *types.ConditionalCheckFailedException
		if errors.As(err, &condErr) && g.deleteOnly() {
			return nil
		}
		if attempt == 0 && isInvalidDocumentPath(err) && g.hasSets() {
			if err := s.ensureParents(ctx, g); err != nil {
				return fmt.Errorf("create parent maps: %w", err)
			}
			continue
		}
		return err
	}
}

// AtomicWrite applies all writes in one TransactWriteItems call. Writes are grouped
// per record, so the transaction limit applies to distinct records, not paths.
func (s *Store) AtomicWrite(ctx context.Context, writes []Write) error {
	if len(writes) == 0 {
		return nil
	}

	groups, err := s.group(writes)
	if err != nil {
		return err
	}
	if len(groups) > s.config.MaxTransactItems {
		return fmt.Errorf("%w: %d records, limit %d", ErrTooManyWrites, len(groups), s.config.MaxTransactItems)
	}

	token := RequestToken(ctx)
	ensured := false

	for attempt := 0; attempt < maxTransactAttempts; attempt++ {
		if len(groups) == 0 {
			return nil
		}

		input := &dynamodb.TransactWriteItemsInput{
			TransactItems: transactItems(groups),
		}
		if token != "" {
			input.ClientRequestToken = aws.String(token)
		}

		_, err = s.client.TransactWriteItems(ctx, input)
		if err == nil {
			return nil
		}

		// The token was used within the last ten minutes for a different write set.
		var mismatch *types.IdempotentParameterMismatchException
		if errors.As(err, &mismatch) && token != "" {
			token = ""
			continue
		}

		var txErr *types.TransactionCanceledException
		if !errors.As(err, &txErr) {
			return err
		}

		remaining, needParents, ok := classifyCancellation(txErr, groups)
		if !ok {
			return err
		}
		if len(needParents) > 0 {
			if ensured {
				return err
			}
			for _, g := range needParents {
				if err := s.ensureParents(ctx, g); err != nil {
					return fmt.Errorf("create parent maps: %w", err)
				}
			}
			ensured = true
		}
		if len(remaining) != len(groups) {
			// The write set changed, so the old token no longer describes it.
			token = ""
		}
		groups = remaining
	}

	return err
}

// classifyCancellation decides whether a cancelled transaction can be retried.
// Delete-only records whose condition failed are dropped (their owner is gone);
// records rejected for a missing parent map are returned in needParents. Any
// other reason makes the cancellation final.
func classifyCancellation(txErr *types.TransactionCanceledException, groups []*itemWrites) (remaining, needParents []*itemWrites, ok bool) {
	drop := make(map[int]bool)
	for i, reason := range txErr.CancellationReasons {
		if i >= len(groups) || reason.Code == nil {
			continue
		}
		switch *reason.Code {
		case "None", "":
		case "ConditionalCheckFailed":
			if !groups[i].deleteOnly() {
				return nil, nil, false
			}
			drop[i] = true
		case "ValidationError":
			if !groups[i].hasSets() || !isDocumentPathMessage(aws.ToString(reason.Message)) {
				return nil, nil, false
			}
			needParents = append(needParents, groups[i])
		default:
			return nil, nil, false
		}
	}
	if len(drop) == 0 && len(needParents) == 0 {
		return nil, nil, false
	}

	for i, g := range groups {
		if !drop[i] {
			remaining = append(remaining, g)
		}
	}
	return remaining, needParents, true
}

// ensureParents creates every missing intermediate map below the nested sets of g,
// shallowest first. Existing values are left untouched.
func (s *Store) ensureParents(ctx context.Context, g *itemWrites) error {
	seen := make(map[string]bool)
	var prefixes [][]string
	for _, w := range g.nested {
		if w.del {
			continue
		}
		for n := 1; n < len(w.attr); n++ {
			key := strings.Join(w.attr[:n], "\x00")
			if !seen[key] {
				seen[key] = true
				prefixes = append(prefixes, w.attr[:n])
			}
		}
	}
	sort.SliceStable(prefixes, func(i, j int) bool {
		return len(prefixes[i]) < len(prefixes[j])
	})

	for _, prefix := range prefixes {
		var ex exprBuilder
		p := ex.path(prefix)
		_, err := s.client.UpdateItem(ctx, &dynamodb.UpdateItemInput{
			TableName:                aws.String(g.table),
			Key:                      itemKey(g.id),
			UpdateExpression:         aws.String(fmt.Sprintf("SET %s = if_not_exists(%s, :empty)", p, p)),
			ExpressionAttributeNames: ex.names,
			ExpressionAttributeValues: map[string]types.AttributeValue{
				":empty": &types.AttributeValueMemberM{Value: map[string]types.AttributeValue{}},
			},
		})
		if err != nil {
			return err
		}
	}
	return nil
}

// Query returns every live record of collection with field == value. Indexed
// fields use their GSI; other fields fall back to a filtered Scan.
func (s *Store) Query(ctx context.Context, collection, field, value string) ([]Record, error) {
	table, err := s.table(collection)
	if err != nil {
		return nil, err
	}

	names := map[string]string{"#f": field}
	values := map[string]types.AttributeValue{
		":v": &types.AttributeValueMemberS{Value: value},
	}

	var raw []map[string]types.AttributeValue
	if index, ok := s.config.IndexFor(collection, field); ok {
		raw, err = s.queryIndex(ctx, table, index, "#f = :v", names, values)
	} else {
		raw, err = s.scan(ctx, table, "#f = :v", names, values)
	}
	if err != nil {
		return nil, fmt.Errorf("query %s where %s: %w", collection, field, err)
	}

	records := make([]Record, 0, len(raw))
	for _, item := range raw {
		id, ok := item["id"].(*types.AttributeValueMemberS)
		if !ok {
			continue
		}
		records = append(records, Record{Path: RecordPath(collection, id.Value), Item: item})
	}
	return records, nil
}

// queryIndex queries a GSI with automatic TTL filtering.
func (s *Store) queryIndex(ctx context.Context, table, index, keyCond string, names map[string]string, values map[string]types.AttributeValue) ([]map[string]types.AttributeValue, error) {
	input := &dynamodb.QueryInput{
		TableName:                 aws.String(table),
		IndexName:                 aws.String(index),
		KeyConditionExpression:    aws.String(keyCond),
		FilterExpression:          aws.String(TTLFilterExpr()),
		ExpressionAttributeNames:  mergeExprNames(TTLFilterNames(), names),
		ExpressionAttributeValues: mergeExprValues(TTLFilterValues(), values),
	}

	// Paginate through all results
	var items []map[string]types.AttributeValue
	paginator := dynamodb.NewQueryPaginator(s.client, input)
	for paginator.HasMorePages() {
		page, err := paginator.NextPage(ctx)
		if err != nil {
			return nil, err
		}
		items = append(items, page.Items...)
	}
	return items, nil
}

// scan reads a whole table with a filter merged with the TTL filter.
func (s *Store) scan(ctx context.Context, table, filter string, names map[string]string, values map[string]types.AttributeValue) ([]map[string]types.AttributeValue, error) {
	input := &dynamodb.ScanInput{
		TableName:                 aws.String(table),
		FilterExpression:          aws.String(fmt.Sprintf("(%s) AND (%s)", filter, TTLFilterExpr())),
		ExpressionAttributeNames:  mergeExprNames(TTLFilterNames(), names),
		ExpressionAttributeValues: mergeExprValues(TTLFilterValues(), values),
	}

	var items []map[string]types.AttributeValue
	paginator := dynamodb.NewScanPaginator(s.client, input)
	for paginator.HasMorePages() {
		page, err := paginator.NextPage(ctx)
		if err != nil {
			return nil, err
		}
		items = append(items, page.Items...)
	}
	return items, nil
}

// isInvalidDocumentPath reports whether err is DynamoDB rejecting a nested path
// whose parent map does not exist.
func isInvalidDocumentPath(err error) bool {
	var apiErr smithy.APIError
	if !errors.As(err, &apiErr) {
		return false
	}
	return apiErr.ErrorCode() == "ValidationException" &&
		isDocumentPathMessage(apiErr.ErrorMessage())
}

// isDocumentPathMessage matches the message DynamoDB gives for a nested path
// under a missing map. Other validation failures, such as an item growing past
// the size limit, are not fixed by creating parents.
func isDocumentPathMessage(msg string) bool {
	return strings.Contains(msg, "document path")
}
