package store

import (
	"context"
	"fmt"

	"github.com/aws/aws-sdk-go-v2/feature/dynamodb/attributevalue"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
)

// Querier performs equality-filtered range reads over one collection.
type Querier interface {
	// Query returns every live record of collection whose top-level attribute
	// field equals value. Results are unordered.
	Query(ctx context.Context, collection, field, value string) ([]Record, error)
}

// Client is the store surface the sync engine needs.
type Client interface {
	Querier

	// Get decodes the value at path into out. Returns ErrNotFound when absent.
	Get(ctx context.Context, path Path, out any) error

	// Set replaces the value at path.
	Set(ctx context.Context, path Path, value any) error

	// Remove deletes the value at path. Removing an absent value is not an error.
	Remove(ctx context.Context, path Path) error

	// AtomicWrite applies every write or none of them.
	AtomicWrite(ctx context.Context, writes []Write) error
}

// Record is a record returned by a range read.
type Record struct {
	Path Path
	Item map[string]types.AttributeValue
}

// Decode unmarshals the record into out.
func (r Record) Decode(out any) error {
	return attributevalue.UnmarshalMap(r.Item, out)
}

// Write is a single location write. Delete removes the location and ignores Value.
type Write struct {
	Path   Path
	Value  any
	Delete bool
}

// SetWrite returns a write replacing the value at p.
func SetWrite(p Path, value any) Write {
	return Write{Path: p, Value: value}
}

// DeleteWrite returns a write removing the value at p.
func DeleteWrite(p Path) Write {
	return Write{Path: p, Delete: true}
}

func (w Write) String() string {
	if w.Delete {
		return "delete " + w.Path.String()
	}
	return "set " + w.Path.String()
}

// MarshalValue converts v to an attribute value. Attribute values pass through.
func MarshalValue(v any) (types.AttributeValue, error) {
	if av, ok := v.(types.AttributeValue); ok {
		return av, nil
	}
	av, err := attributevalue.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("marshal value: %w", err)
	}
	return av, nil
}

// MarshalRecord converts v to a record item and stamps its id.
func MarshalRecord(id string, v any) (map[string]types.AttributeValue, error) {
	av, err := MarshalValue(v)
	if err != nil {
		return nil, err
	}
	m, ok := av.(*types.AttributeValueMemberM)
	if !ok {
		return nil, fmt.Errorf("marshal record: %T is not a map", av)
	}
	item := make(map[string]types.AttributeValue, len(m.Value)+1)
	for k, v := range m.Value {
		item[k] = v
	}
	item["id"] = &types.AttributeValueMemberS{Value: id}
	return item, nil
}

// Lookup walks attr inside item and returns the value found there.
func Lookup(item map[string]types.AttributeValue, attr []string) (types.AttributeValue, bool) {
	var cur types.AttributeValue = &types.AttributeValueMemberM{Value: item}
	for _, name := range attr {
		m, ok := cur.(*types.AttributeValueMemberM)
		if !ok {
			return nil, false
		}
		cur, ok = m.Value[name]
		if !ok {
			return nil, false
		}
	}
	return cur, true
}

type requestTokenKey struct{}

// WithRequestToken attaches an idempotency token to atomic writes made with ctx.
func WithRequestToken(ctx context.Context, token string) context.Context {
	return context.WithValue(ctx, requestTokenKey{}, token)
}

// RequestToken returns the idempotency token attached to ctx, if any.
func RequestToken(ctx context.Context) string {
	tok, _ := ctx.Value(requestTokenKey{}).(string)
	return tok
}
