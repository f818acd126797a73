package denorm

import (
	"fmt"

	"github.com/aws/aws-sdk-go-v2/feature/dynamodb/attributevalue"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"

	"github.com/jacentio/propsync/store"
)

// Kind is the kind of change made to a canonical record.
type Kind string

const (
	Created Kind = "create"
	Updated Kind = "update"
	Deleted Kind = "delete"
)

// Mutation is one change notification for a canonical record. Before is nil for
// creations and After is nil for deletions.
type Mutation struct {
	Collection string
	ID         string
	Kind       Kind
	Before     map[string]types.AttributeValue
	After      map[string]types.AttributeValue

	// EventID identifies the delivery that carried the change, if known.
	EventID string
}

// NewMutation builds a mutation from record values. A nil before makes a
// creation and a nil after makes a deletion.
func NewMutation(collection, id string, before, after any) (Mutation, error) {
	m := Mutation{Collection: collection, ID: id}
	var err error

	if before != nil {
		if m.Before, err = store.MarshalRecord(id, before); err != nil {
			return Mutation{}, fmt.Errorf("before: %w", err)
		}
	}
	if after != nil {
		if m.After, err = store.MarshalRecord(id, after); err != nil {
			return Mutation{}, fmt.Errorf("after: %w", err)
		}
	}

	switch {
	case m.Before == nil && m.After == nil:
		return Mutation{}, fmt.Errorf("mutation of %s/%s has neither before nor after", collection, id)
	case m.Before == nil:
		m.Kind = Created
	case m.After == nil:
		m.Kind = Deleted
	default:
		m.Kind = Updated
	}
	return m, nil
}

// Path returns the path of the mutated record.
func (m Mutation) Path() store.Path {
	return store.RecordPath(m.Collection, m.ID)
}

// decodeImage unmarshals an image into out and fills a missing id from the mutation.
func decodeImage(m Mutation, image map[string]types.AttributeValue, out any, id *string) error {
	if image == nil {
		return fmt.Errorf("%s %s: %w: missing image", m.Kind, m.Path(), ErrMalformed)
	}
	if err := attributevalue.UnmarshalMap(image, out); err != nil {
		return fmt.Errorf("decode %s: %w: %w", m.Path(), ErrMalformed, err)
	}
	if *id == "" {
		*id = m.ID
	}
	return nil
}
