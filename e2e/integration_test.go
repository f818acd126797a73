//go:build e2e

// Package e2e contains end-to-end integration tests using real DynamoDB tables.
// Run with: go test -tags=e2e -v ./e2e/...
package e2e

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"testing"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
	"github.com/google/uuid"

	"github.com/jacentio/propsync/denorm"
	"github.com/jacentio/propsync/model"
	"github.com/jacentio/propsync/store"
)

// Table names are unique per test run to avoid conflicts.
const tablePrefix = "propsync-e2e-test"

var (
	testID string
	tables map[string]string

	ddbClient *dynamodb.Client
	testStore *store.Store
	engine    *denorm.Engine
)

// --- Test Setup & Teardown ---

func TestMain(m *testing.M) {
	testID = uuid.New().String()[:8]
	tables = map[string]string{
		model.Cities:     fmt.Sprintf("%s-%s-cities", tablePrefix, testID),
		model.Clients:    fmt.Sprintf("%s-%s-clients", tablePrefix, testID),
		model.Properties: fmt.Sprintf("%s-%s-properties", tablePrefix, testID),
	}

	fmt.Printf("Test ID: %s\n", testID)
	for coll, table := range tables {
		fmt.Printf("  - %s: %s\n", coll, table)
	}

	// Credentials and region come from the environment (AWS_PROFILE, AWS_REGION).
	ctx := context.Background()
	cfg, err := config.LoadDefaultConfig(ctx)
	if err != nil {
		fmt.Printf("Failed to load AWS config: %v\n", err)
		os.Exit(1)
	}

	ddbClient = dynamodb.NewFromConfig(cfg)

	if err := createTables(ctx); err != nil {
		fmt.Printf("Failed to create tables: %v\n", err)
		os.Exit(1)
	}

	storeCfg := store.DefaultConfig()
	storeCfg.Tables = tables
	testStore = store.New(ddbClient, storeCfg)
	engine = denorm.NewEngine(testStore, denorm.Options{}, slog.New(slog.NewTextHandler(io.Discard, nil)))

	code := m.Run()

	if err := deleteTables(ctx); err != nil {
		fmt.Printf("Failed to delete tables: %v\n", err)
	}

	os.Exit(code)
}

func gsi(field string) types.GlobalSecondaryIndex {
	return types.GlobalSecondaryIndex{
		IndexName: aws.String(field + "-index"),
		KeySchema: []types.KeySchemaElement{
			{AttributeName: aws.String(field), KeyType: types.KeyTypeHash},
		},
		Projection: &types.Projection{ProjectionType: types.ProjectionTypeAll},
	}
}

func createTables(ctx context.Context) error {
	fmt.Println("Creating test tables...")

	indexes := map[string][]string{
		model.Cities:     nil,
		model.Clients:    {"cityId"},
		model.Properties: {"cityId", "clientId"},
	}

	for coll, tableName := range tables {
		input := &dynamodb.CreateTableInput{
			TableName: aws.String(tableName),
			KeySchema: []types.KeySchemaElement{
				{AttributeName: aws.String("id"), KeyType: types.KeyTypeHash},
			},
			AttributeDefinitions: []types.AttributeDefinition{
				{AttributeName: aws.String("id"), AttributeType: types.ScalarAttributeTypeS},
			},
			BillingMode: types.BillingModePayPerRequest,
		}
		for _, field := range indexes[coll] {
			input.AttributeDefinitions = append(input.AttributeDefinitions, types.AttributeDefinition{
				AttributeName: aws.String(field), AttributeType: types.ScalarAttributeTypeS,
			})
			input.GlobalSecondaryIndexes = append(input.GlobalSecondaryIndexes, gsi(field))
		}
		if _, err := ddbClient.CreateTable(ctx, input); err != nil {
			return fmt.Errorf("create table %s: %w", tableName, err)
		}
	}

	for _, tableName := range tables {
		waiter := dynamodb.NewTableExistsWaiter(ddbClient)
		if err := waiter.Wait(ctx, &dynamodb.DescribeTableInput{
			TableName: aws.String(tableName),
		}, 2*time.Minute); err != nil {
			return fmt.Errorf("wait for table %s: %w", tableName, err)
		}
	}

	fmt.Println("All tables created and active")
	return nil
}

func deleteTables(ctx context.Context) error {
	fmt.Println("Deleting test tables...")

	for _, tableName := range tables {
		_, err := ddbClient.DeleteTable(ctx, &dynamodb.DeleteTableInput{
			TableName: aws.String(tableName),
		})
		if err != nil {
			fmt.Printf("Warning: failed to delete table %s: %v\n", tableName, err)
		}
	}

	fmt.Println("Tables deleted")
	return nil
}

// --- Helpers ---

func newID(prefix string) string {
	return prefix + "-" + uuid.New().String()[:8]
}

func put(t *testing.T, collection, id string, v any) {
	t.Helper()
	if err := testStore.Set(context.Background(), store.RecordPath(collection, id), v); err != nil {
		t.Fatalf("seed %s/%s: %v", collection, id, err)
	}
}

func mutation(t *testing.T, collection, id string, before, after any) denorm.Mutation {
	t.Helper()
	m, err := denorm.NewMutation(collection, id, before, after)
	if err != nil {
		t.Fatalf("NewMutation failed: %v", err)
	}
	m.EventID = uuid.New().String()
	return m
}

// waitForQuery polls until the index returns n records. GSIs are eventually consistent.
func waitForQuery(t *testing.T, collection, field, value string, n int) {
	t.Helper()
	deadline := time.Now().Add(30 * time.Second)
	for {
		records, err := testStore.Query(context.Background(), collection, field, value)
		if err != nil {
			t.Fatalf("Query failed: %v", err)
		}
		if len(records) == n {
			return
		}
		if time.Now().After(deadline) {
			t.Fatalf("expected %d %s with %s=%s, got %d", n, collection, field, value, len(records))
		}
		time.Sleep(500 * time.Millisecond)
	}
}

func getString(t *testing.T, p store.Path) string {
	t.Helper()
	var s string
	if err := testStore.Get(context.Background(), p, &s); err != nil {
		t.Fatalf("Get %s failed: %v", p, err)
	}
	return s
}

type fixture struct {
	city     model.City
	client   model.Client
	property model.Property
}

func newFixture(t *testing.T) fixture {
	t.Helper()
	f := fixture{
		city: model.City{ID: newID("city"), Name: "Oldtown"},
	}
	f.client = model.Client{
		ID:       newID("client"),
		FullName: "Ada Lovelace",
		Email:    model.String("a@x.com"),
		CityID:   f.city.ID,
		City:     f.city.Name,
	}
	f.property = model.Property{
		ID:             newID("property"),
		Address:        "Main St 1",
		Position:       "10,20",
		Status:         model.String("news"),
		ClientID:       f.client.ID,
		ClientFullName: f.client.FullName,
		ClientEmail:    "a@x.com",
		CityID:         f.city.ID,
		City:           f.city.Name,
	}

	put(t, model.Cities, f.city.ID, f.city)
	put(t, model.Clients, f.client.ID, f.client)
	put(t, model.Properties, f.property.ID, f.property)
	return f
}

// --- Store Tests ---

func TestStore_SetCreatesMissingParents(t *testing.T) {
	ctx := context.Background()
	cityID := newID("city")
	put(t, model.Cities, cityID, model.City{ID: cityID, Name: "Parentless"})

	p := store.RecordPath(model.Cities, cityID).Child("properties", "P1")
	if err := testStore.Set(ctx, p, model.CitySummary{ID: "P1", Label: "Main St 1", Status: "news"}); err != nil {
		t.Fatalf("Set failed: %v", err)
	}

	var s model.CitySummary
	if err := testStore.Get(ctx, p, &s); err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	if s.Label != "Main St 1" {
		t.Errorf("expected label 'Main St 1', got %q", s.Label)
	}
}

func TestStore_RemoveUnderMissingRecord(t *testing.T) {
	ctx := context.Background()
	clientID := newID("client")

	p := store.RecordPath(model.Clients, clientID).Child("properties", "P1")
	if err := testStore.Remove(ctx, p); err != nil {
		t.Fatalf("expected removal under a missing record to succeed, got %v", err)
	}

	var c model.Client
	if err := testStore.Get(ctx, store.RecordPath(model.Clients, clientID), &c); err != store.ErrNotFound {
		t.Errorf("expected the record to stay absent, got %v", err)
	}
}

func TestStore_AtomicWriteDropsDeletesUnderMissingOwner(t *testing.T) {
	ctx := context.Background()
	cityID := newID("city")
	put(t, model.Cities, cityID, model.City{ID: cityID, Name: "Oldtown"})

	ctx = store.WithRequestToken(ctx, uuid.New().String())
	err := testStore.AtomicWrite(ctx, []store.Write{
		store.DeleteWrite(store.RecordPath(model.Clients, newID("client")).Child("properties", "P1")),
		store.SetWrite(store.RecordPath(model.Cities, cityID).Child("name"), "Newtown"),
	})
	if err != nil {
		t.Fatalf("AtomicWrite failed: %v", err)
	}
	if got := getString(t, store.RecordPath(model.Cities, cityID).Child("name")); got != "Newtown" {
		t.Errorf("expected 'Newtown', got %q", got)
	}
}

func TestStore_QueryExcludesSoftDeleted(t *testing.T) {
	cityID := newID("city")
	live := newID("client")
	deleted := newID("client")
	put(t, model.Clients, live, model.Client{ID: live, FullName: "Live", CityID: cityID})
	put(t, model.Clients, deleted, map[string]any{
		"fullName": "Gone",
		"cityId":   cityID,
		"ttl":      time.Now().Add(-time.Hour).Unix(),
	})

	waitForQuery(t, model.Clients, "cityId", cityID, 1)
}

// --- Engine Tests ---

func TestEngine_PropertyLifecycle(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)

	res, err := engine.Handle(ctx, mutation(t, model.Properties, f.property.ID, nil, f.property))
	if err != nil {
		t.Fatalf("create failed: %v", err)
	}
	if res.Outcome != denorm.OutcomeApplied || res.Writes != 2 {
		t.Fatalf("unexpected create result %+v", res)
	}

	var cs model.ClientSummary
	if err := testStore.Get(ctx, store.RecordPath(model.Clients, f.client.ID).Child("properties", f.property.ID), &cs); err != nil {
		t.Fatalf("client summary missing: %v", err)
	}
	if cs != model.ClientSummaryOf(f.property) {
		t.Errorf("unexpected client summary %+v", cs)
	}

	var ys model.CitySummary
	cityPath := store.RecordPath(model.Cities, f.city.ID).Child("properties", f.property.ID)
	if err := testStore.Get(ctx, cityPath, &ys); err != nil {
		t.Fatalf("city summary missing: %v", err)
	}
	if ys != model.CitySummaryOf(f.property) {
		t.Errorf("unexpected city summary %+v", ys)
	}

	// Email change reaches the property and its city summary.
	waitForQuery(t, model.Properties, "clientId", f.client.ID, 1)
	changed := f.client
	changed.Email = model.String("b@x.com")
	if _, err := engine.Handle(ctx, mutation(t, model.Clients, f.client.ID, f.client, changed)); err != nil {
		t.Fatalf("client change failed: %v", err)
	}
	if got := getString(t, store.RecordPath(model.Properties, f.property.ID).Child("clientEmail")); got != "b@x.com" {
		t.Errorf("expected property clientEmail 'b@x.com', got %q", got)
	}
	if got := getString(t, cityPath.Child("clientEmail")); got != "b@x.com" {
		t.Errorf("expected summary clientEmail 'b@x.com', got %q", got)
	}

	// Deletion removes both summaries.
	if _, err := engine.Handle(ctx, mutation(t, model.Properties, f.property.ID, f.property, nil)); err != nil {
		t.Fatalf("delete failed: %v", err)
	}
	if err := testStore.Get(ctx, cityPath, &ys); err != store.ErrNotFound {
		t.Errorf("expected city summary to be removed, got %v", err)
	}
	if err := testStore.Get(ctx, store.RecordPath(model.Clients, f.client.ID).Child("properties", f.property.ID), &cs); err != store.ErrNotFound {
		t.Errorf("expected client summary to be removed, got %v", err)
	}
}

func TestEngine_CityRenamed(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	waitForQuery(t, model.Clients, "cityId", f.city.ID, 1)
	waitForQuery(t, model.Properties, "cityId", f.city.ID, 1)

	renamed := f.city
	renamed.Name = "Newtown"
	res, err := engine.Handle(ctx, mutation(t, model.Cities, f.city.ID, f.city, renamed))
	if err != nil {
		t.Fatalf("rename failed: %v", err)
	}
	if res.Writes != 2 {
		t.Errorf("expected 2 writes, got %d", res.Writes)
	}

	for _, p := range []store.Path{
		store.RecordPath(model.Clients, f.client.ID).Child("city"),
		store.RecordPath(model.Properties, f.property.ID).Child("city"),
	} {
		if got := getString(t, p); got != "Newtown" {
			t.Errorf("expected %s to be 'Newtown', got %q", p, got)
		}
	}
}

func TestEngine_RedeliveryIsIdempotent(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)

	if _, err := engine.Handle(ctx, mutation(t, model.Properties, f.property.ID, nil, f.property)); err != nil {
		t.Fatalf("create failed: %v", err)
	}

	// The same event twice reuses its request token.
	m := mutation(t, model.Properties, f.property.ID, f.property, nil)
	for i := 0; i < 2; i++ {
		if _, err := engine.Handle(ctx, m); err != nil {
			t.Fatalf("delivery %d failed: %v", i+1, err)
		}
	}

	var ys model.CitySummary
	p := store.RecordPath(model.Cities, f.city.ID).Child("properties", f.property.ID)
	if err := testStore.Get(ctx, p, &ys); err != store.ErrNotFound {
		t.Errorf("expected city summary to be removed, got %v", err)
	}
}

func TestEngine_Resync(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)

	res, err := engine.Resync(ctx, f.property.ID)
	if err != nil {
		t.Fatalf("Resync failed: %v", err)
	}
	if res.Outcome != denorm.OutcomeApplied {
		t.Fatalf("expected applied, got %s", res.Outcome)
	}

	var cs model.ClientSummary
	if err := testStore.Get(ctx, store.RecordPath(model.Clients, f.client.ID).Child("properties", f.property.ID), &cs); err != nil {
		t.Fatalf("client summary missing: %v", err)
	}
}
