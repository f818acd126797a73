package denorm_test

import (
	"context"
	"io"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/jacentio/propsync/denorm"
	"github.com/jacentio/propsync/model"
	"github.com/jacentio/propsync/store"
	"github.com/jacentio/propsync/store/memstore"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func newEngine(c store.Client, opts denorm.Options) *denorm.Engine {
	return denorm.NewEngine(c, opts, discardLogger())
}

func cityCT1() model.City {
	return model.City{ID: "CT1", Name: "Oldtown", Position: "1,1"}
}

func cityCT2() model.City {
	return model.City{ID: "CT2", Name: "Othertown", Position: "2,2"}
}

func clientC1() model.Client {
	return model.Client{
		ID:       "C1",
		FullName: "Ada Lovelace",
		Email:    model.String("a@x.com"),
		Phone:    model.String("555-0100"),
		CityID:   "CT1",
		City:     "Oldtown",
	}
}

func clientC2() model.Client {
	return model.Client{ID: "C2", FullName: "Alan Turing", CityID: "CT2", City: "Othertown"}
}

func propertyP1() model.Property {
	return model.Property{
		ID:             "P1",
		Address:        "Main St 1",
		Position:       "10,20",
		Status:         model.String("news"),
		ClientID:       "C1",
		ClientFullName: "Ada Lovelace",
		ClientEmail:    "a@x.com",
		ClientPhone:    model.String("555-0100"),
		CityID:         "CT1",
		City:           "Oldtown",
	}
}

func propertyP2() model.Property {
	return model.Property{
		ID:             "P2",
		Address:        "Side St 2",
		Position:       "11,21",
		ClientID:       "C1",
		ClientFullName: "Ada Lovelace",
		ClientEmail:    "a@x.com",
		ClientPhone:    model.String("555-0100"),
		CityID:         "CT1",
		City:           "Oldtown",
	}
}

func propertyP3() model.Property {
	return model.Property{
		ID:             "P3",
		Address:        "Far Rd 3",
		ClientID:       "C2",
		ClientFullName: "Alan Turing",
		CityID:         "CT2",
		City:           "Othertown",
	}
}

// seed stores the cities and clients. With properties, it also stores P1..P3
// and their summaries as the handlers would have left them.
func seed(t *testing.T, properties bool) *memstore.Store {
	t.Helper()
	mem := memstore.New()

	ct1, ct2 := cityCT1(), cityCT2()
	c1, c2 := clientC1(), clientC2()

	if properties {
		for _, p := range []model.Property{propertyP1(), propertyP2(), propertyP3()} {
			require.NoError(t, mem.Put(model.Properties, p.ID, p))
		}
		ct1.Properties = map[string]model.CitySummary{
			"P1": model.CitySummaryOf(propertyP1()),
			"P2": model.CitySummaryOf(propertyP2()),
		}
		ct2.Properties = map[string]model.CitySummary{"P3": model.CitySummaryOf(propertyP3())}
		c1.Properties = map[string]model.ClientSummary{
			"P1": model.ClientSummaryOf(propertyP1()),
			"P2": model.ClientSummaryOf(propertyP2()),
		}
		c2.Properties = map[string]model.ClientSummary{"P3": model.ClientSummaryOf(propertyP3())}
	}

	require.NoError(t, mem.Put(model.Cities, ct1.ID, ct1))
	require.NoError(t, mem.Put(model.Cities, ct2.ID, ct2))
	require.NoError(t, mem.Put(model.Clients, c1.ID, c1))
	require.NoError(t, mem.Put(model.Clients, c2.ID, c2))
	return mem
}

func mutation(t *testing.T, collection, id string, before, after any) denorm.Mutation {
	t.Helper()
	m, err := denorm.NewMutation(collection, id, before, after)
	require.NoError(t, err)
	return m
}

func clientSummary(t *testing.T, mem *memstore.Store, clientID, propertyID string) (model.ClientSummary, bool) {
	t.Helper()
	var s model.ClientSummary
	err := mem.Get(context.Background(), store.RecordPath(model.Clients, clientID).Child("properties", propertyID), &s)
	if err == store.ErrNotFound {
		return s, false
	}
	require.NoError(t, err)
	return s, true
}

func citySummary(t *testing.T, mem *memstore.Store, cityID, propertyID string) (model.CitySummary, bool) {
	t.Helper()
	var s model.CitySummary
	err := mem.Get(context.Background(), store.RecordPath(model.Cities, cityID).Child("properties", propertyID), &s)
	if err == store.ErrNotFound {
		return s, false
	}
	require.NoError(t, err)
	return s, true
}

func getString(t *testing.T, mem *memstore.Store, p store.Path) string {
	t.Helper()
	var s string
	require.NoError(t, mem.Get(context.Background(), p, &s))
	return s
}
