package storage

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

// MongoBackend implements Backend on MongoDB. Raw JSON payloads live as
// strings so they round-trip byte-exact; usage counters use $inc on a
// sub-document for atomic increments.
type MongoBackend struct {
	uri      string
	database string
	client   *mongo.Client
	db       *mongo.Database
}

const (
	mongoStates = "credential_states"
	mongoHealth = "health_entries"
	mongoUsage  = "usage_counters"
	mongoDocs   = "config_docs"
)

// payloadDoc is the shared document shape for the three raw-JSON
// collections.
type payloadDoc struct {
	ID      string `bson:"_id"`
	Payload string `bson:"payload"`
}

type usageDoc struct {
	ID     string           `bson:"_id"`
	Fields map[string]int64 `bson:"fields"`
}

// NewMongoBackend creates a MongoDB storage backend. The connection is
// established in Initialize.
func NewMongoBackend(uri, database string) *MongoBackend {
	if database == "" {
		database = "routecodex"
	}
	return &MongoBackend{uri: uri, database: database}
}

func (m *MongoBackend) Initialize(ctx context.Context) error {
	opts := options.Client().
		ApplyURI(m.uri).
		SetConnectTimeout(5 * time.Second).
		SetServerSelectionTimeout(5 * time.Second)
	client, err := mongo.Connect(ctx, opts)
	if err != nil {
		return fmt.Errorf("connect mongodb: %w", err)
	}
	if err := client.Ping(ctx, nil); err != nil {
		_ = client.Disconnect(ctx)
		return fmt.Errorf("ping mongodb: %w", err)
	}
	m.client = client
	m.db = client.Database(m.database)
	return nil
}

func (m *MongoBackend) Close() error {
	if m.client == nil {
		return nil
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return m.client.Disconnect(ctx)
}

func (m *MongoBackend) Health(ctx context.Context) error {
	return m.client.Ping(ctx, nil)
}

// getPayload and friends share the document plumbing across the three
// raw-JSON collections.

func (m *MongoBackend) getPayload(ctx context.Context, coll, key string) (json.RawMessage, error) {
	var doc payloadDoc
	err := m.db.Collection(coll).FindOne(ctx, bson.M{"_id": key}).Decode(&doc)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return nil, &ErrNotFound{Key: key}
	}
	if err != nil {
		return nil, err
	}
	return json.RawMessage(doc.Payload), nil
}

func (m *MongoBackend) setPayload(ctx context.Context, coll, key string, payload json.RawMessage) error {
	_, err := m.db.Collection(coll).UpdateOne(ctx,
		bson.M{"_id": key},
		bson.M{"$set": bson.M{"payload": string(payload), "updated_at": time.Now().UTC()}},
		options.Update().SetUpsert(true),
	)
	return err
}

func (m *MongoBackend) deletePayload(ctx context.Context, coll, key string) error {
	res, err := m.db.Collection(coll).DeleteOne(ctx, bson.M{"_id": key})
	if err != nil {
		return err
	}
	if res.DeletedCount == 0 {
		return &ErrNotFound{Key: key}
	}
	return nil
}

func (m *MongoBackend) listPayloads(ctx context.Context, coll string) (map[string]json.RawMessage, error) {
	cursor, err := m.db.Collection(coll).Find(ctx, bson.M{})
	if err != nil {
		return nil, err
	}
	defer cursor.Close(ctx)

	result := make(map[string]json.RawMessage)
	for cursor.Next(ctx) {
		var doc payloadDoc
		if err := cursor.Decode(&doc); err != nil {
			return nil, err
		}
		result[doc.ID] = json.RawMessage(doc.Payload)
	}
	return result, cursor.Err()
}

// Credential state operations

func (m *MongoBackend) GetCredentialState(ctx context.Context, id string) (json.RawMessage, error) {
	return m.getPayload(ctx, mongoStates, id)
}

func (m *MongoBackend) SetCredentialState(ctx context.Context, id string, state json.RawMessage) error {
	return m.setPayload(ctx, mongoStates, id, state)
}

func (m *MongoBackend) DeleteCredentialState(ctx context.Context, id string) error {
	return m.deletePayload(ctx, mongoStates, id)
}

func (m *MongoBackend) ListCredentialStates(ctx context.Context) (map[string]json.RawMessage, error) {
	return m.listPayloads(ctx, mongoStates)
}

// Health entry operations

func (m *MongoBackend) GetHealthEntry(ctx context.Context, key string) (json.RawMessage, error) {
	return m.getPayload(ctx, mongoHealth, key)
}

func (m *MongoBackend) SetHealthEntry(ctx context.Context, key string, entry json.RawMessage) error {
	return m.setPayload(ctx, mongoHealth, key, entry)
}

func (m *MongoBackend) DeleteHealthEntry(ctx context.Context, key string) error {
	return m.deletePayload(ctx, mongoHealth, key)
}

func (m *MongoBackend) ListHealthEntries(ctx context.Context) (map[string]json.RawMessage, error) {
	return m.listPayloads(ctx, mongoHealth)
}

// Usage operations

func (m *MongoBackend) IncrementUsage(ctx context.Context, key string, field string, delta int64) error {
	_, err := m.db.Collection(mongoUsage).UpdateOne(ctx,
		bson.M{"_id": key},
		bson.M{"$inc": bson.M{"fields." + field: delta}},
		options.Update().SetUpsert(true),
	)
	return err
}

func (m *MongoBackend) GetUsage(ctx context.Context, key string) (map[string]int64, error) {
	var doc usageDoc
	err := m.db.Collection(mongoUsage).FindOne(ctx, bson.M{"_id": key}).Decode(&doc)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return nil, &ErrNotFound{Key: key}
	}
	if err != nil {
		return nil, err
	}
	return doc.Fields, nil
}

func (m *MongoBackend) ResetUsage(ctx context.Context, key string) error {
	_, err := m.db.Collection(mongoUsage).DeleteOne(ctx, bson.M{"_id": key})
	return err
}

func (m *MongoBackend) ListUsage(ctx context.Context) (map[string]map[string]int64, error) {
	cursor, err := m.db.Collection(mongoUsage).Find(ctx, bson.M{})
	if err != nil {
		return nil, err
	}
	defer cursor.Close(ctx)

	result := make(map[string]map[string]int64)
	for cursor.Next(ctx) {
		var doc usageDoc
		if err := cursor.Decode(&doc); err != nil {
			return nil, err
		}
		result[doc.ID] = doc.Fields
	}
	return result, cursor.Err()
}

// Config document operations

func (m *MongoBackend) GetConfigDoc(ctx context.Context, key string) (json.RawMessage, error) {
	return m.getPayload(ctx, mongoDocs, key)
}

func (m *MongoBackend) SetConfigDoc(ctx context.Context, key string, doc json.RawMessage) error {
	return m.setPayload(ctx, mongoDocs, key, doc)
}

func (m *MongoBackend) DeleteConfigDoc(ctx context.Context, key string) error {
	return m.deletePayload(ctx, mongoDocs, key)
}

func (m *MongoBackend) ListConfigDocs(ctx context.Context) (map[string]json.RawMessage, error) {
	return m.listPayloads(ctx, mongoDocs)
}

// Batch operations

func (m *MongoBackend) BatchGetCredentialStates(ctx context.Context, ids []string) (map[string]json.RawMessage, error) {
	cursor, err := m.db.Collection(mongoStates).Find(ctx, bson.M{"_id": bson.M{"$in": ids}})
	if err != nil {
		return nil, err
	}
	defer cursor.Close(ctx)

	result := make(map[string]json.RawMessage, len(ids))
	for cursor.Next(ctx) {
		var doc payloadDoc
		if err := cursor.Decode(&doc); err != nil {
			return nil, err
		}
		result[doc.ID] = json.RawMessage(doc.Payload)
	}
	return result, cursor.Err()
}

func (m *MongoBackend) BatchSetCredentialStates(ctx context.Context, states map[string]json.RawMessage) error {
	if len(states) == 0 {
		return nil
	}
	models := make([]mongo.WriteModel, 0, len(states))
	for id, state := range states {
		models = append(models, mongo.NewUpdateOneModel().
			SetFilter(bson.M{"_id": id}).
			SetUpdate(bson.M{"$set": bson.M{"payload": string(state), "updated_at": time.Now().UTC()}}).
			SetUpsert(true))
	}
	_, err := m.db.Collection(mongoStates).BulkWrite(ctx, models, options.BulkWrite().SetOrdered(false))
	return err
}

func (m *MongoBackend) BatchDeleteCredentialStates(ctx context.Context, ids []string) error {
	if len(ids) == 0 {
		return nil
	}
	_, err := m.db.Collection(mongoStates).DeleteMany(ctx, bson.M{"_id": bson.M{"$in": ids}})
	return err
}

// ExportData exports all data for backup
func (m *MongoBackend) ExportData(ctx context.Context) (*Export, error) {
	return exportDataCommon(ctx, "mongodb", m)
}

// ImportData imports data from backup
func (m *MongoBackend) ImportData(ctx context.Context, data *Export) error {
	return importDataCommon(ctx, m, data)
}

// GetStorageStats counts documents natively instead of pulling every
// collection over the wire.
func (m *MongoBackend) GetStorageStats(ctx context.Context) (StorageStats, error) {
	stats := StorageStats{Backend: "mongodb", Healthy: true}

	counts := []struct {
		coll string
		dst  *int
	}{
		{mongoStates, &stats.CredentialStateCount},
		{mongoHealth, &stats.HealthEntryCount},
		{mongoUsage, &stats.UsageKeyCount},
		{mongoDocs, &stats.ConfigDocCount},
	}
	for _, c := range counts {
		n, err := m.db.Collection(c.coll).CountDocuments(ctx, bson.M{})
		if err != nil {
			stats.Healthy = false
			return stats, err
		}
		*c.dst = int(n)
	}
	return stats, nil
}
