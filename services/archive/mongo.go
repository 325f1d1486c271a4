package archive

import (
	"context"
	"fmt"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"tradingroad_backend/services/marketdata"
)

const (
	DefaultMongoDatabase   = "tradingroad"
	MongoCandlesCollection = "candles"
)

// MongoStore keeps candles in a MongoDB collection
type MongoStore struct {
	client *mongo.Client
	coll   *mongo.Collection
}

type candleDocument struct {
	ID         string    `bson:"_id"`
	Exchange   string    `bson:"exchange"`
	Symbol     string    `bson:"symbol"`
	Timeframe  string    `bson:"timeframe"`
	Timestamp  int64     `bson:"ts"`
	Open       float64   `bson:"open"`
	High       float64   `bson:"high"`
	Low        float64   `bson:"low"`
	Close      float64   `bson:"close"`
	Volume     float64   `bson:"volume"`
	ArchivedAt time.Time `bson:"archived_at"`
}

// ConnectMongo connects to uri and ensures the candle indexes exist
func ConnectMongo(ctx context.Context, uri, database string) (*MongoStore, error) {
	if database == "" {
		database = DefaultMongoDatabase
	}

	clientOptions := options.Client().
		ApplyURI(uri).
		SetMaxPoolSize(10).
		SetMinPoolSize(1).
		SetMaxConnIdleTime(30 * time.Second).
		SetConnectTimeout(30 * time.Second).
		SetRetryWrites(true).
		SetRetryReads(true)

	client, err := mongo.Connect(ctx, clientOptions)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to MongoDB: %w", err)
	}
	if err := client.Ping(ctx, nil); err != nil {
		client.Disconnect(ctx)
		return nil, fmt.Errorf("failed to ping MongoDB: %w", err)
	}

	coll := client.Database(database).Collection(MongoCandlesCollection)
	_, err = coll.Indexes().CreateMany(ctx, []mongo.IndexModel{
		{Keys: bson.D{{Key: "exchange", Value: 1}, {Key: "symbol", Value: 1}, {Key: "timeframe", Value: 1}, {Key: "ts", Value: -1}}},
		{Keys: bson.D{{Key: "ts", Value: 1}}},
	})
	if err != nil {
		client.Disconnect(ctx)
		return nil, fmt.Errorf("failed to create candle indexes: %w", err)
	}

	return &MongoStore{client: client, coll: coll}, nil
}

func candleID(exchange, symbol, timeframe string, ts int64) string {
	return fmt.Sprintf("%s|%s|%s|%d", exchange, symbol, timeframe, ts)
}

// SaveCandles upserts candles keyed by exchange, symbol, timeframe and bar time
func (m *MongoStore) SaveCandles(ctx context.Context, exchange, symbol, timeframe string, candles []marketdata.Candle) error {
	if len(candles) == 0 {
		return nil
	}

	now := time.Now().UTC()
	models := make([]mongo.WriteModel, 0, len(candles))
	for _, c := range candles {
		doc := candleDocument{
			ID:         candleID(exchange, symbol, timeframe, c.Timestamp),
			Exchange:   exchange,
			Symbol:     symbol,
			Timeframe:  timeframe,
			Timestamp:  c.Timestamp,
			Open:       c.Open,
			High:       c.High,
			Low:        c.Low,
			Close:      c.Close,
			Volume:     c.Volume,
			ArchivedAt: now,
		}
		models = append(models, mongo.NewReplaceOneModel().
			SetFilter(bson.M{"_id": doc.ID}).
			SetReplacement(doc).
			SetUpsert(true))
	}

	if _, err := m.coll.BulkWrite(ctx, models, options.BulkWrite().SetOrdered(false)); err != nil {
		return fmt.Errorf("failed to archive candles: %w", err)
	}
	return nil
}

// LoadCandles returns the newest limit candles in ascending order
func (m *MongoStore) LoadCandles(ctx context.Context, exchange, symbol, timeframe string, limit int) ([]marketdata.Candle, error) {
	filter := bson.M{"exchange": exchange, "symbol": symbol, "timeframe": timeframe}
	opts := options.Find().SetSort(bson.D{{Key: "ts", Value: -1}}).SetLimit(int64(limit))

	cursor, err := m.coll.Find(ctx, filter, opts)
	if err != nil {
		return nil, fmt.Errorf("failed to query candles: %w", err)
	}
	defer cursor.Close(ctx)

	var docs []candleDocument
	if err := cursor.All(ctx, &docs); err != nil {
		return nil, fmt.Errorf("failed to decode candles: %w", err)
	}

	candles := make([]marketdata.Candle, 0, len(docs))
	for _, d := range docs {
		candles = append(candles, marketdata.Candle{
			Timestamp: d.Timestamp,
			Open:      d.Open,
			High:      d.High,
			Low:       d.Low,
			Close:     d.Close,
			Volume:    d.Volume,
		})
	}
	return reverse(candles), nil
}

// Prune deletes candles whose bar time is before olderThan
func (m *MongoStore) Prune(ctx context.Context, olderThan time.Time) (int64, error) {
	res, err := m.coll.DeleteMany(ctx, bson.M{"ts": bson.M{"$lt": olderThan.UnixMilli()}})
	if err != nil {
		return 0, fmt.Errorf("failed to prune candles: %w", err)
	}
	return res.DeletedCount, nil
}

// Close disconnects the client
func (m *MongoStore) Close(ctx context.Context) error {
	return m.client.Disconnect(ctx)
}
