package services

import (
	"context"
	"log"
	"sync"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"github.com/maogitmao/billions-dollars/models"
)

const (
	mongoDatabase      = "billions_dollars"
	mongoWatchlistColl = "watchlist"
	mongoSnapshotColl  = "quote_snapshots"

	mongoConnectTimeout = 30 * time.Second
	mongoSyncTimeout    = 15 * time.Second
)

// mirrorQuote is the BSON shape of one quote inside the snapshot
// document. Price fields are stored as strings to keep their exact
// decimal form.
type mirrorQuote struct {
	Symbol        string    `bson:"symbol"`
	Name          string    `bson:"name"`
	Price         string    `bson:"price"`
	Change        string    `bson:"change"`
	ChangePercent string    `bson:"change_percent"`
	Volume        int64     `bson:"volume"`
	Turnover      string    `bson:"turnover"`
	Provider      string    `bson:"provider"`
	FetchedAt     time.Time `bson:"fetched_at"`
}

type mongoWatchlistDoc struct {
	ID        string    `bson:"_id"`
	UpdatedAt time.Time `bson:"updated_at"`
	Count     int       `bson:"count"`
	Symbols   []string  `bson:"symbols"`
}

type mongoSnapshotDoc struct {
	ID        string        `bson:"_id"`
	UpdatedAt time.Time     `bson:"updated_at"`
	Count     int           `bson:"count"`
	Quotes    []mirrorQuote `bson:"quotes"`
}

// MongoMirror pushes the watch-list and the latest quote snapshot to
// MongoDB Atlas so other deployments can read them. The mirror is
// entirely optional: without a URI every method is a no-op.
type MongoMirror struct {
	client   *mongo.Client
	database *mongo.Database
	enabled  bool

	mu       sync.RWMutex
	lastSync time.Time
	lastErr  string
}

// NewMongoMirror connects when a URI is configured. Connection failures
// disable the mirror instead of failing startup.
func NewMongoMirror(uri string) *MongoMirror {
	if uri == "" {
		log.Println("[MongoMirror] MONGODB_URI not set, cloud mirror disabled")
		return &MongoMirror{}
	}

	ctx, cancel := context.WithTimeout(context.Background(), mongoConnectTimeout)
	defer cancel()

	serverAPI := options.ServerAPI(options.ServerAPIVersion1)
	clientOptions := options.Client().
		ApplyURI(uri).
		SetServerAPIOptions(serverAPI).
		SetMaxPoolSize(10).
		SetMinPoolSize(2).
		SetMaxConnIdleTime(30 * time.Second).
		SetConnectTimeout(mongoConnectTimeout).
		SetRetryWrites(true).
		SetRetryReads(true)

	client, err := mongo.Connect(ctx, clientOptions)
	if err != nil {
		log.Printf("[MongoMirror] connect failed, cloud mirror disabled: %v", err)
		return &MongoMirror{lastErr: err.Error()}
	}
	if err := client.Ping(ctx, nil); err != nil {
		log.Printf("[MongoMirror] ping failed, cloud mirror disabled: %v", err)
		_ = client.Disconnect(context.Background())
		return &MongoMirror{lastErr: err.Error()}
	}

	log.Println("[MongoMirror] connected")
	return &MongoMirror{
		client:   client,
		database: client.Database(mongoDatabase),
		enabled:  true,
	}
}

// Enabled reports whether a connection was established.
func (m *MongoMirror) Enabled() bool {
	return m.enabled
}

// Sync upserts the watch-list document and the latest-quotes document.
func (m *MongoMirror) Sync(symbols []string, quotes []*models.Quote) error {
	if !m.enabled {
		return nil
	}

	ctx, cancel := context.WithTimeout(context.Background(), mongoSyncTimeout)
	defer cancel()

	now := time.Now()
	mirrored := make([]mirrorQuote, 0, len(quotes))
	for _, q := range quotes {
		mirrored = append(mirrored, mirrorQuote{
			Symbol:        q.Symbol,
			Name:          q.Name,
			Price:         q.LastPrice.String(),
			Change:        q.Change.String(),
			ChangePercent: q.ChangePercent.String(),
			Volume:        q.Volume,
			Turnover:      q.Turnover.String(),
			Provider:      q.Provider,
			FetchedAt:     q.FetchedAt,
		})
	}

	opts := options.Replace().SetUpsert(true)
	_, err := m.database.Collection(mongoWatchlistColl).ReplaceOne(ctx,
		bson.M{"_id": "current"},
		mongoWatchlistDoc{ID: "current", UpdatedAt: now, Count: len(symbols), Symbols: symbols},
		opts)
	if err != nil {
		m.recordError(err)
		return err
	}

	_, err = m.database.Collection(mongoSnapshotColl).ReplaceOne(ctx,
		bson.M{"_id": "latest"},
		mongoSnapshotDoc{ID: "latest", UpdatedAt: now, Count: len(mirrored), Quotes: mirrored},
		opts)
	if err != nil {
		m.recordError(err)
		return err
	}

	m.mu.Lock()
	m.lastSync = now
	m.lastErr = ""
	m.mu.Unlock()
	return nil
}

// Status reports mirror state for the status endpoint.
func (m *MongoMirror) Status() map[string]interface{} {
	m.mu.RLock()
	defer m.mu.RUnlock()

	status := map[string]interface{}{
		"enabled": m.enabled,
	}
	if !m.lastSync.IsZero() {
		status["last_sync"] = m.lastSync.Format(time.RFC3339)
	}
	if m.lastErr != "" {
		status["last_error"] = m.lastErr
	}
	return status
}

// Close disconnects from MongoDB.
func (m *MongoMirror) Close() {
	if !m.enabled {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := m.client.Disconnect(ctx); err != nil {
		log.Printf("[MongoMirror] disconnect failed: %v", err)
		return
	}
	log.Println("[MongoMirror] disconnected")
}

func (m *MongoMirror) recordError(err error) {
	m.mu.Lock()
	m.lastErr = err.Error()
	m.mu.Unlock()
	log.Printf("[MongoMirror] sync failed: %v", err)
}
