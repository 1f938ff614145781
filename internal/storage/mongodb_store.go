package storage

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
	"go.mongodb.org/mongo-driver/mongo/readconcern"
	"go.mongodb.org/mongo-driver/mongo/writeconcern"
)

// MongoDBStore implements Store using MongoDB.
//
// AppendForUser runs in a multi-document transaction, so the deployment must be a
// replica set or sharded cluster. Each transaction first writes the user's lock
// document; concurrent appends for the same user therefore hit a write conflict
// and the driver retries them against the committed ledger.
type MongoDBStore struct {
	client        *mongo.Client
	db            *mongo.Database
	intents       *mongo.Collection
	pending       *mongo.Collection
	notifications *mongo.Collection
	locks         *mongo.Collection
}

// NewMongoDBStore creates a new MongoDB-backed store.
func NewMongoDBStore(connectionString, database string, tables TableNames) (*MongoDBStore, error) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	client, err := mongo.Connect(ctx, options.Client().ApplyURI(connectionString))
	if err != nil {
		return nil, fmt.Errorf("connect to mongodb: %w", err)
	}

	if err := client.Ping(ctx, nil); err != nil {
		_ = client.Disconnect(ctx)
		return nil, fmt.Errorf("ping mongodb: %w", err)
	}

	tables = tables.withDefaults()
	db := client.Database(database)
	store := &MongoDBStore{
		client:        client,
		db:            db,
		intents:       db.Collection(tables.PaymentIntents),
		pending:       db.Collection(tables.PendingIntents),
		notifications: db.Collection(tables.Notifications),
		locks:         db.Collection(tables.LedgerLocks),
	}

	if err := store.Migrate(ctx); err != nil {
		_ = client.Disconnect(ctx)
		return nil, err
	}

	return store, nil
}

// Migrate creates the indexes the ledger relies on.
func (s *MongoDBStore) Migrate(ctx context.Context) error {
	_, err := s.intents.Indexes().CreateMany(ctx, []mongo.IndexModel{
		{Keys: bson.D{{Key: "idempotency_key", Value: 1}}, Options: options.Index().SetUnique(true)},
		{Keys: bson.D{{Key: "user_id", Value: 1}, {Key: "status", Value: 1}, {Key: "access_expires_at", Value: -1}}},
	})
	if err != nil {
		return fmt.Errorf("create payment intent indexes: %w", err)
	}

	_, err = s.pending.Indexes().CreateMany(ctx, []mongo.IndexModel{
		{Keys: bson.D{{Key: "user_id", Value: 1}}},
		// Unpaid checkouts age out on their own
		{Keys: bson.D{{Key: "created_at", Value: 1}}, Options: options.Index().SetExpireAfterSeconds(int32(PendingIntentRetention.Seconds()))},
	})
	if err != nil {
		return fmt.Errorf("create pending intent indexes: %w", err)
	}

	_, err = s.notifications.Indexes().CreateMany(ctx, []mongo.IndexModel{
		{Keys: bson.D{{Key: "idempotency_key", Value: 1}, {Key: "kind", Value: 1}}, Options: options.Index().SetUnique(true)},
		{Keys: bson.D{{Key: "user_id", Value: 1}, {Key: "created_at", Value: -1}}},
	})
	if err != nil {
		return fmt.Errorf("create notification indexes: %w", err)
	}
	return nil
}

// mongoIntent is the document shape; the raw payload is kept as a JSON string.
type mongoIntent struct {
	ID               string    `bson:"_id"`
	IdempotencyKey   string    `bson:"idempotency_key"`
	UserID           string    `bson:"user_id"`
	AmountCents      int64     `bson:"amount_cents"`
	Currency         string    `bson:"currency"`
	PlanType         string    `bson:"plan_type"`
	Status           string    `bson:"status"`
	AccessExpiresAt  time.Time `bson:"access_expires_at"`
	PaidAt           time.Time `bson:"paid_at"`
	CreatedAt        time.Time `bson:"created_at"`
	Gateway          string    `bson:"gateway"`
	GatewayPaymentID string    `bson:"gateway_payment_id,omitempty"`
	Email            string    `bson:"email,omitempty"`
	PaymentMethod    string    `bson:"payment_method,omitempty"`
	RawPayload       string    `bson:"raw_gateway_payload,omitempty"`
}

func toMongoIntent(p PaymentIntent) mongoIntent {
	return mongoIntent{
		ID:               p.ID,
		IdempotencyKey:   p.IdempotencyKey,
		UserID:           p.UserID,
		AmountCents:      p.AmountCents,
		Currency:         p.Currency,
		PlanType:         p.PlanType,
		Status:           string(p.Status),
		AccessExpiresAt:  p.AccessExpiresAt,
		PaidAt:           p.PaidAt,
		CreatedAt:        p.CreatedAt,
		Gateway:          string(p.Gateway),
		GatewayPaymentID: p.GatewayPaymentID,
		Email:            p.Email,
		PaymentMethod:    p.PaymentMethod,
		RawPayload:       string(p.RawPayload),
	}
}

func (m mongoIntent) toIntent() PaymentIntent {
	p := PaymentIntent{
		ID:               m.ID,
		IdempotencyKey:   m.IdempotencyKey,
		UserID:           m.UserID,
		AmountCents:      m.AmountCents,
		Currency:         m.Currency,
		PlanType:         m.PlanType,
		Status:           IntentStatus(m.Status),
		AccessExpiresAt:  m.AccessExpiresAt.UTC(),
		PaidAt:           m.PaidAt.UTC(),
		CreatedAt:        m.CreatedAt.UTC(),
		Gateway:          Gateway(m.Gateway),
		GatewayPaymentID: m.GatewayPaymentID,
		Email:            m.Email,
		PaymentMethod:    m.PaymentMethod,
	}
	if m.RawPayload != "" {
		p.RawPayload = []byte(m.RawPayload)
	}
	return p
}

type mongoPending struct {
	IdempotencyKey string    `bson:"_id"`
	UserID         string    `bson:"user_id"`
	PlanType       string    `bson:"plan_type"`
	Email          string    `bson:"email,omitempty"`
	AmountCents    int64     `bson:"amount_cents"`
	Gateway        string    `bson:"gateway"`
	CreatedAt      time.Time `bson:"created_at"`
}

type mongoNotification struct {
	ID             string     `bson:"_id"`
	UserID         string     `bson:"user_id"`
	Kind           string     `bson:"kind"`
	Title          string     `bson:"title"`
	Body           string     `bson:"body"`
	IdempotencyKey string     `bson:"idempotency_key"`
	CreatedAt      time.Time  `bson:"created_at"`
	ReadAt         *time.Time `bson:"read_at,omitempty"`
}

func (s *MongoDBStore) Append(ctx context.Context, intent PaymentIntent) (PaymentIntent, error) {
	if err := prepareIntent(&intent); err != nil {
		return PaymentIntent{}, err
	}
	return s.AppendForUser(ctx, intent.UserID, func(*PaymentIntent) (PaymentIntent, error) {
		return intent, nil
	})
}

func (s *MongoDBStore) AppendForUser(ctx context.Context, userID string, build BuildFunc) (PaymentIntent, error) {
	ctx, cancel := withQueryTimeout(ctx)
	defer cancel()

	session, err := s.client.StartSession()
	if err != nil {
		return PaymentIntent{}, fmt.Errorf("mongodb: start session: %w", err)
	}
	defer session.EndSession(ctx)

	txnOpts := options.Transaction().
		SetReadConcern(readconcern.Snapshot()).
		SetWriteConcern(writeconcern.Majority())

	result, err := session.WithTransaction(ctx, func(sc mongo.SessionContext) (interface{}, error) {
		// Touch the user's lock document first so concurrent appends conflict here
		_, err := s.locks.UpdateOne(sc,
			bson.M{"_id": userID},
			bson.M{"$inc": bson.M{"version": 1}, "$set": bson.M{"updated_at": time.Now().UTC()}},
			options.Update().SetUpsert(true),
		)
		if err != nil {
			return nil, fmt.Errorf("lock user ledger: %w", err)
		}

		var latestPtr *PaymentIntent
		latest, err := s.findLatestActive(sc, userID)
		switch {
		case err == nil:
			latestPtr = &latest
		case errors.Is(err, ErrNotFound):
		default:
			return nil, err
		}

		intent, err := buildForUser(userID, latestPtr, build)
		if err != nil {
			return nil, err
		}

		if _, err := s.intents.InsertOne(sc, toMongoIntent(intent)); err != nil {
			if mongo.IsDuplicateKeyError(err) {
				return nil, ErrConflict
			}
			return nil, fmt.Errorf("insert payment intent: %w", err)
		}
		return intent, nil
	}, txnOpts)
	if err != nil {
		if errors.Is(err, ErrConflict) || mongo.IsDuplicateKeyError(err) {
			return PaymentIntent{}, ErrConflict
		}
		return PaymentIntent{}, fmt.Errorf("mongodb: append for user: %w", err)
	}
	return result.(PaymentIntent), nil
}

func (s *MongoDBStore) findLatestActive(ctx context.Context, userID string) (PaymentIntent, error) {
	opts := options.FindOne().SetSort(bson.D{{Key: "access_expires_at", Value: -1}})
	var doc mongoIntent
	err := s.intents.FindOne(ctx, bson.M{"user_id": userID, "status": string(StatusActive)}, opts).Decode(&doc)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return PaymentIntent{}, ErrNotFound
	}
	if err != nil {
		return PaymentIntent{}, fmt.Errorf("query latest active: %w", err)
	}
	return doc.toIntent(), nil
}

func (s *MongoDBStore) GetByIdempotencyKey(ctx context.Context, key string) (PaymentIntent, error) {
	ctx, cancel := withQueryTimeout(ctx)
	defer cancel()

	var doc mongoIntent
	err := s.intents.FindOne(ctx, bson.M{"idempotency_key": key}).Decode(&doc)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return PaymentIntent{}, ErrNotFound
	}
	if err != nil {
		return PaymentIntent{}, fmt.Errorf("query payment intent: %w", err)
	}
	return doc.toIntent(), nil
}

func (s *MongoDBStore) LatestActive(ctx context.Context, userID string) (PaymentIntent, error) {
	ctx, cancel := withQueryTimeout(ctx)
	defer cancel()
	return s.findLatestActive(ctx, userID)
}

func (s *MongoDBStore) ListByUser(ctx context.Context, userID string, limit int) ([]PaymentIntent, error) {
	ctx, cancel := withQueryTimeout(ctx)
	defer cancel()

	opts := options.Find().
		SetSort(bson.D{{Key: "access_expires_at", Value: -1}}).
		SetLimit(int64(normalizeLimit(limit)))
	cursor, err := s.intents.Find(ctx, bson.M{"user_id": userID}, opts)
	if err != nil {
		return nil, fmt.Errorf("list payment intents: %w", err)
	}
	defer cursor.Close(ctx)

	var docs []mongoIntent
	if err := cursor.All(ctx, &docs); err != nil {
		return nil, fmt.Errorf("decode payment intents: %w", err)
	}
	out := make([]PaymentIntent, 0, len(docs))
	for _, doc := range docs {
		out = append(out, doc.toIntent())
	}
	return out, nil
}

func (s *MongoDBStore) SavePendingIntent(ctx context.Context, pending PendingIntent) error {
	if err := preparePendingIntent(&pending); err != nil {
		return err
	}
	ctx, cancel := withQueryTimeout(ctx)
	defer cancel()

	doc := mongoPending{
		IdempotencyKey: pending.IdempotencyKey,
		UserID:         pending.UserID,
		PlanType:       pending.PlanType,
		Email:          pending.Email,
		AmountCents:    pending.AmountCents,
		Gateway:        string(pending.Gateway),
		CreatedAt:      pending.CreatedAt.UTC(),
	}
	_, err := s.pending.UpdateOne(ctx,
		bson.M{"_id": doc.IdempotencyKey},
		bson.M{"$setOnInsert": doc},
		options.Update().SetUpsert(true),
	)
	if err != nil {
		return fmt.Errorf("save pending intent: %w", err)
	}
	return nil
}

func (s *MongoDBStore) GetPendingIntent(ctx context.Context, key string) (PendingIntent, error) {
	ctx, cancel := withQueryTimeout(ctx)
	defer cancel()

	var doc mongoPending
	err := s.pending.FindOne(ctx, bson.M{"_id": key}).Decode(&doc)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return PendingIntent{}, ErrNotFound
	}
	if err != nil {
		return PendingIntent{}, fmt.Errorf("query pending intent: %w", err)
	}
	return PendingIntent{
		IdempotencyKey: doc.IdempotencyKey,
		UserID:         doc.UserID,
		PlanType:       doc.PlanType,
		Email:          doc.Email,
		AmountCents:    doc.AmountCents,
		Gateway:        Gateway(doc.Gateway),
		CreatedAt:      doc.CreatedAt.UTC(),
	}, nil
}

func (s *MongoDBStore) CreateNotification(ctx context.Context, n Notification) error {
	if err := prepareNotification(&n); err != nil {
		return err
	}
	ctx, cancel := withQueryTimeout(ctx)
	defer cancel()

	_, err := s.notifications.InsertOne(ctx, mongoNotification{
		ID:             n.ID,
		UserID:         n.UserID,
		Kind:           string(n.Kind),
		Title:          n.Title,
		Body:           n.Body,
		IdempotencyKey: n.IdempotencyKey,
		CreatedAt:      n.CreatedAt.UTC(),
		ReadAt:         n.ReadAt,
	})
	if mongo.IsDuplicateKeyError(err) {
		return ErrConflict
	}
	if err != nil {
		return fmt.Errorf("insert notification: %w", err)
	}
	return nil
}

func (s *MongoDBStore) ListNotifications(ctx context.Context, userID string, limit int) ([]Notification, error) {
	ctx, cancel := withQueryTimeout(ctx)
	defer cancel()

	opts := options.Find().
		SetSort(bson.D{{Key: "created_at", Value: -1}}).
		SetLimit(int64(normalizeLimit(limit)))
	cursor, err := s.notifications.Find(ctx, bson.M{"user_id": userID}, opts)
	if err != nil {
		return nil, fmt.Errorf("list notifications: %w", err)
	}
	defer cursor.Close(ctx)

	var docs []mongoNotification
	if err := cursor.All(ctx, &docs); err != nil {
		return nil, fmt.Errorf("decode notifications: %w", err)
	}
	out := make([]Notification, 0, len(docs))
	for _, d := range docs {
		out = append(out, Notification{
			ID:             d.ID,
			UserID:         d.UserID,
			Kind:           NotificationKind(d.Kind),
			Title:          d.Title,
			Body:           d.Body,
			IdempotencyKey: d.IdempotencyKey,
			CreatedAt:      d.CreatedAt.UTC(),
			ReadAt:         d.ReadAt,
		})
	}
	return out, nil
}

func (s *MongoDBStore) Ping(ctx context.Context) error {
	ctx, cancel := withQueryTimeout(ctx)
	defer cancel()
	return s.client.Ping(ctx, nil)
}

// Close disconnects the MongoDB client.
func (s *MongoDBStore) Close() error {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return s.client.Disconnect(ctx)
}
