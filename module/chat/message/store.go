package message

import (
	"context"

	"IMCore/module/chat/model"
	"IMCore/service/mgo"
	errs "IMCore/tools/errs"

	"github.com/pkg/errors"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

// Store is the durable message store on MongoDB. The database handle is
// resolved per call so operations ride the driver's bounded pool and
// never pin a client across a connection's lifetime.
type Store struct {
	db func() (*mongo.Database, bool)
}

func NewStore() *Store {
	return &Store{db: mgo.TryGetDB}
}

// NewStoreWithDB is for callers that already hold a database handle
// (integration tests, migration jobs).
func NewStoreWithDB(db *mongo.Database) *Store {
	return &Store{db: func() (*mongo.Database, bool) { return db, db != nil }}
}

func (s *Store) coll() (*mongo.Collection, error) {
	db, ok := s.db()
	if !ok {
		return nil, errs.ErrPersistence.WithDetail("mongo not ready")
	}
	return db.Collection(model.MsgTableName), nil
}

// PersistBatch writes one flushed batch as a single ordered bulk
// insert. Order inside the batch is the enqueue order.
func (s *Store) PersistBatch(ctx context.Context, convKey string, msgs []*model.Message) error {
	if len(msgs) == 0 {
		return nil
	}
	coll, err := s.coll()
	if err != nil {
		return err
	}
	docs := make([]interface{}, 0, len(msgs))
	for _, m := range msgs {
		docs = append(docs, m)
	}
	opts := options.InsertMany().SetOrdered(true)
	if _, err := coll.InsertMany(ctx, docs, opts); err != nil {
		return errors.Wrapf(errs.ErrPersistence.WithDetail(err.Error()), "bulk insert conv=%s n=%d", convKey, len(msgs))
	}
	return nil
}

// MarkRead transitions seen=false -> true for the given ids, but only
// where receiverID really is the receiver. Returns the ids actually
// transitioned.
func (s *Store) MarkRead(ctx context.Context, receiverID string, ids []string) ([]string, error) {
	if len(ids) == 0 {
		return nil, nil
	}
	coll, err := s.coll()
	if err != nil {
		return nil, err
	}

	filter := bson.M{
		"_id":         bson.M{"$in": ids},
		"receiver_id": receiverID,
		"seen":        false,
	}
	cur, err := coll.Find(ctx, filter, options.Find().SetProjection(bson.M{"_id": 1}))
	if err != nil {
		return nil, errors.Wrap(errs.ErrPersistence.WithDetail(err.Error()), "find unread")
	}
	var rows []struct {
		ID string `bson:"_id"`
	}
	if err := cur.All(ctx, &rows); err != nil {
		return nil, errors.Wrap(errs.ErrPersistence.WithDetail(err.Error()), "decode unread")
	}
	if len(rows) == 0 {
		return nil, nil
	}
	updated := make([]string, 0, len(rows))
	for _, r := range rows {
		updated = append(updated, r.ID)
	}

	// seen only ever goes false -> true, so racing markers are harmless.
	_, err = coll.UpdateMany(ctx,
		bson.M{"_id": bson.M{"$in": updated}},
		bson.M{"$set": bson.M{"seen": true}},
	)
	if err != nil {
		return nil, errors.Wrap(errs.ErrPersistence.WithDetail(err.Error()), "mark read")
	}
	return updated, nil
}

// RecentPage returns the newest messages of one conversation,
// newest first.
func (s *Store) RecentPage(ctx context.Context, convKey string, limit int64) ([]*model.Message, error) {
	coll, err := s.coll()
	if err != nil {
		return nil, err
	}
	if limit <= 0 {
		limit = 50
	}
	a, b := model.Participants(convKey)
	filter := bson.M{"$or": bson.A{
		bson.M{"sender_id": a, "receiver_id": b},
		bson.M{"sender_id": b, "receiver_id": a},
	}}
	opts := options.Find().
		SetSort(bson.D{{Key: "created_at", Value: -1}}).
		SetLimit(limit)
	cur, err := coll.Find(ctx, filter, opts)
	if err != nil {
		return nil, errors.Wrapf(errs.ErrPersistence.WithDetail(err.Error()), "page conv=%s", convKey)
	}
	var out []*model.Message
	if err := cur.All(ctx, &out); err != nil {
		return nil, errors.Wrap(errs.ErrPersistence.WithDetail(err.Error()), "decode page")
	}
	return out, nil
}
