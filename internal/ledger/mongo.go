package ledger

import (
	"context"
	"errors"
	"fmt"
	"reflect"

	"github.com/shopspring/decimal"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/bsoncodec"
	"go.mongodb.org/mongo-driver/bson/bsonrw"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"github.com/rezonia/fiscal-sync/internal/model"
)

// DefaultCollection holds the ledger rows
const DefaultCollection = "invoices"

const mongoDuplicateKey = 11000

var decimalType = reflect.TypeOf(decimal.Decimal{})

// Registry returns a BSON registry that stores decimals as strings
func Registry() *bsoncodec.Registry {
	reg := bson.NewRegistry()
	reg.RegisterTypeEncoder(decimalType, bsoncodec.ValueEncoderFunc(encodeDecimal))
	reg.RegisterTypeDecoder(decimalType, bsoncodec.ValueDecoderFunc(decodeDecimal))
	return reg
}

func encodeDecimal(_ bsoncodec.EncodeContext, vw bsonrw.ValueWriter, val reflect.Value) error {
	if !val.IsValid() || val.Type() != decimalType {
		return bsoncodec.ValueEncoderError{Name: "DecimalEncodeValue", Types: []reflect.Type{decimalType}, Received: val}
	}
	return vw.WriteString(val.Interface().(decimal.Decimal).String())
}

func decodeDecimal(_ bsoncodec.DecodeContext, vr bsonrw.ValueReader, val reflect.Value) error {
	if !val.CanSet() || val.Type() != decimalType {
		return bsoncodec.ValueDecoderError{Name: "DecimalDecodeValue", Types: []reflect.Type{decimalType}, Received: val}
	}
	s, err := vr.ReadString()
	if err != nil {
		return err
	}
	d, err := decimal.NewFromString(s)
	if err != nil {
		return err
	}
	val.Set(reflect.ValueOf(d))
	return nil
}

// ConnectMongo opens a client with the decimal-aware registry
func ConnectMongo(ctx context.Context, uri string) (*mongo.Client, error) {
	client, err := mongo.Connect(ctx, options.Client().ApplyURI(uri).SetRegistry(Registry()))
	if err != nil {
		return nil, fmt.Errorf("connect mongo: %w", err)
	}
	if err := client.Ping(ctx, nil); err != nil {
		_ = client.Disconnect(ctx)
		return nil, fmt.Errorf("ping mongo: %w", err)
	}
	return client, nil
}

// MongoStore keeps ledger rows in a MongoDB collection
type MongoStore struct {
	coll *mongo.Collection
}

// NewMongoStore binds a collection and ensures its unique index
func NewMongoStore(ctx context.Context, db *mongo.Database, collection string) (*MongoStore, error) {
	if collection == "" {
		collection = DefaultCollection
	}
	coll := db.Collection(collection)
	_, err := coll.Indexes().CreateOne(ctx, mongo.IndexModel{
		Keys: bson.D{
			{Key: "requestId", Value: 1},
			{Key: "request_status", Value: 1},
			{Key: "document_id", Value: 1},
		},
		Options: options.Index().SetUnique(true).SetName("batch_document_unique"),
	})
	if err != nil {
		return nil, fmt.Errorf("create index: %w", err)
	}
	return &MongoStore{coll: coll}, nil
}

func mongoFilter(f Filter) bson.M {
	m := bson.M{}
	if f.BatchID != "" {
		m["requestId"] = f.BatchID
	}
	if f.Tenant != "" {
		m["tenant"] = f.Tenant
	}
	if f.RequestStatus != "" {
		m["request_status"] = f.RequestStatus
	}
	if f.Status != "" {
		m["status"] = f.Status
	}
	if f.DocumentID != "" {
		m["document_id"] = f.DocumentID
	}
	return m
}

func (s *MongoStore) Insert(ctx context.Context, r Record) error {
	_, err := s.coll.InsertOne(ctx, r)
	if err != nil && mongo.IsDuplicateKeyError(err) {
		return nil
	}
	return err
}

func (s *MongoStore) InsertMany(ctx context.Context, rs []Record) error {
	if len(rs) == 0 {
		return nil
	}
	docs := make([]interface{}, len(rs))
	for i := range rs {
		docs[i] = rs[i]
	}
	_, err := s.coll.InsertMany(ctx, docs, options.InsertMany().SetOrdered(false))
	return ignoreDuplicates(err)
}

// ignoreDuplicates drops a bulk error made only of duplicate-key failures
func ignoreDuplicates(err error) error {
	var bwe mongo.BulkWriteException
	if !errors.As(err, &bwe) {
		return err
	}
	if bwe.WriteConcernError != nil {
		return err
	}
	for _, we := range bwe.WriteErrors {
		if we.Code != mongoDuplicateKey {
			return err
		}
	}
	return nil
}

func (s *MongoStore) Find(ctx context.Context, f Filter) ([]Record, error) {
	cur, err := s.coll.Find(ctx, mongoFilter(f), options.Find().SetSort(bson.D{{Key: "created_at", Value: 1}, {Key: "_id", Value: 1}}))
	if err != nil {
		return nil, err
	}
	var out []Record
	if err := cur.All(ctx, &out); err != nil {
		return nil, err
	}
	return out, nil
}

func (s *MongoStore) Delete(ctx context.Context, f Filter) (int64, error) {
	res, err := s.coll.DeleteMany(ctx, mongoFilter(f))
	if err != nil {
		return 0, err
	}
	return res.DeletedCount, nil
}

func (s *MongoStore) Count(ctx context.Context, f Filter) (int64, error) {
	return s.coll.CountDocuments(ctx, mongoFilter(f))
}

func (s *MongoStore) UpdateStatus(ctx context.Context, f Filter, status model.DeliveryStatus) (int64, error) {
	res, err := s.coll.UpdateMany(ctx, mongoFilter(f), bson.M{"$set": bson.M{"status": status}})
	if err != nil {
		return 0, err
	}
	return res.MatchedCount, nil
}
