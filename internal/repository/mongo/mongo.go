package mongo

/*
Файл mongo.go отвечает за подключение к MongoDB и реализацию простых
контрактов хранилища. Бакетированный лог — в buckets.go. Атомарность
критичных операций обеспечивается самими командами Mongo: $inc на
счетчике, уникальный _id мастер-ключа и условный update открытого бакета.
*/

import (
	"context"
	"errors"
	"time"

	"github.com/xela07ax/clearing-house/internal/audit"
	"github.com/xela07ax/clearing-house/internal/domain"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
	"go.mongodb.org/mongo-driver/mongo/readpref"
)

const (
	collCounters   = "counters"
	collProcesses  = "processes"
	collMasterKeys = "master_keys"
	collDocTypes   = "doc_types"
	collBuckets    = "buckets"
	collJournal    = "access_journal"

	counterID    = "tx"
	masterKeyDoc = "master"
)

type Store struct {
	cli *mongo.Client
	db  *mongo.Database
}

// NewStore подключается, проверяет соединение и готовит индексы.
func NewStore(ctx context.Context, uri, dbName string) (*Store, error) {
	dialCtx, cancel := context.WithTimeout(ctx, 15*time.Second)
	defer cancel()

	cli, err := mongo.Connect(dialCtx, options.Client().ApplyURI(uri))
	if err != nil {
		return nil, err
	}
	if err := cli.Ping(dialCtx, readpref.Primary()); err != nil {
		return nil, err
	}

	s := &Store{cli: cli, db: cli.Database(dbName)}

	// Счетчик сеется значением -1, чтобы первый Next вернул 0.
	// Дубликат означает, что счетчик уже существует — это не ошибка.
	_, err = s.db.Collection(collCounters).InsertOne(ctx,
		bson.M{"_id": counterID, "value": int64(-1)})
	if err != nil && !isDuplicate(err) {
		return nil, err
	}

	_, err = s.db.Collection(collBuckets).Indexes().CreateOne(ctx, mongo.IndexModel{
		Keys: bson.D{{Key: "pid", Value: 1}, {Key: "from_ts", Value: 1}},
	})
	if err != nil {
		return nil, err
	}
	return s, nil
}

func (s *Store) Close(ctx context.Context) error { return s.cli.Disconnect(ctx) }

// Next атомарно инкрементирует глобальный счетчик.
func (s *Store) Next(ctx context.Context) (int64, error) {
	res := s.db.Collection(collCounters).FindOneAndUpdate(ctx,
		bson.M{"_id": counterID},
		bson.M{"$inc": bson.M{"value": int64(1)}},
		options.FindOneAndUpdate().SetReturnDocument(options.After),
	)
	var out struct {
		Value int64 `bson:"value"`
	}
	if err := res.Decode(&out); err != nil {
		return 0, err
	}
	return out.Value, nil
}

func (s *Store) Insert(ctx context.Context, p domain.Process) error {
	_, err := s.db.Collection(collProcesses).InsertOne(ctx, p)
	if isDuplicate(err) {
		return domain.E(domain.KindConflict, "mongo.process", "process already exists")
	}
	return err
}

func (s *Store) Get(ctx context.Context, pid string) (*domain.Process, error) {
	p := &domain.Process{}
	err := s.db.Collection(collProcesses).FindOne(ctx, bson.M{"_id": pid}).Decode(p)
	if err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return nil, nil
		}
		return nil, err
	}
	return p, nil
}

func (s *Store) Delete(ctx context.Context, pid string) error {
	_, err := s.db.Collection(collProcesses).DeleteOne(ctx, bson.M{"_id": pid})
	return err
}

// masterKeyRecord живет под фиксированным _id: второй документ физически
// не может появиться.
type masterKeyRecord struct {
	DocID     string    `bson:"_id"`
	KeyID     string    `bson:"key_id"`
	Key       []byte    `bson:"key"`
	Salt      []byte    `bson:"salt"`
	CreatedAt time.Time `bson:"created_at"`
}

func (s *Store) InsertMasterKey(ctx context.Context, key domain.MasterKey) (bool, error) {
	_, err := s.db.Collection(collMasterKeys).InsertOne(ctx, masterKeyRecord{
		DocID:     masterKeyDoc,
		KeyID:     key.ID,
		Key:       key.Key,
		Salt:      key.Salt,
		CreatedAt: key.CreatedAt,
	})
	if isDuplicate(err) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return true, nil
}

func (s *Store) GetMasterKey(ctx context.Context) (*domain.MasterKey, error) {
	var rec masterKeyRecord
	err := s.db.Collection(collMasterKeys).FindOne(ctx, bson.M{"_id": masterKeyDoc}).Decode(&rec)
	if err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return nil, nil
		}
		return nil, err
	}
	return &domain.MasterKey{ID: rec.KeyID, Key: rec.Key, Salt: rec.Salt, CreatedAt: rec.CreatedAt}, nil
}

func (s *Store) CountMasterKeys(ctx context.Context) (int64, error) {
	return s.db.Collection(collMasterKeys).CountDocuments(ctx, bson.M{})
}

func (s *Store) UpsertDocumentType(ctx context.Context, dt domain.DocumentType) error {
	_, err := s.db.Collection(collDocTypes).UpdateOne(ctx,
		bson.M{"_id": dt.ID},
		bson.M{"$set": bson.M{"pid": dt.PID, "parts": dt.Parts}},
		options.Update().SetUpsert(true),
	)
	return err
}

func (s *Store) GetDocumentType(ctx context.Context, id string) (*domain.DocumentType, error) {
	dt := &domain.DocumentType{}
	err := s.db.Collection(collDocTypes).FindOne(ctx, bson.M{"_id": id}).Decode(dt)
	if err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return nil, nil
		}
		return nil, err
	}
	return dt, nil
}

// WriteBatch сохраняет пачку событий журнала доступа.
func (s *Store) WriteBatch(ctx context.Context, events []audit.AccessEvent) error {
	if len(events) == 0 {
		return nil
	}
	docs := make([]interface{}, 0, len(events))
	for _, e := range events {
		docs = append(docs, e)
	}
	_, err := s.db.Collection(collJournal).InsertMany(ctx, docs)
	return err
}

func isDuplicate(err error) bool {
	var wex mongo.WriteException
	if errors.As(err, &wex) {
		for _, we := range wex.WriteErrors {
			if we.Code == 11000 {
				return true
			}
		}
	}
	return false
}
