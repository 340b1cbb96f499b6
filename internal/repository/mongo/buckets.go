package mongo

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/xela07ax/clearing-house/internal/domain"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

// AppendDocument дописывает документ в открытый бакет процесса.
// Фильтр fill < capacity входит в ту же команду, что и $push, так что
// переполнение бакета конкурентной записью исключено. Гонка двух писателей,
// одновременно открывающих новый бакет, ловится дубликатом _id; если бакеты
// всё же открылись в разные миллисекунды, сортировка from_ts по возрастанию
// сначала дополняет более старый, и лишний бакет быстро закрывается.
// Пересечение интервалов таких бакетов допустимо: выборка идет по
// пересечению [from_ts, to_ts] с окном запроса.
func (s *Store) AppendDocument(ctx context.Context, doc domain.Document) error {
	coll := s.db.Collection(collBuckets)

	for attempt := 0; attempt < 3; attempt++ {
		res := coll.FindOneAndUpdate(ctx,
			bson.M{"pid": doc.PID, "$expr": bson.M{"$lt": bson.A{"$fill", "$capacity"}}},
			bson.M{
				"$push": bson.M{"documents": doc},
				"$inc":  bson.M{"fill": 1},
				"$max":  bson.M{"to_ts": doc.TS},
			},
			options.FindOneAndUpdate().SetSort(bson.D{{Key: "from_ts", Value: 1}}),
		)
		err := res.Err()
		if err == nil {
			return nil
		}
		if !errors.Is(err, mongo.ErrNoDocuments) {
			return err
		}

		// Открытого бакета нет — заводим новый с этим документом.
		_, err = coll.InsertOne(ctx, domain.Bucket{
			ID:        domain.BucketID(doc.PID, doc.TS),
			PID:       doc.PID,
			Fill:      1,
			Capacity:  domain.MaxBucketSize,
			FromTS:    doc.TS,
			ToTS:      doc.TS,
			Documents: []domain.Document{doc},
		})
		if err == nil {
			return nil
		}
		if !isDuplicate(err) {
			return err
		}
		// Конкурент открыл бакет первым — повторяем update.
	}
	return fmt.Errorf("mongo: bucket append contention for pid %s", doc.PID)
}

func (s *Store) GetByTC(ctx context.Context, tc int64) (*domain.Document, error) {
	return s.findDocument(ctx, bson.M{"documents.tc": tc}, func(d domain.Document) bool {
		return d.TC == tc
	})
}

func (s *Store) GetDocument(ctx context.Context, pid, docID string) (*domain.Document, error) {
	return s.findDocument(ctx, bson.M{"pid": pid, "documents.id": docID}, func(d domain.Document) bool {
		return d.ID == docID
	})
}

func (s *Store) findDocument(ctx context.Context, filter bson.M, match func(domain.Document) bool) (*domain.Document, error) {
	var b domain.Bucket
	err := s.db.Collection(collBuckets).FindOne(ctx, filter).Decode(&b)
	if err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return nil, nil
		}
		return nil, err
	}
	for i := range b.Documents {
		if match(b.Documents[i]) {
			return &b.Documents[i], nil
		}
	}
	return nil, nil
}

// RemoveDocument — компенсация неудачной записи.
func (s *Store) RemoveDocument(ctx context.Context, pid, docID string) error {
	_, err := s.db.Collection(collBuckets).UpdateOne(ctx,
		bson.M{"pid": pid, "documents.id": docID},
		bson.M{
			"$pull": bson.M{"documents": bson.M{"id": docID}},
			"$inc":  bson.M{"fill": -1},
		},
	)
	return err
}

func (s *Store) FirstBucket(ctx context.Context, pid string, order domain.SortOrder, from, to time.Time) (*domain.Bucket, error) {
	list, err := s.Buckets(ctx, pid, order, from, to, 0, 1)
	if err != nil || len(list) == 0 {
		return nil, err
	}
	return &list[0], nil
}

func (s *Store) Buckets(ctx context.Context, pid string, order domain.SortOrder, from, to time.Time, skip, limit int) ([]domain.Bucket, error) {
	dir := 1
	if order == domain.SortDesc {
		dir = -1
	}
	// Бакет попадает в выборку, если его интервал задевает [from, to]
	filter := bson.M{
		"pid":     pid,
		"from_ts": bson.M{"$lte": to},
		"to_ts":   bson.M{"$gte": from},
	}
	opts := options.Find().
		SetSort(bson.D{{Key: "from_ts", Value: dir}}).
		SetSkip(int64(skip)).
		SetLimit(int64(limit))

	cur, err := s.db.Collection(collBuckets).Find(ctx, filter, opts)
	if err != nil {
		return nil, err
	}
	defer cur.Close(ctx)

	var results []domain.Bucket
	if err := cur.All(ctx, &results); err != nil {
		return nil, err
	}
	return results, nil
}

// DocumentsByTC постранично отдает глобальный лог для верификации цепочки.
func (s *Store) DocumentsByTC(ctx context.Context, fromTC int64, limit int) ([]domain.Document, error) {
	pipeline := mongo.Pipeline{
		{{Key: "$unwind", Value: "$documents"}},
		{{Key: "$match", Value: bson.M{"documents.tc": bson.M{"$gte": fromTC}}}},
		{{Key: "$sort", Value: bson.D{{Key: "documents.tc", Value: 1}}}},
		{{Key: "$limit", Value: int64(limit)}},
		{{Key: "$replaceRoot", Value: bson.M{"newRoot": "$documents"}}},
	}
	cur, err := s.db.Collection(collBuckets).Aggregate(ctx, pipeline)
	if err != nil {
		return nil, err
	}
	defer cur.Close(ctx)

	var results []domain.Document
	if err := cur.All(ctx, &results); err != nil {
		return nil, err
	}
	return results, nil
}

func (s *Store) DeleteProcessData(ctx context.Context, pid string) error {
	_, err := s.db.Collection(collBuckets).DeleteMany(ctx, bson.M{"pid": pid})
	return err
}
