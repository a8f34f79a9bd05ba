package repository

import (
	"context"
	"time"
	"trackcore/internal/core/model"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
)

type RawFrameRepository interface {
	Create(frame *model.RawFrame) error
	UpdateStatus(id, status, detail string) error
	Delete(id string) error
	DeleteBySource(source string) (int64, error)
	FindByStatus(status string) ([]*model.RawFrame, error)
}

type MongoRawFrameRepository struct {
	collection *mongo.Collection
}

func NewMongoRawFrameRepository(db *mongo.Database) *MongoRawFrameRepository {
	return &MongoRawFrameRepository{
		collection: db.Collection("raw_frames"),
	}
}

func (r *MongoRawFrameRepository) Create(frame *model.RawFrame) error {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	_, err := r.collection.InsertOne(ctx, frame)
	return err
}

func (r *MongoRawFrameRepository) UpdateStatus(id, status, detail string) error {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	update := bson.M{"$set": bson.M{"status": status, "detail": detail}}
	_, err := r.collection.UpdateOne(ctx, bson.M{"id": id}, update)
	return err
}

func (r *MongoRawFrameRepository) Delete(id string) error {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	_, err := r.collection.DeleteOne(ctx, bson.M{"id": id})
	return err
}

// DeleteBySource purges all frames recorded for one source. Used when the
// source lands on the denylist.
func (r *MongoRawFrameRepository) DeleteBySource(source string) (int64, error) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	res, err := r.collection.DeleteMany(ctx, bson.M{"source": source})
	if err != nil {
		return 0, err
	}
	return res.DeletedCount, nil
}

func (r *MongoRawFrameRepository) FindByStatus(status string) ([]*model.RawFrame, error) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	cursor, err := r.collection.Find(ctx, bson.M{"status": status})
	if err != nil {
		return nil, err
	}
	defer cursor.Close(ctx)

	var frames []*model.RawFrame
	if err = cursor.All(ctx, &frames); err != nil {
		return nil, err
	}
	return frames, nil
}
