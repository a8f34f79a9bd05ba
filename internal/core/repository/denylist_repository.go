package repository

import (
	"context"
	"time"
	"trackcore/internal/core/model"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
)

type DenylistRepository interface {
	Create(entry *model.DenylistEntry) error
	IsDenied(source string) (bool, error)
	FindAll() ([]*model.DenylistEntry, error)
}

type MongoDenylistRepository struct {
	collection *mongo.Collection
}

func NewMongoDenylistRepository(db *mongo.Database) *MongoDenylistRepository {
	return &MongoDenylistRepository{
		collection: db.Collection("denylist"),
	}
}

func (r *MongoDenylistRepository) Create(entry *model.DenylistEntry) error {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	_, err := r.collection.InsertOne(ctx, entry)
	return err
}

func (r *MongoDenylistRepository) IsDenied(source string) (bool, error) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	err := r.collection.FindOne(ctx, bson.M{"source": source}).Err()
	if err == mongo.ErrNoDocuments {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return true, nil
}

func (r *MongoDenylistRepository) FindAll() ([]*model.DenylistEntry, error) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	cursor, err := r.collection.Find(ctx, bson.M{})
	if err != nil {
		return nil, err
	}
	defer cursor.Close(ctx)

	var entries []*model.DenylistEntry
	if err = cursor.All(ctx, &entries); err != nil {
		return nil, err
	}
	return entries, nil
}
