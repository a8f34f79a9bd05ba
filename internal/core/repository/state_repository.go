package repository

import (
	"context"
	"time"
	"trackcore/internal/core/model"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

type StateChangeRepository interface {
	Create(change *model.StateChange) error
	FindByDeviceID(deviceID string) ([]*model.StateChange, error)
	FindLatestByDeviceID(deviceID string) (*model.StateChange, error)
}

type MongoStateChangeRepository struct {
	collection *mongo.Collection
}

func NewMongoStateChangeRepository(db *mongo.Database) *MongoStateChangeRepository {
	return &MongoStateChangeRepository{
		collection: db.Collection("state_changes"),
	}
}

func (r *MongoStateChangeRepository) Create(change *model.StateChange) error {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	_, err := r.collection.InsertOne(ctx, change)
	return err
}

func (r *MongoStateChangeRepository) FindByDeviceID(deviceID string) ([]*model.StateChange, error) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	cursor, err := r.collection.Find(ctx, bson.M{"deviceid": deviceID})
	if err != nil {
		return nil, err
	}
	defer cursor.Close(ctx)

	var changes []*model.StateChange
	if err = cursor.All(ctx, &changes); err != nil {
		return nil, err
	}
	return changes, nil
}

func (r *MongoStateChangeRepository) FindLatestByDeviceID(deviceID string) (*model.StateChange, error) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	opts := options.FindOne().SetSort(bson.M{"timestamp": -1})
	var change model.StateChange
	err := r.collection.FindOne(ctx, bson.M{"deviceid": deviceID}, opts).Decode(&change)
	if err == mongo.ErrNoDocuments {
		return nil, nil
	}
	return &change, err
}
