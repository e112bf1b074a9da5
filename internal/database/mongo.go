package database

import (
	"context"
	"fmt"
	"time"

	"invitegate/entity"
	"invitegate/internal/config"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

const (
	collectionDailyStats  = "daily_channel_stats"
	collectionMaintenance = "maintenance_reports"
)

// MongoDB is an optional archive for derived reports. It never holds
// credential state.
type MongoDB struct {
	clientOptions *options.ClientOptions
	database      string
}

func NewMongoClient(conf *config.Config) *MongoDB {
	if !conf.Mongo.Enabled {
		return nil
	}
	connectionUri := fmt.Sprintf("mongodb://%s:%s", conf.Mongo.Host, conf.Mongo.Port)
	clientOptions := options.Client().ApplyURI(connectionUri).SetConnectTimeout(10 * time.Second)
	if conf.Mongo.User != "" {
		clientOptions.SetAuth(options.Credential{
			Username:   conf.Mongo.User,
			Password:   conf.Mongo.Password,
			AuthSource: conf.Mongo.Database,
		})
	}
	return &MongoDB{
		clientOptions: clientOptions,
		database:      conf.Mongo.Database,
	}
}

func (m *MongoDB) connect(ctx context.Context) (*mongo.Client, error) {
	connection, err := mongo.Connect(ctx, m.clientOptions)
	if err != nil {
		return nil, fmt.Errorf("mongodb connect: %w", err)
	}
	return connection, nil
}

func (m *MongoDB) disconnect(ctx context.Context, connection *mongo.Client) {
	_ = connection.Disconnect(ctx)
}

// ArchiveDailyStats upserts recomputed rows keyed by channel and day
func (m *MongoDB) ArchiveDailyStats(ctx context.Context, stats []entity.DailyChannelStat) error {
	if len(stats) == 0 {
		return nil
	}
	connection, err := m.connect(ctx)
	if err != nil {
		return err
	}
	defer m.disconnect(ctx, connection)

	collection := connection.Database(m.database).Collection(collectionDailyStats)
	opts := options.Update().SetUpsert(true)
	for _, st := range stats {
		filter := bson.D{{Key: "channel_id", Value: st.ChannelId}, {Key: "day", Value: st.Day}}
		update := bson.D{{Key: "$set", Value: st}}
		if _, err = collection.UpdateOne(ctx, filter, update, opts); err != nil {
			return fmt.Errorf("mongodb upsert: %w", err)
		}
	}
	return nil
}

// SaveReport stores one maintenance run summary
func (m *MongoDB) SaveReport(ctx context.Context, report interface{}) error {
	connection, err := m.connect(ctx)
	if err != nil {
		return err
	}
	defer m.disconnect(ctx, connection)

	collection := connection.Database(m.database).Collection(collectionMaintenance)
	_, err = collection.InsertOne(ctx, report)
	return err
}
