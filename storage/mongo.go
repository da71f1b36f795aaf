package storage

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/lmittmann/tint"
	"go.mongodb.org/mongo-driver/v2/bson"
	"go.mongodb.org/mongo-driver/v2/mongo"
	"go.mongodb.org/mongo-driver/v2/mongo/options"
)

type MongoDB struct {
	URI    string
	DBName string

	client   *mongo.Client
	warnings *mongo.Collection
	cases    *mongo.Collection
	xp       *mongo.Collection
}

func (m *MongoDB) Init(ctx context.Context) error {
	if m.URI == "" || m.DBName == "" {
		return fmt.Errorf("database.mongodb.uri and database.mongodb.database must be set to use driver=mongodb")
	}

	ctx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	client, err := mongo.Connect(options.Client().ApplyURI(m.URI))
	if err != nil {
		return fmt.Errorf("connect: %w", err)
	}
	if err := client.Ping(ctx, nil); err != nil {
		_ = client.Disconnect(context.Background())
		return fmt.Errorf("ping: %w", err)
	}

	mdb := client.Database(m.DBName)
	m.client = client
	m.warnings = mdb.Collection("warnings")
	m.cases = mdb.Collection("mod_cases")
	m.xp = mdb.Collection("xp")

	indexes := []struct {
		coll  *mongo.Collection
		model mongo.IndexModel
	}{
		{m.warnings, mongo.IndexModel{Keys: bson.D{{Key: "guild_id", Value: 1}, {Key: "user_id", Value: 1}}}},
		{m.cases, mongo.IndexModel{Keys: bson.D{{Key: "guild_id", Value: 1}, {Key: "user_id", Value: 1}, {Key: "id", Value: -1}}}},
		{m.xp, mongo.IndexModel{
			Keys:    bson.D{{Key: "guild_id", Value: 1}, {Key: "user_id", Value: 1}},
			Options: options.Index().SetUnique(true),
		}},
		{m.xp, mongo.IndexModel{Keys: bson.D{{Key: "guild_id", Value: 1}, {Key: "xp", Value: -1}}}},
	}
	for _, idx := range indexes {
		if _, err := idx.coll.Indexes().CreateOne(ctx, idx.model); err != nil {
			slog.Warn("mongodb index creation failed", tint.Err(err), "collection", idx.coll.Name())
		}
	}

	slog.Info("database ready", "driver", "mongodb", "database", m.DBName)
	return nil
}

func (m *MongoDB) Close() error {
	if m.client == nil {
		return nil
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return m.client.Disconnect(ctx)
}

func (m *MongoDB) nextID(ctx context.Context, coll *mongo.Collection, filter bson.M) (int, error) {
	n, err := coll.CountDocuments(ctx, filter)
	if err != nil {
		return 0, err
	}
	return int(n) + 1, nil
}

func (m *MongoDB) AddWarning(ctx context.Context, w Warning) error {
	id, err := m.nextID(ctx, m.warnings, bson.M{"guild_id": w.GuildID})
	if err != nil {
		return err
	}
	w.ID = id
	_, err = m.warnings.InsertOne(ctx, w)
	return err
}

func (m *MongoDB) GetWarnings(ctx context.Context, guildID, userID string) ([]Warning, error) {
	cursor, err := m.warnings.Find(ctx,
		bson.M{"guild_id": guildID, "user_id": userID},
		options.Find().SetSort(bson.D{{Key: "id", Value: 1}}),
	)
	if err != nil {
		return nil, err
	}
	defer cursor.Close(ctx)

	var warns []Warning
	if err := cursor.All(ctx, &warns); err != nil {
		return nil, err
	}
	return warns, nil
}

func (m *MongoDB) ClearWarnings(ctx context.Context, guildID, userID string) (int, error) {
	res, err := m.warnings.DeleteMany(ctx, bson.M{"guild_id": guildID, "user_id": userID})
	if err != nil {
		return 0, err
	}
	return int(res.DeletedCount), nil
}

func (m *MongoDB) AddModCase(ctx context.Context, c ModCase) error {
	id, err := m.nextID(ctx, m.cases, bson.M{"guild_id": c.GuildID})
	if err != nil {
		return err
	}
	c.ID = id
	_, err = m.cases.InsertOne(ctx, c)
	return err
}

func (m *MongoDB) GetModCases(ctx context.Context, guildID, userID string, limit int) ([]ModCase, error) {
	cursor, err := m.cases.Find(ctx,
		bson.M{"guild_id": guildID, "user_id": userID},
		options.Find().SetSort(bson.D{{Key: "id", Value: -1}}).SetLimit(int64(limit)),
	)
	if err != nil {
		return nil, err
	}
	defer cursor.Close(ctx)

	var cases []ModCase
	if err := cursor.All(ctx, &cases); err != nil {
		return nil, err
	}
	return cases, nil
}

func (m *MongoDB) GetXP(ctx context.Context, guildID, userID string) (XPRecord, error) {
	rec := XPRecord{GuildID: guildID, UserID: userID}
	err := m.xp.FindOne(ctx, bson.M{"guild_id": guildID, "user_id": userID}).Decode(&rec)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return XPRecord{GuildID: guildID, UserID: userID}, nil
	}
	return rec, err
}

func (m *MongoDB) SaveXP(ctx context.Context, rec XPRecord) error {
	_, err := m.xp.ReplaceOne(
		ctx,
		bson.M{"guild_id": rec.GuildID, "user_id": rec.UserID},
		rec,
		options.Replace().SetUpsert(true),
	)
	return err
}

func (m *MongoDB) TopXP(ctx context.Context, guildID string, limit int) ([]XPRecord, error) {
	cursor, err := m.xp.Find(ctx,
		bson.M{"guild_id": guildID, "xp": bson.M{"$gt": 0}},
		options.Find().SetSort(bson.D{{Key: "xp", Value: -1}, {Key: "user_id", Value: 1}}).SetLimit(int64(limit)),
	)
	if err != nil {
		return nil, err
	}
	defer cursor.Close(ctx)

	var out []XPRecord
	if err := cursor.All(ctx, &out); err != nil {
		return nil, err
	}
	return out, nil
}

func (m *MongoDB) XPRank(ctx context.Context, guildID, userID string) (int, error) {
	rec, err := m.GetXP(ctx, guildID, userID)
	if err != nil || rec.XP <= 0 {
		return 0, err
	}
	ahead, err := m.xp.CountDocuments(ctx, bson.M{
		"guild_id": guildID,
		"$or": bson.A{
			bson.M{"xp": bson.M{"$gt": rec.XP}},
			bson.M{"xp": rec.XP, "user_id": bson.M{"$lt": userID}},
		},
	})
	if err != nil {
		return 0, err
	}
	return int(ahead) + 1, nil
}
