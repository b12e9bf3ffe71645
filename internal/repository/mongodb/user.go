package mongodb

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/xid"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo/options"

	"github.com/sakif/questlog/internal/apperror"
	"github.com/sakif/questlog/internal/model"
	"github.com/sakif/questlog/internal/repository"
)

type userDoc struct {
	ID           string    `bson:"_id"`
	Username     string    `bson:"username"`
	Email        string    `bson:"email"`
	PasswordHash string    `bson:"password_hash"`
	Level        int       `bson:"level"`
	XP           int       `bson:"xp"`
	CreatedAt    time.Time `bson:"created_at"`
	UpdatedAt    time.Time `bson:"updated_at"`
}

func toUserDoc(u *model.User) userDoc {
	return userDoc{
		ID:           u.ID,
		Username:     u.Username,
		Email:        u.Email,
		PasswordHash: u.PasswordHash,
		Level:        u.Level,
		XP:           u.XP,
		CreatedAt:    u.CreatedAt,
		UpdatedAt:    u.UpdatedAt,
	}
}

func (d userDoc) model() *model.User {
	return &model.User{
		ID:           d.ID,
		Username:     d.Username,
		Email:        d.Email,
		PasswordHash: d.PasswordHash,
		Level:        d.Level,
		XP:           d.XP,
		CreatedAt:    d.CreatedAt.UTC(),
		UpdatedAt:    d.UpdatedAt.UTC(),
	}
}

func (s *Store) CreateUser(ctx context.Context, user *model.User) error {
	user.ID = xid.New().String()
	ts := now()
	user.CreatedAt = ts
	user.UpdatedAt = ts
	if user.Level < 1 {
		user.Level = 1
	}

	if _, err := s.users.InsertOne(ctx, toUserDoc(user)); err != nil {
		if field, ok := duplicateField(err); ok {
			return apperror.Conflict("user", field)
		}
		return fmt.Errorf("mongodb: creating user: %w", err)
	}
	return nil
}

func (s *Store) GetUserByID(ctx context.Context, id string) (*model.User, error) {
	return s.findUser(ctx, bson.M{"_id": id}, id)
}

func (s *Store) GetUserByEmail(ctx context.Context, email string) (*model.User, error) {
	return s.findUser(ctx, bson.M{"email": email}, email)
}

func (s *Store) GetUserByUsername(ctx context.Context, username string) (*model.User, error) {
	return s.findUser(ctx, bson.M{"username": username}, username)
}

func (s *Store) findUser(ctx context.Context, filter bson.M, key string) (*model.User, error) {
	var doc userDoc
	if err := s.users.FindOne(ctx, filter).Decode(&doc); err != nil {
		if isNoDocuments(err) {
			return nil, apperror.NotFound("user", key)
		}
		return nil, fmt.Errorf("mongodb: finding user %s: %w", key, err)
	}
	return doc.model(), nil
}

func (s *Store) UpdateUser(ctx context.Context, user *model.User) error {
	user.UpdatedAt = now()

	res, err := s.users.UpdateByID(ctx, user.ID, bson.M{"$set": bson.M{
		"username":      user.Username,
		"email":         user.Email,
		"password_hash": user.PasswordHash,
		"updated_at":    user.UpdatedAt,
	}})
	if err != nil {
		if field, ok := duplicateField(err); ok {
			return apperror.Conflict("user", field)
		}
		return fmt.Errorf("mongodb: updating user %s: %w", user.ID, err)
	}
	return notFoundIfUnmatched(res.MatchedCount, "user", user.ID)
}

func (s *Store) UpdateProgress(ctx context.Context, id string, level, xp int) error {
	res, err := s.users.UpdateByID(ctx, id, bson.M{"$set": bson.M{
		"level":      level,
		"xp":         xp,
		"updated_at": now(),
	}})
	if err != nil {
		return fmt.Errorf("mongodb: updating progress of user %s: %w", id, err)
	}
	return notFoundIfUnmatched(res.MatchedCount, "user", id)
}

func (s *Store) Leaderboard(ctx context.Context, limit int) ([]model.User, error) {
	limit = repository.ClampLeaderboardLimit(limit)

	opts := options.Find().
		SetSort(bson.D{
			{Key: "level", Value: -1},
			{Key: "xp", Value: -1},
			{Key: "created_at", Value: 1},
			{Key: "_id", Value: 1},
		}).
		SetLimit(int64(limit))

	cur, err := s.users.Find(ctx, bson.M{}, opts)
	if err != nil {
		return nil, fmt.Errorf("mongodb: querying leaderboard: %w", err)
	}
	var docs []userDoc
	if err := cur.All(ctx, &docs); err != nil {
		return nil, fmt.Errorf("mongodb: decoding leaderboard: %w", err)
	}

	users := make([]model.User, 0, len(docs))
	for _, d := range docs {
		users = append(users, *d.model())
	}
	return users, nil
}
