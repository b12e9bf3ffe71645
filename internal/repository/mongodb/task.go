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

type taskDoc struct {
	ID                  string     `bson:"_id"`
	UserID              string     `bson:"user_id"`
	Title               string     `bson:"title"`
	Description         string     `bson:"description"`
	Category            string     `bson:"category"`
	Status              string     `bson:"status"`
	Priority            string     `bson:"priority"`
	XPReward            int        `bson:"xp_reward"`
	CompletionXP        int        `bson:"completion_xp"`
	CompletionXPAwarded bool       `bson:"completion_xp_awarded"`
	DueDate             *time.Time `bson:"due_date"`
	CompletedAt         *time.Time `bson:"completed_at"`
	CreatedAt           time.Time  `bson:"created_at"`
	UpdatedAt           time.Time  `bson:"updated_at"`
}

func toTaskDoc(t *model.Task) taskDoc {
	return taskDoc{
		ID:                  t.ID,
		UserID:              t.UserID,
		Title:               t.Title,
		Description:         t.Description,
		Category:            t.Category,
		Status:              string(t.Status),
		Priority:            string(t.Priority),
		XPReward:            t.XPReward,
		CompletionXP:        t.CompletionXP,
		CompletionXPAwarded: t.CompletionXPAwarded,
		DueDate:             t.DueDate,
		CompletedAt:         t.CompletedAt,
		CreatedAt:           t.CreatedAt,
		UpdatedAt:           t.UpdatedAt,
	}
}

func (d taskDoc) model() *model.Task {
	return &model.Task{
		ID:                  d.ID,
		UserID:              d.UserID,
		Title:               d.Title,
		Description:         d.Description,
		Category:            d.Category,
		Status:              model.TaskStatus(d.Status),
		Priority:            model.TaskPriority(d.Priority),
		XPReward:            d.XPReward,
		CompletionXP:        d.CompletionXP,
		CompletionXPAwarded: d.CompletionXPAwarded,
		DueDate:             utcPtr(d.DueDate),
		CompletedAt:         utcPtr(d.CompletedAt),
		CreatedAt:           d.CreatedAt.UTC(),
		UpdatedAt:           d.UpdatedAt.UTC(),
	}
}

func utcPtr(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	u := t.UTC()
	return &u
}

func (s *Store) CreateTask(ctx context.Context, task *model.Task) error {
	task.ID = xid.New().String()
	ts := now()
	task.CreatedAt = ts
	task.UpdatedAt = ts

	if _, err := s.tasks.InsertOne(ctx, toTaskDoc(task)); err != nil {
		return fmt.Errorf("mongodb: creating task: %w", err)
	}
	return nil
}

func (s *Store) GetTaskByID(ctx context.Context, id string) (*model.Task, error) {
	var doc taskDoc
	if err := s.tasks.FindOne(ctx, bson.M{"_id": id}).Decode(&doc); err != nil {
		if isNoDocuments(err) {
			return nil, apperror.NotFound("task", id)
		}
		return nil, fmt.Errorf("mongodb: getting task %s: %w", id, err)
	}
	return doc.model(), nil
}

func (s *Store) ListTasksByOwner(ctx context.Context, ownerID string, opts model.TaskListOptions) ([]model.Task, error) {
	filter := bson.M{"user_id": ownerID}
	if opts.Status != "" {
		filter["status"] = string(opts.Status)
	}
	if opts.Category != "" {
		filter["category"] = opts.Category
	}

	findOpts := options.Find().
		SetSort(bson.D{{Key: "created_at", Value: -1}, {Key: "_id", Value: -1}}).
		SetLimit(int64(repository.ClampTaskLimit(opts.Limit))).
		SetSkip(int64(repository.ClampOffset(opts.Offset)))

	cur, err := s.tasks.Find(ctx, filter, findOpts)
	if err != nil {
		return nil, fmt.Errorf("mongodb: listing tasks of %s: %w", ownerID, err)
	}
	var docs []taskDoc
	if err := cur.All(ctx, &docs); err != nil {
		return nil, fmt.Errorf("mongodb: decoding tasks: %w", err)
	}

	tasks := make([]model.Task, 0, len(docs))
	for _, d := range docs {
		tasks = append(tasks, *d.model())
	}
	return tasks, nil
}

func (s *Store) UpdateTask(ctx context.Context, task *model.Task) error {
	task.UpdatedAt = now()

	res, err := s.tasks.UpdateByID(ctx, task.ID, bson.M{"$set": bson.M{
		"title":                 task.Title,
		"description":           task.Description,
		"category":              task.Category,
		"status":                string(task.Status),
		"priority":              string(task.Priority),
		"xp_reward":             task.XPReward,
		"completion_xp":         task.CompletionXP,
		"completion_xp_awarded": task.CompletionXPAwarded,
		"due_date":              task.DueDate,
		"completed_at":          task.CompletedAt,
		"updated_at":            task.UpdatedAt,
	}})
	if err != nil {
		return fmt.Errorf("mongodb: updating task %s: %w", task.ID, err)
	}
	return notFoundIfUnmatched(res.MatchedCount, "task", task.ID)
}

func (s *Store) DeleteTask(ctx context.Context, id string) error {
	res, err := s.tasks.DeleteOne(ctx, bson.M{"_id": id})
	if err != nil {
		return fmt.Errorf("mongodb: deleting task %s: %w", id, err)
	}
	return notFoundIfUnmatched(res.DeletedCount, "task", id)
}
