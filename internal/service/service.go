// Package service contains the business rules of questlog.
//
// Handlers parse HTTP and call a service; services validate input, enforce
// ownership, run the progression rule and talk to the repository through its
// interfaces. Nothing in this package knows about HTTP: failures are
// apperror values that the handler layer maps to status codes.
//
//	Handler (HTTP) → UserService / TaskService → repository.Store
//	                                           ↘ events.Publisher
package service

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/sakif/questlog/internal/events"
	"github.com/sakif/questlog/internal/model"
	"github.com/sakif/questlog/internal/progression"
	"github.com/sakif/questlog/internal/repository"
)

// settle puts a user back inside the curve (0 <= xp < threshold) and fills
// in XPToNextLevel. A stored state that no longer fits, for instance after
// the curve was reconfigured, is rolled forward and written back.
func settle(ctx context.Context, users repository.UserRepository, curve progression.Curve, u *model.User) (*model.User, error) {
	r := progression.Normalize(curve, progression.State{Level: u.Level, XP: u.XP})
	if r.Level != u.Level || r.XP != u.XP {
		if err := users.UpdateProgress(ctx, u.ID, r.Level, r.XP); err != nil {
			return nil, fmt.Errorf("service: settling progress for %s: %w", u.ID, err)
		}
	}
	u.Level, u.XP, u.XPToNextLevel = r.Level, r.XP, r.Threshold
	return u, nil
}

// publish sends e and logs a failure. Event delivery never fails the
// operation that produced it.
func publish(ctx context.Context, p events.Publisher, logger *slog.Logger, e events.Event) {
	if p == nil {
		return
	}
	if err := p.Publish(ctx, e); err != nil {
		logger.Warn("failed to publish event",
			slog.String("type", string(e.Type)),
			slog.String("user_id", e.UserID),
			slog.String("error", err.Error()),
		)
	}
}
