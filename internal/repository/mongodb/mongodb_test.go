package mongodb

import (
	"context"
	"errors"
	"os"
	"testing"

	"github.com/rs/xid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sakif/questlog/internal/repository"
	"github.com/sakif/questlog/internal/repository/repotest"
)

// Runs only against a live server, e.g.
// QUESTLOG_TEST_MONGO_URI=mongodb://localhost:27017 go test ./internal/repository/mongodb
func TestConformance(t *testing.T) {
	uri := os.Getenv("QUESTLOG_TEST_MONGO_URI")
	if uri == "" {
		t.Skip("QUESTLOG_TEST_MONGO_URI not set")
	}

	repotest.Run(t, func(t *testing.T) repository.Store {
		ctx := context.Background()
		s, err := Open(ctx, uri, "questlog_test_"+xid.New().String())
		require.NoError(t, err)
		t.Cleanup(func() {
			_ = s.Drop(context.Background())
			_ = s.Close()
		})
		return s
	})
}

func TestDuplicateField(t *testing.T) {
	_, ok := duplicateField(errors.New("connection reset"))
	assert.False(t, ok)
}

func TestNotFoundIfUnmatched(t *testing.T) {
	assert.NoError(t, notFoundIfUnmatched(1, "task", "t1"))
	assert.EqualError(t, notFoundIfUnmatched(0, "task", "t1"), "task not found with id t1")
}
