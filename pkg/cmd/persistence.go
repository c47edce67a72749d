package cmd

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/dukex/convoflow/pkg/persistence"
	"github.com/dukex/convoflow/pkg/persistence/file"
	"github.com/dukex/convoflow/pkg/persistence/memory"
	"github.com/dukex/convoflow/pkg/persistence/postgresql"
	"github.com/dukex/convoflow/pkg/persistence/redis"
)

var ErrUnsupportedProvider = errors.New("unsupported provider")

// NewPersistence picks a backend from the URL scheme. A bare path means file.
func NewPersistence(ctx context.Context, logger *slog.Logger, databaseURL string) (persistence.Persistence, error) {
	provider, rest := parsePersistenceProvider(databaseURL)

	switch provider {
	case "memory":
		return memory.NewPersistence(), nil
	case "postgres", "postgresql":
		return postgresql.NewPersistence(ctx, logger, databaseURL)
	case "file":
		if rest == "" {
			return nil, fmt.Errorf("%w: file persistence needs a path", ErrUnsupportedProvider)
		}

		return file.NewPersistence(rest), nil
	default:
		return nil, fmt.Errorf("%w: persistence %q", ErrUnsupportedProvider, provider)
	}
}

// NewFlowRepository serves flows from flowsPath when set, otherwise from p.
func NewFlowRepository(p persistence.Persistence, flowsPath string) persistence.FlowRepository {
	if flowsPath == "" {
		return p.FlowRepository()
	}

	return file.NewPersistence(flowsPath)
}

// NewTimerStore returns the redis timer store for redis:// URLs and the
// persistence backend's own store when url is empty.
func NewTimerStore(ctx context.Context, url string, p persistence.Persistence) (persistence.TimerStore, error) {
	switch {
	case url == "":
		return p.TimerStore(), nil
	case strings.HasPrefix(url, "redis://"), strings.HasPrefix(url, "rediss://"):
		return redis.NewTimerStore(ctx, url, "")
	default:
		return nil, fmt.Errorf("%w: timer store %q", ErrUnsupportedProvider, url)
	}
}

func parsePersistenceProvider(databaseURL string) (string, string) {
	provider, rest, found := strings.Cut(databaseURL, "://")
	if !found {
		return "file", databaseURL
	}

	return provider, rest
}
