package app

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"

	"github.com/odyssey-erp/odyssey-stock/internal/grn"
	"github.com/odyssey-erp/odyssey-stock/internal/inventory"
	"github.com/odyssey-erp/odyssey-stock/internal/issuance"
	"github.com/odyssey-erp/odyssey-stock/internal/procurement"
	"github.com/odyssey-erp/odyssey-stock/internal/reservation"
	"github.com/odyssey-erp/odyssey-stock/internal/shared"
)

// Services bundles the ledger processors shared by the API and the worker.
type Services struct {
	Inventory   *inventory.Service
	Procurement *procurement.Service
	Issuance    *issuance.Service
	Reservation *reservation.Service
}

// ServiceDeps collects what NewServices wires together.
type ServiceDeps struct {
	Pool     *pgxpool.Pool
	Counter  grn.Counter
	Notifier procurement.Notifier
	Metrics  inventory.Recorder
	Logger   *slog.Logger
}

// NewServices builds every processor over one pool and one audit logger.
func NewServices(deps ServiceDeps) *Services {
	audit := shared.NewAuditLogger(deps.Pool)
	return &Services{
		Inventory: inventory.NewService(inventory.NewRepository(deps.Pool), audit, deps.Metrics, deps.Logger),
		Procurement: procurement.NewService(procurement.NewRepository(deps.Pool), grn.NewGenerator(deps.Counter),
			deps.Notifier, audit, deps.Metrics, deps.Logger),
		Issuance:    issuance.NewService(issuance.NewRepository(deps.Pool), audit, deps.Metrics, deps.Logger),
		Reservation: reservation.NewService(reservation.NewRepository(deps.Pool), audit, deps.Metrics, deps.Logger),
	}
}

// NewGRNCounter selects the goods return number backend named by cfg. When
// both backends are reachable the selected one is first moved past the
// other, so changing GRN_COUNTER never reissues a number.
func NewGRNCounter(ctx context.Context, cfg *Config, pool *pgxpool.Pool, client redis.Cmdable) (grn.Counter, error) {
	var active, other grn.Sequence
	switch cfg.GRNCounter {
	case CounterPostgres:
		if pool == nil {
			return nil, fmt.Errorf("app: postgres GRN counter needs a pool")
		}
		active = grn.NewPostgresCounter(pool)
		if client != nil {
			other = grn.NewRedisCounter(client)
		}
	case CounterRedis:
		if client == nil {
			return nil, fmt.Errorf("app: redis GRN counter needs a redis client")
		}
		active = grn.NewRedisCounter(client)
		if pool != nil {
			other = grn.NewPostgresCounter(pool)
		}
	default:
		return nil, fmt.Errorf("app: unknown GRN counter %q", cfg.GRNCounter)
	}
	if other != nil {
		if err := grn.Align(ctx, active, other); err != nil {
			return nil, err
		}
	}
	return active, nil
}
