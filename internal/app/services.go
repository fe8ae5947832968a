package app

import (
	"log/slog"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"

	"github.com/orbit-erp/orbit/internal/fx"
	"github.com/orbit-erp/orbit/internal/ledger"
	"github.com/orbit-erp/orbit/internal/notify"
	"github.com/orbit-erp/orbit/internal/rbac"
	"github.com/orbit-erp/orbit/internal/sales"
	"github.com/orbit-erp/orbit/internal/shared"
)

// Services holds the domain services shared by the API and the worker.
type Services struct {
	FXRates     *fx.Repository
	FXCache     *fx.Cache
	FX          *fx.Service
	Ledger      *ledger.Service
	Sales       *sales.Service
	SalesOrders *sales.PGRepository
	RBAC        *rbac.Service
	Idempotency *shared.IdempotencyStore
}

// NewServices wires the services over PostgreSQL and Redis. The sales service
// is registered as the ledger's order hook so payment and invoice changes
// recompute the order in the same transaction.
func NewServices(cfg *Config, pool *pgxpool.Pool, client *redis.Client, logger *slog.Logger) *Services {
	fxRates := fx.NewRepository(pool)
	fxCache := fx.NewCache(client, cfg.FXCacheTTL)
	fxService := fx.NewService(fxRates, fxCache)

	ledgerService := ledger.NewService(ledger.NewRepository(pool), fxService, logger)
	idempotency := shared.NewIdempotencyStore(pool)

	salesOrders := sales.NewRepository(pool)
	salesService := sales.NewService(sales.Deps{
		Repo:        salesOrders,
		Ledger:      ledgerService,
		FX:          fxService,
		Approvals:   shared.NewApprovalRecorder(pool, logger),
		Audit:       shared.NewAuditLogger(pool),
		Idempotency: idempotency,
		Logger:      logger,
	}, sales.Config{
		Location:            cfg.Location(),
		OwnCompanyPartnerID: cfg.OwnCompanyPartnerID,
		CompanyCurrency:     cfg.CompanyCurrency,
	})
	ledgerService.SetOrderHook(salesService)

	return &Services{
		FXRates:     fxRates,
		FXCache:     fxCache,
		FX:          fxService,
		Ledger:      ledgerService,
		Sales:       salesService,
		SalesOrders: salesOrders,
		RBAC:        rbac.NewService(rbac.NewStore(pool)),
		Idempotency: idempotency,
	}
}

// NewNotifier builds the reminder dispatcher delivering through outbox.
func NewNotifier(cfg *Config, client *redis.Client, outbox notify.Outbox, logger *slog.Logger) *notify.Dispatcher {
	return notify.NewDispatcher(client, notify.NewRenderer(cfg.CompanyName), outbox, cfg.Location(), logger)
}
