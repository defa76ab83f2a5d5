package orders

import (
	"fmt"

	"github.com/angelmondragon/marketplace-backend/internal/inventory"
	"github.com/angelmondragon/marketplace-backend/internal/ledger"
	"github.com/angelmondragon/marketplace-backend/internal/products"
	"github.com/angelmondragon/marketplace-backend/pkg/config"
	"github.com/angelmondragon/marketplace-backend/pkg/db"
	"github.com/angelmondragon/marketplace-backend/pkg/logger"
	"github.com/angelmondragon/marketplace-backend/pkg/metrics"
	"github.com/angelmondragon/marketplace-backend/pkg/outbox"
)

// Dependencies are the process-level clients a binary hands to the order engine.
type Dependencies struct {
	Config  *config.Config
	DB      *db.Client
	Gateway PaymentGateway
	Metrics *metrics.OrderMetrics
	Logger  *logger.Logger
}

// Wire builds the order engine on top of one database client. The API, worker
// and cron binaries share it so they observe the same invariants.
func Wire(deps Dependencies) (*Service, error) {
	if deps.Config == nil || deps.DB == nil {
		return nil, fmt.Errorf("config and database client required")
	}
	conn := deps.DB.DB()
	ledgerSvc, err := ledger.NewService(ledger.NewRepository(conn))
	if err != nil {
		return nil, err
	}
	return NewService(ServiceParams{
		Repository: NewRepository(conn),
		Products:   products.NewRepository(conn),
		Inventory:  inventory.NewLedger(conn),
		Ledger:     ledgerSvc,
		Gateway:    deps.Gateway,
		Tx:         deps.DB,
		Outbox:     outbox.NewService(outbox.NewRepository(conn), deps.Logger),
		Metrics:    deps.Metrics,
		Logger:     deps.Logger,
		Config:     deps.Config.Orders,
		Currency:   deps.Config.Stripe.Currency,
	})
}
