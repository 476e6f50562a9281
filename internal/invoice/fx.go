package invoice

import (
	"github.com/smallbiznis/alima/internal/invoice/repository"
	"github.com/smallbiznis/alima/internal/invoice/service"
	"go.uber.org/fx"
)

var Module = fx.Module("invoice.ledger",
	fx.Provide(repository.Provide),
	fx.Provide(service.New),
)
