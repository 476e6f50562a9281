package billingrunner

import (
	"github.com/smallbiznis/alima/internal/billingrunner/service"
	"go.uber.org/fx"
)

var Module = fx.Module("billingrunner",
	fx.Provide(service.New),
)
