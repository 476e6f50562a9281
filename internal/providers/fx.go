package providers

import (
	"github.com/smallbiznis/alima/internal/providers/email"
	"github.com/smallbiznis/alima/internal/providers/pdf"
	"go.uber.org/fx"
)

var Module = fx.Module("providers",
	email.Module,
	pdf.Module,
)
