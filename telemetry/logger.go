package telemetry

import (
	"sync"

	"github.com/itsneelabh/gomind-refine/core"
)

// GetLogger returns the telemetry package's own logger, used for
// self-diagnostics (initialization, shutdown, dropped metrics). It shares
// core.ProductionLogger's console/metrics-emission layering rather than
// duplicating it.
var (
	pkgLogger     core.Logger
	pkgLoggerOnce sync.Once
)

func GetLogger() core.Logger {
	pkgLoggerOnce.Do(func() {
		pkgLogger = core.NewProductionLogger("telemetry")
	})
	return pkgLogger
}
