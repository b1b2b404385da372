package metrics

import (
	"go.uber.org/zap"

	"github.com/rocketbitz/briefkasten/queue"
)

// zap.SugaredLogger's Debugf/Debugw methods already match
// queue.Logger/queue.StructuredLogger structurally; these assertions
// exist so a signature drift in either interface fails to compile here
// rather than surfacing only when a caller wires one up.
var (
	_ queue.Logger           = (*zap.SugaredLogger)(nil)
	_ queue.StructuredLogger = (*zap.SugaredLogger)(nil)
)

// NewZapLogger sugars logger so it can be passed to
// queue.Builder.WithLogger/WithStructuredLogger directly.
func NewZapLogger(logger *zap.Logger) *zap.SugaredLogger {
	return logger.Sugar()
}
