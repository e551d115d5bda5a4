package sandbox

import (
	"context"
	"time"

	"go.uber.org/zap"
)

// probeTimeout bounds the one-shot availability check so a wedged container
// runtime cannot stall startup.
const probeTimeout = 5 * time.Second

// EngineAvailable reports whether the container engine responds to an info
// call. It is intended to be invoked once, at orchestrator construction;
// the answer is not re-checked per request.
func EngineAvailable(ctx context.Context, logger *zap.Logger, runner CommandRunner, engine string) bool {
	probeCtx, cancel := context.WithTimeout(ctx, probeTimeout)
	defer cancel()

	_, stderr, exitCode, err := runner.RunCommand(probeCtx, "", "", []string{engine, "info"})
	if err != nil {
		logger.Warn("container engine not available, falling back to local execution",
			zap.String("engine", engine), zap.Error(err))
		return false
	}
	if exitCode != 0 {
		logger.Warn("container engine not responding, falling back to local execution",
			zap.String("engine", engine), zap.String("stderr", stderr))
		return false
	}
	return true
}
