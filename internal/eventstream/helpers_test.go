package eventstream

import (
	"io"
	"log/slog"
	"time"

	"github.com/driftwatch/driftwatch/internal/config"
)

func defaultWatch() config.Watch {
	return config.Watch{BranchInterval: 50 * time.Millisecond}
}

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}
