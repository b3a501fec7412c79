package supervisor_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/tdameros/taskmaster-go/internal/config"
	"github.com/tdameros/taskmaster-go/internal/logging"
	"github.com/tdameros/taskmaster-go/internal/manager"
	"github.com/tdameros/taskmaster-go/internal/supervisor"
)

func TestLoopSpawnsAutoStartProgramsWithinFewTicks(t *testing.T) {
	cfg := config.Config{
		"web": config.ProgramConfig{
			Command:           "sleep 3600",
			NumberOfProcess:   1,
			AutoStart:         true,
			AutoRestart:       config.AutoRestartNever,
			StartGraceSeconds: 0,
			StopSignal:        config.SIGTERM,
		},
	}
	m := manager.New(cfg, logging.NewDiscard())
	loop := supervisor.New(m, 10*time.Millisecond)

	ctx, cancel := context.WithTimeout(context.Background(), 200*time.Millisecond)
	defer cancel()
	go loop.Run(ctx)

	require.Eventually(t, func() bool {
		m.Mu.RLock()
		defer m.Mu.RUnlock()
		status := m.GetStatus()
		return len(status) == 1 && status[0].Status[0].PID != nil
	}, time.Second, 10*time.Millisecond)
}
