package manager_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tdameros/taskmaster-go/internal/config"
	"github.com/tdameros/taskmaster-go/internal/logging"
	"github.com/tdameros/taskmaster-go/internal/manager"
	"github.com/tdameros/taskmaster-go/internal/program"
)

func baseCfg() config.Config {
	return config.Config{
		"a": config.ProgramConfig{
			Command:         "sleep 3600",
			NumberOfProcess: 1,
			AutoRestart:     config.AutoRestartNever,
			StopSignal:      config.SIGTERM,
		},
		"b": config.ProgramConfig{
			Command:         "sleep 3600",
			NumberOfProcess: 1,
			AutoRestart:     config.AutoRestartNever,
			StopSignal:      config.SIGTERM,
		},
	}
}

func TestNewPopulatesProgramsFromConfig(t *testing.T) {
	m := manager.New(baseCfg(), logging.NewDiscard())
	status := m.GetStatus()
	assert.Len(t, status, 2)
}

func TestStartStopUnknownProgramReturnsNotFound(t *testing.T) {
	m := manager.New(baseCfg(), logging.NewDiscard())
	err := m.StartProgram("missing")
	require.ErrorIs(t, err, program.ErrNotFound)

	err = m.StopProgram("missing")
	require.ErrorIs(t, err, program.ErrNotFound)
}

func TestReloadRetainsEqualPrograms(t *testing.T) {
	cfg := baseCfg()
	m := manager.New(cfg, logging.NewDiscard())
	require.NoError(t, m.StartProgram("a"))

	newCfg := config.Config{
		"a": cfg["a"],
		"b": config.ProgramConfig{
			Command:         "sleep 3600",
			NumberOfProcess: 1,
			AutoRestart:     config.AutoRestartNever,
			StopSignal:      config.SIGTERM,
			StdoutRedirect:  "/tmp/changed",
		},
	}
	m.ReloadConfig(newCfg)

	var agg *program.AggregateError
	assert.ErrorAs(t, m.StartProgram("a"), &agg, "a's single replica should still be active after surviving reload")
}

func TestSubscribeRequiresAtLeastOneReplica(t *testing.T) {
	cfg := config.Config{"empty": config.ProgramConfig{
		Command:     "sleep 3600",
		AutoRestart: config.AutoRestartNever,
		StopSignal:  config.SIGTERM,
	}}
	m := manager.New(cfg, logging.NewDiscard())

	_, err := m.Subscribe("empty")
	require.ErrorIs(t, err, manager.ErrNoReplicas)

	_, err = m.Subscribe("missing")
	require.ErrorIs(t, err, program.ErrNotFound)
}
