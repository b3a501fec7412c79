package program_test

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tdameros/taskmaster-go/internal/config"
	"github.com/tdameros/taskmaster-go/internal/logging"
	"github.com/tdameros/taskmaster-go/internal/process"
	"github.com/tdameros/taskmaster-go/internal/program"
)

func twoReplicaCfg() config.ProgramConfig {
	return config.ProgramConfig{
		Command:            "sleep 3600",
		NumberOfProcess:    2,
		AutoStart:          false,
		AutoRestart:        config.AutoRestartNever,
		StartGraceSeconds:  0,
		StopSignal:         config.SIGTERM,
		StopGraceSeconds:   1,
		MaxRestartAttempts: 1,
	}
}

func TestNewBuildsConfiguredReplicaCount(t *testing.T) {
	p := program.New("web", twoReplicaCfg())
	assert.Len(t, p.Replicas(), 2)
}

func TestStartThenStartAgainIsPartialSuccess(t *testing.T) {
	p := program.New("web", twoReplicaCfg())
	require.NoError(t, p.Start())

	err := p.Start()
	require.Error(t, err)

	var agg *program.AggregateError
	require.ErrorAs(t, err, &agg)
	assert.Equal(t, program.PartialSuccess, agg.Kind)

	require.NoError(t, p.Stop())
}

func TestShouldBeKeptComparesConfigEquality(t *testing.T) {
	cfg := twoReplicaCfg()
	p := program.New("web", cfg)

	same := config.Config{"web": cfg}
	assert.True(t, p.ShouldBeKept(same))

	changed := cfg
	changed.NumberOfProcess = 3
	different := config.Config{"web": changed}
	assert.False(t, p.ShouldBeKept(different))

	assert.False(t, p.ShouldBeKept(config.Config{}))
}

func TestCleanInactiveDropsDeadReplicas(t *testing.T) {
	p := program.New("web", twoReplicaCfg())
	require.NoError(t, p.Start())

	for _, r := range p.Replicas() {
		require.NoError(t, r.SendSignal(config.SIGKILL))
	}
	require.Eventually(t, func() bool {
		for _, r := range p.Replicas() {
			require.NoError(t, r.UpdateState())
			if r.State() != process.Stopped {
				return false
			}
		}
		return true
	}, 2*time.Second, time.Millisecond)

	p.CleanInactive()
	assert.True(t, p.IsClean())
}

func TestShutdownAllNeverReturnsError(t *testing.T) {
	log := logging.NewDiscard()
	p := program.New("web", twoReplicaCfg())
	require.NoError(t, p.Start())
	p.ShutdownAll(log)
}
