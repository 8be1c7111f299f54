package ktask_test

import (
	"bytes"
	"context"
	"io"
	"log"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/viant/afs"
	"github.com/viant/ktask"
	"github.com/viant/ktask/program"
	"github.com/viant/ktask/service/event"
)

func newConfig(t *testing.T, cpus int) *ktask.Config {
	cfg := ktask.DefaultConfig()
	cfg.CPUs = cpus
	cfg.Tasks.Quantum = 10
	cfg.Log.EventBuffer = 4096
	cfg.VFS.BaseURL = "mem://localhost/ktask/" + t.Name()
	return cfg
}

func newService(t *testing.T, cfg *ktask.Config, out io.Writer, options ...ktask.Option) *ktask.Service {
	options = append([]ktask.Option{
		ktask.WithConfig(cfg),
		ktask.WithConsoleWriter(out),
		ktask.WithLogger(log.New(io.Discard, "", 0)),
	}, options...)
	srv, err := ktask.New(context.Background(), options...)
	require.NoError(t, err)
	t.Cleanup(func() { _ = srv.Close(context.Background()) })
	return srv
}

func tick(t *testing.T, srv *ktask.Service, rounds int) {
	ctx := context.Background()
	for i := 0; i < rounds; i++ {
		for id := 0; id < srv.Config().CPUs; id++ {
			require.NoError(t, srv.Runtime().Tick(ctx, id), "round %d cpu %d", i, id)
		}
	}
}

func TestNew(t *testing.T) {
	srv := newService(t, newConfig(t, 2), &bytes.Buffer{})
	assert.NotEmpty(t, srv.BootID())

	tasks := srv.Tasks()
	require.Len(t, tasks, 2)
	assert.Equal(t, 0, tasks[0].ID)
	assert.Equal(t, "running", tasks[0].State)
	assert.Equal(t, 0, tasks[0].CPU)
	assert.Equal(t, 1, tasks[1].CPU)
	assert.Greater(t, srv.UsedPages(), 0)
	assert.Equal(t, srv.Config().Memory.Pages, srv.FreePages()+srv.UsedPages())

	for id := 0; id < 2; id++ {
		c, err := srv.Scheduler().CPU(id)
		require.NoError(t, err)
		require.NotNil(t, c.Current())
		assert.False(t, srv.Runtime().Halted(id))
	}
	assert.Error(t, srv.Runtime().Tick(context.Background(), 2))
}

func TestNew_InvalidConfig(t *testing.T) {
	cfg := newConfig(t, 0)
	_, err := ktask.New(context.Background(), ktask.WithConfig(cfg), ktask.WithLogger(log.New(io.Discard, "", 0)))
	assert.Error(t, err)

	cfg = newConfig(t, 1)
	cfg.Program = "mem://localhost/ktask/missing.ks"
	_, err = ktask.New(context.Background(), ktask.WithConfig(cfg), ktask.WithLogger(log.New(io.Discard, "", 0)))
	assert.Error(t, err)
}

func TestRuntime_Demo(t *testing.T) {
	cfg := newConfig(t, 2)
	out := &bytes.Buffer{}
	srv := newService(t, cfg, out)
	require.NoError(t, srv.Console().Press(context.Background(), 'x'))

	tick(t, srv, 400)

	text := out.String()
	assert.Contains(t, text, "key x\n")
	assert.Contains(t, text, "parent: ticks=")
	assert.Contains(t, text, "worker 2 on cpu 0 round 0\n")
	assert.Contains(t, text, "worker 3 on cpu 1 round 2\n")
	assert.Contains(t, text, "worker 4 on cpu 0 round 2\n")
	assert.NotContains(t, text, "round 3")

	// workers exited, the boot and idle tasks remain
	assert.Len(t, srv.Tasks(), 2)
	assert.EqualValues(t, 800, srv.Ticks())

	data, err := afs.New().DownloadWithURL(context.Background(), cfg.VFS.BaseURL+"/boot.log")
	require.NoError(t, err)
	assert.Equal(t, "boot\n", string(data))

	assert.Eventually(t, func() bool {
		counters := srv.Stats()
		return counters.Forked == 3 && counters.Killed == 3
	}, 2*time.Second, 10*time.Millisecond)
	assert.Greater(t, srv.Stats().Syscalls, 20)
}

func TestRuntime_Run(t *testing.T) {
	out := &bytes.Buffer{}
	srv := newService(t, newConfig(t, 2), out)
	require.NoError(t, srv.Runtime().Run(context.Background(), 400))
	assert.Contains(t, out.String(), "worker 2 on cpu 0 round 2\n")
	assert.False(t, srv.Runtime().Halted(0))
	assert.False(t, srv.Runtime().Halted(1))

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	assert.NoError(t, srv.Runtime().Run(ctx, 0))
}

func TestService_WithProgram(t *testing.T) {
	script, err := program.Parse("hello", []byte(`
        fork
        jnz eax parent
        puts "child %d\n" 7
        exit
parent: sleep 5
        puts "parent\n"
        spin
`))
	require.NoError(t, err)
	out := &bytes.Buffer{}

	var mux sync.Mutex
	var kinds []event.Kind
	listener := func(evt *event.Event[event.Task]) {
		mux.Lock()
		kinds = append(kinds, evt.Data.Kind)
		mux.Unlock()
	}
	srv := newService(t, newConfig(t, 1), out, ktask.WithProgram(script), ktask.WithEventListener(listener))
	tick(t, srv, 50)

	assert.Equal(t, "child 7\nparent\n", out.String())
	assert.Len(t, srv.Tasks(), 1)
	assert.Eventually(t, func() bool {
		mux.Lock()
		defer mux.Unlock()
		text := make([]string, len(kinds))
		for i, kind := range kinds {
			text[i] = string(kind)
		}
		joined := strings.Join(text, ",")
		return strings.Contains(joined, "forked") && strings.Contains(joined, "killed") && strings.Contains(joined, "slept")
	}, 2*time.Second, 10*time.Millisecond)
}
