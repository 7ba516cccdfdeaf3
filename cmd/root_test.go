package main

import (
	"bytes"
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/sells-group/permit-leads/internal/config"
	"github.com/sells-group/permit-leads/internal/lock"
	"github.com/sells-group/permit-leads/internal/pipeline"
	"github.com/sells-group/permit-leads/internal/scorer"
)

func chdirTemp(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()
	origDir, _ := os.Getwd()
	require.NoError(t, os.Chdir(dir))
	t.Cleanup(func() { os.Chdir(origDir) }) //nolint:errcheck
	return dir
}

func TestRootCommand_HasSubcommands(t *testing.T) {
	names := make(map[string]bool)
	for _, c := range rootCmd.Commands() {
		names[c.Name()] = true
	}

	expected := []string{"parse", "normalize", "geocode", "dedupe", "upsert", "run", "score", "fetch"}
	for _, name := range expected {
		assert.True(t, names[name], "expected subcommand %q not found", name)
	}
}

func TestRootCommand_Metadata(t *testing.T) {
	assert.Equal(t, "permit-leads", rootCmd.Use)
	assert.NotEmpty(t, rootCmd.Short)
	assert.NotEmpty(t, rootCmd.Long)
}

func TestRunCommand_Flags(t *testing.T) {
	for _, name := range []string{"file", "source", "skip-geocode", "dry-run"} {
		assert.NotNil(t, runCmd.Flags().Lookup(name), "run should have --%s", name)
	}
	assert.Equal(t, "false", runCmd.Flags().Lookup("dry-run").DefValue)
}

func TestScoreCommand_Flags(t *testing.T) {
	assert.NotNil(t, scoreCmd.Flags().Lookup("schedule"))
	assert.NotNil(t, scoreCmd.Flags().Lookup("daemon"))
}

func TestSourceName(t *testing.T) {
	assert.Equal(t, "austin", sourceName("austin", "/tmp/whatever.csv"))
	assert.Equal(t, "houston_2024", sourceName("", "/data/houston_2024.xlsx"))
	assert.Equal(t, "permits", sourceName("", "permits"))
}

func TestNormalizeCommand_PipesNDJSON(t *testing.T) {
	chdirTemp(t)

	in := strings.NewReader(`{"source":"a","trade":"roofing","address_raw":"123 Main St, Houston, TX 77002"}` + "\n")
	var out bytes.Buffer
	rootCmd.SetIn(in)
	rootCmd.SetOut(&out)
	rootCmd.SetArgs([]string{"normalize"})
	t.Cleanup(func() {
		rootCmd.SetIn(nil)
		rootCmd.SetOut(nil)
		rootCmd.SetArgs(nil)
	})

	require.NoError(t, rootCmd.Execute())

	rows, err := pipeline.NewReader(&out).ReadAll()
	require.NoError(t, err)
	require.Len(t, rows, 1)
	assert.Equal(t, "123 Main St", rows[0].Address)
	assert.Equal(t, "TX", rows[0].State)
	assert.NotEmpty(t, rows[0].DedupeKey)
}

func TestRunCommand_DryRunSkipGeocode(t *testing.T) {
	dir := chdirTemp(t)
	file := filepath.Join(dir, "austin.csv")
	require.NoError(t, os.WriteFile(file, []byte(
		"permit_number,address,trade\n"+
			"A-1,\"100 Main St, Austin, TX 78701\",electrical\n"+
			"A-2,100 main st austin tx 78701,electrical\n"+
			"A-3,\"999 Other Ave, Dallas, TX 75201\",electrical\n"), 0o644))

	var out bytes.Buffer
	rootCmd.SetOut(&out)
	rootCmd.SetArgs([]string{"run", "--file", file, "--skip-geocode", "--dry-run"})
	t.Cleanup(func() {
		rootCmd.SetOut(nil)
		rootCmd.SetArgs(nil)
		_ = runCmd.Flags().Set("skip-geocode", "false")
		_ = runCmd.Flags().Set("dry-run", "false")
	})

	require.NoError(t, rootCmd.Execute())

	rows, err := pipeline.NewReader(&out).ReadAll()
	require.NoError(t, err)
	require.Len(t, rows, 3)
	assert.Equal(t, "austin", rows[0].Source)
	assert.Equal(t, *rows[0].DupeGroupID, *rows[1].DupeGroupID)
	assert.NotEqual(t, *rows[0].DupeGroupID, *rows[2].DupeGroupID)
}

func TestExecute_FailedCommandStillPushesMetrics(t *testing.T) {
	chdirTemp(t)

	var (
		mu    sync.Mutex
		paths []string
	)
	gw := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		mu.Lock()
		paths = append(paths, r.Method+" "+r.URL.Path)
		mu.Unlock()
		w.WriteHeader(http.StatusOK)
	}))
	defer gw.Close()
	t.Setenv("PERMITS_METRICS_PUSHGATEWAY_URL", gw.URL)

	// No PostgREST settings, so upsert fails before reading stdin.
	rootCmd.SetIn(strings.NewReader(""))
	rootCmd.SetErr(&bytes.Buffer{})
	rootCmd.SetArgs([]string{"upsert"})
	t.Cleanup(func() {
		rootCmd.SetIn(nil)
		rootCmd.SetErr(nil)
		rootCmd.SetArgs(nil)
	})

	assert.Equal(t, 1, execute())

	mu.Lock()
	defer mu.Unlock()
	require.Len(t, paths, 1)
	assert.Equal(t, "PUT /metrics/job/permit-leads/command/upsert", paths[0])
}

func TestNewSink_RequiresPostgRESTSettings(t *testing.T) {
	chdirTemp(t)
	c, err := config.Load()
	require.NoError(t, err)
	cfg = c

	_, _, err = newSink(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "postgrest.url")

	cfg.PostgREST.URL = "https://example.supabase.co/rest/v1"
	cfg.PostgREST.ServiceKey = "key"
	s, closeSink, err := newSink(context.Background())
	require.NoError(t, err)
	assert.NotNil(t, s)
	closeSink()
}

func TestNewLocker(t *testing.T) {
	cfg = &config.Config{}
	cfg.Lock.Driver = "none"
	l, closeLocker, err := newLocker(context.Background())
	require.NoError(t, err)
	assert.IsType(t, lock.Noop{}, l)
	closeLocker()

	cfg.Lock.Driver = "etcd"
	_, _, err = newLocker(context.Background())
	require.Error(t, err)
}

func TestNewGeocoder_MemoryCache(t *testing.T) {
	chdirTemp(t)
	c, err := config.Load()
	require.NoError(t, err)
	cfg = c

	g, closeGeocoder, err := newGeocoder(context.Background())
	require.NoError(t, err)
	assert.NotNil(t, g)
	closeGeocoder()
}

type fakeRunner struct {
	rep   scorer.Report
	err   error
	calls int
}

func (f *fakeRunner) Run(context.Context) (scorer.Report, error) {
	f.calls++
	return f.rep, f.err
}

type fakeLocker struct {
	err      error
	released int
}

func (f *fakeLocker) Acquire(context.Context, string, time.Duration) (func(context.Context) error, error) {
	if f.err != nil {
		return nil, f.err
	}
	return func(context.Context) error {
		f.released++
		return nil
	}, nil
}

func TestScoreJob_Success(t *testing.T) {
	r := &fakeRunner{rep: scorer.Report{RunID: "r1", LeadsUpdated: 3}}
	l := &fakeLocker{}
	job := &scoreJob{scorer: r, locker: l, lockKey: "k", lockTTL: time.Minute}

	rep, err := job.run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 3, rep.LeadsUpdated)
	assert.Equal(t, 1, l.released)
}

func TestScoreJob_LeadErrorsFailTheRun(t *testing.T) {
	r := &fakeRunner{rep: scorer.Report{LeadErrors: 2}}
	job := &scoreJob{scorer: r, locker: &fakeLocker{}}

	_, err := job.run(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "2 leads could not be scored")
}

func TestScoreJob_LockNotAcquired(t *testing.T) {
	r := &fakeRunner{}
	job := &scoreJob{scorer: r, locker: &fakeLocker{err: lock.ErrNotAcquired}}

	_, err := job.run(context.Background())
	require.Error(t, err)
	assert.True(t, errors.Is(err, lock.ErrNotAcquired))
	assert.Zero(t, r.calls, "scorer must not run without the lease")
}

func TestScoreJob_RunErrorReleasesLease(t *testing.T) {
	r := &fakeRunner{err: errors.New("tx failed")}
	l := &fakeLocker{}
	job := &scoreJob{scorer: r, locker: l}

	_, err := job.run(context.Background())
	require.Error(t, err)
	assert.Equal(t, 1, l.released)
}

func TestScoreJob_InvalidSchedule(t *testing.T) {
	job := &scoreJob{scorer: &fakeRunner{}, locker: &fakeLocker{}}
	err := job.schedule(context.Background(), "not a cron spec")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "invalid schedule")
}

func TestScoreJob_ScheduleStopsOnCancel(t *testing.T) {
	job := &scoreJob{scorer: &fakeRunner{}, locker: &fakeLocker{}}
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	require.NoError(t, job.schedule(ctx, "@every 1h"))
}

func TestCronLogger(t *testing.T) {
	l := cronLogger{log: zap.NewNop()}
	l.Info("tick", "entry", 1)
	l.Error(errors.New("boom"), "panic", "entry", 1)
}
