package cmd

import (
	"bytes"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jnesss/ttrace/config"
	"github.com/jnesss/ttrace/database"
	"github.com/jnesss/ttrace/heapinfo"
	"github.com/jnesss/ttrace/process"
)

type harness struct {
	app     *app
	tasks   *process.TaskTable
	envFile string
	closed  int
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	h := &harness{
		app:     newApp(),
		tasks:   process.NewTaskTable(4096),
		envFile: filepath.Join(t.TempDir(), "missing.env"),
	}
	h.tasks.Add(heapinfo.Task{PID: 0, Name: "idle"})
	h.tasks.Add(heapinfo.Task{PID: 5, PPID: 1, StackSize: 2048, CurrHeap: 300, PeakHeap: 1000, Name: "app"})
	h.app.openTasks = func(config.Config) (taskSource, func() error, error) {
		return h.tasks, func() error { h.closed++; return nil }, nil
	}
	t.Setenv(config.KeyDataDir, t.TempDir())
	return h
}

func (h *harness) run(args ...string) (string, error) {
	root := newRootCmd(h.app)
	var out, errOut bytes.Buffer
	root.SetOut(&out)
	root.SetErr(&errOut)
	root.SetArgs(append([]string{"--env", h.envFile}, args...))
	err := root.Execute()
	return out.String(), err
}

func TestHeapinfoClear(t *testing.T) {
	h := newHarness(t)

	out, err := h.run("heapinfo", "-i")
	require.NoError(t, err)
	assert.Equal(t,
		"PID 0, peak allocated heap information is cleared\n"+
			"PID 5, peak allocated heap information is cleared\n"+
			"Peak allocated memory size is cleared\n", out)

	task, ok := h.tasks.Get(5)
	require.True(t, ok)
	assert.Equal(t, int64(0), task.PeakHeap)
	assert.Equal(t, int64(300), task.CurrHeap)
	assert.Equal(t, 1, h.closed)
}

func TestHeapinfoClearEndsOptions(t *testing.T) {
	for _, args := range [][]string{
		{"heapinfo", "-i", "-a"},
		{"heapinfo", "-a", "-i"},
		{"heapinfo", "-i", "-p", "abc"},
		{"heapinfo", "-i", "extra"},
	} {
		h := newHarness(t)
		out, err := h.run(args...)
		require.NoError(t, err, strings.Join(args, " "))
		assert.Equal(t,
			"PID 0, peak allocated heap information is cleared\n"+
				"PID 5, peak allocated heap information is cleared\n"+
				"Peak allocated memory size is cleared\n", out)

		task, ok := h.tasks.Get(5)
		require.True(t, ok)
		assert.Equal(t, int64(0), task.PeakHeap, strings.Join(args, " "))
		assert.Equal(t, 1, h.closed)
	}
}

func TestHeapinfoShowPid(t *testing.T) {
	h := newHarness(t)

	out, err := h.run("heapinfo", "-p", "5")
	require.NoError(t, err)
	assert.Contains(t, out, "  5 |     1 |  2048 |       300 |      1000 | app\n")
	assert.NotContains(t, out, "idle")

	// last option wins
	out, err = h.run("heapinfo", "-p", "5", "-a")
	require.NoError(t, err)
	assert.Contains(t, out, "  0 |     0 |  1024 |         0 |         0 | idle\n")

	out, err = h.run("heapinfo", "-p", "7")
	require.NoError(t, err)
	assert.NotContains(t, out, "app")
}

func TestHeapinfoFreeList(t *testing.T) {
	h := newHarness(t)

	out, err := h.run("heapinfo", "-f")
	require.NoError(t, err)
	assert.Contains(t, out, "FREE_NODES")
	assert.Contains(t, out, "         1 |      3796 |      3796\n")
}

func TestHeapinfoUsageErrors(t *testing.T) {
	for _, args := range [][]string{
		{"heapinfo", "--help"},
		{"heapinfo", "-p", "abc"},
		{"heapinfo", "-p"},
		{"heapinfo", "-x"},
		{"heapinfo", "extra"},
	} {
		h := newHarness(t)
		out, err := h.run(args...)
		assert.ErrorIs(t, err, errUsage, strings.Join(args, " "))
		assert.Contains(t, out, "Usage: heapinfo [OPTIONS]")
		assert.Equal(t, 0, h.closed)
	}
}

func TestHeapinfoProfile(t *testing.T) {
	h := newHarness(t)
	path := filepath.Join(t.TempDir(), "heap.pb.gz")

	_, err := h.run("heapinfo", "-a", "--pprof", path)
	require.NoError(t, err)
	info, err := os.Stat(path)
	require.NoError(t, err)
	assert.NotZero(t, info.Size())
}

func TestEmitAndDump(t *testing.T) {
	h := newHarness(t)
	path := filepath.Join(t.TempDir(), "trace.bin")

	_, err := h.run("emit", path, "--tag", "apps", "--type", "s", "--pid", "42", "--text", "boot")
	require.NoError(t, err)
	_, err = h.run("emit", path, "--tag", "lock", "--type", "func-tag", "--pid", "42", "--code", "99")
	require.NoError(t, err)
	_, err = h.run("emit", path, "--type", "e", "--prev-pid", "42", "--prev-name", "app", "--next-pid", "1", "--next-name", "init")
	require.NoError(t, err)

	_, err = h.run("emit", path, "--code", "200")
	assert.Error(t, err)
	_, err = h.run("emit", path, "--text", strings.Repeat("x", 40))
	assert.Error(t, err)

	info, err := os.Stat(path)
	require.NoError(t, err)
	assert.Equal(t, int64(44+12+44), info.Size())

	out, err := h.run("dump", path)
	require.NoError(t, err)
	lines := strings.Split(strings.TrimSpace(out), "\n")
	require.Len(t, lines, 3)
	assert.Contains(t, lines[0], "042: s|boot")
	assert.Contains(t, lines[1], "042: g|uid=99")
	assert.Contains(t, lines[2], "prev_comm=app prev_pid=42")
	assert.Contains(t, lines[2], "==> next_comm=init next_pid=1")

	out, err = h.run("dump", "--detail", path)
	require.NoError(t, err)
	assert.Contains(t, out, "unique code? 1")
	assert.Contains(t, out, "consumed: 12")
}

func TestEmitDisabledTagIsDropped(t *testing.T) {
	h := newHarness(t)
	t.Setenv(config.KeyTags, "apps")
	path := filepath.Join(t.TempDir(), "trace.bin")

	_, err := h.run("emit", path, "--tag", "ipc", "--text", "hidden")
	require.NoError(t, err)
	info, err := os.Stat(path)
	require.NoError(t, err)
	assert.Zero(t, info.Size())
}

func TestDumpTruncated(t *testing.T) {
	h := newHarness(t)
	path := filepath.Join(t.TempDir(), "trace.bin")
	_, err := h.run("emit", path, "--text", "one")
	require.NoError(t, err)

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	require.NoError(t, os.WriteFile(path, append(data, data[:10]...), 0644))

	out, err := h.run("dump", path)
	assert.Error(t, err)
	assert.Contains(t, out, "|one")
}

func TestEmitDefaultPID(t *testing.T) {
	h := newHarness(t)
	path := filepath.Join(t.TempDir(), "trace.bin")
	_, err := h.run("emit", path, "--text", "anon")
	require.NoError(t, err)

	out, err := h.run("dump", path)
	require.NoError(t, err)
	assert.Contains(t, out, "000: i|anon")
}

func TestTags(t *testing.T) {
	h := newHarness(t)
	t.Setenv(config.KeyTags, "apps,task")

	out, err := h.run("tags")
	require.NoError(t, err)
	assert.Equal(t,
		"none  None          0x00 disabled\n"+
			"apps  Applications  0x01 enabled\n"+
			"libs  Libraries     0x02 disabled\n"+
			"lock  Lock          0x04 disabled\n"+
			"task  TASK          0x08 enabled\n"+
			"ipc   IPC           0x10 disabled\n", out)
}

func TestRecordFromFile(t *testing.T) {
	h := newHarness(t)
	path := filepath.Join(t.TempDir(), "trace.bin")
	_, err := h.run("emit", path, "--text", "one", "--pid", "3")
	require.NoError(t, err)
	_, err = h.run("emit", path, "--code", "7", "--pid", "3")
	require.NoError(t, err)

	out, err := h.run("record", "--file", path, "--print")
	require.NoError(t, err)
	assert.Contains(t, out, "003: i|one")
	assert.Contains(t, out, "2 packets stored")

	db, err := database.NewDB(os.Getenv(config.KeyDataDir))
	require.NoError(t, err)
	defer db.Close()
	n, err := db.CountPackets()
	require.NoError(t, err)
	assert.Equal(t, int64(2), n)
}

func TestBrowserAddr(t *testing.T) {
	assert.Equal(t, "localhost:8080", browserAddr("[::]:8080"))
	assert.Equal(t, "localhost:8080", browserAddr(":8080"))
	assert.Equal(t, "127.0.0.1:9000", browserAddr("127.0.0.1:9000"))
}
