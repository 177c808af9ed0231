package main

import (
	"bytes"
	"context"
	"math/rand"
	"path/filepath"
	"strings"
	"testing"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/kass/go-geo-incidents/pkg/config"
	"github.com/kass/go-geo-incidents/pkg/editor"
	"github.com/kass/go-geo-incidents/pkg/models"
	"github.com/kass/go-geo-incidents/pkg/overlay"
	"github.com/kass/go-geo-incidents/pkg/store"
	"github.com/kass/go-geo-incidents/pkg/store/sqlite"
	"github.com/kass/go-geo-incidents/pkg/validate"
	"github.com/kass/go-geo-incidents/pkg/view"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestGenerateIncidents(t *testing.T) {
	r := rand.New(rand.NewSource(1))
	incidents := generateIncidents(r, 200, seoulBox)
	require.Len(t, incidents, 200)

	for _, f := range incidents {
		assert.NoError(t, validate.Fields(f))
		assert.True(t, seoulBox.Contains(models.Location{Lat: f.Lat, Lon: f.Lng}), "%+v outside box", f)
	}
}

func TestSeed(t *testing.T) {
	st := store.NewMemoryStore()
	defer st.Close()

	n, err := seed(context.Background(), editor.New(st, "crimes"), rand.New(rand.NewSource(2)), 50, 4, seoulBox)
	require.NoError(t, err)
	assert.Equal(t, 50, n)
	assert.Equal(t, 50, st.Len("crimes"))
}

func TestFirstRefresh(t *testing.T) {
	st := store.NewMemoryStore()
	defer st.Close()
	ctx := context.Background()

	id, err := st.Push(ctx, "crimes", models.Fields{Lng: 127, Lat: 37.5, Category: "theft", Degree: 2, Description: "bike"})
	require.NoError(t, err)
	_, err = st.Push(ctx, "crimes", map[string]any{"lng": "east"})
	require.NoError(t, err)

	r, err := firstRefresh(ctx, st, "crimes")
	require.NoError(t, err)
	require.Len(t, r.Records, 1)
	assert.Equal(t, id, r.Records[0].ID)
	assert.Len(t, r.Rejected, 1)

	var out bytes.Buffer
	printRecords(&out, r.Records)
	printRejected(&out, r.Rejected)
	assert.Contains(t, out.String(), id)
	assert.Contains(t, out.String(), "1 incidents")
	assert.Contains(t, out.String(), "lng is not a number")
}

func TestPromptConfirmer(t *testing.T) {
	ctx := context.Background()
	tests := []struct {
		input string
		want  bool
	}{
		{"y\n", true},
		{"YES\n", true},
		{"n\n", false},
		{"\n", false},
		{"", false},
	}

	for _, tt := range tests {
		var out bytes.Buffer
		ok, err := promptConfirmer(strings.NewReader(tt.input), &out).Confirm(ctx, editor.DeletePrompt)
		require.NoError(t, err)
		assert.Equal(t, tt.want, ok, "input %q", tt.input)
		assert.Equal(t, "Are you sure to delete? [y/N] ", out.String())
	}
}

func TestOpenStore(t *testing.T) {
	cfg := config.Default()
	st, err := openStore(cfg)
	require.NoError(t, err)
	assert.IsType(t, &store.MemoryStore{}, st)
	require.NoError(t, st.Close())

	cfg.Store.Backend = config.BackendSQLite
	cfg.Store.SQLite.File = filepath.Join(t.TempDir(), "incidents.db")
	st, err = openStore(cfg)
	require.NoError(t, err)
	assert.IsType(t, &sqlite.Store{}, st)
	require.NoError(t, st.Close())

	cfg.Store.Backend = "redis"
	_, err = openStore(cfg)
	assert.Error(t, err)
}

func newTestWatchModel(t *testing.T, st store.RemoteStore) (*view.Model, watchModel) {
	t.Helper()
	vm := view.New(st, view.Options{Confirm: editor.AlwaysConfirm})
	require.NoError(t, vm.Start(context.Background()))
	t.Cleanup(vm.Stop)
	return vm, newWatchModel(context.Background(), vm)
}

func update(t *testing.T, m watchModel, msg tea.Msg) (watchModel, tea.Cmd) {
	t.Helper()
	next, cmd := m.Update(msg)
	wm, ok := next.(watchModel)
	require.True(t, ok)
	return wm, cmd
}

func TestWatchModelPansViewport(t *testing.T) {
	st := store.NewMemoryStore()
	defer st.Close()
	vm, m := newTestWatchModel(t, st)

	m, _ = update(t, m, tea.KeyMsg{Type: tea.KeyUp})
	m, _ = update(t, m, tea.KeyMsg{Type: tea.KeyRight})

	vp := vm.Snapshot().Viewport
	assert.InDelta(t, models.DefaultViewport.Lat+panStep, vp.Lat, 1e-9)
	assert.InDelta(t, models.DefaultViewport.Lng+panStep, vp.Lng, 1e-9)
	assert.InDelta(t, vp.Lat, m.center.Lat, 1e-9)
}

func TestWatchModelShowsSnapshots(t *testing.T) {
	st := store.NewMemoryStore()
	defer st.Close()
	_, m := newTestWatchModel(t, st)

	snap := view.Snapshot{
		Seq: 3,
		Rows: []view.Row{
			{IncidentRecord: models.IncidentRecord{ID: "a", Fields: models.Fields{Lng: 127, Lat: 37.5, Category: "theft", Degree: 1, Description: "x"}}, Key: "a"},
		},
		Viewport: models.DefaultViewport,
	}
	m, _ = update(t, m, snapshotMsg(snap))
	assert.Len(t, m.table.Rows(), 1)
	assert.Equal(t, "a", m.table.SelectedRow()[0])
	assert.Contains(t, m.View(), "Update #3")

	// counts come from the displayed snapshot, not the live overlay state
	snap.Overlays = []overlay.Overlay{{ID: "a", Circle: overlay.Circle{Center: models.Location{Lat: 37.575, Lon: 126.9767}}}}
	snap.Covering = snap.Overlays
	m, _ = update(t, m, snapshotMsg(snap))
	assert.Contains(t, m.View(), "1 hotspots, 1 near center, 1 covering it")
}

func TestWatchModelConfirmPrompt(t *testing.T) {
	st := store.NewMemoryStore()
	defer st.Close()
	_, m := newTestWatchModel(t, st)

	req := confirmRequest{prompt: editor.DeletePrompt, answer: make(chan bool, 1)}
	m, _ = update(t, m, req)
	assert.Contains(t, m.View(), "Are you sure to delete? (y/n)")

	// other keys wait for an answer
	m, _ = update(t, m, tea.KeyMsg{Type: tea.KeyRunes, Runes: []rune("x")})
	require.NotNil(t, m.pending)

	m, _ = update(t, m, tea.KeyMsg{Type: tea.KeyRunes, Runes: []rune("y")})
	assert.Nil(t, m.pending)
	assert.True(t, <-req.answer)
}

func TestWatchModelDeletesSelectedRow(t *testing.T) {
	st := store.NewMemoryStore()
	defer st.Close()
	ctx := context.Background()
	vm, m := newTestWatchModel(t, st)

	id, err := st.Push(ctx, "crimes", models.Fields{Lng: 127, Lat: 37.5, Category: "theft", Degree: 1, Description: "x"})
	require.NoError(t, err)
	require.Eventually(t, func() bool { return len(vm.Snapshot().Rows) == 1 }, time.Second, 5*time.Millisecond)

	m, _ = update(t, m, snapshotMsg(vm.Snapshot()))
	_, cmd := update(t, m, tea.KeyMsg{Type: tea.KeyRunes, Runes: []rune("d")})
	require.NotNil(t, cmd)

	msg, ok := cmd().(deleteResultMsg)
	require.True(t, ok)
	assert.Equal(t, id, msg.id)
	assert.True(t, msg.deleted)
	assert.NoError(t, msg.err)
	assert.Equal(t, 0, st.Len("crimes"))
}

// execute runs the CLI once with fresh global flags
func execute(t *testing.T, args ...string) (string, error) {
	t.Helper()
	configFile, backend, path = "", "", ""
	assumeYes = false

	var out bytes.Buffer
	rootCmd.SetOut(&out)
	rootCmd.SetErr(&out)
	rootCmd.SetIn(strings.NewReader(""))
	rootCmd.SetArgs(args)
	err := rootCmd.ExecuteContext(context.Background())
	return out.String(), err
}

func TestCommandsKeepDataBetweenRuns(t *testing.T) {
	t.Setenv("INCIDENTS_STORE_SQLITE_FILE", filepath.Join(t.TempDir(), "incidents.db"))

	out, err := execute(t, "add", "--lng", "126.98", "--lat", "37.57",
		"--category", "theft", "--degree", "2", "--description", "bike stolen")
	require.NoError(t, err)
	require.True(t, strings.HasPrefix(out, "Created incident "), out)
	id := strings.TrimSpace(strings.TrimPrefix(out, "Created incident "))

	out, err = execute(t, "list")
	require.NoError(t, err)
	assert.Contains(t, out, id)
	assert.Contains(t, out, "bike stolen")
	assert.Contains(t, out, "1 incidents")

	out, err = execute(t, "delete", id, "--yes")
	require.NoError(t, err)
	assert.Equal(t, "Deleted incident "+id+"\n", out)

	out, err = execute(t, "list")
	require.NoError(t, err)
	assert.Contains(t, out, "0 incidents")
}

func TestAddRejectsBadInput(t *testing.T) {
	t.Setenv("INCIDENTS_STORE_SQLITE_FILE", filepath.Join(t.TempDir(), "incidents.db"))

	_, err := execute(t, "add", "--lng", "east", "--lat", "37.57",
		"--category", "theft", "--description", "x")
	require.Error(t, err)
	assert.ErrorIs(t, err, validate.ErrValidation)
	assert.Contains(t, err.Error(), "Longitude is not a number")
}

func TestOneShotCommandsRefuseMemoryBackend(t *testing.T) {
	for _, args := range [][]string{
		{"--backend", "memory", "list"},
		{"--backend", "memory", "add", "--lng", "1", "--lat", "1", "--category", "c", "--description", "d"},
		{"--backend", "memory", "delete", "x", "--yes"},
		{"--backend", "memory", "seed", "-n", "1"},
	} {
		_, err := execute(t, args...)
		require.Error(t, err, "%v", args)
		assert.Contains(t, err.Error(), "keeps nothing between commands")
	}
}
