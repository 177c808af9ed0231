package main

import (
	"context"
	"fmt"
	"io"
	"log"
	"math/rand"
	"os"
	"runtime"
	"strconv"
	"time"

	"github.com/charmbracelet/bubbles/table"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"
	"github.com/kass/go-geo-incidents/pkg/editor"
	"github.com/kass/go-geo-incidents/pkg/models"
	"github.com/kass/go-geo-incidents/pkg/overlay"
	"github.com/kass/go-geo-incidents/pkg/view"
	"github.com/mattn/go-isatty"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"
)

var watchCmd = &cobra.Command{
	Use:   "watch",
	Short: "Follow incidents live",
	Long: `Show the incident table, hotspot overlays and map viewport, updated on every change.
Arrow keys pan the viewport, j/k select a row, d deletes it, q quits.
Prints plain updates when stdout is not a terminal.`,
	Args: cobra.NoArgs,
	RunE: runWatch,
}

var (
	watchSeed int
	watchLog  string
)

// panStep is how far one arrow key press moves the viewport, in degrees
const panStep = 0.005

// nearbySpan is the half-width of the box around the viewport center used
// for the "near center" hotspot count, in degrees
const nearbySpan = 0.05

func init() {
	watchCmd.Flags().IntVar(&watchSeed, "seed", 0, "Push this many random incidents after subscribing")
	watchCmd.Flags().StringVar(&watchLog, "log", "", "Write logs to this file while the UI runs")
}

func runWatch(cmd *cobra.Command, args []string) error {
	cfg, st, err := setup(false)
	if err != nil {
		return err
	}
	defer st.Close()

	ctx := cmd.Context()
	tty := isatty.IsTerminal(os.Stdout.Fd()) || isatty.IsCygwinTerminal(os.Stdout.Fd())

	confirmer := &teaConfirmer{}
	opts := view.Options{Path: cfg.Store.Path, Confirm: confirmer, Overlay: cfg.OverlayOptions()}
	if !tty {
		opts.Confirm = editor.NeverConfirm
	}
	vm := view.New(st, opts)
	if err := vm.Start(ctx); err != nil {
		return err
	}
	defer vm.Stop()

	updates, cancel := vm.Watch()
	defer cancel()

	if watchSeed > 0 {
		r := rand.New(rand.NewSource(time.Now().UnixNano()))
		if _, err := seed(ctx, editor.New(st, cfg.Store.Path), r, watchSeed, runtime.NumCPU(), seoulBox); err != nil {
			return fmt.Errorf("seed: %w", err)
		}
	}

	if !tty {
		return streamSnapshots(ctx, cmd.OutOrStdout(), updates)
	}

	if watchLog != "" {
		f, err := tea.LogToFile(watchLog, "watch")
		if err != nil {
			return err
		}
		defer f.Close()
	} else {
		// the UI owns the screen
		log.SetOutput(io.Discard)
		defer log.SetOutput(os.Stderr)
	}
	return runTUI(ctx, vm, updates, confirmer)
}

// runTUI runs the program and the snapshot pump until either ends
func runTUI(ctx context.Context, vm *view.Model, updates <-chan view.Snapshot, confirmer *teaConfirmer) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	p := tea.NewProgram(newWatchModel(ctx, vm), tea.WithAltScreen(), tea.WithContext(ctx))
	confirmer.program = p

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		defer cancel()
		_, err := p.Run()
		if err != nil && ctx.Err() != nil {
			// interrupted
			return nil
		}
		return err
	})
	g.Go(func() error {
		for {
			select {
			case <-gctx.Done():
				return nil
			case snap, ok := <-updates:
				if !ok {
					p.Quit()
					return nil
				}
				p.Send(snapshotMsg(snap))
			}
		}
	})
	return g.Wait()
}

// streamSnapshots prints every snapshot until ctx ends
func streamSnapshots(ctx context.Context, w io.Writer, updates <-chan view.Snapshot) error {
	for {
		select {
		case <-ctx.Done():
			return nil
		case snap, ok := <-updates:
			if !ok {
				return nil
			}
			printSnapshot(w, snap)
		}
	}
}

func printSnapshot(w io.Writer, snap view.Snapshot) {
	fmt.Fprintf(w, "seq %d: %d hotspots, viewport %.4f, %.4f\n",
		snap.Seq, len(snap.Overlays), snap.Viewport.Lng, snap.Viewport.Lat)
	records := make([]models.IncidentRecord, len(snap.Rows))
	for i, row := range snap.Rows {
		records[i] = row.IncidentRecord
	}
	printRecords(w, records)
	printRejected(w, snap.Rejected)
}

type snapshotMsg view.Snapshot

type confirmRequest struct {
	prompt string
	answer chan bool
}

type deleteResultMsg struct {
	id      string
	deleted bool
	err     error
}

// teaConfirmer asks the running program and waits for the y/n key
type teaConfirmer struct {
	program *tea.Program
}

func (c *teaConfirmer) Confirm(ctx context.Context, prompt string) (bool, error) {
	req := confirmRequest{prompt: prompt, answer: make(chan bool, 1)}
	c.program.Send(req)
	select {
	case ok := <-req.answer:
		return ok, nil
	case <-ctx.Done():
		return false, ctx.Err()
	}
}

var (
	titleStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(lipgloss.Color("#FF79C6")).
			Background(lipgloss.Color("#282A36")).
			Padding(0, 1)

	infoStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("#F1FA8C"))

	promptStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(lipgloss.Color("#FF5555"))

	dimStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("#6272A4"))

	boxStyle = lipgloss.NewStyle().
			Border(lipgloss.RoundedBorder()).
			BorderForeground(lipgloss.Color("#BD93F9"))
)

type watchModel struct {
	ctx     context.Context
	vm      *view.Model
	table   table.Model
	snap    view.Snapshot
	center  models.Location
	pending *confirmRequest
	status  string
}

func newWatchModel(ctx context.Context, vm *view.Model) watchModel {
	t := table.New(
		table.WithColumns([]table.Column{
			{Title: "ID", Width: 36},
			{Title: "Longitude", Width: 11},
			{Title: "Latitude", Width: 10},
			{Title: "Category", Width: 12},
			{Title: "Degree", Width: 6},
			{Title: "Description", Width: 40},
		}),
		table.WithFocused(true),
		table.WithHeight(15),
	)
	styles := table.DefaultStyles()
	styles.Selected = styles.Selected.Foreground(lipgloss.Color("#282A36")).Background(lipgloss.Color("#50FA7B"))
	t.SetStyles(styles)

	snap := vm.Snapshot()
	m := watchModel{
		ctx:    ctx,
		vm:     vm,
		table:  t,
		center: models.Location{Lat: snap.Viewport.Lat, Lon: snap.Viewport.Lng},
	}
	m.setSnapshot(snap)
	return m
}

func (m *watchModel) setSnapshot(snap view.Snapshot) {
	m.snap = snap
	rows := make([]table.Row, len(snap.Rows))
	for i, row := range snap.Rows {
		rows[i] = table.Row(recordCells(row.IncidentRecord))
	}
	m.table.SetRows(rows)
}

func (m watchModel) Init() tea.Cmd {
	return nil
}

func (m watchModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case snapshotMsg:
		m.setSnapshot(view.Snapshot(msg))
		return m, nil

	case confirmRequest:
		m.pending = &msg
		return m, nil

	case deleteResultMsg:
		switch {
		case msg.err != nil:
			m.status = fmt.Sprintf("Delete %s failed: %v", msg.id, msg.err)
		case msg.deleted:
			m.status = fmt.Sprintf("Deleted %s", msg.id)
		default:
			m.status = "Delete cancelled"
		}
		return m, nil

	case tea.KeyMsg:
		if m.pending != nil {
			return m.answer(msg.String())
		}
		switch msg.String() {
		case "q", "ctrl+c":
			return m, tea.Quit
		case "up":
			return m.pan(panStep, 0), nil
		case "down":
			return m.pan(-panStep, 0), nil
		case "left":
			return m.pan(0, -panStep), nil
		case "right":
			return m.pan(0, panStep), nil
		case "d":
			return m, m.deleteSelected()
		}
	}

	var cmd tea.Cmd
	m.table, cmd = m.table.Update(msg)
	return m, cmd
}

func (m watchModel) answer(key string) (tea.Model, tea.Cmd) {
	var ok bool
	switch key {
	case "y", "Y":
		ok = true
	case "n", "N", "esc":
	case "ctrl+c":
		m.pending.answer <- false
		m.pending = nil
		return m, tea.Quit
	default:
		return m, nil
	}
	m.pending.answer <- ok
	m.pending = nil
	return m, nil
}

// pan moves the map center and reports the bounds change
func (m watchModel) pan(dLat, dLng float64) watchModel {
	center := models.Location{Lat: m.center.Lat + dLat, Lon: m.center.Lon + dLng}
	if center.Lat < -90 || center.Lat > 90 || center.Lon < -180 || center.Lon > 180 {
		return m
	}
	m.center = center
	m.vm.BoundsChanged(overlay.BoundsFunc(func() (models.Location, bool) {
		return center, true
	}))
	return m
}

func (m watchModel) deleteSelected() tea.Cmd {
	selected := m.table.SelectedRow()
	if len(selected) == 0 {
		return nil
	}
	id := selected[0]
	for _, row := range m.snap.Rows {
		if row.ID != id {
			continue
		}
		del := row.Delete
		ctx := m.ctx
		return func() tea.Msg {
			deleted, err := del(ctx)
			return deleteResultMsg{id: id, deleted: deleted, err: err}
		}
	}
	return nil
}

func (m watchModel) View() string {
	vp := m.snap.Viewport
	nearby := models.BoundingBox{
		BottomLeft: models.Location{Lat: vp.Lat - nearbySpan, Lon: vp.Lng - nearbySpan},
		TopRight:   models.Location{Lat: vp.Lat + nearbySpan, Lon: vp.Lng + nearbySpan},
	}
	near := 0
	for _, o := range m.snap.Overlays {
		if nearby.Contains(o.Circle.Center) {
			near++
		}
	}

	s := titleStyle.Render("Incident Hotspots") + "\n\n"
	s += infoStyle.Render(fmt.Sprintf("Viewport %.4f, %.4f", vp.Lng, vp.Lat)) + "   "
	s += infoStyle.Render(fmt.Sprintf("%d hotspots, %d near center, %d covering it", len(m.snap.Overlays), near, len(m.snap.Covering))) + "\n"
	s += dimStyle.Render("Update #"+strconv.FormatUint(m.snap.Seq, 10)) + "\n"
	s += boxStyle.Render(m.table.View()) + "\n"

	if len(m.snap.Rejected) > 0 {
		s += promptStyle.Render(fmt.Sprintf("%d malformed entries skipped", len(m.snap.Rejected))) + "\n"
	}
	switch {
	case m.pending != nil:
		s += promptStyle.Render(m.pending.prompt+" (y/n)") + "\n"
	case m.status != "":
		s += infoStyle.Render(m.status) + "\n"
	}
	s += dimStyle.Render("←↑↓→ pan • j/k select • d delete • q quit")
	return s
}
