package main

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"log"
	"math/rand"
	"runtime"
	"strconv"
	"strings"
	"sync/atomic"
	"time"

	"github.com/charmbracelet/lipgloss"
	"github.com/charmbracelet/lipgloss/table"
	"github.com/kass/go-geo-incidents/pkg/editor"
	"github.com/kass/go-geo-incidents/pkg/models"
	"github.com/kass/go-geo-incidents/pkg/store"
	"github.com/kass/go-geo-incidents/pkg/syncer"
	"github.com/kass/go-geo-incidents/pkg/validate"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"
)

var listCmd = &cobra.Command{
	Use:   "list",
	Short: "Print the current incidents",
	Args:  cobra.NoArgs,
	RunE:  runList,
}

var addCmd = &cobra.Command{
	Use:   "add",
	Short: "Report a new incident",
	Args:  cobra.NoArgs,
	RunE:  runAdd,
}

var deleteCmd = &cobra.Command{
	Use:   "delete ID",
	Short: "Delete an incident after confirmation",
	Args:  cobra.ExactArgs(1),
	RunE:  runDelete,
}

var seedCmd = &cobra.Command{
	Use:   "seed",
	Short: "Push random incidents",
	Long:  `Generate random incidents inside a bounding box and push them to the collection.`,
	Args:  cobra.NoArgs,
	RunE:  runSeed,
}

var (
	addLng         string
	addLat         string
	addCategory    string
	addDegree      int
	addDescription string

	assumeYes bool

	seedCount   int
	seedWorkers int
	seedValue   int64
	seedBox     = seoulBox
)

// seoulBox surrounds the default viewport
var seoulBox = models.BoundingBox{
	BottomLeft: models.Location{Lat: 37.45, Lon: 126.80},
	TopRight:   models.Location{Lat: 37.70, Lon: 127.15},
}

var categories = []string{"theft", "assault", "burglary", "vandalism", "fraud", "robbery"}

func init() {
	addCmd.Flags().StringVar(&addLng, "lng", "", "Longitude")
	addCmd.Flags().StringVar(&addLat, "lat", "", "Latitude")
	addCmd.Flags().StringVar(&addCategory, "category", "", "Category")
	addCmd.Flags().IntVar(&addDegree, "degree", models.DefaultDegree, "Degree (1, 2 or 3)")
	addCmd.Flags().StringVar(&addDescription, "description", "", "Description")

	deleteCmd.Flags().BoolVarP(&assumeYes, "yes", "y", false, "Delete without asking")

	seedCmd.Flags().IntVarP(&seedCount, "count", "n", 100, "Number of incidents to push")
	seedCmd.Flags().IntVarP(&seedWorkers, "workers", "w", runtime.NumCPU(), "Number of concurrent pushes")
	seedCmd.Flags().Int64Var(&seedValue, "seed", time.Now().UnixNano(), "Random seed")
	seedCmd.Flags().Float64Var(&seedBox.BottomLeft.Lat, "min-lat", seoulBox.BottomLeft.Lat, "Minimum latitude")
	seedCmd.Flags().Float64Var(&seedBox.TopRight.Lat, "max-lat", seoulBox.TopRight.Lat, "Maximum latitude")
	seedCmd.Flags().Float64Var(&seedBox.BottomLeft.Lon, "min-lng", seoulBox.BottomLeft.Lon, "Minimum longitude")
	seedCmd.Flags().Float64Var(&seedBox.TopRight.Lon, "max-lng", seoulBox.TopRight.Lon, "Maximum longitude")
}

func runList(cmd *cobra.Command, args []string) error {
	cfg, st, err := setup(true)
	if err != nil {
		return err
	}
	defer st.Close()

	r, err := firstRefresh(cmd.Context(), st, cfg.Store.Path)
	if err != nil {
		return err
	}
	printRecords(cmd.OutOrStdout(), r.Records)
	printRejected(cmd.OutOrStdout(), r.Rejected)
	return nil
}

func runAdd(cmd *cobra.Command, args []string) error {
	cfg, st, err := setup(true)
	if err != nil {
		return err
	}
	defer st.Close()

	draft := editor.NewDraft()
	draft.Set(models.Fields{
		Lng:         validate.Number(addLng),
		Lat:         validate.Number(addLat),
		Category:    addCategory,
		Degree:      addDegree,
		Description: addDescription,
	})
	id, err := editor.New(st, cfg.Store.Path).Create(cmd.Context(), draft)
	if err != nil {
		return err
	}
	fmt.Fprintf(cmd.OutOrStdout(), "Created incident %s\n", id)
	return nil
}

func runDelete(cmd *cobra.Command, args []string) error {
	cfg, st, err := setup(true)
	if err != nil {
		return err
	}
	defer st.Close()

	confirm := editor.AlwaysConfirm
	if !assumeYes {
		confirm = promptConfirmer(cmd.InOrStdin(), cmd.OutOrStdout())
	}
	deleted, err := editor.New(st, cfg.Store.Path).Delete(cmd.Context(), args[0], confirm)
	if err != nil {
		return err
	}
	if deleted {
		fmt.Fprintf(cmd.OutOrStdout(), "Deleted incident %s\n", args[0])
	} else {
		fmt.Fprintln(cmd.OutOrStdout(), "Cancelled")
	}
	return nil
}

func runSeed(cmd *cobra.Command, args []string) error {
	cfg, st, err := setup(true)
	if err != nil {
		return err
	}
	defer st.Close()

	log.Printf("Pushing %d random incidents with %d workers...", seedCount, seedWorkers)
	start := time.Now()
	n, err := seed(cmd.Context(), editor.New(st, cfg.Store.Path), rand.New(rand.NewSource(seedValue)), seedCount, seedWorkers, seedBox)
	if err != nil {
		return err
	}
	elapsed := time.Since(start)
	log.Printf("Pushed %d incidents in %v (%.0f/sec)", n, elapsed, float64(n)/elapsed.Seconds())
	return nil
}

// firstRefresh subscribes to path and returns the first published state
func firstRefresh(ctx context.Context, st store.RemoteStore, path string) (syncer.Refresh, error) {
	got := make(chan syncer.Refresh, 1)
	ctrl := syncer.New(st, path, syncer.ConsumerFunc(func(r syncer.Refresh) {
		select {
		case got <- r:
		default:
		}
	}))
	if err := ctrl.Start(ctx); err != nil {
		return syncer.Refresh{}, err
	}
	defer ctrl.Stop()

	select {
	case r := <-got:
		return r, nil
	case <-ctx.Done():
		return syncer.Refresh{}, ctx.Err()
	}
}

// promptConfirmer asks on out and reads a y/N answer from in
func promptConfirmer(in io.Reader, out io.Writer) editor.Confirmer {
	reader := bufio.NewReader(in)
	return editor.ConfirmFunc(func(ctx context.Context, prompt string) (bool, error) {
		fmt.Fprintf(out, "%s [y/N] ", prompt)
		line, err := reader.ReadString('\n')
		if err != nil && line == "" {
			if err == io.EOF {
				return false, nil
			}
			return false, err
		}
		switch strings.ToLower(strings.TrimSpace(line)) {
		case "y", "yes":
			return true, nil
		}
		return false, nil
	})
}

// generateIncidents returns n random incidents inside box
func generateIncidents(r *rand.Rand, n int, box models.BoundingBox) []models.Fields {
	out := make([]models.Fields, n)
	for i := range out {
		lat := box.BottomLeft.Lat + r.Float64()*(box.TopRight.Lat-box.BottomLeft.Lat)
		lng := box.BottomLeft.Lon + r.Float64()*(box.TopRight.Lon-box.BottomLeft.Lon)
		category := categories[r.Intn(len(categories))]
		out[i] = models.Fields{
			Lng:         lng,
			Lat:         lat,
			Category:    category,
			Degree:      1 + r.Intn(3),
			Description: fmt.Sprintf("%s reported near %.4f, %.4f", category, lat, lng),
		}
	}
	return out
}

// seed pushes n random incidents using up to workers concurrent creates
func seed(ctx context.Context, ed *editor.Editor, r *rand.Rand, n, workers int, box models.BoundingBox) (int, error) {
	if workers < 1 {
		workers = 1
	}
	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(workers)

	var pushed atomic.Int64
	for _, fields := range generateIncidents(r, n, box) {
		draft := editor.NewDraft()
		draft.Set(fields)
		g.Go(func() error {
			if _, err := ed.Create(ctx, draft); err != nil {
				return err
			}
			pushed.Add(1)
			return nil
		})
	}
	err := g.Wait()
	return int(pushed.Load()), err
}

var (
	headerStyle   = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("#FF79C6"))
	cellStyle     = lipgloss.NewStyle().Padding(0, 1)
	rejectedStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("#FF5555"))
)

func printRecords(w io.Writer, records []models.IncidentRecord) {
	t := table.New().
		Border(lipgloss.NormalBorder()).
		Headers("ID", "Longitude", "Latitude", "Category", "Degree", "Description").
		StyleFunc(func(row, col int) lipgloss.Style {
			if row == table.HeaderRow {
				return headerStyle.Padding(0, 1)
			}
			return cellStyle
		})
	for _, rec := range records {
		t.Row(recordCells(rec)...)
	}
	fmt.Fprintln(w, t.Render())
	fmt.Fprintf(w, "%d incidents\n", len(records))
}

func recordCells(rec models.IncidentRecord) []string {
	return []string{
		rec.ID,
		strconv.FormatFloat(rec.Lng, 'f', 6, 64),
		strconv.FormatFloat(rec.Lat, 'f', 6, 64),
		rec.Category,
		strconv.Itoa(rec.Degree),
		rec.Description,
	}
}

func printRejected(w io.Writer, rejected []syncer.Rejection) {
	for _, rej := range rejected {
		fmt.Fprintln(w, rejectedStyle.Render(fmt.Sprintf("skipped %s: %v", rej.ID, rej.Err)))
	}
}
