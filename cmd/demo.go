package cmd

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/marcus/livecache/internal/demo"
	"github.com/marcus/livecache/internal/liveview"
	"github.com/marcus/livecache/internal/metrics"
	"github.com/marcus/livecache/internal/model"
	"github.com/marcus/livecache/internal/oplog"
	"github.com/marcus/livecache/internal/registry"
)

var demoAuditDB string

var demoCmd = &cobra.Command{
	Use:   "demo",
	Short: "Run a scripted optimistic create/update/delete walkthrough against an in-memory executor",
	RunE:  runDemo,
}

func init() {
	demoCmd.Flags().StringVar(&demoAuditDB, "audit-db", "", "path to a SQLite file to mirror mutations into, for inspection")
	rootCmd.AddCommand(demoCmd)
}

func runDemo(cmd *cobra.Command, args []string) error {
	ctx := context.Background()

	seed := []model.Record{
		{"id": 1, "name": "first widget", "status": "open"},
		{"id": 2, "name": "second widget", "status": "open"},
		{"id": 3, "name": "third widget", "status": "open"},
		{"id": 4, "name": "fourth widget", "status": "open"},
		{"id": 5, "name": "fifth widget", "status": "closed"},
	}
	executor := demo.NewMemoryExecutor("id", seed)
	reg := registry.New()
	opLog := oplog.New(0)

	if demoAuditDB != "" {
		sink, err := oplog.OpenAuditSink(demoAuditDB)
		if err != nil {
			return err
		}
		defer sink.Close()
		opLog.SetAuditSink(sink)
	}

	view, err := liveview.NewRoot(liveview.Options{
		ModelName:     "widget",
		PKField:       "id",
		Executor:      executor,
		Registry:      reg,
		OpLog:         opLog,
		FixedPageSize: 3,
		OverfetchSize: 2,
	})
	if err != nil {
		return err
	}

	view.Subscribe(func(next, prev []model.Record) {
		fmt.Printf("view changed: %d -> %d rows: %v\n", len(prev), len(next), next)
	})
	view.OnError(func(err error) {
		fmt.Printf("error: %v\n", err)
	})

	if err := view.Refresh(ctx, liveview.RefreshOptions{ClearData: true}); err != nil {
		return err
	}

	count, err := view.ObserveMetric(ctx, metrics.Count, "")
	if err != nil {
		return err
	}
	fmt.Printf("initial count: %v\n", count.Value)

	created, err := view.Create(ctx, model.Record{"name": "third widget", "status": "open"})
	if err != nil {
		return err
	}
	fmt.Printf("created: %v (count now %v)\n", created, view.ActiveMetrics()["count:"].Value)

	open := view.Filter(map[string]any{"status": "open"})

	recentlyOpen, err := view.FilterQuery(`status = "open" AND id >= 2`)
	if err != nil {
		return err
	}
	fmt.Printf("tdq-filtered view: %v\n", recentlyOpen.CurrentView())

	if _, err := open.Update(ctx, model.Record{"status": "closed"}); err != nil {
		return err
	}

	fmt.Printf("overfetch cache depth before delete: %d\n", view.OverfetchDepth())
	n, err := view.Delete(ctx)
	if err != nil {
		return err
	}
	fmt.Printf("deleted %d rows; page refilled to %d rows from the overfetch cache\n", n, len(view.CurrentView()))

	view.Destroy()
	return nil
}
