/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/conference-hall/scheduler/internal/db"
	"github.com/conference-hall/scheduler/internal/eventbus"
	"github.com/conference-hall/scheduler/internal/schedule"
)

var importCmd = &cobra.Command{
	Use:   "import <layout.yaml>",
	Short: "Import a schedule layout",
	Long:  "Create or replace a schedule, its tracks and seeded sessions from a YAML layout file. Running servers reload the schedule through the event bus.",
	Args:  cobra.ExactArgs(1),
	RunE:  runImport,
}

var importDryRun bool

func init() {
	rootCmd.AddCommand(importCmd)
	importCmd.Flags().BoolVar(&importDryRun, "dry-run", false, "Validate the layout without importing")
}

func runImport(cmd *cobra.Command, args []string) error {
	f, err := os.Open(args[0])
	if err != nil {
		return fmt.Errorf("open layout: %w", err)
	}
	defer f.Close()

	layout, err := schedule.ParseLayout(f)
	if err != nil {
		return err
	}

	out := cmd.OutOrStdout()
	if importDryRun {
		if violations := layout.Validate(); len(violations) > 0 {
			printViolations(out, violations)
			return fmt.Errorf("layout has %d problem(s)", len(violations))
		}
		fmt.Fprintln(out, "layout is valid")
		return nil
	}

	if err := loadConfig(); err != nil {
		return err
	}
	ctx := context.Background()

	database, err := db.Connect(cfg)
	if err != nil {
		return err
	}
	defer func() { _ = db.Close(database) }()
	if err := db.Migrate(database); err != nil {
		return err
	}

	entityCache := openCache()
	defer func() { _ = entityCache.Close() }()

	bus, err := eventbus.New(cfg, logger)
	if err != nil {
		return fmt.Errorf("create event bus: %w", err)
	}
	defer func() { _ = bus.Close() }()

	svc := schedule.NewService(database, entityCache, bus, logger)
	sched, err := svc.ImportLayout(ctx, layout)
	if err != nil {
		var layoutErr *schedule.LayoutError
		if errors.As(err, &layoutErr) {
			printViolations(out, layoutErr.Violations)
		}
		return err
	}

	fmt.Fprintf(out, "imported schedule %s (%s): %d track(s)\n", sched.ID, sched.Name, len(sched.Tracks))
	return nil
}

func printViolations(w io.Writer, violations []schedule.Violation) {
	for _, v := range violations {
		line := fmt.Sprintf("  %s: %s", v.Field, v.Message)
		if len(v.AffectedIDs) > 0 {
			line += " [" + strings.Join(v.AffectedIDs, ", ") + "]"
		}
		fmt.Fprintln(w, line)
	}
}
