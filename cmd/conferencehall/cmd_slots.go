package main

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/conference-hall/scheduler/internal/timeslot"
)

var slotsCmd = &cobra.Command{
	Use:   "slots",
	Short: "Print the timeslot grid of a day",
	RunE:  runSlots,
}

type slotsOptions struct {
	day        string
	start      string
	end        string
	interval   int
	includeEnd bool
	tz         string
}

var slotsOpts slotsOptions

func init() {
	rootCmd.AddCommand(slotsCmd)
	slotsCmd.Flags().StringVar(&slotsOpts.day, "day", "", "Day to slice, YYYY-MM-DD (required)")
	slotsCmd.Flags().StringVar(&slotsOpts.start, "start", "09:00", "First slot start, HH:MM")
	slotsCmd.Flags().StringVar(&slotsOpts.end, "end", "18:00", "Last slot bound, HH:MM")
	slotsCmd.Flags().IntVar(&slotsOpts.interval, "interval", 15, "Slot length in minutes")
	slotsCmd.Flags().BoolVar(&slotsOpts.includeEnd, "include-end", false, "Also print the slot starting at --end")
	slotsCmd.Flags().StringVar(&slotsOpts.tz, "tz", "UTC", "IANA timezone of the day")
	_ = slotsCmd.MarkFlagRequired("day")
}

func runSlots(cmd *cobra.Command, args []string) error {
	slots, err := buildSlots(slotsOpts)
	if err != nil {
		return err
	}
	out := cmd.OutOrStdout()
	for _, s := range slots {
		fmt.Fprintf(out, "%s  %3d min\n", s, s.DurationMinutes())
	}
	return nil
}

func buildSlots(opts slotsOptions) ([]timeslot.Slot, error) {
	if opts.interval <= 0 {
		return nil, fmt.Errorf("interval must be positive, got %d", opts.interval)
	}
	loc, err := time.LoadLocation(opts.tz)
	if err != nil {
		return nil, fmt.Errorf("load timezone: %w", err)
	}
	day, err := time.ParseInLocation(time.DateOnly, opts.day, loc)
	if err != nil {
		return nil, fmt.Errorf("parse day: %w", err)
	}
	start, err := timeslot.AtTimeOfDay(day, opts.start)
	if err != nil {
		return nil, err
	}
	end, err := timeslot.AtTimeOfDay(day, opts.end)
	if err != nil {
		return nil, err
	}
	return timeslot.Daily(day, start, end, opts.interval, opts.includeEnd), nil
}
