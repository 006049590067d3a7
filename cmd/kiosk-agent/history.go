package main

import (
	"encoding/json"
	"fmt"
	"io"
	"strconv"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"

	"github.com/heimdex/faceswap-kiosk/internal/db"
	"github.com/heimdex/faceswap-kiosk/internal/history"
)

func newHistoryCommand(ctx *commandContext) *cobra.Command {
	var (
		limit   int
		asJSON  bool
		eventID string
	)

	cmd := &cobra.Command{
		Use:   "history",
		Short: "List recent jobs from the journal",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := ctx.config()
			if err != nil {
				return err
			}
			database, err := db.Open(cfg.DBPath(), ctx.logger(cfg))
			if err != nil {
				return err
			}
			defer database.Close()
			repo := history.NewRepository(database.Conn())
			out := cmd.OutOrStdout()

			if eventID != "" {
				events, err := repo.ListEvents(cmd.Context(), eventID)
				if err != nil {
					return err
				}
				if asJSON {
					return writeJSON(out, events)
				}
				fmt.Fprintln(out, renderEvents(events))
				return nil
			}

			jobs, err := repo.ListJobs(cmd.Context(), limit)
			if err != nil {
				return err
			}
			if asJSON {
				return writeJSON(out, jobs)
			}
			if len(jobs) == 0 {
				fmt.Fprintln(out, "No jobs recorded")
				return nil
			}
			fmt.Fprintln(out, renderJobs(jobs, time.Now()))
			return nil
		},
	}

	cmd.Flags().IntVarP(&limit, "limit", "n", 20, "Number of jobs to show")
	cmd.Flags().BoolVar(&asJSON, "json", false, "Print JSON instead of a table")
	cmd.Flags().StringVar(&eventID, "events", "", "Show the transitions of one job")

	return cmd
}

func renderJobs(jobs []*history.Job, now time.Time) string {
	headers := []string{"Job", "Scenario", "Phase", "Remote", "Size", "Polls", "Via", "Updated", "Note"}
	aligns := []columnAlignment{alignLeft, alignLeft, alignLeft, alignLeft, alignRight, alignRight, alignLeft, alignLeft, alignLeft}

	rows := make([][]string, 0, len(jobs))
	for _, j := range jobs {
		size := "-"
		if j.SizeBytes > 0 {
			size = humanize.Bytes(uint64(j.SizeBytes))
		}
		note := j.Failure
		if j.Error != "" {
			note = j.Failure + ": " + j.Error
		}
		if j.Degraded {
			note = "demo"
		}
		rows = append(rows, []string{
			j.ID,
			j.Scenario,
			j.Phase,
			j.RemoteStatus,
			size,
			strconv.Itoa(j.Polls),
			j.Strategy,
			humanize.RelTime(j.UpdatedAt, now, "ago", "from now"),
			note,
		})
	}
	return renderTable(headers, rows, aligns)
}

func renderEvents(events []*history.Event) string {
	headers := []string{"Time", "Phase", "Remote", "Message"}
	rows := make([][]string, 0, len(events))
	for _, ev := range events {
		rows = append(rows, []string{
			ev.CreatedAt.Local().Format(time.TimeOnly),
			ev.Phase,
			ev.RemoteStatus,
			ev.Message,
		})
	}
	return renderTable(headers, rows, nil)
}

func writeJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
