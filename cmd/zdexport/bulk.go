package main

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/zdtools/zdexport/pkg/bulk"
	"github.com/zdtools/zdexport/pkg/export"
)

// idSource selects ids from --ids or a CSV column.
type idSource struct {
	ids    []string
	csv    string
	column string
}

func (s *idSource) register(cmd *cobra.Command, defaultColumn string) {
	f := cmd.Flags()
	f.StringSliceVar(&s.ids, "ids", nil, "comma-separated ids")
	f.StringVar(&s.csv, "csv", "", "CSV file holding the ids")
	f.StringVar(&s.column, "column", defaultColumn, "CSV header of the id column")
}

func (s *idSource) load() ([]string, error) {
	if s.csv != "" && len(s.ids) > 0 {
		return nil, validationError(errors.New("--ids and --csv cannot be combined"))
	}
	ids := s.ids
	if s.csv != "" {
		var err error
		if ids, err = bulk.LoadIDColumn(s.csv, s.column); err != nil {
			return nil, validationError(err)
		}
	}
	ids, err := bulk.ValidateIDs(ids)
	if err != nil {
		return nil, validationError(err)
	}
	return ids, nil
}

func newTagsCmd(a *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "tags",
		Short: "Ticket tag maintenance",
	}

	var (
		csvPath string
		ids     []string
		tag     string
	)
	add := &cobra.Command{
		Use:   "add",
		Short: "Add a tag to many tickets in one update_many request",
		Long: `Add a tag to tickets without removing their existing tags.

The ids and the tag come either from flags or from a CSV file with a header
row and "Ticket ID,Tag" columns; the last non-empty tag in the file is used.

Examples:
  zdexport tags add --csv add_tags.csv
  zdexport tags add --ids 101,102 --tag migrated`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if csvPath != "" {
				if len(ids) > 0 || tag != "" {
					return validationError(errors.New("--csv cannot be combined with --ids or --tag"))
				}
				var err error
				if ids, tag, err = bulk.LoadTagCSV(csvPath); err != nil {
					return validationError(err)
				}
			}
			if _, err := bulk.ValidateIDs(ids); err != nil {
				return validationError(err)
			}
			if tag == "" {
				return validationError(bulk.ErrNoTag)
			}

			c, err := a.newClient(cmd.Context())
			if err != nil {
				return err
			}
			job, err := bulk.AddTag(cmd.Context(), c, ids, tag)
			if err != nil {
				return err
			}
			fmt.Fprintf(a.stdout, "tag %q queued for %d tickets (job %s, %s)\n", tag, len(ids), job.ID, job.Status)
			return nil
		},
	}
	add.Flags().StringVar(&csvPath, "csv", "", "CSV file with Ticket ID and Tag columns")
	add.Flags().StringSliceVar(&ids, "ids", nil, "comma-separated ticket ids")
	add.Flags().StringVar(&tag, "tag", "", "tag to add")

	cmd.AddCommand(add)
	return cmd
}

func newTicketsCmd(a *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "tickets",
		Short: "Ticket maintenance",
	}

	var (
		src     idSource
		logPath string
	)
	del := &cobra.Command{
		Use:   "delete",
		Short: "Delete tickets one at a time",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return a.deleteEach(cmd.Context(), "tickets", "Ticket ID", &src, logPath, bulk.DeleteTickets)
		},
	}
	src.register(del, "Ticket ID")
	del.Flags().StringVar(&logPath, "log", "", "write the per-ticket results to this CSV file")

	cmd.AddCommand(del, newTicketDetailsCmd(a), newTicketIncidentsCmd(a))
	return cmd
}

// triggerIDColumn names the trigger id column of both the input CSV and the
// result log.
const triggerIDColumn = "Trigger_deletion"

func newTriggersCmd(a *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "triggers",
		Short: "Trigger maintenance",
	}

	var (
		src     idSource
		logPath string
	)
	del := &cobra.Command{
		Use:   "delete",
		Short: "Delete triggers one at a time and write a result log",
		Long: `Delete triggers one at a time, pausing between requests.

Every attempt is recorded in a CSV log (Trigger_deletion, Status, Response Code,
Error Message). Without --log it is written to the bulk log directory as
trigger_deletion_log_YYYYMMDD_HHMMSS.csv.

Examples:
  zdexport triggers delete --csv delete_triggers.csv
  zdexport triggers delete --ids 360001,360002`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			path := logPath
			if path == "" {
				path = export.TimestampedPath(a.cfg.Bulk.LogDir, "trigger_deletion_log", "csv", a.now())
			}
			return a.deleteEach(cmd.Context(), "triggers", triggerIDColumn, &src, path, bulk.DeleteTriggers)
		},
	}
	src.register(del, triggerIDColumn)
	del.Flags().StringVar(&logPath, "log", "", "result log path")

	cmd.AddCommand(del)
	return cmd
}

type deleteFunc func(ctx context.Context, m bulk.Mutator, ids []string, delay time.Duration) ([]bulk.Result, error)

// deleteEach runs a per-record delete and reports failures as a partial
// failure. The log is written even when the run was cancelled.
func (a *app) deleteEach(ctx context.Context, kind, idHeader string, src *idSource, logPath string, del deleteFunc) error {
	ids, err := src.load()
	if err != nil {
		return err
	}
	c, err := a.newClient(ctx)
	if err != nil {
		return err
	}

	results, runErr := del(ctx, c, ids, a.cfg.Bulk.DeleteDelay)

	if logPath != "" && len(results) > 0 {
		meta, err := bulk.WriteLog(results, idHeader, logPath)
		if err != nil {
			return fmt.Errorf("failed to write %s deletion log: %w", kind, err)
		}
		a.logger.Info().Str("path", meta.Path).Int64("rows", meta.RowCount-1).Msg("Deletion log written")
	}

	succeeded, failed := bulk.Summarize(results)
	fmt.Fprintf(a.stdout, "%s deleted: %d succeeded, %d failed\n", kind, succeeded, failed)

	if runErr != nil {
		return runErr
	}
	if failed > 0 {
		return partialError(fmt.Errorf("%d of %d %s could not be deleted", failed, len(results), kind))
	}
	return nil
}

func newAutomationsCmd(a *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "automations",
		Short: "Automation maintenance",
	}

	var src idSource
	del := &cobra.Command{
		Use:   "delete",
		Short: "Delete automations with one destroy_many request",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ids, err := src.load()
			if err != nil {
				return err
			}
			c, err := a.newClient(cmd.Context())
			if err != nil {
				return err
			}
			job, err := bulk.DeleteAutomations(cmd.Context(), c, ids)
			if err != nil {
				return err
			}
			fmt.Fprintf(a.stdout, "automations deleted: %d (%s)\n", len(ids), job.Status)
			return nil
		},
	}
	src.register(del, "Automation ID")

	cmd.AddCommand(del)
	return cmd
}
