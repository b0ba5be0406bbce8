package main

import (
	"errors"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/zdtools/zdexport/pkg/bulk"
	"github.com/zdtools/zdexport/pkg/config"
	"github.com/zdtools/zdexport/pkg/export"
	"github.com/zdtools/zdexport/pkg/pagination"
	"github.com/zdtools/zdexport/pkg/report"
	"github.com/zdtools/zdexport/pkg/resource"
)

func newTicketDetailsCmd(a *app) *cobra.Command {
	var (
		src      idSource
		comments bool
		format   string
		output   string
	)
	cmd := &cobra.Command{
		Use:   "details",
		Short: "Write a per-ticket report with organization name and resolution time",
		Long: `Look up each ticket on its own and write one row per ticket: subject,
type, status, requester, organization name and, for solved or closed tickets,
the time from creation to the last update.

A ticket that cannot be looked up gets a row with only its id and the error;
the remaining tickets are still reported. With --comments every comment is
fetched as well; the comment bodies are only kept in JSON output.

Examples:
  zdexport tickets details --ids 82504,83310
  zdexport tickets details --csv tickets.csv --comments --format json`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx := cmd.Context()

			ids, err := src.load()
			if err != nil {
				return err
			}
			f, err := export.ParseFormat(firstNonEmpty(format, a.cfg.Output.Format))
			if err != nil {
				return validationError(err)
			}
			c, err := a.newClient(ctx)
			if err != nil {
				return err
			}

			pipelineCfg := a.cfg.PipelineConfig()
			pipelineCfg.Logger = &a.logger
			records, runErr := report.TicketDetails(ctx, c, ids, report.Options{
				Comments: comments,
				Delay:    a.cfg.Pagination.PageDelay,
				Pipeline: pipelineCfg,
			})
			if len(records) == 0 {
				return runErr
			}

			path := output
			if path == "" {
				path = export.TimestampedPath(a.cfg.Output.Directory, "ticket_details", string(f), a.now())
			}
			var meta *export.FileMetadata
			if f == export.FormatJSON {
				meta, err = export.WriteJSON(records, path, a.cfg.Output.JSONIndent)
			} else {
				meta, err = export.Write(f, records, report.Columns, path)
			}
			if err != nil {
				return fmt.Errorf("failed to write ticket report: %w", err)
			}

			failed := report.Failures(records)
			line := fmt.Sprintf("ticket details: %d tickets -> %s", len(records), meta.Path)
			if failed > 0 {
				line += fmt.Sprintf(" [%d failed]", failed)
			}
			fmt.Fprintln(a.stdout, line)

			if runErr != nil {
				return runErr
			}
			if failed > 0 {
				return partialError(fmt.Errorf("%d of %d tickets could not be looked up", failed, len(records)))
			}
			return nil
		},
	}
	src.register(cmd, "Ticket ID")
	cmd.Flags().BoolVar(&comments, "comments", false, "fetch every comment of each ticket")
	cmd.Flags().StringVarP(&format, "format", "f", "", "output format: csv, json or xlsx")
	cmd.Flags().StringVarP(&output, "output", "o", "", "output file path")
	return cmd
}

func newTicketIncidentsCmd(a *app) *cobra.Command {
	var job config.ExportJob
	cmd := &cobra.Command{
		Use:   "incidents <problem-id>...",
		Short: "Export the incidents linked to problem tickets",
		Long: `Export the incident tickets linked to each given problem ticket, one file
per problem. A problem that fails does not stop the remaining ones.

Examples:
  zdexport tickets incidents 83071
  zdexport tickets incidents 84364 84926 --format json`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()

			ids, err := bulk.ValidateIDs(args)
			if err != nil {
				return validationError(err)
			}
			if job.Path != "" && len(ids) > 1 {
				return validationError(errors.New("--output needs a single problem id"))
			}
			if job.Limit < 0 {
				return validationError(pagination.ErrInvalidLimit)
			}
			c, err := a.newClient(ctx)
			if err != nil {
				return err
			}

			var failed []string
			for _, id := range ids {
				if ctx.Err() != nil {
					return ctx.Err()
				}
				outcome, err := a.runResource(ctx, c, nil, resource.Incidents(id), job)
				if outcome != nil {
					a.report(outcome)
				}
				if err != nil {
					var ee *exitError
					if errors.As(err, &ee) && ee.code == ExitValidationError {
						return err
					}
					a.logger.Error().Err(err).Str("problem_id", id).Msg("Incident export failed")
					failed = append(failed, id)
				}
			}
			if len(failed) > 0 {
				return partialError(fmt.Errorf("incidents of %d of %d problems could not be exported", len(failed), len(ids)))
			}
			return nil
		},
	}
	cmd.Flags().IntVar(&job.Limit, "limit", 0, "maximum number of incidents per problem (0 = unlimited)")
	cmd.Flags().StringVarP(&job.Format, "format", "f", "", "output format: csv, json or xlsx")
	cmd.Flags().StringVarP(&job.Path, "output", "o", "", "output file path (single problem only)")
	return cmd
}
