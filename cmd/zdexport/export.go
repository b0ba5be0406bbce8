package main

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/zdtools/zdexport/pkg/client"
	"github.com/zdtools/zdexport/pkg/config"
	"github.com/zdtools/zdexport/pkg/export"
	"github.com/zdtools/zdexport/pkg/filter"
	"github.com/zdtools/zdexport/pkg/pagination"
	"github.com/zdtools/zdexport/pkg/resource"
	"github.com/zdtools/zdexport/pkg/upload"
)

// fileUploader is implemented by upload.S3Client.
type fileUploader interface {
	UploadFile(ctx context.Context, meta *export.FileMetadata) (string, error)
}

// exportOptions are the flags of the export command that do not fit ExportJob.
type exportOptions struct {
	statuses []string
	missing  string
	upload   bool
}

func newExportCmd(a *app) *cobra.Command {
	var (
		job  config.ExportJob
		opts exportOptions
	)

	cmd := &cobra.Command{
		Use:   "export <resource>",
		Short: "Export a paginated collection to a file",
		Long: `Fetch every page of a resource and write the retained records to a file.

Records can be narrowed with an expression over their fields (--filter),
a status list (--status) or a field that must be empty (--missing). All
given conditions must hold. --limit caps the records kept after filtering.

Without --output the file is written to the output directory as
<prefix>_YYYYMMDD_HHMMSS.<format>.

Examples:
  zdexport export organizations
  zdexport export tickets --status open,pending,hold --missing ticket_category
  zdexport export tickets --filter 'priority == "urgent"' --limit 100 --format json
  zdexport export triggers --fields id,title,active --upload`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			job.Resource = args[0]
			return a.runExport(cmd, job, opts)
		},
	}

	f := cmd.Flags()
	f.StringVar(&job.Filter, "filter", "", "expression evaluated against every record")
	f.StringSliceVar(&opts.statuses, "status", nil, "keep records whose status is in this list")
	f.StringVar(&opts.missing, "missing", "", "keep records where this field path is empty")
	f.IntVar(&job.Limit, "limit", 0, "maximum number of records to keep (0 = unlimited)")
	f.StringVarP(&job.Format, "format", "f", "", "output format: csv, json or xlsx")
	f.StringSliceVar(&job.Fields, "fields", nil, "field paths to write instead of the default columns")
	f.StringVarP(&job.Path, "output", "o", "", "output file path")
	f.BoolVar(&opts.upload, "upload", false, "upload the file to the configured S3 bucket")
	return cmd
}

func (a *app) runExport(cmd *cobra.Command, job config.ExportJob, opts exportOptions) error {
	ctx := cmd.Context()

	if job.Limit < 0 {
		return validationError(pagination.ErrInvalidLimit)
	}
	var extra []pagination.Predicate
	if len(opts.statuses) > 0 {
		extra = append(extra, filter.StatusIn(opts.statuses...))
	}
	if opts.missing != "" {
		if err := filter.ValidatePath(opts.missing); err != nil {
			return validationError(err)
		}
		extra = append(extra, filter.MissingField(opts.missing))
	}

	c, err := a.newClient(ctx)
	if err != nil {
		return err
	}

	var up fileUploader
	if opts.upload {
		if up, err = a.newUploader(ctx); err != nil {
			return err
		}
	}

	outcome, err := a.runJob(ctx, c, up, job, extra...)
	if outcome != nil {
		a.report(outcome)
	}
	return err
}

func newRunCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "run",
		Short: "Run every export listed in the configuration file",
		Long: `Run the exports listed under "exports:" in the configuration file, in order.

A failing job does not stop the remaining ones. Files are uploaded when an
S3 bucket is configured.

Example:
  zdexport run --config zdexport.yaml`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return a.runAll(cmd.Context())
		},
	}
}

func (a *app) runAll(ctx context.Context) error {
	if len(a.cfg.Exports) == 0 {
		return validationError(errors.New("no exports configured"))
	}

	c, err := a.newClient(ctx)
	if err != nil {
		return err
	}

	var up fileUploader
	if a.cfg.Upload.Enabled() {
		if up, err = a.newUploader(ctx); err != nil {
			return err
		}
	}

	var failed []string
	for _, job := range a.cfg.Exports {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		outcome, err := a.runJob(ctx, c, up, job)
		if outcome != nil {
			a.report(outcome)
		}
		if err != nil {
			var ee *exitError
			if errors.As(err, &ee) && ee.code == ExitValidationError {
				return err
			}
			a.logger.Error().Err(err).Str("resource", job.Resource).Msg("Export job failed")
			failed = append(failed, job.Resource)
		}
	}

	if len(failed) > 0 {
		return partialError(fmt.Errorf("%d of %d exports failed: %s", len(failed), len(a.cfg.Exports), strings.Join(failed, ", ")))
	}
	return nil
}

// jobOutcome is what one export job produced.
type jobOutcome struct {
	resource string
	result   *pagination.ExportResult
	file     *export.FileMetadata
	uri      string
}

// runJob fetches the job's resource, writes the retained records and
// optionally uploads the file. Partial results are written before a page
// failure is reported.
func (a *app) runJob(ctx context.Context, c *client.Client, up fileUploader, job config.ExportJob, extra ...pagination.Predicate) (*jobOutcome, error) {
	res, err := resource.Lookup(job.Resource)
	if err != nil {
		return nil, validationError(err)
	}
	return a.runResource(ctx, c, up, res, job, extra...)
}

// runResource is runJob for a resolved resource.
func (a *app) runResource(ctx context.Context, c *client.Client, up fileUploader, res *resource.Resource, job config.ExportJob, extra ...pagination.Predicate) (*jobOutcome, error) {
	format, err := export.ParseFormat(firstNonEmpty(job.Format, a.cfg.Output.Format))
	if err != nil {
		return nil, validationError(err)
	}

	var pred pagination.Predicate
	if strings.TrimSpace(job.Filter) != "" {
		if pred, err = filter.Compile(job.Filter); err != nil {
			return nil, validationError(err)
		}
	}
	pred = filter.All(append([]pagination.Predicate{pred}, extra...)...)

	cols := res.Columns
	if len(job.Fields) > 0 {
		cols = export.Columns(job.Fields...)
	}

	req := res.Request(c.BaseURL())
	req.Limit = job.Limit
	req.Predicate = pred

	pipelineCfg := a.cfg.PipelineConfig()
	pipelineCfg.Logger = &a.logger

	logger := a.logger.With().Str("resource", res.Name).Logger()
	logger.Info().
		Str("endpoint", req.Endpoint).
		Int("limit", job.Limit).
		Str("format", string(format)).
		Msg("Starting export")

	result, err := pagination.NewFetcher(c, pipelineCfg).FetchAll(ctx, req)
	if err != nil {
		return nil, validationError(err)
	}

	path := job.Path
	if path == "" {
		path = export.TimestampedPath(a.cfg.Output.Directory, res.Prefix(), string(format), a.now())
	}

	var meta *export.FileMetadata
	if format == export.FormatJSON {
		meta, err = export.WriteJSON(result.Records, path, a.cfg.Output.JSONIndent)
	} else {
		meta, err = export.Write(format, result.Records, cols, path)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to write %s export: %w", res.Name, err)
	}

	outcome := &jobOutcome{resource: res.Name, result: result, file: meta}
	logger.Info().
		Str("path", meta.Path).
		Int("records", result.RecordsWritten).
		Int("pages", result.PagesFetched).
		Str("stopped", string(result.Stopped)).
		Str("checksum", meta.Checksum).
		Msg("Export written")

	if up != nil {
		uri, err := up.UploadFile(ctx, meta)
		if err != nil {
			return outcome, fmt.Errorf("failed to upload %s: %w", meta.Path, err)
		}
		outcome.uri = uri
	}

	if perr := result.Err(); perr != nil {
		return outcome, partialError(fmt.Errorf("%s export incomplete (%d page errors): %w", res.Name, len(result.Errors), perr))
	}
	return outcome, nil
}

func (a *app) newUploader(ctx context.Context) (fileUploader, error) {
	s3c, err := upload.NewS3Client(ctx, a.cfg.Upload)
	if err != nil {
		if errors.Is(err, upload.ErrNoBucket) {
			return nil, validationError(fmt.Errorf("%w (set %s or upload.bucket)", err, config.EnvS3Bucket))
		}
		return nil, err
	}
	return s3c, nil
}

// report prints a one-line summary of a job to stdout.
func (a *app) report(o *jobOutcome) {
	if o.file == nil {
		return
	}
	line := fmt.Sprintf("%s: %d records -> %s", o.resource, o.result.RecordsWritten, o.file.Path)
	if o.uri != "" {
		line += " (" + o.uri + ")"
	}
	if n := len(o.result.Errors); n > 0 {
		line += fmt.Sprintf(" [%d page errors]", n)
	}
	fmt.Fprintln(a.stdout, line)
}

func newCountCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "count <resource>",
		Short: "Print the server-side record count of a resource",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			res, err := resource.Lookup(args[0])
			if err != nil {
				return validationError(err)
			}
			c, err := a.newClient(cmd.Context())
			if err != nil {
				return err
			}
			n, err := c.Count(cmd.Context(), res.Name)
			if err != nil {
				return err
			}
			fmt.Fprintf(a.stdout, "%s: %d\n", res.Name, n)
			return nil
		},
	}
}

func newResourcesCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "resources",
		Short: "List the exportable resources",
		Args:  cobra.NoArgs,
		RunE: func(_ *cobra.Command, _ []string) error {
			w := tabwriter.NewWriter(a.stdout, 0, 4, 2, ' ', 0)
			fmt.Fprintln(w, "NAME\tPATH\tPAGINATION\tCOLUMNS")
			for _, r := range resource.All() {
				fmt.Fprintf(w, "%s\t%s\t%s\t%s\n", r.Name, r.Path, r.Style, strings.Join(export.Headers(r.Columns), ", "))
			}
			return w.Flush()
		},
	}
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if strings.TrimSpace(v) != "" {
			return v
		}
	}
	return ""
}
