package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"

	"cell-tracker-go/internal/service"
)

const usage = `usage: ctadmin <command> [flags]

commands:
  track              recompute link_id (-exp, -user, -frame; all experiments without -exp)
  check-links        report link_id values missing from the previous frame (-exp)
  check-regions      report archive polygons with fewer than 3 vertices (-exp)
  fix-num-edited     recompute num_edited of user records (-exp)
  clean-user-edits   delete a user's edits from the database and archive (-user, -exp, -frame)
  delete-experiment  delete all data of an experiment (-exp)
  sync-from-archive  load system segmentation from the archive (-exp; all known without -exp)
  export-tracks      write cell trajectories as CSV (-exp, -user, -out)
`

var errUsage = errors.New("invalid arguments")

type commands struct {
	tracking    *service.TrackingService
	maintenance *service.MaintenanceService
	report      *service.ReportService
	out         io.Writer
}

func (c *commands) run(ctx context.Context, name string, args []string) error {
	fs := flag.NewFlagSet(name, flag.ContinueOnError)
	expID := fs.String("exp", "", "experiment id")
	username := fs.String("user", "", "username")
	frameNo := fs.Int("frame", 0, "frame number")
	outPath := fs.String("out", "", "output file (stdout if empty)")
	if err := fs.Parse(args); err != nil {
		return err
	}

	switch name {
	case "track":
		if *expID == "" {
			failed, err := c.tracking.TrackAll(ctx, *username)
			if err != nil {
				return err
			}
			errs := make(map[string]string, len(failed))
			for id, e := range failed {
				errs[id] = e.Error()
			}
			return c.print(map[string]interface{}{"failed": errs})
		}
		resp, err := c.tracking.AddTracking(ctx, *expID, *username, *frameNo)
		if err != nil {
			return err
		}
		return c.print(resp)

	case "check-links":
		if *expID == "" {
			reports, err := c.maintenance.CheckAllLinks(ctx)
			if err != nil {
				return err
			}
			return c.print(reports)
		}
		report, err := c.maintenance.CheckLinks(ctx, *expID)
		if err != nil {
			return err
		}
		return c.print(report)

	case "check-regions":
		if *expID == "" {
			return fmt.Errorf("-exp is required: %w", errUsage)
		}
		issues, err := c.maintenance.CheckRegions(ctx, *expID)
		if err != nil {
			return err
		}
		return c.print(issues)

	case "fix-num-edited":
		fixes, err := c.maintenance.FixNumEdited(ctx, *expID)
		if err != nil {
			return err
		}
		return c.print(fixes)

	case "clean-user-edits":
		n, err := c.maintenance.CleanUserEdits(ctx, *username, *expID, *frameNo)
		if err != nil {
			return err
		}
		return c.print(map[string]int64{"deleted": n})

	case "delete-experiment":
		if *expID == "" {
			return fmt.Errorf("-exp is required: %w", errUsage)
		}
		if err := c.maintenance.DeleteExperiment(ctx, *expID); err != nil {
			return err
		}
		return c.print(map[string]string{"deleted": *expID})

	case "sync-from-archive":
		if *expID == "" {
			reports, err := c.maintenance.SyncAllFromArchive(ctx)
			if err != nil {
				return err
			}
			return c.print(reports)
		}
		report, err := c.maintenance.SyncFromArchive(ctx, *expID)
		if err != nil {
			return err
		}
		return c.print(report)

	case "export-tracks":
		if *expID == "" {
			return fmt.Errorf("-exp is required: %w", errUsage)
		}
		resp, err := c.report.Tracks(ctx, *expID, *username)
		if err != nil {
			return err
		}
		w := c.out
		if *outPath != "" {
			f, err := os.Create(*outPath)
			if err != nil {
				return fmt.Errorf("failed to create %s: %w", *outPath, err)
			}
			defer f.Close()
			w = f
		}
		return service.WriteTracksCSV(w, resp.Tracks)

	default:
		return fmt.Errorf("unknown command %q: %w", name, errUsage)
	}
}

func (c *commands) print(v interface{}) error {
	enc := json.NewEncoder(c.out)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
