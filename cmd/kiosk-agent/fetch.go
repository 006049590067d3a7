package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/mattn/go-isatty"
	"github.com/spf13/cobra"

	"github.com/heimdex/faceswap-kiosk/internal/tracker"
)

func newFetchCommand(ctx *commandContext) *cobra.Command {
	var (
		imagePath string
		scenario  string
		jobID     string
		outPath   string
		timeout   time.Duration
	)

	cmd := &cobra.Command{
		Use:   "fetch",
		Short: "Run one face-swap job and save the result",
		Long: "Submits a face image for a scenario, or resumes an existing job with --job, " +
			"waits for the result and writes the video to a file.",
		RunE: func(cmd *cobra.Command, args []string) error {
			if (imagePath == "") == (jobID == "") {
				return errors.New("exactly one of --image or --job is required")
			}
			cfg, err := ctx.config()
			if err != nil {
				return err
			}
			logger := ctx.logger(cfg)

			sess, _ := newSession(cfg, logger)
			defer sess.Dispose(context.Background())

			var h *tracker.Handle
			if jobID != "" {
				h, err = sess.Tracker().Track(jobID)
			} else {
				img, readErr := os.ReadFile(imagePath)
				if readErr != nil {
					return fmt.Errorf("read image: %w", readErr)
				}
				h, err = sess.Tracker().Start(tracker.StartRequest{FaceImage: img, Scenario: scenario})
			}
			if err != nil {
				return err
			}

			waitCtx, cancel := context.WithTimeout(cmd.Context(), timeout)
			defer cancel()

			snap := follow(waitCtx, h, cmd.ErrOrStderr())
			if waitCtx.Err() != nil {
				h.Cancel()
				return fmt.Errorf("job %s did not finish: %w", snap.JobID, waitCtx.Err())
			}
			if snap.Phase == tracker.PhaseFailed {
				return fmt.Errorf("job %s failed (%s): %s", snap.JobID, snap.Failure, snap.Error)
			}

			out := cmd.OutOrStdout()
			if snap.Degraded {
				fmt.Fprintf(out, "demo run %s (%s)\n", snap.JobID, snap.DegradedReason)
			}
			entry, ok := sess.Cache().Get(snap.JobID)
			if !ok {
				fmt.Fprintf(out, "job %s finished without media\n", snap.JobID)
				return nil
			}
			if entry.Handle == nil {
				fmt.Fprintf(out, "job %s is playable from %s\n", snap.JobID, entry.ReferenceURL)
				return nil
			}

			if outPath == "" {
				outPath = snap.JobID + ".mp4"
			}
			if err := writeMedia(outPath, entry.Handle); err != nil {
				return err
			}
			fmt.Fprintf(out, "saved %s (%s, %s)\n", outPath, humanize.Bytes(uint64(entry.SizeBytes)), entry.Strategy)
			return nil
		},
	}

	cmd.Flags().StringVar(&imagePath, "image", "", "Face image to submit")
	cmd.Flags().StringVar(&scenario, "scenario", "", "Scenario (video) to swap into")
	cmd.Flags().StringVar(&jobID, "job", "", "Resume an existing job instead of submitting")
	cmd.Flags().StringVarP(&outPath, "output", "o", "", "Where to write the video (default <job id>.mp4)")
	cmd.Flags().DurationVar(&timeout, "timeout", 15*time.Minute, "Give up after this long")

	return cmd
}

// follow reports the job's progress on w until it ends or ctx is done.
func follow(ctx context.Context, h *tracker.Handle, w io.Writer) tracker.Snapshot {
	events, stop := h.Subscribe()
	defer stop()

	live := false
	if f, ok := w.(*os.File); ok {
		live = isatty.IsTerminal(f.Fd()) || isatty.IsCygwinTerminal(f.Fd())
	}

	var last tracker.Phase
	for {
		select {
		case <-ctx.Done():
			return h.Snapshot()
		case ev, ok := <-events:
			if !ok {
				if live {
					fmt.Fprintln(w)
				}
				return h.Snapshot()
			}
			s := ev.Snapshot
			if s.Phase != last {
				if live && last != "" {
					fmt.Fprintln(w)
				}
				fmt.Fprintf(w, "%s %s", s.Phase, s.JobID)
				if !live {
					fmt.Fprintln(w)
				}
				last = s.Phase
			}
			if s.Progress != nil && live {
				p := s.Progress
				fmt.Fprintf(w, "\r%s %s  %5.1f%%  %s / %s  %s/s ",
					s.Phase, s.JobID, p.Percent,
					humanize.Bytes(uint64(p.BytesLoaded)), humanize.Bytes(uint64(max(p.BytesTotal, 0))),
					humanize.Bytes(uint64(p.Speed)))
			}
		}
	}
}

func writeMedia(path string, h interface{ WriteTo(io.Writer) (int64, error) }) error {
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return fmt.Errorf("create output dir: %w", err)
		}
	}
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("create output: %w", err)
	}
	if _, err := h.WriteTo(f); err != nil {
		f.Close()
		return fmt.Errorf("write output: %w", err)
	}
	return f.Close()
}
