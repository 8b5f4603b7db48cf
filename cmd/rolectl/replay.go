package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"

	"github.com/raihanakbr/consult-roles/internal/diarize"
	"github.com/raihanakbr/consult-roles/internal/render"
	"github.com/raihanakbr/consult-roles/internal/session"
	"github.com/raihanakbr/consult-roles/internal/voiceprint"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"
)

// ReplayFile is one recorded conversation.
type ReplayFile struct {
	SessionID        string              `json:"sessionId"`
	SpeakersExpected int                 `json:"speakersExpected"`
	LanguageCode     string              `json:"languageCode"`
	ProfileID        string              `json:"profileId"`
	Batches          []diarize.WireBatch `json:"batches"`
}

type replayResult struct {
	File       string             `json:"file"`
	SessionID  string             `json:"sessionId"`
	Segments   []diarize.Segment  `json:"segments"`
	Assignment diarize.Assignment `json:"assignment"`
	Dropped    int                `json:"dropped"`
}

var (
	replayJobs   int
	replayFormat string
)

var replayCmd = &cobra.Command{
	Use:   "replay <file>...",
	Short: "Replay recorded batches and print the labeled transcript",
	Args:  cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		if replayFormat != "text" && replayFormat != "json" {
			return fmt.Errorf("unknown format %q", replayFormat)
		}
		ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
		defer stop()

		profiles, err := voiceprint.Open(cfg.Profiles.Path, log)
		if err != nil {
			return err
		}
		results, err := replayAll(ctx, args, replayJobs, profiles, log)
		if err != nil {
			return err
		}
		return writeResults(cmd.OutOrStdout(), results, replayFormat)
	},
}

func init() {
	replayCmd.Flags().IntVarP(&replayJobs, "jobs", "j", 4, "files replayed in parallel")
	replayCmd.Flags().StringVarP(&replayFormat, "format", "f", "text", "output format: text, json")
	rootCmd.AddCommand(replayCmd)
}

// replayAll replays every file on its own session with bounded parallelism. Results keep
// the order of paths.
func replayAll(ctx context.Context, paths []string, jobs int, profiles *voiceprint.Store, log logrus.FieldLogger) ([]replayResult, error) {
	sessions := session.NewStore(0, log)
	results := make([]replayResult, len(paths))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(max(jobs, 1))

	for i, path := range paths {
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			r, err := replayFile(path, sessions, profiles)
			if err != nil {
				return fmt.Errorf("%s: %w", path, err)
			}
			results[i] = r
			log.WithFields(logrus.Fields{"file": path, "segments": len(r.Segments)}).Debug("Replayed file")
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return results, nil
}

func replayFile(path string, sessions *session.Store, profiles *voiceprint.Store) (replayResult, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return replayResult{}, err
	}
	var f ReplayFile
	if err := json.Unmarshal(raw, &f); err != nil {
		return replayResult{}, fmt.Errorf("decode replay file: %w", err)
	}

	opts := diarize.Options{SpeakersExpected: f.SpeakersExpected, Language: f.LanguageCode}
	if f.ProfileID != "" {
		if opts.Profile, err = profiles.Get(f.ProfileID); err != nil {
			return replayResult{}, err
		}
	}

	entry, resumed := sessions.Open(f.SessionID, opts)
	if resumed {
		return replayResult{}, fmt.Errorf("session %s appears in more than one file", f.SessionID)
	}
	dropped := 0
	for _, wb := range f.Batches {
		up, err := entry.Process(wb.Batch())
		if err != nil {
			return replayResult{}, err
		}
		dropped += up.Dropped
	}
	entry.Complete(0)

	info := entry.Info()
	return replayResult{
		File:       path,
		SessionID:  info.ID,
		Segments:   info.Segments,
		Assignment: info.Assignment,
		Dropped:    dropped,
	}, nil
}

func writeResults(w io.Writer, results []replayResult, format string) error {
	if format == "json" {
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(results)
	}
	for i, r := range results {
		if i > 0 {
			fmt.Fprintln(w)
		}
		fmt.Fprintf(w, "== %s (session %s, method %s)\n", r.File, r.SessionID, r.Assignment.Method)
		io.WriteString(w, render.Text(r.Segments))
		fmt.Fprintln(w)
		if err := render.Roles(w, r.Assignment); err != nil {
			return err
		}
	}
	return nil
}
