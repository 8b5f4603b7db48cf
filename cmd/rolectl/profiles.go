package main

import (
	"fmt"
	"io"
	"os"
	"text/tabwriter"
	"time"

	"github.com/raihanakbr/consult-roles/internal/diarize"
	"github.com/raihanakbr/consult-roles/internal/voiceprint"
	"github.com/spf13/cobra"
)

var enrollOwner string

var enrollCmd = &cobra.Command{
	Use:   "enroll --owner <name> <reference.json>",
	Short: "Enroll a voice profile from a single-speaker reference batch",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		profiles, err := voiceprint.Open(cfg.Profiles.Path, log)
		if err != nil {
			return err
		}
		p, err := enrollFile(args[0], enrollOwner, cfg.Enrollment.MinReference, profiles)
		if err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "enrolled %s (%s): %d words, %.1f words/s\n",
			p.ID, p.OwnerName, p.Characteristics.TotalWords, p.Characteristics.SpeechRate)
		return nil
	},
}

var profilesCmd = &cobra.Command{
	Use:   "profiles",
	Short: "Manage enrolled voice profiles",
}

var profilesListCmd = &cobra.Command{
	Use:   "list",
	Short: "List enrolled voice profiles",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		profiles, err := voiceprint.Open(cfg.Profiles.Path, log)
		if err != nil {
			return err
		}
		return listProfiles(cmd.OutOrStdout(), profiles.List())
	},
}

var profilesDeleteCmd = &cobra.Command{
	Use:   "delete <id>",
	Short: "Delete a voice profile",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		profiles, err := voiceprint.Open(cfg.Profiles.Path, log)
		if err != nil {
			return err
		}
		if err := profiles.Delete(args[0]); err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "deleted %s\n", args[0])
		return nil
	},
}

func init() {
	enrollCmd.Flags().StringVar(&enrollOwner, "owner", "", "name shown for the enrolled speaker")
	enrollCmd.MarkFlagRequired("owner")

	profilesCmd.AddCommand(profilesListCmd, profilesDeleteCmd)
	rootCmd.AddCommand(enrollCmd, profilesCmd)
}

func enrollFile(path, owner string, minReference time.Duration, profiles *voiceprint.Store) (*diarize.VoiceProfile, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	wb, err := diarize.DecodeBatch(raw)
	if err != nil {
		return nil, err
	}
	p, err := diarize.EnrollBatch(owner, wb.Batch(), minReference, log)
	if err != nil {
		return nil, err
	}
	return profiles.Add(*p)
}

func listProfiles(w io.Writer, list []diarize.VoiceProfile) error {
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "ID\tOWNER\tWORDS\tCREATED")
	for _, p := range list {
		words := 0
		if p.Characteristics != nil {
			words = p.Characteristics.TotalWords
		}
		fmt.Fprintf(tw, "%s\t%s\t%d\t%s\n", p.ID, p.OwnerName, words, p.CreatedAt.Format(time.RFC3339))
	}
	return tw.Flush()
}
