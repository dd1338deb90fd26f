package main

import (
	"fmt"
	"strconv"
	"time"

	"strikekeeper/internal/dashboard"
	"strikekeeper/internal/strikes"

	"github.com/disgoorg/snowflake/v2"
	"github.com/spf13/cobra"
)

var issueModerator string

var issueCmd = &cobra.Command{
	Use:   "issue <user-id> <reason>",
	Short: "Issue a strike to a user",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		user, err := parseID(args[0])
		if err != nil {
			return err
		}
		moderator, err := parseID(issueModerator)
		if err != nil {
			return fmt.Errorf("--moderator: %w", err)
		}

		a, err := openApp(cmd.Context())
		if err != nil {
			return err
		}
		defer a.Close()

		result, err := a.engine.IssueStrike(cmd.Context(), strikes.IssueRequest{
			User:      user,
			Moderator: moderator,
			Reason:    args[1],
		})
		if result.StrikeID == 0 && err != nil {
			return err
		}

		out := cmd.OutOrStdout()
		fmt.Fprintf(out, "Strike %d issued to %s\n", result.StrikeID, user)
		fmt.Fprintf(out, "Current Strikes: %d/%d\n", result.ActiveCount, strikes.EscalationThreshold)
		fmt.Fprintf(out, "Total Violations: %d\n", result.ViolationCount)
		fmt.Fprintf(out, "Reset In: %s\n", dashboard.FormatTimeRemaining(result.NextReset, time.Now()))
		if e := result.Escalation; e != nil {
			fmt.Fprintf(out, "Punishment: %s timeout (violation #%d)", formatMinutes(e.Duration), e.ViolationCount)
			if !e.Enforced {
				fmt.Fprint(out, " - not applied")
			}
			fmt.Fprintln(out)
		}
		return err
	},
}

var removeModerator string

var removeCmd = &cobra.Command{
	Use:   "remove <user-id>",
	Short: "Remove the most recent active strike from a user",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		user, err := parseID(args[0])
		if err != nil {
			return err
		}
		moderator, err := parseOptionalID(removeModerator)
		if err != nil {
			return fmt.Errorf("--moderator: %w", err)
		}

		a, err := openApp(cmd.Context())
		if err != nil {
			return err
		}
		defer a.Close()

		result, err := a.engine.RemoveOneStrike(cmd.Context(), user, moderator)
		if err != nil {
			return err
		}

		out := cmd.OutOrStdout()
		if !result.Removed {
			fmt.Fprintf(out, "%s has no active strikes\n", user)
			return nil
		}
		fmt.Fprintf(out, "Removed strike %d from %s\n", result.StrikeID, user)
		fmt.Fprintf(out, "Current Strikes: %d/%d\n", result.ActiveCount, strikes.EscalationThreshold)
		return nil
	},
}

var resetModerator string

var resetCmd = &cobra.Command{
	Use:   "reset <user-id>",
	Short: "Remove every active strike from a user",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		user, err := parseID(args[0])
		if err != nil {
			return err
		}
		moderator, err := parseOptionalID(resetModerator)
		if err != nil {
			return fmt.Errorf("--moderator: %w", err)
		}

		a, err := openApp(cmd.Context())
		if err != nil {
			return err
		}
		defer a.Close()

		result, err := a.engine.ResetAllStrikes(cmd.Context(), user, moderator)
		if err != nil {
			return err
		}

		fmt.Fprintf(cmd.OutOrStdout(), "Removed %d strike(s) from %s; violations stay at %d\n",
			result.StrikesRemoved, user, result.ViolationCount)
		return nil
	},
}

var infoCmd = &cobra.Command{
	Use:   "info <user-id>",
	Short: "Show a user's strike standing",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		user, err := parseID(args[0])
		if err != nil {
			return err
		}

		a, err := openApp(cmd.Context())
		if err != nil {
			return err
		}
		defer a.Close()

		info, err := a.engine.GetUserStrikeInfo(cmd.Context(), user)
		if err != nil {
			return err
		}

		reset := "No active strikes"
		if info.NextReset != nil {
			reset = dashboard.FormatTimeRemaining(*info.NextReset, time.Now())
		}

		out := cmd.OutOrStdout()
		fmt.Fprintf(out, "Active Strikes: %d/%d\n", info.ActiveCount, strikes.EscalationThreshold)
		fmt.Fprintf(out, "Total Violations: %d\n", info.ViolationCount)
		fmt.Fprintf(out, "Reset In: %s\n", reset)
		if info.NearThreshold() {
			fmt.Fprintln(out, "Warning: Next strike will result in a timeout!")
		}
		return nil
	},
}

var summaryCmd = &cobra.Command{
	Use:   "summary",
	Short: "Print the active strikes dashboard",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := openApp(cmd.Context())
		if err != nil {
			return err
		}
		defer a.Close()

		summary, err := a.summarizer.Build(cmd.Context())
		if err != nil {
			return err
		}
		text, err := dashboard.Render(summary, summary.GeneratedAt)
		if err != nil {
			return err
		}
		fmt.Fprint(cmd.OutOrStdout(), text)
		return nil
	},
}

var sweepCmd = &cobra.Command{
	Use:   "sweep",
	Short: "Expire strikes whose reset window has passed",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := openApp(cmd.Context())
		if err != nil {
			return err
		}
		defer a.Close()

		n, err := a.engine.SweepExpired(cmd.Context())
		if err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "Expired %d strike(s)\n", n)
		return nil
	},
}

var auditLimit int

var auditCmd = &cobra.Command{
	Use:   "audit",
	Short: "Show recent strike actions",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := openApp(cmd.Context())
		if err != nil {
			return err
		}
		defer a.Close()

		entries, err := a.engine.AuditLog(cmd.Context(), auditLimit)
		if err != nil {
			return err
		}

		out := cmd.OutOrStdout()
		for _, e := range entries {
			actor := "system"
			if e.ActorID != 0 {
				actor = e.ActorID.String()
			}
			fmt.Fprintf(out, "%s  %-15s user=%s actor=%s  %s\n",
				e.Timestamp.Format(time.RFC3339), e.Action, e.UserID, actor, e.Reason)
		}
		return nil
	},
}

var tableCmd = &cobra.Command{
	Use:   "table",
	Short: "Print the punishment escalation table",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		out := cmd.OutOrStdout()
		for _, p := range strikes.PunishmentTable() {
			fmt.Fprintf(out, "Violation %d: %s\n", p.Violation, formatMinutes(p.Duration))
		}
		fmt.Fprintf(out, "Beyond: %s\n", formatMinutes(strikes.MaxPunishment))
		return nil
	},
}

func init() {
	issueCmd.Flags().StringVarP(&issueModerator, "moderator", "m", "", "moderator user id (required)")
	_ = issueCmd.MarkFlagRequired("moderator")
	removeCmd.Flags().StringVarP(&removeModerator, "moderator", "m", "", "moderator user id")
	resetCmd.Flags().StringVarP(&resetModerator, "moderator", "m", "", "moderator user id")
	auditCmd.Flags().IntVarP(&auditLimit, "limit", "n", 20, "number of entries to show")
}

func parseID(s string) (snowflake.ID, error) {
	id, err := snowflake.Parse(s)
	if err != nil || id == 0 {
		return 0, fmt.Errorf("invalid user id %q", s)
	}
	return id, nil
}

func parseOptionalID(s string) (snowflake.ID, error) {
	if s == "" {
		return 0, nil
	}
	return parseID(s)
}

func formatMinutes(d time.Duration) string {
	return strconv.Itoa(int(d.Minutes())) + " minutes"
}
