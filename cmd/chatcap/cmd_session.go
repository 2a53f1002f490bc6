package main

import (
	"context"
	"fmt"
	"os"
	"strconv"

	"github.com/charmbracelet/glamour"
	"github.com/dgnsrekt/chatcap/internal/types"
	"github.com/olekukonko/tablewriter"
	"github.com/spf13/cobra"
	"golang.org/x/term"
)

func init() {
	rootCmd.AddCommand(sessionsCmd, summarizeCmd, showCmd)
}

var sessionsCmd = &cobra.Command{
	Use:   "sessions",
	Short: "List stored capture sessions, newest first",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := newApp()
		if err != nil {
			return err
		}
		defer a.Close()

		list, err := a.svc.ListSessions(cmd.Context())
		if err != nil {
			return err
		}
		if len(list) == 0 {
			fmt.Println("No sessions found.")
			return nil
		}

		table := tablewriter.NewWriter(os.Stdout)
		table.SetHeader([]string{"ID", "Status", "Created", "Requests", "Answer", "Citations"})
		for _, m := range list {
			table.Append([]string{
				m.ID,
				string(m.Status),
				m.CreatedAt.Local().Format("2006-01-02 15:04:05"),
				strconv.Itoa(m.RequestCount),
				strconv.Itoa(m.AnswerChars),
				strconv.Itoa(m.CitationsCount),
			})
		}
		table.Render()
		return nil
	},
}

var summarizeCmd = &cobra.Command{
	Use:   "summarize <session-id>",
	Short: "Rebuild a session summary from stored captures",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := newApp()
		if err != nil {
			return err
		}
		defer a.Close()

		sum, err := a.svc.RebuildSummary(cmd.Context(), args[0])
		if err != nil {
			return err
		}
		printSummary(sum)
		return nil
	},
}

func printSummary(sum *types.Summary) {
	best := ""
	if sum.Best != nil {
		best = sum.Best.RequestID
	}
	table := tablewriter.NewWriter(os.Stdout)
	table.SetHeader([]string{"", "Request", "Class", "Answer", "Citations", "URL"})
	for _, r := range sum.Requests {
		mark := ""
		if r.RequestID == best {
			mark = "*"
		}
		table.Append([]string{
			mark,
			r.RequestID,
			string(r.Classification),
			strconv.Itoa(r.AnswerChars),
			strconv.Itoa(r.CitationsCount),
			r.URL,
		})
	}
	table.Render()
	fmt.Printf("%d requests, generated %s\n", sum.RequestCount, sum.GeneratedAt.Local().Format("2006-01-02 15:04:05"))
}

var showCmd = &cobra.Command{
	Use:   "show <session-id>",
	Short: "Print the best answer of a session",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := newApp()
		if err != nil {
			return err
		}
		defer a.Close()

		sum, err := loadOrBuildSummary(cmd.Context(), a, args[0])
		if err != nil {
			return err
		}
		if sum.Best == nil || sum.Best.Answer == "" {
			fmt.Println("No answer captured.")
			return nil
		}
		text := renderAnswer(*sum.Best)
		fmt.Print(text)
		return nil
	},
}

func loadOrBuildSummary(ctx context.Context, a *app, id string) (*types.Summary, error) {
	sum, err := a.svc.GetSummary(ctx, id)
	if err == nil {
		return sum, nil
	}
	return a.svc.RebuildSummary(ctx, id)
}

// renderAnswer formats the answer and its sources as markdown, rendered with
// glamour when stdout is a terminal.
func renderAnswer(res types.CaptureResult) string {
	md := res.Answer + "\n"
	if len(res.Citations) > 0 {
		md += "\n## Sources\n\n"
		for _, c := range res.Citations {
			if c.Title != "" {
				md += fmt.Sprintf("- [%s](%s)\n", c.Title, c.URL)
			} else {
				md += fmt.Sprintf("- %s\n", c.URL)
			}
		}
	}

	fd := int(os.Stdout.Fd())
	if !term.IsTerminal(fd) {
		return md
	}
	width := 100
	if w, _, err := term.GetSize(fd); err == nil && w > 20 {
		width = w - 4
	}
	renderer, err := glamour.NewTermRenderer(
		glamour.WithAutoStyle(),
		glamour.WithWordWrap(width),
	)
	if err != nil {
		return md
	}
	out, err := renderer.Render(md)
	if err != nil {
		return md
	}
	return out
}
