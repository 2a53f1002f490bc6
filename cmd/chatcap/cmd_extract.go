package main

import (
	"encoding/json"
	"fmt"
	"io"
	"os"

	"github.com/dgnsrekt/chatcap/internal/config"
	"github.com/dgnsrekt/chatcap/internal/extract"
	"github.com/dgnsrekt/chatcap/internal/types"
	"github.com/spf13/cobra"
)

func init() {
	rootCmd.AddCommand(extractCmd)
}

type extractOutput struct {
	Answer    string           `json:"answer"`
	Citations []types.Citation `json:"citations"`
	Events    int              `json:"events"`
	Source    extract.Source   `json:"source,omitempty"`
}

var extractCmd = &cobra.Command{
	Use:   "extract <file|->",
	Short: "Extract the answer and citations from a raw capture file",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := config.Load()
		if err != nil {
			return err
		}

		var raw []byte
		if args[0] == "-" {
			raw, err = io.ReadAll(os.Stdin)
		} else {
			raw, err = os.ReadFile(args[0])
		}
		if err != nil {
			return fmt.Errorf("read capture: %w", err)
		}

		res := extract.New(cfg.Profile).Extract(string(raw))
		out := extractOutput{
			Answer:    res.Answer,
			Citations: res.Citations,
			Events:    res.Events,
			Source:    res.Source,
		}
		if out.Citations == nil {
			out.Citations = []types.Citation{}
		}
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(out)
	},
}
