package main

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/cobra"
)

// routeTimeout bounds classification only; the model tier has its own
// tighter per-call timeouts inside.
const routeTimeout = 30 * time.Second

var runTimeout time.Duration

var routeCmd = &cobra.Command{
	Use:   "route <input>",
	Short: "Classify a request and print the routing decision",
	Long: `Route runs the request through the tier chain (instant answer, bash
shortcut, native classifier, model classifier) and prints the decision as
JSON. Early-exit decisions are also resolved and their answer printed.`,
	Args: cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := newApp()
		if err != nil {
			return err
		}
		defer a.close()

		ctx, cancel := context.WithTimeout(cmd.Context(), routeTimeout)
		defer cancel()

		res := a.router.Route(ctx, strings.Join(args, " "))
		out, err := json.MarshalIndent(res, "", "  ")
		if err != nil {
			return fmt.Errorf("encode route result: %w", err)
		}
		fmt.Println(string(out))

		if res.EarlyExit() {
			answer, err := res.Resolve(ctx)
			if err != nil {
				return err
			}
			fmt.Println()
			fmt.Println(answer)
		}
		return nil
	},
}

var runCmd = &cobra.Command{
	Use:   "run <input>",
	Short: "Answer a request end to end",
	Long: `Run routes the request and serves it with the cheapest capable stage:
an instant answer or bash shortcut, a matched skill, the simple-task agent,
or a direct model reply. Exits 124 when the deadline is hit.`,
	Args: cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := newApp()
		if err != nil {
			return err
		}
		defer a.close()

		ctx, cancel := context.WithTimeout(cmd.Context(), runTimeout)
		defer cancel()

		output, err := a.runInput(ctx, strings.Join(args, " "))
		if err != nil {
			return err
		}
		fmt.Println(output)
		return nil
	},
}

func init() {
	runCmd.Flags().DurationVar(&runTimeout, "timeout", 5*time.Minute, "overall deadline for the request")
}
