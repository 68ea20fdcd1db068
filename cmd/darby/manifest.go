package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/darbylab/darby/internal/manifest"
)

// generateTimeout bounds the model's category-generation call.
const generateTimeout = 2 * time.Minute

var manifestCmd = &cobra.Command{
	Use:   "manifest",
	Short: "Manage the capability manifest",
}

var manifestGenerateCmd = &cobra.Command{
	Use:   "generate",
	Short: "Regenerate the manifest from current capabilities",
	Long: `Generate rebuilds the manifest: bundled instant answers and bash
shortcuts, plus routing categories proposed by the model from the loaded
tools and skills. Without a usable model the bundled default categories are
kept. The version counter is bumped and the file rewritten atomically.`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, _ []string) error {
		a, err := newApp()
		if err != nil {
			return err
		}
		defer a.close()

		ctx, cancel := context.WithTimeout(cmd.Context(), generateTimeout)
		defer cancel()

		if err := a.manifest.Generate(ctx, a.model, a.registry.Snapshot()); err != nil {
			return fmt.Errorf("generate manifest: %w", err)
		}

		doc := a.manifest.Manifest()
		fmt.Printf("Manifest v%d written to %s\n", doc.Version, a.cfg.ManifestPath)
		fmt.Printf("  %d categories, %d instant answers, %d bash shortcuts\n",
			len(doc.Categories), len(doc.InstantAnswers), len(doc.BashCommands))
		fmt.Printf("  %d tools, %d skills indexed\n", len(doc.ToolIndex), len(doc.SkillIndex))
		return nil
	},
}

var manifestSyncCmd = &cobra.Command{
	Use:   "sync",
	Short: "Append new tools and skills to the manifest",
	Long: `Sync adds capabilities that appeared since the last generate without
touching existing categories. Cheaper than a full regenerate; no model call.`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, _ []string) error {
		a, err := newApp()
		if err != nil {
			return err
		}
		defer a.close()

		changed, err := a.manifest.Sync(a.registry.Snapshot())
		if errors.Is(err, manifest.ErrNotLoaded) {
			return fmt.Errorf("no manifest at %s; run \"darby manifest generate\" first", a.cfg.ManifestPath)
		}
		if err != nil {
			return fmt.Errorf("sync manifest: %w", err)
		}

		if changed {
			fmt.Printf("Manifest synced to v%d\n", a.manifest.Version())
		} else {
			fmt.Println("Manifest already up to date")
		}
		return nil
	},
}

var manifestShowCmd = &cobra.Command{
	Use:   "show",
	Short: "Print the manifest as JSON",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, _ []string) error {
		a, err := newApp()
		if err != nil {
			return err
		}
		defer a.close()

		doc := a.manifest.Manifest()
		if doc == nil {
			return fmt.Errorf("no manifest at %s; run \"darby manifest generate\" first", a.cfg.ManifestPath)
		}
		out, err := json.MarshalIndent(doc, "", "  ")
		if err != nil {
			return fmt.Errorf("encode manifest: %w", err)
		}
		fmt.Println(string(out))
		return nil
	},
}

func init() {
	manifestCmd.AddCommand(manifestGenerateCmd)
	manifestCmd.AddCommand(manifestSyncCmd)
	manifestCmd.AddCommand(manifestShowCmd)
}
