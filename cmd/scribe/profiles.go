package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/spf13/cobra"
)

var profilesCmd = &cobra.Command{
	Use:   "profiles",
	Short: "List Octo cloud profiles tagged for scraping",
	RunE:  runProfiles,
}

func runProfiles(cmd *cobra.Command, _ []string) error {
	a, err := newApp(cmd.Context())
	if err != nil {
		return err
	}
	defer a.close(context.Background())

	if a.profiles == nil {
		return errors.New("OCTO_API_TOKEN is not set")
	}
	profiles, err := a.profiles.Profiles(cmd.Context())
	if err != nil {
		return fmt.Errorf("list profiles: %w", err)
	}

	enc := json.NewEncoder(cmd.OutOrStdout())
	enc.SetIndent("", "  ")
	return enc.Encode(profiles)
}
