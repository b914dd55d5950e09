package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/ethpandaops/authoor/pkg/auth"
	"github.com/ethpandaops/authoor/pkg/store"
)

var apikeyCmd = &cobra.Command{
	Use:   "apikey",
	Short: "Manage API keys",
}

var apikeyCreateLabel string

var apikeyCreateCmd = &cobra.Command{
	Use:   "create <username>",
	Short: "Issue an API key for a user",
	Long: `Issue an API key for a user. The secret is printed once and
never stored in recoverable form.`,
	Args: cobra.ExactArgs(1),
	RunE: runAPIKeyCreate,
}

var apikeyListCmd = &cobra.Command{
	Use:   "list",
	Short: "List API keys",
	RunE:  runAPIKeyList,
}

var apikeyRevokeCmd = &cobra.Command{
	Use:   "revoke <id>",
	Short: "Revoke an API key",
	Args:  cobra.ExactArgs(1),
	RunE:  runAPIKeyRevoke,
}

func init() {
	apikeyCreateCmd.Flags().StringVar(&apikeyCreateLabel, "label", "",
		"key label")

	apikeyCmd.AddCommand(apikeyCreateCmd, apikeyListCmd, apikeyRevokeCmd)
	rootCmd.AddCommand(apikeyCmd)
}

func runAPIKeyCreate(cmd *cobra.Command, args []string) error {
	username := args[0]
	ctx := cmd.Context()

	st, _, err := openStore(ctx)
	if err != nil {
		return err
	}
	defer st.Stop() //nolint:errcheck // best effort on exit.

	user, err := st.GetUserByUsername(ctx, username)
	if err != nil {
		return fmt.Errorf("looking up user %q: %w", username, err)
	}

	id, secret, digest, err := auth.GenerateAPIKey()
	if err != nil {
		return fmt.Errorf("generating api key: %w", err)
	}

	key := &store.APIKey{
		ID:     id,
		Hash:   digest,
		UserID: user.ID,
	}

	if apikeyCreateLabel != "" {
		key.Label = &apikeyCreateLabel
	}

	if err := st.CreateAPIKey(ctx, key); err != nil {
		return fmt.Errorf("storing api key: %w", err)
	}

	fmt.Printf("API_ID:  %s\n", id)
	fmt.Printf("API_KEY: %s\n", secret)

	return nil
}

func runAPIKeyList(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()

	st, _, err := openStore(ctx)
	if err != nil {
		return err
	}
	defer st.Stop() //nolint:errcheck // best effort on exit.

	keys, err := st.ListAPIKeys(ctx)
	if err != nil {
		return fmt.Errorf("listing api keys: %w", err)
	}

	for i := range keys {
		label := ""
		if keys[i].Label != nil {
			label = *keys[i].Label
		}

		fmt.Printf("%s\tuser=%d\tlabel=%q\tcreated=%s\n",
			keys[i].ID, keys[i].UserID, label,
			keys[i].CreatedAt.UTC().Format("2006-01-02 15:04:05"))
	}

	return nil
}

func runAPIKeyRevoke(cmd *cobra.Command, args []string) error {
	id := args[0]
	ctx := cmd.Context()

	st, _, err := openStore(ctx)
	if err != nil {
		return err
	}
	defer st.Stop() //nolint:errcheck // best effort on exit.

	if err := st.DeleteAPIKey(ctx, id); err != nil {
		return fmt.Errorf("revoking api key: %w", err)
	}

	log.WithField("id", id).Info("API key revoked")

	return nil
}
