package main

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/ethpandaops/authoor/pkg/auth"
	"github.com/ethpandaops/authoor/pkg/config"
	"github.com/ethpandaops/authoor/pkg/store"
)

var userCmd = &cobra.Command{
	Use:   "user",
	Short: "Manage user accounts",
}

var (
	userCreateEmail    string
	userCreatePassword string
	userCreateRoles    []string
	userSeedFile       string
)

var userCreateCmd = &cobra.Command{
	Use:   "create <username>",
	Short: "Create a user account",
	Args:  cobra.ExactArgs(1),
	RunE:  runUserCreate,
}

var userAddRoleCmd = &cobra.Command{
	Use:   "add-role <username> <role>",
	Short: "Grant a role to a user",
	Args:  cobra.ExactArgs(2),
	RunE:  runUserAddRole,
}

var userListCmd = &cobra.Command{
	Use:   "list",
	Short: "List user accounts",
	RunE:  runUserList,
}

var userSeedCmd = &cobra.Command{
	Use:   "seed",
	Short: "Seed users and roles from a YAML file",
	RunE:  runUserSeed,
}

var roleCmd = &cobra.Command{
	Use:   "role",
	Short: "Manage roles",
}

var roleCreateLabel string

var roleCreateCmd = &cobra.Command{
	Use:   "create <name>",
	Short: "Create a role",
	Args:  cobra.ExactArgs(1),
	RunE:  runRoleCreate,
}

func init() {
	userCreateCmd.Flags().StringVar(&userCreateEmail, "email", "",
		"email address")
	userCreateCmd.Flags().StringVar(&userCreatePassword, "password", "",
		"password (required)")
	userCreateCmd.Flags().StringSliceVar(&userCreateRoles, "role",
		[]string{"user"}, "roles to grant")
	userSeedCmd.Flags().StringVar(&userSeedFile, "file", "",
		"seed file path (required)")
	roleCreateCmd.Flags().StringVar(&roleCreateLabel, "label", "",
		"human readable label")

	userCmd.AddCommand(userCreateCmd, userAddRoleCmd, userListCmd, userSeedCmd)
	roleCmd.AddCommand(roleCreateCmd)
	rootCmd.AddCommand(userCmd, roleCmd)
}

// openStore loads the config and opens the database for CLI commands.
func openStore(ctx context.Context) (store.Store, *config.Config, error) {
	if cfgFile == "" {
		return nil, nil, fmt.Errorf("config file is required (use --config)")
	}

	cfg, err := config.Load(cfgFile)
	if err != nil {
		return nil, nil, fmt.Errorf("loading config: %w", err)
	}

	st := store.NewStore(log, &cfg.Database)
	if err := st.Start(ctx); err != nil {
		return nil, nil, fmt.Errorf("opening database: %w", err)
	}

	return st, cfg, nil
}

func runUserCreate(cmd *cobra.Command, args []string) error {
	username := args[0]

	if userCreatePassword == "" {
		return fmt.Errorf("--password is required")
	}

	ctx := cmd.Context()

	st, _, err := openStore(ctx)
	if err != nil {
		return err
	}
	defer st.Stop() //nolint:errcheck // best effort on exit.

	hash, err := auth.HashSecret(userCreatePassword)
	if err != nil {
		return fmt.Errorf("hashing password: %w", err)
	}

	now := time.Now().UTC()

	user := &store.User{
		Username:         &username,
		PasswordHash:     hash,
		Active:           true,
		EmailConfirmedAt: &now,
	}

	if userCreateEmail != "" {
		user.Email = &userCreateEmail
	}

	if err := st.CreateUser(ctx, user); err != nil {
		return fmt.Errorf("creating user: %w", err)
	}

	if err := st.SetUserRoles(ctx, user, userCreateRoles); err != nil {
		return fmt.Errorf("granting roles: %w", err)
	}

	log.WithField("username", username).Info("User created")

	return nil
}

func runUserAddRole(cmd *cobra.Command, args []string) error {
	username, roleName := args[0], args[1]
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

	names := make([]string, 0, len(user.Roles)+1)
	for _, role := range user.Roles {
		if role.Name == roleName {
			log.WithField("username", username).
				WithField("role", roleName).
				Info("User already has role")

			return nil
		}

		names = append(names, role.Name)
	}

	names = append(names, roleName)

	if err := st.SetUserRoles(ctx, user, names); err != nil {
		return fmt.Errorf("granting role: %w", err)
	}

	log.WithField("username", username).
		WithField("role", roleName).
		Info("Role granted")

	return nil
}

func runUserList(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()

	st, _, err := openStore(ctx)
	if err != nil {
		return err
	}
	defer st.Stop() //nolint:errcheck // best effort on exit.

	users, err := st.ListUsers(ctx)
	if err != nil {
		return fmt.Errorf("listing users: %w", err)
	}

	for i := range users {
		roles := make([]string, 0, len(users[i].Roles))
		for _, role := range users[i].Roles {
			roles = append(roles, role.Name)
		}

		fmt.Printf("%d\t%s\tactive=%t\troles=%v\n",
			users[i].ID, users[i].Name(), users[i].Active, roles)
	}

	return nil
}

// seedFile mirrors the auth.roles and auth.users config sections so
// the same shape works for both the config file and a standalone seed
// file.
type seedFile struct {
	Roles []config.SeedRole `yaml:"roles"`
	Users []config.SeedUser `yaml:"users"`
}

func runUserSeed(cmd *cobra.Command, args []string) error {
	if userSeedFile == "" {
		return fmt.Errorf("--file is required")
	}

	data, err := os.ReadFile(userSeedFile)
	if err != nil {
		return fmt.Errorf("reading seed file: %w", err)
	}

	var seed seedFile
	if err := yaml.Unmarshal(data, &seed); err != nil {
		return fmt.Errorf("parsing seed file: %w", err)
	}

	ctx := cmd.Context()

	st, _, err := openStore(ctx)
	if err != nil {
		return err
	}
	defer st.Stop() //nolint:errcheck // best effort on exit.

	if err := st.SeedRoles(ctx, seed.Roles); err != nil {
		return fmt.Errorf("seeding roles: %w", err)
	}

	if err := st.SeedUsers(ctx, seed.Users); err != nil {
		return fmt.Errorf("seeding users: %w", err)
	}

	log.WithField("roles", len(seed.Roles)).
		WithField("users", len(seed.Users)).
		Info("Seed complete")

	return nil
}

func runRoleCreate(cmd *cobra.Command, args []string) error {
	name := args[0]
	ctx := cmd.Context()

	st, _, err := openStore(ctx)
	if err != nil {
		return err
	}
	defer st.Stop() //nolint:errcheck // best effort on exit.

	role, err := st.FindOrCreateRole(ctx, name, roleCreateLabel)
	if err != nil {
		return fmt.Errorf("creating role: %w", err)
	}

	log.WithField("role", role.Name).Info("Role ready")

	return nil
}
