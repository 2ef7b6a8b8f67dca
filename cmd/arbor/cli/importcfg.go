package cli

import (
	"context"
	"errors"
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/arborhq/arbor/internal/auth"
	"github.com/arborhq/arbor/internal/gendb"
)

// seedFile is the YAML layout accepted by import-config.
type seedFile struct {
	Trees []struct {
		ID string `yaml:"id"`
	} `yaml:"trees"`
	Users []struct {
		Name     string `yaml:"name"`
		Password string `yaml:"password"`
		FullName string `yaml:"full_name"`
		Email    string `yaml:"email"`
		Role     int    `yaml:"role"`
		Tree     string `yaml:"tree"`
	} `yaml:"users"`
}

func newImportConfigCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "import-config <file.yaml>",
		Short: "Seed trees and users from a YAML file",
		Long: `Seed the installation from a declarative YAML file.

Listed trees are created (opening their databases) and listed users are
added to the user database. Users that already exist are skipped, so the
command can be re-run as the file grows.`,
		Args: cobra.ExactArgs(1),
		Example: `  arbor import-config seed.yaml

  # seed.yaml
  trees:
    - id: main
  users:
    - name: alice
      password: s3cret
      email: alice@example.com
      role: 4
      tree: main`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runImportConfig(args[0])
		},
	}
	return cmd
}

func runImportConfig(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return err
	}

	var seed seedFile
	if err := yaml.Unmarshal(data, &seed); err != nil {
		return fmt.Errorf("parse %s: %w", path, err)
	}

	store, err := openAuthStore()
	if err != nil {
		return err
	}
	defer store.Close()

	trees := gendb.NewRegistry(resolveDataDir())
	defer trees.CloseAll()

	ctx := context.Background()

	for _, t := range seed.Trees {
		if _, err := trees.Get(t.ID); err != nil {
			return fmt.Errorf("create tree %q: %w", t.ID, err)
		}
		fmt.Printf("Tree %q ready\n", t.ID)
	}

	for _, u := range seed.Users {
		_, err := store.AddUser(ctx, auth.AddUserParams{
			Name:     u.Name,
			Password: u.Password,
			FullName: u.FullName,
			Email:    u.Email,
			Role:     u.Role,
			Tree:     u.Tree,
		})
		switch {
		case errors.Is(err, auth.ErrDuplicate):
			fmt.Printf("User %q already exists, skipped\n", u.Name)
		case err != nil:
			return fmt.Errorf("create user %q: %w", u.Name, err)
		default:
			fmt.Printf("Created user %q\n", u.Name)
		}
	}

	return nil
}
