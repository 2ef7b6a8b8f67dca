package cli

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"
	"golang.org/x/term"

	"github.com/arborhq/arbor/internal/auth"
	"github.com/arborhq/arbor/internal/model"
)

func newUserCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "user",
		Short: "Manage user accounts",
		Long:  "Create, modify, delete and list user accounts directly in the user database.",
	}

	cmd.AddCommand(newUserAddCmd())
	cmd.AddCommand(newUserModifyCmd())
	cmd.AddCommand(newUserDeleteCmd())
	cmd.AddCommand(newUserListCmd())
	cmd.AddCommand(newUserFillTreeCmd())

	return cmd
}

// promptPassword reads a password from the terminal twice and checks the
// entries match.
func promptPassword() (string, error) {
	fmt.Print("Password: ")
	pwBytes, err := term.ReadPassword(int(os.Stdin.Fd()))
	if err != nil {
		return "", fmt.Errorf("failed to read password: %w", err)
	}
	fmt.Println()

	fmt.Print("Confirm password: ")
	confirmBytes, err := term.ReadPassword(int(os.Stdin.Fd()))
	if err != nil {
		return "", fmt.Errorf("failed to read confirmation: %w", err)
	}
	fmt.Println()

	if string(pwBytes) != string(confirmBytes) {
		return "", fmt.Errorf("passwords do not match")
	}
	return string(pwBytes), nil
}

// ---------- user add ----------

func newUserAddCmd() *cobra.Command {
	var (
		password string
		fullName string
		email    string
		role     int
		tree     string
	)

	cmd := &cobra.Command{
		Use:   "add <username>",
		Short: "Create a new user account",
		Args:  cobra.ExactArgs(1),
		Example: `  arbor user add alice --email alice@example.com --role 4 --tree main
  arbor user add alice --email alice@example.com  # prompts for password`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runUserAdd(args[0], password, fullName, email, role, tree)
		},
	}

	cmd.Flags().StringVar(&password, "password", "", "Password (prompted if omitted)")
	cmd.Flags().StringVar(&fullName, "fullname", "", "Display name")
	cmd.Flags().StringVar(&email, "email", "", "Email address")
	cmd.Flags().IntVar(&role, "role", model.RoleMember, "Role level (-2 to 5)")
	cmd.Flags().StringVar(&tree, "tree", "", "Tree the user belongs to")

	return cmd
}

func runUserAdd(name, password, fullName, email string, role int, tree string) error {
	if email != "" && !strings.Contains(email, "@") {
		return fmt.Errorf("invalid email address: %q", email)
	}
	if role < model.RoleUnconfirmed || role > model.RoleAdmin {
		return fmt.Errorf("role %d out of range", role)
	}

	if password == "" {
		var err error
		if password, err = promptPassword(); err != nil {
			return err
		}
	}

	store, err := openAuthStore()
	if err != nil {
		return err
	}
	defer store.Close()

	u, err := store.AddUser(context.Background(), auth.AddUserParams{
		Name:     name,
		Password: password,
		FullName: fullName,
		Email:    email,
		Role:     role,
		Tree:     tree,
	})
	if err != nil {
		return fmt.Errorf("create user: %w", err)
	}

	fmt.Printf("Created user %q (role %d)\n", u.Name, u.Role)
	return nil
}

// ---------- user modify ----------

func newUserModifyCmd() *cobra.Command {
	var (
		password string
		fullName string
		email    string
		role     int
		tree     string
	)

	cmd := &cobra.Command{
		Use:   "modify <username>",
		Short: "Update fields of an existing user",
		Args:  cobra.ExactArgs(1),
		Example: `  arbor user modify alice --role 3
  arbor user modify alice --password ""  # prompts for a new password`,
		RunE: func(cmd *cobra.Command, args []string) error {
			upd := auth.UserUpdate{}
			if cmd.Flags().Changed("password") {
				if password == "" {
					var err error
					if password, err = promptPassword(); err != nil {
						return err
					}
				}
				upd.Password = &password
			}
			if cmd.Flags().Changed("fullname") {
				upd.FullName = &fullName
			}
			if cmd.Flags().Changed("email") {
				upd.Email = &email
			}
			if cmd.Flags().Changed("role") {
				if role < model.RoleUnconfirmed || role > model.RoleAdmin {
					return fmt.Errorf("role %d out of range", role)
				}
				upd.Role = &role
			}
			if cmd.Flags().Changed("tree") {
				upd.Tree = &tree
			}
			return runUserModify(args[0], upd)
		},
	}

	cmd.Flags().StringVar(&password, "password", "", "New password (prompted when given empty)")
	cmd.Flags().StringVar(&fullName, "fullname", "", "New display name")
	cmd.Flags().StringVar(&email, "email", "", "New email address")
	cmd.Flags().IntVar(&role, "role", 0, "New role level (-2 to 5)")
	cmd.Flags().StringVar(&tree, "tree", "", "New tree assignment")

	return cmd
}

func runUserModify(name string, upd auth.UserUpdate) error {
	store, err := openAuthStore()
	if err != nil {
		return err
	}
	defer store.Close()

	if err := store.ModifyUser(context.Background(), name, upd); err != nil {
		return fmt.Errorf("modify user: %w", err)
	}
	fmt.Printf("Updated user %q\n", name)
	return nil
}

// ---------- user delete ----------

func newUserDeleteCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "delete <username>",
		Short: "Delete a user account",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			store, err := openAuthStore()
			if err != nil {
				return err
			}
			defer store.Close()

			if err := store.DeleteUser(context.Background(), args[0]); err != nil {
				return fmt.Errorf("delete user: %w", err)
			}
			fmt.Printf("Deleted user %q\n", args[0])
			return nil
		},
	}
	return cmd
}

// ---------- user list ----------

func newUserListCmd() *cobra.Command {
	var (
		tree       string
		jsonOutput bool
	)

	cmd := &cobra.Command{
		Use:     "list",
		Aliases: []string{"ls"},
		Short:   "List user accounts",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runUserList(tree, jsonOutput)
		},
	}

	cmd.Flags().StringVar(&tree, "tree", "", "Only list users of this tree")
	cmd.Flags().BoolVar(&jsonOutput, "json", false, "Output as JSON")

	return cmd
}

func runUserList(tree string, jsonOutput bool) error {
	store, err := openAuthStore()
	if err != nil {
		return err
	}
	defer store.Close()

	users, err := store.ListUsers(context.Background(), tree)
	if err != nil {
		return fmt.Errorf("list users: %w", err)
	}

	if jsonOutput {
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(users)
	}

	if len(users) == 0 {
		fmt.Println("No users found. Use 'arbor user add' to create one.")
		return nil
	}

	fmt.Printf("%-20s %-30s %-6s %-16s\n", "NAME", "EMAIL", "ROLE", "TREE")
	fmt.Printf("%-20s %-30s %-6s %-16s\n", "----", "-----", "----", "----")
	for _, u := range users {
		fmt.Printf("%-20s %-30s %-6d %-16s\n", u.Name, u.Email, u.Role, u.Tree)
	}

	return nil
}

// ---------- user fill-tree ----------

func newUserFillTreeCmd() *cobra.Command {
	var tree string

	cmd := &cobra.Command{
		Use:   "fill-tree",
		Short: "Assign all tree-less users to a tree",
		Long:  "Assign every user without a tree to the given tree. Useful when promoting a single-tenant installation to multi-tenant.",
		RunE: func(cmd *cobra.Command, args []string) error {
			if tree == "" {
				return fmt.Errorf("--tree is required")
			}
			store, err := openAuthStore()
			if err != nil {
				return err
			}
			defer store.Close()

			if err := store.FillTree(context.Background(), tree); err != nil {
				return fmt.Errorf("fill tree: %w", err)
			}
			fmt.Printf("Assigned tree-less users to %q\n", tree)
			return nil
		},
	}

	cmd.Flags().StringVar(&tree, "tree", "", "Tree to assign (required)")

	return cmd
}
