package cli

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/arborhq/arbor/internal/auth"
)

func newTokenCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "token",
		Short: "Issue bootstrap tokens",
	}

	cmd.AddCommand(newTokenCreateOwnerCmd())

	return cmd
}

func newTokenCreateOwnerCmd() *cobra.Command {
	var ttl time.Duration

	cmd := &cobra.Command{
		Use:   "create-owner",
		Short: "Issue a one-time token for creating the first admin account",
		Long: `Issue a short-lived token scoped to the first-admin endpoint.

The token authorizes POST /api/users/{username}/create_owner/ and is only
issued while the user database is empty. Once any account exists the
endpoint refuses further bootstrap calls, so a leaked token is harmless
after setup.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runTokenCreateOwner(ttl)
		},
	}

	cmd.Flags().DurationVar(&ttl, "ttl", time.Hour, "Token lifetime")

	return cmd
}

func runTokenCreateOwner(ttl time.Duration) error {
	store, err := openAuthStore()
	if err != nil {
		return err
	}
	defer store.Close()

	n, err := store.CountUsers(context.Background(), auth.UserFilter{})
	if err != nil {
		return fmt.Errorf("count users: %w", err)
	}
	if n > 0 {
		return fmt.Errorf("user database is not empty; bootstrap tokens are only issued on a fresh installation")
	}

	token, err := newAuthService(store).IssueCreateAdmin(ttl)
	if err != nil {
		return fmt.Errorf("issue token: %w", err)
	}

	fmt.Println(token)
	fmt.Fprintf(os.Stderr, "\nUse within %s:\n  curl -X POST -H 'Authorization: Bearer <token>' \\\n    -d '{\"password\":\"...\",\"email\":\"...\",\"full_name\":\"...\"}' \\\n    http://localhost:5555/api/users/<username>/create_owner/\n", ttl)
	return nil
}
