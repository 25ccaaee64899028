package cmd

import (
	"fmt"
	"sort"

	"github.com/spf13/cobra"

	"github.com/solatis/patchwire/internal/core/auth"
	"github.com/solatis/patchwire/internal/core/config"
	"github.com/solatis/patchwire/internal/core/db"
)

var keySecretID string

var keysCmd = &cobra.Command{
	Use:   "keys",
	Short: "Manage hub API keys",
}

var keysCreateCmd = &cobra.Command{
	Use:   "create NAME",
	Short: "Create an API key",
	Long: `Create an API key signed with one of the configured HMAC secrets. The key is printed
once and cannot be recovered later; only its HMAC is stored.`,
	Args: cobra.ExactArgs(1),
	RunE: runKeysCreate,
}

var keysRevokeCmd = &cobra.Command{
	Use:   "revoke KEY_ID",
	Short: "Revoke an API key",
	Args:  cobra.ExactArgs(1),
	RunE:  runKeysRevoke,
}

func init() {
	rootCmd.AddCommand(keysCmd)
	keysCmd.AddCommand(keysCreateCmd, keysRevokeCmd)
	keysCreateCmd.Flags().StringVar(&keySecretID, "secret-id", "", "HMAC secret to sign with (default: the only configured secret)")
}

func newAuthenticator(cmd *cobra.Command) (*auth.Authenticator, func(), error) {
	ctx := cmd.Context()
	cfg, err := loadConfig()
	if err != nil {
		return nil, nil, err
	}
	secrets, err := config.HMACSecrets()
	if err != nil {
		return nil, nil, err
	}
	if len(secrets) == 0 {
		return nil, nil, fmt.Errorf("HMAC secrets not configured (set PW_HMAC_SECRET)")
	}
	if keySecretID == "" {
		if len(secrets) > 1 {
			ids := make([]string, 0, len(secrets))
			for id := range secrets {
				ids = append(ids, id)
			}
			sort.Strings(ids)
			return nil, nil, fmt.Errorf("several HMAC secrets configured, choose one with --secret-id: %v", ids)
		}
		for id := range secrets {
			keySecretID = id
		}
	}

	database, err := openDatabase(ctx, cfg)
	if err != nil {
		return nil, nil, err
	}
	if err := db.RequireMigrated(ctx, database); err != nil {
		database.Close()
		return nil, nil, err
	}
	queries, err := db.LoadQueries(database)
	if err != nil {
		database.Close()
		return nil, nil, err
	}
	a, err := auth.NewAuthenticator(secrets, queries, logger)
	if err != nil {
		database.Close()
		return nil, nil, err
	}
	return a, func() { database.Close() }, nil
}

func runKeysCreate(cmd *cobra.Command, args []string) error {
	a, done, err := newAuthenticator(cmd)
	if err != nil {
		return err
	}
	defer done()

	key, keyID, err := a.CreateKey(cmd.Context(), args[0], keySecretID)
	if err != nil {
		return err
	}
	logger.Info("api key created", "name", args[0], "key_id", keyID, "secret_id", keySecretID)
	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "key_id:  %s\n", keyID)
	fmt.Fprintf(out, "api_key: %s\n", key)
	fmt.Fprintln(out, "Store the API key now; it is not shown again.")
	return nil
}

func runKeysRevoke(cmd *cobra.Command, args []string) error {
	a, done, err := newAuthenticator(cmd)
	if err != nil {
		return err
	}
	defer done()

	if err := a.RevokeKey(cmd.Context(), args[0]); err != nil {
		return err
	}
	logger.Info("api key revoked", "key_id", args[0])
	return nil
}
