package main

import (
	"fmt"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/sells-group/leadfinder/internal/model"
)

var usersCmd = &cobra.Command{
	Use:   "users",
	Short: "Manage identities",
}

// -- users add --

var usersAddCmd = &cobra.Command{
	Use:   "add",
	Short: "Create an identity",
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx := cmd.Context()
		if err := cfg.Validate("admin"); err != nil {
			return err
		}

		email, _ := cmd.Flags().GetString("email")
		name, _ := cmd.Flags().GetString("name")
		if !strings.Contains(email, "@") {
			return eris.New("--email must be an email address")
		}

		st, err := openStore(ctx)
		if err != nil {
			return err
		}
		defer st.Close() //nolint:errcheck

		id, err := st.CreateIdentity(ctx, email, name)
		if err != nil {
			return eris.Wrap(err, "users add")
		}
		zap.L().Info("identity created", zap.String("id", id.ID), zap.String("email", id.Email))
		fmt.Fprintln(cmd.OutOrStdout(), id.ID)
		return nil
	},
}

// -- users token --

var usersTokenCmd = &cobra.Command{
	Use:   "token",
	Short: "Issue a bearer token for an identity",
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx := cmd.Context()
		if err := cfg.Validate("admin"); err != nil {
			return err
		}
		if cfg.Auth.JWTSecret == "" {
			return eris.New("auth.jwt_secret is required (LEADFINDER_AUTH_JWT_SECRET)")
		}

		st, err := openStore(ctx)
		if err != nil {
			return err
		}
		defer st.Close() //nolint:errcheck

		email, _ := cmd.Flags().GetString("email")
		ttl, _ := cmd.Flags().GetDuration("ttl")
		id, err := lookupOwner(ctx, st, email)
		if err != nil {
			return err
		}

		tok, err := issueToken(*id, ttl, time.Now())
		if err != nil {
			return err
		}
		fmt.Fprintln(cmd.OutOrStdout(), tok)
		return nil
	},
}

// issueToken signs an HS256 token whose subject is the identity id.
func issueToken(id model.Identity, ttl time.Duration, now time.Time) (string, error) {
	claims := jwt.RegisteredClaims{
		Subject:  id.ID,
		Issuer:   cfg.Auth.Issuer,
		IssuedAt: jwt.NewNumericDate(now),
	}
	if cfg.Auth.Audience != "" {
		claims.Audience = jwt.ClaimStrings{cfg.Auth.Audience}
	}
	if ttl > 0 {
		claims.ExpiresAt = jwt.NewNumericDate(now.Add(ttl))
	}
	tok, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(cfg.Auth.JWTSecret))
	if err != nil {
		return "", eris.Wrap(err, "sign token")
	}
	return tok, nil
}

func init() {
	usersAddCmd.Flags().String("email", "", "identity email (required)")
	usersAddCmd.Flags().String("name", "", "display name")
	_ = usersAddCmd.MarkFlagRequired("email")

	usersTokenCmd.Flags().String("email", "", "identity email (required)")
	usersTokenCmd.Flags().Duration("ttl", 24*time.Hour, "token lifetime; 0 for no expiry")
	_ = usersTokenCmd.MarkFlagRequired("email")

	usersCmd.AddCommand(usersAddCmd, usersTokenCmd)
	rootCmd.AddCommand(usersCmd)
}
