package main

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/leadfinder/internal/config"
	"github.com/sells-group/leadfinder/internal/model"
)

func TestRootCommand_HasSubcommands(t *testing.T) {
	names := make(map[string]bool)
	for _, c := range rootCmd.Commands() {
		names[c.Name()] = true
	}

	for _, name := range []string{"serve", "migrate", "search", "searches", "share", "users"} {
		assert.True(t, names[name], "expected subcommand %q not found", name)
	}
}

func TestRootCommand_Metadata(t *testing.T) {
	assert.Equal(t, "leadfinder", rootCmd.Use)
	assert.NotEmpty(t, rootCmd.Short)
	assert.NotEmpty(t, rootCmd.Long)
}

func TestServeCommand_Flags(t *testing.T) {
	flag := serveCmd.Flags().Lookup("port")
	require.NotNil(t, flag, "serve command should have --port flag")
	assert.Equal(t, "0", flag.DefValue)
}

func TestSearchCommand_Flags(t *testing.T) {
	require.NotNil(t, searchCmd.Flags().Lookup("owner"))
	require.NotNil(t, searchCmd.Flags().Lookup("location"))
	assert.Error(t, searchCmd.Args(searchCmd, nil))
}

func TestShareCommand_Args(t *testing.T) {
	require.NotNil(t, shareCmd.Flags().Lookup("owner"))
	assert.Error(t, shareCmd.Args(shareCmd, []string{"only-id"}))
	assert.NoError(t, shareCmd.Args(shareCmd, []string{"id", "a@example.org"}))
}

func TestUsersCommand_HasSubcommands(t *testing.T) {
	names := make(map[string]bool)
	for _, c := range usersCmd.Commands() {
		names[c.Name()] = true
	}
	assert.True(t, names["add"])
	assert.True(t, names["token"])
}

func TestServerConfig(t *testing.T) {
	cfg = &config.Config{
		Server: config.ServerConfig{Port: 9000, AllowedOrigins: []string{"https://app.example.org"}},
		Auth:   config.AuthConfig{JWTSecret: "s", Issuer: "iss", Audience: "aud"},
		Ingest: config.IngestConfig{TimeoutSecs: 30},
	}

	sc := serverConfig()
	assert.Equal(t, 9000, sc.Port)
	assert.Equal(t, []string{"https://app.example.org"}, sc.AllowedOrigins)
	assert.Equal(t, "s", sc.JWTSecret)
	assert.Equal(t, "iss", sc.Issuer)
	assert.Equal(t, "aud", sc.Audience)
	assert.Equal(t, 30*time.Second, sc.IngestTimeout)

	cfg.Ingest.TimeoutSecs = 0
	assert.Zero(t, ingestTimeout())
}

func TestIssueToken(t *testing.T) {
	cfg = &config.Config{Auth: config.AuthConfig{JWTSecret: "secret", Issuer: "leadfinder", Audience: "api"}}
	now := time.Now()

	tok, err := issueToken(model.Identity{ID: "id-1"}, time.Hour, now)
	require.NoError(t, err)

	claims := &jwt.RegisteredClaims{}
	_, err = jwt.ParseWithClaims(tok, claims, func(*jwt.Token) (any, error) {
		return []byte("secret"), nil
	}, jwt.WithIssuer("leadfinder"), jwt.WithAudience("api"))
	require.NoError(t, err)
	assert.Equal(t, "id-1", claims.Subject)
	assert.WithinDuration(t, now.Add(time.Hour), claims.ExpiresAt.Time, time.Second)
}

func TestFormatBusinesses(t *testing.T) {
	email := "hi@acme.com"
	rating := 4.5
	var buf bytes.Buffer
	formatBusinesses(&buf, []model.Business{
		{ID: "abc12345-6789-0000-0000-000000000000", Name: "Acme Plumbing", Email: &email, Rating: &rating, Phone: "555-0100"},
		{ID: "def12345-6789", Name: "A business with a name well over thirty characters"},
	})

	out := buf.String()
	assert.Contains(t, out, "NAME")
	assert.Contains(t, out, "abc12345")
	assert.NotContains(t, out, "abc12345-6789")
	assert.Contains(t, out, "hi@acme.com")
	assert.Contains(t, out, "4.5")
	assert.Contains(t, out, "...")
}

func TestFormatSearches(t *testing.T) {
	now := time.Date(2025, 6, 15, 10, 30, 0, 0, time.UTC)
	var buf bytes.Buffer
	formatSearches(&buf, []model.Search{
		{ID: "s1", OwnerID: "me", Query: "plumbers in Austin", ResultsCount: 12, CreatedAt: now},
		{ID: "s2", OwnerID: "other", Query: "cafes", ResultsCount: 3, CreatedAt: now},
	}, "me")

	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	require.Len(t, lines, 4)
	assert.Contains(t, lines[2], "owner")
	assert.Contains(t, lines[2], "2025-06-15 10:30")
	assert.Contains(t, lines[3], "shared")
}

// TestCLI_UsersAndShare drives the commands end to end against SQLite.
func TestCLI_UsersAndShare(t *testing.T) {
	dir := t.TempDir()
	origDir, _ := os.Getwd()
	require.NoError(t, os.Chdir(dir))
	t.Cleanup(func() { os.Chdir(origDir) }) //nolint:errcheck

	t.Setenv("LEADFINDER_STORE_DRIVER", "sqlite")
	t.Setenv("LEADFINDER_STORE_DATABASE_URL", filepath.Join(dir, "cli.db"))
	t.Setenv("LEADFINDER_AUTH_JWT_SECRET", "secret")

	run := func(args ...string) (string, error) {
		var out bytes.Buffer
		rootCmd.SetOut(&out)
		rootCmd.SetErr(&out)
		rootCmd.SetArgs(args)
		err := rootCmd.ExecuteContext(context.Background())
		return out.String(), err
	}

	_, err := run("migrate")
	require.NoError(t, err)

	annID, err := run("users", "add", "--email", "Ann@Example.org", "--name", "Ann")
	require.NoError(t, err)
	assert.NotEmpty(t, strings.TrimSpace(annID))

	_, err = run("users", "add", "--email", "bob@example.org", "--name", "Bob")
	require.NoError(t, err)

	tok, err := run("users", "token", "--email", "ann@example.org")
	require.NoError(t, err)
	assert.Equal(t, 2, strings.Count(strings.TrimSpace(tok), "."))

	_, err = run("share", "missing-search", "bob@example.org", "--owner", "ann@example.org")
	assert.Error(t, err)

	_, err = run("searches", "--owner", "nobody@example.org")
	assert.Error(t, err)
}
