package cli

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/leonaii/kirocloud/internal/models"
)

func TestInitCLIRegistersCommands(t *testing.T) {
	InitCLI()
	require.True(t, IsCLIInitialized())

	names := map[string]bool{}
	for _, cmd := range RootCmd.Commands() {
		names[cmd.Name()] = true
	}
	for _, want := range []string{"login", "accounts", "quotas", "check", "import", "serve", "doctor", "version"} {
		require.True(t, names[want], "command %s not registered", want)
	}
}

func TestParseProvider(t *testing.T) {
	p, err := parseProvider("google")
	require.NoError(t, err)
	require.Equal(t, models.ProviderGoogle, p)

	p, err = parseProvider("github")
	require.NoError(t, err)
	require.Equal(t, models.ProviderGitHub, p)

	_, err = parseProvider("myspace")
	require.Error(t, err)
}

func TestParseImportLines(t *testing.T) {
	input := strings.Join([]string{
		`{"label":"work","access_token":"at","refresh_token":"rt","auth_method":"social","provider":"Google"}`,
		``,
		`# comment line`,
		`not json at all`,
		`{"access_token":"at2","auth_method":"oidc","provider":"BuilderId","client_id":"c","client_secret":"s"}`,
	}, "\n")

	items, failures, err := parseImportLines(strings.NewReader(input))
	require.NoError(t, err)
	require.Len(t, items, 2)
	require.Len(t, failures, 1)

	require.Equal(t, "work", items[0].Label)
	require.Equal(t, models.AuthSocial, items[0].Bundle.AuthMethod)
	require.Equal(t, "at", items[0].Bundle.AccessToken)

	// Unlabelled lines get a generated label.
	require.NotEmpty(t, items[1].Label)
	require.Equal(t, models.AuthOIDC, items[1].Bundle.AuthMethod)

	require.Contains(t, failures[0].Label, "line 4")
	require.Contains(t, failures[0].Error, "invalid JSON")
}
