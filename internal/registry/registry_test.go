package registry

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"remote-exec-mcp/internal/config"
)

func TestComposeCoreOnly(t *testing.T) {
	set, err := Compose([]string{"exec", "upload", "download"}, nil)
	require.NoError(t, err)

	assert.Equal(t, []string{"download", "exec", "upload"}, set.Names())
	assert.True(t, set.Has("exec"))
	assert.False(t, set.Has("other"))
}

func TestComposeDisabledProviderIgnored(t *testing.T) {
	providers := []Provider{
		{Name: "extra", Enabled: false, Tools: []string{"extra_tool"}, Suppresses: []string{"upload"}},
	}

	set, err := Compose([]string{"exec", "upload"}, providers)
	require.NoError(t, err)

	// Neither the disabled provider's tools nor its suppressions apply
	assert.False(t, set.Has("extra_tool"))
	assert.True(t, set.Has("upload"))
}

func TestComposeSuppression(t *testing.T) {
	providers := []Provider{
		{
			Name:       "intermediary",
			Enabled:    true,
			Tools:      []string{"request_upload", "confirm_upload"},
			Suppresses: []string{"upload", "download"},
		},
	}

	set, err := Compose([]string{"exec", "upload", "download"}, providers)
	require.NoError(t, err)

	assert.True(t, set.Has("exec"))
	assert.True(t, set.Has("request_upload"))
	assert.True(t, set.Has("confirm_upload"))
	assert.False(t, set.Has("upload"))
	assert.False(t, set.Has("download"))
}

func TestComposeOrderIndependent(t *testing.T) {
	a := Provider{Name: "a", Enabled: true, Tools: []string{"a_tool"}, Suppresses: []string{"download"}}
	b := Provider{Name: "b", Enabled: true, Tools: []string{"b_tool"}}

	forward, err := Compose([]string{"exec", "download"}, []Provider{a, b})
	require.NoError(t, err)
	reverse, err := Compose([]string{"exec", "download"}, []Provider{b, a})
	require.NoError(t, err)

	assert.Equal(t, forward.Names(), reverse.Names())
}

func TestComposeSuppressionOfProviderTool(t *testing.T) {
	// Suppression applies after all unions, so one provider can suppress
	// another's tool regardless of declaration order
	a := Provider{Name: "a", Enabled: true, Tools: []string{"shared_op"}}
	b := Provider{Name: "b", Enabled: true, Suppresses: []string{"shared_op"}}

	set, err := Compose([]string{"exec"}, []Provider{a, b})
	require.NoError(t, err)
	assert.False(t, set.Has("shared_op"))

	set, err = Compose([]string{"exec"}, []Provider{b, a})
	require.NoError(t, err)
	assert.False(t, set.Has("shared_op"))
}

func TestComposeDuplicateClaim(t *testing.T) {
	providers := []Provider{
		{Name: "alpha", Enabled: true, Tools: []string{"dup_tool"}},
		{Name: "beta", Enabled: true, Tools: []string{"dup_tool"}},
	}

	_, err := Compose([]string{"exec"}, providers)
	require.Error(t, err)
	assert.ErrorIs(t, err, config.ErrConfiguration)
	assert.Contains(t, err.Error(), "dup_tool (claimed by alpha, beta)")
}

func TestComposeDuplicateClaimResolvedBySuppression(t *testing.T) {
	// A doubly-claimed name that is also suppressed is not a conflict:
	// suppression removes it before the ownership check
	providers := []Provider{
		{Name: "alpha", Enabled: true, Tools: []string{"dup_tool"}},
		{Name: "beta", Enabled: true, Tools: []string{"dup_tool"}, Suppresses: []string{"dup_tool"}},
	}

	set, err := Compose([]string{"exec"}, providers)
	require.NoError(t, err)
	assert.False(t, set.Has("dup_tool"))
	assert.True(t, set.Has("exec"))
}

func TestComposeCoreConflict(t *testing.T) {
	providers := []Provider{
		{Name: "gamma", Enabled: true, Tools: []string{"exec"}},
	}

	_, err := Compose([]string{"exec"}, providers)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "claimed by core, gamma")
}
