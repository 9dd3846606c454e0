package symbols

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCanonicalSlug(t *testing.T) {
	assert.Equal(t, "scikit-learn", CanonicalSlug("scikit-learn"))
	assert.Equal(t, "scikit-learn", CanonicalSlug("scikit_learn"))
	assert.Equal(t, "@scope/name", CanonicalSlug("@scope/name"))
}

func TestAliasesForCrossEcosystem(t *testing.T) {
	aliases := AliasesFor("scikit-learn")
	assert.Contains(t, aliases, "scikit-learn")
	assert.Contains(t, aliases, "sklearn")
}

func TestAliasesForReverseLookup(t *testing.T) {
	aliases := AliasesFor(CanonicalSlug("sklearn"))
	assert.Contains(t, aliases, "scikit-learn")
}

func TestParseRequirementsTxt(t *testing.T) {
	content := []byte("requests==2.31.0\n# comment\nnumpy>=1.20\nscikit-learn\n")
	libs, err := ParseRequirementsTxt(content)
	require.NoError(t, err)
	require.Len(t, libs, 3)
	assert.Equal(t, "requests", libs[0].Slug)
	assert.Equal(t, "py", libs[0].Ecosystem)
}

func TestParseRequirementsTxtMalformedLine(t *testing.T) {
	content := []byte("===broken===\n")
	_, err := ParseRequirementsTxt(content)
	require.Error(t, err)
}

func TestParsePackageJSON(t *testing.T) {
	content := []byte(`{"dependencies": {"react": "^18.0.0"}, "devDependencies": {"jest": "^29.0.0"}}`)
	libs, err := ParsePackageJSON(content)
	require.NoError(t, err)
	require.Len(t, libs, 2)
}

func TestParsePackageJSONMalformed(t *testing.T) {
	_, err := ParsePackageJSON([]byte(`{not json`))
	require.Error(t, err)
}

func TestResolveImportRelativeIsInternal(t *testing.T) {
	internal, slug := ResolveImport("./util")
	assert.True(t, internal)
	assert.Empty(t, slug)
}

func TestResolveImportExternalCanonicalizesTopLevel(t *testing.T) {
	internal, slug := ResolveImport("os/exec")
	assert.False(t, internal)
	assert.Equal(t, "os", slug)
}
