package query

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestExact_MatchesOnlyExactName(t *testing.T) {
	p := Exact("code")
	assert.True(t, p.Match("code"))
	assert.False(t, p.Match("code-docs"))
	assert.False(t, p.Match(""))
}

func TestGlob_MatchesWildcardPattern(t *testing.T) {
	p, err := Glob("docs-*")
	require.NoError(t, err)
	assert.True(t, p.Match("docs-en"))
	assert.True(t, p.Match("docs-fr"))
	assert.False(t, p.Match("code"))
}

func TestGlob_InvalidPatternReturnsError(t *testing.T) {
	_, err := Glob("[")
	assert.Error(t, err)
}

func TestAny_MatchesEverything(t *testing.T) {
	p := Any()
	assert.True(t, p.Match("anything"))
	assert.True(t, p.Match(""))
}

func TestUnion_MatchesIfAnyMemberMatches(t *testing.T) {
	p := Union(Exact("code"), Exact("docs"))
	assert.True(t, p.Match("code"))
	assert.True(t, p.Match("docs"))
	assert.False(t, p.Match("prod"))
}

func TestUnion_EmptyMatchesNothing(t *testing.T) {
	p := Union()
	assert.False(t, p.Match("code"))
}

func TestAlias_MatchesExactAndHyphenJoinedNames(t *testing.T) {
	p := Alias("env", "dev", "prod")
	assert.True(t, p.Match("dev"))
	assert.True(t, p.Match("prod"))
	assert.True(t, p.Match("dev-code"))
	assert.True(t, p.Match("code-prod"))
	assert.False(t, p.Match("staging"))
}

func TestParsePattern_EmptyOrStarResolvesAny(t *testing.T) {
	p, err := ParsePattern("")
	require.NoError(t, err)
	assert.True(t, p.Match("anything"))

	p, err = ParsePattern("*")
	require.NoError(t, err)
	assert.True(t, p.Match("anything"))
}

func TestParsePattern_RecognizedAliasKind(t *testing.T) {
	p, err := ParsePattern("env:dev|prod")
	require.NoError(t, err)
	assert.True(t, p.Match("dev"))
	assert.True(t, p.Match("prod"))
	assert.False(t, p.Match("staging"))
}

func TestParsePattern_UnrecognizedColonPrefixIsExactName(t *testing.T) {
	p, err := ParsePattern("weird:thing")
	require.NoError(t, err)
	assert.True(t, p.Match("weird:thing"))
}

func TestParsePattern_GlobCharactersUseGlobMatch(t *testing.T) {
	p, err := ParsePattern("docs-*")
	require.NoError(t, err)
	assert.True(t, p.Match("docs-en"))
	assert.False(t, p.Match("code"))
}

func TestParsePattern_PlainNameIsExact(t *testing.T) {
	p, err := ParsePattern("code")
	require.NoError(t, err)
	assert.True(t, p.Match("code"))
	assert.False(t, p.Match("code-docs"))
}

func TestResolvePatterns_EmptyListResolvesAny(t *testing.T) {
	p, invalid := ResolvePatterns(nil)
	assert.Empty(t, invalid)
	assert.True(t, p.Match("anything"))
}

func TestResolvePatterns_UnionsValidTokensAndDropsInvalid(t *testing.T) {
	p, invalid := ResolvePatterns([]string{"code", "docs-*", "["})
	assert.Equal(t, []string{"["}, invalid)
	assert.True(t, p.Match("code"))
	assert.True(t, p.Match("docs-en"))
	assert.False(t, p.Match("prod"))
}

func TestResolvePatterns_AllInvalidMatchesNothing(t *testing.T) {
	p, invalid := ResolvePatterns([]string{"[", "*["})
	assert.Len(t, invalid, 2)
	assert.False(t, p.Match("anything"))
}
