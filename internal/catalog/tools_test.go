package catalog

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseToolPattern(t *testing.T) {
	tests := []struct {
		in      string
		want    ToolPattern
		wantErr bool
	}{
		{in: "Read", want: ToolPattern{Tool: "Read"}},
		{in: " Bash(git push:*) ", want: ToolPattern{Tool: "Bash", Arg: "git push:*"}},
		{in: "mcp__github__create_issue", want: ToolPattern{Tool: "mcp__github__create_issue"}},
		{in: "", wantErr: true},
		{in: "Bash(", wantErr: true},
		{in: "(x)", wantErr: true},
		{in: "Bash()", wantErr: true},
		{in: "Read Write", wantErr: true},
	}
	for _, tt := range tests {
		got, err := ParseToolPattern(tt.in)
		if tt.wantErr {
			assert.Error(t, err, tt.in)
			continue
		}
		require.NoError(t, err, tt.in)
		assert.Equal(t, tt.want, got)
		assert.Equal(t, got, mustPattern(got.String()))
	}
}

func TestToolPattern_Matches(t *testing.T) {
	p := mustPattern("Bash(git push:*)")
	assert.True(t, p.Matches("Bash", "git push origin main"))
	assert.False(t, p.Matches("Bash", "git status"))
	assert.False(t, p.Matches("Read", "git push"))

	assert.True(t, mustPattern("Read").Matches("Read", "/any/file"))
	assert.True(t, mustPattern("Bash(npm *)").Matches("Bash", "npm test"))
	assert.True(t, mustPattern("Bash(make)").Matches("Bash", "make"))
	assert.False(t, mustPattern("Bash(make)").Matches("Bash", "make clean"))
}

func TestToolPolicy_denyWins(t *testing.T) {
	policy := ToolPolicy{
		Allow: []ToolPattern{mustPattern("Bash"), mustPattern("Read")},
		Deny:  []ToolPattern{mustPattern("Bash(rm:*)")},
	}
	assert.True(t, policy.Permits("Bash", "ls"))
	assert.False(t, policy.Permits("Bash", "rm -rf /"))
	assert.True(t, policy.Permits("Read", "x"))
	assert.False(t, policy.Permits("Write", "x"))

	open := ToolPolicy{Deny: []ToolPattern{mustPattern("Write")}}
	assert.True(t, open.Permits("Edit", ""))
	assert.False(t, open.Permits("Write", "a.txt"))
}

func TestFormatTools(t *testing.T) {
	got := FormatTools([]ToolPattern{{Tool: "Read"}, {Tool: "Bash", Arg: "go test:*"}})
	assert.Equal(t, "Read,Bash(go test:*)", got)
	assert.Equal(t, "", FormatTools(nil))
}

func mustPattern(s string) ToolPattern {
	p, err := ParseToolPattern(s)
	if err != nil {
		panic(err)
	}
	return p
}
