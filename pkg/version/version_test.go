package version

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestFullCarriesAppNameAndCommit(t *testing.T) {
	assert.Equal(t, AppName+"/"+GitCommit, Full())
	assert.LessOrEqual(t, len(GitCommit), 8)
}

func TestUserAgentIncludesContactURL(t *testing.T) {
	ua := UserAgent()
	assert.Contains(t, ua, Full())
	assert.Contains(t, ua, "(+https://")
}
