package seeds

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeSeedFile(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "shops.csv")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func TestLoad(t *testing.T) {
	path := writeSeedFile(t, `# shops crawled in file order
Acme Shop,https://www.trademe.co.nz/stores/acme
Other,https://www.trademe.co.nz/stores/other
`)

	shops, err := Load(path)
	require.NoError(t, err)

	require.Len(t, shops, 2)
	assert.Equal(t, "Acme Shop", shops[0].Name)
	assert.Equal(t, "https://www.trademe.co.nz/stores/acme", shops[0].ListingURL)
	assert.Equal(t, "Other", shops[1].Name)
}

func TestLoadDuplicateName(t *testing.T) {
	path := writeSeedFile(t, "Acme,https://a\nAcme,https://b\n")

	_, err := Load(path)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "duplicate shop name")
}

func TestLoadMissingURLColumn(t *testing.T) {
	path := writeSeedFile(t, "Acme\n")

	_, err := Load(path)
	assert.Error(t, err)
}

func TestLoadEmptyFields(t *testing.T) {
	path := writeSeedFile(t, "Acme, \n")

	_, err := Load(path)
	assert.Error(t, err)
}

func TestLoadMissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "absent.csv"))
	assert.Error(t, err)
}
