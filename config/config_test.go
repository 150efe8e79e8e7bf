package config

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParse(t *testing.T) {
	cases := []struct {
		name string
		data string
		err  string
		want *Config
	}{
		{
			name: "valid config",
			data: "version: 1.2.0\ndescription: new stuff\nhash_db: hashes.db\nstartup_path: bin/app\nrequired_only: true\ncleanup: false\n",
			want: &Config{
				Version:      "1.2.0",
				Description:  "new stuff",
				HashDB:       "hashes.db",
				StartupPath:  "bin/app",
				RequiredOnly: true,
			},
		},
		{
			name: "missing version",
			data: "description: x\nhash_db: h.db\nstartup_path: ''\nrequired_only: false\ncleanup: false\n",
			err:  `missing "version" attribute`,
		},
		{
			name: "missing cleanup",
			data: "version: 1.0.0\ndescription: x\nhash_db: h.db\nstartup_path: ''\nrequired_only: false\n",
			err:  `missing "cleanup" attribute`,
		},
		{
			name: "first missing key is reported",
			data: "version: 1.0.0\n",
			err:  `missing "description" attribute`,
		},
		{
			name: "hash_db is checked before startup_path",
			data: "version: 1.0.0\ndescription: x\nrequired_only: false\ncleanup: false\n",
			err:  `missing "hash_db" attribute`,
		},
		{
			name: "empty document",
			data: "",
			err:  `missing "version" attribute`,
		},
	}

	for _, test := range cases {
		t.Run(test.name, func(t *testing.T) {
			cfg, err := Parse([]byte(test.data))
			if test.err != "" {
				assert.EqualError(t, err, test.err)
				return
			}

			require.NoError(t, err)
			assert.Equal(t, test.want, cfg)
		})
	}
}

func TestWriteLoad(t *testing.T) {
	path := filepath.Join(t.TempDir(), File)

	cfg := Default()
	cfg.HashDB = "hashes.db"

	require.NoError(t, Write(path, cfg))

	loaded, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, cfg, *loaded)
}

func TestLoadMissing(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "nope.yaml"))
	assert.Error(t, err)
}

func TestNormalize(t *testing.T) {
	cases := []struct {
		in   string
		want string
	}{
		{in: `C:\project\app\`, want: "C:/project/app"},
		{in: "https://example.com/app/.upgrader/", want: "https://example.com/app/.upgrader"},
		{in: "/srv/app", want: "/srv/app"},
	}

	for _, test := range cases {
		assert.Equal(t, test.want, Normalize(test.in), test.in)
	}

	assert.Equal(t, []string{"a/b", "c"}, NormalizeAll([]string{`a\b\`, "c/"}))
}
