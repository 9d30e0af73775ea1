package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const minimal = `
database:
  driver: memory
model:
  path: model.onnx
  metadata_path: model.json
`

func TestParse_Defaults(t *testing.T) {
	cfg, err := Parse([]byte(minimal))
	require.NoError(t, err)

	assert.Equal(t, 8080, cfg.Server.Port)
	assert.Equal(t, ":8080", cfg.Addr())
	assert.Equal(t, 2, cfg.Model.Workers)
	assert.Equal(t, 16, cfg.Model.QueueSize)
	assert.Equal(t, 10*time.Second, cfg.Model.Timeout)
	assert.Equal(t, 0.5, cfg.Risk.LowConfidenceThreshold)
	assert.Equal(t, "./data/images", cfg.Images.Dir)
	assert.Equal(t, "json", cfg.Log.Format)
	assert.False(t, cfg.Model.RejectWhenBusy)
}

func TestParse_ExpandsEnv(t *testing.T) {
	t.Setenv("SKINSCAN_DB_PASSWORD", "s3cret")
	t.Setenv("SKINSCAN_OPENAI_KEY", "sk-test")
	cfg, err := Parse([]byte(`
database:
  driver: postgres
  host: db
  user: app
  password: ${SKINSCAN_DB_PASSWORD}
  name: skinscan
openai:
  apiKey: ${SKINSCAN_OPENAI_KEY}
model:
  path: m.onnx
  metadata_path: m.json
  timeout: 3s
  reject_when_busy: true
`))
	require.NoError(t, err)
	assert.Equal(t, "s3cret", cfg.Database.Password)
	assert.Equal(t, "sk-test", cfg.OpenAI.APIKey)
	assert.Equal(t, 5432, cfg.Database.Port)
	assert.Equal(t, "postgres://app:s3cret@db:5432/skinscan?sslmode=disable", cfg.PostgresDSN())
	assert.Equal(t, 3*time.Second, cfg.Model.Timeout)
	assert.True(t, cfg.Model.RejectWhenBusy)
}

func TestParse_Invalid(t *testing.T) {
	cases := map[string]string{
		"unknown driver": "database: {driver: sqlite}\nmodel: {path: a, metadata_path: b}\n",
		"missing model":  "database: {driver: memory}\n",
		"mysql no host":  "database: {driver: mysql}\nmodel: {path: a, metadata_path: b}\n",
		"bad threshold":  minimal + "risk: {low_confidence_threshold: 1.5}\n",
		"minio bucket":   minimal + "minio: {endpoint: 'minio:9000'}\n",
		"bad yaml":       "database: [",
	}
	for name, body := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := Parse([]byte(body))
			assert.Error(t, err)
		})
	}
}

func TestMySQLDSN(t *testing.T) {
	cfg, err := Parse([]byte(`
database: {driver: mysql, host: db, user: root, password: pw, name: skin}
model: {path: a, metadata_path: b}
`))
	require.NoError(t, err)
	assert.Equal(t, "root:pw@tcp(db:3306)/skin?parseTime=true&charset=utf8mb4&loc=UTC", cfg.MySQLDSN())
}

func TestLoadAndPath(t *testing.T) {
	dir := t.TempDir()
	p := filepath.Join(dir, "cfg.yaml")
	require.NoError(t, os.WriteFile(p, []byte(minimal), 0o600))

	t.Setenv("CONFIG_PATH", p)
	assert.Equal(t, p, Path())
	cfg, err := Load(Path())
	require.NoError(t, err)
	assert.Equal(t, "memory", cfg.Database.Driver)

	_, err = Load(filepath.Join(dir, "missing.yaml"))
	assert.Error(t, err)
}
