package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

const sampleConfig = `
workers: 4
cluster:
  judge_board_url: http://dispatcher:8080
  heartbeat_interval: 10
  authenticate_key_file: /etc/judgenode/key.pem
storage:
  db_file: /var/lib/judgenode/problems.db
  archive_dir: /var/lib/judgenode/archives
  jury_dir: /var/lib/judgenode/jury
engine:
  judge_dir: /var/lib/judgenode/judge
  language_dylibs: []
  judge_username: judgeuser
  judgee_syscall_whitelist: [read, write, exit_group]
  jury_cpu_time_limit: 10000
  jury_real_time_limit: 30000
  jury_memory_limit: 1024
  jury_syscall_whitelist: [read, write, openat, exit_group]
`

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "app.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func TestLoadParsesFullDocument(t *testing.T) {
	cfg, err := Load(writeConfig(t, sampleConfig))
	require.NoError(t, err)
	require.Equal(t, uint32(4), cfg.Workers)
	require.Equal(t, "http://dispatcher:8080", cfg.Cluster.JudgeBoardURL)
	require.Equal(t, uint32(10), cfg.Cluster.HeartbeatInterval)
	require.Equal(t, "/var/lib/judgenode/problems.db", cfg.Storage.DBFile)
	require.Equal(t, []string{"read", "write", "exit_group"}, cfg.Engine.JudgeeSyscallWhitelist)
	require.Equal(t, uint64(1024), cfg.Engine.JuryMemoryLimitMB)
}

func TestLoadDefaultsZeroWorkersToOne(t *testing.T) {
	cfg, err := Load(writeConfig(t, "workers: 0"))
	require.NoError(t, err)
	require.Equal(t, uint32(1), cfg.Workers)
}

func TestLoadCapsWorkersAtTen(t *testing.T) {
	cfg, err := Load(writeConfig(t, "workers: 64"))
	require.NoError(t, err)
	require.Equal(t, uint32(10), cfg.Workers)
}

func TestLoadRejectsMissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "nope.yaml"))
	require.Error(t, err)
}

func TestLoadRejectsMalformedYAML(t *testing.T) {
	_, err := Load(writeConfig(t, "workers: [not a number"))
	require.Error(t, err)
}

func TestLoadLogConfig(t *testing.T) {
	path := filepath.Join(t.TempDir(), "log-config.yaml")
	require.NoError(t, os.WriteFile(path, []byte("dir: /var/log/judgenode\nfilename: worker.log\n"), 0o644))
	cfg, err := LoadLogConfig(path)
	require.NoError(t, err)
	require.Equal(t, "/var/log/judgenode", cfg.Dir)
	require.Equal(t, "worker.log", cfg.Filename)
}
