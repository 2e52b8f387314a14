package main

import (
	"bytes"
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/dropDatabas3/keyregistry/internal/config"
	"github.com/dropDatabas3/keyregistry/internal/domain/repository"
	"github.com/dropDatabas3/keyregistry/internal/store"
	"github.com/dropDatabas3/keyregistry/internal/store/adapters/memory"
)

// keepOpen evita que el teardown de cada comando borre el backend compartido;
// solo cuenta los Close.
type keepOpen struct {
	store.AdapterConnection
	closes *int
}

func (k keepOpen) Close() error {
	*k.closes++
	return nil
}

type harness struct {
	t       *testing.T
	backend *memory.Backend
	closes  int
}

func newHarness(t *testing.T) *harness {
	t.Setenv("STORAGE_DRIVER", "memory")
	t.Setenv("KEYS_RSA_BITS", "2048")
	return &harness{t: t, backend: memory.NewBackend()}
}

func (h *harness) run(args ...string) (string, error) {
	h.t.Helper()
	return h.runRaw(append([]string{"--env-file", "", "--tenant", "acme"}, args...)...)
}

func (h *harness) runRaw(args ...string) (string, error) {
	h.t.Helper()
	var out bytes.Buffer
	open := func(ctx context.Context, cfg *config.Config) (*store.Keyspaces, error) {
		return store.NewKeyspaces(keepOpen{AdapterConnection: h.backend, closes: &h.closes}, nil), nil
	}
	root := newRootCmd(open, &out)
	root.SetArgs(args)
	err := root.Execute()
	return out.String(), err
}

func TestCLI_Lifecycle(t *testing.T) {
	h := newHarness(t)

	out, err := h.run("provisioned")
	require.NoError(t, err)
	require.Equal(t, "false\n", out)

	_, err = h.run("provision")
	require.NoError(t, err)

	out, err = h.run("provisioned", "--out", "json")
	require.NoError(t, err)
	require.JSONEq(t, `{"tenant":"acme","provisioned":true}`, out)

	pemPath := filepath.Join(t.TempDir(), "acme.pem")
	out, err = h.run("create", "--out", "json", "--private-key-out", pemPath)
	require.NoError(t, err)
	var set repository.ApplicationSignatureSet
	require.NoError(t, json.Unmarshal([]byte(out), &set))
	require.NotEmpty(t, set.Timestamp)
	require.True(t, set.ApplicationSignature.Equal(set.IdentityManagerSignature))

	raw, err := os.ReadFile(pemPath)
	require.NoError(t, err)
	require.Contains(t, string(raw), "BEGIN PRIVATE KEY")
	info, err := os.Stat(pemPath)
	require.NoError(t, err)
	require.Equal(t, os.FileMode(0o600), info.Mode().Perm())

	out, err = h.run("get", set.Timestamp)
	require.NoError(t, err)
	require.Contains(t, out, "timestamp: "+set.Timestamp)

	out, err = h.run("list")
	require.NoError(t, err)
	require.Equal(t, set.Timestamp+"\n", out)

	out, err = h.run("jwks")
	require.NoError(t, err)
	var jwks repository.JWKS
	require.NoError(t, json.Unmarshal([]byte(out), &jwks))
	require.Len(t, jwks.Keys, 1)
	require.Equal(t, set.Timestamp, jwks.Keys[0].KID)

	out, err = h.run("rotate", set.Timestamp, "--out", "json")
	require.NoError(t, err)
	var next repository.ApplicationSignatureSet
	require.NoError(t, json.Unmarshal([]byte(out), &next))
	require.NotEqual(t, set.Timestamp, next.Timestamp)

	_, err = h.run("get", set.Timestamp)
	require.Error(t, err)
	require.Contains(t, err.Error(), "no encontrado")

	_, err = h.run("delete", next.Timestamp)
	require.NoError(t, err)
	out, err = h.run("list")
	require.NoError(t, err)
	require.Empty(t, strings.TrimSpace(out))
}

func TestCLI_RequiresTenant(t *testing.T) {
	t.Setenv("KEYS_TENANT", "")
	var out bytes.Buffer
	root := newRootCmd(nil, &out)
	root.SetArgs([]string{"--env-file", "", "list"})
	err := root.Execute()
	require.Error(t, err)
	require.Contains(t, err.Error(), "--tenant")
}

func TestCLI_RejectsUnknownOutput(t *testing.T) {
	h := newHarness(t)
	_, err := h.run("list", "--out", "yaml")
	require.Error(t, err)
	require.Contains(t, err.Error(), "--out")
}

func TestCLI_NotProvisionedKeyspace(t *testing.T) {
	h := newHarness(t)
	_, err := h.run("create")
	require.ErrorIs(t, err, repository.ErrKeyspaceNotProvisioned)
}

func TestCLI_CreateRefusesExistingKeyFileBeforeCreating(t *testing.T) {
	h := newHarness(t)
	_, err := h.run("provision")
	require.NoError(t, err)

	pemPath := filepath.Join(t.TempDir(), "taken.pem")
	require.NoError(t, os.WriteFile(pemPath, []byte("otra cosa"), 0o600))

	_, err = h.run("create", "--private-key-out", pemPath)
	require.Error(t, err)
	require.ErrorIs(t, err, os.ErrExist)

	out, err := h.run("list")
	require.NoError(t, err)
	require.Empty(t, strings.TrimSpace(out))

	raw, err := os.ReadFile(pemPath)
	require.NoError(t, err)
	require.Equal(t, "otra cosa", string(raw))
}

func TestCLI_RotateRefusesExistingKeyFileBeforeRotating(t *testing.T) {
	h := newHarness(t)
	_, err := h.run("provision")
	require.NoError(t, err)
	out, err := h.run("create", "--out", "json")
	require.NoError(t, err)
	var set repository.ApplicationSignatureSet
	require.NoError(t, json.Unmarshal([]byte(out), &set))

	pemPath := filepath.Join(t.TempDir(), "taken.pem")
	require.NoError(t, os.WriteFile(pemPath, nil, 0o600))

	_, err = h.run("rotate", set.Timestamp, "--private-key-out", pemPath)
	require.ErrorIs(t, err, os.ErrExist)

	out, err = h.run("list")
	require.NoError(t, err)
	require.Equal(t, set.Timestamp+"\n", out)
}

func TestCLI_CreateFailureRemovesKeyFile(t *testing.T) {
	h := newHarness(t)
	pemPath := filepath.Join(t.TempDir(), "acme.pem")

	_, err := h.run("create", "--private-key-out", pemPath)
	require.ErrorIs(t, err, repository.ErrKeyspaceNotProvisioned)
	_, err = os.Stat(pemPath)
	require.ErrorIs(t, err, os.ErrNotExist)
}

func TestCLI_TenantAndOutputFromEnvFile(t *testing.T) {
	h := newHarness(t)
	// t.Setenv restaura al final lo que deje el .env
	t.Setenv("KEYS_TENANT", "")
	t.Setenv("KEYS_OUT", "")
	require.NoError(t, os.Unsetenv("KEYS_TENANT"))
	require.NoError(t, os.Unsetenv("KEYS_OUT"))

	envFile := filepath.Join(t.TempDir(), ".env")
	require.NoError(t, os.WriteFile(envFile, []byte("KEYS_TENANT=globex\nKEYS_OUT=json\n"), 0o600))

	out, err := h.runRaw("--env-file", envFile, "provisioned")
	require.NoError(t, err)
	require.JSONEq(t, `{"tenant":"globex","provisioned":false}`, out)

	// el flag gana sobre el .env
	out, err = h.runRaw("--env-file", envFile, "--tenant", "acme", "--out", "text", "provisioned")
	require.NoError(t, err)
	require.Equal(t, "false\n", out)
}

func TestCLI_ClosesStoreOnErrors(t *testing.T) {
	h := newHarness(t)

	_, err := h.run("provision")
	require.NoError(t, err)
	require.Equal(t, 1, h.closes)

	_, err = h.run("get", "2026-01-01T00_00_00_000")
	require.Error(t, err)
	require.Equal(t, 2, h.closes)

	// ForTenant falla dentro de setup
	_, err = h.runRaw("--env-file", "", "--tenant", "Not A Tenant!", "list")
	require.ErrorIs(t, err, repository.ErrInvalidInput)
	require.Equal(t, 3, h.closes)
}

func TestCLI_Inspect(t *testing.T) {
	h := newHarness(t)
	_, err := h.run("provision")
	require.NoError(t, err)
	out, err := h.run("create", "--out", "json")
	require.NoError(t, err)
	var set repository.ApplicationSignatureSet
	require.NoError(t, json.Unmarshal([]byte(out), &set))

	out, err = h.run("inspect", set.Timestamp, "--out", "json")
	require.NoError(t, err)
	var info struct {
		Timestamp string    `json:"timestamp"`
		Bits      int       `json:"bits"`
		Exponent  int       `json:"exponent"`
		CreatedAt time.Time `json:"created_at"`
	}
	require.NoError(t, json.Unmarshal([]byte(out), &info))
	require.Equal(t, set.Timestamp, info.Timestamp)
	require.Equal(t, 2048, info.Bits)
	require.Equal(t, 65537, info.Exponent)
	require.WithinDuration(t, time.Now(), info.CreatedAt, time.Minute)

	_, err = h.run("inspect", "2026-01-01T00_00_00_000")
	require.Error(t, err)
	require.Contains(t, err.Error(), "no encontrado")
}
