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

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/angelmondragon/licensegate/internal/store"
	"github.com/angelmondragon/licensegate/pkg/db"
	"github.com/angelmondragon/licensegate/pkg/db/models"
	"github.com/angelmondragon/licensegate/pkg/migrate"
)

var fixedNow = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

func newCLI(t *testing.T) (*cli, *store.Repository, *bytes.Buffer) {
	t.Helper()
	ctx := context.Background()
	client, err := db.NewSQLite(ctx, "file:"+uuid.NewString()+"?mode=memory&cache=shared", nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = client.Close() })
	require.NoError(t, migrate.AutoMigrate(ctx, client))

	repo := store.NewRepository(client, time.Second)
	out := &bytes.Buffer{}
	return &cli{store: repo, out: out, now: func() time.Time { return fixedNow }}, repo, out
}

func createLicense(t *testing.T, c *cli, out *bytes.Buffer, args ...string) models.License {
	t.Helper()
	out.Reset()
	require.NoError(t, c.run(context.Background(), append([]string{"create"}, args...)))
	var license models.License
	require.NoError(t, json.Unmarshal(out.Bytes(), &license))
	return license
}

func TestCreateGeneratesKey(t *testing.T) {
	c, repo, out := newCLI(t)

	license := createLicense(t, c, out, "-user", "Ada", "-max-devices", "3", "-expires", "720h")
	assert.True(t, strings.HasPrefix(license.LicenseKey, "LG-"))
	assert.Equal(t, 3, license.MaxDevices)
	require.NotNil(t, license.ExpiresAt)
	assert.True(t, license.ExpiresAt.Equal(fixedNow.Add(720*time.Hour)))

	stored, err := repo.FindLicenseByKey(context.Background(), license.LicenseKey)
	require.NoError(t, err)
	assert.Equal(t, "Ada", stored.UserName)
	assert.True(t, stored.IsActive)
}

func TestCreateReportsEveryMissingFlag(t *testing.T) {
	c, _, _ := newCLI(t)

	err := c.run(context.Background(), []string{"create", "-max-devices", "-1", "-expires", "soon"})
	require.Error(t, err)
	msg := err.Error()
	assert.Contains(t, msg, "-user is required")
	assert.Contains(t, msg, "-max-devices must not be negative")
	assert.Contains(t, msg, `invalid time "soon"`)
}

func TestLicenseLifecycleCommands(t *testing.T) {
	c, repo, out := newCLI(t)
	ctx := context.Background()
	license := createLicense(t, c, out, "-user", "Ada", "-key", "lg-test-0001")
	assert.Equal(t, "LG-TEST-0001", license.LicenseKey)

	require.NoError(t, c.run(ctx, []string{"deactivate", "-key", "lg-test-0001"}))
	stored, err := repo.FindLicenseByID(ctx, license.ID)
	require.NoError(t, err)
	assert.False(t, stored.IsActive)

	require.NoError(t, c.run(ctx, []string{"activate", "-key", "LG-TEST-0001"}))
	require.NoError(t, c.run(ctx, []string{"expire", "-key", "LG-TEST-0001", "-at", "2027-01-01T00:00:00Z"}))
	require.NoError(t, c.run(ctx, []string{"max-devices", "-key", "LG-TEST-0001", "-max", "5"}))

	stored, err = repo.FindLicenseByID(ctx, license.ID)
	require.NoError(t, err)
	assert.True(t, stored.IsActive)
	assert.Equal(t, 5, stored.MaxDevices)
	require.NotNil(t, stored.ExpiresAt)
	assert.True(t, stored.ExpiresAt.Equal(time.Date(2027, 1, 1, 0, 0, 0, 0, time.UTC)))

	require.NoError(t, c.run(ctx, []string{"expire", "-key", "LG-TEST-0001", "-at", "never"}))
	stored, err = repo.FindLicenseByID(ctx, license.ID)
	require.NoError(t, err)
	assert.Nil(t, stored.ExpiresAt)
}

func TestBlockAndListDevices(t *testing.T) {
	c, repo, out := newCLI(t)
	ctx := context.Background()
	license := createLicense(t, c, out, "-user", "Ada", "-key", "LG-BLOCK", "-max-devices", "2")

	_, err := repo.ClaimDevice(ctx, store.ClaimRequest{LicenseID: license.ID, HWID: "HW-1", At: fixedNow})
	require.NoError(t, err)

	out.Reset()
	require.NoError(t, c.run(ctx, []string{"block", "-key", "LG-BLOCK", "-hwid", "HW-1"}))
	var devices []models.Device
	require.NoError(t, json.Unmarshal(out.Bytes(), &devices))
	require.Len(t, devices, 1)
	assert.True(t, devices[0].IsBlocked)

	err = c.run(ctx, []string{"block", "-key", "LG-BLOCK", "-hwid", "HW-404"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "not bound")

	out.Reset()
	require.NoError(t, c.run(ctx, []string{"unblock", "-key", "LG-BLOCK", "-hwid", "HW-1"}))
	out.Reset()
	require.NoError(t, c.run(ctx, []string{"devices", "-key", "LG-BLOCK"}))
	require.NoError(t, json.Unmarshal(out.Bytes(), &devices))
	assert.False(t, devices[0].IsBlocked)
}

func TestUnblockRefusedWhenSlotsAreFull(t *testing.T) {
	c, repo, out := newCLI(t)
	ctx := context.Background()
	license := createLicense(t, c, out, "-user", "Ada", "-key", "LG-FULL", "-max-devices", "1")

	_, err := repo.ClaimDevice(ctx, store.ClaimRequest{LicenseID: license.ID, HWID: "HW-A", At: fixedNow})
	require.NoError(t, err)
	require.NoError(t, c.run(ctx, []string{"block", "-key", "LG-FULL", "-hwid", "HW-A"}))
	_, err = repo.ClaimDevice(ctx, store.ClaimRequest{LicenseID: license.ID, HWID: "HW-B", At: fixedNow})
	require.NoError(t, err)

	err = c.run(ctx, []string{"unblock", "-key", "LG-FULL", "-hwid", "HW-A"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "no free device slot")

	device, err := repo.FindDevice(ctx, license.ID, "HW-A")
	require.NoError(t, err)
	assert.True(t, device.IsBlocked)
}

func TestPublishAndUsage(t *testing.T) {
	c, repo, out := newCLI(t)
	ctx := context.Background()
	license := createLicense(t, c, out, "-user", "Ada", "-key", "LG-PUB")

	path := filepath.Join(t.TempDir(), "core.bin")
	require.NoError(t, os.WriteFile(path, []byte("payload"), 0o600))

	out.Reset()
	require.NoError(t, c.run(ctx, []string{"publish", "-module", "core", "-version", "1.0.0", "-file", path}))
	var published publishedArtifact
	require.NoError(t, json.Unmarshal(out.Bytes(), &published))
	assert.Equal(t, 7, published.Bytes)

	artifact, err := repo.FindActiveArtifact(ctx, "core")
	require.NoError(t, err)
	assert.Equal(t, "1.0.0", artifact.Version)

	licenseID := license.ID
	require.NoError(t, repo.InsertUsageEvent(ctx, &models.UsageEvent{LicenseID: &licenseID, HWID: "HW-1", Action: "VALIDATE", CreatedAt: fixedNow}))

	out.Reset()
	require.NoError(t, c.run(ctx, []string{"usage", "-key", "LG-PUB", "-limit", "5"}))
	var events []models.UsageEvent
	require.NoError(t, json.Unmarshal(out.Bytes(), &events))
	assert.Len(t, events, 1)
}

func TestUnknownCommandAndLicense(t *testing.T) {
	c, _, _ := newCLI(t)
	ctx := context.Background()

	assert.Error(t, c.run(ctx, nil))
	assert.Error(t, c.run(ctx, []string{"frobnicate"}))

	err := c.run(ctx, []string{"devices", "-key", "LG-MISSING"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "not found")
}
