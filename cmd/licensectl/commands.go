package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"go.uber.org/multierr"

	"github.com/angelmondragon/licensegate/internal/store"
	"github.com/angelmondragon/licensegate/pkg/db/models"
	"github.com/angelmondragon/licensegate/pkg/licensekey"
)

const usage = `usage: licensectl <command> [flags]

commands:
  create      -user NAME [-max-devices N] [-expires RFC3339|DURATION] [-key KEY] [-prefix LG]
  activate    -key KEY
  deactivate  -key KEY
  expire      -key KEY -at RFC3339|DURATION|never
  max-devices -key KEY -max N
  block       -key KEY -hwid HWID
  unblock     -key KEY -hwid HWID
  devices     -key KEY
  usage       -key KEY [-limit N]
  publish     -module NAME -version VERSION -file PATH
`

type adminStore interface {
	store.Admin
	FindLicenseByKey(ctx context.Context, key string) (*models.License, error)
}

type cli struct {
	store adminStore
	out   io.Writer
	now   func() time.Time
}

func (c *cli) run(ctx context.Context, args []string) error {
	if len(args) == 0 {
		return errors.New("missing command")
	}
	cmd, rest := args[0], args[1:]
	switch cmd {
	case "create":
		return c.create(ctx, rest)
	case "activate", "deactivate":
		return c.setActive(ctx, cmd, rest, cmd == "activate")
	case "expire":
		return c.expire(ctx, rest)
	case "max-devices":
		return c.maxDevices(ctx, rest)
	case "block", "unblock":
		return c.setBlocked(ctx, cmd, rest, cmd == "block")
	case "devices":
		return c.devices(ctx, rest)
	case "usage":
		return c.usage(ctx, rest)
	case "publish":
		return c.publish(ctx, rest)
	case "help", "-h", "--help":
		_, err := io.WriteString(c.out, usage)
		return err
	}
	return fmt.Errorf("unknown command %q", cmd)
}

func newFlagSet(name string) *flag.FlagSet {
	fs := flag.NewFlagSet(name, flag.ContinueOnError)
	fs.SetOutput(io.Discard)
	return fs
}

func required(values map[string]string) error {
	var err error
	for name, value := range values {
		if strings.TrimSpace(value) == "" {
			err = multierr.Append(err, fmt.Errorf("-%s is required", name))
		}
	}
	return err
}

func (c *cli) create(ctx context.Context, args []string) error {
	fs := newFlagSet("create")
	user := fs.String("user", "", "license owner name")
	maxDevices := fs.Int("max-devices", 1, "device ceiling")
	expires := fs.String("expires", "", "absolute RFC3339 time or duration from now")
	key := fs.String("key", "", "explicit license key")
	prefix := fs.String("prefix", licensekey.DefaultPrefix, "prefix for generated keys")
	if err := fs.Parse(args); err != nil {
		return err
	}

	var errs error
	errs = multierr.Append(errs, required(map[string]string{"user": *user}))
	if *maxDevices < 0 {
		errs = multierr.Append(errs, errors.New("-max-devices must not be negative"))
	}
	expiresAt, err := c.parseTime(*expires)
	errs = multierr.Append(errs, err)
	if errs != nil {
		return errs
	}

	if *key == "" {
		generated, err := licensekey.Generate(*prefix)
		if err != nil {
			return err
		}
		*key = generated
	}

	license := &models.License{
		LicenseKey: *key,
		UserName:   strings.TrimSpace(*user),
		IsActive:   true,
		ExpiresAt:  expiresAt,
		MaxDevices: *maxDevices,
	}
	if err := c.store.CreateLicense(ctx, license); err != nil {
		return fmt.Errorf("create license: %w", err)
	}
	return c.print(license)
}

func (c *cli) lookup(ctx context.Context, key string) (*models.License, error) {
	license, err := c.store.FindLicenseByKey(ctx, licensekey.Normalize(key))
	if errors.Is(err, store.ErrNotFound) {
		return nil, fmt.Errorf("license %s not found", licensekey.Normalize(key))
	}
	return license, err
}

func (c *cli) setActive(ctx context.Context, name string, args []string, active bool) error {
	fs := newFlagSet(name)
	key := fs.String("key", "", "license key")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if err := required(map[string]string{"key": *key}); err != nil {
		return err
	}
	license, err := c.lookup(ctx, *key)
	if err != nil {
		return err
	}
	if err := c.store.SetLicenseActive(ctx, license.ID, active); err != nil {
		return err
	}
	license.IsActive = active
	return c.print(license)
}

func (c *cli) expire(ctx context.Context, args []string) error {
	fs := newFlagSet("expire")
	key := fs.String("key", "", "license key")
	at := fs.String("at", "", "RFC3339 time, duration from now, or never")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if err := required(map[string]string{"key": *key, "at": *at}); err != nil {
		return err
	}

	var expiresAt *time.Time
	if *at != "never" {
		parsed, err := c.parseTime(*at)
		if err != nil {
			return err
		}
		expiresAt = parsed
	}

	license, err := c.lookup(ctx, *key)
	if err != nil {
		return err
	}
	if err := c.store.SetLicenseExpiry(ctx, license.ID, expiresAt); err != nil {
		return err
	}
	license.ExpiresAt = expiresAt
	return c.print(license)
}

func (c *cli) maxDevices(ctx context.Context, args []string) error {
	fs := newFlagSet("max-devices")
	key := fs.String("key", "", "license key")
	ceiling := fs.Int("max", -1, "device ceiling")
	if err := fs.Parse(args); err != nil {
		return err
	}
	errs := required(map[string]string{"key": *key})
	if *ceiling < 0 {
		errs = multierr.Append(errs, errors.New("-max must be zero or more"))
	}
	if errs != nil {
		return errs
	}
	license, err := c.lookup(ctx, *key)
	if err != nil {
		return err
	}
	if err := c.store.SetMaxDevices(ctx, license.ID, *ceiling); err != nil {
		return err
	}
	license.MaxDevices = *ceiling
	return c.print(license)
}

func (c *cli) setBlocked(ctx context.Context, name string, args []string, blocked bool) error {
	fs := newFlagSet(name)
	key := fs.String("key", "", "license key")
	hwid := fs.String("hwid", "", "device hardware id")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if err := required(map[string]string{"key": *key, "hwid": *hwid}); err != nil {
		return err
	}
	license, err := c.lookup(ctx, *key)
	if err != nil {
		return err
	}
	if err := c.store.SetDeviceBlocked(ctx, license.ID, *hwid, blocked); err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return fmt.Errorf("device %s is not bound to %s", *hwid, license.LicenseKey)
		}
		if errors.Is(err, store.ErrDeviceLimit) {
			return fmt.Errorf("%s has no free device slot (max %d); block another device or raise max-devices first", license.LicenseKey, license.MaxDevices)
		}
		return err
	}
	devices, err := c.store.ListDevices(ctx, license.ID)
	if err != nil {
		return err
	}
	return c.print(devices)
}

func (c *cli) devices(ctx context.Context, args []string) error {
	fs := newFlagSet("devices")
	key := fs.String("key", "", "license key")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if err := required(map[string]string{"key": *key}); err != nil {
		return err
	}
	license, err := c.lookup(ctx, *key)
	if err != nil {
		return err
	}
	devices, err := c.store.ListDevices(ctx, license.ID)
	if err != nil {
		return err
	}
	return c.print(devices)
}

func (c *cli) usage(ctx context.Context, args []string) error {
	fs := newFlagSet("usage")
	key := fs.String("key", "", "license key")
	limit := fs.Int("limit", 50, "number of events")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if err := required(map[string]string{"key": *key}); err != nil {
		return err
	}
	license, err := c.lookup(ctx, *key)
	if err != nil {
		return err
	}
	events, err := c.store.ListUsageEvents(ctx, license.ID, *limit)
	if err != nil {
		return err
	}
	return c.print(events)
}

type publishedArtifact struct {
	ID         string    `json:"id"`
	ModuleName string    `json:"module_name"`
	Version    string    `json:"version"`
	Bytes      int       `json:"bytes"`
	CreatedAt  time.Time `json:"created_at"`
}

func (c *cli) publish(ctx context.Context, args []string) error {
	fs := newFlagSet("publish")
	module := fs.String("module", "", "module name")
	version := fs.String("version", "", "module version")
	file := fs.String("file", "", "path to the module payload")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if err := required(map[string]string{"module": *module, "version": *version, "file": *file}); err != nil {
		return err
	}
	content, err := os.ReadFile(*file)
	if err != nil {
		return fmt.Errorf("read payload: %w", err)
	}
	artifact, err := c.store.PublishArtifact(ctx, *module, *version, content)
	if err != nil {
		return fmt.Errorf("publish artifact: %w", err)
	}
	return c.print(publishedArtifact{
		ID:         artifact.ID.String(),
		ModuleName: artifact.ModuleName,
		Version:    artifact.Version,
		Bytes:      len(artifact.CodeContent),
		CreatedAt:  artifact.CreatedAt,
	})
}

// parseTime accepts an RFC3339 timestamp or a Go duration relative to now.
// Empty input means no expiry.
func (c *cli) parseTime(value string) (*time.Time, error) {
	value = strings.TrimSpace(value)
	if value == "" {
		return nil, nil
	}
	if d, err := time.ParseDuration(value); err == nil {
		at := c.now().Add(d)
		return &at, nil
	}
	at, err := time.Parse(time.RFC3339, value)
	if err != nil {
		return nil, fmt.Errorf("invalid time %q: use RFC3339 or a duration such as 720h", value)
	}
	at = at.UTC()
	return &at, nil
}

func (c *cli) print(v any) error {
	enc := json.NewEncoder(c.out)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
