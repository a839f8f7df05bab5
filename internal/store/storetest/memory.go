// Package storetest provides an in-memory store.Gateway for service tests.
package storetest

import (
	"context"
	"strings"
	"sync"

	"github.com/angelmondragon/licensegate/internal/store"
	"github.com/angelmondragon/licensegate/pkg/db/models"
	"github.com/google/uuid"
)

// Memory is a mutex-guarded Gateway. ClaimDevice holds the lock for the whole
// check-count-insert sequence, matching the row lock the SQL repository takes.
type Memory struct {
	mu        sync.Mutex
	licenses  map[uuid.UUID]*models.License
	devices   map[uuid.UUID][]*models.Device
	artifacts []*models.Artifact
	events    []models.UsageEvent

	// Err, when set, is returned by every call.
	Err error
	// UsageErr, when set, is returned by InsertUsageEvent only.
	UsageErr error
	// Writes counts mutating calls other than usage inserts.
	Writes int
}

var _ store.Gateway = (*Memory)(nil)

func NewMemory() *Memory {
	return &Memory{
		licenses: make(map[uuid.UUID]*models.License),
		devices:  make(map[uuid.UUID][]*models.Device),
	}
}

// AddLicense stores a copy of l, assigning an id when missing.
func (m *Memory) AddLicense(l models.License) *models.License {
	m.mu.Lock()
	defer m.mu.Unlock()
	if l.ID == uuid.Nil {
		l.ID = uuid.New()
	}
	l.LicenseKey = strings.ToUpper(l.LicenseKey)
	m.licenses[l.ID] = &l
	cp := l
	return &cp
}

func (m *Memory) AddDevice(d models.Device) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if d.ID == uuid.Nil {
		d.ID = uuid.New()
	}
	m.devices[d.LicenseID] = append(m.devices[d.LicenseID], &d)
}

func (m *Memory) AddArtifact(a models.Artifact) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if a.ID == uuid.Nil {
		a.ID = uuid.New()
	}
	m.artifacts = append(m.artifacts, &a)
}

// License returns a snapshot of the stored license.
func (m *Memory) License(id uuid.UUID) models.License {
	m.mu.Lock()
	defer m.mu.Unlock()
	if l, ok := m.licenses[id]; ok {
		return *l
	}
	return models.License{}
}

func (m *Memory) SetLicense(id uuid.UUID, mutate func(*models.License)) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if l, ok := m.licenses[id]; ok {
		mutate(l)
	}
}

func (m *Memory) SetBlocked(licenseID uuid.UUID, hwid string, blocked bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, d := range m.devices[licenseID] {
		if d.HWID == hwid {
			d.IsBlocked = blocked
		}
	}
}

// Devices returns snapshots of the devices bound to licenseID.
func (m *Memory) Devices(licenseID uuid.UUID) []models.Device {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]models.Device, 0, len(m.devices[licenseID]))
	for _, d := range m.devices[licenseID] {
		out = append(out, *d)
	}
	return out
}

func (m *Memory) Events() []models.UsageEvent {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]models.UsageEvent(nil), m.events...)
}

func (m *Memory) FindLicenseByKey(_ context.Context, key string) (*models.License, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.Err != nil {
		return nil, m.Err
	}
	for _, l := range m.licenses {
		if l.LicenseKey == key {
			cp := *l
			return &cp, nil
		}
	}
	return nil, store.ErrNotFound
}

func (m *Memory) FindLicenseByID(_ context.Context, id uuid.UUID) (*models.License, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.Err != nil {
		return nil, m.Err
	}
	l, ok := m.licenses[id]
	if !ok {
		return nil, store.ErrNotFound
	}
	cp := *l
	return &cp, nil
}

func (m *Memory) FindDevice(_ context.Context, licenseID uuid.UUID, hwid string) (*models.Device, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.Err != nil {
		return nil, m.Err
	}
	if d := m.findDevice(licenseID, hwid); d != nil {
		cp := *d
		return &cp, nil
	}
	return nil, store.ErrNotFound
}

func (m *Memory) findDevice(licenseID uuid.UUID, hwid string) *models.Device {
	for _, d := range m.devices[licenseID] {
		if d.HWID == hwid {
			return d
		}
	}
	return nil
}

func (m *Memory) activeDevices(licenseID uuid.UUID) int64 {
	var n int64
	for _, d := range m.devices[licenseID] {
		if !d.IsBlocked {
			n++
		}
	}
	return n
}

func (m *Memory) ClaimDevice(_ context.Context, req store.ClaimRequest) (store.ClaimResult, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.Err != nil {
		return store.ClaimResult{}, m.Err
	}
	license, ok := m.licenses[req.LicenseID]
	if !ok {
		return store.ClaimResult{}, store.ErrNotFound
	}
	result := store.ClaimResult{MaxDevices: license.MaxDevices}

	if d := m.findDevice(req.LicenseID, req.HWID); d != nil {
		cp := *d
		result.Device = &cp
		if d.IsBlocked {
			result.Outcome = store.ClaimBlocked
			return result, nil
		}
		m.Writes++
		d.LastSeenAt = req.At
		result.Device.LastSeenAt = req.At
		touched := req.At
		license.LastUsedAt = &touched
		result.Outcome = store.ClaimKnownDevice
		result.ActiveDevices = m.activeDevices(req.LicenseID)
		return result, nil
	}

	active := m.activeDevices(req.LicenseID)
	result.ActiveDevices = active
	if active >= int64(license.MaxDevices) {
		result.Outcome = store.ClaimLimitReached
		return result, nil
	}

	m.Writes++
	device := &models.Device{
		ID:          uuid.New(),
		LicenseID:   req.LicenseID,
		HWID:        req.HWID,
		DeviceInfo:  req.DeviceInfo,
		FirstSeenAt: req.At,
		LastSeenAt:  req.At,
	}
	m.devices[req.LicenseID] = append(m.devices[req.LicenseID], device)
	license.DevicesUsed = int(active + 1)
	touched := req.At
	license.LastUsedAt = &touched

	cp := *device
	result.Outcome = store.ClaimNewDevice
	result.Device = &cp
	result.ActiveDevices = active + 1
	return result, nil
}

func (m *Memory) FindActiveArtifact(_ context.Context, moduleName string) (*models.Artifact, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.Err != nil {
		return nil, m.Err
	}
	for _, a := range m.artifacts {
		if a.ModuleName == moduleName && a.IsActive {
			cp := *a
			return &cp, nil
		}
	}
	return nil, store.ErrNotFound
}

func (m *Memory) InsertUsageEvent(_ context.Context, event *models.UsageEvent) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.Err != nil {
		return m.Err
	}
	if m.UsageErr != nil {
		return m.UsageErr
	}
	m.events = append(m.events, *event)
	return nil
}
