package service

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"strings"
	"time"

	"gorm.io/datatypes"

	"pricecontest/internal/models"
	"pricecontest/internal/repository"
)

const (
	FeatureScheduleOpen   = "feature.schedule_open"
	FeatureScheduleClose  = "feature.schedule_close"
	FeatureScheduleSettle = "feature.schedule_settle"

	SettingWindowState = "window.state"
)

func DefaultFeatureSwitches() map[string]bool {
	return map[string]bool{
		FeatureScheduleOpen:   true,
		FeatureScheduleClose:  true,
		FeatureScheduleSettle: true,
	}
}

func IsKnownSwitch(key string) bool {
	_, ok := DefaultFeatureSwitches()[key]
	return ok
}

// WindowState is the persisted submission window flag.
type WindowState struct {
	Open      bool      `json:"open"`
	ChangedAt time.Time `json:"changed_at"`
	ChangedBy string    `json:"changed_by"`
}

type SystemSettingsService struct {
	Repo repository.Repository
}

// EnsureDefaultSwitches creates missing switches. Switches an operator already set are left alone.
func (s *SystemSettingsService) EnsureDefaultSwitches(ctx context.Context) error {
	if s == nil || s.Repo == nil {
		return nil
	}
	now := time.Now().UTC()
	for key, enabled := range DefaultFeatureSwitches() {
		existing, err := s.Repo.GetSystemSettingByKey(ctx, key)
		if err != nil {
			return err
		}
		if existing != nil {
			continue
		}
		raw, _ := json.Marshal(enabled)
		item := &models.SystemSetting{
			Key:         key,
			Value:       datatypes.JSON(raw),
			Description: "feature switch",
			CreatedAt:   now,
			UpdatedAt:   now,
		}
		if err := s.Repo.UpsertSystemSetting(ctx, item); err != nil {
			return err
		}
	}
	return nil
}

func (s *SystemSettingsService) IsEnabled(ctx context.Context, key string, fallback bool) bool {
	if s == nil || s.Repo == nil {
		return fallback
	}
	key = strings.TrimSpace(key)
	if key == "" {
		return fallback
	}
	item, err := s.Repo.GetSystemSettingByKey(ctx, key)
	if err != nil || item == nil || len(item.Value) == 0 {
		return fallback
	}
	var enabled bool
	if err := json.Unmarshal(item.Value, &enabled); err != nil {
		return fallback
	}
	return enabled
}

func (s *SystemSettingsService) SetEnabled(ctx context.Context, key string, enabled bool) error {
	if s == nil || s.Repo == nil {
		return nil
	}
	key = strings.TrimSpace(key)
	if key == "" {
		return nil
	}
	raw, _ := json.Marshal(enabled)
	item := &models.SystemSetting{
		Key:         key,
		Value:       datatypes.JSON(raw),
		Description: "feature switch",
		UpdatedAt:   time.Now().UTC(),
	}
	return s.Repo.UpsertSystemSetting(ctx, item)
}

type Switch struct {
	Key       string    `json:"key"`
	Enabled   bool      `json:"enabled"`
	UpdatedAt time.Time `json:"updated_at,omitempty"`
}

// Switches lists every known switch with its effective value.
func (s *SystemSettingsService) Switches(ctx context.Context) ([]Switch, error) {
	defaults := DefaultFeatureSwitches()
	out := make([]Switch, 0, len(defaults))
	for key, enabled := range defaults {
		out = append(out, Switch{Key: key, Enabled: enabled})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Key < out[j].Key })
	if s == nil || s.Repo == nil {
		return out, nil
	}
	prefix := "feature."
	items, err := s.Repo.ListSystemSettings(ctx, repository.ListSystemSettingsParams{Prefix: &prefix})
	if err != nil {
		return nil, err
	}
	stored := make(map[string]models.SystemSetting, len(items))
	for _, item := range items {
		stored[item.Key] = item
	}
	for i := range out {
		item, ok := stored[out[i].Key]
		if !ok {
			continue
		}
		var enabled bool
		if err := json.Unmarshal(item.Value, &enabled); err == nil {
			out[i].Enabled = enabled
		}
		out[i].UpdatedAt = item.UpdatedAt
	}
	return out, nil
}

// WindowState reads the persisted window flag. A window that was never opened is closed.
func (s *SystemSettingsService) WindowState(ctx context.Context) (WindowState, error) {
	if s == nil || s.Repo == nil {
		return WindowState{}, nil
	}
	item, err := s.Repo.GetSystemSettingByKey(ctx, SettingWindowState)
	if err != nil {
		return WindowState{}, err
	}
	if item == nil || len(item.Value) == 0 {
		return WindowState{}, nil
	}
	var st WindowState
	if err := json.Unmarshal(item.Value, &st); err != nil {
		return WindowState{}, fmt.Errorf("decode %s: %w", SettingWindowState, err)
	}
	return st, nil
}

func (s *SystemSettingsService) SetWindowState(ctx context.Context, st WindowState) error {
	if s == nil || s.Repo == nil {
		return nil
	}
	raw, err := json.Marshal(st)
	if err != nil {
		return err
	}
	return s.Repo.UpsertSystemSetting(ctx, &models.SystemSetting{
		Key:         SettingWindowState,
		Value:       datatypes.JSON(raw),
		Description: "submission window state",
		UpdatedAt:   time.Now().UTC(),
	})
}
