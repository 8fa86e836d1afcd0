package model

import (
	"log/slog"

	"pmp/internal/domain"
	"pmp/internal/privacysetting"
)

// Mediator answers resource groups asking what an app may do. It never
// fails: unknown identifiers and values outside a domain yield no value.
type Mediator struct {
	m      *Model
	logger *slog.Logger
}

func NewMediator(m *Model, logger *slog.Logger) *Mediator {
	return &Mediator{m: m, logger: logger.With("component", "mediator")}
}

// PrivacySettingValue returns the value of rg's setting ps granted to app.
func (md *Mediator) PrivacySettingValue(rg, ps, app string) (string, bool) {
	a := md.m.App(app)
	setting := md.m.cache.privacySetting(rg, ps)
	if a == nil || setting == nil {
		return "", false
	}
	value, ok, err := FindBestValue(a, setting)
	if err != nil {
		md.logger.Warn("invalid privacy setting value", "rg", rg, "ps", ps, "app", app, "error", err)
		return "", false
	}
	return value, ok
}

// Mode returns how rg should serve app: NORMAL, MOCK or CLOAK. Apps without
// a Mode grant get NORMAL.
func (md *Mediator) Mode(rg, app string) string {
	value, ok := md.PrivacySettingValue(rg, domain.ModePrivacySetting, app)
	if !ok {
		return privacysetting.ModeNormal
	}
	switch value {
	case privacysetting.ModeMock, privacysetting.ModeCloak:
		return value
	default:
		return privacysetting.ModeNormal
	}
}
