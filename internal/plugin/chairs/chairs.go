// Package chairs is a sample global plugin: it disables every game object
// carrying a seat behaviour.
package chairs

import (
	"errors"
	"log/slog"

	"adgobye.dev/internal/assets"
	"adgobye.dev/internal/content"
	"adgobye.dev/internal/plugin"
)

const (
	Name = "Chairs"

	// seatField marks the behaviour that lets players sit.
	seatField = "PlayerMobility"
)

type Plugin struct {
	plugin.Base
	log *slog.Logger
}

func New(logger *slog.Logger) *Plugin {
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	return &Plugin{log: logger.With("plugin", Name)}
}

func Entry(logger *slog.Logger) plugin.Entry {
	return plugin.Entry{Name: Name, Maintainer: "AdGoBye", Version: "1.0.0", Plugin: New(logger)}
}

func (p *Plugin) Apply(c *content.Content, ctr assets.Container, dryRun bool) (plugin.Result, error) {
	behaviours, err := ctr.Objects(assets.ClassMonoBehaviour)
	if err != nil {
		return plugin.Fail, err
	}
	found := false
	for _, mb := range behaviours {
		if _, err := mb.Field(seatField); err != nil {
			if errors.Is(err, assets.ErrNoField) {
				continue
			}
			return plugin.Fail, err
		}
		owner, err := assets.Owner(ctr, mb)
		if errors.Is(err, assets.ErrNoObject) || errors.Is(err, assets.ErrNoField) {
			continue
		}
		if err != nil {
			return plugin.Fail, err
		}
		if !assets.IsActive(owner) {
			continue
		}
		found = true
		p.log.Debug("disabling chair", "name", assets.Name(owner), "path_id", owner.PathID(), "content", c.ID)
		if dryRun {
			continue
		}
		if err := owner.SetField(assets.FieldIsActive, false); err != nil {
			return plugin.Fail, err
		}
	}
	if !found {
		p.log.Debug("no chairs found", "content", c.ID)
		return plugin.Skipped, nil
	}
	return plugin.Success, nil
}
