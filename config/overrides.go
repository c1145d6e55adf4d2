package config

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/spf13/viper"

	"node.town/voxrelay/db"
)

// Overrides keeps config values in the database table so a deployment can
// change prompts or models without editing config.yaml.
type Overrides struct {
	queries *db.Queries
}

func NewOverrides(queries *db.Queries) *Overrides {
	return &Overrides{queries: queries}
}

// Apply copies every stored value into v. Call it before Load.
func (o *Overrides) Apply(ctx context.Context, v *viper.Viper) error {
	configs, err := o.queries.GetAllConfig(ctx)
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}
	for _, cfg := range configs {
		v.Set(cfg.Key, cfg.Value)
	}
	return nil
}

func (o *Overrides) Get(ctx context.Context, key string) (string, error) {
	value, err := o.queries.GetConfigValue(ctx, key)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return "", fmt.Errorf("config key not found: %s", key)
		}
		return "", fmt.Errorf("failed to get config value: %w", err)
	}
	return value, nil
}

func (o *Overrides) Set(ctx context.Context, key, value string) error {
	err := o.queries.SetConfigValue(ctx, db.SetConfigValueParams{
		Key:   key,
		Value: value,
	})
	if err != nil {
		return fmt.Errorf("failed to set config value: %w", err)
	}
	return nil
}

func (o *Overrides) List(ctx context.Context) ([]db.Config, error) {
	configs, err := o.queries.GetAllConfig(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}
	return configs, nil
}
