// Package tuning loads server.yaml: tick pacing, the world calendar and the
// per-class dialog, display and transition settings.
package tuning

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	"voxelcraft.ai/blockentity/internal/dialog"
	"voxelcraft.ai/blockentity/internal/mesh"
	"voxelcraft.ai/blockentity/internal/transition"
)

type Tuning struct {
	ProtocolVersion string `yaml:"protocol_version"`

	TickRateHz int   `yaml:"tick_rate_hz"`
	Seed       int64 `yaml:"seed"`
	// HoursPerTick advances the world calendar.
	HoursPerTick float64 `yaml:"hours_per_tick"`

	SaveEveryTicks       int `yaml:"save_every_ticks"`
	TransitionEveryTicks int `yaml:"transition_every_ticks"`
	SnapshotEveryTicks   int `yaml:"snapshot_every_ticks"`
	// UnloadAfterTicks drops chunks nobody touched for that long; 0 keeps
	// every chunk loaded.
	UnloadAfterTicks int `yaml:"unload_after_ticks"`

	// FuelHours is how far one fuel item pushes a firepit's burnout.
	FuelHours map[string]float64 `yaml:"fuel_hours"`

	Dialogs     map[string]dialog.Info     `yaml:"dialogs"`
	Layouts     map[string]mesh.Layout     `yaml:"layouts"`
	Transitions map[string]transition.Rule `yaml:"transitions"`
}

func Defaults() Tuning {
	return Tuning{
		TickRateHz:           5,
		HoursPerTick:         0.01,
		SaveEveryTicks:       50,
		TransitionEveryTicks: 5,
		SnapshotEveryTicks:   3000,
		UnloadAfterTicks:     600,
	}
}

func Load(path string) (Tuning, error) {
	t := Defaults()
	raw, err := os.ReadFile(path)
	if err != nil {
		return t, err
	}
	if err := yaml.Unmarshal(raw, &t); err != nil {
		return t, fmt.Errorf("server.yaml: %w", err)
	}
	if err := t.validate(); err != nil {
		return t, fmt.Errorf("server.yaml: %w", err)
	}
	for name, l := range t.Layouts {
		l.Name = name
		t.Layouts[name] = l
	}
	return t, nil
}

// validate rejects pacing values the tick loop cannot run with. Transition
// rules are not checked here; a bad rule only disables the timers using it.
func (t Tuning) validate() error {
	switch {
	case t.TickRateHz <= 0:
		return fmt.Errorf("tick_rate_hz must be positive, got %d", t.TickRateHz)
	case t.HoursPerTick <= 0:
		return fmt.Errorf("hours_per_tick must be positive, got %v", t.HoursPerTick)
	case t.SaveEveryTicks <= 0 || t.TransitionEveryTicks <= 0:
		return fmt.Errorf("save_every_ticks and transition_every_ticks must be positive")
	}
	for class, info := range t.Dialogs {
		if info.Columns == 0 {
			return fmt.Errorf("dialog %s: columns must be positive", class)
		}
	}
	return nil
}
