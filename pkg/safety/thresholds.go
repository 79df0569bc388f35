package safety

import (
	"errors"
	"fmt"

	"github.com/gobeyondidentity/shm/pkg/patch"
)

// Thresholds parameterise the gates. Values are validated before use; see
// Validate.
type Thresholds struct {
	MinVehicles        int                    `json:"min_vehicles" yaml:"min_vehicles" validate:"gte=1"`
	MinPasses          int                    `json:"min_passes" yaml:"min_passes" validate:"gte=1"`
	MinTimeSpreadDays  int                    `json:"min_time_spread_days" yaml:"min_time_spread_days" validate:"gte=0"`
	MinSensorAgreement float64                `json:"min_sensor_agreement" yaml:"min_sensor_agreement" validate:"gte=0,lte=1"`
	AllowedTypes       []patch.Type           `json:"allowed_types" yaml:"allowed_types" validate:"min=1"`
	MaxDelta           map[patch.Type]float64 `json:"max_delta" yaml:"max_delta"`
}

// DefaultThresholds returns the production thresholds.
func DefaultThresholds() Thresholds {
	return Thresholds{
		MinVehicles:        15,
		MinPasses:          40,
		MinTimeSpreadDays:  2,
		MinSensorAgreement: 0.85,
		AllowedTypes: []patch.Type{
			patch.TypeLaneGeometry,
			patch.TypeTurnRestriction,
			patch.TypeSpeedAdvisory,
		},
		MaxDelta: map[patch.Type]float64{
			patch.TypeLaneGeometry:    3.0,
			patch.TypeTurnRestriction: 1.0,
			patch.TypeSpeedAdvisory:   15.0,
		},
	}
}

// Clone returns a deep copy of th.
func (th Thresholds) Clone() Thresholds {
	c := th
	c.AllowedTypes = append([]patch.Type(nil), th.AllowedTypes...)
	if th.MaxDelta != nil {
		c.MaxDelta = make(map[patch.Type]float64, len(th.MaxDelta))
		for k, v := range th.MaxDelta {
			c.MaxDelta[k] = v
		}
	}
	return c
}

// ErrInvalidThresholds is wrapped by every Validate failure.
var ErrInvalidThresholds = errors.New("invalid safety thresholds")

// Validate checks the semantic constraints struct tags cannot express.
// Range checks on individual fields are done by the config validator.
func (th Thresholds) Validate() error {
	if th.MinVehicles < 1 || th.MinPasses < 1 {
		return fmt.Errorf("%w: vehicle and pass minimums must be positive", ErrInvalidThresholds)
	}
	if th.MinTimeSpreadDays < 0 {
		return fmt.Errorf("%w: time spread must not be negative", ErrInvalidThresholds)
	}
	if th.MinSensorAgreement < 0 || th.MinSensorAgreement > 1 {
		return fmt.Errorf("%w: sensor agreement must be within [0,1]", ErrInvalidThresholds)
	}
	if len(th.AllowedTypes) == 0 {
		return fmt.Errorf("%w: allow-list is empty", ErrInvalidThresholds)
	}
	for _, t := range th.AllowedTypes {
		if _, err := patch.ParseType(string(t)); err != nil {
			return fmt.Errorf("%w: %v", ErrInvalidThresholds, err)
		}
		if _, ok := th.MaxDelta[t]; !ok {
			return fmt.Errorf("%w: allow-listed type %s has no magnitude bound", ErrInvalidThresholds, t)
		}
	}
	for t, v := range th.MaxDelta {
		if v < 0 {
			return fmt.Errorf("%w: negative bound for %s", ErrInvalidThresholds, t)
		}
	}
	return nil
}
