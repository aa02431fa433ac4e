package config

import "sort"

const gripNoGripURL = "https://github.com/ross-wilkinson/datasets/blob/main/gripNoGrip/gripNoGrip.csv"

var (
	twoLevels   = []string{"1", "2"}
	threeLevels = []string{"1", "2", "3"}
)

func sitStandModel(response string) ModelConfig {
	return ModelConfig{
		Formula: response + " ~ Posture * Cadence + (1 + Posture * Cadence | Subject)",
		Factors: map[string][]string{"Posture": twoLevels, "Cadence": twoLevels},
		Posthoc: []PosthocConfig{
			{Marginal: "Posture", By: "Cadence", Adjust: "tukey"},
			{Marginal: "Cadence", By: "Posture", Adjust: "tukey"},
		},
	}
}

func rollersModel(response, file, ylabel string) ModelConfig {
	return ModelConfig{
		Formula: response + " ~ (1 + condition | subject)",
		Factors: map[string][]string{"condition": threeLevels},
		Subjects: &SubjectsConfig{
			Group:    "subject",
			Variable: "condition",
			Order:    []string{"3", "1", "2"},
			Labels:   []string{"Locked", "ad-lib", "Minimal"},
		},
		Plots: []PlotConfig{{Kind: PlotTrajectories, File: file, YLabel: ylabel}},
	}
}

// Presets are the project's four analyses.
//
// Condition coding:
//
//	sit-stand     Posture 1 seated, 2 standing; Cadence 1 70 RPM, 2 120 RPM
//	grip-no-grip  Posture 1 seated, 2 standing; Grip 1 normal, 2 fists on bar
//	rock-ergo     condition 1 ad-lib lean, 2 minimal lean, 3 locked
//	rock-rollers  condition 1 ad-lib lean, 2 minimal lean, 3 locked in trainer
var Presets = map[string]*Config{
	"sit-stand": {
		Study:       "sit-stand",
		Description: "hip, knee and ankle power relative to crank power, seated vs standing at 70 and 120 RPM",
		Dataset:     DatasetConfig{Source: "sitStand.csv"},
		Normalize: []NormalizeConfig{
			{Method: Paired, Reference: "CrankPower", FromIndex: 3},
		},
		Models: []ModelConfig{
			sitStandModel("HipPower"),
			sitStandModel("KneePower"),
			sitStandModel("AnklePower"),
		},
		Output: DefaultOutput(),
	},
	"grip-no-grip": {
		Study:       "grip-no-grip",
		Description: "maximal cycle power with and without a handlebar grip, seated and standing",
		Dataset:     DatasetConfig{Source: gripNoGripURL},
		Models: []ModelConfig{{
			Formula: "MaxPowerCycle ~ Posture + Grip + (1 + Posture | Subject) + (1 + Grip | Subject)",
			Factors: map[string][]string{"Posture": twoLevels, "Grip": twoLevels},
			Plots: []PlotConfig{
				{Kind: PlotCoefficients, File: "gripNoGrip_summary.png", Group: "Subject"},
				{Kind: PlotFactorEffect, File: "gripNoGrip_posture.png", Group: "Subject", Variable: "Posture"},
				{Kind: PlotFactorEffect, File: "gripNoGrip_grip.png", Group: "Subject", Variable: "Grip"},
			},
		}},
		Output: DefaultOutput(),
	},
	"rock-ergo": {
		Study:       "rock-ergo",
		Description: "maximal 1-s crank power on a leaning ergometer, relative to ad-lib lean",
		Dataset:     DatasetConfig{Source: "rockNoRockErgo.csv"},
		Normalize: []NormalizeConfig{{
			Method: BaselineMean, Subject: "subject", Condition: "condition",
			Baseline: "1", Columns: []string{"power"},
		}},
		Models: []ModelConfig{{
			Formula: "power ~ condition + (1 + condition | subject)",
			Factors: map[string][]string{"condition": threeLevels},
			Posthoc: []PosthocConfig{{Marginal: "condition", Adjust: "tukey"}},
		}},
		Output: DefaultOutput(),
	},
	"rock-rollers": {
		Study:       "rock-rollers",
		Description: "bicycle lean and CoM displacement on rollers vs a trainer",
		Dataset:     DatasetConfig{Source: "rockNoRockRollers.csv"},
		Models: []ModelConfig{
			rollersModel("RBLA_deg", "RBLA.png", "Range Bicycle Lean (deg)"),
			rollersModel("RVCOMD_m", "RVCOMD.png", "Range Vertical CoM Displacement (m)"),
		},
		Output: DefaultOutput(),
	},
}

// GetPreset returns a copy of a preset, or nil.
func GetPreset(name string) *Config {
	if p, ok := Presets[name]; ok {
		return p.Clone()
	}
	return nil
}

// ListPresets returns preset names in sorted order.
func ListPresets() []string {
	names := make([]string, 0, len(Presets))
	for name := range Presets {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
