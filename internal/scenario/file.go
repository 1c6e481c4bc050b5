package scenario

import (
	"fmt"
	"strings"
	"time"

	"snapfleet/internal/chaos"
	"snapfleet/internal/config"
)

// File はシナリオファイル（YAMLまたはJSON）の内容
//
// Presetを指定するとそのプリセットを土台にし、ファイル側の値で上書きする。
// Stepsを省略した場合はプリセットのステップをそのまま使う。
type File struct {
	Name        string             `yaml:"name" json:"name"`
	Description string             `yaml:"description" json:"description"`
	Preset      string             `yaml:"preset" json:"preset"`
	Cluster     config.ClusterFile `yaml:"cluster" json:"cluster"`
	Timing      config.TimingFile  `yaml:"timing" json:"timing"`
	TimingScale float64            `yaml:"timing_scale" json:"timing_scale"`
	Steps       []StepFile         `yaml:"steps" json:"steps"`
}

// StepFile はファイル中の1ステップ
type StepFile struct {
	Action  string     `yaml:"action" json:"action"`
	Targets Targets    `yaml:"targets" json:"targets"`
	Delay   string     `yaml:"delay_after" json:"delay_after"`
	Stagger string     `yaml:"stagger" json:"stagger"`
	Bind    string     `yaml:"bind" json:"bind"`
	Chaos   *ChaosFile `yaml:"chaos" json:"chaos"`
}

// ChaosFile はchaosステップの設定
type ChaosFile struct {
	Duration     string   `yaml:"duration" json:"duration"`
	Interval     string   `yaml:"interval" json:"interval"`
	TargetCount  int      `yaml:"target_count" json:"target_count"`
	Attacks      []string `yaml:"attacks" json:"attacks"`
	RestoreAfter string   `yaml:"restore_after" json:"restore_after"`
	SpareSeed    bool     `yaml:"spare_seed" json:"spare_seed"`
}

// LoadFile はシナリオファイルを読み込んで検証前のScenarioに変換する
func LoadFile(path string) (Scenario, error) {
	var f File
	if err := config.Decode(path, &f); err != nil {
		return Scenario{}, fmt.Errorf("%w: %v", config.ErrConfiguration, err)
	}
	return f.Scenario()
}

// Scenario はファイルの内容をScenarioに変換する
func (f File) Scenario() (Scenario, error) {
	s := Scenario{
		Cluster: config.DefaultCluster(),
		Timing:  config.DefaultTiming(),
	}
	if f.Preset != "" {
		p, ok := GetPreset(f.Preset)
		if !ok {
			return Scenario{}, &config.Error{Field: "preset", Reason: fmt.Sprintf("unknown preset %q", f.Preset)}
		}
		s = p
	}
	if f.Name != "" {
		s.Name = f.Name
	}
	if s.Name == "" {
		s.Name = "custom"
	}
	if f.Description != "" {
		s.Description = f.Description
	}

	s.Cluster = f.Cluster.Apply(s.Cluster)
	timing, err := f.Timing.Apply(s.Timing)
	if err != nil {
		return Scenario{}, err
	}
	if f.TimingScale < 0 {
		return Scenario{}, &config.Error{Field: "timing_scale", Reason: "must be non-negative"}
	}
	if f.TimingScale > 0 {
		timing = timing.Scale(f.TimingScale)
	}
	s.Timing = timing

	if len(f.Steps) > 0 {
		steps := make([]Step, 0, len(f.Steps))
		for i, sf := range f.Steps {
			st, err := sf.step(fmt.Sprintf("steps[%d]", i))
			if err != nil {
				return Scenario{}, err
			}
			steps = append(steps, st)
		}
		s.Steps = steps
	}
	return s, nil
}

func (sf StepFile) step(field string) (Step, error) {
	st := Step{
		Action:  Action(strings.ToLower(strings.TrimSpace(sf.Action))),
		Targets: sf.Targets,
		Bind:    sf.Bind,
	}
	var err error
	if st.DelayAfter, err = ParseDelay(sf.Delay); err != nil {
		return Step{}, &config.Error{Field: field + ".delay_after", Reason: err.Error()}
	}
	if st.Stagger, err = ParseDelay(sf.Stagger); err != nil {
		return Step{}, &config.Error{Field: field + ".stagger", Reason: err.Error()}
	}
	if sf.Chaos != nil {
		cc, err := sf.Chaos.toConfig(field + ".chaos")
		if err != nil {
			return Step{}, err
		}
		st.Chaos = cc
	}
	return st, nil
}

func (cf ChaosFile) toConfig(field string) (*ChaosConfig, error) {
	def := chaos.DefaultConfig()
	cc := &ChaosConfig{
		Interval:    def.Interval,
		TargetCount: def.TargetCount,
		Attacks:     def.AttackTypes,
		SpareSeed:   cf.SpareSeed,
	}
	parse := func(name, raw string, dst *time.Duration) error {
		if raw == "" {
			return nil
		}
		d, err := time.ParseDuration(raw)
		if err != nil || d <= 0 {
			return &config.Error{Field: field + "." + name, Reason: fmt.Sprintf("%q is not a positive duration", raw)}
		}
		*dst = d
		return nil
	}
	if err := parse("duration", cf.Duration, &cc.Duration); err != nil {
		return nil, err
	}
	if err := parse("interval", cf.Interval, &cc.Interval); err != nil {
		return nil, err
	}
	if cf.TargetCount != 0 {
		cc.TargetCount = cf.TargetCount
	}
	if len(cf.Attacks) > 0 {
		cc.Attacks = nil
		for _, name := range cf.Attacks {
			a, ok := chaos.ParseAttackType(name)
			if !ok {
				return nil, &config.Error{Field: field + ".attacks", Reason: fmt.Sprintf("unknown attack %q", name)}
			}
			cc.Attacks = append(cc.Attacks, a)
		}
	}
	restore, err := ParseDelay(cf.RestoreAfter)
	if err != nil {
		return nil, &config.Error{Field: field + ".restore_after", Reason: err.Error()}
	}
	cc.RestoreAfter = restore
	return cc, nil
}
