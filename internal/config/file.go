package config

import (
	"bytes"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// ClusterFile は設定ファイル中のクラスタ設定
type ClusterFile struct {
	NodeCount         int      `yaml:"node_count" json:"node_count"`
	Host              string   `yaml:"host" json:"host"`
	BasePort          int      `yaml:"base_port" json:"base_port"`
	ResourceEndowment *int     `yaml:"resource_endowment" json:"resource_endowment"`
	StorageRoot       string   `yaml:"storage_root" json:"storage_root"`
	Command           []string `yaml:"command" json:"command"`
	RandomSeed        *int64   `yaml:"random_seed" json:"random_seed"`
}

// TimingFile は設定ファイル中の待機時間（time.ParseDuration形式）
type TimingFile struct {
	SpawnStagger      string `yaml:"spawn_stagger" json:"spawn_stagger"`
	InitStagger       string `yaml:"init_stagger" json:"init_stagger"`
	JoinStagger       string `yaml:"join_stagger" json:"join_stagger"`
	SettleDelay       string `yaml:"settle_delay" json:"settle_delay"`
	StepDelay         string `yaml:"step_delay" json:"step_delay"`
	CrashToRestore    string `yaml:"crash_to_restore" json:"crash_to_restore"`
	RestoreSettle     string `yaml:"restore_settle" json:"restore_settle"`
	DisconnectStagger string `yaml:"disconnect_stagger" json:"disconnect_stagger"`
	TeardownGrace     string `yaml:"teardown_grace" json:"teardown_grace"`
	WriteTimeout      string `yaml:"write_timeout" json:"write_timeout"`
}

// Decode は拡張子に応じてYAMLまたはJSONを読み込む
//
// YAMLは未知のキーを拒否する（typo検出のため）。
func Decode(path string, v any) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("failed to read config file: %w", err)
	}

	ext := strings.ToLower(filepath.Ext(path))
	switch ext {
	case ".yaml", ".yml":
		dec := yaml.NewDecoder(bytes.NewReader(data))
		dec.KnownFields(true)
		if err := dec.Decode(v); err != nil {
			return fmt.Errorf("failed to parse YAML: %w", err)
		}
	case ".json":
		dec := json.NewDecoder(bytes.NewReader(data))
		dec.DisallowUnknownFields()
		if err := dec.Decode(v); err != nil {
			return fmt.Errorf("failed to parse JSON: %w", err)
		}
	default:
		return fmt.Errorf("unsupported config format: %s", ext)
	}
	return nil
}

// Apply はファイルで指定された値だけをbaseに上書きする
func (f ClusterFile) Apply(base Cluster) Cluster {
	c := base
	if f.NodeCount != 0 {
		c.NodeCount = f.NodeCount
	}
	if f.Host != "" {
		c.Host = f.Host
	}
	if f.BasePort != 0 {
		c.BasePort = f.BasePort
	}
	if f.ResourceEndowment != nil {
		c.ResourceEndowment = *f.ResourceEndowment
	}
	if f.StorageRoot != "" {
		c.StorageRoot = f.StorageRoot
	}
	if len(f.Command) > 0 {
		c.Command = append([]string(nil), f.Command...)
	}
	if f.RandomSeed != nil {
		seed := *f.RandomSeed
		c.RandomSeed = &seed
	}
	return c
}

// Apply はファイルで指定された待機時間だけをbaseに上書きする
func (f TimingFile) Apply(base Timing) (Timing, error) {
	t := base
	fields := []struct {
		name string
		raw  string
		dst  *time.Duration
	}{
		{"spawn_stagger", f.SpawnStagger, &t.SpawnStagger},
		{"init_stagger", f.InitStagger, &t.InitStagger},
		{"join_stagger", f.JoinStagger, &t.JoinStagger},
		{"settle_delay", f.SettleDelay, &t.SettleDelay},
		{"step_delay", f.StepDelay, &t.StepDelay},
		{"crash_to_restore", f.CrashToRestore, &t.CrashToRestore},
		{"restore_settle", f.RestoreSettle, &t.RestoreSettle},
		{"disconnect_stagger", f.DisconnectStagger, &t.DisconnectStagger},
		{"teardown_grace", f.TeardownGrace, &t.TeardownGrace},
		{"write_timeout", f.WriteTimeout, &t.WriteTimeout},
	}
	for _, field := range fields {
		if field.raw == "" {
			continue
		}
		d, err := time.ParseDuration(field.raw)
		if err != nil {
			return base, invalid("timing."+field.name, "is not a duration: %v", err)
		}
		*field.dst = d
	}
	return t, nil
}
