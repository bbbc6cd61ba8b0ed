package config

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"gopkg.in/yaml.v3"
)

const (
	lockRetryInterval  = 50 * time.Millisecond
	lockAcquireTimeout = 5 * time.Second
	lockStaleAfter     = 30 * time.Second
)

var defaultManager = &InstanceManager{}

type InstanceManager struct {
	path string
	// loaded indicates whether Load has been called successfully.
	loaded bool
	cfg    *Config
	hash   string

	mu sync.RWMutex
}

func (ins *InstanceManager) Get() (*Config, error) {
	if ins == nil {
		return nil, fmt.Errorf("instance manager is nil")
	}

	ins.mu.RLock()
	defer ins.mu.RUnlock()

	if !ins.loaded || ins.cfg == nil {
		return nil, fmt.Errorf("config is not loaded")
	}
	return ins.cfg.Clone()
}

// Load reads path and makes it the current config. A missing file yields
// the defaults so a fresh host can serve without running init first.
func (ins *InstanceManager) Load(path string) (*Config, error) {
	if ins == nil {
		return nil, fmt.Errorf("instance manager is nil")
	}

	ins.mu.Lock()
	defer ins.mu.Unlock()

	path = strings.TrimSpace(path)
	if path == "" {
		path = ins.path
	}

	var cfg *Config
	if _, statErr := os.Stat(path); path == "" || os.IsNotExist(statErr) {
		cfg = Default()
	} else {
		loaded, err := loadConfigFile(path)
		if err != nil {
			return nil, err
		}
		cfg = loaded
	}

	ins.path = path
	ins.cfg = cfg
	ins.hash = cfg.Hash()
	ins.loaded = true
	return cfg.Clone()
}

func (ins *InstanceManager) Apply(name string, value any) error {
	if ins == nil {
		return fmt.Errorf("instance manager is nil")
	}

	ins.mu.Lock()
	defer ins.mu.Unlock()

	if !ins.loaded || ins.cfg == nil {
		return fmt.Errorf("config is not loaded")
	}

	draft, err := ins.cfg.Clone()
	if err != nil {
		return err
	}
	if err := draft.UpdateByName(name, value); err != nil {
		return err
	}
	if err := draft.Validate(); err != nil {
		return err
	}

	ins.cfg = draft
	ins.hash = draft.Hash()
	return nil
}

// Reload re-reads the file behind the manager and reports whether the
// resulting config differs from the current one.
func (ins *InstanceManager) Reload() (bool, error) {
	if ins == nil {
		return false, fmt.Errorf("instance manager is nil")
	}

	ins.mu.RLock()
	path := ins.path
	ins.mu.RUnlock()
	if path == "" {
		return false, fmt.Errorf("config was not loaded from a file")
	}

	fresh, err := loadConfigFile(path)
	if err != nil {
		return false, err
	}
	before, err := ins.Hash()
	if err != nil {
		return false, err
	}
	if err := ins.Apply("config", fresh); err != nil {
		return false, err
	}
	after, err := ins.Hash()
	if err != nil {
		return false, err
	}
	return before != after, nil
}

func (ins *InstanceManager) Hash() (string, error) {
	if ins == nil {
		return "", fmt.Errorf("instance manager is nil")
	}

	ins.mu.RLock()
	defer ins.mu.RUnlock()

	if !ins.loaded || ins.cfg == nil {
		return "", fmt.Errorf("config is not loaded")
	}
	return ins.hash, nil
}

func (ins *InstanceManager) Save() error {
	if ins == nil {
		return fmt.Errorf("instance manager is nil")
	}

	ins.mu.Lock()
	defer ins.mu.Unlock()

	if !ins.loaded || ins.cfg == nil {
		return fmt.Errorf("config is not loaded")
	}
	if err := WriteFile(ins.path, ins.cfg); err != nil {
		return err
	}
	ins.hash = ins.cfg.Hash()
	return nil
}

// WriteFile atomically replaces path with cfg rendered as YAML.
func WriteFile(path string, cfg *Config) error {
	if cfg == nil {
		return fmt.Errorf("config cannot be nil")
	}
	path = strings.TrimSpace(path)
	if path == "" {
		return fmt.Errorf("config path is required")
	}

	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("create config dir: %w", err)
	}

	unlock, err := acquireFileLock(path+".lock", lockAcquireTimeout, lockStaleAfter)
	if err != nil {
		return fmt.Errorf("acquire config file lock: %w", err)
	}
	defer unlock()

	raw, err := marshalConfigYAML(cfg)
	if err != nil {
		return fmt.Errorf("marshal config: %w", err)
	}

	tmpFile, err := os.CreateTemp(dir, filepath.Base(path)+".tmp.*")
	if err != nil {
		return fmt.Errorf("create temp config file: %w", err)
	}
	tmpPath := tmpFile.Name()
	cleanup := true
	defer func() {
		if cleanup {
			_ = os.Remove(tmpPath)
		}
	}()

	if _, err := tmpFile.Write(raw); err != nil {
		_ = tmpFile.Close()
		return fmt.Errorf("write temp config file: %w", err)
	}
	if err := tmpFile.Close(); err != nil {
		return fmt.Errorf("close temp config file: %w", err)
	}
	if err := os.Chmod(tmpPath, 0o644); err != nil {
		return fmt.Errorf("chmod temp config file: %w", err)
	}
	if err := os.Rename(tmpPath, path); err != nil {
		return fmt.Errorf("replace config file: %w", err)
	}

	cleanup = false
	return nil
}

func loadConfigFile(path string) (*Config, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config file: %w", err)
	}

	var cfg Config
	if err := yaml.Unmarshal(raw, &cfg); err != nil {
		return nil, fmt.Errorf("parse config yaml: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}
	return &cfg, nil
}

func Load(path string) (*Config, error) {
	return defaultManager.Load(path)
}

func Get() (*Config, error) {
	return defaultManager.Get()
}

func Reload() (bool, error) {
	return defaultManager.Reload()
}

func acquireFileLock(lockPath string, timeout, staleAfter time.Duration) (func(), error) {
	start := time.Now()
	for {
		lockFile, err := os.OpenFile(lockPath, os.O_CREATE|os.O_EXCL|os.O_WRONLY, 0o644)
		if err == nil {
			_, _ = fmt.Fprintf(lockFile, "%d\n", os.Getpid())
			_ = lockFile.Close()
			return func() {
				_ = os.Remove(lockPath)
			}, nil
		}
		if !os.IsExist(err) {
			return nil, err
		}

		if staleAfter > 0 {
			if info, statErr := os.Stat(lockPath); statErr == nil && time.Since(info.ModTime()) > staleAfter {
				_ = os.Remove(lockPath)
				continue
			}
		}
		if timeout > 0 && time.Since(start) > timeout {
			return nil, fmt.Errorf("lock timeout after %s", timeout)
		}
		time.Sleep(lockRetryInterval)
	}
}

func marshalConfigYAML(cfg *Config) ([]byte, error) {
	var buf bytes.Buffer
	encoder := yaml.NewEncoder(&buf)
	encoder.SetIndent(2)
	if err := encoder.Encode(cfg); err != nil {
		_ = encoder.Close()
		return nil, err
	}
	if err := encoder.Close(); err != nil {
		return nil, err
	}
	return []byte(strings.TrimRight(buf.String(), "\n") + "\n"), nil
}
