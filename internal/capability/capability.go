// Package capability implements the process-wide capability registry: a
// read-only mapping from capability name to the backing pipeline's
// metadata (compute device, model path, owning module), loaded once at
// startup and periodically hot-reloaded from disk. Ported from the
// original service's infsrv/capability.py (a JSON+dataclasses_json
// CapabilitySet), reparsed as YAML via gopkg.in/yaml.v3 to match the
// pack's preferred config format, grounded on
// nishisan-dev-n-backup's internal/config/server.go load-then-validate
// pattern.
package capability

import (
	"fmt"
	"os"
	"sync/atomic"

	"gopkg.in/yaml.v3"

	"github.com/blobfish-labs/infsrv/internal/logger"
)

// Capability describes one named processing pipeline's metadata.
type Capability struct {
	ComputeDevice string `yaml:"compute_device"`
	ModelLoadPath string `yaml:"model_load_path"`
	Module        string `yaml:"module"`
}

// Set is the parsed contents of a capability registry file.
type Set struct {
	Capabilities map[string]Capability `yaml:"capabilities"`
}

// ModuleCapabilities returns the subset of s.Capabilities whose Module
// matches the given module name.
func (s *Set) ModuleCapabilities(module string) map[string]Capability {
	out := make(map[string]Capability)
	for name, cap := range s.Capabilities {
		if cap.Module == module {
			out[name] = cap
		}
	}
	return out
}

func parseFile(path string) (*Set, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("capability: reading %s: %w", path, err)
	}

	var set Set
	if err := yaml.Unmarshal(data, &set); err != nil {
		return nil, fmt.Errorf("capability: parsing %s: %w", path, err)
	}
	return &set, nil
}

// Registry holds a hot-reloadable Set behind an atomic pointer so readers
// never observe a partially-updated map.
type Registry struct {
	path    string
	current atomic.Pointer[Set]
	log     *logger.Logger
}

// Load reads and parses the capability registry file at path, returning a
// Registry whose Current() reflects it.
func Load(path string) (*Registry, error) {
	set, err := parseFile(path)
	if err != nil {
		return nil, err
	}

	r := &Registry{
		path: path,
		log:  logger.WithPrefix("capability"),
	}
	r.current.Store(set)
	return r, nil
}

// Current returns the most recently loaded Set.
func (r *Registry) Current() *Set {
	return r.current.Load()
}

// Reload re-reads and re-parses the registry file, atomically swapping it
// in on success. A parse failure leaves the current Set in place and is
// logged, not returned to the caller, so a scheduled reload never crashes
// the process on a malformed edit.
func (r *Registry) Reload() {
	set, err := parseFile(r.path)
	if err != nil {
		r.log.Warn("reload failed, keeping previous registry: %v", err)
		return
	}
	r.current.Store(set)
	r.log.Info("reloaded %d capabilities from %s", len(set.Capabilities), r.path)
}

// FindRequested returns the first capability named in the comma-separated
// header value that is also present in enabled, matching the original
// service's find_request_capability. An empty or wholly-unmatched header
// is reported as an error for the caller to translate into the
// appropriate WebSocket close code.
func FindRequested(enabled map[string]Capability, header string) (string, error) {
	for _, name := range splitCSV(header) {
		if _, ok := enabled[name]; ok {
			return name, nil
		}
	}
	return "", fmt.Errorf("capability: missing, unknown or disabled capability in %q", header)
}

func splitCSV(s string) []string {
	var out []string
	start := 0
	for i := 0; i <= len(s); i++ {
		if i == len(s) || s[i] == ',' {
			out = append(out, s[start:i])
			start = i + 1
		}
	}
	return out
}
