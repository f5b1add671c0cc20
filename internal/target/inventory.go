package target

import (
	"errors"
	"fmt"
	"os"
	"sort"

	"github.com/goccy/go-yaml"
)

// ErrUnknownTarget is returned when an inventory name does not resolve
var ErrUnknownTarget = errors.New("unknown target")

// Entry is one named target in the inventory file
type Entry struct {
	Host     string `yaml:"host"`
	Port     int    `yaml:"port"`
	User     string `yaml:"user"`
	KeyPath  string `yaml:"key_path"`
	KeyPEM   string `yaml:"key_pem"`
	Password string `yaml:"password"`
}

// Defaults are inherited by entries that omit a field
type Defaults struct {
	User     string `yaml:"user"`
	Port     int    `yaml:"port"`
	KeyPath  string `yaml:"key_path"`
	KeyPEM   string `yaml:"key_pem"`
	Password string `yaml:"password"`
}

// inventoryFile is the on-disk document shape
type inventoryFile struct {
	Defaults Defaults         `yaml:"defaults"`
	Targets  map[string]Entry `yaml:"targets"`
}

// Inventory maps operator-assigned names to targets and credentials
type Inventory struct {
	defaults Defaults
	entries  map[string]Entry
}

// LoadInventory reads and parses an inventory YAML file
func LoadInventory(path string) (*Inventory, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read inventory: %w", err)
	}
	return ParseInventory(data)
}

// ParseInventory parses inventory YAML content
func ParseInventory(data []byte) (*Inventory, error) {
	var file inventoryFile
	if err := yaml.Unmarshal(data, &file); err != nil {
		return nil, fmt.Errorf("parse inventory: %w", err)
	}

	inv := &Inventory{
		defaults: file.Defaults,
		entries:  file.Targets,
	}
	if inv.entries == nil {
		inv.entries = make(map[string]Entry)
	}

	for name, entry := range inv.entries {
		resolved := inv.apply(entry)
		if resolved.Host == "" {
			return nil, fmt.Errorf("inventory target %q: host is required", name)
		}
	}
	return inv, nil
}

// Resolve returns the target and credentials for an inventory name
func (i *Inventory) Resolve(name string) (Target, Credentials, error) {
	entry, ok := i.entries[name]
	if !ok {
		return Target{}, Credentials{}, fmt.Errorf("%w: %s", ErrUnknownTarget, name)
	}

	resolved := i.apply(entry)
	t := Target{Host: resolved.Host, Port: resolved.Port, User: resolved.User}
	c := Credentials{KeyPath: resolved.KeyPath, KeyPEM: resolved.KeyPEM, Password: resolved.Password}
	return t, c, nil
}

// Names returns the inventory names in sorted order
func (i *Inventory) Names() []string {
	names := make([]string, 0, len(i.entries))
	for name := range i.entries {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Len returns the number of inventory entries
func (i *Inventory) Len() int {
	return len(i.entries)
}

// apply fills an entry's missing fields from the file defaults
func (i *Inventory) apply(e Entry) Entry {
	if e.Port == 0 {
		e.Port = i.defaults.Port
	}
	if e.Port == 0 {
		e.Port = DefaultPort
	}
	if e.User == "" {
		e.User = i.defaults.User
	}
	if e.KeyPath == "" && e.KeyPEM == "" && e.Password == "" {
		e.KeyPath = i.defaults.KeyPath
		e.KeyPEM = i.defaults.KeyPEM
		e.Password = i.defaults.Password
	}
	return e
}

// Resolver turns a request's target reference into a dialable target:
// either an inventory name or an explicit host/user/port with credentials.
type Resolver struct {
	inv         *Inventory // may be nil when no inventory is configured
	defaultUser string
	defaultPort int
	fallback    Credentials
}

// NewResolver creates a resolver over an optional inventory and gateway defaults
func NewResolver(inv *Inventory, defaultUser string, defaultPort int, fallback Credentials) *Resolver {
	if defaultPort == 0 {
		defaultPort = DefaultPort
	}
	return &Resolver{
		inv:         inv,
		defaultUser: defaultUser,
		defaultPort: defaultPort,
		fallback:    fallback,
	}
}

// ByName resolves an inventory name
func (r *Resolver) ByName(name string) (Target, Credentials, error) {
	if r.inv == nil {
		return Target{}, Credentials{}, fmt.Errorf("%w: %s (no inventory configured)", ErrUnknownTarget, name)
	}
	t, c, err := r.inv.Resolve(name)
	if err != nil {
		return Target{}, Credentials{}, err
	}
	t = t.Normalize(r.defaultUser, r.defaultPort)
	if err := t.Validate(); err != nil {
		return Target{}, Credentials{}, fmt.Errorf("target %s: %w", name, err)
	}
	return t, c.Merge(r.fallback), nil
}

// Explicit resolves an explicitly specified target
func (r *Resolver) Explicit(t Target, c Credentials) (Target, Credentials, error) {
	t = t.Normalize(r.defaultUser, r.defaultPort)
	if err := t.Validate(); err != nil {
		return Target{}, Credentials{}, err
	}
	return t, c.Merge(r.fallback), nil
}

// Names lists the configured inventory names
func (r *Resolver) Names() []string {
	if r.inv == nil {
		return nil
	}
	return r.inv.Names()
}
