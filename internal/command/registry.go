// Package command defines the catalog of invocable bot commands.
package command

import (
	"fmt"
	"sync"

	perrors "github.com/p-blackswan/permbot/internal/errors"
)

// Command describes one invocable command.
type Command struct {
	// Name is the unique command identifier, without the slash.
	Name string `json:"name"`
	// Permission required to invoke the command. Empty means public.
	Permission string `json:"permission,omitempty"`
	// Category groups the command in the menu.
	Category string `json:"category"`
	// Description is the human-readable summary shown in menus.
	Description string `json:"description"`
}

// Public reports whether the command requires no permission.
func (c Command) Public() bool {
	return c.Permission == ""
}

// Category groups an ordered list of commands for menu rendering.
type CategoryGroup struct {
	Category string    `json:"category"`
	Commands []Command `json:"commands"`
}

// Registry is the command catalog. Commands are registered once at startup;
// after that the registry is read-only, so lookups take only a read lock.
type Registry struct {
	mu       sync.RWMutex
	commands map[string]Command
	// order preserves registration order for deterministic menus.
	order      []string
	categories []string
}

// NewRegistry creates an empty command registry.
func NewRegistry() *Registry {
	return &Registry{
		commands: make(map[string]Command),
	}
}

// Register adds a command to the catalog. Returns ErrDuplicateCommand if the
// name is already taken, which should abort startup.
func (r *Registry) Register(cmd Command) error {
	if cmd.Name == "" {
		return fmt.Errorf("command name is required")
	}
	if cmd.Category == "" {
		cmd.Category = "General"
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.commands[cmd.Name]; exists {
		return fmt.Errorf("%w: %q", perrors.ErrDuplicateCommand, cmd.Name)
	}

	r.commands[cmd.Name] = cmd
	r.order = append(r.order, cmd.Name)

	seen := false
	for _, c := range r.categories {
		if c == cmd.Category {
			seen = true
			break
		}
	}
	if !seen {
		r.categories = append(r.categories, cmd.Category)
	}
	return nil
}

// MustRegister registers a command and panics on failure. Registration
// happens once at process start, so a duplicate is a programming error.
func (r *Registry) MustRegister(cmd Command) {
	if err := r.Register(cmd); err != nil {
		panic(err)
	}
}

// Get returns a command by name. Returns ErrUnknownCommand if absent.
func (r *Registry) Get(name string) (Command, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	cmd, ok := r.commands[name]
	if !ok {
		return Command{}, fmt.Errorf("%w: %q", perrors.ErrUnknownCommand, name)
	}
	return cmd, nil
}

// ListByCategory returns all commands grouped by category. Categories appear
// in first-registration order, commands within a category in registration
// order.
func (r *Registry) ListByCategory() []CategoryGroup {
	r.mu.RLock()
	defer r.mu.RUnlock()

	groups := make([]CategoryGroup, 0, len(r.categories))
	for _, cat := range r.categories {
		group := CategoryGroup{Category: cat}
		for _, name := range r.order {
			if cmd := r.commands[name]; cmd.Category == cat {
				group.Commands = append(group.Commands, cmd)
			}
		}
		groups = append(groups, group)
	}
	return groups
}

// Len returns the number of registered commands.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.commands)
}
