package supervisor

import (
	"fmt"
	"sort"
	"strings"
)

// Class selects how an action is supervised.
type Class string

const (
	// ClassStart actions are watched for the success marker.
	ClassStart Class = "start"
	// ClassOneshot actions are run to completion and never fail.
	ClassOneshot Class = "oneshot"
)

// Valid reports whether c is a known class.
func (c Class) Valid() bool {
	return c == ClassStart || c == ClassOneshot
}

// Action is a named control command.
type Action struct {
	Name    string   `json:"name" yaml:"name"`
	Command []string `json:"command" yaml:"command"`
	Class   Class    `json:"class" yaml:"class"`
}

// String renders the command line.
func (a Action) String() string {
	return strings.Join(a.Command, " ")
}

// Catalog maps action names to commands.
type Catalog map[string]Action

// DefaultCatalog returns the stock gnb_ctl actions. configPath is passed to
// the full start command.
func DefaultCatalog(configPath string) Catalog {
	return Catalog{
		"setupv2": {Name: "setupv2", Command: []string{"gnb_ctl", "start"}, Class: ClassStart},
		"start":   {Name: "start", Command: []string{"/opt/ste/bin/gnb_ctl", "-c", configPath, "start"}, Class: ClassStart},
		"stop":    {Name: "stop", Command: []string{"gnb_ctl", "stop"}, Class: ClassOneshot},
		"status":  {Name: "status", Command: []string{"gnb_ctl", "status"}, Class: ClassOneshot},
	}
}

// Lookup returns the named action.
func (c Catalog) Lookup(name string) (Action, bool) {
	a, ok := c[name]
	return a, ok
}

// Names returns action names in sorted order.
func (c Catalog) Names() []string {
	names := make([]string, 0, len(c))
	for n := range c {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}

// Validate checks every action has a command and a known class.
func (c Catalog) Validate() error {
	for _, name := range c.Names() {
		a := c[name]
		if len(a.Command) == 0 || a.Command[0] == "" {
			return fmt.Errorf("action %q: empty command", name)
		}
		if !a.Class.Valid() {
			return fmt.Errorf("action %q: unknown class %q", name, a.Class)
		}
	}
	return nil
}
