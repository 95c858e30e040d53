package topic

import (
	"fmt"
)

// Segments of the per-appliance topic tree shared with the control plane.
// Changing these values breaks compatibility with deployed appliances.
const (
	// SuffixCommands carries newly created commands (Cloud -> Appliance).
	// Structure: {root}/appliance/{applianceID}/commands
	SuffixCommands = "commands"

	// SuffixOnline carries the retained online flag and the last will (Appliance -> Cloud).
	// Structure: {root}/appliance/{applianceID}/online
	SuffixOnline = "online"

	// Wildcard matches exactly one topic level.
	Wildcard = "+"
)

// Builder encapsulates the logic for constructing MQTT topic strings.
type Builder struct {
	// root is the base namespace for all topics (e.g., "onesibox/v1").
	root string
}

// NewBuilder creates a Builder with the specified root namespace.
func NewBuilder(root string) *Builder {
	return &Builder{root: root}
}

// Commands returns the topic on which new commands for an appliance are published.
func (b *Builder) Commands(applianceID string) string {
	return b.build(applianceID, SuffixCommands)
}

// CommandsWildcard returns the filter matching the command topic of every appliance.
func (b *Builder) CommandsWildcard() string {
	return b.build(Wildcard, SuffixCommands)
}

// Online returns the topic holding an appliance's online flag.
func (b *Builder) Online(applianceID string) string {
	return b.build(applianceID, SuffixOnline)
}

// build constructs {root}/appliance/{id}/{suffix}.
func (b *Builder) build(id, suffix string) string {
	return fmt.Sprintf("%s/appliance/%s/%s", b.root, id, suffix)
}
