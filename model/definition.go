package model

// DefinitionFile is the root structure of a workflow definition file. Each
// file declares one tenant's workflows and the triggers that start them.
type DefinitionFile struct {
	TenantID  string            `yaml:"tenant_id" json:"tenant_id"`
	Workflows []Workflow        `yaml:"workflows" json:"workflows,omitempty"`
	Triggers  []WorkflowTrigger `yaml:"triggers"  json:"triggers,omitempty"`

	// Checksum is computed at load time and not part of the YAML.
	Checksum string `yaml:"-" json:"-"`
	// SourceFile records the originating file path.
	SourceFile string `yaml:"-" json:"-"`
}
