package clubperm

// Builders provide a fluent API for assembling role definitions and
// configurations in code.

// RoleDefinitionBuilder builds a RoleDefinition.
type RoleDefinitionBuilder struct {
	def *RoleDefinition
}

func NewRoleDefinitionBuilder() *RoleDefinitionBuilder {
	return &RoleDefinitionBuilder{def: &RoleDefinition{Permissions: map[string]ActionSet{}}}
}

func (b *RoleDefinitionBuilder) Name(n string) *RoleDefinitionBuilder { b.def.Name = n; return b }
func (b *RoleDefinitionBuilder) Precedence(p int) *RoleDefinitionBuilder {
	b.def.Precedence = Precedence(p)
	return b
}
func (b *RoleDefinitionBuilder) Scope(s Scope) *RoleDefinitionBuilder { b.def.Scope = s; return b }
func (b *RoleDefinitionBuilder) Region(region string) *RoleDefinitionBuilder {
	b.def.Region = NormalizeRegion(region)
	return b
}
func (b *RoleDefinitionBuilder) Grant(resource string, action Action, tags ...ScopeTag) *RoleDefinitionBuilder {
	as := b.def.Permissions[resource]
	switch action {
	case ActionRead:
		as.Read = append(as.Read, tags...)
	case ActionWrite:
		as.Write = append(as.Write, tags...)
	case ActionExport:
		as.Export = append(as.Export, tags...)
	}
	b.def.Permissions[resource] = as
	return b
}
func (b *RoleDefinitionBuilder) Build() (*RoleDefinition, error) {
	if err := b.def.Validate(); err != nil {
		return nil, err
	}
	return b.def, nil
}

// ConfigBuilder builds a Config.
type ConfigBuilder struct {
	cfg *Config
}

func NewConfigBuilder() *ConfigBuilder {
	return &ConfigBuilder{
		cfg: &Config{
			Version:     1,
			Roles:       []RoleConfig{},
			Fields:      make(map[string][]string),
			Modules:     []ModuleRule{},
			Memberships: []RoleMembership{},
			Engine: EngineConfig{
				CacheTTL:        DefaultCacheTTL.Milliseconds(),
				FallbackTimeout: DefaultFallbackTimeout.Milliseconds(),
			},
		},
	}
}

func (b *ConfigBuilder) Version(v uint16) *ConfigBuilder {
	b.cfg.Version = v
	return b
}

func (b *ConfigBuilder) AddRole(rc RoleConfig) *ConfigBuilder {
	b.cfg.Roles = append(b.cfg.Roles, rc)
	return b
}

func (b *ConfigBuilder) AddRoleDefinition(def *RoleDefinition) *ConfigBuilder {
	b.cfg.Roles = append(b.cfg.Roles, roleConfigFrom(def))
	return b
}

func (b *ConfigBuilder) FieldCategory(category string, fields ...string) *ConfigBuilder {
	b.cfg.Fields[category] = append(b.cfg.Fields[category], fields...)
	return b
}

func (b *ConfigBuilder) AddModuleRule(role string, modules ...string) *ConfigBuilder {
	b.cfg.Modules = append(b.cfg.Modules, ModuleRule{Role: role, Modules: modules})
	return b
}

func (b *ConfigBuilder) AddMembership(subjectID, roleName string) *ConfigBuilder {
	b.cfg.Memberships = append(b.cfg.Memberships, RoleMembership{SubjectID: subjectID, RoleName: roleName})
	return b
}

func (b *ConfigBuilder) CacheTTLMillis(ms int64) *ConfigBuilder {
	b.cfg.Engine.CacheTTL = ms
	return b
}

func (b *ConfigBuilder) FallbackTimeoutMillis(ms int64) *ConfigBuilder {
	b.cfg.Engine.FallbackTimeout = ms
	return b
}

func (b *ConfigBuilder) Ristretto(numCounters, maxCost, bufferItems int64) *ConfigBuilder {
	b.cfg.Engine.RistrettoNumCounter = numCounters
	b.cfg.Engine.RistrettoMaxCost = maxCost
	b.cfg.Engine.RistrettoBuffer = bufferItems
	return b
}

func (b *ConfigBuilder) Build() *Config { return b.cfg }
