package clubperm

import (
	"bytes"
	"context"
	"encoding/binary"
	"encoding/json"
	"fmt"
	"io"
	"sort"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is the complete declarative rule set: role catalog, field
// categories, module visibility table and engine tuning, loadable from
// YAML, JSON or the compact binary format.
type Config struct {
	Version     uint16              `json:"version" yaml:"version"`
	Roles       []RoleConfig        `json:"roles" yaml:"roles"`
	Fields      map[string][]string `json:"fields" yaml:"fields"`
	Modules     []ModuleRule        `json:"modules" yaml:"modules"`
	Memberships []RoleMembership    `json:"memberships" yaml:"memberships"`
	Engine      EngineConfig        `json:"engine" yaml:"engine"`
}

// RoleConfig is the serialized form of a role definition.
type RoleConfig struct {
	Name        string                    `json:"name" yaml:"name"`
	Precedence  int                       `json:"precedence" yaml:"precedence"`
	Scope       string                    `json:"scope" yaml:"scope"`
	Region      string                    `json:"region,omitempty" yaml:"region,omitempty"`
	Permissions map[string]ActionSetConfig `json:"permissions" yaml:"permissions"`
}

// ActionSetConfig is the serialized form of per-resource scope tags.
type ActionSetConfig struct {
	Read   []string `json:"read,omitempty" yaml:"read,omitempty"`
	Write  []string `json:"write,omitempty" yaml:"write,omitempty"`
	Export []string `json:"export,omitempty" yaml:"export,omitempty"`
}

// EngineConfig carries engine tuning knobs.
type EngineConfig struct {
	CacheTTL            int64 `json:"cache_ttl_ms" yaml:"cache_ttl_ms"`
	FallbackTimeout     int64 `json:"fallback_timeout_ms" yaml:"fallback_timeout_ms"`
	RistrettoNumCounter int64 `json:"ristretto_num_counter" yaml:"ristretto_num_counter"`
	RistrettoMaxCost    int64 `json:"ristretto_max_cost" yaml:"ristretto_max_cost"`
	RistrettoBuffer     int64 `json:"ristretto_buffer" yaml:"ristretto_buffer"`
}

// ConfigLoader loads configuration from the supported formats.
type ConfigLoader struct{}

func NewConfigLoader() *ConfigLoader {
	return &ConfigLoader{}
}

func (l *ConfigLoader) LoadYAML(data []byte) (*Config, error) {
	cfg := &Config{}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (l *ConfigLoader) LoadJSON(data []byte) (*Config, error) {
	cfg := &Config{}
	if err := json.Unmarshal(data, cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// LoadBinary loads from the compact binary format.
func (l *ConfigLoader) LoadBinary(data []byte) (*Config, error) {
	r := bytes.NewReader(data)
	return decodeBinaryConfig(r)
}

// EncodeBinaryConfig encodes config to the compact binary format.
func EncodeBinaryConfig(cfg *Config) ([]byte, error) {
	buf := &bytes.Buffer{}
	if err := encodeBinaryConfig(cfg, buf); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// ToYAML exports config to YAML.
func (c *Config) ToYAML() ([]byte, error) {
	return yaml.Marshal(c)
}

// ToJSON exports config to JSON.
func (c *Config) ToJSON() ([]byte, error) {
	return json.MarshalIndent(c, "", "  ")
}

// RoleDefinition converts the serialized form into a validated domain
// definition.
func (rc RoleConfig) RoleDefinition() (*RoleDefinition, error) {
	def := &RoleDefinition{
		Name:        rc.Name,
		Precedence:  Precedence(rc.Precedence),
		Scope:       Scope(rc.Scope),
		Region:      NormalizeRegion(rc.Region),
		Permissions: make(map[string]ActionSet, len(rc.Permissions)),
	}
	for resource, as := range rc.Permissions {
		def.Permissions[resource] = ActionSet{
			Read:   toScopeTags(as.Read),
			Write:  toScopeTags(as.Write),
			Export: toScopeTags(as.Export),
		}
	}
	if err := def.Validate(); err != nil {
		return nil, err
	}
	return def, nil
}

func toScopeTags(raw []string) []ScopeTag {
	if len(raw) == 0 {
		return nil
	}
	tags := make([]ScopeTag, 0, len(raw))
	for _, s := range raw {
		tags = append(tags, ScopeTag(s))
	}
	return tags
}

// Build materializes the rule tables from the config. Any integrity
// problem in any table fails the whole build.
func (c *Config) Build() (*Registry, *FieldRules, *ModuleRules, error) {
	defs := make([]*RoleDefinition, 0, len(c.Roles))
	for _, rc := range c.Roles {
		def, err := rc.RoleDefinition()
		if err != nil {
			return nil, nil, nil, fmt.Errorf("role %s: %w", rc.Name, err)
		}
		defs = append(defs, def)
	}
	registry, err := NewRegistry(defs)
	if err != nil {
		return nil, nil, nil, err
	}

	fieldCategories := DefaultFieldCategories()
	if len(c.Fields) > 0 {
		fieldCategories = make(map[FieldCategory][]string, len(c.Fields))
		for cat, names := range c.Fields {
			fieldCategories[FieldCategory(cat)] = names
		}
	}
	fields, err := NewFieldRules(fieldCategories)
	if err != nil {
		return nil, nil, nil, err
	}

	// An empty module list means no role-based module rules, not the
	// stock table: a catalog without regional roles could never build
	// the regional templates in the default rules.
	modules, err := NewModuleRules(c.Modules, registry)
	if err != nil {
		return nil, nil, nil, err
	}
	return registry, fields, modules, nil
}

// ApplyConfig rebuilds the engine's rule tables from the config, applies
// engine tuning, seeds memberships and flushes the decision cache. The
// swap is atomic with respect to concurrent queries.
func (e *Engine) ApplyConfig(ctx context.Context, cfg *Config) error {
	registry, fields, modules, err := cfg.Build()
	if err != nil {
		return err
	}

	var newCache PermissionCache
	if cfg.Engine.CacheTTL > 0 {
		ttl := time.Duration(cfg.Engine.CacheTTL) * time.Millisecond
		if cfg.Engine.RistrettoNumCounter > 0 {
			newCache, err = NewRistrettoPermissionCache(RistrettoCacheConfig{
				NumCounters: cfg.Engine.RistrettoNumCounter,
				MaxCost:     cfg.Engine.RistrettoMaxCost,
				BufferItems: cfg.Engine.RistrettoBuffer,
			}, ttl)
			if err != nil {
				return fmt.Errorf("configure ristretto cache: %w", err)
			}
		} else {
			newCache = NewMemoryPermissionCache(ttl)
		}
	}

	e.mu.Lock()
	e.registry = registry
	e.fields = fields
	e.modules = modules
	if cfg.Engine.FallbackTimeout > 0 {
		e.fallbackTimeout = time.Duration(cfg.Engine.FallbackTimeout) * time.Millisecond
	}
	e.calc = NewCalculator(registry, e.logger)
	e.moduleEval = NewModuleEvaluator(modules, e.fallback, e.fallbackTimeout, e.logger)
	var oldCache PermissionCache
	if newCache != nil {
		oldCache = e.cache
		e.cache = newCache
	}
	e.mu.Unlock()
	if oldCache != nil {
		oldCache.Close()
	}

	if e.membership != nil {
		for _, m := range cfg.Memberships {
			if err := e.membership.AssignRole(ctx, m.SubjectID, m.RoleName); err != nil {
				return fmt.Errorf("assign role %s to %s: %w", m.RoleName, m.SubjectID, err)
			}
		}
	}

	e.FlushCache()
	return nil
}

// ExportConfig serializes the engine's live rule tables back into a
// Config, for inspection or format conversion.
func (e *Engine) ExportConfig() *Config {
	e.mu.RLock()
	registry := e.registry
	fields := e.fields
	modules := e.modules
	e.mu.RUnlock()

	cfg := &Config{Version: 1}
	for _, name := range registry.RoleNames() {
		def, _ := registry.Resolve(name)
		cfg.Roles = append(cfg.Roles, roleConfigFrom(def))
	}
	if fields != nil {
		cfg.Fields = fields.Categories()
	}
	if modules != nil {
		cfg.Modules = modules.Rules()
	}
	return cfg
}

func roleConfigFrom(def *RoleDefinition) RoleConfig {
	rc := RoleConfig{
		Name:        def.Name,
		Precedence:  int(def.Precedence),
		Scope:       string(def.Scope),
		Region:      def.Region,
		Permissions: make(map[string]ActionSetConfig, len(def.Permissions)),
	}
	for resource, as := range def.Permissions {
		rc.Permissions[resource] = ActionSetConfig{
			Read:   fromScopeTags(as.Read),
			Write:  fromScopeTags(as.Write),
			Export: fromScopeTags(as.Export),
		}
	}
	return rc
}

func fromScopeTags(tags []ScopeTag) []string {
	if len(tags) == 0 {
		return nil
	}
	out := make([]string, 0, len(tags))
	for _, t := range tags {
		out = append(out, string(t))
	}
	return out
}

// DefaultConfig returns the stock club catalog: the system role, the
// national member-administration roles, the five regional read roles, the
// status approver and the base member role.
func DefaultConfig() *Config {
	regionalReads := make([]RoleConfig, 0, 5)
	for i := 1; i <= 5; i++ {
		regionalReads = append(regionalReads, RoleConfig{
			Name:       fmt.Sprintf("Members_Read_Region%d", i),
			Precedence: 40 + i,
			Scope:      string(ScopeRegional),
			Region:     fmt.Sprintf("%d", i),
			Permissions: map[string]ActionSetConfig{
				ResourceMembers: {Read: []string{fmt.Sprintf("region:%d", i)}},
			},
		})
	}

	roles := []RoleConfig{
		{
			Name:       DefaultSystemRole,
			Precedence: 0,
			Scope:      string(ScopeSystem),
			Permissions: map[string]ActionSetConfig{
				ResourceSystem: {Read: []string{"all"}, Write: []string{"all"}, Export: []string{"all"}},
			},
		},
		{
			Name:       "Members_Admin_All",
			Precedence: 10,
			Scope:      string(ScopeNational),
			Permissions: map[string]ActionSetConfig{
				ResourceMembers: {Read: []string{"all"}, Write: []string{"all"}, Export: []string{"all"}},
			},
		},
		{
			Name:       "Members_Read_All",
			Precedence: 20,
			Scope:      string(ScopeNational),
			Permissions: map[string]ActionSetConfig{
				ResourceMembers: {Read: []string{"all"}},
			},
		},
		{
			Name:       "Members_Status_Approve",
			Precedence: 30,
			Scope:      string(ScopeNational),
			Permissions: map[string]ActionSetConfig{
				ResourceMemberStatus: {Write: []string{"all"}},
			},
		},
	}
	roles = append(roles, regionalReads...)
	roles = append(roles, RoleConfig{
		Name:       "hdcnLeden",
		Precedence: 100,
		Scope:      string(ScopeNational),
		Permissions: map[string]ActionSetConfig{
			ResourceMembers: {Read: []string{"own"}, Write: []string{"own"}},
			ResourceEvents:  {Read: []string{"all"}},
		},
	})

	fields := make(map[string][]string)
	for category, names := range DefaultFieldCategories() {
		fields[string(category)] = names
	}

	return &Config{
		Version: 1,
		Roles:   roles,
		Fields:  fields,
		Modules: DefaultModuleRules(),
		Engine: EngineConfig{
			CacheTTL:        DefaultCacheTTL.Milliseconds(),
			FallbackTimeout: DefaultFallbackTimeout.Milliseconds(),
		},
	}
}

// Binary protocol encoding/decoding.
const (
	binaryMagic   = 0x4350 // "CP"
	binaryVersion = 1
)

func encodeBinaryConfig(cfg *Config, w io.Writer) error {
	buf := &bytes.Buffer{}

	// Header: magic(2) + version(2) + config_version(2)
	binary.Write(buf, binary.LittleEndian, uint16(binaryMagic))
	binary.Write(buf, binary.LittleEndian, uint16(binaryVersion))
	binary.Write(buf, binary.LittleEndian, cfg.Version)

	writeSection(buf, 0x01, func(b *bytes.Buffer) { encodeRoleConfigs(b, cfg.Roles) })
	writeSection(buf, 0x02, func(b *bytes.Buffer) { encodeFieldCategories(b, cfg.Fields) })
	writeSection(buf, 0x03, func(b *bytes.Buffer) { encodeModuleRules(b, cfg.Modules) })
	writeSection(buf, 0x04, func(b *bytes.Buffer) { encodeMemberships(b, cfg.Memberships) })
	writeSection(buf, 0x05, func(b *bytes.Buffer) { encodeEngineConfig(b, &cfg.Engine) })

	_, err := w.Write(buf.Bytes())
	return err
}

func decodeBinaryConfig(r io.Reader) (*Config, error) {
	cfg := &Config{}

	var magic, ver, cfgVer uint16
	binary.Read(r, binary.LittleEndian, &magic)
	binary.Read(r, binary.LittleEndian, &ver)
	binary.Read(r, binary.LittleEndian, &cfgVer)

	if magic != binaryMagic {
		return nil, fmt.Errorf("invalid magic: %x", magic)
	}
	if ver != binaryVersion {
		return nil, fmt.Errorf("unsupported version: %d", ver)
	}
	cfg.Version = cfgVer

	for {
		var tag uint8
		if err := binary.Read(r, binary.LittleEndian, &tag); err == io.EOF {
			break
		} else if err != nil {
			return nil, err
		}

		var size uint32
		binary.Read(r, binary.LittleEndian, &size)
		data := make([]byte, size)
		io.ReadFull(r, data)

		switch tag {
		case 0x01:
			cfg.Roles = decodeRoleConfigs(data)
		case 0x02:
			cfg.Fields = decodeFieldCategories(data)
		case 0x03:
			cfg.Modules = decodeModuleRules(data)
		case 0x04:
			cfg.Memberships = decodeMemberships(data)
		case 0x05:
			cfg.Engine = decodeEngineConfig(data)
		}
	}

	return cfg, nil
}

func writeSection(buf *bytes.Buffer, tag uint8, fn func(*bytes.Buffer)) {
	tmp := &bytes.Buffer{}
	fn(tmp)
	binary.Write(buf, binary.LittleEndian, tag)
	binary.Write(buf, binary.LittleEndian, uint32(tmp.Len()))
	buf.Write(tmp.Bytes())
}

func writeString(buf *bytes.Buffer, s string) {
	binary.Write(buf, binary.LittleEndian, uint16(len(s)))
	buf.WriteString(s)
}

func readString(r *bytes.Reader) string {
	var l uint16
	binary.Read(r, binary.LittleEndian, &l)
	b := make([]byte, l)
	r.Read(b)
	return string(b)
}

func writeStrings(buf *bytes.Buffer, ss []string) {
	binary.Write(buf, binary.LittleEndian, uint16(len(ss)))
	for _, s := range ss {
		writeString(buf, s)
	}
}

func readStrings(r *bytes.Reader) []string {
	var count uint16
	binary.Read(r, binary.LittleEndian, &count)
	if count == 0 {
		return nil
	}
	out := make([]string, count)
	for i := range out {
		out[i] = readString(r)
	}
	return out
}

func encodeRoleConfigs(buf *bytes.Buffer, roles []RoleConfig) {
	binary.Write(buf, binary.LittleEndian, uint16(len(roles)))
	for _, rc := range roles {
		writeString(buf, rc.Name)
		binary.Write(buf, binary.LittleEndian, int32(rc.Precedence))
		writeString(buf, rc.Scope)
		writeString(buf, rc.Region)

		resources := make([]string, 0, len(rc.Permissions))
		for resource := range rc.Permissions {
			resources = append(resources, resource)
		}
		sort.Strings(resources)
		binary.Write(buf, binary.LittleEndian, uint16(len(resources)))
		for _, resource := range resources {
			as := rc.Permissions[resource]
			writeString(buf, resource)
			writeStrings(buf, as.Read)
			writeStrings(buf, as.Write)
			writeStrings(buf, as.Export)
		}
	}
}

func decodeRoleConfigs(data []byte) []RoleConfig {
	r := bytes.NewReader(data)
	var count uint16
	binary.Read(r, binary.LittleEndian, &count)
	roles := make([]RoleConfig, count)
	for i := range roles {
		roles[i].Name = readString(r)
		var prec int32
		binary.Read(r, binary.LittleEndian, &prec)
		roles[i].Precedence = int(prec)
		roles[i].Scope = readString(r)
		roles[i].Region = readString(r)

		var resCount uint16
		binary.Read(r, binary.LittleEndian, &resCount)
		roles[i].Permissions = make(map[string]ActionSetConfig, resCount)
		for j := uint16(0); j < resCount; j++ {
			resource := readString(r)
			roles[i].Permissions[resource] = ActionSetConfig{
				Read:   readStrings(r),
				Write:  readStrings(r),
				Export: readStrings(r),
			}
		}
	}
	return roles
}

func encodeFieldCategories(buf *bytes.Buffer, fields map[string][]string) {
	categories := make([]string, 0, len(fields))
	for cat := range fields {
		categories = append(categories, cat)
	}
	sort.Strings(categories)
	binary.Write(buf, binary.LittleEndian, uint16(len(categories)))
	for _, cat := range categories {
		writeString(buf, cat)
		writeStrings(buf, fields[cat])
	}
}

func decodeFieldCategories(data []byte) map[string][]string {
	r := bytes.NewReader(data)
	var count uint16
	binary.Read(r, binary.LittleEndian, &count)
	if count == 0 {
		return nil
	}
	fields := make(map[string][]string, count)
	for i := uint16(0); i < count; i++ {
		cat := readString(r)
		fields[cat] = readStrings(r)
	}
	return fields
}

func encodeModuleRules(buf *bytes.Buffer, rules []ModuleRule) {
	binary.Write(buf, binary.LittleEndian, uint16(len(rules)))
	for _, rule := range rules {
		writeString(buf, rule.Role)
		writeStrings(buf, rule.Modules)
	}
}

func decodeModuleRules(data []byte) []ModuleRule {
	r := bytes.NewReader(data)
	var count uint16
	binary.Read(r, binary.LittleEndian, &count)
	if count == 0 {
		return nil
	}
	rules := make([]ModuleRule, count)
	for i := range rules {
		rules[i].Role = readString(r)
		rules[i].Modules = readStrings(r)
	}
	return rules
}

func encodeMemberships(buf *bytes.Buffer, memberships []RoleMembership) {
	binary.Write(buf, binary.LittleEndian, uint16(len(memberships)))
	for _, m := range memberships {
		writeString(buf, m.SubjectID)
		writeString(buf, m.RoleName)
	}
}

func decodeMemberships(data []byte) []RoleMembership {
	r := bytes.NewReader(data)
	var count uint16
	binary.Read(r, binary.LittleEndian, &count)
	if count == 0 {
		return nil
	}
	memberships := make([]RoleMembership, count)
	for i := range memberships {
		memberships[i].SubjectID = readString(r)
		memberships[i].RoleName = readString(r)
	}
	return memberships
}

func encodeEngineConfig(buf *bytes.Buffer, ec *EngineConfig) {
	binary.Write(buf, binary.LittleEndian, ec.CacheTTL)
	binary.Write(buf, binary.LittleEndian, ec.FallbackTimeout)
	binary.Write(buf, binary.LittleEndian, ec.RistrettoNumCounter)
	binary.Write(buf, binary.LittleEndian, ec.RistrettoMaxCost)
	binary.Write(buf, binary.LittleEndian, ec.RistrettoBuffer)
}

func decodeEngineConfig(data []byte) EngineConfig {
	r := bytes.NewReader(data)
	ec := EngineConfig{}
	binary.Read(r, binary.LittleEndian, &ec.CacheTTL)
	binary.Read(r, binary.LittleEndian, &ec.FallbackTimeout)
	binary.Read(r, binary.LittleEndian, &ec.RistrettoNumCounter)
	binary.Read(r, binary.LittleEndian, &ec.RistrettoMaxCost)
	binary.Read(r, binary.LittleEndian, &ec.RistrettoBuffer)
	return ec
}
