package clubperm

import (
	"fmt"
	"sort"
	"strconv"
	"strings"
)

// DSL Syntax:
// role <name> <precedence> <scope> [region:<id>] <resource>=<action>:<tags>[,<action>:<tags>...] ...
// fields <category> <field1,field2,...>
// module <role> <pattern1,pattern2,...>
// member <subject> <role>
// engine <key>=<value>...
//
// Tags within one action are joined with '+', e.g.
//   role Members_Read_Region1 41 regional region:1 members=read:region:1
//   role hdcnLeden 100 national members=read:own,write:own events=read:all

type DSLParser struct {
	line int
}

func NewDSLParser() *DSLParser {
	return &DSLParser{}
}

type DSLEncoder struct {
	buf []byte
}

func NewDSLEncoder() *DSLEncoder {
	return &DSLEncoder{buf: make([]byte, 0, 4096)}
}

func (e *DSLEncoder) Encode(cfg *Config) ([]byte, error) {
	e.buf = e.buf[:0]
	var tmp [20]byte

	for _, rc := range cfg.Roles {
		e.buf = append(e.buf, "role "...)
		e.buf = append(e.buf, rc.Name...)
		e.buf = append(e.buf, ' ')
		e.buf = append(e.buf, strconv.AppendInt(tmp[:0], int64(rc.Precedence), 10)...)
		e.buf = append(e.buf, ' ')
		e.buf = append(e.buf, rc.Scope...)
		if rc.Region != "" {
			e.buf = append(e.buf, " region:"...)
			e.buf = append(e.buf, rc.Region...)
		}

		resources := make([]string, 0, len(rc.Permissions))
		for resource := range rc.Permissions {
			resources = append(resources, resource)
		}
		sort.Strings(resources)
		for _, resource := range resources {
			as := rc.Permissions[resource]
			e.buf = append(e.buf, ' ')
			e.buf = append(e.buf, resource...)
			e.buf = append(e.buf, '=')
			first := true
			first = e.appendActionTags("read", as.Read, first)
			first = e.appendActionTags("write", as.Write, first)
			e.appendActionTags("export", as.Export, first)
		}
		e.buf = append(e.buf, '\n')
	}

	categories := make([]string, 0, len(cfg.Fields))
	for cat := range cfg.Fields {
		categories = append(categories, cat)
	}
	sort.Strings(categories)
	for _, cat := range categories {
		e.buf = append(e.buf, "fields "...)
		e.buf = append(e.buf, cat...)
		e.buf = append(e.buf, ' ')
		for i, f := range cfg.Fields[cat] {
			if i > 0 {
				e.buf = append(e.buf, ',')
			}
			e.buf = append(e.buf, f...)
		}
		e.buf = append(e.buf, '\n')
	}

	for _, rule := range cfg.Modules {
		e.buf = append(e.buf, "module "...)
		e.buf = append(e.buf, rule.Role...)
		e.buf = append(e.buf, ' ')
		for i, m := range rule.Modules {
			if i > 0 {
				e.buf = append(e.buf, ',')
			}
			e.buf = append(e.buf, m...)
		}
		e.buf = append(e.buf, '\n')
	}

	for _, m := range cfg.Memberships {
		e.buf = append(e.buf, "member "...)
		e.buf = append(e.buf, m.SubjectID...)
		e.buf = append(e.buf, ' ')
		e.buf = append(e.buf, m.RoleName...)
		e.buf = append(e.buf, '\n')
	}

	if cfg.Engine != (EngineConfig{}) {
		e.buf = append(e.buf, "engine"...)
		if cfg.Engine.CacheTTL > 0 {
			e.buf = append(e.buf, " cache_ttl="...)
			e.buf = append(e.buf, strconv.AppendInt(tmp[:0], cfg.Engine.CacheTTL, 10)...)
		}
		if cfg.Engine.FallbackTimeout > 0 {
			e.buf = append(e.buf, " fallback_timeout="...)
			e.buf = append(e.buf, strconv.AppendInt(tmp[:0], cfg.Engine.FallbackTimeout, 10)...)
		}
		if cfg.Engine.RistrettoNumCounter > 0 {
			e.buf = append(e.buf, " ristretto_counters="...)
			e.buf = append(e.buf, strconv.AppendInt(tmp[:0], cfg.Engine.RistrettoNumCounter, 10)...)
		}
		if cfg.Engine.RistrettoMaxCost > 0 {
			e.buf = append(e.buf, " ristretto_cost="...)
			e.buf = append(e.buf, strconv.AppendInt(tmp[:0], cfg.Engine.RistrettoMaxCost, 10)...)
		}
		if cfg.Engine.RistrettoBuffer > 0 {
			e.buf = append(e.buf, " ristretto_buffer="...)
			e.buf = append(e.buf, strconv.AppendInt(tmp[:0], cfg.Engine.RistrettoBuffer, 10)...)
		}
		e.buf = append(e.buf, '\n')
	}

	return e.buf, nil
}

func (e *DSLEncoder) appendActionTags(action string, tags []string, first bool) bool {
	if len(tags) == 0 {
		return first
	}
	if !first {
		e.buf = append(e.buf, ',')
	}
	e.buf = append(e.buf, action...)
	e.buf = append(e.buf, ':')
	for i, t := range tags {
		if i > 0 {
			e.buf = append(e.buf, '+')
		}
		e.buf = append(e.buf, t...)
	}
	return false
}

func (p *DSLParser) Parse(data []byte) (*Config, error) {
	cfg := &Config{
		Version:     1,
		Roles:       make([]RoleConfig, 0, 8),
		Fields:      make(map[string][]string, 4),
		Modules:     make([]ModuleRule, 0, 8),
		Memberships: make([]RoleMembership, 0, 8),
	}

	p.line = 0
	start := 0
	for i := 0; i <= len(data); i++ {
		if i == len(data) || data[i] == '\n' {
			p.line++
			line := data[start:i]
			start = i + 1

			for len(line) > 0 && (line[0] == ' ' || line[0] == '\t') {
				line = line[1:]
			}
			for len(line) > 0 && (line[len(line)-1] == ' ' || line[len(line)-1] == '\t' || line[len(line)-1] == '\r') {
				line = line[:len(line)-1]
			}

			if len(line) == 0 || line[0] == '#' {
				continue
			}

			parts := splitLineBytes(line)
			if len(parts) == 0 {
				continue
			}

			switch parts[0] {
			case "role":
				if err := p.parseRole(cfg, parts[1:]); err != nil {
					return nil, fmt.Errorf("line %d: %w", p.line, err)
				}
			case "fields":
				if err := p.parseFields(cfg, parts[1:]); err != nil {
					return nil, fmt.Errorf("line %d: %w", p.line, err)
				}
			case "module":
				if err := p.parseModule(cfg, parts[1:]); err != nil {
					return nil, fmt.Errorf("line %d: %w", p.line, err)
				}
			case "member":
				if err := p.parseMember(cfg, parts[1:]); err != nil {
					return nil, fmt.Errorf("line %d: %w", p.line, err)
				}
			case "engine":
				if err := p.parseEngine(cfg, parts[1:]); err != nil {
					return nil, fmt.Errorf("line %d: %w", p.line, err)
				}
			default:
				return nil, fmt.Errorf("line %d: unknown directive: %s", p.line, parts[0])
			}
		}
	}

	return cfg, nil
}

func splitLineBytes(line []byte) []string {
	parts := make([]string, 0, 8)
	var start int
	inQuote := false
	i := 0

	for i < len(line) {
		ch := line[i]
		if ch == '"' {
			if inQuote {
				parts = append(parts, string(line[start:i]))
				start = i + 1
				inQuote = false
			} else {
				start = i + 1
				inQuote = true
			}
		} else if (ch == ' ' || ch == '\t') && !inQuote {
			if i > start {
				parts = append(parts, string(line[start:i]))
			}
			start = i + 1
		}
		i++
	}

	if start < len(line) {
		parts = append(parts, string(line[start:]))
	}

	return parts
}

func (p *DSLParser) parseRole(cfg *Config, parts []string) error {
	if len(parts) < 3 {
		return fmt.Errorf("role requires: <name> <precedence> <scope> [region:<id>] <resource>=<perms>...")
	}

	prec, err := strconv.Atoi(parts[1])
	if err != nil {
		return fmt.Errorf("invalid precedence %q", parts[1])
	}
	rc := RoleConfig{
		Name:        parts[0],
		Precedence:  prec,
		Scope:       parts[2],
		Permissions: make(map[string]ActionSetConfig, 4),
	}

	for _, part := range parts[3:] {
		if strings.HasPrefix(part, "region:") && !strings.Contains(part, "=") {
			rc.Region = part[len("region:"):]
			continue
		}
		eq := strings.Index(part, "=")
		if eq == -1 {
			return fmt.Errorf("invalid permission spec %q", part)
		}
		resource := part[:eq]
		as, err := parseActionSpec(part[eq+1:])
		if err != nil {
			return fmt.Errorf("resource %s: %w", resource, err)
		}
		rc.Permissions[resource] = as
	}

	cfg.Roles = append(cfg.Roles, rc)
	return nil
}

func parseActionSpec(spec string) (ActionSetConfig, error) {
	as := ActionSetConfig{}
	for _, entry := range strings.Split(spec, ",") {
		colon := strings.Index(entry, ":")
		if colon == -1 {
			return as, fmt.Errorf("invalid action spec %q", entry)
		}
		action, rawTags := entry[:colon], entry[colon+1:]
		tags := strings.Split(rawTags, "+")
		switch action {
		case "read":
			as.Read = append(as.Read, tags...)
		case "write":
			as.Write = append(as.Write, tags...)
		case "export":
			as.Export = append(as.Export, tags...)
		default:
			return as, fmt.Errorf("unknown action %q", action)
		}
	}
	return as, nil
}

func (p *DSLParser) parseFields(cfg *Config, parts []string) error {
	if len(parts) < 2 {
		return fmt.Errorf("fields requires: <category> <field1,field2,...>")
	}
	cfg.Fields[parts[0]] = append(cfg.Fields[parts[0]], strings.Split(parts[1], ",")...)
	return nil
}

func (p *DSLParser) parseModule(cfg *Config, parts []string) error {
	if len(parts) < 2 {
		return fmt.Errorf("module requires: <role> <pattern1,pattern2,...>")
	}
	cfg.Modules = append(cfg.Modules, ModuleRule{
		Role:    parts[0],
		Modules: strings.Split(parts[1], ","),
	})
	return nil
}

func (p *DSLParser) parseMember(cfg *Config, parts []string) error {
	if len(parts) < 2 {
		return fmt.Errorf("member requires: <subject> <role>")
	}
	cfg.Memberships = append(cfg.Memberships, RoleMembership{
		SubjectID: parts[0],
		RoleName:  parts[1],
	})
	return nil
}

func (p *DSLParser) parseEngine(cfg *Config, parts []string) error {
	for _, kv := range parts {
		idx := strings.Index(kv, "=")
		if idx == -1 {
			continue
		}
		key, val := kv[:idx], kv[idx+1:]
		switch key {
		case "cache_ttl":
			cfg.Engine.CacheTTL, _ = strconv.ParseInt(val, 10, 64)
		case "fallback_timeout":
			cfg.Engine.FallbackTimeout, _ = strconv.ParseInt(val, 10, 64)
		case "ristretto_counters":
			cfg.Engine.RistrettoNumCounter, _ = strconv.ParseInt(val, 10, 64)
		case "ristretto_cost":
			cfg.Engine.RistrettoMaxCost, _ = strconv.ParseInt(val, 10, 64)
		case "ristretto_buffer":
			cfg.Engine.RistrettoBuffer, _ = strconv.ParseInt(val, 10, 64)
		}
	}
	return nil
}
