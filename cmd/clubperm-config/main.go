package main

import (
	"context"
	"crypto/ed25519"
	"crypto/rand"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/hdcn/clubperm"
)

func main() {
	if len(os.Args) < 2 {
		printUsage()
		os.Exit(1)
	}

	cmd := os.Args[1]
	switch cmd {
	case "convert":
		handleConvert()
	case "validate":
		handleValidate()
	case "stats":
		handleStats()
	case "apply":
		handleApply()
	case "seed":
		handleSeed()
	case "sign":
		handleSign()
	case "verify":
		handleVerify()
	default:
		fmt.Printf("Unknown command: %s\n", cmd)
		printUsage()
		os.Exit(1)
	}
}

func printUsage() {
	fmt.Println("clubperm-config - Configuration tool for clubperm")
	fmt.Println()
	fmt.Println("Usage:")
	fmt.Println("  clubperm-config convert <input> <output>  - Convert between formats")
	fmt.Println("  clubperm-config validate <file>           - Validate configuration")
	fmt.Println("  clubperm-config stats <file>              - Show configuration statistics")
	fmt.Println("  clubperm-config apply <file>              - Load configuration into an engine")
	fmt.Println("  clubperm-config seed <output>             - Write the stock club catalog")
	fmt.Println("  clubperm-config sign <file> <bundle>      - Sign a catalog snapshot bundle")
	fmt.Println("  clubperm-config verify <bundle> <pubkey>  - Verify a signed bundle")
	fmt.Println()
	fmt.Println("Supported formats: .dsl, .yaml, .yml, .json, .bin")
}

func handleConvert() {
	if len(os.Args) < 4 {
		fmt.Println("Usage: clubperm-config convert <input> <output>")
		os.Exit(1)
	}

	inputFile := os.Args[2]
	outputFile := os.Args[3]

	cfg, err := loadConfig(inputFile)
	if err != nil {
		fmt.Printf("Error loading config: %v\n", err)
		os.Exit(1)
	}

	if err := saveConfig(cfg, outputFile); err != nil {
		fmt.Printf("Error saving config: %v\n", err)
		os.Exit(1)
	}

	fmt.Printf("Converted %s -> %s\n", inputFile, outputFile)

	inStat, _ := os.Stat(inputFile)
	outStat, _ := os.Stat(outputFile)
	if inStat != nil && outStat != nil {
		reduction := (1 - float64(outStat.Size())/float64(inStat.Size())) * 100
		if reduction > 0 {
			fmt.Printf("Size reduced by %.1f%% (%d -> %d bytes)\n",
				reduction, inStat.Size(), outStat.Size())
		} else {
			fmt.Printf("Size increased by %.1f%% (%d -> %d bytes)\n",
				-reduction, inStat.Size(), outStat.Size())
		}
	}
}

func handleValidate() {
	if len(os.Args) < 3 {
		fmt.Println("Usage: clubperm-config validate <file>")
		os.Exit(1)
	}

	filename := os.Args[2]
	cfg, err := loadConfig(filename)
	if err != nil {
		fmt.Printf("Invalid configuration: %v\n", err)
		os.Exit(1)
	}

	registry, fields, modules, err := cfg.Build()
	if err != nil {
		fmt.Printf("Invalid configuration: %v\n", err)
		os.Exit(1)
	}

	fmt.Printf("Configuration is valid\n")
	fmt.Printf("  Version: %d\n", cfg.Version)
	fmt.Printf("  Roles: %d\n", registry.Len())
	fmt.Printf("  Regions: %s\n", strings.Join(registry.Regions(), ", "))
	fmt.Printf("  Field categories: %d\n", len(fields.Categories()))
	fmt.Printf("  Module rules: %d\n", len(modules.Rules()))
	fmt.Printf("  Memberships: %d\n", len(cfg.Memberships))
}

func handleStats() {
	if len(os.Args) < 3 {
		fmt.Println("Usage: clubperm-config stats <file>")
		os.Exit(1)
	}

	filename := os.Args[2]
	cfg, err := loadConfig(filename)
	if err != nil {
		fmt.Printf("Error loading config: %v\n", err)
		os.Exit(1)
	}

	stat, _ := os.Stat(filename)

	fmt.Println("Configuration Statistics")
	fmt.Println("========================")
	if stat != nil {
		fmt.Printf("File size: %d bytes\n", stat.Size())
	}
	fmt.Printf("Version: %d\n", cfg.Version)
	fmt.Println()

	fmt.Println("Components:")
	fmt.Printf("  Roles:        %d\n", len(cfg.Roles))
	fmt.Printf("  Module rules: %d\n", len(cfg.Modules))
	fmt.Printf("  Memberships:  %d\n", len(cfg.Memberships))
	fieldCount := 0
	for _, fields := range cfg.Fields {
		fieldCount += len(fields)
	}
	fmt.Printf("  Fields:       %d in %d categories\n", fieldCount, len(cfg.Fields))
	fmt.Println()

	if len(cfg.Roles) > 0 {
		national, regional, system := 0, 0, 0
		totalGrants := 0
		for _, rc := range cfg.Roles {
			switch clubperm.Scope(rc.Scope) {
			case clubperm.ScopeNational:
				national++
			case clubperm.ScopeRegional:
				regional++
			case clubperm.ScopeSystem:
				system++
			}
			totalGrants += len(rc.Permissions)
		}
		fmt.Println("Role Details:")
		fmt.Printf("  National: %d  Regional: %d  System: %d\n", national, regional, system)
		fmt.Printf("  Total resource grants: %d\n", totalGrants)
		fmt.Printf("  Avg per role:          %.1f\n", float64(totalGrants)/float64(len(cfg.Roles)))
		fmt.Println()
	}

	fmt.Println("Engine Configuration:")
	fmt.Printf("  Decision cache TTL:  %dms\n", cfg.Engine.CacheTTL)
	fmt.Printf("  Fallback timeout:    %dms\n", cfg.Engine.FallbackTimeout)
	if cfg.Engine.RistrettoNumCounter > 0 {
		fmt.Printf("  Ristretto counters:  %d\n", cfg.Engine.RistrettoNumCounter)
		fmt.Printf("  Ristretto max cost:  %d\n", cfg.Engine.RistrettoMaxCost)
	}
}

func handleApply() {
	if len(os.Args) < 3 {
		fmt.Println("Usage: clubperm-config apply <file>")
		os.Exit(1)
	}

	filename := os.Args[2]
	cfg, err := loadConfig(filename)
	if err != nil {
		fmt.Printf("Error loading config: %v\n", err)
		os.Exit(1)
	}

	registry, fields, modules, err := cfg.Build()
	if err != nil {
		fmt.Printf("Error building rule tables: %v\n", err)
		os.Exit(1)
	}

	engine, err := clubperm.NewEngine(registry, fields, modules,
		clubperm.WithAuditStore(clubperm.NewMemoryAuditStore()),
	)
	if err != nil {
		fmt.Printf("Error creating engine: %v\n", err)
		os.Exit(1)
	}
	defer engine.Close()

	if err := engine.ApplyConfig(context.Background(), cfg); err != nil {
		fmt.Printf("Error applying config: %v\n", err)
		os.Exit(1)
	}

	fmt.Printf("Configuration applied successfully\n")
	fmt.Printf("  Roles loaded: %d\n", registry.Len())
	fmt.Printf("  Module rules loaded: %d\n", len(modules.Rules()))
}

func handleSeed() {
	if len(os.Args) < 3 {
		fmt.Println("Usage: clubperm-config seed <output>")
		os.Exit(1)
	}

	outputFile := os.Args[2]
	if err := saveConfig(clubperm.DefaultConfig(), outputFile); err != nil {
		fmt.Printf("Error writing seed config: %v\n", err)
		os.Exit(1)
	}
	fmt.Printf("Seed catalog written to %s\n", outputFile)
}

func handleSign() {
	if len(os.Args) < 4 {
		fmt.Println("Usage: clubperm-config sign <file> <bundle>")
		os.Exit(1)
	}

	cfg, err := loadConfig(os.Args[2])
	if err != nil {
		fmt.Printf("Error loading config: %v\n", err)
		os.Exit(1)
	}

	pub, priv, err := ed25519.GenerateKey(rand.Reader)
	if err != nil {
		fmt.Printf("Error generating key: %v\n", err)
		os.Exit(1)
	}
	bundle, err := clubperm.SignCatalogBundle(priv, cfg)
	if err != nil {
		fmt.Printf("Error signing: %v\n", err)
		os.Exit(1)
	}

	data, err := json.MarshalIndent(bundle, "", "  ")
	if err != nil {
		fmt.Printf("Error encoding bundle: %v\n", err)
		os.Exit(1)
	}
	bundleFile := os.Args[3]
	if err := os.WriteFile(bundleFile, data, 0644); err != nil {
		fmt.Printf("Error writing bundle: %v\n", err)
		os.Exit(1)
	}
	keyFile := bundleFile + ".pub"
	if err := os.WriteFile(keyFile, []byte(base64.StdEncoding.EncodeToString(pub)), 0644); err != nil {
		fmt.Printf("Error writing public key: %v\n", err)
		os.Exit(1)
	}

	fmt.Printf("Signed bundle: %s (%d bytes)\n", bundleFile, len(data))
	fmt.Printf("Verification key: %s\n", keyFile)
}

func handleVerify() {
	if len(os.Args) < 4 {
		fmt.Println("Usage: clubperm-config verify <bundle> <pubkey>")
		os.Exit(1)
	}

	data, err := os.ReadFile(os.Args[2])
	if err != nil {
		fmt.Printf("Error reading bundle: %v\n", err)
		os.Exit(1)
	}
	var bundle clubperm.SignedCatalogBundle
	if err := json.Unmarshal(data, &bundle); err != nil {
		fmt.Printf("Error decoding bundle: %v\n", err)
		os.Exit(1)
	}

	keyData, err := os.ReadFile(os.Args[3])
	if err != nil {
		fmt.Printf("Error reading public key: %v\n", err)
		os.Exit(1)
	}
	pub, err := base64.StdEncoding.DecodeString(strings.TrimSpace(string(keyData)))
	if err != nil {
		fmt.Printf("Error decoding public key: %v\n", err)
		os.Exit(1)
	}

	cfg, err := clubperm.VerifyCatalogBundle(ed25519.PublicKey(pub), &bundle)
	if err != nil {
		fmt.Printf("Verification FAILED: %v\n", err)
		os.Exit(1)
	}
	fmt.Printf("Verification OK: %d roles, %d module rules\n", len(cfg.Roles), len(cfg.Modules))
}

func loadConfig(filename string) (*clubperm.Config, error) {
	data, err := os.ReadFile(filename)
	if err != nil {
		return nil, err
	}

	ext := strings.ToLower(filepath.Ext(filename))

	switch ext {
	case ".dsl":
		parser := clubperm.NewDSLParser()
		return parser.Parse(data)
	case ".yaml", ".yml":
		loader := clubperm.NewConfigLoader()
		return loader.LoadYAML(data)
	case ".json":
		loader := clubperm.NewConfigLoader()
		return loader.LoadJSON(data)
	case ".bin":
		loader := clubperm.NewConfigLoader()
		return loader.LoadBinary(data)
	default:
		return nil, fmt.Errorf("unsupported file format: %s", ext)
	}
}

func saveConfig(cfg *clubperm.Config, filename string) error {
	ext := strings.ToLower(filepath.Ext(filename))

	var data []byte
	var err error

	switch ext {
	case ".dsl":
		encoder := clubperm.NewDSLEncoder()
		data, err = encoder.Encode(cfg)
	case ".yaml", ".yml":
		data, err = cfg.ToYAML()
	case ".json":
		data, err = cfg.ToJSON()
	case ".bin":
		data, err = clubperm.EncodeBinaryConfig(cfg)
	default:
		return fmt.Errorf("unsupported file format: %s", ext)
	}

	if err != nil {
		return err
	}

	return os.WriteFile(filename, data, 0644)
}
