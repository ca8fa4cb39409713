package clubperm

import (
	"context"
	"crypto/ed25519"
	"crypto/rand"
	"errors"
	"testing"

	"github.com/hdcn/clubperm/logger"
)

func TestSignAndVerifyCatalogBundle(t *testing.T) {
	pub, priv, err := ed25519.GenerateKey(rand.Reader)
	if err != nil {
		t.Fatalf("generate key: %v", err)
	}

	bundle, err := SignCatalogBundle(priv, DefaultConfig())
	if err != nil {
		t.Fatalf("sign: %v", err)
	}
	cfg, err := VerifyCatalogBundle(pub, bundle)
	if err != nil {
		t.Fatalf("verify: %v", err)
	}
	if len(cfg.Roles) != len(DefaultConfig().Roles) {
		t.Fatalf("snapshot lost roles: %d", len(cfg.Roles))
	}
}

func TestVerifyCatalogBundleRejectsTampering(t *testing.T) {
	pub, priv, err := ed25519.GenerateKey(rand.Reader)
	if err != nil {
		t.Fatalf("generate key: %v", err)
	}
	bundle, err := SignCatalogBundle(priv, DefaultConfig())
	if err != nil {
		t.Fatalf("sign: %v", err)
	}

	bundle.Payload[len(bundle.Payload)-1] ^= 0xff
	if _, err := VerifyCatalogBundle(pub, bundle); !errors.Is(err, ErrConfig) {
		t.Fatalf("tampered payload must fail verification, got %v", err)
	}

	otherPub, _, _ := ed25519.GenerateKey(rand.Reader)
	bundle.Payload[len(bundle.Payload)-1] ^= 0xff
	if _, err := VerifyCatalogBundle(otherPub, bundle); !errors.Is(err, ErrConfig) {
		t.Fatalf("wrong key must fail verification, got %v", err)
	}
}

func TestCatalogDistributorDeliversToFollower(t *testing.T) {
	primary := newTestEngine(t)
	follower := newTestEngine(t)
	ctx := context.Background()

	dist, err := NewCatalogDistributor(primary, WithDistributorLogger(logger.NewNullLogger()))
	if err != nil {
		t.Fatalf("new distributor: %v", err)
	}
	dist.Subscribe(CatalogSubscriberFunc(func(ctx context.Context, pub ed25519.PublicKey, bundle *SignedCatalogBundle) error {
		cfg, err := VerifyCatalogBundle(pub, bundle)
		if err != nil {
			return err
		}
		return follower.ApplyConfig(ctx, cfg)
	}))

	def := &RoleDefinition{
		Name:       "Magazines_Editor",
		Precedence: 70,
		Scope:      ScopeNational,
		Permissions: map[string]ActionSet{
			"magazines": {Read: []ScopeTag{TagAll}, Write: []ScopeTag{TagAll}},
		},
	}
	if err := primary.UpsertRole(ctx, def); err != nil {
		t.Fatalf("upsert: %v", err)
	}
	if err := dist.Distribute(ctx); err != nil {
		t.Fatalf("distribute: %v", err)
	}

	ps := follower.Calculate([]string{"Magazines_Editor"})
	if !ps.Has("magazines", ActionWrite, TagAll) {
		t.Fatalf("follower did not receive the new role: %v", ps)
	}
}

func TestCatalogDistributorKeyRotation(t *testing.T) {
	engine := newTestEngine(t)
	dist, err := NewCatalogDistributor(engine, WithDistributorLogger(logger.NewNullLogger()))
	if err != nil {
		t.Fatalf("new distributor: %v", err)
	}

	before := dist.CurrentPublicKey()
	if err := dist.RotateSigningKey(); err != nil {
		t.Fatalf("rotate: %v", err)
	}
	after := dist.CurrentPublicKey()
	if string(before) == string(after) {
		t.Fatalf("rotation did not change the key")
	}
}

func TestCatalogDistributorRequiresSource(t *testing.T) {
	if _, err := NewCatalogDistributor(nil); !errors.Is(err, ErrConfig) {
		t.Fatalf("expected config error, got %v", err)
	}
}
