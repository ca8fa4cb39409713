package clubperm

import (
	"context"
	"crypto/ed25519"
	"crypto/rand"
	"encoding/base64"
	"fmt"
	"sync"
	"time"

	"github.com/hdcn/clubperm/logger"
)

// SignedCatalogBundle is a role-catalog snapshot in the binary config
// encoding, signed so downstream consumers can verify it came from the
// distributing instance.
type SignedCatalogBundle struct {
	Payload   []byte            `json:"payload"`
	Signature []byte            `json:"signature"`
	Meta      map[string]string `json:"meta,omitempty"`
}

// SignCatalogBundle encodes a config snapshot and signs the encoded
// bytes.
func SignCatalogBundle(priv ed25519.PrivateKey, cfg *Config) (*SignedCatalogBundle, error) {
	if len(priv) != ed25519.PrivateKeySize {
		return nil, fmt.Errorf("%w: invalid signing key", ErrConfig)
	}
	payload, err := EncodeBinaryConfig(cfg)
	if err != nil {
		return nil, fmt.Errorf("encode catalog: %w", err)
	}
	return &SignedCatalogBundle{
		Payload:   payload,
		Signature: ed25519.Sign(priv, payload),
	}, nil
}

// VerifyCatalogBundle checks the bundle signature and decodes the
// payload back into a config.
func VerifyCatalogBundle(pub ed25519.PublicKey, bundle *SignedCatalogBundle) (*Config, error) {
	if bundle == nil {
		return nil, fmt.Errorf("%w: nil bundle", ErrConfig)
	}
	if !ed25519.Verify(pub, bundle.Payload, bundle.Signature) {
		return nil, fmt.Errorf("%w: bundle signature mismatch", ErrConfig)
	}
	return NewConfigLoader().LoadBinary(bundle.Payload)
}

// CatalogSubscriber receives freshly signed catalog snapshots.
type CatalogSubscriber interface {
	OnCatalog(ctx context.Context, pub ed25519.PublicKey, bundle *SignedCatalogBundle) error
}

// CatalogSubscriberFunc adapts a function to CatalogSubscriber.
type CatalogSubscriberFunc func(ctx context.Context, pub ed25519.PublicKey, bundle *SignedCatalogBundle) error

func (f CatalogSubscriberFunc) OnCatalog(ctx context.Context, pub ed25519.PublicKey, bundle *SignedCatalogBundle) error {
	return f(ctx, pub, bundle)
}

// CatalogSource produces the snapshot to distribute. *Engine satisfies
// it through ExportConfig.
type CatalogSource interface {
	ExportConfig() *Config
}

// CatalogDistributor pushes signed catalog snapshots to subscribers
// whenever the role catalog changes. Secondary app instances subscribe,
// verify and apply the snapshot instead of re-reading the database.
type CatalogDistributor struct {
	source           CatalogSource
	pub              ed25519.PublicKey
	priv             ed25519.PrivateKey
	rotationInterval time.Duration
	logger           logger.Logger
	notifyCh         chan struct{}
	stopCh           chan struct{}
	subscribers      []CatalogSubscriber
	mu               sync.RWMutex
	started          bool
	wg               sync.WaitGroup
}

// CatalogDistributorOption configures a CatalogDistributor.
type CatalogDistributorOption func(*CatalogDistributor)

// WithSigningKey installs a fixed signing key instead of a generated
// one.
func WithSigningKey(priv ed25519.PrivateKey) CatalogDistributorOption {
	return func(d *CatalogDistributor) {
		if len(priv) == ed25519.PrivateKeySize {
			d.priv = append(ed25519.PrivateKey{}, priv...)
			d.pub = priv.Public().(ed25519.PublicKey)
		}
	}
}

// WithRotationInterval sets how often the signing key is rotated.
func WithRotationInterval(interval time.Duration) CatalogDistributorOption {
	return func(d *CatalogDistributor) {
		if interval > 0 {
			d.rotationInterval = interval
		}
	}
}

// WithDistributorLogger installs a logger on the distributor.
func WithDistributorLogger(l logger.Logger) CatalogDistributorOption {
	return func(d *CatalogDistributor) {
		if l != nil {
			d.logger = l
		}
	}
}

// NewCatalogDistributor builds a distributor over a snapshot source.
func NewCatalogDistributor(source CatalogSource, opts ...CatalogDistributorOption) (*CatalogDistributor, error) {
	if source == nil {
		return nil, fmt.Errorf("%w: catalog source is required", ErrConfig)
	}
	pub, priv, err := ed25519.GenerateKey(rand.Reader)
	if err != nil {
		return nil, fmt.Errorf("generate signing key: %w", err)
	}
	d := &CatalogDistributor{
		source:           source,
		pub:              pub,
		priv:             priv,
		rotationInterval: 24 * time.Hour,
		logger:           logger.NewPhusluLogger(),
		notifyCh:         make(chan struct{}, 1),
		stopCh:           make(chan struct{}),
	}
	for _, opt := range opts {
		opt(d)
	}
	return d, nil
}

// Start launches the distribution loop.
func (d *CatalogDistributor) Start(ctx context.Context) {
	d.mu.Lock()
	if d.started {
		d.mu.Unlock()
		return
	}
	d.started = true
	d.mu.Unlock()

	d.wg.Add(1)
	go func() {
		defer d.wg.Done()
		ticker := time.NewTicker(d.rotationInterval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-d.stopCh:
				return
			case <-d.notifyCh:
				if err := d.distribute(ctx); err != nil {
					d.logger.Error("catalog distribution failed", "error", err.Error())
				}
			case <-ticker.C:
				if err := d.RotateSigningKey(); err != nil {
					d.logger.Error("signing key rotation failed", "error", err.Error())
				}
			}
		}
	}()
}

// Stop shuts the loop down, bounded by ctx.
func (d *CatalogDistributor) Stop(ctx context.Context) error {
	d.mu.Lock()
	if !d.started {
		d.mu.Unlock()
		return nil
	}
	d.started = false
	d.mu.Unlock()

	close(d.stopCh)
	done := make(chan struct{})
	go func() {
		d.wg.Wait()
		close(done)
	}()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-done:
		return nil
	}
}

// NotifyCatalogChange schedules a distribution round. Coalesces when one
// is already pending.
func (d *CatalogDistributor) NotifyCatalogChange() {
	select {
	case d.notifyCh <- struct{}{}:
	default:
	}
}

// Subscribe registers a snapshot consumer.
func (d *CatalogDistributor) Subscribe(sub CatalogSubscriber) {
	if sub == nil {
		return
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	d.subscribers = append(d.subscribers, sub)
}

// RotateSigningKey replaces the signing key pair.
func (d *CatalogDistributor) RotateSigningKey() error {
	pub, priv, err := ed25519.GenerateKey(rand.Reader)
	if err != nil {
		return err
	}
	d.mu.Lock()
	d.priv = priv
	d.pub = pub
	d.mu.Unlock()
	return nil
}

// CurrentPublicKey returns a copy of the active verification key.
func (d *CatalogDistributor) CurrentPublicKey() ed25519.PublicKey {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return append(ed25519.PublicKey(nil), d.pub...)
}

// Distribute signs the current snapshot and delivers it to every
// subscriber immediately, outside the loop. Start/NotifyCatalogChange
// call through here too.
func (d *CatalogDistributor) Distribute(ctx context.Context) error {
	return d.distribute(ctx)
}

func (d *CatalogDistributor) distribute(ctx context.Context) error {
	cfg := d.source.ExportConfig()
	if cfg == nil {
		return fmt.Errorf("%w: source produced no snapshot", ErrConfig)
	}

	d.mu.RLock()
	priv := d.priv
	pub := append(ed25519.PublicKey(nil), d.pub...)
	subs := append([]CatalogSubscriber(nil), d.subscribers...)
	d.mu.RUnlock()

	bundle, err := SignCatalogBundle(priv, cfg)
	if err != nil {
		return err
	}
	bundle.Meta = map[string]string{
		"generated_at": time.Now().UTC().Format(time.RFC3339Nano),
		"signing_key":  base64.StdEncoding.EncodeToString(pub),
	}

	for _, sub := range subs {
		if err := sub.OnCatalog(ctx, pub, bundle); err != nil {
			d.logger.Error("catalog subscriber failed", "error", err.Error())
		}
	}
	return nil
}
