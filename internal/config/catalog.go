package config

import (
	"errors"
	"fmt"
	"strings"
	"sync"
	"sync/atomic"

	"github.com/fsnotify/fsnotify"
	"github.com/spf13/viper"
	"go.uber.org/zap"
)

const (
	ClassificationAlwaysIncluded = "always_included"
	ClassificationPremium        = "premium"
)

// Catalog is the administratively maintained list of purchasable packages.
type Catalog struct {
	Packages []CatalogPackage `mapstructure:"packages"`
}

type CatalogPackage struct {
	Key            string   `mapstructure:"key"`
	Name           string   `mapstructure:"name"`
	Classification string   `mapstructure:"classification"`
	Bundle         bool     `mapstructure:"bundle"`
	OneTime        bool     `mapstructure:"one_time"`
	PriceID        string   `mapstructure:"price_id"`
	Active         *bool    `mapstructure:"active"`
	Capabilities   []string `mapstructure:"capabilities"`
}

func (p CatalogPackage) IsActive() bool {
	return p.Active == nil || *p.Active
}

type CatalogHolder struct {
	current atomic.Value // holds Catalog

	mu        sync.Mutex
	listeners []func(Catalog)
}

func NewCatalogHolder(cfg Config, log *zap.Logger) (*CatalogHolder, error) {
	v := viper.New()
	if path := strings.TrimSpace(cfg.Catalog.Path); path != "" {
		v.SetConfigFile(path)
	} else {
		v.SetConfigName("catalog")
		v.SetConfigType("yml")
		v.AddConfigPath("/etc/gatekeeper")
		v.AddConfigPath(".")
	}
	return newCatalogHolder(v, log)
}

// NewCatalogHolderFromFile loads the catalog from an explicit file path.
func NewCatalogHolderFromFile(path string, log *zap.Logger) (*CatalogHolder, error) {
	v := viper.New()
	v.SetConfigFile(path)
	return newCatalogHolder(v, log)
}

func newCatalogHolder(v *viper.Viper, log *zap.Logger) (*CatalogHolder, error) {
	if log == nil {
		log = zap.NewNop()
	}
	log = log.Named("catalog.config")

	watch := true
	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, err
		}
		log.Warn("catalog file not found, starting with an empty catalog")
		watch = false
	}

	var catalog Catalog
	if err := v.UnmarshalKey("catalog", &catalog); err != nil {
		return nil, err
	}
	if err := ValidateCatalog(catalog); err != nil {
		return nil, err
	}

	holder := &CatalogHolder{}
	holder.current.Store(catalog)

	if watch {
		v.WatchConfig()
		v.OnConfigChange(func(e fsnotify.Event) {
			var updated Catalog
			if err := v.UnmarshalKey("catalog", &updated); err != nil {
				log.Error("catalog reload failed", zap.Error(err))
				return
			}
			if err := ValidateCatalog(updated); err != nil {
				log.Error("invalid catalog ignored", zap.Error(err))
				return
			}
			holder.current.Store(updated)
			log.Info("catalog reloaded", zap.String("file", e.Name), zap.Int("packages", len(updated.Packages)))
			holder.notify(updated)
		})
	}

	return holder, nil
}

func (h *CatalogHolder) Get() Catalog {
	return h.current.Load().(Catalog)
}

// OnReload registers fn to run after every accepted hot reload.
func (h *CatalogHolder) OnReload(fn func(Catalog)) {
	if fn == nil {
		return
	}
	h.mu.Lock()
	h.listeners = append(h.listeners, fn)
	h.mu.Unlock()
}

func (h *CatalogHolder) notify(catalog Catalog) {
	h.mu.Lock()
	listeners := append([]func(Catalog){}, h.listeners...)
	h.mu.Unlock()
	for _, fn := range listeners {
		fn(catalog)
	}
}

func ValidateCatalog(catalog Catalog) error {
	seenKeys := make(map[string]struct{}, len(catalog.Packages))
	seenCapabilities := make(map[string]string)
	for i, pkg := range catalog.Packages {
		key := strings.TrimSpace(pkg.Key)
		if key == "" {
			return fmt.Errorf("catalog.packages[%d].key cannot be empty", i)
		}
		if strings.Contains(key, ",") {
			return fmt.Errorf("catalog package %q: key cannot contain a comma", key)
		}
		if _, ok := seenKeys[key]; ok {
			return fmt.Errorf("catalog package %q is declared twice", key)
		}
		seenKeys[key] = struct{}{}

		switch pkg.Classification {
		case ClassificationAlwaysIncluded, ClassificationPremium:
		default:
			return fmt.Errorf("catalog package %q: unknown classification %q", key, pkg.Classification)
		}
		if pkg.Bundle && pkg.Classification != ClassificationPremium {
			return fmt.Errorf("catalog package %q: only premium packages can be bundles", key)
		}
		if pkg.OneTime && pkg.Classification != ClassificationPremium {
			return fmt.Errorf("catalog package %q: only premium packages can be one-time", key)
		}

		for _, capability := range pkg.Capabilities {
			capability = strings.TrimSpace(capability)
			if capability == "" {
				return fmt.Errorf("catalog package %q: empty capability", key)
			}
			if owner, ok := seenCapabilities[capability]; ok && owner != key {
				return fmt.Errorf("capability %q is mapped to both %q and %q", capability, owner, key)
			}
			seenCapabilities[capability] = key
		}
	}
	return nil
}
