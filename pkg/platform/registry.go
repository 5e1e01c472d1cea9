package platform

import (
	"context"
	"strings"

	"github.com/google/go-containerregistry/pkg/authn"
	"github.com/google/go-containerregistry/pkg/name"
	"github.com/google/go-containerregistry/pkg/v1/remote"
)

// RegistryProber fetches OCI image configs straight from the registry. Both
// adapters embed it so user detection behaves the same on every backend.
type RegistryProber struct {
	keychain authn.Keychain
}

// NewRegistryProber returns a prober using the ambient docker keychain.
func NewRegistryProber() *RegistryProber {
	return &RegistryProber{keychain: authn.DefaultKeychain}
}

// PullImageConfig resolves the image reference and returns its config. The
// default user falls back to "root" when the image leaves USER unset, since
// boot scripts need a home directory to install the SSH key into.
func (p *RegistryProber) PullImageConfig(ctx context.Context, image string) (*ImageConfig, error) {
	ref, err := name.ParseReference(image)
	if err != nil {
		return nil, NewError(KindPermanent, "registry.parse", err)
	}

	img, err := remote.Image(ref, remote.WithContext(ctx), remote.WithAuthFromKeychain(p.keychain))
	if err != nil {
		return nil, NewError(KindTransient, "registry.fetch", err)
	}

	cfg, err := img.ConfigFile()
	if err != nil {
		return nil, NewError(KindTransient, "registry.config", err)
	}

	user := cfg.Config.User
	// Strip an optional group ("user:group") and numeric UIDs stay as-is.
	if i := strings.IndexByte(user, ':'); i >= 0 {
		user = user[:i]
	}
	if user == "" {
		user = "root"
	}
	return &ImageConfig{User: user}, nil
}
