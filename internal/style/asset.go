// Package style describes the optional style definition imported into the
// table site before a table is rendered.
package style

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"

	jsoniter "github.com/json-iterator/go"
	"github.com/mitchellh/go-homedir"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

var (
	ErrNoAsset      = errors.New("no style asset configured")
	ErrAssetMissing = errors.New("style asset file not found")
	ErrAssetInvalid = errors.New("style asset is not valid JSON")
)

// Asset is a style file on disk plus the style name to activate after the
// import. It is immutable and safe to share between concurrent requests.
type Asset struct {
	path string
	name string
}

// New returns an asset for path with "~" expanded and the path made
// absolute, since the browser resolves upload paths against its own
// working directory. The file is not required to exist yet; Verify reports
// that at use time so a missing asset degrades a request instead of
// failing startup.
func New(path, name string) (*Asset, error) {
	if path == "" {
		return nil, ErrNoAsset
	}
	expanded, err := homedir.Expand(path)
	if err != nil {
		return nil, fmt.Errorf("expanding style asset path %q: %w", path, err)
	}
	abs, err := filepath.Abs(expanded)
	if err != nil {
		return nil, fmt.Errorf("resolving style asset path %q: %w", path, err)
	}
	return &Asset{path: abs, name: name}, nil
}

// Path is the absolute location of the style file.
func (a *Asset) Path() string { return a.path }

// Name is the style to select once imported. Empty means keep whatever the
// import activates.
func (a *Asset) Name() string { return a.name }

// Verify checks the file is a readable JSON document.
func (a *Asset) Verify() error {
	if a == nil {
		return ErrNoAsset
	}
	data, err := os.ReadFile(a.path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return fmt.Errorf("%w: %s", ErrAssetMissing, a.path)
		}
		return fmt.Errorf("reading style asset: %w", err)
	}
	if !json.Valid(data) {
		return fmt.Errorf("%w: %s", ErrAssetInvalid, a.path)
	}
	return nil
}

func (a *Asset) String() string {
	if a == nil {
		return "<none>"
	}
	if a.name == "" {
		return a.path
	}
	return fmt.Sprintf("%s (%s)", a.path, a.name)
}
