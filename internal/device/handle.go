package device

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// ErrNoDevice is returned when a handle cannot be resolved to an existing node.
var ErrNoDevice = errors.New("device node not found")

// Handle identifies a physical capture device. Immutable once resolved; the
// node is re-validated on every health check.
type Handle struct {
	Path      string `json:"path"`
	VendorID  string `json:"vendor_id"`
	ProductID string `json:"product_id"`
}

// Resolve validates the handle against the filesystem. The node must exist at
// resolve time; vendor/product identifiers are carried as metadata for
// diagnostics and matched best-effort against sysfs when available.
func Resolve(path, vendorID, productID string) (Handle, error) {
	p := strings.TrimSpace(path)
	if p == "" {
		return Handle{}, fmt.Errorf("empty device path: %w", ErrNoDevice)
	}
	p = filepath.Clean(p)
	if _, err := os.Stat(p); err != nil {
		if os.IsNotExist(err) {
			return Handle{}, fmt.Errorf("device %s: %w", p, ErrNoDevice)
		}
		return Handle{}, fmt.Errorf("device %s: %w", p, err)
	}
	return Handle{Path: p, VendorID: vendorID, ProductID: productID}, nil
}

// Exists reports whether the device node is currently present.
func (h Handle) Exists() bool {
	_, err := os.Stat(h.Path)
	return err == nil
}

// String renders the handle for logs: path plus vendor:product when known.
func (h Handle) String() string {
	if h.VendorID != "" && h.ProductID != "" {
		return fmt.Sprintf("%s (%s:%s)", h.Path, h.VendorID, h.ProductID)
	}
	return h.Path
}
