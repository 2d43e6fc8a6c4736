package grants

import (
	"fmt"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"
)

// Store persists granted permissions per plugin.
type Store interface {
	Load() (map[string]GrantSet, error)
	Save(grants map[string]GrantSet) error
	Path() string
}

type fileStoreConfig struct {
	path     string
	dirPerm  os.FileMode
	filePerm os.FileMode
}

func defaultFileStoreConfig() fileStoreConfig {
	return fileStoreConfig{
		path:     filepath.Join(os.Getenv("HOME"), ".pluginhost", "grants.yaml"),
		dirPerm:  0o755,
		filePerm: 0o600,
	}
}

// FileStoreOption configures a FileStore.
type FileStoreOption func(*fileStoreConfig)

// WithPath sets the grants file location.
func WithPath(path string) FileStoreOption {
	return func(c *fileStoreConfig) {
		if path != "" {
			c.path = path
		}
	}
}

// WithFilePermissions sets the grants file mode.
func WithFilePermissions(perm os.FileMode) FileStoreOption {
	return func(c *fileStoreConfig) { c.filePerm = perm }
}

// WithDirPermissions sets the grants directory mode.
func WithDirPermissions(perm os.FileMode) FileStoreOption {
	return func(c *fileStoreConfig) { c.dirPerm = perm }
}

// FileStore keeps grants in a YAML file keyed by plugin id. Grants are
// security decisions, so the file defaults to mode 0600.
type FileStore struct {
	config fileStoreConfig
}

var _ Store = (*FileStore)(nil)

// NewFileStore creates a file-backed grant store.
func NewFileStore(opts ...FileStoreOption) *FileStore {
	cfg := defaultFileStoreConfig()
	for _, opt := range opts {
		opt(&cfg)
	}
	return &FileStore{config: cfg}
}

// Load reads all stored grants. A missing file means no grants.
func (s *FileStore) Load() (map[string]GrantSet, error) {
	data, err := os.ReadFile(s.config.path)
	if os.IsNotExist(err) {
		return map[string]GrantSet{}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("reading grant store: %w", err)
	}

	grants := make(map[string]GrantSet)
	if err := yaml.Unmarshal(data, &grants); err != nil {
		return nil, fmt.Errorf("parsing grant store: %w", err)
	}
	return grants, nil
}

// Save rewrites the grants file.
func (s *FileStore) Save(grants map[string]GrantSet) error {
	if grants == nil {
		grants = map[string]GrantSet{}
	}

	data, err := yaml.Marshal(grants)
	if err != nil {
		return fmt.Errorf("encoding grants: %w", err)
	}

	if err := os.MkdirAll(filepath.Dir(s.config.path), s.config.dirPerm); err != nil {
		return fmt.Errorf("creating grant store directory: %w", err)
	}
	if err := os.WriteFile(s.config.path, data, s.config.filePerm); err != nil {
		return fmt.Errorf("writing grant store: %w", err)
	}
	return nil
}

// Path returns the backing file location.
func (s *FileStore) Path() string {
	return s.config.path
}
