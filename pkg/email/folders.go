package email

import (
	"fmt"
	"strings"
	"sync"
)

// FolderRegistry keeps per-user folder names in memory. It does not create
// mailboxes on the mail server and its contents are lost on restart.
type FolderRegistry struct {
	mu      sync.Mutex
	folders map[string][]string
}

// NewFolderRegistry creates an empty registry
func NewFolderRegistry() *FolderRegistry {
	return &FolderRegistry{folders: make(map[string][]string)}
}

// Create appends name to the user's folders and returns the updated list.
// Registering an existing name is a no-op.
func (r *FolderRegistry) Create(username, name string) ([]string, error) {
	name = strings.TrimSpace(name)
	if username == "" {
		return nil, fmt.Errorf("%w: username is required", ErrInvalidArgument)
	}
	if name == "" {
		return nil, fmt.Errorf("%w: folder name is required", ErrInvalidArgument)
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	existing := r.folders[username]
	for _, f := range existing {
		if f == name {
			return append([]string(nil), existing...), nil
		}
	}
	r.folders[username] = append(existing, name)
	return append([]string(nil), r.folders[username]...), nil
}

// List returns a copy of the user's folder names
func (r *FolderRegistry) List(username string) []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string{}, r.folders[username]...)
}
