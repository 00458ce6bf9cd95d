package store

import (
	"strings"
	"sync"
)

// Directory holds the contact list in server order. A refetch replaces
// the list wholesale.
type Directory struct {
	mu       sync.RWMutex
	contacts []Contact
}

// NewDirectory creates an empty directory.
func NewDirectory() *Directory {
	return &Directory{}
}

// Replace swaps in a freshly fetched contact list.
func (d *Directory) Replace(contacts []Contact) {
	cp := make([]Contact, len(contacts))
	copy(cp, contacts)
	d.mu.Lock()
	d.contacts = cp
	d.mu.Unlock()
}

// Contacts returns a snapshot copy of the list in server order.
func (d *Directory) Contacts() []Contact {
	d.mu.RLock()
	defer d.mu.RUnlock()
	out := make([]Contact, len(d.contacts))
	copy(out, d.contacts)
	return out
}

// Get returns the contact with the given id, if present.
func (d *Directory) Get(id string) (Contact, bool) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	for _, c := range d.contacts {
		if c.ID == id {
			return c, true
		}
	}
	return Contact{}, false
}

// Search returns contacts whose name or email contains query,
// case-insensitively. An empty query returns the whole list.
func (d *Directory) Search(query string) []Contact {
	query = strings.ToLower(strings.TrimSpace(query))
	if query == "" {
		return d.Contacts()
	}
	d.mu.RLock()
	defer d.mu.RUnlock()
	var out []Contact
	for _, c := range d.contacts {
		if strings.Contains(strings.ToLower(c.FullName), query) ||
			strings.Contains(strings.ToLower(c.Email), query) {
			out = append(out, c)
		}
	}
	return out
}

// Reset clears the directory. Called on logout.
func (d *Directory) Reset() {
	d.mu.Lock()
	d.contacts = nil
	d.mu.Unlock()
}
