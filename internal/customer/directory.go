// Package customer supplies customer context to routing conditions and
// priority boosts.
package customer

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/dennisdiepolder/monti/contactcore/internal/types"
)

// ErrNotFound is returned for unknown customers
var ErrNotFound = errors.New("customer not found")

// Directory is the customer context collaborator
type Directory interface {
	GetContext(ctx context.Context, customerID string) (*types.CustomerContext, error)
}

// StaticDirectory serves customer contexts loaded from configuration
type StaticDirectory struct {
	mu        sync.RWMutex
	customers map[string]types.CustomerContext
}

// NewStaticDirectory creates a directory holding customers
func NewStaticDirectory(customers []types.CustomerContext) *StaticDirectory {
	d := &StaticDirectory{}
	d.Replace(customers)
	return d
}

// Replace swaps the full customer set, used on ruleset reload
func (d *StaticDirectory) Replace(customers []types.CustomerContext) {
	m := make(map[string]types.CustomerContext, len(customers))
	for _, c := range customers {
		m[c.CustomerID] = c
	}
	d.mu.Lock()
	d.customers = m
	d.mu.Unlock()
}

// Put adds or updates one customer
func (d *StaticDirectory) Put(c types.CustomerContext) {
	d.mu.Lock()
	d.customers[c.CustomerID] = c
	d.mu.Unlock()
}

// GetContext returns a copy of the customer's context
func (d *StaticDirectory) GetContext(ctx context.Context, customerID string) (*types.CustomerContext, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	d.mu.RLock()
	c, ok := d.customers[customerID]
	d.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, customerID)
	}
	return &c, nil
}

// Len returns the number of known customers
func (d *StaticDirectory) Len() int {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return len(d.customers)
}
