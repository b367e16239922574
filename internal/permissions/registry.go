package permissions

import (
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"
)

// Tier is the privilege level an operation requires.
type Tier int

const (
	// TierNone operations are open to every caller, anonymous included.
	TierNone Tier = iota
	// TierManager operations require a trusted manager entry for the caller.
	TierManager
	// TierAdmin operations require the identity authority to report a controller.
	TierAdmin
)

func (t Tier) String() string {
	switch t {
	case TierNone:
		return "none"
	case TierManager:
		return "manager"
	case TierAdmin:
		return "admin"
	default:
		return fmt.Sprintf("tier(%d)", int(t))
	}
}

// MarshalText renders the tier by name in JSON listings.
func (t Tier) MarshalText() ([]byte, error) {
	return []byte(t.String()), nil
}

// Operation describes a registry operation and the tier it is gated by.
type Operation struct {
	ID          string `json:"id"`
	Tier        Tier   `json:"tier"`
	Mutates     bool   `json:"mutates"`
	Description string `json:"description"`
}

type operationRegistry struct {
	mu         sync.RWMutex
	operations map[string]*Operation
}

var globalRegistry = &operationRegistry{
	operations: make(map[string]*Operation),
}

var (
	errNilOperation = errors.New("operation: nil definition")
	errEmptyID      = errors.New("operation: id is required")
	errDuplicateID  = errors.New("operation: already registered")
	errInvalidTier  = errors.New("operation: invalid tier")

	// ErrUnknownOperation indicates a lookup for an operation that was never registered.
	ErrUnknownOperation = errors.New("operation: unknown operation")
)

// Register adds an operation definition to the global registry.
func Register(op *Operation) error {
	if op == nil {
		return errNilOperation
	}

	id := strings.TrimSpace(op.ID)
	if id == "" {
		return errEmptyID
	}
	if op.Tier < TierNone || op.Tier > TierAdmin {
		return fmt.Errorf("%w: %s", errInvalidTier, id)
	}

	def := *op
	def.ID = id

	globalRegistry.mu.Lock()
	defer globalRegistry.mu.Unlock()

	if _, exists := globalRegistry.operations[id]; exists {
		return fmt.Errorf("%w: %s", errDuplicateID, id)
	}

	globalRegistry.operations[id] = &def
	return nil
}

// Get returns a copy of the operation definition when registered.
func Get(id string) (Operation, bool) {
	globalRegistry.mu.RLock()
	defer globalRegistry.mu.RUnlock()

	op, ok := globalRegistry.operations[id]
	if !ok {
		return Operation{}, false
	}
	return *op, true
}

// All returns every registered operation ordered by ID.
func All() []Operation {
	globalRegistry.mu.RLock()
	defer globalRegistry.mu.RUnlock()

	out := make([]Operation, 0, len(globalRegistry.operations))
	for _, op := range globalRegistry.operations {
		out = append(out, *op)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// ByTier gathers the operations gated by the given tier.
func ByTier(tier Tier) []Operation {
	var out []Operation
	for _, op := range All() {
		if op.Tier == tier {
			out = append(out, op)
		}
	}
	return out
}

// remove deletes a registration. Intended for testing only.
func remove(id string) {
	globalRegistry.mu.Lock()
	defer globalRegistry.mu.Unlock()
	delete(globalRegistry.operations, id)
}
