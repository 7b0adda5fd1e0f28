package errors

import (
	"fmt"
	"sort"
	"sync"
)

var (
	registryMu    sync.RWMutex
	errnoRegistry = make(map[int]*Errno)

	knownServices = map[int]bool{
		ServiceCommon:     true,
		ServiceInfraCache: true,
		ServiceInfraMQ:    true,
		ServiceRAG:        true,
	}
)

// Register adds e to the registry and returns it, so codes can be declared
// as package variables. It panics on a duplicate code, an unknown service or
// an out-of-range category: all of these are programming errors caught at
// init time.
func Register(e *Errno) *Errno {
	service, category, _ := ParseCode(e.Code)
	if !knownServices[service] {
		panic(fmt.Sprintf("errno code %d: unknown service %02d", e.Code, service))
	}
	if category > CategoryConfig {
		panic(fmt.Sprintf("errno code %d: unknown category %02d", e.Code, category))
	}

	registryMu.Lock()
	defer registryMu.Unlock()

	if existing, ok := errnoRegistry[e.Code]; ok {
		panic(fmt.Sprintf("errno code %d already registered: %s", e.Code, existing.MessageEN))
	}
	errnoRegistry[e.Code] = e
	return e
}

// Lookup returns the registered Errno for code.
func Lookup(code int) (*Errno, bool) {
	registryMu.RLock()
	defer registryMu.RUnlock()
	e, ok := errnoRegistry[code]
	return e, ok
}

// Codes returns the registered errors of a service ordered by code.
func Codes(service int) []*Errno {
	registryMu.RLock()
	defer registryMu.RUnlock()

	out := make([]*Errno, 0)
	for code, e := range errnoRegistry {
		if code/100000 == service {
			out = append(out, e)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Code < out[j].Code })
	return out
}
