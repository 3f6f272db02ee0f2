package driverelay

import (
	"strings"
	"sync"
)

type UploadQueueFactory func(dsn string, capacity int) (UploadQueue, error)
type ProviderFactory func(dsn string) (ProviderClient, error)

var backendFactoryRegistry = struct {
	mu                sync.RWMutex
	queueFactories    map[string]UploadQueueFactory
	providerFactories map[string]ProviderFactory
}{
	queueFactories:    map[string]UploadQueueFactory{},
	providerFactories: map[string]ProviderFactory{},
}

func RegisterUploadQueueFactory(scheme string, factory UploadQueueFactory) {
	scheme = normalizeBackendScheme(scheme)
	if scheme == "" || factory == nil {
		return
	}
	backendFactoryRegistry.mu.Lock()
	defer backendFactoryRegistry.mu.Unlock()
	backendFactoryRegistry.queueFactories[scheme] = factory
}

func RegisterProviderFactory(scheme string, factory ProviderFactory) {
	scheme = normalizeBackendScheme(scheme)
	if scheme == "" || factory == nil {
		return
	}
	backendFactoryRegistry.mu.Lock()
	defer backendFactoryRegistry.mu.Unlock()
	backendFactoryRegistry.providerFactories[scheme] = factory
}

func lookupUploadQueueFactory(scheme string) (UploadQueueFactory, bool) {
	scheme = normalizeBackendScheme(scheme)
	backendFactoryRegistry.mu.RLock()
	defer backendFactoryRegistry.mu.RUnlock()
	factory, ok := backendFactoryRegistry.queueFactories[scheme]
	return factory, ok
}

func lookupProviderFactory(scheme string) (ProviderFactory, bool) {
	scheme = normalizeBackendScheme(scheme)
	backendFactoryRegistry.mu.RLock()
	defer backendFactoryRegistry.mu.RUnlock()
	factory, ok := backendFactoryRegistry.providerFactories[scheme]
	return factory, ok
}

func normalizeBackendScheme(scheme string) string {
	return strings.ToLower(strings.TrimSpace(scheme))
}
