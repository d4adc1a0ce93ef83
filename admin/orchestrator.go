package admin

import (
	"fmt"
	"sync"
)

// ServiceOrchestrator starts, stops, and purges local service instances as
// circuits transition through their lifecycle. Supported service types are a
// runtime capability check rather than a build-time branch.
type ServiceOrchestrator interface {
	// Supports reports whether serviceType can be started locally.
	Supports(serviceType string) bool
	// InitializeService starts a service instance for a circuit. Called only
	// for services whose allowed node is the local node.
	InitializeService(circuitID string, svc Service) error
	// StopService stops a running service instance.
	StopService(circuitID string, svc Service) error
	// PurgeService deletes all local state for a service. Only called for
	// circuits that are no longer Active.
	PurgeService(circuitID string, svc Service) error
}

// ServiceFactory starts and stops one kind of local service instance.
type ServiceFactory interface {
	Start(circuitID string, svc Service) error
	Stop(circuitID string, svc Service) error
	Purge(circuitID string, svc Service) error
}

// LocalServiceOrchestrator is the reference ServiceOrchestrator. Access is
// serialised by a mutex so start/stop/purge never interleave for the same
// process. The intent is recorded in the store before the factory call and
// cleared after it, and the lock is held for the whole operation, factory
// call included, so a slow factory blocks every other start/stop/purge
// until it returns.
type LocalServiceOrchestrator struct {
	mu sync.Mutex

	store     AdminStore
	factories map[string]ServiceFactory
}

// NewLocalServiceOrchestrator constructs an orchestrator backed by the given
// store (for intent bookkeeping) and the given service-type factories.
func NewLocalServiceOrchestrator(store AdminStore, factories map[string]ServiceFactory) *LocalServiceOrchestrator {
	if factories == nil {
		factories = make(map[string]ServiceFactory)
	}
	return &LocalServiceOrchestrator{store: store, factories: factories}
}

// Register adds or replaces the factory for a service type.
func (o *LocalServiceOrchestrator) Register(serviceType string, f ServiceFactory) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.factories[serviceType] = f
}

func (o *LocalServiceOrchestrator) Supports(serviceType string) bool {
	o.mu.Lock()
	defer o.mu.Unlock()
	_, ok := o.factories[serviceType]
	return ok
}

func (o *LocalServiceOrchestrator) InitializeService(circuitID string, svc Service) error {
	o.mu.Lock()
	defer o.mu.Unlock()
	f, ok := o.factories[svc.ServiceType]
	if !ok {
		return fmt.Errorf("admin: unsupported service type %q", svc.ServiceType)
	}
	if o.store != nil {
		_ = o.store.RecordServiceIntent(circuitID, svc.ServiceID, "start")
	}
	err := f.Start(circuitID, svc)
	if o.store != nil {
		_ = o.store.ClearServiceIntent(circuitID, svc.ServiceID)
	}
	return err
}

func (o *LocalServiceOrchestrator) StopService(circuitID string, svc Service) error {
	o.mu.Lock()
	defer o.mu.Unlock()
	f, ok := o.factories[svc.ServiceType]
	if !ok {
		return nil
	}
	if o.store != nil {
		_ = o.store.RecordServiceIntent(circuitID, svc.ServiceID, "stop")
	}
	err := f.Stop(circuitID, svc)
	if o.store != nil {
		_ = o.store.ClearServiceIntent(circuitID, svc.ServiceID)
	}
	return err
}

func (o *LocalServiceOrchestrator) PurgeService(circuitID string, svc Service) error {
	o.mu.Lock()
	defer o.mu.Unlock()
	f, ok := o.factories[svc.ServiceType]
	if !ok {
		return nil
	}
	if o.store != nil {
		_ = o.store.RecordServiceIntent(circuitID, svc.ServiceID, "purge")
	}
	err := f.Purge(circuitID, svc)
	if o.store != nil {
		_ = o.store.ClearServiceIntent(circuitID, svc.ServiceID)
	}
	return err
}

// EchoServiceFactory is a trivial ServiceFactory used by tests and
// end-to-end scenarios (service type "echo").
type EchoServiceFactory struct {
	mu      sync.Mutex
	Running map[string]bool
}

// NewEchoServiceFactory constructs an EchoServiceFactory.
func NewEchoServiceFactory() *EchoServiceFactory {
	return &EchoServiceFactory{Running: make(map[string]bool)}
}

func (f *EchoServiceFactory) key(circuitID string, svc Service) string {
	return circuitID + "/" + svc.ServiceID
}

func (f *EchoServiceFactory) Start(circuitID string, svc Service) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.Running[f.key(circuitID, svc)] = true
	return nil
}

func (f *EchoServiceFactory) Stop(circuitID string, svc Service) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.Running, f.key(circuitID, svc))
	return nil
}

func (f *EchoServiceFactory) Purge(circuitID string, svc Service) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.Running, f.key(circuitID, svc))
	return nil
}

// IsRunning reports whether the service with the given id is currently
// started on the circuit.
func (f *EchoServiceFactory) IsRunning(circuitID, serviceID string) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.Running[f.key(circuitID, Service{ServiceID: serviceID})]
}
