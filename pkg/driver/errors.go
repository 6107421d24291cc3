package driver

import "errors"

var (
	// ErrDomainNotFound is returned when no domain with the requested
	// name or id is registered.
	ErrDomainNotFound = errors.New("domain not found")
	// ErrDomainExists is returned when creating a domain whose name
	// is already registered.
	ErrDomainExists = errors.New("domain already exists")
	// ErrDomainActive is returned when starting a domain which is not
	// shut off.
	ErrDomainActive = errors.New("domain is already active")
	// ErrDomainNotActive is returned when stopping a domain which is
	// not running.
	ErrDomainNotActive = errors.New("domain is not active")
)
