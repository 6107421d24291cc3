package define

import (
	"errors"
	"fmt"
	"net/url"
	"strings"

	"github.com/macvz/vzvmm/pkg/config"
)

// DomainInfo is the wire representation of one registered domain.
type DomainInfo struct {
	Name       string `json:"name"`
	State      string `json:"state"`
	Reason     string `json:"reason,omitempty"`
	ID         int64  `json:"id"`
	Persistent bool   `json:"persistent"`
	Vcpus      uint   `json:"vcpus"`
	MemoryKiB  uint64 `json:"memoryKiB"`
}

// CreateRequest asks the driver to register and start a new domain.
type CreateRequest struct {
	Definition *config.Domain `json:"definition"`
	Persistent bool           `json:"persistent,omitempty"`
}

// StateChange is a requested domain state transition.
type StateChange string

const (
	// Start boots a shut off domain.
	Start StateChange = "Start"
	// Shutdown asks the guest to shut down cooperatively.
	Shutdown StateChange = "Shutdown"
	// Destroy force-stops the domain.
	Destroy StateChange = "Destroy"
)

// StateChangeRequest is the body of a state change POST.
type StateChangeRequest struct {
	NewState StateChange `json:"newState"`
}

type ServiceScheme int

const (
	TCP ServiceScheme = iota
	Unix
	None
)

type Endpoint struct {
	Host   string
	Path   string
	Scheme ServiceScheme
}

func NewEndpoint(input string) (*Endpoint, error) {
	uri, err := parseRestfulURI(input)
	if err != nil {
		return nil, err
	}
	scheme, err := toRestScheme(uri.Scheme)
	if err != nil {
		return nil, err
	}
	return &Endpoint{
		Host:   uri.Host,
		Path:   uri.Path,
		Scheme: scheme,
	}, nil
}

func (ep *Endpoint) ToCmdLine() ([]string, error) {
	args := []string{"--restful-uri"}
	switch ep.Scheme {
	case Unix:
		args = append(args, fmt.Sprintf("unix://%s", ep.Path))
	case TCP:
		args = append(args, fmt.Sprintf("tcp://%s%s", ep.Host, ep.Path))
	case None:
		return []string{}, nil
	default:
		return []string{}, errors.New("invalid endpoint scheme")
	}
	return args, nil
}

// parseRestfulURI validates the input URI and returns an URL object
func parseRestfulURI(inputURI string) (*url.URL, error) {
	restURI, err := url.ParseRequestURI(inputURI)
	if err != nil {
		return nil, err
	}
	scheme, err := toRestScheme(restURI.Scheme)
	if err != nil {
		return nil, err
	}
	if scheme == TCP && len(restURI.Host) < 1 {
		return nil, errors.New("invalid TCP uri: missing host")
	}
	if scheme == TCP && len(restURI.Path) > 0 {
		return nil, errors.New("invalid TCP uri: path is forbidden")
	}
	if scheme == TCP && restURI.Port() == "" {
		return nil, errors.New("invalid TCP uri: missing port")
	}
	if scheme == Unix && len(restURI.Path) < 1 {
		return nil, errors.New("invalid unix uri: missing path")
	}
	if scheme == Unix && len(restURI.Host) > 0 {
		return nil, errors.New("invalid unix uri: host is forbidden")
	}
	return restURI, err
}

// toRestScheme converts a string to a ServiceScheme
func toRestScheme(s string) (ServiceScheme, error) {
	switch strings.ToUpper(s) {
	case "NONE":
		return None, nil
	case "UNIX":
		return Unix, nil
	case "TCP":
		return TCP, nil
	}
	return None, fmt.Errorf("invalid scheme %s", s)
}
