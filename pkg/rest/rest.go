package rest

import (
	"errors"
	"fmt"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"

	"github.com/macvz/vzvmm/pkg/driver"
	"github.com/macvz/vzvmm/pkg/rest/define"
)

// Service is the restful control surface of the driver. It exposes the
// domain registry and the lifecycle operations over a tcp or unix
// endpoint.
type Service struct {
	Host   string
	Path   string
	Scheme define.ServiceScheme

	driver *driver.Driver
	router *gin.Engine
}

// NewServer creates a new restful service for the given driver.
func NewServer(vmDriver *driver.Driver, endpoint string) (*Service, error) {
	ep, err := define.NewEndpoint(endpoint)
	if err != nil {
		return nil, err
	}
	r := gin.Default()
	s := &Service{
		Host:   ep.Host,
		Path:   ep.Path,
		Scheme: ep.Scheme,
		driver: vmDriver,
		router: r,
	}

	// Handlers for the restful service. This is where endpoints are defined.
	r.GET("/domains", s.listDomains)
	r.POST("/domains", s.createDomain)
	r.GET("/domains/:name", s.inspectDomain)
	r.GET("/domains/:name/state", s.getDomainState)
	r.POST("/domains/:name/state", s.setDomainState)
	return s, nil
}

// Start initiates the already configured gin service
func (s *Service) Start() {
	go func() {
		var err error
		switch s.Scheme {
		case define.TCP:
			err = s.router.Run(s.Host)
		case define.Unix:
			err = s.router.RunUnix(s.Path)
		}
		logrus.Fatal(err)
	}()
}

func domainInfo(vm *driver.Domain) define.DomainInfo {
	state, reason := vm.State()
	info := define.DomainInfo{
		Name:       vm.Name,
		State:      state.String(),
		ID:         vm.ID(),
		Persistent: vm.Persistent,
		Vcpus:      vm.Def.Vcpus,
		MemoryKiB:  vm.Def.MemoryKiB,
	}
	if state == driver.DomainShutoff {
		info.Reason = reason.String()
	}
	return info
}

func errStatus(err error) int {
	switch {
	case errors.Is(err, driver.ErrDomainNotFound):
		return http.StatusNotFound
	case errors.Is(err, driver.ErrDomainExists),
		errors.Is(err, driver.ErrDomainActive),
		errors.Is(err, driver.ErrDomainNotActive):
		return http.StatusConflict
	default:
		return http.StatusInternalServerError
	}
}

// listDomains returns all registered domains
func (s *Service) listDomains(c *gin.Context) {
	infos := []define.DomainInfo{}
	for _, vm := range s.driver.Domains().List() {
		infos = append(infos, domainInfo(vm))
	}
	c.JSON(http.StatusOK, infos)
}

// createDomain registers a new domain from its definition and starts it
func (s *Service) createDomain(c *gin.Context) {
	var req define.CreateRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	if req.Definition == nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "missing domain definition"})
		return
	}

	vm, err := s.driver.CreateAndStart(req.Definition, req.Persistent)
	if err != nil {
		logrus.Errorf("failed to create domain: %v", err)
		c.JSON(errStatus(err), gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusCreated, domainInfo(vm))
}

// inspectDomain returns information about one domain like hw resources
// and state
func (s *Service) inspectDomain(c *gin.Context) {
	vm := s.driver.Domains().FindByName(c.Param("name"))
	if vm == nil {
		c.JSON(http.StatusNotFound, gin.H{"error": driver.ErrDomainNotFound.Error()})
		return
	}
	c.JSON(http.StatusOK, domainInfo(vm))
}

// getDomainState retrieves the current domain state
func (s *Service) getDomainState(c *gin.Context) {
	vm := s.driver.Domains().FindByName(c.Param("name"))
	if vm == nil {
		c.JSON(http.StatusNotFound, gin.H{"error": driver.ErrDomainNotFound.Error()})
		return
	}
	state, _ := vm.State()
	c.JSON(http.StatusOK, gin.H{"state": state.String()})
}

// setDomainState requests a state change on a domain. At this time only
// the following states are valid:
// Start - boot a shut off domain
// Shutdown - ask the guest to shut down cooperatively
// Destroy - force-stop the domain
func (s *Service) setDomainState(c *gin.Context) {
	var req define.StateChangeRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	name := c.Param("name")
	var response error
	switch req.NewState {
	case define.Start:
		response = s.driver.Start(name)
	case define.Shutdown:
		response = s.driver.Shutdown(name)
	case define.Destroy:
		response = s.driver.Destroy(name)
	default:
		eMsg := fmt.Errorf("invalid new state: %s", req.NewState)
		logrus.Error(eMsg)
		c.JSON(http.StatusBadRequest, gin.H{"error": eMsg.Error()})
		return
	}
	if response != nil {
		logrus.Errorf("failed action %s: %q", req.NewState, response)
		c.JSON(errStatus(response), gin.H{"error": response.Error()})
		return
	}
	c.Status(http.StatusAccepted)
}
