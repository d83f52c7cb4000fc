// Package web provides a minimal nginx web service.
package web

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/signalsfoundry/inetemu/core"
	"github.com/signalsfoundry/inetemu/layers"
	"github.com/signalsfoundry/inetemu/model"
)

// ServiceName is the layer name of the web service.
const ServiceName = "WebService"

const (
	IndexPath      = "/var/www/html/index.html"
	SiteConfigPath = "/etc/nginx/sites-available/default"
	DefaultPort    = 80
	DefaultIndex   = "<h1>{nodeName} at {asn}!</h1>"
)

// Server is one nginx instance.
type Server struct {
	port  int
	index string
}

// SetPort sets the listen port.
func (s *Server) SetPort(port int) *Server {
	s.port = port
	return s
}

func (s *Server) Port() int { return s.port }

// SetIndexContent sets the body of index.html. "{nodeName}" and "{asn}" are
// replaced with the hosting node's name and AS number.
func (s *Server) SetIndexContent(content string) *Server {
	s.index = content
	return s
}

func (s *Server) IndexContent() string { return s.index }

// Service is the web service layer.
type Service struct {
	*core.Service[*Server]
}

// New returns an empty web service.
func New() *Service {
	w := &Service{}
	w.Service = core.NewService[*Server](ServiceName, core.ServiceHooks[*Server]{
		NewServer:     func(string) *Server { return &Server{port: DefaultPort, index: DefaultIndex} },
		InstallServer: install,
	})
	w.AddDependency(layers.BaseName, false, false)
	return w
}

func install(_ *core.Emulator, srv *Server, node *model.Node) error {
	if srv.port <= 0 || srv.port > 65535 {
		return fmt.Errorf("%w: web port %d", core.ErrConfiguration, srv.port)
	}
	index := strings.NewReplacer("{nodeName}", node.Name(), "{asn}", strconv.Itoa(node.ASN())).Replace(srv.index)

	node.AddSoftware("nginx-light")
	node.SetFile(IndexPath, index)
	node.SetFile(SiteConfigPath, fmt.Sprintf(
		"server {\n    listen %d;\n    root /var/www/html;\n    index index.html;\n    server_name _;\n    location / {\n        try_files $uri $uri/ =404;\n    }\n}\n",
		srv.port))
	node.AppendStartCommand("service nginx start", false)
	return nil
}

// Merger unions the installs of two web services.
type Merger struct{}

func (Merger) Name() string     { return "DefaultWebServiceMerger" }
func (Merger) TypeName() string { return ServiceName }

func (Merger) Merge(a, b core.Layer) (core.Layer, error) {
	wa, ok := a.(*Service)
	if !ok {
		return nil, fmt.Errorf("%w: %T", core.ErrLayerType, a)
	}
	wb, ok := b.(*Service)
	if !ok {
		return nil, fmt.Errorf("%w: %T", core.ErrLayerType, b)
	}
	out := New()
	if err := core.AdoptAll(out.Service, wa.Service, wb.Service); err != nil {
		return nil, err
	}
	return out, nil
}
