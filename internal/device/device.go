// SPDX-License-Identifier: MIT

// Package device implements the UPnP device framework: the
// device/service registry, HTTP routing for description/control/event
// endpoints, action dispatch, and GENA event batching per service.
package device

import (
	"encoding/xml"
	"fmt"
	"io"
	"net/http"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/pmomusic/pmomusicd/internal/gena"
	"github.com/pmomusic/pmomusicd/internal/log"
	"github.com/pmomusic/pmomusicd/internal/soap"
	"github.com/pmomusic/pmomusicd/internal/telemetry"
	"github.com/pmomusic/pmomusicd/internal/upnptype"
)

// ActionHandler dispatches a parsed SOAP action to domain logic and
// returns its output arguments, or a *soap.Fault on failure.
type ActionHandler func(in *soap.Action) ([]soap.Arg, *soap.Fault)

// Action describes one SCPD-advertised action and its dispatch handler.
type Action struct {
	Name       string
	InArgs     []string
	OutArgs    []string
	Handler    ActionHandler
}

// Service is one UPnP service instance (ContentDirectory, AVTransport,
// RenderingControl, ConnectionManager, ...).
type Service struct {
	Type    string // full service type URN, e.g. urn:schemas-upnp-org:service:AVTransport:1
	ID      string // e.g. urn:upnp-org:serviceId:AVTransport
	Name    string // path segment, e.g. "AVTransport"

	Variables map[string]*upnptype.StateValue
	Actions   map[string]Action

	Events *gena.Service
}

// NewService constructs a service with its GENA event table wired to
// emit the union of current event-emitting variable values on first
// subscribe.
func NewService(serviceType, serviceID, name string) *Service {
	s := &Service{
		Type:      serviceType,
		ID:        serviceID,
		Name:      name,
		Variables: make(map[string]*upnptype.StateValue),
		Actions:   make(map[string]Action),
	}
	s.Events = gena.NewService(nil)
	s.Events.InitialState = s.snapshotEventingVariables
	return s
}

func (s *Service) snapshotEventingVariables() map[string]string {
	out := make(map[string]string)
	for name, sv := range s.Variables {
		if !sv.SendEvents {
			continue
		}
		_, wire := sv.Get()
		out[name] = wire
	}
	return out
}

// SetVariable applies a new wire value to a declared state variable,
// recording a GENA change if the value actually changed and the
// variable requests events.
func (s *Service) SetVariable(name, wire string) error {
	sv, ok := s.Variables[name]
	if !ok {
		return fmt.Errorf("device: unknown state variable %q", name)
	}
	_, notify, err := sv.Set(wire)
	if err != nil {
		return err
	}
	if notify {
		s.Events.RecordChange(name, wire)
	}
	return nil
}

// Device owns a set of services and is reachable at
// /device/<type>/<id>/.
type Device struct {
	UDN         string
	Type        string // e.g. urn:schemas-upnp-org:device:MediaServer:1
	FriendlyName string
	Manufacturer string
	ModelName    string

	Services []*Service
}

// Service looks up a service by its path name.
func (d *Device) Service(name string) (*Service, bool) {
	for _, s := range d.Services {
		if s.Name == name {
			return s, true
		}
	}
	return nil, false
}

// Mux builds the chi router serving this device's description,
// control, and event endpoints, rooted at basePath (e.g.
// "/device/mediaserver/<udn>").
func (d *Device) Mux(basePath string) http.Handler {
	r := chi.NewRouter()

	r.Get("/desc.xml", func(w http.ResponseWriter, req *http.Request) {
		w.Header().Set("Content-Type", "text/xml; charset=\"utf-8\"")
		_, _ = w.Write(d.descriptionXML(basePath))
	})

	for _, svc := range d.Services {
		svc := svc
		r.Route("/service/"+svc.Name, func(sr chi.Router) {
			sr.Get("/desc.xml", func(w http.ResponseWriter, req *http.Request) {
				w.Header().Set("Content-Type", "text/xml; charset=\"utf-8\"")
				_, _ = w.Write(svc.scpdXML())
			})
			sr.Post("/control", func(w http.ResponseWriter, req *http.Request) {
				handleControl(w, req, svc)
			})
			sr.MethodFunc("SUBSCRIBE", "/event", func(w http.ResponseWriter, req *http.Request) {
				handleSubscribe(w, req, svc)
			})
			sr.MethodFunc("UNSUBSCRIBE", "/event", func(w http.ResponseWriter, req *http.Request) {
				handleUnsubscribe(w, req, svc)
			})
		})
	}

	return r
}

func handleControl(w http.ResponseWriter, req *http.Request, svc *Service) {
	defer req.Body.Close()
	body, err := io.ReadAll(req.Body)
	if err != nil {
		writeFault(w, &soap.Fault{ErrorCode: soap.ErrCodeInvalidArgs, ErrorDescription: "Invalid Args"})
		return
	}
	action, err := soap.ParseAction(body)
	if err != nil {
		writeFault(w, &soap.Fault{ErrorCode: soap.ErrCodeInvalidArgs, ErrorDescription: "Invalid XML"})
		return
	}

	decl, ok := svc.Actions[action.Name]
	if !ok {
		writeFault(w, &soap.Fault{ErrorCode: soap.ErrCodeInvalidAction, ErrorDescription: "Invalid Action"})
		return
	}

	out, fault := decl.Handler(action)
	telemetry.CountSOAPAction(req.Context(), svc.Type, action.Name, fault != nil)
	if fault != nil {
		writeFault(w, fault)
		return
	}

	resp := soap.BuildResponse(svc.Type, action.Name, out)
	w.Header().Set("Content-Type", "text/xml; charset=\"utf-8\"")
	_, _ = w.Write(resp)
}

func writeFault(w http.ResponseWriter, f *soap.Fault) {
	w.Header().Set("Content-Type", "text/xml; charset=\"utf-8\"")
	w.WriteHeader(http.StatusInternalServerError)
	_, _ = w.Write(soap.BuildFault(f))
}

func handleSubscribe(w http.ResponseWriter, req *http.Request, svc *Service) {
	sid := req.Header.Get("SID")
	callback := extractCallback(req.Header.Get("CALLBACK"))
	timeout := parseTimeout(req.Header.Get("TIMEOUT"))

	sub, err := svc.Events.Subscribe(sid, callback, timeout)
	if err != nil {
		l := log.WithComponent("device")
		l.Debug().Err(err).Msg("subscribe rejected")
		w.WriteHeader(http.StatusPreconditionFailed)
		return
	}

	w.Header().Set("SID", sub.SID)
	w.Header().Set("TIMEOUT", fmt.Sprintf("Second-%d", int(sub.Timeout.Seconds())))
	w.WriteHeader(http.StatusOK)
}

func handleUnsubscribe(w http.ResponseWriter, req *http.Request, svc *Service) {
	sid := req.Header.Get("SID")
	if err := svc.Events.Unsubscribe(sid); err != nil {
		w.WriteHeader(http.StatusPreconditionFailed)
		return
	}
	w.WriteHeader(http.StatusOK)
}

func extractCallback(header string) string {
	// CALLBACK: <http://host:port/path>
	header = strings.TrimSpace(header)
	header = strings.TrimPrefix(header, "<")
	header = strings.TrimSuffix(header, ">")
	return header
}

func parseTimeout(header string) time.Duration {
	const prefix = "Second-"
	if !strings.HasPrefix(header, prefix) {
		return 1800 * time.Second
	}
	n, err := strconv.Atoi(strings.TrimPrefix(header, prefix))
	if err != nil || n <= 0 {
		return 1800 * time.Second
	}
	return time.Duration(n) * time.Second
}

// --- description / SCPD XML generation ---

type descRoot struct {
	XMLName     xml.Name    `xml:"root"`
	Xmlns       string      `xml:"xmlns,attr"`
	SpecVersion specVersion `xml:"specVersion"`
	Device      descDevice  `xml:"device"`
}

type specVersion struct {
	Major int `xml:"major"`
	Minor int `xml:"minor"`
}

type descDevice struct {
	DeviceType   string          `xml:"deviceType"`
	FriendlyName string          `xml:"friendlyName"`
	Manufacturer string          `xml:"manufacturer"`
	ModelName    string          `xml:"modelName"`
	UDN          string          `xml:"UDN"`
	ServiceList  descServiceList `xml:"serviceList"`
}

type descServiceList struct {
	Services []descService `xml:"service"`
}

type descService struct {
	ServiceType string `xml:"serviceType"`
	ServiceID   string `xml:"serviceId"`
	SCPDURL     string `xml:"SCPDURL"`
	ControlURL  string `xml:"controlURL"`
	EventSubURL string `xml:"eventSubURL"`
}

// descriptionXML composes the device description document. Output is
// deterministic across calls: the struct marshal order never varies.
func (d *Device) descriptionXML(basePath string) []byte {
	root := descRoot{
		Xmlns:       "urn:schemas-upnp-org:device-1-0",
		SpecVersion: specVersion{Major: 1, Minor: 0},
		Device: descDevice{
			DeviceType:   d.Type,
			FriendlyName: d.FriendlyName,
			Manufacturer: d.Manufacturer,
			ModelName:    d.ModelName,
			UDN:          "uuid:" + d.UDN,
		},
	}
	for _, svc := range d.Services {
		root.Device.ServiceList.Services = append(root.Device.ServiceList.Services, descService{
			ServiceType: svc.Type,
			ServiceID:   svc.ID,
			SCPDURL:     basePath + "/service/" + svc.Name + "/desc.xml",
			ControlURL:  basePath + "/service/" + svc.Name + "/control",
			EventSubURL: basePath + "/service/" + svc.Name + "/event",
		})
	}
	out, _ := xml.MarshalIndent(root, "", "  ")
	return append([]byte(xml.Header), out...)
}

type scpdRoot struct {
	XMLName         xml.Name        `xml:"scpd"`
	Xmlns           string          `xml:"xmlns,attr"`
	SpecVersion     specVersion     `xml:"specVersion"`
	ActionList      scpdActionList  `xml:"actionList"`
	ServiceStateTable scpdVarTable  `xml:"serviceStateTable"`
}

type scpdActionList struct {
	Actions []scpdAction `xml:"action"`
}

type scpdAction struct {
	Name        string         `xml:"name"`
	ArgumentList scpdArgumentList `xml:"argumentList"`
}

type scpdArgumentList struct {
	Arguments []scpdArgument `xml:"argument"`
}

type scpdArgument struct {
	Name      string `xml:"name"`
	Direction string `xml:"direction"`
}

type scpdVarTable struct {
	Variables []scpdVariable `xml:"stateVariable"`
}

type scpdVariable struct {
	SendEvents string `xml:"sendEvents,attr"`
	Name       string `xml:"name"`
	DataType   string `xml:"dataType"`
}

func (s *Service) scpdXML() []byte {
	root := scpdRoot{
		Xmlns:       "urn:schemas-upnp-org:service-1-0",
		SpecVersion: specVersion{Major: 1, Minor: 0},
	}
	actNames := make([]string, 0, len(s.Actions))
	for name := range s.Actions {
		actNames = append(actNames, name)
	}
	sort.Strings(actNames)
	for _, actName := range actNames {
		act := s.Actions[actName]
		scpdAct := scpdAction{Name: act.Name}
		for _, in := range act.InArgs {
			scpdAct.ArgumentList.Arguments = append(scpdAct.ArgumentList.Arguments, scpdArgument{Name: in, Direction: "in"})
		}
		for _, out := range act.OutArgs {
			scpdAct.ArgumentList.Arguments = append(scpdAct.ArgumentList.Arguments, scpdArgument{Name: out, Direction: "out"})
		}
		root.ActionList.Actions = append(root.ActionList.Actions, scpdAct)
	}
	varNames := make([]string, 0, len(s.Variables))
	for name := range s.Variables {
		varNames = append(varNames, name)
	}
	sort.Strings(varNames)
	for _, name := range varNames {
		sv := s.Variables[name]
		events := "no"
		if sv.SendEvents {
			events = "yes"
		}
		root.ServiceStateTable.Variables = append(root.ServiceStateTable.Variables, scpdVariable{
			SendEvents: events,
			Name:       name,
			DataType:   sv.Type.String(),
		})
	}
	out, _ := xml.MarshalIndent(root, "", "  ")
	return append([]byte(xml.Header), out...)
}
