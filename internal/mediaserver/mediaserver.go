// SPDX-License-Identifier: MIT

// Package mediaserver wires the source plane into the device
// framework's ContentDirectory and ConnectionManager services: it is
// the UPnP MediaServer facade, aggregating
// every registered MusicSource under a single synthetic root and
// dispatching Browse/GetProtocolInfo SOAP actions against them.
package mediaserver

import (
	"context"
	"fmt"
	"sort"
	"strconv"
	"strings"
	"sync"

	"golang.org/x/text/collate"
	"golang.org/x/text/language"

	"github.com/pmomusic/pmomusicd/internal/device"
	"github.com/pmomusic/pmomusicd/internal/didl"
	"github.com/pmomusic/pmomusicd/internal/log"
	"github.com/pmomusic/pmomusicd/internal/soap"
	"github.com/pmomusic/pmomusicd/internal/source"
	"github.com/pmomusic/pmomusicd/internal/upnptype"
)

const rootID = "0"

// SourceProtocolInfo is the protocol list the ConnectionManager
// advertises. It must never be empty; clients reject a MediaServer
// with an empty source list.
var SourceProtocolInfo = []string{
	"http-get:*:audio/flac:*",
	"http-get:*:audio/x-flac:*",
	"http-get:*:application/ogg:*",
	"http-get:*:audio/mpeg:*",
	"http-get:*:audio/mp4:*",
	"http-get:*:audio/wav:*",
}

// Aggregator exposes the registered sources ContentDirectory browses
// over. Each source's root container id becomes a top-level child of
// the synthetic "0" root.
type Aggregator struct {
	mu      sync.RWMutex
	sources map[string]source.MusicSource
	order   []string
}

// NewAggregator constructs an empty aggregator.
func NewAggregator() *Aggregator {
	return &Aggregator{sources: make(map[string]source.MusicSource)}
}

// Register adds s, keyed by s.ID(). Registering the same id twice
// replaces the previous source.
func (a *Aggregator) Register(s source.MusicSource) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if _, exists := a.sources[s.ID()]; !exists {
		a.order = append(a.order, s.ID())
	}
	a.sources[s.ID()] = s
}

// Sources returns a stable-ordered snapshot of registered sources.
func (a *Aggregator) Sources() []source.MusicSource {
	a.mu.RLock()
	defer a.mu.RUnlock()
	out := make([]source.MusicSource, 0, len(a.order))
	for _, id := range a.order {
		out = append(out, a.sources[id])
	}
	return out
}

func (a *Aggregator) byID(id string) (source.MusicSource, bool) {
	a.mu.RLock()
	defer a.mu.RUnlock()
	s, ok := a.sources[id]
	return s, ok
}

// ownerOf returns the source whose namespace objectID falls under, by
// longest-prefix match against each source's id.
func (a *Aggregator) ownerOf(objectID string) (source.MusicSource, bool) {
	a.mu.RLock()
	defer a.mu.RUnlock()
	var best source.MusicSource
	bestLen := -1
	for id, s := range a.sources {
		prefix := id + ":"
		if len(objectID) >= len(prefix) && objectID[:len(prefix)] == prefix && len(prefix) > bestLen {
			best, bestLen = s, len(prefix)
		}
	}
	return best, bestLen >= 0
}

// rootChildren returns each registered source's root container as a
// child of "0", sorted by source id for deterministic Browse output.
func (a *Aggregator) rootChildren(ctx context.Context) ([]didl.Object, error) {
	srcs := a.Sources()
	sort.Slice(srcs, func(i, j int) bool { return srcs[i].ID() < srcs[j].ID() })

	out := make([]didl.Object, 0, len(srcs))
	for _, s := range srcs {
		root, err := s.RootContainer(ctx)
		if err != nil {
			return nil, fmt.Errorf("mediaserver: root container for %s: %w", s.ID(), err)
		}
		root.ParentID = rootID
		out = append(out, root)
	}
	return out, nil
}

// Browse dispatches a ContentDirectory Browse to the synthetic root or
// to the owning source two flags.
func (a *Aggregator) Browse(ctx context.Context, objectID string, metadataOnly bool) (source.BrowseResult, error) {
	if objectID == "" {
		objectID = rootID
	}

	if objectID == rootID {
		if metadataOnly {
			n := 0
			children, err := a.rootChildren(ctx)
			if err != nil {
				return source.BrowseResult{}, err
			}
			n = len(children)
			return source.BrowseResult{Kind: source.KindSingleItem, Item: &didl.Object{
				ID: rootID, ParentID: "-1", Title: "PMOMusic", Class: "object.container", IsContainer: true, ChildCount: &n,
			}}, nil
		}
		children, err := a.rootChildren(ctx)
		if err != nil {
			return source.BrowseResult{}, err
		}
		return filterSelfReference(source.BrowseResult{Kind: source.KindContainers, Containers: children}, objectID), nil
	}

	s, ok := a.ownerOf(objectID)
	if !ok {
		return source.BrowseResult{}, fmt.Errorf("mediaserver: no source owns object id %q", objectID)
	}
	res, err := s.Browse(ctx, objectID)
	if err != nil {
		return source.BrowseResult{}, err
	}
	if metadataOnly {
		return res, nil
	}
	return filterSelfReference(res, objectID), nil
}

// filterSelfReference drops any child whose id equals the container's
// own id, applied unconditionally including Mixed results.
func filterSelfReference(res source.BrowseResult, parentID string) source.BrowseResult {
	res.Containers = dropSelf(res.Containers, parentID)
	res.Items = dropSelf(res.Items, parentID)
	return res
}

func dropSelf(objs []didl.Object, selfID string) []didl.Object {
	out := objs[:0:0]
	for _, o := range objs {
		if o.ID == selfID {
			continue
		}
		out = append(out, o)
	}
	return out
}

// ResolveURI dispatches to the owning source.
func (a *Aggregator) ResolveURI(ctx context.Context, objectID string) (string, error) {
	s, ok := a.ownerOf(objectID)
	if !ok {
		return "", fmt.Errorf("mediaserver: no source owns object id %q", objectID)
	}
	return s.ResolveURI(ctx, objectID)
}

// BuildContentDirectoryService constructs the ContentDirectory device
// service dispatching Browse against agg. systemUpdateID advances
// whenever any registered source's UpdateID advances.
func BuildContentDirectoryService(agg *Aggregator) (*device.Service, error) {
	svc := device.NewService(
		"urn:schemas-upnp-org:service:ContentDirectory:1",
		"urn:upnp-org:serviceId:ContentDirectory",
		"ContentDirectory",
	)

	sysUpdateID, err := upnptype.NewStateValue("SystemUpdateID", upnptype.TypeUI4, "0", true)
	if err != nil {
		return nil, err
	}
	svc.Variables["SystemUpdateID"] = sysUpdateID

	var sysMu sync.Mutex
	var sysCount uint64
	for _, s := range agg.Sources() {
		s.SubscribeToUpdates(func(string) {
			sysMu.Lock()
			defer sysMu.Unlock()
			sysCount++
			_ = svc.SetVariable("SystemUpdateID", strconv.FormatUint(sysCount, 10))
		})
	}

	svc.Actions["Browse"] = device.Action{
		Name:    "Browse",
		InArgs:  []string{"ObjectID", "BrowseFlag", "Filter", "StartingIndex", "RequestedCount", "SortCriteria"},
		OutArgs: []string{"Result", "NumberReturned", "TotalMatches", "UpdateID"},
		Handler: func(in *soap.Action) ([]soap.Arg, *soap.Fault) {
			objectID, _ := in.Get("ObjectID")
			flag, _ := in.Get("BrowseFlag")
			metadataOnly := flag == "BrowseMetadata"

			res, err := agg.Browse(context.Background(), objectID, metadataOnly)
			if err != nil {
				l := log.WithComponent("mediaserver")
				l.Warn().Err(err).Str("object_id", objectID).Msg("browse failed")
				return nil, &soap.Fault{ErrorCode: soap.ErrCodeInvalidArgs, ErrorDescription: "NoSuchObject"}
			}

			sortCriteria, _ := in.Get("SortCriteria")
			objs := browseResultObjects(res)
			if !metadataOnly {
				objs = applySortCriteria(objs, sortCriteria)
			}
			didlXML, err := didl.MarshalObjects(objs)
			if err != nil {
				return nil, &soap.Fault{ErrorCode: soap.ErrCodeOutOfMemory, ErrorDescription: "Internal"}
			}

			_, updateIDWire := sysUpdateID.Get()
			return []soap.Arg{
				{Name: "Result", Value: string(didlXML)},
				{Name: "NumberReturned", Value: strconv.Itoa(len(objs))},
				{Name: "TotalMatches", Value: strconv.Itoa(len(objs))},
				{Name: "UpdateID", Value: updateIDWire},
			}, nil
		},
	}

	return svc, nil
}

// titleCollator orders titles the way a human browsing an album list
// expects ("Track 2" before "Track 10", case folded). Collators are
// stateful, hence the lock.
var (
	titleCollator   = collate.New(language.Und, collate.IgnoreCase, collate.Numeric)
	titleCollatorMu sync.Mutex
)

// applySortCriteria orders objs per the Browse SortCriteria argument.
// Only title sorts ("+dc:title" / "-dc:title") are advertised; any
// other (or empty) criteria preserves the source's own order.
func applySortCriteria(objs []didl.Object, criteria string) []didl.Object {
	criteria = strings.TrimSpace(criteria)
	var descending bool
	switch criteria {
	case "+dc:title", "dc:title":
	case "-dc:title":
		descending = true
	default:
		return objs
	}

	titleCollatorMu.Lock()
	defer titleCollatorMu.Unlock()
	sort.SliceStable(objs, func(i, j int) bool {
		less := titleCollator.CompareString(objs[i].Title, objs[j].Title) < 0
		if descending {
			return !less
		}
		return less
	})
	return objs
}

func browseResultObjects(res source.BrowseResult) []didl.Object {
	switch res.Kind {
	case source.KindSingleItem:
		if res.Item == nil {
			return nil
		}
		return []didl.Object{*res.Item}
	case source.KindContainers:
		return res.Containers
	case source.KindItems:
		return res.Items
	case source.KindMixed:
		out := make([]didl.Object, 0, len(res.Containers)+len(res.Items))
		out = append(out, res.Containers...)
		out = append(out, res.Items...)
		return out
	default:
		return nil
	}
}

// BuildConnectionManagerService constructs the ConnectionManager
// service, publishing a non-empty SourceProtocolInfo.
func BuildConnectionManagerService() (*device.Service, error) {
	svc := device.NewService(
		"urn:schemas-upnp-org:service:ConnectionManager:1",
		"urn:upnp-org:serviceId:ConnectionManager",
		"ConnectionManager",
	)

	protocolInfoWire := joinProtocolInfo(SourceProtocolInfo)
	if protocolInfoWire == "" {
		return nil, fmt.Errorf("mediaserver: SourceProtocolInfo must not be empty")
	}

	sourceProtoInfo, err := upnptype.NewStateValue("SourceProtocolInfo", upnptype.TypeString, protocolInfoWire, true)
	if err != nil {
		return nil, err
	}
	svc.Variables["SourceProtocolInfo"] = sourceProtoInfo

	sinkProtoInfo, err := upnptype.NewStateValue("SinkProtocolInfo", upnptype.TypeString, "", true)
	if err != nil {
		return nil, err
	}
	svc.Variables["SinkProtocolInfo"] = sinkProtoInfo

	curConns, err := upnptype.NewStateValue("CurrentConnectionIDs", upnptype.TypeString, "0", false)
	if err != nil {
		return nil, err
	}
	svc.Variables["CurrentConnectionIDs"] = curConns

	svc.Actions["GetProtocolInfo"] = device.Action{
		Name:    "GetProtocolInfo",
		OutArgs: []string{"Source", "Sink"},
		Handler: func(in *soap.Action) ([]soap.Arg, *soap.Fault) {
			_, src := sourceProtoInfo.Get()
			_, sink := sinkProtoInfo.Get()
			return []soap.Arg{{Name: "Source", Value: src}, {Name: "Sink", Value: sink}}, nil
		},
	}

	svc.Actions["GetCurrentConnectionIDs"] = device.Action{
		Name:    "GetCurrentConnectionIDs",
		OutArgs: []string{"ConnectionIDs"},
		Handler: func(in *soap.Action) ([]soap.Arg, *soap.Fault) {
			_, ids := curConns.Get()
			return []soap.Arg{{Name: "ConnectionIDs", Value: ids}}, nil
		},
	}

	return svc, nil
}

func joinProtocolInfo(infos []string) string {
	out := ""
	for i, p := range infos {
		if i > 0 {
			out += ","
		}
		out += p
	}
	return out
}
