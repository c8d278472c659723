// Package jsonapisource is orbit's concrete networked source (spec.md §6):
// it translates record operations into JSON:API HTTP requests and JSON:API
// responses back into transforms, giving the pullable/pushable capability
// protocol (spec.md §4.5) a real wire binding. Grounded on the teacher's
// pkg/client/client.go (typed client, per-request context.WithTimeout,
// wrapped errors) translated from gRPC framing to JSON:API framing.
package jsonapisource

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/rs/zerolog"

	orbit "github.com/orbitkit/orbit-go"
	"github.com/orbitkit/orbit-go/pkg/log"
	"github.com/orbitkit/orbit-go/pkg/query"
	"github.com/orbitkit/orbit-go/pkg/source"
)

const mediaType = "application/vnd.api+json"

// resourceObject is the wire shape of one JSON:API resource.
type resourceObject struct {
	Type          string                     `json:"type"`
	ID            string                     `json:"id,omitempty"`
	Attributes    map[string]any             `json:"attributes,omitempty"`
	Relationships map[string]relationshipDoc `json:"relationships,omitempty"`
}

type relationshipDoc struct {
	Data json.RawMessage `json:"data"`
}

type resourceIdentifier struct {
	Type string `json:"type"`
	ID   string `json:"id"`
}

type document struct {
	Data   json.RawMessage `json:"data,omitempty"`
	Errors []errorObject   `json:"errors,omitempty"`
}

type errorObject struct {
	Status string `json:"status"`
	Title  string `json:"title"`
	Detail string `json:"detail"`
}

// Config configures a jsonapisource.Source.
type Config struct {
	// BaseURL is the API root, e.g. "https://api.example.com".
	BaseURL string
	// HTTPClient defaults to http.DefaultClient.
	HTTPClient *http.Client
	// Timeout bounds each request; spec.md §5 "Network-bound handlers ...
	// accept a per-request timeout; exceeding it fails with NetworkError".
	Timeout time.Duration
}

// Source is a JSON:API-backed orbit source: pushable (sends local
// transforms to the remote) and pullable (fetches remote state as
// transforms to apply locally).
type Source struct {
	*source.Source
	cfg    Config
	logger zerolog.Logger
}

// New returns a jsonapisource.Source named name talking to cfg.BaseURL.
func New(name string, cfg Config) *Source {
	if cfg.HTTPClient == nil {
		cfg.HTTPClient = http.DefaultClient
	}
	if cfg.Timeout == 0 {
		cfg.Timeout = 30 * time.Second
	}
	s := &Source{cfg: cfg, logger: log.WithSourceName(name)}
	s.Source = source.New(name,
		source.WithPushable(s.performPush),
		source.WithPullable(s.performPull),
	)
	return s
}

func (s *Source) url(typ, id string, suffix ...string) string {
	u := s.cfg.BaseURL + "/" + typ
	if id != "" {
		u += "/" + id
	}
	for _, seg := range suffix {
		u += "/" + seg
	}
	return u
}

// do issues an HTTP request, classifying the response per spec.md §7's
// NetworkError/ClientError/ServerError taxonomy. A 2xx with an empty body
// counts as success with a nil document.
func (s *Source) do(ctx context.Context, method, url string, body any) (*document, error) {
	ctx, cancel := context.WithTimeout(ctx, s.cfg.Timeout)
	defer cancel()

	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return nil, &orbit.AssertionError{Message: fmt.Sprintf("jsonapisource: encode request body: %v", err)}
		}
		reader = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, url, reader)
	if err != nil {
		return nil, &orbit.AssertionError{Message: fmt.Sprintf("jsonapisource: build request: %v", err)}
	}
	req.Header.Set("Content-Type", mediaType)
	req.Header.Set("Accept", mediaType)

	resp, err := s.cfg.HTTPClient.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return nil, &orbit.NetworkError{Err: fmt.Errorf("no fetch response within %dms", s.cfg.Timeout.Milliseconds())}
		}
		return nil, &orbit.NetworkError{Err: err}
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, &orbit.NetworkError{Err: err}
	}

	switch {
	case resp.StatusCode >= 200 && resp.StatusCode < 300:
		if len(data) == 0 {
			return nil, nil
		}
		var doc document
		if err := json.Unmarshal(data, &doc); err != nil {
			return nil, &orbit.AssertionError{Message: fmt.Sprintf("jsonapisource: decode response: %v", err)}
		}
		return &doc, nil
	case resp.StatusCode >= 400 && resp.StatusCode < 500:
		return nil, &orbit.ClientError{Status: resp.StatusCode, Message: string(data)}
	default:
		return nil, &orbit.ServerError{Status: resp.StatusCode, Message: string(data)}
	}
}

// verbFor selects the HTTP method and URL for one operation, per spec.md
// §6's verb table.
func (s *Source) verbFor(op orbit.Operation) (method, url string, body any) {
	switch o := op.(type) {
	case orbit.AddRecordOp:
		return http.MethodPost, s.url(o.Record.Type, ""), &document{Data: mustMarshal(toResourceObject(o.Record))}
	case orbit.UpdateRecordOp:
		id := o.Record.Identity()
		return http.MethodPatch, s.url(id.Type, id.ID), &document{Data: mustMarshal(toResourceObject(o.Record))}
	case orbit.RemoveRecordOp:
		return http.MethodDelete, s.url(o.Identity.Type, o.Identity.ID), nil
	case orbit.ReplaceAttributeOp:
		rec := &orbit.Record{Type: o.Identity.Type, ID: o.Identity.ID, Attributes: map[string]any{o.Attribute: o.Value}}
		return http.MethodPatch, s.url(o.Identity.Type, o.Identity.ID), &document{Data: mustMarshal(toResourceObject(rec))}
	case orbit.ReplaceRelatedRecordOp:
		var data json.RawMessage
		if o.RelatedRecord == nil {
			data = []byte("null")
		} else {
			data = mustMarshal(resourceIdentifier{Type: o.RelatedRecord.Type, ID: o.RelatedRecord.ID})
		}
		return http.MethodPatch, s.url(o.Identity.Type, o.Identity.ID, "relationships", o.Relationship), &document{Data: data}
	case orbit.ReplaceRelatedRecordsOp:
		ids := make([]resourceIdentifier, len(o.RelatedRecords))
		for i, id := range o.RelatedRecords {
			ids[i] = resourceIdentifier{Type: id.Type, ID: id.ID}
		}
		return http.MethodPatch, s.url(o.Identity.Type, o.Identity.ID, "relationships", o.Relationship), &document{Data: mustMarshal(ids)}
	case orbit.AddToRelatedRecordsOp:
		data := mustMarshal([]resourceIdentifier{{Type: o.RelatedRecord.Type, ID: o.RelatedRecord.ID}})
		return http.MethodPost, s.url(o.Identity.Type, o.Identity.ID, "relationships", o.Relationship), &document{Data: data}
	case orbit.RemoveFromRelatedRecordsOp:
		data := mustMarshal([]resourceIdentifier{{Type: o.RelatedRecord.Type, ID: o.RelatedRecord.ID}})
		return http.MethodDelete, s.url(o.Identity.Type, o.Identity.ID, "relationships", o.Relationship), &document{Data: data}
	default:
		return "", "", nil
	}
}

func toResourceObject(rec *orbit.Record) resourceObject {
	return resourceObject{Type: rec.Type, ID: rec.ID, Attributes: rec.Attributes}
}

func mustMarshal(v any) json.RawMessage {
	data, err := json.Marshal(v)
	if err != nil {
		panic(err) // only called with values this package constructs itself
	}
	return data
}

// performPush sends transform's operations to the remote in order. When
// the server assigns a different id than the one a local addRecord
// carried, it produces a follow-on transform containing
// replaceKey("remoteId", serverID) plus any attribute diffs the server
// response reported, per spec.md §6 and scenario S6.
func (s *Source) performPush(ctx context.Context, transform *orbit.Transform, hints []*source.FullResponse) ([]*orbit.Transform, error) {
	var followOns []*orbit.Transform

	for _, op := range transform.Operations {
		method, url, body := s.verbFor(op)
		if method == "" {
			continue
		}
		doc, err := s.do(ctx, method, url, body)
		if err != nil {
			s.logger.Error().Err(err).Str("op", string(op.Kind())).Str("url", url).Msg("push operation failed")
			return nil, err
		}

		if add, ok := op.(orbit.AddRecordOp); ok && doc != nil && len(doc.Data) > 0 {
			if follow := reconcileServerID(add.Record, doc.Data); follow != nil {
				followOns = append(followOns, follow)
			}
		}
	}
	return followOns, nil
}

// reconcileServerID builds a replaceKey('remoteId', ...) follow-on
// transform when the server's resource object disagrees with the id the
// client sent.
func reconcileServerID(sent *orbit.Record, serverData json.RawMessage) *orbit.Transform {
	var server resourceObject
	if err := json.Unmarshal(serverData, &server); err != nil {
		return nil
	}
	if server.ID == "" || server.ID == sent.ID {
		return nil
	}
	b := orbit.NewTransformBuilder().ReplaceKey(sent.Identity(), "remoteId", server.ID)
	for attr, val := range server.Attributes {
		if sentVal, ok := sent.Attributes[attr]; !ok || sentVal != val {
			b = b.ReplaceAttribute(sent.Identity(), attr, val)
		}
	}
	return b.Build("", nil)
}

// performPull fetches remote state for q and returns it as a single
// transform of addRecord operations; applied to a cache, each addRecord
// replaces any existing local record of the same identity wholesale.
func (s *Source) performPull(ctx context.Context, q query.Query, hints []*source.FullResponse) ([]*orbit.Transform, error) {
	var url string
	switch q.Kind {
	case query.FindRecord:
		url = s.url(q.Identity.Type, q.Identity.ID)
	case query.FindRecords:
		url = s.url(q.Type, "")
	default:
		return nil, &orbit.AssertionError{Message: "jsonapisource: pull only supports findRecord/findRecords"}
	}

	doc, err := s.do(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, err
	}
	if doc == nil || len(doc.Data) == 0 {
		return nil, nil
	}

	records, err := decodeRecords(doc.Data)
	if err != nil {
		return nil, &orbit.AssertionError{Message: fmt.Sprintf("jsonapisource: decode pulled records: %v", err)}
	}
	if len(records) == 0 {
		return nil, nil
	}

	b := orbit.NewTransformBuilder()
	for _, rec := range records {
		b = b.AddRecord(rec)
	}
	return []*orbit.Transform{b.Build("", nil)}, nil
}

func decodeRecords(data json.RawMessage) ([]*orbit.Record, error) {
	trimmed := bytesTrimLeft(data)
	if len(trimmed) > 0 && trimmed[0] == '[' {
		var resources []resourceObject
		if err := json.Unmarshal(data, &resources); err != nil {
			return nil, err
		}
		out := make([]*orbit.Record, len(resources))
		for i, r := range resources {
			out[i] = &orbit.Record{Type: r.Type, ID: r.ID, Attributes: r.Attributes}
		}
		return out, nil
	}
	var r resourceObject
	if err := json.Unmarshal(data, &r); err != nil {
		return nil, err
	}
	return []*orbit.Record{{Type: r.Type, ID: r.ID, Attributes: r.Attributes}}, nil
}

func bytesTrimLeft(data []byte) []byte {
	i := 0
	for i < len(data) && (data[i] == ' ' || data[i] == '\n' || data[i] == '\t' || data[i] == '\r') {
		i++
	}
	return data[i:]
}
