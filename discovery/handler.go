package discovery

import (
	"encoding/json"
	"fmt"
	"net/http"
	"strings"

	"github.com/edgerpc/edgerpc"
	"github.com/edgerpc/edgerpc/dispatch"
	"github.com/edgerpc/edgerpc/registry"
)

// standardCollectionOps are the CRUD-style action names the aggregate
// collections document checks for under each collection (spec.md §4.6).
var standardCollectionOps = []string{"list", "get", "create", "update", "delete"}

// A Handler answers GET (and method-invoking POST) requests on the
// canonical discovery path, grounded on a Registry for its content.
type Handler struct {
	reg  *registry.Registry
	disp *dispatch.Engine
	opts *Options
}

// New returns a discovery Handler serving reg's content, dispatching
// POST-to-method invocations through disp.
func New(reg *registry.Registry, disp *dispatch.Engine, opts *Options) *Handler {
	return &Handler{reg: reg, disp: disp, opts: opts}
}

// ServeHTTP implements http.Handler. It is mounted at the canonical path
// and every descendant of it (spec.md §4.6).
func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if strings.Contains(r.URL.Path, "..") {
		writeJSON(w, http.StatusBadRequest, ErrorDocument{
			Type: "RPCError", Error: "invalid_request", Message: "path traversal is not permitted",
		})
		return
	}

	tail := h.trimToTail(r.URL.Path)

	if r.Method == http.MethodPost && tail != "" {
		h.invoke(w, r, tail)
		return
	}

	wantHTML := negotiatesHTML(r)

	switch {
	case tail == "":
		h.serveCatalog(w, r, wantHTML)
	case tail == h.opts.root()+".collections.list":
		h.serveCollections(w, r, wantHTML)
	default:
		h.serveNameTarget(w, r, tail, wantHTML)
	}
}

// trimToTail strips the leading "/{root}" (and any extra leading slash)
// from path, returning the remaining dotted-name segment, or "" for the
// bare canonical path.
func (h *Handler) trimToTail(path string) string {
	prefix := "/" + h.opts.root()
	trimmed := strings.TrimPrefix(path, prefix)
	return strings.Trim(trimmed, "/")
}

func (h *Handler) serveNameTarget(w http.ResponseWriter, r *http.Request, name string, html bool) {
	parts := strings.Split(name, ".")
	if len(parts) < 2 || parts[0] != h.opts.root() {
		h.serveUnknown(w, r, name, html)
		return
	}
	if len(parts) == 2 {
		h.serveNamespace(w, r, parts[1], html)
		return
	}
	if desc, ok := h.reg.Get(name); ok {
		h.serveMethod(w, r, name, desc, html)
		return
	}
	h.serveUnknown(w, r, name, html)
}

func (h *Handler) serveCatalog(w http.ResponseWriter, r *http.Request, html bool) {
	base := baseURL(r)
	root := h.opts.root()

	byNS := h.reg.ListByNamespace()
	var refs []NamespaceRef
	total := 0
	for _, ns := range h.reg.Namespaces() {
		n := len(byNS[ns])
		total += n
		refs = append(refs, NamespaceRef{
			Namespace: ns,
			Href:      fmt.Sprintf("%s/%s/%s.%s", base, root, root, ns),
			Methods:   n,
		})
	}

	wsURL := strings.Replace(base, "http://", "ws://", 1)
	wsURL = strings.Replace(wsURL, "https://", "wss://", 1)

	doc := CatalogDocument{
		ID:          fmt.Sprintf("%s/%s", base, root),
		Type:        "RPCSchema",
		Namespaces:  refs,
		MethodCount: total,
		Links: []Link{
			{Rel: "self", Href: fmt.Sprintf("%s/%s", base, root)},
			{Rel: "collections", Href: fmt.Sprintf("%s/%s/%s.collections.list", base, root, root)},
			{Rel: "connection", Href: fmt.Sprintf("%s/%s", wsURL, root), Title: "WebSocket upgrade"},
		},
	}
	renderDoc(w, http.StatusOK, doc, html)
}

func (h *Handler) serveNamespace(w http.ResponseWriter, r *http.Request, ns string, html bool) {
	names := h.reg.List(ns)
	if len(names) == 0 {
		h.serveUnknown(w, r, h.opts.root()+"."+ns, html)
		return
	}
	base := baseURL(r)
	root := h.opts.root()

	var methods []MethodRef
	for _, name := range names {
		desc, _ := h.reg.Get(name)
		var desc0 string
		if desc != nil {
			desc0 = desc.Description
		}
		methods = append(methods, MethodRef{
			Name:        edgerpc.Action(name),
			FullName:    name,
			Href:        fmt.Sprintf("%s/%s/%s", base, root, name),
			Description: desc0,
		})
	}

	doc := NamespaceDocument{
		ID:        fmt.Sprintf("%s/%s/%s.%s", base, root, root, ns),
		Type:      "RPCNamespace",
		Namespace: ns,
		Methods:   methods,
		Links: []Link{
			{Rel: "self", Href: fmt.Sprintf("%s/%s/%s.%s", base, root, root, ns)},
			{Rel: "parent", Href: fmt.Sprintf("%s/%s", base, root)},
		},
	}
	renderDoc(w, http.StatusOK, doc, html)
}

func (h *Handler) serveMethod(w http.ResponseWriter, r *http.Request, name string, desc *registry.Descriptor, html bool) {
	base := baseURL(r)
	root := h.opts.root()
	ns := edgerpc.Namespace(name)

	var params []ParamDoc
	for _, p := range desc.Params {
		params = append(params, ParamDoc{
			Name: p.Name, Type: p.Type, Required: p.Required,
			Default: p.Default, Description: p.Description,
		})
	}

	links := []Link{
		{Rel: "self", Href: fmt.Sprintf("%s/%s/%s", base, root, name)},
		{Rel: "parent", Href: fmt.Sprintf("%s/%s/%s.%s", base, root, root, ns)},
		{Rel: "invoke", Href: fmt.Sprintf("%s/%s/%s", base, root, name), Method: http.MethodPost},
	}
	for _, sibling := range h.reg.List(ns) {
		if sibling != name {
			links = append(links, Link{Rel: "related", Href: fmt.Sprintf("%s/%s/%s", base, root, sibling), Title: sibling})
		}
	}

	doc := MethodDocument{
		ID:          fmt.Sprintf("%s/%s/%s", base, root, name),
		Type:        "RPCMethod",
		Name:        name,
		Description: desc.Description,
		Params:      params,
		Returns:     desc.Returns,
		Example: &Example{
			Request:  edgerpc.Request{ID: "example-1", Method: name},
			Response: edgerpc.Response{ID: strPtr("example-1")},
		},
		Links: links,
	}
	renderDoc(w, http.StatusOK, doc, html)
}

func (h *Handler) serveCollections(w http.ResponseWriter, r *http.Request, html bool) {
	base := baseURL(r)
	root := h.opts.root()

	var entries []CollectionEntry
	for _, ns := range h.reg.Namespaces() {
		var ops []Link
		for _, op := range standardCollectionOps {
			full := fmt.Sprintf("%s.%s.%s", root, ns, op)
			if h.reg.Exists(full) {
				ops = append(ops, Link{Rel: op, Href: fmt.Sprintf("%s/%s/%s", base, root, full), Method: http.MethodPost})
			}
		}
		if len(ops) > 0 {
			entries = append(entries, CollectionEntry{Name: ns, Operations: ops})
		}
	}

	doc := CollectionDocument{
		ID:          fmt.Sprintf("%s/%s/%s.collections.list", base, root, root),
		Type:        "RPCCollections",
		Collections: entries,
		Links:       []Link{{Rel: "self", Href: fmt.Sprintf("%s/%s/%s.collections.list", base, root, root)}, {Rel: "parent", Href: fmt.Sprintf("%s/%s", base, root)}},
	}
	renderDoc(w, http.StatusOK, doc, html)
}

func (h *Handler) serveUnknown(w http.ResponseWriter, r *http.Request, target string, html bool) {
	doc := ErrorDocument{
		Type:        "RPCError",
		Error:       "not_found",
		Message:     fmt.Sprintf("no discovery target named %q", target),
		Suggestions: suggest(target, h.reg.List("")),
	}
	renderDoc(w, http.StatusNotFound, doc, html)
}

// invoke implements the POST-to-method-doc alternate invocation form: the
// body is parsed as params, dispatched, and the bare result (or a 500 error
// body) is returned (spec.md §4.6).
func (h *Handler) invoke(w http.ResponseWriter, r *http.Request, name string) {
	if _, ok := h.reg.Get(name); !ok {
		h.serveUnknown(w, r, name, false)
		return
	}
	body, err := jsonBody(r)
	if err != nil {
		writeJSON(w, http.StatusInternalServerError, ErrorDocument{
			Type: "RPCError", Error: "internal", Message: err.Error(),
		})
		return
	}

	req := &edgerpc.Request{ID: "discovery-invoke", Method: name, Params: body}
	rsp := h.disp.DispatchSingle(r.Context(), req, &edgerpc.ExecContext{})
	if rsp.IsError() {
		writeJSON(w, http.StatusInternalServerError, rsp.Err)
		return
	}
	writeJSON(w, http.StatusOK, rsp.Result)
}

func jsonBody(r *http.Request) (json.RawMessage, error) {
	defer r.Body.Close()
	dec := json.NewDecoder(r.Body)
	var raw json.RawMessage
	if err := dec.Decode(&raw); err != nil {
		return nil, fmt.Errorf("decoding request body: %w", err)
	}
	return raw, nil
}

// negotiatesHTML reports whether the request should receive an HTML
// rendering: an explicit "format=html" query override, or (absent a
// "format" override) an Accept header containing text/html. Accept weights
// are not compared, so text/html wins even when application/json is also
// listed.
func negotiatesHTML(r *http.Request) bool {
	switch r.URL.Query().Get("format") {
	case "html":
		return true
	case "json":
		return false
	}
	accept := r.Header.Get("Accept")
	return strings.Contains(accept, "text/html")
}

func baseURL(r *http.Request) string {
	scheme := "http"
	if r.TLS != nil {
		scheme = "https"
	}
	if proto := r.Header.Get("X-Forwarded-Proto"); proto != "" {
		scheme = proto
	}
	return fmt.Sprintf("%s://%s", scheme, r.Host)
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func strPtr(s string) *string { return &s }
