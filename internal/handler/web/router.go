package web

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"mime"
	"net"
	"net/http"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/webitel/action-gateway/internal/domain/model"
	"github.com/webitel/action-gateway/internal/handler/transport"
)

const maxBodyBytes = 10 << 20

var callbackName = regexp.MustCompile(`^[A-Za-z_$][A-Za-z0-9_$.]*$`)

type handler struct {
	core *transport.Core
}

// NewRouter mounts the API, static files, metrics and health routes.
func NewRouter(core *transport.Core, gatherer prometheus.Gatherer) http.Handler {
	h := &handler{core: core}

	r := chi.NewRouter()
	r.HandleFunc("/api", h.action)
	r.HandleFunc("/api/{action}", h.action)
	r.Get("/public/*", h.file)
	r.Get("/healthz", h.health)
	if gatherer != nil {
		r.Handle("/metrics", promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{}))
	}
	return r
}

func (h *handler) action(w http.ResponseWriter, r *http.Request) {
	// 1. Build a connection that lives for this request only.
	conn, err := h.core.BuildConnection(r.Context(), connectionSpec(r))
	if err != nil {
		http.Error(w, err.Error(), http.StatusServiceUnavailable)
		return
	}
	defer h.core.Destroy(context.WithoutCancel(r.Context()), conn)

	// 2. Merge query, form and JSON body. A malformed body is a transport error
	// routed through the processor so it completes like any other failure.
	params, err := readParams(w, r)
	if err != nil {
		conn.SetErr(err)
	}
	if name := chi.URLParam(r, "action"); name != "" {
		params["action"] = name
	}
	conn.SetParams(params)

	// 3. Run and render.
	res := h.core.RunAction(r.Context(), conn)
	if !res.ToRender {
		w.WriteHeader(http.StatusNoContent)
		return
	}

	body := res.Response
	body["serverInformation"] = map[string]any{
		"serverName":      h.core.ServerID(),
		"apiVersion":      model.ServerVersion,
		"requestDuration": res.Duration.Milliseconds(),
		"currentTime":     time.Now().UnixMilli(),
	}
	body["requesterInformation"] = map[string]any{
		"id":       conn.ID,
		"remoteIP": conn.RemoteIP,
	}

	cb, _ := params["callback"].(string)
	writeJSON(w, StatusFor(res.Err), body, cb)
}

func (h *handler) file(w http.ResponseWriter, r *http.Request) {
	conn := model.NewConnection(connectionSpec(r))
	f, err := h.core.ProcessFile(conn, chi.URLParam(r, "*"))
	if err != nil {
		http.Error(w, h.core.ErrorMessage(conn, err), http.StatusNotFound)
		return
	}

	fd, err := f.Open()
	if err != nil {
		http.Error(w, h.core.ErrorMessage(conn, model.NewActionError(model.KindFileNotFound, "")), http.StatusNotFound)
		return
	}
	defer fd.Close()

	w.Header().Set("Content-Type", f.ContentType)
	http.ServeContent(w, r, f.Path, f.ModTime, fd)
}

func (h *handler) health(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, h.core.Stats(), "")
}

// StatusFor maps a completion error to its HTTP status.
func StatusFor(err error) int {
	if err == nil {
		return http.StatusOK
	}
	switch model.KindOf(err) {
	case model.KindUnknownAction, model.KindFileNotFound:
		return http.StatusNotFound
	case model.KindMissingParams:
		return http.StatusUnprocessableEntity
	case model.KindTooManyRequests:
		return http.StatusTooManyRequests
	case model.KindServerShuttingDown:
		return http.StatusServiceUnavailable
	case model.KindUnsupportedServerType:
		return http.StatusMethodNotAllowed
	case model.KindServerError:
		return http.StatusInternalServerError
	default:
		return http.StatusBadRequest
	}
}

func connectionSpec(r *http.Request) model.ConnectionSpec {
	ip, port := remote(r)
	return model.ConnectionSpec{
		Type:       ConnectionType,
		RemoteIP:   ip,
		RemotePort: port,
		Locale:     r.Header.Get("Accept-Language"),
	}
}

func remote(r *http.Request) (string, int) {
	host, portStr, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		host = r.RemoteAddr
	}
	port, _ := strconv.Atoi(portStr)

	if fwd := r.Header.Get("X-Forwarded-For"); fwd != "" {
		first, _, _ := strings.Cut(fwd, ",")
		host = strings.TrimSpace(first)
	}
	return host, port
}

var errBadBody = errors.New("request body is not valid JSON")

// readParams collects params from the query string, the form body and a JSON body, later sources winning.
func readParams(w http.ResponseWriter, r *http.Request) (map[string]any, error) {
	params := make(map[string]any)
	r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)

	ctype, _, _ := mime.ParseMediaType(r.Header.Get("Content-Type"))
	switch ctype {
	case "application/json":
		for k, v := range r.URL.Query() {
			params[k] = formValue(v)
		}
		var body map[string]any
		if err := json.NewDecoder(r.Body).Decode(&body); err != nil && !errors.Is(err, io.EOF) {
			return params, errBadBody
		}
		for k, v := range body {
			params[k] = v
		}
		return params, nil

	case "multipart/form-data":
		if err := r.ParseMultipartForm(maxBodyBytes); err != nil {
			return params, err
		}
	default:
		if err := r.ParseForm(); err != nil {
			return params, err
		}
	}

	for k, v := range r.Form {
		params[k] = formValue(v)
	}
	return params, nil
}

func formValue(v []string) any {
	if len(v) == 1 {
		return v[0]
	}
	return v
}

func writeJSON(w http.ResponseWriter, status int, body any, callback string) {
	data, err := json.Marshal(body)
	if err != nil {
		http.Error(w, "failed to encode response", http.StatusInternalServerError)
		return
	}

	if callback != "" && callbackName.MatchString(callback) {
		w.Header().Set("Content-Type", "application/javascript")
		w.WriteHeader(status)
		_, _ = io.WriteString(w, callback+"(")
		_, _ = w.Write(data)
		_, _ = io.WriteString(w, ");")
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_, _ = w.Write(data)
}
