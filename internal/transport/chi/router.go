package chi

import (
	"fmt"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/oapi-codegen/runtime"
)

// ServerInterface represents all server handlers.
type ServerInterface interface {
	// (POST /sessions)
	CreateSession(w http.ResponseWriter, r *http.Request)
	// (DELETE /sessions/{session})
	DeleteSession(w http.ResponseWriter, r *http.Request, sessionID string)
	// (PUT /sessions/{session}/evidence)
	UploadEvidence(w http.ResponseWriter, r *http.Request, sessionID string, params UploadEvidenceParams)
	// (POST /sessions/{session}/query)
	QuerySession(w http.ResponseWriter, r *http.Request, sessionID string)
	// (GET /sessions/{session}/estimate)
	GetEstimate(w http.ResponseWriter, r *http.Request, sessionID string)
	// (POST /sessions/{session}/reports)
	CreateReport(w http.ResponseWriter, r *http.Request, sessionID string)
	// (GET /reports/{name})
	GetReport(w http.ResponseWriter, r *http.Request, name string)
	// (GET /families)
	ListFamilies(w http.ResponseWriter, r *http.Request, params ListFamiliesParams)
	// (GET /families/choices)
	ListFamilyChoices(w http.ResponseWriter, r *http.Request)
	// (GET /usage)
	GetUsage(w http.ResponseWriter, r *http.Request, params GetUsageParams)
	// (GET /health)
	HealthCheck(w http.ResponseWriter, r *http.Request)
	// (GET /metrics)
	Metrics(w http.ResponseWriter, r *http.Request)
}

// ChiServerOptions configures HandlerWithOptions.
type ChiServerOptions struct {
	BaseURL          string
	BaseRouter       chi.Router
	ErrorHandlerFunc func(w http.ResponseWriter, r *http.Request, err error)
}

// ParamError reports a path or query parameter that failed to bind.
type ParamError struct {
	Name string
	Err  error
}

func (e *ParamError) Error() string {
	return fmt.Sprintf("invalid format for parameter %s: %v", e.Name, e.Err)
}

func (e *ParamError) Unwrap() error { return e.Err }

type serverWrapper struct {
	handler          ServerInterface
	errorHandlerFunc func(w http.ResponseWriter, r *http.Request, err error)
}

func (sw *serverWrapper) pathParam(w http.ResponseWriter, r *http.Request, name string, dest *string) bool {
	err := runtime.BindStyledParameterWithOptions("simple", name, chi.URLParam(r, name), dest,
		runtime.BindStyledParameterOptions{ParamLocation: runtime.ParamLocationPath, Explode: false, Required: true})
	if err != nil {
		sw.errorHandlerFunc(w, r, &ParamError{Name: name, Err: err})
		return false
	}
	return true
}

func (sw *serverWrapper) withSession(fn func(w http.ResponseWriter, r *http.Request, sessionID string)) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var sessionID string
		if !sw.pathParam(w, r, "session", &sessionID) {
			return
		}
		fn(w, r, sessionID)
	}
}

func (sw *serverWrapper) UploadEvidence(w http.ResponseWriter, r *http.Request) {
	var sessionID string
	if !sw.pathParam(w, r, "session", &sessionID) {
		return
	}
	var params UploadEvidenceParams
	if err := runtime.BindQueryParameter("form", true, true, "filename", r.URL.Query(), &params.Filename); err != nil {
		sw.errorHandlerFunc(w, r, &ParamError{Name: "filename", Err: err})
		return
	}
	sw.handler.UploadEvidence(w, r, sessionID, params)
}

func (sw *serverWrapper) GetReport(w http.ResponseWriter, r *http.Request) {
	var name string
	if !sw.pathParam(w, r, "name", &name) {
		return
	}
	sw.handler.GetReport(w, r, name)
}

func (sw *serverWrapper) ListFamilies(w http.ResponseWriter, r *http.Request) {
	var params ListFamiliesParams
	if err := runtime.BindQueryParameter("form", true, true, "kind", r.URL.Query(), &params.Kind); err != nil {
		sw.errorHandlerFunc(w, r, &ParamError{Name: "kind", Err: err})
		return
	}
	if err := runtime.BindQueryParameter("form", true, false, "prefix", r.URL.Query(), &params.Prefix); err != nil {
		sw.errorHandlerFunc(w, r, &ParamError{Name: "prefix", Err: err})
		return
	}
	sw.handler.ListFamilies(w, r, params)
}

func (sw *serverWrapper) GetUsage(w http.ResponseWriter, r *http.Request) {
	var params GetUsageParams
	if err := runtime.BindQueryParameter("form", true, false, "period", r.URL.Query(), &params.Period); err != nil {
		sw.errorHandlerFunc(w, r, &ParamError{Name: "period", Err: err})
		return
	}
	sw.handler.GetUsage(w, r, params)
}

// Handler creates an http.Handler with routing matching the API.
func Handler(si ServerInterface) http.Handler {
	return HandlerWithOptions(si, ChiServerOptions{})
}

// HandlerWithOptions creates an http.Handler with additional options.
func HandlerWithOptions(si ServerInterface, options ChiServerOptions) http.Handler {
	r := options.BaseRouter
	if r == nil {
		r = chi.NewRouter()
	}
	if options.ErrorHandlerFunc == nil {
		options.ErrorHandlerFunc = func(w http.ResponseWriter, _ *http.Request, err error) {
			writeError(w, http.StatusBadRequest, ErrorResponseCodeBadRequest, err.Error())
		}
	}
	sw := &serverWrapper{handler: si, errorHandlerFunc: options.ErrorHandlerFunc}
	base := options.BaseURL

	r.Post(base+"/sessions", si.CreateSession)
	r.Delete(base+"/sessions/{session}", sw.withSession(si.DeleteSession))
	r.Put(base+"/sessions/{session}/evidence", sw.UploadEvidence)
	r.Post(base+"/sessions/{session}/query", sw.withSession(si.QuerySession))
	r.Get(base+"/sessions/{session}/estimate", sw.withSession(si.GetEstimate))
	r.Post(base+"/sessions/{session}/reports", sw.withSession(si.CreateReport))
	r.Get(base+"/reports/{name}", sw.GetReport)
	r.Get(base+"/families", sw.ListFamilies)
	r.Get(base+"/families/choices", si.ListFamilyChoices)
	r.Get(base+"/usage", sw.GetUsage)
	r.Get(base+"/health", si.HealthCheck)
	r.Get(base+"/metrics", si.Metrics)

	return r
}
