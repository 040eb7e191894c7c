package api

import (
	"fmt"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/oapi-codegen/runtime"
)

// ExcludeUserIDParam names the user left out of a participant listing.
type ExcludeUserIDParam = string

// ListParticipantsParams defines parameters for ListParticipants.
type ListParticipantsParams struct {
	ExcludeUserID *ExcludeUserIDParam `form:"excludeUserId,omitempty" json:"excludeUserId,omitempty"`
}

// ServerInterface represents all server handlers.
type ServerInterface interface {
	// (GET /sessions/{sessionId}/documents/{documentId})
	GetDocument(w http.ResponseWriter, r *http.Request, sessionID string, documentID string)
	// (PUT /sessions/{sessionId}/documents/{documentId})
	PutDocument(w http.ResponseWriter, r *http.Request, sessionID string, documentID string)
	// (DELETE /sessions/{sessionId}/documents/{documentId})
	DeleteDocument(w http.ResponseWriter, r *http.Request, sessionID string, documentID string)
	// (POST /sessions/{sessionId}/documents/{documentId}/operations)
	PostOperation(w http.ResponseWriter, r *http.Request, sessionID string, documentID string)
	// (GET /sessions/{sessionId}/documents/{documentId}/history)
	GetHistory(w http.ResponseWriter, r *http.Request, sessionID string, documentID string)
	// (GET /sessions/{sessionId}/documents/{documentId}/participants)
	ListParticipants(w http.ResponseWriter, r *http.Request, sessionID string, documentID string,
		params ListParticipantsParams)
	// (GET /sessions/{sessionId}/documents/{documentId}/snapshots)
	ListSnapshots(w http.ResponseWriter, r *http.Request, sessionID string, documentID string)
}

// ChiServerOptions configures the router built by HandlerWithOptions.
type ChiServerOptions struct {
	BaseURL          string
	BaseRouter       chi.Router
	Middlewares      []MiddlewareFunc
	ErrorHandlerFunc func(w http.ResponseWriter, r *http.Request, err error)
}

// MiddlewareFunc wraps a single route.
type MiddlewareFunc func(http.Handler) http.Handler

// InvalidParamFormatError is reported when a parameter cannot be bound.
type InvalidParamFormatError struct {
	ParamName string
	Err       error
}

func (e *InvalidParamFormatError) Error() string {
	return fmt.Sprintf("Invalid format for parameter %s: %s", e.ParamName, e.Err.Error())
}

func (e *InvalidParamFormatError) Unwrap() error {
	return e.Err
}

// serverInterfaceWrapper binds the path and query parameters before calling
// the handler.
type serverInterfaceWrapper struct {
	handler          ServerInterface
	middlewares      []MiddlewareFunc
	errorHandlerFunc func(w http.ResponseWriter, r *http.Request, err error)
}

// documentParams binds the session and document path parameters. ok is false
// once an error has been reported.
func (siw *serverInterfaceWrapper) documentParams(w http.ResponseWriter, r *http.Request) (string, string, bool) {
	var sessionID string
	err := runtime.BindStyledParameterWithLocation("simple", false, "sessionId", runtime.ParamLocationPath,
		chi.URLParam(r, "sessionId"), &sessionID)
	if err != nil {
		siw.errorHandlerFunc(w, r, &InvalidParamFormatError{ParamName: "sessionId", Err: err})
		return "", "", false
	}

	var documentID string
	err = runtime.BindStyledParameterWithLocation("simple", false, "documentId", runtime.ParamLocationPath,
		chi.URLParam(r, "documentId"), &documentID)
	if err != nil {
		siw.errorHandlerFunc(w, r, &InvalidParamFormatError{ParamName: "documentId", Err: err})
		return "", "", false
	}

	return sessionID, documentID, true
}

func (siw *serverInterfaceWrapper) wrap(handler http.Handler) http.Handler {
	for _, middleware := range siw.middlewares {
		handler = middleware(handler)
	}
	return handler
}

// documentRoute adapts a handler taking the document path parameters.
func (siw *serverInterfaceWrapper) documentRoute(
	call func(w http.ResponseWriter, r *http.Request, sessionID, documentID string)) http.HandlerFunc {

	return func(w http.ResponseWriter, r *http.Request) {
		sessionID, documentID, ok := siw.documentParams(w, r)
		if !ok {
			return
		}

		handler := http.Handler(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			call(w, r, sessionID, documentID)
		}))
		siw.wrap(handler).ServeHTTP(w, r)
	}
}

// ListParticipants operation middleware
func (siw *serverInterfaceWrapper) ListParticipants(w http.ResponseWriter, r *http.Request) {
	sessionID, documentID, ok := siw.documentParams(w, r)
	if !ok {
		return
	}

	var params ListParticipantsParams

	err := runtime.BindQueryParameter("form", true, false, "excludeUserId", r.URL.Query(), &params.ExcludeUserID)
	if err != nil {
		siw.errorHandlerFunc(w, r, &InvalidParamFormatError{ParamName: "excludeUserId", Err: err})
		return
	}

	handler := http.Handler(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		siw.handler.ListParticipants(w, r, sessionID, documentID, params)
	}))
	siw.wrap(handler).ServeHTTP(w, r)
}

// HandlerWithOptions creates http.Handler with additional options
func HandlerWithOptions(si ServerInterface, options ChiServerOptions) http.Handler {
	r := options.BaseRouter

	if r == nil {
		r = chi.NewRouter()
	}
	if options.ErrorHandlerFunc == nil {
		options.ErrorHandlerFunc = func(w http.ResponseWriter, r *http.Request, err error) {
			http.Error(w, err.Error(), http.StatusBadRequest)
		}
	}
	wrapper := serverInterfaceWrapper{
		handler:          si,
		middlewares:      options.Middlewares,
		errorHandlerFunc: options.ErrorHandlerFunc,
	}

	base := options.BaseURL + "/sessions/{sessionId}/documents/{documentId}"

	r.Group(func(r chi.Router) {
		r.Get(base, wrapper.documentRoute(si.GetDocument))
		r.Put(base, wrapper.documentRoute(si.PutDocument))
		r.Delete(base, wrapper.documentRoute(si.DeleteDocument))
		r.Post(base+"/operations", wrapper.documentRoute(si.PostOperation))
		r.Get(base+"/history", wrapper.documentRoute(si.GetHistory))
		r.Get(base+"/participants", wrapper.ListParticipants)
		r.Get(base+"/snapshots", wrapper.documentRoute(si.ListSnapshots))
	})

	return r
}
