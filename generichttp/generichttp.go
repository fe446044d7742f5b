// Package generichttp defines the JSON payloads, handler generators and route
// tables shared by the HTTP interfaces to instruments
package generichttp

import (
	"encoding/json"
	"fmt"
	"go/types"
	"net/http"
	"sort"
	"strings"

	"github.com/go-chi/chi"
)

// FloatT is the JSON form of a float, {"f64": value}
type FloatT struct {
	F64 float64 `json:"f64"`
}

// IntT is the JSON form of an int, {"int": value}
type IntT struct {
	Int int `json:"int"`
}

// StrT is the JSON form of a string, {"str": value}
type StrT struct {
	Str string `json:"str"`
}

// BoolT is the JSON form of a bool, {"bool": value}
type BoolT struct {
	Bool bool `json:"bool"`
}

// HumanPayload holds a single value of kind T and encodes it in the matching
// JSON form
type HumanPayload struct {
	T      types.BasicKind
	Bool   bool
	Float  float64
	Int    int
	String string
}

// EncodeAndRespond writes the payload as JSON, or a 500 if T is unsupported
func (hp HumanPayload) EncodeAndRespond(w http.ResponseWriter, r *http.Request) {
	var v interface{}
	switch hp.T {
	case types.Bool:
		v = BoolT{hp.Bool}
	case types.Float64:
		v = FloatT{hp.Float}
	case types.Int:
		v = IntT{hp.Int}
	case types.String:
		v = StrT{hp.String}
	default:
		http.Error(w, fmt.Sprintf("payload kind %v not supported", hp.T), http.StatusInternalServerError)
		return
	}
	RespondJSON(w, v)
}

// RespondJSON encodes v as the body of a 200 response
func RespondJSON(w http.ResponseWriter, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
	}
}

// respond writes hp, or err as a 500 when it is not nil
func respond(w http.ResponseWriter, r *http.Request, hp HumanPayload, err error) {
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	hp.EncodeAndRespond(w, r)
}

// decodeThen decodes the request body into v and calls fcn.  A body that does
// not decode is a 400, an error from fcn a 500.
func decodeThen(w http.ResponseWriter, r *http.Request, v interface{}, fcn func() error) {
	defer r.Body.Close()
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	if err := fcn(); err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	w.WriteHeader(http.StatusOK)
}

// GetFloat calls a float-getting function and returns the response
// as json {'f64': value}
func GetFloat(fcn func() (float64, error)) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		f, err := fcn()
		respond(w, r, HumanPayload{T: types.Float64, Float: f}, err)
	}
}

// SetFloat parses a JSON input of {'f64': value} and
// calls fcn with it
func SetFloat(fcn func(float64) error) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		f := FloatT{}
		decodeThen(w, r, &f, func() error { return fcn(f.F64) })
	}
}

// GetInt calls an int-getting function and returns the response
// as json {'int': value}
func GetInt(fcn func() (int, error)) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		i, err := fcn()
		respond(w, r, HumanPayload{T: types.Int, Int: i}, err)
	}
}

// SetInt parses a JSON input of {'int': value} and
// calls fcn with it
func SetInt(fcn func(int) error) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		i := IntT{}
		decodeThen(w, r, &i, func() error { return fcn(i.Int) })
	}
}

// GetString calls a string-getting function and returns the response
// as json {'str': value}
func GetString(fcn func() (string, error)) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		s, err := fcn()
		respond(w, r, HumanPayload{T: types.String, String: s}, err)
	}
}

// SetString parses a JSON input of {'str': value} and
// calls fcn with it
func SetString(fcn func(string) error) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		s := StrT{}
		decodeThen(w, r, &s, func() error { return fcn(s.Str) })
	}
}

// GetBool calls a bool-getting function and returns the response
// as json {'bool': value}
func GetBool(fcn func() (bool, error)) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		b, err := fcn()
		respond(w, r, HumanPayload{T: types.Bool, Bool: b}, err)
	}
}

// SetBool parses a JSON input of {'bool': value} and
// calls fcn with it
func SetBool(fcn func(bool) error) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		b := BoolT{}
		decodeThen(w, r, &b, func() error { return fcn(b.Bool) })
	}
}

// MethodPath is a struct containing an HTTP method and path
type MethodPath struct {
	Method string
	Path   string
}

// RouteTable maps method/path pairs to handlers
type RouteTable map[MethodPath]http.HandlerFunc

// Endpoints returns "METHOD /path" for every route, sorted
func (rt RouteTable) Endpoints() []string {
	routes := make([]string, 0, len(rt))
	for k := range rt {
		routes = append(routes, k.Method+" "+k.Path)
	}
	sort.Strings(routes)
	return routes
}

// Bind adds every route to r
func (rt RouteTable) Bind(r chi.Router) {
	for k, v := range rt {
		r.MethodFunc(k.Method, k.Path, v)
	}
	r.Get("/endpoints", func(w http.ResponseWriter, req *http.Request) {
		RespondJSON(w, rt.Endpoints())
	})
}

// HTTPer is an object that exposes a route table
type HTTPer interface {
	RT() RouteTable
}

// SubMuxSanitize converts a URL stem to the form chi mounts at, with a
// leading slash and no trailing slash or wildcard.  "" becomes "/".
func SubMuxSanitize(str string) string {
	str = strings.TrimSuffix(str, "*")
	str = strings.Trim(str, "/")
	return "/" + str
}
