// Package ascii contains injectable HTTP interfaces to text protocol hardware
package ascii

import (
	"encoding/json"
	"go/types"
	"net/http"

	"github.com/rfchamber/fswlab/generichttp"
)

// RawCommunicator has a single Raw method
type RawCommunicator interface {
	Raw(string) (string, error)
}

// ErrorReporter is a device that can drain its error queue into a string
type ErrorReporter interface {
	Errors() (string, error)
}

// HTTPRaw sends the command in a {"str": cmd} body and responds with the
// device's reply, empty for commands that are not queries
func HTTPRaw(rc RawCommunicator) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		cmd := generichttp.StrT{}
		defer r.Body.Close()
		if err := json.NewDecoder(r.Body).Decode(&cmd); err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		resp, err := rc.Raw(cmd.Str)
		if err != nil {
			http.Error(w, err.Error(), http.StatusInternalServerError)
			return
		}
		hp := generichttp.HumanPayload{T: types.String, String: resp}
		hp.EncodeAndRespond(w, r)
	}
}

// InjectRawComm injects a /raw POST route into a route table, and a GET
// /errors route when raw also reports errors
func InjectRawComm(table generichttp.RouteTable, raw RawCommunicator) {
	table[generichttp.MethodPath{Method: http.MethodPost, Path: "/raw"}] = HTTPRaw(raw)
	if er, ok := raw.(ErrorReporter); ok {
		table[generichttp.MethodPath{Method: http.MethodGet, Path: "/errors"}] = generichttp.GetString(er.Errors)
	}
}
