package credstore

import (
	"encoding/json"

	"github.com/cliboard/cliboard/pkg/engine"
)

func encodeReadiness(r engine.Readiness) ([]byte, bool) {
	b, err := json.Marshal(r)
	if err != nil {
		return nil, false
	}
	return b, true
}

func decodeReadiness(b []byte) (engine.Readiness, bool) {
	var r engine.Readiness
	if err := json.Unmarshal(b, &r); err != nil {
		return engine.Readiness{}, false
	}
	return r, true
}
