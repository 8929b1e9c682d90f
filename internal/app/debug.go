package app

import (
	"net/http"

	"gopkg.in/yaml.v3"

	"github.com/sandboxd/sandboxd/internal/config"
)

// writeYAML marshals cfg to w, matching the teacher's documented "about tab"
// dump of the final merged config, rehosted as a debug endpoint.
func writeYAML(w http.ResponseWriter, cfg *config.Config) {
	data, err := yaml.Marshal(cfg)
	if err != nil {
		http.Error(w, "marshal config", http.StatusInternalServerError)
		return
	}
	w.Write(data)
}
