package api

import (
	"encoding/json"
	"html/template"
	"net/http"
	"sync"

	"go.uber.org/zap"
)

// AlarmPayload is an alarm as posted by the dispatcher's webhook.
type AlarmPayload struct {
	TransactionUUID string `json:"transaction_uuid"`
	ProofURL        string `json:"proof_url"`
	ItemCategory    string `json:"item_category"`
	OriginTime      string `json:"origin_time"`
}

// Receiver keeps posted alarms in memory. Identical payloads are stored once.
type Receiver struct {
	mu     sync.Mutex
	alarms []AlarmPayload
}

// NewReceiver returns an empty receiver.
func NewReceiver() *Receiver {
	return &Receiver{}
}

// Add stores p and reports false when an identical payload is already stored.
func (r *Receiver) Add(p AlarmPayload) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, a := range r.alarms {
		if a == p {
			return false
		}
	}
	r.alarms = append(r.alarms, p)
	return true
}

// List returns the stored alarms in arrival order.
func (r *Receiver) List() []AlarmPayload {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]AlarmPayload{}, r.alarms...)
}

// Clear drops every stored alarm.
func (r *Receiver) Clear() {
	r.mu.Lock()
	r.alarms = nil
	r.mu.Unlock()
}

// ProofGroup is one category of the proof gallery.
type ProofGroup struct {
	Category string
	URLs     []string
}

// Gallery groups distinct proof URLs by category, in order of first appearance.
func (r *Receiver) Gallery() []ProofGroup {
	var groups []ProofGroup
	index := make(map[string]int)
	seen := make(map[[2]string]bool)
	for _, a := range r.List() {
		key := [2]string{a.ItemCategory, a.ProofURL}
		if seen[key] {
			continue
		}
		seen[key] = true
		i, ok := index[a.ItemCategory]
		if !ok {
			i = len(groups)
			index[a.ItemCategory] = i
			groups = append(groups, ProofGroup{Category: a.ItemCategory})
		}
		groups[i].URLs = append(groups[i].URLs, a.ProofURL)
	}
	return groups
}

var galleryTemplate = template.Must(template.New("proofs").Parse(`<h2>Proof Images</h2>
{{- range .}}
<h3>{{.Category}}</h3><ul style="list-style-type:none; padding-left:0;">
{{- $cat := .Category}}{{range .URLs}}
<li style="margin-bottom:10px;"><a href="{{.}}" target="_blank"><img src="{{.}}" alt="{{$cat}}" width="320" style="border:1px solid #ccc;"/></a></li>
{{- end}}
</ul>
{{- end}}
`))

func (s *Server) receiveAlarm(w http.ResponseWriter, r *http.Request) {
	var p AlarmPayload
	if err := json.NewDecoder(r.Body).Decode(&p); err != nil {
		writeJSONError(w, http.StatusBadRequest, "invalid JSON body: "+err.Error())
		return
	}
	if p.TransactionUUID == "" {
		writeJSONError(w, http.StatusUnprocessableEntity, "transaction_uuid is required")
		return
	}
	status := "received"
	if !s.receiver.Add(p) {
		status = "duplicate"
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": status})
}

func (s *Server) listAlarms(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.receiver.List())
}

func (s *Server) clearAlarms(w http.ResponseWriter, r *http.Request) {
	s.receiver.Clear()
	writeJSON(w, http.StatusOK, map[string]string{"status": "cleared"})
}

func (s *Server) showProofs(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	if err := galleryTemplate.Execute(w, s.receiver.Gallery()); err != nil {
		s.logger.Warn("rendering proof gallery", zap.Error(err))
	}
}
