// Package relayserver serves signed records over HTTP in the pkarr relay
// format, backed by any dht.Store.
package relayserver

import (
	"errors"
	"io"
	"net/http"
	"strconv"

	"go.uber.org/zap"

	"github.com/pubky/pubky-core-client/pkg/dht"
	"github.com/pubky/pubky-core-client/pkg/errs"
	"github.com/pubky/pubky-core-client/pkg/keys"
	"github.com/pubky/pubky-core-client/pkg/record"
)

// ContentType is the media type of a relay payload.
const ContentType = "application/pkarr.org/relays#payload"

const maxPayload = keys.SignatureSize + 8 + record.MaxPacketSize

// Handler answers GET and PUT on /{key}.
type Handler struct {
	store  dht.Store
	log    *zap.Logger
	maxAge int
	mux    *http.ServeMux
}

// New returns a relay handler over store. maxAge sets the Cache-Control
// max-age of GET responses in seconds; 0 omits the header.
func New(store dht.Store, log *zap.Logger, maxAge int) *Handler {
	if log == nil {
		log = zap.NewNop()
	}
	h := &Handler{store: store, log: log, maxAge: maxAge, mux: http.NewServeMux()}
	h.mux.HandleFunc("GET /{key}", h.get)
	h.mux.HandleFunc("PUT /{key}", h.put)
	return h
}

func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) { h.mux.ServeHTTP(w, r) }

func (h *Handler) get(w http.ResponseWriter, r *http.Request) {
	pub, err := keys.ParsePublicKey(r.PathValue("key"))
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	rec, err := h.store.Get(r.Context(), pub)
	switch {
	case errors.Is(err, errs.ErrEntryNotFound):
		http.Error(w, "not found", http.StatusNotFound)
		return
	case err != nil:
		h.log.Warn("relay get", zap.String("key", pub.String()), zap.Error(err))
		http.Error(w, "lookup failed", http.StatusBadGateway)
		return
	}
	w.Header().Set("Content-Type", ContentType)
	w.Header().Set("Last-Modified", rec.Time().UTC().Format(http.TimeFormat))
	if h.maxAge > 0 {
		w.Header().Set("Cache-Control", "public, max-age="+strconv.Itoa(h.maxAge))
	}
	_, _ = w.Write(rec.RelayPayload())
}

func (h *Handler) put(w http.ResponseWriter, r *http.Request) {
	pub, err := keys.ParsePublicKey(r.PathValue("key"))
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxPayload))
	if err != nil {
		http.Error(w, "payload too large", http.StatusRequestEntityTooLarge)
		return
	}
	rec, err := record.FromRelayPayload(pub, body)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	if err := h.store.Put(r.Context(), rec); err != nil {
		if errors.Is(err, errs.ErrStaleRecord) {
			http.Error(w, err.Error(), http.StatusConflict)
			return
		}
		h.log.Warn("relay put", zap.String("key", pub.String()), zap.Error(err))
		http.Error(w, "store failed", http.StatusInternalServerError)
		return
	}
	h.log.Debug("relay stored", zap.String("key", pub.String()), zap.Time("ts", rec.Time()))
	w.WriteHeader(http.StatusNoContent)
}
